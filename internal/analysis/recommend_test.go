package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDominantTags(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want []string
	}{
		{
			name: "single plurality winner",
			tags: []string{"anxiety", "anxiety", "stress"},
			want: []string{"anxiety"},
		},
		{
			name: "tie returns all winners lexically sorted",
			tags: []string{"stress", "anxiety", "stress", "anxiety"},
			want: []string{"anxiety", "stress"},
		},
		{
			name: "empty tags ignored",
			tags: []string{"", "grief", ""},
			want: []string{"grief"},
		},
		{
			name: "no tags",
			tags: nil,
			want: nil,
		},
		{
			name: "all empty",
			tags: []string{"", ""},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DominantTags(tt.tags))
		})
	}
}

func TestRecommend(t *testing.T) {
	tests := []struct {
		name     string
		dominant []string
		want     Recommendation
	}{
		{
			name:     "direct mapping",
			dominant: []string{"rumination"},
			want:     RecommendCognitiveRestructuring,
		},
		{
			name:     "lexically first mappable tag wins a tie",
			dominant: []string{"anger", "gratitude"},
			want:     RecommendEmotionalRegulation,
		},
		{
			name:     "unmapped tags skipped",
			dominant: []string{"aardvark", "stress"},
			want:     RecommendProgressiveRelaxation,
		},
		{
			name:     "no mappable tag falls back to mindfulness",
			dominant: []string{"unmapped-theme"},
			want:     RecommendMindfulness,
		},
		{
			name:     "empty input falls back to mindfulness",
			dominant: nil,
			want:     RecommendMindfulness,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Recommend(tt.dominant))
		})
	}
}

func TestRecommendDeterministic(t *testing.T) {
	tags := []string{"stress", "anxiety", "stress", "anxiety", "grief"}

	first := Recommend(DominantTags(tags))
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Recommend(DominantTags(tags)))
	}
}
