package analysis

import "sort"

// Recommendation is one of a closed candidate set configured at build time.
// Invalid categories cannot be constructed at runtime; the mapping below is
// the only producer.
type Recommendation string

const (
	RecommendMindfulness            Recommendation = "mindfulness"
	RecommendCognitiveRestructuring Recommendation = "cognitive-restructuring"
	RecommendEmotionalRegulation    Recommendation = "emotional-regulation"
	RecommendBehavioralActivation   Recommendation = "behavioral-activation"
	RecommendGratitudePractice      Recommendation = "gratitude-practice"
	RecommendProgressiveRelaxation  Recommendation = "progressive-muscle-relaxation"
)

// themeRecommendations maps a dominant theme tag to its recommendation
// category. Tags outside this map fall back to mindfulness.
var themeRecommendations = map[string]Recommendation{
	"anxiety":        RecommendMindfulness,
	"sleep":          RecommendMindfulness,
	"stress":         RecommendProgressiveRelaxation,
	"tension":        RecommendProgressiveRelaxation,
	"rumination":     RecommendCognitiveRestructuring,
	"self-criticism": RecommendCognitiveRestructuring,
	"perfectionism":  RecommendCognitiveRestructuring,
	"anger":          RecommendEmotionalRegulation,
	"overwhelm":      RecommendEmotionalRegulation,
	"grief":          RecommendEmotionalRegulation,
	"low-motivation": RecommendBehavioralActivation,
	"isolation":      RecommendBehavioralActivation,
	"avoidance":      RecommendBehavioralActivation,
	"gratitude":      RecommendGratitudePractice,
	"appreciation":   RecommendGratitudePractice,
}

// DominantTags runs a plurality vote over the tags of cluster members and
// returns every tag holding the top count, sorted lexically. The lexical
// order is the tie-break rule: reproducible across runs, independent of map
// iteration or insertion order.
func DominantTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}

	counts := make(map[string]int)
	for _, t := range tags {
		if t == "" {
			continue
		}
		counts[t]++
	}

	max := 0
	for _, c := range counts {
		if c > max {
			max = c
		}
	}
	if max == 0 {
		return nil
	}

	var dominant []string
	for t, c := range counts {
		if c == max {
			dominant = append(dominant, t)
		}
	}
	sort.Strings(dominant)
	return dominant
}

// Recommend maps dominant theme tags to exactly one recommendation. The
// lexically first tag with a mapping wins; with no mappable tag the fallback
// is mindfulness. Deterministic for a given input.
func Recommend(dominant []string) Recommendation {
	for _, t := range dominant {
		if rec, ok := themeRecommendations[t]; ok {
			return rec
		}
	}
	return RecommendMindfulness
}
