package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// newObservedLogger wraps an observer core in Logger for assertion-friendly
// tests.
func newObservedLogger(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return &Logger{zap: zap.New(core)}, logs
}

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{Level: "debug", Format: "console"}},
		{name: "trace level", cfg: Config{Level: "trace", Format: "json"}},
		{name: "bad level", cfg: Config{Level: "loud", Format: "json"}, wantErr: true},
		{name: "bad format", cfg: Config{Level: "info", Format: "xml"}, wantErr: true},
		{name: "negative skip", cfg: Config{Level: "info", Format: "json", Caller: CallerConfig{Skip: -1}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLevelFromString(t *testing.T) {
	l, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, l)

	l, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, l)

	_, err = LevelFromString("shouty")
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(&Config{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.DebugLevel))
	assert.False(t, logger.Enabled(TraceLevel))

	_, err = NewLogger(&Config{Level: "nope", Format: "json"})
	assert.Error(t, err)
}

func TestContextFieldsAttached(t *testing.T) {
	logger, logs := newObservedLogger(zapcore.InfoLevel)

	ctx := WithUserID(context.Background(), "user-1")
	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithSourceID(ctx, "entry-1")

	logger.Info(ctx, "hello")

	entries := logs.All()
	require.Len(t, entries, 1)

	fields := entries[0].ContextMap()
	assert.Equal(t, "user-1", fields["user.id"])
	assert.Equal(t, "sess-1", fields["session.id"])
	assert.Equal(t, "entry-1", fields["source.id"])
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithUserID(context.Background(), "user-1")
	assert.Equal(t, "user-1", UserIDFromContext(ctx))
	assert.Empty(t, SessionIDFromContext(ctx))

	ctx = WithSessionID(ctx, "sess-1")
	assert.Equal(t, "sess-1", SessionIDFromContext(ctx))

	ctx = WithSourceID(ctx, "entry-1")
	assert.Equal(t, "entry-1", SourceIDFromContext(ctx))
}

func TestNamedAndWith(t *testing.T) {
	logger, logs := newObservedLogger(zapcore.InfoLevel)

	child := logger.Named("analysis").With(zap.String("component", "worker"))
	child.Info(context.Background(), "working")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "analysis", entries[0].LoggerName)
	assert.Equal(t, "worker", entries[0].ContextMap()["component"])
}

func TestNopLoggerIsSafe(t *testing.T) {
	logger := NewNop()
	logger.Info(context.Background(), "discarded")
	logger.Error(context.Background(), "also discarded")
	assert.NoError(t, logger.Sync())
}
