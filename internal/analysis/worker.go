package analysis

import (
	"context"

	"go.uber.org/zap"

	"github.com/innerverselabs/reflectd/internal/logging"
	"github.com/innerverselabs/reflectd/internal/session"
)

// Worker consumes finalized sessions and runs them through analysis in the
// background. The session flow never waits on it: completion already
// returned to the caller by the time a value arrives here.
type Worker struct {
	service  *Service
	sessions <-chan *session.FinalizedSession
	logger   *logging.Logger

	// StagePreviews controls whether successful outcomes are rendered
	// into preview artifacts.
	StagePreviews bool
}

// NewWorker creates a worker draining the given channel.
func NewWorker(svc *Service, sessions <-chan *session.FinalizedSession, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Worker{
		service:       svc,
		sessions:      sessions,
		logger:        logger,
		StagePreviews: true,
	}
}

// Run processes sessions until the context is cancelled or the channel is
// closed. Analysis errors are logged, never propagated: nothing upstream
// can act on them.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fs, ok := <-w.sessions:
			if !ok {
				return
			}
			w.handle(ctx, fs)
		}
	}
}

func (w *Worker) handle(ctx context.Context, fs *session.FinalizedSession) {
	ctx = logging.WithUserID(logging.WithSessionID(ctx, fs.SessionID), fs.UserID)

	out, err := w.service.AnalyzeSession(ctx, fs)
	if err != nil {
		w.logger.Error(ctx, "session analysis failed", zap.Error(err))
		return
	}
	if out.Skipped || !w.StagePreviews {
		return
	}

	if _, err := w.service.BuildPreview(ctx, out); err != nil {
		w.logger.Warn(ctx, "failed to stage preview artifact", zap.Error(err))
	}
}
