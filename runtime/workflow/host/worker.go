package host

import (
	"context"

	"golang.org/x/time/rate"

	"goa.design/loom/runtime/workflow/journal"
	"goa.design/loom/runtime/workflow/telemetry"
)

type (
	// WorkerOptions configures a Worker.
	WorkerOptions struct {
		// Config supplies the resume pacing settings. Zero-valued fields fall
		// back to DefaultConfig.
		Config Config
		// Logger receives worker lifecycle logs.
		Logger telemetry.Logger
	}

	// Worker drives one host until its execution reaches a terminal state.
	// Replay re-entries are paced by a token bucket so a hot resume loop
	// cannot starve the process; while the execution is suspended the worker
	// parks on the host's runnable signal.
	Worker struct {
		host    *Host
		limiter *rate.Limiter
		logger  telemetry.Logger
	}
)

// NewWorker constructs a worker over the host.
func NewWorker(h *Host, opts WorkerOptions) *Worker {
	cfg := opts.Config
	if cfg.ResumeRate <= 0 {
		cfg.ResumeRate = DefaultConfig().ResumeRate
	}
	if cfg.ResumeBurst <= 0 {
		cfg.ResumeBurst = DefaultConfig().ResumeBurst
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Worker{
		host:    h,
		limiter: rate.NewLimiter(rate.Limit(cfg.ResumeRate), cfg.ResumeBurst),
		logger:  logger,
	}
}

// Drive loops replay passes until the execution terminates or the context is
// canceled. It returns the final status.
func (w *Worker) Drive(ctx context.Context) (journal.Status, error) {
	for {
		st := w.host.Status()
		switch {
		case st.Terminal():
			w.logger.Info(ctx, "execution terminal",
				"execution_id", w.host.ExecutionID().String(),
				"phase", string(st.Phase))
			return st, nil
		case st.Phase == journal.PhaseRunning || st.Phase == journal.PhaseCancelling:
			if err := w.limiter.Wait(ctx); err != nil {
				return st, err
			}
			if _, err := w.host.Resume(ctx); err != nil {
				return w.host.Status(), err
			}
		default:
			if _, err := w.host.Resume(ctx); err != nil {
				return w.host.Status(), err
			}
			if w.host.Status().Phase != journal.PhaseBlocked {
				continue
			}
			select {
			case <-ctx.Done():
				return st, ctx.Err()
			case <-w.host.Runnable():
			}
		}
	}
}
