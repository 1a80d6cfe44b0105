package workflow

import (
	"context"
	"log/slog"
	"sync"

	"discarchive/internal/logging"
	"discarchive/internal/queue"
)

// progressReporter persists each whole-percent change of the current step
// and logs once per 5% bucket.
type progressReporter struct {
	o       *Orchestrator
	ctx     context.Context
	logger  *slog.Logger
	job     *queue.Job
	step    string
	sampler *logging.ProgressSampler

	mu            sync.Mutex
	lastPersisted int
}

func (o *Orchestrator) newProgress(ctx context.Context, logger *slog.Logger, job *queue.Job) *progressReporter {
	return &progressReporter{
		o:       o,
		ctx:     ctx,
		logger:  logger,
		job:     job,
		step:    string(job.Status),
		sampler: logging.NewProgressSampler(5),
	}
}

func (p *progressReporter) update(percent float64, detail string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.job.SetProgress(percent, detail)
	current := p.job.ProgressPercent
	if whole := int(current); whole != p.lastPersisted {
		p.lastPersisted = whole
		if err := p.o.store.UpdateProgress(p.ctx, p.job.ID, current, p.job.StepDetail); err != nil && p.ctx.Err() == nil {
			p.logger.Warn("progress update failed", logging.Error(err))
		}
	}
	if p.sampler.ShouldEmit(p.step, current) {
		p.logger.Info("step progress",
			logging.String(logging.FieldStage, p.step),
			logging.Float64("percent", current),
			logging.String("detail", p.job.StepDetail),
		)
	}
}
