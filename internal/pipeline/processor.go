package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Korner-san/bevisible/internal/config"
	"github.com/Korner-san/bevisible/internal/store"
	"github.com/Korner-san/bevisible/pkg/models"
)

// Processor is the polling loop. Each tick claims up to BatchLimit due
// jobs in one atomic conditional update, so overlapping ticks never hand
// the same job to two executors, then works through them sequentially.
type Processor struct {
	store     store.Store
	cfg       config.PipelineConfig
	log       *slog.Logger
	executors map[models.Stage]Executor
	nowFunc   func() time.Time
}

func NewProcessor(s store.Store, cfg config.PipelineConfig, log *slog.Logger) *Processor {
	return &Processor{
		store:     s,
		cfg:       cfg,
		log:       log,
		executors: make(map[models.Stage]Executor),
		nowFunc:   time.Now,
	}
}

// Register wires an executor to its stage. Registration happens once at
// startup; the mapping is static configuration.
func (p *Processor) Register(e Executor) {
	p.executors[e.Stage()] = e
}

// SetNow overrides the processor clock in tests.
func (p *Processor) SetNow(now func() time.Time) { p.nowFunc = now }

// Run ticks until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.log.Info("job processor started", "poll_interval", p.cfg.PollInterval, "batch_limit", p.cfg.BatchLimit)
	for {
		select {
		case <-ctx.Done():
			p.log.Info("job processor stopped")
			return
		case <-ticker.C:
			if err := p.Tick(ctx); err != nil {
				p.log.Error("tick failed", "error", err)
			}
		}
	}
}

// Tick claims due jobs and processes them in scheduled_at order. Per-job
// failures are absorbed into that job's lifecycle; only claim-level store
// errors surface.
func (p *Processor) Tick(ctx context.Context) error {
	now := p.nowFunc()
	jobs, err := p.store.ClaimDueJobs(ctx, now, p.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("claiming due jobs: %w", err)
	}
	for _, job := range jobs {
		p.process(ctx, job)
	}
	return nil
}

func (p *Processor) process(ctx context.Context, job *models.Job) {
	log := p.log.With("job_id", job.ID, "report_id", job.ReportID, "stage", job.Stage, "attempt", job.Attempts)

	if err := p.store.SetReportCurrentJob(ctx, job.ReportID, &job.ID); err != nil {
		log.Error("recording current job failed", "error", err)
	}

	exec, ok := p.executors[job.Stage]
	if !ok {
		p.fail(ctx, job, Permanent(fmt.Errorf("no executor registered for stage %q", job.Stage)), log)
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	output, err := p.execute(jobCtx, exec, job)
	cancel()

	var deferErr *DeferError
	switch {
	case errors.As(err, &deferErr):
		p.deferJob(ctx, job, deferErr, log)
	case err != nil:
		p.fail(ctx, job, err, log)
	default:
		p.complete(ctx, job, output, log)
	}
}

// execute invokes the stage executor, converting panics into errors so one
// broken stage cannot take down the loop.
func (p *Processor) execute(ctx context.Context, exec Executor, job *models.Job) (output json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage panicked: %v", r)
		}
	}()
	return exec.Execute(ctx, job)
}

// complete closes the job and moves the report forward: either into the
// next stage with a fresh pending job carrying this stage's output, or to
// completed when the sequence is exhausted.
func (p *Processor) complete(ctx context.Context, job *models.Job, output json.RawMessage, log *slog.Logger) {
	if err := p.store.CompleteJob(ctx, job.ID, output); err != nil {
		log.Error("completing job failed", "error", err)
		return
	}

	next, ok := job.Stage.Next()
	if !ok || next.Terminal() {
		if err := p.store.CompleteReport(ctx, job.ReportID); err != nil {
			log.Error("completing report failed", "error", err)
			return
		}
		log.Info("report completed")
		return
	}

	nextJob := &models.Job{
		ID:             uuid.New(),
		ReportID:       job.ReportID,
		Stage:          next,
		Status:         models.JobStatusPending,
		MaxAttempts:    p.cfg.MaxAttempts,
		ScheduledAt:    p.nowFunc(),
		ProcessingData: output,
	}
	if err := p.store.CreateJob(ctx, nextJob); err != nil {
		log.Error("enqueueing next stage failed", "error", err, "next_stage", next)
		return
	}
	if err := p.store.AdvanceReportStage(ctx, job.ReportID, next); err != nil {
		log.Error("advancing report stage failed", "error", err)
		return
	}
	if err := p.store.SetReportCurrentJob(ctx, job.ReportID, nil); err != nil {
		log.Error("clearing current job failed", "error", err)
	}
	log.Info("stage completed", "next_stage", next)
}

// fail records the error and decides between a backoff retry and failing
// the report. A retry is a fresh pending job for the same stage; exhausted
// or permanent failures flip the report to failed at its current stage.
func (p *Processor) fail(ctx context.Context, job *models.Job, execErr error, log *slog.Logger) {
	if err := p.store.FailJob(ctx, job.ID, execErr.Error()); err != nil {
		log.Error("failing job failed", "error", err)
	}

	if !IsPermanent(execErr) && job.Attempts < job.MaxAttempts {
		delay := Backoff(p.cfg.BackoffBase, job.Attempts)
		retry := &models.Job{
			ID:             uuid.New(),
			ReportID:       job.ReportID,
			Stage:          job.Stage,
			Status:         models.JobStatusPending,
			Attempts:       job.Attempts,
			MaxAttempts:    job.MaxAttempts,
			ScheduledAt:    p.nowFunc().Add(delay),
			ProcessingData: job.ProcessingData,
		}
		if err := p.store.CreateJob(ctx, retry); err != nil {
			log.Error("enqueueing retry failed", "error", err)
		} else {
			if err := p.store.SetReportCurrentJob(ctx, job.ReportID, nil); err != nil {
				log.Error("clearing current job failed", "error", err)
			}
			log.Warn("stage failed, retrying", "error", execErr, "retry_in", delay)
			return
		}
	}

	if err := p.store.FailReport(ctx, job.ReportID); err != nil {
		log.Error("failing report failed", "error", err)
		return
	}
	log.Error("report failed", "error", execErr)
}

// defer_ pushes the job back to pending with its attempt refunded. Waiting
// for capacity is not a failure and must not burn retries.
func (p *Processor) deferJob(ctx context.Context, job *models.Job, d *DeferError, log *slog.Logger) {
	if err := p.store.DeferJob(ctx, job.ID, d.Until); err != nil {
		log.Error("deferring job failed", "error", err)
		return
	}
	if err := p.store.SetReportCurrentJob(ctx, job.ReportID, nil); err != nil {
		log.Error("clearing current job failed", "error", err)
	}
	log.Info("job deferred", "until", d.Until, "reason", d.Reason)
}

// Backoff returns the delay before retry number attempt (1-based), doubling
// from base and capped at one hour.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= time.Hour {
			return time.Hour
		}
	}
	if delay > time.Hour {
		delay = time.Hour
	}
	return delay
}
