// Package batch plans the work that feeds the pipeline: the nightly batch
// run over every brand and the onboarding run a new brand triggers on
// signup.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/Korner-san/bevisible/internal/config"
	"github.com/Korner-san/bevisible/internal/stages"
	"github.com/Korner-san/bevisible/internal/store"
	"github.com/Korner-san/bevisible/pkg/models"
	"github.com/Korner-san/bevisible/pkg/prompts"
)

// Planner creates reports, their first jobs, and the scheduled batches the
// capacity scheduler reserves slots for. One planner runs per process.
type Planner struct {
	store   store.Store
	cfg     config.BatchConfig
	log     *slog.Logger
	cron    *cron.Cron
	nowFunc func() time.Time
}

func New(s store.Store, cfg config.BatchConfig, log *slog.Logger) *Planner {
	return &Planner{
		store:   s,
		cfg:     cfg,
		log:     log,
		nowFunc: time.Now,
	}
}

// SetNow overrides the planner clock in tests.
func (p *Planner) SetNow(now func() time.Time) { p.nowFunc = now }

// Start registers the nightly run on its cron schedule and starts the
// scheduler goroutine.
func (p *Planner) Start(ctx context.Context) error {
	p.cron = cron.New()
	_, err := p.cron.AddFunc(p.cfg.NightlyCron, func() {
		if err := p.PlanNight(ctx); err != nil {
			p.log.Error("nightly planning failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("registering nightly schedule %q: %w", p.cfg.NightlyCron, err)
	}
	p.cron.Start()
	p.log.Info("nightly planner started", "schedule", p.cfg.NightlyCron)
	return nil
}

// Stop halts the cron scheduler and waits for a running entry to finish.
func (p *Planner) Stop() {
	if p.cron != nil {
		<-p.cron.Stop().Done()
	}
}

// PlanNight creates one report, scheduled batch, and query job per brand.
// Execution times are staggered so the batches queue up behind the account
// pool instead of all competing for it at once. Brands that already have a
// report for today are skipped, so re-running is safe.
func (p *Planner) PlanNight(ctx context.Context) error {
	now := p.nowFunc()
	brands, err := p.store.ListBrands(ctx)
	if err != nil {
		return fmt.Errorf("listing brands: %w", err)
	}

	planned := 0
	for i, brand := range brands {
		executeAt := now.Add(time.Duration(i) * p.cfg.Stagger)
		if err := p.planBrand(ctx, brand, now, executeAt); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				p.log.Info("brand already has a report for today, skipping", "brand", brand.Name)
				continue
			}
			return fmt.Errorf("planning brand %s: %w", brand.Name, err)
		}
		planned++
	}
	p.log.Info("nightly batches planned", "brands", len(brands), "planned", planned)
	return nil
}

func (p *Planner) planBrand(ctx context.Context, brand *models.Brand, now, executeAt time.Time) error {
	size, err := p.promptCount(ctx, brand.ID)
	if err != nil {
		return err
	}

	report := &models.Report{
		ID:         uuid.New(),
		BrandID:    brand.ID,
		ReportDate: now,
		Status:     models.ReportStatusRunning,
		Stage:      models.FirstStage(),
	}
	if err := p.store.CreateReport(ctx, report); err != nil {
		return err
	}

	batch := &models.ScheduledBatch{
		ID:        uuid.New(),
		BrandID:   brand.ID,
		ExecuteAt: executeAt,
		Size:      size,
		Status:    models.BatchStatusScheduled,
	}
	if err := p.store.CreateBatch(ctx, batch); err != nil {
		return fmt.Errorf("creating batch: %w", err)
	}

	// The job comes due at the batch's slot; until then the capacity
	// scheduler holds an account back once the slot enters its window.
	if err := p.createQueryJob(ctx, report.ID, executeAt, stages.QueryInput{BatchID: &batch.ID}); err != nil {
		return err
	}

	p.log.Info("batch planned", "brand", brand.Name, "execute_at", executeAt, "size", size)
	return nil
}

// StartOnboarding queues the first report for a brand that just signed up.
// The query job is due immediately; the capacity scheduler decides when an
// account actually frees up for it.
func (p *Planner) StartOnboarding(ctx context.Context, brandID uuid.UUID) (*models.Onboarding, *models.Report, error) {
	brand, err := p.store.GetBrand(ctx, brandID)
	if err != nil {
		return nil, nil, fmt.Errorf("loading brand: %w", err)
	}
	size, err := p.promptCount(ctx, brand.ID)
	if err != nil {
		return nil, nil, err
	}

	now := p.nowFunc()
	report := &models.Report{
		ID:         uuid.New(),
		BrandID:    brand.ID,
		ReportDate: now,
		Status:     models.ReportStatusRunning,
		Stage:      models.FirstStage(),
	}
	if err := p.store.CreateReport(ctx, report); err != nil {
		return nil, nil, err
	}

	ob := &models.Onboarding{
		ID:        uuid.New(),
		BrandID:   brand.ID,
		Remaining: size,
		Status:    models.OnboardingStatusRunning,
	}
	if err := p.store.CreateOnboarding(ctx, ob); err != nil {
		return nil, nil, fmt.Errorf("creating onboarding: %w", err)
	}

	if err := p.createQueryJob(ctx, report.ID, now, stages.QueryInput{OnboardingID: &ob.ID}); err != nil {
		return nil, nil, err
	}

	p.log.Info("onboarding started", "brand", brand.Name, "queries", size)
	return ob, report, nil
}

// CreateAdHocReport queues a report outside any batch or onboarding, e.g.
// a manual re-run from the dashboard. The query job is due immediately.
func (p *Planner) CreateAdHocReport(ctx context.Context, brandID uuid.UUID) (*models.Report, error) {
	brand, err := p.store.GetBrand(ctx, brandID)
	if err != nil {
		return nil, fmt.Errorf("loading brand: %w", err)
	}

	now := p.nowFunc()
	report := &models.Report{
		ID:         uuid.New(),
		BrandID:    brand.ID,
		ReportDate: now,
		Status:     models.ReportStatusRunning,
		Stage:      models.FirstStage(),
	}
	if err := p.store.CreateReport(ctx, report); err != nil {
		return nil, err
	}
	if err := p.createQueryJob(ctx, report.ID, now, stages.QueryInput{}); err != nil {
		return nil, err
	}
	return report, nil
}

func (p *Planner) createQueryJob(ctx context.Context, reportID uuid.UUID, due time.Time, input stages.QueryInput) error {
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("encoding query input: %w", err)
	}
	job := &models.Job{
		ID:             uuid.New(),
		ReportID:       reportID,
		Stage:          models.FirstStage(),
		Status:         models.JobStatusPending,
		MaxAttempts:    models.DefaultMaxAttempts,
		ScheduledAt:    due,
		ProcessingData: data,
	}
	if err := p.store.CreateJob(ctx, job); err != nil {
		return fmt.Errorf("creating query job: %w", err)
	}
	return nil
}

func (p *Planner) promptCount(ctx context.Context, brandID uuid.UUID) (int, error) {
	rows, err := p.store.ListPromptsByBrand(ctx, brandID)
	if err != nil {
		return 0, fmt.Errorf("listing prompts: %w", err)
	}
	if len(rows) == 0 {
		return len(prompts.DefaultSet), nil
	}
	return len(rows), nil
}
