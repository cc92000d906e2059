// Package stages holds the pipeline's stage executors: query runs the
// automation session, classify labels the collected answers, extract
// resolves cited pages.
package stages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Korner-san/bevisible/internal/automation"
	"github.com/Korner-san/bevisible/internal/pipeline"
	"github.com/Korner-san/bevisible/internal/scheduler"
	"github.com/Korner-san/bevisible/internal/store"
	"github.com/Korner-san/bevisible/pkg/models"
	"github.com/Korner-san/bevisible/pkg/prompts"
)

// QueryInput is the first job's processing data. The planner sets BatchID
// for nightly runs, the onboarding intake sets OnboardingID; ad-hoc reports
// carry neither.
type QueryInput struct {
	BatchID      *uuid.UUID `json:"batch_id,omitempty"`
	OnboardingID *uuid.UUID `json:"onboarding_id,omitempty"`
}

// QueryOutput summarizes what the stage persisted.
type QueryOutput struct {
	Prompts  int `json:"prompts"`
	Answers  int `json:"answers"`
	Failed   int `json:"failed"`
	Mentions int `json:"mentions"`
}

// BrandCounter matches a brand in response text. Indirected for tests;
// production wiring uses mentions.ForBrand.
type BrandCounter interface {
	Count(text string) int
}

// QueryStage asks the capacity scheduler for an account, runs the brand's
// prompt set through an automation session, and persists one answer row per
// prompt plus a citation row per cited URL.
type QueryStage struct {
	store     store.Store
	capacity  *scheduler.Capacity
	session   automation.Session
	counterFn func(*models.Brand) BrandCounter
	builder   prompts.Builder
	log       *slog.Logger
	nowFunc   func() time.Time
}

func NewQueryStage(s store.Store, cap *scheduler.Capacity, session automation.Session, counterFn func(*models.Brand) BrandCounter, log *slog.Logger) *QueryStage {
	return &QueryStage{
		store:     s,
		capacity:  cap,
		session:   session,
		counterFn: counterFn,
		log:       log,
		nowFunc:   time.Now,
	}
}

// SetNow overrides the stage clock in tests.
func (s *QueryStage) SetNow(now func() time.Time) { s.nowFunc = now }

func (s *QueryStage) Stage() models.Stage { return models.StageQuery }

func (s *QueryStage) Execute(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	var input QueryInput
	if len(job.ProcessingData) > 0 {
		if err := json.Unmarshal(job.ProcessingData, &input); err != nil {
			return nil, pipeline.Permanent(fmt.Errorf("decoding query input: %w", err))
		}
	}

	report, err := s.store.GetReport(ctx, job.ReportID)
	if err != nil {
		return nil, fmt.Errorf("loading report: %w", err)
	}
	brand, err := s.store.GetBrand(ctx, report.BrandID)
	if err != nil {
		return nil, fmt.Errorf("loading brand: %w", err)
	}

	queries, promptIDs, err := s.renderPrompts(ctx, brand)
	if err != nil {
		return nil, err
	}

	// Positions already persisted by an earlier partial attempt are
	// skipped, so a retry cannot duplicate answers or inflate counters.
	existing, err := s.store.ListAnswersByReport(ctx, report.ID)
	if err != nil {
		return nil, fmt.Errorf("listing answers: %w", err)
	}
	done := make(map[int]bool, len(existing))
	for _, a := range existing {
		done[a.Position] = true
	}

	var pending []int
	for i := range queries {
		if !done[i] {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		out, err := s.reconcileCounters(ctx, report, brand, len(queries))
		if err != nil {
			return nil, err
		}
		s.finishWorkUnit(ctx, input)
		return json.Marshal(out)
	}

	now := s.nowFunc()
	alloc, wait, err := s.capacity.TryAllocate(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("allocating account: %w", err)
	}
	if wait != nil {
		return nil, pipeline.Defer(wait.NextFreeAt, "no free automation account")
	}
	defer func() {
		if err := s.capacity.Release(ctx, alloc, s.nowFunc()); err != nil {
			s.log.Error("releasing account failed", "account_id", alloc.Account.ID, "error", err)
		}
	}()

	s.startWorkUnit(ctx, input, alloc.Account.ID, len(pending))

	pendingQueries := make([]string, len(pending))
	for i, pos := range pending {
		pendingQueries[i] = queries[pos]
	}
	creds := automation.Credentials{AccountLabel: alloc.Account.Label, SessionToken: alloc.Account.SessionToken}
	results, err := s.session.Run(ctx, creds, pendingQueries)
	if errors.Is(err, automation.ErrSessionExpired) {
		// The account is broken, the report is not: flag the account and
		// let the retry land on a healthy one.
		if flagErr := s.store.SetAccountEligible(ctx, alloc.Account.ID, false); flagErr != nil {
			s.log.Error("flagging account failed", "account_id", alloc.Account.ID, "error", flagErr)
		}
		s.log.Warn("account session expired, flagged ineligible", "account_id", alloc.Account.ID, "label", alloc.Account.Label)
		return nil, fmt.Errorf("account %s unusable: %w", alloc.Account.Label, err)
	}
	if err != nil {
		return nil, fmt.Errorf("automation session: %w", err)
	}

	if err := s.persistResults(ctx, report, pending, promptIDs, results); err != nil {
		return nil, err
	}
	out, err := s.reconcileCounters(ctx, report, brand, len(queries))
	if err != nil {
		return nil, err
	}

	s.finishWorkUnit(ctx, input)

	return json.Marshal(out)
}

// renderPrompts returns the brand's query texts in position order, falling
// back to the default question set for brands with no prompts yet.
func (s *QueryStage) renderPrompts(ctx context.Context, brand *models.Brand) ([]string, []uuid.UUID, error) {
	params := prompts.BrandParams{Name: brand.Name, Domain: brand.Domain}

	rows, err := s.store.ListPromptsByBrand(ctx, brand.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing prompts: %w", err)
	}
	if len(rows) == 0 {
		rendered := s.builder.RenderAll(prompts.DefaultSet, params)
		created := make([]uuid.UUID, len(rendered))
		for i, text := range rendered {
			p := &models.Prompt{ID: uuid.New(), BrandID: brand.ID, Position: i, Text: text}
			if err := s.store.CreatePrompt(ctx, p); err != nil && !errors.Is(err, store.ErrDuplicateKey) {
				return nil, nil, fmt.Errorf("seeding default prompts: %w", err)
			}
			created[i] = p.ID
		}
		return rendered, created, nil
	}

	texts := make([]string, len(rows))
	ids := make([]uuid.UUID, len(rows))
	for i, p := range rows {
		texts[i] = s.builder.Render(p.Text, params)
		ids[i] = p.ID
	}
	return texts, ids, nil
}

// persistResults writes answers and citation rows for the pending
// positions. Counter updates happen afterwards in reconcileCounters so a
// failure between the two cannot lose rows from the totals.
func (s *QueryStage) persistResults(ctx context.Context, report *models.Report, pending []int, promptIDs []uuid.UUID, results []automation.QueryResult) error {
	for i, result := range results {
		if i >= len(pending) {
			break
		}
		pos := pending[i]

		answer := &models.Answer{
			ID:           uuid.New(),
			ReportID:     report.ID,
			PromptID:     promptIDs[pos],
			Position:     pos,
			ResponseText: result.Text,
			Citations:    result.Citations,
		}
		if result.Failed() {
			msg := result.Error
			answer.ErrorMessage = &msg
		}
		if err := s.store.CreateAnswer(ctx, answer); err != nil {
			if errors.Is(err, store.ErrDuplicateKey) {
				continue
			}
			return fmt.Errorf("persisting answer %d: %w", pos, err)
		}

		if result.Failed() {
			continue
		}
		for _, cited := range result.Citations {
			citation := &models.Citation{
				ID:       uuid.New(),
				ReportID: report.ID,
				AnswerID: answer.ID,
				URL:      cited,
				Domain:   domainOf(cited),
			}
			if err := s.store.CreateCitation(ctx, citation); err != nil {
				return fmt.Errorf("persisting citation: %w", err)
			}
		}
	}
	return nil
}

// reconcileCounters recomputes the query-stage totals from the persisted
// rows and applies the difference against the report's current counters.
// Counting rows instead of this attempt's writes means an earlier attempt
// that persisted answers but died before its counter update heals on retry.
func (s *QueryStage) reconcileCounters(ctx context.Context, report *models.Report, brand *models.Brand, promptCount int) (*QueryOutput, error) {
	answers, err := s.store.ListAnswersByReport(ctx, report.ID)
	if err != nil {
		return nil, fmt.Errorf("listing answers: %w", err)
	}
	citations, err := s.store.ListCitationsByReport(ctx, report.ID)
	if err != nil {
		return nil, fmt.Errorf("listing citations: %w", err)
	}

	counter := s.counterFn(brand)
	out := &QueryOutput{Prompts: promptCount}
	for _, a := range answers {
		if a.ErrorMessage != nil {
			out.Failed++
			continue
		}
		out.Answers++
		out.Mentions += counter.Count(a.ResponseText)
	}

	deltas := store.ReportCounters{
		Prompts:   promptCount - report.PromptsTotal,
		Answers:   out.Answers - report.AnswersTotal,
		Mentions:  out.Mentions - report.MentionsTotal,
		Citations: len(citations) - report.CitationsTotal,
	}
	if err := s.store.AddReportCounters(ctx, report.ID, deltas); err != nil {
		return nil, fmt.Errorf("updating report counters: %w", err)
	}
	return out, nil
}

// startWorkUnit binds the allocated account to the batch or onboarding
// driving this report. Re-binding on retry is a no-op.
func (s *QueryStage) startWorkUnit(ctx context.Context, input QueryInput, accountID uuid.UUID, remaining int) {
	if input.BatchID != nil {
		if err := s.store.StartBatch(ctx, *input.BatchID, accountID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.log.Error("starting batch failed", "batch_id", *input.BatchID, "error", err)
		}
	}
	if input.OnboardingID != nil {
		if err := s.store.UpdateOnboardingProgress(ctx, *input.OnboardingID, &accountID, remaining); err != nil {
			s.log.Error("updating onboarding failed", "onboarding_id", *input.OnboardingID, "error", err)
		}
	}
}

func (s *QueryStage) finishWorkUnit(ctx context.Context, input QueryInput) {
	if input.BatchID != nil {
		if err := s.store.CompleteBatch(ctx, *input.BatchID); err != nil {
			s.log.Error("completing batch failed", "batch_id", *input.BatchID, "error", err)
		}
	}
	if input.OnboardingID != nil {
		if err := s.store.CompleteOnboarding(ctx, *input.OnboardingID); err != nil {
			s.log.Error("completing onboarding failed", "onboarding_id", *input.OnboardingID, "error", err)
		}
	}
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}

var _ pipeline.Executor = (*QueryStage)(nil)
