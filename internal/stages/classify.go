package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Korner-san/bevisible/internal/pipeline"
	"github.com/Korner-san/bevisible/internal/store"
	"github.com/Korner-san/bevisible/pkg/models"
)

// ClassifyOutput summarizes the labeling pass.
type ClassifyOutput struct {
	Classified int `json:"classified"`
	Skipped    int `json:"skipped"`
}

// ClassifyStage sends the report's unlabeled answers to the configured
// LLM provider in one batch and stores the labels. Answers the provider
// cannot label are skipped, not fatal: a partially labeled report is
// still worth finishing.
type ClassifyStage struct {
	store    store.Store
	provider models.ClassifyProvider
	timeout  time.Duration
	log      *slog.Logger
}

func NewClassifyStage(s store.Store, provider models.ClassifyProvider, timeout time.Duration, log *slog.Logger) *ClassifyStage {
	return &ClassifyStage{store: s, provider: provider, timeout: timeout, log: log}
}

func (s *ClassifyStage) Stage() models.Stage { return models.StageClassify }

func (s *ClassifyStage) Execute(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	report, err := s.store.GetReport(ctx, job.ReportID)
	if err != nil {
		return nil, fmt.Errorf("loading report: %w", err)
	}
	brand, err := s.store.GetBrand(ctx, report.BrandID)
	if err != nil {
		return nil, fmt.Errorf("loading brand: %w", err)
	}

	answers, err := s.store.ListUnclassifiedAnswers(ctx, report.ID)
	if err != nil {
		return nil, fmt.Errorf("listing unclassified answers: %w", err)
	}
	if len(answers) == 0 {
		return json.Marshal(ClassifyOutput{})
	}

	promptText, err := s.promptTexts(ctx, brand.ID)
	if err != nil {
		return nil, err
	}

	req := models.ClassifyRequest{BrandName: brand.Name}
	byID := make(map[string]*models.Answer, len(answers))
	for _, a := range answers {
		req.Answers = append(req.Answers, models.AnswerText{
			ID:       a.ID.String(),
			Prompt:   promptText[a.PromptID],
			Response: a.ResponseText,
		})
		byID[a.ID.String()] = a
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	results, err := s.provider.Classify(callCtx, req)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", s.provider.Name(), err)
	}

	out := ClassifyOutput{}
	for _, r := range results {
		answer, ok := byID[r.AnswerID]
		if !ok {
			s.log.Warn("provider returned unknown answer id", "answer_id", r.AnswerID)
			continue
		}
		if r.Error != "" {
			s.log.Warn("answer not labeled", "answer_id", r.AnswerID, "reason", r.Error)
			out.Skipped++
			continue
		}
		if err := s.store.SetAnswerLabel(ctx, answer.ID, r.Label, r.Confidence); err != nil {
			return nil, fmt.Errorf("storing label: %w", err)
		}
		out.Classified++
	}

	if err := s.store.AddReportCounters(ctx, report.ID, store.ReportCounters{Classified: out.Classified}); err != nil {
		return nil, fmt.Errorf("updating report counters: %w", err)
	}
	return json.Marshal(out)
}

func (s *ClassifyStage) promptTexts(ctx context.Context, brandID uuid.UUID) (map[uuid.UUID]string, error) {
	rows, err := s.store.ListPromptsByBrand(ctx, brandID)
	if err != nil {
		return nil, fmt.Errorf("listing prompts: %w", err)
	}
	out := make(map[uuid.UUID]string, len(rows))
	for _, p := range rows {
		out[p.ID] = p.Text
	}
	return out, nil
}

var _ pipeline.Executor = (*ClassifyStage)(nil)
