package stages

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Korner-san/bevisible/internal/fetch"
	"github.com/Korner-san/bevisible/internal/pipeline"
	"github.com/Korner-san/bevisible/internal/store"
	"github.com/Korner-san/bevisible/pkg/models"
)

// perFetchTimeout bounds one cited page; the job-level timeout bounds the
// whole stage.
const perFetchTimeout = 20 * time.Second

// ExtractOutput summarizes citation resolution.
type ExtractOutput struct {
	Resolved int `json:"resolved"`
	Failed   int `json:"failed"`
}

// ExtractStage resolves the report's cited URLs into page titles. Each
// citation fails or resolves on its own; a dead link never fails the
// stage.
type ExtractStage struct {
	store   store.Store
	fetcher fetch.Fetcher
	log     *slog.Logger
}

func NewExtractStage(s store.Store, fetcher fetch.Fetcher, log *slog.Logger) *ExtractStage {
	return &ExtractStage{store: s, fetcher: fetcher, log: log}
}

func (s *ExtractStage) Stage() models.Stage { return models.StageExtract }

func (s *ExtractStage) Execute(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	citations, err := s.store.ListUnresolvedCitations(ctx, job.ReportID)
	if err != nil {
		return nil, fmt.Errorf("listing unresolved citations: %w", err)
	}

	out := ExtractOutput{}
	for _, c := range citations {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err := s.resolve(ctx, c); err != nil {
			if markErr := s.store.FailCitation(ctx, c.ID, err.Error()); markErr != nil {
				return nil, fmt.Errorf("marking citation failed: %w", markErr)
			}
			s.log.Warn("citation unresolved", "url", c.URL, "error", err)
			out.Failed++
			continue
		}
		out.Resolved++
	}

	if err := s.store.AddReportCounters(ctx, job.ReportID, store.ReportCounters{Extracted: out.Resolved}); err != nil {
		return nil, fmt.Errorf("updating report counters: %w", err)
	}
	return json.Marshal(out)
}

func (s *ExtractStage) resolve(ctx context.Context, c *models.Citation) error {
	fetchCtx, cancel := context.WithTimeout(ctx, perFetchTimeout)
	defer cancel()

	page, err := s.fetcher.Fetch(fetchCtx, c.URL)
	if err != nil {
		return err
	}
	return s.store.ResolveCitation(ctx, c.ID, page.Title, page.Text)
}

var _ pipeline.Executor = (*ExtractStage)(nil)
