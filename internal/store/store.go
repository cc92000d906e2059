package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Korner-san/bevisible/pkg/models"
	"github.com/google/uuid"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
// The account pool and the job queue are reached only through this interface
// so multiple pipeline instances can share one database safely.
type Store interface {
	Ping(ctx context.Context) error

	// Brands and their question sets.
	CreateBrand(ctx context.Context, brand *models.Brand) error
	GetBrand(ctx context.Context, id uuid.UUID) (*models.Brand, error)
	ListBrands(ctx context.Context) ([]*models.Brand, error)
	CreatePrompt(ctx context.Context, prompt *models.Prompt) error
	ListPromptsByBrand(ctx context.Context, brandID uuid.UUID) ([]*models.Prompt, error)

	// Reports. A report is created by a trigger and then mutated only by
	// the job processor as stages complete; it is never deleted.
	CreateReport(ctx context.Context, report *models.Report) error
	GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error)
	ListReports(ctx context.Context, filter ReportFilter) ([]*models.Report, int, error)
	SetReportCurrentJob(ctx context.Context, id uuid.UUID, jobID *uuid.UUID) error
	AdvanceReportStage(ctx context.Context, id uuid.UUID, stage models.Stage) error
	CompleteReport(ctx context.Context, id uuid.UUID) error
	FailReport(ctx context.Context, id uuid.UUID) error
	AddReportCounters(ctx context.Context, id uuid.UUID, deltas ReportCounters) error

	// Jobs. ClaimDueJobs is the only way a job moves from pending to
	// running: the transition is a single conditional update so overlapping
	// ticks never claim the same row twice.
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobsByReport(ctx context.Context, reportID uuid.UUID) ([]*models.Job, error)
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
	CompleteJob(ctx context.Context, id uuid.UUID, output json.RawMessage) error
	FailJob(ctx context.Context, id uuid.UUID, errMsg string) error
	DeferJob(ctx context.Context, id uuid.UUID, until time.Time) error

	// Accounts.
	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error)
	ListAccounts(ctx context.Context) ([]*models.Account, error)
	ListEligibleAccounts(ctx context.Context) ([]*models.Account, error)
	SetAccountEligible(ctx context.Context, id uuid.UUID, eligible bool) error
	TouchAccountUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error

	// Work units competing for accounts.
	CreateBatch(ctx context.Context, batch *models.ScheduledBatch) error
	ListActiveBatches(ctx context.Context) ([]*models.ScheduledBatch, error)
	StartBatch(ctx context.Context, id uuid.UUID, accountID uuid.UUID) error
	CompleteBatch(ctx context.Context, id uuid.UUID) error
	CreateOnboarding(ctx context.Context, ob *models.Onboarding) error
	ListRunningOnboardings(ctx context.Context) ([]*models.Onboarding, error)
	UpdateOnboardingProgress(ctx context.Context, id uuid.UUID, accountID *uuid.UUID, remaining int) error
	CompleteOnboarding(ctx context.Context, id uuid.UUID) error

	// Stage outputs.
	CreateAnswer(ctx context.Context, answer *models.Answer) error
	ListAnswersByReport(ctx context.Context, reportID uuid.UUID) ([]*models.Answer, error)
	ListUnclassifiedAnswers(ctx context.Context, reportID uuid.UUID) ([]*models.Answer, error)
	SetAnswerLabel(ctx context.Context, id uuid.UUID, label string, confidence float64) error
	CreateCitation(ctx context.Context, citation *models.Citation) error
	ListCitationsByReport(ctx context.Context, reportID uuid.UUID) ([]*models.Citation, error)
	ListUnresolvedCitations(ctx context.Context, reportID uuid.UUID) ([]*models.Citation, error)
	ResolveCitation(ctx context.Context, id uuid.UUID, title, excerpt string) error
	FailCitation(ctx context.Context, id uuid.UUID, errMsg string) error

	// API keys.
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// ReportFilter narrows ListReports.
type ReportFilter struct {
	BrandID uuid.UUID
	Status  string
	Page    int
	Limit   int
}

// ReportCounters carries per-stage counter increments. Zero fields leave
// the stored counter unchanged.
type ReportCounters struct {
	Prompts    int
	Answers    int
	Mentions   int
	Citations  int
	Classified int
	Extracted  int
}
