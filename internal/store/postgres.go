package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Korner-san/bevisible/pkg/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Brands ---

func (s *PostgresStore) CreateBrand(ctx context.Context, brand *models.Brand) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO brands (id, name, domain, aliases, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		brand.ID, brand.Name, brand.Domain, brand.Aliases, brand.CreatedAt, brand.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create brand: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBrand(ctx context.Context, id uuid.UUID) (*models.Brand, error) {
	var b models.Brand
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, domain, aliases, created_at, updated_at FROM brands WHERE id = $1`, id,
	).Scan(&b.ID, &b.Name, &b.Domain, &b.Aliases, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get brand: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) ListBrands(ctx context.Context) ([]*models.Brand, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, domain, aliases, created_at, updated_at FROM brands ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list brands: %w", err)
	}
	defer rows.Close()

	var brands []*models.Brand
	for rows.Next() {
		var b models.Brand
		if err := rows.Scan(&b.ID, &b.Name, &b.Domain, &b.Aliases, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan brand: %w", err)
		}
		brands = append(brands, &b)
	}
	return brands, rows.Err()
}

func (s *PostgresStore) CreatePrompt(ctx context.Context, prompt *models.Prompt) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO prompts (id, brand_id, position, text) VALUES ($1, $2, $3, $4)`,
		prompt.ID, prompt.BrandID, prompt.Position, prompt.Text)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create prompt: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPromptsByBrand(ctx context.Context, brandID uuid.UUID) ([]*models.Prompt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, brand_id, position, text FROM prompts WHERE brand_id = $1 ORDER BY position`, brandID)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	var prompts []*models.Prompt
	for rows.Next() {
		var p models.Prompt
		if err := rows.Scan(&p.ID, &p.BrandID, &p.Position, &p.Text); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		prompts = append(prompts, &p)
	}
	return prompts, rows.Err()
}

// --- Reports ---

const reportCols = `id, brand_id, report_date, status, stage, current_job_id,
	prompts_total, answers_total, mentions_total, citations_total,
	classified_total, extracted_total, created_at, updated_at`

func scanReport(row pgx.Row) (*models.Report, error) {
	var r models.Report
	err := row.Scan(&r.ID, &r.BrandID, &r.ReportDate, &r.Status, &r.Stage, &r.CurrentJobID,
		&r.PromptsTotal, &r.AnswersTotal, &r.MentionsTotal, &r.CitationsTotal,
		&r.ClassifiedTotal, &r.ExtractedTotal, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) CreateReport(ctx context.Context, report *models.Report) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reports (id, brand_id, report_date, status, stage, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		report.ID, report.BrandID, report.ReportDate, report.Status, report.Stage,
		report.CreatedAt, report.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetReport(ctx context.Context, id uuid.UUID) (*models.Report, error) {
	r, err := scanReport(s.pool.QueryRow(ctx,
		`SELECT `+reportCols+` FROM reports WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]*models.Report, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	i := 1
	if filter.BrandID != uuid.Nil {
		where += fmt.Sprintf(" AND brand_id = $%d", i)
		args = append(args, filter.BrandID)
		i++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", i)
		args = append(args, filter.Status)
		i++
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM reports`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count reports: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	q := `SELECT ` + reportCols + ` FROM reports` + where +
		fmt.Sprintf(` ORDER BY report_date DESC, created_at DESC LIMIT $%d OFFSET $%d`, i, i+1)
	args = append(args, limit, (page-1)*limit)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	return reports, total, rows.Err()
}

func (s *PostgresStore) SetReportCurrentJob(ctx context.Context, id uuid.UUID, jobID *uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET current_job_id = $2, updated_at = NOW() WHERE id = $1`, id, jobID)
	if err != nil {
		return fmt.Errorf("set report current job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AdvanceReportStage(ctx context.Context, id uuid.UUID, stage models.Stage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET stage = $2, updated_at = NOW() WHERE id = $1`, id, stage)
	if err != nil {
		return fmt.Errorf("advance report stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteReport(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET status = $2, stage = $3, current_job_id = NULL, updated_at = NOW()
		 WHERE id = $1`, id, models.ReportStatusCompleted, models.StageCompleted)
	if err != nil {
		return fmt.Errorf("complete report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailReport(ctx context.Context, id uuid.UUID) error {
	// Stage stays where the failure happened; only status flips terminal.
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET status = $2, current_job_id = NULL, updated_at = NOW() WHERE id = $1`,
		id, models.ReportStatusFailed)
	if err != nil {
		return fmt.Errorf("fail report: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AddReportCounters(ctx context.Context, id uuid.UUID, d ReportCounters) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE reports SET
			prompts_total    = prompts_total + $2,
			answers_total    = answers_total + $3,
			mentions_total   = mentions_total + $4,
			citations_total  = citations_total + $5,
			classified_total = classified_total + $6,
			extracted_total  = extracted_total + $7,
			updated_at       = NOW()
		 WHERE id = $1`,
		id, d.Prompts, d.Answers, d.Mentions, d.Citations, d.Classified, d.Extracted)
	if err != nil {
		return fmt.Errorf("add report counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

const jobCols = `id, report_id, stage, status, attempts, max_attempts, scheduled_at,
	started_at, completed_at, processing_data, error_message, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j    models.Job
		data []byte
	)
	err := row.Scan(&j.ID, &j.ReportID, &j.Stage, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.ScheduledAt, &j.StartedAt, &j.CompletedAt, &data, &j.ErrorMessage,
		&j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if data != nil {
		j.ProcessingData = json.RawMessage(data)
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, report_id, stage, status, attempts, max_attempts,
		                   scheduled_at, processing_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.ReportID, job.Stage, job.Status, job.Attempts, job.MaxAttempts,
		job.ScheduledAt, nullableJSON(job.ProcessingData), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobCols+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobsByReport(ctx context.Context, reportID uuid.UUID) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobCols+` FROM jobs WHERE report_id = $1 ORDER BY created_at`, reportID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ClaimDueJobs atomically transitions up to limit due pending jobs to
// running, incrementing attempts. SKIP LOCKED keeps overlapping ticks (or
// concurrent pipeline instances) from claiming the same row twice.
func (s *PostgresStore) ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE jobs SET status = 'running', attempts = attempts + 1,
		                 started_at = NOW(), updated_at = NOW()
		 WHERE id IN (
		     SELECT id FROM jobs
		     WHERE status = 'pending' AND scheduled_at <= $1
		     ORDER BY scheduled_at ASC
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobCols, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// RETURNING order is unspecified; keep the scheduled order the caller
	// dispatches in.
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ScheduledAt.Before(jobs[k].ScheduledAt) })
	return jobs, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, output json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'completed', processing_data = $2,
		                 completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`,
		id, nullableJSON(output))
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id uuid.UUID, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'failed', error_message = $2,
		                 completed_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`,
		id, errMsg)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeferJob returns a running job to pending without consuming an attempt.
// Used when the stage could not start at all (no account capacity).
func (s *PostgresStore) DeferJob(ctx context.Context, id uuid.UUID, until time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'pending', scheduled_at = $2,
		                 attempts = GREATEST(attempts - 1, 0),
		                 started_at = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'running'`,
		id, until)
	if err != nil {
		return fmt.Errorf("defer job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Accounts ---

const accountCols = `id, label, session_token, eligible, last_used_at, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Label, &a.SessionToken, &a.Eligible, &a.LastUsedAt,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account *models.Account) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (id, label, session_token, eligible, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		account.ID, account.Label, account.SessionToken, account.Eligible,
		account.CreatedAt, account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	return s.listAccounts(ctx, `SELECT `+accountCols+` FROM accounts ORDER BY created_at`)
}

func (s *PostgresStore) ListEligibleAccounts(ctx context.Context) ([]*models.Account, error) {
	return s.listAccounts(ctx,
		`SELECT `+accountCols+` FROM accounts WHERE eligible ORDER BY last_used_at ASC NULLS FIRST`)
}

func (s *PostgresStore) listAccounts(ctx context.Context, q string) ([]*models.Account, error) {
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (s *PostgresStore) SetAccountEligible(ctx context.Context, id uuid.UUID, eligible bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET eligible = $2, updated_at = NOW() WHERE id = $1`, id, eligible)
	if err != nil {
		return fmt.Errorf("set account eligible: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) TouchAccountUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET last_used_at = $2, updated_at = NOW() WHERE id = $1`, id, usedAt)
	if err != nil {
		return fmt.Errorf("touch account used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Batches and onboardings ---

func (s *PostgresStore) CreateBatch(ctx context.Context, batch *models.ScheduledBatch) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO batches (id, brand_id, account_id, execute_at, size, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		batch.ID, batch.BrandID, batch.AccountID, batch.ExecuteAt, batch.Size,
		batch.Status, batch.CreatedAt)
	if err != nil {
		return fmt.Errorf("create batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListActiveBatches(ctx context.Context) ([]*models.ScheduledBatch, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, brand_id, account_id, execute_at, size, status, created_at
		 FROM batches WHERE status IN ('scheduled', 'running') ORDER BY execute_at`)
	if err != nil {
		return nil, fmt.Errorf("list active batches: %w", err)
	}
	defer rows.Close()

	var batches []*models.ScheduledBatch
	for rows.Next() {
		var b models.ScheduledBatch
		if err := rows.Scan(&b.ID, &b.BrandID, &b.AccountID, &b.ExecuteAt, &b.Size,
			&b.Status, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		batches = append(batches, &b)
	}
	return batches, rows.Err()
}

func (s *PostgresStore) StartBatch(ctx context.Context, id uuid.UUID, accountID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET status = 'running', account_id = $2 WHERE id = $1 AND status = 'scheduled'`,
		id, accountID)
	if err != nil {
		return fmt.Errorf("start batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteBatch(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET status = 'completed' WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateOnboarding(ctx context.Context, ob *models.Onboarding) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO onboardings (id, brand_id, account_id, remaining, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ob.ID, ob.BrandID, ob.AccountID, ob.Remaining, ob.Status, ob.CreatedAt)
	if err != nil {
		return fmt.Errorf("create onboarding: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListRunningOnboardings(ctx context.Context) ([]*models.Onboarding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, brand_id, account_id, remaining, status, created_at
		 FROM onboardings WHERE status = 'running' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list running onboardings: %w", err)
	}
	defer rows.Close()

	var obs []*models.Onboarding
	for rows.Next() {
		var o models.Onboarding
		if err := rows.Scan(&o.ID, &o.BrandID, &o.AccountID, &o.Remaining, &o.Status, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan onboarding: %w", err)
		}
		obs = append(obs, &o)
	}
	return obs, rows.Err()
}

func (s *PostgresStore) UpdateOnboardingProgress(ctx context.Context, id uuid.UUID, accountID *uuid.UUID, remaining int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE onboardings SET account_id = $2, remaining = $3 WHERE id = $1`,
		id, accountID, remaining)
	if err != nil {
		return fmt.Errorf("update onboarding progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CompleteOnboarding(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE onboardings SET status = 'completed', remaining = 0 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("complete onboarding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Answers and citations ---

const answerCols = `id, report_id, prompt_id, position, response_text, citations,
	label, label_confidence, error_message, created_at`

func scanAnswer(row pgx.Row) (*models.Answer, error) {
	var (
		a         models.Answer
		citations []byte
	)
	err := row.Scan(&a.ID, &a.ReportID, &a.PromptID, &a.Position, &a.ResponseText,
		&citations, &a.Label, &a.LabelConfidence, &a.ErrorMessage, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(citations) > 0 {
		if err := json.Unmarshal(citations, &a.Citations); err != nil {
			return nil, fmt.Errorf("decode citations: %w", err)
		}
	}
	return &a, nil
}

func (s *PostgresStore) CreateAnswer(ctx context.Context, answer *models.Answer) error {
	citations, err := json.Marshal(answer.Citations)
	if err != nil {
		return fmt.Errorf("encode citations: %w", err)
	}
	if answer.Citations == nil {
		citations = []byte(`[]`)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO answers (id, report_id, prompt_id, position, response_text,
		                      citations, error_message, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		answer.ID, answer.ReportID, answer.PromptID, answer.Position, answer.ResponseText,
		citations, answer.ErrorMessage, answer.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create answer: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAnswersByReport(ctx context.Context, reportID uuid.UUID) ([]*models.Answer, error) {
	return s.listAnswers(ctx,
		`SELECT `+answerCols+` FROM answers WHERE report_id = $1 ORDER BY position`, reportID)
}

func (s *PostgresStore) ListUnclassifiedAnswers(ctx context.Context, reportID uuid.UUID) ([]*models.Answer, error) {
	return s.listAnswers(ctx,
		`SELECT `+answerCols+` FROM answers
		 WHERE report_id = $1 AND label IS NULL AND error_message IS NULL
		 ORDER BY position`, reportID)
}

func (s *PostgresStore) listAnswers(ctx context.Context, q string, args ...any) ([]*models.Answer, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	var answers []*models.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan answer: %w", err)
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func (s *PostgresStore) SetAnswerLabel(ctx context.Context, id uuid.UUID, label string, confidence float64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE answers SET label = $2, label_confidence = $3 WHERE id = $1`, id, label, confidence)
	if err != nil {
		return fmt.Errorf("set answer label: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const citationCols = `id, report_id, answer_id, url, domain, title, excerpt, resolved, error_message, created_at`

func scanCitation(row pgx.Row) (*models.Citation, error) {
	var c models.Citation
	err := row.Scan(&c.ID, &c.ReportID, &c.AnswerID, &c.URL, &c.Domain, &c.Title,
		&c.Excerpt, &c.Resolved, &c.ErrorMessage, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) CreateCitation(ctx context.Context, citation *models.Citation) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO citations (id, report_id, answer_id, url, domain, resolved, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		citation.ID, citation.ReportID, citation.AnswerID, citation.URL, citation.Domain,
		citation.Resolved, citation.CreatedAt)
	if err != nil {
		return fmt.Errorf("create citation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCitationsByReport(ctx context.Context, reportID uuid.UUID) ([]*models.Citation, error) {
	return s.listCitations(ctx,
		`SELECT `+citationCols+` FROM citations WHERE report_id = $1 ORDER BY created_at`, reportID)
}

func (s *PostgresStore) ListUnresolvedCitations(ctx context.Context, reportID uuid.UUID) ([]*models.Citation, error) {
	return s.listCitations(ctx,
		`SELECT `+citationCols+` FROM citations
		 WHERE report_id = $1 AND NOT resolved AND error_message IS NULL
		 ORDER BY created_at`, reportID)
}

func (s *PostgresStore) listCitations(ctx context.Context, q string, args ...any) ([]*models.Citation, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list citations: %w", err)
	}
	defer rows.Close()

	var citations []*models.Citation
	for rows.Next() {
		c, err := scanCitation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan citation: %w", err)
		}
		citations = append(citations, c)
	}
	return citations, rows.Err()
}

func (s *PostgresStore) ResolveCitation(ctx context.Context, id uuid.UUID, title, excerpt string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE citations SET resolved = TRUE, title = $2, excerpt = $3 WHERE id = $1`, id, title, excerpt)
	if err != nil {
		return fmt.Errorf("resolve citation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FailCitation(ctx context.Context, id uuid.UUID, errMsg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE citations SET error_message = $2 WHERE id = $1`, id, errMsg)
	if err != nil {
		return fmt.Errorf("fail citation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- helpers ---

func nullableJSON(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
