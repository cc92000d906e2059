// Package storetest provides an in-memory store.Store for unit tests that
// need pipeline state without a database.
package storetest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/Korner-san/bevisible/internal/store"
	"github.com/Korner-san/bevisible/pkg/models"
	"github.com/google/uuid"
)

// Memory implements store.Store with maps. All methods copy values in and
// out so tests can mutate returned structs freely. Safe for concurrent use.
type Memory struct {
	mu          sync.Mutex
	Brands      map[uuid.UUID]*models.Brand
	Prompts     map[uuid.UUID]*models.Prompt
	Reports     map[uuid.UUID]*models.Report
	Jobs        map[uuid.UUID]*models.Job
	Accounts    map[uuid.UUID]*models.Account
	Batches     map[uuid.UUID]*models.ScheduledBatch
	Onboardings map[uuid.UUID]*models.Onboarding
	Answers     map[uuid.UUID]*models.Answer
	Citations   map[uuid.UUID]*models.Citation
	Keys        map[uuid.UUID]*models.APIKey

	// Err, when set, is returned by every method. Lets tests exercise
	// store-failure paths.
	Err error
}

// New returns an empty Memory store.
func New() *Memory {
	return &Memory{
		Brands:      make(map[uuid.UUID]*models.Brand),
		Prompts:     make(map[uuid.UUID]*models.Prompt),
		Reports:     make(map[uuid.UUID]*models.Report),
		Jobs:        make(map[uuid.UUID]*models.Job),
		Accounts:    make(map[uuid.UUID]*models.Account),
		Batches:     make(map[uuid.UUID]*models.ScheduledBatch),
		Onboardings: make(map[uuid.UUID]*models.Onboarding),
		Answers:     make(map[uuid.UUID]*models.Answer),
		Citations:   make(map[uuid.UUID]*models.Citation),
		Keys:        make(map[uuid.UUID]*models.APIKey),
	}
}

func (m *Memory) Ping(_ context.Context) error { return m.Err }

// --- Brands ---

func (m *Memory) CreateBrand(_ context.Context, brand *models.Brand) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *brand
	m.Brands[brand.ID] = &cp
	return nil
}

func (m *Memory) GetBrand(_ context.Context, id uuid.UUID) (*models.Brand, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Brands[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *Memory) ListBrands(_ context.Context) ([]*models.Brand, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Brand
	for _, b := range m.Brands {
		cp := *b
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) CreatePrompt(_ context.Context, prompt *models.Prompt) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *prompt
	m.Prompts[prompt.ID] = &cp
	return nil
}

func (m *Memory) ListPromptsByBrand(_ context.Context, brandID uuid.UUID) ([]*models.Prompt, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Prompt
	for _, p := range m.Prompts {
		if p.BrandID == brandID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

// --- Reports ---

func (m *Memory) CreateReport(_ context.Context, report *models.Report) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Reports {
		if r.BrandID == report.BrandID && sameDay(r.ReportDate, report.ReportDate) {
			return store.ErrDuplicateKey
		}
	}
	cp := *report
	m.Reports[report.ID] = &cp
	return nil
}

func (m *Memory) GetReport(_ context.Context, id uuid.UUID) (*models.Report, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Reports[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) ListReports(_ context.Context, filter store.ReportFilter) ([]*models.Report, int, error) {
	if m.Err != nil {
		return nil, 0, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Report
	for _, r := range m.Reports {
		if filter.BrandID != uuid.Nil && r.BrandID != filter.BrandID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReportDate.After(out[j].ReportDate) })
	return out, len(out), nil
}

func (m *Memory) SetReportCurrentJob(_ context.Context, id uuid.UUID, jobID *uuid.UUID) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Reports[id]
	if !ok {
		return store.ErrNotFound
	}
	r.CurrentJobID = jobID
	return nil
}

func (m *Memory) AdvanceReportStage(_ context.Context, id uuid.UUID, stage models.Stage) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Reports[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Stage = stage
	return nil
}

func (m *Memory) CompleteReport(_ context.Context, id uuid.UUID) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Reports[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Status = models.ReportStatusCompleted
	r.Stage = models.StageCompleted
	r.CurrentJobID = nil
	return nil
}

func (m *Memory) FailReport(_ context.Context, id uuid.UUID) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Reports[id]
	if !ok {
		return store.ErrNotFound
	}
	r.Status = models.ReportStatusFailed
	r.CurrentJobID = nil
	return nil
}

func (m *Memory) AddReportCounters(_ context.Context, id uuid.UUID, d store.ReportCounters) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.Reports[id]
	if !ok {
		return store.ErrNotFound
	}
	r.PromptsTotal += d.Prompts
	r.AnswersTotal += d.Answers
	r.MentionsTotal += d.Mentions
	r.CitationsTotal += d.Citations
	r.ClassifiedTotal += d.Classified
	r.ExtractedTotal += d.Extracted
	return nil
}

// --- Jobs ---

func (m *Memory) CreateJob(_ context.Context, job *models.Job) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.Jobs[job.ID] = &cp
	return nil
}

func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.Jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *Memory) ListJobsByReport(_ context.Context, reportID uuid.UUID) ([]*models.Job, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, j := range m.Jobs {
		if j.ReportID == reportID {
			cp := *j
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ClaimDueJobs(_ context.Context, now time.Time, limit int) ([]*models.Job, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*models.Job
	for _, j := range m.Jobs {
		if j.Status == models.JobStatusPending && !j.ScheduledAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	var out []*models.Job
	for _, j := range due {
		j.Status = models.JobStatusRunning
		j.Attempts++
		started := now
		j.StartedAt = &started
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (m *Memory) CompleteJob(_ context.Context, id uuid.UUID, output json.RawMessage) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.Jobs[id]
	if !ok || j.Status != models.JobStatusRunning {
		return store.ErrNotFound
	}
	j.Status = models.JobStatusCompleted
	j.ProcessingData = output
	done := time.Now().UTC()
	j.CompletedAt = &done
	return nil
}

func (m *Memory) FailJob(_ context.Context, id uuid.UUID, errMsg string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.Jobs[id]
	if !ok || j.Status != models.JobStatusRunning {
		return store.ErrNotFound
	}
	j.Status = models.JobStatusFailed
	j.ErrorMessage = &errMsg
	done := time.Now().UTC()
	j.CompletedAt = &done
	return nil
}

func (m *Memory) DeferJob(_ context.Context, id uuid.UUID, until time.Time) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.Jobs[id]
	if !ok || j.Status != models.JobStatusRunning {
		return store.ErrNotFound
	}
	j.Status = models.JobStatusPending
	j.ScheduledAt = until
	if j.Attempts > 0 {
		j.Attempts--
	}
	j.StartedAt = nil
	return nil
}

// --- Accounts ---

func (m *Memory) CreateAccount(_ context.Context, account *models.Account) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *account
	m.Accounts[account.ID] = &cp
	return nil
}

func (m *Memory) GetAccount(_ context.Context, id uuid.UUID) (*models.Account, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *Memory) ListAccounts(_ context.Context) ([]*models.Account, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Account
	for _, a := range m.Accounts {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListEligibleAccounts(_ context.Context) ([]*models.Account, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Account
	for _, a := range m.Accounts {
		if a.Eligible {
			cp := *a
			out = append(out, &cp)
		}
	}
	// Oldest last_used_at first, never-used before everything.
	sort.Slice(out, func(i, j int) bool {
		li, lj := out[i].LastUsedAt, out[j].LastUsedAt
		switch {
		case li == nil && lj == nil:
			return out[i].ID.String() < out[j].ID.String()
		case li == nil:
			return true
		case lj == nil:
			return false
		default:
			return li.Before(*lj)
		}
	})
	return out, nil
}

func (m *Memory) SetAccountEligible(_ context.Context, id uuid.UUID, eligible bool) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Eligible = eligible
	return nil
}

func (m *Memory) TouchAccountUsed(_ context.Context, id uuid.UUID, usedAt time.Time) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	a.LastUsedAt = &usedAt
	return nil
}

// --- Batches and onboardings ---

func (m *Memory) CreateBatch(_ context.Context, batch *models.ScheduledBatch) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *batch
	m.Batches[batch.ID] = &cp
	return nil
}

func (m *Memory) ListActiveBatches(_ context.Context) ([]*models.ScheduledBatch, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ScheduledBatch
	for _, b := range m.Batches {
		if b.Status == models.BatchStatusScheduled || b.Status == models.BatchStatusRunning {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecuteAt.Before(out[j].ExecuteAt) })
	return out, nil
}

func (m *Memory) StartBatch(_ context.Context, id uuid.UUID, accountID uuid.UUID) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Batches[id]
	if !ok || b.Status != models.BatchStatusScheduled {
		return store.ErrNotFound
	}
	b.Status = models.BatchStatusRunning
	b.AccountID = &accountID
	return nil
}

func (m *Memory) CompleteBatch(_ context.Context, id uuid.UUID) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.Batches[id]
	if !ok {
		return store.ErrNotFound
	}
	b.Status = models.BatchStatusCompleted
	return nil
}

func (m *Memory) CreateOnboarding(_ context.Context, ob *models.Onboarding) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ob
	m.Onboardings[ob.ID] = &cp
	return nil
}

func (m *Memory) ListRunningOnboardings(_ context.Context) ([]*models.Onboarding, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Onboarding
	for _, o := range m.Onboardings {
		if o.Status == models.OnboardingStatusRunning {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateOnboardingProgress(_ context.Context, id uuid.UUID, accountID *uuid.UUID, remaining int) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.Onboardings[id]
	if !ok {
		return store.ErrNotFound
	}
	o.AccountID = accountID
	o.Remaining = remaining
	return nil
}

func (m *Memory) CompleteOnboarding(_ context.Context, id uuid.UUID) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.Onboardings[id]
	if !ok {
		return store.ErrNotFound
	}
	o.Status = models.OnboardingStatusCompleted
	o.Remaining = 0
	return nil
}

// --- Answers and citations ---

func (m *Memory) CreateAnswer(_ context.Context, answer *models.Answer) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *answer
	m.Answers[answer.ID] = &cp
	return nil
}

func (m *Memory) ListAnswersByReport(_ context.Context, reportID uuid.UUID) ([]*models.Answer, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.listAnswers(reportID, false), nil
}

func (m *Memory) ListUnclassifiedAnswers(_ context.Context, reportID uuid.UUID) ([]*models.Answer, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.listAnswers(reportID, true), nil
}

func (m *Memory) listAnswers(reportID uuid.UUID, unclassifiedOnly bool) []*models.Answer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Answer
	for _, a := range m.Answers {
		if a.ReportID != reportID {
			continue
		}
		if unclassifiedOnly && (a.Label != nil || a.ErrorMessage != nil) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

func (m *Memory) SetAnswerLabel(_ context.Context, id uuid.UUID, label string, confidence float64) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.Answers[id]
	if !ok {
		return store.ErrNotFound
	}
	a.Label = &label
	a.LabelConfidence = &confidence
	return nil
}

func (m *Memory) CreateCitation(_ context.Context, citation *models.Citation) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *citation
	m.Citations[citation.ID] = &cp
	return nil
}

func (m *Memory) ListCitationsByReport(_ context.Context, reportID uuid.UUID) ([]*models.Citation, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.listCitations(reportID, false), nil
}

func (m *Memory) ListUnresolvedCitations(_ context.Context, reportID uuid.UUID) ([]*models.Citation, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.listCitations(reportID, true), nil
}

func (m *Memory) listCitations(reportID uuid.UUID, unresolvedOnly bool) []*models.Citation {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Citation
	for _, c := range m.Citations {
		if c.ReportID != reportID {
			continue
		}
		if unresolvedOnly && (c.Resolved || c.ErrorMessage != nil) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Memory) ResolveCitation(_ context.Context, id uuid.UUID, title, excerpt string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Citations[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Resolved = true
	c.Title = &title
	c.Excerpt = &excerpt
	return nil
}

func (m *Memory) FailCitation(_ context.Context, id uuid.UUID, errMsg string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Citations[id]
	if !ok {
		return store.ErrNotFound
	}
	c.ErrorMessage = &errMsg
	return nil
}

// --- API keys ---

func (m *Memory) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.Keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.Keys[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now
	return nil
}

func (m *Memory) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *key
	m.Keys[key.ID] = &cp
	return nil
}

func (m *Memory) ListAPIKeys(_ context.Context) ([]*models.APIKey, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.APIKey
	for _, k := range m.Keys {
		if k.DeletedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.Keys[id]
	if !ok || k.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Compile-time check that Memory implements store.Store.
var _ store.Store = (*Memory)(nil)
