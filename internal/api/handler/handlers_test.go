package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Korner-san/bevisible/internal/cache"
	"github.com/Korner-san/bevisible/internal/cache/cachetest"
	"github.com/Korner-san/bevisible/internal/scheduler"
	"github.com/Korner-san/bevisible/internal/store"
	"github.com/Korner-san/bevisible/internal/store/storetest"
	"github.com/Korner-san/bevisible/pkg/models"
)

// --- stub planner ---

type stubPlanner struct {
	createFn func(ctx context.Context, brandID uuid.UUID) (*models.Report, error)
	startFn  func(ctx context.Context, brandID uuid.UUID) (*models.Onboarding, *models.Report, error)
}

func (s *stubPlanner) CreateAdHocReport(ctx context.Context, brandID uuid.UUID) (*models.Report, error) {
	return s.createFn(ctx, brandID)
}

func (s *stubPlanner) StartOnboarding(ctx context.Context, brandID uuid.UUID) (*models.Onboarding, *models.Report, error) {
	return s.startFn(ctx, brandID)
}

// --- helpers ---

func jsonReq(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	r := httptest.NewRequest(method, target, &buf)
	r.Header.Set("Content-Type", "application/json")
	return r
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, wantStatus int) map[string]any {
	t.Helper()
	if rec.Code != wantStatus {
		t.Fatalf("expected %d, got %d: %s", wantStatus, rec.Code, rec.Body.String())
	}
	var env struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Data
}

func decodeErrCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return env.Error.Code
}

func seedBrandAndReport(t *testing.T, st *storetest.Memory) (*models.Brand, *models.Report) {
	t.Helper()
	ctx := context.Background()
	brand := &models.Brand{ID: uuid.New(), Name: "Acme", Domain: "acme.example"}
	if err := st.CreateBrand(ctx, brand); err != nil {
		t.Fatal(err)
	}
	report := &models.Report{
		ID: uuid.New(), BrandID: brand.ID,
		ReportDate: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Status:     models.ReportStatusRunning, Stage: models.StageQuery,
	}
	if err := st.CreateReport(ctx, report); err != nil {
		t.Fatal(err)
	}
	return brand, report
}

// --- health ---

func TestHealthHandler(t *testing.T) {
	st := storetest.New()
	ch := cachetest.New()

	rec := httptest.NewRecorder()
	NewHealthHandler(st, ch)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	data := decodeData(t, rec, http.StatusOK)
	if data["postgres"] != "up" || data["redis"] != "up" {
		t.Fatalf("unexpected body: %v", data)
	}
}

func TestHealthHandler_RedisDown(t *testing.T) {
	st := storetest.New()
	ch := cachetest.New()
	ch.Err = errors.New("connection refused")

	rec := httptest.NewRecorder()
	NewHealthHandler(st, ch)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if code := decodeErrCode(t, rec); code != "DEGRADED" {
		t.Fatalf("expected DEGRADED, got %s", code)
	}
}

// --- reports ---

func TestCreateReportHandler(t *testing.T) {
	brandID := uuid.New()
	planner := &stubPlanner{createFn: func(_ context.Context, id uuid.UUID) (*models.Report, error) {
		if id != brandID {
			t.Fatalf("wrong brand id: %s", id)
		}
		return &models.Report{ID: uuid.New(), BrandID: id, Status: models.ReportStatusRunning, Stage: models.StageQuery}, nil
	}}

	rec := httptest.NewRecorder()
	NewCreateReportHandler(planner)(rec, jsonReq(t, http.MethodPost, "/api/v1/reports", map[string]string{"brand_id": brandID.String()}))

	data := decodeData(t, rec, http.StatusCreated)
	if data["status"] != models.ReportStatusRunning {
		t.Fatalf("unexpected report: %v", data)
	}
}

func TestCreateReportHandler_Duplicate(t *testing.T) {
	planner := &stubPlanner{createFn: func(context.Context, uuid.UUID) (*models.Report, error) {
		return nil, store.ErrDuplicateKey
	}}

	rec := httptest.NewRecorder()
	NewCreateReportHandler(planner)(rec, jsonReq(t, http.MethodPost, "/api/v1/reports", map[string]string{"brand_id": uuid.NewString()}))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if code := decodeErrCode(t, rec); code != "REPORT_EXISTS" {
		t.Fatalf("expected REPORT_EXISTS, got %s", code)
	}
}

func TestCreateReportHandler_BadBrandID(t *testing.T) {
	rec := httptest.NewRecorder()
	NewCreateReportHandler(&stubPlanner{})(rec, jsonReq(t, http.MethodPost, "/api/v1/reports", map[string]string{"brand_id": "nope"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func getReport(t *testing.T, h http.HandlerFunc, id string) *httptest.ResponseRecorder {
	t.Helper()
	r := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+id, nil), "reportID", id)
	rec := httptest.NewRecorder()
	h(rec, r)
	return rec
}

func TestGetReportHandler(t *testing.T) {
	st := storetest.New()
	_, report := seedBrandAndReport(t, st)

	rec := getReport(t, NewGetReportHandler(st, cachetest.New()), report.ID.String())

	data := decodeData(t, rec, http.StatusOK)
	if data["id"] != report.ID.String() {
		t.Fatalf("wrong report: %v", data)
	}
}

func TestGetReportHandler_NotFound(t *testing.T) {
	rec := getReport(t, NewGetReportHandler(storetest.New(), cachetest.New()), uuid.NewString())

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestGetReportHandler_CachesTerminalReports(t *testing.T) {
	st := storetest.New()
	ch := cachetest.New()
	_, report := seedBrandAndReport(t, st)
	report.Status = models.ReportStatusCompleted
	st.Reports[report.ID] = report

	h := NewGetReportHandler(st, ch)
	decodeData(t, getReport(t, h, report.ID.String()), http.StatusOK)

	// Second read must come from the cache: drop the row and read again.
	delete(st.Reports, report.ID)
	data := decodeData(t, getReport(t, h, report.ID.String()), http.StatusOK)
	if data["id"] != report.ID.String() {
		t.Fatalf("wrong report from cache: %v", data)
	}
}

func TestGetReportHandler_RunningReportsNotCached(t *testing.T) {
	st := storetest.New()
	ch := cachetest.New()
	_, report := seedBrandAndReport(t, st)

	h := NewGetReportHandler(st, ch)
	decodeData(t, getReport(t, h, report.ID.String()), http.StatusOK)

	if _, ok, err := ch.Get(context.Background(), cache.ReportStatusKey(report.ID)); err != nil || ok {
		t.Fatalf("running report must not be cached (ok=%v err=%v)", ok, err)
	}
}

func TestListReportsHandler_StatusFilter(t *testing.T) {
	st := storetest.New()
	_, report := seedBrandAndReport(t, st)
	if err := st.CompleteReport(context.Background(), report.ID); err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	NewListReportsHandler(st)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports?status=completed", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var env struct {
		Data []map[string]any `json:"data"`
		Meta struct {
			Total int `json:"total"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if env.Meta.Total != 1 || len(env.Data) != 1 {
		t.Fatalf("expected one completed report, got %+v", env)
	}
}

func TestListReportsHandler_RejectsBadStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	NewListReportsHandler(storetest.New())(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports?status=bogus", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListReportJobsHandler(t *testing.T) {
	st := storetest.New()
	_, report := seedBrandAndReport(t, st)
	job := &models.Job{
		ID: uuid.New(), ReportID: report.ID, Stage: models.StageQuery,
		Status: models.JobStatusPending, MaxAttempts: models.DefaultMaxAttempts,
	}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatal(err)
	}

	r := withURLParam(httptest.NewRequest(http.MethodGet, "/api/v1/reports/"+report.ID.String()+"/jobs", nil), "reportID", report.ID.String())
	rec := httptest.NewRecorder()
	NewListReportJobsHandler(st)(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var env struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&env); err != nil {
		t.Fatal(err)
	}
	if len(env.Data) != 1 || env.Data[0]["id"] != job.ID.String() {
		t.Fatalf("unexpected jobs: %v", env.Data)
	}
}

// --- onboardings ---

func TestStartOnboardingHandler_ByBrandID(t *testing.T) {
	st := storetest.New()
	brand, _ := seedBrandAndReport(t, st)
	planner := &stubPlanner{startFn: func(_ context.Context, id uuid.UUID) (*models.Onboarding, *models.Report, error) {
		return &models.Onboarding{ID: uuid.New(), BrandID: id, Remaining: 5, Status: models.OnboardingStatusRunning},
			&models.Report{ID: uuid.New(), BrandID: id, Status: models.ReportStatusRunning, Stage: models.StageQuery}, nil
	}}

	rec := httptest.NewRecorder()
	NewStartOnboardingHandler(st, planner)(rec, jsonReq(t, http.MethodPost, "/api/v1/onboardings", map[string]string{"brand_id": brand.ID.String()}))

	data := decodeData(t, rec, http.StatusCreated)
	if data["onboarding"] == nil || data["report"] == nil {
		t.Fatalf("unexpected body: %v", data)
	}
}

func TestStartOnboardingHandler_RegistersBrand(t *testing.T) {
	st := storetest.New()
	var gotBrand uuid.UUID
	planner := &stubPlanner{startFn: func(_ context.Context, id uuid.UUID) (*models.Onboarding, *models.Report, error) {
		gotBrand = id
		return &models.Onboarding{ID: uuid.New(), BrandID: id, Status: models.OnboardingStatusRunning},
			&models.Report{ID: uuid.New(), BrandID: id}, nil
	}}

	rec := httptest.NewRecorder()
	NewStartOnboardingHandler(st, planner)(rec, jsonReq(t, http.MethodPost, "/api/v1/onboardings", map[string]any{
		"name": "NovaCart", "domain": "novacart.example", "aliases": []string{"Nova"},
	}))

	decodeData(t, rec, http.StatusCreated)

	created, err := st.GetBrand(context.Background(), gotBrand)
	if err != nil {
		t.Fatalf("brand not stored: %v", err)
	}
	if created.Name != "NovaCart" || created.Domain != "novacart.example" {
		t.Fatalf("unexpected brand: %+v", created)
	}
}

func TestStartOnboardingHandler_MissingFields(t *testing.T) {
	rec := httptest.NewRecorder()
	NewStartOnboardingHandler(storetest.New(), &stubPlanner{})(rec, jsonReq(t, http.MethodPost, "/api/v1/onboardings", map[string]string{"name": "solo"}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// --- capacity ---

type stubProber struct {
	status *scheduler.Status
	err    error
}

func (s *stubProber) Snapshot(context.Context, time.Time) (*scheduler.Status, error) {
	return s.status, s.err
}

func TestCapacityHandler(t *testing.T) {
	prober := &stubProber{status: &scheduler.Status{Eligible: 3, Busy: 1, Reserved: 1, Free: 1}}

	rec := httptest.NewRecorder()
	NewCapacityHandler(prober)(rec, httptest.NewRequest(http.MethodGet, "/api/v1/capacity", nil))

	data := decodeData(t, rec, http.StatusOK)
	if data["free"] != float64(1) || data["eligible"] != float64(3) {
		t.Fatalf("unexpected snapshot: %v", data)
	}
}

// --- accounts ---

func TestUpdateAccountHandler_TogglesEligibility(t *testing.T) {
	st := storetest.New()
	account := &models.Account{ID: uuid.New(), Label: "worker-1", SessionToken: "tok", Eligible: false}
	if err := st.CreateAccount(context.Background(), account); err != nil {
		t.Fatal(err)
	}

	eligible := true
	r := withURLParam(jsonReq(t, http.MethodPatch, "/api/v1/accounts/"+account.ID.String(), map[string]any{"eligible": eligible}), "accountID", account.ID.String())
	rec := httptest.NewRecorder()
	NewUpdateAccountHandler(st)(rec, r)

	data := decodeData(t, rec, http.StatusOK)
	if data["eligible"] != true {
		t.Fatalf("account not re-enabled: %v", data)
	}
}

func TestUpdateAccountHandler_RequiresEligible(t *testing.T) {
	st := storetest.New()
	id := uuid.NewString()
	r := withURLParam(jsonReq(t, http.MethodPatch, "/api/v1/accounts/"+id, map[string]any{}), "accountID", id)
	rec := httptest.NewRecorder()
	NewUpdateAccountHandler(st)(rec, r)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

// --- keys ---

func TestCreateKeyHandler_ReturnsRawKeyOnce(t *testing.T) {
	st := storetest.New()

	rec := httptest.NewRecorder()
	NewCreateKeyHandler(st)(rec, jsonReq(t, http.MethodPost, "/api/v1/admin/keys", map[string]any{
		"name": "dashboard", "scopes": []string{"read", "admin"},
	}))

	data := decodeData(t, rec, http.StatusCreated)
	raw, _ := data["raw_key"].(string)
	if !strings.HasPrefix(raw, rawKeyPrefix) {
		t.Fatalf("raw key missing prefix: %q", raw)
	}

	keyData, _ := data["key"].(map[string]any)
	if keyData["key_prefix"] != raw[:keyPrefixLen] {
		t.Fatalf("prefix mismatch: %v vs %s", keyData["key_prefix"], raw[:keyPrefixLen])
	}
	if _, leaked := keyData["key_hash"]; leaked {
		t.Fatal("key hash must not appear in responses")
	}
}

func TestCreateKeyHandler_RejectsUnknownScope(t *testing.T) {
	rec := httptest.NewRecorder()
	NewCreateKeyHandler(storetest.New())(rec, jsonReq(t, http.MethodPost, "/api/v1/admin/keys", map[string]any{
		"name": "x", "scopes": []string{"superuser"},
	}))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRevokeKeyHandler(t *testing.T) {
	st := storetest.New()
	key := &models.APIKey{ID: uuid.New(), Name: "old", KeyHash: "h", KeyPrefix: "bv_12345", Scopes: []string{"read"}}
	if err := st.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatal(err)
	}

	r := withURLParam(httptest.NewRequest(http.MethodDelete, "/api/v1/admin/keys/"+key.ID.String(), nil), "keyID", key.ID.String())
	rec := httptest.NewRecorder()
	NewRevokeKeyHandler(st)(rec, r)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}

	keys, err := st.ListAPIKeys(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 0 {
		t.Fatalf("revoked key still listed: %v", keys)
	}
}
