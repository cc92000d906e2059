package batch_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Korner-san/bevisible/internal/batch"
	"github.com/Korner-san/bevisible/internal/config"
	"github.com/Korner-san/bevisible/internal/stages"
	"github.com/Korner-san/bevisible/internal/store"
	"github.com/Korner-san/bevisible/internal/store/storetest"
	"github.com/Korner-san/bevisible/pkg/models"
	"github.com/Korner-san/bevisible/pkg/prompts"
)

var testNow = time.Date(2026, 3, 14, 2, 0, 0, 0, time.UTC)

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newPlanner(t *testing.T) (*batch.Planner, *storetest.Memory) {
	t.Helper()
	st := storetest.New()
	log := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	p := batch.New(st, config.BatchConfig{NightlyCron: "0 2 * * *", Stagger: 20 * time.Minute}, log)
	p.SetNow(func() time.Time { return testNow })
	return p, st
}

func addBrand(t *testing.T, st *storetest.Memory, name string, promptCount int) *models.Brand {
	t.Helper()
	b := &models.Brand{ID: uuid.New(), Name: name, Domain: name + ".example", CreatedAt: testNow}
	require.NoError(t, st.CreateBrand(context.Background(), b))
	for i := 0; i < promptCount; i++ {
		require.NoError(t, st.CreatePrompt(context.Background(), &models.Prompt{
			ID: uuid.New(), BrandID: b.ID, Position: i, Text: "question about {{brand}}",
		}))
	}
	return b
}

func TestPlanNight_OneBatchPerBrandStaggered(t *testing.T) {
	p, st := newPlanner(t)
	ctx := context.Background()
	addBrand(t, st, "acme", 6)
	addBrand(t, st, "nova", 4)
	addBrand(t, st, "zeta", 2)

	require.NoError(t, p.PlanNight(ctx))

	batches, err := st.ListActiveBatches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 3)

	// Slots 20 minutes apart so the batches queue up rather than collide.
	assert.Equal(t, testNow, batches[0].ExecuteAt)
	assert.Equal(t, testNow.Add(20*time.Minute), batches[1].ExecuteAt)
	assert.Equal(t, testNow.Add(40*time.Minute), batches[2].ExecuteAt)
	for _, b := range batches {
		assert.Equal(t, models.BatchStatusScheduled, b.Status)
		assert.Nil(t, b.AccountID, "accounts bind at execution, not at planning")
	}

	reports, total, err := st.ListReports(ctx, store.ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	for _, r := range reports {
		assert.Equal(t, models.ReportStatusRunning, r.Status)
		assert.Equal(t, models.StageQuery, r.Stage)
	}
}

func TestPlanNight_JobDueAtBatchSlot(t *testing.T) {
	p, st := newPlanner(t)
	ctx := context.Background()
	addBrand(t, st, "acme", 6)
	addBrand(t, st, "nova", 4)

	require.NoError(t, p.PlanNight(ctx))

	// Only the first brand's job is due at planning time.
	due, err := st.ClaimDueJobs(ctx, testNow, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, models.StageQuery, due[0].Stage)

	var input stages.QueryInput
	require.NoError(t, json.Unmarshal(due[0].ProcessingData, &input))
	require.NotNil(t, input.BatchID)
	assert.Nil(t, input.OnboardingID)

	later, err := st.ClaimDueJobs(ctx, testNow.Add(20*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, later, 1)
}

func TestPlanNight_BatchSizeTracksPromptCount(t *testing.T) {
	p, st := newPlanner(t)
	ctx := context.Background()
	addBrand(t, st, "acme", 7)

	require.NoError(t, p.PlanNight(ctx))

	batches, err := st.ListActiveBatches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, 7, batches[0].Size)
}

func TestPlanNight_DefaultSetSizesNewBrand(t *testing.T) {
	p, st := newPlanner(t)
	ctx := context.Background()
	addBrand(t, st, "fresh", 0)

	require.NoError(t, p.PlanNight(ctx))

	batches, err := st.ListActiveBatches(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, len(prompts.DefaultSet), batches[0].Size)
}

func TestPlanNight_RerunSkipsPlannedBrands(t *testing.T) {
	p, st := newPlanner(t)
	ctx := context.Background()
	addBrand(t, st, "acme", 6)

	require.NoError(t, p.PlanNight(ctx))
	require.NoError(t, p.PlanNight(ctx), "second run must not error on the duplicate report")

	batches, err := st.ListActiveBatches(ctx)
	require.NoError(t, err)
	assert.Len(t, batches, 1, "no duplicate batch planned")

	_, total, err := st.ListReports(ctx, store.ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestStartOnboarding_QueuesImmediateJob(t *testing.T) {
	p, st := newPlanner(t)
	ctx := context.Background()
	brand := addBrand(t, st, "fresh", 0)

	ob, report, err := p.StartOnboarding(ctx, brand.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OnboardingStatusRunning, ob.Status)
	assert.Equal(t, len(prompts.DefaultSet), ob.Remaining)
	assert.Nil(t, ob.AccountID)
	assert.Equal(t, models.StageQuery, report.Stage)

	due, err := st.ClaimDueJobs(ctx, testNow, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, report.ID, due[0].ReportID)

	var input stages.QueryInput
	require.NoError(t, json.Unmarshal(due[0].ProcessingData, &input))
	require.NotNil(t, input.OnboardingID)
	assert.Equal(t, ob.ID, *input.OnboardingID)
}

func TestStartOnboarding_SecondReportSameDayRejected(t *testing.T) {
	p, st := newPlanner(t)
	brand := addBrand(t, st, "fresh", 0)

	_, _, err := p.StartOnboarding(context.Background(), brand.ID)
	require.NoError(t, err)
	_, _, err = p.StartOnboarding(context.Background(), brand.ID)
	require.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestStartOnboarding_UnknownBrand(t *testing.T) {
	p, _ := newPlanner(t)
	_, _, err := p.StartOnboarding(context.Background(), uuid.New())
	require.ErrorIs(t, err, store.ErrNotFound)
}
