package stages_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Korner-san/bevisible/internal/ai/mock"
	"github.com/Korner-san/bevisible/internal/ai/prompt"
	"github.com/Korner-san/bevisible/internal/stages"
	"github.com/Korner-san/bevisible/internal/store/storetest"
	"github.com/Korner-san/bevisible/pkg/models"
)

type classifyFixture struct {
	store  *storetest.Memory
	brand  *models.Brand
	report *models.Report
	prompt *models.Prompt
}

func newClassifyFixture(t *testing.T) *classifyFixture {
	t.Helper()
	ctx := context.Background()
	st := storetest.New()

	brand := &models.Brand{ID: uuid.New(), Name: "Acme", Domain: "acme.example"}
	require.NoError(t, st.CreateBrand(ctx, brand))
	p := &models.Prompt{ID: uuid.New(), BrandID: brand.ID, Position: 0, Text: "best tools like Acme?"}
	require.NoError(t, st.CreatePrompt(ctx, p))
	report := &models.Report{ID: uuid.New(), BrandID: brand.ID, ReportDate: testNow, Status: models.ReportStatusRunning, Stage: models.StageClassify}
	require.NoError(t, st.CreateReport(ctx, report))

	return &classifyFixture{store: st, brand: brand, report: report, prompt: p}
}

func (f *classifyFixture) answer(t *testing.T, position int, text string) *models.Answer {
	t.Helper()
	a := &models.Answer{
		ID:           uuid.New(),
		ReportID:     f.report.ID,
		PromptID:     f.prompt.ID,
		Position:     position,
		ResponseText: text,
	}
	require.NoError(t, f.store.CreateAnswer(context.Background(), a))
	return a
}

func classifyJob(reportID uuid.UUID) *models.Job {
	return &models.Job{ID: uuid.New(), ReportID: reportID, Stage: models.StageClassify, Status: models.JobStatusRunning}
}

func TestClassifyStage_LabelsEveryAnswer(t *testing.T) {
	f := newClassifyFixture(t)
	ctx := context.Background()
	f.answer(t, 0, "Acme is great.")
	f.answer(t, 1, "Never heard of it.")

	var got models.ClassifyRequest
	provider := mock.NewMockProvider()
	inner := provider.ClassifyFunc
	provider.ClassifyFunc = func(ctx context.Context, req models.ClassifyRequest) ([]models.ClassifyResult, error) {
		got = req
		return inner(ctx, req)
	}

	stage := stages.NewClassifyStage(f.store, provider, time.Minute, testLogger(t))
	raw, err := stage.Execute(ctx, classifyJob(f.report.ID))
	require.NoError(t, err)

	var out stages.ClassifyOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 2, out.Classified)
	assert.Equal(t, 0, out.Skipped)

	// The provider saw the brand and the prompt text, not just raw answers.
	assert.Equal(t, "Acme", got.BrandName)
	require.Len(t, got.Answers, 2)
	assert.Equal(t, "best tools like Acme?", got.Answers[0].Prompt)

	answers, err := f.store.ListAnswersByReport(ctx, f.report.ID)
	require.NoError(t, err)
	for _, a := range answers {
		require.NotNil(t, a.Label)
		assert.Equal(t, "mention", *a.Label)
	}

	report, err := f.store.GetReport(ctx, f.report.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.ClassifiedTotal)
}

func TestClassifyStage_NoUnclassifiedAnswersIsNoop(t *testing.T) {
	f := newClassifyFixture(t)
	provider := mock.NewFailingProvider(prompt.ErrProviderUnavailable) // would error if called

	stage := stages.NewClassifyStage(f.store, provider, time.Minute, testLogger(t))
	raw, err := stage.Execute(context.Background(), classifyJob(f.report.ID))
	require.NoError(t, err)

	var out stages.ClassifyOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Zero(t, out.Classified)
}

func TestClassifyStage_PerAnswerErrorSkips(t *testing.T) {
	f := newClassifyFixture(t)
	ctx := context.Background()
	good := f.answer(t, 0, "Acme is great.")
	bad := f.answer(t, 1, "garbled")

	provider := mock.NewMockProvider()
	provider.ClassifyFunc = func(_ context.Context, req models.ClassifyRequest) ([]models.ClassifyResult, error) {
		return []models.ClassifyResult{
			{AnswerID: good.ID.String(), Label: "recommendation", Confidence: 0.9},
			{AnswerID: bad.ID.String(), Error: "no label returned"},
		}, nil
	}

	stage := stages.NewClassifyStage(f.store, provider, time.Minute, testLogger(t))
	raw, err := stage.Execute(ctx, classifyJob(f.report.ID))
	require.NoError(t, err)

	var out stages.ClassifyOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, 1, out.Classified)
	assert.Equal(t, 1, out.Skipped)

	labeled, err := f.store.GetReport(ctx, f.report.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, labeled.ClassifiedTotal)
}

func TestClassifyStage_UnknownAnswerIDIgnored(t *testing.T) {
	f := newClassifyFixture(t)
	f.answer(t, 0, "Acme is great.")

	provider := mock.NewMockProvider()
	provider.ClassifyFunc = func(_ context.Context, _ models.ClassifyRequest) ([]models.ClassifyResult, error) {
		return []models.ClassifyResult{{AnswerID: uuid.NewString(), Label: "mention", Confidence: 0.5}}, nil
	}

	stage := stages.NewClassifyStage(f.store, provider, time.Minute, testLogger(t))
	raw, err := stage.Execute(context.Background(), classifyJob(f.report.ID))
	require.NoError(t, err)

	var out stages.ClassifyOutput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Zero(t, out.Classified)
}

func TestClassifyStage_ProviderFailureIsRetryable(t *testing.T) {
	f := newClassifyFixture(t)
	f.answer(t, 0, "Acme is great.")

	stage := stages.NewClassifyStage(f.store, mock.NewFailingProvider(prompt.ErrProviderUnavailable), time.Minute, testLogger(t))
	_, err := stage.Execute(context.Background(), classifyJob(f.report.ID))
	require.Error(t, err)
	assert.ErrorIs(t, err, prompt.ErrProviderUnavailable)

	// The answer stays unlabeled for the retry.
	answers, err2 := f.store.ListUnclassifiedAnswers(context.Background(), f.report.ID)
	require.NoError(t, err2)
	assert.Len(t, answers, 1)
}

func TestClassifyStage_RetryOnlySendsUnlabeled(t *testing.T) {
	f := newClassifyFixture(t)
	ctx := context.Background()
	labeled := f.answer(t, 0, "Acme is great.")
	require.NoError(t, f.store.SetAnswerLabel(ctx, labeled.ID, "mention", 0.9))
	f.answer(t, 1, "Fresh answer.")

	var sent int
	provider := mock.NewMockProvider()
	inner := provider.ClassifyFunc
	provider.ClassifyFunc = func(ctx context.Context, req models.ClassifyRequest) ([]models.ClassifyResult, error) {
		sent = len(req.Answers)
		return inner(ctx, req)
	}

	stage := stages.NewClassifyStage(f.store, provider, time.Minute, testLogger(t))
	_, err := stage.Execute(ctx, classifyJob(f.report.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}
