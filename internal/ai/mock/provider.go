// Package mock provides a scriptable ClassifyProvider for tests and local
// development without an API key.
package mock

import (
	"context"

	"github.com/Korner-san/bevisible/pkg/models"
)

// MockProvider satisfies models.ClassifyProvider for testing.
type MockProvider struct {
	Name_        string
	ClassifyFunc func(ctx context.Context, req models.ClassifyRequest) ([]models.ClassifyResult, error)
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Classify(ctx context.Context, req models.ClassifyRequest) ([]models.ClassifyResult, error) {
	if m.ClassifyFunc != nil {
		return m.ClassifyFunc(ctx, req)
	}
	return nil, nil
}

// NewMockProvider returns a MockProvider that labels every answer as a
// plain mention with fixed confidence.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		ClassifyFunc: func(_ context.Context, req models.ClassifyRequest) ([]models.ClassifyResult, error) {
			results := make([]models.ClassifyResult, 0, len(req.Answers))
			for _, a := range req.Answers {
				results = append(results, models.ClassifyResult{
					AnswerID:   a.ID,
					Label:      "mention",
					Confidence: 0.85,
				})
			}
			return results, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		ClassifyFunc: func(context.Context, models.ClassifyRequest) ([]models.ClassifyResult, error) {
			return nil, err
		},
	}
}

var _ models.ClassifyProvider = (*MockProvider)(nil)
