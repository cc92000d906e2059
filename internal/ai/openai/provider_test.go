package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Korner-san/bevisible/internal/ai/openai"
	"github.com/Korner-san/bevisible/internal/ai/prompt"
	"github.com/Korner-san/bevisible/internal/config"
	"github.com/Korner-san/bevisible/pkg/models"
)

func req() models.ClassifyRequest {
	return models.ClassifyRequest{
		BrandName: "Acme",
		Answers:   []models.AnswerText{{ID: "a1", Prompt: "q", Response: "Acme rocks"}},
	}
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	})
	return string(b)
}

func TestClassify(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completion(`[{"answer_id":"a1","label":"recommendation","confidence":0.93}]`)))
	}))
	defer srv.Close()

	p := openai.NewProvider(config.OpenAIConfig{APIKey: "sk-test", Model: "gpt-4o-mini", BaseURL: srv.URL})
	results, err := p.Classify(context.Background(), req())
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "recommendation", results[0].Label)
	assert.Equal(t, 0.93, results[0].Confidence)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "gpt-4o-mini", gotBody["model"])
}

func TestClassify_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := openai.NewProvider(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	_, err := p.Classify(context.Background(), req())
	assert.ErrorIs(t, err, prompt.ErrProviderUnavailable)
}

func TestClassify_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := openai.NewProvider(config.OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL})
	_, err := p.Classify(context.Background(), req())
	assert.ErrorIs(t, err, prompt.ErrInvalidResponse)
}
