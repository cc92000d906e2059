// Package openai implements classification against any OpenAI-compatible
// chat-completions endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/Korner-san/bevisible/internal/ai/prompt"
	"github.com/Korner-san/bevisible/internal/config"
	"github.com/Korner-san/bevisible/pkg/models"
)

// Provider implements models.ClassifyProvider using OpenAI.
type Provider struct {
	cfg    config.OpenAIConfig
	client *http.Client
}

func NewProvider(cfg config.OpenAIConfig) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{}}
}

func (p *Provider) Name() string { return "openai" }

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func (p *Provider) Classify(ctx context.Context, req models.ClassifyRequest) ([]models.ClassifyResult, error) {
	instructions, err := prompt.BuildClassify(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []message{
			{Role: "system", Content: "You are a precise JSON-only classifier."},
			{Role: "user", Content: instructions},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := strings.TrimSuffix(p.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, prompt.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", prompt.ErrProviderUnavailable, resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return nil, fmt.Errorf("%w: %v", prompt.ErrInvalidResponse, err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", prompt.ErrInvalidResponse)
	}

	return prompt.ParseClassify(chatResp.Choices[0].Message.Content, req)
}


var _ models.ClassifyProvider = (*Provider)(nil)
