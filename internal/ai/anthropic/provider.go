// Package anthropic implements classification against the Anthropic
// Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Korner-san/bevisible/internal/ai/prompt"
	"github.com/Korner-san/bevisible/internal/config"
	"github.com/Korner-san/bevisible/pkg/models"
)

const (
	messagesURL = "https://api.anthropic.com/v1/messages"
	apiVersion  = "2023-06-01"
	maxTokens   = 4096
)

// Provider implements models.ClassifyProvider using Anthropic.
type Provider struct {
	cfg     config.AnthropicConfig
	client  *http.Client
	baseURL string
}

func NewProvider(cfg config.AnthropicConfig) *Provider {
	return &Provider{cfg: cfg, client: &http.Client{}, baseURL: messagesURL}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Classify(ctx context.Context, req models.ClassifyRequest) ([]models.ClassifyResult, error) {
	instructions, err := prompt.BuildClassify(req)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(messagesRequest{
		Model:     p.cfg.Model,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: instructions}},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, prompt.ClassifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", prompt.ErrProviderUnavailable, resp.StatusCode)
	}

	var msgResp messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&msgResp); err != nil {
		return nil, fmt.Errorf("%w: %v", prompt.ErrInvalidResponse, err)
	}
	var text string
	for _, c := range msgResp.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	if text == "" {
		return nil, fmt.Errorf("%w: no text content", prompt.ErrInvalidResponse)
	}

	return prompt.ParseClassify(text, req)
}


var _ models.ClassifyProvider = (*Provider)(nil)
