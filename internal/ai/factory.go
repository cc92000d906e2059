// Package ai selects the classify provider configured for the deployment.
package ai

import (
	"fmt"

	"github.com/Korner-san/bevisible/internal/ai/anthropic"
	"github.com/Korner-san/bevisible/internal/ai/mock"
	"github.com/Korner-san/bevisible/internal/ai/openai"
	"github.com/Korner-san/bevisible/internal/config"
	"github.com/Korner-san/bevisible/pkg/models"
)

// NewProvider constructs the appropriate classify provider based on config.
// Called once at server startup.
func NewProvider(cfg config.AIConfig) (models.ClassifyProvider, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewProvider(cfg.OpenAI), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic), nil
	case "mock":
		return mock.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of openai, anthropic, mock", cfg.Provider)
	}
}
