package ai_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Korner-san/bevisible/internal/ai"
	"github.com/Korner-san/bevisible/internal/config"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantName string
		wantErr  bool
	}{
		{"openai", "openai", "openai", false},
		{"anthropic", "anthropic", "anthropic", false},
		{"mock", "mock", "mock", false},
		{"unknown", "bard", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ai.NewProvider(config.AIConfig{Provider: tt.provider})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, p.Name())
		})
	}
}
