package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderForModel(t *testing.T) {
	tests := []struct {
		model string
		want  Provider
		ok    bool
	}{
		{"gpt-4o", ProviderOpenAI, true},
		{"GPT-4o-mini", ProviderOpenAI, true},
		{"o3-mini", ProviderOpenAI, true},
		{"o1", ProviderOpenAI, true},
		{"claude-3-5-sonnet", ProviderAnthropic, true},
		{"gemini-1.5-pro", ProviderGoogle, true},
		{"openai/gpt-4o", ProviderOpenAI, true},
		{"anthropic/claude-opus-4", ProviderAnthropic, true},
		{"openai/claude-3", "", false},
		{"mistral/gpt-4o", "", false},
		{"gpt4", "", false},
		{"llama-3", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, ok := ProviderForModel(tt.model)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateModelProvider(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		model    string
		wantErr  error
	}{
		{"match", ProviderOpenAI, "gpt-4o", nil},
		{"qualified match", ProviderGoogle, "google/gemini-2.0-flash", nil},
		{"other family", ProviderAnthropic, "gpt-4o", ErrModelProviderMismatch},
		{"unknown model", ProviderOpenAI, "llama-3", ErrModelProviderMismatch},
		{"unknown provider", Provider("mistral"), "gpt-4o", ErrUnknownProvider},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateModelProvider(tt.provider, tt.model)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}
