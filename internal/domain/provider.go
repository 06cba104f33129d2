package domain

import (
	"fmt"
	"strings"
)

// Provider identifies the LLM vendor whose API key an agent uses.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGoogle    Provider = "google"
)

// IsValid checks if the provider is supported.
func (p Provider) IsValid() bool {
	_, ok := modelFamilies[p]
	return ok
}

// modelFamilies maps each provider to the model name roots it serves.
// A model matches a root when it equals it or continues with "-".
var modelFamilies = map[Provider][]string{
	ProviderOpenAI:    {"gpt", "o1", "o3", "o4"},
	ProviderAnthropic: {"claude"},
	ProviderGoogle:    {"gemini"},
}

// ProviderForModel returns the provider whose model family contains model.
// Qualified references such as "openai/gpt-4o" resolve through their prefix.
func ProviderForModel(model string) (Provider, bool) {
	name := strings.ToLower(strings.TrimSpace(model))
	if prefix, rest, ok := strings.Cut(name, "/"); ok {
		p := Provider(prefix)
		if !p.IsValid() || !matchesFamily(p, rest) {
			return "", false
		}
		return p, true
	}
	for p := range modelFamilies {
		if matchesFamily(p, name) {
			return p, true
		}
	}
	return "", false
}

func matchesFamily(p Provider, name string) bool {
	for _, root := range modelFamilies[p] {
		if name == root || strings.HasPrefix(name, root+"-") {
			return true
		}
	}
	return false
}

// ValidateModelProvider rejects a model reference that the provider cannot serve.
func ValidateModelProvider(p Provider, model string) error {
	if !p.IsValid() {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, p)
	}
	owner, ok := ProviderForModel(model)
	if !ok {
		return fmt.Errorf("%w: model %q is not served by %s", ErrModelProviderMismatch, model, p)
	}
	if owner != p {
		return fmt.Errorf("%w: model %q belongs to %s, not %s", ErrModelProviderMismatch, model, owner, p)
	}
	return nil
}
