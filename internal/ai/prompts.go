package ai

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed prompts/enrichment.txt
var defaultEnrichmentPrompt string

// SettingEnrichmentPrompt is the system setting that overrides the
// enrichment prompt at runtime.
const SettingEnrichmentPrompt = "prompt_enrichment"

// SettingsReader is the subset of the settings store the loader needs.
type SettingsReader interface {
	GetSetting(ctx context.Context, key string) (string, error)
}

// PromptLoader handles 3-tier prompt loading: embedded -> config -> database
type PromptLoader struct {
	settings       SettingsReader
	configTemplate string
}

// NewPromptLoader creates a new prompt loader. Either argument may be empty.
func NewPromptLoader(settings SettingsReader, configTemplate string) *PromptLoader {
	return &PromptLoader{
		settings:       settings,
		configTemplate: configTemplate,
	}
}

// EnrichmentPrompt returns the enrichment template.
// Priority: database setting -> config file -> embedded default
func (pl *PromptLoader) EnrichmentPrompt(ctx context.Context) (string, error) {
	if pl.settings != nil {
		if v, err := pl.settings.GetSetting(ctx, SettingEnrichmentPrompt); err == nil && strings.TrimSpace(v) != "" {
			return v, nil
		}
	}
	if strings.TrimSpace(pl.configTemplate) != "" {
		return pl.configTemplate, nil
	}
	return defaultEnrichmentPrompt, nil
}

// ExecutePrompt renders a prompt template with the given data
func ExecutePrompt(promptTemplate string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Parse(promptTemplate)
	if err != nil {
		return "", fmt.Errorf("failed to parse prompt template: %w", err)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}

	return buf.String(), nil
}
