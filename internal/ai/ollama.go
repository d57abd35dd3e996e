package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
)

// maxPromptText bounds how much message text is sent to the model.
const maxPromptText = 4000

// OllamaEnricher implements Enricher against an Ollama server.
type OllamaEnricher struct {
	client  *api.Client
	prompts *PromptLoader
}

// NewOllamaEnricher creates an enricher talking to baseURL. prompts may be
// nil, in which case the embedded prompt is used.
func NewOllamaEnricher(baseURL string, prompts *PromptLoader) (*OllamaEnricher, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if prompts == nil {
		prompts = NewPromptLoader(nil, "")
	}
	return &OllamaEnricher{
		client:  api.NewClient(parsedURL, http.DefaultClient),
		prompts: prompts,
	}, nil
}

// Enrich asks the model to structure text. Transport errors and unparseable
// output are both returned as errors.
func (p *OllamaEnricher) Enrich(ctx context.Context, text string, cfg Config) (*Enrichment, error) {
	tmpl, err := p.prompts.EnrichmentPrompt(ctx)
	if err != nil {
		return nil, err
	}
	prompt, err := ExecutePrompt(tmpl, map[string]string{
		"Text": truncateText(text, maxPromptText),
	})
	if err != nil {
		return nil, err
	}

	req := &api.GenerateRequest{
		Model:  cfg.Model,
		Prompt: prompt,
		Stream: new(bool), // false
		Format: []byte(`"json"`),
		Options: map[string]interface{}{
			"temperature": cfg.Temperature,
		},
	}

	var fullResponse strings.Builder
	err = p.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		fullResponse.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama enrichment failed: %w", err)
	}

	return parseEnrichment(fullResponse.String())
}
