package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
)

// Prompt is one structured-output request to a reasoning backend
type Prompt struct {
	System string
	User   string
	Schema string
}

// Classifier returns the raw text a reasoning backend produced for a prompt
type Classifier interface {
	Classify(ctx context.Context, p Prompt) (string, error)
}

// AnthropicClassifier sends prompts to Claude with structured output
type AnthropicClassifier struct {
	apiKey   string
	settings types.RequestSettings
}

// NewAnthropicClassifier creates a classifier from the kernel settings
func NewAnthropicClassifier(apiKey string, ks KernelSettings) (*AnthropicClassifier, error) {
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY environment variable is required")
	}
	return &AnthropicClassifier{
		apiKey: apiKey,
		settings: types.RequestSettings{
			Model:       ks.Model,
			MaxTokens:   ks.MaxTokens,
			Temperature: ks.Temperature,
			TopK:        0,
			TopP:        0.0,
		},
	}, nil
}

type classifyResult struct {
	text string
	err  error
}

// Classify blocks until the backend answers or ctx is done. The llmkit call takes
// no context, so an abandoned request finishes in the background.
func (c *AnthropicClassifier) Classify(ctx context.Context, p Prompt) (string, error) {
	done := make(chan classifyResult, 1)
	go func() {
		response, err := anthropic.PromptWithSettings(p.System, p.User, p.Schema, c.apiKey, c.settings)
		if err != nil {
			done <- classifyResult{err: &BackendError{Backend: "anthropic", Transient: true, Err: err}}
			return
		}
		if len(response.Content) == 0 {
			done <- classifyResult{err: fmt.Errorf("%w: no content in response", ErrMalformedDecision)}
			return
		}
		done <- classifyResult{text: response.Content[0].Text}
	}()

	select {
	case <-ctx.Done():
		err := ctx.Err()
		return "", &BackendError{Backend: "anthropic", Transient: errors.Is(err, context.DeadlineExceeded), Err: err}
	case r := <-done:
		return r.text, r.err
	}
}

// Model returns the configured model name
func (c *AnthropicClassifier) Model() string {
	return c.settings.Model
}
