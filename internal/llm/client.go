// Package llm provides the narrow completion client the classifiers and
// verification checks use. The heavyweight review work happens inside the
// agent runtime; this client only serves small single-prompt calls.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrEmptyResponse is returned when the model produces no usable text.
var ErrEmptyResponse = errors.New("empty model response")

// Options tunes a single completion call.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Client is the completion interface the rest of the system depends on.
type Client interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// Provider identifies an AI provider type.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderGoogleAI  Provider = "googleai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
)

// ConnectorOptions contains options for creating a connector.
type ConnectorOptions struct {
	Provider Provider
	APIKey   string
	BaseURL  string
	Model    string
}

// Connector is a Client backed by a langchaingo model.
type Connector struct {
	provider Provider
	model    string
	llm      llms.Model
}

// NewConnector creates a connector for the specified provider.
func NewConnector(ctx context.Context, options ConnectorOptions) (*Connector, error) {
	var model llms.Model
	var err error

	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.Model).
		Msg("Creating model connector")

	switch options.Provider {
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(options.Model),
			openai.WithToken(options.APIKey),
		}
		if options.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(options.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderGoogleAI:
		model, err = googleai.New(ctx, googleai.WithAPIKey(options.APIKey))
	case ProviderAnthropic:
		model, err = anthropic.New(
			anthropic.WithToken(options.APIKey),
			anthropic.WithModel(options.Model),
		)
	case ProviderOllama:
		baseURL := options.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model, err = ollama.New(
			ollama.WithServerURL(baseURL),
			ollama.WithModel(options.Model),
		)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}

	return &Connector{
		provider: options.Provider,
		model:    options.Model,
		llm:      model,
	}, nil
}

// Complete runs a single-prompt generation.
func (c *Connector) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	callOptions := []llms.CallOption{
		llms.WithTemperature(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		callOptions = append(callOptions, llms.WithMaxTokens(opts.MaxTokens))
	}
	// googleai resolves the model per call rather than per client
	if c.provider == ProviderGoogleAI {
		callOptions = append(callOptions, llms.WithModel(c.model))
	}

	response, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, callOptions...)
	if err != nil {
		return "", fmt.Errorf("model call failed: %w", err)
	}
	if strings.TrimSpace(response) == "" {
		return "", ErrEmptyResponse
	}
	return response, nil
}

// Model returns the configured model name.
func (c *Connector) Model() string {
	return c.model
}
