package llm

import (
	"context"

	"github.com/revloop/internal/logging"
	"github.com/revloop/internal/retry"
)

// Resilient wraps a Client with backoff retries for transient transport
// failures. Non-retryable errors surface immediately.
type Resilient struct {
	inner  Client
	config retry.Config
	logger *logging.RunLogger
}

// NewResilient wraps client with the model-tuned retry configuration.
func NewResilient(client Client, logger *logging.RunLogger) *Resilient {
	return &Resilient{
		inner:  client,
		config: retry.LLMConfig(),
		logger: logger,
	}
}

// NewResilientWithConfig wraps client with an explicit retry configuration.
func NewResilientWithConfig(client Client, config retry.Config, logger *logging.RunLogger) *Resilient {
	return &Resilient{
		inner:  client,
		config: config,
		logger: logger,
	}
}

// Complete runs the inner completion, retrying transient failures.
// Permanent failures surface without further attempts.
func (r *Resilient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	var response string
	var permErr error

	result := retry.DoWithReason(ctx, r.config, func() (error, string) {
		out, err := r.inner.Complete(ctx, prompt, opts)
		if err != nil {
			if !retry.IsRetryableError(err) {
				permErr = err
				return nil, "permanent"
			}
			return err, err.Error()
		}
		response = out
		return nil, "success"
	}, r.logger)

	if permErr != nil {
		return "", permErr
	}
	if !result.Success {
		return "", result.LastError
	}
	return response, nil
}
