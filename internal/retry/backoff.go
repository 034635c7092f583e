package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/revloop/internal/logging"
)

// Config configures retry behavior with exponential backoff.
type Config struct {
	MaxRetries int           `json:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay"`
	Multiplier float64       `json:"multiplier"`
	Jitter     bool          `json:"jitter"`
	LogRetries bool          `json:"log_retries"`
}

// Result contains information about the retry operation.
type Result struct {
	Attempts      int           `json:"attempts"`
	TotalDuration time.Duration `json:"total_duration"`
	LastError     error         `json:"-"`
	Success       bool          `json:"success"`
	RetryReasons  []string      `json:"retry_reasons"`
}

// DefaultConfig returns a retry configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
	}
}

// LLMConfig returns a retry configuration tuned for model requests, which
// are slower and rate-limited more aggressively than platform calls.
func LLMConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   60 * time.Second,
		Multiplier: 2.5,
		Jitter:     true,
		LogRetries: true,
	}
}

// Do executes an operation with exponential backoff.
func Do(ctx context.Context, config Config, operation func() error, logger *logging.RunLogger) Result {
	return DoWithReason(ctx, config, func() (error, string) {
		err := operation()
		reason := "unknown_error"
		if err != nil {
			reason = err.Error()
		}
		return err, reason
	}, logger)
}

// DoWithReason executes an operation with exponential backoff and per-attempt
// reason tracking.
func DoWithReason(ctx context.Context, config Config, operation func() (error, string), logger *logging.RunLogger) Result {
	startTime := time.Now()

	result := Result{
		RetryReasons: make([]string, 0),
	}

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		if config.LogRetries && logger != nil {
			if attempt == 0 {
				logger.Log("Starting operation (attempt %d/%d)", attempt+1, config.MaxRetries+1)
			} else {
				logger.Log("Retrying operation (attempt %d/%d)", attempt+1, config.MaxRetries+1)
			}
		}

		err, reason := operation()
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			if config.LogRetries && logger != nil && attempt > 0 {
				logger.Log("Operation succeeded after %d retries (total duration: %v)", attempt, result.TotalDuration)
			}
			return result
		}

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, reason)

		if attempt >= config.MaxRetries {
			result.TotalDuration = time.Since(startTime)
			if config.LogRetries && logger != nil {
				logger.Log("Operation failed after %d attempts (total duration: %v): %v",
					result.Attempts, result.TotalDuration, err)
			}
			return result
		}

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		}

		delay := calculateDelay(config, attempt)
		if config.LogRetries && logger != nil {
			logger.Log("Operation failed (attempt %d/%d): %v", attempt+1, config.MaxRetries+1, err)
			logger.Log("Waiting %v before retry", delay)
		}

		select {
		case <-ctx.Done():
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return result
		case <-time.After(delay):
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result
}

// calculateDelay computes baseDelay * multiplier^attempt, capped at MaxDelay,
// with up to 10% random jitter.
func calculateDelay(config Config, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		jitterRange := delay * 0.1
		jitter := (rand.Float64() - 0.5) * 2 * jitterRange
		delay += jitter

		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// IsRetryableError determines if an error is transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	retryableErrors := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"dns lookup failed",
		"no such host",
		"network unreachable",
		"broken pipe",
		"context deadline exceeded",
	}

	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}

	return false
}
