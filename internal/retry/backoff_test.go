package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.MaxRetries != 3 {
		t.Errorf("Expected MaxRetries=3, got %d", config.MaxRetries)
	}
	if config.BaseDelay != time.Second {
		t.Errorf("Expected BaseDelay=1s, got %v", config.BaseDelay)
	}
	if config.MaxDelay != 30*time.Second {
		t.Errorf("Expected MaxDelay=30s, got %v", config.MaxDelay)
	}
	if !config.Jitter {
		t.Error("Expected Jitter=true")
	}
}

func TestLLMConfig(t *testing.T) {
	config := LLMConfig()

	if config.BaseDelay != 2*time.Second {
		t.Errorf("Expected BaseDelay=2s, got %v", config.BaseDelay)
	}
	if config.MaxDelay != 60*time.Second {
		t.Errorf("Expected MaxDelay=60s, got %v", config.MaxDelay)
	}
	if config.Multiplier != 2.5 {
		t.Errorf("Expected Multiplier=2.5, got %f", config.Multiplier)
	}
}

func TestDo_Success(t *testing.T) {
	config := Config{
		MaxRetries: 2,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
	}

	result := Do(context.Background(), config, func() error {
		return nil
	}, nil)

	if !result.Success {
		t.Error("Expected success=true")
	}
	if result.Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", result.Attempts)
	}
	if len(result.RetryReasons) != 0 {
		t.Errorf("Expected no retry reasons, got %d", len(result.RetryReasons))
	}
}

func TestDo_EventualSuccess(t *testing.T) {
	config := Config{
		MaxRetries: 3,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
	}

	attempts := 0
	result := Do(context.Background(), config, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary failure")
		}
		return nil
	}, nil)

	if !result.Success {
		t.Error("Expected success=true")
	}
	if result.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", result.Attempts)
	}
	if len(result.RetryReasons) != 2 {
		t.Errorf("Expected 2 retry reasons, got %d", len(result.RetryReasons))
	}
}

func TestDo_AllAttemptsFailure(t *testing.T) {
	config := Config{
		MaxRetries: 2,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
	}

	expectedError := errors.New("persistent failure")
	result := Do(context.Background(), config, func() error {
		return expectedError
	}, nil)

	if result.Success {
		t.Error("Expected success=false")
	}
	if result.Attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", result.Attempts)
	}
	if result.LastError != expectedError {
		t.Errorf("Expected last error to be %v, got %v", expectedError, result.LastError)
	}
}

func TestDo_ContextCancellation(t *testing.T) {
	config := Config{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   1 * time.Second,
		Multiplier: 2.0,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	result := Do(ctx, config, func() error {
		return errors.New("always fails")
	}, nil)

	if result.Success {
		t.Error("Expected success=false due to context cancellation")
	}
	if result.LastError != context.DeadlineExceeded {
		t.Errorf("Expected context.DeadlineExceeded, got %v", result.LastError)
	}
	if result.Attempts > 2 {
		t.Errorf("Expected few attempts due to quick timeout, got %d", result.Attempts)
	}
}

func TestCalculateDelay(t *testing.T) {
	config := Config{
		BaseDelay:  1 * time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2.0,
	}

	if d := calculateDelay(config, 0); d != 1*time.Second {
		t.Errorf("Expected delay0=1s, got %v", d)
	}
	if d := calculateDelay(config, 1); d != 2*time.Second {
		t.Errorf("Expected delay1=2s, got %v", d)
	}
	if d := calculateDelay(config, 2); d != 4*time.Second {
		t.Errorf("Expected delay2=4s, got %v", d)
	}

	// Capped at MaxDelay
	if d := calculateDelay(config, 10); d != 10*time.Second {
		t.Errorf("Expected capped delay=10s, got %v", d)
	}
}

func TestIsRetryableError(t *testing.T) {
	retryable := []error{
		errors.New("connection refused"),
		errors.New("connection timeout"),
		errors.New("temporary failure"),
		errors.New("HTTP 429 Too Many Requests"),
		errors.New("HTTP 503 Service Unavailable"),
		errors.New("context deadline exceeded"),
	}
	for _, err := range retryable {
		if !IsRetryableError(err) {
			t.Errorf("Expected %v to be retryable", err)
		}
	}

	nonRetryable := []error{
		errors.New("invalid input"),
		errors.New("permission denied"),
		errors.New("HTTP 401 Unauthorized"),
		errors.New("HTTP 404 Not Found"),
	}
	for _, err := range nonRetryable {
		if IsRetryableError(err) {
			t.Errorf("Expected %v to NOT be retryable", err)
		}
	}

	if IsRetryableError(nil) {
		t.Error("Expected nil error to NOT be retryable")
	}
}

func TestDoWithReason(t *testing.T) {
	config := Config{
		MaxRetries: 2,
		BaseDelay:  10 * time.Millisecond,
		MaxDelay:   100 * time.Millisecond,
		Multiplier: 2.0,
	}

	attempts := 0
	result := DoWithReason(context.Background(), config, func() (error, string) {
		attempts++
		switch attempts {
		case 1:
			return errors.New("network timeout"), "network_timeout"
		case 2:
			return errors.New("rate limited"), "rate_limit"
		default:
			return nil, "success"
		}
	}, nil)

	if !result.Success {
		t.Error("Expected success=true")
	}

	expectedReasons := []string{"network_timeout", "rate_limit"}
	if len(result.RetryReasons) != len(expectedReasons) {
		t.Fatalf("Expected %d retry reasons, got %d", len(expectedReasons), len(result.RetryReasons))
	}
	for i, expected := range expectedReasons {
		if result.RetryReasons[i] != expected {
			t.Errorf("Expected retry reason %d to be %s, got %s", i, expected, result.RetryReasons[i])
		}
	}
}
