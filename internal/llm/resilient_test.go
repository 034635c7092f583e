package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/revloop/internal/retry"
)

type scriptedClient struct {
	calls     int
	responses []string
	errs      []error
}

func (s *scriptedClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if i < len(s.responses) {
		return s.responses[i], nil
	}
	return "", ErrEmptyResponse
}

func fastRetry() retry.Config {
	return retry.Config{
		MaxRetries: 2,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
		Multiplier: 2.0,
	}
}

func TestResilientRetriesTransientFailure(t *testing.T) {
	inner := &scriptedClient{
		errs:      []error{errors.New("503 service unavailable"), nil},
		responses: []string{"", "acknowledgment"},
	}

	r := NewResilientWithConfig(inner, fastRetry(), nil)
	out, err := r.Complete(context.Background(), "classify this", Options{MaxTokens: 10})
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if out != "acknowledgment" {
		t.Fatalf("unexpected response %q", out)
	}
	if inner.calls != 2 {
		t.Fatalf("expected 2 calls, got %d", inner.calls)
	}
}

func TestResilientStopsOnPermanentFailure(t *testing.T) {
	permanent := errors.New("401 unauthorized")
	inner := &scriptedClient{errs: []error{permanent, permanent, permanent}}

	r := NewResilientWithConfig(inner, fastRetry(), nil)
	_, err := r.Complete(context.Background(), "classify this", Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	if inner.calls != 1 {
		t.Fatalf("permanent failure should not be retried, got %d calls", inner.calls)
	}
}

func TestResilientExhaustsRetries(t *testing.T) {
	inner := &scriptedClient{errs: []error{
		errors.New("timeout"),
		errors.New("timeout"),
		errors.New("timeout"),
	}}

	r := NewResilientWithConfig(inner, fastRetry(), nil)
	_, err := r.Complete(context.Background(), "classify this", Options{})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", inner.calls)
	}
}
