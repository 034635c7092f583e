// Package agent talks to the local coding-agent runtime over its loopback
// HTTP API. The runtime owns the repository checkout and the model; this
// client only drives sessions and prompts.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrSessionTimeout is returned when a session does not reach idle in time.
var ErrSessionTimeout = errors.New("timed out waiting for agent session to become idle")

// Client is the session-level contract the orchestrator needs from the
// agent runtime.
type Client interface {
	// CreateSession opens a fresh session and returns its id.
	CreateSession(ctx context.Context, title string) (string, error)

	// DeleteSession tears a session down, discarding its context window.
	DeleteSession(ctx context.Context, sessionID string) error

	// SendSystemPrompt injects instructions without triggering a turn.
	SendSystemPrompt(ctx context.Context, sessionID, prompt string) error

	// SendPromptAndWaitForIdle queues a prompt and blocks until the session
	// finishes working. The agent acts through its own tools; any text it
	// produces is not returned here.
	SendPromptAndWaitForIdle(ctx context.Context, sessionID, prompt string) error

	// SendPromptAndAwaitTextReply sends a prompt synchronously and returns
	// the text parts of the agent's reply.
	SendPromptAndAwaitTextReply(ctx context.Context, sessionID, prompt string) (string, error)
}

// HTTPClient drives the agent runtime's loopback HTTP API.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client

	// pollInterval is how often the idle wait samples session status.
	pollInterval time.Duration
	// busyGrace is how long the idle wait allows for the session to go busy
	// after a prompt before concluding the turn already finished.
	busyGrace time.Duration
}

// NewHTTPClient creates a client for the runtime at baseURL, typically a
// loopback address.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		pollInterval: 2 * time.Second,
		busyGrace:    10 * time.Second,
	}
}

type sessionResponse struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type promptRequest struct {
	NoReply bool         `json:"noReply,omitempty"`
	Parts   []promptPart `json:"parts"`
}

type promptPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type promptResponse struct {
	Parts []promptPart `json:"parts"`
}

type statusResponse struct {
	Status struct {
		Type string `json:"type"`
	} `json:"status"`
}

// CreateSession opens a session titled title.
func (c *HTTPClient) CreateSession(ctx context.Context, title string) (string, error) {
	log.Debug().Str("title", title).Msg("Creating agent session")

	var resp sessionResponse
	err := c.do(ctx, http.MethodPost, "/session", map[string]string{"title": title}, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("failed to create session: no id returned")
	}

	log.Info().Str("session_id", resp.ID).Msg("Created agent session")
	return resp.ID, nil
}

// DeleteSession tears down sessionID.
func (c *HTTPClient) DeleteSession(ctx context.Context, sessionID string) error {
	log.Debug().Str("session_id", sessionID).Msg("Deleting agent session")

	if err := c.do(ctx, http.MethodDelete, "/session/"+sessionID, nil, nil); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// SendSystemPrompt injects prompt into the session without a reply turn.
func (c *HTTPClient) SendSystemPrompt(ctx context.Context, sessionID, prompt string) error {
	log.Debug().
		Str("session_id", sessionID).
		Int("chars", len(prompt)).
		Msg("Sending system prompt")

	req := promptRequest{NoReply: true, Parts: []promptPart{{Type: "text", Text: prompt}}}
	if err := c.do(ctx, http.MethodPost, "/session/"+sessionID+"/prompt", req, nil); err != nil {
		return fmt.Errorf("failed to send system prompt: %w", err)
	}
	return nil
}

// SendPromptAndWaitForIdle queues prompt asynchronously, then waits for the
// session to go busy and come back idle. A session that never goes busy
// within the grace window is treated as already finished.
func (c *HTTPClient) SendPromptAndWaitForIdle(ctx context.Context, sessionID, prompt string) error {
	log.Debug().
		Str("session_id", sessionID).
		Int("chars", len(prompt)).
		Msg("Queueing prompt")

	req := promptRequest{Parts: []promptPart{{Type: "text", Text: prompt}}}
	if err := c.do(ctx, http.MethodPost, "/session/"+sessionID+"/prompt_async", req, nil); err != nil {
		return fmt.Errorf("failed to queue prompt: %w", err)
	}

	return c.waitForIdle(ctx, sessionID)
}

// SendPromptAndAwaitTextReply sends prompt synchronously and returns the
// joined text parts of the reply.
func (c *HTTPClient) SendPromptAndAwaitTextReply(ctx context.Context, sessionID, prompt string) (string, error) {
	req := promptRequest{Parts: []promptPart{{Type: "text", Text: prompt}}}

	var resp promptResponse
	if err := c.do(ctx, http.MethodPost, "/session/"+sessionID+"/prompt", req, &resp); err != nil {
		return "", fmt.Errorf("failed to send prompt: %w", err)
	}

	var texts []string
	for _, part := range resp.Parts {
		if part.Type == "text" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

func (c *HTTPClient) waitForIdle(ctx context.Context, sessionID string) error {
	start := time.Now()
	sawBusy := false

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: session %s", ErrSessionTimeout, sessionID)
			}
			return ctx.Err()
		case <-ticker.C:
		}

		var status statusResponse
		if err := c.do(ctx, http.MethodGet, "/session/"+sessionID+"/status", nil, &status); err != nil {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("%w: session %s", ErrSessionTimeout, sessionID)
			}
			return fmt.Errorf("failed to poll session status: %w", err)
		}

		switch status.Status.Type {
		case "idle":
			if sawBusy || time.Since(start) > c.busyGrace {
				log.Info().
					Str("session_id", sessionID).
					Dur("elapsed", time.Since(start)).
					Msg("Agent session idle")
				return nil
			}
		case "error":
			return fmt.Errorf("agent session %s reported an error", sessionID)
		default:
			sawBusy = true
		}
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("agent API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
