package state

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/revloop/internal/marker"
	"github.com/revloop/internal/platform"
)

// Banner lines posted on outcome replies. Rebuild recognizes them as a
// fallback when a reply carries no metadata block.
const (
	ResolvedBanner  = "✅ **Issue Resolved**"
	EscalatedBanner = "🔺 **Escalated to Human Review**"
)

// Store holds the derived state for one review request and rebuilds it on
// demand from the host's comment history.
type Store struct {
	mu        sync.Mutex
	host      platform.Host
	bots      map[string]bool
	requestID string
	current   *ProcessState
}

// NewStore creates a Store bound to host. bots holds every identity the
// orchestrator posts under; comments by those authors are treated as its own.
func NewStore(host platform.Host, bots map[string]bool, requestID string) *Store {
	return &Store{host: host, bots: bots, requestID: requestID}
}

// Rebuild derives fresh state from the comment history, replacing whatever
// was cached. Rebuilding twice against an unchanged history yields equal
// state apart from the update timestamp.
func (s *Store) Rebuild(ctx context.Context) (*ProcessState, error) {
	revision, err := s.host.HeadRevision(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch head revision: %w", err)
	}

	comments, err := s.host.ListComments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}

	replies := make(map[string][]platform.Comment)
	for _, c := range comments {
		if c.IsReply() {
			replies[c.ThreadID] = append(replies[c.ThreadID], c)
		}
	}

	var threads []Thread
	for _, c := range comments {
		if c.IsReply() {
			continue
		}
		if !s.bots[c.Author] {
			continue
		}

		assessment, ok := marker.ExtractAssessment(c.Body)
		if !ok {
			continue
		}

		threadReplies := replies[c.ThreadID]

		line := c.Line
		if line == 0 {
			line = 1
		}

		threads = append(threads, Thread{
			ID:         c.ThreadID,
			File:       c.File,
			Line:       line,
			Status:     s.deriveThreadStatus(threadReplies),
			Score:      assessment.Score,
			Assessment: assessment,
			OriginalComment: Reply{
				Author:    c.Author,
				Body:      c.Body,
				Timestamp: c.CreatedAt,
			},
			DeveloperReplies: s.developerReplies(threadReplies),
		})
	}

	now := time.Now().UTC()
	state := &ProcessState{
		SchemaVersion:     SchemaVersion,
		RequestID:         s.requestID,
		LastKnownRevision: revision,
		Threads:           threads,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	log.Info().
		Int("threads", len(threads)).
		Str("revision", revision).
		Msg("Rebuilt state from comment history")

	s.mu.Lock()
	s.current = state
	s.mu.Unlock()
	return state, nil
}

// GetOrCreate returns the cached state, rebuilding it on first use.
func (s *Store) GetOrCreate(ctx context.Context) (*ProcessState, error) {
	s.mu.Lock()
	cached := s.current
	s.mu.Unlock()

	if cached != nil {
		return cached, nil
	}
	return s.Rebuild(ctx)
}

// deriveThreadStatus reads the thread's bot replies in order. A metadata
// block wins over the banner text; anything else leaves the thread pending.
func (s *Store) deriveThreadStatus(replies []platform.Comment) ThreadStatus {
	for _, reply := range replies {
		if !s.bots[reply.Author] {
			continue
		}

		if block, ok := marker.Extract(reply.Body); ok {
			switch block.Status {
			case marker.StatusResolved:
				return StatusResolved
			case marker.StatusEscalated:
				return StatusEscalated
			}
		}

		if strings.Contains(reply.Body, ResolvedBanner) {
			return StatusResolved
		}
		if strings.Contains(reply.Body, EscalatedBanner) {
			return StatusEscalated
		}
	}
	return StatusPending
}

func (s *Store) developerReplies(replies []platform.Comment) []Reply {
	var out []Reply
	for _, r := range replies {
		if s.bots[r.Author] {
			continue
		}
		out = append(out, Reply{Author: r.Author, Body: r.Body, Timestamp: r.CreatedAt})
	}
	return out
}

// AddThread inserts the thread, replacing an existing thread with the same id.
func (s *Store) AddThread(ctx context.Context, thread Thread) error {
	state, err := s.GetOrCreate(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range state.Threads {
		if state.Threads[i].ID == thread.ID {
			state.Threads[i] = thread
			state.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	state.Threads = append(state.Threads, thread)
	state.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateThreadStatus moves a thread to a new status. Escalation is stamped.
func (s *Store) UpdateThreadStatus(ctx context.Context, threadID string, status ThreadStatus) error {
	state, err := s.GetOrCreate(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range state.Threads {
		if state.Threads[i].ID != threadID {
			continue
		}
		state.Threads[i].Status = status
		if status == StatusEscalated {
			state.Threads[i].EscalatedAt = time.Now().UTC()
		}
		state.UpdatedAt = time.Now().UTC()
		return nil
	}
	return fmt.Errorf("%w: %s", ErrThreadNotFound, threadID)
}

// RecordPassCompletion stores a pass result, replacing an earlier result for
// the same pass number.
func (s *Store) RecordPassCompletion(ctx context.Context, result PassResult) error {
	state, err := s.GetOrCreate(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range state.Passes {
		if state.Passes[i].PassNumber == result.PassNumber {
			state.Passes[i] = result
			state.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	state.Passes = append(state.Passes, result)
	state.UpdatedAt = time.Now().UTC()
	return nil
}

// ThreadsWithDeveloperReplies returns unresolved threads that have at least
// one non-bot reply.
func (s *Store) ThreadsWithDeveloperReplies(ctx context.Context) ([]Thread, error) {
	state, err := s.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Thread
	for _, t := range state.Threads {
		if t.Status == StatusResolved {
			continue
		}
		if len(t.DeveloperReplies) > 0 {
			out = append(out, t)
		}
	}
	return out, nil
}

// FindDuplicateThread returns an open thread at the same file and line whose
// finding is similar enough to count as the same issue, or nil.
func (s *Store) FindDuplicateThread(ctx context.Context, file string, line int, finding string) (*Thread, error) {
	state, err := s.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range state.Threads {
		t := &state.Threads[i]
		if t.File != file || t.Line != line || t.Status == StatusResolved {
			continue
		}
		if isSimilarFinding(t.Assessment.Finding, finding) {
			dup := *t
			return &dup, nil
		}
	}
	return nil, nil
}
