package state

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/revloop/internal/marker"
	"github.com/revloop/internal/platform"
)

type fakeHost struct {
	revision string
	comments []platform.Comment
	updates  map[string]string
	replies  []platform.Comment
	resolved []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{revision: "abc123", updates: make(map[string]string)}
}

func (f *fakeHost) HeadRevision(ctx context.Context) (string, error) {
	return f.revision, nil
}

func (f *fakeHost) ListComments(ctx context.Context) ([]platform.Comment, error) {
	return f.comments, nil
}

func (f *fakeHost) PostFinding(ctx context.Context, file string, line int, body string) (platform.Comment, error) {
	c := platform.Comment{
		ID:       fmt.Sprintf("n%d", len(f.comments)+1),
		ThreadID: fmt.Sprintf("t%d", len(f.comments)+1),
		Author:   "revloop-bot",
		Body:     body,
		File:     file,
		Line:     line,
	}
	f.comments = append(f.comments, c)
	return c, nil
}

func (f *fakeHost) Reply(ctx context.Context, threadID, body string) (platform.Comment, error) {
	c := platform.Comment{ID: fmt.Sprintf("r%d", len(f.replies)+1), ThreadID: threadID, Author: "revloop-bot", Body: body}
	f.replies = append(f.replies, c)
	return c, nil
}

func (f *fakeHost) ResolveThread(ctx context.Context, threadID string) error {
	f.resolved = append(f.resolved, threadID)
	return nil
}

func (f *fakeHost) GetComment(ctx context.Context, commentID string) (platform.Comment, error) {
	if body, ok := f.updates[commentID]; ok {
		return platform.Comment{ID: commentID, Body: body}, nil
	}
	for _, c := range f.comments {
		if c.ID == commentID {
			return c, nil
		}
	}
	return platform.Comment{}, fmt.Errorf("comment %s not found", commentID)
}

func (f *fakeHost) UpdateComment(ctx context.Context, commentID, body string) error {
	f.updates[commentID] = body
	return nil
}

func (f *fakeHost) RequestReviewers(ctx context.Context, usernames []string) error {
	return nil
}

var testBots = map[string]bool{"revloop-bot": true}

func findingBody(finding string, score int) string {
	return marker.Add("Potential issue here.", marker.Block{
		Type: marker.TypeReviewFinding,
		Assessment: &marker.Assessment{
			Finding:     finding,
			Explanation: "explanation",
			Score:       score,
		},
	})
}

func botComment(id, threadID, file string, line int, finding string, score int) platform.Comment {
	return platform.Comment{
		ID:        id,
		ThreadID:  threadID,
		Author:    "revloop-bot",
		Body:      findingBody(finding, score),
		File:      file,
		Line:      line,
		CreatedAt: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestRebuildDerivesThreadsFromBotComments(t *testing.T) {
	host := newFakeHost()
	host.comments = []platform.Comment{
		botComment("n1", "t1", "main.go", 42, "nil pointer dereference in handler", 8),
		// Human comment, no assessment: not a thread.
		{ID: "n2", ThreadID: "t2", Author: "dev1", Body: "looks good"},
		// Bot comment without an assessment block: not a thread.
		{ID: "n3", ThreadID: "t3", Author: "revloop-bot", Body: "Review complete."},
		// Developer reply inside t1.
		{ID: "n4", ThreadID: "t1", ParentID: "n1", Author: "dev1", Body: "this is intentional"},
	}

	store := NewStore(host, testBots, "req-1")
	state, err := store.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	if state.LastKnownRevision != "abc123" {
		t.Errorf("revision = %q", state.LastKnownRevision)
	}
	if len(state.Threads) != 1 {
		t.Fatalf("expected 1 thread, got %d", len(state.Threads))
	}

	thread := state.Threads[0]
	if thread.ID != "t1" || thread.File != "main.go" || thread.Line != 42 {
		t.Errorf("thread = %+v", thread)
	}
	if thread.Status != StatusPending {
		t.Errorf("status = %s, want PENDING", thread.Status)
	}
	if thread.Score != 8 {
		t.Errorf("score = %d, want 8", thread.Score)
	}
	if len(thread.DeveloperReplies) != 1 || thread.DeveloperReplies[0].Author != "dev1" {
		t.Errorf("developer replies = %+v", thread.DeveloperReplies)
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	host := newFakeHost()
	host.comments = []platform.Comment{
		botComment("n1", "t1", "a.go", 10, "unchecked error return", 6),
		botComment("n2", "t2", "b.go", 20, "race on shared counter", 9),
		{ID: "n3", ThreadID: "t1", ParentID: "n1", Author: "dev1", Body: "will fix"},
	}

	store := NewStore(host, testBots, "req-1")
	first, err := store.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("first rebuild: %v", err)
	}
	second, err := store.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("second rebuild: %v", err)
	}

	ignoreTimes := cmpopts.IgnoreFields(ProcessState{}, "CreatedAt", "UpdatedAt")
	if diff := cmp.Diff(first, second, ignoreTimes); diff != "" {
		t.Errorf("rebuild not idempotent (-first +second):\n%s", diff)
	}
}

func TestRebuildLineFallback(t *testing.T) {
	host := newFakeHost()
	c := botComment("n1", "t1", "a.go", 0, "dead code path", 3)
	host.comments = []platform.Comment{c}

	store := NewStore(host, testBots, "req-1")
	state, err := store.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if state.Threads[0].Line != 1 {
		t.Errorf("line = %d, want fallback 1", state.Threads[0].Line)
	}
}

func TestDeriveThreadStatus(t *testing.T) {
	resolvedBlock := marker.Add("Fixed.", marker.Block{
		Type:   marker.TypeDisputeResolution,
		Status: marker.StatusResolved,
	})

	tests := []struct {
		name    string
		replies []platform.Comment
		want    ThreadStatus
	}{
		{"no replies", nil, StatusPending},
		{"human reply only", []platform.Comment{
			{Author: "dev1", Body: "✅ **Issue Resolved**"},
		}, StatusPending},
		{"bot marker block resolved", []platform.Comment{
			{Author: "revloop-bot", Body: resolvedBlock},
		}, StatusResolved},
		{"bot resolved banner", []platform.Comment{
			{Author: "revloop-bot", Body: "✅ **Issue Resolved**\n\nThanks for fixing."},
		}, StatusResolved},
		{"bot escalated banner", []platform.Comment{
			{Author: "revloop-bot", Body: "🔺 **Escalated to Human Review**"},
		}, StatusEscalated},
		{"marker block wins over later banner", []platform.Comment{
			{Author: "revloop-bot", Body: marker.Add("Escalating.", marker.Block{
				Type:   marker.TypeDisputeResolution,
				Status: marker.StatusEscalated,
			})},
			{Author: "revloop-bot", Body: "✅ **Issue Resolved**"},
		}, StatusEscalated},
	}

	store := NewStore(newFakeHost(), testBots, "req-1")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := store.deriveThreadStatus(tt.replies); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAddThreadUpsertsByID(t *testing.T) {
	host := newFakeHost()
	store := NewStore(host, testBots, "req-1")
	ctx := context.Background()

	if err := store.AddThread(ctx, Thread{ID: "t1", File: "a.go", Status: StatusPending}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := store.AddThread(ctx, Thread{ID: "t1", File: "a.go", Status: StatusDisputed}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	state, _ := store.GetOrCreate(ctx)
	if len(state.Threads) != 1 {
		t.Fatalf("expected 1 thread after upsert, got %d", len(state.Threads))
	}
	if state.Threads[0].Status != StatusDisputed {
		t.Errorf("status = %s, want DISPUTED", state.Threads[0].Status)
	}
}

func TestUpdateThreadStatus(t *testing.T) {
	host := newFakeHost()
	host.comments = []platform.Comment{botComment("n1", "t1", "a.go", 5, "finding", 7)}
	store := NewStore(host, testBots, "req-1")
	ctx := context.Background()

	if err := store.UpdateThreadStatus(ctx, "t1", StatusEscalated); err != nil {
		t.Fatalf("update: %v", err)
	}
	state, _ := store.GetOrCreate(ctx)
	if state.Threads[0].Status != StatusEscalated {
		t.Errorf("status = %s", state.Threads[0].Status)
	}
	if state.Threads[0].EscalatedAt.IsZero() {
		t.Error("escalation must be stamped")
	}

	err := store.UpdateThreadStatus(ctx, "missing", StatusResolved)
	if !errors.Is(err, ErrThreadNotFound) {
		t.Errorf("expected ErrThreadNotFound, got %v", err)
	}
}

func TestRecordPassCompletionUpsertsByNumber(t *testing.T) {
	store := NewStore(newFakeHost(), testBots, "req-1")
	ctx := context.Background()

	store.RecordPassCompletion(ctx, PassResult{PassNumber: 1, Summary: "first"})
	store.RecordPassCompletion(ctx, PassResult{PassNumber: 1, Summary: "retry", HasBlockingIssues: true})
	store.RecordPassCompletion(ctx, PassResult{PassNumber: 2, Summary: "second"})

	state, _ := store.GetOrCreate(ctx)
	if len(state.Passes) != 2 {
		t.Fatalf("expected 2 passes, got %d", len(state.Passes))
	}
	if state.Passes[0].Summary != "retry" || !state.Passes[0].HasBlockingIssues {
		t.Errorf("pass 1 = %+v, want replaced result", state.Passes[0])
	}
}

func TestThreadsWithDeveloperRepliesSkipsResolved(t *testing.T) {
	host := newFakeHost()
	host.comments = []platform.Comment{
		botComment("n1", "t1", "a.go", 5, "finding one here", 7),
		{ID: "n2", ThreadID: "t1", ParentID: "n1", Author: "dev1", Body: "disagree"},
		botComment("n3", "t2", "b.go", 6, "finding two here", 7),
		{ID: "n4", ThreadID: "t2", ParentID: "n3", Author: "dev1", Body: "disagree"},
		{ID: "n5", ThreadID: "t2", ParentID: "n3", Author: "revloop-bot", Body: "✅ **Issue Resolved**"},
		botComment("n6", "t3", "c.go", 7, "finding three here", 7),
	}

	store := NewStore(host, testBots, "req-1")
	threads, err := store.ThreadsWithDeveloperReplies(context.Background())
	if err != nil {
		t.Fatalf("threads: %v", err)
	}
	if len(threads) != 1 || threads[0].ID != "t1" {
		t.Errorf("threads = %+v, want only t1", threads)
	}
}

func TestFindDuplicateThread(t *testing.T) {
	host := newFakeHost()
	host.comments = []platform.Comment{
		botComment("n1", "t1", "a.go", 5, "possible nil pointer dereference when user is missing", 7),
	}
	store := NewStore(host, testBots, "req-1")
	ctx := context.Background()

	dup, err := store.FindDuplicateThread(ctx, "a.go", 5, "nil pointer dereference possible when user record missing")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if dup == nil || dup.ID != "t1" {
		t.Fatalf("expected duplicate t1, got %+v", dup)
	}

	// Different line: never a duplicate.
	dup, _ = store.FindDuplicateThread(ctx, "a.go", 6, "possible nil pointer dereference when user is missing")
	if dup != nil {
		t.Errorf("line mismatch should not match, got %+v", dup)
	}

	// Unrelated finding at the same position.
	dup, _ = store.FindDuplicateThread(ctx, "a.go", 5, "unbounded channel growth causes memory leak")
	if dup != nil {
		t.Errorf("unrelated finding should not match, got %+v", dup)
	}
}

func TestFindDuplicateThreadIgnoresResolved(t *testing.T) {
	host := newFakeHost()
	host.comments = []platform.Comment{
		botComment("n1", "t1", "a.go", 5, "possible nil pointer dereference when user is missing", 7),
		{ID: "n2", ThreadID: "t1", ParentID: "n1", Author: "revloop-bot", Body: "✅ **Issue Resolved**"},
	}
	store := NewStore(host, testBots, "req-1")

	dup, err := store.FindDuplicateThread(context.Background(), "a.go", 5, "possible nil pointer dereference when user is missing")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if dup != nil {
		t.Errorf("resolved thread should not be a duplicate, got %+v", dup)
	}
}

func TestDismissManualReviewWritesMarker(t *testing.T) {
	host := newFakeHost()
	host.comments = []platform.Comment{
		{ID: "n9", ThreadID: "t9", Author: "dev1", Body: "@revloop-bot please review"},
	}
	store := NewStore(host, testBots, "req-1")

	if err := store.DismissManualReview(context.Background(), "n9", "auto review"); err != nil {
		t.Fatalf("dismiss: %v", err)
	}

	updated, ok := host.updates["n9"]
	if !ok {
		t.Fatal("comment was not updated")
	}
	block, ok := marker.Extract(updated)
	if !ok {
		t.Fatal("updated body carries no marker block")
	}
	if block.Type != marker.TypeManualReview || block.Status != marker.StatusDismissedByAuto {
		t.Errorf("block = %+v", block)
	}
	if block.DismissedReason != "Dismissed by auto review" {
		t.Errorf("reason = %q", block.DismissedReason)
	}
}

func TestMarkQuestionLifecycle(t *testing.T) {
	host := newFakeHost()
	host.comments = []platform.Comment{
		{ID: "n5", ThreadID: "t5", Author: "dev1", Body: "@revloop-bot why is this needed?"},
	}
	store := NewStore(host, testBots, "req-1")
	ctx := context.Background()

	if err := store.MarkQuestionInProgress(ctx, "n5"); err != nil {
		t.Fatalf("in progress: %v", err)
	}
	block, _ := marker.Extract(host.updates["n5"])
	if block.Status != marker.StatusInProgress || block.StartedAt == "" {
		t.Errorf("block = %+v", block)
	}

	if err := store.MarkQuestionAnswered(ctx, "n5"); err != nil {
		t.Fatalf("answered: %v", err)
	}
	block, _ = marker.Extract(host.updates["n5"])
	if block.Status != marker.StatusAnswered || block.CompletedAt == "" {
		t.Errorf("block = %+v", block)
	}
	// The original question text survives the marker rewrite.
	if got := host.updates["n5"]; !strings.Contains(got, "why is this needed?") {
		t.Errorf("human text lost: %q", got)
	}
}
