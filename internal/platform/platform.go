// Package platform defines the contract to the hosted review request. The
// orchestrator never talks to a specific host API directly; everything goes
// through Host so the state store can be rebuilt and tested against fakes.
package platform

import (
	"context"
	"time"
)

// Comment is one note in the review request's discussion history.
type Comment struct {
	ID        string
	ThreadID  string
	ParentID  string
	Author    string
	Body      string
	File      string
	Line      int
	CreatedAt time.Time
	Resolved  bool
}

// IsReply reports whether the comment is a reply inside an existing thread.
func (c Comment) IsReply() bool {
	return c.ParentID != ""
}

// Host is the set of operations the orchestrator needs from the hosting
// platform. Implementations are bound to a single review request.
type Host interface {
	// HeadRevision returns the current head revision of the request.
	HeadRevision(ctx context.Context) (string, error)

	// ListComments returns every comment on the request, including replies.
	ListComments(ctx context.Context) ([]Comment, error)

	// PostFinding opens a new positioned thread and returns its first comment.
	PostFinding(ctx context.Context, file string, line int, body string) (Comment, error)

	// Reply appends a comment to an existing thread.
	Reply(ctx context.Context, threadID, body string) (Comment, error)

	// ResolveThread marks a thread resolved on the platform.
	ResolveThread(ctx context.Context, threadID string) error

	// GetComment fetches a single comment by id.
	GetComment(ctx context.Context, commentID string) (Comment, error)

	// UpdateComment replaces a comment body. Used for marker block updates.
	UpdateComment(ctx context.Context, commentID, body string) error

	// RequestReviewers asks the named users to review the request.
	RequestReviewers(ctx context.Context, usernames []string) error
}
