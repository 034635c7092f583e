// Package state rebuilds the orchestrator's working state from the review
// request's comment history. There is no database; the thread of record is
// the hosted discussion itself, and everything here is derived from it.
package state

import (
	"errors"
	"time"

	"github.com/revloop/internal/marker"
)

// SchemaVersion is the version of the derived state layout.
const SchemaVersion = 1

// ErrThreadNotFound is returned when a thread id has no match in state.
var ErrThreadNotFound = errors.New("thread not found")

// ThreadStatus is the lifecycle position of a finding thread.
type ThreadStatus string

const (
	StatusPending   ThreadStatus = "PENDING"
	StatusResolved  ThreadStatus = "RESOLVED"
	StatusDisputed  ThreadStatus = "DISPUTED"
	StatusEscalated ThreadStatus = "ESCALATED"
)

// Reply is one comment inside a thread, stripped to what decisions need.
type Reply struct {
	Author    string
	Body      string
	Timestamp time.Time
}

// Thread is one finding discussion on the review request.
type Thread struct {
	ID               string
	File             string
	Line             int
	Status           ThreadStatus
	Score            int
	Assessment       marker.Assessment
	OriginalComment  Reply
	DeveloperReplies []Reply
	EscalatedAt      time.Time
}

// PassResult records the completion of one review pass.
type PassResult struct {
	PassNumber        int
	Summary           string
	FindingsPosted    int
	HasBlockingIssues bool
}

// ProcessState is the full derived state for one review request.
type ProcessState struct {
	SchemaVersion     int
	RequestID         string
	LastKnownRevision string
	Threads           []Thread
	Passes            []PassResult
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
