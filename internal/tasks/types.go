// Package tasks discovers the pending work on a review request: unresolved
// disputes, unanswered questions, and review requests. Detection reads only
// the comment history and its embedded markers, never raw prose.
package tasks

import "time"

// Kind identifies what a task does.
type Kind string

const (
	KindDispute  Kind = "dispute-resolution"
	KindQuestion Kind = "question-answering"
	KindReview   Kind = "full-review"
)

// Priorities. Lower runs first.
const (
	PriorityDispute  = 1
	PriorityQuestion = 2
	PriorityReview   = 3
)

// DisputeContext identifies the thread and reply a dispute task addresses.
type DisputeContext struct {
	ThreadID       string
	ReplyCommentID string
	ReplyBody      string
	ReplyAuthor    string
	File           string
	Line           int
}

// QuestionContext identifies the question a question task answers.
type QuestionContext struct {
	CommentID string
	ThreadID  string
	Question  string
	Author    string
	File      string
	Line      int
}

// ConversationMessage is one entry of the prior bot/developer exchange,
// used when answering follow-up questions.
type ConversationMessage struct {
	Author    string
	Body      string
	Timestamp time.Time
	IsBot     bool
}

// Task is one unit of pending work.
type Task struct {
	Kind     Kind
	Priority int

	Dispute      *DisputeContext
	Question     *QuestionContext
	Conversation []ConversationMessage

	// Review task fields.
	IsManual         bool
	TriggerCommentID string
	TriggeredBy      string
	AffectsMergeGate bool
}

// Key returns the dedup identity of the task.
func (t Task) Key() string {
	switch t.Kind {
	case KindDispute:
		return "dispute-" + t.Dispute.ThreadID
	case KindQuestion:
		return "question-" + t.Question.CommentID
	default:
		if t.IsManual {
			return "review-" + t.TriggerCommentID
		}
		return "review-auto"
	}
}

// Trigger describes how this run was started.
type Trigger struct {
	// FullReview requests a review pass in addition to task scanning.
	FullReview bool
	// IsManual marks the review as developer-requested rather than event
	// driven. Manual reviews do not gate merges.
	IsManual bool
	// TriggerCommentID is the requesting comment for manual reviews.
	TriggerCommentID string
	// TriggeredBy names the event or actor that started the run.
	TriggeredBy string
}
