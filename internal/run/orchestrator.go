// Package run drains the pending work of one invocation: it asks the
// detector what needs doing, executes each task in priority order inside a
// shared agent session, and reports whether anything blocks the merge. A
// task failure is recorded and the remaining tasks still run.
package run

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/revloop/internal/logging"
	"github.com/revloop/internal/marker"
	"github.com/revloop/internal/platform"
	"github.com/revloop/internal/session"
	"github.com/revloop/internal/state"
	"github.com/revloop/internal/tasks"
)

// Reviewer is the slice of the session orchestrator the runner drives.
type Reviewer interface {
	ExecuteReview(ctx context.Context) (session.Output, error)
	ExecuteDisputeResolution(ctx context.Context) error
	ExecuteQuestionAnswering(ctx context.Context, q session.QuestionContext) (string, error)
	Cleanup(ctx context.Context)
}

// TaskSource produces the pending tasks for a trigger.
type TaskSource interface {
	DetectAll(ctx context.Context, trigger tasks.Trigger) ([]tasks.Task, error)
}

// TaskResult records the outcome of one task.
type TaskResult struct {
	Key     string
	Kind    tasks.Kind
	Success bool
	Err     error
}

// Summary is the terminal result of a run. HasBlockingIssues reports that a
// review found blockers; AutoReviewBlocked is the merge gate and stays false
// when only a manual review found them.
type Summary struct {
	RunID             string
	TotalTasks        int
	Results           []TaskResult
	ReviewCompleted   bool
	HadAutoReview     bool
	HadManualReview   bool
	IssuesFound       int
	BlockingIssues    int
	HasBlockingIssues bool
	AutoReviewBlocked bool
}

// Failed counts the tasks that did not complete.
func (s Summary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if !r.Success {
			n++
		}
	}
	return n
}

// Orchestrator executes one run end to end.
type Orchestrator struct {
	runID     string
	detector  TaskSource
	reviewer  Reviewer
	store     *state.Store
	host      platform.Host
	runLogger *logging.RunLogger
}

// New wires a run orchestrator. runLogger may be nil.
func New(runID string, detector TaskSource, reviewer Reviewer, store *state.Store, host platform.Host, runLogger *logging.RunLogger) *Orchestrator {
	return &Orchestrator{
		runID:     runID,
		detector:  detector,
		reviewer:  reviewer,
		store:     store,
		host:      host,
		runLogger: runLogger,
	}
}

// Execute detects and drains all pending tasks. The agent session is torn
// down on every exit path. A non-nil error means the run could not start;
// individual task failures land in the Summary instead.
func (o *Orchestrator) Execute(ctx context.Context, trigger tasks.Trigger) (Summary, error) {
	summary := Summary{RunID: o.runID}

	o.runLogger.LogSection("TASK DETECTION")
	pending, err := o.detector.DetectAll(ctx, trigger)
	if err != nil {
		return summary, fmt.Errorf("task detection failed: %w", err)
	}
	summary.TotalTasks = len(pending)
	log.Info().Int("tasks", len(pending)).Str("run_id", o.runID).Msg("Run starting")
	o.runLogger.Log("Detected %d pending tasks", len(pending))

	if len(pending) == 0 {
		return summary, nil
	}

	defer o.reviewer.Cleanup(ctx)

	// A full review already evaluates developer replies before its passes,
	// so standalone dispute tasks only run when no review is queued.
	hasReview := false
	for _, t := range pending {
		if t.Kind == tasks.KindReview {
			hasReview = true
		}
	}

	disputesDone := false
	var disputeErr error
	for _, task := range pending {
		var err error
		switch task.Kind {
		case tasks.KindDispute:
			if hasReview {
				log.Info().Str("task", task.Key()).Msg("Dispute handled by the queued review")
				break
			}
			if !disputesDone {
				disputeErr = o.reviewer.ExecuteDisputeResolution(ctx)
				disputesDone = true
			}
			err = disputeErr
		case tasks.KindQuestion:
			err = o.answerQuestion(ctx, task)
		case tasks.KindReview:
			err = o.runReview(ctx, task, &summary)
		}

		result := TaskResult{Key: task.Key(), Kind: task.Kind, Success: err == nil, Err: err}
		summary.Results = append(summary.Results, result)
		if err != nil {
			log.Error().Err(err).Str("task", task.Key()).Msg("Task failed")
			o.runLogger.LogError(task.Key(), err)
			continue
		}
		log.Info().Str("task", task.Key()).Msg("Task completed")
	}

	o.runLogger.Log("Run finished: %d/%d tasks succeeded", summary.TotalTasks-summary.Failed(), summary.TotalTasks)
	return summary, nil
}

// answerQuestion walks a question through its lifecycle: mark in progress,
// ask the session, post the answer with its metadata block, mark answered.
func (o *Orchestrator) answerQuestion(ctx context.Context, task tasks.Task) error {
	q := task.Question
	log.Info().Str("comment_id", q.CommentID).Str("author", q.Author).Msg("Answering question")

	if err := o.store.MarkQuestionInProgress(ctx, q.CommentID); err != nil {
		// The answer still goes out; only the progress marker is lost.
		log.Warn().Err(err).Msg("Failed to mark question in progress")
	}

	answer, err := o.reviewer.ExecuteQuestionAnswering(ctx, session.QuestionContext{
		Question: questionWithHistory(q.Question, task.Conversation),
		Author:   q.Author,
		File:     q.File,
		Line:     q.Line,
	})
	if err != nil {
		return fmt.Errorf("question answering failed: %w", err)
	}

	body := marker.Add(answer, marker.Block{
		Type:             marker.TypeQuestionAnswer,
		ReplyToCommentID: q.CommentID,
		ReplyToThreadID:  q.ThreadID,
		CreatedAt:        time.Now().UTC().Format(time.RFC3339),
	})
	if _, err := o.host.Reply(ctx, q.ThreadID, body); err != nil {
		return fmt.Errorf("failed to post answer: %w", err)
	}

	return o.store.MarkQuestionAnswered(ctx, q.CommentID)
}

func (o *Orchestrator) runReview(ctx context.Context, task tasks.Task, summary *Summary) error {
	if task.IsManual {
		summary.HadManualReview = true
		if task.TriggerCommentID != "" {
			if err := o.store.MarkManualReviewInProgress(ctx, task.TriggerCommentID); err != nil {
				log.Warn().Err(err).Msg("Failed to mark manual review in progress")
			}
		}
	} else {
		summary.HadAutoReview = true
	}

	output, err := o.reviewer.ExecuteReview(ctx)
	if err != nil {
		return err
	}

	summary.ReviewCompleted = true
	summary.IssuesFound = output.IssuesFound
	summary.BlockingIssues = output.BlockingIssues
	if output.Status == session.StatusHasBlocking {
		summary.HasBlockingIssues = true
		if task.AffectsMergeGate {
			summary.AutoReviewBlocked = true
		}
	}

	if task.IsManual && task.TriggerCommentID != "" {
		if err := o.store.MarkManualReviewCompleted(ctx, task.TriggerCommentID); err != nil {
			log.Warn().Err(err).Msg("Failed to mark manual review completed")
		}
	}
	return nil
}

// questionWithHistory prepends the prior exchange so follow-up questions
// carry their context into the session.
func questionWithHistory(question string, history []tasks.ConversationMessage) string {
	if len(history) == 0 {
		return question
	}

	var b strings.Builder
	b.WriteString("Previous conversation on this request:\n")
	for _, msg := range history {
		role := "developer"
		if msg.IsBot {
			role = "reviewer"
		}
		fmt.Fprintf(&b, "- [%s] %s: %s\n", role, msg.Author, strings.TrimSpace(msg.Body))
	}
	b.WriteString("\nCurrent question: ")
	b.WriteString(question)
	return b.String()
}
