package tasks

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/revloop/internal/classify"
	"github.com/revloop/internal/marker"
	"github.com/revloop/internal/platform"
	"github.com/revloop/internal/state"
)

const dismissalReply = "ℹ️ This manual review request was dismissed because an automatic review was triggered and handled it.\n\n" +
	"The review results are available in the review comments above."

// Detector scans a review request for pending work.
type Detector struct {
	host       platform.Host
	store      *state.Store
	classifier *classify.Classifier
	bots       map[string]bool
	botMention string
}

// NewDetector creates a detector. botMention is the handle developers use to
// address the automation, including the @.
func NewDetector(host platform.Host, store *state.Store, classifier *classify.Classifier, bots map[string]bool, botMention string) *Detector {
	return &Detector{
		host:       host,
		store:      store,
		classifier: classifier,
		bots:       bots,
		botMention: botMention,
	}
}

// DetectAll returns every pending task, deduplicated and sorted by priority.
// A manual review request superseded by an automatic review in the same run
// is dismissed as a side effect.
func (d *Detector) DetectAll(ctx context.Context, trigger Trigger) ([]Task, error) {
	log.Info().Msg("Detecting pending tasks")

	current, err := d.store.GetOrCreate(ctx)
	if err != nil {
		return nil, err
	}

	comments, err := d.host.ListComments(ctx)
	if err != nil {
		return nil, err
	}

	var tasks []Task

	disputes := d.detectPendingDisputes(current, comments)
	tasks = append(tasks, disputes...)
	log.Info().Int("count", len(disputes)).Msg("Pending disputes")

	questions, manualReviews := d.scanMentions(ctx, comments)
	tasks = append(tasks, questions...)
	tasks = append(tasks, manualReviews...)
	log.Info().Int("count", len(questions)).Msg("Pending questions")

	if trigger.FullReview {
		tasks = append(tasks, Task{
			Kind:             KindReview,
			Priority:         PriorityReview,
			IsManual:         trigger.IsManual,
			TriggerCommentID: trigger.TriggerCommentID,
			TriggeredBy:      trigger.TriggeredBy,
			AffectsMergeGate: !trigger.IsManual,
		})
	}

	return d.deduplicateAndPrioritize(ctx, tasks, comments), nil
}

// detectPendingDisputes finds active threads whose newest comment is a
// developer reply the automation has not yet answered.
func (d *Detector) detectPendingDisputes(current *state.ProcessState, comments []platform.Comment) []Task {
	replies := make(map[string][]platform.Comment)
	for _, c := range comments {
		if c.IsReply() {
			replies[c.ThreadID] = append(replies[c.ThreadID], c)
		}
	}

	var disputes []Task
	for _, thread := range current.Threads {
		if thread.Status != state.StatusPending && thread.Status != state.StatusDisputed {
			continue
		}

		var latestDev, latestBot *platform.Comment
		for i := range replies[thread.ID] {
			reply := &replies[thread.ID][i]
			if d.bots[reply.Author] {
				if latestBot == nil || reply.CreatedAt.After(latestBot.CreatedAt) {
					latestBot = reply
				}
			} else {
				if latestDev == nil || reply.CreatedAt.After(latestDev.CreatedAt) {
					latestDev = reply
				}
			}
		}

		if latestDev == nil {
			continue
		}
		if latestBot != nil && !latestDev.CreatedAt.After(latestBot.CreatedAt) {
			continue
		}

		disputes = append(disputes, Task{
			Kind:     KindDispute,
			Priority: PriorityDispute,
			Dispute: &DisputeContext{
				ThreadID:       thread.ID,
				ReplyCommentID: latestDev.ID,
				ReplyBody:      latestDev.Body,
				ReplyAuthor:    latestDev.Author,
				File:           thread.File,
				Line:           thread.Line,
			},
		})
	}
	return disputes
}

// scanMentions walks every comment that addresses the automation and sorts
// them into questions and manual review requests by intent.
func (d *Detector) scanMentions(ctx context.Context, comments []platform.Comment) (questions, manualReviews []Task) {
	// Answers carry a question-answer block naming the question they answer.
	answered := make(map[string]bool)
	for _, c := range comments {
		if block, ok := marker.Extract(c.Body); ok && block.Type == marker.TypeQuestionAnswer && block.ReplyToCommentID != "" {
			answered[block.ReplyToCommentID] = true
		}
	}

	for _, c := range comments {
		if d.bots[c.Author] || !strings.Contains(c.Body, d.botMention) {
			continue
		}

		block, hasBlock := marker.Extract(c.Body)

		// Already answered, or already tracked through its lifecycle.
		if hasBlock && block.Type == marker.TypeQuestion && block.Status == marker.StatusAnswered {
			continue
		}
		if answered[c.ID] {
			continue
		}
		if hasBlock && block.Type == marker.TypeManualReview {
			continue
		}

		text := strings.TrimSpace(strings.ReplaceAll(c.Body, d.botMention, ""))
		if text == "" {
			continue
		}

		switch d.classifier.ClassifyMention(ctx, text) {
		case classify.MentionQuestion:
			questions = append(questions, Task{
				Kind:     KindQuestion,
				Priority: PriorityQuestion,
				Question: &QuestionContext{
					CommentID: c.ID,
					ThreadID:  c.ThreadID,
					Question:  text,
					Author:    c.Author,
					File:      c.File,
					Line:      c.Line,
				},
				Conversation:     d.conversationHistory(c, comments),
				TriggerCommentID: c.ID,
			})
		case classify.MentionReviewRequest:
			manualReviews = append(manualReviews, Task{
				Kind:             KindReview,
				Priority:         PriorityReview,
				IsManual:         true,
				TriggerCommentID: c.ID,
				TriggeredBy:      c.Author,
				AffectsMergeGate: false,
			})
		}
	}
	return questions, manualReviews
}

// conversationHistory collects the prior bot/developer exchange so follow-up
// questions keep their context. Developers often post follow-ups without
// tagging, so every bot comment counts.
func (d *Detector) conversationHistory(question platform.Comment, comments []platform.Comment) []ConversationMessage {
	var history []ConversationMessage
	for _, c := range comments {
		if !c.CreatedAt.Before(question.CreatedAt) {
			continue
		}
		isBot := d.bots[c.Author]
		if !isBot && !strings.Contains(c.Body, d.botMention) {
			continue
		}
		history = append(history, ConversationMessage{
			Author:    c.Author,
			Body:      c.Body,
			Timestamp: c.CreatedAt,
			IsBot:     isBot,
		})
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.Before(history[j].Timestamp)
	})
	return history
}

// deduplicateAndPrioritize drops duplicate tasks, dismisses manual reviews
// superseded by an automatic one, and orders by priority.
func (d *Detector) deduplicateAndPrioritize(ctx context.Context, tasks []Task, comments []platform.Comment) []Task {
	hasAutoReview := false
	for _, t := range tasks {
		if t.Kind == KindReview && !t.IsManual {
			hasAutoReview = true
		}
	}

	seen := make(map[string]bool)
	var out []Task
	for _, task := range tasks {
		if task.Kind == KindReview && task.IsManual && hasAutoReview {
			log.Info().
				Str("comment_id", task.TriggerCommentID).
				Msg("Dismissing manual review request, handled by automatic review")
			d.dismissManualReview(ctx, task.TriggerCommentID, comments)
			continue
		}

		key := task.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, task)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

func (d *Detector) dismissManualReview(ctx context.Context, commentID string, comments []platform.Comment) {
	if commentID == "" {
		return
	}

	if err := d.store.DismissManualReview(ctx, commentID, "automatic review"); err != nil {
		log.Warn().Err(err).Str("comment_id", commentID).Msg("Failed to dismiss manual review")
		return
	}

	for _, c := range comments {
		if c.ID == commentID && c.ThreadID != "" {
			if _, err := d.host.Reply(ctx, c.ThreadID, dismissalReply); err != nil {
				log.Warn().Err(err).Msg("Failed to post dismissal reply")
			}
			return
		}
	}
}
