package state

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/revloop/internal/marker"
)

// Lifecycle markers live on the triggering comment itself. Each helper
// fetches the comment, rewrites its metadata block, and pushes the body back
// so the status survives process restarts.

// MarkQuestionInProgress stamps a question comment as being answered.
func (s *Store) MarkQuestionInProgress(ctx context.Context, commentID string) error {
	return s.updateMarker(ctx, commentID, marker.Block{
		Type:      marker.TypeQuestion,
		Status:    marker.StatusInProgress,
		StartedAt: timestamp(),
	})
}

// MarkQuestionAnswered stamps a question comment as answered.
func (s *Store) MarkQuestionAnswered(ctx context.Context, commentID string) error {
	return s.updateMarker(ctx, commentID, marker.Block{
		Type:        marker.TypeQuestion,
		Status:      marker.StatusAnswered,
		CompletedAt: timestamp(),
	})
}

// MarkManualReviewInProgress stamps a review-request comment as started.
func (s *Store) MarkManualReviewInProgress(ctx context.Context, commentID string) error {
	return s.updateMarker(ctx, commentID, marker.Block{
		Type:      marker.TypeManualReview,
		Status:    marker.StatusInProgress,
		StartedAt: timestamp(),
	})
}

// MarkManualReviewCompleted stamps a review-request comment as finished.
func (s *Store) MarkManualReviewCompleted(ctx context.Context, commentID string) error {
	return s.updateMarker(ctx, commentID, marker.Block{
		Type:        marker.TypeManualReview,
		Status:      marker.StatusCompleted,
		CompletedAt: timestamp(),
	})
}

// DismissManualReview marks a pending review request superseded by the actor
// that took over, usually an automatic review of the same revision.
func (s *Store) DismissManualReview(ctx context.Context, commentID, dismissedBy string) error {
	log.Info().
		Str("comment_id", commentID).
		Str("dismissed_by", dismissedBy).
		Msg("Dismissing manual review request")

	return s.updateMarker(ctx, commentID, marker.Block{
		Type:            marker.TypeManualReview,
		Status:          marker.StatusDismissedByAuto,
		DismissedAt:     timestamp(),
		DismissedReason: fmt.Sprintf("Dismissed by %s", dismissedBy),
	})
}

func (s *Store) updateMarker(ctx context.Context, commentID string, block marker.Block) error {
	comment, err := s.host.GetComment(ctx, commentID)
	if err != nil {
		return fmt.Errorf("failed to fetch comment %s: %w", commentID, err)
	}

	updated := marker.Update(comment.Body, block)
	if err := s.host.UpdateComment(ctx, commentID, updated); err != nil {
		return fmt.Errorf("failed to update comment %s: %w", commentID, err)
	}
	return nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
