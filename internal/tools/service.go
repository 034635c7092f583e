// Package tools is the loopback surface the agent session calls back into.
// Every state mutation the agent can cause goes through here, so this is
// where the thresholds, duplicate checks, and publication screens apply.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/revloop/internal/audit"
	"github.com/revloop/internal/guard"
	"github.com/revloop/internal/marker"
	"github.com/revloop/internal/platform"
	"github.com/revloop/internal/state"
)

// passCount is the number of review passes the agent works through.
const passCount = 3

// ReviewSession receives pass acknowledgments while a pass prompt is in
// flight.
type ReviewSession interface {
	RecordPassCompletion(ctx context.Context, result state.PassResult) error
}

// Config carries the policy knobs the tool surface enforces.
type Config struct {
	ProblemThreshold      int
	EnableHumanEscalation bool
	HumanReviewers        []string
}

// Service implements the tool operations.
type Service struct {
	store   *state.Store
	host    platform.Host
	session ReviewSession
	screen  *guard.Pipeline
	audit   *audit.Log
	config  Config
}

// NewService wires the tool surface. screen is the publication screen applied
// to every comment before it is posted; audit may be nil.
func NewService(store *state.Store, host platform.Host, session ReviewSession, screen *guard.Pipeline, auditLog *audit.Log, config Config) *Service {
	return &Service{
		store:   store,
		host:    host,
		session: session,
		screen:  screen,
		audit:   auditLog,
		config:  config,
	}
}

// PostFindingRequest is a new finding the agent wants published.
type PostFindingRequest struct {
	File       string `json:"file"`
	Line       int    `json:"line"`
	Comment    string `json:"comment"`
	Finding    string `json:"finding"`
	Assessment string `json:"assessment"`
	Score      int    `json:"score"`
}

// PostFindingResponse reports what happened to the finding.
type PostFindingResponse struct {
	Posted   bool   `json:"posted"`
	Filtered bool   `json:"filtered"`
	Reason   string `json:"reason,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
}

// PostFinding publishes a finding as a new positioned thread. Findings below
// the problem threshold, duplicates of open threads, and comments the
// publication screen blocks are filtered, not posted.
func (s *Service) PostFinding(ctx context.Context, req PostFindingRequest) (PostFindingResponse, error) {
	if req.Score < s.config.ProblemThreshold {
		log.Info().
			Int("score", req.Score).
			Int("threshold", s.config.ProblemThreshold).
			Str("file", req.File).
			Msg("Finding below problem threshold, not posting")
		s.audit.Record("post-finding", "filtered", map[string]string{"reason": "below-threshold", "file": req.File})
		return PostFindingResponse{Filtered: true, Reason: fmt.Sprintf("score %d is below the problem threshold %d", req.Score, s.config.ProblemThreshold)}, nil
	}

	dup, err := s.store.FindDuplicateThread(ctx, req.File, req.Line, req.Finding)
	if err != nil {
		return PostFindingResponse{}, err
	}
	if dup != nil {
		log.Info().
			Str("thread_id", dup.ID).
			Str("file", req.File).
			Int("line", req.Line).
			Msg("Duplicate finding, not posting")
		s.audit.Record("post-finding", "filtered", map[string]string{"reason": "duplicate", "thread_id": dup.ID})
		return PostFindingResponse{Filtered: true, Reason: "an open thread already covers this finding", ThreadID: dup.ID}, nil
	}

	verdict := s.screen.Check(ctx, req.Comment)
	if verdict.Blocked {
		log.Warn().Str("reason", verdict.Reason).Msg("Publication screen blocked finding")
		return PostFindingResponse{Filtered: true, Reason: "comment failed the publication check: " + verdict.Reason}, nil
	}

	body := marker.Add(req.Comment, marker.Block{
		Type:   marker.TypeReviewFinding,
		Status: marker.StatusPending,
		Assessment: &marker.Assessment{
			Finding:     req.Finding,
			Explanation: req.Assessment,
			Score:       req.Score,
		},
		CreatedAt: timestamp(),
	})

	comment, err := s.host.PostFinding(ctx, req.File, req.Line, body)
	if err != nil {
		return PostFindingResponse{}, fmt.Errorf("failed to post finding: %w", err)
	}

	line := req.Line
	if line == 0 {
		line = 1
	}
	thread := state.Thread{
		ID:     comment.ThreadID,
		File:   req.File,
		Line:   line,
		Status: state.StatusPending,
		Score:  req.Score,
		Assessment: marker.Assessment{
			Finding:     req.Finding,
			Explanation: req.Assessment,
			Score:       req.Score,
		},
		OriginalComment: state.Reply{Author: comment.Author, Body: body, Timestamp: comment.CreatedAt},
	}
	if err := s.store.AddThread(ctx, thread); err != nil {
		return PostFindingResponse{}, err
	}

	s.audit.Record("post-finding", "posted", map[string]string{"thread_id": comment.ThreadID, "file": req.File})
	return PostFindingResponse{Posted: true, ThreadID: comment.ThreadID}, nil
}

// ReplyRequest is the agent's verdict on a developer reply.
type ReplyRequest struct {
	ThreadID   string `json:"thread_id"`
	Comment    string `json:"comment"`
	Resolution string `json:"resolution"`
}

// ReplyResponse reports the posted reply and resulting thread status.
type ReplyResponse struct {
	Posted   bool   `json:"posted"`
	Resolved bool   `json:"resolved"`
	Status   string `json:"status"`
}

// ReplyToThread posts the agent's dispute verdict. A concession resolves the
// thread; anything else marks it disputed and leaves it open.
func (s *Service) ReplyToThread(ctx context.Context, req ReplyRequest) (ReplyResponse, error) {
	verdict := s.screen.Check(ctx, req.Comment)
	if verdict.Blocked {
		return ReplyResponse{}, fmt.Errorf("comment failed the publication check: %s", verdict.Reason)
	}

	concession := req.Resolution == marker.ResolutionConcession

	body := req.Comment
	blockStatus := marker.StatusDisputed
	if concession {
		body = state.ResolvedBanner + "\n\n" + body
		blockStatus = marker.StatusResolved
	}
	body = marker.Add(body, marker.Block{
		Type:            marker.TypeDisputeResolution,
		Status:          blockStatus,
		Resolution:      req.Resolution,
		ReplyToThreadID: req.ThreadID,
		CreatedAt:       timestamp(),
	})

	if _, err := s.host.Reply(ctx, req.ThreadID, body); err != nil {
		return ReplyResponse{}, fmt.Errorf("failed to post reply: %w", err)
	}

	status := state.StatusDisputed
	if concession {
		if err := s.host.ResolveThread(ctx, req.ThreadID); err != nil {
			return ReplyResponse{}, fmt.Errorf("failed to resolve thread: %w", err)
		}
		status = state.StatusResolved
	}
	if err := s.store.UpdateThreadStatus(ctx, req.ThreadID, status); err != nil {
		return ReplyResponse{}, err
	}

	s.audit.Record("reply-to-thread", string(status), map[string]string{"thread_id": req.ThreadID, "resolution": req.Resolution})
	return ReplyResponse{Posted: true, Resolved: concession, Status: string(status)}, nil
}

// ResolveRequest closes a thread whose issue is fixed.
type ResolveRequest struct {
	ThreadID string `json:"thread_id"`
	Summary  string `json:"summary"`
}

// ResolveResponse confirms the resolution.
type ResolveResponse struct {
	Resolved bool `json:"resolved"`
}

// ResolveThread posts the resolution banner and closes the thread.
func (s *Service) ResolveThread(ctx context.Context, req ResolveRequest) (ResolveResponse, error) {
	body := state.ResolvedBanner
	if req.Summary != "" {
		body += "\n\n" + req.Summary
	}
	body = marker.Add(body, marker.Block{
		Type:            marker.TypeDisputeResolution,
		Status:          marker.StatusResolved,
		ReplyToThreadID: req.ThreadID,
		CreatedAt:       timestamp(),
	})

	if _, err := s.host.Reply(ctx, req.ThreadID, body); err != nil {
		return ResolveResponse{}, fmt.Errorf("failed to post resolution: %w", err)
	}
	if err := s.host.ResolveThread(ctx, req.ThreadID); err != nil {
		return ResolveResponse{}, fmt.Errorf("failed to resolve thread: %w", err)
	}
	if err := s.store.UpdateThreadStatus(ctx, req.ThreadID, state.StatusResolved); err != nil {
		return ResolveResponse{}, err
	}

	s.audit.Record("resolve-thread", "resolved", map[string]string{"thread_id": req.ThreadID})
	return ResolveResponse{Resolved: true}, nil
}

// EscalateRequest hands a dispute to human reviewers.
type EscalateRequest struct {
	ThreadID string `json:"thread_id"`
	Reason   string `json:"reason"`
}

// EscalateResponse confirms the escalation.
type EscalateResponse struct {
	Escalated bool     `json:"escalated"`
	Reviewers []string `json:"reviewers"`
}

// EscalateDispute requests the configured human reviewers and marks the
// thread escalated. Fails when escalation is disabled.
func (s *Service) EscalateDispute(ctx context.Context, req EscalateRequest) (EscalateResponse, error) {
	if !s.config.EnableHumanEscalation {
		s.audit.Record("escalate-dispute", "rejected", map[string]string{"reason": "escalation-disabled"})
		return EscalateResponse{}, fmt.Errorf("human escalation is disabled")
	}
	if len(s.config.HumanReviewers) == 0 {
		return EscalateResponse{}, fmt.Errorf("no human reviewers configured")
	}

	if err := s.host.RequestReviewers(ctx, s.config.HumanReviewers); err != nil {
		return EscalateResponse{}, fmt.Errorf("failed to request reviewers: %w", err)
	}

	body := state.EscalatedBanner
	if req.Reason != "" {
		body += "\n\n" + req.Reason
	}
	body = marker.Add(body, marker.Block{
		Type:            marker.TypeDisputeResolution,
		Status:          marker.StatusEscalated,
		Resolution:      marker.ResolutionEscalated,
		ReplyToThreadID: req.ThreadID,
		CreatedAt:       timestamp(),
	})
	if _, err := s.host.Reply(ctx, req.ThreadID, body); err != nil {
		return EscalateResponse{}, fmt.Errorf("failed to post escalation: %w", err)
	}
	if err := s.store.UpdateThreadStatus(ctx, req.ThreadID, state.StatusEscalated); err != nil {
		return EscalateResponse{}, err
	}

	log.Warn().Str("thread_id", req.ThreadID).Strs("reviewers", s.config.HumanReviewers).Msg("Dispute escalated to human review")
	s.audit.Record("escalate-dispute", "escalated", map[string]string{"thread_id": req.ThreadID})
	return EscalateResponse{Escalated: true, Reviewers: s.config.HumanReviewers}, nil
}

// RunStateThread is the agent-visible slice of a thread.
type RunStateThread struct {
	ThreadID string `json:"thread_id"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Status   string `json:"status"`
	Score    int    `json:"score"`
	Finding  string `json:"finding"`
}

// RunStateResponse is the current state snapshot.
type RunStateResponse struct {
	Revision        string           `json:"revision"`
	Threads         []RunStateThread `json:"threads"`
	CompletedPasses []int            `json:"completed_passes"`
}

// RunState returns the current derived state for the agent to consult.
func (s *Service) RunState(ctx context.Context) (RunStateResponse, error) {
	current, err := s.store.GetOrCreate(ctx)
	if err != nil {
		return RunStateResponse{}, err
	}

	resp := RunStateResponse{Revision: current.LastKnownRevision}
	for _, t := range current.Threads {
		resp.Threads = append(resp.Threads, RunStateThread{
			ThreadID: t.ID,
			File:     t.File,
			Line:     t.Line,
			Status:   string(t.Status),
			Score:    t.Score,
			Finding:  t.Assessment.Finding,
		})
	}
	for _, p := range current.Passes {
		resp.CompletedPasses = append(resp.CompletedPasses, p.PassNumber)
	}
	return resp, nil
}

// SubmitPassRequest is the agent's acknowledgment that a pass finished.
type SubmitPassRequest struct {
	PassNumber        int    `json:"pass_number"`
	Summary           string `json:"summary"`
	FindingsPosted    int    `json:"findings_posted"`
	HasBlockingIssues bool   `json:"has_blocking_issues"`
}

// SubmitPassResponse tells the agent what comes next.
type SubmitPassResponse struct {
	Recorded   bool   `json:"recorded"`
	NextAction string `json:"next_action"`
}

// SubmitPassResults records a pass acknowledgment. A pass that never calls
// this is treated as failed by the session orchestrator.
func (s *Service) SubmitPassResults(ctx context.Context, req SubmitPassRequest) (SubmitPassResponse, error) {
	if req.PassNumber < 1 || req.PassNumber > passCount {
		return SubmitPassResponse{}, fmt.Errorf("pass number must be between 1 and %d", passCount)
	}

	err := s.session.RecordPassCompletion(ctx, state.PassResult{
		PassNumber:        req.PassNumber,
		Summary:           req.Summary,
		FindingsPosted:    req.FindingsPosted,
		HasBlockingIssues: req.HasBlockingIssues,
	})
	if err != nil {
		return SubmitPassResponse{}, err
	}

	s.audit.Record("submit-pass-results", "recorded", map[string]string{"pass": fmt.Sprintf("%d", req.PassNumber)})

	next := "all passes complete"
	if req.PassNumber < passCount {
		next = fmt.Sprintf("proceed to pass %d", req.PassNumber+1)
	}
	return SubmitPassResponse{Recorded: true, NextAction: next}, nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
