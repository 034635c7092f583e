// Package session drives the long-lived agent review session through its
// phases: fix verification, dispute resolution, and the three review passes.
// One review attempt runs against one session; a failed attempt tears the
// session down and the next attempt starts from phase one in a fresh one.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/revloop/internal/agent"
	"github.com/revloop/internal/classify"
	"github.com/revloop/internal/guard"
	"github.com/revloop/internal/logging"
	"github.com/revloop/internal/platform"
	"github.com/revloop/internal/state"
)

// ErrTimeout is returned when an attempt exceeds the wall-clock budget.
var ErrTimeout = errors.New("review timed out")

// phaseCount is the number of review passes in one attempt.
const phaseCount = 3

// Config carries the knobs the orchestrator needs.
type Config struct {
	Timeout               time.Duration
	MaxRetries            int
	ProblemThreshold      int
	BlockingThreshold     int
	EnableHumanEscalation bool
	WorkspaceRoot         string
}

// Output is the terminal result of a review.
type Output struct {
	Status         string
	IssuesFound    int
	BlockingIssues int
}

// Output statuses.
const (
	StatusCompleted   = "completed"
	StatusHasBlocking = "has_blocking_issues"
	StatusFailed      = "failed"
)

// QuestionContext describes a developer question the session should answer.
type QuestionContext struct {
	Question string
	Author   string
	File     string
	Line     int
}

// Orchestrator owns the agent session and walks it through a review.
type Orchestrator struct {
	agent      agent.Client
	host       platform.Host
	store      *state.Store
	classifier *classify.Classifier
	config     Config
	runLogger  *logging.RunLogger
	screen     *guard.Pipeline

	sessionID string

	// passResults is written by the tool surface while a pass prompt is in
	// flight, so it needs its own lock.
	passMu      sync.Mutex
	passResults []state.PassResult

	// delay is swapped out in tests.
	delay func(time.Duration)
}

// NewOrchestrator wires an orchestrator. runLogger may be nil.
func NewOrchestrator(agentClient agent.Client, host platform.Host, store *state.Store, classifier *classify.Classifier, config Config, runLogger *logging.RunLogger) *Orchestrator {
	return &Orchestrator{
		agent:      agentClient,
		host:       host,
		store:      store,
		classifier: classifier,
		config:     config,
		runLogger:  runLogger,
		delay:      time.Sleep,
	}
}

// SetInjectionScreen installs the screen applied to developer-authored text
// before it reaches a prompt. Without one, text is only delimiter-sanitized.
func (o *Orchestrator) SetInjectionScreen(screen *guard.Pipeline) {
	o.screen = screen
}

// screenText passes developer text through the injection screen. Blocked
// content comes back as the placeholder, never the original.
func (o *Orchestrator) screenText(ctx context.Context, text string) string {
	if o.screen == nil {
		return text
	}
	return o.screen.Check(ctx, text).Output
}

// ExecuteReview runs the full review flow, retrying whole attempts up to the
// configured count. Each retry discards the session and all phase bookkeeping.
func (o *Orchestrator) ExecuteReview(ctx context.Context) (Output, error) {
	o.runLogger.LogSection("MULTI-PASS REVIEW")
	log.Info().
		Dur("timeout", o.config.Timeout).
		Int("max_retries", o.config.MaxRetries).
		Msg("Starting review")

	var lastErr error
	for attempt := 1; attempt <= o.config.MaxRetries+1; attempt++ {
		if attempt > 1 {
			log.Warn().
				Int("attempt", attempt).
				Int("max_attempts", o.config.MaxRetries+1).
				Msg("Retrying entire review session")
			o.runLogger.Log("Retrying review, attempt %d", attempt)

			if err := o.resetSession(ctx); err != nil {
				lastErr = err
				continue
			}
			o.passMu.Lock()
			o.passResults = nil
			o.passMu.Unlock()
		}

		output, err := o.executeAttempt(ctx)
		if err == nil {
			log.Info().Int("issues_found", output.IssuesFound).Msg("Review completed")
			return output, nil
		}

		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt).Msg("Review attempt failed")
		o.runLogger.LogError(fmt.Sprintf("attempt %d", attempt), err)

		if attempt <= o.config.MaxRetries {
			o.delay(5 * time.Second * time.Duration(attempt))
		}
	}

	return Output{Status: StatusFailed}, fmt.Errorf("review failed after %d attempts: %w", o.config.MaxRetries+1, lastErr)
}

func (o *Orchestrator) executeAttempt(ctx context.Context) (Output, error) {
	current, err := o.store.GetOrCreate(ctx)
	if err != nil {
		return Output{}, err
	}
	log.Info().Int("threads", len(current.Threads)).Msg("Loaded review state")

	hasExistingIssues := false
	for _, t := range current.Threads {
		if t.Status == state.StatusPending || t.Status == state.StatusDisputed {
			hasExistingIssues = true
			break
		}
	}

	if hasExistingIssues {
		log.Info().Msg("Found existing unresolved issues, running dispute resolution and fix verification")
		if err := o.executeDisputeResolution(ctx); err != nil {
			return Output{}, err
		}
		if err := o.executeFixVerification(ctx); err != nil {
			return Output{}, err
		}
	}

	if err := o.executeMultiPassWithTimeout(ctx); err != nil {
		return Output{}, err
	}

	return o.buildOutput(ctx)
}

// executeMultiPassWithTimeout races the pass sequence against the wall-clock
// budget. The losing goroutine is abandoned; its result is discarded.
func (o *Orchestrator) executeMultiPassWithTimeout(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- o.executeMultiPass(ctx)
	}()

	timer := time.NewTimer(o.config.Timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("%w: did not complete within %s", ErrTimeout, o.config.Timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) executeMultiPass(ctx context.Context) error {
	sensitivity := o.detectSecuritySensitivity()
	log.Info().Str("sensitivity", sensitivity).Msg("Starting review passes in a single session")

	for phase := 1; phase <= phaseCount; phase++ {
		start := time.Now()
		o.runLogger.LogSection(fmt.Sprintf("PASS %d OF %d", phase, phaseCount))

		prompt := withSecurityPreamble(phasePrompt(phase, sensitivity))
		if err := o.sendPrompt(ctx, prompt); err != nil {
			return fmt.Errorf("pass %d failed: %w", phase, err)
		}

		if !o.passCompleted(phase) {
			return fmt.Errorf("pass %d finished without submitting results", phase)
		}

		log.Info().
			Int("pass", phase).
			Dur("duration", time.Since(start)).
			Msg("Pass completed")
	}

	log.Info().Msg("All passes completed in single session")
	return nil
}

func (o *Orchestrator) executeFixVerification(ctx context.Context) error {
	o.runLogger.LogSection("FIX VERIFICATION")

	current, err := o.store.GetOrCreate(ctx)
	if err != nil {
		return err
	}

	unresolved := 0
	for _, t := range current.Threads {
		if t.Status != state.StatusResolved {
			unresolved++
		}
	}
	log.Info().Int("unresolved", unresolved).Msg("Verifying unresolved issues")

	prompt := fixVerificationPrompt(formatPreviousIssues(current), newCommitsSummary(current))
	return o.sendPrompt(ctx, withSecurityPreamble(prompt))
}

// ExecuteDisputeResolution evaluates developer replies on active threads
// without running a review. Used when a run carries dispute tasks but no
// review trigger.
func (o *Orchestrator) ExecuteDisputeResolution(ctx context.Context) error {
	return o.executeDisputeResolution(ctx)
}

func (o *Orchestrator) executeDisputeResolution(ctx context.Context) error {
	o.runLogger.LogSection("DISPUTE RESOLUTION")

	threads, err := o.store.ThreadsWithDeveloperReplies(ctx)
	if err != nil {
		return err
	}
	if len(threads) == 0 {
		log.Info().Msg("No developer replies to evaluate")
		return nil
	}
	log.Info().Int("threads", len(threads)).Msg("Evaluating threads with developer replies")

	for _, thread := range threads {
		latest := thread.DeveloperReplies[len(thread.DeveloperReplies)-1]
		replyBody := o.screenText(ctx, latest.Body)

		classification := o.classifier.ClassifyReply(ctx, thread.Assessment.Finding, replyBody)
		log.Info().
			Str("thread_id", thread.ID).
			Str("classification", string(classification)).
			Str("author", latest.Author).
			Msg("Classified developer reply")

		// Critical-severity deferrals are never delegated to the agent's
		// judgment. The rejection happens here.
		if classification == classify.ReplyOutOfScope && thread.Score >= 9 {
			if err := o.rejectCriticalDeferral(ctx, thread); err != nil {
				return err
			}
			continue
		}

		var prompt string
		if classification == classify.ReplyQuestion {
			log.Info().Msg("Developer asked for clarification, using Q&A mode")
			prompt = clarifyFindingPrompt(
				thread.Assessment.Finding, thread.Assessment.Explanation,
				replyBody, thread.File, thread.Line)
		} else {
			prompt = disputeEvaluationPrompt(
				thread.ID, thread.Assessment.Finding, thread.Assessment.Explanation,
				thread.Score, thread.File, thread.Line,
				replyBody, string(classification), o.config.EnableHumanEscalation)
		}

		if err := o.sendPrompt(ctx, withSecurityPreamble(prompt)); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) rejectCriticalDeferral(ctx context.Context, thread state.Thread) error {
	log.Warn().
		Str("thread_id", thread.ID).
		Int("score", thread.Score).
		Msg("Rejecting deferral of critical issue")

	body := fmt.Sprintf(
		"This is a critical issue (score %d/10) and cannot be deferred. It must be addressed before this request merges.",
		thread.Score)
	if _, err := o.host.Reply(ctx, thread.ID, body); err != nil {
		return err
	}
	return o.store.UpdateThreadStatus(ctx, thread.ID, state.StatusDisputed)
}

// ExecuteQuestionAnswering answers a developer question inside the session
// and returns the agent's reply text.
func (o *Orchestrator) ExecuteQuestionAnswering(ctx context.Context, q QuestionContext) (string, error) {
	o.runLogger.LogSection("ANSWERING DEVELOPER QUESTION")
	log.Info().Str("author", q.Author).Msg("Answering developer question")

	sessionID, err := o.ensureSession(ctx)
	if err != nil {
		return "", err
	}

	if err := o.agent.SendSystemPrompt(ctx, sessionID, QuestionAnsweringSystem); err != nil {
		return "", err
	}

	current, err := o.store.GetOrCreate(ctx)
	if err != nil {
		return "", err
	}
	var changedFiles []string
	for _, t := range current.Threads {
		if t.File != "" {
			changedFiles = append(changedFiles, t.File)
		}
	}

	question := o.screenText(ctx, q.Question)
	prompt := withSecurityPreamble(answerQuestionPrompt(question, q.Author, q.File, q.Line, changedFiles))
	o.runLogger.LogPrompt("question", prompt)

	answer, err := o.agent.SendPromptAndAwaitTextReply(ctx, sessionID, prompt)
	if err != nil {
		return "", err
	}
	o.runLogger.LogResponse("question", answer)
	return answer, nil
}

// RecordPassCompletion stores the agent's pass acknowledgment. Called from
// the tool surface while a pass prompt is in flight.
func (o *Orchestrator) RecordPassCompletion(ctx context.Context, result state.PassResult) error {
	log.Info().
		Int("pass", result.PassNumber).
		Bool("has_blocking_issues", result.HasBlockingIssues).
		Msg("Pass results submitted")

	o.passMu.Lock()
	replaced := false
	for i := range o.passResults {
		if o.passResults[i].PassNumber == result.PassNumber {
			o.passResults[i] = result
			replaced = true
			break
		}
	}
	if !replaced {
		o.passResults = append(o.passResults, result)
	}
	o.passMu.Unlock()

	return o.store.RecordPassCompletion(ctx, result)
}

func (o *Orchestrator) passCompleted(passNumber int) bool {
	o.passMu.Lock()
	defer o.passMu.Unlock()
	for _, p := range o.passResults {
		if p.PassNumber == passNumber {
			return true
		}
	}
	return false
}

func (o *Orchestrator) ensureSession(ctx context.Context) (string, error) {
	if o.sessionID != "" {
		return o.sessionID, nil
	}

	log.Info().Msg("Creating agent review session")
	sessionID, err := o.agent.CreateSession(ctx, "Code Review")
	if err != nil {
		return "", err
	}
	o.sessionID = sessionID

	if err := o.agent.SendSystemPrompt(ctx, sessionID, SystemPrompt); err != nil {
		return "", err
	}
	log.Info().Str("session_id", sessionID).Msg("Session ready, system prompt injected")
	return sessionID, nil
}

func (o *Orchestrator) resetSession(ctx context.Context) error {
	if o.sessionID != "" {
		log.Info().Str("session_id", o.sessionID).Msg("Deleting old session")
		if err := o.agent.DeleteSession(ctx, o.sessionID); err != nil {
			log.Warn().Err(err).Msg("Failed to delete old session")
		}
		o.sessionID = ""
	}
	_, err := o.ensureSession(ctx)
	return err
}

func (o *Orchestrator) sendPrompt(ctx context.Context, prompt string) error {
	sessionID, err := o.ensureSession(ctx)
	if err != nil {
		return err
	}
	o.runLogger.LogPrompt("session", prompt)
	return o.agent.SendPromptAndWaitForIdle(ctx, sessionID, prompt)
}

// Cleanup tears the session down. Safe to call when no session exists.
func (o *Orchestrator) Cleanup(ctx context.Context) {
	if o.sessionID == "" {
		return
	}
	log.Info().Str("session_id", o.sessionID).Msg("Cleaning up session")
	if err := o.agent.DeleteSession(ctx, o.sessionID); err != nil {
		log.Warn().Err(err).Msg("Failed to clean up session")
	}
	o.sessionID = ""
}

func (o *Orchestrator) buildOutput(ctx context.Context) (Output, error) {
	current, err := o.store.GetOrCreate(ctx)
	if err != nil {
		return Output{Status: StatusFailed}, err
	}

	active := 0
	blocking := 0
	for _, t := range current.Threads {
		if t.Status == state.StatusResolved {
			continue
		}
		active++
		if t.Score >= o.config.ProblemThreshold && t.Score >= o.config.BlockingThreshold {
			blocking++
		}
	}

	hasBlocking := blocking > 0
	o.passMu.Lock()
	for _, p := range o.passResults {
		if p.HasBlockingIssues {
			hasBlocking = true
		}
	}
	o.passMu.Unlock()

	status := StatusCompleted
	if hasBlocking {
		status = StatusHasBlocking
	}
	return Output{Status: status, IssuesFound: active, BlockingIssues: blocking}, nil
}

// detectSecuritySensitivity inspects the workspace for signals that the
// repository handles sensitive data.
func (o *Orchestrator) detectSecuritySensitivity() string {
	var indicators []string

	if data, err := os.ReadFile(filepath.Join(o.config.WorkspaceRoot, "go.mod")); err == nil {
		deps := strings.ToLower(string(data))
		if strings.Contains(deps, "stripe") || strings.Contains(deps, "payment") {
			indicators = append(indicators, "Financial data (payment processing)")
		}
		if strings.Contains(deps, "auth") || strings.Contains(deps, "jwt") || strings.Contains(deps, "oauth") {
			indicators = append(indicators, "Authentication/Authorization")
		}
		if strings.Contains(deps, "crypto") || strings.Contains(deps, "encrypt") {
			indicators = append(indicators, "Encryption/Cryptography")
		}
	}

	if data, err := os.ReadFile(filepath.Join(o.config.WorkspaceRoot, "README.md")); err == nil {
		readme := strings.ToLower(string(data))
		if strings.Contains(readme, "personal") || strings.Contains(readme, "pii") || strings.Contains(readme, "gdpr") {
			indicators = append(indicators, "PII (Personally Identifiable Information)")
		}
		if strings.Contains(readme, "hipaa") || strings.Contains(readme, "health") || strings.Contains(readme, "medical") {
			indicators = append(indicators, "Healthcare data (HIPAA)")
		}
		if strings.Contains(readme, "financial") || strings.Contains(readme, "banking") || strings.Contains(readme, "payment") {
			indicators = append(indicators, "Financial data")
		}
	}

	if len(indicators) == 0 {
		return "Standard - no special sensitivity detected"
	}
	return "High sensitivity detected: " + strings.Join(indicators, ", ")
}

func formatPreviousIssues(current *state.ProcessState) string {
	pending := 0
	disputed := 0
	var issues []string
	for _, t := range current.Threads {
		switch t.Status {
		case state.StatusPending:
			pending++
		case state.StatusDisputed:
			disputed++
		}
		if t.Status == state.StatusResolved {
			continue
		}
		issues = append(issues, fmt.Sprintf(
			"- **%s:%d** [%s] (score: %d)\n  Thread ID: %s\n  Finding: %s\n  Assessment: %s",
			t.File, t.Line, t.Status, t.Score, t.ID, t.Assessment.Finding, t.Assessment.Explanation))
	}

	if len(issues) == 0 {
		return "No previous issues"
	}
	return fmt.Sprintf("Previous review had %d PENDING and %d DISPUTED issues:\n\n%s",
		pending, disputed, strings.Join(issues, "\n\n"))
}

func newCommitsSummary(current *state.ProcessState) string {
	lastRevision := current.LastKnownRevision
	if len(lastRevision) > 7 {
		lastRevision = lastRevision[:7]
	}
	return fmt.Sprintf(`New commits since last review:
- Last reviewed revision: %s
- Run git diff %s..HEAD to inspect what changed

**Important:** use workspace tools (read, grep, glob) to verify whether previous issues are addressed.
Cross-file fixes are possible (an issue in one file can be fixed by a change in another).`,
		lastRevision, lastRevision)
}
