// Package classify turns free-form developer text into the small closed
// vocabularies the orchestrator acts on. Every classifier follows the same
// strategy: check the cache, ask the model, parse by prefix, and fall back to
// deterministic keyword rules when the model is unavailable or unparseable.
// Fallback results are cached too, so one outage cannot cause repeat calls.
package classify

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/revloop/internal/guard"
	"github.com/revloop/internal/llm"
)

// ReplyIntent is the classification of a developer's reply to a finding.
type ReplyIntent string

const (
	ReplyAcknowledgment ReplyIntent = "acknowledgment"
	ReplyDispute        ReplyIntent = "dispute"
	ReplyQuestion       ReplyIntent = "question"
	ReplyOutOfScope     ReplyIntent = "out_of_scope"
)

// MentionIntent is the classification of a bot mention.
type MentionIntent string

const (
	MentionReviewRequest MentionIntent = "review-request"
	MentionQuestion      MentionIntent = "question"
)

const (
	kindConcession = "concession"
	kindReply      = "reply"
	kindMention    = "mention"
)

// Classifier wraps the model with caching and deterministic fallbacks.
type Classifier struct {
	client llm.Client
	cache  *Cache
}

// New returns a Classifier with a fresh cache.
func New(client llm.Client) *Classifier {
	return &Classifier{client: client, cache: NewCache()}
}

// CacheSize reports how many outcomes are memoized.
func (c *Classifier) CacheSize() int {
	return c.cache.Len()
}

func (c *Classifier) complete(ctx context.Context, prompt string) (string, error) {
	return c.client.Complete(ctx, prompt, llm.Options{MaxTokens: 10, Temperature: 0})
}

// DetectConcession reports whether a developer reply concedes the finding.
func (c *Classifier) DetectConcession(ctx context.Context, body string) bool {
	if cached, ok := c.cache.get(kindConcession, body); ok {
		log.Debug().Msg("Using cached concession result")
		return cached == "true"
	}

	result, err := c.analyzeConcession(ctx, body)
	if err != nil {
		log.Warn().Err(err).Msg("Concession analysis failed, using fallback")
		result = concessionFallback(body)
	}

	c.cache.put(kindConcession, body, fmt.Sprintf("%t", result))
	return result
}

func (c *Classifier) analyzeConcession(ctx context.Context, body string) (bool, error) {
	prompt := fmt.Sprintf(`You are analyzing a code review comment to determine if the developer is conceding to a reviewer's suggestion.

A concession means the developer:
- Agrees with the reviewer's point
- Acknowledges they were wrong or missed something
- Commits to making the suggested change
- Accepts the feedback as valid

A concession does NOT include:
- Disagreements or rebuttals
- Requests for clarification
- Alternative suggestions
- Neutral acknowledgments without commitment

Comment to analyze:
"""
%s
"""

Respond with ONLY "true" if this is a concession, or "false" if it is not.`, guard.SanitizeDelimiters(body))

	content, err := c.complete(ctx, prompt)
	if err != nil {
		return false, err
	}

	normalized := strings.ToLower(strings.TrimSpace(content))
	if strings.HasPrefix(normalized, "true") {
		return true, nil
	}
	if strings.HasPrefix(normalized, "false") {
		return false, nil
	}

	log.Debug().Str("response", content).Msg("Unexpected concession response, defaulting to false")
	return false, nil
}

var concessionPhrases = []string{
	"you are correct",
	"i concede",
	"you're right",
	"fair point",
	"good catch",
	"agreed",
	"makes sense",
}

func concessionFallback(body string) bool {
	lower := strings.ToLower(body)
	for _, phrase := range concessionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// ClassifyReply classifies a developer's reply to a review finding. Replies
// the model cannot place default to dispute, the conservative branch.
func (c *Classifier) ClassifyReply(ctx context.Context, finding, replyBody string) ReplyIntent {
	if cached, ok := c.cache.get(kindReply, replyBody); ok {
		log.Debug().Msg("Using cached reply classification")
		return ReplyIntent(cached)
	}

	intent, err := c.analyzeReply(ctx, finding, replyBody)
	if err != nil {
		log.Warn().Err(err).Msg("Reply classification failed, using fallback")
		intent = replyFallback(replyBody)
	}

	c.cache.put(kindReply, replyBody, string(intent))
	return intent
}

func (c *Classifier) analyzeReply(ctx context.Context, finding, replyBody string) (ReplyIntent, error) {
	prompt := fmt.Sprintf(`You are analyzing a developer's response to a code review comment to classify their intent.

Original finding: "%s"

Developer's response:
"""
%s
"""

Classify the response as ONE of the following:
- "acknowledgment": Developer agrees and commits to fixing it (e.g., "good catch", "will fix", "you're right")
- "dispute": Developer disagrees with the finding (e.g., "this is intentional", "middleware handles this", "size is constrained")
- "question": Developer asks for clarification (e.g., "what do you mean?", "can you explain?", "where should I...")
- "out_of_scope": Developer acknowledges but will fix later (e.g., "will fix in next sprint", "out of scope for this PR")

Respond with ONLY one word: acknowledgment, dispute, question, or out_of_scope`,
		guard.SanitizeDelimiters(finding), guard.SanitizeDelimiters(replyBody))

	content, err := c.complete(ctx, prompt)
	if err != nil {
		return "", err
	}

	normalized := strings.ToLower(strings.TrimSpace(content))
	for _, intent := range []ReplyIntent{ReplyAcknowledgment, ReplyDispute, ReplyQuestion, ReplyOutOfScope} {
		if strings.HasPrefix(normalized, string(intent)) {
			return intent, nil
		}
	}

	log.Debug().Str("response", content).Msg("Unexpected reply classification, defaulting to dispute")
	return ReplyDispute, nil
}

var (
	acknowledgmentPhrases = []string{
		"good catch", "will fix", "thanks", "you're right",
		"you are right", "agreed", "makes sense", "fair point",
	}
	questionMarkers  = []string{"what", "why", "how", "can you", "could you", "?"}
	outOfScopePhrases = []string{
		"next sprint", "later", "future pr", "separate pr",
		"out of scope", "follow up",
	}
)

func replyFallback(replyBody string) ReplyIntent {
	lower := strings.ToLower(replyBody)

	for _, phrase := range acknowledgmentPhrases {
		if strings.Contains(lower, phrase) {
			return ReplyAcknowledgment
		}
	}
	for _, marker := range questionMarkers {
		if strings.Contains(lower, marker) {
			return ReplyQuestion
		}
	}
	for _, phrase := range outOfScopePhrases {
		if strings.Contains(lower, phrase) {
			return ReplyOutOfScope
		}
	}
	return ReplyDispute
}

// ClassifyMention determines what a developer wants when they mention the
// bot in a top-level comment.
func (c *Classifier) ClassifyMention(ctx context.Context, text string) MentionIntent {
	if cached, ok := c.cache.get(kindMention, text); ok {
		log.Debug().Msg("Using cached mention classification")
		return MentionIntent(cached)
	}

	intent, err := c.analyzeMention(ctx, text)
	if err != nil {
		log.Warn().Err(err).Msg("Mention classification failed, using fallback")
		intent = mentionFallback(text)
	}

	c.cache.put(kindMention, text, string(intent))
	return intent
}

func (c *Classifier) analyzeMention(ctx context.Context, text string) (MentionIntent, error) {
	prompt := fmt.Sprintf(`You are a classifier that determines the intent of merge request comments that mention a code review bot.

Given the user's message, classify it as one of these intents:
- "review-request": The user wants a full code review of the changes
- "question": The user is asking a question about the code or wants clarification

IMPORTANT: Respond with ONLY the intent name, nothing else. No explanation, no punctuation.

Examples:
User: "please review this"
Response: review-request

User: "Why is this function needed?"
Response: question

User: "check the code"
Response: review-request

User: "what's the purpose of this change?"
Response: question

Now classify this message:
User: "%s"
Response:`, guard.SanitizeDelimiters(text))

	content, err := c.complete(ctx, prompt)
	if err != nil {
		return "", err
	}

	normalized := strings.ToLower(strings.TrimSpace(content))
	if strings.Contains(normalized, "review-request") {
		return MentionReviewRequest, nil
	}
	if strings.Contains(normalized, "question") {
		return MentionQuestion, nil
	}

	log.Warn().Str("response", content).Msg("Unexpected mention classification, using fallback")
	return mentionFallback(text), nil
}

var reviewRequestPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(please\s+)?review(\s+this)?(\s+(pr|mr))?`),
	regexp.MustCompile(`(?i)\b(can|could)\s+you\s+review`),
	regexp.MustCompile(`(?i)\bdo\s+a\s+review`),
	regexp.MustCompile(`(?i)\brun\s+(a\s+)?review`),
	regexp.MustCompile(`(?i)\bcheck\s+(this\s+)?(the\s+)?(pr|mr|code|changes)`),
	regexp.MustCompile(`(?i)\blgtm\?`),
	regexp.MustCompile(`(?i)\bready\s+for\s+review`),
	regexp.MustCompile(`(?i)\btake\s+a\s+look`),
}

func mentionFallback(text string) MentionIntent {
	for _, pattern := range reviewRequestPatterns {
		if pattern.MatchString(text) {
			return MentionReviewRequest
		}
	}
	return MentionQuestion
}
