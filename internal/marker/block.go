// Package marker implements the fenced metadata blocks embedded in review
// comments. The comment thread is the only durable store, so these blocks are
// the system's schema: every state decision reads them, never raw prose.
package marker

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// FenceTag is the code-fence language tag that marks a metadata block.
const FenceTag = "revloop"

// CurrentSchema is the block schema version written by this build. Blocks
// carrying a different non-zero schema are ignored during rebuild.
const CurrentSchema = 1

// Block types.
const (
	TypeQuestion          = "question"
	TypeQuestionAnswer    = "question-answer"
	TypeManualReview      = "manual-review"
	TypeReviewFinding     = "review-finding"
	TypeDisputeResolution = "dispute-resolution"
)

// Statuses used across block types.
const (
	StatusPending             = "PENDING"
	StatusInProgress          = "IN_PROGRESS"
	StatusAnswered            = "ANSWERED"
	StatusCompleted           = "COMPLETED"
	StatusDismissedByAuto     = "DISMISSED_BY_AUTO_REVIEW"
	StatusResolved            = "RESOLVED"
	StatusDisputed            = "DISPUTED"
	StatusEscalated           = "ESCALATED"
	ResolutionConcession      = "concession"
	ResolutionMaintained      = "maintained"
	ResolutionEscalated       = "escalated"
)

// Assessment is the structured verdict attached to a review finding.
type Assessment struct {
	Finding     string `json:"finding"`
	Explanation string `json:"assessment"`
	Score       int    `json:"score"`
}

// Block is a metadata block embedded in a comment. Fields are a superset
// across block types; Type determines which are meaningful.
type Block struct {
	Schema           int         `json:"schema,omitempty"`
	Type             string      `json:"type"`
	Status           string      `json:"status,omitempty"`
	Assessment       *Assessment `json:"assessment,omitempty"`
	ReplyToCommentID string      `json:"reply_to_comment_id,omitempty"`
	ReplyToThreadID  string      `json:"reply_to_thread_id,omitempty"`
	Resolution       string      `json:"resolution,omitempty"`
	Reason           string      `json:"reason,omitempty"`
	StartedAt        string      `json:"started_at,omitempty"`
	CompletedAt      string      `json:"completed_at,omitempty"`
	AnsweredAt       string      `json:"answered_at,omitempty"`
	DismissedAt      string      `json:"dismissed_at,omitempty"`
	DismissedReason  string      `json:"dismissed_reason,omitempty"`
	CreatedAt        string      `json:"created_at,omitempty"`
}

var fenceRegex = regexp.MustCompile("```" + FenceTag + `\s*\n([\s\S]*?)\s*` + "```")

// Extract returns the first metadata block in body, if any. Malformed blocks
// and blocks from a different schema version are treated as absent.
func Extract(body string) (Block, bool) {
	if body == "" {
		return Block{}, false
	}

	match := fenceRegex.FindStringSubmatch(body)
	if match == nil {
		return Block{}, false
	}

	return decodeBlock(match[1])
}

// ExtractAll returns every valid metadata block in body, in order.
func ExtractAll(body string) []Block {
	if body == "" {
		return nil
	}

	var blocks []Block
	for _, match := range fenceRegex.FindAllStringSubmatch(body, -1) {
		if b, ok := decodeBlock(match[1]); ok {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// Has reports whether body contains a metadata fence.
func Has(body string) bool {
	return body != "" && fenceRegex.MatchString(body)
}

// Add appends a metadata block to body.
func Add(body string, b Block) string {
	if b.Schema == 0 {
		b.Schema = CurrentSchema
	}
	fenced := render(b)
	if strings.TrimSpace(body) == "" {
		return fenced
	}
	return body + "\n\n" + fenced
}

// Update replaces the first metadata block in body, appending when absent.
func Update(body string, b Block) string {
	if b.Schema == 0 {
		b.Schema = CurrentSchema
	}
	if fenceRegex.MatchString(body) {
		return fenceRegex.ReplaceAllString(body, strings.ReplaceAll(render(b), "$", "$$"))
	}
	return Add(body, b)
}

func render(b Block) string {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		// Block is a plain struct; marshal cannot fail in practice.
		data = []byte(fmt.Sprintf(`{"type":%q}`, b.Type))
	}
	return "```" + FenceTag + "\n" + string(data) + "\n```"
}

func decodeBlock(raw string) (Block, bool) {
	var b Block
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &b); err != nil {
		return Block{}, false
	}
	if b.Type == "" {
		return Block{}, false
	}
	if b.Schema != 0 && b.Schema != CurrentSchema {
		return Block{}, false
	}
	return b, true
}
