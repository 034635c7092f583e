package marker

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog/log"
)

// Assessment extraction tries a fixed sequence of increasingly permissive
// patterns over the comment body. The order is a contract: the private fence
// wins over a generic json fence, which wins over a bare object. New formats
// must be appended, never reordered.

type extractor struct {
	name    string
	pattern *regexp.Regexp
	parse   func(raw string) (Assessment, bool)
}

var (
	jsonFenceRegex  = regexp.MustCompile("```json\\s*\\n([\\s\\S]*?)\\s*```")
	bareObjectRegex = regexp.MustCompile(`\{\s*"finding"[\s\S]*?"score"\s*:\s*\d+\s*\}`)
)

var assessmentExtractors = []extractor{
	{
		name:    "revloop-fence",
		pattern: fenceRegex,
		parse: func(raw string) (Assessment, bool) {
			b, ok := decodeBlock(raw)
			if !ok || b.Type != TypeReviewFinding || b.Assessment == nil {
				return Assessment{}, false
			}
			return *b.Assessment, true
		},
	},
	{
		name:    "json-fence",
		pattern: jsonFenceRegex,
		parse:   parseAssessmentJSON,
	},
	{
		name:    "bare-object",
		pattern: bareObjectRegex,
		parse:   parseAssessmentJSON,
	},
}

// ExtractAssessment pulls a structured finding assessment out of a comment
// body, trying each known format in order.
func ExtractAssessment(body string) (Assessment, bool) {
	if body == "" {
		return Assessment{}, false
	}

	for _, ex := range assessmentExtractors {
		for _, match := range ex.pattern.FindAllStringSubmatch(body, -1) {
			raw := match[0]
			if len(match) > 1 {
				raw = match[1]
			}
			if a, ok := ex.parse(raw); ok {
				return a, true
			}
		}
	}

	return Assessment{}, false
}

func parseAssessmentJSON(raw string) (Assessment, bool) {
	var a Assessment
	if err := json.Unmarshal([]byte(Sanitize(raw)), &a); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			log.Debug().Err(err).Msg("assessment candidate not parseable, skipping")
			return Assessment{}, false
		}
		if err := json.Unmarshal([]byte(repaired), &a); err != nil {
			return Assessment{}, false
		}
	}
	if a.Finding == "" || a.Explanation == "" || a.Score < 1 || a.Score > 10 {
		return Assessment{}, false
	}
	return a, true
}

var (
	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
)

// Sanitize applies the literal cleanups models commonly need before JSON
// parsing: trailing commas removed, backticks flattened to single quotes.
func Sanitize(raw string) string {
	s := strings.TrimSpace(raw)
	s = trailingCommaRegex.ReplaceAllString(s, "$1")
	s = strings.ReplaceAll(s, "\\`", "'")
	s = strings.ReplaceAll(s, "`", "'")
	return s
}
