package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"peerclass/pkg/interfaces"
	"peerclass/pkg/types"
)

// The model is asked for a JSON object with score and feedback fields, but
// replies arrive wrapped in commentary, markdown fences or other noise. The
// extractor scans for the first syntactically valid JSON object substring,
// parses it and validates it. Repair policy, stated explicitly: out-of-range
// scores are clamped into [0, maxScore] and the clamp is reported on the
// result. Anything less recoverable is a typed ungradeable failure, never a
// raw parse error.

// rawGrade mirrors the JSON object the model is prompted to produce.
type rawGrade struct {
	Score    *float64 `json:"score"`
	Feedback *string  `json:"feedback"`
}

// Grade extracts a validated grade for one question from free-form model
// output. Returns interfaces.ErrUngradeable (wrapped) when no usable object
// is found; the caller decides whether to surface manual grading.
func Grade(output, questionID string, maxScore float64) (types.GradeResult, error) {
	for _, candidate := range jsonCandidates(output) {
		var raw rawGrade
		if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
			continue
		}
		if raw.Score == nil || raw.Feedback == nil {
			continue
		}

		result := types.GradeResult{
			QuestionID: questionID,
			Score:      *raw.Score,
			Feedback:   *raw.Feedback,
		}
		if result.Score < 0 {
			result.Score = 0
			result.Clamped = true
		} else if result.Score > maxScore {
			result.Score = maxScore
			result.Clamped = true
		}
		return result, nil
	}

	return types.GradeResult{}, fmt.Errorf("%w: no valid grade object in %d bytes of output",
		interfaces.ErrUngradeable, len(output))
}

// jsonCandidates scans for top-level {...} substrings. Byte-level state
// machine tracking brace depth, string literals and escapes; ASCII delimiter
// bytes never occur inside UTF-8 multi-byte sequences, so byte iteration is
// safe. Markdown fences need no special casing: the braces inside a fence
// are found the same way.
func jsonCandidates(s string) []string {
	var candidates []string
	depth := 0
	start := -1
	inString := false
	escape := false

	for i := 0; i < len(s); i++ {
		b := s[i]

		if escape {
			escape = false
			continue
		}
		if inString {
			if b == '\\' {
				escape = true
			} else if b == '"' {
				inString = false
			}
			continue
		}

		switch b {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					candidates = append(candidates, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return candidates
}

// StripFences removes surrounding markdown code fences, for logging raw
// output without the noise. Extraction itself does not need this.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
