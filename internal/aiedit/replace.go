package aiedit

import (
	"errors"
	"strings"
	"time"
)

// ErrMissingTableTags rejects a replacement that is not a whole table
var ErrMissingTableTags = errors.New("updated html must contain both an opening <table and a closing </table> tag")

// ReplaceRequest carries a complete regenerated email table from the assistant
type ReplaceRequest struct {
	UpdatedHTML string `json:"updatedHtml"`
	Explanation string `json:"explanation"`
}

// ReplaceResult is returned to the orchestration layer for every replacement
type ReplaceResult struct {
	Success     bool      `json:"success"`
	HTML        string    `json:"html,omitempty"`
	Error       string    `json:"error,omitempty"`
	Explanation string    `json:"explanation,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// ValidateReplacement checks that html holds a full table. Inner structure is
// left to the HTML codec, which tolerates malformed rows.
func ValidateReplacement(html string) error {
	lower := strings.ToLower(html)
	if !strings.Contains(lower, "<table") || !strings.Contains(lower, "</table>") {
		return ErrMissingTableTags
	}
	return nil
}

// EditEmail validates a full-replacement request and builds its result
func EditEmail(req ReplaceRequest, now time.Time) ReplaceResult {
	if err := ValidateReplacement(req.UpdatedHTML); err != nil {
		return ReplaceResult{
			Success:   false,
			Error:     err.Error(),
			Timestamp: now,
		}
	}
	return ReplaceResult{
		Success:     true,
		HTML:        req.UpdatedHTML,
		Explanation: req.Explanation,
		Timestamp:   now,
	}
}
