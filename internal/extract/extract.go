// Package extract pulls the human-approved decision record out of a session's
// event stream. The newest fenced block wins, even when older bot-authored
// drafts are still visible in the history.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"

	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

// ErrNoDecisionBlock means no event in the stream carried a labeled decision
// block at all.
var ErrNoDecisionBlock = errors.New("no reviewer-approved data block found")

// blockPattern finds the labeled fenced JSON block inside an event body.
var blockPattern = regexp.MustCompile("(?s)## 📝 Reviewer-Approved Data.*?```json\\s*(\\{.*?\\})\\s*```")

// Latest scans the session's events in reverse chronological order and
// returns the decision record from the newest labeled block. Fields the human
// left empty are filled from base, the last known-valid record, never from
// blank defaults. A malformed newest block is an error; an older valid block
// is never silently substituted for it.
func Latest(ctx context.Context, log review.EventLog, sessionID string, base review.DecisionRecord) (review.DecisionRecord, error) {
	events, err := log.List(ctx, sessionID)
	if err != nil {
		return review.DecisionRecord{}, err
	}

	for i := len(events) - 1; i >= 0; i-- {
		match := blockPattern.FindStringSubmatch(events[i].Body)
		if match == nil {
			continue
		}
		return parse([]byte(match[1]), base)
	}
	return review.DecisionRecord{}, ErrNoDecisionBlock
}

func parse(raw []byte, base review.DecisionRecord) (review.DecisionRecord, error) {
	var edited review.DecisionRecord
	if err := json.Unmarshal(raw, &edited); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return review.DecisionRecord{}, &review.DecisionParseError{
				Field:  typeErr.Field,
				Reason: "expected " + typeErr.Type.String() + ", got " + typeErr.Value,
			}
		}
		return review.DecisionRecord{}, &review.DecisionParseError{
			Field:  "decision",
			Reason: "malformed JSON: " + err.Error(),
		}
	}

	merged := edited.MergeOver(base)
	if err := merged.Validate(); err != nil {
		return review.DecisionRecord{}, err
	}
	return merged, nil
}
