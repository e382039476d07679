package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Action column positions (1-based).
const (
	ActionColDone        = 4
	ActionColCompletedBy = 5
	ActionColCompletedAt = 6
)

// Action is a dated care task generated for a batch from its recipe schedule.
type Action struct {
	Row         int       `json:"row"`
	BatchID     int       `json:"batch_id"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Done        bool      `json:"done"`
	CompletedBy string    `json:"completed_by,omitempty"`
	CompletedAt time.Time `json:"completed_at"`
}

// Ref returns the reference used by interactive acknowledgements.
func (a Action) Ref() ActionRef {
	return ActionRef{Row: a.Row, BatchID: a.BatchID}
}

// Values renders the canonical Action row.
func (a Action) Values() []interface{} {
	completedAt := ""
	if !a.CompletedAt.IsZero() {
		completedAt = a.CompletedAt.Format(TimestampLayout)
	}
	return []interface{}{
		a.BatchID,
		a.Date.Format(DateLayout),
		a.Description,
		FormatBool(a.Done),
		a.CompletedBy,
		completedAt,
	}
}

// ParseActionRow decodes an Action row. row is the 1-based sheet row number.
func ParseActionRow(row int, values []string) (Action, error) {
	a := Action{Row: row, Description: cell(values, 2), CompletedBy: cell(values, 4)}
	var err error

	if a.BatchID, err = ParseInt(cell(values, 0)); err != nil {
		return Action{}, fmt.Errorf("action batch id: %w", err)
	}
	if a.Date, err = ParseDate(cell(values, 1)); err != nil {
		return Action{}, fmt.Errorf("action date: %w", err)
	}
	if a.Done, err = ParseFlag(cell(values, 3)); err != nil {
		return Action{}, fmt.Errorf("action done flag: %w", err)
	}
	if ts := cell(values, 5); ts != "" {
		if a.CompletedAt, err = time.Parse(TimestampLayout, ts); err != nil {
			return Action{}, fmt.Errorf("action completed at: %w", err)
		}
	}

	return a, nil
}

const actionRefPrefix = "done:"

// ActionRef addresses an action row. BatchID is carried alongside the row number
// so a stale reference cannot resolve to another batch's action.
type ActionRef struct {
	Row     int
	BatchID int
}

// String encodes the reference as an interactive reply id.
func (r ActionRef) String() string {
	return fmt.Sprintf("%s%d:%d", actionRefPrefix, r.Row, r.BatchID)
}

// IsActionRef reports whether an interactive reply id looks like an action reference.
func IsActionRef(value string) bool {
	return strings.HasPrefix(strings.TrimSpace(value), actionRefPrefix)
}

// ParseActionRef decodes "done:<row>:<batchID>".
func ParseActionRef(value string) (ActionRef, error) {
	body, ok := strings.CutPrefix(strings.TrimSpace(value), actionRefPrefix)
	if !ok {
		return ActionRef{}, Invalid("action reference %q lacks %q prefix", value, actionRefPrefix)
	}
	rowPart, batchPart, ok := strings.Cut(body, ":")
	if !ok {
		return ActionRef{}, Invalid("action reference %q lacks batch id", value)
	}
	row, err := strconv.Atoi(rowPart)
	if err != nil || row < 2 {
		return ActionRef{}, Invalid("action reference %q has bad row", value)
	}
	batchID, err := strconv.Atoi(batchPart)
	if err != nil || batchID <= 0 {
		return ActionRef{}, Invalid("action reference %q has bad batch id", value)
	}
	return ActionRef{Row: row, BatchID: batchID}, nil
}

// DueAction is an action joined with the display title of its batch.
type DueAction struct {
	Action
	Title string
}

// Text renders the notification body for a due action.
func (d DueAction) Text() string {
	return fmt.Sprintf("🧀 %s\n— %s", d.Title, d.Description)
}

// FallbackTitle names a batch whose row could not be found.
func FallbackTitle(batchID int) string {
	return fmt.Sprintf("Batch %d", batchID)
}
