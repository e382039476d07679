package models

import (
	"fmt"
	"strings"
	"time"
)

// MilkType enumerates the milk a batch is made from.
type MilkType string

const (
	MilkCow     MilkType = "cow"
	MilkGoat    MilkType = "goat"
	MilkBuffalo MilkType = "buffalo"
	MilkMixed   MilkType = "mixed"
)

// milkAliases also maps the labels operators used before the ledger was typed.
var milkAliases = map[string]MilkType{
	"cow":        MilkCow,
	"коровье":    MilkCow,
	"goat":       MilkGoat,
	"козье":      MilkGoat,
	"buffalo":    MilkBuffalo,
	"буйволиное": MilkBuffalo,
	"mixed":      MilkMixed,
	"mix":        MilkMixed,
	"смесь":      MilkMixed,
}

// ParseMilkType resolves an operator supplied or stored milk label.
func ParseMilkType(value string) (MilkType, error) {
	if mt, ok := milkAliases[strings.ToLower(strings.TrimSpace(value))]; ok {
		return mt, nil
	}
	return "", Invalid("unknown milk type %q", value)
}

// BatchKind distinguishes a lot of small units from one individually tracked large unit.
type BatchKind string

const (
	KindBatch      BatchKind = "small"
	KindSingleUnit BatchKind = "big"
)

// ParseBatchKind accepts the stored encodings.
func ParseBatchKind(value string) (BatchKind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case string(KindBatch), "batch":
		return KindBatch, nil
	case string(KindSingleUnit), "single", "unit":
		return KindSingleUnit, nil
	default:
		return "", Invalid("unknown batch kind %q", value)
	}
}

// BatchStatus is the inventory state of a batch.
type BatchStatus string

const (
	StatusActive    BatchStatus = "Active"
	StatusExhausted BatchStatus = "Exhausted"
)

// ParseBatchStatus accepts the stored encodings.
func ParseBatchStatus(value string) (BatchStatus, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "active":
		return StatusActive, nil
	case "exhausted":
		return StatusExhausted, nil
	default:
		return "", fmt.Errorf("unknown batch status %q", value)
	}
}

// Batch column positions (1-based, as addressed by the store).
const (
	BatchColID               = 1
	BatchColRemaining        = 6
	BatchColStatus           = 9
	BatchColActionsGenerated = 10
)

// Batch is one production lot tracked through curing and sale.
type Batch struct {
	Row              int         `json:"-"`
	ID               int         `json:"batch_id"`
	CreatedOn        time.Time   `json:"created_on"`
	Product          string      `json:"product"`
	Milk             MilkType    `json:"milk_type"`
	InitialQty       int         `json:"initial_qty"`
	Remaining        int         `json:"remaining"`
	UnitSerials      []string    `json:"unit_serials,omitempty"`
	Kind             BatchKind   `json:"kind"`
	Status           BatchStatus `json:"status"`
	ActionsGenerated bool        `json:"actions_generated"`
}

// Active reports whether the batch still holds sellable stock.
func (b Batch) Active() bool { return b.Status == StatusActive }

// HasSerial reports whether serial is one of the batch's unit serials.
func (b Batch) HasSerial(serial string) bool {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return false
	}
	for _, s := range b.UnitSerials {
		if s == serial {
			return true
		}
	}
	return false
}

// Title is the display name used in notifications.
func (b Batch) Title() string {
	if len(b.UnitSerials) > 0 {
		return fmt.Sprintf("%s №%s (batch %d)", b.Product, strings.Join(b.UnitSerials, ", "), b.ID)
	}
	return fmt.Sprintf("%s from %s (batch %d)", b.Product, b.CreatedOn.Format(DateLayout), b.ID)
}

// Values renders the canonical Batch row.
func (b Batch) Values() []interface{} {
	return []interface{}{
		b.ID,
		b.CreatedOn.Format(DateLayout),
		b.Product,
		string(b.Milk),
		b.InitialQty,
		b.Remaining,
		JoinSerials(b.UnitSerials),
		string(b.Kind),
		string(b.Status),
		FormatBool(b.ActionsGenerated),
	}
}

// ParseBatchRow decodes a Batch row. row is the 1-based sheet row number.
func ParseBatchRow(row int, values []string) (Batch, error) {
	b := Batch{Row: row, Product: cell(values, 2)}
	var err error

	if b.ID, err = ParseInt(cell(values, 0)); err != nil || b.ID <= 0 {
		return Batch{}, fmt.Errorf("batch id %q is not a positive integer", cell(values, 0))
	}
	if b.CreatedOn, err = ParseDate(cell(values, 1)); err != nil {
		return Batch{}, fmt.Errorf("batch %d date: %w", b.ID, err)
	}
	if b.Product == "" {
		return Batch{}, fmt.Errorf("batch %d has no product", b.ID)
	}
	if b.Milk, err = ParseMilkType(cell(values, 3)); err != nil {
		return Batch{}, fmt.Errorf("batch %d: %w", b.ID, err)
	}
	if b.InitialQty, err = ParseInt(cell(values, 4)); err != nil {
		return Batch{}, fmt.Errorf("batch %d initial qty: %w", b.ID, err)
	}
	if b.Remaining, err = ParseInt(cell(values, 5)); err != nil {
		return Batch{}, fmt.Errorf("batch %d remaining: %w", b.ID, err)
	}
	if b.Remaining < 0 || b.Remaining > b.InitialQty {
		return Batch{}, fmt.Errorf("batch %d remaining %d outside [0, %d]", b.ID, b.Remaining, b.InitialQty)
	}
	b.UnitSerials = SplitSerials(cell(values, 6))
	if b.Kind, err = ParseBatchKind(cell(values, 7)); err != nil {
		return Batch{}, fmt.Errorf("batch %d: %w", b.ID, err)
	}
	if b.Status, err = ParseBatchStatus(cell(values, 8)); err != nil {
		return Batch{}, fmt.Errorf("batch %d: %w", b.ID, err)
	}
	if b.ActionsGenerated, err = ParseFlag(cell(values, 9)); err != nil {
		return Batch{}, fmt.Errorf("batch %d actions flag: %w", b.ID, err)
	}

	return b, nil
}

// SplitSerials splits a comma-joined serial cell.
func SplitSerials(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// JoinSerials renders serials as a comma-joined cell.
func JoinSerials(serials []string) string {
	return strings.Join(serials, ",")
}
