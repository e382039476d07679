package models

import "fmt"

// Subscriber column positions (1-based).
const (
	SubscriberColName   = 2
	SubscriberColActive = 4
)

// DefaultSubscriberRole is written for operators who subscribe themselves.
const DefaultSubscriberRole = "staff"

// Subscriber is an operator receiving daily and completion notifications.
type Subscriber struct {
	Row      int
	Identity string
	Name     string
	Role     string
	Active   bool
}

// Values renders the canonical Subscriber row.
func (s Subscriber) Values() []interface{} {
	return []interface{}{s.Identity, s.Name, s.Role, FormatBool(s.Active)}
}

// ParseSubscriberRow decodes a Subscriber row.
func ParseSubscriberRow(row int, values []string) (Subscriber, error) {
	s := Subscriber{Row: row, Identity: cell(values, 0), Name: cell(values, 1), Role: cell(values, 2)}
	if s.Identity == "" {
		return Subscriber{}, fmt.Errorf("subscriber has no identity")
	}
	active, err := ParseFlag(cell(values, 3))
	if err != nil {
		return Subscriber{}, fmt.Errorf("subscriber %s active flag: %w", s.Identity, err)
	}
	s.Active = active
	return s, nil
}
