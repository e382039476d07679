package models

import "fmt"

// RecipeMapping associates a product with one of its schedules.
type RecipeMapping struct {
	Product    string
	ScheduleID string
}

// ParseRecipeRow decodes a RecipeMapping row. Rows without a schedule are valid:
// some products are listed only so operators can pick them.
func ParseRecipeRow(values []string) (RecipeMapping, error) {
	m := RecipeMapping{Product: cell(values, 0), ScheduleID: cell(values, 1)}
	if m.Product == "" {
		return RecipeMapping{}, fmt.Errorf("recipe row has no product")
	}
	return m, nil
}

// ScheduleTemplate is one day-offset step of a named schedule. DayOffset stays raw
// here; the action scheduler validates it and reports malformed values.
type ScheduleTemplate struct {
	Row         int
	ScheduleID  string
	DayOffset   string
	Description string
}

// Offset parses the day offset. Zero and negative offsets are valid.
func (t ScheduleTemplate) Offset() (int, error) {
	days, err := ParseInt(t.DayOffset)
	if err != nil {
		return 0, Invalid("schedule %s row %d: day offset %q is not an integer", t.ScheduleID, t.Row, t.DayOffset)
	}
	return days, nil
}

// ParseScheduleRow decodes a ScheduleTemplate row.
func ParseScheduleRow(row int, values []string) ScheduleTemplate {
	return ScheduleTemplate{
		Row:         row,
		ScheduleID:  cell(values, 0),
		DayOffset:   cell(values, 1),
		Description: cell(values, 2),
	}
}
