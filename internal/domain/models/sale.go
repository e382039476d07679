package models

import (
	"fmt"
	"time"
)

// SaleRecord is one immutable line of the sales log.
type SaleRecord struct {
	Date     time.Time
	BatchID  int
	Quantity int
	Customer string
	Who      string
	At       time.Time
}

// Values renders the canonical Sale row.
func (s SaleRecord) Values() []interface{} {
	return []interface{}{
		s.Date.Format(DateLayout),
		s.BatchID,
		s.Quantity,
		s.Customer,
		s.Who,
		s.At.Format(TimestampLayout),
	}
}

// ParseSaleRow decodes a Sale row.
func ParseSaleRow(values []string) (SaleRecord, error) {
	s := SaleRecord{Customer: cell(values, 3), Who: cell(values, 4)}
	var err error

	if s.Date, err = ParseDate(cell(values, 0)); err != nil {
		return SaleRecord{}, fmt.Errorf("sale date: %w", err)
	}
	if s.BatchID, err = ParseInt(cell(values, 1)); err != nil {
		return SaleRecord{}, fmt.Errorf("sale batch id: %w", err)
	}
	if s.Quantity, err = ParseInt(cell(values, 2)); err != nil {
		return SaleRecord{}, fmt.Errorf("sale qty: %w", err)
	}
	if ts := cell(values, 5); ts != "" {
		if s.At, err = time.Parse(TimestampLayout, ts); err != nil {
			return SaleRecord{}, fmt.Errorf("sale timestamp: %w", err)
		}
	}

	return s, nil
}
