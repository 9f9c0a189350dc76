// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Transaction is an immutable financial fact proposed as a deduction.
// Amounts are integer minor units; the engine never stores or computes
// monetary values in floating point.
type Transaction struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Financial details
	Amount int64 `json:"amount"` // minor units

	// Temporal
	Date time.Time `json:"date"`

	// Descriptive fields
	Description  string `json:"description"`
	Counterparty string `json:"counterparty,omitempty"`
	CategoryCode string `json:"categoryCode,omitempty"`
	MerchantID   string `json:"merchantId,omitempty"`

	// Set by the ingestion process, never mutated by the engine
	CreatedAt time.Time `json:"createdAt"`
}

// ErrInvalidTransaction marks a fatally malformed transaction.
// Wrapped errors carry the specific field failure.
var ErrInvalidTransaction = errors.New("invalid transaction")

// Validate checks the fields the engine cannot score without.
// A failure here is fatal for the whole check call; everything else
// (missing category, short history) degrades to neutral results instead.
func (t *Transaction) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: transaction is required", ErrInvalidTransaction)
	}
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTransaction)
	}
	if t.TenantID == "" {
		return fmt.Errorf("%w: tenantId is required", ErrInvalidTransaction)
	}
	if t.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive minor units, got %d", ErrInvalidTransaction, t.Amount)
	}
	if t.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidTransaction)
	}
	return nil
}

// History is an ordered-by-time, read-only collection of prior transactions
// for the same tenant scope. The engine never fetches history itself; the
// caller supplies it and must not mutate it during a check.
type History []*Transaction

// FilterCategory returns the subset of history in the given category.
// An empty code matches nothing.
func (h History) FilterCategory(code string) History {
	if code == "" {
		return nil
	}
	var out History
	for _, tx := range h {
		if tx.CategoryCode == code {
			out = append(out, tx)
		}
	}
	return out
}

// Exclude returns history without the transaction carrying the given id.
// Used to keep a candidate from matching itself during duplicate scoring.
func (h History) Exclude(id string) History {
	out := make(History, 0, len(h))
	for _, tx := range h {
		if tx.ID != id {
			out = append(out, tx)
		}
	}
	return out
}
