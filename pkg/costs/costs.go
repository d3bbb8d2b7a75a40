// Package costs accumulates the USD spent on generations. A Session keeps
// the in-memory total for one run, a Ledger keeps the project total on
// disk, and a Tee feeds one increment to both.
package costs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ErrNegativeCost is returned when an entry would decrease a total.
var ErrNegativeCost = errors.New("cost must not be negative")

// Entry is the cost of one completed generation.
type Entry struct {
	PlanID       string    `db:"plan_id" json:"plan_id"`
	Model        string    `db:"model" json:"model"`
	InputTokens  int       `db:"input_tokens" json:"input_tokens"`
	OutputTokens int       `db:"output_tokens" json:"output_tokens"`
	Cost         float64   `db:"cost" json:"cost"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Accumulator is an additive running total. Totals only grow.
type Accumulator interface {
	AddCost(ctx context.Context, entry Entry) error
	CurrentTotal(ctx context.Context) (float64, error)
}

// Session is an in-memory Accumulator.
type Session struct {
	mu      sync.Mutex
	total   float64
	entries []Entry
}

// NewSession returns an empty session total.
func NewSession() *Session {
	return &Session{}
}

// AddCost adds entry.Cost to the total.
func (s *Session) AddCost(_ context.Context, entry Entry) error {
	if entry.Cost < 0 {
		return errors.Wrapf(ErrNegativeCost, "plan %s", entry.PlanID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total += entry.Cost
	s.entries = append(s.entries, entry)
	return nil
}

// CurrentTotal returns the sum of all added costs.
func (s *Session) CurrentTotal(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, nil
}

// Entries returns a copy of the recorded entries in insertion order.
func (s *Session) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Tee forwards every increment to all of its accumulators and reports the
// total of the first one.
type Tee struct {
	accumulators []Accumulator
}

// NewTee returns a Tee whose CurrentTotal is primary's.
func NewTee(primary Accumulator, others ...Accumulator) *Tee {
	return &Tee{accumulators: append([]Accumulator{primary}, others...)}
}

// AddCost adds entry to every accumulator, even when some fail.
func (t *Tee) AddCost(ctx context.Context, entry Entry) error {
	var result *multierror.Error
	for _, acc := range t.accumulators {
		if err := acc.AddCost(ctx, entry); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// CurrentTotal returns the primary accumulator's total.
func (t *Tee) CurrentTotal(ctx context.Context) (float64, error) {
	return t.accumulators[0].CurrentTotal(ctx)
}

// FormatUSD renders an amount with four decimals below one dollar and two
// above.
func FormatUSD(amount float64) string {
	if amount < 1 {
		return fmt.Sprintf("$%.4f", amount)
	}
	return fmt.Sprintf("$%.2f", amount)
}
