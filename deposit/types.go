/*
Package deposit provides the security-deposit refund decision engine.

PURPOSE:
  Turns a structured move-out inspection into a refund amount and a list
  of deductions, then carries that outcome through a two-gate approval
  workflow (finance approval plus an independent HR review) backed by an
  append-only audit ledger.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal currency amounts (never float64)
  - Date: calendar date used by inspections and program windows
  - Identifiers: DepositID, DecisionID, ActorID, AuditEntryID

DESIGN PRINCIPLES:
  1. Purity: the calculator has no I/O and is safe to replay
  2. Precision: decimal.Decimal for every amount
  3. Type Safety: distinct ID types so a deposit can't be passed as a decision
  4. Auditability: every committed transition leaves an audit entry

SEE ALSO:
  - assessment.go: Inspection record and findings
  - calculator.go: Assessment -> RefundDecisionResult
  - workflow.go: Approval state machine
  - audit.go: Append-only ledger
  - queue.go: Read-only approval queue projection
*/
package deposit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Money is a non-float currency amount. Currency is implied by the deposit.
type Money = decimal.Decimal

// Dollars builds a Money from a whole-unit integer.
func Dollars(n int64) Money {
	return decimal.NewFromInt(n)
}

// MustParseMoney parses a decimal string and panics on malformed input.
// Use it for literals only.
func MustParseMoney(s string) Money {
	return decimal.RequireFromString(s)
}

func minMoney(a, b Money) Money {
	if a.LessThan(b) {
		return a
	}
	return b
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type DepositID string
type DecisionID string
type ActorID string
type AuditEntryID string

// SystemActor is recorded when the engine itself performs an action.
const SystemActor ActorID = "system"

// =============================================================================
// DATE - Day-granularity calendar date
// =============================================================================

// Date is a calendar date in UTC with no time-of-day component.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) Before(other Date) bool { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool  { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool  { return d.Time.Equal(other.Time) }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
