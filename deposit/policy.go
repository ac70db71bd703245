/*
policy.go - Refund policy: flat charges and review thresholds

PURPOSE:
  The calculator prefers an inspector's estimated cost. When a finding has
  no estimate, the policy supplies a flat charge. The policy also decides
  whether early departure forfeits the whole deposit and at what total
  deduction HR must take a look.

DEFAULTS:
  DamageFlat                 100
  CleaningFlat               75   (150 when professional cleaning is needed)
  ItemRemovalFlat            50   (100 when disposal is needed)
  RuleViolationFlat          25   per violation
  ProgramExitFlat            100
  EarlyDepartureForfeits     true (charge = full deposit)
  EarlyDepartureFlat         200  (only used when not forfeiting)
  HRReviewThreshold          200  (0 disables)

SEE ALSO:
  - factory/policy.go: Builds a RefundPolicy from JSON
  - calculator.go: Applies the policy
*/
package deposit

import (
	"github.com/shopspring/decimal"
)

// RefundPolicy holds the flat charges used when a finding has no estimate.
type RefundPolicy struct {
	ID   string
	Name string

	DamageFlat               Money
	CleaningFlat             Money
	ProfessionalCleaningFlat Money
	ItemRemovalFlat          Money
	ItemDisposalFlat         Money
	RuleViolationFlat        Money
	ProgramExitFlat          Money

	// EarlyDepartureForfeitsDeposit charges the full deposit for an
	// unauthorized early departure and drops every other deduction line.
	EarlyDepartureForfeitsDeposit bool
	EarlyDepartureFlat            Money

	// HRReviewThreshold escalates to HR when total deductions exceed it.
	// Zero disables the threshold.
	HRReviewThreshold Money
}

// DefaultPolicy returns the housing program's standard charges.
func DefaultPolicy() RefundPolicy {
	return RefundPolicy{
		ID:                            "standard",
		Name:                          "Standard Housing Deposit Policy",
		DamageFlat:                    Dollars(100),
		CleaningFlat:                  Dollars(75),
		ProfessionalCleaningFlat:      Dollars(150),
		ItemRemovalFlat:               Dollars(50),
		ItemDisposalFlat:              Dollars(100),
		RuleViolationFlat:             Dollars(25),
		ProgramExitFlat:               Dollars(100),
		EarlyDepartureForfeitsDeposit: true,
		EarlyDepartureFlat:            Dollars(200),
		HRReviewThreshold:             Dollars(200),
	}
}

// Validate rejects negative charges.
func (p RefundPolicy) Validate() error {
	charges := []struct {
		name  string
		value Money
	}{
		{"damage_flat", p.DamageFlat},
		{"cleaning_flat", p.CleaningFlat},
		{"professional_cleaning_flat", p.ProfessionalCleaningFlat},
		{"item_removal_flat", p.ItemRemovalFlat},
		{"item_disposal_flat", p.ItemDisposalFlat},
		{"rule_violation_flat", p.RuleViolationFlat},
		{"program_exit_flat", p.ProgramExitFlat},
		{"early_departure_flat", p.EarlyDepartureFlat},
		{"hr_review_threshold", p.HRReviewThreshold},
	}
	for _, c := range charges {
		if c.value.IsNegative() {
			return &PolicyError{Field: c.name, Reason: "must not be negative"}
		}
	}
	return nil
}

// PolicyError reports an invalid refund policy.
type PolicyError struct {
	Field  string
	Reason string
}

func (e *PolicyError) Error() string {
	return "invalid refund policy: " + e.Field + ": " + e.Reason
}

// estimateOr uses a positive estimate, falling back to the flat charge.
func estimateOr(estimate, flat Money) Money {
	if estimate.IsPositive() {
		return estimate
	}
	return flat
}

func perViolation(flat Money, count int) Money {
	return flat.Mul(decimal.NewFromInt(int64(count)))
}
