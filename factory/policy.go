/*
Package factory provides JSON to Go refund policy conversion.

PURPOSE:
  Converts JSON refund policy definitions into deposit.RefundPolicy so
  housing operations can change flat charges and the HR threshold without
  a release. Any field left out keeps the standard policy's value.

JSON SCHEMA:
  {
    "id": "summer-2025",
    "name": "Summer 2025 Housing",
    "charges": {
      "damage": 100,
      "cleaning": 75,
      "professional_cleaning": 150,
      "item_removal": 50,
      "item_disposal": 100,
      "rule_violation": 25,
      "program_exit": 100,
      "early_departure": 200
    },
    "early_departure_forfeits_deposit": true,
    "hr_review_threshold": "200.00"
  }

  Amounts may be JSON numbers or decimal strings.

USAGE:
  factory := NewPolicyFactory()

  policy, err := factory.ParsePolicy(jsonString)
  policy, err := factory.LoadFile("/etc/deposits/policy.json")

  calc := deposit.NewCalculator(policy)

SEE ALSO:
  - deposit/policy.go: RefundPolicy type and defaults
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/warp/deposit-refunds/deposit"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a refund policy.
type PolicyJSON struct {
	ID                            string           `json:"id"`
	Name                          string           `json:"name"`
	Charges                       *ChargesJSON     `json:"charges,omitempty"`
	EarlyDepartureForfeitsDeposit *bool            `json:"early_departure_forfeits_deposit,omitempty"`
	HRReviewThreshold             *decimal.Decimal `json:"hr_review_threshold,omitempty"`
}

// ChargesJSON holds the flat charges. Nil means "use the default".
type ChargesJSON struct {
	Damage               *decimal.Decimal `json:"damage,omitempty"`
	Cleaning             *decimal.Decimal `json:"cleaning,omitempty"`
	ProfessionalCleaning *decimal.Decimal `json:"professional_cleaning,omitempty"`
	ItemRemoval          *decimal.Decimal `json:"item_removal,omitempty"`
	ItemDisposal         *decimal.Decimal `json:"item_disposal,omitempty"`
	RuleViolation        *decimal.Decimal `json:"rule_violation,omitempty"`
	ProgramExit          *decimal.Decimal `json:"program_exit,omitempty"`
	EarlyDeparture       *decimal.Decimal `json:"early_departure,omitempty"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON policies to deposit.RefundPolicy.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses a JSON string into a RefundPolicy.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (deposit.RefundPolicy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return deposit.RefundPolicy{}, fmt.Errorf("failed to parse policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// LoadFile reads and parses a policy file.
func (f *PolicyFactory) LoadFile(path string) (deposit.RefundPolicy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return deposit.RefundPolicy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	policy, err := f.ParsePolicy(string(raw))
	if err != nil {
		return deposit.RefundPolicy{}, fmt.Errorf("%s: %w", path, err)
	}
	return policy, nil
}

// FromJSON overlays PolicyJSON on the default policy and validates it.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (deposit.RefundPolicy, error) {
	policy := deposit.DefaultPolicy()
	if pj.ID != "" {
		policy.ID = pj.ID
	}
	if pj.Name != "" {
		policy.Name = pj.Name
	}

	if c := pj.Charges; c != nil {
		overlay(&policy.DamageFlat, c.Damage)
		overlay(&policy.CleaningFlat, c.Cleaning)
		overlay(&policy.ProfessionalCleaningFlat, c.ProfessionalCleaning)
		overlay(&policy.ItemRemovalFlat, c.ItemRemoval)
		overlay(&policy.ItemDisposalFlat, c.ItemDisposal)
		overlay(&policy.RuleViolationFlat, c.RuleViolation)
		overlay(&policy.ProgramExitFlat, c.ProgramExit)
		overlay(&policy.EarlyDepartureFlat, c.EarlyDeparture)
	}
	if pj.EarlyDepartureForfeitsDeposit != nil {
		policy.EarlyDepartureForfeitsDeposit = *pj.EarlyDepartureForfeitsDeposit
	}
	overlay(&policy.HRReviewThreshold, pj.HRReviewThreshold)

	if err := policy.Validate(); err != nil {
		return deposit.RefundPolicy{}, err
	}
	return policy, nil
}

// ToJSON converts a RefundPolicy to its full JSON form.
func (f *PolicyFactory) ToJSON(p deposit.RefundPolicy) PolicyJSON {
	forfeits := p.EarlyDepartureForfeitsDeposit
	return PolicyJSON{
		ID:   p.ID,
		Name: p.Name,
		Charges: &ChargesJSON{
			Damage:               ptr(p.DamageFlat),
			Cleaning:             ptr(p.CleaningFlat),
			ProfessionalCleaning: ptr(p.ProfessionalCleaningFlat),
			ItemRemoval:          ptr(p.ItemRemovalFlat),
			ItemDisposal:         ptr(p.ItemDisposalFlat),
			RuleViolation:        ptr(p.RuleViolationFlat),
			ProgramExit:          ptr(p.ProgramExitFlat),
			EarlyDeparture:       ptr(p.EarlyDepartureFlat),
		},
		EarlyDepartureForfeitsDeposit: &forfeits,
		HRReviewThreshold:             ptr(p.HRReviewThreshold),
	}
}

func overlay(dst *decimal.Decimal, v *decimal.Decimal) {
	if v != nil {
		*dst = *v
	}
}

func ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
