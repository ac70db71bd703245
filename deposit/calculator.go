/*
calculator.go - Assessment -> RefundDecisionResult

PURPOSE:
  The algorithmic heart of the engine. Pure: no I/O, no clock, no
  randomness. The same assessment and deposit total always produce the
  same result, so a stored result can be re-verified at any time.

ALGORITHM:
  1. Validate the assessment and the deposit total.
  2. Walk the findings in category order and price each one:
     inspector estimate when present, otherwise the policy's flat charge.
  3. Unauthorized early departure forfeits the deposit (policy default):
     every other line is replaced by a single full-deposit line.
  4. Clamp each line to what is left of the deposit, so
        sum(deductions) == depositTotal - refundAmount
     holds even when the charges exceed the deposit.
  5. Recommendation:
        no deductions        -> FullRefund
        nothing left         -> NoRefund
        otherwise            -> PartialRefund
  6. HR review when the tenant left early without approval, exited a
     sponsored program early, the inspector asked for it, or the total
     deducted is over the policy threshold.

EXAMPLE:
  Deposit $500, cleaning issues estimated at $50, one house-rule violation:

    deductions:     [{cleaning, 50}, {house_rules, 25}]
    refundAmount:   425
    recommendation: PartialRefund
*/
package deposit

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RESULT
// =============================================================================

type Recommendation string

const (
	FullRefund    Recommendation = "full_refund"
	PartialRefund Recommendation = "partial_refund"
	NoRefund      Recommendation = "no_refund"
)

// Deduction is one line item withheld from the deposit.
type Deduction struct {
	Category Category `json:"category"`
	Reason   string   `json:"reason"`
	Amount   Money    `json:"amount"`
}

// RefundDecisionResult is derived from an Assessment. Never hand-edit it.
type RefundDecisionResult struct {
	Eligible         bool           `json:"eligible"`
	Recommendation   Recommendation `json:"recommendation"`
	DepositTotal     Money          `json:"deposit_total"`
	RefundAmount     Money          `json:"refund_amount"`
	TotalDeductions  Money          `json:"total_deductions"`
	Deductions       []Deduction    `json:"deductions"`
	Reasons          []string       `json:"reasons"`
	RequiresHRReview bool           `json:"requires_hr_review"`
}

// DecisionType maps the recommendation onto the decision's type.
func (r RefundDecisionResult) DecisionType() DecisionType {
	switch r.Recommendation {
	case FullRefund:
		return TypeApproved
	case NoRefund:
		return TypeDenied
	default:
		return TypePartial
	}
}

// Equal compares two results value by value. Decimal amounts are compared
// numerically, so 50 and 50.00 are the same.
func (r RefundDecisionResult) Equal(o RefundDecisionResult) bool {
	if r.Eligible != o.Eligible ||
		r.Recommendation != o.Recommendation ||
		r.RequiresHRReview != o.RequiresHRReview ||
		!r.DepositTotal.Equal(o.DepositTotal) ||
		!r.RefundAmount.Equal(o.RefundAmount) ||
		!r.TotalDeductions.Equal(o.TotalDeductions) ||
		len(r.Deductions) != len(o.Deductions) ||
		len(r.Reasons) != len(o.Reasons) {
		return false
	}
	for i := range r.Deductions {
		a, b := r.Deductions[i], o.Deductions[i]
		if a.Category != b.Category || a.Reason != b.Reason || !a.Amount.Equal(b.Amount) {
			return false
		}
	}
	for i := range r.Reasons {
		if r.Reasons[i] != o.Reasons[i] {
			return false
		}
	}
	return true
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator prices assessments against a refund policy.
type Calculator struct {
	Policy RefundPolicy
}

func NewCalculator(policy RefundPolicy) *Calculator {
	return &Calculator{Policy: policy}
}

// ComputeRefund prices an assessment with the default policy.
func ComputeRefund(a Assessment, depositTotal Money) (RefundDecisionResult, error) {
	return NewCalculator(DefaultPolicy()).Compute(a, depositTotal)
}

// Compute derives the refund outcome for one assessment.
func (c *Calculator) Compute(a Assessment, depositTotal Money) (RefundDecisionResult, error) {
	if !depositTotal.IsPositive() {
		return RefundDecisionResult{}, invalidAssessment("deposit_total", "must be positive, got %s", depositTotal)
	}
	if err := a.Validate(); err != nil {
		return RefundDecisionResult{}, err
	}

	p := c.Policy
	findings := a.Findings()

	var lines []pricedLine
	var hrTriggers []string
	forfeited := false

	for _, f := range findings {
		switch f := f.(type) {
		case DamageFinding:
			amt := estimateOr(f.EstimatedCost, p.DamageFlat)
			lines = append(lines, pricedLine{
				category: CategoryDamage,
				reason:   "Property damage",
				amount:   amt,
				sentence: describe("Property damage", f.Description),
			})
		case CleaningFinding:
			flat := p.CleaningFlat
			label := "Cleaning required"
			if f.Professional {
				flat = p.ProfessionalCleaningFlat
				label = "Professional cleaning required"
			}
			lines = append(lines, pricedLine{
				category: CategoryCleaning,
				reason:   label,
				amount:   estimateOr(f.EstimatedCost, flat),
				sentence: describe("Unit not cleaned to check-in condition", strings.Join(f.Issues, ", ")),
			})
		case ItemsFinding:
			flat := p.ItemRemovalFlat
			label := "Item removal"
			if f.Disposal {
				flat = p.ItemDisposalFlat
				label = "Item disposal"
			}
			lines = append(lines, pricedLine{
				category: CategoryItems,
				reason:   label,
				amount:   estimateOr(f.EstimatedCost, flat),
				sentence: describe("Personal items left behind", strings.Join(f.Items, ", ")),
			})
		case RuleViolationFinding:
			n := f.ViolationCount()
			lines = append(lines, pricedLine{
				category: CategoryRuleViolation,
				reason:   "House rules violations",
				amount:   perViolation(p.RuleViolationFlat, n),
				sentence: describe(fmt.Sprintf("%d house rule violation(s)", n), strings.Join(f.Violations, ", ")),
			})
		case EarlyDepartureFinding:
			hrTriggers = append(hrTriggers, "left before the agreed end date without an approved reason")
			if p.EarlyDepartureForfeitsDeposit {
				forfeited = true
				continue
			}
			lines = append(lines, pricedLine{
				category: CategoryEarlyDeparture,
				reason:   "Early departure",
				amount:   p.EarlyDepartureFlat,
				sentence: describe("Early departure on "+f.DepartedOn.String(), f.Reason),
			})
		case ProgramExitFinding:
			hrTriggers = append(hrTriggers, "exited the sponsored program before its end date")
			lines = append(lines, pricedLine{
				category: CategoryProgramExit,
				reason:   "Program compliance violation",
				amount:   p.ProgramExitFlat,
				sentence: fmt.Sprintf("Departed %s, before program end date %s", f.DepartedOn, f.ProgramEndDate),
			})
		default:
			return RefundDecisionResult{}, invalidAssessment("", "unhandled finding %T", f)
		}
	}

	if forfeited {
		superseded := len(lines)
		sentence := "Left before the agreed end date without approval: deposit forfeited"
		if superseded > 0 {
			sentence += fmt.Sprintf(" (supersedes %d other finding(s))", superseded)
		}
		lines = []pricedLine{{
			category: CategoryEarlyDeparture,
			reason:   "Early departure - non-refundable",
			amount:   depositTotal,
			sentence: sentence,
		}}
	}

	result := RefundDecisionResult{
		DepositTotal: depositTotal,
		Deductions:   []Deduction{},
		Reasons:      []string{},
	}

	remaining := depositTotal
	for _, l := range lines {
		if !l.amount.IsPositive() {
			// Waived by policy.
			continue
		}
		charged := minMoney(l.amount, remaining)
		if charged.IsZero() {
			// Deposit already exhausted.
			continue
		}
		remaining = remaining.Sub(charged)
		result.Deductions = append(result.Deductions, Deduction{
			Category: l.category,
			Reason:   l.reason,
			Amount:   charged,
		})
		result.Reasons = append(result.Reasons, fmt.Sprintf("%s: $%s deducted", l.sentence, charged.StringFixed(2)))
	}

	result.RefundAmount = remaining
	result.TotalDeductions = depositTotal.Sub(remaining)

	switch {
	case len(result.Deductions) == 0:
		result.Recommendation = FullRefund
	case result.RefundAmount.IsZero():
		result.Recommendation = NoRefund
	default:
		result.Recommendation = PartialRefund
	}
	result.Eligible = result.Recommendation != NoRefund

	if a.Residency.HRReviewRequired {
		hrTriggers = append(hrTriggers, "inspector requested HR review")
	}
	if p.HRReviewThreshold.IsPositive() && result.TotalDeductions.GreaterThan(p.HRReviewThreshold) {
		hrTriggers = append(hrTriggers, fmt.Sprintf("total deductions exceed $%s", p.HRReviewThreshold.StringFixed(2)))
	}
	if len(hrTriggers) > 0 {
		result.RequiresHRReview = true
		result.Reasons = append(result.Reasons, "HR review required: "+strings.Join(hrTriggers, "; "))
	}

	return result, nil
}

// Verify recomputes the result and reports whether a stored one matches.
func (c *Calculator) Verify(a Assessment, depositTotal Money, stored RefundDecisionResult) error {
	fresh, err := c.Compute(a, depositTotal)
	if err != nil {
		return err
	}
	if !fresh.Equal(stored) {
		return invalidAssessment("result", "does not match recomputation (expected refund %s, got %s)",
			fresh.RefundAmount.StringFixed(2), stored.RefundAmount.StringFixed(2))
	}
	return nil
}

// CheckInvariants validates the arithmetic of a result without recomputing it.
func (r RefundDecisionResult) CheckInvariants() error {
	sum := decimal.Zero
	for _, d := range r.Deductions {
		if d.Amount.IsNegative() {
			return invalidAssessment("result.deductions", "negative deduction %s", d.Amount)
		}
		sum = sum.Add(d.Amount)
	}
	if r.RefundAmount.IsNegative() || r.RefundAmount.GreaterThan(r.DepositTotal) {
		return invalidAssessment("result.refund_amount", "%s outside [0, %s]", r.RefundAmount, r.DepositTotal)
	}
	if !sum.Equal(r.DepositTotal.Sub(r.RefundAmount)) {
		return invalidAssessment("result.deductions", "sum %s does not equal deposit total minus refund", sum)
	}
	if (r.Recommendation == FullRefund) != (len(r.Deductions) == 0) {
		return invalidAssessment("result.recommendation", "%s inconsistent with %d deductions", r.Recommendation, len(r.Deductions))
	}
	return nil
}

type pricedLine struct {
	category Category
	reason   string
	amount   Money
	sentence string
}

func describe(headline, detail string) string {
	if strings.TrimSpace(detail) == "" {
		return headline
	}
	return headline + " (" + detail + ")"
}
