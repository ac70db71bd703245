/*
assessment.go - Move-out inspection record and its findings

PURPOSE:
  The Assessment is what an inspector fills in when a tenant moves out.
  It is immutable once a decision referencing it leaves Draft.

SECTIONS (all required):
  PropertyDamage  damage present, description, estimated repair cost
  Cleaning        cleaned properly, issue list, professional cleaning flag
  PersonalItems   items left behind, disposal flag
  HouseRules      violations and the dates they happened
  Residency       stayed until end date, departure date, early-departure reason
  Program         sponsored worker, program end date, company relocation

FINDINGS:
  Findings() turns the sections into a closed set of non-compliance
  values. The calculator switches over them exhaustively, so a new
  category is a compile-visible change in one place:

    DamageFinding | CleaningFinding | ItemsFinding |
    RuleViolationFinding | EarlyDepartureFinding | ProgramExitFinding

VERSIONING:
  Version must equal AssessmentVersion. Older payloads are rejected
  rather than guessed at.
*/
package deposit

// AssessmentVersion is the only assessment schema the calculator accepts.
const AssessmentVersion = 1

// Assessment is a structured move-out inspection.
type Assessment struct {
	Version int `json:"version"`

	PropertyDamage *PropertyDamage `json:"property_damage"`
	Cleaning       *CleaningStatus `json:"cleaning"`
	PersonalItems  *PersonalItems  `json:"personal_items"`
	HouseRules     *HouseRules     `json:"house_rules"`
	Residency      *Residency      `json:"residency"`
	Program        *Program        `json:"program"`

	Notes          string  `json:"notes,omitempty"`
	InspectedBy    ActorID `json:"inspected_by"`
	InspectionDate Date    `json:"inspection_date"`
}

type PropertyDamage struct {
	HasDamage     bool   `json:"has_damage"`
	Description   string `json:"description,omitempty"`
	EstimatedCost Money  `json:"estimated_cost"`
}

type CleaningStatus struct {
	CleanedProperly              bool     `json:"cleaned_properly"`
	Issues                       []string `json:"issues,omitempty"`
	ProfessionalCleaningRequired bool     `json:"professional_cleaning_required"`
	EstimatedCost                Money    `json:"estimated_cost"`
}

type PersonalItems struct {
	AllItemsRemoved  bool     `json:"all_items_removed"`
	ItemsLeftBehind  []string `json:"items_left_behind,omitempty"`
	DisposalRequired bool     `json:"disposal_required"`
	EstimatedCost    Money    `json:"estimated_cost"`
}

type HouseRules struct {
	RulesFollowed  bool     `json:"rules_followed"`
	Violations     []string `json:"violations,omitempty"`
	ViolationDates []Date   `json:"violation_dates,omitempty"`
}

type Residency struct {
	StayedUntilEndDate     bool   `json:"stayed_until_end_date"`
	ActualDepartureDate    Date   `json:"actual_departure_date"`
	EarlyDepartureReason   string `json:"early_departure_reason,omitempty"`
	EarlyDepartureApproved bool   `json:"early_departure_approved"`
	HRReviewRequired       bool   `json:"hr_review_required"`
}

type Program struct {
	SponsoredWorker   bool `json:"sponsored_worker"`
	ProgramEndDate    Date `json:"program_end_date"`
	CompanyRelocation bool `json:"company_relocation"`
}

// CompliantAssessment returns a fully compliant version-1 assessment.
// Handy as a starting point for forms and tests.
func CompliantAssessment(inspector ActorID, on Date) Assessment {
	return Assessment{
		Version:        AssessmentVersion,
		PropertyDamage: &PropertyDamage{},
		Cleaning:       &CleaningStatus{CleanedProperly: true},
		PersonalItems:  &PersonalItems{AllItemsRemoved: true},
		HouseRules:     &HouseRules{RulesFollowed: true},
		Residency:      &Residency{StayedUntilEndDate: true, ActualDepartureDate: on},
		Program:        &Program{},
		InspectedBy:    inspector,
		InspectionDate: on,
	}
}

// Validate checks structural completeness. It does not judge compliance.
func (a Assessment) Validate() error {
	if a.Version != AssessmentVersion {
		return invalidAssessment("version", "unsupported version %d", a.Version)
	}
	switch {
	case a.PropertyDamage == nil:
		return invalidAssessment("property_damage", "section is required")
	case a.Cleaning == nil:
		return invalidAssessment("cleaning", "section is required")
	case a.PersonalItems == nil:
		return invalidAssessment("personal_items", "section is required")
	case a.HouseRules == nil:
		return invalidAssessment("house_rules", "section is required")
	case a.Residency == nil:
		return invalidAssessment("residency", "section is required")
	case a.Program == nil:
		return invalidAssessment("program", "section is required")
	}

	costs := []struct {
		field string
		cost  Money
	}{
		{"property_damage.estimated_cost", a.PropertyDamage.EstimatedCost},
		{"cleaning.estimated_cost", a.Cleaning.EstimatedCost},
		{"personal_items.estimated_cost", a.PersonalItems.EstimatedCost},
	}
	for _, c := range costs {
		if c.cost.IsNegative() {
			return invalidAssessment(c.field, "must not be negative")
		}
	}

	if a.Program.SponsoredWorker && a.Program.ProgramEndDate.IsZero() {
		return invalidAssessment("program.program_end_date", "required for sponsored workers")
	}
	if !a.Residency.StayedUntilEndDate && a.Residency.ActualDepartureDate.IsZero() {
		return invalidAssessment("residency.actual_departure_date", "required when the tenant left early")
	}
	return nil
}

// =============================================================================
// FINDINGS - Closed sum type of non-compliant categories
// =============================================================================

// Category names a deduction category. The order of the constants is the
// order deductions are applied in.
type Category string

const (
	CategoryDamage         Category = "property_damage"
	CategoryCleaning       Category = "cleaning"
	CategoryItems          Category = "personal_items"
	CategoryRuleViolation  Category = "house_rules"
	CategoryEarlyDeparture Category = "early_departure"
	CategoryProgramExit    Category = "program_exit"
)

// Finding is one non-compliant category discovered in an assessment.
// The interface is sealed: only this package can implement it.
type Finding interface {
	Category() Category
	finding()
}

type DamageFinding struct {
	Description   string
	EstimatedCost Money
}

type CleaningFinding struct {
	Issues        []string
	Professional  bool
	EstimatedCost Money
}

type ItemsFinding struct {
	Items         []string
	Disposal      bool
	EstimatedCost Money
}

type RuleViolationFinding struct {
	Violations []string
}

type EarlyDepartureFinding struct {
	DepartedOn Date
	Reason     string
}

type ProgramExitFinding struct {
	DepartedOn     Date
	ProgramEndDate Date
}

func (DamageFinding) Category() Category         { return CategoryDamage }
func (CleaningFinding) Category() Category       { return CategoryCleaning }
func (ItemsFinding) Category() Category          { return CategoryItems }
func (RuleViolationFinding) Category() Category  { return CategoryRuleViolation }
func (EarlyDepartureFinding) Category() Category { return CategoryEarlyDeparture }
func (ProgramExitFinding) Category() Category    { return CategoryProgramExit }

func (DamageFinding) finding()         {}
func (CleaningFinding) finding()       {}
func (ItemsFinding) finding()          {}
func (RuleViolationFinding) finding()  {}
func (EarlyDepartureFinding) finding() {}
func (ProgramExitFinding) finding()    {}

// ViolationCount is the number of charged violations. A non-compliant
// rules section with no listed violations still counts as one.
func (f RuleViolationFinding) ViolationCount() int {
	if len(f.Violations) == 0 {
		return 1
	}
	return len(f.Violations)
}

// Findings returns the non-compliant categories in deduction order.
// The assessment must already be valid.
func (a Assessment) Findings() []Finding {
	var out []Finding

	if a.PropertyDamage.HasDamage {
		out = append(out, DamageFinding{
			Description:   a.PropertyDamage.Description,
			EstimatedCost: a.PropertyDamage.EstimatedCost,
		})
	}
	if !a.Cleaning.CleanedProperly {
		out = append(out, CleaningFinding{
			Issues:        a.Cleaning.Issues,
			Professional:  a.Cleaning.ProfessionalCleaningRequired,
			EstimatedCost: a.Cleaning.EstimatedCost,
		})
	}
	if !a.PersonalItems.AllItemsRemoved {
		out = append(out, ItemsFinding{
			Items:         a.PersonalItems.ItemsLeftBehind,
			Disposal:      a.PersonalItems.DisposalRequired,
			EstimatedCost: a.PersonalItems.EstimatedCost,
		})
	}
	if !a.HouseRules.RulesFollowed {
		out = append(out, RuleViolationFinding{Violations: a.HouseRules.Violations})
	}
	if a.leftEarlyWithoutApproval() {
		out = append(out, EarlyDepartureFinding{
			DepartedOn: a.Residency.ActualDepartureDate,
			Reason:     a.Residency.EarlyDepartureReason,
		})
	}
	if a.exitedProgramEarly() {
		out = append(out, ProgramExitFinding{
			DepartedOn:     a.Residency.ActualDepartureDate,
			ProgramEndDate: a.Program.ProgramEndDate,
		})
	}
	return out
}

// Company relocations never count against the tenant.
func (a Assessment) leftEarlyWithoutApproval() bool {
	return !a.Residency.StayedUntilEndDate &&
		!a.Residency.EarlyDepartureApproved &&
		!a.Program.CompanyRelocation
}

func (a Assessment) exitedProgramEarly() bool {
	p := a.Program
	if !p.SponsoredWorker || p.CompanyRelocation {
		return false
	}
	departed := a.Residency.ActualDepartureDate
	if departed.IsZero() {
		return false
	}
	return departed.Before(p.ProgramEndDate)
}

// Clone returns a deep copy so a stored assessment can't be changed
// through the caller's slices or section pointers.
func (a Assessment) Clone() Assessment {
	c := a
	if a.PropertyDamage != nil {
		v := *a.PropertyDamage
		c.PropertyDamage = &v
	}
	if a.Cleaning != nil {
		v := *a.Cleaning
		v.Issues = cloneStrings(v.Issues)
		c.Cleaning = &v
	}
	if a.PersonalItems != nil {
		v := *a.PersonalItems
		v.ItemsLeftBehind = cloneStrings(v.ItemsLeftBehind)
		c.PersonalItems = &v
	}
	if a.HouseRules != nil {
		v := *a.HouseRules
		v.Violations = cloneStrings(v.Violations)
		if v.ViolationDates != nil {
			v.ViolationDates = append([]Date(nil), v.ViolationDates...)
		}
		c.HouseRules = &v
	}
	if a.Residency != nil {
		v := *a.Residency
		c.Residency = &v
	}
	if a.Program != nil {
		v := *a.Program
		c.Program = &v
	}
	return c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}
