/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Populates the database with deposits, actors and (optionally) decisions
  so the finance and HR screens have something to show.

AVAILABLE SCENARIOS:
  reference-data:    Deposits and actors only
  approval-backlog:  Reference data plus decisions at every stage
  sponsored-program: Sponsored workers leaving before their program ends

HOW SCENARIOS WORK:
 1. Upsert actors (display names for the audit trail)
 2. Upsert deposits
 3. Optionally run assessments through the engine and advance them

  Nothing is reset. The audit ledger is append-only, so a reload only
  refreshes reference data; decisions that already exist are left alone.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "approval-backlog"}

SEE ALSO:
  - handlers.go: Handler
  - deposit/workflow.go: Engine used to seed decisions
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/deposit-refunds/deposit"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "reference-data",
		Name:        "Reference Data",
		Description: "Deposits and staff, no decisions",
	},
	{
		ID:          "approval-backlog",
		Name:        "Approval Backlog",
		Description: "Drafts, pending approvals and a decided refund awaiting HR review",
	},
	{
		ID:          "sponsored-program",
		Name:        "Sponsored Program Exits",
		Description: "Sponsored workers leaving early, with and without company relocation",
	},
}

const (
	demoInspector deposit.ActorID = "inspector-1"
	demoFinance   deposit.ActorID = "finance-1"
	demoHR        deposit.ActorID = "hr-1"
)

var demoActors = []deposit.Actor{
	{ID: demoInspector, DisplayName: "Marta Ruiz", Role: "inspector"},
	{ID: demoFinance, DisplayName: "Jonas Berg", Role: "finance"},
	{ID: demoHR, DisplayName: "Priya Nair", Role: "hr"},
	{ID: deposit.SystemActor, DisplayName: "System", Role: "system"},
}

var demoDeposits = []deposit.DepositRef{
	{ID: "dep-1001", TenantName: "Ana Souza", PropertyName: "Maple House", RoomName: "2B", Total: deposit.Dollars(500)},
	{ID: "dep-1002", TenantName: "Li Wei", PropertyName: "Maple House", RoomName: "3A", Total: deposit.Dollars(500)},
	{ID: "dep-1003", TenantName: "Kwame Mensah", PropertyName: "Harbor Lofts", RoomName: "104", Total: deposit.Dollars(750)},
	{ID: "dep-1004", TenantName: "Sofia Rossi", PropertyName: "Harbor Lofts", RoomName: "210", Total: deposit.Dollars(750)},
}

var sponsoredDeposits = []deposit.DepositRef{
	{ID: "dep-2001", TenantName: "Diego Alves", PropertyName: "Cedar Court", RoomName: "1C", Total: deposit.Dollars(600)},
	{ID: "dep-2002", TenantName: "Mei Tanaka", PropertyName: "Cedar Court", RoomName: "1D", Total: deposit.Dollars(600)},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a demo scenario by id.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	var scenario *ScenarioDTO
	for i := range scenarios {
		if scenarios[i].ID == req.ScenarioID {
			scenario = &scenarios[i]
		}
	}
	if scenario == nil {
		writeError(w, http.StatusNotFound, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	result := ScenarioResultDTO{Scenario: *scenario}
	var err error
	switch scenario.ID {
	case "reference-data":
		err = h.loadReferenceData(r.Context(), demoDeposits, &result)
	case "approval-backlog":
		err = h.loadApprovalBacklog(r.Context(), &result)
	case "sponsored-program":
		err = h.loadSponsoredProgram(r.Context(), &result)
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.Logger.Info().Str("scenario", scenario.ID).
		Int("deposits", len(result.Deposits)).
		Int("decisions", len(result.Decisions)).
		Msg("scenario loaded")
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// LOADERS
// =============================================================================

func (h *Handler) loadReferenceData(ctx context.Context, deposits []deposit.DepositRef, result *ScenarioResultDTO) error {
	for _, a := range demoActors {
		if err := h.Seeder.SaveActor(ctx, a); err != nil {
			return err
		}
	}
	for _, ref := range deposits {
		if err := h.Seeder.SaveDeposit(ctx, ref); err != nil {
			return err
		}
		result.Deposits = append(result.Deposits, ref.ID)
	}
	return nil
}

// hasDecision reports whether the deposit already has a decision in any
// status. Seeding skips those so a reload never adds decisions.
func (h *Handler) hasDecision(ctx context.Context, id deposit.DepositID) (bool, error) {
	_, err := h.Engine.LatestDecision(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, deposit.ErrDecisionNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (h *Handler) loadApprovalBacklog(ctx context.Context, result *ScenarioResultDTO) error {
	if err := h.loadReferenceData(ctx, demoDeposits, result); err != nil {
		return err
	}
	today := deposit.DateOf(time.Now())

	// dep-1001: clean move-out, left as a draft
	clean := deposit.CompliantAssessment(demoInspector, today)

	// dep-1002: cleaning plus items left behind, submitted
	messy := deposit.CompliantAssessment(demoInspector, today)
	messy.Cleaning = &deposit.CleaningStatus{
		Issues:        []string{"oven", "bathroom grout"},
		EstimatedCost: deposit.Dollars(75),
	}
	messy.PersonalItems = &deposit.PersonalItems{
		ItemsLeftBehind:  []string{"mattress"},
		DisposalRequired: true,
	}

	// dep-1003: damage over the HR threshold, submitted
	damaged := deposit.CompliantAssessment(demoInspector, today)
	damaged.PropertyDamage = &deposit.PropertyDamage{
		HasDamage:     true,
		Description:   "Broken window and stained carpet",
		EstimatedCost: deposit.Dollars(320),
	}

	// dep-1004: unapproved early departure, approved by finance, HR open
	early := deposit.CompliantAssessment(demoInspector, today)
	early.Residency = &deposit.Residency{
		ActualDepartureDate:  today,
		EarlyDepartureReason: "Personal reasons",
	}

	steps := []struct {
		id      deposit.DepositID
		a       deposit.Assessment
		submit  bool
		approve bool
	}{
		{"dep-1001", clean, false, false},
		{"dep-1002", messy, true, false},
		{"dep-1003", damaged, true, false},
		{"dep-1004", early, true, true},
	}
	for _, s := range steps {
		seeded, err := h.hasDecision(ctx, s.id)
		if err != nil {
			return err
		}
		if seeded {
			continue
		}
		d, err := h.Engine.Assess(ctx, s.id, s.a, demoInspector)
		if err != nil {
			return fmt.Errorf("seed %s: %w", s.id, err)
		}
		if s.submit {
			if d, err = h.Engine.SubmitForFinanceApproval(ctx, d.ID, demoInspector); err != nil {
				return fmt.Errorf("seed %s: %w", s.id, err)
			}
		}
		if s.approve {
			if d, err = h.Engine.FinanceApprove(ctx, d.ID, demoFinance, true, "Forfeit per early departure rule"); err != nil {
				return fmt.Errorf("seed %s: %w", s.id, err)
			}
		}
		result.Decisions = append(result.Decisions, d.ID)
	}
	return nil
}

func (h *Handler) loadSponsoredProgram(ctx context.Context, result *ScenarioResultDTO) error {
	if err := h.loadReferenceData(ctx, sponsoredDeposits, result); err != nil {
		return err
	}
	today := deposit.DateOf(time.Now())
	programEnd := deposit.DateOf(time.Now().AddDate(0, 3, 0))

	// dep-2001: quit the program early, program exit fee applies
	quit := deposit.CompliantAssessment(demoInspector, today)
	quit.Residency = &deposit.Residency{
		ActualDepartureDate:    today,
		EarlyDepartureReason:   "Left the program",
		EarlyDepartureApproved: true,
	}
	quit.Program = &deposit.Program{SponsoredWorker: true, ProgramEndDate: programEnd}

	// dep-2002: relocated by the company, full refund
	relocated := deposit.CompliantAssessment(demoInspector, today)
	relocated.Residency = &deposit.Residency{
		ActualDepartureDate:  today,
		EarlyDepartureReason: "Company relocation",
	}
	relocated.Program = &deposit.Program{SponsoredWorker: true, ProgramEndDate: programEnd, CompanyRelocation: true}

	for _, s := range []struct {
		id deposit.DepositID
		a  deposit.Assessment
	}{{"dep-2001", quit}, {"dep-2002", relocated}} {
		seeded, err := h.hasDecision(ctx, s.id)
		if err != nil {
			return err
		}
		if seeded {
			continue
		}
		d, err := h.Engine.Assess(ctx, s.id, s.a, demoInspector)
		if err != nil {
			return fmt.Errorf("seed %s: %w", s.id, err)
		}
		result.Decisions = append(result.Decisions, d.ID)
	}
	return nil
}
