// Package flow implements the wizard's step machine and durable state.
//
// This file holds the transition rules: forward one step at a time,
// backward to any previously reached step, with per-boundary data
// invalidation and the preview-driven payment skip decisions.
package flow

import (
	"fmt"
	"log/slog"

	"github.com/rocky28r/payment-widget-test/internal/models"
)

// Machine applies navigation rules on top of the durable state.
type Machine struct {
	state *StateManager
}

// NewMachine wraps a state manager with the transition rules.
func NewMachine(state *StateManager) *Machine {
	return &Machine{state: state}
}

// State exposes the underlying manager for collaborators that need
// Snapshot/Mutate access.
func (m *Machine) State() *StateManager { return m.state }

// CanNavigateTo reports whether a direct jump to target is allowed:
// backward to any step up to the high-water mark, forward only to the
// immediate successor.
func (m *Machine) CanNavigateTo(target models.StepID) bool {
	if target < models.FirstStep || target > models.LastStep {
		return false
	}
	s := m.state.Snapshot()
	if target > s.CurrentStep {
		return target == s.CurrentStep+1
	}
	return target <= s.MaxReachedStep
}

// NavigateTo moves the flow to target. Forward moves are restricted to
// the immediate next step; backward moves land on any reached step and
// clear exactly the data the target step's boundary invalidates.
func (m *Machine) NavigateTo(target models.StepID) error {
	if target < models.FirstStep || target > models.LastStep {
		return fmt.Errorf("step %d out of range", target)
	}
	s := m.state.Snapshot()
	if target == s.CurrentStep {
		return nil
	}
	if target > s.CurrentStep {
		return m.navigateForward(s, target)
	}
	return m.navigateBackward(s, target)
}

func (m *Machine) navigateForward(s models.FlowState, target models.StepID) error {
	if target > s.CurrentStep+1 {
		return fmt.Errorf("cannot skip ahead to %s from %s", target, s.CurrentStep)
	}
	if err := m.validateAdvanceFrom(s); err != nil {
		return err
	}

	// Respect the skip decisions recorded at preview time, not a
	// recomputation that might disagree after voucher or date changes.
	target = m.resolveForwardSkips(s, target)

	return m.state.Mutate(func(state *models.FlowState) {
		state.CurrentStep = target
		if target > state.MaxReachedStep {
			state.MaxReachedStep = target
		}
	})
}

// BackwardWarning returns the confirmation prompt a backward move to
// target should show first, or empty when the move loses nothing: the
// target is not behind the current step, its boundary carries no
// warning, or none of the data it would clear has been entered yet.
func (m *Machine) BackwardWarning(target models.StepID) string {
	if target < models.FirstStep || target > models.LastStep {
		return ""
	}
	s := m.state.Snapshot()
	if target >= s.CurrentStep {
		return ""
	}
	def := definition(m.resolveBackwardSkips(s, target))
	if def.Warning == "" || !invalidationLosesData(s, def.Invalidates) {
		return ""
	}
	return def.Warning
}

func (m *Machine) navigateBackward(s models.FlowState, target models.StepID) error {
	target = m.resolveBackwardSkips(s, target)
	def := definition(target)
	return m.state.Mutate(func(state *models.FlowState) {
		applyInvalidations(state, def.Invalidates)
		state.CurrentStep = target
	})
}

// validateAdvanceFrom gates forward movement on the current step's data
// being present.
func (m *Machine) validateAdvanceFrom(s models.FlowState) error {
	switch s.CurrentStep {
	case models.StepOfferSelection, models.StepOfferDetails:
		if !s.SelectedOffer.Valid() {
			return fmt.Errorf("no offer selected")
		}
	case models.StepPersonalInfo:
		if s.Customer.FirstName == "" || s.Customer.LastName == "" || s.Customer.Email == "" {
			return fmt.Errorf("personal info incomplete")
		}
	case models.StepPreview:
		if s.Preview == nil {
			return fmt.Errorf("no pricing preview loaded")
		}
	case models.StepRecurringPayment:
		if !s.Payment.SkippedRecurring && s.Payment.RecurringToken == "" {
			return fmt.Errorf("recurring payment method not captured")
		}
	case models.StepUpfrontPayment:
		if !s.Payment.SkippedUpfront && s.Payment.UpfrontToken == "" {
			return fmt.Errorf("upfront payment not captured")
		}
	}
	return nil
}

// resolveForwardSkips walks target past payment sub-steps flagged as
// skipped.
func (m *Machine) resolveForwardSkips(s models.FlowState, target models.StepID) models.StepID {
	for {
		if target == models.StepRecurringPayment && s.Payment.SkippedRecurring {
			target++
			continue
		}
		if target == models.StepUpfrontPayment && s.Payment.SkippedUpfront {
			target++
			continue
		}
		return target
	}
}

// resolveBackwardSkips walks target back past skipped payment
// sub-steps so the customer never lands on a screen that was never
// shown.
func (m *Machine) resolveBackwardSkips(s models.FlowState, target models.StepID) models.StepID {
	for {
		if target == models.StepUpfrontPayment && s.Payment.SkippedUpfront {
			target--
			continue
		}
		if target == models.StepRecurringPayment && s.Payment.SkippedRecurring {
			target--
			continue
		}
		return target
	}
}

// SkipDecision captures which payment sub-steps a preview makes
// unnecessary.
type SkipDecision struct {
	SkipRecurring bool
	SkipUpfront   bool
}

// DecideSkips derives the skip decision from a pricing preview:
// nothing due and no schedule skips both, full payment upfront skips
// the mandate, nothing due today skips the upfront charge.
func DecideSkips(preview *models.PricingPreview) SkipDecision {
	due := preview.DueToday().Amount
	total := preview.TotalVolume()
	hasRecurring := preview.HasRecurringCharges()
	hasUpfront := due > 0

	switch {
	case !hasRecurring && !hasUpfront:
		return SkipDecision{SkipRecurring: true, SkipUpfront: true}
	case hasUpfront && due == total:
		return SkipDecision{SkipRecurring: true}
	case !hasUpfront && hasRecurring:
		return SkipDecision{SkipUpfront: true}
	default:
		return SkipDecision{}
	}
}

// ApplyPreview replaces the pricing preview wholesale and re-derives
// the skip decision. When the amount due today changes, a previously
// captured upfront token no longer authorizes the right charge and is
// dropped; a captured recurring mandate stays valid since its amount
// is always zero.
func (m *Machine) ApplyPreview(preview *models.PricingPreview) error {
	if preview == nil {
		return fmt.Errorf("preview must not be nil")
	}
	decision := DecideSkips(preview)
	return m.state.Mutate(func(state *models.FlowState) {
		previousDue := state.Preview.DueToday()
		newDue := preview.DueToday()
		if state.Payment.UpfrontToken != "" && previousDue != newDue {
			slog.Info("Machine ApplyPreview dropping upfront token after due amount change",
				"previousDue", previousDue.Amount, "newDue", newDue.Amount)
			state.Payment.UpfrontToken = ""
			state.Payment.UpfrontSessionToken = ""
		}
		state.Preview = preview
		state.Payment.SkippedRecurring = decision.SkipRecurring
		state.Payment.SkippedUpfront = decision.SkipUpfront
	})
}

// FirstPaymentStep returns the first payment sub-step the current skip
// flags leave visible, or the confirmation step when both are skipped.
func (m *Machine) FirstPaymentStep() models.StepID {
	s := m.state.Snapshot()
	switch {
	case !s.Payment.SkippedRecurring:
		return models.StepRecurringPayment
	case !s.Payment.SkippedUpfront:
		return models.StepUpfrontPayment
	default:
		return models.StepConfirm
	}
}
