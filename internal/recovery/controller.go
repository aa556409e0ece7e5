// Package recovery resumes the contract flow after a full page reload,
// in particular the reload caused by an external payment redirect
// (3-D Secure and wallet flows).
//
// The controller runs once at startup, before normal step rendering.
// It prefers an explicit resume hint carried in the URL, falls back to
// the persisted awaiting-redirect markers, and fails safe to the first
// step whenever the persisted state is too incoherent to resume.
package recovery

import (
	"log/slog"
	"net/url"
	"strconv"

	"github.com/rocky28r/payment-widget-test/internal/flow"
	"github.com/rocky28r/payment-widget-test/internal/models"
)

// Widget container ids used for remounts.
const (
	RecurringContainer = "recurring-payment-container"
	UpfrontContainer   = "upfront-payment-container"
)

// URL query parameters carrying the resume hint.
const (
	stepParam    = "step"
	paymentParam = "payment"
)

// URLHint is the resume position encoded into the URL on navigation.
type URLHint struct {
	Step        models.StepID
	PaymentStep models.PaymentSubStep
}

// ParseResumeURL extracts the resume hint from a raw URL. The second
// return is false when the URL carries no usable hint.
func ParseResumeURL(rawURL string) (URLHint, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return URLHint{}, false
	}
	q := u.Query()
	stepValue := q.Get(stepParam)
	if stepValue == "" {
		return URLHint{}, false
	}
	step, err := strconv.Atoi(stepValue)
	if err != nil || models.StepID(step) < models.FirstStep || models.StepID(step) > models.LastStep {
		return URLHint{}, false
	}

	hint := URLHint{Step: models.StepID(step)}
	switch models.PaymentSubStep(q.Get(paymentParam)) {
	case models.PaymentSubStepRecurring:
		hint.PaymentStep = models.PaymentSubStepRecurring
	case models.PaymentSubStepUpfront:
		hint.PaymentStep = models.PaymentSubStepUpfront
	}
	return hint, true
}

// FormatResumeURL renders the query string for a step, the inverse of
// ParseResumeURL.
func FormatResumeURL(step models.StepID, sub models.PaymentSubStep) string {
	q := url.Values{}
	q.Set(stepParam, strconv.Itoa(int(step)))
	if sub != "" {
		q.Set(paymentParam, string(sub))
	}
	return "?" + q.Encode()
}

// Remounter mounts a payment widget into a previously created session.
type Remounter interface {
	Remount(sub models.PaymentSubStep, container string) error
}

// Outcome reports what the controller decided.
type Outcome struct {
	// Step the flow resumed on.
	Step models.StepID
	// Remounted names the payment sub-step whose widget was remounted,
	// empty when no remount happened.
	Remounted models.PaymentSubStep
	// RecurringCompleted is set when the recurring sub-step already
	// holds a token and should render as done while upfront remounts.
	RecurringCompleted bool
	// FailedSafe is set when incoherent state forced a restart at the
	// first step.
	FailedSafe bool
}

// Controller decides the resume position at startup.
type Controller struct {
	machine  *flow.Machine
	payments Remounter
}

// NewController wires the recovery controller.
func NewController(machine *flow.Machine, payments Remounter) *Controller {
	return &Controller{machine: machine, payments: payments}
}

// Resume inspects the URL and persisted state and returns the step the
// flow should render. Call after the state manager has loaded.
func (c *Controller) Resume(rawURL string) Outcome {
	state := c.machine.State().Snapshot()

	if hint, ok := ParseResumeURL(rawURL); ok {
		return c.resumeFromHint(state, hint)
	}

	// No URL hint: the persisted redirect markers are the fallback
	// signal that the reload interrupted an in-flight payment.
	if state.Payment.AwaitingRedirect && state.Payment.ActivePaymentStep != "" {
		slog.Info("Recovery detected return from payment redirect", "subStep", state.Payment.ActivePaymentStep)
		return c.resumePayment(state, state.Payment.ActivePaymentStep)
	}

	// Plain reload: resume wherever the persisted state left off.
	return Outcome{Step: state.CurrentStep}
}

func (c *Controller) resumeFromHint(state models.FlowState, hint URLHint) Outcome {
	if !c.coherentFor(state, hint.Step) {
		slog.Warn("Recovery found incomplete state for hinted step, restarting",
			"hintedStep", hint.Step)
		return c.failSafe()
	}

	// A payment hint only counts when it agrees with the persisted
	// active sub-step; a mismatch means the redirect never happened or
	// already resolved.
	if hint.PaymentStep != "" && hint.PaymentStep == state.Payment.ActivePaymentStep {
		return c.resumePayment(state, hint.PaymentStep)
	}

	if err := c.syncStep(hint.Step); err != nil {
		return c.failSafe()
	}
	return Outcome{Step: hint.Step}
}

// coherentFor checks that the persisted state carries the data the
// target step depends on.
func (c *Controller) coherentFor(state models.FlowState, step models.StepID) bool {
	if step > state.MaxReachedStep {
		return false
	}
	switch {
	case step >= models.StepConfirm:
		return state.SelectedOffer.Valid() && state.Preview != nil &&
			(state.Payment.RecurringToken != "" || state.Payment.UpfrontToken != "" ||
				(state.Payment.SkippedRecurring && state.Payment.SkippedUpfront))
	case step >= models.StepPreview:
		return state.SelectedOffer.Valid() && state.Preview != nil
	case step >= models.StepOfferDetails:
		return state.SelectedOffer.Valid()
	default:
		return true
	}
}

func (c *Controller) resumePayment(state models.FlowState, sub models.PaymentSubStep) Outcome {
	// Awaiting an upfront redirect without a preview (or any redirect
	// without an offer) cannot be replayed faithfully.
	if !state.SelectedOffer.Valid() || state.Preview == nil {
		slog.Warn("Recovery state incoherent for payment resume, restarting", "subStep", sub)
		return c.failSafe()
	}

	step := models.StepRecurringPayment
	container := RecurringContainer
	if sub == models.PaymentSubStepUpfront {
		step = models.StepUpfrontPayment
		container = UpfrontContainer
	}
	if err := c.syncStep(step); err != nil {
		return c.failSafe()
	}

	if err := c.payments.Remount(sub, container); err != nil {
		slog.Error("Recovery remount failed, restarting", "subStep", sub, "error", err)
		return c.failSafe()
	}

	return Outcome{
		Step:      step,
		Remounted: sub,
		// Completed recurring renders as done while upfront remounts.
		RecurringCompleted: sub == models.PaymentSubStepUpfront && state.Payment.RecurringToken != "",
	}
}

// syncStep moves the persisted current step to where the resume lands,
// without touching invalidation logic: resuming is not navigating.
func (c *Controller) syncStep(step models.StepID) error {
	return c.machine.State().Mutate(func(s *models.FlowState) {
		s.CurrentStep = step
		if s.MaxReachedStep < step {
			s.MaxReachedStep = step
		}
	})
}

// failSafe restarts at the first step, clearing the redirect markers
// so the next load does not loop through recovery again.
func (c *Controller) failSafe() Outcome {
	err := c.machine.State().Mutate(func(s *models.FlowState) {
		s.CurrentStep = models.FirstStep
		s.Payment.AwaitingRedirect = false
		s.Payment.ActivePaymentStep = ""
	})
	if err != nil {
		slog.Error("Recovery fail-safe persist failed", "error", err)
	}
	return Outcome{Step: models.FirstStep, FailedSafe: true}
}
