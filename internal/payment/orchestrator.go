// Package payment orchestrates payment widget sessions for the
// contract flow.
//
// The orchestrator owns the two payment sub-steps: the recurring
// mandate (MEMBER_ACCOUNT scope, amount 0) and the upfront charge
// (ECOM scope, amount due today). Session tokens are persisted before
// the widget mounts so a redirect-based payment method can always find
// its way back into the same session.
package payment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rocky28r/payment-widget-test/internal/models"
)

// Payment choice allow-lists. Upfront charges are one-shot, so mandate
// methods like SEPA are excluded there.
var (
	UpfrontPaymentChoices   = []string{"CREDIT_CARD", "PAYPAL", "TWINT", "IDEAL", "BANCONTACT"}
	DefaultRecurringChoices = []string{"SEPA", "CREDIT_CARD"}
)

// StateAccessor is the slice of flow state the orchestrator needs.
// Mutations are persisted by the implementation before returning.
type StateAccessor interface {
	Snapshot() models.FlowState
	Mutate(fn func(*models.FlowState)) error
}

// SessionAPI creates payment widget sessions on the backend.
type SessionAPI interface {
	CreateUserSession(ctx context.Context, req models.SessionRequest) (*models.SessionResponse, error)
}

// Settings holds the widget environment configuration.
type Settings struct {
	CountryCode string
	Locale      string
	Environment string
	UseRubiksUI bool
}

func (s Settings) withDefaults() Settings {
	if s.CountryCode == "" {
		s.CountryCode = "DE"
	}
	if s.Locale == "" {
		s.Locale = "de-DE"
	}
	if s.Environment == "" {
		s.Environment = "sandbox"
	}
	return s
}

// Orchestrator drives session creation and widget mounting for both
// payment sub-steps.
type Orchestrator struct {
	api      SessionAPI
	state    StateAccessor
	widget   Widget
	settings Settings

	mu      sync.Mutex
	handles map[models.PaymentSubStep]Handle
}

// NewOrchestrator wires the orchestrator to its collaborators.
func NewOrchestrator(api SessionAPI, state StateAccessor, widget Widget, settings Settings) *Orchestrator {
	return &Orchestrator{
		api:      api,
		state:    state,
		widget:   widget,
		settings: settings.withDefaults(),
		handles:  make(map[models.PaymentSubStep]Handle),
	}
}

// buildSessionRequest assembles the session request for a sub-step from
// the current flow state.
func buildSessionRequest(state models.FlowState, sub models.PaymentSubStep) (models.SessionRequest, error) {
	if !state.SelectedOffer.Valid() {
		return models.SessionRequest{}, fmt.Errorf("no offer selected")
	}

	req := models.SessionRequest{FinionPayCustomerID: state.FinionPayCustomerID}
	switch sub {
	case models.PaymentSubStepUpfront:
		due := state.Preview.DueToday()
		if due.Amount <= 0 {
			return models.SessionRequest{}, fmt.Errorf("no upfront amount due")
		}
		req.Amount = due.Amount
		req.Scope = models.ScopeEcom
		req.ReferenceText = fmt.Sprintf("Membership: %s (Upfront)", state.SelectedOffer.Name)
		req.PermittedPaymentChoices = UpfrontPaymentChoices
	default:
		req.Amount = 0
		req.Scope = models.ScopeMemberAccount
		req.ReferenceText = fmt.Sprintf("Membership: %s (Recurring)", state.SelectedOffer.Name)
		if len(state.SelectedOffer.AllowedPaymentChoices) > 0 {
			req.PermittedPaymentChoices = state.SelectedOffer.AllowedPaymentChoices
		} else {
			req.PermittedPaymentChoices = DefaultRecurringChoices
		}
	}
	return req, nil
}

// CreateSession opens a new widget session for a sub-step and persists
// its token, the active sub-step and the awaiting-redirect marker
// before returning. The persisted token is what a redirect recovery
// remounts into; losing it would strand the customer's payment.
func (o *Orchestrator) CreateSession(ctx context.Context, sub models.PaymentSubStep) (string, error) {
	req, err := buildSessionRequest(o.state.Snapshot(), sub)
	if err != nil {
		return "", err
	}

	session, err := o.api.CreateUserSession(ctx, req)
	if err != nil {
		slog.Error("Orchestrator CreateSession failed", "subStep", sub, "error", err)
		return "", err
	}
	if session.Token == "" {
		return "", fmt.Errorf("payment session response carried no token")
	}

	if err := o.state.Mutate(func(s *models.FlowState) {
		if session.FinionPayCustomerID != "" {
			s.FinionPayCustomerID = session.FinionPayCustomerID
		}
		if sub == models.PaymentSubStepUpfront {
			s.Payment.UpfrontSessionToken = session.Token
		} else {
			s.Payment.RecurringSessionToken = session.Token
		}
		s.Payment.ActivePaymentStep = sub
		s.Payment.AwaitingRedirect = true
	}); err != nil {
		return "", fmt.Errorf("failed to persist session token: %w", err)
	}

	slog.Debug("Orchestrator CreateSession succeeded", "subStep", sub, "scope", req.Scope, "amount", req.Amount)
	return session.Token, nil
}

// Mount creates a fresh session and mounts the widget for a sub-step.
func (o *Orchestrator) Mount(ctx context.Context, sub models.PaymentSubStep, container string) error {
	token, err := o.CreateSession(ctx, sub)
	if err != nil {
		return err
	}
	return o.mount(sub, container, token)
}

// Remount mounts the widget into the session persisted earlier. It
// never creates a new session: after a payment redirect the provider
// only knows the original one. The awaiting-redirect marker is cleared
// only once the widget is confirmed mounted.
func (o *Orchestrator) Remount(sub models.PaymentSubStep, container string) error {
	token := o.state.Snapshot().Payment.SessionTokenFor(sub)
	if token == "" {
		return fmt.Errorf("no persisted session token for %s sub-step", sub)
	}
	if err := o.mount(sub, container, token); err != nil {
		return err
	}
	return o.state.Mutate(func(s *models.FlowState) {
		s.Payment.AwaitingRedirect = false
	})
}

// mount replaces any existing widget instance for the sub-step.
func (o *Orchestrator) mount(sub models.PaymentSubStep, container, token string) error {
	o.mu.Lock()
	if existing, ok := o.handles[sub]; ok {
		if err := existing.Destroy(); err != nil {
			slog.Debug("Orchestrator mount destroy of previous widget failed", "subStep", sub, "error", err)
		}
		delete(o.handles, sub)
	}
	o.mu.Unlock()

	handle, err := o.widget.Init(Config{
		UserSessionToken: token,
		Container:        container,
		CountryCode:      o.settings.CountryCode,
		Locale:           o.settings.Locale,
		Environment:      o.settings.Environment,
		FeatureFlags:     map[string]bool{"useRubiksUI": o.settings.UseRubiksUI},
		OnSuccess: func(paymentRequestToken string, instrument *InstrumentDetails) {
			if err := o.HandleSuccess(sub, paymentRequestToken, instrument); err != nil {
				slog.Error("Orchestrator widget success handling failed", "subStep", sub, "error", err)
			}
		},
		OnError: func(err error) {
			slog.Error("Orchestrator widget reported error", "subStep", sub, "error", err)
		},
	})
	if err != nil {
		slog.Error("Orchestrator mount failed", "subStep", sub, "error", err)
		return fmt.Errorf("failed to mount %s widget: %w", sub, err)
	}

	o.mu.Lock()
	o.handles[sub] = handle
	o.mu.Unlock()
	slog.Debug("Orchestrator mount succeeded", "subStep", sub, "container", container)
	return nil
}

// HandleSuccess records a captured payment token and clears the
// redirect markers.
func (o *Orchestrator) HandleSuccess(sub models.PaymentSubStep, token string, instrument *InstrumentDetails) error {
	return o.state.Mutate(func(s *models.FlowState) {
		if instrument != nil && instrument.Type != "" {
			s.Payment.Method = instrument.Type
		}
		if sub == models.PaymentSubStepUpfront {
			s.Payment.UpfrontToken = token
		} else {
			s.Payment.RecurringToken = token
		}
		s.Payment.AwaitingRedirect = false
		s.Payment.ActivePaymentStep = ""
	})
}

// Destroy tears down the widget for a sub-step if one is mounted.
func (o *Orchestrator) Destroy(sub models.PaymentSubStep) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if handle, ok := o.handles[sub]; ok {
		if err := handle.Destroy(); err != nil {
			slog.Debug("Orchestrator Destroy failed", "subStep", sub, "error", err)
		}
		delete(o.handles, sub)
	}
}

// DestroyAll tears down both widgets, e.g. when leaving the payment
// step.
func (o *Orchestrator) DestroyAll() {
	o.Destroy(models.PaymentSubStepRecurring)
	o.Destroy(models.PaymentSubStepUpfront)
}
