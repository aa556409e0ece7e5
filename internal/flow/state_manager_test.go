package flow

import (
	"testing"
	"time"

	"github.com/rocky28r/payment-widget-test/internal/models"
	"github.com/rocky28r/payment-widget-test/internal/store"
)

func newLoadedManager(t *testing.T, st store.Store) *StateManager {
	t.Helper()
	sm := NewStateManager(st)
	if err := sm.Load(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return sm
}

func TestStateManagerRoundTrip(t *testing.T) {
	st := store.NewInMemoryStore()
	sm := newLoadedManager(t, st)

	err := sm.Mutate(func(s *models.FlowState) {
		s.CurrentStep = models.StepPreview
		s.MaxReachedStep = models.StepRecurringPayment
		s.SelectedOffer = &models.SelectedOffer{ID: "offer-1", Name: "Basic", Term: models.Term{ID: "term-1"}}
		s.Customer.FirstName = "Ada"
		s.Customer.Address.Street = "Hauptstr. 1"
		s.Payment.RecurringToken = "tok-rec"
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Simulate a full reload against the same store.
	reloaded := newLoadedManager(t, st)
	got := reloaded.Snapshot()
	if got.CurrentStep != models.StepPreview || got.MaxReachedStep != models.StepRecurringPayment {
		t.Errorf("steps not restored: %+v", got)
	}
	if got.SelectedOffer == nil || got.SelectedOffer.ID != "offer-1" || got.SelectedOffer.Term.ID != "term-1" {
		t.Errorf("selected offer not restored: %+v", got.SelectedOffer)
	}
	if got.Customer.FirstName != "Ada" || got.Customer.Address.Street != "Hauptstr. 1" {
		t.Errorf("customer not restored: %+v", got.Customer)
	}
	if got.Payment.RecurringToken != "tok-rec" {
		t.Errorf("recurring token not restored: %+v", got.Payment)
	}
}

func TestStateManagerDiscardsIncompatibleSchema(t *testing.T) {
	st := store.NewInMemoryStore()
	stale := models.NewFlowState(time.Now())
	stale.CurrentStep = models.StepConfirm
	if err := st.Set("flow-state", versionedState{Version: StateSchemaVersion - 1, State: stale}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sm := newLoadedManager(t, st)
	if got := sm.Snapshot().CurrentStep; got != models.FirstStep {
		t.Errorf("expected fresh state after version mismatch, got step %v", got)
	}
}

func TestStateManagerExpiredTokensDropped(t *testing.T) {
	st := store.NewInMemoryStore()
	sm := newLoadedManager(t, st)
	err := sm.Mutate(func(s *models.FlowState) {
		s.SelectedOffer = &models.SelectedOffer{ID: "o", Term: models.Term{ID: "t"}}
		s.Payment.RecurringToken = "tok"
		s.Payment.RecurringSessionToken = "sess"
		s.Payment.AwaitingRedirect = true
		s.Payment.ActivePaymentStep = models.PaymentSubStepRecurring
		s.FinionPayCustomerID = "cust-1"
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The token record expires independently of the session record.
	if err := st.Remove("payment-tokens"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := st.Remove("finion-pay-customer"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	reloaded := newLoadedManager(t, st)
	got := reloaded.Snapshot()
	if got.Payment.RecurringToken != "" || got.Payment.RecurringSessionToken != "" {
		t.Errorf("expected tokens gone after expiry, got %+v", got.Payment)
	}
	if got.Payment.AwaitingRedirect || got.Payment.ActivePaymentStep != "" {
		t.Errorf("expected redirect markers gone with tokens, got %+v", got.Payment)
	}
	if got.FinionPayCustomerID != "" {
		t.Error("expected customer id gone after expiry")
	}
	if got.SelectedOffer == nil || got.SelectedOffer.ID != "o" {
		t.Error("session data should survive token expiry")
	}
}

func TestStateManagerNormalizesInvalidOffer(t *testing.T) {
	st := store.NewInMemoryStore()
	broken := models.NewFlowState(time.Now())
	broken.SelectedOffer = &models.SelectedOffer{ID: "o"} // missing term
	broken.CurrentStep = 42
	if err := st.Set("flow-state", versionedState{Version: StateSchemaVersion, State: broken}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sm := newLoadedManager(t, st)
	got := sm.Snapshot()
	if got.SelectedOffer != nil {
		t.Error("invalid offer selection should be discarded")
	}
	if got.CurrentStep != models.FirstStep {
		t.Errorf("out-of-range step should clamp, got %v", got.CurrentStep)
	}
}

func TestStateManagerReset(t *testing.T) {
	st := store.NewInMemoryStore()
	sm := newLoadedManager(t, st)
	sm.Mutate(func(s *models.FlowState) {
		s.CurrentStep = models.StepPreview
		s.Payment.RecurringToken = "tok"
	})

	if err := sm.Reset(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := sm.Snapshot(); got.CurrentStep != models.FirstStep || got.Payment.RecurringToken != "" {
		t.Errorf("expected fresh state after reset, got %+v", got)
	}

	reloaded := newLoadedManager(t, st)
	if got := reloaded.Snapshot(); got.CurrentStep != models.FirstStep {
		t.Error("reset must also clear persisted state")
	}
}

func TestNewFlowStateDefaults(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	state := models.NewFlowState(now)
	if state.Contract.StartDate != "2026-03-17" {
		t.Errorf("expected start date one week out, got %s", state.Contract.StartDate)
	}
	if state.CurrentStep != models.FirstStep || state.MaxReachedStep != models.FirstStep {
		t.Errorf("unexpected initial steps: %+v", state)
	}
}
