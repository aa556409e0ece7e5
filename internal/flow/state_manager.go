// Package flow implements the wizard's step machine and durable state.
//
// This file provides the durable FlowState root: every mutation is
// written back to the store before the mutating call returns, so a
// reload at any point resumes from the last completed mutation.
package flow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rocky28r/payment-widget-test/internal/models"
	"github.com/rocky28r/payment-widget-test/internal/store"
)

// StateSchemaVersion guards persisted shapes. A mismatch discards the
// stored state instead of attempting a partial migration.
const StateSchemaVersion = 2

// Storage TTLs. The session outlives a coffee break; payment material
// does not.
const (
	SessionTTL = 1 * time.Hour
	TokenTTL   = 15 * time.Minute
)

// Storage keys within the store namespace.
const (
	stateKey    = "flow-state"
	tokensKey   = "payment-tokens"
	customerKey = "finion-pay-customer"
)

// versionedState wraps the persisted flow state with its schema tag.
type versionedState struct {
	Version int              `json:"version"`
	State   models.FlowState `json:"state"`
}

// persistedTokens is stored separately from the rest of the flow state
// because payment material carries a much shorter TTL.
type persistedTokens struct {
	Method                string                `json:"method,omitempty"`
	RecurringToken        string                `json:"recurringToken,omitempty"`
	UpfrontToken          string                `json:"upfrontToken,omitempty"`
	RecurringSessionToken string                `json:"recurringSessionToken,omitempty"`
	UpfrontSessionToken   string                `json:"upfrontSessionToken,omitempty"`
	ActivePaymentStep     models.PaymentSubStep `json:"activePaymentStep,omitempty"`
	AwaitingRedirect      bool                  `json:"awaitingRedirect,omitempty"`
}

// StateManager owns the single mutable FlowState root. All reads go
// through Snapshot, all writes through Mutate; Mutate persists before
// returning so in-memory and stored state never diverge.
type StateManager struct {
	store store.Store
	now   func() time.Time

	mu    sync.Mutex
	state models.FlowState
}

// NewStateManager creates a manager with a fresh default state. Call
// Load to rehydrate a previous session.
func NewStateManager(st store.Store) *StateManager {
	sm := &StateManager{store: st, now: time.Now}
	sm.state = models.NewFlowState(sm.now())
	return sm
}

// Load rehydrates the flow state from the store. A missing record, a
// schema version mismatch or a decode failure all yield a fresh state
// rather than an error: a stale session is not worth breaking startup.
func (sm *StateManager) Load() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	var versioned versionedState
	found, err := sm.store.Get(stateKey, &versioned)
	if err != nil {
		slog.Error("StateManager Load failed, starting fresh", "error", err)
		sm.state = models.NewFlowState(sm.now())
		return nil
	}
	if !found {
		slog.Debug("StateManager Load found no persisted state")
		sm.state = models.NewFlowState(sm.now())
		return nil
	}
	if versioned.Version != StateSchemaVersion {
		slog.Info("StateManager Load discarding incompatible persisted state",
			"storedVersion", versioned.Version, "expectedVersion", StateSchemaVersion)
		sm.state = models.NewFlowState(sm.now())
		return nil
	}

	state := versioned.State
	state.Normalize()

	// Tokens live under their own key with a shorter TTL. An expired
	// token record means the payment material is gone even though the
	// rest of the session survived.
	var tokens persistedTokens
	tokensFound, err := sm.store.Get(tokensKey, &tokens)
	if err != nil {
		slog.Error("StateManager Load token read failed", "error", err)
	}
	if tokensFound {
		state.Payment.Method = tokens.Method
		state.Payment.RecurringToken = tokens.RecurringToken
		state.Payment.UpfrontToken = tokens.UpfrontToken
		state.Payment.RecurringSessionToken = tokens.RecurringSessionToken
		state.Payment.UpfrontSessionToken = tokens.UpfrontSessionToken
		state.Payment.ActivePaymentStep = tokens.ActivePaymentStep
		state.Payment.AwaitingRedirect = tokens.AwaitingRedirect
	} else {
		state.Payment.Method = ""
		state.Payment.RecurringToken = ""
		state.Payment.UpfrontToken = ""
		state.Payment.RecurringSessionToken = ""
		state.Payment.UpfrontSessionToken = ""
		state.Payment.ActivePaymentStep = ""
		state.Payment.AwaitingRedirect = false
	}

	var customerID string
	if found, err := sm.store.Get(customerKey, &customerID); err == nil && found {
		state.FinionPayCustomerID = customerID
	} else {
		state.FinionPayCustomerID = ""
	}

	sm.state = state
	slog.Debug("StateManager Load succeeded", "currentStep", state.CurrentStep, "maxReachedStep", state.MaxReachedStep)
	return nil
}

// Snapshot returns a copy of the current state.
func (sm *StateManager) Snapshot() models.FlowState {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// Mutate applies fn to the state and persists the result before
// returning. A store failure surfaces as an error but the mutation
// stays applied in memory, so the session keeps working degraded.
func (sm *StateManager) Mutate(fn func(*models.FlowState)) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	fn(&sm.state)
	sm.state.UpdatedAt = sm.now()
	return sm.persistLocked()
}

func (sm *StateManager) persistLocked() error {
	state := sm.state

	// The main record omits payment material so its longer TTL cannot
	// resurrect tokens the short-lived records already dropped.
	stripped := state
	stripped.Payment.Method = ""
	stripped.Payment.RecurringToken = ""
	stripped.Payment.UpfrontToken = ""
	stripped.Payment.RecurringSessionToken = ""
	stripped.Payment.UpfrontSessionToken = ""
	stripped.Payment.ActivePaymentStep = ""
	stripped.Payment.AwaitingRedirect = false
	stripped.FinionPayCustomerID = ""

	if err := sm.store.Set(stateKey, versionedState{Version: StateSchemaVersion, State: stripped}, SessionTTL); err != nil {
		slog.Error("StateManager persist failed", "error", err)
		return fmt.Errorf("failed to persist flow state: %w", err)
	}

	tokens := persistedTokens{
		Method:                state.Payment.Method,
		RecurringToken:        state.Payment.RecurringToken,
		UpfrontToken:          state.Payment.UpfrontToken,
		RecurringSessionToken: state.Payment.RecurringSessionToken,
		UpfrontSessionToken:   state.Payment.UpfrontSessionToken,
		ActivePaymentStep:     state.Payment.ActivePaymentStep,
		AwaitingRedirect:      state.Payment.AwaitingRedirect,
	}
	if err := sm.store.Set(tokensKey, tokens, TokenTTL); err != nil {
		slog.Error("StateManager token persist failed", "error", err)
		return fmt.Errorf("failed to persist payment tokens: %w", err)
	}

	if state.FinionPayCustomerID != "" {
		if err := sm.store.Set(customerKey, state.FinionPayCustomerID, TokenTTL); err != nil {
			slog.Error("StateManager customer id persist failed", "error", err)
		}
	} else if err := sm.store.Remove(customerKey); err != nil {
		slog.Debug("StateManager customer id remove failed", "error", err)
	}
	return nil
}

// Reset is the "start over" escape hatch: it drops all flow-scoped
// state and storage. API configuration lives outside this manager and
// survives.
func (sm *StateManager) Reset() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	sm.state = models.NewFlowState(sm.now())
	for _, key := range []string{stateKey, tokensKey, customerKey} {
		if err := sm.store.Remove(key); err != nil {
			slog.Error("StateManager Reset remove failed", "key", key, "error", err)
			return fmt.Errorf("failed to clear %s: %w", key, err)
		}
	}
	slog.Debug("StateManager Reset succeeded")
	return nil
}
