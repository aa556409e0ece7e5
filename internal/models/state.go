// Package models defines state management structures for the contract flow.
package models

import "time"

// StepID identifies a wizard step. The numeric order defines the
// forward/backward direction of the flow.
type StepID int

const (
	StepOfferSelection StepID = iota + 1
	StepOfferDetails
	StepPersonalInfo
	StepPreview
	StepRecurringPayment
	StepUpfrontPayment
	StepConfirm
)

// String returns the step's display name.
func (s StepID) String() string {
	switch s {
	case StepOfferSelection:
		return "Select Offer"
	case StepOfferDetails:
		return "Offer Details"
	case StepPersonalInfo:
		return "Your Info"
	case StepPreview:
		return "Preview"
	case StepRecurringPayment:
		return "Recurring"
	case StepUpfrontPayment:
		return "Upfront"
	case StepConfirm:
		return "Confirm"
	default:
		return "Unknown"
	}
}

// FirstStep and LastStep bound the ordered step sequence.
const (
	FirstStep = StepOfferSelection
	LastStep  = StepConfirm
)

// PaymentSubStep identifies which payment widget is (or was) mounted.
type PaymentSubStep string

const (
	PaymentSubStepRecurring PaymentSubStep = "recurring"
	PaymentSubStepUpfront   PaymentSubStep = "upfront"
)

// PaymentState tracks payment-method capture across the two sub-steps.
//
// Invariant: ActivePaymentStep is non-empty only while AwaitingRedirect
// is true; once a token is captured both reset before the flow moves on.
type PaymentState struct {
	Method                string         `json:"method,omitempty"`
	RecurringToken        string         `json:"recurringToken,omitempty"`
	UpfrontToken          string         `json:"upfrontToken,omitempty"`
	RecurringSessionToken string         `json:"recurringSessionToken,omitempty"`
	UpfrontSessionToken   string         `json:"upfrontSessionToken,omitempty"`
	ActivePaymentStep     PaymentSubStep `json:"activePaymentStep,omitempty"`
	AwaitingRedirect      bool           `json:"awaitingRedirect,omitempty"`
	SkippedRecurring      bool           `json:"skippedRecurring,omitempty"`
	SkippedUpfront        bool           `json:"skippedUpfront,omitempty"`
}

// SessionTokenFor returns the persisted session token for a sub-step.
func (p PaymentState) SessionTokenFor(sub PaymentSubStep) string {
	if sub == PaymentSubStepUpfront {
		return p.UpfrontSessionToken
	}
	return p.RecurringSessionToken
}

// SelectedOffer is the subset of an offer the flow keeps once the
// customer has chosen a plan and a term variant.
type SelectedOffer struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Description           string   `json:"description,omitempty"`
	Term                  Term     `json:"term"`
	AllowedPaymentChoices []string `json:"allowedPaymentChoices,omitempty"`
}

// Valid reports whether a (possibly rehydrated) selection still carries
// the fields the rest of the flow depends on.
func (o *SelectedOffer) Valid() bool {
	return o != nil && o.ID != "" && o.Term.ID != ""
}

// FlowState is the single mutable root of the wizard. It is rehydrated
// from the store on every load and written back after every mutation.
type FlowState struct {
	CurrentStep         StepID          `json:"currentStep"`
	MaxReachedStep      StepID          `json:"maxReachedStep"`
	SelectedOffer       *SelectedOffer  `json:"selectedOffer,omitempty"`
	Customer            CustomerInfo    `json:"customer"`
	Contract            ContractInfo    `json:"contract"`
	Preview             *PricingPreview `json:"preview,omitempty"`
	Payment             PaymentState    `json:"payment"`
	FinionPayCustomerID string          `json:"finionPayCustomerId,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// DefaultStartDateOffset is how far in the future a new contract starts.
const DefaultStartDateOffset = 7 * 24 * time.Hour

// NewFlowState returns the initial state for a fresh flow.
func NewFlowState(now time.Time) FlowState {
	return FlowState{
		CurrentStep:    FirstStep,
		MaxReachedStep: FirstStep,
		Customer: CustomerInfo{
			Language: Language{LanguageCode: "de", CountryCode: "DE"},
		},
		Contract: ContractInfo{
			StartDate: now.Add(DefaultStartDateOffset).Format("2006-01-02"),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Normalize repairs a rehydrated state: an invalid offer selection is
// discarded and step fields are clamped into the valid range. Fields
// absent from an older persisted shape keep their zero values.
func (s *FlowState) Normalize() {
	if s.SelectedOffer != nil && !s.SelectedOffer.Valid() {
		s.SelectedOffer = nil
	}
	if s.CurrentStep < FirstStep || s.CurrentStep > LastStep {
		s.CurrentStep = FirstStep
	}
	if s.MaxReachedStep < s.CurrentStep {
		s.MaxReachedStep = s.CurrentStep
	}
	if s.MaxReachedStep > LastStep {
		s.MaxReachedStep = LastStep
	}
}
