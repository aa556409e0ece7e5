// Package flow implements the wizard's step machine and durable state.
//
// The step sequence is fixed; what varies per session is which payment
// sub-steps are shown, decided from each pricing preview, and which
// downstream data gets invalidated when the customer walks backward.
package flow

import "github.com/rocky28r/payment-widget-test/internal/models"

// InvalidationKey names a class of downstream data cleared when the
// customer re-enters an earlier step.
type InvalidationKey string

const (
	// InvalidateTokens clears captured payment tokens, session tokens
	// and the cached payment customer id.
	InvalidateTokens InvalidationKey = "tokens"
	// InvalidatePreview clears the pricing preview and its skip flags.
	InvalidatePreview InvalidationKey = "preview"
	// InvalidateFormData clears the personal-info form and contract
	// parameters.
	InvalidateFormData InvalidationKey = "formData"
)

// StepDefinition describes one wizard step.
type StepDefinition struct {
	ID models.StepID
	// Invalidates lists what re-entering this step clears downstream.
	Invalidates []InvalidationKey
	// Warning, when non-empty, must be confirmed by the user before a
	// destructive backward navigation proceeds.
	Warning string
}

// StepDefinitions is the ordered wizard sequence. Changing an earlier
// answer invalidates everything priced or authorized on top of it:
// offer choice invalidates the whole tail, personal info invalidates
// pricing and tokens, a fresh preview invalidates tokens only.
var StepDefinitions = []StepDefinition{
	{
		ID:          models.StepOfferSelection,
		Invalidates: []InvalidationKey{InvalidateTokens, InvalidatePreview, InvalidateFormData},
		Warning:     "Changing your offer clears your personal details, pricing and payment progress.",
	},
	{
		ID:          models.StepOfferDetails,
		Invalidates: []InvalidationKey{InvalidateTokens, InvalidatePreview, InvalidateFormData},
		Warning:     "Changing your offer clears your personal details, pricing and payment progress.",
	},
	{
		ID:          models.StepPersonalInfo,
		Invalidates: []InvalidationKey{InvalidateTokens, InvalidatePreview},
		Warning:     "Editing your details clears the pricing preview and any captured payment methods.",
	},
	{
		ID:          models.StepPreview,
		Invalidates: []InvalidationKey{InvalidateTokens},
		Warning:     "Returning to the preview clears any captured payment methods.",
	},
	{ID: models.StepRecurringPayment},
	{ID: models.StepUpfrontPayment},
	{ID: models.StepConfirm},
}

// definition returns the step definition, defaulting to an empty one
// for out-of-range ids.
func definition(id models.StepID) StepDefinition {
	for _, def := range StepDefinitions {
		if def.ID == id {
			return def
		}
	}
	return StepDefinition{ID: id}
}

// invalidationLosesData reports whether any of the named data classes
// currently holds something the customer entered or authorized.
func invalidationLosesData(state models.FlowState, keys []InvalidationKey) bool {
	for _, key := range keys {
		switch key {
		case InvalidateTokens:
			if state.Payment.RecurringToken != "" || state.Payment.UpfrontToken != "" ||
				state.Payment.RecurringSessionToken != "" || state.Payment.UpfrontSessionToken != "" {
				return true
			}
		case InvalidatePreview:
			if state.Preview != nil {
				return true
			}
		case InvalidateFormData:
			if state.Customer.FirstName != "" || state.Customer.LastName != "" ||
				state.Customer.Email != "" || state.Contract.VoucherCode != "" {
				return true
			}
		}
	}
	return false
}

// applyInvalidations clears exactly the named data classes on state.
func applyInvalidations(state *models.FlowState, keys []InvalidationKey) {
	for _, key := range keys {
		switch key {
		case InvalidateTokens:
			state.Payment.RecurringToken = ""
			state.Payment.UpfrontToken = ""
			state.Payment.RecurringSessionToken = ""
			state.Payment.UpfrontSessionToken = ""
			state.Payment.Method = ""
			state.Payment.ActivePaymentStep = ""
			state.Payment.AwaitingRedirect = false
			state.FinionPayCustomerID = ""
		case InvalidatePreview:
			state.Preview = nil
			state.Payment.SkippedRecurring = false
			state.Payment.SkippedUpfront = false
		case InvalidateFormData:
			language := state.Customer.Language
			state.Customer = models.CustomerInfo{Language: language}
			state.Contract.VoucherCode = ""
		}
	}
}
