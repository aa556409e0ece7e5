// Package models defines the core data structures for the contract flow.
//
// It includes the offer/term shapes returned by the membership API, the
// pricing preview, and the request/response bodies exchanged with the
// backend. These types are shared across modules.
package models

import "strings"

// ProductType classifies a term by its payment shape.
type ProductType string

const (
	// ProductTypeRecurring is a membership billed on a recurring cadence.
	ProductTypeRecurring ProductType = "RECURRING"
	// ProductTypeOneTime is a fixed-term pass paid as a lump sum.
	ProductTypeOneTime ProductType = "ONE_TIME"
	// ProductTypeUnknown is used when neither frequency shape matches.
	ProductTypeUnknown ProductType = "UNKNOWN"
)

// Payment session scopes accepted by the user-session endpoint.
const (
	// ScopeMemberAccount creates a zero-amount session for capturing a
	// reusable recurring mandate.
	ScopeMemberAccount = "MEMBER_ACCOUNT"
	// ScopeEcom creates a session for a one-off charge of a specific amount.
	ScopeEcom = "ECOM"
)

// Payment frequency types emitted by the membership API.
const (
	PaymentFrequencyRecurring = "RECURRING"
	PaymentFrequencyTermBased = "TERM_BASED"
)

// FeeTypeSetup marks a flat fee charged once at signup.
const FeeTypeSetup = "SETUP_FEE"

// DefaultCurrency is the fallback when no level of the offer carries one.
const DefaultCurrency = "EUR"

// Money is an amount paired with its ISO currency code.
type Money struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

// TermDuration is a span expressed in calendar units (WEEK, MONTH, YEAR).
type TermDuration struct {
	Value int    `json:"value"`
	Unit  string `json:"unit"`
}

// Months converts the duration to months for cadence-normalized pricing.
// Weeks are divided by 4.33, years multiplied by 12.
func (t TermDuration) Months() float64 {
	unit := strings.TrimSuffix(strings.ToUpper(t.Unit), "S")
	value := t.Value
	if value == 0 {
		value = 1
	}
	switch unit {
	case "WEEK":
		return float64(value) / 4.33
	case "YEAR":
		return float64(value) * 12
	default:
		return float64(value)
	}
}

// FlatFee is a one-time fee attached to a term (e.g. a setup fee).
type FlatFee struct {
	FeeType string  `json:"feeType"`
	Amount  float64 `json:"amount"`
}

// TierPrice maps a sub-term of a fixed-term pass to its price.
type TierPrice struct {
	Term  *TermDuration `json:"term,omitempty"`
	Price *Money        `json:"price,omitempty"`
}

// AgeAdjustment describes an age-dependent price modification on a term.
type AgeAdjustment struct {
	FromAge int     `json:"fromAge"`
	ToAge   int     `json:"toAge"`
	Amount  float64 `json:"amount"`
}

// PaymentFrequency describes how a term is priced: a recurring cadence
// with a per-cycle price, or a fixed-term ladder of tier prices.
type PaymentFrequency struct {
	Type              string        `json:"type"`
	Price             *Money        `json:"price,omitempty"`
	Term              *TermDuration `json:"term,omitempty"`
	TermsToPrices     []TierPrice   `json:"termsToPrices,omitempty"`
	MonthDaysToPrices []TierPrice   `json:"monthDaysToPrices,omitempty"`
	Currency          string        `json:"currency,omitempty"`
}

// Term is one purchasable variant of an offer.
type Term struct {
	ID                  string            `json:"id"`
	Name                string            `json:"name"`
	Currency            string            `json:"currency,omitempty"`
	PaymentFrequency    *PaymentFrequency `json:"paymentFrequency,omitempty"`
	Term                *TermDuration     `json:"term,omitempty"`
	ExtensionTerm       *TermDuration     `json:"extensionTerm,omitempty"`
	FlatFees            []FlatFee         `json:"flatFees,omitempty"`
	AgeBasedAdjustments []AgeAdjustment   `json:"ageBasedAdjustments,omitempty"`
	RateStartPrice      *Money            `json:"rateStartPrice,omitempty"`
}

// Offer is a membership offer owning one or more term variants.
type Offer struct {
	ID                    string   `json:"id"`
	Name                  string   `json:"name"`
	Description           string   `json:"description,omitempty"`
	ImageURL              string   `json:"imageUrl,omitempty"`
	Terms                 []Term   `json:"terms,omitempty"`
	AllowedPaymentChoices []string `json:"allowedPaymentChoices,omitempty"`
	LimitedOfferingPeriod bool     `json:"limitedOfferingPeriod,omitempty"`
	PreUseType            string   `json:"preUseType,omitempty"`
}

// PaymentScheduleEntry is one line of the preview's payment schedule.
type PaymentScheduleEntry struct {
	Type               string `json:"type,omitempty"`
	Description        string `json:"description,omitempty"`
	Amount             Money  `json:"amount"`
	DueDate            string `json:"dueDate,omitempty"`
	MandatoryOnSigning bool   `json:"mandatoryOnSigning"`
}

// ContractVolume summarizes the total expected payments of a contract.
type ContractVolume struct {
	TotalContractVolume          float64 `json:"totalContractVolume"`
	AveragePaymentVolumePerMonth float64 `json:"averagePaymentVolumePerMonth,omitempty"`
}

// VoucherResult reports whether an applied voucher code was accepted.
type VoucherResult struct {
	Code        string `json:"code"`
	Valid       bool   `json:"valid"`
	Description string `json:"description,omitempty"`
}

// PaymentPreview is the payment section of a pricing preview response.
type PaymentPreview struct {
	DueOnSigningAmount Money                  `json:"dueOnSigningAmount"`
	PaymentSchedule    []PaymentScheduleEntry `json:"paymentSchedule,omitempty"`
	BasePrice          float64                `json:"basePrice,omitempty"`
	Currency           string                 `json:"currency,omitempty"`
}

// PricingPreview is the full pricing preview for a contract. It is
// replaced wholesale on every preview fetch, never patched field by field.
type PricingPreview struct {
	PaymentPreview   *PaymentPreview `json:"paymentPreview,omitempty"`
	ContractVolume   *ContractVolume `json:"contractVolumeInformation,omitempty"`
	AgeAdjustedPrice *float64        `json:"ageAdjustedPrice,omitempty"`
	PreUseCharge     float64         `json:"preUseCharge,omitempty"`
	Vouchers         []VoucherResult `json:"vouchers,omitempty"`
}

// DueToday returns the amount due at signing, zero-valued when the
// preview carries no payment section.
func (p *PricingPreview) DueToday() Money {
	if p == nil || p.PaymentPreview == nil {
		return Money{}
	}
	return p.PaymentPreview.DueOnSigningAmount
}

// FutureSchedule returns the schedule entries not charged at signing.
func (p *PricingPreview) FutureSchedule() []PaymentScheduleEntry {
	if p == nil || p.PaymentPreview == nil {
		return nil
	}
	var future []PaymentScheduleEntry
	for _, entry := range p.PaymentPreview.PaymentSchedule {
		if !entry.MandatoryOnSigning {
			future = append(future, entry)
		}
	}
	return future
}

// HasRecurringCharges reports whether any schedule entry carries a
// positive amount, i.e. whether a recurring mandate is worth collecting.
func (p *PricingPreview) HasRecurringCharges() bool {
	if p == nil || p.PaymentPreview == nil {
		return false
	}
	for _, entry := range p.PaymentPreview.PaymentSchedule {
		if entry.Amount.Amount > 0 {
			return true
		}
	}
	return false
}

// TotalVolume returns the total contract volume, zero when absent.
func (p *PricingPreview) TotalVolume() float64 {
	if p == nil || p.ContractVolume == nil {
		return 0
	}
	return p.ContractVolume.TotalContractVolume
}

// Language is the customer's communication locale.
type Language struct {
	LanguageCode string `json:"languageCode"`
	CountryCode  string `json:"countryCode"`
}

// Address is the customer's postal address.
type Address struct {
	Street      string `json:"street"`
	City        string `json:"city"`
	ZipCode     string `json:"zipCode"`
	CountryCode string `json:"countryCode"`
}

// CustomerInfo holds the personal details collected by the wizard.
// Dates are ISO 8601 date strings (YYYY-MM-DD) as exchanged on the wire.
type CustomerInfo struct {
	FirstName   string   `json:"firstName"`
	LastName    string   `json:"lastName"`
	Email       string   `json:"email"`
	DateOfBirth string   `json:"dateOfBirth,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Address     Address  `json:"address"`
	Language    Language `json:"language"`
}

// ContractInfo holds the contract parameters chosen by the customer.
type ContractInfo struct {
	StartDate   string `json:"startDate"`
	VoucherCode string `json:"voucherCode,omitempty"`
}

// PreviewContract is the contract section of a preview request.
type PreviewContract struct {
	ContractOfferTermID string `json:"contractOfferTermId"`
	StartDate           string `json:"startDate"`
	VoucherCode         string `json:"voucherCode,omitempty"`
}

// PreviewCustomer is the flattened customer section of preview and
// signup requests.
type PreviewCustomer struct {
	FirstName         string   `json:"firstName"`
	LastName          string   `json:"lastName"`
	DateOfBirth       string   `json:"dateOfBirth,omitempty"`
	Email             string   `json:"email"`
	PhoneNumberMobile string   `json:"phoneNumberMobile,omitempty"`
	Street            string   `json:"street"`
	City              string   `json:"city"`
	ZipCode           string   `json:"zipCode"`
	CountryCode       string   `json:"countryCode"`
	Language          Language `json:"language"`
}

// PreviewRequest is the body of the pricing preview endpoint.
type PreviewRequest struct {
	Contract PreviewContract `json:"contract"`
	Customer PreviewCustomer `json:"customer"`
}

// SessionRequest is the body of the payment user-session endpoint.
type SessionRequest struct {
	Amount                  float64  `json:"amount"`
	Scope                   string   `json:"scope"`
	ReferenceText           string   `json:"referenceText,omitempty"`
	PermittedPaymentChoices []string `json:"permittedPaymentChoices,omitempty"`
	FinionPayCustomerID     string   `json:"finionPayCustomerId,omitempty"`
}

// SessionResponse is the payment user-session endpoint's response.
type SessionResponse struct {
	Token               string `json:"token"`
	FinionPayCustomerID string `json:"finionPayCustomerId,omitempty"`
}

// SignupContract is the contract section of the final signup request.
type SignupContract struct {
	ContractOfferTermID        string `json:"contractOfferTermId"`
	StartDate                  string `json:"startDate"`
	VoucherCode                string `json:"voucherCode,omitempty"`
	InitialPaymentRequestToken string `json:"initialPaymentRequestToken,omitempty"`
}

// SignupCustomer is the customer section of the final signup request.
// PaymentRequestToken carries the recurring mandate token.
type SignupCustomer struct {
	PreviewCustomer
	PaymentRequestToken string `json:"paymentRequestToken,omitempty"`
}

// SignupRequest is the body of the membership signup endpoint.
type SignupRequest struct {
	Contract SignupContract `json:"contract"`
	Customer SignupCustomer `json:"customer"`
}

// SignupResponse is the membership signup endpoint's response.
type SignupResponse struct {
	ID         string `json:"id,omitempty"`
	CustomerID string `json:"customerId,omitempty"`
}

// CreatedID returns the created customer identifier, falling back to
// the generic id field some backends use instead.
func (r SignupResponse) CreatedID() string {
	if r.CustomerID != "" {
		return r.CustomerID
	}
	return r.ID
}
