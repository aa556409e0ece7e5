// Package offers normalizes raw membership offers into display-ready
// previews.
//
// The membership API returns offers in several historical shapes; this
// package classifies every term variant, resolves its currency and
// price, derives badges, and sorts variants so the first one is the
// best-value default.
package offers

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rocky28r/payment-widget-test/internal/models"
)

// Badge kinds rendered next to a variant.
const (
	BadgeWarning = "warning"
	BadgeInfo    = "info"
	BadgeSuccess = "success"
	BadgePrimary = "primary"
)

// Badge is a short annotation derived from offer metadata.
type Badge struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

// PriceInfo is the resolved pricing of one variant.
type PriceInfo struct {
	PrimaryPrice      float64              `json:"primaryPrice"`
	PrimaryLabel      string               `json:"primaryLabel"`
	SecondaryPrice    *float64             `json:"secondaryPrice,omitempty"`
	SecondaryLabel    string               `json:"secondaryLabel,omitempty"`
	Currency          string               `json:"currency"`
	Cadence           string               `json:"cadence,omitempty"`
	CadenceTerm       *models.TermDuration `json:"cadenceTerm,omitempty"`
	HasProRata        bool                 `json:"hasProRata,omitempty"`
	HasAgeAdjustments bool                 `json:"hasAgeAdjustments,omitempty"`
}

// DurationInfo describes a variant's commitment and renewal behavior.
type DurationInfo struct {
	Duration      string               `json:"duration,omitempty"`
	Renewal       string               `json:"renewal,omitempty"`
	MinTerm       *models.TermDuration `json:"minTerm,omitempty"`
	ExtensionTerm *models.TermDuration `json:"extensionTerm,omitempty"`
	AccessWindow  *models.TermDuration `json:"accessWindow,omitempty"`
}

// Variant is one normalized term of an offer.
type Variant struct {
	TermID      string             `json:"termId"`
	TermName    string             `json:"termName"`
	ProductType models.ProductType `json:"productType"`
	Price       PriceInfo          `json:"price"`
	Duration    DurationInfo       `json:"duration"`
	Badges      []Badge            `json:"badges,omitempty"`
	Term        models.Term        `json:"term"`
	SortKey     float64            `json:"sortKey"`
	Default     bool               `json:"default,omitempty"`
}

// Preview is a display-ready offer with its variants sorted best-first.
type Preview struct {
	ID                    string    `json:"id"`
	Name                  string    `json:"name"`
	Description           string    `json:"description,omitempty"`
	ImageURL              string    `json:"imageUrl,omitempty"`
	Variants              []Variant `json:"variants"`
	AllowedPaymentChoices []string  `json:"allowedPaymentChoices,omitempty"`
}

// DefaultVariant returns the best-value variant, nil for empty offers.
func (p *Preview) DefaultVariant() *Variant {
	if p == nil || len(p.Variants) == 0 {
		return nil
	}
	return &p.Variants[0]
}

// Classify maps a payment frequency to a product type. Anything that is
// neither a recurring cadence nor a fixed-term ladder is UNKNOWN and
// rendered with fallback pricing rather than rejected.
func Classify(pf *models.PaymentFrequency) models.ProductType {
	if pf == nil {
		return models.ProductTypeUnknown
	}
	switch pf.Type {
	case models.PaymentFrequencyRecurring:
		return models.ProductTypeRecurring
	case models.PaymentFrequencyTermBased:
		return models.ProductTypeOneTime
	default:
		return models.ProductTypeUnknown
	}
}

// BuildPreview normalizes one raw offer. Offers without terms produce
// an empty preview so a malformed catalog entry never breaks the list.
func BuildPreview(offer models.Offer) Preview {
	preview := Preview{
		ID:                    offer.ID,
		Name:                  offer.Name,
		Description:           offer.Description,
		ImageURL:              offer.ImageURL,
		AllowedPaymentChoices: offer.AllowedPaymentChoices,
	}
	if preview.Name == "" {
		preview.Name = "Unknown Offer"
	}
	if len(offer.Terms) == 0 {
		return preview
	}

	for _, term := range offer.Terms {
		preview.Variants = append(preview.Variants, buildVariant(offer, term))
	}
	sortVariants(preview.Variants)
	preview.Variants[0].Default = true
	return preview
}

func buildVariant(offer models.Offer, term models.Term) Variant {
	productType := Classify(term.PaymentFrequency)
	price := computePrice(term, productType)
	duration := computeDuration(term, productType)
	return Variant{
		TermID:      term.ID,
		TermName:    term.Name,
		ProductType: productType,
		Price:       price,
		Duration:    duration,
		Badges:      computeBadges(offer, term, productType),
		Term:        term,
		SortKey:     computeSortKey(price, productType),
	}
}

// resolveCurrency walks the fallback chain for a variant's currency.
// Recurring terms prefer the nested price object, one-time terms the
// first tier price; both fall back through term and frequency level
// currencies before the EUR default.
func resolveCurrency(term models.Term, productType models.ProductType) string {
	pf := term.PaymentFrequency
	if productType == models.ProductTypeOneTime && pf != nil {
		if len(pf.TermsToPrices) > 0 && pf.TermsToPrices[0].Price != nil && pf.TermsToPrices[0].Price.Currency != "" {
			return pf.TermsToPrices[0].Price.Currency
		}
	} else if pf != nil && pf.Price != nil && pf.Price.Currency != "" {
		return pf.Price.Currency
	}
	if term.Currency != "" {
		return term.Currency
	}
	if pf != nil && pf.Currency != "" {
		return pf.Currency
	}
	return models.DefaultCurrency
}

func computePrice(term models.Term, productType models.ProductType) PriceInfo {
	currency := resolveCurrency(term, productType)
	pf := term.PaymentFrequency

	switch productType {
	case models.ProductTypeRecurring:
		var price float64
		if pf != nil && pf.Price != nil {
			price = pf.Price.Amount
		} else if term.RateStartPrice != nil {
			price = term.RateStartPrice.Amount
		}

		cadenceTerm := &models.TermDuration{Value: 1, Unit: "MONTH"}
		if pf != nil && pf.Term != nil {
			cadenceTerm = pf.Term
		}
		cadence := formatCadence(*cadenceTerm)

		info := PriceInfo{
			PrimaryPrice:      price,
			PrimaryLabel:      fmt.Sprintf("%s/%s", formatAmount(price, currency), cadence),
			Currency:          currency,
			Cadence:           cadence,
			CadenceTerm:       cadenceTerm,
			HasProRata:        pf != nil && len(pf.MonthDaysToPrices) > 0,
			HasAgeAdjustments: len(term.AgeBasedAdjustments) > 0,
		}
		if setup := setupFee(term.FlatFees); setup != nil {
			info.SecondaryPrice = &setup.Amount
			info.SecondaryLabel = fmt.Sprintf("+ %s setup fee", formatAmount(setup.Amount, currency))
		}
		return info

	case models.ProductTypeOneTime:
		var total float64
		if pf != nil {
			for _, tier := range pf.TermsToPrices {
				if tier.Price != nil {
					total += tier.Price.Amount
				}
			}
		}
		accessTerm := models.TermDuration{Value: 12, Unit: "MONTH"}
		if term.Term != nil {
			accessTerm = *term.Term
		}
		access := formatTermDuration(accessTerm)
		return PriceInfo{
			PrimaryPrice:      total,
			PrimaryLabel:      fmt.Sprintf("%s one-time", formatAmount(total, currency)),
			SecondaryLabel:    fmt.Sprintf("Access for %s", access),
			Currency:          currency,
			HasAgeAdjustments: len(term.AgeBasedAdjustments) > 0,
		}

	default:
		var price float64
		if term.RateStartPrice != nil {
			price = term.RateStartPrice.Amount
		} else if pf != nil && pf.Price != nil {
			price = pf.Price.Amount
		}
		return PriceInfo{
			PrimaryPrice: price,
			PrimaryLabel: formatAmount(price, currency),
			Currency:     currency,
		}
	}
}

func computeDuration(term models.Term, productType models.ProductType) DurationInfo {
	termDuration := &models.TermDuration{Value: 12, Unit: "MONTH"}
	if term.Term != nil {
		termDuration = term.Term
	}

	switch productType {
	case models.ProductTypeRecurring:
		info := DurationInfo{
			Duration: fmt.Sprintf("Min. term: %s", formatTermDuration(*termDuration)),
			MinTerm:  termDuration,
		}
		if term.ExtensionTerm != nil {
			info.Renewal = fmt.Sprintf("Renews every %s", formatTermDuration(*term.ExtensionTerm))
			info.ExtensionTerm = term.ExtensionTerm
		}
		return info
	case models.ProductTypeOneTime:
		return DurationInfo{
			Duration:     fmt.Sprintf("Access: %s", formatTermDuration(*termDuration)),
			AccessWindow: termDuration,
		}
	default:
		return DurationInfo{}
	}
}

func computeBadges(offer models.Offer, term models.Term, productType models.ProductType) []Badge {
	var badges []Badge
	if offer.LimitedOfferingPeriod {
		badges = append(badges, Badge{Type: BadgeWarning, Label: "Limited Time"})
	}
	if offer.PreUseType == "CHARGEABLE" {
		badges = append(badges, Badge{Type: BadgeInfo, Label: "Pre-use available"})
	}
	if len(term.AgeBasedAdjustments) > 0 {
		badges = append(badges, Badge{Type: BadgeSuccess, Label: "Age discounts available"})
	}
	if productType == models.ProductTypeOneTime {
		badges = append(badges, Badge{Type: BadgePrimary, Label: "One-time payment"})
	}
	return badges
}

// computeSortKey returns the price normalized for comparison: the
// effective monthly price for recurring variants, the lump sum for
// one-time passes.
func computeSortKey(price PriceInfo, productType models.ProductType) float64 {
	if productType == models.ProductTypeRecurring {
		months := 1.0
		if price.CadenceTerm != nil {
			if m := price.CadenceTerm.Months(); m > 0 {
				months = m
			}
		}
		return price.PrimaryPrice / months
	}
	return price.PrimaryPrice
}

// sortVariants orders recurring before one-time, then cheapest first.
func sortVariants(variants []Variant) {
	sort.SliceStable(variants, func(i, j int) bool {
		a, b := variants[i], variants[j]
		if a.ProductType != b.ProductType {
			if a.ProductType == models.ProductTypeRecurring {
				return true
			}
			if b.ProductType == models.ProductTypeRecurring {
				return false
			}
		}
		return a.SortKey < b.SortKey
	})
}

// BuildCatalog normalizes and orders a full offer list: recurring
// offers before one-time ones, cheaper default variants first. Offers
// without a priceable variant keep their relative position.
func BuildCatalog(raw []models.Offer) []Preview {
	previews := make([]Preview, 0, len(raw))
	for _, offer := range raw {
		previews = append(previews, BuildPreview(offer))
	}
	sort.SliceStable(previews, func(i, j int) bool {
		a, b := previews[i].DefaultVariant(), previews[j].DefaultVariant()
		if a == nil || b == nil {
			return false
		}
		if a.ProductType != b.ProductType {
			if a.ProductType == models.ProductTypeRecurring {
				return true
			}
			if b.ProductType == models.ProductTypeRecurring {
				return false
			}
		}
		return a.SortKey < b.SortKey
	})
	return previews
}

func setupFee(fees []models.FlatFee) *models.FlatFee {
	for i := range fees {
		if fees[i].FeeType == models.FeeTypeSetup {
			return &fees[i]
		}
	}
	return nil
}

// formatAmount renders an amount with its currency code.
func formatAmount(amount float64, currency string) string {
	return fmt.Sprintf("%.2f %s", amount, currency)
}

// formatCadence renders a billing cadence: "month", "2 weeks", "year".
func formatCadence(term models.TermDuration) string {
	unit := singularUnit(term.Unit)
	value := term.Value
	if value == 0 {
		value = 1
	}
	if value == 1 {
		return unit
	}
	return fmt.Sprintf("%d %ss", value, unit)
}

// formatTermDuration renders a duration: "1 month", "12 months".
func formatTermDuration(term models.TermDuration) string {
	unit := singularUnit(term.Unit)
	value := term.Value
	if value == 0 {
		value = 1
	}
	if value == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", value, unit)
}

func singularUnit(unit string) string {
	u := strings.ToLower(unit)
	u = strings.TrimSuffix(u, "s")
	if u == "" {
		u = "month"
	}
	return u
}
