// Package flow implements the wizard's step machine and durable state.
//
// This file transforms raw pricing previews into the structured
// payment summary rendered on the preview and confirmation steps.
package flow

import (
	"fmt"
	"time"

	"github.com/rocky28r/payment-widget-test/internal/models"
)

// Schedule entry types emitted by the preview endpoint.
const (
	scheduleTypeStarterPackage = "STARTER_PACKAGE"
	scheduleTypeContractFee    = "CONTRACT_FEE"
)

// SummaryItem is one labeled amount in a summary section.
type SummaryItem struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount"`
}

// ScheduledPayment is one future installment.
type ScheduledPayment struct {
	Month   string  `json:"month"`
	Amount  float64 `json:"amount"`
	DueDate string  `json:"dueDate"`
}

// MonthlySection describes the ongoing payments after signing.
type MonthlySection struct {
	Label          string             `json:"label"`
	StartDate      string             `json:"startDate"`
	AmountPerMonth float64            `json:"amountPerMonth"`
	Schedule       []ScheduledPayment `json:"schedule"`
	Note           string             `json:"note"`
}

// PaymentSummary is the display-ready breakdown of a pricing preview.
type PaymentSummary struct {
	Currency string          `json:"currency"`
	Today    []SummaryItem   `json:"today"`
	DueToday float64         `json:"dueToday"`
	Monthly  *MonthlySection `json:"monthly,omitempty"`
	Overview []SummaryItem   `json:"overview"`
	Notes    []string        `json:"notes"`
}

// BuildPaymentSummary transforms a pricing preview into its summary. A
// nil or payment-less preview yields an empty summary rather than an
// error so the UI can render a placeholder.
func BuildPaymentSummary(preview *models.PricingPreview, offer *models.SelectedOffer) PaymentSummary {
	if preview == nil || preview.PaymentPreview == nil {
		return PaymentSummary{Currency: models.DefaultCurrency}
	}

	pp := preview.PaymentPreview
	currency := summaryCurrency(pp, offer)
	dueToday := preview.DueToday().Amount

	summary := PaymentSummary{
		Currency: currency,
		DueToday: dueToday,
		Today:    buildTodayItems(pp.PaymentSchedule, preview),
		Monthly:  buildMonthlySection(pp.PaymentSchedule, currency),
	}
	summary.Overview = buildOverviewItems(preview, dueToday)
	summary.Notes = buildNotes(preview, currency, dueToday, summary.Monthly)
	return summary
}

// summaryCurrency resolves the display currency: the due amount's own
// currency wins, then the selected term's, then the default.
func summaryCurrency(pp *models.PaymentPreview, offer *models.SelectedOffer) string {
	if pp.DueOnSigningAmount.Currency != "" {
		return pp.DueOnSigningAmount.Currency
	}
	if offer != nil {
		if pf := offer.Term.PaymentFrequency; pf != nil && pf.Price != nil && pf.Price.Currency != "" {
			return pf.Price.Currency
		}
		if offer.Term.Currency != "" {
			return offer.Term.Currency
		}
	}
	if pp.Currency != "" {
		return pp.Currency
	}
	return models.DefaultCurrency
}

// buildTodayItems itemizes the charges collected at signing: starter
// packages, the pre-use charge, and the remaining partial-period fee.
func buildTodayItems(schedule []models.PaymentScheduleEntry, preview *models.PricingPreview) []SummaryItem {
	var items []SummaryItem
	var contractFees float64

	for _, entry := range schedule {
		if !entry.MandatoryOnSigning {
			continue
		}
		switch entry.Type {
		case scheduleTypeStarterPackage:
			name := entry.Description
			if name == "" {
				name = "Starter Package"
			}
			items = append(items, SummaryItem{Name: name + " (one-time)", Amount: entry.Amount.Amount})
		case scheduleTypeContractFee:
			contractFees += entry.Amount.Amount
		}
	}

	if preview.PreUseCharge > 0 {
		items = append(items, SummaryItem{Name: "Pre-use Charge", Amount: preview.PreUseCharge})
		if remaining := contractFees - preview.PreUseCharge; remaining > 0 {
			items = append(items, SummaryItem{Name: "Partial Month Fee", Amount: remaining})
		}
	} else if contractFees > 0 {
		items = append(items, SummaryItem{Name: "First Payment", Amount: contractFees})
	}
	return items
}

func buildMonthlySection(schedule []models.PaymentScheduleEntry, currency string) *MonthlySection {
	var future []models.PaymentScheduleEntry
	for _, entry := range schedule {
		if !entry.MandatoryOnSigning {
			future = append(future, entry)
		}
	}
	if len(future) == 0 {
		return nil
	}

	section := &MonthlySection{
		Label:          "Your Ongoing Monthly Payments",
		StartDate:      future[0].DueDate,
		AmountPerMonth: future[0].Amount.Amount,
	}
	for _, entry := range future {
		section.Schedule = append(section.Schedule, ScheduledPayment{
			Month:   formatMonth(entry.DueDate),
			Amount:  entry.Amount.Amount,
			DueDate: entry.DueDate,
		})
	}
	section.Note = fmt.Sprintf("Your membership fee is %.2f %s per month, automatically collected each month.",
		section.AmountPerMonth, currency)
	return section
}

func buildOverviewItems(preview *models.PricingPreview, dueToday float64) []SummaryItem {
	items := []SummaryItem{{Name: "First payment today", Amount: dueToday}}
	if adjusted, ok := ageDiscount(preview); ok {
		items = append(items, SummaryItem{Name: "Monthly fee (age discount applied)", Amount: adjusted})
	} else if preview.PaymentPreview.BasePrice > 0 {
		items = append(items, SummaryItem{Name: "Monthly fee", Amount: preview.PaymentPreview.BasePrice})
	}
	if cv := preview.ContractVolume; cv != nil {
		if cv.TotalContractVolume > 0 {
			items = append(items, SummaryItem{Name: "Total contract value", Amount: cv.TotalContractVolume})
		}
		if cv.AveragePaymentVolumePerMonth > 0 {
			items = append(items, SummaryItem{Name: "Average monthly cost", Amount: cv.AveragePaymentVolumePerMonth})
		}
	}
	return items
}

func buildNotes(preview *models.PricingPreview, currency string, dueToday float64, monthly *MonthlySection) []string {
	notes := []string{
		fmt.Sprintf("You pay %.2f %s today (setup + first partial period).", dueToday, currency),
	}
	if monthly != nil && monthly.StartDate != "" {
		notes = append(notes, fmt.Sprintf("From %s, your monthly fee is %.2f %s.",
			formatMonth(monthly.StartDate), monthly.AmountPerMonth, currency))
	}
	if total := preview.TotalVolume(); total > 0 {
		notes = append(notes, fmt.Sprintf("Total expected payments: %.2f %s.", total, currency))
	}
	if adjusted, ok := ageDiscount(preview); ok {
		notes = append(notes, fmt.Sprintf("Age-based discount: you save %.2f %s per month.",
			preview.PaymentPreview.BasePrice-adjusted, currency))
	}
	notes = append(notes, fmt.Sprintf("All payments are made in %s.", currency))
	return notes
}

// ageDiscount returns the age-adjusted monthly price when it undercuts
// the base price.
func ageDiscount(preview *models.PricingPreview) (float64, bool) {
	if preview.AgeAdjustedPrice == nil || preview.PaymentPreview == nil {
		return 0, false
	}
	adjusted := *preview.AgeAdjustedPrice
	if base := preview.PaymentPreview.BasePrice; base > 0 && adjusted < base {
		return adjusted, true
	}
	return 0, false
}

// formatMonth renders an ISO date as "January 2026", falling back to
// the raw value when it does not parse.
func formatMonth(isoDate string) string {
	t, err := time.Parse("2006-01-02", isoDate)
	if err != nil {
		return isoDate
	}
	return t.Format("January 2006")
}
