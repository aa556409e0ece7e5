// Package flow implements the wizard's step machine and durable state.
//
// This file implements the debounced, cancelable pricing preview. A
// new trigger cancels any in-flight request; only the most recent
// request's result is ever applied to the flow state.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rocky28r/payment-widget-test/internal/models"
)

// DefaultPreviewDebounce is how long input changes are coalesced
// before a preview request fires.
const DefaultPreviewDebounce = 500 * time.Millisecond

// PreviewAPI prices a prospective contract.
type PreviewAPI interface {
	PreviewSignup(ctx context.Context, req models.PreviewRequest) (*models.PricingPreview, error)
}

// PreviewService debounces preview triggers and guarantees that a
// superseded request never overwrites a fresher result.
type PreviewService struct {
	api      PreviewAPI
	machine  *Machine
	debounce time.Duration

	mu         sync.Mutex
	generation uint64
	timer      *time.Timer
	cancel     context.CancelFunc

	// OnResult, when set, observes the outcome of each applied
	// preview fetch. Superseded requests never reach it.
	OnResult func(preview *models.PricingPreview, err error)
}

// NewPreviewService wires the preview pipeline. A zero debounce keeps
// the default.
func NewPreviewService(api PreviewAPI, machine *Machine, debounce time.Duration) *PreviewService {
	if debounce <= 0 {
		debounce = DefaultPreviewDebounce
	}
	return &PreviewService{api: api, machine: machine, debounce: debounce}
}

// buildRequest assembles the preview request from the current state.
func buildPreviewRequest(state models.FlowState) (models.PreviewRequest, error) {
	if !state.SelectedOffer.Valid() {
		return models.PreviewRequest{}, fmt.Errorf("no offer selected")
	}
	return models.PreviewRequest{
		Contract: models.PreviewContract{
			ContractOfferTermID: state.SelectedOffer.Term.ID,
			StartDate:           state.Contract.StartDate,
			VoucherCode:         state.Contract.VoucherCode,
		},
		Customer: models.PreviewCustomer{
			FirstName:         state.Customer.FirstName,
			LastName:          state.Customer.LastName,
			DateOfBirth:       state.Customer.DateOfBirth,
			Email:             state.Customer.Email,
			PhoneNumberMobile: state.Customer.Phone,
			Street:            state.Customer.Address.Street,
			City:              state.Customer.Address.City,
			ZipCode:           state.Customer.Address.ZipCode,
			CountryCode:       state.Customer.Address.CountryCode,
			Language:          state.Customer.Language,
		},
	}, nil
}

// Trigger schedules a preview fetch after the debounce window,
// superseding any pending or in-flight fetch.
func (p *PreviewService) Trigger(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.generation++
	gen := p.generation

	if p.timer != nil {
		p.timer.Stop()
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}

	p.timer = time.AfterFunc(p.debounce, func() {
		p.fetch(ctx, gen)
	})
}

// Refresh fetches immediately, bypassing the debounce window. Used for
// explicit actions like voucher application. It returns the applied
// preview, or nil when the fetch failed or was superseded.
func (p *PreviewService) Refresh(ctx context.Context) (*models.PricingPreview, error) {
	p.mu.Lock()
	p.generation++
	gen := p.generation
	if p.timer != nil {
		p.timer.Stop()
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()

	return p.fetch(ctx, gen)
}

func (p *PreviewService) fetch(ctx context.Context, gen uint64) (*models.PricingPreview, error) {
	req, err := buildPreviewRequest(p.machine.State().Snapshot())
	if err != nil {
		p.report(gen, nil, err)
		return nil, err
	}

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return nil, nil
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	preview, err := p.api.PreviewSignup(fetchCtx, req)

	p.mu.Lock()
	stale := gen != p.generation
	p.mu.Unlock()
	if stale {
		slog.Debug("PreviewService discarding superseded preview result", "generation", gen)
		return nil, nil
	}

	if err != nil {
		slog.Error("PreviewService fetch failed", "error", err)
		p.report(gen, nil, err)
		return nil, err
	}
	if err := p.machine.ApplyPreview(preview); err != nil {
		p.report(gen, nil, err)
		return nil, err
	}
	slog.Debug("PreviewService applied preview", "generation", gen, "dueToday", preview.DueToday().Amount)
	p.report(gen, preview, nil)
	return preview, nil
}

func (p *PreviewService) report(gen uint64, preview *models.PricingPreview, err error) {
	p.mu.Lock()
	cb := p.OnResult
	current := p.generation
	p.mu.Unlock()
	if cb != nil && gen == current {
		cb(preview, err)
	}
}
