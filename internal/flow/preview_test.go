package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rocky28r/payment-widget-test/internal/models"
)

// blockingPreviewAPI lets tests control when each preview request
// resolves, to exercise the supersede/cancel behavior.
type blockingPreviewAPI struct {
	mu       sync.Mutex
	calls    []models.PreviewRequest
	release  chan struct{}
	previews []*models.PricingPreview
	errs     []error
}

func (b *blockingPreviewAPI) PreviewSignup(ctx context.Context, req models.PreviewRequest) (*models.PricingPreview, error) {
	b.mu.Lock()
	idx := len(b.calls)
	b.calls = append(b.calls, req)
	release := b.release
	b.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < len(b.errs) && b.errs[idx] != nil {
		return nil, b.errs[idx]
	}
	if idx < len(b.previews) {
		return b.previews[idx], nil
	}
	return previewWith(20, 300, 29.9), nil
}

func (b *blockingPreviewAPI) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func waitForResult(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for preview result")
	}
}

func TestPreviewRefreshAppliesResult(t *testing.T) {
	m := newTestMachine(t)
	completeThroughPreview(t, m)

	api := &blockingPreviewAPI{previews: []*models.PricingPreview{previewWith(0, 300, 29.9)}}
	svc := NewPreviewService(api, m, time.Millisecond)
	done := make(chan struct{})
	svc.OnResult = func(p *models.PricingPreview, err error) {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		close(done)
	}

	svc.Refresh(context.Background())
	waitForResult(t, done)

	s := m.State().Snapshot()
	if s.Preview.DueToday().Amount != 0 {
		t.Errorf("preview not applied: %+v", s.Preview)
	}
	if !s.Payment.SkippedUpfront {
		t.Error("skip flags not re-derived from new preview")
	}
}

func TestPreviewRaceOnlyLatestApplies(t *testing.T) {
	m := newTestMachine(t)
	completeThroughPreview(t, m)

	release := make(chan struct{})
	api := &blockingPreviewAPI{
		release: release,
		previews: []*models.PricingPreview{
			previewWith(99, 300, 29.9), // stale: voucher apply
			previewWith(10, 300, 29.9), // fresh: start-date change
		},
	}
	svc := NewPreviewService(api, m, time.Millisecond)
	done := make(chan struct{})
	svc.OnResult = func(p *models.PricingPreview, err error) {
		close(done)
	}

	go svc.Refresh(context.Background())
	time.Sleep(50 * time.Millisecond)

	// Supersede the in-flight request before it resolves.
	go svc.Refresh(context.Background())
	time.Sleep(50 * time.Millisecond)
	close(release)

	waitForResult(t, done)
	// Give the stale goroutine a chance to (incorrectly) apply.
	time.Sleep(100 * time.Millisecond)

	if got := m.State().Snapshot().Preview.DueToday().Amount; got != 10 {
		t.Errorf("stale preview overwrote fresh one: due=%v", got)
	}
}

func TestPreviewTriggerDebounces(t *testing.T) {
	m := newTestMachine(t)
	completeThroughPreview(t, m)

	api := &blockingPreviewAPI{}
	svc := NewPreviewService(api, m, 80*time.Millisecond)
	done := make(chan struct{})
	svc.OnResult = func(p *models.PricingPreview, err error) { close(done) }

	// Rapid-fire triggers coalesce into one fetch.
	svc.Trigger(context.Background())
	svc.Trigger(context.Background())
	svc.Trigger(context.Background())

	waitForResult(t, done)
	if got := api.callCount(); got != 1 {
		t.Errorf("expected 1 coalesced fetch, got %d", got)
	}
}

func TestPreviewErrorSurfacesWithoutStateChange(t *testing.T) {
	m := newTestMachine(t)
	completeThroughPreview(t, m)
	before := m.State().Snapshot().Preview

	api := &blockingPreviewAPI{errs: []error{errors.New("backend down")}}
	svc := NewPreviewService(api, m, time.Millisecond)
	done := make(chan struct{})
	var gotErr error
	svc.OnResult = func(p *models.PricingPreview, err error) {
		gotErr = err
		close(done)
	}

	svc.Refresh(context.Background())
	waitForResult(t, done)

	if gotErr == nil {
		t.Fatal("expected error to surface")
	}
	if got := m.State().Snapshot().Preview; got.DueToday() != before.DueToday() {
		t.Error("failed fetch must not change the applied preview")
	}
}

func TestPreviewRequestShape(t *testing.T) {
	m := newTestMachine(t)
	completeThroughPreview(t, m)
	m.State().Mutate(func(s *models.FlowState) {
		s.Contract.VoucherCode = "WELCOME10"
	})

	req, err := buildPreviewRequest(m.State().Snapshot())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Contract.ContractOfferTermID != "term-1" || req.Contract.VoucherCode != "WELCOME10" {
		t.Errorf("unexpected contract section: %+v", req.Contract)
	}
	if req.Customer.FirstName != "Ada" || req.Customer.Street != "Hauptstr. 1" {
		t.Errorf("unexpected customer section: %+v", req.Customer)
	}
}
