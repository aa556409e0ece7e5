package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rocky28r/payment-widget-test/internal/models"
)

type fakeState struct {
	state models.FlowState
	// saves counts persisted mutations so tests can assert ordering.
	saves int
}

func (f *fakeState) Snapshot() models.FlowState { return f.state }

func (f *fakeState) Mutate(fn func(*models.FlowState)) error {
	fn(&f.state)
	f.saves++
	return nil
}

type fakeSessionAPI struct {
	requests []models.SessionRequest
	response models.SessionResponse
	err      error
}

func (f *fakeSessionAPI) CreateUserSession(ctx context.Context, req models.SessionRequest) (*models.SessionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	resp := f.response
	return &resp, nil
}

type fakeHandle struct{ destroyed int }

func (h *fakeHandle) Destroy() error { h.destroyed++; return nil }

type fakeWidget struct {
	configs []Config
	handles []*fakeHandle
	err     error
	// savesAtMount records the state save count when Init runs, to
	// verify the session token was persisted before mounting.
	savesAtMount []int
	state        *fakeState
}

func (w *fakeWidget) Init(cfg Config) (Handle, error) {
	w.configs = append(w.configs, cfg)
	if w.state != nil {
		w.savesAtMount = append(w.savesAtMount, w.state.saves)
	}
	if w.err != nil {
		return nil, w.err
	}
	h := &fakeHandle{}
	w.handles = append(w.handles, h)
	return h, nil
}

func flowStateWithOffer() models.FlowState {
	state := models.NewFlowState(time.Now())
	state.SelectedOffer = &models.SelectedOffer{
		ID:   "offer-1",
		Name: "Gym Premium",
		Term: models.Term{ID: "term-1"},
	}
	return state
}

func newTestOrchestrator(state *fakeState, api *fakeSessionAPI, widget *fakeWidget) *Orchestrator {
	widget.state = state
	return NewOrchestrator(api, state, widget, Settings{})
}

func TestCreateSessionRecurring(t *testing.T) {
	state := &fakeState{state: flowStateWithOffer()}
	api := &fakeSessionAPI{response: models.SessionResponse{Token: "sess-rec", FinionPayCustomerID: "cust-1"}}
	o := newTestOrchestrator(state, api, &fakeWidget{})

	token, err := o.CreateSession(context.Background(), models.PaymentSubStepRecurring)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if token != "sess-rec" {
		t.Errorf("unexpected token %q", token)
	}

	req := api.requests[0]
	if req.Scope != models.ScopeMemberAccount || req.Amount != 0 {
		t.Errorf("expected MEMBER_ACCOUNT scope with amount 0, got %+v", req)
	}
	if req.ReferenceText != "Membership: Gym Premium (Recurring)" {
		t.Errorf("unexpected reference text %q", req.ReferenceText)
	}
	if len(req.PermittedPaymentChoices) != 2 || req.PermittedPaymentChoices[0] != "SEPA" {
		t.Errorf("expected recurring fallback choices, got %v", req.PermittedPaymentChoices)
	}

	if state.state.Payment.RecurringSessionToken != "sess-rec" {
		t.Error("session token not persisted")
	}
	if !state.state.Payment.AwaitingRedirect || state.state.Payment.ActivePaymentStep != models.PaymentSubStepRecurring {
		t.Errorf("redirect markers not set: %+v", state.state.Payment)
	}
	if state.state.FinionPayCustomerID != "cust-1" {
		t.Error("finionPayCustomerId not cached")
	}
}

func TestCreateSessionUpfrontUsesDueToday(t *testing.T) {
	fs := flowStateWithOffer()
	fs.Preview = &models.PricingPreview{
		PaymentPreview: &models.PaymentPreview{
			DueOnSigningAmount: models.Money{Amount: 49.9, Currency: "EUR"},
		},
	}
	fs.FinionPayCustomerID = "cust-cached"
	state := &fakeState{state: fs}
	api := &fakeSessionAPI{response: models.SessionResponse{Token: "sess-up"}}
	o := newTestOrchestrator(state, api, &fakeWidget{})

	if _, err := o.CreateSession(context.Background(), models.PaymentSubStepUpfront); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := api.requests[0]
	if req.Scope != models.ScopeEcom || req.Amount != 49.9 {
		t.Errorf("expected ECOM scope with due amount, got %+v", req)
	}
	if req.FinionPayCustomerID != "cust-cached" {
		t.Error("cached finionPayCustomerId not reused")
	}
	if req.ReferenceText != "Membership: Gym Premium (Upfront)" {
		t.Errorf("unexpected reference text %q", req.ReferenceText)
	}
	for i, choice := range UpfrontPaymentChoices {
		if req.PermittedPaymentChoices[i] != choice {
			t.Fatalf("expected upfront allow-list, got %v", req.PermittedPaymentChoices)
		}
	}
}

func TestCreateSessionUpfrontWithoutDueAmountFails(t *testing.T) {
	state := &fakeState{state: flowStateWithOffer()}
	o := newTestOrchestrator(state, &fakeSessionAPI{}, &fakeWidget{})
	if _, err := o.CreateSession(context.Background(), models.PaymentSubStepUpfront); err == nil {
		t.Fatal("expected error when nothing is due")
	}
}

func TestCreateSessionRespectsOfferChoices(t *testing.T) {
	fs := flowStateWithOffer()
	fs.SelectedOffer.AllowedPaymentChoices = []string{"SEPA"}
	state := &fakeState{state: fs}
	api := &fakeSessionAPI{response: models.SessionResponse{Token: "t"}}
	o := newTestOrchestrator(state, api, &fakeWidget{})

	if _, err := o.CreateSession(context.Background(), models.PaymentSubStepRecurring); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.requests[0].PermittedPaymentChoices) != 1 || api.requests[0].PermittedPaymentChoices[0] != "SEPA" {
		t.Errorf("expected offer's choices, got %v", api.requests[0].PermittedPaymentChoices)
	}
}

func TestMountPersistsTokenBeforeWidgetInit(t *testing.T) {
	state := &fakeState{state: flowStateWithOffer()}
	api := &fakeSessionAPI{response: models.SessionResponse{Token: "sess-1"}}
	widget := &fakeWidget{}
	o := newTestOrchestrator(state, api, widget)

	if err := o.Mount(context.Background(), models.PaymentSubStepRecurring, "recurring-container"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(widget.savesAtMount) != 1 || widget.savesAtMount[0] < 1 {
		t.Error("widget mounted before the session token was persisted")
	}
	if widget.configs[0].UserSessionToken != "sess-1" {
		t.Errorf("widget mounted with wrong token %q", widget.configs[0].UserSessionToken)
	}
}

func TestRemountReusesPersistedSession(t *testing.T) {
	fs := flowStateWithOffer()
	fs.Payment.RecurringSessionToken = "sess-old"
	fs.Payment.AwaitingRedirect = true
	state := &fakeState{state: fs}
	api := &fakeSessionAPI{response: models.SessionResponse{Token: "sess-new"}}
	widget := &fakeWidget{}
	o := newTestOrchestrator(state, api, widget)

	if err := o.Remount(models.PaymentSubStepRecurring, "recurring-container"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.requests) != 0 {
		t.Error("remount must not create a new session")
	}
	if widget.configs[0].UserSessionToken != "sess-old" {
		t.Errorf("expected persisted token, got %q", widget.configs[0].UserSessionToken)
	}
	if state.state.Payment.AwaitingRedirect {
		t.Error("awaitingRedirect should clear after confirmed remount")
	}
}

func TestRemountWithoutTokenFails(t *testing.T) {
	state := &fakeState{state: flowStateWithOffer()}
	o := newTestOrchestrator(state, &fakeSessionAPI{}, &fakeWidget{})
	if err := o.Remount(models.PaymentSubStepUpfront, "c"); err == nil {
		t.Fatal("expected error without persisted token")
	}
}

func TestRemountKeepsAwaitingRedirectOnMountFailure(t *testing.T) {
	fs := flowStateWithOffer()
	fs.Payment.RecurringSessionToken = "sess-old"
	fs.Payment.AwaitingRedirect = true
	state := &fakeState{state: fs}
	widget := &fakeWidget{err: errors.New("container missing")}
	o := newTestOrchestrator(state, &fakeSessionAPI{}, widget)

	if err := o.Remount(models.PaymentSubStepRecurring, "c"); err == nil {
		t.Fatal("expected mount failure")
	}
	if !state.state.Payment.AwaitingRedirect {
		t.Error("awaitingRedirect must survive a failed remount")
	}
}

func TestMountDestroysPreviousInstance(t *testing.T) {
	state := &fakeState{state: flowStateWithOffer()}
	api := &fakeSessionAPI{response: models.SessionResponse{Token: "t"}}
	widget := &fakeWidget{}
	o := newTestOrchestrator(state, api, widget)

	if err := o.Mount(context.Background(), models.PaymentSubStepRecurring, "c"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := o.Mount(context.Background(), models.PaymentSubStepRecurring, "c"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if widget.handles[0].destroyed != 1 {
		t.Error("previous widget instance not destroyed before remount")
	}
}

func TestHandleSuccessStoresToken(t *testing.T) {
	fs := flowStateWithOffer()
	fs.Payment.AwaitingRedirect = true
	fs.Payment.ActivePaymentStep = models.PaymentSubStepRecurring
	state := &fakeState{state: fs}
	o := newTestOrchestrator(state, &fakeSessionAPI{}, &fakeWidget{})

	err := o.HandleSuccess(models.PaymentSubStepRecurring, "tok-rec", &InstrumentDetails{Type: "SEPA"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p := state.state.Payment
	if p.RecurringToken != "tok-rec" || p.Method != "SEPA" {
		t.Errorf("token or method not stored: %+v", p)
	}
	if p.AwaitingRedirect || p.ActivePaymentStep != "" {
		t.Errorf("redirect markers not cleared: %+v", p)
	}
}

func TestDestroyAll(t *testing.T) {
	state := &fakeState{state: flowStateWithOffer()}
	api := &fakeSessionAPI{response: models.SessionResponse{Token: "t"}}
	widget := &fakeWidget{}
	o := newTestOrchestrator(state, api, widget)

	o.Mount(context.Background(), models.PaymentSubStepRecurring, "c")
	o.DestroyAll()
	if widget.handles[0].destroyed != 1 {
		t.Error("DestroyAll did not destroy mounted widget")
	}
}
