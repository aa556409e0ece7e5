package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rocky28r/payment-widget-test/internal/models"
)

type fakeBackend struct {
	mu           sync.Mutex
	offers       []models.Offer
	preview      *models.PricingPreview
	sessionCalls int
	signupCalls  int
}

func (f *fakeBackend) Offers(ctx context.Context) ([]models.Offer, error) {
	return f.offers, nil
}

func (f *fakeBackend) OfferByID(ctx context.Context, id string) (*models.Offer, error) {
	for _, offer := range f.offers {
		if offer.ID == id {
			o := offer
			return &o, nil
		}
	}
	return nil, fmt.Errorf("offer %s not found", id)
}

func (f *fakeBackend) PreviewSignup(ctx context.Context, req models.PreviewRequest) (*models.PricingPreview, error) {
	return f.preview, nil
}

func (f *fakeBackend) CreateUserSession(ctx context.Context, req models.SessionRequest) (*models.SessionResponse, error) {
	f.mu.Lock()
	f.sessionCalls++
	n := f.sessionCalls
	f.mu.Unlock()
	return &models.SessionResponse{
		Token:               fmt.Sprintf("sess-%d", n),
		FinionPayCustomerID: "fp-cust-1",
	}, nil
}

func (f *fakeBackend) CreateMembership(ctx context.Context, req models.SignupRequest) (*models.SignupResponse, error) {
	f.mu.Lock()
	f.signupCalls++
	f.mu.Unlock()
	return &models.SignupResponse{CustomerID: "cust-77"}, nil
}

func testOffer() models.Offer {
	return models.Offer{
		ID:   "offer-1",
		Name: "Basic",
		Terms: []models.Term{
			{
				ID: "term-1",
				PaymentFrequency: &models.PaymentFrequency{
					Type:  models.PaymentFrequencyRecurring,
					Price: &models.Money{Amount: 29.9, Currency: "EUR"},
					Term:  &models.TermDuration{Value: 1, Unit: "MONTH"},
				},
			},
			{ID: "term-2"},
		},
	}
}

func testPreview() *models.PricingPreview {
	return &models.PricingPreview{
		PaymentPreview: &models.PaymentPreview{
			DueOnSigningAmount: models.Money{Amount: 20, Currency: "EUR"},
			PaymentSchedule: []models.PaymentScheduleEntry{
				{Amount: models.Money{Amount: 29.9, Currency: "EUR"}, DueDate: "2026-04-01"},
			},
		},
		ContractVolume: &models.ContractVolume{TotalContractVolume: 300},
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeBackend) {
	t.Helper()
	backend := &fakeBackend{offers: []models.Offer{testOffer()}, preview: testPreview()}
	srv := NewServer(backend, WithPreviewDebounce(time.Millisecond))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, backend
}

func doRequest(t *testing.T, method, url string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		t.Fatalf("failed to read response: %v", err)
	}
	return resp, buf.Bytes()
}

type flowEnvelope struct {
	Status string `json:"status"`
	Result struct {
		FlowID string           `json:"flowId"`
		State  models.FlowState `json:"state"`
	} `json:"result"`
}

func createFlow(t *testing.T, baseURL string) string {
	t.Helper()
	resp, body := doRequest(t, http.MethodPost, baseURL+"/api/v1/flows", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, body)
	}
	var envelope flowEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if envelope.Result.FlowID == "" {
		t.Fatal("expected a flow id")
	}
	return envelope.Result.FlowID
}

func flowURL(baseURL, flowID, suffix string) string {
	return baseURL + "/api/v1/flows/" + flowID + suffix
}

func TestCreateFlowReturnsInitialState(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := doRequest(t, http.MethodPost, ts.URL+"/api/v1/flows", nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, body)
	}
	var envelope flowEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if envelope.Result.State.CurrentStep != models.FirstStep {
		t.Errorf("fresh flow must start on the first step, got %v", envelope.Result.State.CurrentStep)
	}
	if envelope.Result.State.Customer.Language.LanguageCode != "de" {
		t.Errorf("default locale missing: %+v", envelope.Result.State.Customer.Language)
	}
}

func TestUnknownFlowReturns404(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := doRequest(t, http.MethodGet, flowURL(ts.URL, "nope", ""), nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func TestOffersEndpointReturnsCatalog(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := doRequest(t, http.MethodGet, ts.URL+"/api/v1/offers", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, body)
	}
	var envelope struct {
		Result []struct {
			ID       string `json:"id"`
			Variants []struct {
				Default bool `json:"default"`
			} `json:"variants"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(envelope.Result) != 1 || envelope.Result[0].ID != "offer-1" {
		t.Fatalf("unexpected catalog: %s", body)
	}
	if len(envelope.Result[0].Variants) == 0 || !envelope.Result[0].Variants[0].Default {
		t.Errorf("first variant must be the default: %s", body)
	}
}

func TestSelectOfferRejectsUnknownTerm(t *testing.T) {
	ts, _ := newTestServer(t)
	flowID := createFlow(t, ts.URL)
	resp, _ := doRequest(t, http.MethodPost, flowURL(ts.URL, flowID, "/offer"),
		map[string]string{"offerId": "offer-1", "termId": "bogus"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
}

func TestNavigationPastSuccessorRejected(t *testing.T) {
	ts, _ := newTestServer(t)
	flowID := createFlow(t, ts.URL)
	doRequest(t, http.MethodPost, flowURL(ts.URL, flowID, "/offer"),
		map[string]string{"offerId": "offer-1", "termId": "term-1"})

	resp, _ := doRequest(t, http.MethodPost, flowURL(ts.URL, flowID, "/navigate"),
		map[string]int{"step": int(models.StepPreview)})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("unexpected status %d", resp.StatusCode)
	}
}

// walkToPreview drives a flow through offer selection, personal info
// and the preview step.
func walkToPreview(t *testing.T, baseURL, flowID string) {
	t.Helper()
	steps := []struct {
		method string
		path   string
		body   interface{}
	}{
		{http.MethodPost, "/offer", map[string]string{"offerId": "offer-1", "termId": "term-1"}},
		{http.MethodPost, "/navigate", map[string]int{"step": int(models.StepOfferDetails)}},
		{http.MethodPost, "/navigate", map[string]int{"step": int(models.StepPersonalInfo)}},
		{http.MethodPut, "/customer", map[string]interface{}{
			"customer": map[string]interface{}{
				"firstName": "Ada",
				"lastName":  "Lovelace",
				"email":     "ada@example.com",
				"address":   map[string]string{"street": "Hauptstr. 1", "city": "Berlin", "zipCode": "10115", "countryCode": "DE"},
			},
		}},
		{http.MethodPost, "/navigate", map[string]int{"step": int(models.StepPreview)}},
		{http.MethodPost, "/preview", nil},
	}
	for _, step := range steps {
		resp, body := doRequest(t, step.method, flowURL(baseURL, flowID, step.path), step.body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s %s: unexpected status %d: %s", step.method, step.path, resp.StatusCode, body)
		}
	}
}

func TestNavigateBackRequiresConfirmation(t *testing.T) {
	ts, _ := newTestServer(t)
	flowID := createFlow(t, ts.URL)
	walkToPreview(t, ts.URL, flowID)

	// The first attempt returns the warning instead of moving.
	resp, body := doRequest(t, http.MethodPost, flowURL(ts.URL, flowID, "/navigate"),
		map[string]int{"step": int(models.StepPersonalInfo)})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, body)
	}
	var warning struct {
		Message string `json:"message"`
		Result  struct {
			RequiresConfirmation bool `json:"requiresConfirmation"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &warning); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if warning.Message == "" || !warning.Result.RequiresConfirmation {
		t.Fatalf("expected a confirmation prompt: %s", body)
	}

	var envelope flowEnvelope
	_, body = doRequest(t, http.MethodGet, flowURL(ts.URL, flowID, ""), nil)
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if envelope.Result.State.CurrentStep != models.StepPreview {
		t.Fatalf("unconfirmed navigation must not move the flow, got %v", envelope.Result.State.CurrentStep)
	}
	if envelope.Result.State.Preview == nil {
		t.Fatal("unconfirmed navigation must not clear the preview")
	}

	// The acknowledged retry proceeds and applies the invalidation.
	resp, body = doRequest(t, http.MethodPost, flowURL(ts.URL, flowID, "/navigate"),
		map[string]interface{}{"step": int(models.StepPersonalInfo), "confirmed": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, body)
	}
	envelope = flowEnvelope{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if envelope.Result.State.CurrentStep != models.StepPersonalInfo {
		t.Errorf("unexpected current step %v", envelope.Result.State.CurrentStep)
	}
	if envelope.Result.State.Preview != nil {
		t.Error("confirmed back-navigation must clear the preview")
	}
}

func TestFullSignupFlow(t *testing.T) {
	ts, backend := newTestServer(t)
	flowID := createFlow(t, ts.URL)
	walkToPreview(t, ts.URL, flowID)

	// Recurring mandate step.
	resp, body := doRequest(t, http.MethodPost, flowURL(ts.URL, flowID, "/navigate"),
		map[string]int{"step": int(models.StepRecurringPayment)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("navigate to recurring: %d: %s", resp.StatusCode, body)
	}
	resp, body = doRequest(t, http.MethodPost, flowURL(ts.URL, flowID, "/payment/mount"),
		map[string]string{"subStep": "recurring"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mount recurring: %d: %s", resp.StatusCode, body)
	}
	var mount struct {
		Result struct {
			UserSessionToken string `json:"userSessionToken"`
			Container        string `json:"container"`
			ResumeURL        string `json:"resumeUrl"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &mount); err != nil {
		t.Fatalf("failed to decode mount: %v", err)
	}
	if mount.Result.UserSessionToken == "" || mount.Result.Container == "" {
		t.Fatalf("incomplete mount descriptor: %s", body)
	}
	if mount.Result.ResumeURL != "?payment=recurring&step=5" {
		t.Errorf("unexpected resume url %q", mount.Result.ResumeURL)
	}

	resp, _ = doRequest(t, http.MethodPost, flowURL(ts.URL, flowID, "/payment/success"),
		map[string]interface{}{
			"subStep":              "recurring",
			"paymentRequestToken":  "tok-rec",
			"paymentMethodDetails": map[string]string{"type": "SEPA"},
		})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recurring success: %d", resp.StatusCode)
	}

	// Upfront charge step.
	for _, call := range []struct {
		path string
		body interface{}
	}{
		{"/navigate", map[string]int{"step": int(models.StepUpfrontPayment)}},
		{"/payment/mount", map[string]string{"subStep": "upfront"}},
		{"/payment/success", map[string]string{"subStep": "upfront", "paymentRequestToken": "tok-up"}},
		{"/navigate", map[string]int{"step": int(models.StepConfirm)}},
	} {
		resp, body := doRequest(t, http.MethodPost, flowURL(ts.URL, flowID, call.path), call.body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: unexpected status %d: %s", call.path, resp.StatusCode, body)
		}
	}

	resp, body = doRequest(t, http.MethodPost, flowURL(ts.URL, flowID, "/signup"), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signup: %d: %s", resp.StatusCode, body)
	}
	var signup struct {
		Result struct {
			CustomerID string `json:"customerId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &signup); err != nil {
		t.Fatalf("failed to decode signup: %v", err)
	}
	if signup.Result.CustomerID != "cust-77" {
		t.Errorf("unexpected customer id %q", signup.Result.CustomerID)
	}
	if backend.signupCalls != 1 {
		t.Errorf("expected 1 signup call, got %d", backend.signupCalls)
	}
}

func TestResumeAfterRedirectRemountsWithoutNewSession(t *testing.T) {
	ts, backend := newTestServer(t)
	flowID := createFlow(t, ts.URL)
	walkToPreview(t, ts.URL, flowID)

	for _, call := range []struct {
		path string
		body interface{}
	}{
		{"/navigate", map[string]int{"step": int(models.StepRecurringPayment)}},
		{"/payment/mount", map[string]string{"subStep": "recurring"}},
	} {
		resp, body := doRequest(t, http.MethodPost, flowURL(ts.URL, flowID, call.path), call.body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: unexpected status %d: %s", call.path, resp.StatusCode, body)
		}
	}
	sessionsBefore := backend.sessionCalls

	// The customer comes back from the payment provider's redirect.
	resp, body := doRequest(t, http.MethodPost, flowURL(ts.URL, flowID, "/resume"),
		map[string]string{"url": "/?step=5&payment=recurring"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("resume: %d: %s", resp.StatusCode, body)
	}
	var resume struct {
		Result struct {
			Step      models.StepID `json:"step"`
			Remounted string        `json:"remounted"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resume); err != nil {
		t.Fatalf("failed to decode resume: %v", err)
	}
	if resume.Result.Step != models.StepRecurringPayment || resume.Result.Remounted != "recurring" {
		t.Errorf("unexpected resume outcome: %s", body)
	}
	if backend.sessionCalls != sessionsBefore {
		t.Errorf("remount must not create a new payment session: %d -> %d", sessionsBefore, backend.sessionCalls)
	}
}

func TestResetClearsFlowState(t *testing.T) {
	ts, _ := newTestServer(t)
	flowID := createFlow(t, ts.URL)
	walkToPreview(t, ts.URL, flowID)

	resp, body := doRequest(t, http.MethodDelete, flowURL(ts.URL, flowID, ""), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset: %d: %s", resp.StatusCode, body)
	}
	var envelope flowEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if envelope.Result.State.CurrentStep != models.FirstStep || envelope.Result.State.SelectedOffer != nil {
		t.Errorf("reset must return a fresh state: %+v", envelope.Result.State)
	}
}

func TestVoucherEndpointRepricesImmediately(t *testing.T) {
	ts, backend := newTestServer(t)
	flowID := createFlow(t, ts.URL)
	walkToPreview(t, ts.URL, flowID)

	backend.preview = &models.PricingPreview{
		PaymentPreview: &models.PaymentPreview{
			DueOnSigningAmount: models.Money{Amount: 10, Currency: "EUR"},
			PaymentSchedule: []models.PaymentScheduleEntry{
				{Amount: models.Money{Amount: 29.9, Currency: "EUR"}},
			},
		},
		ContractVolume: &models.ContractVolume{TotalContractVolume: 290},
	}

	resp, body := doRequest(t, http.MethodPost, flowURL(ts.URL, flowID, "/voucher"),
		map[string]string{"code": "WELCOME10"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("voucher: %d: %s", resp.StatusCode, body)
	}
	var envelope struct {
		Result struct {
			State   models.FlowState       `json:"state"`
			Preview *models.PricingPreview `json:"preview"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if envelope.Result.State.Contract.VoucherCode != "WELCOME10" {
		t.Errorf("voucher code not recorded: %+v", envelope.Result.State.Contract)
	}
	if envelope.Result.Preview.DueToday().Amount != 10 {
		t.Errorf("repriced preview missing: %+v", envelope.Result.Preview)
	}
}
