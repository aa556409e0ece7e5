package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rocky28r/payment-widget-test/internal/api"
	"github.com/rocky28r/payment-widget-test/internal/flow"
	"github.com/rocky28r/payment-widget-test/internal/models"
	"github.com/rocky28r/payment-widget-test/internal/offers"
	"github.com/rocky28r/payment-widget-test/internal/payment"
	"github.com/rocky28r/payment-widget-test/internal/recovery"
)

// flowView is the state representation returned to clients.
type flowView struct {
	FlowID string           `json:"flowId"`
	State  models.FlowState `json:"state"`
}

func (s *Server) view(sess *session) flowView {
	return flowView{FlowID: sess.id, State: sess.machine.State().Snapshot()}
}

// relayError writes a backend error with its mapped status, or a 400
// for local validation failures.
func relayError(w http.ResponseWriter, err error) {
	var apiErr *api.APIError
	if errors.As(err, &apiErr) {
		writeJSONResponse(w, errorStatus(err), models.Error(apiErr.Message))
		return
	}
	writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
}

// sessionFor resolves the flow session from the request path, replying
// 404 itself when the flow is unknown.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) (*session, bool) {
	id := r.PathValue("id")
	sess, ok := s.session(id)
	if !ok {
		slog.Warn("Server.sessionFor: unknown flow", "flowId", id)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown flow"))
		return nil, false
	}
	return sess, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if r.Body != nil {
		defer r.Body.Close()
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		slog.Warn("Server.decodeBody: failed to decode JSON", "path", r.URL.Path, "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return false
	}
	return true
}

func parseSubStep(value string) (models.PaymentSubStep, error) {
	switch models.PaymentSubStep(value) {
	case models.PaymentSubStepRecurring:
		return models.PaymentSubStepRecurring, nil
	case models.PaymentSubStepUpfront:
		return models.PaymentSubStepUpfront, nil
	default:
		return "", fmt.Errorf("unknown payment sub-step %q", value)
	}
}

func containerFor(sub models.PaymentSubStep) string {
	if sub == models.PaymentSubStepUpfront {
		return recovery.UpfrontContainer
	}
	return recovery.RecurringContainer
}

func (s *Server) offersHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.offersHandler: listing offers")
	list, err := s.backend.Offers(r.Context())
	if err != nil {
		slog.Error("Server.offersHandler: backend fetch failed", "error", err)
		relayError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(offers.BuildCatalog(list)))
}

func (s *Server) offerDetailHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	slog.Debug("Server.offerDetailHandler: fetching offer", "offerId", id)
	offer, err := s.backend.OfferByID(r.Context(), id)
	if err != nil {
		slog.Error("Server.offerDetailHandler: backend fetch failed", "offerId", id, "error", err)
		relayError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(struct {
		Offer   *models.Offer  `json:"offer"`
		Display offers.Preview `json:"display"`
	}{offer, offers.BuildPreview(*offer)}))
}

func (s *Server) createFlowHandler(w http.ResponseWriter, r *http.Request) {
	sess, err := s.newSession()
	if err != nil {
		slog.Error("Server.createFlowHandler: failed to create flow", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to create flow"))
		return
	}
	slog.Info("Server.createFlowHandler: flow created", "flowId", sess.id)
	writeJSONResponse(w, http.StatusCreated, models.Success(s.view(sess)))
}

func (s *Server) getFlowHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.view(sess)))
}

func (s *Server) resetFlowHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	sess.payments.DestroyAll()
	if err := sess.machine.State().Reset(); err != nil {
		slog.Error("Server.resetFlowHandler: reset failed", "flowId", sess.id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to reset flow"))
		return
	}
	slog.Info("Server.resetFlowHandler: flow reset", "flowId", sess.id)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Flow reset", s.view(sess)))
}

func (s *Server) selectOfferHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	var body struct {
		OfferID string `json:"offerId"`
		TermID  string `json:"termId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.OfferID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: offerId"))
		return
	}

	offer, err := s.backend.OfferByID(r.Context(), body.OfferID)
	if err != nil {
		slog.Error("Server.selectOfferHandler: offer fetch failed", "offerId", body.OfferID, "error", err)
		relayError(w, err)
		return
	}

	term, found := pickTerm(offer, body.TermID)
	if !found {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Offer has no matching term"))
		return
	}

	err = sess.machine.State().Mutate(func(st *models.FlowState) {
		st.SelectedOffer = &models.SelectedOffer{
			ID:                    offer.ID,
			Name:                  offer.Name,
			Description:           offer.Description,
			Term:                  term,
			AllowedPaymentChoices: offer.AllowedPaymentChoices,
		}
	})
	if err != nil {
		slog.Error("Server.selectOfferHandler: persist failed", "flowId", sess.id, "error", err)
	}
	slog.Info("Server.selectOfferHandler: offer selected", "flowId", sess.id, "offerId", offer.ID, "termId", term.ID)
	writeJSONResponse(w, http.StatusOK, models.Success(s.view(sess)))
}

// pickTerm selects the requested term variant, defaulting to the first.
func pickTerm(offer *models.Offer, termID string) (models.Term, bool) {
	if len(offer.Terms) == 0 {
		return models.Term{}, false
	}
	if termID == "" {
		return offer.Terms[0], true
	}
	for _, term := range offer.Terms {
		if term.ID == termID {
			return term, true
		}
	}
	return models.Term{}, false
}

func (s *Server) customerHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	var body struct {
		Customer  models.CustomerInfo `json:"customer"`
		StartDate string              `json:"startDate,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	err := sess.machine.State().Mutate(func(st *models.FlowState) {
		if body.Customer.Language.LanguageCode == "" {
			body.Customer.Language = st.Customer.Language
		}
		st.Customer = body.Customer
		if body.StartDate != "" {
			st.Contract.StartDate = body.StartDate
		}
	})
	if err != nil {
		slog.Error("Server.customerHandler: persist failed", "flowId", sess.id, "error", err)
	}

	// Input changes re-price the contract, coalesced behind the
	// debounce window. The fetch outlives this request.
	if sess.machine.State().Snapshot().SelectedOffer.Valid() {
		sess.preview.Trigger(context.Background())
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.view(sess)))
}

func (s *Server) voucherHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	var body struct {
		Code string `json:"code"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if err := sess.machine.State().Mutate(func(st *models.FlowState) {
		st.Contract.VoucherCode = body.Code
	}); err != nil {
		slog.Error("Server.voucherHandler: persist failed", "flowId", sess.id, "error", err)
	}

	// Voucher application reprices immediately, no debounce.
	preview, err := sess.preview.Refresh(r.Context())
	if err != nil {
		slog.Warn("Server.voucherHandler: preview refresh failed", "flowId", sess.id, "error", err)
		relayError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(struct {
		flowView
		Preview *models.PricingPreview `json:"preview,omitempty"`
	}{s.view(sess), preview}))
}

func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	preview, err := sess.preview.Refresh(r.Context())
	if err != nil {
		slog.Warn("Server.previewHandler: refresh failed", "flowId", sess.id, "error", err)
		relayError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(struct {
		flowView
		Preview *models.PricingPreview `json:"preview,omitempty"`
	}{s.view(sess), preview}))
}

func (s *Server) navigateHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	var body struct {
		Step models.StepID `json:"step"`
		// Confirmed acknowledges the destructive-navigation warning.
		Confirmed bool `json:"confirmed,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	// A backward move that would discard entered data needs an explicit
	// acknowledgement; the first attempt gets the warning text back.
	if warning := sess.machine.BackwardWarning(body.Step); warning != "" && !body.Confirmed {
		slog.Debug("Server.navigateHandler: confirmation required", "flowId", sess.id, "step", body.Step)
		writeJSONResponse(w, http.StatusConflict, models.NewAPIResponseBuilder().
			WithStatus(models.APIStatusError).
			WithMessage(warning).
			WithResult(struct {
				RequiresConfirmation bool `json:"requiresConfirmation"`
			}{true}).
			Build())
		return
	}

	if err := sess.machine.NavigateTo(body.Step); err != nil {
		slog.Warn("Server.navigateHandler: navigation rejected", "flowId", sess.id, "step", body.Step, "error", err)
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
		return
	}
	slog.Debug("Server.navigateHandler: navigated", "flowId", sess.id, "step", body.Step)
	writeJSONResponse(w, http.StatusOK, models.Success(s.view(sess)))
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	state := sess.machine.State().Snapshot()
	summary := flow.BuildPaymentSummary(state.Preview, state.SelectedOffer)
	writeJSONResponse(w, http.StatusOK, models.Success(summary))
}

func (s *Server) paymentMountHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	var body struct {
		SubStep string `json:"subStep"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	sub, err := parseSubStep(body.SubStep)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	container := containerFor(sub)
	if err := sess.payments.Mount(r.Context(), sub, container); err != nil {
		slog.Error("Server.paymentMountHandler: mount failed", "flowId", sess.id, "subStep", sub, "error", err)
		relayError(w, err)
		return
	}
	cfg, found := sess.widgets.config(container)
	if !found {
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Widget mount not recorded"))
		return
	}

	// The client pushes this into its address bar so a payment redirect
	// lands back on the right sub-step.
	step := models.StepRecurringPayment
	if sub == models.PaymentSubStepUpfront {
		step = models.StepUpfrontPayment
	}
	slog.Info("Server.paymentMountHandler: widget session ready", "flowId", sess.id, "subStep", sub)
	writeJSONResponse(w, http.StatusOK, models.Success(struct {
		mountDescriptor
		ResumeURL string `json:"resumeUrl"`
	}{describeMount(cfg), recovery.FormatResumeURL(step, sub)}))
}

func (s *Server) paymentSuccessHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	var body struct {
		SubStep             string                     `json:"subStep"`
		PaymentRequestToken string                     `json:"paymentRequestToken"`
		PaymentMethod       *payment.InstrumentDetails `json:"paymentMethodDetails,omitempty"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	sub, err := parseSubStep(body.SubStep)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if body.PaymentRequestToken == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required field: paymentRequestToken"))
		return
	}

	// Replay the client-side callback through the mounted widget when
	// one is recorded, so the orchestrator sees the same path as an
	// embedded widget would take.
	if cfg, found := sess.widgets.config(containerFor(sub)); found && cfg.OnSuccess != nil {
		cfg.OnSuccess(body.PaymentRequestToken, body.PaymentMethod)
	} else if err := sess.payments.HandleSuccess(sub, body.PaymentRequestToken, body.PaymentMethod); err != nil {
		slog.Error("Server.paymentSuccessHandler: token capture failed", "flowId", sess.id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to record payment token"))
		return
	}
	sess.payments.Destroy(sub)

	slog.Info("Server.paymentSuccessHandler: payment token captured", "flowId", sess.id, "subStep", sub)
	writeJSONResponse(w, http.StatusOK, models.Success(s.view(sess)))
}

func (s *Server) paymentErrorHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	var body struct {
		SubStep string `json:"subStep"`
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	sub, err := parseSubStep(body.SubStep)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if cfg, found := sess.widgets.config(containerFor(sub)); found && cfg.OnError != nil {
		cfg.OnError(errors.New(body.Message))
	} else {
		slog.Error("Server.paymentErrorHandler: widget reported error", "flowId", sess.id, "subStep", sub, "message", body.Message)
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Error recorded", nil))
}

func (s *Server) resumeHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	var body struct {
		URL string `json:"url"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	outcome := sess.resume.Resume(body.URL)
	slog.Info("Server.resumeHandler: flow resumed", "flowId", sess.id,
		"step", outcome.Step, "remounted", outcome.Remounted, "failedSafe", outcome.FailedSafe)
	writeJSONResponse(w, http.StatusOK, models.Success(struct {
		Step               models.StepID         `json:"step"`
		Remounted          models.PaymentSubStep `json:"remounted,omitempty"`
		RecurringCompleted bool                  `json:"recurringCompleted,omitempty"`
		FailedSafe         bool                  `json:"failedSafe,omitempty"`
		State              models.FlowState      `json:"state"`
	}{outcome.Step, outcome.Remounted, outcome.RecurringCompleted, outcome.FailedSafe, sess.machine.State().Snapshot()}))
}

func (s *Server) signupHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFor(w, r)
	if !ok {
		return
	}
	customerID, err := sess.submit.Submit(r.Context())
	if err != nil {
		slog.Error("Server.signupHandler: signup failed", "flowId", sess.id, "error", err)
		relayError(w, err)
		return
	}
	slog.Info("Server.signupHandler: membership created", "flowId", sess.id, "customerId", customerID)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Membership created", struct {
		CustomerID string `json:"customerId"`
	}{customerID}))
}
