// Package flow implements the wizard's step machine and durable state.
//
// This file builds and submits the final signup request.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rocky28r/payment-widget-test/internal/models"
)

// SignupAPI submits the final membership signup.
type SignupAPI interface {
	CreateMembership(ctx context.Context, req models.SignupRequest) (*models.SignupResponse, error)
}

// BuildSignupRequest assembles the final signup payload from the flow
// state: the upfront token authorizes the charge due at signing, the
// recurring token becomes the stored mandate.
func BuildSignupRequest(state models.FlowState) (models.SignupRequest, error) {
	if !state.SelectedOffer.Valid() {
		return models.SignupRequest{}, fmt.Errorf("no offer selected")
	}
	if state.Customer.FirstName == "" || state.Customer.LastName == "" || state.Customer.Email == "" {
		return models.SignupRequest{}, fmt.Errorf("personal info incomplete")
	}
	if !state.Payment.SkippedRecurring && state.Payment.RecurringToken == "" {
		return models.SignupRequest{}, fmt.Errorf("recurring payment method not captured")
	}
	if !state.Payment.SkippedUpfront && state.Payment.UpfrontToken == "" {
		return models.SignupRequest{}, fmt.Errorf("upfront payment not captured")
	}

	return models.SignupRequest{
		Contract: models.SignupContract{
			ContractOfferTermID:        state.SelectedOffer.Term.ID,
			StartDate:                  state.Contract.StartDate,
			VoucherCode:                state.Contract.VoucherCode,
			InitialPaymentRequestToken: state.Payment.UpfrontToken,
		},
		Customer: models.SignupCustomer{
			PreviewCustomer: models.PreviewCustomer{
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
			PaymentRequestToken: state.Payment.RecurringToken,
		},
	}, nil
}

// SubmitService performs the final signup exactly once per attempt: a
// second Submit while one is in flight is rejected instead of creating
// a duplicate contract.
type SubmitService struct {
	api     SignupAPI
	machine *Machine

	mu         sync.Mutex
	inFlight   bool
	customerID string
}

// NewSubmitService wires the submit pipeline.
func NewSubmitService(api SignupAPI, machine *Machine) *SubmitService {
	return &SubmitService{api: api, machine: machine}
}

// Submit builds and sends the signup request. Returns the created
// customer/contract identifier.
func (s *SubmitService) Submit(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return "", fmt.Errorf("signup already in progress")
	}
	if s.customerID != "" {
		id := s.customerID
		s.mu.Unlock()
		slog.Debug("SubmitService Submit short-circuiting completed signup", "customerID", id)
		return id, nil
	}
	s.inFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	req, err := BuildSignupRequest(s.machine.State().Snapshot())
	if err != nil {
		return "", err
	}

	resp, err := s.api.CreateMembership(ctx, req)
	if err != nil {
		slog.Error("SubmitService Submit failed", "error", err)
		return "", err
	}

	id := resp.CreatedID()
	s.mu.Lock()
	s.customerID = id
	s.mu.Unlock()
	slog.Info("SubmitService Submit succeeded", "customerID", id)
	return id, nil
}

// Completed reports the created identifier once a signup has succeeded.
func (s *SubmitService) Completed() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customerID, s.customerID != ""
}
