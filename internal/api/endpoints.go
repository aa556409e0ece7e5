// Package api provides the HTTP client for the membership backend.
//
// This file holds the typed endpoint methods.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/rocky28r/payment-widget-test/internal/models"
)

// Offers fetches the full membership offer catalog.
func (c *Client) Offers(ctx context.Context) ([]models.Offer, error) {
	var offers []models.Offer
	if err := c.callWithRetry(ctx, http.MethodGet, offersPath, OffersTimeout, nil, &offers); err != nil {
		return nil, err
	}
	slog.Debug("Client Offers succeeded", "count", len(offers))
	return offers, nil
}

// OfferByID fetches one offer with its full term details.
func (c *Client) OfferByID(ctx context.Context, id string) (*models.Offer, error) {
	var offer models.Offer
	path := offersPath + "/" + url.PathEscape(id)
	if err := c.callWithRetry(ctx, http.MethodGet, path, DetailTimeout, nil, &offer); err != nil {
		return nil, err
	}
	return &offer, nil
}

// PreviewSignup prices a prospective contract. Callers cancel the
// context to abandon a preview that has been superseded by newer input.
func (c *Client) PreviewSignup(ctx context.Context, req models.PreviewRequest) (*models.PricingPreview, error) {
	var preview models.PricingPreview
	if err := c.callWithRetry(ctx, http.MethodPost, previewPath, PreviewTimeout, req, &preview); err != nil {
		return nil, err
	}
	return &preview, nil
}

// CreateUserSession opens a payment widget session.
func (c *Client) CreateUserSession(ctx context.Context, req models.SessionRequest) (*models.SessionResponse, error) {
	var session models.SessionResponse
	if err := c.callWithRetry(ctx, http.MethodPost, sessionPath, SessionTimeout, req, &session); err != nil {
		return nil, err
	}
	slog.Debug("Client CreateUserSession succeeded", "scope", req.Scope, "token_set", session.Token != "")
	return &session, nil
}

// CreateMembership submits the final signup.
func (c *Client) CreateMembership(ctx context.Context, req models.SignupRequest) (*models.SignupResponse, error) {
	var resp models.SignupResponse
	if err := c.callWithRetry(ctx, http.MethodPost, signupPath, SignupTimeout, req, &resp); err != nil {
		return nil, err
	}
	slog.Debug("Client CreateMembership succeeded", "id", resp.CreatedID())
	return &resp, nil
}
