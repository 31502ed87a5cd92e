// Package payment coordinates the hand-off to the external payment
// processor. The processor itself is opaque: the only contract the core
// relies on is receiving a payment intent identifier on success.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anchor-social/anchor-events/internal/flow"
	"github.com/anchor-social/anchor-events/internal/model"
)

// ErrUnavailable marks a processor request that could not complete.
var ErrUnavailable = errors.New("payment service unavailable")

// Session is an in-flight payment hand-off. The generation captured at start
// lets a late outcome be recognized as stale and discarded.
type Session struct {
	ID           string
	ClientSecret string
	gen          uint64
}

// Outcome is the single terminal result of a payment session.
type Outcome struct {
	PaymentIntentID string `json:"paymentIntentId"`
	Succeeded       bool   `json:"succeeded"`
	Reason          string `json:"reason,omitempty"`
}

// Client creates payment sessions with the external processor.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a Client for the processor at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type intentResponse struct {
	Success      bool   `json:"success"`
	ID           string `json:"id"`
	ClientSecret string `json:"clientSecret"`
	Error        string `json:"error"`
}

// CreateIntent opens a payment session for the attendee.
func (c *Client) CreateIntent(ctx context.Context, attendee model.Attendee, userID, eventID string) (id, clientSecret string, err error) {
	raw, err := json.Marshal(map[string]string{
		"email":   attendee.Email,
		"name":    attendee.Name,
		"userId":  userID,
		"eventId": eventID,
	})
	if err != nil {
		return "", "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/create-payment-intent", bytes.NewReader(raw))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	var resp intentResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return "", "", fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "could not start payment"
		}
		return "", "", errors.New(msg)
	}
	return resp.ID, resp.ClientSecret, nil
}

// Coordinator sequences a payment session against the flow controller: begin
// on the payment step, resolve exactly one terminal outcome.
type Coordinator struct {
	client *Client
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(client *Client) *Coordinator {
	return &Coordinator{client: client}
}

// Begin opens a processor session for the controller's current payment step.
// The returned Session remembers the step generation so a stale outcome can
// be discarded later.
func (co *Coordinator) Begin(ctx context.Context, ctrl *flow.Controller, eventID string) (Session, error) {
	state := ctrl.State()
	if state.Step != model.StepPayment {
		return Session{}, flow.ErrPrecondition
	}
	gen := ctrl.Generation()

	id, secret, err := co.client.CreateIntent(ctx, state.Attendee, state.UserID, eventID)
	if err != nil {
		return Session{}, err
	}
	if !ctrl.Current(gen) {
		// User navigated away while the intent was being created.
		return Session{}, nil
	}
	return Session{ID: id, ClientSecret: secret, gen: gen}, nil
}

// Resolve applies a terminal outcome. A successful outcome advances the flow
// to the ticket step; failure or cancellation leaves the state untouched so
// the user can retry. Outcomes arriving after the user left the payment step
// are silently discarded. The returned bool reports whether the outcome was
// applied.
func (co *Coordinator) Resolve(ctx context.Context, ctrl *flow.Controller, session Session, outcome Outcome) (bool, error) {
	if !ctrl.Current(session.gen) {
		return false, nil
	}
	if !outcome.Succeeded {
		return false, nil
	}
	if outcome.PaymentIntentID == "" {
		return false, fmt.Errorf("success outcome without payment intent id")
	}
	if err := ctrl.AdvanceToTicket(ctx, outcome.PaymentIntentID); err != nil {
		return false, err
	}
	return true, nil
}
