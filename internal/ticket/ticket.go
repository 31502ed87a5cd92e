// Package ticket fetches a user's tickets from the ticket backend and
// derives the verification payload scanned by the admin tool.
package ticket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anchor-social/anchor-events/internal/model"
	qrcode "github.com/skip2/go-qrcode"
)

// ErrUnavailable marks a ticket fetch that could not complete. Callers get an
// empty list rather than stale data.
var ErrUnavailable = errors.New("ticket service unavailable")

// QRPayload builds the verification URL for a payment intent. It is a pure
// function of its inputs and is recomputed on every call so the payload
// always reflects the current origin. The path shape is a compatibility
// contract with the existing scanning tool.
func QRPayload(origin, paymentIntentID string) string {
	return origin + "/admin/scan/" + paymentIntentID
}

// QRImage renders the verification URL as a PNG with medium error
// correction.
func QRImage(origin, paymentIntentID string, size int) ([]byte, error) {
	png, err := qrcode.Encode(QRPayload(origin, paymentIntentID), qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	return png, nil
}

// Client fetches tickets from the ticket backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a Client for the ticket backend at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type ticketsResponse struct {
	Success bool           `json:"success"`
	Tickets []model.Ticket `json:"tickets"`
	Error   string         `json:"error"`
}

// FetchTickets returns the user's tickets, newest first as the backend
// orders them. An empty userID means a guest: the guard returns an empty
// list without any network call. The session token, when present, authorizes
// the fetch; email-only users without a session are still served.
func (c *Client) FetchTickets(ctx context.Context, userID, sessionToken, eventID string) ([]model.Ticket, error) {
	if userID == "" {
		return []model.Ticket{}, nil
	}

	raw, err := json.Marshal(map[string]string{
		"user_id":      userID,
		"access_token": sessionToken,
		"event_id":     eventID,
	})
	if err != nil {
		return []model.Ticket{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/get-events-tickets", bytes.NewReader(raw))
	if err != nil {
		return []model.Ticket{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sessionToken != "" {
		req.Header.Set("Authorization", "Bearer "+sessionToken)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return []model.Ticket{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	var resp ticketsResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return []model.Ticket{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "failed to load tickets"
		}
		return []model.Ticket{}, errors.New(msg)
	}
	if resp.Tickets == nil {
		resp.Tickets = []model.Ticket{}
	}
	return resp.Tickets, nil
}
