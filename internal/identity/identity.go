// Package identity unifies the two authentication paths - email and
// phone-plus-one-time-code - into a single user record resolved against the
// auth backend. The backend upserts by contact value, so submitting the same
// email or phone twice always resolves to the same user.
package identity

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
)

// ErrValidation marks a missing required local field, caught before any
// network call is made.
var ErrValidation = errors.New("validation failed")

// ErrUnavailable marks a request that could not complete. The user is shown
// a generic message and must resubmit; no retry is attempted here.
var ErrUnavailable = errors.New("authentication service unavailable")

// BackendError carries a non-success response from the auth backend. Its
// message is surfaced to the user verbatim.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string { return e.Message }

// Result is the tagged outcome of identity resolution. Both variants project
// to the same unified record.
type Result interface {
	Identity() model.Identity
}

// EmailResolved is the outcome of the lightweight email path. It carries no
// backend session.
type EmailResolved struct {
	User      model.Identity
	IsNewUser bool
}

func (r EmailResolved) Identity() model.Identity { return r.User }

// Welcome is the greeting shown after resolution: distinct for new and
// returning users, both success.
func (r EmailResolved) Welcome() string {
	if r.IsNewUser {
		return "Welcome! Account created."
	}
	return "Welcome back!"
}

// PhoneResolved is the outcome of the phone-OTP path. The backend also
// establishes a session; its token authorizes downstream ticket-history
// fetches when present.
type PhoneResolved struct {
	User         model.Identity
	SessionToken string
}

func (r PhoneResolved) Identity() model.Identity { return r.User }

// Client calls the auth backend over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient constructs a Client for the auth backend at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type authUser struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Phone   string `json:"phone"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
}

type authResponse struct {
	Success      bool     `json:"success"`
	IsNewUser    bool     `json:"isNewUser"`
	User         authUser `json:"user"`
	SessionToken string   `json:"sessionToken"`
	Error        string   `json:"error"`
}

// ResolveEmail resolves an email (and optional name) to a user via
// upsert-by-email.
func (c *Client) ResolveEmail(ctx context.Context, email, name string) (EmailResolved, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return EmailResolved{}, fmt.Errorf("%w: email is required", ErrValidation)
	}

	resp, err := c.post(ctx, "/api/events-auth", map[string]string{
		"email": email,
		"name":  name,
	})
	if err != nil {
		return EmailResolved{}, err
	}

	return EmailResolved{
		User: model.Identity{
			UserID:  resp.User.ID,
			Email:   resp.User.Email,
			Name:    resp.User.Name,
			IsAdmin: resp.User.IsAdmin,
		},
		IsNewUser: resp.IsNewUser,
	}, nil
}

// RequestCode asks the backend to send a one-time code to the phone number.
func (c *Client) RequestCode(ctx context.Context, phone string) error {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return fmt.Errorf("%w: phone is required", ErrValidation)
	}

	_, err := c.post(ctx, "/api/events-auth/request-code", map[string]string{
		"phone": phone,
	})
	return err
}

// VerifyCode completes the phone path: the backend upserts by phone and
// establishes a session whose token is carried through when present.
func (c *Client) VerifyCode(ctx context.Context, phone, code string) (PhoneResolved, error) {
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if phone == "" {
		return PhoneResolved{}, fmt.Errorf("%w: phone is required", ErrValidation)
	}
	if code == "" {
		return PhoneResolved{}, fmt.Errorf("%w: code is required", ErrValidation)
	}

	resp, err := c.post(ctx, "/api/events-auth/verify-code", map[string]string{
		"phone": phone,
		"code":  code,
	})
	if err != nil {
		return PhoneResolved{}, err
	}

	return PhoneResolved{
		User: model.Identity{
			UserID:  resp.User.ID,
			Phone:   resp.User.Phone,
			Name:    resp.User.Name,
			IsAdmin: resp.User.IsAdmin,
		},
		SessionToken: resp.SessionToken,
	}, nil
}

// post sends a JSON body and decodes the standard auth envelope. Backend
// rejections come back as *BackendError, transport problems as
// ErrUnavailable.
func (c *Client) post(ctx context.Context, path string, body any) (*authResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer httpResp.Body.Close()

	var resp authResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "authentication failed"
		}
		return nil, &BackendError{Message: msg}
	}
	return &resp, nil
}
