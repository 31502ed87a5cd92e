// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/anchor-social/anchor-events/internal/flow"
	"github.com/anchor-social/anchor-events/internal/identity"
	"github.com/anchor-social/anchor-events/internal/model"
	"github.com/anchor-social/anchor-events/internal/payment"
	"github.com/anchor-social/anchor-events/internal/repository"
	"github.com/anchor-social/anchor-events/internal/service"
	"github.com/anchor-social/anchor-events/internal/ticket"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// ProfileCookie identifies a browser profile; checkout state is scoped to it.
const ProfileCookie = "anchor_events_profile"

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// profileID returns the request's profile identifier, issuing a fresh cookie
// on first contact.
func profileID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(ProfileCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     ProfileCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   60 * 60 * 24 * 365,
	})
	return id
}

// writeServiceError maps domain errors to HTTP statuses. Backend rejections
// are surfaced verbatim; transport failures get a generic message.
func writeServiceError(w http.ResponseWriter, err error) {
	var backendErr *identity.BackendError
	switch {
	case errors.As(err, &backendErr):
		writeError(w, http.StatusBadRequest, backendErr.Message)
	case errors.Is(err, identity.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrUnavailable),
		errors.Is(err, payment.ErrUnavailable),
		errors.Is(err, ticket.ErrUnavailable):
		writeError(w, http.StatusBadGateway, "An error occurred. Please try again.")
	case errors.Is(err, flow.ErrPrecondition):
		writeError(w, http.StatusConflict, "that action is not available right now")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusBadRequest, err.Error())
	}
}

// ─── Event handlers ───────────────────────────────────────────────────────────

// EventHandler holds the HTTP handlers for the event catalog.
type EventHandler struct {
	svc *service.EventService
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(svc *service.EventService) *EventHandler {
	return &EventHandler{svc: svc}
}

// CreateEvent handles POST /events
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.svc.CreateEvent(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.svc.ListEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	event, err := h.svc.GetEvent(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// ─── Checkout handlers ────────────────────────────────────────────────────────

// CheckoutHandler holds the HTTP handlers for the checkout flow, identity,
// and tickets.
type CheckoutHandler struct {
	svc    *service.CheckoutService
	origin string
}

// NewCheckoutHandler constructs a CheckoutHandler. origin is the public
// origin encoded into QR verification URLs.
func NewCheckoutHandler(svc *service.CheckoutService, origin string) *CheckoutHandler {
	return &CheckoutHandler{svc: svc, origin: origin}
}

type stateResponse struct {
	Message string          `json:"message,omitempty"`
	State   model.FlowState `json:"state"`
}

// State handles GET /checkout
func (h *CheckoutHandler) State(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.State(r.Context(), profileID(w, r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: state})
}

// BeginForm handles POST /checkout/form
func (h *CheckoutHandler) BeginForm(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.BeginCheckout(r.Context(), profileID(w, r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: state})
}

// SubmitAttendee handles POST /checkout/attendee
func (h *CheckoutHandler) SubmitAttendee(w http.ResponseWriter, r *http.Request) {
	var req model.Attendee
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	msg, state, err := h.svc.SubmitAttendee(r.Context(), profileID(w, r), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{Message: msg, State: state})
}

// StartPayment handles POST /checkout/payment
func (h *CheckoutHandler) StartPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID string `json:"event_id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	session, err := h.svc.StartPayment(r.Context(), profileID(w, r), req.EventID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":           session.ID,
		"clientSecret": session.ClientSecret,
	})
}

// PaymentOutcome handles POST /checkout/payment/outcome
func (h *CheckoutHandler) PaymentOutcome(w http.ResponseWriter, r *http.Request) {
	var outcome payment.Outcome
	if err := decodeJSON(r, &outcome); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	pid := profileID(w, r)
	applied, err := h.svc.ResolvePayment(r.Context(), pid, outcome)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	state, err := h.svc.State(r.Context(), pid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Applied bool            `json:"applied"`
		State   model.FlowState `json:"state"`
	}{Applied: applied, State: state})
}

// CompleteTicket handles POST /checkout/complete
func (h *CheckoutHandler) CompleteTicket(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CompleteTicket(r.Context(), profileID(w, r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Back handles POST /checkout/back
func (h *CheckoutHandler) Back(w http.ResponseWriter, r *http.Request) {
	state, err := h.svc.Back(r.Context(), profileID(w, r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateResponse{State: state})
}

// RequestPhoneCode handles POST /auth/phone/request-code
func (h *CheckoutHandler) RequestPhoneCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.svc.RequestPhoneCode(r.Context(), req.Phone); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// VerifyPhoneCode handles POST /auth/phone/verify
func (h *CheckoutHandler) VerifyPhoneCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
		Code  string `json:"code"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	user, err := h.svc.VerifyPhoneCode(r.Context(), profileID(w, r), req.Phone, req.Code)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// Logout handles POST /auth/logout
func (h *CheckoutHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Logout(r.Context(), profileID(w, r)); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// ListTickets handles GET /tickets
func (h *CheckoutHandler) ListTickets(w http.ResponseWriter, r *http.Request) {
	tickets, err := h.svc.Tickets(r.Context(), profileID(w, r), r.URL.Query().Get("event_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

// QRPayload handles GET /tickets/{paymentIntentID}/qr/payload
func (h *CheckoutHandler) QRPayload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paymentIntentID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "payment intent id is required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"payload": ticket.QRPayload(h.origin, id),
	})
}

// QRImage handles GET /tickets/{paymentIntentID}/qr
func (h *CheckoutHandler) QRImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "paymentIntentID")
	if id == "" {
		writeError(w, http.StatusBadRequest, "payment intent id is required")
		return
	}

	size := 200
	if s := r.URL.Query().Get("size"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 64 && n <= 1024 {
			size = n
		}
	}

	png, err := ticket.QRImage(h.origin, id, size)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to render qr code")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
