// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the checkout components.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/anchor-social/anchor-events/internal/flow"
	"github.com/anchor-social/anchor-events/internal/identity"
	"github.com/anchor-social/anchor-events/internal/model"
	"github.com/anchor-social/anchor-events/internal/payment"
	"github.com/anchor-social/anchor-events/internal/repository"
	"github.com/anchor-social/anchor-events/internal/statestore"
	"github.com/anchor-social/anchor-events/internal/ticket"
)

// EventService orchestrates event catalog operations.
type EventService struct {
	events *repository.EventRepository
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(events *repository.EventRepository) *EventService {
	return &EventService{events: events}
}

// CreateEvent validates the request and delegates to the repository.
func (s *EventService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, fmt.Errorf("event title is required")
	}
	if req.Date.IsZero() {
		return nil, fmt.Errorf("event date is required")
	}
	if req.PriceCents < 0 {
		return nil, fmt.Errorf("price cannot be negative")
	}
	return s.events.Create(ctx, req)
}

// ListEvents returns all events.
func (s *EventService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.events.List(ctx)
}

// GetEvent returns a single event by ID.
func (s *EventService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("event id is required")
	}
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// CheckoutService drives the checkout flow for every profile: it restores a
// profile's flow controller from the persisted store, resolves identity,
// coordinates payment, and serves ticket history.
type CheckoutService struct {
	store    statestore.Store
	resolver *identity.Client
	payments *payment.Coordinator
	tickets  *ticket.Client
	grace    time.Duration

	mu       sync.Mutex
	flows    map[string]*flow.Controller
	sessions map[string]string          // profile -> backend session token (phone path only)
	pending  map[string]payment.Session // profile -> in-flight payment session
}

// NewCheckoutService constructs a CheckoutService.
func NewCheckoutService(
	store statestore.Store,
	resolver *identity.Client,
	payments *payment.Coordinator,
	tickets *ticket.Client,
	grace time.Duration,
) *CheckoutService {
	return &CheckoutService{
		store:    store,
		resolver: resolver,
		payments: payments,
		tickets:  tickets,
		grace:    grace,
		flows:    make(map[string]*flow.Controller),
		sessions: make(map[string]string),
		pending:  make(map[string]payment.Session),
	}
}

// controller returns the profile's live flow controller, restoring persisted
// state on first contact. The teardown hook drops the controller so the next
// request after a completed checkout starts fresh.
func (s *CheckoutService) controller(ctx context.Context, profileID string) (*flow.Controller, error) {
	s.mu.Lock()
	ctrl, ok := s.flows[profileID]
	s.mu.Unlock()
	if ok {
		return ctrl, nil
	}

	ctrl = flow.New(s.store, profileID, s.grace, flow.WithTeardownHook(func() {
		s.mu.Lock()
		delete(s.flows, profileID)
		delete(s.pending, profileID)
		s.mu.Unlock()
	}))
	if err := ctrl.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore checkout state: %w", err)
	}

	s.mu.Lock()
	if existing, ok := s.flows[profileID]; ok {
		ctrl = existing
	} else {
		s.flows[profileID] = ctrl
	}
	s.mu.Unlock()
	return ctrl, nil
}

// State returns the profile's current flow state after recovery.
func (s *CheckoutService) State(ctx context.Context, profileID string) (model.FlowState, error) {
	ctrl, err := s.controller(ctx, profileID)
	if err != nil {
		return model.FlowState{}, err
	}
	return ctrl.State(), nil
}

// BeginCheckout moves the profile from the event step to the form step.
func (s *CheckoutService) BeginCheckout(ctx context.Context, profileID string) (model.FlowState, error) {
	ctrl, err := s.controller(ctx, profileID)
	if err != nil {
		return model.FlowState{}, err
	}
	if err := ctrl.AdvanceToForm(ctx); err != nil {
		return model.FlowState{}, err
	}
	return ctrl.State(), nil
}

// SubmitAttendee resolves the attendee's identity by email and advances the
// flow to the payment step. Returns the welcome greeting alongside the new
// state. Resolution is an upsert, so resubmitting the same email is safe.
func (s *CheckoutService) SubmitAttendee(ctx context.Context, profileID string, attendee model.Attendee) (string, model.FlowState, error) {
	ctrl, err := s.controller(ctx, profileID)
	if err != nil {
		return "", model.FlowState{}, err
	}

	resolved, err := s.resolver.ResolveEmail(ctx, attendee.Email, attendee.Name)
	if err != nil {
		return "", ctrl.State(), err
	}
	attendee.Email = resolved.User.Email

	if err := ctrl.AdvanceToPayment(ctx, attendee, resolved.User.UserID); err != nil {
		return "", ctrl.State(), err
	}
	return resolved.Welcome(), ctrl.State(), nil
}

// StartPayment opens a processor session for the profile's payment step.
func (s *CheckoutService) StartPayment(ctx context.Context, profileID, eventID string) (payment.Session, error) {
	ctrl, err := s.controller(ctx, profileID)
	if err != nil {
		return payment.Session{}, err
	}

	session, err := s.payments.Begin(ctx, ctrl, eventID)
	if err != nil {
		return payment.Session{}, err
	}
	if session.ID != "" {
		s.mu.Lock()
		s.pending[profileID] = session
		s.mu.Unlock()
	}
	return session, nil
}

// ResolvePayment applies the processor's terminal outcome. Success advances
// to the ticket step; failure or a stale outcome changes nothing. The
// returned bool reports whether the outcome was applied.
func (s *CheckoutService) ResolvePayment(ctx context.Context, profileID string, outcome payment.Outcome) (bool, error) {
	ctrl, err := s.controller(ctx, profileID)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	session, ok := s.pending[profileID]
	delete(s.pending, profileID)
	s.mu.Unlock()

	if ok {
		return s.payments.Resolve(ctx, ctrl, session, outcome)
	}

	// No live session (e.g. the process restarted between hand-off and
	// callback). Fall back to the step guard alone.
	if !outcome.Succeeded {
		return false, nil
	}
	if ctrl.State().Step != model.StepPayment {
		return false, nil
	}
	if err := ctrl.AdvanceToTicket(ctx, outcome.PaymentIntentID); err != nil {
		return false, err
	}
	return true, nil
}

// CompleteTicket marks the ticket as displayed and schedules teardown of the
// persisted keys after the grace delay.
func (s *CheckoutService) CompleteTicket(ctx context.Context, profileID string) error {
	ctrl, err := s.controller(ctx, profileID)
	if err != nil {
		return err
	}
	return ctrl.CompleteTicket()
}

// Back retreats one step.
func (s *CheckoutService) Back(ctx context.Context, profileID string) (model.FlowState, error) {
	ctrl, err := s.controller(ctx, profileID)
	if err != nil {
		return model.FlowState{}, err
	}
	if err := ctrl.Retreat(ctx); err != nil {
		return model.FlowState{}, err
	}
	return ctrl.State(), nil
}

// RequestPhoneCode asks the auth backend to send a one-time code.
func (s *CheckoutService) RequestPhoneCode(ctx context.Context, phone string) error {
	return s.resolver.RequestCode(ctx, phone)
}

// VerifyPhoneCode completes a phone login: the resolved user is adopted into
// the profile's flow state and the backend session token is kept for
// authorizing ticket-history fetches.
func (s *CheckoutService) VerifyPhoneCode(ctx context.Context, profileID, phone, code string) (model.Identity, error) {
	ctrl, err := s.controller(ctx, profileID)
	if err != nil {
		return model.Identity{}, err
	}

	resolved, err := s.resolver.VerifyCode(ctx, phone, code)
	if err != nil {
		return model.Identity{}, err
	}

	if err := ctrl.AdoptIdentity(ctx, resolved.User.UserID); err != nil {
		return model.Identity{}, err
	}
	if resolved.SessionToken != "" {
		s.mu.Lock()
		s.sessions[profileID] = resolved.SessionToken
		s.mu.Unlock()
	}
	return resolved.User, nil
}

// Logout clears the profile's local session and persisted checkout state.
// The backend user record is untouched.
func (s *CheckoutService) Logout(ctx context.Context, profileID string) error {
	ctrl, err := s.controller(ctx, profileID)
	if err != nil {
		return err
	}
	if err := ctrl.Reset(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.sessions, profileID)
	delete(s.pending, profileID)
	s.mu.Unlock()
	return nil
}

// Tickets returns the profile's ticket history, optionally filtered to one
// event. Guests (no resolved user) get an empty list without a backend call.
func (s *CheckoutService) Tickets(ctx context.Context, profileID, eventID string) ([]model.Ticket, error) {
	ctrl, err := s.controller(ctx, profileID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	token := s.sessions[profileID]
	s.mu.Unlock()

	return s.tickets.FetchTickets(ctx, ctrl.State().UserID, token, eventID)
}
