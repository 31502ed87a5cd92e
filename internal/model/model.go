// Package model defines the core domain types for the event checkout system.
package model

import "time"

// Step is one of the four ordinal stages of the checkout sequence.
type Step string

const (
	StepEvent   Step = "event"
	StepForm    Step = "form"
	StepPayment Step = "payment"
	StepTicket  Step = "ticket"
)

// ValidStep reports whether s is a member of the step set. Used when adopting
// a persisted step value during recovery.
func ValidStep(s Step) bool {
	switch s {
	case StepEvent, StepForm, StepPayment, StepTicket:
		return true
	}
	return false
}

// Prev returns the step one position back, or s itself when s is the first
// step. Back-navigation moves exactly one step at a time.
func (s Step) Prev() Step {
	switch s {
	case StepForm:
		return StepEvent
	case StepPayment:
		return StepForm
	case StepTicket:
		return StepPayment
	}
	return s
}

// Attendee holds the contact fields collected on the form step. All fields
// are optional at rest; validation happens on submission.
type Attendee struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// IsZero reports whether no attendee field has been filled in.
func (a Attendee) IsZero() bool {
	return a.Name == "" && a.Email == "" && a.Phone == ""
}

// FlowState is the single source of truth for an in-progress checkout.
type FlowState struct {
	Step            Step     `json:"step"`
	Attendee        Attendee `json:"attendee"`
	PaymentIntentID string   `json:"payment_intent_id"`
	UserID          string   `json:"user_id"`
}

// NewFlowState returns the fresh default state a first-time visitor starts in.
func NewFlowState() FlowState {
	return FlowState{Step: StepEvent}
}

// Identity is the unified user record both authentication paths resolve to.
type Identity struct {
	UserID  string `json:"id"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Name    string `json:"name,omitempty"`
	IsAdmin bool   `json:"is_admin"`
}

// Ticket is a backend record proving a successful purchase. The core fetches
// tickets; it never fabricates one locally.
type Ticket struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id,omitempty"`
	PaymentIntentID string     `json:"payment_intent_id"`
	Status          string     `json:"status,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	PurchasedAt     *time.Time `json:"ticket_purchased_at,omitempty"`
}

// Event represents a discoverable event visitors can buy tickets for.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
	Location    string    `json:"location"`
	// PriceCents is the ticket price in cents; zero means free.
	PriceCents int64     `json:"price"`
	ImageURL   string    `json:"image_url,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Date        time.Time `json:"date"`
	Location    string    `json:"location"`
	PriceCents  int64     `json:"price"`
	ImageURL    string    `json:"image_url"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
