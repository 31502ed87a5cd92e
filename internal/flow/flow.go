// Package flow implements the checkout step state machine. It owns every
// transition between the event, form, payment, and ticket steps, persists
// each successful transition through the state store, and reconciles
// persisted state with live state on load.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/anchor-social/anchor-events/internal/model"
	"github.com/anchor-social/anchor-events/internal/statestore"
)

// ErrPrecondition is returned when a transition is attempted whose
// precondition is not met. The presentation layer only offers the next legal
// action, so hitting this is a programming-contract violation rather than a
// user-facing error.
var ErrPrecondition = errors.New("flow: transition precondition not met")

// Option configures a Controller.
type Option func(*Controller)

// WithTeardownHook registers fn to run after the persisted keys have been
// cleared at the end of a completed checkout.
func WithTeardownHook(fn func()) Option {
	return func(c *Controller) { c.teardownHook = fn }
}

// Controller is the per-profile checkout state machine.
//
// All methods are safe for concurrent use; a payment outcome callback may
// race a user navigating back, which is exactly what the generation counter
// guards against.
type Controller struct {
	store        statestore.Store
	profileID    string
	grace        time.Duration
	teardownHook func()

	mu    sync.Mutex
	state model.FlowState
	gen   uint64
}

// New constructs a Controller with fresh default state. Call Restore to adopt
// previously persisted state.
func New(store statestore.Store, profileID string, grace time.Duration, opts ...Option) *Controller {
	c := &Controller{
		store:     store,
		profileID: profileID,
		grace:     grace,
		state:     model.NewFlowState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Restore reads the four persisted keys and adopts them as the initial state.
// Each key degrades independently: a missing or corrupt value falls back to
// that field's default without discarding the others.
func (c *Controller) Restore(ctx context.Context) error {
	state := model.NewFlowState()

	if raw, ok, err := c.store.Get(ctx, c.profileID, statestore.KeyFormData); err != nil {
		return err
	} else if ok {
		var att model.Attendee
		if jsonErr := json.Unmarshal([]byte(raw), &att); jsonErr == nil {
			state.Attendee = att
		}
	}

	if v, ok, err := c.store.Get(ctx, c.profileID, statestore.KeyPaymentIntentID); err != nil {
		return err
	} else if ok && v != "" {
		state.PaymentIntentID = v
	}

	if v, ok, err := c.store.Get(ctx, c.profileID, statestore.KeyUserID); err != nil {
		return err
	} else if ok && v != "" {
		state.UserID = v
	}

	if v, ok, err := c.store.Get(ctx, c.profileID, statestore.KeyStep); err != nil {
		return err
	} else if ok && model.ValidStep(model.Step(v)) {
		state.Step = model.Step(v)
	}

	c.mu.Lock()
	c.state = state
	c.gen++
	c.mu.Unlock()
	return nil
}

// State returns a copy of the current flow state.
func (c *Controller) State() model.FlowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Generation returns the current step generation. Capture it before starting
// an asynchronous call and check it with Current before applying the result.
func (c *Controller) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Current reports whether gen is still the live generation, i.e. no
// transition has happened since it was captured. A false result means the
// response belongs to an abandoned step and must be discarded.
func (c *Controller) Current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen
}

// AdvanceToForm moves event -> form. Calling it again on the form step is a
// no-op.
func (c *Controller) AdvanceToForm(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Step == model.StepForm {
		return nil
	}
	if c.state.Step != model.StepEvent {
		return ErrPrecondition
	}

	c.state.Step = model.StepForm
	c.gen++
	return c.persistStep(ctx)
}

// AdvanceToPayment moves form -> payment once identity resolution has
// produced attendee data. userID may be empty when resolution is still
// pending on a path that resolves later; it is recorded when present.
// Repeating the call with identical arguments leaves state unchanged.
func (c *Controller) AdvanceToPayment(ctx context.Context, attendee model.Attendee, userID string) error {
	if attendee.IsZero() {
		return ErrPrecondition
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Step == model.StepPayment &&
		c.state.Attendee == attendee &&
		(userID == "" || c.state.UserID == userID) {
		return nil
	}
	if c.state.Step != model.StepForm {
		return ErrPrecondition
	}

	c.state.Attendee = attendee
	if userID != "" {
		c.state.UserID = userID
	}
	c.state.Step = model.StepPayment
	c.gen++

	raw, err := json.Marshal(attendee)
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, c.profileID, statestore.KeyFormData, string(raw)); err != nil {
		return err
	}
	if c.state.UserID != "" {
		if err := c.store.Set(ctx, c.profileID, statestore.KeyUserID, c.state.UserID); err != nil {
			return err
		}
	}
	return c.persistStep(ctx)
}

// AdvanceToTicket moves payment -> ticket after the processor reported a
// successful payment. Repeating the call with the same intent is a no-op.
func (c *Controller) AdvanceToTicket(ctx context.Context, paymentIntentID string) error {
	if paymentIntentID == "" {
		return ErrPrecondition
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Step == model.StepTicket && c.state.PaymentIntentID == paymentIntentID {
		return nil
	}
	if c.state.Step != model.StepPayment {
		return ErrPrecondition
	}

	c.state.PaymentIntentID = paymentIntentID
	c.state.Step = model.StepTicket
	c.gen++

	if err := c.store.Set(ctx, c.profileID, statestore.KeyPaymentIntentID, paymentIntentID); err != nil {
		return err
	}
	return c.persistStep(ctx)
}

// Retreat moves back exactly one step. Retreating from the first step is a
// contract violation.
func (c *Controller) Retreat(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Step == model.StepEvent {
		return ErrPrecondition
	}

	c.state.Step = c.state.Step.Prev()
	c.gen++
	return c.persistStep(ctx)
}

// AdoptIdentity records a resolved user outside the step sequence, e.g. a
// phone login from the profile view. The step does not change.
func (c *Controller) AdoptIdentity(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrPrecondition
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.UserID == userID {
		return nil
	}
	c.state.UserID = userID
	c.gen++
	return c.store.Set(ctx, c.profileID, statestore.KeyUserID, userID)
}

// CompleteTicket marks the terminal step's side effect (ticket display) as
// done and schedules removal of all persisted keys after the grace delay, so
// concurrent readers of the persisted state are not racing a deletion.
func (c *Controller) CompleteTicket() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Step != model.StepTicket {
		return ErrPrecondition
	}

	time.AfterFunc(c.grace, func() {
		// The request that scheduled this is long gone.
		_ = c.store.Clear(context.Background(), c.profileID)
		if c.teardownHook != nil {
			c.teardownHook()
		}
	})
	return nil
}

// Reset clears the persisted keys and returns the in-memory state to fresh
// defaults. Used by logout; the backend user record is untouched.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.store.Clear(ctx, c.profileID); err != nil {
		return err
	}
	c.state = model.NewFlowState()
	c.gen++
	return nil
}

// persistStep writes the current step through to the store. Callers hold c.mu.
func (c *Controller) persistStep(ctx context.Context) error {
	return c.store.Set(ctx, c.profileID, statestore.KeyStep, string(c.state.Step))
}
