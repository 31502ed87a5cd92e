package flow

import (
	"context"
	"testing"
	"time"

	"github.com/anchor-social/anchor-events/internal/model"
	"github.com/anchor-social/anchor-events/internal/statestore"
)

const testProfile = "profile-1"

func newController(store statestore.Store) *Controller {
	return New(store, testProfile, 10*time.Millisecond)
}

func advanceToTicket(t *testing.T, ctx context.Context, c *Controller) {
	t.Helper()
	if err := c.AdvanceToForm(ctx); err != nil {
		t.Fatalf("AdvanceToForm: %v", err)
	}
	att := model.Attendee{Name: "A", Email: "a@x.com"}
	if err := c.AdvanceToPayment(ctx, att, "u1"); err != nil {
		t.Fatalf("AdvanceToPayment: %v", err)
	}
	if err := c.AdvanceToTicket(ctx, "pi_123"); err != nil {
		t.Fatalf("AdvanceToTicket: %v", err)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemory()

	c := newController(store)
	if err := c.AdvanceToForm(ctx); err != nil {
		t.Fatalf("AdvanceToForm: %v", err)
	}
	att := model.Attendee{Name: "A", Email: "a@x.com", Phone: "+15551234567"}
	if err := c.AdvanceToPayment(ctx, att, "u1"); err != nil {
		t.Fatalf("AdvanceToPayment: %v", err)
	}
	want := c.State()

	// A page reload constructs a fresh controller over the same store.
	reloaded := newController(store)
	if err := reloaded.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := reloaded.State(); got != want {
		t.Fatalf("recovered state = %+v, want %+v", got, want)
	}
}

func TestRestoreDefaultsWhenEmpty(t *testing.T) {
	ctx := context.Background()
	c := newController(statestore.NewMemory())
	if err := c.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := c.State(); got != model.NewFlowState() {
		t.Fatalf("state = %+v, want fresh defaults", got)
	}
	if c.State().Step != model.StepEvent {
		t.Fatalf("step = %q, want %q", c.State().Step, model.StepEvent)
	}
}

func TestRestoreFaultIsolation(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name    string
		corrupt string
	}{
		{"corrupt formData", statestore.KeyFormData},
		{"corrupt step", statestore.KeyStep},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := statestore.NewMemory()
			c := newController(store)
			if err := c.AdvanceToForm(ctx); err != nil {
				t.Fatalf("AdvanceToForm: %v", err)
			}
			att := model.Attendee{Name: "A", Email: "a@x.com"}
			if err := c.AdvanceToPayment(ctx, att, "u1"); err != nil {
				t.Fatalf("AdvanceToPayment: %v", err)
			}

			if err := store.Set(ctx, testProfile, tc.corrupt, "{{{not json, not a step"); err != nil {
				t.Fatalf("Set: %v", err)
			}

			reloaded := newController(store)
			if err := reloaded.Restore(ctx); err != nil {
				t.Fatalf("Restore: %v", err)
			}
			got := reloaded.State()

			switch tc.corrupt {
			case statestore.KeyFormData:
				// Attendee falls back to its default, the rest survives.
				if !got.Attendee.IsZero() {
					t.Errorf("attendee = %+v, want zero", got.Attendee)
				}
				if got.Step != model.StepPayment {
					t.Errorf("step = %q, want %q", got.Step, model.StepPayment)
				}
				if got.UserID != "u1" {
					t.Errorf("userID = %q, want %q", got.UserID, "u1")
				}
			case statestore.KeyStep:
				if got.Step != model.StepEvent {
					t.Errorf("step = %q, want default %q", got.Step, model.StepEvent)
				}
				if got.Attendee != att {
					t.Errorf("attendee = %+v, want %+v", got.Attendee, att)
				}
				if got.UserID != "u1" {
					t.Errorf("userID = %q, want %q", got.UserID, "u1")
				}
			}
		})
	}
}

func TestAdvanceToPaymentRequiresAttendee(t *testing.T) {
	ctx := context.Background()
	c := newController(statestore.NewMemory())
	if err := c.AdvanceToForm(ctx); err != nil {
		t.Fatalf("AdvanceToForm: %v", err)
	}
	if err := c.AdvanceToPayment(ctx, model.Attendee{}, "u1"); err != ErrPrecondition {
		t.Fatalf("AdvanceToPayment(empty) = %v, want ErrPrecondition", err)
	}
	if c.State().Step != model.StepForm {
		t.Fatalf("step mutated on rejected transition")
	}
}

func TestAdvanceToPaymentIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newController(statestore.NewMemory())
	if err := c.AdvanceToForm(ctx); err != nil {
		t.Fatalf("AdvanceToForm: %v", err)
	}

	att := model.Attendee{Name: "A", Email: "a@x.com"}
	if err := c.AdvanceToPayment(ctx, att, "u1"); err != nil {
		t.Fatalf("first AdvanceToPayment: %v", err)
	}
	first := c.State()
	gen := c.Generation()

	if err := c.AdvanceToPayment(ctx, att, "u1"); err != nil {
		t.Fatalf("second AdvanceToPayment: %v", err)
	}
	if got := c.State(); got != first {
		t.Fatalf("state changed on idempotent repeat: %+v != %+v", got, first)
	}
	if c.Generation() != gen {
		t.Fatalf("generation bumped on idempotent repeat")
	}
}

func TestNoSkipForward(t *testing.T) {
	ctx := context.Background()
	c := newController(statestore.NewMemory())

	// payment without form
	if err := c.AdvanceToPayment(ctx, model.Attendee{Email: "a@x.com"}, "u1"); err != ErrPrecondition {
		t.Fatalf("AdvanceToPayment from event = %v, want ErrPrecondition", err)
	}
	// ticket without payment
	if err := c.AdvanceToTicket(ctx, "pi_123"); err != ErrPrecondition {
		t.Fatalf("AdvanceToTicket from event = %v, want ErrPrecondition", err)
	}
}

func TestAdvanceToTicketIdempotent(t *testing.T) {
	ctx := context.Background()
	c := newController(statestore.NewMemory())
	advanceToTicket(t, ctx, c)
	first := c.State()

	if err := c.AdvanceToTicket(ctx, "pi_123"); err != nil {
		t.Fatalf("repeat AdvanceToTicket: %v", err)
	}
	if got := c.State(); got != first {
		t.Fatalf("state changed on idempotent repeat")
	}

	// A different intent on the ticket step is a contract violation, not an
	// overwrite.
	if err := c.AdvanceToTicket(ctx, "pi_456"); err != ErrPrecondition {
		t.Fatalf("AdvanceToTicket with new intent = %v, want ErrPrecondition", err)
	}
}

func TestRetreatOneStepAtATime(t *testing.T) {
	ctx := context.Background()
	c := newController(statestore.NewMemory())
	advanceToTicket(t, ctx, c)

	steps := []model.Step{model.StepPayment, model.StepForm, model.StepEvent}
	for _, want := range steps {
		if err := c.Retreat(ctx); err != nil {
			t.Fatalf("Retreat: %v", err)
		}
		if got := c.State().Step; got != want {
			t.Fatalf("step = %q, want %q", got, want)
		}
	}

	if err := c.Retreat(ctx); err != ErrPrecondition {
		t.Fatalf("Retreat from event = %v, want ErrPrecondition", err)
	}
}

func TestRetreatKeepsPaymentIntent(t *testing.T) {
	ctx := context.Background()
	c := newController(statestore.NewMemory())
	advanceToTicket(t, ctx, c)

	// Back-navigation must not cancel a confirmed payment.
	if err := c.Retreat(ctx); err != nil {
		t.Fatalf("Retreat: %v", err)
	}
	if c.State().PaymentIntentID != "pi_123" {
		t.Fatalf("payment intent lost on retreat")
	}
}

func TestGenerationGuard(t *testing.T) {
	ctx := context.Background()
	c := newController(statestore.NewMemory())
	if err := c.AdvanceToForm(ctx); err != nil {
		t.Fatalf("AdvanceToForm: %v", err)
	}
	if err := c.AdvanceToPayment(ctx, model.Attendee{Email: "a@x.com"}, "u1"); err != nil {
		t.Fatalf("AdvanceToPayment: %v", err)
	}

	gen := c.Generation()
	if !c.Current(gen) {
		t.Fatalf("Current(gen) = false immediately after capture")
	}

	// User navigates back while the call is outstanding.
	if err := c.Retreat(ctx); err != nil {
		t.Fatalf("Retreat: %v", err)
	}
	if c.Current(gen) {
		t.Fatalf("Current(gen) = true after a transition; stale result would be applied")
	}
}

func TestAdoptIdentityPersistsUser(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemory()
	c := newController(store)

	if err := c.AdoptIdentity(ctx, "u9"); err != nil {
		t.Fatalf("AdoptIdentity: %v", err)
	}
	if c.State().Step != model.StepEvent {
		t.Fatalf("step changed on identity adoption")
	}
	v, ok, err := store.Get(ctx, testProfile, statestore.KeyUserID)
	if err != nil || !ok || v != "u9" {
		t.Fatalf("persisted userId = %q ok=%v err=%v, want u9", v, ok, err)
	}
}

func TestCompleteTicketTearsDownAfterGrace(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemory()

	done := make(chan struct{})
	c := New(store, testProfile, 10*time.Millisecond, WithTeardownHook(func() { close(done) }))
	advanceToTicket(t, ctx, c)

	if err := c.CompleteTicket(); err != nil {
		t.Fatalf("CompleteTicket: %v", err)
	}

	// Keys must survive the grace window for in-flight readers.
	if _, ok, _ := store.Get(ctx, testProfile, statestore.KeyStep); !ok {
		t.Fatalf("step key removed before grace delay elapsed")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("teardown hook never ran")
	}

	for _, key := range []string{
		statestore.KeyStep, statestore.KeyFormData,
		statestore.KeyPaymentIntentID, statestore.KeyUserID,
	} {
		if _, ok, _ := store.Get(ctx, testProfile, key); ok {
			t.Errorf("key %s still present after teardown", key)
		}
	}

	// A subsequent fresh load starts at the event step.
	fresh := newController(store)
	if err := fresh.Restore(ctx); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := fresh.State().Step; got != model.StepEvent {
		t.Fatalf("step after teardown = %q, want %q", got, model.StepEvent)
	}
}

func TestCompleteTicketRequiresTicketStep(t *testing.T) {
	c := newController(statestore.NewMemory())
	if err := c.CompleteTicket(); err != ErrPrecondition {
		t.Fatalf("CompleteTicket on event step = %v, want ErrPrecondition", err)
	}
}

func TestResetClearsStateAndStore(t *testing.T) {
	ctx := context.Background()
	store := statestore.NewMemory()
	c := newController(store)
	advanceToTicket(t, ctx, c)

	if err := c.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got := c.State(); got != model.NewFlowState() {
		t.Fatalf("state after reset = %+v, want fresh defaults", got)
	}
	if _, ok, _ := store.Get(ctx, testProfile, statestore.KeyStep); ok {
		t.Fatalf("persisted step survived reset")
	}
}
