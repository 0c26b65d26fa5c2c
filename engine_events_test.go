package auctoritas

import (
	"testing"
	"time"

	"github.com/auctoritas/auctoritas/events"
)

func nextEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return events.Event{}
}

func TestEventsPublishedAfterCommit(t *testing.T) {
	pub := events.NewChannelPublisher(64)
	env := newTestEnv(t, withPublisher(pub))

	id := env.register(t, "alice@example.com")
	want := []string{
		events.TypePrincipalRegistered,
		events.TypeVerificationRequested,
		events.TypePrincipalLoggedIn,
	}
	for _, typ := range want {
		ev := nextEvent(t, pub.Events())
		if ev.Type != typ {
			t.Fatalf("expected %s, got %s", typ, ev.Type)
		}
		if ev.TenantID != testTenant || ev.PrincipalID != id {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
}

func TestLockEventPublishedOnFailedLogin(t *testing.T) {
	pub := events.NewChannelPublisher(64)
	env := newTestEnv(t, withPublisher(pub), withConfig(func(c *Config) {
		c.Lockout.MaxAttempts = 1
	}))
	env.register(t, "alice@example.com")
	for i := 0; i < 3; i++ {
		nextEvent(t, pub.Events())
	}

	_, err := env.engine.Login(tenantCtx(), LoginRequest{Email: "alice@example.com", Password: "wrong-password-1"})
	wantCode(t, err, ErrAccountLocked)

	ev := nextEvent(t, pub.Events())
	if ev.Type != events.TypePrincipalLocked || ev.Data["locked_until"] == "" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestNoEventsForRolledBackOperation(t *testing.T) {
	pub := events.NewChannelPublisher(64)
	env := newTestEnv(t, withPublisher(pub))
	_, err := env.engine.Register(tenantCtx(), RegisterRequest{Email: "bad", Password: testPassword})
	wantCode(t, err, ErrInvalidEmail)

	select {
	case ev := <-pub.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	if env.engine.EventsDropped() != 0 {
		t.Fatal("expected no dropped events")
	}
}
