package backend

import (
	"context"
	"testing"
	"time"

	"github.com/b0bbywan/go-portal-backend/backend/portal"
	"github.com/b0bbywan/go-portal-backend/events"
)

func TestBroadcaster_Subscribe_ReceivesAll(t *testing.T) {
	upstream := make(chan events.Event, 4)
	b := NewBroadcaster(context.Background(), upstream)

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	upstream <- events.Event{Type: events.TypeSessionCreated}
	upstream <- events.Event{Type: events.TypeSessionClosed}

	for _, want := range []string{events.TypeSessionCreated, events.TypeSessionClosed} {
		select {
		case got := <-ch:
			if got.Type != want {
				t.Errorf("got %s, want %s", got.Type, want)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func TestBroadcaster_SubscribeFunc_FiltersEvents(t *testing.T) {
	upstream := make(chan events.Event, 4)
	b := NewBroadcaster(context.Background(), upstream)

	ch := b.SubscribeFunc(events.FilterTypes([]string{events.TypeTokenRevoked}))
	defer b.Unsubscribe(ch)

	// Send one matching and one non-matching event.
	upstream <- events.Event{Type: events.TypeTokenRevoked, Data: "tok"}
	upstream <- events.Event{Type: events.TypeSessionCreated}

	// Only the revocation should arrive.
	select {
	case got := <-ch:
		if got.Type != events.TypeTokenRevoked {
			t.Errorf("got %s, want %s", got.Type, events.TypeTokenRevoked)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for token.revoked event")
	}

	// The session event must not be in the channel.
	select {
	case got := <-ch:
		t.Errorf("unexpected event %s delivered through filter", got.Type)
	case <-time.After(30 * time.Millisecond):
		// expected: nothing received
	}
}

func TestBroadcaster_SubscribeFunc_NilFilterPassesAll(t *testing.T) {
	upstream := make(chan events.Event, 4)
	b := NewBroadcaster(context.Background(), upstream)

	ch := b.SubscribeFunc(nil)
	defer b.Unsubscribe(ch)

	upstream <- events.Event{Type: events.TypeStartResolved}

	select {
	case got := <-ch:
		if got.Type != events.TypeStartResolved {
			t.Errorf("got %s, want %s", got.Type, events.TypeStartResolved)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timed out waiting for start.resolved event")
	}
}

func TestBroadcaster_RegistryEventsFlowThrough(t *testing.T) {
	registry := portal.NewRegistry()
	b := &Backend{Registry: registry}
	broadcaster := newBroadcasterFromBackend(context.Background(), b)

	ch := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(ch)

	sess := portal.NewBaseSession(nil, registry, "/sess/a", ":1.7", "org.foo.App")
	if err := sess.Export(sess); err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	sess.Close()

	for _, want := range []string{events.TypeSessionCreated, events.TypeSessionClosed} {
		select {
		case got := <-ch:
			if got.Type != want {
				t.Errorf("got %s, want %s", got.Type, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestNewBroadcasterFromBackend_EmptyBackend_NoPanic(t *testing.T) {
	b := &Backend{}
	broadcaster := newBroadcasterFromBackend(context.Background(), b)
	ch := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(ch)
	// No events expected, just verify no panic and channel is usable.
	select {
	case got := <-ch:
		t.Errorf("unexpected event %s from empty backend", got.Type)
	case <-time.After(20 * time.Millisecond):
		// expected
	}
}

func TestBroadcaster_MultipleSubscribersIndependentFilters(t *testing.T) {
	upstream := make(chan events.Event, 8)
	b := NewBroadcaster(context.Background(), upstream)

	allCh := b.Subscribe()
	defer b.Unsubscribe(allCh)

	storeOnly := b.SubscribeFunc(events.FilterComponent([]string{"store"}))
	defer b.Unsubscribe(storeOnly)

	upstream <- events.Event{Type: events.TypeTokenRevoked}
	upstream <- events.Event{Type: events.TypeSessionClosed}

	// allCh should receive both events.
	for _, want := range []string{events.TypeTokenRevoked, events.TypeSessionClosed} {
		select {
		case got := <-allCh:
			if got.Type != want {
				t.Errorf("allCh: got %s, want %s", got.Type, want)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("allCh: timed out waiting for %s", want)
		}
	}

	// storeOnly should receive only the revocation.
	select {
	case got := <-storeOnly:
		if got.Type != events.TypeTokenRevoked {
			t.Errorf("storeOnly: got %s, want token.revoked", got.Type)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("storeOnly: timed out waiting for token.revoked")
	}

	select {
	case got := <-storeOnly:
		t.Errorf("storeOnly: unexpected event %s", got.Type)
	case <-time.After(30 * time.Millisecond):
		// expected: nothing
	}
}
