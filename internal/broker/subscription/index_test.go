package subscription

import (
	"testing"

	"github.com/adred-codev/subscription-broker/internal/broker/session"
)

func TestSubscribeIsIdempotent(t *testing.T) {
	ix := New()
	s := &session.Session{ID: "alice"}
	ix.Subscribe(s, "sensors/temp")
	ix.Subscribe(s, "sensors/temp")

	matches := ix.Match("sensors/temp")
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1 (no duplicate subscription)", len(matches))
	}
}

func TestMatchWildcardStar(t *testing.T) {
	ix := New()
	s := &session.Session{ID: "alice"}
	ix.Subscribe(s, "sensors/*")

	if got := ix.Match("sensors/temp/room1"); len(got) != 1 {
		t.Fatalf("'*' must match across '/', got %d matches", len(got))
	}
	if got := ix.Match("other/temp"); len(got) != 0 {
		t.Fatalf("unrelated topic must not match, got %d", len(got))
	}
}

func TestMatchWildcardPlus(t *testing.T) {
	ix := New()
	s := &session.Session{ID: "alice"}
	ix.Subscribe(s, "sensors/+/temp")

	if got := ix.Match("sensors/room1/temp"); len(got) != 1 {
		t.Fatalf("'+' must match a single segment, got %d", len(got))
	}
	if got := ix.Match("sensors/room1/room2/temp"); len(got) != 0 {
		t.Fatalf("'+' must not cross '/', got %d matches", len(got))
	}
}

func TestMatchDedupFirstSeenWinsInPatternOrder(t *testing.T) {
	ix := New()
	s := &session.Session{ID: "alice"}
	ix.Subscribe(s, "sensors/*")
	ix.Subscribe(s, "sensors/temp")

	got := ix.Match("sensors/temp")
	if len(got) != 1 {
		t.Fatalf("subscriber matching two patterns must appear once, got %d", len(got))
	}
}

func TestMatchDeliveryOrderIsPatternInsertionOrder(t *testing.T) {
	ix := New()
	alice := &session.Session{ID: "alice"}
	bob := &session.Session{ID: "bob"}
	ix.Subscribe(bob, "sensors/temp")
	ix.Subscribe(alice, "sensors/*")

	got := ix.Match("sensors/temp")
	if len(got) != 2 || got[0] != bob || got[1] != alice {
		t.Fatalf("delivery order must follow pattern insertion order, got %v", got)
	}
}

func TestUnsubscribeExactPattern(t *testing.T) {
	ix := New()
	s := &session.Session{ID: "alice"}
	ix.Subscribe(s, "sensors/temp")
	ix.Unsubscribe(s, "sensors/temp")

	if got := ix.Match("sensors/temp"); len(got) != 0 {
		t.Fatalf("expected no subscribers after unsubscribe, got %d", len(got))
	}
}

func TestUnsubscribeCatchAll(t *testing.T) {
	ix := New()
	s := &session.Session{ID: "alice"}
	ix.Subscribe(s, "sensors/temp")
	ix.Subscribe(s, "sensors/humidity")
	ix.Unsubscribe(s, ".*")

	if got := ix.Match("sensors/temp"); len(got) != 0 {
		t.Fatalf("'.*' selector must unsubscribe from every pattern, got %d", len(got))
	}
	if got := ix.Match("sensors/humidity"); len(got) != 0 {
		t.Fatalf("'.*' selector must unsubscribe from every pattern, got %d", len(got))
	}
}

func TestUnsubscribeEscapesStarAndPlus(t *testing.T) {
	ix := New()
	s := &session.Session{ID: "alice"}
	ix.Subscribe(s, "sensors/*")
	// A selector of "sensors/*" must match the literal stored pattern
	// "sensors/*", not act as a wildcard itself.
	ix.Unsubscribe(s, "sensors/*")

	if got := ix.Match("sensors/temp"); len(got) != 0 {
		t.Fatalf("expected the literal 'sensors/*' pattern to be removed, got %d", len(got))
	}

	// Likewise a selector of "rooms/+/temp" matches only the literal stored
	// pattern "rooms/+/temp".
	ix.Subscribe(s, "rooms/+/temp")
	ix.Unsubscribe(s, "rooms/+/temp")
	if got := ix.Match("rooms/a/temp"); len(got) != 0 {
		t.Fatalf("expected the literal 'rooms/+/temp' pattern to be removed, got %d", len(got))
	}
}

func TestUnsubscribeDoesNotTouchUnrelatedSession(t *testing.T) {
	ix := New()
	alice := &session.Session{ID: "alice"}
	bob := &session.Session{ID: "bob"}
	ix.Subscribe(alice, "sensors/temp")
	ix.Subscribe(bob, "sensors/temp")
	ix.Unsubscribe(alice, "sensors/temp")

	got := ix.Match("sensors/temp")
	if len(got) != 1 || got[0] != bob {
		t.Fatalf("unsubscribe must only remove the calling session, got %v", got)
	}
}

func TestDisconnectedSubscribersRemainInIndex(t *testing.T) {
	ix := New()
	s := &session.Session{ID: "alice"}
	ix.Subscribe(s, "sensors/temp")

	got := ix.Match("sensors/temp")
	if len(got) != 1 || got[0] != s {
		t.Fatalf("index must still list a disconnected subscriber's session, got %v", got)
	}
}
