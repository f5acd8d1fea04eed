package query

import "testing"

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	sess := newFakeSession("sess-1")
	r.Register(sess)

	got, ok := r.Get("sess-1")
	if !ok || got != sess {
		t.Fatalf("expected to retrieve the registered session")
	}
}

func TestRegistry_UnregisterOnlyRemovesMatchingSession(t *testing.T) {
	r := NewRegistry()
	first := newFakeSession("sess-1")
	second := newFakeSession("sess-1")
	r.Register(first)
	r.Register(second) // simulates a reconnect replacing the old session

	r.Unregister(first) // stale reference to the replaced session

	got, ok := r.Get("sess-1")
	if !ok || got != second {
		t.Fatalf("expected the reconnected session to remain registered")
	}
}

func TestRegistry_GetMissingSession(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("nope")
	if ok {
		t.Fatalf("expected no session to be found")
	}
}
