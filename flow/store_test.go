package flow

import "testing"

func TestMemoryStorePutGetRemove(t *testing.T) {
	store := NewMemoryStore()

	if _, ok := store.Get(1); ok {
		t.Fatal("expected empty store")
	}

	s := &Session{Owner: 7, Step: StepAwaitingDescription, Data: &Wizard{}}
	store.Put(1, s)

	got, ok := store.Get(1)
	if !ok || got != s {
		t.Fatalf("Get(1) = (%v, %v), expected the stored session", got, ok)
	}
	if _, ok := store.Get(2); ok {
		t.Fatal("session leaked into another conversation")
	}

	store.Remove(1)
	if _, ok := store.Get(1); ok {
		t.Fatal("expected session removed")
	}
}

func TestMemoryStorePutOverwrites(t *testing.T) {
	store := NewMemoryStore()
	store.Put(1, &Session{Owner: 7, Step: StepBrowsingGroups})
	replacement := &Session{Owner: 8, Step: StepAwaitingAmount}
	store.Put(1, replacement)

	got, ok := store.Get(1)
	if !ok || got != replacement {
		t.Fatal("expected the replacement session")
	}
}

func TestMemoryStoreAcquireIsStable(t *testing.T) {
	store := NewMemoryStore()

	first := store.Acquire(1)
	if second := store.Acquire(1); second != first {
		t.Fatal("expected the same mutex for the same conversation")
	}
	if other := store.Acquire(2); other == first {
		t.Fatal("expected distinct mutexes per conversation")
	}

	// The lock survives session removal so in-flight events still serialize.
	store.Put(1, &Session{Owner: 7})
	store.Remove(1)
	if again := store.Acquire(1); again != first {
		t.Fatal("expected the mutex to survive session removal")
	}
}
