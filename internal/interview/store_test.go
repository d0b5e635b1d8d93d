package interview

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  NewRedisStore(rdb),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan}

			got, err := store.Get(ctx, key)
			if err != nil || got != nil {
				t.Fatalf("expected absent session, got %v, %v", got, err)
			}

			sess := NewSession("Asha", "CA123", time.Now())
			sess.Record(0, "I am 29 years old")
			if err := store.Put(ctx, key, sess); err != nil {
				t.Fatalf("Put: %v", err)
			}

			got, err = store.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got == nil || got.CustomerName != "Asha" || got.CallSID != "CA123" {
				t.Fatalf("unexpected session: %+v", got)
			}
			if ans, ok := got.Answer(0); !ok || ans != "I am 29 years old" {
				t.Errorf("unexpected answer: %q, %v", ans, ok)
			}

			if err := store.Delete(ctx, key); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			got, err = store.Get(ctx, key)
			if err != nil || got != nil {
				t.Fatalf("expected session gone, got %v, %v", got, err)
			}
		})
	}
}

func TestStoreKeysAreIndependentPerApplicationType(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			loanKey := Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan}
			ccKey := Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationCreditCard}

			if err := store.Put(ctx, loanKey, NewSession("Asha", "CA1", time.Now())); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, err := store.Get(ctx, ccKey)
			if err != nil || got != nil {
				t.Fatalf("credit card key should be independent, got %v, %v", got, err)
			}
		})
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	key := Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan}

	if err := store.Put(ctx, key, NewSession("Asha", "CA1", time.Now())); err != nil {
		t.Fatalf("Put: %v", err)
	}
	first, _ := store.Get(ctx, key)
	first.Record(3, "mutated aside")

	second, _ := store.Get(ctx, key)
	if _, ok := second.Answer(3); ok {
		t.Error("mutating a Get result leaked into the store")
	}
}

func TestKeyLocksSerializePerKey(t *testing.T) {
	locks := NewKeyLocks()
	key := Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan}

	unlock := locks.Lock(key)
	acquired := make(chan struct{})
	go func() {
		u := locks.Lock(key)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock acquired while first still held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after unlock")
	}
}

func TestKeyLocksDropIdleEntries(t *testing.T) {
	locks := NewKeyLocks()
	key := Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan}

	unlock := locks.Lock(key)
	if n := lockTableSize(locks); n != 1 {
		t.Fatalf("expected 1 held entry, got %d", n)
	}
	unlock()
	if n := lockTableSize(locks); n != 0 {
		t.Fatalf("expected entry dropped after unlock, got %d", n)
	}
}

func TestKeyLocksKeepEntryWhileContended(t *testing.T) {
	locks := NewKeyLocks()
	key := Key{PhoneNumber: "+919999999999", ApplicationType: ApplicationLoan}

	unlock := locks.Lock(key)
	released := make(chan struct{})
	go func() {
		u := locks.Lock(key)
		u()
		close(released)
	}()

	// Give the waiter time to register before the holder releases.
	for i := 0; i < 100; i++ {
		locks.mu.Lock()
		e := locks.locks[key.String()]
		waiting := e != nil && e.refs == 2
		locks.mu.Unlock()
		if waiting {
			break
		}
		time.Sleep(time.Millisecond)
	}
	unlock()

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	if n := lockTableSize(locks); n != 0 {
		t.Fatalf("expected empty table after all holders released, got %d", n)
	}
}

func lockTableSize(l *KeyLocks) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
