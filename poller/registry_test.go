package poller

import (
	"context"
	"testing"
	"time"

	"github.com/decred/ecashgwd/ecash"
	"github.com/decred/ecashgwd/ledger"
)

func TestRegisterRejectsDuplicateKey(t *testing.T) {
	store := ledger.NewMemStore()
	blockTick := make(chan struct{})
	reg := New(store, func(ctx context.Context, key ecash.PollerKey, amount uint64) (bool, error) {
		<-blockTick
		return true, nil
	}, Options{})
	defer close(blockTick)

	key := ecash.PollerKey{UserKey: "user-0000001", QuoteID: "q1", TransactionID: "tx1"}
	if err := reg.Register(context.Background(), "entry1", key, 100); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := reg.Register(context.Background(), "entry1", key, 100); err == nil {
		t.Fatal("expected duplicate poller key to be rejected")
	}

	reg.CleanupAll()
}

func TestCleanupAllCancelsPromptly(t *testing.T) {
	store := ledger.NewMemStore()
	// TickFunc is never actually invoked in this test: CleanupAll cancels
	// the poller's context before the first TickInterval elapses, so the
	// run loop must exit via ctx.Done() rather than waiting on the ticker.
	reg := New(store, func(ctx context.Context, key ecash.PollerKey, amount uint64) (bool, error) {
		t.Error("tick should not fire before the registry is cleaned up")
		return true, nil
	}, Options{})

	key := ecash.PollerKey{UserKey: "user-0000001", QuoteID: "q1", TransactionID: "tx1"}
	if err := reg.Register(context.Background(), "entry1", key, 100); err != nil {
		t.Fatalf("Register: %v", err)
	}

	done := make(chan struct{})
	go func() {
		reg.CleanupAll()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("CleanupAll did not return promptly after cancellation")
	}

	if len(reg.Status()) != 0 {
		t.Error("expected no active pollers after CleanupAll")
	}
}

func TestRegisterRejectsAtMaxWorkers(t *testing.T) {
	store := ledger.NewMemStore()
	blockTick := make(chan struct{})
	reg := New(store, func(ctx context.Context, key ecash.PollerKey, amount uint64) (bool, error) {
		<-blockTick
		return true, nil
	}, Options{MaxWorkers: 1})
	defer close(blockTick)
	defer reg.CleanupAll()

	key1 := ecash.PollerKey{UserKey: "user-0000001", QuoteID: "q1", TransactionID: "tx1"}
	if err := reg.Register(context.Background(), "entry1", key1, 100); err != nil {
		t.Fatalf("first Register: %v", err)
	}

	key2 := ecash.PollerKey{UserKey: "user-0000002", QuoteID: "q2", TransactionID: "tx2"}
	if err := reg.Register(context.Background(), "entry2", key2, 100); err == nil {
		t.Fatal("expected Register to fail once MaxWorkers is reached")
	}
}

func TestPollerCompletesOnDone(t *testing.T) {
	store := ledger.NewMemStore()
	entry := &ecash.LedgerEntry{Metadata: map[string]interface{}{ecash.MetaSource: "mint"}}
	if err := store.InsertPending(context.Background(), entry); err != nil {
		t.Fatalf("InsertPending: %v", err)
	}

	// This test leaves Options.Interval unset, so it waits for one real
	// tick at the default TickInterval.
	ticked := make(chan struct{}, 1)
	reg := New(store, func(ctx context.Context, key ecash.PollerKey, amount uint64) (bool, error) {
		select {
		case ticked <- struct{}{}:
		default:
		}
		return true, nil
	}, Options{})

	key := ecash.PollerKey{UserKey: "user-0000001", QuoteID: "q1", TransactionID: "tx1"}
	if err := reg.Register(context.Background(), entry.ID, key, 100); err != nil {
		t.Fatalf("Register: %v", err)
	}
	defer reg.CleanupAll()

	select {
	case <-ticked:
	case <-time.After(TickInterval + 5*time.Second):
		t.Fatal("tick never fired")
	}

	// Give run() a moment to observe done=true and remove itself.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(reg.Status()) == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("expected poller to remove itself after a successful completion")
}
