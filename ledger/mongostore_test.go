package ledger

import (
	"errors"
	"testing"

	"github.com/decred/ecashgwd/ecash"
)

// fakeAtomicSwapBackend is an in-memory stand-in for entriesCollection that
// lets a test force a write to fail partway through a swap, the scenario a
// live mongo connection can't deterministically reproduce in a unit test
// (MongoStore's real spendEntry/insertEntry close over a *mgo.Collection).
type fakeAtomicSwapBackend struct {
	spent    map[string]bool
	inserted map[string]bool

	failSpendAt  int // 1-indexed position in the spent slice to fail, 0 = never
	failInsertAt int // 1-indexed position in newEntries to fail, 0 = never

	spendCalls   int
	unspendCalls []string
	insertCalls  int
	removeCalls  []string
}

func newFakeAtomicSwapBackend() *fakeAtomicSwapBackend {
	return &fakeAtomicSwapBackend{
		spent:    make(map[string]bool),
		inserted: make(map[string]bool),
	}
}

func (b *fakeAtomicSwapBackend) ops() atomicSwapOps {
	return atomicSwapOps{
		spendEntry: func(id string) error {
			b.spendCalls++
			if b.failSpendAt != 0 && b.spendCalls == b.failSpendAt {
				return ErrConflict
			}
			b.spent[id] = true
			return nil
		},
		unspendEntry: func(id string) {
			b.unspendCalls = append(b.unspendCalls, id)
			delete(b.spent, id)
		},
		insertEntry: func(e *ecash.LedgerEntry) error {
			b.insertCalls++
			if b.failInsertAt != 0 && b.insertCalls == b.failInsertAt {
				return errors.New("duplicate key")
			}
			b.inserted[e.ID] = true
			return nil
		},
		removeEntry: func(id string) {
			b.removeCalls = append(b.removeCalls, id)
			delete(b.inserted, id)
		},
	}
}

func TestRunAtomicSwapRollsBackOnLostSpendRace(t *testing.T) {
	b := newFakeAtomicSwapBackend()
	b.failSpendAt = 2 // second spend loses its compare-and-swap

	spent := []string{"e1", "e2", "e3"}
	newEntries := []ecash.LedgerEntry{{ID: "c1", TotalAmount: 50}}

	err := runAtomicSwap(spent, newEntries, b.ops())
	if err != ErrConflict {
		t.Fatalf("err = %v, want ErrConflict", err)
	}

	if len(b.spent) != 0 {
		t.Errorf("spent = %v, want all rolled back", b.spent)
	}
	if len(b.unspendCalls) != 1 || b.unspendCalls[0] != "e1" {
		t.Errorf("unspendCalls = %v, want [e1]", b.unspendCalls)
	}
	if b.insertCalls != 0 {
		t.Errorf("insertCalls = %d, want 0 (swap must fail before any insert)", b.insertCalls)
	}
}

func TestRunAtomicSwapRollsBackOnPartialInsertFailure(t *testing.T) {
	b := newFakeAtomicSwapBackend()
	b.failInsertAt = 2 // second replacement entry fails to insert

	spent := []string{"e1", "e2"}
	newEntries := []ecash.LedgerEntry{
		{ID: "c1", TotalAmount: 30},
		{ID: "c2", TotalAmount: 20},
	}

	err := runAtomicSwap(spent, newEntries, b.ops())
	if err == nil {
		t.Fatal("expected an error from the forced insert failure")
	}

	if len(b.spent) != 0 {
		t.Errorf("spent = %v, want all spend transitions rolled back", b.spent)
	}
	if len(b.unspendCalls) != 2 {
		t.Errorf("unspendCalls = %v, want both spent entries reverted", b.unspendCalls)
	}
	if len(b.inserted) != 0 {
		t.Errorf("inserted = %v, want the successful insert rolled back too", b.inserted)
	}
	if len(b.removeCalls) != 1 || b.removeCalls[0] != "c1" {
		t.Errorf("removeCalls = %v, want [c1]", b.removeCalls)
	}
}

func TestRunAtomicSwapSucceedsWithNoFailures(t *testing.T) {
	b := newFakeAtomicSwapBackend()

	spent := []string{"e1", "e2"}
	newEntries := []ecash.LedgerEntry{{ID: "c1", TotalAmount: 100}}

	if err := runAtomicSwap(spent, newEntries, b.ops()); err != nil {
		t.Fatalf("runAtomicSwap: %v", err)
	}

	if len(b.spent) != 2 || len(b.inserted) != 1 {
		t.Errorf("spent = %v, inserted = %v, want both applied", b.spent, b.inserted)
	}
	if len(b.unspendCalls) != 0 || len(b.removeCalls) != 0 {
		t.Error("expected no rollback calls on a clean swap")
	}
}
