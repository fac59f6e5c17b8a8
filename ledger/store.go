// Package ledger implements the Ledger Store component (§4.3): the system
// of record for wallets and their proof inventories.
package ledger

import (
	"context"
	"errors"

	"github.com/decred/ecashgwd/ecash"
)

// ErrNotFound is returned when a lookup finds no matching wallet or entry.
var ErrNotFound = errors.New("ledger: not found")

// ErrConflict is returned when a write loses a compare-and-swap race against
// a concurrent writer, e.g. two operations racing to commit against the same
// pending entry (§5 "atomic swap").
var ErrConflict = errors.New("ledger: conflicting concurrent write")

// Store is the persistence boundary for wallets and ledger entries. All
// multi-record writes it exposes are atomic: either every record changes or
// none does (§3 "atomic swap" invariant).
//
// Implementations must not leak a stateful connection across goroutines in a
// way that survives past the request scope that created the Store -- the
// Mongo-backed implementation is itself backed by a copyable session, so a
// single Store value may be shared freely.
type Store interface {
	// CreateWallet inserts a new wallet, returning ErrConflict if a wallet
	// already exists for (UserKey, MintURL).
	CreateWallet(ctx context.Context, w *ecash.Wallet) error

	// GetWallet returns the wallet for userKey at mintURL, or ErrNotFound.
	GetWallet(ctx context.Context, userKey, mintURL string) (*ecash.Wallet, error)

	// ListWallets returns every wallet the store knows about, used by the
	// Monitor's alert scan to enumerate which wallets to check (§4.8,
	// §6.1 "health").
	ListWallets(ctx context.Context) ([]ecash.Wallet, error)

	// ListUnspentEntries returns every entry for wallet whose status is
	// unspent, the pool of spendable proofs for selection (§4.4).
	ListUnspentEntries(ctx context.Context, walletID string) ([]ecash.LedgerEntry, error)

	// ListEntries returns every entry for a wallet regardless of status,
	// used by the Reconciliation Engine (§4.5) and Balance queries.
	ListEntries(ctx context.Context, walletID string) ([]ecash.LedgerEntry, error)

	// GetEntry returns a single entry by ID, or ErrNotFound.
	GetEntry(ctx context.Context, entryID string) (*ecash.LedgerEntry, error)

	// FindByTransactionID returns every entry sharing transactionID, the
	// linkage key for sent/change pairs (§6.4 Open Question decision).
	FindByTransactionID(ctx context.Context, transactionID string) ([]ecash.LedgerEntry, error)

	// InsertPending inserts a new pending entry, enforcing pending purity
	// (§3: a pending entry carries no proofs and a zero total).
	InsertPending(ctx context.Context, entry *ecash.LedgerEntry) error

	// CommitTransition atomically moves entry from its current status to
	// newStatus, attaching proofs and total when transitioning out of
	// pending. Passing a nil proofs slice leaves the entry's existing
	// proofs/total untouched -- used by status-only corrections such as
	// reconciliation's unspent->spent fixups. It fails with ErrConflict
	// if entry has already moved, and with ecash.Error{Kind: KindState,
	// Code: CodeIllegalTransition} if newStatus is not a legal successor of
	// the entry's current status (§3).
	CommitTransition(ctx context.Context, entryID string, newStatus ecash.EntryStatus, proofs []ecash.Proof) error

	// CommitAtomicSwap replaces the proofs of spent with newEntries in a
	// single atomic write: spent moves to StatusSpent, and every entry in
	// newEntries is inserted with the status it carries, or unspent when its
	// Status is empty. Used by Send (sent record and change) and
	// Melt (melt-change) (§3 "atomic swap" invariant, §4.6.4, §4.6.5).
	CommitAtomicSwap(ctx context.Context, spent []string, newEntries []ecash.LedgerEntry) error

	// MarkFailed transitions entry to StatusFailed, clearing any partial
	// proof state and recording reason under metadata.failure_reason
	// alongside a failed_at timestamp. Used on unrecoverable operation
	// failure (§3, Testable scenario 6).
	MarkFailed(ctx context.Context, entryID, reason string) error

	// EnsureIndexes creates the indexes described in §6.3. Safe to call
	// repeatedly; a no-op once the indexes already exist.
	EnsureIndexes(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// Balance computes the aggregate balance for a wallet from its entries,
// per §6.1's balance operation.
func Balance(entries []ecash.LedgerEntry) ecash.Balance {
	var b ecash.Balance
	for _, e := range entries {
		switch e.Status {
		case ecash.StatusUnspent:
			b.Unspent += e.TotalAmount
		case ecash.StatusPending:
			b.Pending++
		case ecash.StatusSpent:
			b.Spent += e.TotalAmount
		}
	}
	b.Total = b.Unspent
	return b
}
