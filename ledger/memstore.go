package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/decred/ecashgwd/ecash"
	"github.com/google/uuid"
)

// MemStore is an in-memory Store used by package tests and by components
// exercised without a live MongoDB cluster. It implements the same
// atomicity guarantees as MongoStore by holding a single mutex for the
// whole store, which is acceptable at test scale.
type MemStore struct {
	mu      sync.Mutex
	wallets map[string]ecash.Wallet
	entries map[string]ecash.LedgerEntry
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		wallets: make(map[string]ecash.Wallet),
		entries: make(map[string]ecash.LedgerEntry),
	}
}

func walletKey(userKey, mintURL string) string {
	return userKey + "|" + mintURL
}

func (s *MemStore) CreateWallet(ctx context.Context, w *ecash.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := walletKey(w.UserKey, w.MintURL)
	if _, ok := s.wallets[key]; ok {
		return ErrConflict
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.CreatedAt = time.Now().UTC()
	s.wallets[key] = *w
	return nil
}

func (s *MemStore) GetWallet(ctx context.Context, userKey, mintURL string) (*ecash.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.wallets[walletKey(userKey, mintURL)]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (s *MemStore) ListWallets(ctx context.Context) ([]ecash.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ecash.Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, w)
	}
	return out, nil
}

func (s *MemStore) ListUnspentEntries(ctx context.Context, walletID string) ([]ecash.LedgerEntry, error) {
	return s.listByStatus(walletID, ecash.StatusUnspent)
}

func (s *MemStore) listByStatus(walletID string, status ecash.EntryStatus) ([]ecash.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ecash.LedgerEntry
	for _, e := range s.entries {
		if e.WalletID == walletID && e.Status == status {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemStore) ListEntries(ctx context.Context, walletID string) ([]ecash.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ecash.LedgerEntry
	for _, e := range s.entries {
		if e.WalletID == walletID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemStore) GetEntry(ctx context.Context, entryID string) (*ecash.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryID]
	if !ok {
		return nil, ErrNotFound
	}
	return &e, nil
}

func (s *MemStore) FindByTransactionID(ctx context.Context, transactionID string) ([]ecash.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []ecash.LedgerEntry
	for _, e := range s.entries {
		if e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemStore) InsertPending(ctx context.Context, entry *ecash.LedgerEntry) error {
	entry.Status = ecash.StatusPending
	if !entry.Valid() {
		return fmt.Errorf("ledger: refusing to insert invalid entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now
	s.entries[entry.ID] = *entry
	return nil
}

func (s *MemStore) CommitTransition(ctx context.Context, entryID string, newStatus ecash.EntryStatus, proofs []ecash.Proof) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entries[entryID]
	if !ok {
		return ErrNotFound
	}
	if !ecash.TransitionAllowed(current.Status, newStatus) {
		return ecash.New(ecash.KindState, ecash.CodeIllegalTransition,
			fmt.Sprintf("ledger: illegal transition %s -> %s", current.Status, newStatus), nil)
	}

	current.Status = newStatus
	current.UpdatedAt = time.Now().UTC()
	if proofs != nil && (newStatus == ecash.StatusUnspent || newStatus == ecash.StatusSpent) {
		current.Proofs = proofs
		current.TotalAmount = ecash.ProofsTotal(proofs)
	}
	s.entries[entryID] = current
	return nil
}

func (s *MemStore) CommitAtomicSwap(ctx context.Context, spent []string, newEntries []ecash.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range spent {
		e, ok := s.entries[id]
		if !ok {
			return ErrNotFound
		}
		if e.Status != ecash.StatusUnspent {
			return ErrConflict
		}
	}

	now := time.Now().UTC()
	for _, id := range spent {
		e := s.entries[id]
		e.Status = ecash.StatusSpent
		e.SpentAt = &now
		e.UpdatedAt = now
		s.entries[id] = e
	}
	for _, e := range newEntries {
		if e.ID == "" {
			e.ID = uuid.NewString()
		}
		if e.Status == "" {
			e.Status = ecash.StatusUnspent
		}
		e.CreatedAt = now
		e.UpdatedAt = now
		s.entries[e.ID] = e
	}
	return nil
}

func (s *MemStore) MarkFailed(ctx context.Context, entryID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	e.Status = ecash.StatusFailed
	e.Proofs = nil
	e.UpdatedAt = now
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	e.Metadata["failure_reason"] = reason
	e.Metadata["failed_at"] = now
	s.entries[entryID] = e
	return nil
}

func (s *MemStore) EnsureIndexes(ctx context.Context) error {
	return nil
}

func (s *MemStore) Close() error {
	return nil
}
