package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/decred/ecashgwd/ecash"
	"github.com/google/uuid"
	mgo "gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"
)

const (
	walletsCollection = "wallets"
	entriesCollection  = "ledger_entries"
)

// MongoStore is the Store implementation backed by a `wallets` and a
// `ledger_entries` collection, per §6.3's persisted state layout.
type MongoStore struct {
	session  *mgo.Session
	database string
}

// DialMongoStore dials uri and returns a MongoStore against database. uri
// and database come from the coordinator's LedgerConfig.
func DialMongoStore(uri, database string) (*MongoStore, error) {
	session, err := mgo.DialWithTimeout(uri, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ledger: dialing mongo: %w", err)
	}
	session.SetMode(mgo.Strong, true)
	session.SetSafe(&mgo.Safe{WMode: "majority"})

	return &MongoStore{session: session, database: database}, nil
}

// EnsureIndexes creates the compound/status/transaction-id indexes of §6.3.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	sess := s.session.Copy()
	defer sess.Close()

	wallets := sess.DB(s.database).C(walletsCollection)
	if err := wallets.EnsureIndex(mgo.Index{
		Key:    []string{"user_key", "mint_url"},
		Unique: true,
	}); err != nil {
		return fmt.Errorf("ledger: ensuring wallets index: %w", err)
	}

	entries := sess.DB(s.database).C(entriesCollection)
	if err := entries.EnsureIndex(mgo.Index{
		Key: []string{"wallet_id", "status"},
	}); err != nil {
		return fmt.Errorf("ledger: ensuring ledger_entries status index: %w", err)
	}
	if err := entries.EnsureIndex(mgo.Index{
		Key: []string{"transaction_id"},
	}); err != nil {
		return fmt.Errorf("ledger: ensuring ledger_entries tx index: %w", err)
	}
	if err := entries.EnsureIndex(mgo.Index{
		Key:    []string{"proofs.secret"},
		Sparse: true,
	}); err != nil {
		return fmt.Errorf("ledger: ensuring ledger_entries proof secret index: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateWallet(ctx context.Context, w *ecash.Wallet) error {
	sess := s.session.Copy()
	defer sess.Close()

	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.CreatedAt = time.Now().UTC()

	err := sess.DB(s.database).C(walletsCollection).Insert(w)
	if mgo.IsDup(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("ledger: inserting wallet: %w", err)
	}
	return nil
}

func (s *MongoStore) GetWallet(ctx context.Context, userKey, mintURL string) (*ecash.Wallet, error) {
	sess := s.session.Copy()
	defer sess.Close()

	var w ecash.Wallet
	err := sess.DB(s.database).C(walletsCollection).
		Find(bson.M{"user_key": userKey, "mint_url": mintURL}).One(&w)
	if err == mgo.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: finding wallet: %w", err)
	}
	return &w, nil
}

func (s *MongoStore) ListWallets(ctx context.Context) ([]ecash.Wallet, error) {
	sess := s.session.Copy()
	defer sess.Close()

	var wallets []ecash.Wallet
	err := sess.DB(s.database).C(walletsCollection).Find(nil).All(&wallets)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing wallets: %w", err)
	}
	return wallets, nil
}

func (s *MongoStore) ListUnspentEntries(ctx context.Context, walletID string) ([]ecash.LedgerEntry, error) {
	return s.listByStatus(ctx, walletID, ecash.StatusUnspent)
}

func (s *MongoStore) listByStatus(ctx context.Context, walletID string, status ecash.EntryStatus) ([]ecash.LedgerEntry, error) {
	sess := s.session.Copy()
	defer sess.Close()

	var entries []ecash.LedgerEntry
	err := sess.DB(s.database).C(entriesCollection).
		Find(bson.M{"wallet_id": walletID, "status": status}).All(&entries)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing entries: %w", err)
	}
	return entries, nil
}

func (s *MongoStore) ListEntries(ctx context.Context, walletID string) ([]ecash.LedgerEntry, error) {
	sess := s.session.Copy()
	defer sess.Close()

	var entries []ecash.LedgerEntry
	err := sess.DB(s.database).C(entriesCollection).
		Find(bson.M{"wallet_id": walletID}).All(&entries)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing entries: %w", err)
	}
	return entries, nil
}

func (s *MongoStore) GetEntry(ctx context.Context, entryID string) (*ecash.LedgerEntry, error) {
	sess := s.session.Copy()
	defer sess.Close()

	var e ecash.LedgerEntry
	err := sess.DB(s.database).C(entriesCollection).
		Find(bson.M{"_id": entryID}).One(&e)
	if err == mgo.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: finding entry: %w", err)
	}
	return &e, nil
}

func (s *MongoStore) FindByTransactionID(ctx context.Context, transactionID string) ([]ecash.LedgerEntry, error) {
	sess := s.session.Copy()
	defer sess.Close()

	var entries []ecash.LedgerEntry
	err := sess.DB(s.database).C(entriesCollection).
		Find(bson.M{"transaction_id": transactionID}).All(&entries)
	if err != nil {
		return nil, fmt.Errorf("ledger: finding entries by transaction id: %w", err)
	}
	return entries, nil
}

func (s *MongoStore) InsertPending(ctx context.Context, entry *ecash.LedgerEntry) error {
	entry.Status = ecash.StatusPending
	if !entry.Valid() {
		return fmt.Errorf("ledger: refusing to insert invalid entry")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	sess := s.session.Copy()
	defer sess.Close()

	if err := sess.DB(s.database).C(entriesCollection).Insert(entry); err != nil {
		return fmt.Errorf("ledger: inserting pending entry: %w", err)
	}
	return nil
}

func (s *MongoStore) CommitTransition(ctx context.Context, entryID string, newStatus ecash.EntryStatus, proofs []ecash.Proof) error {
	sess := s.session.Copy()
	defer sess.Close()
	coll := sess.DB(s.database).C(entriesCollection)

	var current ecash.LedgerEntry
	if err := coll.FindId(entryID).One(&current); err != nil {
		if err == mgo.ErrNotFound {
			return ErrNotFound
		}
		return fmt.Errorf("ledger: loading entry for transition: %w", err)
	}
	if !ecash.TransitionAllowed(current.Status, newStatus) {
		return ecash.New(ecash.KindState, ecash.CodeIllegalTransition,
			fmt.Sprintf("ledger: illegal transition %s -> %s", current.Status, newStatus), nil)
	}

	update := bson.M{
		"status":     newStatus,
		"updated_at": time.Now().UTC(),
	}
	if proofs != nil && (newStatus == ecash.StatusUnspent || newStatus == ecash.StatusSpent) {
		update["proofs"] = proofs
		update["total_amount"] = ecash.ProofsTotal(proofs)
	}

	err := coll.Update(
		bson.M{"_id": entryID, "status": current.Status},
		bson.M{"$set": update},
	)
	if err == mgo.ErrNotFound {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("ledger: committing transition: %w", err)
	}
	return nil
}

// atomicSwapOps abstracts the individual writes CommitAtomicSwap composes,
// so the compensating-rollback sequencing in runAtomicSwap can be exercised
// by a test without a live mongo connection.
type atomicSwapOps struct {
	// spendEntry performs the unspent -> spent compare-and-swap for id,
	// returning ErrConflict if the entry had already moved.
	spendEntry func(id string) error
	// unspendEntry best-effort reverts a spendEntry that must be rolled
	// back because a later step in the swap failed.
	unspendEntry func(id string)
	// insertEntry inserts a replacement entry.
	insertEntry func(e *ecash.LedgerEntry) error
	// removeEntry best-effort reverts an insertEntry that must be rolled
	// back because a later insert in the same swap failed.
	removeEntry func(id string)
}

// runAtomicSwap drives the §3 atomic-swap invariant one write at a time
// rather than through a single multi-document transaction, since mgo's Bulk
// facility has no real cross-document atomicity regardless of ordered vs.
// unordered mode. It tracks every write that has already landed and, the
// moment a later write fails, undoes them with compensating writes before
// returning: inserted replacements are removed first, then spent sources are
// reverted. The compensating writes are best-effort (their errors are not
// reported), so the original state is restored only when they succeed, and
// other readers can observe the intermediate states while the swap runs.
func runAtomicSwap(spent []string, newEntries []ecash.LedgerEntry, ops atomicSwapOps) error {
	spentOK := make([]string, 0, len(spent))
	rollbackSpent := func() {
		for _, id := range spentOK {
			ops.unspendEntry(id)
		}
	}

	for _, id := range spent {
		if err := ops.spendEntry(id); err != nil {
			rollbackSpent()
			return err
		}
		spentOK = append(spentOK, id)
	}

	insertedOK := make([]string, 0, len(newEntries))
	for i := range newEntries {
		if err := ops.insertEntry(&newEntries[i]); err != nil {
			for _, id := range insertedOK {
				ops.removeEntry(id)
			}
			rollbackSpent()
			return err
		}
		insertedOK = append(insertedOK, newEntries[i].ID)
	}
	return nil
}

// CommitAtomicSwap implements the §3 atomic-swap invariant against
// entriesCollection via runAtomicSwap. Each spend and each insert is its
// own mongo write, with compensating writes undoing everything already
// applied the moment any step fails -- mgo's Bulk gives no multi-document
// transaction guarantee to lean on instead (see runAtomicSwap).
func (s *MongoStore) CommitAtomicSwap(ctx context.Context, spent []string, newEntries []ecash.LedgerEntry) error {
	sess := s.session.Copy()
	defer sess.Close()
	coll := sess.DB(s.database).C(entriesCollection)

	now := time.Now().UTC()

	ops := atomicSwapOps{
		spendEntry: func(id string) error {
			err := coll.Update(
				bson.M{"_id": id, "status": ecash.StatusUnspent},
				bson.M{"$set": bson.M{"status": ecash.StatusSpent, "spent_at": now, "updated_at": now}},
			)
			if err == mgo.ErrNotFound {
				return ErrConflict
			}
			return err
		},
		unspendEntry: func(id string) {
			coll.Update(
				bson.M{"_id": id, "status": ecash.StatusSpent},
				bson.M{"$set": bson.M{"status": ecash.StatusUnspent, "spent_at": nil, "updated_at": time.Now().UTC()}},
			)
		},
		insertEntry: func(e *ecash.LedgerEntry) error {
			if e.ID == "" {
				e.ID = uuid.NewString()
			}
			if e.Status == "" {
				e.Status = ecash.StatusUnspent
			}
			e.CreatedAt = now
			e.UpdatedAt = now
			return coll.Insert(e)
		},
		removeEntry: func(id string) {
			coll.RemoveId(id)
		},
	}

	if err := runAtomicSwap(spent, newEntries, ops); err != nil {
		if err == ErrConflict {
			return err
		}
		return fmt.Errorf("ledger: atomic swap: %w", err)
	}
	return nil
}

func (s *MongoStore) MarkFailed(ctx context.Context, entryID, reason string) error {
	sess := s.session.Copy()
	defer sess.Close()

	now := time.Now().UTC()
	err := sess.DB(s.database).C(entriesCollection).UpdateId(entryID, bson.M{
		"$set": bson.M{
			"status":                  ecash.StatusFailed,
			"proofs":                  []ecash.Proof{},
			"updated_at":              now,
			"metadata.failure_reason": reason,
			"metadata.failed_at":      now,
		},
	})
	if err == mgo.ErrNotFound {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("ledger: marking entry failed: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	s.session.Close()
	return nil
}
