// Package validation implements the Validation Gate (§4.4): the two-phase
// admission check every fund-moving operation passes through before it
// touches the mint or the ledger.
package validation

import (
	"context"
	"strings"
	"time"

	"github.com/decred/ecashgwd/ecash"
	"github.com/decred/ecashgwd/ledger"
)

const (
	// MinAmount and MaxAmount bound the structural amount check (§4.4).
	MinAmount uint64 = 1
	MaxAmount uint64 = 1_000_000

	// MaxPendingPerUser is the cap on concurrent pending mints per user
	// within the pending window (§4.4).
	MaxPendingPerUser = 5

	// PendingWindow is the lookback window used to count pending mints
	// against MaxPendingPerUser (§4.4).
	PendingWindow = 24 * time.Hour

	// WarnAmountThreshold triggers a warning (not a rejection) above this
	// amount (§4.4).
	WarnAmountThreshold uint64 = 100_000

	// StuckPendingAge flags a pending entry as stuck once it has been
	// pending longer than this (§4.4, §4.8).
	StuckPendingAge = 1 * time.Hour
)

// Warning is a non-fatal observation surfaced alongside a passing check.
type Warning struct {
	Code    string
	Message string
}

// Result is the outcome of a Check call: either the operation is admitted
// (possibly with warnings) or Err explains why it was rejected.
type Result struct {
	Warnings []Warning
	Err      error
}

// Admitted reports whether the operation may proceed.
func (r Result) Admitted() bool {
	return r.Err == nil
}

// Gate runs the structural and stateful admission checks of §4.4 against a
// Ledger Store.
type Gate struct {
	store ledger.Store
}

// New returns a Gate backed by store.
func New(store ledger.Store) *Gate {
	return &Gate{store: store}
}

// CheckStructural validates userKey and amount in isolation, without
// touching the ledger (§4.4.1).
func CheckStructural(userKey string, amount uint64) error {
	if !validUserKey(userKey) {
		return ecash.New(ecash.KindValidation, ecash.CodeInvalidUserKey,
			"user_key is not a well-formed identifier", nil)
	}
	if amount < MinAmount || amount > MaxAmount {
		return ecash.New(ecash.KindValidation, ecash.CodeAmountOutOfRange,
			"amount is outside the permitted range", nil)
	}
	return nil
}

// validUserKey applies the structural shape check alone; it does not
// resolve or confirm the key against any directory, since identity storage
// is out of scope (§1).
func validUserKey(userKey string) bool {
	userKey = strings.TrimSpace(userKey)
	return len(userKey) >= 8 && len(userKey) <= 128
}

// CheckMint runs both phases of §4.4 for a mint operation: the structural
// check on (userKey, amount), then the stateful pending-cap check.
func (g *Gate) CheckMint(ctx context.Context, userKey, mintURL string, amount uint64) Result {
	if err := CheckStructural(userKey, amount); err != nil {
		return Result{Err: err}
	}

	wallet, err := g.store.GetWallet(ctx, userKey, mintURL)
	if err != nil {
		return Result{Err: ecash.New(ecash.KindValidation, ecash.CodeWalletNotFound,
			"no wallet for this user and mint", err)}
	}

	entries, err := g.store.ListEntries(ctx, wallet.ID)
	if err != nil {
		return Result{Err: err}
	}

	now := time.Now()
	var pendingCount int
	var stuck bool
	for _, e := range entries {
		if e.Status != ecash.StatusPending || e.Kind != ecash.KindMinted {
			continue
		}
		if now.Sub(e.CreatedAt) > PendingWindow {
			continue
		}
		pendingCount++
		if now.Sub(e.CreatedAt) > StuckPendingAge {
			stuck = true
		}
	}

	if pendingCount >= MaxPendingPerUser {
		return Result{Err: ecash.New(ecash.KindValidation, ecash.CodePendingCapExceeded,
			"too many pending mints for this user", nil)}
	}

	var warnings []Warning
	if pendingCount >= MaxPendingPerUser-1 {
		warnings = append(warnings, Warning{
			Code:    "PENDING_CAP_APPROACHING",
			Message: "user is approaching the pending mint cap",
		})
	}
	if amount > WarnAmountThreshold {
		warnings = append(warnings, Warning{
			Code:    "LARGE_AMOUNT",
			Message: "amount exceeds the advisory large-amount threshold",
		})
	}
	if stuck {
		warnings = append(warnings, Warning{
			Code:    "STUCK_PENDING",
			Message: "user has a pending mint older than the stuck-pending threshold",
		})
	}

	return Result{Warnings: warnings}
}

// CheckSpend runs the stateful admission check for an operation that spends
// the wallet's proofs (send, melt): the wallet must exist and amount must
// pass the structural check. The pending-mint cap does not apply to spends.
func (g *Gate) CheckSpend(ctx context.Context, userKey, mintURL string, amount uint64) (*ecash.Wallet, Result) {
	if err := CheckStructural(userKey, amount); err != nil {
		return nil, Result{Err: err}
	}

	wallet, err := g.store.GetWallet(ctx, userKey, mintURL)
	if err != nil {
		return nil, Result{Err: ecash.New(ecash.KindValidation, ecash.CodeWalletNotFound,
			"no wallet for this user and mint", err)}
	}
	return wallet, Result{}
}
