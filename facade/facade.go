// Package facade implements the External Facade (§6.1, component J): the
// public operation surface the coordinator exposes to whatever inbound
// transport embeds it. Wire-level transport (HTTP, SSE) is out of scope
// (§1); this package is the Go API boundary a transport layer would call.
package facade

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/decred/ecashgwd/coordinator"
	"github.com/decred/ecashgwd/ecash"
	"github.com/decred/ecashgwd/ledger"
	"github.com/decred/ecashgwd/mint"
	"github.com/decred/ecashgwd/monitor"
	"github.com/decred/ecashgwd/reconcile"
	"golang.org/x/time/rate"
)

// Config wires the Facade's dependencies.
type Config struct {
	Store       ledger.Store
	Coordinator *coordinator.Coordinator
	Monitor     *monitor.Monitor
	Reconciler  *reconcile.Engine
	MintCfg     mint.Config

	// MaxConcurrentOps sets the admission rate limit shared by all wallets
	// (facade.maxconcurrentops): at most MaxConcurrentOps operations are
	// admitted per second, with a burst of the same size. It does not bound
	// how many admitted operations run at the same time.
	MaxConcurrentOps int
}

// Facade is the single entry point the rest of the system calls into.
type Facade struct {
	cfg     Config
	limiter *rate.Limiter
}

// New returns a Facade wired to cfg.
func New(cfg Config) *Facade {
	if cfg.MaxConcurrentOps <= 0 {
		cfg.MaxConcurrentOps = 256
	}
	return &Facade{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxConcurrentOps), cfg.MaxConcurrentOps),
	}
}

func (f *Facade) admit(ctx context.Context) error {
	return f.limiter.Wait(ctx)
}

// CreateWalletResult is the output of CreateWallet.
type CreateWalletResult struct {
	MintURL   string
	P2PKPubKey string
}

// CreateWallet provisions a new wallet for userKey at mintURL.
func (f *Facade) CreateWallet(ctx context.Context, userKey, mintURL string) (*CreateWalletResult, error) {
	if err := f.admit(ctx); err != nil {
		return nil, err
	}

	priv, pubHex, err := ecash.NewWalletKeypair()
	if err != nil {
		return nil, fmt.Errorf("facade: generating wallet keypair: %w", err)
	}

	wallet := &ecash.Wallet{
		UserKey:    userKey,
		MintURL:    mintURL,
		Unit:       ecash.Unit,
		PubKeyHex:  pubHex,
		PrivKeyEnc: priv.Serialize(),
		Origin:     "facade.CreateWallet",
	}
	if err := f.cfg.Store.CreateWallet(ctx, wallet); err != nil {
		return nil, err
	}

	return &CreateWalletResult{MintURL: mintURL, P2PKPubKey: pubHex}, nil
}

// GetBalance returns the aggregate balance for userKey at mintURL (§4.3,
// §6.1).
func (f *Facade) GetBalance(ctx context.Context, userKey, mintURL string) (*ecash.Balance, error) {
	if err := f.admit(ctx); err != nil {
		return nil, err
	}

	wallet, err := f.cfg.Store.GetWallet(ctx, userKey, mintURL)
	if err != nil {
		return nil, err
	}
	entries, err := f.cfg.Store.ListEntries(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	b := ledger.Balance(entries)
	return &b, nil
}

// Mint requests a Lightning invoice to fund userKey's wallet (§4.6.1).
func (f *Facade) Mint(ctx context.Context, userKey, mintURL string, amount uint64) (*coordinator.MintResult, error) {
	if err := f.admit(ctx); err != nil {
		return nil, err
	}
	return f.cfg.Coordinator.Mint(ctx, userKey, mintURL, amount)
}

// CompleteMint explicitly drives the completion of a mint quote (§4.6.2).
func (f *Facade) CompleteMint(ctx context.Context, userKey, quoteID string, amount uint64, transactionID string) (*coordinator.CompleteMintResult, error) {
	if err := f.admit(ctx); err != nil {
		return nil, err
	}

	handle, err := mint.NewHandle(ctx, f.cfg.MintCfg)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	return f.cfg.Coordinator.CompleteMint(ctx, handle, userKey, quoteID, amount, transactionID)
}

// Send transfers amount from userKey's wallet to an encoded token (§4.6.3).
func (f *Facade) Send(ctx context.Context, userKey, mintURL string, amount uint64, recipientPubKey string) (*coordinator.SendResult, error) {
	if err := f.admit(ctx); err != nil {
		return nil, err
	}
	return f.cfg.Coordinator.Send(ctx, userKey, mintURL, amount, recipientPubKey)
}

// Receive redeems an encoded token into userKey's wallet (§4.6.4).
func (f *Facade) Receive(ctx context.Context, userKey, mintURL, encodedToken, p2pkPrivKey string) (*coordinator.ReceiveResult, error) {
	if err := f.admit(ctx); err != nil {
		return nil, err
	}
	return f.cfg.Coordinator.Receive(ctx, userKey, mintURL, encodedToken, p2pkPrivKey)
}

// Melt pays invoice out of userKey's wallet (§4.6.5).
func (f *Facade) Melt(ctx context.Context, userKey, mintURL, invoice string) (*coordinator.MeltResult, error) {
	if err := f.admit(ctx); err != nil {
		return nil, err
	}
	return f.cfg.Coordinator.Melt(ctx, userKey, mintURL, invoice)
}

// CheckStatesResult is the output of CheckProofStates (§6.1).
type CheckStatesResult struct {
	Discrepancies  []reconcile.Discrepancy
	SeverityCounts map[reconcile.Severity]int
	Consistent     bool
}

// CheckProofStates runs pre-flight reconciliation over userKey's unspent
// proofs without spending them, surfacing any divergence from the mint.
func (f *Facade) CheckProofStates(ctx context.Context, userKey, mintURL string) (*CheckStatesResult, error) {
	if err := f.admit(ctx); err != nil {
		return nil, err
	}

	wallet, err := f.cfg.Store.GetWallet(ctx, userKey, mintURL)
	if err != nil {
		return nil, err
	}
	unspent, err := f.cfg.Store.ListUnspentEntries(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}

	handle, err := mint.NewHandle(ctx, f.cfg.MintCfg)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	report, err := f.cfg.Reconciler.PreFlight(ctx, handle.Oracle(), unspent)
	if err != nil {
		return nil, err
	}

	return &CheckStatesResult{
		Discrepancies:  report.Discrepancies,
		SeverityCounts: report.SeverityCounts,
		Consistent:     report.Consistent,
	}, nil
}

// ReconcileResult is the output of Reconcile (§6.1).
type ReconcileResult struct {
	Actions []string
	Blocked bool
	Summary string
}

// Reconcile re-runs pre-flight reconciliation and reports what corrective
// actions it took.
func (f *Facade) Reconcile(ctx context.Context, userKey, mintURL string) (*ReconcileResult, error) {
	res, err := f.CheckProofStates(ctx, userKey, mintURL)
	if err != nil {
		return nil, err
	}

	var actions []string
	for _, d := range res.Discrepancies {
		switch d.Type {
		case reconcile.TypeDBUnspentMintSpent, reconcile.TypeDBPendingMintSpent:
			actions = append(actions, fmt.Sprintf("corrected %s to spent (%s)", d.Secret, d.Type))
		default:
			actions = append(actions, fmt.Sprintf("logged %s (%s)", d.Secret, d.Type))
		}
	}

	return &ReconcileResult{
		Actions: actions,
		Blocked: res.SeverityCounts[reconcile.SeverityHigh] > 0,
		Summary: fmt.Sprintf("%d discrepancies, consistent=%v", len(res.Discrepancies), res.Consistent),
	}, nil
}

// DefaultHistoryLimit and MaxHistoryLimit bound HistoryFilter.Limit (§4.3
// get_history: limit∈[1..100]).
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

// HistoryFilter narrows GetHistory's results (§4.3 get_history).
type HistoryFilter struct {
	Kind   ecash.EntryKind
	Status ecash.EntryStatus

	// Limit bounds the number of entries returned, clamped to
	// [1, MaxHistoryLimit]. Zero defaults to DefaultHistoryLimit.
	Limit int
	// Skip is the number of matching entries to skip before Limit is
	// applied, for paging through history oldest-first.
	Skip int
}

func (f HistoryFilter) withDefaults() HistoryFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultHistoryLimit
	}
	if f.Limit > MaxHistoryLimit {
		f.Limit = MaxHistoryLimit
	}
	if f.Skip < 0 {
		f.Skip = 0
	}
	return f
}

// HistoryResult is the output of GetHistory (§4.3): entries that pass the
// filter and the requested page, plus the pagination metadata named in
// get_history's return shape.
type HistoryResult struct {
	Entries         []ecash.LedgerEntry
	InvalidFiltered int

	// Total is the number of entries that matched the filter before
	// paging (Skip/Limit) was applied.
	Total int
	// HasMore reports whether entries beyond this page exist.
	HasMore bool
}

// GetHistory returns a page of userKey's ledger history, filtering out
// structurally invalid rows before paging (§4.3).
func (f *Facade) GetHistory(ctx context.Context, userKey, mintURL string, filter HistoryFilter) (*HistoryResult, error) {
	if err := f.admit(ctx); err != nil {
		return nil, err
	}
	filter = filter.withDefaults()

	wallet, err := f.cfg.Store.GetWallet(ctx, userKey, mintURL)
	if err != nil {
		return nil, err
	}
	entries, err := f.cfg.Store.ListEntries(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}

	result := &HistoryResult{}
	var matched []ecash.LedgerEntry
	for _, e := range entries {
		if !e.Valid() || !e.HasSource() {
			result.InvalidFiltered++
			continue
		}
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		matched = append(matched, e)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	result.Total = len(matched)
	if filter.Skip >= len(matched) {
		return result, nil
	}
	page := matched[filter.Skip:]
	if len(page) > filter.Limit {
		result.HasMore = true
		page = page[:filter.Limit]
	}
	result.Entries = page
	return result, nil
}

// PendingReceipt describes the post-check state of a single pending mint
// receipt (§6.1 check_pending_receipts).
type PendingReceipt struct {
	TransactionID string
	QuoteID       string
	Amount        uint64
	Completed     bool
	Error         string
}

// CheckPendingReceiptsResult is the output of CheckPendingReceipts (§6.1).
type CheckPendingReceiptsResult struct {
	Checked   int
	Completed int
	Receipts  []PendingReceipt
}

// metaAmount extracts a metadata amount stored as a uint64 (the in-process
// shape coordinator.Mint writes) or, for a value that has round-tripped
// through bson, as an int64/float64.
func metaAmount(v interface{}) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case int:
		return uint64(n)
	case float64:
		return uint64(n)
	default:
		return 0
	}
}

// CheckPendingReceipts drives an on-demand check of userKey's pending mint
// quotes (§4.6.2, §4.7): for every entry still waiting on a Lightning
// payment, it asks the mint whether the quote has since been paid and, if
// so, completes it immediately rather than leaving it for the next poller
// tick.
func (f *Facade) CheckPendingReceipts(ctx context.Context, userKey, mintURL string) (*CheckPendingReceiptsResult, error) {
	if err := f.admit(ctx); err != nil {
		return nil, err
	}

	wallet, err := f.cfg.Store.GetWallet(ctx, userKey, mintURL)
	if err != nil {
		return nil, err
	}
	entries, err := f.cfg.Store.ListEntries(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}

	handle, err := mint.NewHandle(ctx, f.cfg.MintCfg)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	result := &CheckPendingReceiptsResult{}
	for _, e := range entries {
		if e.Status != ecash.StatusPending || e.Kind != ecash.KindMinted {
			continue
		}
		quoteID, _ := e.Metadata["quote_id"].(string)
		if quoteID == "" {
			continue
		}

		result.Checked++
		receipt := PendingReceipt{
			TransactionID: e.TransactionID,
			QuoteID:       quoteID,
			Amount:        metaAmount(e.Metadata["mint_amount"]),
		}

		status, err := handle.Oracle().CheckMintQuote(ctx, quoteID)
		if err != nil {
			receipt.Error = err.Error()
			result.Receipts = append(result.Receipts, receipt)
			continue
		}
		if status.State != mint.StatePaid {
			result.Receipts = append(result.Receipts, receipt)
			continue
		}

		if _, err := f.cfg.Coordinator.CompleteMint(ctx, handle, userKey, quoteID, receipt.Amount, e.TransactionID); err != nil {
			receipt.Error = err.Error()
			result.Receipts = append(result.Receipts, receipt)
			continue
		}
		receipt.Completed = true
		result.Completed++
		result.Receipts = append(result.Receipts, receipt)
	}

	return result, nil
}

// Cleanup transitions stale pending entries to failed (§4.8).
func (f *Facade) Cleanup(ctx context.Context, userKey, mintURL string, maxAge time.Duration, dryRun bool) (int, error) {
	wallet, err := f.cfg.Store.GetWallet(ctx, userKey, mintURL)
	if err != nil {
		return 0, err
	}
	return f.cfg.Monitor.Cleanup(ctx, wallet.ID, maxAge, dryRun)
}

// HealthStatus classifies the overall health the facade reports (§6.1
// health).
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// Health is the output of the Health operation (§6.1): an overall status,
// the Monitor's per-operation counters, and any active alerts.
type Health struct {
	Status   HealthStatus
	Counters map[string]monitor.OpCounters
	Alerts   []string

	// MintReachable and Err preserve the mint-reachability probe that
	// feeds Status, for callers that only care about transport health.
	MintReachable bool
	Err           error
}

// Health probes the mint via a throwaway handle and folds in the Monitor's
// operation counters and stuck-pending alerts (§6.1 "health"): critical if
// the mint is unreachable, warning if it's reachable but the Monitor has an
// active alert, healthy otherwise.
func (f *Facade) Health(ctx context.Context) Health {
	h := Health{Status: HealthHealthy}

	if f.cfg.Monitor != nil {
		h.Counters = f.cfg.Monitor.Counters()

		if wallets, err := f.cfg.Store.ListWallets(ctx); err == nil {
			ids := make([]string, 0, len(wallets))
			for _, w := range wallets {
				ids = append(ids, w.ID)
			}
			if alert, err := f.cfg.Monitor.CheckAlerts(ctx, ids); err == nil && alert != nil {
				h.Alerts = append(h.Alerts, fmt.Sprintf(
					"%d pending entries across %d wallet(s) stuck beyond the stuck-pending threshold",
					alert.Count, len(alert.WalletIDs)))
			}
		}
	}

	handle, err := mint.NewHandle(ctx, f.cfg.MintCfg)
	if err != nil {
		h.MintReachable = false
		h.Err = err
		h.Status = HealthCritical
		return h
	}
	defer handle.Close()
	h.MintReachable = true

	if len(h.Alerts) > 0 {
		h.Status = HealthWarning
	}
	return h
}
