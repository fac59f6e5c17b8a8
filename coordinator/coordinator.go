// Package coordinator implements the Operation Coordinator (§4.6): the
// component that arbitrates every fund-moving operation through the
// skeleton Validate -> Reconcile (when spending) -> Oracle call -> Atomic
// ledger commit -> Post-commit monitoring event.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/decred/ecashgwd/ecash"
	"github.com/decred/ecashgwd/ledger"
	"github.com/decred/ecashgwd/mint"
	"github.com/decred/ecashgwd/poller"
	"github.com/decred/ecashgwd/reconcile"
	"github.com/decred/ecashgwd/validation"
	"github.com/google/uuid"
)

// Config wires the Coordinator's dependencies. A fresh mint.Handle is
// constructed per operation from MintCfg rather than shared (§4.1, §5: "Mint
// handles are per-operation; not shared across tasks").
type Config struct {
	Store      ledger.Store
	MintCfg    mint.Config
	Gate       *validation.Gate
	Reconciler *reconcile.Engine

	// Pollers registers a background poller for each mint quote Mint
	// creates (§4.6.1 step 4). May be nil, in which case completion must
	// be driven by explicit CompleteMint calls only.
	Pollers *poller.Registry

	// EventSink receives a post-commit monitoring event for every
	// completed operation (§4.6, §4.8). May be nil.
	EventSink func(Event)
}

// Coordinator implements the five public fund-moving operations.
type Coordinator struct {
	cfg Config
}

// New returns a Coordinator wired to cfg.
func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// Event is a post-commit observation handed to Config.EventSink, the
// input feed for Monitor & Recovery's counters (§4.8).
type Event struct {
	Op        string
	UserKey   string
	Succeeded bool
	Amount    uint64
	At        time.Time
}

func (c *Coordinator) emit(op, userKey string, succeeded bool, amount uint64) {
	if c.cfg.EventSink == nil {
		return
	}
	c.cfg.EventSink(Event{
		Op:        op,
		UserKey:   userKey,
		Succeeded: succeeded,
		Amount:    amount,
		At:        time.Now(),
	})
}

func (c *Coordinator) newHandle(ctx context.Context) (*mint.Handle, error) {
	return mint.NewHandle(ctx, c.cfg.MintCfg)
}

// MintResult is the output of Mint (§6.1).
type MintResult struct {
	QuoteID       string
	Invoice       string
	TransactionID string
	Expiry        int64
}

// Mint implements §4.6.1: request a Lightning invoice from the mint and
// register a pending entry plus a poller for it.
func (c *Coordinator) Mint(ctx context.Context, userKey, mintURL string, amount uint64) (*MintResult, error) {
	res := c.cfg.Gate.CheckMint(ctx, userKey, mintURL, amount)
	if !res.Admitted() {
		c.emit("mint", userKey, false, amount)
		return nil, res.Err
	}
	for _, w := range res.Warnings {
		log.Warnf("mint: %s: %s", w.Code, w.Message)
	}

	handle, err := c.newHandle(ctx)
	if err != nil {
		c.emit("mint", userKey, false, amount)
		return nil, err
	}
	defer handle.Close()

	quote, err := handle.Oracle().CreateMintQuote(ctx, amount)
	if err != nil {
		c.emit("mint", userKey, false, amount)
		return nil, err
	}

	wallet, err := c.cfg.Store.GetWallet(ctx, userKey, mintURL)
	if err != nil {
		c.emit("mint", userKey, false, amount)
		return nil, err
	}

	txID := uuid.NewString()
	entry := ecash.LedgerEntry{
		UserKey:       userKey,
		WalletID:      wallet.ID,
		MintURL:       mintURL,
		TransactionID: txID,
		Kind:          ecash.KindMinted,
		Metadata: map[string]interface{}{
			ecash.MetaSource: "mint",
			"quote_id":       quote.QuoteID,
			"mint_amount":    amount,
			"invoice":        quote.Invoice,
			"expiry":         quote.Expiry,
		},
	}
	if err := c.cfg.Store.InsertPending(ctx, &entry); err != nil {
		c.emit("mint", userKey, false, amount)
		return nil, err
	}

	if c.cfg.Pollers != nil {
		key := ecash.PollerKey{UserKey: userKey, QuoteID: quote.QuoteID, TransactionID: txID}
		if err := c.cfg.Pollers.Register(context.Background(), entry.ID, key, amount); err != nil {
			log.Warnf("mint: failed to register poller for %s: %v", txID, err)
		}
	}

	c.emit("mint", userKey, true, amount)

	return &MintResult{
		QuoteID:       quote.QuoteID,
		Invoice:       quote.Invoice,
		TransactionID: txID,
		Expiry:        quote.Expiry,
	}, nil
}

// CompleteMintResult is the output of CompleteMint (§6.1).
type CompleteMintResult struct {
	Proofs          []ecash.Proof
	TransactionID   string
	TotalAmount     uint64
	AlreadyCompleted bool
}

// CompleteMint implements §4.6.2. It may be invoked explicitly or from a
// poller tick; it is safe to call more than once for the same
// transactionID (idempotent completion, §5 race-condition handling).
func (c *Coordinator) CompleteMint(ctx context.Context, handle *mint.Handle, userKey, quoteID string, amount uint64, transactionID string) (*CompleteMintResult, error) {
	status, err := handle.Oracle().CheckMintQuote(ctx, quoteID)
	if err != nil {
		return nil, err
	}
	if status.State != mint.StatePaid {
		return nil, ecash.New(ecash.KindOraclePolicy, "", "mint quote is not paid", nil)
	}

	entries, err := c.cfg.Store.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	entry, err := findMintEntry(entries)
	if err != nil {
		return nil, err
	}

	if entry.Status == ecash.StatusUnspent {
		return &CompleteMintResult{
			Proofs:           entry.Proofs,
			TransactionID:    transactionID,
			TotalAmount:      entry.TotalAmount,
			AlreadyCompleted: true,
		}, nil
	}

	proofs, err := handle.Oracle().MintProofs(ctx, amount, quoteID)
	if err != nil {
		c.emit("completion", userKey, false, amount)
		return nil, err
	}

	actual := ecash.ProofsTotal(proofs)
	if actual != amount {
		log.Warnf("completion: mint returned %d sats, requested %d", actual, amount)
	}

	// Race-guard: the quote may have moved away from PAID between the
	// check above and the mint_proofs call just made.
	recheck, err := handle.Oracle().CheckMintQuote(ctx, quoteID)
	if err == nil && recheck.State != mint.StatePaid && recheck.State != mint.StatePending {
		_ = c.cfg.Store.MarkFailed(ctx, entry.ID, "mint quote state changed away from PAID during completion")
		c.emit("completion", userKey, false, amount)
		return nil, ecash.New(ecash.KindOraclePolicy, "",
			"mint quote state changed away from PAID during completion", nil)
	}

	err = c.cfg.Store.CommitTransition(ctx, entry.ID, ecash.StatusUnspent, proofs)
	if err != nil {
		c.emit("completion", userKey, false, amount)
		return nil, err
	}

	c.emit("completion", userKey, true, actual)

	return &CompleteMintResult{
		Proofs:        proofs,
		TransactionID: transactionID,
		TotalAmount:   actual,
	}, nil
}

func findMintEntry(entries []ecash.LedgerEntry) (*ecash.LedgerEntry, error) {
	for i := range entries {
		if entries[i].Kind == ecash.KindMinted {
			return &entries[i], nil
		}
	}
	return nil, ecash.New(ecash.KindState, "", "no mint entry found for transaction", nil)
}

// SendResult is the output of Send (§6.1).
type SendResult struct {
	EncodedToken  string
	TransactionID string
	ChangeAmount  uint64
}

// Send implements §4.6.3: select proofs, swap with the mint, and commit an
// atomic spent+sent+change unit.
func (c *Coordinator) Send(ctx context.Context, userKey, mintURL string, amount uint64, recipientPubKey string) (*SendResult, error) {
	wallet, res := c.cfg.Gate.CheckSpend(ctx, userKey, mintURL, amount)
	if !res.Admitted() {
		c.emit("send", userKey, false, amount)
		return nil, res.Err
	}

	unspent, err := c.cfg.Store.ListUnspentEntries(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	selected, _, _, err := SelectForSpend(unspent, amount)
	if err != nil {
		c.emit("send", userKey, false, amount)
		return nil, err
	}

	handle, err := c.newHandle(ctx)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	report, err := c.cfg.Reconciler.PreFlight(ctx, handle.Oracle(), selected)
	if err != nil {
		return nil, err
	}
	if report.Blocked {
		c.emit("send", userKey, false, amount)
		return nil, ecash.New(ecash.KindInconsistency, ecash.CodeProofStateInconsistency,
			"selected proofs are in an ambiguous state relative to the mint", nil)
	}

	swap, err := handle.Oracle().SendSwap(ctx, ProofsOf(selected), amount, mint.SwapOptions{
		RecipientPubKey: recipientPubKey,
	})
	if err != nil {
		c.emit("send", userKey, false, amount)
		return nil, err
	}

	txID := uuid.NewString()
	now := time.Now().UTC()
	var newEntries []ecash.LedgerEntry
	newEntries = append(newEntries, ecash.LedgerEntry{
		UserKey:       userKey,
		WalletID:      wallet.ID,
		MintURL:       mintURL,
		TransactionID: txID,
		Kind:          ecash.KindSent,
		Status:        ecash.StatusSpent,
		Proofs:        swap.Send,
		TotalAmount:   ecash.ProofsTotal(swap.Send),
		SpentAt:       &now,
		Metadata: map[string]interface{}{
			ecash.MetaSource: "send",
		},
	})
	if len(swap.Keep) > 0 {
		newEntries = append(newEntries, ecash.LedgerEntry{
			UserKey:       userKey,
			WalletID:      wallet.ID,
			MintURL:       mintURL,
			TransactionID: txID,
			Kind:          ecash.KindChange,
			Proofs:        swap.Keep,
			TotalAmount:   ecash.ProofsTotal(swap.Keep),
			Metadata: map[string]interface{}{
				ecash.MetaSource: "send",
			},
		})
	}

	if err := c.cfg.Store.CommitAtomicSwap(ctx, EntryIDs(selected), newEntries); err != nil {
		c.emit("send", userKey, false, amount)
		return nil, err
	}

	c.emit("send", userKey, true, amount)

	token := Token{MintURL: mintURL, Proofs: swap.Send, RecipientPubKey: recipientPubKey}

	return &SendResult{
		EncodedToken:  token.Encode(),
		TransactionID: txID,
		ChangeAmount:  ecash.ProofsTotal(swap.Keep),
	}, nil
}

// ReceiveResult is the output of Receive (§6.1).
type ReceiveResult struct {
	TransactionID string
	TotalAmount   uint64
}

// Receive implements §4.6.4: decode a token, redeem it with the mint, and
// store the resulting proofs as a received entry.
func (c *Coordinator) Receive(ctx context.Context, userKey, mintURL, encodedToken, p2pkPrivKey string) (*ReceiveResult, error) {
	token, err := DecodeToken(encodedToken)
	if err != nil {
		return nil, ecash.New(ecash.KindValidation, "", "malformed token", err)
	}

	wallet, res := c.cfg.Gate.CheckSpend(ctx, userKey, mintURL, ecash.ProofsTotal(token.Proofs))
	if !res.Admitted() {
		return nil, res.Err
	}

	handle, err := c.newHandle(ctx)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	proofs, err := handle.Oracle().ReceiveToken(ctx, encodedToken, p2pkPrivKey)
	if err != nil {
		c.emit("receive", userKey, false, 0)
		return nil, err
	}

	txID := uuid.NewString()
	entry := ecash.LedgerEntry{
		UserKey:       userKey,
		WalletID:      wallet.ID,
		MintURL:       mintURL,
		TransactionID: txID,
		Kind:          ecash.KindReceived,
		Metadata: map[string]interface{}{
			ecash.MetaSource: "receive",
		},
	}
	if err := c.cfg.Store.InsertPending(ctx, &entry); err != nil {
		return nil, err
	}
	total := ecash.ProofsTotal(proofs)
	if err := c.cfg.Store.CommitTransition(ctx, entry.ID, ecash.StatusUnspent, proofs); err != nil {
		c.emit("receive", userKey, false, total)
		return nil, err
	}

	c.emit("receive", userKey, true, total)

	return &ReceiveResult{TransactionID: txID, TotalAmount: total}, nil
}

// MeltResult is the output of Melt (§6.1).
type MeltResult struct {
	TransactionID string
	PaymentResult string
	PaidAmount    uint64
	FeesPaid      uint64
	ChangeAmount  uint64
}

// Melt implements §4.6.5, the most complex path: price the invoice, select
// and reconcile proofs, swap for melt-ready inputs, pay, and commit the
// atomic melt unit. A failure after mint_proofs/melt_proofs succeeds but
// before the ledger commit lands is CRITICAL (§4.6.5 step 8, §4.6.6).
func (c *Coordinator) Melt(ctx context.Context, userKey, mintURL, invoice string) (*MeltResult, error) {
	wallet, res := c.cfg.Gate.CheckSpend(ctx, userKey, mintURL, validation.MinAmount)
	if !res.Admitted() {
		return nil, res.Err
	}

	handle, err := c.newHandle(ctx)
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	quote, err := handle.Oracle().CreateMeltQuote(ctx, invoice)
	if err != nil {
		return nil, err
	}
	need := quote.Need()

	unspent, err := c.cfg.Store.ListUnspentEntries(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	selected, _, _, err := SelectForSpend(unspent, need)
	if err != nil {
		c.emit("melt", userKey, false, need)
		return nil, err
	}

	report, err := c.cfg.Reconciler.PreFlight(ctx, handle.Oracle(), selected)
	if err != nil {
		return nil, err
	}
	if report.Blocked {
		c.emit("melt", userKey, false, need)
		return nil, ecash.NewCritical(ecash.CodeProofStateInconsistency,
			"selected proofs are in an ambiguous state relative to the mint", nil)
	}

	swap, err := handle.Oracle().SendSwap(ctx, ProofsOf(selected), need, mint.SwapOptions{
		IncludeFees: true,
	})
	if err != nil {
		c.emit("melt", userKey, false, need)
		return nil, err
	}

	meltResult, err := handle.Oracle().MeltProofs(ctx, quote, swap.Send)
	if err != nil {
		c.emit("melt", userKey, false, need)
		return nil, err
	}

	txID := uuid.NewString()
	commonMeta := map[string]interface{}{
		ecash.MetaSource:  "melt",
		"quote_id":        quote.QuoteID,
		"payment_result":  meltResult.PaymentResult,
	}

	var newEntries []ecash.LedgerEntry
	if len(swap.Keep) > 0 {
		newEntries = append(newEntries, ecash.LedgerEntry{
			UserKey:       userKey,
			WalletID:      wallet.ID,
			MintURL:       mintURL,
			TransactionID: txID,
			Kind:          ecash.KindChange,
			Proofs:        swap.Keep,
			TotalAmount:   ecash.ProofsTotal(swap.Keep),
			Metadata:      commonMeta,
		})
	}
	if len(meltResult.Change) > 0 {
		newEntries = append(newEntries, ecash.LedgerEntry{
			UserKey:       userKey,
			WalletID:      wallet.ID,
			MintURL:       mintURL,
			TransactionID: txID,
			Kind:          ecash.KindMeltChange,
			Proofs:        meltResult.Change,
			TotalAmount:   ecash.ProofsTotal(meltResult.Change),
			Metadata:      commonMeta,
		})
	}

	if err := c.cfg.Store.CommitAtomicSwap(ctx, EntryIDs(selected), newEntries); err != nil {
		// The mint may already have paid the invoice: this is the
		// CRITICAL path of §4.6.5 step 8.
		critical := ecash.NewCritical(ecash.CodeCriticalDBFailureAfterMint,
			fmt.Sprintf("ledger commit failed after melt_proofs succeeded (quote=%s tx=%s result=%s)",
				quote.QuoteID, txID, meltResult.PaymentResult),
			err)
		c.emit("melt", userKey, false, need)
		return nil, critical
	}

	c.emit("melt", userKey, true, meltResult.PaidAmount)

	return &MeltResult{
		TransactionID: txID,
		PaymentResult: meltResult.PaymentResult,
		PaidAmount:    meltResult.PaidAmount,
		FeesPaid:      meltResult.FeesPaid,
		ChangeAmount:  ecash.ProofsTotal(swap.Keep) + ecash.ProofsTotal(meltResult.Change),
	}, nil
}
