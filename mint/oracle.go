package mint

import (
	"context"
	"fmt"
	"sync"

	"github.com/decred/ecashgwd/ecash"
)

// OracleClient exposes the typed operations of §4.2 against a single
// request-scoped Handle. It holds no state of its own beyond the keyset
// cache loaded at construction.
type OracleClient struct {
	handle *Handle

	mu      sync.Mutex
	keysets []string
}

// GetInfo returns the mint's published metadata. Idempotent, read-only.
func (o *OracleClient) GetInfo(ctx context.Context) (*Info, error) {
	var info Info
	err := withReadRetry(ctx, func(ctx context.Context) error {
		return o.handle.doJSON(ctx, "GET", "/v1/info", nil, &info)
	})
	if err != nil {
		return nil, fmt.Errorf("mint: get_info: %w", err)
	}

	o.mu.Lock()
	o.keysets = info.Keysets
	o.mu.Unlock()

	return &info, nil
}

// keysetsLoaded reports whether the keysets required for melt operations
// have been loaded, per §4.2 ("melt operations require keysets loaded").
func (o *OracleClient) keysetsLoaded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.keysets) > 0
}

type createMintQuoteReq struct {
	Amount uint64 `json:"amount"`
	Unit   string `json:"unit"`
}

// CreateMintQuote asks the mint for a Lightning invoice covering amount.
func (o *OracleClient) CreateMintQuote(ctx context.Context, amount uint64) (*MintQuote, error) {
	var quote MintQuote
	err := withReadRetry(ctx, func(ctx context.Context) error {
		return o.handle.doJSON(ctx, "POST", "/v1/mint/quote/bolt11",
			createMintQuoteReq{Amount: amount, Unit: ecash.Unit}, &quote)
	})
	if err != nil {
		return nil, fmt.Errorf("mint: create_mint_quote: %w", err)
	}
	quote.Amount = amount
	return &quote, nil
}

// CheckMintQuote polls the mint for a mint quote's current payment state.
// Read-only, retried on transport failure.
func (o *OracleClient) CheckMintQuote(ctx context.Context, quoteID string) (*MintQuoteStatus, error) {
	var status MintQuoteStatus
	err := withReadRetry(ctx, func(ctx context.Context) error {
		return o.handle.doJSON(ctx, "GET",
			"/v1/mint/quote/bolt11/"+quoteID, nil, &status)
	})
	if err != nil {
		return nil, fmt.Errorf("mint: check_mint_quote: %w", err)
	}
	status.QuoteID = quoteID
	return &status, nil
}

type mintProofsReq struct {
	Amount  uint64 `json:"amount"`
	QuoteID string `json:"quote"`
}

type mintProofsResp struct {
	Proofs []ecash.Proof `json:"signatures"`
}

// MintProofs redeems a paid mint quote for proofs. This is a committing
// call: per §4.6.6 it must never be retried automatically, since a retry
// after a transport error of unknown outcome risks double redemption.
func (o *OracleClient) MintProofs(ctx context.Context, amount uint64, quoteID string) ([]ecash.Proof, error) {
	var resp mintProofsResp
	err := o.handle.doJSON(ctx, "POST", "/v1/mint/bolt11",
		mintProofsReq{Amount: amount, QuoteID: quoteID}, &resp)
	if err != nil {
		return nil, fmt.Errorf("mint: mint_proofs: %w", err)
	}
	return resp.Proofs, nil
}

type createMeltQuoteReq struct {
	Invoice string `json:"request"`
	Unit    string `json:"unit"`
}

// CreateMeltQuote prices out paying invoice with ecash.
func (o *OracleClient) CreateMeltQuote(ctx context.Context, invoice string) (*MeltQuote, error) {
	var quote MeltQuote
	err := withReadRetry(ctx, func(ctx context.Context) error {
		return o.handle.doJSON(ctx, "POST", "/v1/melt/quote/bolt11",
			createMeltQuoteReq{Invoice: invoice, Unit: ecash.Unit}, &quote)
	})
	if err != nil {
		return nil, fmt.Errorf("mint: create_melt_quote: %w", err)
	}
	return &quote, nil
}

// SwapOptions configures the optional parameters to SendSwap.
type SwapOptions struct {
	RecipientPubKey string
	IncludeFees     bool
}

type sendSwapReq struct {
	Inputs          []ecash.Proof `json:"inputs"`
	Amount          uint64        `json:"amount"`
	RecipientPubKey string        `json:"pubkey,omitempty"`
	IncludeFees     bool          `json:"include_fees,omitempty"`
}

// SendSwap trades proofsIn in for a {send, keep} split summing to the
// total amount of proofsIn, with send covering amount (§4.2 "swap").
func (o *OracleClient) SendSwap(ctx context.Context, proofsIn []ecash.Proof, amount uint64, opts SwapOptions) (*SwapResult, error) {
	var result SwapResult
	err := o.handle.doJSON(ctx, "POST", "/v1/swap", sendSwapReq{
		Inputs:          proofsIn,
		Amount:          amount,
		RecipientPubKey: opts.RecipientPubKey,
		IncludeFees:     opts.IncludeFees,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("mint: send_swap: %w", err)
	}
	return &result, nil
}

type meltProofsReq struct {
	Quote  string        `json:"quote"`
	Inputs []ecash.Proof `json:"inputs"`
}

// MeltProofs pays a melt quote's invoice using proofsIn. A committing call:
// once this returns successfully the mint may have settled payment, so a
// failure downstream (the ledger commit) becomes a CRITICAL error, never a
// silent retry (§4.6.5 step 8, §7).
func (o *OracleClient) MeltProofs(ctx context.Context, quote *MeltQuote, proofsIn []ecash.Proof) (*MeltResult, error) {
	if !o.keysetsLoaded() {
		return nil, fmt.Errorf("mint: melt_proofs requires keysets to be loaded")
	}
	var result MeltResult
	err := o.handle.doJSON(ctx, "POST", "/v1/melt/bolt11",
		meltProofsReq{Quote: quote.QuoteID, Inputs: proofsIn}, &result)
	if err != nil {
		return nil, fmt.Errorf("mint: melt_proofs: %w", err)
	}
	return &result, nil
}

type checkStateReq struct {
	Secrets []string `json:"Ys"`
}

type checkStateResp struct {
	States []ProofStateResult `json:"states"`
}

// CheckProofStates asks the mint for its authoritative view of each
// proof's spend status. Read-only, the foundation of pre-flight
// reconciliation (§4.5).
func (o *OracleClient) CheckProofStates(ctx context.Context, proofs []ecash.Proof) ([]ProofStateResult, error) {
	secrets := make([]string, len(proofs))
	for i, p := range proofs {
		secrets[i] = p.Secret
	}

	var resp checkStateResp
	err := withReadRetry(ctx, func(ctx context.Context) error {
		return o.handle.doJSON(ctx, "POST", "/v1/checkstate",
			checkStateReq{Secrets: secrets}, &resp)
	})
	if err != nil {
		return nil, fmt.Errorf("mint: check_proof_states: %w", err)
	}
	return resp.States, nil
}

type receiveReq struct {
	Token      string `json:"token"`
	PrivateKey string `json:"privkey,omitempty"`
}

type receiveResp struct {
	Proofs []ecash.Proof `json:"proofs"`
}

// ReceiveToken redeems an encoded token for fresh proofs, internally a swap
// with the mint (§4.6.4 step 2).
func (o *OracleClient) ReceiveToken(ctx context.Context, encodedToken, privKeyHex string) ([]ecash.Proof, error) {
	var resp receiveResp
	err := o.handle.doJSON(ctx, "POST", "/v1/receive",
		receiveReq{Token: encodedToken, PrivateKey: privKeyHex}, &resp)
	if err != nil {
		return nil, fmt.Errorf("mint: receive: %w", err)
	}
	return resp.Proofs, nil
}
