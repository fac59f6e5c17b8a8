package mint

import "github.com/decred/ecashgwd/ecash"

// QuoteState is the mint's view of a mint or melt quote (§4.2).
type QuoteState string

const (
	StateUnpaid  QuoteState = "UNPAID"
	StatePaid    QuoteState = "PAID"
	StateExpired QuoteState = "EXPIRED"
	StatePending QuoteState = "PENDING"
)

// ProofState is the mint's view of a single proof's spend status (§4.2,
// §4.5).
type ProofState string

const (
	ProofUnspent ProofState = "UNSPENT"
	ProofSpent   ProofState = "SPENT"
	ProofPending ProofState = "PENDING"
)

// Info is the result of GetInfo.
type Info struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	PubKey      string   `json:"pubkey"`
	Keysets     []string `json:"keysets"`
}

// MintQuote is the result of CreateMintQuote.
type MintQuote struct {
	QuoteID string `json:"quote_id"`
	Invoice string `json:"invoice"`
	Expiry  int64  `json:"expiry"`
	Amount  uint64 `json:"amount"`
}

// MintQuoteStatus is the result of CheckMintQuote.
type MintQuoteStatus struct {
	QuoteID string     `json:"quote_id"`
	State   QuoteState `json:"state"`
}

// MeltQuote is the result of CreateMeltQuote.
type MeltQuote struct {
	QuoteID    string `json:"quote_id"`
	Amount     uint64 `json:"amount"`
	FeeReserve uint64 `json:"fee_reserve"`
	Expiry     int64  `json:"expiry"`
}

// Need returns the total amount of proofs a melt must select (amount +
// fee_reserve), as used by coordinator step §4.6.5.3.
func (q MeltQuote) Need() uint64 {
	return q.Amount + q.FeeReserve
}

// SwapResult is the result of SendSwap: a split between proofs destined for
// the counterparty ("send") and proofs that stay with the wallet
// ("keep", i.e. change).
type SwapResult struct {
	Send []ecash.Proof `json:"send"`
	Keep []ecash.Proof `json:"keep"`
}

// MeltResult is the result of MeltProofs.
type MeltResult struct {
	State         QuoteState    `json:"state"`
	Change        []ecash.Proof `json:"change"`
	PaymentResult string        `json:"payment_result"`
	PaidAmount    uint64        `json:"paid_amount"`
	FeesPaid      uint64        `json:"fees_paid"`
}

// ProofStateResult pairs a proof secret with the mint's view of its state.
type ProofStateResult struct {
	Secret string     `json:"secret"`
	State  ProofState `json:"state"`
}
