// Package ecash defines the data model shared by every layer of the
// coordinator: wallets, ledger entries, proofs, and the metadata attached to
// mint/melt flows.
package ecash

import (
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// Unit is the accounting unit a wallet's proofs are denominated in. Only
// "sat" is supported; the spec treats multi-unit wallets as out of scope.
const Unit = "sat"

// EntryKind distinguishes the five ways a ledger entry can arise.
type EntryKind string

const (
	KindMinted     EntryKind = "minted"
	KindReceived   EntryKind = "received"
	KindSent       EntryKind = "sent"
	KindChange     EntryKind = "change"
	KindMeltChange EntryKind = "melt_change"
)

// EntryStatus is the lifecycle state of a ledger entry.
type EntryStatus string

const (
	StatusPending EntryStatus = "pending"
	StatusUnspent EntryStatus = "unspent"
	StatusSpent   EntryStatus = "spent"
	StatusFailed  EntryStatus = "failed"
)

// allowedTransitions enumerates every legal EntryStatus transition (§3.3.5).
// Anything not present here must be rejected by the ledger store.
var allowedTransitions = map[EntryStatus]map[EntryStatus]bool{
	StatusPending: {StatusUnspent: true, StatusFailed: true},
	StatusUnspent: {StatusSpent: true},
}

// TransitionAllowed reports whether moving a ledger entry from `from` to
// `to` is one of the transitions permitted by §3.3.5.
func TransitionAllowed(from, to EntryStatus) bool {
	if from == to {
		return false
	}
	targets, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Proof is a single ecash unit issued by the mint.
type Proof struct {
	Amount      uint64 `bson:"amount" json:"amount"`
	Secret      string `bson:"secret" json:"secret"`
	BlindedSig  string `bson:"blinded_commitment" json:"blinded_commitment"`
	KeysetID    string `bson:"keyset_id" json:"keyset_id"`
}

// ProofsTotal sums the amount of every proof in the slice.
func ProofsTotal(proofs []Proof) uint64 {
	var total uint64
	for _, p := range proofs {
		total += p.Amount
	}
	return total
}

// Wallet is a per-(user, mint) custodial identity. Its private key never
// leaves the ledger store; only the public half is returned to callers.
type Wallet struct {
	ID         string `bson:"_id" json:"id"`
	UserKey    string `bson:"user_key" json:"user_key"`
	MintURL    string `bson:"mint_url" json:"mint_url"`
	Unit       string `bson:"unit" json:"unit"`
	PubKeyHex  string `bson:"pubkey" json:"pubkey"`
	PrivKeyEnc []byte `bson:"privkey_enc" json:"-"`
	Origin     string `bson:"origin" json:"origin"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
}

// NewWalletKeypair generates the P2PK keypair for a new wallet. The private
// key is returned in addition to its encrypted-at-rest form so the caller
// can decide how to persist it; this package does not perform the
// encryption itself (it is a property of the ledger store's at-rest
// encoding, per §3.1).
func NewWalletKeypair() (priv *secp256k1.PrivateKey, pubHex string, err error) {
	priv, err = secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, "", err
	}
	pub := priv.PubKey()
	return priv, hexEncode(pub.SerializeCompressed()), nil
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0x0f]
	}
	return string(out)
}

// LedgerEntry is the only durable record of proof ownership on the client
// side (§3.2).
type LedgerEntry struct {
	ID            string                 `bson:"_id" json:"id"`
	UserKey       string                 `bson:"user_key" json:"user_key"`
	WalletID      string                 `bson:"wallet_id" json:"wallet_id"`
	MintURL       string                 `bson:"mint_url" json:"mint_url"`
	TransactionID string                 `bson:"transaction_id" json:"transaction_id"`
	Kind          EntryKind              `bson:"kind" json:"kind"`
	Status        EntryStatus            `bson:"status" json:"status"`
	Proofs        []Proof                `bson:"proofs" json:"proofs"`
	TotalAmount   uint64                 `bson:"total_amount" json:"total_amount"`
	SpentAt       *time.Time             `bson:"spent_at,omitempty" json:"spent_at,omitempty"`
	Metadata      map[string]interface{} `bson:"metadata" json:"metadata"`
	CreatedAt     time.Time              `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time              `bson:"updated_at" json:"updated_at"`
}

// MetaSource is the mandatory metadata tag every entry must carry. Entries
// missing it are filtered out by the facade's GetHistory and counted there;
// the ledger stores' write paths (InsertPending, CommitAtomicSwap) do not
// check it and accept such entries.
const MetaSource = "source"

// HasSource reports whether the entry's metadata carries a non-empty
// `source` tag.
func (e *LedgerEntry) HasSource() bool {
	if e.Metadata == nil {
		return false
	}
	src, ok := e.Metadata[MetaSource]
	if !ok {
		return false
	}
	s, ok := src.(string)
	return ok && s != ""
}

// Valid reports whether the entry satisfies the structural invariants of
// §3.3: pending purity, non-negative total, and total/proof-sum agreement
// for unspent/spent entries.
func (e *LedgerEntry) Valid() bool {
	switch e.Status {
	case StatusPending, StatusFailed:
		if len(e.Proofs) != 0 || e.TotalAmount != 0 {
			return false
		}
	case StatusUnspent, StatusSpent:
		if e.TotalAmount != ProofsTotal(e.Proofs) {
			return false
		}
	default:
		return false
	}
	return true
}

// Balance is the aggregate view returned by GetBalance (§4.3, §6.1).
type Balance struct {
	Total   uint64 `json:"total"`
	Unspent uint64 `json:"unspent"`
	Pending uint64 `json:"pending"`
	Spent   uint64 `json:"spent"`
}

// PollerKey identifies a single active poller (§3.4).
type PollerKey struct {
	UserKey       string
	QuoteID       string
	TransactionID string
}
