package coordinator

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/decred/ecashgwd/ecash"
)

// Token is the wire-level bundle a Send operation hands to its
// counterparty, and a Receive operation decodes (§4.6.3 step 5, §4.6.4
// step 1).
type Token struct {
	MintURL         string        `json:"mint_url"`
	Proofs          []ecash.Proof `json:"proofs"`
	RecipientPubKey string        `json:"recipient_pubkey,omitempty"`
}

// Encode serializes t into the opaque string exchanged between wallets.
func (t Token) Encode() string {
	raw, _ := json.Marshal(t)
	return "ecashgwA" + base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeToken parses an encoded token produced by Token.Encode.
func DecodeToken(encoded string) (*Token, error) {
	if len(encoded) < 8 || encoded[:8] != "ecashgwA" {
		return nil, fmt.Errorf("coordinator: unrecognized token prefix")
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded[8:])
	if err != nil {
		return nil, fmt.Errorf("coordinator: decoding token: %w", err)
	}
	var t Token
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("coordinator: unmarshaling token: %w", err)
	}
	return &t, nil
}
