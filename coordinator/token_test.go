package coordinator

import (
	"testing"

	"github.com/decred/ecashgwd/ecash"
)

func TestTokenRoundTrip(t *testing.T) {
	tok := Token{
		MintURL:         "https://mint.example.com",
		Proofs:          []ecash.Proof{{Amount: 40, Secret: "s1", KeysetID: "k1"}},
		RecipientPubKey: "02abcd",
	}

	encoded := tok.Encode()
	decoded, err := DecodeToken(encoded)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}

	if decoded.MintURL != tok.MintURL || decoded.RecipientPubKey != tok.RecipientPubKey {
		t.Errorf("decoded = %+v, want %+v", decoded, tok)
	}
	if len(decoded.Proofs) != 1 || decoded.Proofs[0].Secret != "s1" {
		t.Errorf("decoded proofs = %+v", decoded.Proofs)
	}
}

func TestDecodeTokenRejectsUnknownPrefix(t *testing.T) {
	_, err := DecodeToken("notatoken")
	if err == nil {
		t.Fatal("expected error for unrecognized prefix")
	}
}

func TestDecodeTokenRejectsBadBase64(t *testing.T) {
	_, err := DecodeToken("ecashgwA!!!not-base64!!!")
	if err == nil {
		t.Fatal("expected error for invalid base64 payload")
	}
}
