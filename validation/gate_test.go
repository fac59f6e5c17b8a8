package validation

import (
	"context"
	"strings"
	"testing"

	"github.com/decred/ecashgwd/ecash"
	"github.com/decred/ecashgwd/ledger"
)

const testMintURL = "https://mint.example.com"

func TestCheckStructural(t *testing.T) {
	cases := []struct {
		name    string
		userKey string
		amount  uint64
		wantErr bool
	}{
		{"valid", "user-0000001", 100, false},
		{"too short user key", "short", 100, true},
		{"blank user key", "   ", 100, true},
		{"amount too small", "user-0000001", 0, true},
		{"amount too large", "user-0000001", MaxAmount + 1, true},
		{"amount at max boundary", "user-0000001", MaxAmount, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := CheckStructural(c.userKey, c.amount)
			if (err != nil) != c.wantErr {
				t.Errorf("CheckStructural(%q, %d) error = %v, wantErr %v", c.userKey, c.amount, err, c.wantErr)
			}
		})
	}
}

func mustWallet(t *testing.T, store ledger.Store, userKey string) *ecash.Wallet {
	t.Helper()
	w := &ecash.Wallet{UserKey: userKey, MintURL: testMintURL}
	if err := store.CreateWallet(context.Background(), w); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	return w
}

func TestCheckMintUnknownWallet(t *testing.T) {
	g := New(ledger.NewMemStore())
	res := g.CheckMint(context.Background(), "user-0000001", testMintURL, 100)
	if res.Admitted() {
		t.Fatal("expected rejection for unknown wallet")
	}
	ecashErr, ok := res.Err.(*ecash.Error)
	if !ok || ecashErr.Code != ecash.CodeWalletNotFound {
		t.Errorf("expected CodeWalletNotFound, got %v", res.Err)
	}
}

func TestCheckMintPendingCap(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemStore()
	g := New(store)
	wallet := mustWallet(t, store, "user-0000001")

	// Fill the pending cap with MaxPendingPerUser mint entries.
	for i := 0; i < MaxPendingPerUser; i++ {
		entry := &ecash.LedgerEntry{
			UserKey:  "user-0000001",
			WalletID: wallet.ID,
			Kind:     ecash.KindMinted,
			Metadata: map[string]interface{}{ecash.MetaSource: "mint"},
		}
		if err := store.InsertPending(ctx, entry); err != nil {
			t.Fatalf("InsertPending: %v", err)
		}
	}

	res := g.CheckMint(ctx, "user-0000001", testMintURL, 100)
	if res.Admitted() {
		t.Fatal("expected pending cap rejection")
	}
	ecashErr, ok := res.Err.(*ecash.Error)
	if !ok || ecashErr.Code != ecash.CodePendingCapExceeded {
		t.Errorf("expected CodePendingCapExceeded, got %v", res.Err)
	}
}

func TestCheckMintWarnings(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemStore()
	g := New(store)
	mustWallet(t, store, "user-0000001")

	res := g.CheckMint(ctx, "user-0000001", testMintURL, WarnAmountThreshold+1)
	if !res.Admitted() {
		t.Fatalf("expected admission with warnings, got error %v", res.Err)
	}
	var foundLargeAmount bool
	for _, w := range res.Warnings {
		if w.Code == "LARGE_AMOUNT" {
			foundLargeAmount = true
		}
	}
	if !foundLargeAmount {
		t.Errorf("expected LARGE_AMOUNT warning, got %+v", res.Warnings)
	}
}

func TestCheckSpendUnknownWallet(t *testing.T) {
	g := New(ledger.NewMemStore())
	_, res := g.CheckSpend(context.Background(), "user-0000001", testMintURL, 100)
	if res.Admitted() {
		t.Fatal("expected rejection for unknown wallet")
	}
}

func TestCheckSpendAdmitsKnownWallet(t *testing.T) {
	store := ledger.NewMemStore()
	g := New(store)
	mustWallet(t, store, "user-0000001")

	wallet, res := g.CheckSpend(context.Background(), "user-0000001", testMintURL, 100)
	if !res.Admitted() {
		t.Fatalf("expected admission, got %v", res.Err)
	}
	if wallet == nil || wallet.UserKey != "user-0000001" {
		t.Errorf("unexpected wallet: %+v", wallet)
	}
}

func TestValidUserKeyTrimsWhitespace(t *testing.T) {
	if !validUserKey("  user-0000001  ") {
		t.Error("expected whitespace-padded key of sufficient length to be valid")
	}
	if validUserKey(strings.Repeat("x", 129)) {
		t.Error("expected over-length key to be rejected")
	}
}
