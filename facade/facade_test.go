package facade

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/decred/ecashgwd/coordinator"
	"github.com/decred/ecashgwd/ecash"
	"github.com/decred/ecashgwd/ledger"
	"github.com/decred/ecashgwd/mint"
	"github.com/decred/ecashgwd/monitor"
	"github.com/decred/ecashgwd/reconcile"
	"github.com/decred/ecashgwd/validation"
	"github.com/prometheus/client_golang/prometheus"
)

func newTestFacade(t *testing.T, mintURL string) (*Facade, ledger.Store) {
	t.Helper()
	store := ledger.NewMemStore()
	gate := validation.New(store)
	reconciler := reconcile.New(store)
	mon := monitor.New(store, prometheus.NewRegistry())
	mintCfg := mint.DefaultConfig(mintURL)

	coord := coordinator.New(coordinator.Config{
		Store:      store,
		MintCfg:    mintCfg,
		Gate:       gate,
		Reconciler: reconciler,
		EventSink:  mon.Observe,
	})

	return New(Config{
		Store:       store,
		Coordinator: coord,
		Monitor:     mon,
		Reconciler:  reconciler,
		MintCfg:     mintCfg,
	}), store
}

func newInfoOnlyMintServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(mint.Info{Keysets: []string{"ks1"}})
	})
	return httptest.NewServer(mux)
}

func TestFacadeCreateWalletAndGetBalance(t *testing.T) {
	srv := newInfoOnlyMintServer()
	defer srv.Close()

	f, _ := newTestFacade(t, srv.URL)
	ctx := context.Background()

	created, err := f.CreateWallet(ctx, "user-0000001", srv.URL)
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	if created.P2PKPubKey == "" {
		t.Error("expected a non-empty pubkey")
	}

	balance, err := f.GetBalance(ctx, "user-0000001", srv.URL)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance.Total != 0 {
		t.Errorf("Total = %d, want 0 for a freshly created wallet", balance.Total)
	}
}

func TestFacadeCreateWalletRejectsDuplicate(t *testing.T) {
	srv := newInfoOnlyMintServer()
	defer srv.Close()

	f, _ := newTestFacade(t, srv.URL)
	ctx := context.Background()

	if _, err := f.CreateWallet(ctx, "user-0000001", srv.URL); err != nil {
		t.Fatalf("first CreateWallet: %v", err)
	}
	if _, err := f.CreateWallet(ctx, "user-0000001", srv.URL); err == nil {
		t.Error("expected second CreateWallet for the same (user, mint) pair to fail")
	}
}

func TestFacadeGetHistoryFiltersInvalidEntries(t *testing.T) {
	srv := newInfoOnlyMintServer()
	defer srv.Close()

	f, store := newTestFacade(t, srv.URL)
	ctx := context.Background()

	if _, err := f.CreateWallet(ctx, "user-0000001", srv.URL); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	wallet, err := store.GetWallet(ctx, "user-0000001", srv.URL)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}

	valid := &ecash.LedgerEntry{
		UserKey:  "user-0000001",
		WalletID: wallet.ID,
		Kind:     ecash.KindMinted,
		Metadata: map[string]interface{}{ecash.MetaSource: "mint"},
	}
	if err := store.InsertPending(ctx, valid); err != nil {
		t.Fatalf("InsertPending(valid): %v", err)
	}

	// Missing metadata.source: structurally valid per Valid(), but must be
	// filtered out of history for lacking the mandatory source tag.
	missingSource := &ecash.LedgerEntry{
		UserKey:  "user-0000001",
		WalletID: wallet.ID,
		Kind:     ecash.KindMinted,
	}
	if err := store.InsertPending(ctx, missingSource); err != nil {
		t.Fatalf("InsertPending(missingSource): %v", err)
	}

	result, err := f.GetHistory(ctx, "user-0000001", srv.URL, HistoryFilter{})
	if err != nil {
		t.Fatalf("GetHistory: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Errorf("expected 1 surfaced entry, got %d", len(result.Entries))
	}
	if result.InvalidFiltered != 1 {
		t.Errorf("InvalidFiltered = %d, want 1", result.InvalidFiltered)
	}
}

func TestFacadeGetHistoryPaginates(t *testing.T) {
	srv := newInfoOnlyMintServer()
	defer srv.Close()

	f, store := newTestFacade(t, srv.URL)
	ctx := context.Background()

	if _, err := f.CreateWallet(ctx, "user-0000001", srv.URL); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	wallet, err := store.GetWallet(ctx, "user-0000001", srv.URL)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}

	for i := 0; i < 5; i++ {
		entry := &ecash.LedgerEntry{
			UserKey:  "user-0000001",
			WalletID: wallet.ID,
			Kind:     ecash.KindMinted,
			Metadata: map[string]interface{}{ecash.MetaSource: "mint"},
		}
		if err := store.InsertPending(ctx, entry); err != nil {
			t.Fatalf("InsertPending(%d): %v", i, err)
		}
	}

	page1, err := f.GetHistory(ctx, "user-0000001", srv.URL, HistoryFilter{Limit: 2, Skip: 0})
	if err != nil {
		t.Fatalf("GetHistory page1: %v", err)
	}
	if len(page1.Entries) != 2 {
		t.Errorf("page1 entries = %d, want 2", len(page1.Entries))
	}
	if page1.Total != 5 {
		t.Errorf("page1 total = %d, want 5", page1.Total)
	}
	if !page1.HasMore {
		t.Error("expected page1 to report HasMore=true")
	}

	page3, err := f.GetHistory(ctx, "user-0000001", srv.URL, HistoryFilter{Limit: 2, Skip: 4})
	if err != nil {
		t.Fatalf("GetHistory page3: %v", err)
	}
	if len(page3.Entries) != 1 {
		t.Errorf("page3 entries = %d, want 1 (the tail of 5 entries 2 at a time)", len(page3.Entries))
	}
	if page3.HasMore {
		t.Error("expected the final page to report HasMore=false")
	}

	unbounded, err := f.GetHistory(ctx, "user-0000001", srv.URL, HistoryFilter{Limit: 9999})
	if err != nil {
		t.Fatalf("GetHistory unbounded: %v", err)
	}
	if len(unbounded.Entries) != MaxHistoryLimit && len(unbounded.Entries) != 5 {
		t.Errorf("expected Limit to clamp to at most %d, got %d entries", MaxHistoryLimit, len(unbounded.Entries))
	}
}

func TestFacadeCheckPendingReceiptsCompletesPaidQuote(t *testing.T) {
	ctx := context.Background()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(mint.Info{Keysets: []string{"ks1"}})
	})
	mux.HandleFunc("/v1/mint/quote/bolt11/q1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(mint.MintQuoteStatus{QuoteID: "q1", State: mint.StatePaid})
	})
	mintCalls := 0
	mux.HandleFunc("/v1/mint/bolt11", func(w http.ResponseWriter, r *http.Request) {
		mintCalls++
		json.NewEncoder(w).Encode(struct {
			Proofs []ecash.Proof `json:"signatures"`
		}{Proofs: []ecash.Proof{{Amount: 100, Secret: "c1"}}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f, store := newTestFacade(t, srv.URL)

	if _, err := f.CreateWallet(ctx, "user-0000001", srv.URL); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	wallet, err := store.GetWallet(ctx, "user-0000001", srv.URL)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}

	entry := &ecash.LedgerEntry{
		UserKey:       "user-0000001",
		WalletID:      wallet.ID,
		TransactionID: "tx1",
		Kind:          ecash.KindMinted,
		Metadata: map[string]interface{}{
			ecash.MetaSource: "mint",
			"quote_id":       "q1",
			"mint_amount":    uint64(100),
		},
	}
	if err := store.InsertPending(ctx, entry); err != nil {
		t.Fatalf("InsertPending: %v", err)
	}

	result, err := f.CheckPendingReceipts(ctx, "user-0000001", srv.URL)
	if err != nil {
		t.Fatalf("CheckPendingReceipts: %v", err)
	}
	if result.Checked != 1 {
		t.Errorf("Checked = %d, want 1", result.Checked)
	}
	if result.Completed != 1 {
		t.Errorf("Completed = %d, want 1", result.Completed)
	}
	if len(result.Receipts) != 1 || !result.Receipts[0].Completed {
		t.Errorf("Receipts = %+v, want one completed receipt", result.Receipts)
	}
	if mintCalls != 1 {
		t.Errorf("mintCalls = %d, want 1", mintCalls)
	}

	got, err := store.GetEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Status != ecash.StatusUnspent {
		t.Errorf("status = %s, want unspent", got.Status)
	}
}

func TestFacadeCheckPendingReceiptsSkipsUnpaidQuote(t *testing.T) {
	ctx := context.Background()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(mint.Info{Keysets: []string{"ks1"}})
	})
	mux.HandleFunc("/v1/mint/quote/bolt11/q1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(mint.MintQuoteStatus{QuoteID: "q1", State: mint.StateUnpaid})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f, store := newTestFacade(t, srv.URL)

	if _, err := f.CreateWallet(ctx, "user-0000001", srv.URL); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	wallet, err := store.GetWallet(ctx, "user-0000001", srv.URL)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}

	entry := &ecash.LedgerEntry{
		UserKey:       "user-0000001",
		WalletID:      wallet.ID,
		TransactionID: "tx1",
		Kind:          ecash.KindMinted,
		Metadata: map[string]interface{}{
			ecash.MetaSource: "mint",
			"quote_id":       "q1",
			"mint_amount":    uint64(100),
		},
	}
	if err := store.InsertPending(ctx, entry); err != nil {
		t.Fatalf("InsertPending: %v", err)
	}

	result, err := f.CheckPendingReceipts(ctx, "user-0000001", srv.URL)
	if err != nil {
		t.Fatalf("CheckPendingReceipts: %v", err)
	}
	if result.Checked != 1 {
		t.Errorf("Checked = %d, want 1", result.Checked)
	}
	if result.Completed != 0 {
		t.Errorf("Completed = %d, want 0 for an unpaid quote", result.Completed)
	}

	got, err := store.GetEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Status != ecash.StatusPending {
		t.Errorf("status = %s, want still pending", got.Status)
	}
}

func TestFacadeCleanup(t *testing.T) {
	srv := newInfoOnlyMintServer()
	defer srv.Close()

	f, store := newTestFacade(t, srv.URL)
	ctx := context.Background()

	if _, err := f.CreateWallet(ctx, "user-0000001", srv.URL); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
	wallet, err := store.GetWallet(ctx, "user-0000001", srv.URL)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	entry := &ecash.LedgerEntry{
		UserKey:  "user-0000001",
		WalletID: wallet.ID,
		Metadata: map[string]interface{}{ecash.MetaSource: "mint"},
	}
	if err := store.InsertPending(ctx, entry); err != nil {
		t.Fatalf("InsertPending: %v", err)
	}

	count, err := f.Cleanup(ctx, "user-0000001", srv.URL, 0, false)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}

	got, err := store.GetEntry(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Status != ecash.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestFacadeHealth(t *testing.T) {
	srv := newInfoOnlyMintServer()
	defer srv.Close()
	f, _ := newTestFacade(t, srv.URL)

	health := f.Health(context.Background())
	if !health.MintReachable {
		t.Errorf("expected mint to be reachable, got err %v", health.Err)
	}
	if health.Status != HealthHealthy {
		t.Errorf("Status = %s, want healthy", health.Status)
	}
	if health.Counters == nil {
		t.Error("expected Counters to be populated from the Monitor")
	}
}

func TestFacadeHealthUnreachable(t *testing.T) {
	f, _ := newTestFacade(t, "http://127.0.0.1:1")

	health := f.Health(context.Background())
	if health.MintReachable {
		t.Error("expected an unreachable mint to report MintReachable=false")
	}
	if health.Err == nil {
		t.Error("expected a non-nil error for an unreachable mint")
	}
	if health.Status != HealthCritical {
		t.Errorf("Status = %s, want critical", health.Status)
	}
}

func TestFacadeAdmissionLimiter(t *testing.T) {
	srv := newInfoOnlyMintServer()
	defer srv.Close()

	store := ledger.NewMemStore()
	f := New(Config{
		Store:            store,
		Coordinator:      coordinator.New(coordinator.Config{Store: store}),
		Monitor:          monitor.New(store, prometheus.NewRegistry()),
		Reconciler:       reconcile.New(store),
		MintCfg:          mint.DefaultConfig(srv.URL),
		MaxConcurrentOps: 1,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Burst of 1 is consumed immediately; a second concurrent admission
	// within the same instant must wait for the bucket to refill and
	// therefore time out against the short context above.
	if _, err := f.CreateWallet(context.Background(), "user-0000001", srv.URL); err != nil {
		t.Fatalf("first CreateWallet: %v", err)
	}
	if _, err := f.CreateWallet(ctx, "user-0000002", srv.URL); err == nil {
		t.Error("expected the second admission to be rate-limited and time out")
	}
}
