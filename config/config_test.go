package config

import "testing"

func TestDefaultConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Mint.SocketTimeout != DefaultMintSocketTimeout {
		t.Errorf("Mint.SocketTimeout = %v, want %v", cfg.Mint.SocketTimeout, DefaultMintSocketTimeout)
	}
	if cfg.Mint.MaxSockets != DefaultMintMaxSockets {
		t.Errorf("Mint.MaxSockets = %d, want %d", cfg.Mint.MaxSockets, DefaultMintMaxSockets)
	}
	if !cfg.Mint.KeepAlive {
		t.Error("expected Mint.KeepAlive to default true")
	}
	if cfg.Poller.Interval != DefaultPollInterval {
		t.Errorf("Poller.Interval = %v, want %v", cfg.Poller.Interval, DefaultPollInterval)
	}
	if cfg.Poller.Timeout != DefaultPollTimeout {
		t.Errorf("Poller.Timeout = %v, want %v", cfg.Poller.Timeout, DefaultPollTimeout)
	}
	if cfg.Facade.MaxConcurrentOps != 256 {
		t.Errorf("Facade.MaxConcurrentOps = %d, want 256", cfg.Facade.MaxConcurrentOps)
	}

	// DefaultConfig alone is not a valid config: mint.url and ledger.uri
	// must still come from the command line or a config file.
	if err := cfg.validate(); err == nil {
		t.Error("expected DefaultConfig() alone to fail validation (no mint.url/ledger.uri)")
	}
}

func TestValidateRequiresMintURL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ledger.URI = "mongodb://localhost:27017"

	if err := cfg.validate(); err == nil {
		t.Error("expected validation to fail without mint.url")
	}
}

func TestValidateRequiresLedgerURI(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mint.URL = "https://mint.example.com"

	if err := cfg.validate(); err == nil {
		t.Error("expected validation to fail without ledger.uri")
	}
}

func TestValidateRejectsNonPositivePollerWorkers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mint.URL = "https://mint.example.com"
	cfg.Ledger.URI = "mongodb://localhost:27017"
	cfg.Poller.MaxWorkers = 0

	if err := cfg.validate(); err == nil {
		t.Error("expected validation to fail for poller.maxworkers <= 0")
	}
}

func TestValidateRejectsNonPositiveFacadeCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mint.URL = "https://mint.example.com"
	cfg.Ledger.URI = "mongodb://localhost:27017"
	cfg.Facade.MaxConcurrentOps = -1

	if err := cfg.validate(); err == nil {
		t.Error("expected validation to fail for facade.maxconcurrentops <= 0")
	}
}

func TestValidateAcceptsFullyPopulatedConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mint.URL = "https://mint.example.com"
	cfg.Ledger.URI = "mongodb://localhost:27017"

	if err := cfg.validate(); err != nil {
		t.Errorf("expected a fully populated config to validate, got %v", err)
	}
}
