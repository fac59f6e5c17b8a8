package ledger

import "github.com/decred/slog"

var log = slog.Disabled

// UseLogger sets the package-wide logger used by the ledger package.
func UseLogger(logger slog.Logger) {
	log = logger
}
