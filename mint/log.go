package mint

import "github.com/decred/slog"

// log is the package-level logger for the mint transport and oracle client.
// It is disabled until UseLogger is called by the daemon's SetupLoggers.
var log = slog.Disabled

// UseLogger installs a new logger for the mint package.
func UseLogger(logger slog.Logger) {
	log = logger
}
