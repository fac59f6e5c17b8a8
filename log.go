package ecashgwd

import (
	"github.com/decred/ecashgwd/build"
	"github.com/decred/ecashgwd/coordinator"
	"github.com/decred/ecashgwd/facade"
	"github.com/decred/ecashgwd/ledger"
	"github.com/decred/ecashgwd/mint"
	"github.com/decred/ecashgwd/monitor"
	"github.com/decred/ecashgwd/poller"
	"github.com/decred/ecashgwd/reconcile"
	"github.com/decred/ecashgwd/validation"
	"github.com/decred/slog"
)

// replaceableLogger is a thin wrapper around a logger that is used so the
// logger can be replaced easily without some black pointer magic.
type replaceableLogger struct {
	slog.Logger
	subsystem string
}

// Loggers cannot be used before the log rotator has been initialized with a
// log file. This must be performed early during application startup by
// calling InitLogRotator() on the main log writer instance in the config.
var (
	// gwPkgLoggers tracks every package-level logger registered here so
	// they can be replaced once SetupLoggers is called with the final
	// root logger.
	gwPkgLoggers []*replaceableLogger

	addGwPkgLogger = func(subsystem string) *replaceableLogger {
		l := &replaceableLogger{
			Logger:    build.NewSubLogger(subsystem, nil),
			subsystem: subsystem,
		}
		gwPkgLoggers = append(gwPkgLoggers, l)
		return l
	}

	// gwdLog is used by the daemon entrypoint itself.
	gwdLog = addGwPkgLogger("ECGW")
)

// Log returns the daemon-level logger used by the ecashgwd command.
func Log() slog.Logger {
	return gwdLog
}

// SetupLoggers initializes all package-global logger variables, wiring each
// subsystem's sub logger into the provided root writer.
func SetupLoggers(root *build.RotatingLogWriter) {
	for _, l := range gwPkgLoggers {
		l.Logger = build.NewSubLogger(l.subsystem, root)
		SetSubLogger(root, l.subsystem, l.Logger)
	}

	AddSubLogger(root, "MINT", mint.UseLogger)
	AddSubLogger(root, "LDGR", ledger.UseLogger)
	AddSubLogger(root, "VALD", validation.UseLogger)
	AddSubLogger(root, "RECN", reconcile.UseLogger)
	AddSubLogger(root, "COOR", coordinator.UseLogger)
	AddSubLogger(root, "POLL", poller.UseLogger)
	AddSubLogger(root, "MNTR", monitor.UseLogger)
	AddSubLogger(root, "FCAD", facade.UseLogger)
}

// AddSubLogger is a helper method to conveniently create and register the
// logger of one or more sub systems.
func AddSubLogger(root *build.RotatingLogWriter, subsystem string,
	useLoggers ...func(slog.Logger)) {

	logger := build.NewSubLogger(subsystem, root)
	SetSubLogger(root, subsystem, logger, useLoggers...)
}

// SetSubLogger is a helper method to conveniently register the logger of a
// sub system.
func SetSubLogger(root *build.RotatingLogWriter, subsystem string,
	logger slog.Logger, useLoggers ...func(slog.Logger)) {

	root.RegisterSubLogger(subsystem, logger)
	for _, useLogger := range useLoggers {
		useLogger(logger)
	}
}

// logClosure is used to provide a closure over expensive logging operations
// so they don't have to be performed when the logging level doesn't warrant
// it.
type logClosure func() string

// String invokes the underlying function and returns the result.
func (c logClosure) String() string {
	return c()
}

// newLogClosure returns a new closure over a function that returns a string
// which itself provides a Stringer interface so that it can be used with the
// logging system.
func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}
