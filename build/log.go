// Package build provides the logging plumbing shared by every subsystem of
// the coordinator: a rotating log file, and a factory for per-subsystem
// slog.Logger instances that can be swapped in before the root logger has
// been initialized.
package build

import (
	"io"
	"os"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// LogWriter is an io.Writer that writes to both standard output and a
// rotating log file, if one has been configured via InitLogRotator.
type LogWriter struct {
	Rotator *rotator.Rotator
}

// Write writes the provided byte slice to both stdout and the registered
// rotator, if any.
func (w *LogWriter) Write(b []byte) (int, error) {
	os.Stdout.Write(b)
	if w.Rotator != nil {
		w.Rotator.Write(b)
	}
	return len(b), nil
}

// RotatingLogWriter is the root of the logging backend. It owns the
// io.Writer every subsystem's slog.Backend writes through, and keeps a
// registry of the sub-loggers it has handed out so their level can be
// changed in bulk.
type RotatingLogWriter struct {
	logWriter *LogWriter
	backend   *slog.Backend

	subsystems map[string]slog.Logger
}

// NewRotatingLogWriter instantiates a new log writer that is prepared to
// also write to a rotating log file. InitLogRotator must be called later to
// actually start the log rotator.
func NewRotatingLogWriter() *RotatingLogWriter {
	writer := &LogWriter{}
	return &RotatingLogWriter{
		logWriter:  writer,
		backend:    slog.NewBackend(writer),
		subsystems: make(map[string]slog.Logger),
	}
}

// InitLogRotator initializes the log rotator to write logs to logFile and
// create roll files in the same directory. It must be called before the
// RotatingLogWriter is passed to any subsystem.
func (r *RotatingLogWriter) InitLogRotator(logFile string, maxRolls int) error {
	rot, err := rotator.New(logFile, 10*1024, false, maxRolls)
	if err != nil {
		return err
	}
	r.logWriter.Rotator = rot
	return nil
}

// GenSubLogger creates a new sub logger for a particular subsystem,
// implementing the SubLogCreator interface used by NewSubLogger.
func (r *RotatingLogWriter) GenSubLogger(tag string) slog.Logger {
	logger := r.backend.Logger(tag)
	r.subsystems[tag] = logger
	return logger
}

// RegisterSubLogger registers the given logger under the given subsystem
// name, so it can be found later via SetLogLevel.
func (r *RotatingLogWriter) RegisterSubLogger(subsystem string, logger slog.Logger) {
	r.subsystems[subsystem] = logger
}

// SetLogLevel sets the logging level for the provided subsystem. A fully
// valid slog.Level string is expected, e.g. "trace", "debug", "info",
// "warn", "error", "critical", "off".
func (r *RotatingLogWriter) SetLogLevel(subsystem string, levelStr string) {
	logger, ok := r.subsystems[subsystem]
	if !ok {
		return
	}
	level, ok := slog.LevelFromString(levelStr)
	if !ok {
		return
	}
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for all registered subsystems.
func (r *RotatingLogWriter) SetLogLevels(levelStr string) {
	for subsystem := range r.subsystems {
		r.SetLogLevel(subsystem, levelStr)
	}
}

// Close flushes and closes the underlying log rotator, if one is active.
func (r *RotatingLogWriter) Close() error {
	if r.logWriter.Rotator != nil {
		return r.logWriter.Rotator.Close()
	}
	return nil
}

// SubLogCreator describes the behavior required from a root logger in order
// to mint package-scoped sub loggers. RotatingLogWriter implements it.
type SubLogCreator interface {
	GenSubLogger(tag string) slog.Logger
}

// NewSubLogger creates a new sub logger tagged with the given subsystem
// name. If root is nil (logging has not been wired up yet), a disabled
// logger is returned instead so that package-level `log` variables never
// observe a nil interface.
func NewSubLogger(subsystem string, root SubLogCreator) slog.Logger {
	if root == nil {
		return slog.Disabled
	}
	return root.GenSubLogger(subsystem)
}

// discardWriter is an io.Writer that drops everything written to it.
// NewTestLogger does not use it; it writes to io.Discard directly.
type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// NewTestLogger returns a logger backed by io.Discard, useful for unit tests
// that want the logging call sites exercised without polluting test output.
func NewTestLogger(subsystem string) slog.Logger {
	backend := slog.NewBackend(io.Discard)
	return backend.Logger(subsystem)
}

var _ io.Writer = discardWriter{}
