// Package config parses the coordinator's configuration surface (§6.4).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "ecashgwd.conf"
	defaultLogFilename    = "ecashgwd.log"
	defaultLogDirname     = "logs"
	defaultMaxLogRolls    = 3

	// DefaultMintSocketTimeout is the §6.4 socket_timeout default.
	DefaultMintSocketTimeout = 30 * time.Second

	// DefaultMintMaxSockets is the §6.4 max_sockets default.
	DefaultMintMaxSockets = 10

	// DefaultPendingOpCap is the §5 per-wallet in-flight operation cap.
	DefaultPendingOpCap = 1

	// DefaultPollInterval is the §6.4 poll_interval default, matching
	// poller.TickInterval.
	DefaultPollInterval = 10 * time.Second

	// DefaultPollTimeout is the §6.4 poll_budget default, matching
	// poller.Budget.
	DefaultPollTimeout = 3 * time.Minute
)

var (
	defaultHomeDir    = filepath.Join(os.Getenv("HOME"), ".ecashgwd")
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)
)

// Config is the coordinator daemon's full configuration surface, parsed from
// the command line and, optionally, an ini-style config file (§6.4).
type Config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `long:"configfile" description:"Path to configuration file"`

	HomeDir string `long:"homedir" description:"The base directory that contains the coordinator's data, logs, etc."`
	LogDir  string `long:"logdir" description:"Directory to log output"`
	DebugLevel string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical}"`
	MaxLogRolls int `long:"maxlogrolls" description:"The number of rotated log files to retain"`

	Mint MintConfig `group:"Mint" namespace:"mint"`

	Ledger LedgerConfig `group:"Ledger" namespace:"ledger"`

	Poller PollerConfig `group:"Poller" namespace:"poller"`

	Facade FacadeConfig `group:"Facade" namespace:"facade"`
}

// MintConfig configures the Mint Transport (§4.1, §6.4).
type MintConfig struct {
	URL           string        `long:"url" description:"Base URL of the mint this coordinator talks to" required:"true"`
	SocketTimeout time.Duration `long:"sockettimeout" description:"Per-socket read/write timeout"`
	MaxSockets    int           `long:"maxsockets" description:"Maximum concurrent sockets opened to the mint"`
	KeepAlive     bool          `long:"keepalive" description:"Enable TCP keep-alive probes on mint connections"`
}

// LedgerConfig configures the Ledger Store's backing MongoDB cluster (§6.3).
type LedgerConfig struct {
	URI      string `long:"uri" description:"MongoDB connection URI" required:"true"`
	Database string `long:"database" description:"Database name holding the wallets and ledger_entries collections"`
}

// PollerConfig configures the Poller Registry (§4.7).
type PollerConfig struct {
	Interval   time.Duration `long:"interval" description:"Interval between poll attempts for a pending quote"`
	Timeout    time.Duration `long:"timeout" description:"Maximum time a quote may remain pending before the poller gives up"`
	MaxWorkers int           `long:"maxworkers" description:"Maximum number of concurrent pollers"`
}

// FacadeConfig configures the External Facade's operation surface (§6.1).
type FacadeConfig struct {
	MaxConcurrentOps int `long:"maxconcurrentops" description:"Maximum number of operations admitted per second across all wallets (also the burst size)"`
}

// DefaultConfig returns a Config populated with the §6.4 defaults, ready to
// be overridden by a config file and then by command line flags.
func DefaultConfig() Config {
	return Config{
		ConfigFile:  defaultConfigFile,
		HomeDir:     defaultHomeDir,
		LogDir:      defaultLogDir,
		DebugLevel:  "info",
		MaxLogRolls: defaultMaxLogRolls,
		Mint: MintConfig{
			SocketTimeout: DefaultMintSocketTimeout,
			MaxSockets:    DefaultMintMaxSockets,
			KeepAlive:     true,
		},
		Ledger: LedgerConfig{
			Database: "ecashgw",
		},
		Poller: PollerConfig{
			Interval:   DefaultPollInterval,
			Timeout:    DefaultPollTimeout,
			MaxWorkers: 32,
		},
		Facade: FacadeConfig{
			MaxConcurrentOps: 256,
		},
	}
}

// LoadConfig parses command line arguments into a Config seeded with
// DefaultConfig, first reading a config file if one exists, mirroring the
// two-pass pattern of pre-parsing for -configfile then parsing the combined
// flag set.
func LoadConfig() (*Config, error) {
	preCfg := DefaultConfig()
	preParser := flags.NewParser(&preCfg, flags.Default)
	if _, err := preParser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, err
	}

	if preCfg.ShowVersion {
		fmt.Println("ecashgwd")
		os.Exit(0)
	}

	cfg := DefaultConfig()
	if _, err := os.Stat(preCfg.ConfigFile); err == nil {
		if err := flags.IniParse(preCfg.ConfigFile, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w",
				preCfg.ConfigFile, err)
		}
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Mint.URL == "" {
		return fmt.Errorf("config: mint.url is required")
	}
	if c.Ledger.URI == "" {
		return fmt.Errorf("config: ledger.uri is required")
	}
	if c.Poller.MaxWorkers <= 0 {
		return fmt.Errorf("config: poller.maxworkers must be positive")
	}
	if c.Facade.MaxConcurrentOps <= 0 {
		return fmt.Errorf("config: facade.maxconcurrentops must be positive")
	}
	return nil
}
