// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btclog"
	"github.com/btcsuite/hwcommander/coin"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "hwcommanderd.conf"
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "hwcommanderd.log"
	defaultSeedFilename   = "seed.hex"
	defaultDBFilename     = "registry.db"
	defaultLogLevel       = "info"
	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
	defaultConfirmTimeout = time.Minute
	defaultDBTimeout      = 10 * time.Second
)

var (
	defaultHomeDir    = btcutil.AppDataDir("hwcommanderd", false)
	defaultConfigFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	defaultDataDir    = filepath.Join(defaultHomeDir, defaultDataDirname)
	defaultLogDir     = filepath.Join(defaultHomeDir, defaultLogDirname)

	// errInvalidConfig is returned for option values that cannot be used.
	errInvalidConfig = errors.New("invalid config")
)

// config defines the configuration options for hwcommanderd.
type config struct {
	ConfigFile     string        `long:"configfile" description:"Path to configuration file"`
	DataDir        string        `short:"b" long:"datadir" description:"Directory to store the script config registry and seed"`
	LogDir         string        `long:"logdir" description:"Directory to log output"`
	DebugLevel     string        `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	MaxLogFiles    int           `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int           `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	SeedFile       string        `long:"seedfile" description:"Hex encoded BIP-32 seed; created if missing. Defaults to datadir/seed.hex"`
	Coins          []string      `long:"coin" description:"Enable a coin (btc, tbtc, ltc, tltc); may be repeated. All coins are enabled if unset"`
	ConfirmTimeout time.Duration `long:"confirmtimeout" description:"Time the user has to answer a confirmation before it counts as rejected"`
	AutoConfirm    bool          `long:"autoconfirm" description:"Approve every confirmation without asking. For testing only"`
	DBTimeout      time.Duration `long:"dbtimeout" description:"Timeout to obtain the database lock"`

	policy *coin.Policy
}

// defaultConfig returns the config with all defaults applied.
func defaultConfig() config {
	return config{
		ConfigFile:     defaultConfigFile,
		DataDir:        defaultDataDir,
		LogDir:         defaultLogDir,
		DebugLevel:     defaultLogLevel,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		ConfirmTimeout: defaultConfirmTimeout,
		DBTimeout:      defaultDBTimeout,
	}
}

// loadConfig initializes and parses the config using a config file and
// command line options. Command line options take precedence over the
// config file.
func loadConfig(args []string) (*config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := defaultConfig()
	if _, err := flags.ParseArgs(&preCfg, args); err != nil {
		return nil, err
	}

	cfg := preCfg
	configFile := cleanAndExpandPath(preCfg.ConfigFile)

	var configFileError error
	if err := flags.IniParse(configFile, &cfg); err != nil {
		// A missing config file is fine, a broken one is not.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Parse the command line again so it wins over the file.
	if _, err := flags.ParseArgs(&cfg, args); err != nil {
		return nil, err
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	if configFileError != nil && configFile != defaultConfigFile {
		hwcdLog.Warnf("%v", configFileError)
	}

	return &cfg, nil
}

// validateConfig normalizes paths and checks option values.
func validateConfig(cfg *config) error {
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.SeedFile = cleanAndExpandPath(cfg.SeedFile)
	if cfg.SeedFile == "" {
		cfg.SeedFile = filepath.Join(cfg.DataDir, defaultSeedFilename)
	}

	if cfg.MaxLogFiles < 0 {
		return fmt.Errorf("%w: maxlogfiles must not be negative",
			errInvalidConfig)
	}
	if cfg.MaxLogFileSize <= 0 {
		return fmt.Errorf("%w: maxlogfilesize must be positive",
			errInvalidConfig)
	}
	if cfg.ConfirmTimeout < 0 {
		return fmt.Errorf("%w: confirmtimeout must not be negative",
			errInvalidConfig)
	}
	if cfg.DBTimeout <= 0 {
		return fmt.Errorf("%w: dbtimeout must be positive",
			errInvalidConfig)
	}

	if err := validateLogLevels(cfg.DebugLevel); err != nil {
		return err
	}

	policy, err := parsePolicy(cfg.Coins)
	if err != nil {
		return err
	}
	cfg.policy = policy

	return nil
}

// parsePolicy turns the --coin allow-list into a policy. An empty list
// enables every coin.
func parsePolicy(tickers []string) (*coin.Policy, error) {
	if len(tickers) == 0 {
		return coin.DefaultPolicy(), nil
	}

	coins := make([]coin.Coin, 0, len(tickers))
	for _, ticker := range tickers {
		c, err := coin.Parse(ticker)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errInvalidConfig, err)
		}
		coins = append(coins, c)
	}

	return coin.NewPolicy(coins...), nil
}

// validateLogLevels checks a --debuglevel value without applying it.
func validateLogLevels(debugLevel string) error {
	// A single level applies to every subsystem.
	if !strings.Contains(debugLevel, "=") {
		if _, ok := btclog.LevelFromString(debugLevel); !ok {
			return fmt.Errorf("%w: unknown log level %q",
				errInvalidConfig, debugLevel)
		}

		return nil
	}

	for _, pair := range strings.Split(debugLevel, ",") {
		fields := strings.Split(pair, "=")
		if len(fields) != 2 {
			return fmt.Errorf("%w: malformed debuglevel pair %q",
				errInvalidConfig, pair)
		}

		subsysID, level := fields[0], fields[1]
		if _, ok := subsystemLoggers[subsysID]; !ok {
			return fmt.Errorf("%w: unknown subsystem %q, supported "+
				"subsystems: %v", errInvalidConfig, subsysID,
				supportedSubsystems())
		}

		if _, ok := btclog.LevelFromString(level); !ok {
			return fmt.Errorf("%w: unknown log level %q",
				errInvalidConfig, level)
		}
	}

	return nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	return filepath.Clean(os.ExpandEnv(path))
}
