// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2015-2016 The Decred developers
// Copyright (C) 2015-2020 The Lightning Network Developers

package electrumgw

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/electrumgw/electrumgw/build"
	"github.com/electrumgw/electrumgw/chainparams"
	"github.com/electrumgw/electrumgw/gwcfg"
	"github.com/electrumgw/electrumgw/signal"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "electrumgw.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "electrumgw.log"
)

var (
	// DefaultGatewayDir is the default directory where the gateway tries
	// to find its configuration file and write its logs. This is a
	// directory in the user's application data, for example:
	//   C:\Users\<username>\AppData\Local\Electrumgw on Windows
	//   ~/.electrumgw on Linux
	//   ~/Library/Application Support/Electrumgw on MacOS
	DefaultGatewayDir = btcutil.AppDataDir("electrumgw", false)

	// DefaultConfigFile is the default full path of the gateway's
	// configuration file.
	DefaultConfigFile = filepath.Join(
		DefaultGatewayDir, defaultConfigFilename,
	)

	defaultLogDir = filepath.Join(DefaultGatewayDir, defaultLogDirname)
)

// Config defines the configuration options for the gateway.
//
// See LoadConfig for further details regarding the configuration
// loading+parsing process.
//
//nolint:ll
type Config struct {
	ShowVersion bool `short:"V" long:"version" description:"Display version information and exit"`

	GatewayDir string `long:"gatewaydir" description:"The base directory that contains the gateway's logs and configuration file."`
	ConfigFile string `short:"C" long:"configfile" description:"Path to configuration file"`
	LogDir     string `long:"logdir" description:"Directory to log output."`

	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <global-level>,<subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	Chain   string `long:"chain" description:"The coin served by the gateway." choice:"garlicoin" choice:"litecoin" choice:"bitcoin"`
	Network string `long:"network" description:"The network of the served coin." choice:"mainnet" choice:"testnet" choice:"regtest" choice:"simnet"`

	Electrum *gwcfg.Electrum `group:"electrum" namespace:"electrum"`

	Pool *gwcfg.Pool `group:"pool" namespace:"pool"`

	REST *gwcfg.REST `group:"rest" namespace:"rest"`

	Prometheus gwcfg.Prometheus `group:"prometheus" namespace:"prometheus"`

	LogConfig *build.LogConfig `group:"logging" namespace:"logging"`

	// LogRotator is the rotating writer of the log file. It is created
	// by DefaultConfig and initialized by ValidateConfig.
	LogRotator *build.RotatingLogWriter

	// SubLogMgr is the manager of all subsystem loggers.
	SubLogMgr *build.SubLoggerManager

	// ActiveNetParams are the parameters of the selected chain and
	// network.
	ActiveNetParams *chaincfg.Params
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		GatewayDir: DefaultGatewayDir,
		ConfigFile: DefaultConfigFile,
		LogDir:     defaultLogDir,
		DebugLevel: defaultLogLevel,
		Chain:      string(chainparams.Garlicoin),
		Network:    string(chainparams.MainNet),
		Electrum:   gwcfg.DefaultElectrumConfig(),
		Pool:       gwcfg.DefaultPoolConfig(),
		REST:       gwcfg.DefaultRESTConfig(),
		Prometheus: gwcfg.DefaultPrometheus(),
		LogConfig:  build.DefaultLogConfig(),
		LogRotator: build.NewRotatingLogWriter(),
	}
}

// LoadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
func LoadConfig(interceptor signal.Interceptor) (*Config, error) {
	// Pre-parse the command line options to pick up an alternative config
	// file.
	preCfg := DefaultConfig()
	if _, err := flags.Parse(&preCfg); err != nil {
		return nil, err
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", build.Version(),
			"commit="+build.Commit)
		os.Exit(0)
	}

	// If the config file path has not been modified by the user, then
	// we'll use the default config file path. However, if the user has
	// modified their gateway dir, then we should assume they intend to use
	// the config file within it.
	configFileDir := CleanAndExpandPath(preCfg.GatewayDir)
	configFilePath := CleanAndExpandPath(preCfg.ConfigFile)
	if configFileDir != DefaultGatewayDir {
		if configFilePath == DefaultConfigFile {
			configFilePath = filepath.Join(
				configFileDir, defaultConfigFilename,
			)
		}
	}

	// Next, load any additional configuration options from the file.
	var configFileError error
	cfg := preCfg
	if err := flags.IniParse(configFilePath, &cfg); err != nil {
		// If it's a parsing related error, then we'll return
		// immediately, otherwise we can proceed as possibly the config
		// file doesn't exist which is OK.
		var iniErr *flags.IniError
		if errors.As(err, &iniErr) {
			return nil, err
		}

		configFileError = err
	}

	// Finally, parse the remaining command line options again to ensure
	// they take precedence.
	if _, err := flags.Parse(&cfg); err != nil {
		return nil, err
	}

	// Make sure everything we just loaded makes sense.
	cleanCfg, err := ValidateConfig(cfg, usageMessage, interceptor)
	if err != nil {
		return nil, err
	}

	// Warn about missing config file only after all other configuration is
	// done. This prevents the warning on help messages and invalid
	// options. Note this should go directly before the return.
	if configFileError != nil {
		gwLog.Warnf("%v", configFileError)
	}

	return cleanCfg, nil
}

// ValidateConfig check the given configuration to be sane. This makes sure no
// illegal values or combination of values are set. All file system paths are
// normalized. The cleaned up config is returned on success.
func ValidateConfig(cfg Config, usageMessage string,
	interceptor signal.Interceptor) (*Config, error) {

	// If the provided gateway directory is not the default, we'll modify
	// the path to all of the files and directories that will live within
	// it.
	gatewayDir := CleanAndExpandPath(cfg.GatewayDir)
	if gatewayDir != DefaultGatewayDir {
		cfg.LogDir = filepath.Join(gatewayDir, defaultLogDirname)
	}

	// As soon as we're done parsing configuration options, ensure all
	// paths to directories and files are cleaned and expanded before
	// attempting to use them later on.
	cfg.LogDir = CleanAndExpandPath(cfg.LogDir)
	cfg.Electrum.TLSCertPath = CleanAndExpandPath(cfg.Electrum.TLSCertPath)

	// Multiple networks can't be selected simultaneously, and the
	// chain must know the network.
	params, err := chainparams.Lookup(cfg.Chain, cfg.Network)
	if err != nil {
		str := "%s: %v"
		err := fmt.Errorf(str, "loadConfig", err)
		_, _ = fmt.Fprintln(os.Stderr, err)
		_, _ = fmt.Fprintln(os.Stderr, usageMessage)
		return nil, err
	}
	cfg.ActiveNetParams = params

	validators := []interface{ Validate() error }{
		cfg.Electrum, cfg.Pool, cfg.REST, cfg.LogConfig,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, usageMessage)
			return nil, err
		}
	}

	// Initialize logging at the default logging level. The log file
	// lives in a per chain and network directory.
	logDir := filepath.Join(
		cfg.LogDir, strings.ToLower(cfg.Chain),
		strings.ToLower(cfg.Network),
	)
	if !cfg.LogConfig.File.Disable {
		err := cfg.LogRotator.InitLogRotator(
			cfg.LogConfig.File,
			filepath.Join(logDir, defaultLogFilename),
		)
		if err != nil {
			str := "log rotation setup failed: %v"
			return nil, fmt.Errorf(str, err)
		}
	}

	cfg.SubLogMgr = build.NewSubLoggerManager(
		build.NewDefaultLogHandlers(cfg.LogConfig, cfg.LogRotator)...,
	)
	SetupLoggers(cfg.SubLogMgr, interceptor)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems",
			cfg.SubLogMgr.SupportedSubsystems())
		os.Exit(0)
	}

	// Parse, validate, and set debug log level(s).
	err = build.ParseAndSetDebugLevels(cfg.DebugLevel, cfg.SubLogMgr)
	if err != nil {
		str := "error parsing debug level: %v"
		err := fmt.Errorf(str, err)
		_, _ = fmt.Fprintln(os.Stderr, err)
		_, _ = fmt.Fprintln(os.Stderr, usageMessage)
		return nil, err
	}

	return &cfg, nil
}

// CleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func CleanAndExpandPath(path string) string {
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

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
