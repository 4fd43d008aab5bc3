// Copyright (c) 2013-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Airbitz/libbitcoin-watcher/internal/cfgutil"
	"github.com/Airbitz/libbitcoin-watcher/netparams"
	"github.com/btcsuite/btcd/btcutil"
	flags "github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "txwatcherd.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "txwatcherd.log"
	defaultDBFilename     = "txstore.db"

	// defaultHeightPollPeriod mirrors the updater's own 30s policy. The
	// updater does not take it as a parameter; main.go's jitterTicker
	// uses it as the base period for its randomized wakeups.
	defaultHeightPollPeriod = 30 * time.Second

	// defaultPollInterval is applied to every address passed with
	// --watch that does not specify its own interval.
	defaultPollInterval = 30 * time.Second

	// minPollInterval is the host-enforced floor on any configured
	// per-address poll interval; the updater itself enforces no minimum.
	minPollInterval = 500 * time.Millisecond

	defaultUnconfirmedTimeout = 24 * time.Hour
)

var (
	txwatcherdHomeDir  = btcutil.AppDataDir("txwatcherd", false)
	defaultConfigFile  = filepath.Join(txwatcherdHomeDir, defaultConfigFilename)
	defaultDataDir     = txwatcherdHomeDir
	defaultLogDir      = filepath.Join(txwatcherdHomeDir, defaultLogDirname)
	defaultRPCCertFile = filepath.Join(txwatcherdHomeDir, "rpc.cert")
)

// config defines the set of configuration options for txwatcherd.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	DataDir     string `short:"b" long:"datadir" description:"Directory to store the serialized tx store blob"`
	LogDir      string `long:"logdir" description:"Directory to log output"`
	DebugLevel  string `short:"d" long:"debuglevel" description:"Logging level {trace, debug, info, warn, error, critical}"`

	TestNet3 bool `long:"testnet" description:"Use the test network"`
	SimNet   bool `long:"simnet" description:"Use the simulation test network"`
	RegTest  bool `long:"regtest" description:"Use the regression test network"`

	RPCConnect  string              `long:"rpcconnect" description:"Hostname/IP and port of btcd RPC server to connect to"`
	RPCUser     string              `long:"rpcuser" description:"Username for RPC connections"`
	RPCPass     string              `long:"rpcpass" default-mask:"-" description:"Password for RPC connections"`
	RPCCert     *cfgutil.ExplicitString `long:"rpccert" description:"File containing the certificate file"`
	DisableTLS  bool                `long:"notls" description:"Disable TLS for the RPC client"`

	UnconfirmedTimeout time.Duration `long:"unconfirmedtimeout" description:"Age at which an unconfirmed transaction is dropped from the store on save"`

	Watch []string `long:"watch" description:"Address to watch on startup, optionally as address=seconds (e.g. 1abc...=60); may be given multiple times"`

	activeNet *netparams.Params
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleaning the result of any path separator issues.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(txwatcherdHomeDir)
		path = filepath.Join(homeDir, path[1:])
	}
	return filepath.Clean(os.ExpandEnv(path))
}

// loadConfig reads flags from the command line and an optional config
// file, applying defaults for anything left unset, and validates the
// result. It mirrors the two-pass pattern used throughout the btcsuite
// daemons: a first pass to locate -C/--configfile and network selection
// flags, then a full parse that also consumes the resolved config file.
func loadConfig() (*config, []string, error) {
	cfg := config{
		ConfigFile:         defaultConfigFile,
		DataDir:            defaultDataDir,
		LogDir:             defaultLogDir,
		DebugLevel:         defaultLogLevel,
		RPCCert:            cfgutil.NewExplicitString(defaultRPCCertFile),
		UnconfirmedTimeout: defaultUnconfirmedTimeout,
	}

	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.Default)
	_, err := preParser.Parse()
	if err != nil {
		if ferr, ok := err.(*flags.Error); ok && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, nil, err
	}

	if preCfg.ShowVersion {
		fmt.Printf("%s\n", appName)
		os.Exit(0)
	}

	if preCfg.ConfigFile != defaultConfigFile {
		preCfg.ConfigFile = cleanAndExpandPath(preCfg.ConfigFile)
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if exists, _ := cfgutil.FileExists(preCfg.ConfigFile); exists {
		err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
		if err != nil {
			if _, ok := err.(*os.PathError); !ok {
				return nil, nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}
	}
	remainingArgs, err := parser.Parse()
	if err != nil {
		return nil, nil, err
	}

	numNets := 0
	cfg.activeNet = &netparams.MainNetParams
	if cfg.TestNet3 {
		numNets++
		cfg.activeNet = &netparams.TestNet3Params
	}
	if cfg.SimNet {
		numNets++
		cfg.activeNet = &netparams.SimNetParams
	}
	if cfg.RegTest {
		numNets++
		cfg.activeNet = &netparams.RegressionNetParams
	}
	if numNets > 1 {
		return nil, nil, fmt.Errorf("the testnet, simnet, and regtest params " +
			"can't be used together -- choose one")
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.RPCCert.Value = cleanAndExpandPath(cfg.RPCCert.Value)

	if cfg.RPCConnect == "" {
		cfg.RPCConnect = net.JoinHostPort("localhost", cfg.activeNet.RPCClientPort)
	} else {
		cfg.RPCConnect, err = cfgutil.NormalizeAddress(cfg.RPCConnect, cfg.activeNet.RPCClientPort)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid rpcconnect network address: %w", err)
		}
	}

	return &cfg, remainingArgs, nil
}

// dbPath returns the full path to the serialized tx store blob for the
// active network.
func (cfg *config) dbPath() string {
	return filepath.Join(cfg.DataDir, cfg.activeNet.Name, defaultDBFilename)
}
