// Copyright (c) 2013-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Command txwatcherd is a reference host for the tx store and updater: it
// connects to a btcd RPC server, loads a serialized tx store from disk if
// one exists, watches the addresses named on the command line, and drives
// the updater's scheduler until interrupted, saving the store back to disk
// on exit.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Airbitz/libbitcoin-watcher/rpcchain"
	"github.com/Airbitz/libbitcoin-watcher/txstore"
	"github.com/Airbitz/libbitcoin-watcher/updater"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/rpcclient"
)

const appName = "txwatcherd"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, watchArgs, err := loadConfig()
	if err != nil {
		return err
	}

	if err := initLogRotator(cfg.LogDir); err != nil {
		return err
	}
	defer logRotator.Close()
	setLogLevels(cfg.DebugLevel)

	store := txstore.New(cfg.activeNet.Params, cfg.UnconfirmedTimeout)
	if err := loadStore(store, cfg.dbPath()); err != nil {
		log.Warnf("could not load existing tx store, starting empty: %v", err)
	}

	certs, err := readRPCCert(cfg)
	if err != nil {
		return err
	}
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         cfg.RPCConnect,
		User:         cfg.RPCUser,
		Pass:         cfg.RPCPass,
		Certificates: certs,
		DisableTLS:   cfg.DisableTLS,
		HTTPPostMode: true,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %v: %w", cfg.RPCConnect, err)
	}
	defer client.Shutdown()

	codec := rpcchain.New(client, cfg.activeNet.Params)
	defer codec.Stop()

	u := updater.New(store, codec, logSink{})

	watches, err := parseWatchArgs(cfg, watchArgs)
	if err != nil {
		return err
	}
	for _, w := range watches {
		u.Watch(w.addr, w.interval)
	}

	u.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	jt := newJitterTicker(defaultHeightPollPeriod, jitterScaler)
	defer jt.Stop()

	delay := u.Wakeup()
	for {
		select {
		case <-time.After(delay):
			delay = u.Wakeup()
		case <-jt.C:
			log.Debugf("jittered wakeup")
			delay = u.Wakeup()
		case <-sigCh:
			log.Infof("shutting down")
			return saveStore(store, cfg.dbPath())
		}
	}
}

type watchSpec struct {
	addr     btcutil.Address
	interval time.Duration
}

// parseWatchArgs builds watchSpecs from cfg.Watch entries and any bare
// addresses passed as positional command-line arguments, applying
// defaultPollInterval and the minPollInterval floor.
func parseWatchArgs(cfg *config, positional []string) ([]watchSpec, error) {
	raw := append(append([]string{}, cfg.Watch...), positional...)

	specs := make([]watchSpec, 0, len(raw))
	for _, entry := range raw {
		addrStr, interval := entry, defaultPollInterval
		if idx := strings.IndexByte(entry, '='); idx >= 0 {
			addrStr = entry[:idx]
			seconds, err := strconv.ParseFloat(entry[idx+1:], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid watch interval in %q: %w", entry, err)
			}
			interval = time.Duration(seconds * float64(time.Second))
		}
		if interval < minPollInterval {
			interval = minPollInterval
		}

		addr, err := btcutil.DecodeAddress(addrStr, cfg.activeNet.Params)
		if err != nil {
			return nil, fmt.Errorf("invalid watch address %q: %w", addrStr, err)
		}
		specs = append(specs, watchSpec{addr: addr, interval: interval})
	}
	return specs, nil
}

func readRPCCert(cfg *config) ([]byte, error) {
	if cfg.DisableTLS {
		return nil, nil
	}
	return os.ReadFile(cfg.RPCCert.Value)
}

// loadStore reads the serialized blob at path and loads it into store. A
// missing file is not an error: the store simply starts empty.
func loadStore(store *txstore.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if !store.Load(data) {
		return fmt.Errorf("malformed tx store blob at %v", path)
	}
	return nil
}

// saveStore serializes store and writes it to path, creating the parent
// directory if needed.
func saveStore(store *txstore.Store, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	blob, err := store.Serialize()
	if err != nil {
		return err
	}
	return os.WriteFile(path, blob, 0600)
}
