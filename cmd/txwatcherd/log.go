// Copyright (c) 2013-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Airbitz/libbitcoin-watcher/rpcchain"
	"github.com/Airbitz/libbitcoin-watcher/txstore"
	"github.com/Airbitz/libbitcoin-watcher/updater"
	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

// logRotator is one gigantic Rotator that manages the log output for every
// subsystem, closed on shutdown.
var logRotator *rotator.Rotator

// logWriter implements io.Writer and writes to both standard output and
// the log rotator.
type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	os.Stdout.Write(p)
	logRotator.Write(p)
	return len(p), nil
}

var backendLog = btclog.NewBackend(logWriter{})

var (
	log     = backendLog.Logger("TXWD")
	txstLog = backendLog.Logger("TXST")
	updtLog = backendLog.Logger("UPDT")
	chnsLog = backendLog.Logger("CHNS")
)

var subsystemLoggers = map[string]btclog.Logger{
	"TXWD": log,
	"TXST": txstLog,
	"UPDT": updtLog,
	"CHNS": chnsLog,
}

func init() {
	txstore.UseLogger(txstLog)
	updater.UseLogger(updtLog)
	rpcchain.UseLogger(chnsLog)
}

// initLogRotator opens the log file for writing and rotation, at the path
// produced from logDir and logFilename, and redirects logWriter output to
// it in addition to stdout.
func initLogRotator(logDir string) error {
	logFile := filepath.Join(logDir, defaultLogFilename)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	r, err := rotator.New(logFile, 10*1024, false, 3)
	if err != nil {
		return fmt.Errorf("failed to create file rotator: %w", err)
	}
	logRotator = r
	return nil
}

// setLogLevels sets every subsystem logger to logLevel, ignoring invalid
// level strings by leaving info as the effective floor.
func setLogLevels(logLevel string) {
	level, ok := btclog.LevelFromString(logLevel)
	if !ok {
		level, _ = btclog.LevelFromString(defaultLogLevel)
	}
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}
