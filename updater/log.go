// Copyright (c) 2014-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package updater

import (
	"github.com/Airbitz/libbitcoin-watcher/internal/build"
	"github.com/btcsuite/btclog"
)

var log btclog.Logger

func init() {
	UseLogger(build.NewSubLogger("UPDT", nil))
}

// DisableLog disables all library log output.
func DisableLog() {
	log = btclog.Disabled
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}
