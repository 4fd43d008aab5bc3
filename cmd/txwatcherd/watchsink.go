// Copyright (c) 2013-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import "github.com/btcsuite/btcd/wire"

// logSink is a minimal updater.Sink that reports every event through the
// daemon's own logger. A real host (a wallet UI, a balance-reporting
// service) would replace this with something that updates its own state.
type logSink struct{}

func (logSink) OnAdd(tx *wire.MsgTx) {
	log.Infof("new transaction %v", tx.TxHash())
}

func (logSink) OnHeight(height uint64) {
	log.Infof("chain tip advanced to height %d", height)
}

func (logSink) OnSend(err error, tx *wire.MsgTx) {
	if err != nil {
		log.Warnf("broadcast of %v rejected: %v", tx.TxHash(), err)
		return
	}
	log.Infof("broadcast of %v accepted", tx.TxHash())
}

func (logSink) OnQuiet() {
	log.Debugf("all queries settled")
}

func (logSink) OnFail() {
	log.Warnf("one or more server queries failed since the last wakeup")
}
