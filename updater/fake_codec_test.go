// Copyright (c) 2014-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package updater

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// fakeCodec is a synchronous, in-memory stand-in for the real codec. Every
// call resolves immediately from a scripted response table, which lets
// tests exercise the updater's callback wiring without any transport.
type fakeCodec struct {
	height uint64

	// txs maps hash to a scripted response for FetchTransaction.
	txs map[chainhash.Hash]*wire.MsgTx

	// unconfirmedTxs maps hash to a scripted response for
	// FetchUnconfirmedTransaction, used for the mempool-fallback path.
	unconfirmedTxs map[chainhash.Hash]*wire.MsgTx

	// indices maps hash to its scripted (height, index) response.
	indices map[chainhash.Hash][2]uint64

	// history maps address to its scripted response.
	history map[string][]HistoryEntry

	broadcastErr error

	heightCalls    int
	txCalls        int
	unconfirmedCalls int
	indexCalls     int
	broadcastCalls int
	historyCalls   int
}

func newFakeCodec() *fakeCodec {
	return &fakeCodec{
		txs:            make(map[chainhash.Hash]*wire.MsgTx),
		unconfirmedTxs: make(map[chainhash.Hash]*wire.MsgTx),
		indices:        make(map[chainhash.Hash][2]uint64),
		history:        make(map[string][]HistoryEntry),
	}
}

func (f *fakeCodec) FetchLastHeight(onDone func(uint64), onError func(error)) {
	f.heightCalls++
	onDone(f.height)
}

func (f *fakeCodec) FetchTransaction(hash chainhash.Hash, onDone func(*wire.MsgTx), onError func(error)) {
	f.txCalls++
	if tx, ok := f.txs[hash]; ok {
		onDone(tx)
		return
	}
	onError(errors.New("not found"))
}

func (f *fakeCodec) FetchUnconfirmedTransaction(hash chainhash.Hash, onDone func(*wire.MsgTx), onError func(error)) {
	f.unconfirmedCalls++
	if tx, ok := f.unconfirmedTxs[hash]; ok {
		onDone(tx)
		return
	}
	onError(errors.New("not found"))
}

func (f *fakeCodec) FetchTransactionIndex(hash chainhash.Hash, onDone func(uint64, uint32), onError func(error)) {
	f.indexCalls++
	if idx, ok := f.indices[hash]; ok {
		onDone(idx[0], uint32(idx[1]))
		return
	}
	onError(errors.New("not indexed"))
}

func (f *fakeCodec) BroadcastTransaction(tx *wire.MsgTx, onDone func(), onError func(error)) {
	f.broadcastCalls++
	if f.broadcastErr != nil {
		onError(f.broadcastErr)
		return
	}
	onDone()
}

func (f *fakeCodec) AddressFetchHistory(addr btcutil.Address, onDone func([]HistoryEntry), onError func(error)) {
	f.historyCalls++
	if hist, ok := f.history[addr.EncodeAddress()]; ok {
		onDone(hist)
		return
	}
	onDone(nil)
}

// fakeSink records every event the updater raises, in order.
type fakeSink struct {
	adds    []*wire.MsgTx
	heights []uint64
	sends   []sendEvent
	quiets  int
	fails   int
}

type sendEvent struct {
	err error
	tx  *wire.MsgTx
}

func (f *fakeSink) OnAdd(tx *wire.MsgTx)      { f.adds = append(f.adds, tx) }
func (f *fakeSink) OnHeight(height uint64)    { f.heights = append(f.heights, height) }
func (f *fakeSink) OnSend(err error, tx *wire.MsgTx) {
	f.sends = append(f.sends, sendEvent{err, tx})
}
func (f *fakeSink) OnQuiet() { f.quiets++ }
func (f *fakeSink) OnFail()  { f.fails++ }
