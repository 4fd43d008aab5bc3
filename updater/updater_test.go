// Copyright (c) 2014-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package updater

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/Airbitz/libbitcoin-watcher/txstore"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

var errBroadcastRejected = errors.New("broadcast rejected")

func testAddr(t *testing.T, b byte) btcutil.Address {
	t.Helper()
	hash := bytes.Repeat([]byte{b}, 20)
	addr, err := btcutil.NewAddressPubKeyHash(hash, &chaincfg.MainNetParams)
	require.NoError(t, err)
	return addr
}

func payTo(t *testing.T, addr btcutil.Address, value int64) *wire.MsgTx {
	t.Helper()
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxOut(wire.NewTxOut(value, script))
	return tx
}

func newTestUpdater() (*Updater, *txstore.Store, *fakeCodec, *fakeSink) {
	store := txstore.New(&chaincfg.MainNetParams, 0)
	codec := newFakeCodec()
	sink := &fakeSink{}
	u := New(store, codec, sink)
	return u, store, codec, sink
}

func TestSendRoundTrip(t *testing.T) {
	u, store, codec, sink := newTestUpdater()
	addr := testAddr(t, 1)
	tx := payTo(t, addr, 1000)
	hash := tx.TxHash()

	u.Send(tx)

	require.Len(t, sink.adds, 1)
	require.Equal(t, *tx, *sink.adds[0])
	require.Len(t, sink.sends, 1)
	require.NoError(t, sink.sends[0].err)

	got, ok := store.GetTx(hash)
	require.True(t, ok)
	require.Equal(t, *tx, got)
	require.Equal(t, uint64(0), store.GetTxHeight(hash))

	codec.indices[hash] = [2]uint64{100, 0}
	u.getIndex(hash)

	require.Equal(t, uint64(100), store.GetTxHeight(hash))
}

func TestReorgFlagDispatchesIndexQuery(t *testing.T) {
	u, store, codec, _ := newTestUpdater()
	addr := testAddr(t, 1)
	tx := payTo(t, addr, 1000)
	hash := tx.TxHash()

	store.Insert(tx, txstore.StateUnconfirmed)
	store.Confirmed(hash, 100)

	store.AtHeight(105)

	codec.indices[hash] = [2]uint64{105, 0}
	u.queueGetIndices()

	// The first answer moves the row from 100 to 105, which leaves
	// NeedCheck set; the sweep that follows re-queries it once more, and
	// that same-height confirmation clears the flag.
	require.Equal(t, 2, codec.indexCalls)
	require.Equal(t, uint64(105), store.GetTxHeight(hash))
}

func TestMempoolFallback(t *testing.T) {
	u, store, codec, sink := newTestUpdater()
	addr := testAddr(t, 1)
	tx := payTo(t, addr, 1000)
	hash := tx.TxHash()

	// FetchTransaction has no entry for hash, so it errors; the mempool
	// fallback does.
	codec.unconfirmedTxs[hash] = tx

	u.watch(hash, false)

	require.Equal(t, 1, codec.txCalls)
	require.Equal(t, 1, codec.unconfirmedCalls)
	require.Len(t, sink.adds, 1)
	require.True(t, store.HasTx(hash))
	require.Equal(t, 0, u.queuedQueries)
}

func TestQuietSignalFiresOnceAtZero(t *testing.T) {
	u, _, _, sink := newTestUpdater()

	u.queuedQueries = 2
	u.queryDone()
	require.Equal(t, 0, sink.quiets)

	u.queryDone()
	require.Equal(t, 1, sink.quiets)
}

func TestWakeupIssuesHeightPollAfterPeriod(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := txstore.New(&chaincfg.MainNetParams, 0)
	codec := newFakeCodec()
	sink := &fakeSink{}
	u := New(store, codec, sink, WithClock(func() time.Time { return now }))

	delay := u.Wakeup()
	require.Equal(t, heightPollPeriod, delay)
	require.Equal(t, 1, codec.heightCalls)

	now = now.Add(10 * time.Second)
	delay = u.Wakeup()
	require.Equal(t, 20*time.Second, delay)
	require.Equal(t, 1, codec.heightCalls)

	now = now.Add(20 * time.Second)
	delay = u.Wakeup()
	require.Equal(t, heightPollPeriod, delay)
	require.Equal(t, 2, codec.heightCalls)
}

func TestWakeupDispatchesDueAddressPolls(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := txstore.New(&chaincfg.MainNetParams, 0)
	codec := newFakeCodec()
	sink := &fakeSink{}
	u := New(store, codec, sink, WithClock(func() time.Time { return now }))

	addr := testAddr(t, 1)
	u.Watch(addr, 5*time.Second)
	require.Equal(t, 1, codec.historyCalls)

	now = now.Add(5 * time.Second)
	delay := u.Wakeup()
	require.Equal(t, 2, codec.historyCalls)
	require.LessOrEqual(t, delay, 5*time.Second)
}

func TestWakeupReportsFailureOnce(t *testing.T) {
	store := txstore.New(&chaincfg.MainNetParams, 0)
	codec := newFakeCodec()
	sink := &fakeSink{}
	u := New(store, codec, sink)

	u.failed = true
	u.Wakeup()
	require.Equal(t, 1, sink.fails)
	require.False(t, u.failed)

	u.Wakeup()
	require.Equal(t, 1, sink.fails)
}

func TestWatchInsertsAndResetsPollInterval(t *testing.T) {
	u, _, codec, _ := newTestUpdater()
	addr := testAddr(t, 1)

	u.Watch(addr, time.Second)
	u.Watch(addr, 10*time.Second)

	require.Equal(t, 2, codec.historyCalls)
	require.Len(t, u.Watching(), 1)
	require.Equal(t, 10*time.Second, u.watched[addr.EncodeAddress()].pollInterval)
}

func TestStartBroadcastsUnsentRows(t *testing.T) {
	store := txstore.New(&chaincfg.MainNetParams, 0)
	codec := newFakeCodec()
	sink := &fakeSink{}
	u := New(store, codec, sink)

	addr := testAddr(t, 1)
	tx := payTo(t, addr, 1000)
	store.Insert(tx, txstore.StateUnsent)

	u.Start()

	require.Equal(t, 1, codec.broadcastCalls)
	require.Equal(t, 1, codec.heightCalls)
	require.Len(t, sink.sends, 1)
}

func TestBroadcastFailureForgetsRow(t *testing.T) {
	u, store, codec, sink := newTestUpdater()
	addr := testAddr(t, 1)
	tx := payTo(t, addr, 1000)
	hash := tx.TxHash()

	codec.broadcastErr = errBroadcastRejected

	u.Send(tx)

	require.False(t, store.HasTx(hash))
	require.Len(t, sink.sends, 1)
	require.Equal(t, errBroadcastRejected, sink.sends[0].err)
}

func TestWatchAddressHistoryChasesOutputsAndSpends(t *testing.T) {
	u, store, codec, sink := newTestUpdater()
	watchAddr := testAddr(t, 1)
	otherAddr := testAddr(t, 2)

	fundingTx := payTo(t, watchAddr, 5000)
	fundingHash := fundingTx.TxHash()
	spendingTx := payTo(t, otherAddr, 4000)
	spendingHash := spendingTx.TxHash()

	codec.txs[fundingHash] = fundingTx
	codec.txs[spendingHash] = spendingTx
	spendPoint := wire.OutPoint{Hash: spendingHash, Index: 0}
	codec.history[watchAddr.EncodeAddress()] = []HistoryEntry{
		{
			Output: wire.OutPoint{Hash: fundingHash, Index: 0},
			Spend:  &spendPoint,
		},
	}

	u.Watch(watchAddr, time.Minute)

	require.True(t, store.HasTx(fundingHash))
	require.True(t, store.HasTx(spendingHash))
	require.Len(t, sink.adds, 2)
}
