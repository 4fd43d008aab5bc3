// Copyright (c) 2014-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package updater

import (
	"fmt"
	"time"

	"github.com/Airbitz/libbitcoin-watcher/txstore"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// heightPollPeriod is the interval at which Wakeup issues a fresh block
// height query. It is a policy of the updater itself, not the host: the
// host only controls its own call cadence and the per-address minimum.
const heightPollPeriod = 30 * time.Second

type watchedAddress struct {
	addr         btcutil.Address
	pollInterval time.Duration
	lastCheck    time.Time
}

// Updater is a cooperative scheduler that drives a txstore.Store toward a
// remote indexer's view of a set of watched addresses. It does work only
// when Wakeup is called by the host or when a Codec completion callback
// fires; it never spawns goroutines of its own.
//
// Updater is not safe for concurrent use. Its contract mirrors the
// codec's: the host must serialize calls to Start, Watch, Send, Wakeup and
// every Codec completion callback onto one goroutine (typically the host's
// event loop). The store, unlike the updater, is safe for concurrent
// access from other goroutines such as balance-reporting UI code.
type Updater struct {
	store *txstore.Store
	codec Codec
	sink  Sink

	watched map[string]*watchedAddress

	failed           bool
	queuedQueries    int
	queuedGetIndices int
	lastWakeup       time.Time

	now func() time.Time
}

// Option configures optional Updater behavior.
type Option func(*Updater)

// WithClock overrides the time source used for scheduling decisions. Tests
// use this to make Wakeup's timer arithmetic deterministic.
func WithClock(now func() time.Time) Option {
	return func(u *Updater) {
		u.now = now
	}
}

// New creates an Updater driving store via codec, reporting events to sink.
func New(store *txstore.Store, codec Codec, sink Sink, opts ...Option) *Updater {
	u := &Updater{
		store:   store,
		codec:   codec,
		sink:    sink,
		watched: make(map[string]*watchedAddress),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	// lastWakeup starts at the zero value, not now, so that a Wakeup call
	// issued before Start (or a Start-less test of the scheduler) treats
	// the height poll as overdue rather than waiting a full period.
	return u
}

// Start is called once after construction. It issues an initial height
// poll, re-resolves the block index of every non-confirmed row, kicks the
// forked-row index queue, and broadcasts every unsent row.
func (u *Updater) Start() {
	u.getHeight()
	u.lastWakeup = u.now()

	// Snapshot unsent rows before the index sweep: a failed index lookup
	// moves a row to unconfirmed, and a codec that completes synchronously
	// would otherwise do so before the row is broadcast.
	unsent := u.collectUnsent()

	for _, hash := range u.collectUnconfirmed() {
		u.getIndex(hash)
	}
	u.queueGetIndices()

	for _, tx := range unsent {
		u.sendTx(tx)
	}
}

// Watch inserts or replaces the watched-address row for addr, resetting
// its poll interval and last-checked time, and immediately issues an
// address-history query for it.
func (u *Updater) Watch(addr btcutil.Address, pollInterval time.Duration) {
	key := addr.EncodeAddress()
	row, ok := u.watched[key]
	if !ok {
		row = &watchedAddress{addr: addr}
		u.watched[key] = row
	}
	row.pollInterval = pollInterval
	row.lastCheck = u.now()

	u.queryAddress(addr)
}

// Send broadcasts tx. If its hash is not already known, it is inserted as
// unsent and OnAdd fires before the broadcast is dispatched.
func (u *Updater) Send(tx *wire.MsgTx) {
	if u.store.Insert(tx, txstore.StateUnsent) {
		u.sink.OnAdd(tx)
	}
	u.sendTx(tx)
}

// Watching returns a snapshot of the currently watched addresses.
func (u *Updater) Watching() []btcutil.Address {
	out := make([]btcutil.Address, 0, len(u.watched))
	for _, row := range u.watched {
		out = append(out, row.addr)
	}
	return out
}

// Wakeup recomputes the schedule: it issues a block-height poll if 30
// seconds have elapsed since the last one, dispatches an address-history
// query for every watched address whose poll interval has elapsed,
// reports any failure observed since the previous call, and returns the
// maximum duration the host may sleep before calling Wakeup again.
func (u *Updater) Wakeup() time.Duration {
	now := u.now()

	elapsed := now.Sub(u.lastWakeup)
	if elapsed >= heightPollPeriod {
		u.getHeight()
		u.lastWakeup = now
		elapsed = 0
	}
	nextWakeup := heightPollPeriod - elapsed

	for _, row := range u.watched {
		sinceCheck := now.Sub(row.lastCheck)
		if sinceCheck >= row.pollInterval {
			row.lastCheck = now
			u.queryAddress(row.addr)
			if row.pollInterval < nextWakeup {
				nextWakeup = row.pollInterval
			}
		} else if remain := row.pollInterval - sinceCheck; remain < nextWakeup {
			nextWakeup = remain
		}
	}

	if u.failed {
		u.failed = false
		u.sink.OnFail()
	}

	return nextWakeup
}

// collectUnconfirmed snapshots the hashes of every non-confirmed row
// without holding the store's lock past the snapshot, so callers are free
// to dispatch codec calls (which may complete synchronously in tests) for
// each hash afterward.
func (u *Updater) collectUnconfirmed() []chainhash.Hash {
	var hashes []chainhash.Hash
	u.store.ForEachUnconfirmed(func(hash chainhash.Hash) {
		hashes = append(hashes, hash)
	})
	return hashes
}

func (u *Updater) collectForked() []chainhash.Hash {
	var hashes []chainhash.Hash
	u.store.ForEachForked(func(hash chainhash.Hash) {
		hashes = append(hashes, hash)
	})
	return hashes
}

func (u *Updater) collectUnsent() []*wire.MsgTx {
	var txs []*wire.MsgTx
	u.store.ForEachUnsent(func(tx *wire.MsgTx) {
		cp := *tx
		txs = append(txs, &cp)
	})
	return txs
}

// queryDone marks completion of one address-history or transaction-fetch
// dispatch. When the in-flight count reaches zero, OnQuiet fires exactly
// once.
func (u *Updater) queryDone() {
	u.queuedQueries--
	if u.queuedQueries == 0 {
		u.sink.OnQuiet()
	}
}

// queueGetIndices dispatches one FetchTransactionIndex query per forked
// row, unless a sweep is already in progress. Every getIndex completion
// re-invokes this so rows flagged by a later reorg check are picked up
// once the current sweep drains.
func (u *Updater) queueGetIndices() {
	if u.queuedGetIndices > 0 {
		return
	}
	for _, hash := range u.collectForked() {
		u.getIndex(hash)
	}
}

// getIndex resolves a single transaction's block index.
func (u *Updater) getIndex(hash chainhash.Hash) {
	u.queuedGetIndices++
	u.codec.FetchTransactionIndex(hash,
		func(height uint64, index uint32) {
			u.store.Confirmed(hash, height)
			u.queuedGetIndices--
			u.queueGetIndices()
		},
		func(err error) {
			// A row already forgotten between dispatch and this callback
			// is a no-op, not a crash.
			if u.store.HasTx(hash) {
				u.store.Unconfirmed(hash)
			}
			u.queuedGetIndices--
			u.queueGetIndices()
		},
	)
}

// getHeight polls the server's chain tip and, if it moved, updates the
// store and requeues every non-confirmed row for index resolution.
func (u *Updater) getHeight() {
	u.codec.FetchLastHeight(
		func(height uint64) {
			if height == u.store.LastHeight() {
				return
			}
			u.store.AtHeight(height)
			u.sink.OnHeight(height)
			for _, hash := range u.collectUnconfirmed() {
				u.getIndex(hash)
			}
			u.queueGetIndices()
		},
		func(err error) {
			u.failed = true
		},
	)
}

// queryAddress dispatches an address-history query.
func (u *Updater) queryAddress(addr btcutil.Address) {
	u.queuedQueries++
	u.codec.AddressFetchHistory(addr,
		func(history []HistoryEntry) {
			for _, entry := range history {
				u.watch(entry.Output.Hash, true)
				if entry.Spend != nil {
					u.watch(entry.Spend.Hash, true)
				}
			}
			u.queryDone()
		},
		func(err error) {
			u.failed = true
			u.queryDone()
		},
	)
}

// watch resets the hash's staleness timer, fetches the transaction if it
// is not yet known, or - if it is known and inputs are wanted - resolves
// the producing transaction of each of its inputs. This bounds the
// recursion depth at two: outputs, then their producers, never further.
func (u *Updater) watch(hash chainhash.Hash, wantInputs bool) {
	u.store.ResetTimestamp(hash)

	tx, ok := u.store.GetTx(hash)
	if !ok {
		u.getTx(hash, wantInputs)
		return
	}
	if wantInputs {
		u.getInputs(&tx)
	}
}

// getInputs re-watches the producing transaction of each of tx's inputs,
// without requesting their own inputs in turn.
func (u *Updater) getInputs(tx *wire.MsgTx) {
	for _, in := range tx.TxIn {
		u.watch(in.PreviousOutPoint.Hash, false)
	}
}

// getTx fetches a transaction believed to be confirmed. On success it
// inserts the row, optionally resolves its inputs, and kicks off index
// resolution. On error it falls back to the mempool path for the same
// hash.
func (u *Updater) getTx(hash chainhash.Hash, wantInputs bool) {
	u.queuedQueries++
	u.codec.FetchTransaction(hash,
		func(tx *wire.MsgTx) {
			u.assertHash(tx, hash)
			if u.store.Insert(tx, txstore.StateUnconfirmed) {
				u.sink.OnAdd(tx)
			}
			if wantInputs {
				u.getInputs(tx)
			}
			u.getIndex(hash)
			u.queryDone()
		},
		func(err error) {
			u.getUnconfirmedTx(hash, wantInputs)
			u.queryDone()
		},
	)
}

// getUnconfirmedTx fetches a transaction from the server's mempool view,
// used when the confirmed-path fetch reports the hash unknown.
func (u *Updater) getUnconfirmedTx(hash chainhash.Hash, wantInputs bool) {
	u.queuedQueries++
	u.codec.FetchUnconfirmedTransaction(hash,
		func(tx *wire.MsgTx) {
			u.assertHash(tx, hash)
			if u.store.Insert(tx, txstore.StateUnconfirmed) {
				u.sink.OnAdd(tx)
			}
			if wantInputs {
				u.getInputs(tx)
			}
			u.getIndex(hash)
			u.queryDone()
		},
		func(err error) {
			u.failed = true
			u.queryDone()
		},
	)
}

// sendTx dispatches a broadcast for tx, which must already be present in
// the store. Unlike the other codec calls, broadcast is not counted
// against queuedQueries: it does not gate the quiet signal.
func (u *Updater) sendTx(tx *wire.MsgTx) {
	hash := tx.TxHash()
	u.codec.BroadcastTransaction(tx,
		func() {
			u.store.Unconfirmed(hash)
			u.sink.OnSend(nil, tx)
		},
		func(err error) {
			u.store.Forget(hash)
			u.sink.OnSend(err, tx)
		},
	)
}

// assertHash enforces the internal invariant that a codec response for a
// requested hash actually carries that hash. A violation means the codec
// is broken; the updater aborts rather than continue with corrupt state.
func (u *Updater) assertHash(tx *wire.MsgTx, want chainhash.Hash) {
	if got := tx.TxHash(); got != want {
		panic(fmt.Sprintf("updater: codec returned tx %v for requested hash %v", got, want))
	}
}
