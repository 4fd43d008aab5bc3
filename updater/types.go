// Copyright (c) 2014-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package updater implements the polling/query engine that synchronizes a
// txstore.Store against a remote blockchain indexer through an
// asynchronous request/reply codec.
package updater

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Sink is the set of observable events the updater raises. Every method is
// invoked synchronously from within an Updater call (Start, Watch, Send,
// Wakeup, or a codec completion callback) and must not block.
type Sink interface {
	// OnAdd fires the first time a transaction is learned about, either
	// because the host authored it (Send) or because the codec reported
	// it. It fires at most once per hash unless the row is forgotten and
	// reinserted.
	OnAdd(tx *wire.MsgTx)

	// OnHeight fires when the server reports a new chain tip height.
	OnHeight(height uint64)

	// OnSend fires once broadcastTransaction completes, reporting
	// success (err == nil) or the codec's rejection reason.
	OnSend(err error, tx *wire.MsgTx)

	// OnQuiet fires exactly once each time the in-flight query count
	// falls from one to zero: the signal that balances are authoritative.
	OnQuiet()

	// OnFail fires at most once per Wakeup call, coalescing any number
	// of query failures observed since the previous Wakeup.
	OnFail()
}

// HistoryEntry is one entry in an address's transaction history, as
// reported by Codec.AddressFetchHistory.
type HistoryEntry struct {
	// Output is the outpoint that paid the queried address.
	Output wire.OutPoint

	// Spend is the outpoint of the input that later spent Output, or nil
	// if it remains unspent as of the server's view.
	Spend *wire.OutPoint

	Value btcutil.Amount
}

// Codec is the asynchronous request/reply facade the updater drives to
// stay in sync with a remote indexer. Every call returns immediately; the
// result arrives later through exactly one of onDone or onError.
type Codec interface {
	// FetchLastHeight retrieves the current chain tip height.
	FetchLastHeight(onDone func(height uint64), onError func(err error))

	// FetchTransaction retrieves a transaction that is believed to be
	// confirmed in a block.
	FetchTransaction(hash chainhash.Hash, onDone func(tx *wire.MsgTx), onError func(err error))

	// FetchUnconfirmedTransaction retrieves a transaction from the
	// server's mempool view, used as a fallback when FetchTransaction
	// reports the hash unknown.
	FetchUnconfirmedTransaction(hash chainhash.Hash, onDone func(tx *wire.MsgTx), onError func(err error))

	// FetchTransactionIndex retrieves the block height and in-block
	// index of a transaction, confirming whether it has been mined yet.
	FetchTransactionIndex(hash chainhash.Hash, onDone func(height uint64, index uint32), onError func(err error))

	// BroadcastTransaction submits tx to the network.
	BroadcastTransaction(tx *wire.MsgTx, onDone func(), onError func(err error))

	// AddressFetchHistory retrieves every transaction output and spend
	// known to touch addr.
	AddressFetchHistory(addr btcutil.Address, onDone func(history []HistoryEntry), onError func(err error))
}
