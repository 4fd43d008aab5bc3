// Copyright (c) 2013-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package rpcchain adapts a btcd JSON-RPC client into the updater.Codec
// interface. Every request is issued through the client's Async variants
// and its Receive() is waited for on a private goroutine, but the
// resulting onDone/onError call is always funneled back through a single
// dispatch goroutine. This preserves the cooperative, single-threaded
// contract the updater assumes of its codec, the same way chain.RPCClient
// serializes notifications for btcwallet's rescan consumers.
package rpcchain

import (
	"errors"
	"fmt"

	"github.com/Airbitz/libbitcoin-watcher/updater"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// searchResultLimit bounds a single SearchRawTransactions call.
// AddressFetchHistory always requests the first page, so transactions of
// an address beyond this many results are never fetched.
const searchResultLimit = 100

// Codec implements updater.Codec on top of a connected *rpcclient.Client.
type Codec struct {
	client      *rpcclient.Client
	chainParams *chaincfg.Params

	dispatch chan func()
	quit     chan struct{}
}

// New wraps client. client must already be started (see rpcclient.New);
// Codec does not own its lifecycle beyond Stop, which only halts the
// dispatch goroutine.
func New(client *rpcclient.Client, chainParams *chaincfg.Params) *Codec {
	c := &Codec{
		client:      client,
		chainParams: chainParams,
		dispatch:    make(chan func(), 64),
		quit:        make(chan struct{}),
	}
	go c.run()
	return c
}

// Stop halts the dispatch goroutine. In-flight RPCs are left to complete
// and are silently dropped when they try to enqueue their result.
func (c *Codec) Stop() {
	close(c.quit)
}

func (c *Codec) run() {
	for {
		select {
		case fn := <-c.dispatch:
			fn()
		case <-c.quit:
			return
		}
	}
}

// post enqueues fn on the dispatch goroutine, or drops it if Stop has
// already been called.
func (c *Codec) post(fn func()) {
	select {
	case c.dispatch <- fn:
	case <-c.quit:
	}
}

// FetchLastHeight implements updater.Codec.
func (c *Codec) FetchLastHeight(onDone func(uint64), onError func(error)) {
	future := c.client.GetBlockCountAsync()
	go func() {
		height, err := future.Receive()
		c.post(func() {
			if err != nil {
				onError(err)
				return
			}
			onDone(uint64(height))
		})
	}()
}

// FetchTransaction implements updater.Codec. It looks the hash up via the
// node's general transaction index; nodes without txindex enabled only
// resolve hashes currently in the mempool, which FetchUnconfirmedTransaction
// also covers.
func (c *Codec) FetchTransaction(hash chainhash.Hash, onDone func(*wire.MsgTx), onError func(error)) {
	h := hash
	future := c.client.GetRawTransactionAsync(&h)
	go func() {
		tx, err := future.Receive()
		c.post(func() {
			if err != nil {
				onError(err)
				return
			}
			onDone(tx.MsgTx())
		})
	}()
}

// FetchUnconfirmedTransaction implements updater.Codec. getrawtransaction
// resolves mempool-resident transactions identically to confirmed ones, so
// this is the same call as FetchTransaction; the updater only distinguishes
// them by which one it tries first.
func (c *Codec) FetchUnconfirmedTransaction(hash chainhash.Hash, onDone func(*wire.MsgTx), onError func(error)) {
	c.FetchTransaction(hash, onDone, onError)
}

// FetchTransactionIndex implements updater.Codec. It resolves the
// transaction's containing block via getrawtransaction's verbose form,
// then looks up that block's height and the transaction's position within
// it via getblock.
func (c *Codec) FetchTransactionIndex(hash chainhash.Hash, onDone func(height uint64, index uint32), onError func(error)) {
	h := hash
	go func() {
		txResult, err := c.client.GetRawTransactionVerboseAsync(&h).Receive()
		if err != nil {
			c.post(func() { onError(err) })
			return
		}
		if txResult.BlockHash == "" {
			c.post(func() { onError(errors.New("rpcchain: transaction not yet in a block")) })
			return
		}
		blockHash, err := chainhash.NewHashFromStr(txResult.BlockHash)
		if err != nil {
			c.post(func() { onError(err) })
			return
		}
		block, err := c.client.GetBlockVerboseAsync(blockHash).Receive()
		if err != nil {
			c.post(func() { onError(err) })
			return
		}

		index := -1
		for i, txid := range block.Tx {
			if txid == h.String() {
				index = i
				break
			}
		}
		if index < 0 {
			c.post(func() {
				onError(fmt.Errorf("rpcchain: tx %v not found in reported block %v", h, blockHash))
			})
			return
		}

		height, idx := uint64(block.Height), uint32(index)
		c.post(func() { onDone(height, idx) })
	}()
}

// BroadcastTransaction implements updater.Codec.
func (c *Codec) BroadcastTransaction(tx *wire.MsgTx, onDone func(), onError func(error)) {
	future := c.client.SendRawTransactionAsync(tx, false)
	go func() {
		_, err := future.Receive()
		c.post(func() {
			if err != nil {
				onError(err)
				return
			}
			onDone()
		})
	}()
}

// AddressFetchHistory implements updater.Codec using the node's address
// index. It is a best-effort reconstruction of spend linkage: a returned
// transaction's inputs are matched against the outputs of every other
// transaction in the same result set, so a spend that falls outside the
// fetched page is reported as unspent. Every call fetches the same first
// page; later polls do not page further.
func (c *Codec) AddressFetchHistory(addr btcutil.Address, onDone func([]updater.HistoryEntry), onError func(error)) {
	future := c.client.SearchRawTransactionsAsync(addr, 0, searchResultLimit, false, nil)
	go func() {
		txs, err := future.Receive()
		if err != nil {
			c.post(func() { onError(err) })
			return
		}
		c.post(func() { onDone(historyFromTxs(addr, txs, c.chainParams)) })
	}()
}

// historyFromTxs derives HistoryEntry values for addr's outputs across a
// batch of related transactions, resolving spends from inputs elsewhere in
// the same batch.
func historyFromTxs(addr btcutil.Address, txs []*wire.MsgTx, params *chaincfg.Params) []updater.HistoryEntry {
	spendOf := make(map[wire.OutPoint]wire.OutPoint)
	for _, tx := range txs {
		spenderHash := tx.TxHash()
		for i, in := range tx.TxIn {
			spendOf[in.PreviousOutPoint] = wire.OutPoint{Hash: spenderHash, Index: uint32(i)}
		}
	}

	var entries []updater.HistoryEntry
	target := addr.EncodeAddress()
	for _, tx := range txs {
		hash := tx.TxHash()
		for i, out := range tx.TxOut {
			class, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, params)
			if err != nil || class == txscript.NonStandardTy || len(addrs) != 1 || addrs[0].EncodeAddress() != target {
				continue
			}
			point := wire.OutPoint{Hash: hash, Index: uint32(i)}
			entry := updater.HistoryEntry{
				Output: point,
				Value:  btcutil.Amount(out.Value),
			}
			if spend, ok := spendOf[point]; ok {
				spendCopy := spend
				entry.Spend = &spendCopy
			}
			entries = append(entries, entry)
		}
	}
	return entries
}
