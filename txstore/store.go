// Copyright (c) 2014-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txstore implements a thread-safe, in-memory mapping from
// transaction hash to lifecycle row, plus UTXO derivation, fork detection,
// and a byte-exact serialization format for persisting the mapping between
// process runs.
package txstore

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// DefaultUnconfirmedTimeout is the age at which an unconfirmed row is
// dropped from the store during Serialize, absent an explicit override.
const DefaultUnconfirmedTimeout = 24 * time.Hour

// Store is a thread-safe mapping from transaction hash to TxRow. It owns
// the authoritative lifecycle state for every transaction it knows about.
//
// Every exported method acquires the store's lock for its full duration.
// Iteration helpers invoke their callback with the lock held; callbacks
// must not call back into the store.
type Store struct {
	mtx sync.Mutex

	chainParams *chaincfg.Params

	rows       map[chainhash.Hash]*TxRow
	lastHeight uint64

	unconfirmedTimeout time.Duration

	now func() time.Time
}

// Option configures optional Store behavior.
type Option func(*Store)

// WithClock overrides the wall-clock function used for row timestamps.
// Tests use this to make timeout-dependent behavior deterministic.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty Store for the given network. unconfirmedTimeout is
// the age past which an unconfirmed row is dropped on Serialize; pass 0 to
// use DefaultUnconfirmedTimeout.
func New(chainParams *chaincfg.Params, unconfirmedTimeout time.Duration, opts ...Option) *Store {
	if unconfirmedTimeout <= 0 {
		unconfirmedTimeout = DefaultUnconfirmedTimeout
	}
	s := &Store{
		chainParams:        chainParams,
		rows:               make(map[chainhash.Hash]*TxRow),
		unconfirmedTimeout: unconfirmedTimeout,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LastHeight returns the highest block height this store has observed.
func (s *Store) LastHeight() uint64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.lastHeight
}

// HasTx reports whether the store contains a row for hash.
func (s *Store) HasTx(hash chainhash.Hash) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	_, ok := s.rows[hash]
	return ok
}

// GetTx returns the transaction stored under hash. The second return
// value is false if no such row exists, in which case the transaction
// value is the zero wire.MsgTx and must not be used.
func (s *Store) GetTx(hash chainhash.Hash) (wire.MsgTx, bool) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	row, ok := s.rows[hash]
	if !ok {
		return wire.MsgTx{}, false
	}
	return row.Tx, true
}

// GetTxHeight returns the confirmed block height for hash, or 0 if the
// transaction is absent or not confirmed.
func (s *Store) GetTxHeight(hash chainhash.Hash) uint64 {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	row, ok := s.rows[hash]
	if !ok || row.State != StateConfirmed {
		return 0
	}
	return row.BlockHeight
}

// extractAddress returns the single payment address a script resolves to,
// and whether extraction succeeded. Scripts that are non-standard, multisig,
// or otherwise resolve to something other than exactly one address are
// treated as non-resolving, matching the best-effort extraction the store
// relies on throughout.
func extractAddress(script []byte, params *chaincfg.Params) (btcutil.Address, bool) {
	class, addrs, _, err := txscript.ExtractPkScriptAddrs(script, params)
	if err != nil || class == txscript.NonStandardTy || len(addrs) != 1 {
		return nil, false
	}
	return addrs[0], true
}

// IsSpend reports whether hash names a transaction every one of whose
// inputs resolves (via its signature script) to a payment address, and
// every such address is a member of addresses. A transaction with any
// input that does not decode to a payment address returns false, as does
// an absent transaction.
func (s *Store) IsSpend(hash chainhash.Hash, addresses map[string]struct{}) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	row, ok := s.rows[hash]
	if !ok {
		return false
	}
	for _, in := range row.Tx.TxIn {
		addr, ok := extractAddress(in.SignatureScript, s.chainParams)
		if !ok {
			return false
		}
		if _, member := addresses[addr.EncodeAddress()]; !member {
			return false
		}
	}
	return true
}

// HasHistory reports whether any row in the store has an output resolving
// to address.
func (s *Store) HasHistory(address btcutil.Address) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	target := address.EncodeAddress()
	for _, row := range s.rows {
		for _, out := range row.Tx.TxOut {
			addr, ok := extractAddress(out.PkScript, s.chainParams)
			if ok && addr.EncodeAddress() == target {
				return true
			}
		}
	}
	return false
}

// spentOutpoints returns the set of every outpoint referenced by an input
// of any row currently in the store. Caller must hold the lock.
func (s *Store) spentOutpoints() map[wire.OutPoint]struct{} {
	spent := make(map[wire.OutPoint]struct{})
	for _, row := range s.rows {
		for _, in := range row.Tx.TxIn {
			spent[in.PreviousOutPoint] = struct{}{}
		}
	}
	return spent
}

// GetUTXOs returns every unspent output across all rows: the outputs of
// all rows minus the outpoints referenced by any input of any row. Order
// is unspecified but stable within one call.
func (s *Store) GetUTXOs() []UTXO {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	return s.utxosLocked(nil)
}

// GetUTXOsForAddresses is like GetUTXOs, filtered to outputs whose script
// resolves to one of addresses.
func (s *Store) GetUTXOsForAddresses(addresses []btcutil.Address) []UTXO {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	filter := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		filter[addr.EncodeAddress()] = struct{}{}
	}
	return s.utxosLocked(filter)
}

// utxosLocked computes the UTXO set, optionally restricted to an address
// filter. Caller must hold the lock.
func (s *Store) utxosLocked(filter map[string]struct{}) []UTXO {
	spent := s.spentOutpoints()

	var out []UTXO
	for hash, row := range s.rows {
		for i, txOut := range row.Tx.TxOut {
			point := wire.OutPoint{Hash: hash, Index: uint32(i)}
			if _, isSpent := spent[point]; isSpent {
				continue
			}
			if filter != nil {
				addr, ok := extractAddress(txOut.PkScript, s.chainParams)
				if !ok {
					continue
				}
				if _, member := filter[addr.EncodeAddress()]; !member {
					continue
				}
			}
			out = append(out, UTXO{
				OutPoint: point,
				Value:    btcutil.Amount(txOut.Value),
				PkScript: txOut.PkScript,
			})
		}
	}
	return out
}
