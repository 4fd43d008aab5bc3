// Copyright (c) 2014-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txstore

import (
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// TxState identifies where a transaction sits in its lifecycle.
type TxState uint8

const (
	// StateUnsent means the transaction was authored locally and has not
	// yet been acknowledged by any server.
	StateUnsent TxState = iota

	// StateUnconfirmed means the network has seen the transaction, but
	// it is not yet in a block.
	StateUnconfirmed

	// StateConfirmed means the transaction is included in a block at a
	// known height.
	StateConfirmed
)

// String returns a human-readable name for the state, used by Dump.
func (s TxState) String() string {
	switch s {
	case StateUnsent:
		return "unsent"
	case StateUnconfirmed:
		return "unconfirmed"
	case StateConfirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// TxRow is the per-transaction record kept by the store.
type TxRow struct {
	// Tx is the full transaction: inputs, outputs, version, locktime.
	Tx wire.MsgTx

	// State is the current lifecycle tag.
	State TxState

	// BlockHeight is meaningful only when State is StateConfirmed. It is
	// 0 for rows that were never confirmed; a row moved back to
	// unconfirmed keeps its last confirmed height here.
	BlockHeight uint64

	// Timestamp is the wall-clock time of last insertion or
	// ResetTimestamp call. It drives garbage collection of stale
	// unconfirmed rows during Serialize.
	Timestamp time.Time

	// NeedCheck flags a confirmed row at a suspect height after a
	// potential reorg.
	NeedCheck bool
}

// UTXO is one unspent output as computed by the store's UTXO derivation.
type UTXO struct {
	OutPoint wire.OutPoint
	Value    btcutil.Amount
	PkScript []byte
}
