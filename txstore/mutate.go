// Copyright (c) 2014-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txstore

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// AtHeight records the highest block height observed from the server, then
// runs fork detection against it. Called by the updater only.
func (s *Store) AtHeight(height uint64) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.lastHeight = height
	s.checkForkLocked(height)
}

// Insert adds a new row for tx under the given initial state if no row
// for its hash already exists. Returns true if the row was created; the
// first writer for a hash wins, and subsequent Insert calls for the same
// hash are no-ops returning false.
func (s *Store) Insert(tx *wire.MsgTx, state TxState) bool {
	hash := tx.TxHash()

	s.mtx.Lock()
	defer s.mtx.Unlock()

	if _, ok := s.rows[hash]; ok {
		return false
	}
	s.rows[hash] = &TxRow{
		Tx:        *tx,
		State:     state,
		Timestamp: s.now(),
	}
	log.Debugf("inserted tx %v as %v", hash, state)
	return true
}

// Confirmed marks hash as confirmed at height. The row must already exist;
// calling Confirmed on an absent hash is a programming error and panics.
// If the row was already confirmed at a different height, check_fork runs
// against the old height first. NeedCheck is cleared only when the row is
// re-confirmed at the height it already had; otherwise it is left for the
// updater to resolve via a later index query.
func (s *Store) Confirmed(hash chainhash.Hash, height uint64) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	row, ok := s.rows[hash]
	if !ok {
		panic(fmt.Sprintf("txstore: confirmed called on absent hash %v", hash))
	}

	if row.State == StateConfirmed && row.BlockHeight != height {
		s.checkForkLocked(row.BlockHeight)
	}

	sameHeight := row.State == StateConfirmed && row.BlockHeight == height

	row.State = StateConfirmed
	row.BlockHeight = height
	if sameHeight {
		row.NeedCheck = false
	}
}

// Unconfirmed marks hash as unconfirmed (back in the mempool, or never
// seen in a block). The row must already exist. If it was previously
// confirmed, check_fork runs against the old height. BlockHeight is left
// untouched; queries must gate on State before reading it.
func (s *Store) Unconfirmed(hash chainhash.Hash) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	row, ok := s.rows[hash]
	if !ok {
		panic(fmt.Sprintf("txstore: unconfirmed called on absent hash %v", hash))
	}

	if row.State == StateConfirmed {
		s.checkForkLocked(row.BlockHeight)
	}
	row.State = StateUnconfirmed
}

// Forget removes the row for hash, if present. Used after a rejected
// broadcast to allow the caller to retry with Send.
func (s *Store) Forget(hash chainhash.Hash) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	delete(s.rows, hash)
}

// ResetTimestamp sets the row's timestamp to now, if the row is present.
// No-op otherwise.
func (s *Store) ResetTimestamp(hash chainhash.Hash) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if row, ok := s.rows[hash]; ok {
		row.Timestamp = s.now()
	}
}

// ForEachUnconfirmed invokes f for every row whose state is not
// StateConfirmed (i.e. StateUnsent or StateUnconfirmed). f runs with the
// store's lock held; f must not call back into the store.
func (s *Store) ForEachUnconfirmed(f func(hash chainhash.Hash)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for hash, row := range s.rows {
		if row.State != StateConfirmed {
			f(hash)
		}
	}
}

// ForEachForked invokes f for every confirmed row flagged NeedCheck. f
// runs with the store's lock held; f must not call back into the store.
func (s *Store) ForEachForked(f func(hash chainhash.Hash)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for hash, row := range s.rows {
		if row.State == StateConfirmed && row.NeedCheck {
			f(hash)
		}
	}
}

// ForEachUnsent invokes f for every row with state StateUnsent. f runs
// with the store's lock held; f must not call back into the store.
func (s *Store) ForEachUnsent(f func(tx *wire.MsgTx)) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, row := range s.rows {
		if row.State == StateUnsent {
			f(&row.Tx)
		}
	}
}

// checkForkLocked implements the fork-detection policy: scan confirmed
// rows below height h, find the highest such height p, and flag every
// confirmed row at exactly p as needing re-verification. Caller must hold
// the lock.
func (s *Store) checkForkLocked(h uint64) {
	var p uint64
	for _, row := range s.rows {
		if row.State == StateConfirmed && row.BlockHeight < h && row.BlockHeight > p {
			p = row.BlockHeight
		}
	}
	flagged := 0
	for _, row := range s.rows {
		if row.State == StateConfirmed && row.BlockHeight == p {
			row.NeedCheck = true
			flagged++
		}
	}
	log.Tracef("%v", newLogClosure(func() string {
		return fmt.Sprintf("check_fork(%d): flagged %d row(s) at height %d", h, flagged, p)
	}))
}
