// Copyright (c) 2014-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txstore

import (
	"fmt"
	"io"
)

// Dump writes a human-readable listing of the store's contents to w: the
// last known height, then per row the hash, state, height or timestamp,
// forked flag, and best-effort input/output addresses. Intended for
// operator debugging only; the exact format is not a stable interface.
func (s *Store) Dump(w io.Writer) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	fmt.Fprintf(w, "last_height: %d\n", s.lastHeight)

	for hash, row := range s.rows {
		fmt.Fprintf(w, "tx %v\n", hash)
		fmt.Fprintf(w, "  state: %v\n", row.State)
		switch row.State {
		case StateConfirmed:
			fmt.Fprintf(w, "  block_height: %d\n", row.BlockHeight)
		default:
			fmt.Fprintf(w, "  timestamp: %v\n", row.Timestamp)
		}
		if row.NeedCheck {
			fmt.Fprintf(w, "  forked: true\n")
		}

		for _, in := range row.Tx.TxIn {
			addr, ok := extractAddress(in.SignatureScript, s.chainParams)
			if ok {
				fmt.Fprintf(w, "  input <- %v\n", addr.EncodeAddress())
			} else {
				fmt.Fprintf(w, "  input <- (unresolved)\n")
			}
		}
		for _, out := range row.Tx.TxOut {
			addr, ok := extractAddress(out.PkScript, s.chainParams)
			if ok {
				fmt.Fprintf(w, "  output -> %v (%d)\n", addr.EncodeAddress(), out.Value)
			} else {
				fmt.Fprintf(w, "  output -> (unresolved) (%d)\n", out.Value)
			}
		}
	}
}
