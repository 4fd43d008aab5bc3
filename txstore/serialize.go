// Copyright (c) 2014-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

const (
	serialMagic    uint32 = 0xFECDB760
	serialMagicOld uint32 = 0x3EAB61C3
	serialTxTag    byte   = 0x42
)

// Serialize writes the store to a byte-exact blob: a 4-byte magic, an
// 8-byte last_height, then one row block per row. Unconfirmed rows whose
// timestamp is older than the configured unconfirmed timeout are dropped
// entirely; every other row round-trips losslessly, provided its
// transaction has at least one input (a zero input count is read back by
// wire.MsgTx.Deserialize as a segwit marker, so such a row fails to load).
func (s *Store) Serialize() ([]byte, error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.LittleEndian, serialMagic); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.LittleEndian, s.lastHeight); err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-s.unconfirmedTimeout)

	for hash, row := range s.rows {
		if row.State == StateUnconfirmed && row.Timestamp.Before(cutoff) {
			continue
		}
		if err := writeRow(&buf, hash, row); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func writeRow(w io.Writer, hash chainhash.Hash, row *TxRow) error {
	if _, err := w.Write([]byte{serialTxTag}); err != nil {
		return err
	}
	if _, err := w.Write(hash[:]); err != nil {
		return err
	}
	if err := row.Tx.Serialize(w); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(row.State)}); err != nil {
		return err
	}

	var heightOrTS uint64
	switch row.State {
	case StateConfirmed:
		heightOrTS = row.BlockHeight
	case StateUnconfirmed:
		heightOrTS = uint64(row.Timestamp.Unix())
	case StateUnsent:
		heightOrTS = 0
	}
	if err := binary.Write(w, binary.LittleEndian, heightOrTS); err != nil {
		return err
	}

	needCheck := byte(0)
	if row.NeedCheck {
		needCheck = 1
	}
	_, err := w.Write([]byte{needCheck})
	return err
}

// Load replaces the store's contents with the rows decoded from data.
// It returns false, leaving the store unchanged, if data is malformed in
// any way: unrecognized magic, truncation, a bad row tag, or a transaction
// that fails to deserialize. The legacy magic is accepted as a successful
// load of an empty store, for backward compatibility with blobs written by
// the previous on-disk format.
func (s *Store) Load(data []byte) bool {
	r := bytes.NewReader(data)

	var magic uint32
	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		log.Debugf("load failed: %v", storeError(ErrLoadTruncated, "magic", err))
		return false
	}
	if magic == serialMagicOld {
		s.mtx.Lock()
		s.rows = make(map[chainhash.Hash]*TxRow)
		s.lastHeight = 0
		s.mtx.Unlock()
		return true
	}
	if magic != serialMagic {
		log.Debugf("load failed: %v", storeError(ErrLoadMagic, fmt.Sprintf("unrecognized magic %#x", magic), nil))
		return false
	}

	var lastHeight uint64
	if err := binary.Read(r, binary.LittleEndian, &lastHeight); err != nil {
		log.Debugf("load failed: %v", storeError(ErrLoadTruncated, "last_height", err))
		return false
	}

	rows := make(map[chainhash.Hash]*TxRow)
	now := s.now()

	for {
		var tag [1]byte
		_, err := io.ReadFull(r, tag[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Debugf("load failed: %v", storeError(ErrLoadTruncated, "row tag", err))
			return false
		}
		if tag[0] != serialTxTag {
			log.Debugf("load failed: %v", storeError(ErrLoadRowTag, fmt.Sprintf("unexpected row tag %#x", tag[0]), nil))
			return false
		}

		hash, row, err := readRow(r, now)
		if err != nil {
			log.Debugf("load failed: %v", storeError(ErrLoadTx, "row body", err))
			return false
		}
		rows[*hash] = row
	}

	s.mtx.Lock()
	s.rows = rows
	s.lastHeight = lastHeight
	s.mtx.Unlock()
	return true
}

func readRow(r io.Reader, now time.Time) (*chainhash.Hash, *TxRow, error) {
	var hash chainhash.Hash
	if _, err := io.ReadFull(r, hash[:]); err != nil {
		return nil, nil, err
	}

	var tx wire.MsgTx
	if err := tx.Deserialize(r); err != nil {
		return nil, nil, err
	}

	var stateByte [1]byte
	if _, err := io.ReadFull(r, stateByte[:]); err != nil {
		return nil, nil, err
	}

	var heightOrTS uint64
	if err := binary.Read(r, binary.LittleEndian, &heightOrTS); err != nil {
		return nil, nil, err
	}

	var needCheckByte [1]byte
	if _, err := io.ReadFull(r, needCheckByte[:]); err != nil {
		return nil, nil, err
	}

	row := &TxRow{
		Tx:        tx,
		State:     TxState(stateByte[0]),
		Timestamp: now,
		NeedCheck: needCheckByte[0] != 0,
	}
	switch row.State {
	case StateConfirmed:
		row.BlockHeight = heightOrTS
	case StateUnconfirmed:
		row.Timestamp = time.Unix(int64(heightOrTS), 0)
	}

	return &hash, row, nil
}
