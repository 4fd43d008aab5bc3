// Copyright (c) 2014-2018 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txstore

import "fmt"

// ErrorCode identifies a kind of error returned from the store.
type ErrorCode int

const (
	// ErrLoadMagic indicates a serialized blob began with neither the
	// current nor the legacy magic value.
	ErrLoadMagic ErrorCode = iota

	// ErrLoadTruncated indicates the blob ended in the middle of a
	// field that load expected to be able to read in full.
	ErrLoadTruncated

	// ErrLoadRowTag indicates a row block did not begin with the
	// expected row tag byte.
	ErrLoadRowTag

	// ErrLoadTx indicates a row's body after its tag (hash, transaction
	// payload, state, height or flag) failed to decode, whether from
	// truncation or from a transaction that is not a valid wire.MsgTx.
	ErrLoadTx
)

var errorCodeStrings = map[ErrorCode]string{
	ErrLoadMagic:     "ErrLoadMagic",
	ErrLoadTruncated: "ErrLoadTruncated",
	ErrLoadRowTag:    "ErrLoadRowTag",
	ErrLoadTx:        "ErrLoadTx",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

// StoreError provides a single error type for load failures. Every other
// store operation that can fail does so through a bool or a panic: load is
// the one place the spec asks for a diagnosable reason.
type StoreError struct {
	ErrorCode   ErrorCode
	Description string
	Err         error
}

// Error satisfies the error interface.
func (e StoreError) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

func storeError(c ErrorCode, desc string, err error) StoreError {
	return StoreError{ErrorCode: c, Description: desc, Err: err}
}
