package usage

import "errors"

var (
	// ErrSnapshotFetch is returned when the device listing could not be read.
	// The ledger is left untouched.
	ErrSnapshotFetch = errors.New("usage: snapshot fetch failed")

	// ErrLedgerRead is returned when a prior ledger record could not be read
	// for reasons other than absence or corruption.
	ErrLedgerRead = errors.New("usage: ledger read failed")

	// ErrLedgerWrite is returned when the cycle's batch could not be persisted.
	ErrLedgerWrite = errors.New("usage: ledger write failed")
)
