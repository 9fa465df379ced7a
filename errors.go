package bdk

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrCycleDetected is returned when dependency evaluation finds a
	// cycle in the transaction graph. Real transactions cannot form
	// cycles, so this always indicates corrupted input.
	ErrCycleDetected = errors.New("cycle detected in transaction graph")

	// ErrMissingGenesis is returned when constructing a chain from a
	// change set that carries no checkpoint at height 0.
	ErrMissingGenesis = errors.New("change set has no genesis checkpoint")

	// ErrDisconnectGenesis is returned when a disconnect would remove
	// the genesis checkpoint.
	ErrDisconnectGenesis = errors.New("cannot disconnect the genesis checkpoint")

	// ErrReplaceGenesis is returned when an insert or change set would
	// put a different hash at height 0.
	ErrReplaceGenesis = errors.New("cannot replace the genesis checkpoint")
)

// ChangeSetConflictError reports a malformed change set: two different
// block hashes at the same height within one atomic unit. The change
// set is rejected before any mutation.
type ChangeSetConflictError struct {
	Height uint32
	HashA  chainhash.Hash
	HashB  chainhash.Hash
}

func (e *ChangeSetConflictError) Error() string {
	return fmt.Sprintf("change set conflict at height %d: %v vs %v",
		e.Height, e.HashA, e.HashB)
}

// InconsistencyError reports a data-integrity violation found during
// canonicalization: two spenders of the same output both claim a
// currently-valid confirmed position. Only one spend can exist per
// block history, so this is surfaced rather than silently resolved.
type InconsistencyError struct {
	OutPoint wire.OutPoint
	TxA      chainhash.Hash
	TxB      chainhash.Hash
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("output %v has two confirmed spenders: %v and %v",
		e.OutPoint, e.TxA, e.TxB)
}

// OracleError wraps a failure of the chain oracle. Canonicalization
// aborts with it rather than guessing at chain membership.
type OracleError struct {
	Err error
}

func (e *OracleError) Error() string {
	return "chain oracle unavailable: " + e.Err.Error()
}

func (e *OracleError) Unwrap() error { return e.Err }
