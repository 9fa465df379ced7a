// Package bdk tracks blockchain state for a Bitcoin wallet: which
// transactions are relevant, which of those are canonical, and how
// they map onto a local model of the best chain.
//
// The three moving parts are TxGraph, a monotone mergeable store of
// transactions, anchors and last-seen timestamps; LocalChain, a sparse
// checkpoint chain supporting cheap reorg rollback; and CanonicalView,
// a deterministic pass that resolves double-spends against a
// ChainOracle into an immutable snapshot.
//
// Mutation is single-writer: external sync collaborators apply change
// sets, and every mutator returns the change set it caused so callers
// can persist it (see the db package). Snapshots are immutable and may
// be read concurrently.
package bdk
