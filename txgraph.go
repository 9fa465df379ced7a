package bdk

import (
	"bytes"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// txNode holds what is known about a single txid: the full transaction
// once it is available, or just the outputs observed so far. A node
// with neither is an id-only record, which is valid; the graph
// tolerates partial knowledge.
type txNode struct {
	tx     *btcutil.Tx
	txOuts map[uint32]*wire.TxOut
}

// TxGraph stores transactions, floating outputs, anchors linking
// transactions to blocks, and last-seen timestamps for transactions
// observed unconfirmed. It is a monotone, mergeable structure: nothing
// is ever destructively overwritten, so merging partial views from any
// number of sync sources in any order converges to the same state.
// Conflicting transactions (double-spends) coexist here without loss
// of information; picking a winner is the canonicalization pass's job.
//
// A TxGraph is not safe for concurrent mutation; see the package
// concurrency notes.
type TxGraph[A Anchor] struct {
	nodes    map[chainhash.Hash]*txNode
	anchors  map[chainhash.Hash]map[A]struct{}
	lastSeen map[chainhash.Hash]uint64

	// spends is the derived index of outpoint -> spender txids,
	// maintained incrementally as full transactions arrive. Multiple
	// spenders of one outpoint are direct conflicts.
	spends map[wire.OutPoint]map[chainhash.Hash]struct{}
}

// NewTxGraph returns an empty graph.
func NewTxGraph[A Anchor]() *TxGraph[A] {
	return &TxGraph[A]{
		nodes:    make(map[chainhash.Hash]*txNode),
		anchors:  make(map[chainhash.Hash]map[A]struct{}),
		lastSeen: make(map[chainhash.Hash]uint64),
		spends:   make(map[wire.OutPoint]map[chainhash.Hash]struct{}),
	}
}

// InsertTx stores a full transaction, upgrading an id-only or
// outputs-only record in place. Inserting the same transaction again
// is a no-op and returns an empty change set.
func (g *TxGraph[A]) InsertTx(tx *btcutil.Tx) GraphChangeSet[A] {
	cs := NewGraphChangeSet[A]()
	txid := *tx.Hash()

	node := g.node(txid)
	if node.tx != nil {
		return cs
	}
	node.tx = tx
	node.txOuts = nil // subsumed by the full transaction

	for _, in := range tx.MsgTx().TxIn {
		op := in.PreviousOutPoint
		if isNullOutPoint(op) {
			continue // coinbase input spends nothing
		}
		set, ok := g.spends[op]
		if !ok {
			set = make(map[chainhash.Hash]struct{})
			g.spends[op] = set
		}
		set[txid] = struct{}{}
	}

	cs.Txs[txid] = tx
	return cs
}

// InsertTxOut records a single floating output for a transaction whose
// body is unknown, e.g. the funding output of a foreign transaction. A
// no-op if the full transaction or an identical output is already
// present.
func (g *TxGraph[A]) InsertTxOut(op wire.OutPoint, txOut *wire.TxOut) GraphChangeSet[A] {
	cs := NewGraphChangeSet[A]()

	node := g.node(op.Hash)
	if node.tx != nil {
		return cs
	}
	if have, ok := node.txOuts[op.Index]; ok && sameTxOut(have, txOut) {
		return cs
	}
	if node.txOuts == nil {
		node.txOuts = make(map[uint32]*wire.TxOut)
	}
	node.txOuts[op.Index] = txOut
	cs.TxOuts[op] = txOut
	return cs
}

// InsertAnchor adds an anchor for a txid. Duplicate insertion is a
// no-op. The txid need not be otherwise known; an id-only record is
// created.
func (g *TxGraph[A]) InsertAnchor(txid chainhash.Hash, anchor A) GraphChangeSet[A] {
	cs := NewGraphChangeSet[A]()

	set, ok := g.anchors[txid]
	if !ok {
		set = make(map[A]struct{})
		g.anchors[txid] = set
	}
	if _, ok := set[anchor]; ok {
		return cs
	}
	set[anchor] = struct{}{}
	g.node(txid)

	cs.addAnchor(txid, anchor)
	return cs
}

// InsertSeenAt records that the transaction was observed unconfirmed
// at the given unix timestamp. The stored value never decreases.
func (g *TxGraph[A]) InsertSeenAt(txid chainhash.Hash, seenAt uint64) GraphChangeSet[A] {
	cs := NewGraphChangeSet[A]()

	if seenAt <= g.lastSeen[txid] {
		return cs
	}
	g.lastSeen[txid] = seenAt
	g.node(txid)

	cs.LastSeen[txid] = seenAt
	return cs
}

// ApplyChangeSet replays a graph change set through the inserts and
// returns the effective delta (empty if everything was already known).
func (g *TxGraph[A]) ApplyChangeSet(cs GraphChangeSet[A]) GraphChangeSet[A] {
	applied := NewGraphChangeSet[A]()
	for _, tx := range cs.Txs {
		applied.Merge(g.InsertTx(tx))
	}
	for op, txo := range cs.TxOuts {
		applied.Merge(g.InsertTxOut(op, txo))
	}
	for txid, anchors := range cs.Anchors {
		for a := range anchors {
			applied.Merge(g.InsertAnchor(txid, a))
		}
	}
	for txid, seen := range cs.LastSeen {
		applied.Merge(g.InsertSeenAt(txid, seen))
	}
	return applied
}

// Merge unions another graph into this one: transaction records and
// anchor sets union, last-seen takes the pointwise max. Associative,
// commutative, idempotent.
func (g *TxGraph[A]) Merge(other *TxGraph[A]) GraphChangeSet[A] {
	return g.ApplyChangeSet(other.ChangeSet())
}

// ChangeSet returns the whole graph as a change set; applying it to an
// empty graph reproduces this one.
func (g *TxGraph[A]) ChangeSet() GraphChangeSet[A] {
	cs := NewGraphChangeSet[A]()
	for txid, node := range g.nodes {
		if node.tx != nil {
			cs.Txs[txid] = node.tx
			continue
		}
		for vout, txo := range node.txOuts {
			cs.TxOuts[wire.OutPoint{Hash: txid, Index: vout}] = txo
		}
	}
	for txid, anchors := range g.anchors {
		for a := range anchors {
			cs.addAnchor(txid, a)
		}
	}
	for txid, seen := range g.lastSeen {
		cs.LastSeen[txid] = seen
	}
	return cs
}

// Tx returns the full transaction for a txid, if known.
func (g *TxGraph[A]) Tx(txid chainhash.Hash) (*btcutil.Tx, bool) {
	node, ok := g.nodes[txid]
	if !ok || node.tx == nil {
		return nil, false
	}
	return node.tx, true
}

// TxOut returns the output at op, from the full transaction when the
// body is known, or from a floating output otherwise.
func (g *TxGraph[A]) TxOut(op wire.OutPoint) (*wire.TxOut, bool) {
	node, ok := g.nodes[op.Hash]
	if !ok {
		return nil, false
	}
	if node.tx != nil {
		outs := node.tx.MsgTx().TxOut
		if op.Index >= uint32(len(outs)) {
			return nil, false
		}
		return outs[op.Index], true
	}
	txo, ok := node.txOuts[op.Index]
	return txo, ok
}

// Outspends returns the known spenders of an output, sorted by txid.
// More than one spender means a direct conflict.
func (g *TxGraph[A]) Outspends(op wire.OutPoint) []chainhash.Hash {
	return sortedTxIDs(g.spends[op])
}

// Anchors returns the anchors recorded for a txid, sorted by block.
func (g *TxGraph[A]) Anchors(txid chainhash.Hash) []A {
	anchors := make([]A, 0, len(g.anchors[txid]))
	for a := range g.anchors[txid] {
		anchors = append(anchors, a)
	}
	sortAnchors(anchors)
	return anchors
}

// LastSeen returns the last-seen timestamp for a txid, if recorded.
func (g *TxGraph[A]) LastSeen(txid chainhash.Hash) (uint64, bool) {
	seen, ok := g.lastSeen[txid]
	return seen, ok
}

// FullTxs returns every transaction whose body is known, sorted by
// txid.
func (g *TxGraph[A]) FullTxs() []*btcutil.Tx {
	txids := make([]chainhash.Hash, 0, len(g.nodes))
	for txid, node := range g.nodes {
		if node.tx != nil {
			txids = append(txids, txid)
		}
	}
	sort.Slice(txids, func(i, j int) bool {
		return bytes.Compare(txids[i][:], txids[j][:]) < 0
	})
	txs := make([]*btcutil.Tx, len(txids))
	for i, txid := range txids {
		txs[i] = g.nodes[txid].tx
	}
	return txs
}

// TxIDs returns every txid the graph knows of, including id-only
// records, sorted.
func (g *TxGraph[A]) TxIDs() []chainhash.Hash {
	return sortedTxIDs(g.nodes)
}

func (g *TxGraph[A]) node(txid chainhash.Hash) *txNode {
	node, ok := g.nodes[txid]
	if !ok {
		node = &txNode{}
		g.nodes[txid] = node
	}
	return node
}

func isNullOutPoint(op wire.OutPoint) bool {
	return op.Index == wire.MaxPrevOutIndex && op.Hash == chainhash.Hash{}
}

func sameTxOut(a, b *wire.TxOut) bool {
	return a.Value == b.Value && bytes.Equal(a.PkScript, b.PkScript)
}
