package bdk

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestInsertTxIdempotent(t *testing.T) {
	g := NewTxGraph[BlockID]()
	tx := testTx(1, wire.OutPoint{Hash: hashN(9), Index: 0})

	cs := g.InsertTx(tx)
	require.False(t, cs.IsEmpty())
	before := graphJSON(t, g)

	cs = g.InsertTx(tx)
	require.True(t, cs.IsEmpty())
	require.Equal(t, before, graphJSON(t, g))
}

func TestInsertAnchorDuplicateNoop(t *testing.T) {
	g := NewTxGraph[BlockID]()
	tx := testTx(1)

	cs := g.InsertAnchor(*tx.Hash(), blockN(100, 0xa))
	require.False(t, cs.IsEmpty())

	cs = g.InsertAnchor(*tx.Hash(), blockN(100, 0xa))
	require.True(t, cs.IsEmpty())

	cs = g.InsertAnchor(*tx.Hash(), blockN(101, 0xb))
	require.False(t, cs.IsEmpty())

	require.Equal(t, []BlockID{blockN(100, 0xa), blockN(101, 0xb)},
		g.Anchors(*tx.Hash()))
}

func TestInsertSeenAtMonotonic(t *testing.T) {
	g := NewTxGraph[BlockID]()
	txid := hashN(7)

	cs := g.InsertSeenAt(txid, 20)
	require.False(t, cs.IsEmpty())

	// a lower observation never overwrites
	cs = g.InsertSeenAt(txid, 10)
	require.True(t, cs.IsEmpty())

	seen, ok := g.LastSeen(txid)
	require.True(t, ok)
	require.Equal(t, uint64(20), seen)

	cs = g.InsertSeenAt(txid, 30)
	require.False(t, cs.IsEmpty())
	seen, _ = g.LastSeen(txid)
	require.Equal(t, uint64(30), seen)
}

func TestOutspendsConflicts(t *testing.T) {
	g := NewTxGraph[BlockID]()
	op := wire.OutPoint{Hash: hashN(9), Index: 1}

	t1 := testTx(1, op)
	t2 := testTx(2, op)
	g.InsertTx(t1)
	g.InsertTx(t2)

	spenders := g.Outspends(op)
	require.Len(t, spenders, 2)
	require.Contains(t, spenders, *t1.Hash())
	require.Contains(t, spenders, *t2.Hash())

	require.Empty(t, g.Outspends(wire.OutPoint{Hash: hashN(9), Index: 2}))
}

func TestCoinbaseInputNotIndexed(t *testing.T) {
	g := NewTxGraph[BlockID]()
	null := wire.OutPoint{Index: wire.MaxPrevOutIndex}

	cb1 := testTx(1, null)
	cb2 := testTx(2, null)
	g.InsertTx(cb1)
	g.InsertTx(cb2)

	// two coinbases never conflict with each other
	require.Empty(t, g.Outspends(null))
}

func TestInsertTxOutFloating(t *testing.T) {
	g := NewTxGraph[BlockID]()
	parent := testTx(5)
	op := outPoint(parent, 0)
	txo := wire.NewTxOut(5, []byte{0x51})

	cs := g.InsertTxOut(op, txo)
	require.False(t, cs.IsEmpty())

	got, ok := g.TxOut(op)
	require.True(t, ok)
	require.Equal(t, txo.Value, got.Value)

	// identical float is a no-op
	cs = g.InsertTxOut(op, wire.NewTxOut(5, []byte{0x51}))
	require.True(t, cs.IsEmpty())

	// the full transaction subsumes the float
	g.InsertTx(parent)
	cs = g.InsertTxOut(op, txo)
	require.True(t, cs.IsEmpty())
	got, ok = g.TxOut(op)
	require.True(t, ok)
	require.Equal(t, parent.MsgTx().TxOut[0].Value, got.Value)
}

func TestIDOnlyRecords(t *testing.T) {
	g := NewTxGraph[BlockID]()
	txid := hashN(3)

	g.InsertAnchor(txid, blockN(100, 0xa))

	require.Contains(t, g.TxIDs(), txid)
	_, ok := g.Tx(txid)
	require.False(t, ok)
}

func TestMergeCommutativeIdempotent(t *testing.T) {
	op := wire.OutPoint{Hash: hashN(9), Index: 0}
	t1 := testTx(1, op)
	t2 := testTx(2, op)

	build := func(insert func(g *TxGraph[BlockID])) *TxGraph[BlockID] {
		g := NewTxGraph[BlockID]()
		insert(g)
		return g
	}
	makeA := func() *TxGraph[BlockID] {
		return build(func(g *TxGraph[BlockID]) {
			g.InsertTx(t1)
			g.InsertAnchor(*t1.Hash(), blockN(100, 0xa))
			g.InsertSeenAt(*t2.Hash(), 10)
		})
	}
	makeB := func() *TxGraph[BlockID] {
		return build(func(g *TxGraph[BlockID]) {
			g.InsertTx(t2)
			g.InsertTx(t1) // overlap with A
			g.InsertSeenAt(*t2.Hash(), 25)
			g.InsertAnchor(*t1.Hash(), blockN(100, 0xa))
		})
	}

	ab := makeA()
	ab.Merge(makeB())

	ba := makeB()
	ba.Merge(makeA())
	require.Equal(t, graphJSON(t, ab), graphJSON(t, ba))

	// merge(merge(A,B), A) == merge(A,B)
	again := makeA()
	again.Merge(makeB())
	cs := again.Merge(makeA())
	require.True(t, cs.IsEmpty())
	require.Equal(t, graphJSON(t, ab), graphJSON(t, again))

	// last-seen merged to the pointwise max
	seen, _ := ab.LastSeen(*t2.Hash())
	require.Equal(t, uint64(25), seen)
}

func TestApplyChangeSetReturnsEffectiveDelta(t *testing.T) {
	g := NewTxGraph[BlockID]()
	tx := testTx(1)
	g.InsertTx(tx)

	cs := NewGraphChangeSet[BlockID]()
	cs.Txs[*tx.Hash()] = tx
	cs.LastSeen[*tx.Hash()] = 40

	applied := g.ApplyChangeSet(cs)
	require.Empty(t, applied.Txs) // tx already known
	require.Equal(t, uint64(40), applied.LastSeen[*tx.Hash()])
}
