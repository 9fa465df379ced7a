package bdk

import (
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func TestChangeSetJSONRoundTrip(t *testing.T) {
	tx := testTx(1, wire.OutPoint{Hash: hashN(9), Index: 0})
	float := testTx(2)

	cs := NewChangeSet[BlockID]()
	hash := hashN(0xa)
	cs.Chain[100] = &hash
	cs.Chain[101] = nil
	cs.Graph.Txs[*tx.Hash()] = tx
	cs.Graph.TxOuts[outPoint(float, 1)] = wire.NewTxOut(77, []byte{0x51, 0x52})
	cs.Graph.addAnchor(*tx.Hash(), blockN(100, 0xa))
	cs.Graph.LastSeen[*tx.Hash()] = 42

	data, err := json.Marshal(cs)
	require.NoError(t, err)

	decoded := NewChangeSet[BlockID]()
	require.NoError(t, json.Unmarshal(data, &decoded))

	again, err := json.Marshal(decoded)
	require.NoError(t, err)
	require.Equal(t, string(data), string(again))

	require.Equal(t, hashN(0xa), *decoded.Chain[100])
	require.Nil(t, decoded.Chain[101])
	require.Equal(t, uint64(42), decoded.Graph.LastSeen[*tx.Hash()])
	require.Equal(t, *tx.Hash(), *decoded.Graph.Txs[*tx.Hash()].Hash())

	txo := decoded.Graph.TxOuts[outPoint(float, 1)]
	require.NotNil(t, txo)
	require.Equal(t, int64(77), txo.Value)
}

func TestConfirmationBlockTimeRoundTrip(t *testing.T) {
	tx := testTx(1)

	cs := NewChangeSet[ConfirmationBlockTime]()
	anchor := ConfirmationBlockTime{BlockID: blockN(100, 0xa), ConfirmationTime: 555}
	cs.Graph.addAnchor(*tx.Hash(), anchor)

	data, err := json.Marshal(cs)
	require.NoError(t, err)

	decoded := NewChangeSet[ConfirmationBlockTime]()
	require.NoError(t, json.Unmarshal(data, &decoded))

	_, ok := decoded.Graph.Anchors[*tx.Hash()][anchor]
	require.True(t, ok)
}

// Two different hashes at one height within a single atomic change set
// is malformed and rejected before anything is applied.
func TestChangeSetDecodeConflict(t *testing.T) {
	a, b := hashN(0xa), hashN(0xb)
	raw := `{"chain":[` +
		`{"height":100,"hash":"` + a.String() + `"},` +
		`{"height":100,"hash":"` + b.String() + `"}]}`

	cs := NewChangeSet[BlockID]()
	err := json.Unmarshal([]byte(raw), &cs)
	var conflict *ChangeSetConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, uint32(100), conflict.Height)

	// duplicate identical entries are fine
	raw = `{"chain":[` +
		`{"height":100,"hash":"` + a.String() + `"},` +
		`{"height":100,"hash":"` + a.String() + `"}]}`
	cs = NewChangeSet[BlockID]()
	require.NoError(t, json.Unmarshal([]byte(raw), &cs))
}

func TestChainChangeSetMerge(t *testing.T) {
	a, b, c := hashN(0xa), hashN(0xb), hashN(0xc)

	// disjoint heights commute
	x := ChainChangeSet{100: &a}
	x.Merge(ChainChangeSet{101: &b})
	y := ChainChangeSet{101: &b}
	y.Merge(ChainChangeSet{100: &a})
	require.Equal(t, *x[100], *y[100])
	require.Equal(t, *x[101], *y[101])

	// later entries override at the same height
	z := ChainChangeSet{100: &a}
	z.Merge(ChainChangeSet{100: &c})
	require.Equal(t, c, *z[100])
	z.Merge(ChainChangeSet{100: nil})
	require.Nil(t, z[100])
}

// A persisted sequence of change sets replays to the exact state that
// produced it, both entry by entry and as a merged union.
func TestReplayReproducesState(t *testing.T) {
	chain, genesisCS := NewLocalChain(hashN(0))
	g := NewTxGraph[BlockID]()

	op := wire.OutPoint{Hash: hashN(9), Index: 0}
	t1 := testTx(1, op)
	t2 := testTx(2, op)

	var journal []ChangeSet[BlockID]
	record := func(chainCS ChainChangeSet, graphCS GraphChangeSet[BlockID]) {
		cs := NewChangeSet[BlockID]()
		cs.Chain.Merge(chainCS)
		cs.Graph.Merge(graphCS)
		journal = append(journal, cs)
	}

	record(genesisCS, GraphChangeSet[BlockID]{})
	ccs, err := chain.InsertBlock(blockN(100, 0xa))
	require.NoError(t, err)
	record(ccs, GraphChangeSet[BlockID]{})
	ccs, err = chain.InsertBlock(blockN(101, 0xb))
	require.NoError(t, err)
	record(ccs, GraphChangeSet[BlockID]{})

	record(nil, g.InsertTx(t1))
	record(nil, g.InsertTx(t2))
	record(nil, g.InsertAnchor(*t1.Hash(), blockN(100, 0xa)))
	record(nil, g.InsertSeenAt(*t2.Hash(), 77))

	// reorg 101 out
	ccs, err = chain.InsertBlock(blockN(101, 0xc))
	require.NoError(t, err)
	record(ccs, GraphChangeSet[BlockID]{})

	// serialize the journal, then replay it onto fresh state
	merged := NewChangeSet[BlockID]()
	for _, cs := range journal {
		data, err := json.Marshal(cs)
		require.NoError(t, err)
		decoded := NewChangeSet[BlockID]()
		require.NoError(t, json.Unmarshal(data, &decoded))
		merged.Merge(decoded)
	}

	replayChain, err := NewLocalChainFromChangeSet(merged.Chain)
	require.NoError(t, err)
	require.Equal(t, chain.Checkpoints(), replayChain.Checkpoints())

	replayGraph := NewTxGraph[BlockID]()
	replayGraph.ApplyChangeSet(merged.Graph)
	require.Equal(t, graphJSON(t, g), graphJSON(t, replayGraph))

	// and the canonical views agree
	tip, _ := chain.Tip()
	snapA, err := CanonicalView(g, chain, tip)
	require.NoError(t, err)
	snapB, err := CanonicalView(replayGraph, replayChain, tip)
	require.NoError(t, err)
	require.Equal(t, snapA.Status(*t1.Hash()), snapB.Status(*t1.Hash()))
	require.Equal(t, snapA.Status(*t2.Hash()), snapB.Status(*t2.Hash()))
}
