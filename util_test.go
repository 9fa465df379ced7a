package bdk

import (
	"encoding/json"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func hashN(b byte) chainhash.Hash {
	return chainhash.Hash{b}
}

func blockN(height uint32, b byte) BlockID {
	return BlockID{Height: height, Hash: hashN(b)}
}

// testTx builds a transaction spending the given outpoints. The seed
// lands in the output value so every transaction gets a distinct txid.
func testTx(seed int64, spends ...wire.OutPoint) *btcutil.Tx {
	msg := wire.NewMsgTx(wire.TxVersion)
	for i := range spends {
		op := spends[i]
		msg.AddTxIn(wire.NewTxIn(&op, nil, nil))
	}
	msg.AddTxOut(wire.NewTxOut(seed, []byte{0x51}))
	return btcutil.NewTx(msg)
}

func outPoint(tx *btcutil.Tx, index uint32) wire.OutPoint {
	return wire.OutPoint{Hash: *tx.Hash(), Index: index}
}

// stateJSON renders combined state deterministically for equality
// checks; comparing decoded transactions directly trips over
// btcutil.Tx's lazily cached hashes.
func stateJSON(t *testing.T, cs ChangeSet[BlockID]) string {
	t.Helper()
	data, err := json.Marshal(cs)
	require.NoError(t, err)
	return string(data)
}

func graphJSON(t *testing.T, g *TxGraph[BlockID]) string {
	t.Helper()
	return stateJSON(t, ChangeSet[BlockID]{Chain: ChainChangeSet{}, Graph: g.ChangeSet()})
}

// testChain builds a chain with genesis hashN(0) plus a checkpoint per
// given block.
func testChain(t *testing.T, blocks ...BlockID) *LocalChain {
	t.Helper()
	chain, _ := NewLocalChain(hashN(0))
	for _, b := range blocks {
		_, err := chain.InsertBlock(b)
		require.NoError(t, err)
	}
	return chain
}
