package bdk

import (
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// LocalChain is a sparse checkpoint chain: the wallet's current belief
// about the best chain at the heights it has specifically observed,
// rooted at a genesis checkpoint at height 0. It only stores what the
// wallet has seen, so memory stays flat regardless of chain length,
// and a shallow reorg is rolled back by disconnecting a few
// checkpoints rather than re-syncing.
//
// LocalChain implements ChainOracle.
type LocalChain struct {
	blocks  map[uint32]chainhash.Hash
	heights []uint32 // ascending, mirrors the keys of blocks
}

// NewLocalChain returns a chain holding only the genesis checkpoint,
// along with the change set that records it.
func NewLocalChain(genesis chainhash.Hash) (*LocalChain, ChainChangeSet) {
	c := &LocalChain{
		blocks:  map[uint32]chainhash.Hash{0: genesis},
		heights: []uint32{0},
	}
	return c, ChainChangeSet{0: &genesis}
}

// NewLocalChainFromChangeSet reconstructs a chain from a change set,
// typically the merged union of everything previously persisted.
// The change set must place a checkpoint at height 0.
func NewLocalChainFromChangeSet(cs ChainChangeSet) (*LocalChain, error) {
	g, ok := cs[0]
	if !ok || g == nil {
		return nil, ErrMissingGenesis
	}
	c := &LocalChain{blocks: make(map[uint32]chainhash.Hash, len(cs))}
	if err := c.ApplyChangeSet(cs); err != nil {
		return nil, err
	}
	return c, nil
}

// InsertBlock adds or overwrites the checkpoint at b.Height and
// returns the resulting delta. Re-inserting an identical checkpoint is
// a no-op. Inserting a hash that conflicts with the one stored at that
// height models a reorg: every checkpoint at or above the height is
// disconnected before the new one is appended, keeping the stored
// chain a single connected sequence. A new height that was simply
// never tracked slots in without disturbing its neighbors.
func (c *LocalChain) InsertBlock(b BlockID) (ChainChangeSet, error) {
	have, ok := c.blocks[b.Height]
	if ok && have == b.Hash {
		return ChainChangeSet{}, nil
	}
	if b.Height == 0 && ok {
		return nil, ErrReplaceGenesis
	}

	cs := ChainChangeSet{}
	if ok {
		removed := c.truncateFrom(b.Height)
		log.Debugf("Reorg at height %d: %v replaces %v, %d checkpoint(s) "+
			"disconnected", b.Height, b.Hash, have, len(removed))
		for _, h := range removed {
			cs[h] = nil
		}
	}
	c.blocks[b.Height] = b.Hash
	c.insertHeight(b.Height)
	hash := b.Hash
	cs[b.Height] = &hash
	return cs, nil
}

// DisconnectFrom removes every checkpoint at or above height, modeling
// a detected reorg before the replacement tip is known. The genesis
// checkpoint cannot be disconnected.
func (c *LocalChain) DisconnectFrom(height uint32) (ChainChangeSet, error) {
	if height == 0 {
		return nil, ErrDisconnectGenesis
	}
	cs := ChainChangeSet{}
	for _, h := range c.truncateFrom(height) {
		cs[h] = nil
	}
	return cs, nil
}

// ApplyChangeSet replays a change set atomically. The change set is
// validated up front and rejected without mutation if it would replace
// or remove genesis while the chain holds one.
func (c *LocalChain) ApplyChangeSet(cs ChainChangeSet) error {
	if hash, ok := cs[0]; ok {
		if hash == nil {
			return ErrDisconnectGenesis
		}
		if have, ok := c.blocks[0]; ok && have != *hash {
			return ErrReplaceGenesis
		}
	}
	for h, hash := range cs {
		if hash == nil {
			if _, ok := c.blocks[h]; ok {
				delete(c.blocks, h)
			}
		} else {
			c.blocks[h] = *hash
		}
	}
	c.rebuildHeights()
	return nil
}

// ChangeSet returns the whole chain as a change set; applying it to an
// empty chain reproduces this one.
func (c *LocalChain) ChangeSet() ChainChangeSet {
	cs := make(ChainChangeSet, len(c.blocks))
	for h, hash := range c.blocks {
		hash := hash
		cs[h] = &hash
	}
	return cs
}

// Tip returns the highest checkpoint. ok is false only for a
// zero-value chain that was never given genesis.
func (c *LocalChain) Tip() (BlockID, bool) {
	if len(c.heights) == 0 {
		return BlockID{}, false
	}
	h := c.heights[len(c.heights)-1]
	return BlockID{Height: h, Hash: c.blocks[h]}, true
}

// BlockIDAt returns the checkpoint at the given height, if tracked.
func (c *LocalChain) BlockIDAt(height uint32) (BlockID, bool) {
	hash, ok := c.blocks[height]
	if !ok {
		return BlockID{}, false
	}
	return BlockID{Height: height, Hash: hash}, true
}

// HeightOf scans for the height holding the given hash.
func (c *LocalChain) HeightOf(hash chainhash.Hash) (uint32, bool) {
	for h, b := range c.blocks {
		if b == hash {
			return h, true
		}
	}
	return 0, false
}

// Checkpoints returns all checkpoints in ascending height order.
func (c *LocalChain) Checkpoints() []BlockID {
	result := make([]BlockID, len(c.heights))
	for i, h := range c.heights {
		result[i] = BlockID{Height: h, Hash: c.blocks[h]}
	}
	return result
}

// IsBlockInChain implements ChainOracle. The answer is unknown when
// the queried tip does not match this chain or the block's height is
// not tracked at or below that tip.
func (c *LocalChain) IsBlockInChain(block, chainTip BlockID) (bool, bool, error) {
	tipHash, ok := c.blocks[chainTip.Height]
	if !ok || tipHash != chainTip.Hash {
		return false, false, nil
	}
	if block.Height > chainTip.Height {
		return false, false, nil
	}
	hash, ok := c.blocks[block.Height]
	if !ok {
		return false, false, nil
	}
	return hash == block.Hash, true, nil
}

// ChainTip implements ChainOracle.
func (c *LocalChain) ChainTip() (BlockID, error) {
	tip, ok := c.Tip()
	if !ok {
		return BlockID{}, ErrMissingGenesis
	}
	return tip, nil
}

// truncateFrom removes all checkpoints at or above height and returns
// the removed heights.
func (c *LocalChain) truncateFrom(height uint32) []uint32 {
	i := sort.Search(len(c.heights), func(i int) bool {
		return c.heights[i] >= height
	})
	removed := make([]uint32, len(c.heights)-i)
	copy(removed, c.heights[i:])
	for _, h := range removed {
		delete(c.blocks, h)
	}
	c.heights = c.heights[:i]
	return removed
}

func (c *LocalChain) insertHeight(height uint32) {
	i := sort.Search(len(c.heights), func(i int) bool {
		return c.heights[i] >= height
	})
	if i < len(c.heights) && c.heights[i] == height {
		return
	}
	c.heights = append(c.heights, 0)
	copy(c.heights[i+1:], c.heights[i:])
	c.heights[i] = height
}

func (c *LocalChain) rebuildHeights() {
	c.heights = c.heights[:0]
	for h := range c.blocks {
		c.heights = append(c.heights, h)
	}
	sort.Slice(c.heights, func(i, j int) bool { return c.heights[i] < c.heights[j] })
}
