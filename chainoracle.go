package bdk

// ChainOracle answers whether a block is part of the best chain as of a
// given chain tip. LocalChain is the default implementation; an
// indexer- or node-backed oracle can substitute it, so the
// canonicalization pass depends only on this interface.
//
// IsBlockInChain returns known=false when the oracle cannot say either
// way (the height is not tracked, or lies above the queried tip). An
// error means the oracle itself failed and no answer is available.
type ChainOracle interface {
	IsBlockInChain(block, chainTip BlockID) (inChain, known bool, err error)
	ChainTip() (BlockID, error)
}
