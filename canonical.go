package bdk

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ChainPosition is where a canonical transaction sits: confirmed by an
// anchor whose block is in the best chain, or unconfirmed since its
// last-seen timestamp.
type ChainPosition[A Anchor] struct {
	Confirmed bool
	Anchor    A      // set when Confirmed
	LastSeen  uint64 // set when not Confirmed; 0 if never observed
}

// ConfirmationHeight returns the confirming block height, if confirmed.
func (p ChainPosition[A]) ConfirmationHeight() (uint32, bool) {
	if !p.Confirmed {
		return 0, false
	}
	return p.Anchor.AnchorBlock().Height, true
}

func (p ChainPosition[A]) String() string {
	if p.Confirmed {
		return fmt.Sprintf("confirmed at %v", p.Anchor.AnchorBlock())
	}
	return fmt.Sprintf("unconfirmed since %d", p.LastSeen)
}

// TxStatus is a transaction's standing within a snapshot.
type TxStatus uint8

const (
	// StatusUnknown: the snapshot has no verdict, e.g. the graph only
	// holds an id-only record for the txid.
	StatusUnknown TxStatus = iota

	// StatusNotCanonical: the transaction lost a conflict, descends
	// from a non-canonical transaction, or carries only stale anchors.
	StatusNotCanonical

	// StatusCanonical: the wallet's current belief is that this
	// transaction happened.
	StatusCanonical
)

// CanonicalTx pairs a canonical transaction with its position.
type CanonicalTx[A Anchor] struct {
	Tx  *btcutil.Tx
	Pos ChainPosition[A]
}

// Hazard records a consistency oddity that was observed but did not
// abort the pass: a transaction carrying valid anchors at more than
// one distinct block. The lowest block wins, but the condition should
// not occur if chain integrity holds.
type Hazard struct {
	TxID   chainhash.Hash
	Blocks []BlockID
}

// CanonicalSnapshot is the immutable result of a canonicalization
// pass. It holds no reference to live graph or chain state beyond the
// transactions themselves, so concurrent readers may share it freely.
type CanonicalSnapshot[A Anchor] struct {
	chainTip  BlockID
	status    map[chainhash.Hash]TxStatus
	pos       map[chainhash.Hash]ChainPosition[A]
	txs       map[chainhash.Hash]*btcutil.Tx
	spends    map[wire.OutPoint]chainhash.Hash
	canonical []chainhash.Hash // priority order
	hazards   []Hazard
}

// ChainTip returns the tip the snapshot was computed against.
func (s *CanonicalSnapshot[A]) ChainTip() BlockID { return s.chainTip }

// Status returns the snapshot's verdict for a txid.
func (s *CanonicalSnapshot[A]) Status(txid chainhash.Hash) TxStatus {
	return s.status[txid]
}

// Position returns the chain position of a canonical transaction; ok
// is false when the transaction is not canonical or not known.
func (s *CanonicalSnapshot[A]) Position(txid chainhash.Hash) (ChainPosition[A], bool) {
	if s.status[txid] != StatusCanonical {
		return ChainPosition[A]{}, false
	}
	return s.pos[txid], true
}

// Spender returns the canonical spender of an output, if any. No
// spender means the output is unspent as far as the canonical view
// knows.
func (s *CanonicalSnapshot[A]) Spender(op wire.OutPoint) (chainhash.Hash, bool) {
	txid, ok := s.spends[op]
	return txid, ok
}

// CanonicalTxs returns the canonical set in priority order: confirmed
// transactions by ascending height, then unconfirmed by descending
// last-seen, ancestors before descendants within one chain of spends.
func (s *CanonicalSnapshot[A]) CanonicalTxs() []CanonicalTx[A] {
	result := make([]CanonicalTx[A], len(s.canonical))
	for i, txid := range s.canonical {
		result[i] = CanonicalTx[A]{Tx: s.txs[txid], Pos: s.pos[txid]}
	}
	return result
}

// Hazards returns the consistency hazards observed during the pass.
func (s *CanonicalSnapshot[A]) Hazards() []Hazard { return s.hazards }

// CanonicalView computes, for every transaction the graph holds in
// full, whether it is canonical as of chainTip, resolving double
// spends deterministically. The graph and oracle are only read; the
// returned snapshot is immutable.
//
// Resolution order: a spender with a currently-valid confirmed anchor
// beats any unconfirmed spender; among confirmed, lower height wins;
// among unconfirmed, higher last-seen wins, ties broken by txid. A
// transaction is canonical only if every ancestor the graph holds in
// full is canonical. A transaction whose every anchor points outside
// the best chain is not canonical regardless of last-seen; it must be
// re-anchored or re-observed under a fresh view to count again.
//
// Two confirmed spenders of one output and dependency cycles are
// data-integrity errors; an oracle failure aborts the pass.
func CanonicalView[A Anchor](g *TxGraph[A], oracle ChainOracle, chainTip BlockID) (*CanonicalSnapshot[A], error) {
	b := &canonicalBuilder[A]{
		g:      g,
		cands:  make(map[chainhash.Hash]*candidate[A]),
		status: make(map[chainhash.Hash]TxStatus),
		claims: make(map[wire.OutPoint]chainhash.Hash),
	}

	var confirmed, unconfirmed []chainhash.Hash
	for _, txid := range g.TxIDs() {
		node := g.nodes[txid]
		if node.tx == nil {
			continue // id-only records get no verdict
		}
		c := &candidate[A]{tx: node.tx}

		var validBlocks []BlockID
		for _, a := range g.Anchors(txid) { // ascending height
			c.anchored = true
			blk := a.AnchorBlock()
			in, known, err := oracle.IsBlockInChain(blk, chainTip)
			if err != nil {
				return nil, &OracleError{Err: err}
			}
			if !in || !known {
				continue
			}
			if !c.pos.Confirmed {
				c.pos = ChainPosition[A]{Confirmed: true, Anchor: a}
			}
			validBlocks = appendBlockUnique(validBlocks, blk)
		}

		switch {
		case c.pos.Confirmed:
			if len(validBlocks) > 1 {
				log.Warnf("Transaction %v has valid anchors at %d distinct "+
					"blocks, keeping the lowest", txid, len(validBlocks))
				b.hazards = append(b.hazards, Hazard{TxID: txid, Blocks: validBlocks})
			}
			confirmed = append(confirmed, txid)
		case c.anchored:
			// Every anchor points outside the best chain: the
			// transaction was confirmed on a branch that lost.
			b.status[txid] = StatusNotCanonical
		default:
			c.pos.LastSeen, _ = g.LastSeen(txid)
			unconfirmed = append(unconfirmed, txid)
		}
		b.cands[txid] = c
	}

	sort.Slice(confirmed, func(i, j int) bool {
		hi, _ := b.cands[confirmed[i]].pos.ConfirmationHeight()
		hj, _ := b.cands[confirmed[j]].pos.ConfirmationHeight()
		if hi != hj {
			return hi < hj
		}
		return bytes.Compare(confirmed[i][:], confirmed[j][:]) < 0
	})
	sort.Slice(unconfirmed, func(i, j int) bool {
		si := b.cands[unconfirmed[i]].pos.LastSeen
		sj := b.cands[unconfirmed[j]].pos.LastSeen
		if si != sj {
			return si > sj
		}
		return bytes.Compare(unconfirmed[i][:], unconfirmed[j][:]) < 0
	})

	for _, txid := range append(confirmed, unconfirmed...) {
		if b.status[txid] != StatusUnknown {
			continue
		}
		if err := b.tryMark(txid); err != nil {
			return nil, err
		}
	}

	snap := &CanonicalSnapshot[A]{
		chainTip:  chainTip,
		status:    b.status,
		pos:       make(map[chainhash.Hash]ChainPosition[A], len(b.cands)),
		txs:       make(map[chainhash.Hash]*btcutil.Tx, len(b.cands)),
		spends:    b.claims,
		canonical: b.canonical,
		hazards:   b.hazards,
	}
	for txid, c := range b.cands {
		snap.pos[txid] = c.pos
		snap.txs[txid] = c.tx
	}
	return snap, nil
}

type candidate[A Anchor] struct {
	tx       *btcutil.Tx
	pos      ChainPosition[A]
	anchored bool
}

type canonicalBuilder[A Anchor] struct {
	g         *TxGraph[A]
	cands     map[chainhash.Hash]*candidate[A]
	status    map[chainhash.Hash]TxStatus
	claims    map[wire.OutPoint]chainhash.Hash
	canonical []chainhash.Hash
	hazards   []Hazard
}

// tryMark attempts to make txid canonical. Its unmarked ancestors are
// settled first, in dependency order: each one either becomes
// canonical, claiming the outpoints it spends and knocking out rival
// spenders, or fails (conflict lost, broken ancestry) and takes its
// descendants with it.
func (b *canonicalBuilder[A]) tryMark(txid chainhash.Hash) error {
	closure, err := b.ancestorClosure(txid)
	if err != nil {
		return err
	}

	for _, m := range closure {
		if b.status[m] != StatusUnknown {
			continue
		}
		c := b.cands[m]

		settled := true
		for _, in := range c.tx.MsgTx().TxIn {
			op := in.PreviousOutPoint
			if isNullOutPoint(op) {
				continue
			}
			if _, ok := b.cands[op.Hash]; ok && b.status[op.Hash] != StatusCanonical {
				settled = false
				break
			}
			if winner, ok := b.claims[op]; ok && winner != m {
				if c.pos.Confirmed && b.cands[winner].pos.Confirmed {
					return &InconsistencyError{OutPoint: op, TxA: winner, TxB: m}
				}
				settled = false
				break
			}
		}
		if !settled {
			b.markNonCanonical(m)
			continue
		}

		b.status[m] = StatusCanonical
		b.canonical = append(b.canonical, m)
		for _, in := range c.tx.MsgTx().TxIn {
			op := in.PreviousOutPoint
			if isNullOutPoint(op) {
				continue
			}
			b.claims[op] = m
			for _, rival := range b.g.Outspends(op) {
				if rival != m {
					b.markNonCanonical(rival)
				}
			}
		}
	}
	return nil
}

// markNonCanonical marks a transaction and, transitively, every
// graph-known spender of its outputs.
func (b *canonicalBuilder[A]) markNonCanonical(txid chainhash.Hash) {
	queue := []chainhash.Hash{txid}
	for len(queue) > 0 {
		h := queue[0]
		queue = queue[1:]
		if b.status[h] != StatusUnknown {
			continue
		}
		b.status[h] = StatusNotCanonical
		c, ok := b.cands[h]
		if !ok {
			continue
		}
		for i := range c.tx.MsgTx().TxOut {
			op := wire.OutPoint{Hash: h, Index: uint32(i)}
			queue = append(queue, b.g.Outspends(op)...)
		}
	}
}

// ancestorClosure returns txid and its unmarked in-graph ancestors in
// dependency order (ancestors first), via an iterative depth-first
// walk. A cycle means corrupted input and fails the pass.
func (b *canonicalBuilder[A]) ancestorClosure(txid chainhash.Hash) ([]chainhash.Hash, error) {
	const (
		gray  = 1
		black = 2
	)

	type frame struct {
		txid    chainhash.Hash
		parents []chainhash.Hash
		next    int
	}

	color := make(map[chainhash.Hash]uint8)
	var order []chainhash.Hash

	stack := []frame{{txid: txid, parents: b.parentsOf(txid)}}
	color[txid] = gray

	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if f.next < len(f.parents) {
			p := f.parents[f.next]
			f.next++
			switch color[p] {
			case gray:
				return nil, fmt.Errorf("%w: via %v", ErrCycleDetected, p)
			case black:
				// done
			default:
				color[p] = gray
				stack = append(stack, frame{txid: p, parents: b.parentsOf(p)})
			}
			continue
		}
		color[f.txid] = black
		order = append(order, f.txid)
		stack = stack[:len(stack)-1]
	}
	return order, nil
}

// parentsOf returns the distinct input sources of txid that the graph
// holds in full and that have no verdict yet, in input order.
func (b *canonicalBuilder[A]) parentsOf(txid chainhash.Hash) []chainhash.Hash {
	c := b.cands[txid]
	var parents []chainhash.Hash
	seen := make(map[chainhash.Hash]struct{})
	for _, in := range c.tx.MsgTx().TxIn {
		p := in.PreviousOutPoint.Hash
		if isNullOutPoint(in.PreviousOutPoint) {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		if _, ok := b.cands[p]; !ok {
			continue
		}
		if b.status[p] != StatusUnknown {
			continue
		}
		parents = append(parents, p)
	}
	return parents
}

func appendBlockUnique(blocks []BlockID, b BlockID) []BlockID {
	for _, have := range blocks {
		if have == b {
			return blocks
		}
	}
	return append(blocks, b)
}
