package bdk

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Change sets are the unit of mutation and durability: every graph or
// chain mutation is described by one, applying one replays the
// mutation, and persisting the sequence (or its merged union) is
// enough to reconstruct state from scratch.

// ChainChangeSet maps a height to the hash now occupying it. A nil
// hash records a disconnection at that height.
type ChainChangeSet map[uint32]*chainhash.Hash

// IsEmpty reports whether the change set carries no updates.
func (cs ChainChangeSet) IsEmpty() bool { return len(cs) == 0 }

// Merge folds a later change set into this one; later entries override
// earlier ones at the same height (a reorg recorded later legitimately
// replaces the hash a height held before). Disjoint-height merges
// commute.
func (cs ChainChangeSet) Merge(later ChainChangeSet) {
	for h, hash := range later {
		if hash == nil {
			cs[h] = nil
			continue
		}
		v := *hash
		cs[h] = &v
	}
}

// GraphChangeSet describes new transaction-graph facts: added
// transactions, floating outputs, anchors, and last-seen updates.
type GraphChangeSet[A Anchor] struct {
	Txs      map[chainhash.Hash]*btcutil.Tx
	TxOuts   map[wire.OutPoint]*wire.TxOut
	Anchors  map[chainhash.Hash]map[A]struct{}
	LastSeen map[chainhash.Hash]uint64
}

// NewGraphChangeSet returns an empty graph change set.
func NewGraphChangeSet[A Anchor]() GraphChangeSet[A] {
	return GraphChangeSet[A]{
		Txs:      make(map[chainhash.Hash]*btcutil.Tx),
		TxOuts:   make(map[wire.OutPoint]*wire.TxOut),
		Anchors:  make(map[chainhash.Hash]map[A]struct{}),
		LastSeen: make(map[chainhash.Hash]uint64),
	}
}

// IsEmpty reports whether the change set carries no updates.
func (cs GraphChangeSet[A]) IsEmpty() bool {
	return len(cs.Txs) == 0 && len(cs.TxOuts) == 0 &&
		len(cs.Anchors) == 0 && len(cs.LastSeen) == 0
}

// Merge unions the other change set into this one. Graph knowledge is
// monotone, so this is a join: transaction and anchor sets union,
// last-seen takes the pointwise max. Merge is associative, commutative
// and idempotent.
func (cs GraphChangeSet[A]) Merge(other GraphChangeSet[A]) {
	for txid, tx := range other.Txs {
		cs.Txs[txid] = tx
	}
	for op, txo := range other.TxOuts {
		cs.TxOuts[op] = txo
	}
	for txid, anchors := range other.Anchors {
		for a := range anchors {
			cs.addAnchor(txid, a)
		}
	}
	for txid, seen := range other.LastSeen {
		if seen > cs.LastSeen[txid] {
			cs.LastSeen[txid] = seen
		}
	}
}

func (cs GraphChangeSet[A]) addAnchor(txid chainhash.Hash, a A) {
	set, ok := cs.Anchors[txid]
	if !ok {
		set = make(map[A]struct{})
		cs.Anchors[txid] = set
	}
	set[a] = struct{}{}
}

// ChangeSet is the combined chain + graph delta, the unit delivered by
// sync collaborators and the unit of durability.
type ChangeSet[A Anchor] struct {
	Chain ChainChangeSet
	Graph GraphChangeSet[A]
}

// NewChangeSet returns an empty combined change set.
func NewChangeSet[A Anchor]() ChangeSet[A] {
	return ChangeSet[A]{
		Chain: ChainChangeSet{},
		Graph: NewGraphChangeSet[A](),
	}
}

// IsEmpty reports whether the change set carries no updates.
func (cs ChangeSet[A]) IsEmpty() bool {
	return cs.Chain.IsEmpty() && cs.Graph.IsEmpty()
}

// Merge folds a later change set into this one.
func (cs ChangeSet[A]) Merge(later ChangeSet[A]) {
	cs.Chain.Merge(later.Chain)
	cs.Graph.Merge(later.Graph)
}

// The JSON layout keeps hashes and transactions as hex strings so
// persisted change sets stay inspectable. All slices are emitted in
// sorted order so encoding is deterministic.

type chainEntryJSON struct {
	Height uint32  `json:"height"`
	Hash   *string `json:"hash"`
}

type txOutJSON struct {
	OutPoint string `json:"outpoint"`
	Value    int64  `json:"value"`
	Script   string `json:"script"`
}

type anchorJSON struct {
	TxID   string          `json:"txid"`
	Anchor json.RawMessage `json:"anchor"`
}

type changeSetJSON struct {
	Chain    []chainEntryJSON  `json:"chain,omitempty"`
	Txs      []string          `json:"txs,omitempty"`
	TxOuts   []txOutJSON       `json:"txouts,omitempty"`
	Anchors  []anchorJSON      `json:"anchors,omitempty"`
	LastSeen map[string]uint64 `json:"last_seen,omitempty"`
}

func (cs ChangeSet[A]) MarshalJSON() ([]byte, error) {
	var v changeSetJSON

	heights := make([]uint32, 0, len(cs.Chain))
	for h := range cs.Chain {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	for _, h := range heights {
		entry := chainEntryJSON{Height: h}
		if hash := cs.Chain[h]; hash != nil {
			s := hash.String()
			entry.Hash = &s
		}
		v.Chain = append(v.Chain, entry)
	}

	for _, txid := range sortedTxIDs(cs.Graph.Txs) {
		var buf bytes.Buffer
		if err := cs.Graph.Txs[txid].MsgTx().Serialize(&buf); err != nil {
			return nil, err
		}
		v.Txs = append(v.Txs, hex.EncodeToString(buf.Bytes()))
	}

	ops := make([]wire.OutPoint, 0, len(cs.Graph.TxOuts))
	for op := range cs.Graph.TxOuts {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool { return lessOutPoint(ops[i], ops[j]) })
	for _, op := range ops {
		txo := cs.Graph.TxOuts[op]
		v.TxOuts = append(v.TxOuts, txOutJSON{
			OutPoint: op.String(),
			Value:    txo.Value,
			Script:   hex.EncodeToString(txo.PkScript),
		})
	}

	for _, txid := range sortedTxIDs(cs.Graph.Anchors) {
		anchors := make([]A, 0, len(cs.Graph.Anchors[txid]))
		for a := range cs.Graph.Anchors[txid] {
			anchors = append(anchors, a)
		}
		sortAnchors(anchors)
		for _, a := range anchors {
			raw, err := json.Marshal(a)
			if err != nil {
				return nil, err
			}
			v.Anchors = append(v.Anchors, anchorJSON{
				TxID:   txid.String(),
				Anchor: raw,
			})
		}
	}

	if len(cs.Graph.LastSeen) > 0 {
		v.LastSeen = make(map[string]uint64, len(cs.Graph.LastSeen))
		for txid, seen := range cs.Graph.LastSeen {
			v.LastSeen[txid.String()] = seen
		}
	}

	return json.Marshal(v)
}

func (cs *ChangeSet[A]) UnmarshalJSON(data []byte) error {
	var v changeSetJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	out := NewChangeSet[A]()

	for _, entry := range v.Chain {
		var hash *chainhash.Hash
		if entry.Hash != nil {
			h, err := chainhash.NewHashFromStr(*entry.Hash)
			if err != nil {
				return err
			}
			hash = h
		}
		if have, ok := out.Chain[entry.Height]; ok {
			if !sameHashPtr(have, hash) {
				return &ChangeSetConflictError{
					Height: entry.Height,
					HashA:  derefOrZero(have),
					HashB:  derefOrZero(hash),
				}
			}
			continue
		}
		out.Chain[entry.Height] = hash
	}

	for _, txHex := range v.Txs {
		raw, err := hex.DecodeString(txHex)
		if err != nil {
			return err
		}
		var msg wire.MsgTx
		if err := msg.Deserialize(bytes.NewReader(raw)); err != nil {
			return err
		}
		tx := btcutil.NewTx(&msg)
		out.Graph.Txs[*tx.Hash()] = tx
	}

	for _, t := range v.TxOuts {
		op, err := parseOutPoint(t.OutPoint)
		if err != nil {
			return err
		}
		script, err := hex.DecodeString(t.Script)
		if err != nil {
			return err
		}
		out.Graph.TxOuts[op] = &wire.TxOut{Value: t.Value, PkScript: script}
	}

	for _, entry := range v.Anchors {
		txid, err := chainhash.NewHashFromStr(entry.TxID)
		if err != nil {
			return err
		}
		var a A
		if err := json.Unmarshal(entry.Anchor, &a); err != nil {
			return err
		}
		out.Graph.addAnchor(*txid, a)
	}

	for s, seen := range v.LastSeen {
		txid, err := chainhash.NewHashFromStr(s)
		if err != nil {
			return err
		}
		if seen > out.Graph.LastSeen[*txid] {
			out.Graph.LastSeen[*txid] = seen
		}
	}

	*cs = out
	return nil
}

func sameHashPtr(a, b *chainhash.Hash) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func derefOrZero(h *chainhash.Hash) chainhash.Hash {
	if h == nil {
		return chainhash.Hash{}
	}
	return *h
}

func sortedTxIDs[V any](m map[chainhash.Hash]V) []chainhash.Hash {
	ids := make([]chainhash.Hash, 0, len(m))
	for txid := range m {
		ids = append(ids, txid)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

func sortAnchors[A Anchor](anchors []A) {
	sort.Slice(anchors, func(i, j int) bool {
		bi, bj := anchors[i].AnchorBlock(), anchors[j].AnchorBlock()
		if bi.Height != bj.Height {
			return bi.Height < bj.Height
		}
		return bytes.Compare(bi.Hash[:], bj.Hash[:]) < 0
	})
}

func lessOutPoint(a, b wire.OutPoint) bool {
	if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
		return c < 0
	}
	return a.Index < b.Index
}

// parseOutPoint reverses wire.OutPoint.String(), i.e. "hash:index"
// with the hash in the conventional reversed hex.
func parseOutPoint(s string) (wire.OutPoint, error) {
	i := strings.LastIndex(s, ":")
	if i < 0 {
		return wire.OutPoint{}, fmt.Errorf("malformed outpoint %q", s)
	}
	hash, err := chainhash.NewHashFromStr(s[:i])
	if err != nil {
		return wire.OutPoint{}, err
	}
	index, err := strconv.ParseUint(s[i+1:], 10, 32)
	if err != nil {
		return wire.OutPoint{}, fmt.Errorf("malformed outpoint %q: %v", s, err)
	}
	return wire.OutPoint{Hash: *hash, Index: uint32(index)}, nil
}
