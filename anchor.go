package bdk

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BlockID identifies a block by height and hash. It is the minimal
// anchor: evidence that a transaction was included in this block.
type BlockID struct {
	Height uint32
	Hash   chainhash.Hash
}

func (b BlockID) String() string {
	return fmt.Sprintf("%d:%v", b.Height, b.Hash)
}

// AnchorBlock makes BlockID its own anchor.
func (b BlockID) AnchorBlock() BlockID { return b }

func (b BlockID) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Height uint32 `json:"height"`
		Hash   string `json:"hash"`
	}{b.Height, b.Hash.String()})
}

func (b *BlockID) UnmarshalJSON(data []byte) error {
	var v struct {
		Height uint32 `json:"height"`
		Hash   string `json:"hash"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	hash, err := chainhash.NewHashFromStr(v.Hash)
	if err != nil {
		return err
	}
	b.Height = v.Height
	b.Hash = *hash
	return nil
}

// Anchor is the constraint for concrete anchor representations. An
// anchor must be a comparable value (the graph stores anchor sets) and
// must name the block it points at. The graph, change sets and the
// canonicalization pass are generic over it.
type Anchor interface {
	comparable
	AnchorBlock() BlockID
}

// ConfirmationBlockTime is an anchor that also carries the header
// timestamp of the confirming block.
type ConfirmationBlockTime struct {
	BlockID
	ConfirmationTime uint64
}

func (c ConfirmationBlockTime) String() string {
	return fmt.Sprintf("%v@%d", c.BlockID, c.ConfirmationTime)
}

func (c ConfirmationBlockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Height uint32 `json:"height"`
		Hash   string `json:"hash"`
		Time   uint64 `json:"time"`
	}{c.Height, c.Hash.String(), c.ConfirmationTime})
}

func (c *ConfirmationBlockTime) UnmarshalJSON(data []byte) error {
	var v struct {
		Height uint32 `json:"height"`
		Hash   string `json:"hash"`
		Time   uint64 `json:"time"`
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	hash, err := chainhash.NewHashFromStr(v.Hash)
	if err != nil {
		return err
	}
	c.Height = v.Height
	c.Hash = *hash
	c.ConfirmationTime = v.Time
	return nil
}
