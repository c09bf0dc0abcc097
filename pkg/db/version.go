package db

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-data/chainstate/pkg/types"
)

// BlockIdentifier names a block either globally by hash or by number scoped
// to a chain. Block numbers are only unique per chain, hashes are unique
// across all of them.
type BlockIdentifier struct {
	hash   *common.Hash
	chain  types.Chain
	number uint64
}

// BlockByHash identifies a block by its hash on any chain.
func BlockByHash(hash common.Hash) BlockIdentifier {
	return BlockIdentifier{hash: &hash}
}

// BlockByNumber identifies a block by chain and height.
func BlockByNumber(chain types.Chain, number uint64) BlockIdentifier {
	return BlockIdentifier{chain: chain, number: number}
}

// Hash returns the block hash and whether this identifier carries one.
func (b BlockIdentifier) Hash() (common.Hash, bool) {
	if b.hash == nil {
		return common.Hash{}, false
	}
	return *b.hash, true
}

// Number returns the (chain, height) pair and whether this identifier
// carries one.
func (b BlockIdentifier) Number() (types.Chain, uint64, bool) {
	if b.hash != nil {
		return "", 0, false
	}
	return b.chain, b.number, true
}

func (b BlockIdentifier) String() string {
	if b.hash != nil {
		return b.hash.Hex()
	}
	return fmt.Sprintf("%s@%d", b.chain, b.number)
}

// Version selects a point on the timeline of recorded state, either through
// a block or through an explicit timestamp. A nil *Version means "now".
type Version struct {
	block *BlockIdentifier
	ts    *time.Time
}

// VersionAtBlock selects the state as of the identified block's timestamp.
func VersionAtBlock(id BlockIdentifier) *Version {
	return &Version{block: &id}
}

// VersionAtTime selects the state as of ts.
func VersionAtTime(ts time.Time) *Version {
	utc := ts.UTC()
	return &Version{ts: &utc}
}

// Block returns the block identifier and whether this version carries one.
func (v *Version) Block() (BlockIdentifier, bool) {
	if v == nil || v.block == nil {
		return BlockIdentifier{}, false
	}
	return *v.block, true
}

// Timestamp returns the explicit timestamp and whether this version carries
// one.
func (v *Version) Timestamp() (time.Time, bool) {
	if v == nil || v.ts == nil {
		return time.Time{}, false
	}
	return *v.ts, true
}

func (v *Version) String() string {
	switch {
	case v == nil:
		return "now"
	case v.block != nil:
		return v.block.String()
	default:
		return v.ts.Format(time.RFC3339Nano)
	}
}
