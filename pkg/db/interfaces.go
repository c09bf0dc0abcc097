package db

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-data/chainstate/pkg/db/models"
	"github.com/archon-data/chainstate/pkg/types"
)

// StorableBlock converts between a chain-specific block type B and its
// stored row form. FromStorage must reject rows whose fixed-width fields
// have the wrong byte length with a DecodeError instead of truncating or
// padding them.
type StorableBlock[B any] interface {
	// FromStorage rebuilds the domain block from a stored row.
	FromStorage(val models.Block, chain types.Chain) (B, error)
	// ToStorage produces the insert row for the resolved chain id.
	ToStorage(block B, chainID int64) models.NewBlock
	// Chain returns the chain the block belongs to.
	Chain(block B) types.Chain
	// Hash returns the block's hash.
	Hash(block B) common.Hash
}

// StorableTransaction converts between a chain-specific transaction type T
// and its stored row form. The containing block is referenced by hash on
// the domain side and by row id on the storage side.
type StorableTransaction[T any] interface {
	// FromStorage rebuilds the domain transaction from a stored row and the
	// hash of its containing block.
	FromStorage(val models.Transaction, blockHash common.Hash) (T, error)
	// ToStorage produces the insert row for the resolved block id.
	ToStorage(tx T, blockID int64) models.NewTransaction
	// Hash returns the transaction's hash.
	Hash(tx T) common.Hash
	// BlockHash returns the hash of the block containing the transaction.
	BlockHash(tx T) common.Hash
}
