// Package evm holds the EVM-family domain entities and their mapping to and
// from stored rows. Entities use fixed-width types (20-byte addresses,
// 32-byte hashes and words); the codec helpers enforce those widths when
// rebuilding entities from raw stored bytes.
package evm

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/archon-data/chainstate/pkg/types"
)

// Block is an EVM block header reduced to the fields the storage layer
// tracks.
type Block struct {
	Number     uint64       `json:"number"`
	Hash       common.Hash  `json:"hash"`
	ParentHash common.Hash  `json:"parent_hash"`
	Chain      types.Chain  `json:"chain"`
	Ts         time.Time    `json:"ts"`
}

// Transaction is an EVM transaction reduced to the fields the storage layer
// tracks. To is nil for contract-creation transactions. Index is the
// position within the block and orders same-block state changes.
type Transaction struct {
	Hash      common.Hash     `json:"hash"`
	BlockHash common.Hash     `json:"block_hash"`
	From      common.Address  `json:"from"`
	To        *common.Address `json:"to,omitempty"`
	Index     uint64          `json:"index"`
}

// Account is a contract account with its current balance, code and slot
// values. Slots holds the storage as of the version it was read at.
type Account struct {
	Chain      types.Chain                 `json:"chain"`
	Address    common.Address              `json:"address"`
	Title      string                      `json:"title"`
	Slots      map[uint256.Int]uint256.Int `json:"-"`
	Balance    uint256.Int                 `json:"balance"`
	Code       hexutil.Bytes               `json:"code"`
	CodeHash   common.Hash                 `json:"code_hash"`
	CreationTx *common.Hash                `json:"creation_tx,omitempty"`
}

// AccountDelta is a partial update to an account: any subset of slots,
// balance and code, plus the kind of change. A nil Balance or Code means
// that part is untouched.
type AccountDelta struct {
	Chain   types.Chain                 `json:"chain"`
	Address common.Address              `json:"address"`
	Slots   map[uint256.Int]uint256.Int `json:"-"`
	Balance *uint256.Int                `json:"balance,omitempty"`
	Code    []byte                      `json:"code,omitempty"`
	Change  types.ChangeType            `json:"change"`
}

// Token is an ERC20-style token attached to a contract account. Gas is a
// sparse per-operation cost list where nil entries were never measured.
type Token struct {
	Address  common.Address     `json:"address"`
	Symbol   string             `json:"symbol"`
	Decimals uint32             `json:"decimals"`
	Tax      uint64             `json:"tax"`
	Gas      []*uint64          `json:"gas"`
	Chain    types.Chain        `json:"chain"`
	Quality  types.TokenQuality `json:"quality"`
}

// ProtocolComponent is a unit of financial logic (a pool, a pair, a vault)
// belonging to a protocol system. StaticAttributes never change after
// creation; mutable state lives in ProtocolState.
type ProtocolComponent struct {
	ExternalID        string                   `json:"id"`
	ProtocolSystem    string                   `json:"protocol_system"`
	ProtocolTypeName  string                   `json:"protocol_type_name"`
	Chain             types.Chain              `json:"chain"`
	Tokens            []common.Address         `json:"tokens"`
	ContractAddresses []common.Address         `json:"contract_ids"`
	StaticAttributes  map[string]hexutil.Bytes `json:"static_attributes,omitempty"`
	Change            types.ChangeType         `json:"change"`
	CreationTx        common.Hash              `json:"creation_tx"`
	CreatedAt         time.Time                `json:"created_at"`
}

// ProtocolState is the mutable attribute map of one component as of a
// version.
type ProtocolState struct {
	ComponentID string                   `json:"component_id"`
	Attributes  map[string]hexutil.Bytes `json:"attributes,omitempty"`
	ModifyTx    common.Hash              `json:"modify_tx"`
}

// ProtocolStateDelta is a partial update to a component's attribute map.
// Deleted attributes are tombstoned in storage as empty values.
type ProtocolStateDelta struct {
	ComponentID       string                   `json:"component_id"`
	UpdatedAttributes map[string]hexutil.Bytes `json:"updated_attributes,omitempty"`
	DeletedAttributes []string                 `json:"deleted_attributes,omitempty"`
}

// ComponentBalance is one token balance held by a protocol component.
// BalanceFloat is a lossy convenience projection of Balance scaled by the
// token's decimals.
type ComponentBalance struct {
	Token        common.Address `json:"token"`
	Balance      uint256.Int    `json:"balance"`
	BalanceFloat float64        `json:"balance_float"`
	ModifyTx     common.Hash    `json:"modify_tx"`
	ComponentID  string         `json:"component_id"`
}

// NewComponentBalance builds a ComponentBalance and derives BalanceFloat
// from the raw balance and the token's decimals.
func NewComponentBalance(token common.Address, balance uint256.Int, decimals uint32, modifyTx common.Hash, componentID string) ComponentBalance {
	return ComponentBalance{
		Token:        token,
		Balance:      balance,
		BalanceFloat: BalanceToFloat(balance, decimals),
		ModifyTx:     modifyTx,
		ComponentID:  componentID,
	}
}
