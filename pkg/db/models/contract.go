package models

import (
	"time"
)

// ContractStore is the raw slot map of a contract: keys are raw slot bytes
// (as strings so they can key a map), values are raw stored words. A nil
// value marks a slot that is unset, which domain mapping reads as zero.
type ContractStore map[string][]byte

// Contract is a stored contract row. Balance, code and title hold the
// current values; slot history lives in contract_storage.
type Contract struct {
	ID         int64      `json:"id"`
	ChainID    int64      `json:"chain_id"`
	Address    []byte     `json:"address"`
	Title      string     `json:"title"`
	Code       []byte     `json:"code"`
	CodeHash   []byte     `json:"code_hash"`
	Balance    []byte     `json:"balance"`
	CreationTx *int64     `json:"creation_tx,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// NewContract is the insert form of Contract.
type NewContract struct {
	ChainID    int64      `json:"chain_id"`
	Address    []byte     `json:"address"`
	Title      string     `json:"title"`
	Code       []byte     `json:"code"`
	CodeHash   []byte     `json:"code_hash"`
	Balance    []byte     `json:"balance"`
	CreationTx *int64     `json:"creation_tx,omitempty"`
	CreatedAt  *time.Time `json:"created_at,omitempty"`
}

// SlotVersion is a stored contract_storage row: one versioned observation of
// a single slot. ValidTo nil means the row is the active version.
type SlotVersion struct {
	ID            int64      `json:"id"`
	ContractID    int64      `json:"contract_id"`
	Slot          []byte     `json:"slot"`
	Value         []byte     `json:"value,omitempty"`
	PreviousValue []byte     `json:"previous_value,omitempty"`
	ModifyTx      int64      `json:"modify_tx"`
	Ordinal       int64      `json:"ordinal"`
	ValidFrom     time.Time  `json:"valid_from"`
	ValidTo       *time.Time `json:"valid_to,omitempty"`
}
