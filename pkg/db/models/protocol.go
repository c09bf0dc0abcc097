package models

import (
	"time"
)

// ProtocolSystem is a row of the interned protocol system names.
type ProtocolSystem struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ProtocolType is a stored protocol type row. FinancialType and
// Implementation hold the enum text forms; AttributeSchema is raw JSON.
type ProtocolType struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	FinancialType   string `json:"financial_type"`
	AttributeSchema []byte `json:"attribute_schema,omitempty"`
	Implementation  string `json:"implementation"`
}

// ProtocolComponent is a stored protocol component row. Attributes is the
// static attribute map as raw JSON; Tokens and Contracts hold the raw
// addresses the component references.
type ProtocolComponent struct {
	ID               int64      `json:"id"`
	ChainID          int64      `json:"chain_id"`
	ExternalID       string     `json:"external_id"`
	ProtocolTypeID   int64      `json:"protocol_type_id"`
	ProtocolSystemID int64      `json:"protocol_system_id"`
	Attributes       []byte     `json:"attributes,omitempty"`
	Tokens           [][]byte   `json:"tokens"`
	Contracts        [][]byte   `json:"contract_addresses"`
	CreationTx       *int64     `json:"creation_tx,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
	DeletedAt        *time.Time `json:"deleted_at,omitempty"`
}

// NewProtocolComponent is the insert form of ProtocolComponent.
type NewProtocolComponent struct {
	ChainID          int64      `json:"chain_id"`
	ExternalID       string     `json:"external_id"`
	ProtocolTypeID   int64      `json:"protocol_type_id"`
	ProtocolSystemID int64      `json:"protocol_system_id"`
	Attributes       []byte     `json:"attributes,omitempty"`
	Tokens           [][]byte   `json:"tokens"`
	Contracts        [][]byte   `json:"contract_addresses"`
	CreationTx       *int64     `json:"creation_tx,omitempty"`
	CreatedAt        *time.Time `json:"created_at,omitempty"`
}

// StateAttribute is a stored protocol_state row: one versioned observation
// of a single component attribute. An empty AttributeValue is a tombstone
// for a deleted attribute.
type StateAttribute struct {
	ID            int64      `json:"id"`
	ComponentID   int64      `json:"protocol_component_id"`
	Name          string     `json:"attribute_name"`
	Value         []byte     `json:"attribute_value,omitempty"`
	PreviousValue []byte     `json:"previous_value,omitempty"`
	ModifyTx      int64      `json:"modify_tx"`
	ValidFrom     time.Time  `json:"valid_from"`
	ValidTo       *time.Time `json:"valid_to,omitempty"`
}
