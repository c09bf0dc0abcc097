package models

import (
	"time"
)

// BalanceVersion is a stored component_balance row: one versioned
// observation of a token balance held by a protocol component. ValidTo nil
// means the row is the active version.
type BalanceVersion struct {
	ID            int64      `json:"id"`
	TokenID       int64      `json:"token_id"`
	ComponentID   int64      `json:"protocol_component_id"`
	NewBalance    []byte     `json:"new_balance"`
	PreviousValue []byte     `json:"previous_value,omitempty"`
	BalanceFloat  float64    `json:"balance_float"`
	ModifyTx      int64      `json:"modify_tx"`
	ValidFrom     time.Time  `json:"valid_from"`
	ValidTo       *time.Time `json:"valid_to,omitempty"`
}
