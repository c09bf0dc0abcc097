package models

// Transaction is a stored transaction row. To is nil for contract-creation
// transactions. Index is the position within the containing block and is
// the ordering tiebreaker for same-timestamp state changes.
type Transaction struct {
	ID      int64  `json:"id"`
	BlockID int64  `json:"block_id"`
	Hash    []byte `json:"hash"`
	From    []byte `json:"from"`
	To      []byte `json:"to,omitempty"`
	Index   int64  `json:"index"`
}

// NewTransaction is the insert form of Transaction.
type NewTransaction struct {
	BlockID int64  `json:"block_id"`
	Hash    []byte `json:"hash"`
	From    []byte `json:"from"`
	To      []byte `json:"to,omitempty"`
	Index   int64  `json:"index"`
}
