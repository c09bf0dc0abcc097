package models

// Token is a stored token row. AccountID references the contract row that
// carries the token's address; Gas is a sparse per-operation cost array
// where nil entries mean "not measured". Quality holds the enum text form.
type Token struct {
	ID        int64    `json:"id"`
	AccountID int64    `json:"account_id"`
	Symbol    string   `json:"symbol"`
	Decimals  int32    `json:"decimals"`
	Tax       int64    `json:"tax"`
	Gas       []*int64 `json:"gas"`
	Quality   string   `json:"quality"`
}

// NewToken is the insert form of Token.
type NewToken struct {
	AccountID int64    `json:"account_id"`
	Symbol    string   `json:"symbol"`
	Decimals  int32    `json:"decimals"`
	Tax       int64    `json:"tax"`
	Gas       []*int64 `json:"gas"`
	Quality   string   `json:"quality"`
}
