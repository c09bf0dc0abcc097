// Package models holds the persisted row representations of the domain
// entities: the logical columns of the schema, free of any store-specific
// types. Mapping between these rows and the domain lives in the
// chain-family packages (pkg/evm).
package models

// Chain is a row of the chain registry table.
type Chain struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
