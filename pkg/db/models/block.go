package models

import (
	"time"
)

// Block is a stored block row. Hash and ParentHash are raw bytes; width
// validation happens in the mapping layer, not here.
type Block struct {
	ID         int64     `json:"id"`
	ChainID    int64     `json:"chain_id"`
	Hash       []byte    `json:"hash"`
	ParentHash []byte    `json:"parent_hash"`
	Number     int64     `json:"number"`
	Ts         time.Time `json:"ts"`
}

// NewBlock is the insert form of Block, before the store assigns an id.
type NewBlock struct {
	ChainID    int64     `json:"chain_id"`
	Hash       []byte    `json:"hash"`
	ParentHash []byte    `json:"parent_hash"`
	Number     int64     `json:"number"`
	Ts         time.Time `json:"ts"`
}
