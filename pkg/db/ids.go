package db

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-data/chainstate/pkg/types"
)

// ContractID identifies a contract account by chain and address.
type ContractID struct {
	Chain   types.Chain
	Address common.Address
}

func NewContractID(chain types.Chain, address common.Address) ContractID {
	return ContractID{Chain: chain, Address: address}
}

func (id ContractID) String() string {
	return fmt.Sprintf("%s: %s", id.Chain, id.Address.Hex())
}
