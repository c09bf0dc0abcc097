package evm

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"

	"github.com/archon-data/chainstate/pkg/db"
	"github.com/archon-data/chainstate/pkg/db/models"
)

// WordLength is the width of EVM hashes, slot keys, slot values and
// balances.
const WordLength = common.HashLength

// DecodeAddress rebuilds a 20-byte address from raw stored bytes. Any other
// length is a decode failure; stored addresses are never truncated or
// padded here.
func DecodeAddress(b []byte) (common.Address, error) {
	if len(b) != common.AddressLength {
		return common.Address{}, db.Decodef("invalid byte length for address! Found: 0x%x", b)
	}
	return common.BytesToAddress(b), nil
}

// PadAndParseAddress accepts addresses shorter than 20 bytes by left-padding
// them with zeros, the one sanctioned padding case (token identifiers from
// external sources drop leading zeros). Longer inputs still fail.
func PadAndParseAddress(b []byte) (common.Address, error) {
	if len(b) > common.AddressLength {
		return common.Address{}, db.Decodef("byte slice too long for address! Found: 0x%x", b)
	}
	return common.BytesToAddress(b), nil
}

// DecodeHash rebuilds a 32-byte hash from raw stored bytes.
func DecodeHash(b []byte) (common.Hash, error) {
	if len(b) != common.HashLength {
		return common.Hash{}, db.Decodef("invalid byte length for hash! Found: 0x%x", b)
	}
	return common.BytesToHash(b), nil
}

// DecodeU256 rebuilds a big-endian 256-bit word from raw stored bytes.
func DecodeU256(b []byte) (uint256.Int, error) {
	if len(b) != WordLength {
		return uint256.Int{}, db.Decodef("invalid byte length for U256! Found: 0x%x", b)
	}
	var v uint256.Int
	v.SetBytes(b)
	return v, nil
}

// EncodeU256 renders a 256-bit word as its canonical 32-byte big-endian
// form.
func EncodeU256(v uint256.Int) []byte {
	b := v.Bytes32()
	return b[:]
}

// ParseSlotEntry decodes one (slot, value) pair from raw stored bytes. A
// nil or empty value means the slot was never written and reads as zero;
// anything else must be exactly 32 bytes.
func ParseSlotEntry(rawSlot, rawValue []byte) (uint256.Int, uint256.Int, error) {
	if len(rawSlot) != WordLength {
		return uint256.Int{}, uint256.Int{}, db.Decodef("invalid byte length for U256 in slot key! Found: 0x%x", rawSlot)
	}
	var slot, value uint256.Int
	slot.SetBytes(rawSlot)
	if len(rawValue) > 0 {
		if len(rawValue) != WordLength {
			return uint256.Int{}, uint256.Int{}, db.Decodef("invalid byte length for U256 in slot value! Found: 0x%x", rawValue)
		}
		value.SetBytes(rawValue)
	}
	return slot, value, nil
}

// DecodeSlots rebuilds a typed slot map from its raw stored form.
func DecodeSlots(store models.ContractStore) (map[uint256.Int]uint256.Int, error) {
	slots := make(map[uint256.Int]uint256.Int, len(store))
	for rawSlot, rawValue := range store {
		slot, value, err := ParseSlotEntry([]byte(rawSlot), rawValue)
		if err != nil {
			return nil, err
		}
		slots[slot] = value
	}
	return slots, nil
}

// EncodeSlots renders a typed slot map into its raw stored form.
func EncodeSlots(slots map[uint256.Int]uint256.Int) models.ContractStore {
	store := make(models.ContractStore, len(slots))
	for slot, value := range slots {
		store[string(EncodeU256(slot))] = EncodeU256(value)
	}
	return store
}

// CodeHash computes the keccak-256 hash of contract code.
func CodeHash(code []byte) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(code)
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// BalanceToFloat projects a raw token balance onto a float scaled down by
// the token's decimals. The projection is lossy past float64 precision and
// only serves ordering and display.
func BalanceToFloat(balance uint256.Int, decimals uint32) float64 {
	d := decimal.NewFromBigInt(balance.ToBig(), -int32(decimals))
	return d.InexactFloat64()
}
