package evm

import (
	"bytes"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-data/chainstate/pkg/db"
)

func TestDecodeAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		want    common.Address
		wantErr bool
	}{
		{
			name:  "exact 20 bytes",
			input: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F").Bytes(),
			want:  common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
		},
		{name: "too short", input: bytes.Repeat([]byte{0xab}, 19), wantErr: true},
		{name: "too long", input: bytes.Repeat([]byte{0xab}, 21), wantErr: true},
		{name: "empty", input: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAddress(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, db.IsDecodeError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPadAndParseAddress(t *testing.T) {
	short := []byte{0xde, 0xad, 0xbe, 0xef}
	got, err := PadAndParseAddress(short)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x00000000000000000000000000000000deadbeef"), got)

	full := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	got, err = PadAndParseAddress(full.Bytes())
	require.NoError(t, err)
	assert.Equal(t, full, got)

	_, err = PadAndParseAddress(bytes.Repeat([]byte{0x01}, 21))
	require.Error(t, err)
	assert.True(t, db.IsDecodeError(err))
}

func TestDecodeHash(t *testing.T) {
	raw := common.HexToHash("0x88e96d4537bea4d9c05d12549907b32561d3bf31f45aae734cdc119f13406cb6")
	got, err := DecodeHash(raw.Bytes())
	require.NoError(t, err)
	assert.Equal(t, raw, got)

	_, err = DecodeHash(raw.Bytes()[:31])
	require.Error(t, err)
	assert.True(t, db.IsDecodeError(err))
}

func TestU256RoundTrip(t *testing.T) {
	v := *uint256.NewInt(25)
	raw := EncodeU256(v)
	require.Len(t, raw, 32)

	got, err := DecodeU256(raw)
	require.NoError(t, err)
	assert.Equal(t, v, got)

	_, err = DecodeU256(raw[:31])
	require.Error(t, err)
	assert.True(t, db.IsDecodeError(err))

	_, err = DecodeU256(append(raw, 0x00))
	require.Error(t, err)
}

func TestParseSlotEntry(t *testing.T) {
	slotRaw := EncodeU256(*uint256.NewInt(5))
	valueRaw := EncodeU256(*uint256.NewInt(25))

	slot, value, err := ParseSlotEntry(slotRaw, valueRaw)
	require.NoError(t, err)
	assert.Equal(t, *uint256.NewInt(5), slot)
	assert.Equal(t, *uint256.NewInt(25), value)

	// Absent values read as zero.
	slot, value, err = ParseSlotEntry(slotRaw, nil)
	require.NoError(t, err)
	assert.Equal(t, *uint256.NewInt(5), slot)
	assert.True(t, value.IsZero())

	_, _, err = ParseSlotEntry(slotRaw[:31], valueRaw)
	require.Error(t, err)
	assert.True(t, db.IsDecodeError(err))
	assert.Contains(t, err.Error(), "slot key")

	_, _, err = ParseSlotEntry(slotRaw, valueRaw[:31])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slot value")
}

func TestSlotsRoundTrip(t *testing.T) {
	slots := map[uint256.Int]uint256.Int{
		*uint256.NewInt(0): *uint256.NewInt(2),
		*uint256.NewInt(1): *uint256.NewInt(3),
		*uint256.NewInt(5): *uint256.NewInt(25),
		*uint256.NewInt(6): *uint256.NewInt(30),
	}

	store := EncodeSlots(slots)
	require.Len(t, store, len(slots))
	for rawSlot, rawValue := range store {
		assert.Len(t, []byte(rawSlot), 32)
		assert.Len(t, rawValue, 32)
	}

	got, err := DecodeSlots(store)
	require.NoError(t, err)
	assert.Equal(t, slots, got)
}

func TestDecodeSlotsRejectsMalformedEntries(t *testing.T) {
	store := EncodeSlots(map[uint256.Int]uint256.Int{*uint256.NewInt(1): *uint256.NewInt(2)})
	store["short"] = EncodeU256(*uint256.NewInt(9))

	_, err := DecodeSlots(store)
	require.Error(t, err)
	assert.True(t, db.IsDecodeError(err))
}

func TestCodeHash(t *testing.T) {
	// keccak-256 of empty input.
	assert.Equal(t,
		common.HexToHash("0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"),
		CodeHash(nil),
	)

	code := []byte{0x60, 0x80, 0x60, 0x40}
	assert.NotEqual(t, CodeHash(nil), CodeHash(code))
	assert.Equal(t, CodeHash(code), CodeHash([]byte{0x60, 0x80, 0x60, 0x40}))
}

func TestBalanceToFloat(t *testing.T) {
	tests := []struct {
		name     string
		balance  uint256.Int
		decimals uint32
		want     float64
	}{
		{name: "two decimals", balance: *uint256.NewInt(123456789), decimals: 2, want: 1234567.89},
		{name: "whole unit", balance: *uint256.NewInt(1_000_000_000_000_000_000), decimals: 18, want: 1.0},
		{name: "zero", balance: *uint256.NewInt(0), decimals: 18, want: 0},
		{name: "no decimals", balance: *uint256.NewInt(42), decimals: 0, want: 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, BalanceToFloat(tt.balance, tt.decimals), 1e-9)
		})
	}
}
