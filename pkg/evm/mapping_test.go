package evm

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-data/chainstate/pkg/db"
	"github.com/archon-data/chainstate/pkg/db/models"
	"github.com/archon-data/chainstate/pkg/types"
)

func TestBlockMapperRoundTrip(t *testing.T) {
	mapper := BlockMapper{}
	block := Block{
		Number:     2,
		Hash:       common.HexToHash("0xb495a1d7e6663152ae92708da4843337b958146015a2802f4193a410044698c9"),
		ParentHash: common.HexToHash("0x88e96d4537bea4d9c05d12549907b32561d3bf31f45aae734cdc119f13406cb6"),
		Chain:      types.Ethereum,
		Ts:         time.Date(2020, 1, 1, 1, 0, 0, 0, time.UTC),
	}

	row := mapper.ToStorage(block, 1)
	assert.Equal(t, int64(1), row.ChainID)
	assert.Equal(t, int64(2), row.Number)

	got, err := mapper.FromStorage(models.Block{
		ID:         7,
		ChainID:    row.ChainID,
		Hash:       row.Hash,
		ParentHash: row.ParentHash,
		Number:     row.Number,
		Ts:         row.Ts,
	}, types.Ethereum)
	require.NoError(t, err)
	assert.Equal(t, block, got)

	assert.Equal(t, types.Ethereum, mapper.Chain(block))
	assert.Equal(t, block.Hash, mapper.Hash(block))
}

func TestBlockMapperRejectsMalformedHashes(t *testing.T) {
	mapper := BlockMapper{}

	_, err := mapper.FromStorage(models.Block{Hash: []byte{0x01}, ParentHash: make([]byte, 32)}, types.Ethereum)
	require.Error(t, err)
	assert.True(t, db.IsDecodeError(err))

	_, err = mapper.FromStorage(models.Block{Hash: make([]byte, 32), ParentHash: make([]byte, 31)}, types.Ethereum)
	require.Error(t, err)
	assert.True(t, db.IsDecodeError(err))
}

func TestTransactionMapperRoundTrip(t *testing.T) {
	mapper := TransactionMapper{}
	blockHash := common.HexToHash("0x88e96d4537bea4d9c05d12549907b32561d3bf31f45aae734cdc119f13406cb6")
	to := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	tx := Transaction{
		Hash:      common.HexToHash("0xbb7e16d797a9e2fbc537e30f91ed3d9a656461ae9dce0026c9adf5b0d9b0b194"),
		BlockHash: blockHash,
		From:      common.HexToAddress("0x4648451b5F87FF8F0F7D622bD40574bb97E25980"),
		To:        &to,
		Index:     1,
	}

	row := mapper.ToStorage(tx, 11)
	assert.Equal(t, int64(11), row.BlockID)

	got, err := mapper.FromStorage(models.Transaction{
		BlockID: row.BlockID,
		Hash:    row.Hash,
		From:    row.From,
		To:      row.To,
		Index:   row.Index,
	}, blockHash)
	require.NoError(t, err)
	assert.Equal(t, tx, got)
}

func TestTransactionMapperContractCreation(t *testing.T) {
	mapper := TransactionMapper{}
	tx := Transaction{
		Hash:      common.HexToHash("0xbb7e16d797a9e2fbc537e30f91ed3d9a656461ae9dce0026c9adf5b0d9b0b194"),
		BlockHash: common.HexToHash("0x88e96d4537bea4d9c05d12549907b32561d3bf31f45aae734cdc119f13406cb6"),
		From:      common.HexToAddress("0x4648451b5F87FF8F0F7D622bD40574bb97E25980"),
		Index:     2,
	}

	row := mapper.ToStorage(tx, 1)
	assert.Nil(t, row.To)

	// An empty stored "to" round-trips back to nil.
	got, err := mapper.FromStorage(models.Transaction{
		Hash:  row.Hash,
		From:  row.From,
		To:    nil,
		Index: row.Index,
	}, tx.BlockHash)
	require.NoError(t, err)
	assert.Nil(t, got.To)
}

func TestAccountRoundTrip(t *testing.T) {
	creationTx := common.HexToHash("0xbb7e16d797a9e2fbc537e30f91ed3d9a656461ae9dce0026c9adf5b0d9b0b194")
	createdAt := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	account := &Account{
		Chain:      types.Ethereum,
		Address:    common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
		Title:      "Contract0x6b17...1d0f",
		Slots:      map[uint256.Int]uint256.Int{*uint256.NewInt(1): *uint256.NewInt(5)},
		Balance:    *uint256.NewInt(10100),
		Code:       []byte{0x60, 0x80},
		CodeHash:   CodeHash([]byte{0x60, 0x80}),
		CreationTx: &creationTx,
	}

	txID := int64(3)
	row := account.ToStorage(1, &txID, &createdAt)
	assert.Len(t, row.Balance, 32)
	assert.Len(t, row.Address, 20)

	got, err := AccountFromStorage(models.Contract{
		ChainID:   1,
		Address:   row.Address,
		Title:     row.Title,
		Code:      row.Code,
		CodeHash:  row.CodeHash,
		Balance:   row.Balance,
		CreatedAt: &createdAt,
	}, types.Ethereum, EncodeSlots(account.Slots), &creationTx)
	require.NoError(t, err)
	assert.Equal(t, account, got)
}

func TestAccountFromStorageRejectsBadWidths(t *testing.T) {
	valid := models.Contract{
		Address:  common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F").Bytes(),
		Balance:  EncodeU256(*uint256.NewInt(1)),
		CodeHash: CodeHash(nil).Bytes(),
	}

	bad := valid
	bad.Address = bad.Address[:19]
	_, err := AccountFromStorage(bad, types.Ethereum, nil, nil)
	require.Error(t, err)
	assert.True(t, db.IsDecodeError(err))

	bad = valid
	bad.Balance = bad.Balance[:31]
	_, err = AccountFromStorage(bad, types.Ethereum, nil, nil)
	require.Error(t, err)

	bad = valid
	bad.CodeHash = bad.CodeHash[:31]
	_, err = AccountFromStorage(bad, types.Ethereum, nil, nil)
	require.Error(t, err)
}

func TestAccountDeltaFromStorage(t *testing.T) {
	address := common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	store := EncodeSlots(map[uint256.Int]uint256.Int{*uint256.NewInt(0): *uint256.NewInt(2)})

	delta, err := AccountDeltaFromStorage(types.Ethereum, address.Bytes(), store, EncodeU256(*uint256.NewInt(500)), []byte{0x01}, types.ChangeUpdate)
	require.NoError(t, err)
	assert.Equal(t, address, delta.Address)
	require.NotNil(t, delta.Balance)
	assert.Equal(t, *uint256.NewInt(500), *delta.Balance)
	assert.Equal(t, []byte{0x01}, delta.Code)
	assert.Equal(t, *uint256.NewInt(2), delta.Slots[*uint256.NewInt(0)])

	// Untouched parts stay nil.
	delta, err = AccountDeltaFromStorage(types.Ethereum, address.Bytes(), nil, nil, nil, types.ChangeUpdate)
	require.NoError(t, err)
	assert.Nil(t, delta.Balance)
	assert.Nil(t, delta.Code)
	assert.Empty(t, delta.Slots)

	_, err = AccountDeltaFromStorage(types.Ethereum, address.Bytes()[:10], nil, nil, nil, types.ChangeUpdate)
	require.Error(t, err)
	assert.True(t, db.IsDecodeError(err))
}

func TestTokenRoundTrip(t *testing.T) {
	gasValue := uint64(64779)
	weth := &Token{
		Address:  common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		Symbol:   "WETH",
		Decimals: 18,
		Tax:      0,
		Gas:      []*uint64{nil, &gasValue, nil},
		Chain:    types.Ethereum,
		Quality:  types.QualityNormal,
	}

	row := weth.ToStorage(99)
	assert.Equal(t, int64(99), row.AccountID)
	assert.Equal(t, "normal", row.Quality)

	got, err := TokenFromStorage(models.Token{
		AccountID: row.AccountID,
		Symbol:    row.Symbol,
		Decimals:  row.Decimals,
		Tax:       row.Tax,
		Gas:       row.Gas,
		Quality:   row.Quality,
	}, weth.Address.Bytes(), types.Ethereum)
	require.NoError(t, err)
	assert.Equal(t, weth, got)
}

func TestTokenFromStoragePadsShortAddresses(t *testing.T) {
	got, err := TokenFromStorage(models.Token{Symbol: "X", Quality: "normal"}, []byte{0xde, 0xad}, types.Ethereum)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x000000000000000000000000000000000000dead"), got.Address)
}

func TestTokenFromStorageRejectsUnknownQuality(t *testing.T) {
	_, err := TokenFromStorage(models.Token{Symbol: "X", Quality: "good"},
		common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2").Bytes(), types.Ethereum)
	require.Error(t, err)
	assert.True(t, db.IsDecodeError(err))
}

func TestComponentAttributesRoundTrip(t *testing.T) {
	component := &ProtocolComponent{
		ExternalID:       "pool_0xdead",
		ProtocolSystem:   "ambient",
		ProtocolTypeName: "pool",
		Chain:            types.Ethereum,
		Tokens: []common.Address{
			common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
			common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
		},
		ContractAddresses: []common.Address{
			common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"),
		},
		StaticAttributes: map[string]hexutil.Bytes{"key1": []byte("value1")},
		CreationTx:       common.HexToHash("0xbb7e16d797a9e2fbc537e30f91ed3d9a656461ae9dce0026c9adf5b0d9b0b194"),
	}

	row, err := component.ToStorage(1, 2, 3, nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"key1":"0x76616c756531"}`, string(row.Attributes))
	require.Len(t, row.Tokens, 2)
	assert.Equal(t, component.Tokens[0].Bytes(), row.Tokens[0])

	got, err := ComponentFromStorage(models.ProtocolComponent{
		ExternalID: row.ExternalID,
		Attributes: row.Attributes,
		Tokens:     row.Tokens,
		Contracts:  row.Contracts,
	}, types.Ethereum, "ambient", "pool", component.CreationTx)
	require.NoError(t, err)
	assert.Equal(t, component.StaticAttributes, got.StaticAttributes)
	assert.Equal(t, component.Tokens, got.Tokens)
	assert.Equal(t, component.ContractAddresses, got.ContractAddresses)
	assert.Equal(t, "pool_0xdead", got.ExternalID)
}

func TestComponentFromStorageRejectsBadAttributes(t *testing.T) {
	_, err := ComponentFromStorage(models.ProtocolComponent{
		ExternalID: "c1",
		Attributes: []byte(`not json`),
	}, types.Ethereum, "ambient", "pool", common.Hash{})
	require.Error(t, err)
	assert.True(t, db.IsDecodeError(err))
}

func TestComponentFromStorageRejectsBadTokenAddress(t *testing.T) {
	_, err := ComponentFromStorage(models.ProtocolComponent{
		ExternalID: "c1",
		Tokens:     [][]byte{{0xde, 0xad}},
	}, types.Ethereum, "ambient", "pool", common.Hash{})
	require.Error(t, err)
	assert.True(t, db.IsDecodeError(err))
}

func TestProtocolStateFold(t *testing.T) {
	modifyTx := common.HexToHash("0xbb7e16d797a9e2fbc537e30f91ed3d9a656461ae9dce0026c9adf5b0d9b0b194")
	rows := []models.StateAttribute{
		{Name: "reserve0", Value: EncodeU256(*uint256.NewInt(1000))},
		{Name: "reserve1", Value: EncodeU256(*uint256.NewInt(2000))},
		{Name: "retired", Value: nil}, // tombstone
	}

	state := ProtocolStateFromStorage("pool_1", rows, modifyTx)
	assert.Equal(t, "pool_1", state.ComponentID)
	assert.Len(t, state.Attributes, 2)
	assert.NotContains(t, state.Attributes, "retired")
	assert.Equal(t, hexutil.Bytes(EncodeU256(*uint256.NewInt(1000))), state.Attributes["reserve0"])
}

func TestProtocolStateDeltaStorageAttributes(t *testing.T) {
	delta := &ProtocolStateDelta{
		ComponentID:       "pool_1",
		UpdatedAttributes: map[string]hexutil.Bytes{"reserve0": {0x01}},
		DeletedAttributes: []string{"reserve1"},
	}

	attrs := delta.StorageAttributes()
	require.Len(t, attrs, 2)
	assert.Equal(t, []byte{0x01}, attrs["reserve0"])
	val, ok := attrs["reserve1"]
	assert.True(t, ok)
	assert.Nil(t, val)
}

func TestProtocolTypeFromStorage(t *testing.T) {
	got, err := ProtocolTypeFromStorage(models.ProtocolType{
		Name:           "pool",
		FinancialType:  "swap",
		Implementation: "custom",
	})
	require.NoError(t, err)
	assert.Equal(t, types.FinancialSwap, got.Financial)
	assert.Equal(t, types.ImplementationCustom, got.Implementation)

	_, err = ProtocolTypeFromStorage(models.ProtocolType{Name: "pool", FinancialType: "lending", Implementation: "custom"})
	require.Error(t, err)
	assert.True(t, db.IsDecodeError(err))

	_, err = ProtocolTypeFromStorage(models.ProtocolType{Name: "pool", FinancialType: "swap", Implementation: "native"})
	require.Error(t, err)
	assert.True(t, db.IsDecodeError(err))
}

func TestComponentBalanceFromStorage(t *testing.T) {
	token := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	modifyTx := common.HexToHash("0xbb7e16d797a9e2fbc537e30f91ed3d9a656461ae9dce0026c9adf5b0d9b0b194")

	got, err := ComponentBalanceFromStorage(models.BalanceVersion{
		NewBalance:   EncodeU256(*uint256.NewInt(1_000_000)),
		BalanceFloat: 1.0,
	}, token, "pool_1", modifyTx)
	require.NoError(t, err)
	assert.Equal(t, *uint256.NewInt(1_000_000), got.Balance)
	assert.Equal(t, 1.0, got.BalanceFloat)

	_, err = ComponentBalanceFromStorage(models.BalanceVersion{NewBalance: []byte{0x01}}, token, "pool_1", modifyTx)
	require.Error(t, err)
	assert.True(t, db.IsDecodeError(err))
}

func TestNewComponentBalanceDerivesFloat(t *testing.T) {
	token := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	balance := NewComponentBalance(token, *uint256.NewInt(1_500_000_000_000_000_000), 18, common.Hash{}, "pool_1")
	assert.InDelta(t, 1.5, balance.BalanceFloat, 1e-9)
}
