package postgres

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-data/chainstate/pkg/db"
	"github.com/archon-data/chainstate/pkg/evm"
	"github.com/archon-data/chainstate/pkg/types"
)

func gasCost(n uint64) *uint64 { return &n }

func daiToken() *evm.Token {
	return &evm.Token{
		Address:  daiAddress,
		Symbol:   "DAI",
		Decimals: 18,
		Tax:      0,
		Gas:      []*uint64{gasCost(29000), nil, gasCost(51000)},
		Chain:    types.Ethereum,
		Quality:  types.QualityNormal,
	}
}

func TestTokensRoundTrip(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	seedChain(t, g, 1)

	want := daiToken()
	require.NoError(t, g.AddTokens(ctx, []*evm.Token{want}))

	got, err := g.GetTokens(ctx, types.Ethereum, []common.Address{daiAddress})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, want.Address, got[0].Address)
	assert.Equal(t, want.Symbol, got[0].Symbol)
	assert.Equal(t, want.Decimals, got[0].Decimals)
	assert.Equal(t, want.Tax, got[0].Tax)
	assert.Equal(t, want.Gas, got[0].Gas)
	assert.Equal(t, want.Quality, got[0].Quality)
	assert.Equal(t, types.Ethereum, got[0].Chain)

	// Tokens bring their own account placeholder when the contract has not
	// been extracted yet.
	contract, err := g.GetContract(ctx, db.NewContractID(types.Ethereum, daiAddress), nil, false)
	require.NoError(t, err)
	assert.Equal(t, "DAI", contract.Title)
	assert.Empty(t, contract.Code)

	none, err := g.GetTokens(ctx, types.Ethereum, []common.Address{wethAddress})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAddTokensUpdatesMetadata(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	seedChain(t, g, 1)

	token := daiToken()
	require.NoError(t, g.AddTokens(ctx, []*evm.Token{token}))

	token.Symbol = "DAI-v2"
	token.Quality = types.QualityRebase
	require.NoError(t, g.AddTokens(ctx, []*evm.Token{token}))

	got, err := g.GetTokens(ctx, types.Ethereum, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "DAI-v2", got[0].Symbol)
	assert.Equal(t, types.QualityRebase, got[0].Quality)
}

func TestAddTokensKeepsExtractedAccount(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	_, txs := seedChain(t, g, 1)
	seedDai(t, g, txs[0].Hash)

	require.NoError(t, g.AddTokens(ctx, []*evm.Token{daiToken()}))

	got, err := g.GetContract(ctx, db.NewContractID(types.Ethereum, daiAddress), nil, false)
	require.NoError(t, err)
	assert.Equal(t, "Dai Stablecoin", got.Title)
	assert.NotEmpty(t, got.Code)
}

func TestComponentBalancesVersioning(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	blocks, txs := seedChain(t, g, 3)
	seedComponent(t, g, txs[0].Hash)
	require.NoError(t, g.AddTokens(ctx, []*evm.Token{daiToken()}))

	first := *uint256.NewInt(1_000_000_000_000_000_000)
	second := *uint256.NewInt(2_500_000_000_000_000_000)

	err := g.AddComponentBalances(ctx, blocks[1], []TxBalance{{
		TxHash:   txs[1].Hash,
		Balances: []evm.ComponentBalance{evm.NewComponentBalance(daiAddress, first, 18, txs[1].Hash, testPoolID)},
	}})
	require.NoError(t, err)

	err = g.AddComponentBalances(ctx, blocks[2], []TxBalance{{
		TxHash:   txs[2].Hash,
		Balances: []evm.ComponentBalance{evm.NewComponentBalance(daiAddress, second, 18, txs[2].Hash, testPoolID)},
	}})
	require.NoError(t, err)

	got, err := g.GetComponentBalances(ctx, types.Ethereum, db.VersionAtTime(testT1), nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, testPoolID, got[0].ComponentID)
	assert.Equal(t, daiAddress, got[0].Token)
	assert.Equal(t, first, got[0].Balance)
	assert.InDelta(t, 1.0, got[0].BalanceFloat, 1e-9)
	assert.Equal(t, txs[1].Hash, got[0].ModifyTx)

	got, err = g.GetComponentBalances(ctx, types.Ethereum, db.VersionAtTime(testT2), []string{testPoolID})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, second, got[0].Balance)
	assert.InDelta(t, 2.5, got[0].BalanceFloat, 1e-9)
	assert.Equal(t, txs[2].Hash, got[0].ModifyTx)

	none, err := g.GetComponentBalances(ctx, types.Ethereum, db.VersionAtTime(testT2), []string{"unknown-pool"})
	require.NoError(t, err)
	assert.Empty(t, none)

	forward, err := g.GetBalanceDeltas(ctx, types.Ethereum, db.VersionAtTime(testT1), db.VersionAtTime(testT2))
	require.NoError(t, err)
	require.Contains(t, forward, testPoolID)
	assert.Equal(t, evm.EncodeU256(second), forward[testPoolID][daiAddress])

	backward, err := g.GetBalanceDeltas(ctx, types.Ethereum, db.VersionAtTime(testT2), db.VersionAtTime(testT1))
	require.NoError(t, err)
	require.Contains(t, backward, testPoolID)
	assert.Equal(t, evm.EncodeU256(first), backward[testPoolID][daiAddress])

	// Rolling back past the first balance resolves to zero.
	backward, err = g.GetBalanceDeltas(ctx, types.Ethereum, db.VersionAtTime(testT1), db.VersionAtTime(testT0))
	require.NoError(t, err)
	require.Contains(t, backward, testPoolID)
	assert.Equal(t, evm.EncodeU256(uint256.Int{}), backward[testPoolID][daiAddress])

	identity, err := g.GetBalanceDeltas(ctx, types.Ethereum, db.VersionAtTime(testT2), db.VersionAtTime(testT2))
	require.NoError(t, err)
	assert.Empty(t, identity)
}

func TestAddComponentBalancesUnknownToken(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	blocks, txs := seedChain(t, g, 2)
	seedComponent(t, g, txs[0].Hash)

	err := g.AddComponentBalances(ctx, blocks[1], []TxBalance{{
		TxHash:   txs[1].Hash,
		Balances: []evm.ComponentBalance{evm.NewComponentBalance(wethAddress, *uint256.NewInt(1), 18, txs[1].Hash, testPoolID)},
	}})
	require.Error(t, err)
	assert.True(t, db.IsNotFound(err))
}

func TestAddComponentBalancesUnknownComponent(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	blocks, txs := seedChain(t, g, 2)
	require.NoError(t, g.AddTokens(ctx, []*evm.Token{daiToken()}))

	err := g.AddComponentBalances(ctx, blocks[1], []TxBalance{{
		TxHash:   txs[1].Hash,
		Balances: []evm.ComponentBalance{evm.NewComponentBalance(daiAddress, *uint256.NewInt(1), 18, txs[1].Hash, "never-added")},
	}})
	require.Error(t, err)
	assert.True(t, db.IsNotFound(err))
}
