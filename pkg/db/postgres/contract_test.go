package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archon-data/chainstate/pkg/db"
	"github.com/archon-data/chainstate/pkg/evm"
	"github.com/archon-data/chainstate/pkg/types"
)

var daiAddress = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

// slotMap builds a slot map from alternating slot/value pairs.
func slotMap(pairs ...uint64) map[uint256.Int]uint256.Int {
	out := make(map[uint256.Int]uint256.Int, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out[*uint256.NewInt(pairs[i])] = *uint256.NewInt(pairs[i+1])
	}
	return out
}

// seedDai stores the DAI contract created by the first seeded transaction,
// with slots {0:1, 1:5, 2:1} versioned at the creation block's timestamp.
func seedDai(t *testing.T, g *Gateway[evm.Block, evm.Transaction], creationTx common.Hash) *evm.Account {
	t.Helper()

	code := []byte{0x60, 0x80, 0x60, 0x40}
	account := &evm.Account{
		Chain:      types.Ethereum,
		Address:    daiAddress,
		Title:      "Dai Stablecoin",
		Slots:      slotMap(0, 1, 1, 5, 2, 1),
		Balance:    *uint256.NewInt(100),
		Code:       code,
		CodeHash:   evm.CodeHash(code),
		CreationTx: &creationTx,
	}
	require.NoError(t, g.InsertContract(context.Background(), account))
	return account
}

func TestInsertContractRoundTrip(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	_, txs := seedChain(t, g, 1)
	want := seedDai(t, g, txs[0].Hash)

	got, err := g.GetContract(ctx, db.NewContractID(types.Ethereum, daiAddress), nil, true)
	require.NoError(t, err)
	assert.Equal(t, want.Address, got.Address)
	assert.Equal(t, want.Title, got.Title)
	assert.Equal(t, []byte(want.Code), []byte(got.Code))
	assert.Equal(t, want.CodeHash, got.CodeHash)
	assert.Equal(t, want.Balance, got.Balance)
	assert.Equal(t, want.Slots, got.Slots)
	require.NotNil(t, got.CreationTx)
	assert.Equal(t, txs[0].Hash, *got.CreationTx)

	// Without slots requested the store round trip is cheaper.
	got, err = g.GetContract(ctx, db.NewContractID(types.Ethereum, daiAddress), nil, false)
	require.NoError(t, err)
	assert.Empty(t, got.Slots)
}

func TestInsertContractWithoutCreationTx(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	seedChain(t, g, 1)

	account := &evm.Account{
		Chain:   types.Ethereum,
		Address: testAddress(0x10),
		Slots:   slotMap(0, 1),
		Code:    []byte{},
	}
	require.NoError(t, g.InsertContract(ctx, account))

	// Slot history needs a modifying transaction, so without a creation tx
	// the initial slots are not versioned.
	got, err := g.GetContract(ctx, db.NewContractID(types.Ethereum, account.Address), nil, true)
	require.NoError(t, err)
	assert.Nil(t, got.CreationTx)
	assert.Empty(t, got.Slots)
}

func TestInsertContractUnknownCreationTx(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	seedChain(t, g, 1)

	missing := txHashFixture(404)
	account := &evm.Account{
		Chain:      types.Ethereum,
		Address:    daiAddress,
		Code:       []byte{},
		CreationTx: &missing,
	}
	err := g.InsertContract(ctx, account)
	require.Error(t, err)
	assert.True(t, db.IsNotFound(err))
}

func TestGetContractVersionGating(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	_, txs := seedChain(t, g, 1)
	seedDai(t, g, txs[0].Hash)

	id := db.NewContractID(types.Ethereum, daiAddress)

	// Before creation the contract does not exist yet.
	_, err := g.GetContract(ctx, id, db.VersionAtTime(testT0.Add(-time.Hour)), false)
	require.Error(t, err)
	assert.True(t, db.IsNotFound(err))

	// At and after creation it does.
	_, err = g.GetContract(ctx, id, db.VersionAtTime(testT0), false)
	require.NoError(t, err)
}

func TestGetContractsFilters(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	_, txs := seedChain(t, g, 1)
	seedDai(t, g, txs[0].Hash)

	other := &evm.Account{
		Chain:   types.Ethereum,
		Address: testAddress(0x20),
		Code:    []byte{},
	}
	require.NoError(t, g.InsertContract(ctx, other))

	all, err := g.GetContracts(ctx, types.Ethereum, nil, nil, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	filtered, err := g.GetContracts(ctx, types.Ethereum, nil, []common.Address{daiAddress}, true)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, daiAddress, filtered[0].Address)
	assert.Equal(t, slotMap(0, 1, 1, 5, 2, 1), filtered[0].Slots)
}

func TestDeleteContract(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	_, txs := seedChain(t, g, 1)
	seedDai(t, g, txs[0].Hash)

	id := db.NewContractID(types.Ethereum, daiAddress)
	require.NoError(t, g.DeleteContract(ctx, id, testT1))

	// History before the deletion stays readable.
	got, err := g.GetContract(ctx, id, db.VersionAtTime(testT0), true)
	require.NoError(t, err)
	assert.Equal(t, slotMap(0, 1, 1, 5, 2, 1), got.Slots)

	// From the deletion timestamp on, the contract is gone.
	_, err = g.GetContract(ctx, id, db.VersionAtTime(testT1), false)
	require.Error(t, err)
	assert.True(t, db.IsNotFound(err))

	// Deleting an already-deleted contract is NotFound.
	err = g.DeleteContract(ctx, id, testT2)
	require.Error(t, err)
	assert.True(t, db.IsNotFound(err))
}

func TestApplyContractDeltasSlotVersioning(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	blocks, txs := seedChain(t, g, 2)
	seedDai(t, g, txs[0].Hash)

	notifier := &recordingNotifier{}
	g.SetNotifier(notifier)

	err := g.ApplyContractDeltas(ctx, blocks[1], []TxDelta{{
		TxHash: txs[1].Hash,
		Deltas: []evm.AccountDelta{{
			Chain:   types.Ethereum,
			Address: daiAddress,
			Slots:   slotMap(0, 2, 1, 3, 5, 25, 6, 30),
			Change:  types.ChangeUpdate,
		}},
	}})
	require.NoError(t, err)

	// Forward: the value in effect at the target for every slot changed in
	// the interval. Slot 2 never changed, so it does not appear.
	forward, err := g.GetSlotsDelta(ctx, types.Ethereum, db.VersionAtTime(testT0), db.VersionAtTime(testT1))
	require.NoError(t, err)
	require.Len(t, forward, 1)
	assert.Equal(t, slotMap(0, 2, 1, 3, 5, 25, 6, 30), forward[daiAddress])

	// Backward: the value held immediately before the interval; slots that
	// did not exist before it roll back to zero.
	backward, err := g.GetSlotsDelta(ctx, types.Ethereum, db.VersionAtTime(testT1), db.VersionAtTime(testT0))
	require.NoError(t, err)
	require.Len(t, backward, 1)
	assert.Equal(t, slotMap(0, 1, 1, 5, 5, 0, 6, 0), backward[daiAddress])

	// Equal versions are the identity.
	identity, err := g.GetSlotsDelta(ctx, types.Ethereum, db.VersionAtTime(testT1), db.VersionAtTime(testT1))
	require.NoError(t, err)
	assert.Empty(t, identity)

	// Block versions resolve to the same timestamps.
	byBlock, err := g.GetSlotsDelta(ctx, types.Ethereum,
		db.VersionAtBlock(db.BlockByNumber(types.Ethereum, 0)),
		db.VersionAtBlock(db.BlockByHash(blocks[1].Hash)))
	require.NoError(t, err)
	assert.Equal(t, forward, byBlock)

	// Reading the account at each version sees the full slot store.
	at0, err := g.GetContract(ctx, db.NewContractID(types.Ethereum, daiAddress), db.VersionAtTime(testT0), true)
	require.NoError(t, err)
	assert.Equal(t, slotMap(0, 1, 1, 5, 2, 1), at0.Slots)

	at1, err := g.GetContract(ctx, db.NewContractID(types.Ethereum, daiAddress), db.VersionAtTime(testT1), true)
	require.NoError(t, err)
	assert.Equal(t, slotMap(0, 2, 1, 3, 2, 1, 5, 25, 6, 30), at1.Slots)

	// The committed write was announced once.
	calls := notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, types.Ethereum, calls[0].chain)
	assert.Equal(t, blocks[1].Hash, calls[0].blockHash)
	assert.Equal(t, uint64(1), calls[0].blockNumber)
	assert.True(t, calls[0].ts.Equal(testT1))
}

func TestApplyContractDeltasNetChangeCollapse(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	blocks, txs := seedChain(t, g, 3)
	seedDai(t, g, txs[0].Hash)

	for _, step := range []struct {
		block int
		value uint64
	}{{1, 7}, {2, 9}} {
		err := g.ApplyContractDeltas(ctx, blocks[step.block], []TxDelta{{
			TxHash: txs[step.block].Hash,
			Deltas: []evm.AccountDelta{{
				Chain:   types.Ethereum,
				Address: daiAddress,
				Slots:   slotMap(0, step.value),
				Change:  types.ChangeUpdate,
			}},
		}})
		require.NoError(t, err)
	}

	// The whole interval nets out to a single entry with the final value,
	// no matter how many intermediate writes happened.
	forward, err := g.GetSlotsDelta(ctx, types.Ethereum, db.VersionAtTime(testT0), db.VersionAtTime(testT2))
	require.NoError(t, err)
	assert.Equal(t, slotMap(0, 9), forward[daiAddress])

	// Rolling the interval back lands on the pre-interval value.
	backward, err := g.GetSlotsDelta(ctx, types.Ethereum, db.VersionAtTime(testT2), db.VersionAtTime(testT0))
	require.NoError(t, err)
	assert.Equal(t, slotMap(0, 1), backward[daiAddress])
}

func TestApplyContractDeltasSameBlockOrdering(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	blocks, txs := seedChain(t, g, 2)
	seedDai(t, g, txs[0].Hash)

	second := evm.Transaction{
		Hash:      txHashFixture(10),
		BlockHash: blocks[1].Hash,
		From:      testAddress(0xaa),
		Index:     1,
	}
	require.NoError(t, g.UpsertTransactions(ctx, []evm.Transaction{second}))

	// Groups arrive out of order; transaction index decides who wins.
	err := g.ApplyContractDeltas(ctx, blocks[1], []TxDelta{
		{
			TxHash: second.Hash,
			Deltas: []evm.AccountDelta{{
				Chain: types.Ethereum, Address: daiAddress,
				Slots: slotMap(0, 9), Change: types.ChangeUpdate,
			}},
		},
		{
			TxHash: txs[1].Hash,
			Deltas: []evm.AccountDelta{{
				Chain: types.Ethereum, Address: daiAddress,
				Slots: slotMap(0, 7), Change: types.ChangeUpdate,
			}},
		},
	})
	require.NoError(t, err)

	forward, err := g.GetSlotsDelta(ctx, types.Ethereum, db.VersionAtTime(testT0), db.VersionAtTime(testT1))
	require.NoError(t, err)
	assert.Equal(t, slotMap(0, 9), forward[daiAddress])

	backward, err := g.GetSlotsDelta(ctx, types.Ethereum, db.VersionAtTime(testT1), db.VersionAtTime(testT0))
	require.NoError(t, err)
	assert.Equal(t, slotMap(0, 1), backward[daiAddress])

	// The intermediate same-block row is invisible to active-at reads.
	got, err := g.GetContract(ctx, db.NewContractID(types.Ethereum, daiAddress), db.VersionAtTime(testT1), true)
	require.NoError(t, err)
	assert.Equal(t, *uint256.NewInt(9), got.Slots[*uint256.NewInt(0)])
}

func TestApplyContractDeltasCreationAndDeletion(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	blocks, txs := seedChain(t, g, 3)

	created := testAddress(0x30)
	code := []byte{0xfe}
	balance := uint256.NewInt(55)

	err := g.ApplyContractDeltas(ctx, blocks[1], []TxDelta{{
		TxHash: txs[1].Hash,
		Deltas: []evm.AccountDelta{{
			Chain:   types.Ethereum,
			Address: created,
			Slots:   slotMap(0, 1),
			Balance: balance,
			Code:    code,
			Change:  types.ChangeCreation,
		}},
	}})
	require.NoError(t, err)

	id := db.NewContractID(types.Ethereum, created)

	_, err = g.GetContract(ctx, id, db.VersionAtTime(testT0), false)
	require.Error(t, err)
	assert.True(t, db.IsNotFound(err))

	got, err := g.GetContract(ctx, id, db.VersionAtTime(testT1), true)
	require.NoError(t, err)
	assert.Equal(t, *balance, got.Balance)
	assert.Equal(t, code, []byte(got.Code))
	assert.Equal(t, evm.CodeHash(code), got.CodeHash)
	assert.Equal(t, slotMap(0, 1), got.Slots)
	require.NotNil(t, got.CreationTx)
	assert.Equal(t, txs[1].Hash, *got.CreationTx)

	err = g.ApplyContractDeltas(ctx, blocks[2], []TxDelta{{
		TxHash: txs[2].Hash,
		Deltas: []evm.AccountDelta{{
			Chain:   types.Ethereum,
			Address: created,
			Change:  types.ChangeDeletion,
		}},
	}})
	require.NoError(t, err)

	_, err = g.GetContract(ctx, id, db.VersionAtTime(testT2), false)
	require.Error(t, err)
	assert.True(t, db.IsNotFound(err))

	// The account still exists at versions between creation and deletion.
	_, err = g.GetContract(ctx, id, db.VersionAtTime(testT1), false)
	require.NoError(t, err)
}

func TestApplyContractDeltasBalanceAndCodeUpdate(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	blocks, txs := seedChain(t, g, 2)
	seedDai(t, g, txs[0].Hash)

	newBalance := uint256.NewInt(777)
	err := g.ApplyContractDeltas(ctx, blocks[1], []TxDelta{{
		TxHash: txs[1].Hash,
		Deltas: []evm.AccountDelta{{
			Chain:   types.Ethereum,
			Address: daiAddress,
			Balance: newBalance,
			Change:  types.ChangeUpdate,
		}},
	}})
	require.NoError(t, err)

	got, err := g.GetContract(ctx, db.NewContractID(types.Ethereum, daiAddress), nil, false)
	require.NoError(t, err)
	assert.Equal(t, *newBalance, got.Balance)
	// Code was not part of the delta and must be untouched.
	assert.Equal(t, []byte{0x60, 0x80, 0x60, 0x40}, []byte(got.Code))
}

func TestApplyContractDeltasUnknownContract(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	blocks, txs := seedChain(t, g, 1)

	err := g.ApplyContractDeltas(ctx, blocks[0], []TxDelta{{
		TxHash: txs[0].Hash,
		Deltas: []evm.AccountDelta{{
			Chain:   types.Ethereum,
			Address: testAddress(0x99),
			Slots:   slotMap(0, 1),
			Change:  types.ChangeUpdate,
		}},
	}})
	require.Error(t, err)
	assert.True(t, db.IsNotFound(err))
}
