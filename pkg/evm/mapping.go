package evm

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/archon-data/chainstate/pkg/db"
	"github.com/archon-data/chainstate/pkg/db/models"
	"github.com/archon-data/chainstate/pkg/types"
)

// BlockMapper maps evm.Block to and from its stored row form.
type BlockMapper struct{}

var _ db.StorableBlock[Block] = BlockMapper{}

func (BlockMapper) FromStorage(val models.Block, chain types.Chain) (Block, error) {
	hash, err := DecodeHash(val.Hash)
	if err != nil {
		return Block{}, err
	}
	parent, err := DecodeHash(val.ParentHash)
	if err != nil {
		return Block{}, err
	}
	return Block{
		Number:     uint64(val.Number),
		Hash:       hash,
		ParentHash: parent,
		Chain:      chain,
		Ts:         val.Ts,
	}, nil
}

func (BlockMapper) ToStorage(block Block, chainID int64) models.NewBlock {
	return models.NewBlock{
		ChainID:    chainID,
		Hash:       block.Hash.Bytes(),
		ParentHash: block.ParentHash.Bytes(),
		Number:     int64(block.Number),
		Ts:         block.Ts,
	}
}

func (BlockMapper) Chain(block Block) types.Chain {
	return block.Chain
}

func (BlockMapper) Hash(block Block) common.Hash {
	return block.Hash
}

// TransactionMapper maps evm.Transaction to and from its stored row form.
type TransactionMapper struct{}

var _ db.StorableTransaction[Transaction] = TransactionMapper{}

func (TransactionMapper) FromStorage(val models.Transaction, blockHash common.Hash) (Transaction, error) {
	hash, err := DecodeHash(val.Hash)
	if err != nil {
		return Transaction{}, err
	}
	from, err := DecodeAddress(val.From)
	if err != nil {
		return Transaction{}, err
	}
	var to *common.Address
	if len(val.To) > 0 {
		addr, err := DecodeAddress(val.To)
		if err != nil {
			return Transaction{}, err
		}
		to = &addr
	}
	return Transaction{
		Hash:      hash,
		BlockHash: blockHash,
		From:      from,
		To:        to,
		Index:     uint64(val.Index),
	}, nil
}

func (TransactionMapper) ToStorage(tx Transaction, blockID int64) models.NewTransaction {
	var to []byte
	if tx.To != nil {
		to = tx.To.Bytes()
	}
	return models.NewTransaction{
		BlockID: blockID,
		Hash:    tx.Hash.Bytes(),
		From:    tx.From.Bytes(),
		To:      to,
		Index:   int64(tx.Index),
	}
}

func (TransactionMapper) Hash(tx Transaction) common.Hash {
	return tx.Hash
}

func (TransactionMapper) BlockHash(tx Transaction) common.Hash {
	return tx.BlockHash
}

// AccountFromStorage rebuilds a contract account from its stored row, the
// raw slot values read at the requested version, and the resolved creation
// transaction hash.
func AccountFromStorage(val models.Contract, chain types.Chain, store models.ContractStore, creationTx *common.Hash) (*Account, error) {
	address, err := DecodeAddress(val.Address)
	if err != nil {
		return nil, err
	}
	var balance uint256.Int
	if len(val.Balance) > 0 {
		if balance, err = DecodeU256(val.Balance); err != nil {
			return nil, err
		}
	}
	var codeHash common.Hash
	if len(val.CodeHash) > 0 {
		if codeHash, err = DecodeHash(val.CodeHash); err != nil {
			return nil, err
		}
	}
	slots, err := DecodeSlots(store)
	if err != nil {
		return nil, err
	}
	return &Account{
		Chain:      chain,
		Address:    address,
		Title:      val.Title,
		Slots:      slots,
		Balance:    balance,
		Code:       val.Code,
		CodeHash:   codeHash,
		CreationTx: creationTx,
	}, nil
}

// ToStorage produces the insert row for a contract account. The creation
// transaction, if any, arrives already resolved to its row id.
func (a *Account) ToStorage(chainID int64, creationTx *int64, createdAt *time.Time) models.NewContract {
	return models.NewContract{
		ChainID:    chainID,
		Address:    a.Address.Bytes(),
		Title:      a.Title,
		Code:       a.Code,
		CodeHash:   a.CodeHash.Bytes(),
		Balance:    EncodeU256(a.Balance),
		CreationTx: creationTx,
		CreatedAt:  createdAt,
	}
}

// AccountDeltaFromStorage rebuilds a partial account update from raw stored
// parts. A nil balance or code means that part did not change.
func AccountDeltaFromStorage(chain types.Chain, address []byte, store models.ContractStore, balance, code []byte, change types.ChangeType) (AccountDelta, error) {
	addr, err := DecodeAddress(address)
	if err != nil {
		return AccountDelta{}, err
	}
	slots, err := DecodeSlots(store)
	if err != nil {
		return AccountDelta{}, err
	}
	var bal *uint256.Int
	if balance != nil {
		v, err := DecodeU256(balance)
		if err != nil {
			return AccountDelta{}, err
		}
		bal = &v
	}
	return AccountDelta{
		Chain:   chain,
		Address: addr,
		Slots:   slots,
		Balance: bal,
		Code:    code,
		Change:  change,
	}, nil
}

// RawSlots renders the delta's slot updates into their stored form.
func (d AccountDelta) RawSlots() models.ContractStore {
	return EncodeSlots(d.Slots)
}

// TokenFromStorage rebuilds a token from its stored row and the owning
// contract's address. Shorter addresses are left-padded; an unmapped stored
// quality is a decode failure.
func TokenFromStorage(val models.Token, address []byte, chain types.Chain) (*Token, error) {
	addr, err := PadAndParseAddress(address)
	if err != nil {
		return nil, err
	}
	quality, err := types.ParseTokenQuality(val.Quality)
	if err != nil {
		return nil, db.Decodef("invalid stored token quality: %v", err)
	}
	gas := make([]*uint64, len(val.Gas))
	for i, g := range val.Gas {
		if g != nil {
			v := uint64(*g)
			gas[i] = &v
		}
	}
	return &Token{
		Address:  addr,
		Symbol:   val.Symbol,
		Decimals: uint32(val.Decimals),
		Tax:      uint64(val.Tax),
		Gas:      gas,
		Chain:    chain,
		Quality:  quality,
	}, nil
}

// ToStorage produces the insert row for a token owned by the given contract
// row.
func (t *Token) ToStorage(accountID int64) models.NewToken {
	gas := make([]*int64, len(t.Gas))
	for i, g := range t.Gas {
		if g != nil {
			v := int64(*g)
			gas[i] = &v
		}
	}
	return models.NewToken{
		AccountID: accountID,
		Symbol:    t.Symbol,
		Decimals:  int32(t.Decimals),
		Tax:       int64(t.Tax),
		Gas:       gas,
		Quality:   t.Quality.String(),
	}
}

// ComponentFromStorage rebuilds a protocol component from its stored row and
// the already-resolved referenced values (system and type names, creation
// transaction hash). Token and contract addresses decode from the row's raw
// address arrays.
func ComponentFromStorage(val models.ProtocolComponent, chain types.Chain, system, typeName string, creationTx common.Hash) (*ProtocolComponent, error) {
	var attrs map[string]hexutil.Bytes
	if len(val.Attributes) > 0 {
		if err := json.Unmarshal(val.Attributes, &attrs); err != nil {
			return nil, db.Decodef("could not parse attributes of component %s: %v", val.ExternalID, err)
		}
	}
	tokens := make([]common.Address, 0, len(val.Tokens))
	for _, raw := range val.Tokens {
		addr, err := DecodeAddress(raw)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, addr)
	}
	contracts := make([]common.Address, 0, len(val.Contracts))
	for _, raw := range val.Contracts {
		addr, err := DecodeAddress(raw)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, addr)
	}
	var createdAt time.Time
	if val.CreatedAt != nil {
		createdAt = *val.CreatedAt
	}
	return &ProtocolComponent{
		ExternalID:        val.ExternalID,
		ProtocolSystem:    system,
		ProtocolTypeName:  typeName,
		Chain:             chain,
		Tokens:            tokens,
		ContractAddresses: contracts,
		StaticAttributes:  attrs,
		Change:            types.ChangeUpdate,
		CreationTx:        creationTx,
		CreatedAt:         createdAt,
	}, nil
}

// ToStorage produces the insert row for a protocol component with all
// references resolved to row ids.
func (c *ProtocolComponent) ToStorage(chainID, typeID, systemID int64, creationTx *int64, createdAt *time.Time) (models.NewProtocolComponent, error) {
	var attrs []byte
	if len(c.StaticAttributes) > 0 {
		b, err := json.Marshal(c.StaticAttributes)
		if err != nil {
			return models.NewProtocolComponent{}, db.Decodef("could not convert attributes of component %s: %v", c.ExternalID, err)
		}
		attrs = b
	}
	tokens := make([][]byte, 0, len(c.Tokens))
	for _, addr := range c.Tokens {
		tokens = append(tokens, addr.Bytes())
	}
	contracts := make([][]byte, 0, len(c.ContractAddresses))
	for _, addr := range c.ContractAddresses {
		contracts = append(contracts, addr.Bytes())
	}
	return models.NewProtocolComponent{
		ChainID:          chainID,
		ExternalID:       c.ExternalID,
		ProtocolTypeID:   typeID,
		ProtocolSystemID: systemID,
		Attributes:       attrs,
		Tokens:           tokens,
		Contracts:        contracts,
		CreationTx:       creationTx,
		CreatedAt:        createdAt,
	}, nil
}

// ProtocolStateFromStorage folds the versioned per-attribute rows of one
// component back into its attribute map. Tombstone rows (empty values) mark
// deleted attributes and are left out.
func ProtocolStateFromStorage(componentID string, attrs []models.StateAttribute, modifyTx common.Hash) *ProtocolState {
	state := &ProtocolState{
		ComponentID: componentID,
		Attributes:  make(map[string]hexutil.Bytes, len(attrs)),
		ModifyTx:    modifyTx,
	}
	for _, attr := range attrs {
		if len(attr.Value) == 0 {
			continue
		}
		state.Attributes[attr.Name] = attr.Value
	}
	return state
}

// StorageAttributes renders the delta as per-attribute stored values:
// updated attributes keep their bytes, deleted attributes become tombstones.
func (d *ProtocolStateDelta) StorageAttributes() map[string][]byte {
	out := make(map[string][]byte, len(d.UpdatedAttributes)+len(d.DeletedAttributes))
	for name, value := range d.UpdatedAttributes {
		out[name] = value
	}
	for _, name := range d.DeletedAttributes {
		out[name] = nil
	}
	return out
}

// ProtocolTypeFromStorage rebuilds a protocol type definition, rejecting
// unmapped enum texts.
func ProtocolTypeFromStorage(val models.ProtocolType) (*types.ProtocolType, error) {
	financial, err := types.ParseFinancialType(val.FinancialType)
	if err != nil {
		return nil, db.Decodef("invalid stored financial type for %s: %v", val.Name, err)
	}
	impl, err := types.ParseImplementationType(val.Implementation)
	if err != nil {
		return nil, db.Decodef("invalid stored implementation type for %s: %v", val.Name, err)
	}
	return &types.ProtocolType{
		Name:            val.Name,
		Financial:       financial,
		AttributeSchema: val.AttributeSchema,
		Implementation:  impl,
	}, nil
}

// ComponentBalanceFromStorage rebuilds one versioned balance row, given the
// resolved token address, component external id and modifying transaction.
func ComponentBalanceFromStorage(val models.BalanceVersion, token common.Address, componentID string, modifyTx common.Hash) (*ComponentBalance, error) {
	balance, err := DecodeU256(val.NewBalance)
	if err != nil {
		return nil, err
	}
	return &ComponentBalance{
		Token:        token,
		Balance:      balance,
		BalanceFloat: val.BalanceFloat,
		ModifyTx:     modifyTx,
		ComponentID:  componentID,
	}, nil
}
