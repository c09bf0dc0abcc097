package postgres

import (
	"context"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"

	"github.com/archon-data/chainstate/pkg/db"
	"github.com/archon-data/chainstate/pkg/db/models"
	"github.com/archon-data/chainstate/pkg/evm"
	"github.com/archon-data/chainstate/pkg/types"
)

// closeAndInsertSlotQuery supersedes the active version of one slot and
// inserts the new one in a single statement. The closed row's value becomes
// the new row's previous_value; when no active row exists the previous
// value stays NULL, which encodes "slot was previously unset".
const closeAndInsertSlotQuery = `
	WITH closed AS (
		UPDATE contract_storage
		SET valid_to = $5
		WHERE contract_id = $1 AND slot = $2 AND valid_to IS NULL
		RETURNING value
	)
	INSERT INTO contract_storage (contract_id, slot, value, previous_value, modify_tx, ordinal, valid_from)
	VALUES ($1, $2, $3, (SELECT value FROM closed), $4, $6, $5)
`

const upsertContractQuery = `
	INSERT INTO contract (chain_id, address, title, code, code_hash, balance, creation_tx, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (chain_id, address) DO UPDATE SET
		title = EXCLUDED.title,
		code = EXCLUDED.code,
		code_hash = EXCLUDED.code_hash,
		balance = EXCLUDED.balance,
		creation_tx = COALESCE(contract.creation_tx, EXCLUDED.creation_tx),
		created_at = COALESCE(contract.created_at, EXCLUDED.created_at),
		deleted_at = NULL
	RETURNING id
`

// TxDelta groups the account deltas produced by one transaction.
type TxDelta struct {
	TxHash common.Hash
	Deltas []evm.AccountDelta
}

// InsertContract stores a contract account with its current title, code and
// balance. When the creation transaction is known, the initial slot values
// are versioned at the creating block's timestamp; without one the slot
// history starts with the first applied delta, since versioned rows need a
// modifying transaction.
func (g *Gateway[B, TX]) InsertContract(ctx context.Context, account *evm.Account) error {
	return g.transact(ctx, func(tx pgx.Tx) error {
		chainID, err := g.ensureChainID(ctx, tx, account.Chain)
		if err != nil {
			return err
		}

		var (
			creationTx *int64
			createdAt  *time.Time
			ordinal    int64
		)
		if account.CreationTx != nil {
			var (
				txID int64
				ts   time.Time
			)
			err := tx.QueryRow(ctx, `
				SELECT t.id, t.index, b.ts
				FROM "transaction" t
				JOIN block b ON b.id = t.block_id
				WHERE t.hash = $1
			`, account.CreationTx.Bytes()).Scan(&txID, &ordinal, &ts)
			if err != nil {
				if IsNoRows(err) {
					return db.NewNotFound("transaction", account.CreationTx.Hex())
				}
				return db.NewStoreError("resolve creation transaction", err)
			}
			ts = ts.UTC()
			creationTx = &txID
			createdAt = &ts
		}

		row := account.ToStorage(chainID, creationTx, createdAt)

		var contractID int64
		err = tx.QueryRow(ctx, upsertContractQuery,
			row.ChainID, row.Address, row.Title, row.Code, row.CodeHash, row.Balance, row.CreationTx, row.CreatedAt,
		).Scan(&contractID)
		if err != nil {
			return db.NewStoreError("insert contract", err)
		}

		if len(account.Slots) == 0 || creationTx == nil {
			return nil
		}

		batch := &pgx.Batch{}
		for rawSlot, rawValue := range evm.EncodeSlots(account.Slots) {
			batch.Queue(closeAndInsertSlotQuery,
				contractID, []byte(rawSlot), rawValue, *creationTx, *createdAt, ordinal)
		}
		if err := executeBatch(ctx, tx, batch); err != nil {
			return db.NewStoreError("insert contract slots", err)
		}

		return nil
	})
}

// GetContract retrieves one contract account as of a version. A contract
// created after or deleted before the resolved timestamp is NotFound.
func (g *Gateway[B, TX]) GetContract(ctx context.Context, id db.ContractID, at *db.Version, includeSlots bool) (*evm.Account, error) {
	exec, release, err := g.lease(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	chainID, err := g.chainID(ctx, exec, id.Chain)
	if err != nil {
		return nil, err
	}

	ts, err := g.resolveVersion(ctx, exec, at)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ct.id, ct.chain_id, ct.address, ct.title, ct.code, ct.code_hash, ct.balance, tx.hash
		FROM contract ct
		LEFT JOIN "transaction" tx ON tx.id = ct.creation_tx
		WHERE ct.chain_id = $1 AND ct.address = $2
		  AND (ct.created_at IS NULL OR ct.created_at <= $3)
		  AND (ct.deleted_at IS NULL OR ct.deleted_at > $3)
	`

	var (
		row         models.Contract
		creationRaw []byte
	)
	err = exec.QueryRow(ctx, query, chainID, id.Address.Bytes(), ts).Scan(
		&row.ID, &row.ChainID, &row.Address, &row.Title, &row.Code, &row.CodeHash, &row.Balance, &creationRaw,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, db.NewNotFound("contract", id.String())
		}
		return nil, db.NewStoreError("get contract", err)
	}

	var store models.ContractStore
	if includeSlots {
		stores, err := g.slotsAt(ctx, exec, []int64{row.ID}, ts)
		if err != nil {
			return nil, err
		}
		store = stores[row.ID]
	}

	return evm.AccountFromStorage(row, id.Chain, store, hashPtr(creationRaw))
}

// GetContracts retrieves the chain's contract accounts as of a version,
// optionally filtered to a set of addresses.
func (g *Gateway[B, TX]) GetContracts(ctx context.Context, chain types.Chain, at *db.Version, addresses []common.Address, includeSlots bool) ([]*evm.Account, error) {
	exec, release, err := g.lease(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	chainID, err := g.chainID(ctx, exec, chain)
	if err != nil {
		return nil, err
	}

	ts, err := g.resolveVersion(ctx, exec, at)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ct.id, ct.chain_id, ct.address, ct.title, ct.code, ct.code_hash, ct.balance, tx.hash
		FROM contract ct
		LEFT JOIN "transaction" tx ON tx.id = ct.creation_tx
		WHERE ct.chain_id = $1
		  AND (ct.created_at IS NULL OR ct.created_at <= $2)
		  AND (ct.deleted_at IS NULL OR ct.deleted_at > $2)
	`
	args := []any{chainID, ts}
	if len(addresses) > 0 {
		raw := make([][]byte, 0, len(addresses))
		for _, a := range addresses {
			raw = append(raw, a.Bytes())
		}
		query += ` AND ct.address = ANY($3)`
		args = append(args, raw)
	}
	query += ` ORDER BY ct.id`

	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, db.NewStoreError("get contracts", err)
	}
	defer rows.Close()

	var (
		contractRows []models.Contract
		creations    [][]byte
		ids          []int64
	)
	for rows.Next() {
		var (
			row         models.Contract
			creationRaw []byte
		)
		if err := rows.Scan(&row.ID, &row.ChainID, &row.Address, &row.Title, &row.Code, &row.CodeHash, &row.Balance, &creationRaw); err != nil {
			return nil, db.NewStoreError("scan contract", err)
		}
		contractRows = append(contractRows, row)
		creations = append(creations, creationRaw)
		ids = append(ids, row.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStoreError("iterate contracts", err)
	}

	stores := map[int64]models.ContractStore{}
	if includeSlots && len(ids) > 0 {
		if stores, err = g.slotsAt(ctx, exec, ids, ts); err != nil {
			return nil, err
		}
	}

	accounts := make([]*evm.Account, 0, len(contractRows))
	for i, row := range contractRows {
		account, err := evm.AccountFromStorage(row, chain, stores[row.ID], hashPtr(creations[i]))
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	return accounts, nil
}

// slotsAt reads the slot values of the given contracts that are active at
// ts, grouped by contract id.
func (g *Gateway[B, TX]) slotsAt(ctx context.Context, exec Executor, contractIDs []int64, ts time.Time) (map[int64]models.ContractStore, error) {
	query := `
		SELECT contract_id, slot, value
		FROM contract_storage
		WHERE contract_id = ANY($1)
		  AND valid_from <= $2
		  AND (valid_to IS NULL OR valid_to > $2)
	`

	rows, err := exec.Query(ctx, query, contractIDs, ts)
	if err != nil {
		return nil, db.NewStoreError("get contract slots", err)
	}
	defer rows.Close()

	out := make(map[int64]models.ContractStore, len(contractIDs))
	for rows.Next() {
		var (
			contractID int64
			slot       []byte
			value      []byte
		)
		if err := rows.Scan(&contractID, &slot, &value); err != nil {
			return nil, db.NewStoreError("scan contract slot", err)
		}
		store, ok := out[contractID]
		if !ok {
			store = models.ContractStore{}
			out[contractID] = store
		}
		store[string(slot)] = value
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStoreError("iterate contract slots", err)
	}

	return out, nil
}

// DeleteContract soft-deletes a contract at the given timestamp. The row
// and its slot history stay readable at earlier versions.
func (g *Gateway[B, TX]) DeleteContract(ctx context.Context, id db.ContractID, deletedAt time.Time) error {
	exec, release, err := g.lease(ctx)
	if err != nil {
		return err
	}
	defer release()

	chainID, err := g.chainID(ctx, exec, id.Chain)
	if err != nil {
		return err
	}

	tag, err := exec.Exec(ctx, `
		UPDATE contract SET deleted_at = $3
		WHERE chain_id = $1 AND address = $2 AND deleted_at IS NULL
	`, chainID, id.Address.Bytes(), deletedAt.UTC())
	if err != nil {
		return db.NewStoreError("delete contract", err)
	}
	if tag.RowsAffected() == 0 {
		return db.NewNotFound("contract", id.String())
	}

	return nil
}

// ApplyContractDeltas applies the account deltas observed in one block, in
// transaction order, as one atomic write. Every touched slot gets a new
// versioned row superseding the active one; balance and code move on the
// contract row itself. Creations insert missing contract rows, deletions
// mark deleted_at at the block's timestamp.
func (g *Gateway[B, TX]) ApplyContractDeltas(ctx context.Context, block B, groups []TxDelta) error {
	if len(groups) == 0 {
		return nil
	}

	chain := g.blocks.Chain(block)
	blockHash := g.blocks.Hash(block)

	var ref blockRef
	err := g.transact(ctx, func(tx pgx.Tx) error {
		chainID, err := g.ensureChainID(ctx, tx, chain)
		if err != nil {
			return err
		}

		if ref, err = g.blockRefByHash(ctx, tx, blockHash); err != nil {
			return err
		}

		hashes := make([]common.Hash, 0, len(groups))
		for _, group := range groups {
			hashes = append(hashes, group.TxHash)
		}
		refs, err := g.txRefsByHash(ctx, tx, hashes)
		if err != nil {
			return err
		}

		ordered := make([]TxDelta, len(groups))
		copy(ordered, groups)
		sort.SliceStable(ordered, func(i, j int) bool {
			return refs[ordered[i].TxHash].Index < refs[ordered[j].TxHash].Index
		})

		contractIDs, err := g.contractIDsByAddress(ctx, tx, chainID, deltaAddresses(ordered))
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, group := range ordered {
			txRef := refs[group.TxHash]
			for _, delta := range group.Deltas {
				contractID, err := g.applyAccountChange(ctx, tx, batch, chainID, contractIDs, delta, txRef, ref.Ts)
				if err != nil {
					return err
				}

				for rawSlot, rawValue := range delta.RawSlots() {
					batch.Queue(closeAndInsertSlotQuery,
						contractID, []byte(rawSlot), rawValue, txRef.ID, ref.Ts, txRef.Index)
				}
			}
		}

		if batch.Len() > 0 {
			if err := executeBatch(ctx, tx, batch); err != nil {
				return db.NewStoreError("apply contract deltas", err)
			}
		}

		return nil
	})
	if err != nil {
		return err
	}

	g.announce(ctx, chain, blockHash, uint64(ref.Number), ref.Ts)
	return nil
}

// applyAccountChange resolves the delta's contract row (creating it for
// creation deltas) and queues the balance/code/deletion effects. The
// returned id is valid before the batch runs because creations execute
// eagerly.
func (g *Gateway[B, TX]) applyAccountChange(
	ctx context.Context,
	tx pgx.Tx,
	batch *pgx.Batch,
	chainID int64,
	contractIDs map[common.Address]int64,
	delta evm.AccountDelta,
	ref txRef,
	blockTs time.Time,
) (int64, error) {
	if delta.Change == types.ChangeCreation {
		code := delta.Code
		if code == nil {
			code = []byte{}
		}
		balance := evm.EncodeU256(uint256Value(delta.Balance))

		var contractID int64
		err := tx.QueryRow(ctx, upsertContractQuery,
			chainID, delta.Address.Bytes(), "", code, evm.CodeHash(code).Bytes(), balance, ref.ID, blockTs,
		).Scan(&contractID)
		if err != nil {
			return 0, db.NewStoreError("create contract", err)
		}
		contractIDs[delta.Address] = contractID
		return contractID, nil
	}

	contractID, ok := contractIDs[delta.Address]
	if !ok {
		return 0, db.NewNotFound("contract", db.NewContractID(delta.Chain, delta.Address).String())
	}

	if delta.Balance != nil || delta.Code != nil {
		var (
			balance  []byte
			code     []byte
			codeHash []byte
		)
		if delta.Balance != nil {
			balance = evm.EncodeU256(*delta.Balance)
		}
		if delta.Code != nil {
			code = delta.Code
			codeHash = evm.CodeHash(delta.Code).Bytes()
		}
		batch.Queue(`
			UPDATE contract SET
				balance = COALESCE($2, balance),
				code = COALESCE($3, code),
				code_hash = COALESCE($4, code_hash)
			WHERE id = $1
		`, contractID, balance, code, codeHash)
	}

	if delta.Change == types.ChangeDeletion {
		batch.Queue(`UPDATE contract SET deleted_at = $2 WHERE id = $1`, contractID, blockTs)
	}

	return contractID, nil
}

// contractIDsByAddress resolves contract row ids for a chain's addresses in
// one batched lookup. Addresses with no row are simply absent; callers
// decide whether that is a creation or an error.
func (g *Gateway[B, TX]) contractIDsByAddress(ctx context.Context, exec Executor, chainID int64, addresses []common.Address) (map[common.Address]int64, error) {
	if len(addresses) == 0 {
		return map[common.Address]int64{}, nil
	}

	raw := make([][]byte, 0, len(addresses))
	for _, a := range addresses {
		raw = append(raw, a.Bytes())
	}

	rows, err := exec.Query(ctx, `SELECT id, address FROM contract WHERE chain_id = $1 AND address = ANY($2)`, chainID, raw)
	if err != nil {
		return nil, db.NewStoreError("resolve contract ids", err)
	}
	defer rows.Close()

	out := make(map[common.Address]int64, len(addresses))
	for rows.Next() {
		var (
			id   int64
			addr []byte
		)
		if err := rows.Scan(&id, &addr); err != nil {
			return nil, db.NewStoreError("scan contract id", err)
		}
		out[common.BytesToAddress(addr)] = id
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStoreError("iterate contract ids", err)
	}

	return out, nil
}

// deltaAddresses collects the distinct addresses touched by a delta batch.
func deltaAddresses(groups []TxDelta) []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	for _, group := range groups {
		for _, delta := range group.Deltas {
			if _, ok := seen[delta.Address]; ok {
				continue
			}
			seen[delta.Address] = struct{}{}
			out = append(out, delta.Address)
		}
	}
	return out
}

// hashPtr converts a nullable stored hash column into a domain pointer.
func hashPtr(raw []byte) *common.Hash {
	if raw == nil {
		return nil
	}
	h := common.BytesToHash(raw)
	return &h
}

// uint256Value dereferences an optional word, reading nil as zero.
func uint256Value(v *uint256.Int) uint256.Int {
	if v == nil {
		return uint256.Int{}
	}
	return *v
}
