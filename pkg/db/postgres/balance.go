package postgres

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/archon-data/chainstate/pkg/db"
	"github.com/archon-data/chainstate/pkg/db/models"
	"github.com/archon-data/chainstate/pkg/evm"
	"github.com/archon-data/chainstate/pkg/types"
)

// closeAndInsertBalanceQuery supersedes the active balance of one
// (token, component) pair and inserts the new version, carrying the closed
// row's balance over as the new row's previous value.
const closeAndInsertBalanceQuery = `
	WITH closed AS (
		UPDATE component_balance
		SET valid_to = $6
		WHERE token_id = $1 AND protocol_component_id = $2 AND valid_to IS NULL
		RETURNING new_balance
	)
	INSERT INTO component_balance (token_id, protocol_component_id, new_balance, previous_value, balance_float, modify_tx, valid_from)
	VALUES ($1, $2, $3, (SELECT new_balance FROM closed), $4, $5, $6)
`

// TxBalance groups the component balance observations produced by one
// transaction.
type TxBalance struct {
	TxHash   common.Hash
	Balances []evm.ComponentBalance
}

// AddComponentBalances applies the balance changes observed in one block, in
// transaction order, as one atomic write. Both the component and the token
// must already be stored.
func (g *Gateway[B, TX]) AddComponentBalances(ctx context.Context, block B, groups []TxBalance) error {
	if len(groups) == 0 {
		return nil
	}

	chain := g.blocks.Chain(block)
	blockHash := g.blocks.Hash(block)

	var ref blockRef
	err := g.transact(ctx, func(tx pgx.Tx) error {
		chainID, err := g.chainID(ctx, tx, chain)
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

		ordered := make([]TxBalance, len(groups))
		copy(ordered, groups)
		sort.SliceStable(ordered, func(i, j int) bool {
			return refs[ordered[i].TxHash].Index < refs[ordered[j].TxHash].Index
		})

		var (
			externalIDs []string
			addresses   []common.Address
		)
		for _, group := range ordered {
			for _, balance := range group.Balances {
				externalIDs = append(externalIDs, balance.ComponentID)
				addresses = append(addresses, balance.Token)
			}
		}
		componentIDs, err := g.componentIDsByExternal(ctx, tx, chainID, externalIDs)
		if err != nil {
			return err
		}
		tokenIDs, err := g.tokenIDsByAddress(ctx, tx, chainID, addresses)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, group := range ordered {
			txRef := refs[group.TxHash]
			for _, balance := range group.Balances {
				batch.Queue(closeAndInsertBalanceQuery,
					tokenIDs[balance.Token], componentIDs[balance.ComponentID],
					evm.EncodeU256(balance.Balance), balance.BalanceFloat,
					txRef.ID, ref.Ts,
				)
			}
		}

		if err := executeBatch(ctx, tx, batch); err != nil {
			return db.NewStoreError("add component balances", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	g.announce(ctx, chain, blockHash, uint64(ref.Number), ref.Ts)
	return nil
}

// GetComponentBalances retrieves the token balances of a chain's components
// as of a version, optionally filtered by component external ids.
func (g *Gateway[B, TX]) GetComponentBalances(ctx context.Context, chain types.Chain, at *db.Version, ids []string) ([]*evm.ComponentBalance, error) {
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
		SELECT pc.external_id, ct.address, cb.new_balance, cb.balance_float, tx.hash
		FROM component_balance cb
		JOIN protocol_component pc ON pc.id = cb.protocol_component_id
		JOIN token tk ON tk.id = cb.token_id
		JOIN contract ct ON ct.id = tk.account_id
		JOIN "transaction" tx ON tx.id = cb.modify_tx
		WHERE pc.chain_id = $1
		  AND cb.valid_from <= $2
		  AND (cb.valid_to IS NULL OR cb.valid_to > $2)
	`
	args := []any{chainID, ts}
	if len(ids) > 0 {
		args = append(args, ids)
		query += fmt.Sprintf(" AND pc.external_id = ANY($%d)", len(args))
	}
	query += ` ORDER BY pc.external_id, cb.token_id`

	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, db.NewStoreError("get component balances", err)
	}
	defer rows.Close()

	var out []*evm.ComponentBalance
	for rows.Next() {
		var (
			externalID string
			address    []byte
			row        models.BalanceVersion
			txHash     []byte
		)
		if err := rows.Scan(&externalID, &address, &row.NewBalance, &row.BalanceFloat, &txHash); err != nil {
			return nil, db.NewStoreError("scan component balance", err)
		}

		token, err := evm.DecodeAddress(address)
		if err != nil {
			return nil, err
		}
		balance, err := evm.ComponentBalanceFromStorage(row, token, externalID, common.BytesToHash(txHash))
		if err != nil {
			return nil, err
		}
		out = append(out, balance)
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStoreError("iterate component balances", err)
	}

	return out, nil
}

// tokenIDsByAddress resolves token row ids by owning contract address in one
// batched lookup. Balance rows reference tokens by row id, so every address
// must resolve.
func (g *Gateway[B, TX]) tokenIDsByAddress(ctx context.Context, exec Executor, chainID int64, addresses []common.Address) (map[common.Address]int64, error) {
	if len(addresses) == 0 {
		return map[common.Address]int64{}, nil
	}

	seen := make(map[common.Address]struct{}, len(addresses))
	raw := make([][]byte, 0, len(addresses))
	distinct := make([]common.Address, 0, len(addresses))
	for _, a := range addresses {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		raw = append(raw, a.Bytes())
		distinct = append(distinct, a)
	}

	rows, err := exec.Query(ctx, `
		SELECT t.id, c.address
		FROM token t
		JOIN contract c ON c.id = t.account_id
		WHERE c.chain_id = $1 AND c.address = ANY($2)
	`, chainID, raw)
	if err != nil {
		return nil, db.NewStoreError("resolve token ids", err)
	}
	defer rows.Close()

	out := make(map[common.Address]int64, len(distinct))
	for rows.Next() {
		var (
			id      int64
			address []byte
		)
		if err := rows.Scan(&id, &address); err != nil {
			return nil, db.NewStoreError("scan token id", err)
		}
		out[common.BytesToAddress(address)] = id
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStoreError("iterate token ids", err)
	}

	for _, a := range distinct {
		if _, ok := out[a]; !ok {
			return nil, db.NewNotFound("token", a.Hex())
		}
	}

	return out, nil
}
