package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"

	"github.com/archon-data/chainstate/pkg/db"
	"github.com/archon-data/chainstate/pkg/db/models"
	"github.com/archon-data/chainstate/pkg/evm"
	"github.com/archon-data/chainstate/pkg/types"
)

const upsertTokenQuery = `
	INSERT INTO token (account_id, symbol, decimals, tax, gas, quality)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (account_id) DO UPDATE SET
		symbol = EXCLUDED.symbol,
		decimals = EXCLUDED.decimals,
		tax = EXCLUDED.tax,
		gas = EXCLUDED.gas,
		quality = EXCLUDED.quality
`

// AddTokens stores token metadata, creating a bare owning account for any
// token whose contract has not been observed yet. Tokens are often known
// (from registries or component references) before their contract state is
// ever extracted, so the account row is a placeholder with empty code and a
// zero balance until real observations arrive.
func (g *Gateway[B, TX]) AddTokens(ctx context.Context, tokens []*evm.Token) error {
	if len(tokens) == 0 {
		return nil
	}

	byChain := make(map[types.Chain][]*evm.Token)
	var chains []types.Chain
	for _, t := range tokens {
		if _, ok := byChain[t.Chain]; !ok {
			chains = append(chains, t.Chain)
		}
		byChain[t.Chain] = append(byChain[t.Chain], t)
	}

	emptyCodeHash := evm.CodeHash(nil)
	zeroBalance := evm.EncodeU256(uint256.Int{})

	return g.transact(ctx, func(tx pgx.Tx) error {
		for _, chain := range chains {
			group := byChain[chain]

			chainID, err := g.ensureChainID(ctx, tx, chain)
			if err != nil {
				return err
			}

			accounts := &pgx.Batch{}
			addresses := make([]common.Address, 0, len(group))
			for _, t := range group {
				accounts.Queue(`
					INSERT INTO contract (chain_id, address, title, code, code_hash, balance)
					VALUES ($1, $2, $3, $4, $5, $6)
					ON CONFLICT (chain_id, address) DO NOTHING
				`, chainID, t.Address.Bytes(), t.Symbol, []byte{}, emptyCodeHash.Bytes(), zeroBalance)
				addresses = append(addresses, t.Address)
			}
			if err := executeBatch(ctx, tx, accounts); err != nil {
				return db.NewStoreError("ensure token accounts", err)
			}

			ids, err := g.contractIDsByAddress(ctx, tx, chainID, addresses)
			if err != nil {
				return err
			}

			batch := &pgx.Batch{}
			for _, t := range group {
				accountID, ok := ids[t.Address]
				if !ok {
					return db.NewNotFound("contract", db.NewContractID(chain, t.Address).String())
				}
				row := t.ToStorage(accountID)
				batch.Queue(upsertTokenQuery, row.AccountID, row.Symbol, row.Decimals, row.Tax, row.Gas, row.Quality)
			}
			if err := executeBatch(ctx, tx, batch); err != nil {
				return db.NewStoreError("add tokens", err)
			}
		}

		return nil
	})
}

// GetTokens retrieves a chain's tokens, optionally filtered by contract
// address.
func (g *Gateway[B, TX]) GetTokens(ctx context.Context, chain types.Chain, addresses []common.Address) ([]*evm.Token, error) {
	exec, release, err := g.lease(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	chainID, err := g.chainID(ctx, exec, chain)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT t.id, t.account_id, t.symbol, t.decimals, t.tax, t.gas, t.quality, c.address
		FROM token t
		JOIN contract c ON c.id = t.account_id
		WHERE c.chain_id = $1
	`
	args := []any{chainID}
	if len(addresses) > 0 {
		raw := make([][]byte, 0, len(addresses))
		for _, a := range addresses {
			raw = append(raw, a.Bytes())
		}
		args = append(args, raw)
		query += fmt.Sprintf(" AND c.address = ANY($%d)", len(args))
	}
	query += ` ORDER BY t.id`

	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, db.NewStoreError("get tokens", err)
	}
	defer rows.Close()

	var out []*evm.Token
	for rows.Next() {
		var (
			row     models.Token
			address []byte
		)
		if err := rows.Scan(&row.ID, &row.AccountID, &row.Symbol, &row.Decimals,
			&row.Tax, &row.Gas, &row.Quality, &address); err != nil {
			return nil, db.NewStoreError("scan token", err)
		}

		token, err := evm.TokenFromStorage(row, address, chain)
		if err != nil {
			return nil, err
		}
		out = append(out, token)
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStoreError("iterate tokens", err)
	}

	return out, nil
}
