package postgres

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/archon-data/chainstate/pkg/db"
	"github.com/archon-data/chainstate/pkg/db/models"
	"github.com/archon-data/chainstate/pkg/types"
)

// UpsertBlock stores a block, registering its chain on first sight. Re-upserts
// of the same hash refresh the mutable fields.
func (g *Gateway[B, TX]) UpsertBlock(ctx context.Context, block B) error {
	exec, release, err := g.lease(ctx)
	if err != nil {
		return err
	}
	defer release()

	chainID, err := g.ensureChainID(ctx, exec, g.blocks.Chain(block))
	if err != nil {
		return err
	}

	row := g.blocks.ToStorage(block, chainID)
	query := `
		INSERT INTO block (chain_id, hash, parent_hash, number, ts)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hash) DO UPDATE SET
			parent_hash = EXCLUDED.parent_hash,
			number = EXCLUDED.number,
			ts = EXCLUDED.ts
	`

	if _, err := exec.Exec(ctx, query, row.ChainID, row.Hash, row.ParentHash, row.Number, row.Ts); err != nil {
		return db.NewStoreError("upsert block", err)
	}

	return nil
}

// GetBlock retrieves a stored block by hash or by (chain, number).
func (g *Gateway[B, TX]) GetBlock(ctx context.Context, id db.BlockIdentifier) (B, error) {
	var zero B

	exec, release, err := g.lease(ctx)
	if err != nil {
		return zero, err
	}
	defer release()

	var (
		row       models.Block
		chainName string
	)
	if hash, ok := id.Hash(); ok {
		query := `
			SELECT b.id, b.chain_id, c.name, b.hash, b.parent_hash, b.number, b.ts
			FROM block b
			JOIN chain c ON c.id = b.chain_id
			WHERE b.hash = $1
		`
		err = exec.QueryRow(ctx, query, hash.Bytes()).Scan(
			&row.ID, &row.ChainID, &chainName, &row.Hash, &row.ParentHash, &row.Number, &row.Ts,
		)
	} else {
		chain, number, _ := id.Number()
		chainID, cerr := g.chainID(ctx, exec, chain)
		if cerr != nil {
			return zero, cerr
		}
		chainName = chain.String()
		query := `
			SELECT id, chain_id, hash, parent_hash, number, ts
			FROM block
			WHERE chain_id = $1 AND number = $2
		`
		err = exec.QueryRow(ctx, query, chainID, int64(number)).Scan(
			&row.ID, &row.ChainID, &row.Hash, &row.ParentHash, &row.Number, &row.Ts,
		)
	}
	if err != nil {
		if IsNoRows(err) {
			return zero, db.NewNotFound("block", id.String())
		}
		return zero, db.NewStoreError("get block", err)
	}

	chain, err := types.ParseChain(chainName)
	if err != nil {
		return zero, db.Decodef("stored block references unknown chain: %v", err)
	}

	return g.blocks.FromStorage(row, chain)
}

// UpsertTransactions stores a batch of transactions. Their containing blocks
// must already be stored; a missing block yields NotFound before anything is
// written.
func (g *Gateway[B, TX]) UpsertTransactions(ctx context.Context, txs []TX) error {
	if len(txs) == 0 {
		return nil
	}

	exec, release, err := g.lease(ctx)
	if err != nil {
		return err
	}
	defer release()

	hashes := make([]common.Hash, 0, len(txs))
	for _, tx := range txs {
		hashes = append(hashes, g.txs.BlockHash(tx))
	}
	blockIDs, err := g.blockIDsByHash(ctx, exec, hashes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO "transaction" (block_id, hash, "from", "to", index)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (hash) DO UPDATE SET
			block_id = EXCLUDED.block_id,
			"from" = EXCLUDED."from",
			"to" = EXCLUDED."to",
			index = EXCLUDED.index
	`

	batch := &pgx.Batch{}
	for _, tx := range txs {
		blockID, ok := blockIDs[g.txs.BlockHash(tx)]
		if !ok {
			return db.NewNotFound("block", g.txs.BlockHash(tx).Hex())
		}
		row := g.txs.ToStorage(tx, blockID)
		batch.Queue(query, row.BlockID, row.Hash, row.From, row.To, row.Index)
	}

	if err := executeBatch(ctx, exec, batch); err != nil {
		return db.NewStoreError("upsert transactions", err)
	}

	return nil
}

// GetTransaction retrieves a stored transaction by hash.
func (g *Gateway[B, TX]) GetTransaction(ctx context.Context, hash common.Hash) (TX, error) {
	var zero TX

	exec, release, err := g.lease(ctx)
	if err != nil {
		return zero, err
	}
	defer release()

	query := `
		SELECT t.id, t.block_id, t.hash, t."from", t."to", t.index, b.hash
		FROM "transaction" t
		JOIN block b ON b.id = t.block_id
		WHERE t.hash = $1
	`

	var (
		row       models.Transaction
		blockHash []byte
	)
	err = exec.QueryRow(ctx, query, hash.Bytes()).Scan(
		&row.ID, &row.BlockID, &row.Hash, &row.From, &row.To, &row.Index, &blockHash,
	)
	if err != nil {
		if IsNoRows(err) {
			return zero, db.NewNotFound("transaction", hash.Hex())
		}
		return zero, db.NewStoreError("get transaction", err)
	}

	return g.txs.FromStorage(row, common.BytesToHash(blockHash))
}

// blockIDsByHash resolves stored block row ids in one batched lookup.
// Hashes with no stored block are simply absent from the result.
func (g *Gateway[B, TX]) blockIDsByHash(ctx context.Context, exec Executor, hashes []common.Hash) (map[common.Hash]int64, error) {
	if len(hashes) == 0 {
		return map[common.Hash]int64{}, nil
	}

	seen := make(map[common.Hash]struct{}, len(hashes))
	raw := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		raw = append(raw, h.Bytes())
	}

	rows, err := exec.Query(ctx, `SELECT id, hash FROM block WHERE hash = ANY($1)`, raw)
	if err != nil {
		return nil, db.NewStoreError("resolve blocks", err)
	}
	defer rows.Close()

	out := make(map[common.Hash]int64, len(raw))
	for rows.Next() {
		var (
			id   int64
			hash []byte
		)
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, db.NewStoreError("scan block id", err)
		}
		out[common.BytesToHash(hash)] = id
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStoreError("iterate block ids", err)
	}

	return out, nil
}

// blockRef is the stored identity of a block, used to version rows written
// at that block.
type blockRef struct {
	ID     int64
	Number int64
	Ts     time.Time
}

// blockRefByHash resolves a stored block's row id, number and timestamp.
func (g *Gateway[B, TX]) blockRefByHash(ctx context.Context, exec Executor, hash common.Hash) (blockRef, error) {
	var ref blockRef
	err := exec.QueryRow(ctx, `SELECT id, number, ts FROM block WHERE hash = $1`, hash.Bytes()).
		Scan(&ref.ID, &ref.Number, &ref.Ts)
	if err != nil {
		if IsNoRows(err) {
			return blockRef{}, db.NewNotFound("block", hash.Hex())
		}
		return blockRef{}, db.NewStoreError("resolve block", err)
	}
	ref.Ts = ref.Ts.UTC()
	return ref, nil
}

// txRef is the stored identity of a transaction. Index doubles as the
// ordinal for rows versioned within one block.
type txRef struct {
	ID    int64
	Index int64
}

// txRefsByHash resolves transaction row ids and in-block indexes in one
// batched lookup. Every requested hash must resolve; versioned rows cannot
// reference transactions the store has not seen.
func (g *Gateway[B, TX]) txRefsByHash(ctx context.Context, exec Executor, hashes []common.Hash) (map[common.Hash]txRef, error) {
	if len(hashes) == 0 {
		return map[common.Hash]txRef{}, nil
	}

	seen := make(map[common.Hash]struct{}, len(hashes))
	raw := make([][]byte, 0, len(hashes))
	for _, h := range hashes {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		raw = append(raw, h.Bytes())
	}

	rows, err := exec.Query(ctx, `SELECT id, hash, index FROM "transaction" WHERE hash = ANY($1)`, raw)
	if err != nil {
		return nil, db.NewStoreError("resolve transactions", err)
	}
	defer rows.Close()

	out := make(map[common.Hash]txRef, len(raw))
	for rows.Next() {
		var (
			ref  txRef
			hash []byte
		)
		if err := rows.Scan(&ref.ID, &hash, &ref.Index); err != nil {
			return nil, db.NewStoreError("scan transaction id", err)
		}
		out[common.BytesToHash(hash)] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStoreError("iterate transaction ids", err)
	}

	for _, h := range hashes {
		if _, ok := out[h]; !ok {
			return nil, db.NewNotFound("transaction", h.Hex())
		}
	}

	return out, nil
}
