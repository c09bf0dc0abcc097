package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/archon-data/chainstate/pkg/db"
	"github.com/archon-data/chainstate/pkg/types"
)

// Notifier receives an announcement after every committed state-changing
// batch. Announcements are best effort and never fail the write.
type Notifier interface {
	AnnounceDelta(ctx context.Context, chain types.Chain, blockHash common.Hash, blockNumber uint64, ts time.Time)
}

// Gateway is the single store-facing component. It is generic over the
// chain-specific block and transaction representations, which it only
// touches through their mapping contracts. Every public method leases one
// pooled connection (or joins the transaction carried by the context) for
// its whole duration; writes that decompose one logical entity into many
// rows run inside a single transaction.
type Gateway[B, TX any] struct {
	*Client

	blocks db.StorableBlock[B]
	txs    db.StorableTransaction[TX]

	notifier Notifier

	// Identity caches. These tables are tiny and append-mostly, so ids are
	// cached forever once seen.
	chainIDs  *xsync.Map[string, int64]
	systemIDs *xsync.Map[string, int64]
	typeIDs   *xsync.Map[string, int64]
}

// NewGateway connects to the store, ensures the schema exists and returns a
// gateway bound to the given block/transaction mapping contracts.
func NewGateway[B, TX any](
	ctx context.Context,
	logger *zap.Logger,
	blocks db.StorableBlock[B],
	txs db.StorableTransaction[TX],
	poolConfig ...*PoolConfig,
) (*Gateway[B, TX], error) {
	client, err := New(ctx, logger, poolConfig...)
	if err != nil {
		return nil, err
	}

	g := &Gateway[B, TX]{
		Client:    client,
		blocks:    blocks,
		txs:       txs,
		chainIDs:  xsync.NewMap[string, int64](),
		systemIDs: xsync.NewMap[string, int64](),
		typeIDs:   xsync.NewMap[string, int64](),
	}

	if err := g.InitializeDB(ctx); err != nil {
		g.Close()
		return nil, err
	}

	return g, nil
}

// SetNotifier attaches the announcement sink. Pass nil to disable.
func (g *Gateway[B, TX]) SetNotifier(n Notifier) {
	g.notifier = n
}

// lease returns the executor for one logical operation: the transaction
// carried by the context when present, otherwise one pooled connection plus
// its release func.
func (g *Gateway[B, TX]) lease(ctx context.Context) (Executor, func(), error) {
	if tx, ok := ctx.Value(txKey).(pgx.Tx); ok {
		return tx, func() {}, nil
	}
	conn, err := g.Pool.Acquire(ctx)
	if err != nil {
		return nil, nil, db.NewStoreError("acquire connection", err)
	}
	return conn, conn.Release, nil
}

// transact runs fn inside one transaction unless the context already
// carries one, in which case fn joins it and commit stays with the owner.
func (g *Gateway[B, TX]) transact(ctx context.Context, fn func(pgx.Tx) error) error {
	if tx, ok := ctx.Value(txKey).(pgx.Tx); ok {
		return fn(tx)
	}
	return pgx.BeginFunc(ctx, g.Pool, fn)
}

// announce reports a committed batch to the notifier, if any.
func (g *Gateway[B, TX]) announce(ctx context.Context, chain types.Chain, blockHash common.Hash, blockNumber uint64, ts time.Time) {
	if g.notifier == nil {
		return
	}
	g.notifier.AnnounceDelta(ctx, chain, blockHash, blockNumber, ts)
}

// EnsureChain registers a chain namespace if it is not already present and
// returns its row id. Registration is idempotent.
func (g *Gateway[B, TX]) EnsureChain(ctx context.Context, chain types.Chain) (int64, error) {
	exec, release, err := g.lease(ctx)
	if err != nil {
		return 0, err
	}
	defer release()

	return g.ensureChainID(ctx, exec, chain)
}

// ensureChainID interns the chain name, creating the row on first sight.
func (g *Gateway[B, TX]) ensureChainID(ctx context.Context, exec Executor, chain types.Chain) (int64, error) {
	if id, ok := g.chainIDs.Load(chain.String()); ok {
		return id, nil
	}

	// DO UPDATE instead of DO NOTHING so RETURNING always yields the row.
	query := `
		INSERT INTO chain (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`

	var id int64
	if err := exec.QueryRow(ctx, query, chain.String()).Scan(&id); err != nil {
		return 0, db.NewStoreError("ensure chain", err)
	}

	g.chainIDs.Store(chain.String(), id)
	return id, nil
}

// chainID resolves a chain name to its row id without creating it.
func (g *Gateway[B, TX]) chainID(ctx context.Context, exec Executor, chain types.Chain) (int64, error) {
	if id, ok := g.chainIDs.Load(chain.String()); ok {
		return id, nil
	}

	var id int64
	err := exec.QueryRow(ctx, `SELECT id FROM chain WHERE name = $1`, chain.String()).Scan(&id)
	if err != nil {
		if IsNoRows(err) {
			return 0, db.NewNotFound("chain", chain.String())
		}
		return 0, db.NewStoreError("lookup chain", err)
	}

	g.chainIDs.Store(chain.String(), id)
	return id, nil
}

// ensureProtocolSystemID interns a protocol system name.
func (g *Gateway[B, TX]) ensureProtocolSystemID(ctx context.Context, exec Executor, name string) (int64, error) {
	if id, ok := g.systemIDs.Load(name); ok {
		return id, nil
	}

	query := `
		INSERT INTO protocol_system (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`

	var id int64
	if err := exec.QueryRow(ctx, query, name).Scan(&id); err != nil {
		return 0, db.NewStoreError("ensure protocol system", err)
	}

	g.systemIDs.Store(name, id)
	return id, nil
}

// protocolTypeID resolves a protocol type name. Types are reference data
// and must be registered through AddProtocolTypes before components use
// them.
func (g *Gateway[B, TX]) protocolTypeID(ctx context.Context, exec Executor, name string) (int64, error) {
	if id, ok := g.typeIDs.Load(name); ok {
		return id, nil
	}

	var id int64
	err := exec.QueryRow(ctx, `SELECT id FROM protocol_type WHERE name = $1`, name).Scan(&id)
	if err != nil {
		if IsNoRows(err) {
			return 0, db.NewNotFound("protocol_type", name)
		}
		return 0, db.NewStoreError("lookup protocol type", err)
	}

	g.typeIDs.Store(name, id)
	return id, nil
}

// WarmCaches preloads the identity caches from the store. Long-running
// read-only instances call this periodically to observe chains, systems and
// types registered by ingestion after startup.
func (g *Gateway[B, TX]) WarmCaches(ctx context.Context) error {
	exec, release, err := g.lease(ctx)
	if err != nil {
		return err
	}
	defer release()

	warm := func(query string, cache *xsync.Map[string, int64]) error {
		rows, err := exec.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				id   int64
				name string
			)
			if err := rows.Scan(&id, &name); err != nil {
				return err
			}
			cache.Store(name, id)
		}
		return rows.Err()
	}

	if err := warm(`SELECT id, name FROM chain`, g.chainIDs); err != nil {
		return db.NewStoreError("warm chain cache", err)
	}
	if err := warm(`SELECT id, name FROM protocol_system`, g.systemIDs); err != nil {
		return db.NewStoreError("warm protocol system cache", err)
	}
	if err := warm(`SELECT id, name FROM protocol_type`, g.typeIDs); err != nil {
		return db.NewStoreError("warm protocol type cache", err)
	}

	g.Logger.Debug("Identity caches warmed",
		zap.Int("chains", g.chainIDs.Size()),
		zap.Int("systems", g.systemIDs.Size()),
		zap.Int("types", g.typeIDs.Size()))

	return nil
}

// executeBatch sends a batch and surfaces the first failing statement.
func executeBatch(ctx context.Context, exec Executor, batch *pgx.Batch) error {
	br := exec.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch statement %d failed: %w", i, err)
		}
	}

	return nil
}
