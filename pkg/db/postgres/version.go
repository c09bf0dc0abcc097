package postgres

import (
	"context"
	"time"

	"github.com/archon-data/chainstate/pkg/db"
)

// ResolveVersion turns a version specifier into the canonical comparison
// timestamp. A nil version means "now". Block identifiers resolve to the
// stored block's timestamp; a block with no stored row yields NotFound,
// which only means the store has recorded no changes at that block, not
// that the block is absent on-chain.
func (g *Gateway[B, TX]) ResolveVersion(ctx context.Context, v *db.Version) (time.Time, error) {
	exec, release, err := g.lease(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer release()

	return g.resolveVersion(ctx, exec, v)
}

func (g *Gateway[B, TX]) resolveVersion(ctx context.Context, exec Executor, v *db.Version) (time.Time, error) {
	if v == nil {
		return time.Now().UTC(), nil
	}

	if ts, ok := v.Timestamp(); ok {
		return ts, nil
	}

	id, ok := v.Block()
	if !ok {
		return time.Now().UTC(), nil
	}

	var ts time.Time
	if hash, ok := id.Hash(); ok {
		err := exec.QueryRow(ctx, `SELECT ts FROM block WHERE hash = $1`, hash.Bytes()).Scan(&ts)
		if err != nil {
			if IsNoRows(err) {
				return time.Time{}, db.NewNotFound("block", id.String())
			}
			return time.Time{}, db.NewStoreError("resolve block version", err)
		}
		return ts.UTC(), nil
	}

	chain, number, _ := id.Number()
	chainID, err := g.chainID(ctx, exec, chain)
	if err != nil {
		return time.Time{}, err
	}

	err = exec.QueryRow(ctx, `SELECT ts FROM block WHERE chain_id = $1 AND number = $2`, chainID, int64(number)).Scan(&ts)
	if err != nil {
		if IsNoRows(err) {
			return time.Time{}, db.NewNotFound("block", id.String())
		}
		return time.Time{}, db.NewStoreError("resolve block version", err)
	}

	return ts.UTC(), nil
}
