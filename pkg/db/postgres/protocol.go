package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/archon-data/chainstate/pkg/db"
	"github.com/archon-data/chainstate/pkg/db/models"
	"github.com/archon-data/chainstate/pkg/evm"
	"github.com/archon-data/chainstate/pkg/types"
)

// closeAndInsertStateQuery supersedes the active version of one component
// attribute and inserts the new one. Tombstones (deleted attributes) are
// written as empty values, never as row removals. Same-timestamp ordering
// is resolved at read time through the modifying transaction's index.
const closeAndInsertStateQuery = `
	WITH closed AS (
		UPDATE protocol_state
		SET valid_to = $5
		WHERE protocol_component_id = $1 AND attribute_name = $2 AND valid_to IS NULL
		RETURNING attribute_value
	)
	INSERT INTO protocol_state (protocol_component_id, attribute_name, attribute_value, previous_value, modify_tx, valid_from)
	VALUES ($1, $2, $3, (SELECT attribute_value FROM closed), $4, $5)
`

// TxStateDelta groups the protocol state deltas produced by one transaction.
type TxStateDelta struct {
	TxHash common.Hash
	Deltas []evm.ProtocolStateDelta
}

// AddProtocolTypes upserts protocol type definitions. Types are reference
// data; re-adding one refreshes its schema and classification.
func (g *Gateway[B, TX]) AddProtocolTypes(ctx context.Context, protocolTypes []types.ProtocolType) error {
	if len(protocolTypes) == 0 {
		return nil
	}

	exec, release, err := g.lease(ctx)
	if err != nil {
		return err
	}
	defer release()

	query := `
		INSERT INTO protocol_type (name, financial_type, attribute_schema, implementation)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			financial_type = EXCLUDED.financial_type,
			attribute_schema = EXCLUDED.attribute_schema,
			implementation = EXCLUDED.implementation
	`

	batch := &pgx.Batch{}
	names := make([]string, 0, len(protocolTypes))
	for _, pt := range protocolTypes {
		var schema []byte
		if len(pt.AttributeSchema) > 0 {
			schema = pt.AttributeSchema
		}
		batch.Queue(query, pt.Name, pt.Financial.String(), schema, pt.Implementation.String())
		names = append(names, pt.Name)
	}

	if err := executeBatch(ctx, exec, batch); err != nil {
		return db.NewStoreError("add protocol types", err)
	}

	// Refresh the id cache for the touched names.
	rows, err := exec.Query(ctx, `SELECT id, name FROM protocol_type WHERE name = ANY($1)`, names)
	if err != nil {
		return db.NewStoreError("reload protocol type ids", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return db.NewStoreError("scan protocol type id", err)
		}
		g.typeIDs.Store(name, id)
	}

	return rows.Err()
}

// GetProtocolTypes retrieves the registered protocol type definitions,
// optionally filtered by name.
func (g *Gateway[B, TX]) GetProtocolTypes(ctx context.Context, names []string) ([]*types.ProtocolType, error) {
	exec, release, err := g.lease(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	query := `SELECT id, name, financial_type, attribute_schema, implementation FROM protocol_type`
	args := []any{}
	if len(names) > 0 {
		query += ` WHERE name = ANY($1)`
		args = append(args, names)
	}
	query += ` ORDER BY name`

	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, db.NewStoreError("get protocol types", err)
	}
	defer rows.Close()

	var out []*types.ProtocolType
	for rows.Next() {
		var row models.ProtocolType
		if err := rows.Scan(&row.ID, &row.Name, &row.FinancialType, &row.AttributeSchema, &row.Implementation); err != nil {
			return nil, db.NewStoreError("scan protocol type", err)
		}
		pt, err := evm.ProtocolTypeFromStorage(row)
		if err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStoreError("iterate protocol types", err)
	}

	return out, nil
}

// AddProtocolComponents stores protocol components with all their references
// resolved, interning unseen protocol systems along the way. The protocol
// type must have been registered through AddProtocolTypes first.
func (g *Gateway[B, TX]) AddProtocolComponents(ctx context.Context, components []*evm.ProtocolComponent) error {
	if len(components) == 0 {
		return nil
	}

	return g.transact(ctx, func(tx pgx.Tx) error {
		var creationHashes []common.Hash
		for _, comp := range components {
			if comp.CreationTx != (common.Hash{}) {
				creationHashes = append(creationHashes, comp.CreationTx)
			}
		}
		txRefs, err := g.txRefsByHash(ctx, tx, creationHashes)
		if err != nil {
			return err
		}

		query := `
			INSERT INTO protocol_component (
				chain_id, external_id, protocol_type_id, protocol_system_id,
				attributes, tokens, contract_addresses, creation_tx, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (chain_id, external_id) DO UPDATE SET
				protocol_type_id = EXCLUDED.protocol_type_id,
				protocol_system_id = EXCLUDED.protocol_system_id,
				attributes = EXCLUDED.attributes,
				tokens = EXCLUDED.tokens,
				contract_addresses = EXCLUDED.contract_addresses,
				creation_tx = COALESCE(protocol_component.creation_tx, EXCLUDED.creation_tx),
				created_at = COALESCE(protocol_component.created_at, EXCLUDED.created_at)
		`

		batch := &pgx.Batch{}
		for _, comp := range components {
			chainID, err := g.ensureChainID(ctx, tx, comp.Chain)
			if err != nil {
				return err
			}
			systemID, err := g.ensureProtocolSystemID(ctx, tx, comp.ProtocolSystem)
			if err != nil {
				return err
			}
			typeID, err := g.protocolTypeID(ctx, tx, comp.ProtocolTypeName)
			if err != nil {
				return err
			}

			var (
				creationTx *int64
				createdAt  *time.Time
			)
			if comp.CreationTx != (common.Hash{}) {
				id := txRefs[comp.CreationTx].ID
				creationTx = &id
			}
			if !comp.CreatedAt.IsZero() {
				ts := comp.CreatedAt.UTC()
				createdAt = &ts
			}

			row, err := comp.ToStorage(chainID, typeID, systemID, creationTx, createdAt)
			if err != nil {
				return err
			}

			batch.Queue(query,
				row.ChainID, row.ExternalID, row.ProtocolTypeID, row.ProtocolSystemID,
				row.Attributes, row.Tokens, row.Contracts, row.CreationTx, row.CreatedAt,
			)
		}

		if err := executeBatch(ctx, tx, batch); err != nil {
			return db.NewStoreError("add protocol components", err)
		}

		return nil
	})
}

// GetProtocolComponents retrieves a chain's protocol components, optionally
// filtered by protocol system and by external ids.
func (g *Gateway[B, TX]) GetProtocolComponents(ctx context.Context, chain types.Chain, system string, ids []string) ([]*evm.ProtocolComponent, error) {
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
		SELECT pc.external_id, pt.name, ps.name, pc.attributes, pc.tokens,
		       pc.contract_addresses, tx.hash, pc.created_at
		FROM protocol_component pc
		JOIN protocol_type pt ON pt.id = pc.protocol_type_id
		JOIN protocol_system ps ON ps.id = pc.protocol_system_id
		LEFT JOIN "transaction" tx ON tx.id = pc.creation_tx
		WHERE pc.chain_id = $1 AND pc.deleted_at IS NULL
	`
	args := []any{chainID}
	if system != "" {
		args = append(args, system)
		query += fmt.Sprintf(" AND ps.name = $%d", len(args))
	}
	if len(ids) > 0 {
		args = append(args, ids)
		query += fmt.Sprintf(" AND pc.external_id = ANY($%d)", len(args))
	}
	query += ` ORDER BY pc.id`

	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, db.NewStoreError("get protocol components", err)
	}
	defer rows.Close()

	var out []*evm.ProtocolComponent
	for rows.Next() {
		var (
			row        models.ProtocolComponent
			typeName   string
			systemName string
			txHash     []byte
		)
		if err := rows.Scan(&row.ExternalID, &typeName, &systemName, &row.Attributes,
			&row.Tokens, &row.Contracts, &txHash, &row.CreatedAt); err != nil {
			return nil, db.NewStoreError("scan protocol component", err)
		}

		comp, err := evm.ComponentFromStorage(row, chain, systemName, typeName, common.BytesToHash(txHash))
		if err != nil {
			return nil, err
		}
		out = append(out, comp)
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStoreError("iterate protocol components", err)
	}

	return out, nil
}

// ApplyProtocolStateDeltas applies the per-attribute state changes observed
// in one block, in transaction order, as one atomic write. Updated
// attributes supersede their active versions; deleted ones are tombstoned
// with empty values so the deletion itself stays versioned.
func (g *Gateway[B, TX]) ApplyProtocolStateDeltas(ctx context.Context, block B, groups []TxStateDelta) error {
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

		ordered := make([]TxStateDelta, len(groups))
		copy(ordered, groups)
		sort.SliceStable(ordered, func(i, j int) bool {
			return refs[ordered[i].TxHash].Index < refs[ordered[j].TxHash].Index
		})

		var externalIDs []string
		for _, group := range ordered {
			for _, delta := range group.Deltas {
				externalIDs = append(externalIDs, delta.ComponentID)
			}
		}
		componentIDs, err := g.componentIDsByExternal(ctx, tx, chainID, externalIDs)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, group := range ordered {
			txRef := refs[group.TxHash]
			for _, delta := range group.Deltas {
				componentID := componentIDs[delta.ComponentID]
				for name, value := range delta.StorageAttributes() {
					stored := value
					if stored == nil {
						stored = []byte{}
					}
					batch.Queue(closeAndInsertStateQuery, componentID, name, stored, txRef.ID, ref.Ts)
				}
			}
		}

		if err := executeBatch(ctx, tx, batch); err != nil {
			return db.NewStoreError("apply protocol state deltas", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	g.announce(ctx, chain, blockHash, uint64(ref.Number), ref.Ts)
	return nil
}

// GetProtocolStates retrieves the attribute maps of a chain's components as
// of a version, optionally filtered by external ids. Each returned state
// carries the hash of the latest transaction that contributed to it.
func (g *Gateway[B, TX]) GetProtocolStates(ctx context.Context, chain types.Chain, at *db.Version, ids []string) ([]*evm.ProtocolState, error) {
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
		SELECT pc.external_id, ps.attribute_name, ps.attribute_value, ps.valid_from, tx.index, tx.hash
		FROM protocol_state ps
		JOIN protocol_component pc ON pc.id = ps.protocol_component_id
		JOIN "transaction" tx ON tx.id = ps.modify_tx
		WHERE pc.chain_id = $1
		  AND ps.valid_from <= $2
		  AND (ps.valid_to IS NULL OR ps.valid_to > $2)
	`
	args := []any{chainID, ts}
	if len(ids) > 0 {
		args = append(args, ids)
		query += fmt.Sprintf(" AND pc.external_id = ANY($%d)", len(args))
	}
	query += ` ORDER BY pc.external_id, ps.attribute_name`

	rows, err := exec.Query(ctx, query, args...)
	if err != nil {
		return nil, db.NewStoreError("get protocol states", err)
	}
	defer rows.Close()

	type pending struct {
		attrs     []models.StateAttribute
		latestTs  time.Time
		latestIdx int64
		modifyTx  common.Hash
	}

	var order []string
	grouped := make(map[string]*pending)
	for rows.Next() {
		var (
			externalID string
			attr       models.StateAttribute
			validFrom  time.Time
			txIndex    int64
			txHash     []byte
		)
		if err := rows.Scan(&externalID, &attr.Name, &attr.Value, &validFrom, &txIndex, &txHash); err != nil {
			return nil, db.NewStoreError("scan protocol state", err)
		}

		p, ok := grouped[externalID]
		if !ok {
			p = &pending{}
			grouped[externalID] = p
			order = append(order, externalID)
		}
		p.attrs = append(p.attrs, attr)
		if validFrom.After(p.latestTs) || (validFrom.Equal(p.latestTs) && txIndex >= p.latestIdx) {
			p.latestTs = validFrom
			p.latestIdx = txIndex
			p.modifyTx = common.BytesToHash(txHash)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStoreError("iterate protocol states", err)
	}

	out := make([]*evm.ProtocolState, 0, len(order))
	for _, externalID := range order {
		p := grouped[externalID]
		out = append(out, evm.ProtocolStateFromStorage(externalID, p.attrs, p.modifyTx))
	}

	return out, nil
}

// componentIDsByExternal resolves component row ids in one batched lookup.
// State and balance rows reference components by row id, so every external
// id must resolve.
func (g *Gateway[B, TX]) componentIDsByExternal(ctx context.Context, exec Executor, chainID int64, externalIDs []string) (map[string]int64, error) {
	if len(externalIDs) == 0 {
		return map[string]int64{}, nil
	}

	seen := make(map[string]struct{}, len(externalIDs))
	distinct := make([]string, 0, len(externalIDs))
	for _, id := range externalIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		distinct = append(distinct, id)
	}

	rows, err := exec.Query(ctx,
		`SELECT id, external_id FROM protocol_component WHERE chain_id = $1 AND external_id = ANY($2)`,
		chainID, distinct)
	if err != nil {
		return nil, db.NewStoreError("resolve component ids", err)
	}
	defer rows.Close()

	out := make(map[string]int64, len(distinct))
	for rows.Next() {
		var (
			id         int64
			externalID string
		)
		if err := rows.Scan(&id, &externalID); err != nil {
			return nil, db.NewStoreError("scan component id", err)
		}
		out[externalID] = id
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStoreError("iterate component ids", err)
	}

	for _, id := range distinct {
		if _, ok := out[id]; !ok {
			return nil, db.NewNotFound("protocol_component", id)
		}
	}

	return out, nil
}
