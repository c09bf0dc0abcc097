package postgres

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/archon-data/chainstate/pkg/db"
	"github.com/archon-data/chainstate/pkg/evm"
	"github.com/archon-data/chainstate/pkg/types"
)

// Directional range queries. Both directions share the same half-open
// interval and the same (entity, key) grouping; they differ only in scan
// order and in which column is read. Forward takes the value of the latest
// in-range change; backward takes the value held immediately before the
// earliest in-range change, which undoes the interval no matter how many
// intermediate changes occurred.
const (
	slotDeltaForwardQuery = `
		SELECT DISTINCT ON (cs.contract_id, cs.slot)
		       cs.contract_id, cs.slot, cs.value
		FROM contract_storage cs
		JOIN contract ct ON ct.id = cs.contract_id
		WHERE ct.chain_id = $1
		  AND cs.valid_from > $2
		  AND cs.valid_from <= $3
		ORDER BY cs.contract_id, cs.slot, cs.valid_from DESC, cs.ordinal DESC
	`

	slotDeltaBackwardQuery = `
		SELECT DISTINCT ON (cs.contract_id, cs.slot)
		       cs.contract_id, cs.slot, cs.previous_value
		FROM contract_storage cs
		JOIN contract ct ON ct.id = cs.contract_id
		WHERE ct.chain_id = $1
		  AND cs.valid_from > $2
		  AND cs.valid_from <= $3
		ORDER BY cs.contract_id, cs.slot, cs.valid_from ASC, cs.ordinal ASC
	`

	stateDeltaForwardQuery = `
		SELECT DISTINCT ON (ps.protocol_component_id, ps.attribute_name)
		       pc.external_id, ps.attribute_name, ps.attribute_value
		FROM protocol_state ps
		JOIN protocol_component pc ON pc.id = ps.protocol_component_id
		JOIN "transaction" tx ON tx.id = ps.modify_tx
		WHERE pc.chain_id = $1
		  AND ps.valid_from > $2
		  AND ps.valid_from <= $3
		ORDER BY ps.protocol_component_id, ps.attribute_name, ps.valid_from DESC, tx.index DESC
	`

	stateDeltaBackwardQuery = `
		SELECT DISTINCT ON (ps.protocol_component_id, ps.attribute_name)
		       pc.external_id, ps.attribute_name, ps.previous_value
		FROM protocol_state ps
		JOIN protocol_component pc ON pc.id = ps.protocol_component_id
		JOIN "transaction" tx ON tx.id = ps.modify_tx
		WHERE pc.chain_id = $1
		  AND ps.valid_from > $2
		  AND ps.valid_from <= $3
		ORDER BY ps.protocol_component_id, ps.attribute_name, ps.valid_from ASC, tx.index ASC
	`

	balanceDeltaForwardQuery = `
		SELECT DISTINCT ON (cb.protocol_component_id, cb.token_id)
		       pc.external_id, ct.address, cb.new_balance
		FROM component_balance cb
		JOIN protocol_component pc ON pc.id = cb.protocol_component_id
		JOIN token tk ON tk.id = cb.token_id
		JOIN contract ct ON ct.id = tk.account_id
		JOIN "transaction" tx ON tx.id = cb.modify_tx
		WHERE pc.chain_id = $1
		  AND cb.valid_from > $2
		  AND cb.valid_from <= $3
		ORDER BY cb.protocol_component_id, cb.token_id, cb.valid_from DESC, tx.index DESC
	`

	balanceDeltaBackwardQuery = `
		SELECT DISTINCT ON (cb.protocol_component_id, cb.token_id)
		       pc.external_id, ct.address, cb.previous_value
		FROM component_balance cb
		JOIN protocol_component pc ON pc.id = cb.protocol_component_id
		JOIN token tk ON tk.id = cb.token_id
		JOIN contract ct ON ct.id = tk.account_id
		JOIN "transaction" tx ON tx.id = cb.modify_tx
		WHERE pc.chain_id = $1
		  AND cb.valid_from > $2
		  AND cb.valid_from <= $3
		ORDER BY cb.protocol_component_id, cb.token_id, cb.valid_from ASC, tx.index ASC
	`
)

// slotChangeRow is one deduplicated row of the directional range query.
// Value holds the direction-appropriate column (value forward,
// previous_value backward) and is nil when that column is NULL.
type slotChangeRow struct {
	ContractID int64
	Slot       []byte
	Value      []byte
}

// deltaRange orders two resolved timestamps into query bounds and reports
// the scan direction.
func deltaRange(ts, tt time.Time) (lower, upper time.Time, forward bool) {
	if ts.After(tt) {
		return tt, ts, false
	}
	return ts, tt, true
}

// GetSlotsDelta computes the net per-slot change across all contracts of a
// chain between two versions. Forward (start before target) yields the
// values in effect at target for every slot changed in between; backward
// yields the values needed to undo the interval, where slots that did not
// exist before it resolve to zero. Equal versions yield an empty map.
func (g *Gateway[B, TX]) GetSlotsDelta(ctx context.Context, chain types.Chain, start, target *db.Version) (map[common.Address]map[uint256.Int]uint256.Int, error) {
	exec, release, err := g.lease(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	chainID, err := g.chainID(ctx, exec, chain)
	if err != nil {
		return nil, err
	}

	ts, err := g.resolveVersion(ctx, exec, start)
	if err != nil {
		return nil, err
	}
	tt, err := g.resolveVersion(ctx, exec, target)
	if err != nil {
		return nil, err
	}

	if ts.Equal(tt) {
		return map[common.Address]map[uint256.Int]uint256.Int{}, nil
	}

	lower, upper, forward := deltaRange(ts, tt)
	query := slotDeltaForwardQuery
	if !forward {
		query = slotDeltaBackwardQuery
	}

	rows, err := exec.Query(ctx, query, chainID, lower, upper)
	if err != nil {
		return nil, db.NewStoreError("query slot changes", err)
	}
	defer rows.Close()

	var changes []slotChangeRow
	for rows.Next() {
		var r slotChangeRow
		if err := rows.Scan(&r.ContractID, &r.Slot, &r.Value); err != nil {
			return nil, db.NewStoreError("scan slot change", err)
		}
		changes = append(changes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStoreError("iterate slot changes", err)
	}

	addrs, err := g.contractAddresses(ctx, exec, changes)
	if err != nil {
		return nil, err
	}

	return buildSlotDelta(changes, addrs)
}

// contractAddresses resolves the distinct contract ids of a change set to
// raw stored addresses in one batched lookup.
func (g *Gateway[B, TX]) contractAddresses(ctx context.Context, exec Executor, changes []slotChangeRow) (map[int64][]byte, error) {
	seen := make(map[int64]struct{}, len(changes))
	ids := make([]int64, 0, len(changes))
	for _, c := range changes {
		if _, ok := seen[c.ContractID]; ok {
			continue
		}
		seen[c.ContractID] = struct{}{}
		ids = append(ids, c.ContractID)
	}
	if len(ids) == 0 {
		return map[int64][]byte{}, nil
	}

	rows, err := exec.Query(ctx, `SELECT id, address FROM contract WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, db.NewStoreError("resolve contract addresses", err)
	}
	defer rows.Close()

	out := make(map[int64][]byte, len(ids))
	for rows.Next() {
		var (
			id   int64
			addr []byte
		)
		if err := rows.Scan(&id, &addr); err != nil {
			return nil, db.NewStoreError("scan contract address", err)
		}
		out[id] = addr
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStoreError("iterate contract addresses", err)
	}

	return out, nil
}

// buildSlotDelta decodes deduplicated change rows into the per-contract slot
// map. A change row whose contract id has no address is a data-integrity
// violation, and any malformed address, slot or value aborts the whole call;
// no partial map is ever returned. A nil value decodes as zero.
func buildSlotDelta(changes []slotChangeRow, addrs map[int64][]byte) (map[common.Address]map[uint256.Int]uint256.Int, error) {
	out := make(map[common.Address]map[uint256.Int]uint256.Int)
	for _, c := range changes {
		raw, ok := addrs[c.ContractID]
		if !ok {
			return nil, db.Decodef("contract id %d has change rows but no contract record", c.ContractID)
		}
		addr, err := evm.DecodeAddress(raw)
		if err != nil {
			return nil, err
		}
		slot, value, err := evm.ParseSlotEntry(c.Slot, c.Value)
		if err != nil {
			return nil, err
		}
		slots, ok := out[addr]
		if !ok {
			slots = make(map[uint256.Int]uint256.Int)
			out[addr] = slots
		}
		slots[slot] = value
	}
	return out, nil
}

// GetProtocolStateDelta computes the net per-attribute change of every
// component of a chain between two versions, keyed by component external id.
// An empty or nil value means the attribute is unset at the target version.
func (g *Gateway[B, TX]) GetProtocolStateDelta(ctx context.Context, chain types.Chain, start, target *db.Version) (map[string]map[string][]byte, error) {
	exec, release, err := g.lease(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	chainID, err := g.chainID(ctx, exec, chain)
	if err != nil {
		return nil, err
	}

	ts, err := g.resolveVersion(ctx, exec, start)
	if err != nil {
		return nil, err
	}
	tt, err := g.resolveVersion(ctx, exec, target)
	if err != nil {
		return nil, err
	}

	if ts.Equal(tt) {
		return map[string]map[string][]byte{}, nil
	}

	lower, upper, forward := deltaRange(ts, tt)
	query := stateDeltaForwardQuery
	if !forward {
		query = stateDeltaBackwardQuery
	}

	rows, err := exec.Query(ctx, query, chainID, lower, upper)
	if err != nil {
		return nil, db.NewStoreError("query protocol state changes", err)
	}
	defer rows.Close()

	out := make(map[string]map[string][]byte)
	for rows.Next() {
		var (
			externalID string
			name       string
			value      []byte
		)
		if err := rows.Scan(&externalID, &name, &value); err != nil {
			return nil, db.NewStoreError("scan protocol state change", err)
		}
		attrs, ok := out[externalID]
		if !ok {
			attrs = make(map[string][]byte)
			out[externalID] = attrs
		}
		attrs[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStoreError("iterate protocol state changes", err)
	}

	return out, nil
}

// GetBalanceDeltas computes the net balance change of every (component,
// token) pair of a chain between two versions, keyed by component external
// id and token address. Balances are raw 32-byte big-endian values; pairs
// with no balance before a rolled-back interval resolve to zero.
func (g *Gateway[B, TX]) GetBalanceDeltas(ctx context.Context, chain types.Chain, start, target *db.Version) (map[string]map[common.Address][]byte, error) {
	exec, release, err := g.lease(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	chainID, err := g.chainID(ctx, exec, chain)
	if err != nil {
		return nil, err
	}

	ts, err := g.resolveVersion(ctx, exec, start)
	if err != nil {
		return nil, err
	}
	tt, err := g.resolveVersion(ctx, exec, target)
	if err != nil {
		return nil, err
	}

	if ts.Equal(tt) {
		return map[string]map[common.Address][]byte{}, nil
	}

	lower, upper, forward := deltaRange(ts, tt)
	query := balanceDeltaForwardQuery
	if !forward {
		query = balanceDeltaBackwardQuery
	}

	rows, err := exec.Query(ctx, query, chainID, lower, upper)
	if err != nil {
		return nil, db.NewStoreError("query balance changes", err)
	}
	defer rows.Close()

	out := make(map[string]map[common.Address][]byte)
	for rows.Next() {
		var (
			externalID string
			rawAddr    []byte
			rawValue   []byte
		)
		if err := rows.Scan(&externalID, &rawAddr, &rawValue); err != nil {
			return nil, db.NewStoreError("scan balance change", err)
		}
		token, err := evm.DecodeAddress(rawAddr)
		if err != nil {
			return nil, err
		}
		value := rawValue
		if value == nil {
			value = evm.EncodeU256(uint256.Int{})
		} else if _, err := evm.DecodeU256(value); err != nil {
			return nil, err
		}
		balances, ok := out[externalID]
		if !ok {
			balances = make(map[common.Address][]byte)
			out[externalID] = balances
		}
		balances[token] = value
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStoreError("iterate balance changes", err)
	}

	return out, nil
}
