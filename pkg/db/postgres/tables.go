package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"
	"go.uber.org/zap"
)

// InitializeDB ensures all tables and indexes exist. Tables are created in
// dependency phases so foreign keys always reference an existing table;
// tables within a phase are created in parallel.
func (c *Client) InitializeDB(ctx context.Context) error {
	initStart := time.Now()

	c.Logger.Info("Initializing schema")

	type initOp struct {
		name string
		fn   func(context.Context) error
	}

	phases := [][]initOp{
		{
			{"chain", c.initChain},
		},
		{
			{"block", c.initBlock},
			{"protocol_system", c.initProtocolSystem},
			{"protocol_type", c.initProtocolType},
		},
		{
			{"transaction", c.initTransaction},
		},
		{
			{"contract", c.initContract},
			{"protocol_component", c.initProtocolComponent},
		},
		{
			{"contract_storage", c.initContractStorage},
			{"token", c.initToken},
			{"protocol_state", c.initProtocolState},
		},
		{
			{"component_balance", c.initComponentBalance},
		},
	}

	maxWorkers := 0
	for _, phase := range phases {
		if len(phase) > maxWorkers {
			maxWorkers = len(phase)
		}
	}

	pool := pond.NewPool(maxWorkers, pond.WithQueueSize(maxWorkers))
	defer pool.StopAndWait()

	for _, phase := range phases {
		group := pool.NewGroupContext(ctx)
		groupCtx := group.Context()
		errChan := make(chan error, len(phase))

		for _, op := range phase {
			op := op
			group.Submit(func() {
				if err := groupCtx.Err(); err != nil {
					return
				}
				c.Logger.Debug("Initializing table", zap.String("table", op.name))
				if err := op.fn(groupCtx); err != nil {
					errChan <- fmt.Errorf("init %s: %w", op.name, err)
				}
			})
		}

		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
			return err
		}
		close(errChan)

		for err := range errChan {
			return err
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	c.Logger.Info("Schema initialized successfully",
		zap.Duration("duration", time.Since(initStart)))

	return nil
}

// initChain creates the chain registry table
func (c *Client) initChain(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS chain (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		);
	`

	return c.Exec(ctx, query)
}

// initBlock creates the block table
func (c *Client) initBlock(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS block (
			id BIGSERIAL PRIMARY KEY,
			chain_id BIGINT NOT NULL REFERENCES chain(id),
			hash BYTEA NOT NULL UNIQUE,
			parent_hash BYTEA NOT NULL,
			number BIGINT NOT NULL,
			ts TIMESTAMP WITH TIME ZONE NOT NULL,
			UNIQUE (chain_id, number)
		);

		CREATE INDEX IF NOT EXISTS idx_block_ts ON block(ts);
	`

	return c.Exec(ctx, query)
}

// initTransaction creates the transaction table. "from", "to" and the table
// name itself collide with SQL keywords and stay quoted everywhere.
func (c *Client) initTransaction(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS "transaction" (
			id BIGSERIAL PRIMARY KEY,
			block_id BIGINT NOT NULL REFERENCES block(id),
			hash BYTEA NOT NULL UNIQUE,
			"from" BYTEA NOT NULL,
			"to" BYTEA,
			index BIGINT NOT NULL,
			UNIQUE (block_id, index)
		);
	`

	return c.Exec(ctx, query)
}

// initContract creates the contract table. balance and code hold the current
// values only; slot history lives in contract_storage.
func (c *Client) initContract(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS contract (
			id BIGSERIAL PRIMARY KEY,
			chain_id BIGINT NOT NULL REFERENCES chain(id),
			address BYTEA NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			code BYTEA NOT NULL,
			code_hash BYTEA NOT NULL,
			balance BYTEA NOT NULL,
			creation_tx BIGINT REFERENCES "transaction"(id),
			created_at TIMESTAMP WITH TIME ZONE,
			deleted_at TIMESTAMP WITH TIME ZONE,
			UNIQUE (chain_id, address)
		);

		CREATE INDEX IF NOT EXISTS idx_contract_chain ON contract(chain_id);
	`

	return c.Exec(ctx, query)
}

// initContractStorage creates the versioned slot table. The partial unique
// index enforces at most one active row per (contract_id, slot).
func (c *Client) initContractStorage(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS contract_storage (
			id BIGSERIAL PRIMARY KEY,
			contract_id BIGINT NOT NULL REFERENCES contract(id),
			slot BYTEA NOT NULL,
			value BYTEA,
			previous_value BYTEA,
			modify_tx BIGINT NOT NULL REFERENCES "transaction"(id),
			ordinal BIGINT NOT NULL,
			valid_from TIMESTAMP WITH TIME ZONE NOT NULL,
			valid_to TIMESTAMP WITH TIME ZONE
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_contract_storage_active
			ON contract_storage(contract_id, slot) WHERE valid_to IS NULL;
		CREATE INDEX IF NOT EXISTS idx_contract_storage_valid_from
			ON contract_storage(valid_from);
		CREATE INDEX IF NOT EXISTS idx_contract_storage_slot
			ON contract_storage(contract_id, slot, valid_from, ordinal);
	`

	return c.Exec(ctx, query)
}

// initProtocolSystem creates the interned protocol system names table
func (c *Client) initProtocolSystem(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS protocol_system (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE
		);
	`

	return c.Exec(ctx, query)
}

// initProtocolType creates the protocol type table
func (c *Client) initProtocolType(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS protocol_type (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			financial_type TEXT NOT NULL,
			attribute_schema JSONB,
			implementation TEXT NOT NULL
		);
	`

	return c.Exec(ctx, query)
}

// initProtocolComponent creates the protocol component table
func (c *Client) initProtocolComponent(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS protocol_component (
			id BIGSERIAL PRIMARY KEY,
			chain_id BIGINT NOT NULL REFERENCES chain(id),
			external_id TEXT NOT NULL,
			protocol_type_id BIGINT NOT NULL REFERENCES protocol_type(id),
			protocol_system_id BIGINT NOT NULL REFERENCES protocol_system(id),
			attributes JSONB,
			tokens BYTEA[] NOT NULL DEFAULT '{}',
			contract_addresses BYTEA[] NOT NULL DEFAULT '{}',
			creation_tx BIGINT REFERENCES "transaction"(id),
			created_at TIMESTAMP WITH TIME ZONE,
			deleted_at TIMESTAMP WITH TIME ZONE,
			UNIQUE (chain_id, external_id)
		);

		CREATE INDEX IF NOT EXISTS idx_protocol_component_system
			ON protocol_component(protocol_system_id);
	`

	return c.Exec(ctx, query)
}

// initProtocolState creates the versioned per-attribute state table
func (c *Client) initProtocolState(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS protocol_state (
			id BIGSERIAL PRIMARY KEY,
			protocol_component_id BIGINT NOT NULL REFERENCES protocol_component(id),
			attribute_name TEXT NOT NULL,
			attribute_value BYTEA,
			previous_value BYTEA,
			modify_tx BIGINT NOT NULL REFERENCES "transaction"(id),
			valid_from TIMESTAMP WITH TIME ZONE NOT NULL,
			valid_to TIMESTAMP WITH TIME ZONE
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_protocol_state_active
			ON protocol_state(protocol_component_id, attribute_name) WHERE valid_to IS NULL;
		CREATE INDEX IF NOT EXISTS idx_protocol_state_valid_from
			ON protocol_state(valid_from);
	`

	return c.Exec(ctx, query)
}

// initToken creates the token table. gas is a sparse array; NULL elements
// mean the cost of that operation was never measured.
func (c *Client) initToken(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS token (
			id BIGSERIAL PRIMARY KEY,
			account_id BIGINT NOT NULL UNIQUE REFERENCES contract(id),
			symbol TEXT NOT NULL,
			decimals INTEGER NOT NULL,
			tax BIGINT NOT NULL DEFAULT 0,
			gas BIGINT[] NOT NULL DEFAULT '{}',
			quality TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_token_symbol ON token(symbol);
	`

	return c.Exec(ctx, query)
}

// initComponentBalance creates the versioned component balance table
func (c *Client) initComponentBalance(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS component_balance (
			id BIGSERIAL PRIMARY KEY,
			token_id BIGINT NOT NULL REFERENCES token(id),
			protocol_component_id BIGINT NOT NULL REFERENCES protocol_component(id),
			new_balance BYTEA NOT NULL,
			previous_value BYTEA,
			balance_float DOUBLE PRECISION NOT NULL,
			modify_tx BIGINT NOT NULL REFERENCES "transaction"(id),
			valid_from TIMESTAMP WITH TIME ZONE NOT NULL,
			valid_to TIMESTAMP WITH TIME ZONE
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_component_balance_active
			ON component_balance(token_id, protocol_component_id) WHERE valid_to IS NULL;
		CREATE INDEX IF NOT EXISTS idx_component_balance_valid_from
			ON component_balance(valid_from);
	`

	return c.Exec(ctx, query)
}
