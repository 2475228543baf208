package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Bidon15/erc20kit/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements Repository using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool. The schema must already be migrated.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgres connects, pings and applies pending schema migrations.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	if err := RunMigrations(cfg.URL()); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return NewPostgresStore(pool), nil
}

// RunMigrations applies all pending schema migrations.
func RunMigrations(dbURL string) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migrations source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Save implements Repository.
func (s *PostgresStore) Save(ctx context.Context, r *Record) error {
	prepare(r)

	query := `
		INSERT INTO contract_deployments (id, run_id, network, contract_name, address, tx_hash, block_number, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.pool.Exec(ctx, query,
		r.ID, r.RunID, r.Network, r.ContractName, r.Address.Hex(), r.TxHash.Hex(), int64(r.BlockNumber), r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Save: %w", err)
	}
	return nil
}

// Latest implements Repository.
func (s *PostgresStore) Latest(ctx context.Context, network, contract string) (*Record, error) {
	query := `
		SELECT id, run_id, network, contract_name, address, tx_hash, block_number, created_at
		FROM contract_deployments
		WHERE network = $1 AND contract_name = $2
		ORDER BY created_at DESC
		LIMIT 1`

	r, err := scanRecord(s.pool.QueryRow(ctx, query, network, contract))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Latest: %w", err)
	}
	return r, nil
}

// List implements Repository.
func (s *PostgresStore) List(ctx context.Context, network string) ([]*Record, error) {
	query := `
		SELECT id, run_id, network, contract_name, address, tx_hash, block_number, created_at
		FROM contract_deployments
		WHERE network = $1
		ORDER BY created_at ASC`

	rows, err := s.pool.Query(ctx, query, network)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return records, nil
}

// Close implements Repository.
func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		r           Record
		address     string
		txHash      string
		blockNumber int64
	)
	if err := row.Scan(&r.ID, &r.RunID, &r.Network, &r.ContractName, &address, &txHash, &blockNumber, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.Address = common.HexToAddress(address)
	r.TxHash = common.HexToHash(txHash)
	r.BlockNumber = uint64(blockNumber)
	return &r, nil
}

var _ Repository = (*PostgresStore)(nil)
