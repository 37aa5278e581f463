package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"curbsight/internal/config"
)

// Registry bundles every repository over one pgx pool. Handlers and workers
// receive the registry; transactional flows create repositories directly
// over a pgx.Tx instead.
type Registry struct {
	Pool *pgxpool.Pool

	Policies      *PolicyRepository
	Geographies   *GeographyRepository
	Providers     *ProviderRepository
	Snapshots     *SnapshotRepository
	Telemetry     *TelemetryRepository
	Jurisdictions *JurisdictionRepository
	Stats         *StatsRepository
	Transactions  *TransactionRepository
	Tokens        *TokenRepository
	JobLocks      *JobLockRepository
	JobHistory    *JobHistoryRepository
}

// NewRegistry connects a pgx pool using the database config and constructs
// all repositories over it.
func NewRegistry(ctx context.Context, cfg config.DatabaseConfig) (*Registry, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Reveal())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	return NewRegistryWithPool(pool), nil
}

// NewRegistryWithPool constructs the registry over an existing pool.
func NewRegistryWithPool(pool *pgxpool.Pool) *Registry {
	return &Registry{
		Pool:          pool,
		Policies:      NewPolicyRepository(pool),
		Geographies:   NewGeographyRepository(pool),
		Providers:     NewProviderRepository(pool),
		Snapshots:     NewSnapshotRepository(pool),
		Telemetry:     NewTelemetryRepository(pool),
		Jurisdictions: NewJurisdictionRepository(pool),
		Stats:         NewStatsRepository(pool),
		Transactions:  NewTransactionRepository(pool),
		Tokens:        NewTokenRepository(pool),
		JobLocks:      NewJobLockRepository(pool),
		JobHistory:    NewJobHistoryRepository(pool),
	}
}

// Close releases the underlying pool.
func (r *Registry) Close() error {
	if r.Pool != nil {
		r.Pool.Close()
	}
	return nil
}

// Ping verifies database connectivity for health checks.
func (r *Registry) Ping(ctx context.Context) error {
	if r.Pool == nil {
		return fmt.Errorf("database pool not initialized")
	}
	return r.Pool.Ping(ctx)
}
