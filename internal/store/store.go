// Package store mirrors journal records into PostgreSQL for ad-hoc querying.
// The JSONL journal stays the durable source of truth; a mirror failure is
// logged and never fails the cycle that produced the record.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"quorum-trader/internal/config"
	"quorum-trader/pkg/models"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it in
// unit tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Store writes decision records to the decision_records table.
type Store struct {
	pool Pool
	log  zerolog.Logger
}

// New wraps an existing pool. Used by tests; production code goes through
// Connect.
func New(pool Pool, log zerolog.Logger) *Store {
	return &Store{pool: pool, log: log.With().Str("component", "store").Logger()}
}

// Connect opens a pgx connection pool against the configured database and
// verifies it with a ping.
func Connect(ctx context.Context, cfg config.PostgresConfig, log zerolog.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres DSN: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().
		Str("host", cfg.Host).
		Str("database", cfg.Database).
		Msg("Connected to decision mirror database")

	return New(pool, log), nil
}

const insertRecordSQL = `
	INSERT INTO decision_records
		(cycle_id, pair, interval, signal, confidence, score,
		 guard_result, guard_by, guard_reason, intent, record)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (cycle_id) DO NOTHING`

// InsertRecord mirrors one journal record. Decision, guard, and intent
// columns are NULL on error-flavored records that never reached those
// stages; the record column always carries the full JSON.
func (s *Store) InsertRecord(ctx context.Context, rec *models.JournalRecord) error {
	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	var signal, guardResult, guardBy, guardReason any
	var confidence, score any
	if rec.Decision != nil {
		signal = string(rec.Decision.Signal)
		confidence = rec.Decision.Confidence
		score = rec.Decision.Score
	}
	if rec.GuardOutcome != nil {
		guardResult = string(rec.GuardOutcome.Result)
		if rec.GuardOutcome.By != nil {
			guardBy = rec.GuardOutcome.By
		}
		if rec.GuardOutcome.Reason != "" {
			guardReason = rec.GuardOutcome.Reason
		}
	}

	var intentJSON any
	if rec.Intent != nil {
		b, err := json.Marshal(rec.Intent)
		if err != nil {
			return fmt.Errorf("failed to marshal intent: %w", err)
		}
		intentJSON = b
	}

	_, err = s.pool.Exec(ctx, insertRecordSQL,
		rec.CycleID,
		rec.Pair,
		string(rec.Interval),
		signal,
		confidence,
		score,
		guardResult,
		guardBy,
		guardReason,
		intentJSON,
		recordJSON,
	)
	if err != nil {
		getOrCreateStoreMetrics().insertFailures.Inc()
		return fmt.Errorf("failed to insert decision record: %w", err)
	}

	getOrCreateStoreMetrics().inserts.Inc()
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
	s.log.Debug().Msg("Decision mirror closed")
}
