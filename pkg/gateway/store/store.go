// Package store is the gateway's optional usage archive: one Postgres pool
// recording minted sessions and relay calls. The archive is best-effort
// throughout; a down database slows nothing and fails no request.
package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const writeTimeout = 5 * time.Second

// Store archives gateway usage. A nil *Store is valid and records nothing,
// so handlers never need to branch on whether the archive is configured.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects the pool and brings the schema up to date.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open archive pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	if err := migrate(pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool, logger: logger.With("component", "store")}, nil
}

func migrate(pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set archive dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("migrate archive: %w", err)
	}
	return nil
}

func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// RecordMintedSession archives one credential mint. Asynchronous and
// best-effort: failures are logged and swallowed.
func (s *Store) RecordMintedSession(sessionID, apiKeyHash, model, voice string) {
	if s == nil || s.pool == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_, err := s.pool.Exec(ctx,
			`INSERT INTO minted_sessions (session_id, api_key_hash, model, voice) VALUES ($1, $2, $3, $4)`,
			sessionID, apiKeyHash, model, voice,
		)
		if err != nil {
			s.logger.Warn("archive minted session failed", "error", err)
		}
	}()
}

// RecordRelayCall archives one supervisor relay. Asynchronous and
// best-effort.
func (s *Store) RecordRelayCall(requestID, apiKeyHash string, status int, duration time.Duration) {
	if s == nil || s.pool == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		_, err := s.pool.Exec(ctx,
			`INSERT INTO relay_calls (request_id, api_key_hash, status, duration_ms) VALUES ($1, $2, $3, $4)`,
			requestID, apiKeyHash, status, duration.Milliseconds(),
		)
		if err != nil {
			s.logger.Warn("archive relay call failed", "error", err)
		}
	}()
}
