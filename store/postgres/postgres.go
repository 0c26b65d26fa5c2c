// Package postgres implements store.Store on PostgreSQL through pgx.
//
// Row locks use SELECT ... FOR UPDATE under a per-transaction lock_timeout,
// and every single-use transition is a conditional UPDATE whose affected row
// count is reported back to the caller. A lock that cannot be acquired within
// the timeout surfaces as store.ErrLockTimeout.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/auctoritas/auctoritas/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
	pgDeadlockDetected = "40P01"
	pgQueryCanceled    = "57014"
)

// Config holds pool and locking parameters.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	LockTimeout     time.Duration
	ConnectRetries  int
	RetryInterval   time.Duration
}

// DefaultConfig returns pool defaults suitable for a single service instance.
func DefaultConfig() Config {
	return Config{
		MaxConns:        20,
		MinConns:        2,
		MaxConnLifetime: 30 * time.Minute,
		LockTimeout:     2 * time.Second,
		ConnectRetries:  3,
		RetryInterval:   time.Second,
	}
}

// Store is a pgx-backed store.Store.
type Store struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
	logger      *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects a pool, retrying transient failures, and returns a Store.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: empty DSN")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.ConnectRetries; attempt++ {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err == nil {
			if err = pool.Ping(ctx); err == nil {
				return New(pool, cfg.LockTimeout, logger), nil
			}
			pool.Close()
		}
		lastErr = err
		if logger != nil {
			logger.Warn("postgres connect failed", zap.Int("attempt", attempt+1), zap.Error(err))
		}
		if attempt < cfg.ConnectRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(cfg.RetryInterval):
			}
		}
	}
	return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, lastErr)
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, lockTimeout time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{pool: pool, lockTimeout: lockTimeout, logger: logger}
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("postgres: migration %s: %w", name, err)
		}
		s.logger.Debug("migration applied", zap.String("name", name))
	}
	return nil
}

// WithinTx runs fn in a READ COMMITTED transaction with lock_timeout set.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("%w: begin: %v", store.ErrUnavailable, err)
	}
	defer func() {
		_ = pgTx.Rollback(ctx)
	}()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := pgTx.Exec(ctx, stmt); err != nil {
			return mapErr(err)
		}
	}

	if err := fn(ctx, &tx{q: pgTx}); err != nil {
		return err
	}
	if err := pgTx.Commit(ctx); err != nil {
		return mapErr(err)
	}
	return nil
}

// DeleteExpired removes expired rows table by table, each in its own statement.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (store.SweepResult, error) {
	var res store.SweepResult
	targets := []struct {
		table string
		dst   *int64
	}{
		{"sessions", &res.Sessions},
		{"refresh_tokens", &res.RefreshTokens},
		{"mfa_challenges", &res.MFAChallenges},
		{"oauth_authorization_requests", &res.AuthorizationRequests},
		{"oauth_exchange_codes", &res.ExchangeCodes},
		{"one_time_tokens", &res.OneTimeTokens},
	}
	for _, target := range targets {
		tag, err := s.pool.Exec(ctx, "DELETE FROM "+target.table+" WHERE expires_at < $1", now)
		if err != nil {
			return res, fmt.Errorf("postgres: sweep %s: %w", target.table, mapErr(err))
		}
		*target.dst = tag.RowsAffected()
	}
	return res, nil
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
		case pgLockNotAvailable, pgDeadlockDetected, pgQueryCanceled:
			return fmt.Errorf("%w: %s", store.ErrLockTimeout, pgErr.Code)
		}
	}
	return err
}
