// Package postgres implements the repository ports on PostgreSQL with pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"projectflow/internal/apperr"
	"projectflow/internal/repository"
	"projectflow/pkg/metrics"
	"projectflow/pkg/otel"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type queries struct {
	db     DBTX
	logger *zap.Logger
}

type Store struct {
	*queries
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{
		queries: &queries{db: pool, logger: logger},
		pool:    pool,
	}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, q repository.Queries) error) error {
	return otel.DB(ctx, "transaction", func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			return fn(ctx, &queries{db: tx, logger: s.logger})
		})
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// observe wraps a statement with a span and the query duration histogram.
func (q *queries) observe(ctx context.Context, operation, table string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := otel.DB(ctx, operation+" "+table, fn)
	metrics.RecordDBQueryDuration(operation, table, time.Since(start))
	return err
}

// notFound maps pgx.ErrNoRows to the domain NotFound error.
func notFound(err error, entity, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(entity, id)
	}
	return fmt.Errorf("failed to load %s %s: %w", entity, id, err)
}

// validID rejects ids that PostgreSQL would refuse to cast to uuid.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
