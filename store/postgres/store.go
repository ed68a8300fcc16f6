// Package postgres is a store.Store backed by PostgreSQL through pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sebdeveloper6952/gobuffet/domain"
	"github.com/sebdeveloper6952/gobuffet/store"
)

var _ store.Store = (*Store)(nil)

const DefaultTable = "jobs"

type Store struct {
	pool  *pgxpool.Pool
	table string
	now   func() time.Time
}

type Option func(*Store)

func WithTable(table string) Option {
	return func(s *Store) {
		s.table = table
	}
}

// Open connects to dsn and migrates the job table. The returned store owns
// the pool and closes it on Close.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	s := &Store{
		table: DefaultTable,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := store.ValidTableName(s.table); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	s.pool = pool

	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			"paymentHash" TEXT PRIMARY KEY,
			"service" TEXT NOT NULL,
			"price" BIGINT NOT NULL,
			"user" TEXT NOT NULL DEFAULT '',
			"invoiceJSON" TEXT NOT NULL DEFAULT '',
			"requestJSON" TEXT NOT NULL DEFAULT '',
			"responseJSON" TEXT NOT NULL DEFAULT '',
			"tempFileJSON" TEXT NOT NULL DEFAULT '',
			"paid" BIGINT NOT NULL DEFAULT 0,
			"state" TEXT NOT NULL,
			"message" TEXT NOT NULL DEFAULT '',
			"tries" BIGINT NOT NULL,
			"createdTimestamp" BIGINT NOT NULL,
			"paidTimestamp" BIGINT NOT NULL DEFAULT 0,
			"lastUpdatedTimestamp" BIGINT NOT NULL
		)`, s.table))
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, job *domain.Job) error {
	row, err := store.ToRow(job)
	if err != nil {
		return fmt.Errorf("postgres: create job: %w", err)
	}

	placeholders := make([]string, len(store.Columns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s)`,
		s.table,
		store.ColumnList(),
		strings.Join(placeholders, ", "),
	)
	if _, err := s.pool.Exec(ctx, query, row.Values()...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create job: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, paymentHash string) (*domain.Job, error) {
	return s.get(ctx, s.pool, paymentHash, "")
}

// Update locks the row with SELECT ... FOR UPDATE so concurrent mutations of
// the same job are applied one after the other.
func (s *Store) Update(ctx context.Context, paymentHash string, m domain.Mutation) (*domain.Job, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	j, err := s.get(ctx, tx, paymentHash, " FOR UPDATE")
	if err != nil {
		return nil, false, err
	}

	if !m.Apply(j, s.now().UTC()) {
		return j, false, nil
	}

	row, err := store.ToRow(j)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: %s: %w", m.Name, err)
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(`
		UPDATE %s SET
			"responseJSON" = $1,
			"paid" = $2,
			"state" = $3,
			"message" = $4,
			"tries" = $5,
			"paidTimestamp" = $6,
			"lastUpdatedTimestamp" = $7
		WHERE "paymentHash" = $8`, s.table),
		row.ResponseJSON,
		row.Paid,
		row.State,
		row.Message,
		row.Tries,
		row.PaidAt,
		row.LastUpdated,
		paymentHash,
	)
	if err != nil {
		return nil, false, fmt.Errorf("postgres: %s: %w", m.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("postgres: commit %s: %w", m.Name, err)
	}
	return j, true, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) get(ctx context.Context, q querier, paymentHash string, suffix string) (*domain.Job, error) {
	row := &store.Row{}
	err := q.QueryRow(
		ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE "paymentHash" = $1%s`, store.ColumnList(), s.table, suffix),
		paymentHash,
	).Scan(row.Dest()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get job: %w", err)
	}
	j, err := store.FromRow(row)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	return j, nil
}
