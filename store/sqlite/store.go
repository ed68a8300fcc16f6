// Package sqlite is a store.Store backed by a SQLite file through the pure Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sebdeveloper6952/gobuffet/domain"
	"github.com/sebdeveloper6952/gobuffet/store"
)

var _ store.Store = (*Store)(nil)

const DefaultTable = "jobs"

type Store struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

type Option func(*Store)

// WithTable overrides the job table name.
func WithTable(table string) Option {
	return func(s *Store) {
		s.table = table
	}
}

// Open opens (creating if needed) the database file at path and migrates the
// job table.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := &Store{
		table: DefaultTable,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := store.ValidTableName(s.table); err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// one connection serializes writers, which Update relies on
	db.SetMaxOpenConns(1)
	s.db = db

	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA busy_timeout=5000;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}

	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			"paymentHash" TEXT PRIMARY KEY,
			"service" TEXT NOT NULL,
			"price" INTEGER NOT NULL,
			"user" TEXT NOT NULL DEFAULT '',
			"invoiceJSON" TEXT NOT NULL DEFAULT '',
			"requestJSON" TEXT NOT NULL DEFAULT '',
			"responseJSON" TEXT NOT NULL DEFAULT '',
			"tempFileJSON" TEXT NOT NULL DEFAULT '',
			"paid" INTEGER NOT NULL DEFAULT 0,
			"state" TEXT NOT NULL,
			"message" TEXT NOT NULL DEFAULT '',
			"tries" INTEGER NOT NULL,
			"createdTimestamp" INTEGER NOT NULL,
			"paidTimestamp" INTEGER NOT NULL DEFAULT 0,
			"lastUpdatedTimestamp" INTEGER NOT NULL
		)`, s.table))
	if err != nil {
		return fmt.Errorf("sqlite: migrate: %w", err)
	}
	return nil
}

func (s *Store) Create(ctx context.Context, job *domain.Job) error {
	row, err := store.ToRow(job)
	if err != nil {
		return fmt.Errorf("sqlite: create job: %w", err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(store.Columns)), ", ")
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, s.table, store.ColumnList(), placeholders)
	if _, err := s.db.ExecContext(ctx, query, row.Values()...); err != nil {
		if isDuplicateKey(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("sqlite: create job: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, paymentHash string) (*domain.Job, error) {
	return s.get(ctx, s.db, paymentHash)
}

func (s *Store) Update(ctx context.Context, paymentHash string, m domain.Mutation) (*domain.Job, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	j, err := s.get(ctx, tx, paymentHash)
	if err != nil {
		return nil, false, err
	}

	if !m.Apply(j, s.now().UTC()) {
		return j, false, nil
	}

	row, err := store.ToRow(j)
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: %s: %w", m.Name, err)
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET
			"responseJSON" = ?,
			"paid" = ?,
			"state" = ?,
			"message" = ?,
			"tries" = ?,
			"paidTimestamp" = ?,
			"lastUpdatedTimestamp" = ?
		WHERE "paymentHash" = ?`, s.table),
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
		return nil, false, fmt.Errorf("sqlite: %s: %w", m.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("sqlite: commit %s: %w", m.Name, err)
	}
	return j, true, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) get(ctx context.Context, q querier, paymentHash string) (*domain.Job, error) {
	row := &store.Row{}
	err := q.QueryRowContext(
		ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE "paymentHash" = ?`, store.ColumnList(), s.table),
		paymentHash,
	).Scan(row.Dest()...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: get job: %w", err)
	}
	j, err := store.FromRow(row)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return j, nil
}

func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
