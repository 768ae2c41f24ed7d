package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reagent-dev/reagent/pkg/schema"
)

// PostgresStore persists memory records in Postgres with pgvector embeddings.
type PostgresStore struct {
	db    *pgxpool.Pool
	table string
	dim   int
	op    string
}

// NewPostgresStore connects to Postgres and ensures the backing table exists.
func NewPostgresStore(ctx context.Context, opts Options) (*PostgresStore, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.ConnString) == "" {
		return nil, fmt.Errorf("%w: postgres connection string is required", ErrInvalid)
	}
	db, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: connect postgres: %w", err)
	}
	table := opts.Table
	if table == "" {
		table = "memory_items"
	}
	op := "<->"
	if opts.Metric == MetricIP {
		op = "<#>"
	}
	store := &PostgresStore{db: db, table: table, dim: opts.Dim, op: op}
	if err := store.createSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (ps *PostgresStore) createSchema(ctx context.Context) error {
	_, err := ps.db.Exec(ctx, fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS %s (
			id         BIGINT PRIMARY KEY,
			memory     TEXT NOT NULL,
			hash       TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL,
			embedding  vector(%d)
		);`, ps.table, ps.dim))
	if err != nil {
		return fmt.Errorf("vectorstore: create schema: %w", err)
	}
	return nil
}

func vectorLiteral(vec []float32) string {
	parts := make([]string, len(vec))
	for i, v := range vec {
		parts[i] = fmt.Sprintf("%g", v)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (ps *PostgresStore) Insert(ctx context.Context, vector []float32, id uint64, item schema.MemoryItem) error {
	if len(vector) != ps.dim {
		return fmt.Errorf("%w: vector has dim %d, store expects %d", ErrInvalid, len(vector), ps.dim)
	}
	now := time.Now().UnixNano()
	if item.CreatedAt == 0 {
		item.CreatedAt = now
	}
	if item.UpdatedAt == 0 {
		item.UpdatedAt = now
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (id, memory, hash, created_at, updated_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6::vector)
		ON CONFLICT (id) DO UPDATE
		SET memory = EXCLUDED.memory, hash = EXCLUDED.hash,
		    updated_at = EXCLUDED.updated_at, embedding = EXCLUDED.embedding;`, ps.table)
	_, err := ps.db.Exec(ctx, query, int64(id), item.Memory, item.Hash, item.CreatedAt, item.UpdatedAt, vectorLiteral(vector))
	return err
}

func (ps *PostgresStore) Search(ctx context.Context, query []float32, limit int, filter schema.Filter) ([]schema.MemoryItem, error) {
	if len(query) != ps.dim {
		return nil, fmt.Errorf("%w: query has dim %d, store expects %d", ErrInvalid, len(query), ps.dim)
	}
	sql := fmt.Sprintf(`
		SELECT id, memory, hash, created_at, updated_at, (embedding %s $1::vector) AS score
		FROM %s
		ORDER BY embedding %s $1::vector
		LIMIT $2;`, ps.op, ps.table, ps.op)
	fetch := limit
	if filter != nil {
		fetch = limit * 4
	}
	rows, err := ps.db.Query(ctx, sql, vectorLiteral(query), fetch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []schema.MemoryItem
	for rows.Next() {
		var (
			id    int64
			item  schema.MemoryItem
			score float64
		)
		if err := rows.Scan(&id, &item.Memory, &item.Hash, &item.CreatedAt, &item.UpdatedAt, &score); err != nil {
			return nil, err
		}
		item.ID = uint64(id)
		item.Score = float32(score)
		if filter != nil && !filter(item) {
			continue
		}
		items = append(items, item)
		if len(items) >= limit {
			break
		}
	}
	return items, rows.Err()
}

func (ps *PostgresStore) Remove(ctx context.Context, id uint64) error {
	tag, err := ps.db.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1;", ps.table), int64(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return nil
}

func (ps *PostgresStore) Update(ctx context.Context, id uint64, vector []float32, item *schema.MemoryItem) error {
	current, err := ps.Get(ctx, id)
	if err != nil {
		return err
	}
	now := time.Now().UnixNano()
	next := current
	if item != nil {
		next = *item
		next.ID = id
		if next.Hash == current.Hash {
			next.CreatedAt = current.CreatedAt
		} else {
			next.CreatedAt = now
		}
	}
	next.UpdatedAt = now

	if vector != nil {
		if len(vector) != ps.dim {
			return fmt.Errorf("%w: vector has dim %d, store expects %d", ErrInvalid, len(vector), ps.dim)
		}
		_, err = ps.db.Exec(ctx, fmt.Sprintf(`
			UPDATE %s SET memory=$2, hash=$3, created_at=$4, updated_at=$5, embedding=$6::vector
			WHERE id=$1;`, ps.table),
			int64(id), next.Memory, next.Hash, next.CreatedAt, next.UpdatedAt, vectorLiteral(vector))
	} else {
		_, err = ps.db.Exec(ctx, fmt.Sprintf(`
			UPDATE %s SET memory=$2, hash=$3, created_at=$4, updated_at=$5
			WHERE id=$1;`, ps.table),
			int64(id), next.Memory, next.Hash, next.CreatedAt, next.UpdatedAt)
	}
	return err
}

func (ps *PostgresStore) Get(ctx context.Context, id uint64) (schema.MemoryItem, error) {
	row := ps.db.QueryRow(ctx, fmt.Sprintf(
		"SELECT id, memory, hash, created_at, updated_at FROM %s WHERE id = $1;", ps.table), int64(id))
	var (
		rowID int64
		item  schema.MemoryItem
	)
	if err := row.Scan(&rowID, &item.Memory, &item.Hash, &item.CreatedAt, &item.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schema.MemoryItem{}, fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		return schema.MemoryItem{}, err
	}
	item.ID = uint64(rowID)
	item.Score = -1
	return item, nil
}

func (ps *PostgresStore) List(ctx context.Context, limit int, filter schema.Filter) ([]schema.MemoryItem, error) {
	sql := fmt.Sprintf("SELECT id, memory, hash, created_at, updated_at FROM %s", ps.table)
	if limit > 0 && filter == nil {
		sql += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := ps.db.Query(ctx, sql+";")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []schema.MemoryItem
	for rows.Next() {
		var (
			rowID int64
			item  schema.MemoryItem
		)
		if err := rows.Scan(&rowID, &item.Memory, &item.Hash, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, err
		}
		item.ID = uint64(rowID)
		item.Score = -1
		if filter != nil && !filter(item) {
			continue
		}
		items = append(items, item)
		if limit > 0 && len(items) >= limit {
			break
		}
	}
	return items, rows.Err()
}

// Close releases the underlying connection pool.
func (ps *PostgresStore) Close() error {
	if ps.db != nil {
		ps.db.Close()
	}
	return nil
}
