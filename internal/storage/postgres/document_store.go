// Package postgres provides a Postgres-backed document store. Documents are
// JSONB rows keyed by (collection, id).
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Isagog/copertinefull/internal/store"
)

const (
	defaultTable      = "editions"
	uniqueViolation   = "23505"
	maxQueryLimit     = 100000
	defaultQueryLimit = 100
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Config controls the Postgres connection pool used for documents.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Ping(context.Context) error
	Close()
}

// DocumentStore implements store.Client on a single JSONB table.
type DocumentStore struct {
	pool  pool
	table string
}

var _ store.Client = (*DocumentStore)(nil)

// NewDocumentStore connects a pool using cfg.
func NewDocumentStore(ctx context.Context, cfg Config) (*DocumentStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &DocumentStore{pool: p, table: table}, nil
}

// NewDocumentStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewDocumentStoreWithPool(p pool, table string) (*DocumentStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &DocumentStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *DocumentStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureCollection pings the database and creates the document table.
func (s *DocumentStore) EnsureCollection(ctx context.Context, _ string) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	ddl := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	collection TEXT NOT NULL,
	id UUID NOT NULL,
	properties JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT %[1]s_pkey PRIMARY KEY (collection, id)
)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_properties_idx ON %[1]s USING GIN (properties jsonb_path_ops)`, s.table),
	}
	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create %s: %w", s.table, err)
		}
	}
	return nil
}

// QueryByField returns documents whose string property field equals value.
func (s *DocumentStore) QueryByField(ctx context.Context, collection, field, value string, limit int) ([]store.Object, error) {
	q := s.selectDocs(collection).
		Where(sq.Expr("properties @> jsonb_build_object(?::text, ?::text)", field, value)).
		OrderBy("created_at").
		Limit(clampLimit(limit))
	return s.query(ctx, q)
}

// QueryByRange returns documents whose property lies within r, sorted by that property.
func (s *DocumentStore) QueryByRange(ctx context.Context, collection string, r store.Range, limit int) ([]store.Object, error) {
	if r.Field == "" {
		return nil, fmt.Errorf("range field is required")
	}
	q := s.selectDocs(collection)
	if r.GTE != "" {
		q = q.Where(sq.Expr(`(properties->>(?::text)) COLLATE "C" >= ?`, r.Field, r.GTE))
	}
	if r.LTE != "" {
		q = q.Where(sq.Expr(`(properties->>(?::text)) COLLATE "C" <= ?`, r.Field, r.LTE))
	}
	dir := "ASC"
	if r.Order == store.Descending {
		dir = "DESC"
	}
	q = q.OrderByClause(`(properties->>(?::text)) COLLATE "C" `+dir, r.Field).Limit(clampLimit(limit))
	return s.query(ctx, q)
}

// List returns up to limit documents of collection in insertion order.
func (s *DocumentStore) List(ctx context.Context, collection string, limit int) ([]store.Object, error) {
	q := s.selectDocs(collection).OrderBy("created_at").Limit(clampLimit(limit))
	return s.query(ctx, q)
}

// Insert adds a document. A duplicate id is reported as store.ErrConflict.
func (s *DocumentStore) Insert(ctx context.Context, collection, id string, properties map[string]any) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	payload, err := json.Marshal(properties)
	if err != nil {
		return "", fmt.Errorf("marshal properties: %w", err)
	}
	sql, args, err := psql.Insert(s.table).
		Columns("collection", "id", "properties").
		Values(collection, sq.Expr("?::uuid", id), payload).
		ToSql()
	if err != nil {
		return "", fmt.Errorf("build insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		if isUniqueViolationOnConstraint(err, s.table+"_pkey") {
			return "", fmt.Errorf("insert %s: %w", id, store.ErrConflict)
		}
		return "", fmt.Errorf("insert %s: %w", id, err)
	}
	return id, nil
}

// Replace overwrites every property of an existing document.
func (s *DocumentStore) Replace(ctx context.Context, collection, id string, properties map[string]any) error {
	payload, err := json.Marshal(properties)
	if err != nil {
		return fmt.Errorf("marshal properties: %w", err)
	}
	sql, args, err := psql.Update(s.table).
		Set("properties", payload).
		Set("updated_at", sq.Expr("now()")).
		Where(sq.Eq{"collection": collection}).
		Where(sq.Expr("id = ?::uuid", id)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("replace %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("replace %s: %w", id, store.ErrNotFound)
	}
	return nil
}

// DeleteByID removes a document.
func (s *DocumentStore) DeleteByID(ctx context.Context, collection, id string) error {
	sql, args, err := psql.Delete(s.table).
		Where(sq.Eq{"collection": collection}).
		Where(sq.Expr("id = ?::uuid", id)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *DocumentStore) selectDocs(collection string) sq.SelectBuilder {
	return psql.Select("id::text", "properties").
		From(s.table).
		Where(sq.Eq{"collection": collection})
}

func (s *DocumentStore) query(ctx context.Context, q sq.SelectBuilder) ([]store.Object, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", s.table, err)
	}
	defer rows.Close()

	var out []store.Object
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.table, err)
		}
		props := map[string]any{}
		if err := json.Unmarshal(raw, &props); err != nil {
			return nil, fmt.Errorf("decode properties of %s: %w", id, err)
		}
		out = append(out, store.Object{ID: id, Properties: props})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", s.table, err)
	}
	return out, nil
}

func clampLimit(limit int) uint64 {
	switch {
	case limit <= 0:
		return defaultQueryLimit
	case limit > maxQueryLimit:
		return maxQueryLimit
	default:
		return uint64(limit)
	}
}

func isUniqueViolationOnConstraint(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if err == nil || !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}
