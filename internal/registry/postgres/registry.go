// Package postgres provides the Postgres-backed decision registry.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/vendor-review-pipeline/internal/review"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for registry entries.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Registry writes committed decisions into Postgres. Each commit appends a
// superseding version row; rows are never updated in place.
type Registry struct {
	pool  pgxPool
	table string
}

var _ review.Registry = (*Registry)(nil)

// New creates a Postgres-backed Registry using the provided config.
func New(ctx context.Context, cfg Config) (*Registry, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("registry.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "registry_entries"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Registry{pool: pool, table: table}, nil
}

// NewWithPool constructs a registry from an existing pool (primarily for
// testing).
func NewWithPool(pool pgxPool, table string) (*Registry, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "registry_entries"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Registry{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (r *Registry) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// Commit inserts the entry inside a transaction. A transaction-scoped
// advisory lock on the vendor key serializes concurrent commits, including
// the first version where there is no row to lock. A crash before the
// transaction commits leaves the registry untouched.
func (r *Registry) Commit(ctx context.Context, entry review.RegistryEntry) (review.RegistryEntry, error) {
	if r == nil || r.pool == nil {
		return review.RegistryEntry{}, fmt.Errorf("registry is not configured")
	}
	if entry.VendorKey == "" {
		return review.RegistryEntry{}, review.ErrKeyCollision
	}

	decisionJSON, err := json.Marshal(entry.Decision)
	if err != nil {
		return review.RegistryEntry{}, fmt.Errorf("marshal decision: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return review.RegistryEntry{}, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, entry.VendorKey); err != nil {
		return review.RegistryEntry{}, fmt.Errorf("lock vendor key: %w", err)
	}

	var alreadyCommitted bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE session_id = $1)`, r.table)
	if err := tx.QueryRow(ctx, query, entry.SessionID).Scan(&alreadyCommitted); err != nil {
		return review.RegistryEntry{}, fmt.Errorf("check session commit: %w", err)
	}
	if alreadyCommitted {
		return review.RegistryEntry{}, review.ErrAlreadyCommitted
	}

	version := 0
	query = fmt.Sprintf(`
SELECT version FROM %s
WHERE vendor_key = $1
ORDER BY version DESC
LIMIT 1`, r.table)
	err = tx.QueryRow(ctx, query, entry.VendorKey).Scan(&version)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return review.RegistryEntry{}, fmt.Errorf("read latest version: %w", err)
	}
	entry.Version = version + 1

	query = fmt.Sprintf(`
INSERT INTO %s (
	vendor_key,
	version,
	session_id,
	decision,
	approved_at,
	next_review_at,
	audit_ref
) VALUES ($1,$2,$3,$4,$5,$6,$7)`, r.table)
	args := []any{
		entry.VendorKey,
		entry.Version,
		entry.SessionID,
		decisionJSON,
		entry.ApprovedAt,
		entry.NextReviewAt,
		entry.AuditRef,
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return review.RegistryEntry{}, fmt.Errorf("insert registry entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return review.RegistryEntry{}, fmt.Errorf("commit registry entry: %w", err)
	}
	return entry, nil
}

// Get returns the newest version for the vendor key.
func (r *Registry) Get(ctx context.Context, vendorKey string) (review.RegistryEntry, error) {
	if r == nil || r.pool == nil {
		return review.RegistryEntry{}, fmt.Errorf("registry is not configured")
	}
	query := fmt.Sprintf(`
SELECT vendor_key, version, session_id, decision, approved_at, next_review_at, audit_ref
FROM %s
WHERE vendor_key = $1
ORDER BY version DESC
LIMIT 1`, r.table)

	entry, err := scanEntry(r.pool.QueryRow(ctx, query, vendorKey))
	if errors.Is(err, pgx.ErrNoRows) {
		return review.RegistryEntry{}, review.ErrEntryNotFound
	}
	if err != nil {
		return review.RegistryEntry{}, fmt.Errorf("get registry entry: %w", err)
	}
	return entry, nil
}

// List returns the newest version of every vendor, ordered by key.
func (r *Registry) List(ctx context.Context) ([]review.RegistryEntry, error) {
	if r == nil || r.pool == nil {
		return nil, fmt.Errorf("registry is not configured")
	}
	query := fmt.Sprintf(`
SELECT DISTINCT ON (vendor_key)
	vendor_key, version, session_id, decision, approved_at, next_review_at, audit_ref
FROM %s
ORDER BY vendor_key, version DESC`, r.table)

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}
	defer rows.Close()

	var out []review.RegistryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registry entry: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list registry entries: %w", err)
	}
	return out, nil
}

func scanEntry(row pgx.Row) (review.RegistryEntry, error) {
	var entry review.RegistryEntry
	var decisionJSON []byte
	err := row.Scan(
		&entry.VendorKey,
		&entry.Version,
		&entry.SessionID,
		&decisionJSON,
		&entry.ApprovedAt,
		&entry.NextReviewAt,
		&entry.AuditRef,
	)
	if err != nil {
		return review.RegistryEntry{}, err
	}
	if err := json.Unmarshal(decisionJSON, &entry.Decision); err != nil {
		return review.RegistryEntry{}, fmt.Errorf("decode decision: %w", err)
	}
	return entry, nil
}
