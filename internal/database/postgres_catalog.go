package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgxPool is the subset of *pgxpool.Pool this provider needs; pgxmock's
// pool satisfies the same signatures, so tests substitute it directly.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Close()
}

// PostgresProvider persists the map catalog and refresh change-log in
// Postgres using pgx, the driver the rest of the persistence layer
// standardizes on.
type PostgresProvider struct {
	pool pgxPool
}

// NewPostgresProvider opens a pool against dsn and verifies connectivity.
func NewPostgresProvider(ctx context.Context, dsn string) (*PostgresProvider, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresProvider{pool: pool}, nil
}

// SaveMap upserts the catalog row for a built SiteMap, keyed by cache_key.
func (p *PostgresProvider) SaveMap(ctx context.Context, rec MapRecord) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO site_maps (cache_key, domain, node_count, edge_count, ctx_uri, content_sha, built_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (cache_key) DO UPDATE SET
	node_count = EXCLUDED.node_count,
	edge_count = EXCLUDED.edge_count,
	ctx_uri = EXCLUDED.ctx_uri,
	content_sha = EXCLUDED.content_sha,
	built_at = EXCLUDED.built_at
`, rec.CacheKey, rec.Domain, rec.NodeCount, rec.EdgeCount, rec.CTXURI, rec.ContentSHA, rec.BuiltAt)
	if err != nil {
		return fmt.Errorf("upsert site_maps: %w", err)
	}
	return nil
}

// SaveChanges appends one refresh_changes row per ChangeRecord.
func (p *PostgresProvider) SaveChanges(ctx context.Context, changes []ChangeRecord) error {
	if len(changes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range changes {
		batch.Queue(`
INSERT INTO refresh_changes (cache_key, node_idx, field, old_value, new_value, refreshed_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, c.CacheKey, c.Node, c.Field, c.OldValue, c.NewValue, c.RefreshedAt)
	}
	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range changes {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert refresh_changes: %w", err)
		}
	}
	return nil
}

// ListMaps returns up to limit catalog rows, most recently built first.
func (p *PostgresProvider) ListMaps(ctx context.Context, limit int) ([]MapRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.pool.Query(ctx, `
SELECT cache_key, domain, node_count, edge_count, ctx_uri, content_sha, built_at
FROM site_maps
ORDER BY built_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query site_maps: %w", err)
	}
	defer rows.Close()

	var out []MapRecord
	for rows.Next() {
		var rec MapRecord
		if err := rows.Scan(
			&rec.CacheKey, &rec.Domain, &rec.NodeCount, &rec.EdgeCount,
			&rec.CTXURI, &rec.ContentSHA, &rec.BuiltAt,
		); err != nil {
			return nil, fmt.Errorf("scan site_maps row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate site_maps: %w", err)
	}
	return out, nil
}

// Close releases the pool.
func (p *PostgresProvider) Close() error {
	p.pool.Close()
	return nil
}
