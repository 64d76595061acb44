package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nthiel/jobwatch/pkg/database"
)

// QueryCacheRepo persists the expansion-query and scraper-result caches
// that sit alongside the relational store (supplementing C2's in-process
// dedup cache with a longer-lived, cross-process cache).
type QueryCacheRepo struct {
	db *database.Client
}

// GetExpansion returns cached expanded queries for cacheKey if present and
// unexpired.
func (r *QueryCacheRepo) GetExpansion(ctx context.Context, cacheKey string) ([]string, bool, error) {
	var queries JSONColumn[[]string]
	err := r.db.GetContext(ctx, &queries,
		`SELECT queries FROM query_expansion_cache WHERE cache_key = $1 AND expires_at > now()`, cacheKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get expansion cache: %w", err)
	}
	return queries.Value, true, nil
}

// PutExpansion stores expanded queries under cacheKey with the given TTL.
func (r *QueryCacheRepo) PutExpansion(ctx context.Context, cacheKey string, queries []string, ttl time.Duration) error {
	col := JSONColumn[[]string]{Value: queries}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO query_expansion_cache (cache_key, queries, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cache_key) DO UPDATE SET queries = EXCLUDED.queries, expires_at = EXCLUDED.expires_at`,
		cacheKey, col, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("put expansion cache: %w", err)
	}
	return nil
}

// GetResults returns cached raw scraper results for cacheKey if present and
// unexpired, supporting the dual-scrape-and-intersect collection strategy.
func (r *QueryCacheRepo) GetResults(ctx context.Context, cacheKey string) ([]byte, bool, error) {
	var raw []byte
	err := r.db.GetContext(ctx, &raw,
		`SELECT results FROM query_result_cache WHERE cache_key = $1 AND expires_at > now()`, cacheKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get result cache: %w", err)
	}
	return raw, true, nil
}

// PutResults stores raw scraper results (already JSON-encoded) under cacheKey.
func (r *QueryCacheRepo) PutResults(ctx context.Context, cacheKey, source string, results []byte, ttl time.Duration) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO query_result_cache (cache_key, source, results, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (cache_key) DO UPDATE SET results = EXCLUDED.results, expires_at = EXCLUDED.expires_at`,
		cacheKey, source, results, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("put result cache: %w", err)
	}
	return nil
}

// SweepExpired deletes expired rows from both cache tables, mirroring C2's
// periodic sweep at the relational-store layer.
func (r *QueryCacheRepo) SweepExpired(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM query_expansion_cache WHERE expires_at <= now()`); err != nil {
		return fmt.Errorf("sweep expansion cache: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM query_result_cache WHERE expires_at <= now()`); err != nil {
		return fmt.Errorf("sweep result cache: %w", err)
	}
	return nil
}
