package store

import "github.com/jmoiron/sqlx"

// sqlxIn expands a query's `IN (?)` placeholder for a slice argument,
// thin wrapper kept so repository files don't each import sqlx directly
// just for this.
func sqlxIn(query string, args ...any) (string, []any, error) {
	return sqlx.In(query, args...)
}
