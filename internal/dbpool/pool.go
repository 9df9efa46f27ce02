// Package dbpool manages the single shared Postgres connection pool behind
// the account ledger and marketplace stores (spec.md §5: min 1, max 5
// connections, statement cache disabled).
package dbpool

import (
	"database/sql"
	"fmt"

	"github.com/l402gate/server/internal/config"
	_ "github.com/lib/pq" // PostgreSQL driver; "binary_parameters=yes" in the DSN disables server-side prepared statements for pooler compatibility (spec.md §9).
)

// SharedPool wraps a single *sql.DB shared by the ledger and hire stores so
// both draw from the same bounded connection budget.
type SharedPool struct {
	db *sql.DB
}

// NewSharedPool opens and pings a Postgres connection pool, trying
// connectionString first and then each of fallbacks in order until one
// connects (spec.md §9's "retry-with-fallback DSN candidates" — grounded on
// the original Python implementation's SupabaseTopupStore.startup(), which
// walks a direct-DB host followed by a list of regional pooler hosts/ports
// the same way).
func NewSharedPool(connectionString string, poolConfig config.PostgresPoolConfig, fallbacks ...string) (*SharedPool, error) {
	candidates := append([]string{connectionString}, fallbacks...)

	var lastErr error
	for i, dsn := range candidates {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			lastErr = fmt.Errorf("open postgres connection (candidate %d): %w", i, err)
			continue
		}
		if err := db.Ping(); err != nil {
			db.Close()
			lastErr = fmt.Errorf("ping postgres (candidate %d): %w", i, err)
			continue
		}

		config.ApplyPostgresPoolSettings(db, poolConfig)
		return &SharedPool{db: db}, nil
	}

	return nil, fmt.Errorf("no postgres DSN candidate connected, last error: %w", lastErr)
}

// DB returns the underlying *sql.DB for use by the ledger and hire stores.
func (p *SharedPool) DB() *sql.DB {
	return p.db
}

// Close closes the pool. Called once during shutdown; the pool is
// registered first, so the lifecycle manager's LIFO ordering closes it last.
func (p *SharedPool) Close() error {
	return p.db.Close()
}
