package dbmanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Pool hands out exclusively-owned database connections. Checkout blocks
// when the pool is exhausted; there is no built-in timeout beyond the
// caller's context.
type Pool interface {
	// Conn returns a connection from the pool.
	Conn(ctx context.Context) (Conn, error)
	// Stats returns the number of connection requests and returns.
	Stats() (requests, returns uint64)
	// Close shuts the pool down.
	Close() error
}

// Conn is a single checked-out connection. It must be closed on every exit
// path so it returns to the pool.
type Conn interface {
	// Conn returns the underlying connection.
	Conn() *sql.Conn
	// Close returns the connection back to the pool.
	Close(ctx context.Context)
}

// NewPool creates (or joins) the connection pool for the given database
// type and DSN. Pools are shared process-wide per DSN.
func NewPool(ctx context.Context, dbtype string, dsn string, poolSize int) (Pool, error) {
	switch dbtype {
	case "postgresql":
		pool, err := NewPostgresqlPool(ctx, dsn, poolSize)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to create PostgreSQL pool")
			return nil, err
		}
		return pool, nil
	}
	return nil, fmt.Errorf("unsupported database type: %s", dbtype)
}
