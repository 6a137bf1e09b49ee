// Package dbmanager provides functionality for managing the PostgreSQL
// connection pools shared by the storage and cache backends.
package dbmanager

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/rs/zerolog/log"
)

// postgresConn represents a checked-out connection to PostgreSQL.
type postgresConn struct {
	conn   *sql.Conn
	cancel context.CancelFunc
	pool   *postgresPool
}

// postgresPool is a fixed-size pool of PostgreSQL connections. When the
// server runs with fsync off (test and dev setups), pooling is disabled and
// every connection is closed on return, since commits are otherwise not
// reliably visible across pooled connections.
type postgresPool struct {
	dsn          string
	size         int
	alwaysClose  bool
	connRequests atomic.Uint64
	connReturns  atomic.Uint64
	db           *sql.DB
}

var (
	poolsMu sync.Mutex
	pools   = make(map[string]*postgresPool)
)

// NewPostgresqlPool opens a fixed-size pool for the given DSN, or returns
// the already-open pool for that DSN. Requesting a different size for an
// existing pool is ignored with a warning.
func NewPostgresqlPool(ctx context.Context, dsn string, poolSize int) (Pool, error) {
	poolsMu.Lock()
	defer poolsMu.Unlock()

	if p, ok := pools[dsn]; ok {
		if p.size != poolSize {
			log.Ctx(ctx).Warn().Int("requested", poolSize).Int("current", p.size).
				Msg("pool size ignored for PostgreSQL backend (already set)")
		}
		return p, nil
	}

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to open db")
		return nil, err
	}
	sqlDB.SetMaxOpenConns(poolSize)
	sqlDB.SetMaxIdleConns(poolSize)

	if err := sqlDB.PingContext(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to ping db")
		sqlDB.Close()
		return nil, err
	}

	p := &postgresPool{
		dsn:  dsn,
		size: poolSize,
		db:   sqlDB,
	}

	var fsync string
	if err := sqlDB.QueryRowContext(ctx, "SELECT current_setting('fsync')").Scan(&fsync); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to read fsync setting")
		sqlDB.Close()
		return nil, err
	}
	if fsync == "off" {
		log.Ctx(ctx).Warn().Msg("option fsync = off detected, disabling pooling")
		p.alwaysClose = true
		sqlDB.SetMaxIdleConns(0)
	}

	pools[dsn] = p
	return p, nil
}

// Conn returns a connection from the pool, blocking until one is free.
func (p *postgresPool) Conn(ctx context.Context) (Conn, error) {
	ctx, cancel := context.WithCancel(ctx)

	conn, err := p.db.Conn(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to obtain connection")
		cancel()
		return nil, err
	}

	// set lock timeout for conn
	_, err = conn.ExecContext(ctx, "SET lock_timeout = '5s'")
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to set lock timeout")
		conn.Close()
		cancel()
		return nil, err
	}
	// set statement timeout for conn
	_, err = conn.ExecContext(ctx, "SET statement_timeout = '5s'")
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to set statement timeout")
		conn.Close()
		cancel()
		return nil, err
	}

	p.connRequests.Add(1)
	return &postgresConn{
		conn:   conn,
		cancel: cancel,
		pool:   p,
	}, nil
}

// Stats returns the number of connection requests and returns.
func (p *postgresPool) Stats() (requests, returns uint64) {
	return p.connRequests.Load(), p.connReturns.Load()
}

// Close shuts down the pool and forgets it, so a later NewPostgresqlPool
// call with the same DSN opens a fresh one.
func (p *postgresPool) Close() error {
	poolsMu.Lock()
	delete(pools, p.dsn)
	poolsMu.Unlock()
	return p.db.Close()
}

// Close returns the connection back to the pool. Under alwaysClose the
// idle pool is empty, so the connection is really closed.
func (h *postgresConn) Close(ctx context.Context) {
	if h.cancel != nil {
		h.cancel()
	}
	if h.conn != nil {
		h.conn.Close()
	}
	h.pool.connReturns.Add(1)
}

// Conn returns the underlying connection.
func (h *postgresConn) Conn() *sql.Conn {
	return h.conn
}
