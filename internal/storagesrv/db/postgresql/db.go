// Package postgresql implements the record storage engine and the TTL cache
// backend over PostgreSQL.
package postgresql

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/corralhq/corral-internal/internal/common/apperrors"
	"github.com/corralhq/corral-internal/internal/storagesrv/db/dberror"
	"github.com/corralhq/corral-internal/internal/storagesrv/db/dbmanager"
)

// recordStore is the PostgreSQL record storage engine. It holds (not
// inherits) its connection pool; every public operation is one short-lived
// transaction on one pooled connection.
type recordStore struct {
	pool         dbmanager.Pool
	maxFetchSize int
}

// NewRecordStore creates a record storage engine on the given pool.
// maxFetchSize caps the rows any single call returns or affects.
func NewRecordStore(pool dbmanager.Pool, maxFetchSize int) *recordStore {
	return &recordStore{
		pool:         pool,
		maxFetchSize: maxFetchSize,
	}
}

// cacheStore is the PostgreSQL TTL cache backend. It shares only the
// pool/transaction pattern with the record store; the pools themselves are
// separate.
type cacheStore struct {
	pool dbmanager.Pool
}

// NewCacheStore creates a cache backend on the given pool.
func NewCacheStore(pool dbmanager.Pool) *cacheStore {
	return &cacheStore{pool: pool}
}

// withConn runs fn on a pooled connection in autocommit mode. Read-only
// operations use this path; no commit is needed since no writes occur.
func withConn(ctx context.Context, pool dbmanager.Pool, fn func(conn *sql.Conn) apperrors.Error) apperrors.Error {
	c, errdb := pool.Conn(ctx)
	if errdb != nil {
		return dberror.ErrDatabase.Err(errdb)
	}
	defer c.Close(ctx)
	return fn(c.Conn())
}

// withTx runs fn inside a read-committed transaction on a pooled
// connection. The transaction commits when fn succeeds and rolls back on
// any error; driver faults surface as ErrDatabase, domain errors from fn
// pass through untouched.
func withTx(ctx context.Context, pool dbmanager.Pool, fn func(tx *sql.Tx) apperrors.Error) apperrors.Error {
	c, errdb := pool.Conn(ctx)
	if errdb != nil {
		return dberror.ErrDatabase.Err(errdb)
	}
	defer c.Close(ctx)

	tx, errdb := c.Conn().BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to start transaction")
		return dberror.ErrDatabase.Err(errdb)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if errdb := tx.Commit(); errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Msg("failed to commit transaction")
		return dberror.ErrDatabase.Err(errdb)
	}
	return nil
}
