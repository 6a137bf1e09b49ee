package postgresql

import (
	"context"
	"database/sql"

	"github.com/rs/zerolog/log"

	"github.com/corralhq/corral-internal/internal/common/apperrors"
	"github.com/corralhq/corral-internal/internal/storagesrv/db/dberror"
)

// InitializeSchema creates the cache table and its TTL helper.
func (c *cacheStore) InitializeSchema(ctx context.Context) apperrors.Error {
	err := withTx(ctx, c.pool, func(tx *sql.Tx) apperrors.Error {
		if _, errdb := tx.ExecContext(ctx, cacheSchema); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Msg("failed to create cache schema")
			return dberror.ErrDatabase.Err(errdb)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Ctx(ctx).Info().Msg("created cache tables")
	return nil
}

// Set stores a value under key, overwriting any previous value. A zero ttl
// stores the value without expiry.
func (c *cacheStore) Set(ctx context.Context, key, value string, ttl int) apperrors.Error {
	query := `
		INSERT INTO cache (key, value, ttl)
		VALUES ($1, $2, sec2ttl($3))
		ON CONFLICT (key) DO UPDATE SET value = $2, ttl = sec2ttl($3);
	`
	var ttlArg any
	if ttl > 0 {
		ttlArg = ttl
	}
	return withTx(ctx, c.pool, func(tx *sql.Tx) apperrors.Error {
		if _, errdb := tx.ExecContext(ctx, query, key, value, ttlArg); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Msg("failed to set cache key")
			return dberror.ErrDatabase.Err(errdb)
		}
		return nil
	})
}

// Get returns the value stored under key. Expired rows are purged on the
// way, so a stale value is never served.
func (c *cacheStore) Get(ctx context.Context, key string) (string, apperrors.Error) {
	purge := `DELETE FROM cache WHERE ttl IS NOT NULL AND now() > ttl;`
	query := `SELECT value FROM cache WHERE key = $1;`
	var value string
	err := withTx(ctx, c.pool, func(tx *sql.Tx) apperrors.Error {
		if _, errdb := tx.ExecContext(ctx, purge); errdb != nil {
			return dberror.ErrDatabase.Err(errdb)
		}
		errdb := tx.QueryRowContext(ctx, query, key).Scan(&value)
		if errdb == sql.ErrNoRows {
			return dberror.ErrNotFound.Msg("cache key not found")
		}
		if errdb != nil {
			return dberror.ErrDatabase.Err(errdb)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

// Expire resets the key's time to live.
func (c *cacheStore) Expire(ctx context.Context, key string, ttl int) apperrors.Error {
	query := `UPDATE cache SET ttl = sec2ttl($1) WHERE key = $2;`
	return withTx(ctx, c.pool, func(tx *sql.Tx) apperrors.Error {
		if _, errdb := tx.ExecContext(ctx, query, ttl, key); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Msg("failed to expire cache key")
			return dberror.ErrDatabase.Err(errdb)
		}
		return nil
	})
}

// TTL returns the remaining seconds before key expires, or -1 when the key
// does not exist or carries no expiry.
func (c *cacheStore) TTL(ctx context.Context, key string) (float64, apperrors.Error) {
	query := `
		SELECT EXTRACT(EPOCH FROM (ttl - now())) AS ttl
		  FROM cache
		 WHERE key = $1
		   AND ttl IS NOT NULL;
	`
	ttl := float64(-1)
	err := withConn(ctx, c.pool, func(conn *sql.Conn) apperrors.Error {
		errdb := conn.QueryRowContext(ctx, query, key).Scan(&ttl)
		if errdb != nil && errdb != sql.ErrNoRows {
			return dberror.ErrDatabase.Err(errdb)
		}
		return nil
	})
	if err != nil {
		return -1, err
	}
	return ttl, nil
}

// Delete removes the key.
func (c *cacheStore) Delete(ctx context.Context, key string) apperrors.Error {
	query := `DELETE FROM cache WHERE key = $1;`
	return withTx(ctx, c.pool, func(tx *sql.Tx) apperrors.Error {
		if _, errdb := tx.ExecContext(ctx, query, key); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Msg("failed to delete cache key")
			return dberror.ErrDatabase.Err(errdb)
		}
		return nil
	})
}

// Flush empties the cache table.
func (c *cacheStore) Flush(ctx context.Context) apperrors.Error {
	err := withTx(ctx, c.pool, func(tx *sql.Tx) apperrors.Error {
		if _, errdb := tx.ExecContext(ctx, `DELETE FROM cache;`); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Msg("failed to flush cache")
			return dberror.ErrDatabase.Err(errdb)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Ctx(ctx).Debug().Msg("flushed cache table")
	return nil
}
