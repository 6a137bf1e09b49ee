// Package db exposes the storage engine behind backend-neutral interfaces.
// Callers obtain a RecordStore or CacheBackend here and never touch the
// backend packages directly; the concrete backend is chosen by name so a
// new engine only needs a case in the constructors.
package db

import (
	"context"

	"github.com/corralhq/corral-internal/internal/common/apperrors"
	dbconfig "github.com/corralhq/corral-internal/internal/storagesrv/db/config"
	"github.com/corralhq/corral-internal/internal/storagesrv/db/dberror"
	"github.com/corralhq/corral-internal/internal/storagesrv/db/dbmanager"
	"github.com/corralhq/corral-internal/internal/storagesrv/db/models"
	"github.com/corralhq/corral-internal/internal/storagesrv/db/postgresql"
	"github.com/corralhq/corral-internal/pkg/types"
)

// RecordStore is the tenant-scoped record storage engine. All calls read
// the tenant ID from the context and fail with ErrMissingTenantID when it
// is absent. Timestamps are microsecond epochs, strictly increasing per
// (tenant, resource) collection.
type RecordStore interface {
	// InitializeSchema creates or migrates the backend schema.
	InitializeSchema(ctx context.Context) apperrors.Error

	// Create inserts a new record. A record with no ID gets one from the
	// resource's ID generator. Inserting an existing ID fails with
	// ErrAlreadyExists.
	Create(ctx context.Context, res *models.ResourceInfo, record *models.Record) (*models.Record, apperrors.Error)

	// Get returns the record by ID, or ErrNotFound.
	Get(ctx context.Context, res *models.ResourceInfo, recordID string) (*models.Record, apperrors.Error)

	// Update overwrites the record by ID, creating it if absent. It never
	// fails with ErrNotFound.
	Update(ctx context.Context, res *models.ResourceInfo, recordID string, record *models.Record) (*models.Record, apperrors.Error)

	// Delete removes the record and leaves a tombstone carrying the
	// deletion timestamp. Deleting an absent record fails with ErrNotFound.
	Delete(ctx context.Context, res *models.ResourceInfo, recordID string) (*models.Tombstone, apperrors.Error)

	// DeleteAll removes every record matching the filters, tombstoning
	// each. The number of affected rows is capped by the configured max
	// fetch size.
	DeleteAll(ctx context.Context, res *models.ResourceInfo, filters []models.Filter) ([]models.Tombstone, apperrors.Error)

	// GetAll lists records matching the query, with the total count of
	// matching live records before pagination.
	GetAll(ctx context.Context, res *models.ResourceInfo, q *models.Query) ([]models.Record, int, apperrors.Error)

	// CollectionTimestamp returns the highest timestamp ever issued in the
	// collection, including deletions.
	CollectionTimestamp(ctx context.Context, res *models.ResourceInfo) (types.Epoch, apperrors.Error)

	// Flush removes every record, tombstone and timestamp. Test use only.
	Flush(ctx context.Context) apperrors.Error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) bool
}

// CacheBackend is a string key-value store with per-key time to live.
type CacheBackend interface {
	InitializeSchema(ctx context.Context) apperrors.Error

	// Set stores value under key. A ttl of zero stores without expiry.
	Set(ctx context.Context, key, value string, ttl int) apperrors.Error

	// Get returns the value under key, or ErrNotFound when the key is
	// absent or expired.
	Get(ctx context.Context, key string) (string, apperrors.Error)

	// Expire resets the key's time to live.
	Expire(ctx context.Context, key string, ttl int) apperrors.Error

	// TTL returns the seconds left before key expires, -1 when the key
	// does not exist or never expires.
	TTL(ctx context.Context, key string) (float64, apperrors.Error)

	Delete(ctx context.Context, key string) apperrors.Error
	Flush(ctx context.Context) apperrors.Error
}

// NewRecordStore creates a record store of the given backend type on an
// explicitly provided pool. Both stores can share a pool or run on
// separate ones; the pool is the caller's to close.
func NewRecordStore(dbtype string, pool dbmanager.Pool, maxFetchSize int) (RecordStore, apperrors.Error) {
	switch dbtype {
	case "postgresql":
		return postgresql.NewRecordStore(pool, maxFetchSize), nil
	default:
		return nil, dberror.ErrInvalidInput.Msg("unsupported storage backend: " + dbtype)
	}
}

// NewCacheBackend creates a cache backend of the given type on the pool.
func NewCacheBackend(dbtype string, pool dbmanager.Pool) (CacheBackend, apperrors.Error) {
	switch dbtype {
	case "postgresql":
		return postgresql.NewCacheStore(pool), nil
	default:
		return nil, dberror.ErrInvalidInput.Msg("unsupported cache backend: " + dbtype)
	}
}

// NewRecordStoreFromConfig builds the record store from the loaded
// configuration, creating (or reusing) the pool for the configured DSN.
func NewRecordStoreFromConfig(ctx context.Context) (RecordStore, apperrors.Error) {
	pool, err := dbmanager.NewPool(ctx, "postgresql", dbconfig.StorageDsn(), dbconfig.StoragePoolSize())
	if err != nil {
		return nil, dberror.ErrDatabase.MsgErr("failed to create storage pool", err)
	}
	return NewRecordStore("postgresql", pool, dbconfig.MaxFetchSize())
}

// NewCacheBackendFromConfig builds the cache backend from the loaded
// configuration.
func NewCacheBackendFromConfig(ctx context.Context) (CacheBackend, apperrors.Error) {
	pool, err := dbmanager.NewPool(ctx, "postgresql", dbconfig.CacheDsn(), dbconfig.CachePoolSize())
	if err != nil {
		return nil, dberror.ErrDatabase.MsgErr("failed to create cache pool", err)
	}
	return NewCacheBackend("postgresql", pool)
}
