// Package config assembles the connection strings for the storage and cache
// databases from the service configuration.
package config

import (
	"fmt"

	"github.com/corralhq/corral-internal/internal/storagesrv/config"
)

func dsn(p config.DatabaseParam) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.DBName, p.SSLMode)
}

// StorageDsn returns the DSN of the record storage database.
func StorageDsn() string {
	return dsn(config.Config().Storage.DatabaseParam)
}

// CacheDsn returns the DSN of the cache database. It may point at the same
// database as storage; the two backends still hold separate pools.
func CacheDsn() string {
	return dsn(config.Config().Cache.DatabaseParam)
}

// StoragePoolSize returns the configured fixed pool size for storage.
func StoragePoolSize() int {
	return config.Config().Storage.PoolSize
}

// CachePoolSize returns the configured fixed pool size for the cache.
func CachePoolSize() int {
	return config.Config().Cache.PoolSize
}

// MaxFetchSize caps the number of rows any single storage call returns or
// affects.
func MaxFetchSize() int {
	return config.Config().Storage.MaxFetchSize
}
