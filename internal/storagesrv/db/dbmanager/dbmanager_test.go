package dbmanager

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/corralhq/corral-internal/internal/storagesrv/db/config"
)

func TestNewPoolUnsupportedType(t *testing.T) {
	_, err := NewPool(context.Background(), "mongodb", "", 5)
	require.Error(t, err)
}

func TestPoolIsSharedPerDsn(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())
	dsn := dbconfig.StorageDsn()

	p1, err := NewPool(ctx, "postgresql", dsn, 5)
	require.NoError(t, err)
	defer p1.Close()

	p2, err := NewPool(ctx, "postgresql", dsn, 5)
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}

func TestPoolConnCheckout(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())

	pool, err := NewPool(ctx, "postgresql", dbconfig.StorageDsn(), 5)
	require.NoError(t, err)
	defer pool.Close()

	conn, err := pool.Conn(ctx)
	require.NoError(t, err)
	require.NotNil(t, conn.Conn())
	conn.Close(ctx)

	requests, returns := pool.Stats()
	assert.Equal(t, requests, returns)
}

func TestPoolConcurrentCheckouts(t *testing.T) {
	ctx := log.Logger.WithContext(context.Background())

	pool, err := NewPool(ctx, "postgresql", dbconfig.StorageDsn(), 5)
	require.NoError(t, err)
	defer pool.Close()

	const checkouts = 16
	var wg sync.WaitGroup
	failures := make(chan error, checkouts)
	for i := 0; i < checkouts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := pool.Conn(ctx)
			if err != nil {
				failures <- err
				return
			}
			conn.Close(ctx)
		}()
	}
	wg.Wait()
	close(failures)

	for err := range failures {
		require.NoError(t, err)
	}
	requests, returns := pool.Stats()
	assert.Equal(t, uint64(checkouts), requests)
	assert.Equal(t, requests, returns)
}
