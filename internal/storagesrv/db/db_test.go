package db

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corralhq/corral-internal/internal/common/logtrace"
	"github.com/corralhq/corral-internal/internal/storagesrv/db/dberror"
	"github.com/corralhq/corral-internal/internal/storagesrv/db/models"
	"github.com/corralhq/corral-internal/internal/storagesrv/storecommon"
	"github.com/corralhq/corral-internal/pkg/types"
)

// newTestStore returns a schema-initialized record store and a context
// scoped to a fresh tenant, so tests never see each other's records.
func newTestStore(t *testing.T) (context.Context, RecordStore) {
	t.Helper()
	logtrace.InitTestLogger()

	ctx := log.Logger.WithContext(context.Background())
	store, err := NewRecordStoreFromConfig(ctx)
	require.NoError(t, err)
	require.True(t, store.Ping(ctx), "database is not reachable")
	require.NoError(t, store.InitializeSchema(ctx))

	tenantID := types.TenantId("T" + uuid.New().String()[:8])
	ctx = storecommon.SetTenantIdInContext(ctx, tenantID)
	return ctx, store
}

func newRecord(t *testing.T, data string) *models.Record {
	t.Helper()
	record := &models.Record{}
	require.NoError(t, record.SetData([]byte(data)))
	return record
}

func TestCreateAndGetRecord(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "articles"}

	created, err := store.Create(ctx, res, newRecord(t, `{"title": "hello"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Greater(t, int64(created.LastModified), int64(0))

	got, err := store.Get(ctx, res, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.LastModified, got.LastModified)
	title, ok := got.Field("title")
	require.True(t, ok)
	assert.Equal(t, "hello", title.Str)

	// Same identity again
	dup := newRecord(t, `{"title": "other"}`)
	dup.ID = created.ID
	_, err = store.Create(ctx, res, dup)
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrAlreadyExists)
}

func TestGetMissingRecord(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "articles"}

	_, err := store.Get(ctx, res, "no-such-record")
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestCreateUsesResourceIDGenerator(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{
		Name:        "articles",
		IDGenerator: func() string { return "fixed-id" },
	}

	created, err := store.Create(ctx, res, newRecord(t, `{}`))
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", created.ID)
}

func TestTimestampsAreMonotonicPerCollection(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "articles"}

	first, err := store.Create(ctx, res, newRecord(t, `{}`))
	require.NoError(t, err)
	second, err := store.Create(ctx, res, newRecord(t, `{}`))
	require.NoError(t, err)
	assert.Greater(t, int64(second.LastModified), int64(first.LastModified))

	updated, err := store.Update(ctx, res, second.ID, newRecord(t, `{"v": 2}`))
	require.NoError(t, err)
	assert.Greater(t, int64(updated.LastModified), int64(second.LastModified))
}

func TestConcurrentWritersGetDistinctTimestamps(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "articles"}

	const writers = 8
	const perWriter = 5

	var wg sync.WaitGroup
	timestamps := make(chan types.Epoch, writers*perWriter)
	failures := make(chan error, writers*perWriter)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				record := &models.Record{}
				if err := record.SetData([]byte(`{}`)); err != nil {
					failures <- err
					return
				}
				created, err := store.Create(ctx, res, record)
				if err != nil {
					failures <- err
					return
				}
				timestamps <- created.LastModified
			}
		}()
	}
	wg.Wait()
	close(timestamps)
	close(failures)

	for err := range failures {
		require.NoError(t, err)
	}
	seen := make(map[types.Epoch]bool)
	for ts := range timestamps {
		assert.False(t, seen[ts], "timestamp %d issued twice", int64(ts))
		seen[ts] = true
	}
	require.Len(t, seen, writers*perWriter)
}

func TestUpdateCreatesMissingRecord(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "articles"}

	updated, err := store.Update(ctx, res, "chosen-id", newRecord(t, `{"title": "upserted"}`))
	require.NoError(t, err)
	assert.Equal(t, "chosen-id", updated.ID)

	got, err := store.Get(ctx, res, "chosen-id")
	require.NoError(t, err)
	title, ok := got.Field("title")
	require.True(t, ok)
	assert.Equal(t, "upserted", title.Str)
}

func TestUpdateOverwritesPayload(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "articles"}

	created, err := store.Create(ctx, res, newRecord(t, `{"title": "v1", "extra": true}`))
	require.NoError(t, err)

	updated, err := store.Update(ctx, res, created.ID, newRecord(t, `{"title": "v2"}`))
	require.NoError(t, err)
	assert.Greater(t, int64(updated.LastModified), int64(created.LastModified))

	got, err := store.Get(ctx, res, created.ID)
	require.NoError(t, err)
	title, _ := got.Field("title")
	assert.Equal(t, "v2", title.Str)
	_, ok := got.Field("extra")
	assert.False(t, ok, "old payload fields must not survive an update")
}

func TestDeleteLeavesTombstone(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "articles"}

	created, err := store.Create(ctx, res, newRecord(t, `{"title": "doomed"}`))
	require.NoError(t, err)

	tombstone, err := store.Delete(ctx, res, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, tombstone.ID)
	assert.Greater(t, int64(tombstone.LastModified), int64(created.LastModified))

	_, err = store.Get(ctx, res, created.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)

	// Deleting again reports not-found
	_, err = store.Delete(ctx, res, created.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrNotFound)
}

func TestGetAllIncludeDeleted(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "articles"}

	created, err := store.Create(ctx, res, newRecord(t, `{}`))
	require.NoError(t, err)
	_, err = store.Delete(ctx, res, created.ID)
	require.NoError(t, err)

	records, _, err := store.GetAll(ctx, res, &models.Query{})
	require.NoError(t, err)
	assert.Empty(t, records)

	records, _, err = store.GetAll(ctx, res, &models.Query{IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, created.ID, records[0].ID)
	assert.True(t, records[0].Deleted)
}

func TestGetAllFiltersAndTotal(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "articles"}

	for _, status := range []string{"draft", "draft", "draft", "published"} {
		_, err := store.Create(ctx, res, newRecord(t, `{"status": "`+status+`"}`))
		require.NoError(t, err)
	}

	q := &models.Query{
		Filters: []models.Filter{{Field: "status", Value: "draft", Operator: models.OpEqual}},
	}
	records, total, err := store.GetAll(ctx, res, q)
	require.NoError(t, err)
	assert.Len(t, records, 3)
	assert.Equal(t, 3, total)

	// The total spans the whole filtered collection, not the page
	q.Limit = 2
	q.Sorting = []models.Sort{{Field: types.RecordFieldLastModified, Direction: models.SortAscending}}
	records, total, err = store.GetAll(ctx, res, q)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, 3, total)
}

func TestGetAllNoMatches(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "articles"}

	_, err := store.Create(ctx, res, newRecord(t, `{"status": "draft"}`))
	require.NoError(t, err)

	q := &models.Query{
		Filters: []models.Filter{{Field: "status", Value: "missing", Operator: models.OpEqual}},
	}
	records, total, err := store.GetAll(ctx, res, q)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, total)
}

func TestGetAllKeysetPagination(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "articles"}

	var ids []string
	for i := 0; i < 5; i++ {
		created, err := store.Create(ctx, res, newRecord(t, `{}`))
		require.NoError(t, err)
		ids = append(ids, created.ID)
	}

	sorting := []models.Sort{{Field: types.RecordFieldLastModified, Direction: models.SortAscending}}

	page := func(after types.Epoch) []models.Record {
		q := &models.Query{Sorting: sorting, Limit: 2}
		if after > 0 {
			q.Pagination = []models.PaginationRule{{
				{Field: types.RecordFieldLastModified, Value: int64(after), Operator: models.OpGreaterThan},
			}}
		}
		records, _, err := store.GetAll(ctx, res, q)
		require.NoError(t, err)
		return records
	}

	first := page(0)
	require.Len(t, first, 2)
	assert.Equal(t, []string{ids[0], ids[1]}, []string{first[0].ID, first[1].ID})

	second := page(first[1].LastModified)
	require.Len(t, second, 2)
	assert.Equal(t, []string{ids[2], ids[3]}, []string{second[0].ID, second[1].ID})

	third := page(second[1].LastModified)
	require.Len(t, third, 1)
	assert.Equal(t, ids[4], third[0].ID)

	assert.Empty(t, page(third[0].LastModified))
}

func TestDeleteAll(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "articles"}

	for _, status := range []string{"stale", "stale", "live"} {
		_, err := store.Create(ctx, res, newRecord(t, `{"status": "`+status+`"}`))
		require.NoError(t, err)
	}

	tombstones, err := store.DeleteAll(ctx, res, []models.Filter{
		{Field: "status", Value: "stale", Operator: models.OpEqual},
	})
	require.NoError(t, err)
	assert.Len(t, tombstones, 2)

	records, total, err := store.GetAll(ctx, res, nil)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, total)
}

func TestCollectionTimestamp(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "articles"}

	// An empty collection still reports a usable timestamp
	before, err := store.CollectionTimestamp(ctx, res)
	require.NoError(t, err)
	assert.Greater(t, int64(before), int64(0))

	created, err := store.Create(ctx, res, newRecord(t, `{}`))
	require.NoError(t, err)
	ts, err := store.CollectionTimestamp(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, created.LastModified, ts)

	// Deletions move the collection timestamp too
	tombstone, err := store.Delete(ctx, res, created.ID)
	require.NoError(t, err)
	ts, err = store.CollectionTimestamp(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, tombstone.LastModified, ts)
}

func TestCollectionsAreIsolated(t *testing.T) {
	ctx, store := newTestStore(t)

	_, err := store.Create(ctx, &models.ResourceInfo{Name: "articles"}, newRecord(t, `{}`))
	require.NoError(t, err)

	records, total, err := store.GetAll(ctx, &models.ResourceInfo{Name: "comments"}, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, total)

	otherTenant := storecommon.SetTenantIdInContext(ctx, types.TenantId("T"+uuid.New().String()[:8]))
	records, _, err = store.GetAll(otherTenant, &models.ResourceInfo{Name: "articles"}, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestUnicityConstraint(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "users", UniqueFields: []string{"email"}}

	existing, err := store.Create(ctx, res, newRecord(t, `{"email": "a@example.com"}`))
	require.NoError(t, err)

	_, err = store.Create(ctx, res, newRecord(t, `{"email": "a@example.com"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrUnicityViolation)

	var ue *dberror.UnicityError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, "email", ue.Field)
	require.NotNil(t, ue.Existing)
	assert.Equal(t, existing.ID, ue.Existing.ID)
}

func TestUnicitySkipsAbsentFields(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "users", UniqueFields: []string{"email"}}

	_, err := store.Create(ctx, res, newRecord(t, `{"name": "one"}`))
	require.NoError(t, err)
	_, err = store.Create(ctx, res, newRecord(t, `{"name": "two"}`))
	require.NoError(t, err)

	// An explicit null does not participate either
	_, err = store.Create(ctx, res, newRecord(t, `{"email": null}`))
	require.NoError(t, err)
}

func TestUnicityExcludesOwnRecord(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "users", UniqueFields: []string{"email"}}

	created, err := store.Create(ctx, res, newRecord(t, `{"email": "a@example.com"}`))
	require.NoError(t, err)

	// Rewriting the same record with the same unique value is allowed
	_, err = store.Update(ctx, res, created.ID, newRecord(t, `{"email": "a@example.com", "v": 2}`))
	require.NoError(t, err)
}

func TestUnicityFreedByDelete(t *testing.T) {
	ctx, store := newTestStore(t)
	res := &models.ResourceInfo{Name: "users", UniqueFields: []string{"email"}}

	created, err := store.Create(ctx, res, newRecord(t, `{"email": "a@example.com"}`))
	require.NoError(t, err)
	_, err = store.Delete(ctx, res, created.ID)
	require.NoError(t, err)

	_, err = store.Create(ctx, res, newRecord(t, `{"email": "a@example.com"}`))
	require.NoError(t, err)
}

func TestMissingTenantID(t *testing.T) {
	logtrace.InitTestLogger()
	ctx := log.Logger.WithContext(context.Background())
	store, err := NewRecordStoreFromConfig(ctx)
	require.NoError(t, err)

	_, err = store.Get(ctx, &models.ResourceInfo{Name: "articles"}, "some-id")
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrMissingTenantID)
}

func TestInitializeSchemaIsIdempotent(t *testing.T) {
	ctx, store := newTestStore(t)
	require.NoError(t, store.InitializeSchema(ctx))
	require.NoError(t, store.InitializeSchema(ctx))
}

func TestUnsupportedBackendType(t *testing.T) {
	_, err := NewRecordStore("cassandra", nil, 100)
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)

	_, err = NewCacheBackend("cassandra", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, dberror.ErrInvalidInput)
}
