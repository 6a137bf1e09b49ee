package postgresql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgtype"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/corralhq/corral-internal/internal/common/apperrors"
	"github.com/corralhq/corral-internal/internal/storagesrv/db/dberror"
	"github.com/corralhq/corral-internal/internal/storagesrv/db/models"
	"github.com/corralhq/corral-internal/internal/storagesrv/storecommon"
	"github.com/corralhq/corral-internal/pkg/types"
)

var emptyPayload = []byte("{}")

func tenantFromContext(ctx context.Context) (types.TenantId, apperrors.Error) {
	tenantID := storecommon.TenantIdFromContext(ctx)
	if tenantID == "" {
		log.Ctx(ctx).Error().Msg("missing tenant ID in context")
		return "", dberror.ErrMissingTenantID
	}
	return tenantID, nil
}

// Create stores a new record. The record's identity is generated when
// absent. Unicity constraints are checked within the same transaction as
// the insert; a conflicting live record aborts with a UnicityError.
func (s *recordStore) Create(ctx context.Context, res *models.ResourceInfo, record *models.Record) (*models.Record, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	out := &models.Record{
		ID:       record.ID,
		TenantID: tenantID,
		Resource: res.Name,
	}
	if out.ID == "" {
		out.ID = res.GenerateID()
	}
	data := record.DataBytes()
	if data == nil {
		data = emptyPayload
	}

	query := `
		INSERT INTO records (id, tenant_id, resource_name, data)
		VALUES ($1, $2, $3, $4::JSONB)
		RETURNING as_epoch(last_modified) AS last_modified;
	`
	err = withTx(ctx, s.pool, func(tx *sql.Tx) apperrors.Error {
		if err := s.checkUnicity(ctx, tx, res, tenantID, out.ID, data); err != nil {
			return err
		}
		errdb := tx.QueryRowContext(ctx, query, out.ID, tenantID, res.Name, data).Scan(&out.LastModified)
		if errdb != nil {
			if pgErr, ok := errdb.(*pgconn.PgError); ok && pgErr.Code == "23505" {
				log.Ctx(ctx).Info().Str("record_id", out.ID).Str("resource", res.Name).Msg("record already exists")
				return dberror.ErrAlreadyExists.Msg("record already exists")
			}
			log.Ctx(ctx).Error().Err(errdb).Str("resource", res.Name).Msg("failed to insert record")
			return dberror.ErrDatabase.Err(errdb)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := out.SetData(data); err != nil {
		return nil, dberror.ErrInvalidInput.MsgErr("invalid record payload", err)
	}
	return out, nil
}

// Get retrieves a live record by identity.
func (s *recordStore) Get(ctx context.Context, res *models.ResourceInfo, recordID string) (*models.Record, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT as_epoch(last_modified) AS last_modified, data
		  FROM records
		 WHERE id = $1
		   AND tenant_id = $2
		   AND resource_name = $3;
	`
	record := &models.Record{
		ID:       recordID,
		TenantID: tenantID,
		Resource: res.Name,
	}
	err = withConn(ctx, s.pool, func(conn *sql.Conn) apperrors.Error {
		errdb := conn.QueryRowContext(ctx, query, recordID, tenantID, res.Name).
			Scan(&record.LastModified, &record.Data)
		if errdb != nil {
			if errdb == sql.ErrNoRows {
				return dberror.ErrNotFound.Msg("record not found")
			}
			log.Ctx(ctx).Error().Err(errdb).Str("resource", res.Name).Msg("failed to retrieve record")
			return dberror.ErrDatabase.Err(errdb)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// Update overwrites the record's payload, creating the record when it does
// not exist. It never reports not-found; this is the upsert contract relied
// on by callers that choose their own identities.
func (s *recordStore) Update(ctx context.Context, res *models.ResourceInfo, recordID string, record *models.Record) (*models.Record, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	data := record.DataBytes()
	if data == nil {
		data = emptyPayload
	}
	out := &models.Record{
		ID:       recordID,
		TenantID: tenantID,
		Resource: res.Name,
	}

	queryExists := `
		SELECT id FROM records
		 WHERE id = $1 AND tenant_id = $2 AND resource_name = $3;
	`
	queryCreate := `
		INSERT INTO records (id, tenant_id, resource_name, data)
		VALUES ($1, $2, $3, $4::JSONB)
		RETURNING as_epoch(last_modified) AS last_modified;
	`
	queryUpdate := `
		UPDATE records SET data = $4::JSONB
		 WHERE id = $1 AND tenant_id = $2 AND resource_name = $3
		RETURNING as_epoch(last_modified) AS last_modified;
	`
	err = withTx(ctx, s.pool, func(tx *sql.Tx) apperrors.Error {
		if err := s.checkUnicity(ctx, tx, res, tenantID, recordID, data); err != nil {
			return err
		}
		var existing string
		query := queryCreate
		errdb := tx.QueryRowContext(ctx, queryExists, recordID, tenantID, res.Name).Scan(&existing)
		switch {
		case errdb == nil:
			query = queryUpdate
		case errdb != sql.ErrNoRows:
			log.Ctx(ctx).Error().Err(errdb).Str("resource", res.Name).Msg("failed to look up record")
			return dberror.ErrDatabase.Err(errdb)
		}
		errdb = tx.QueryRowContext(ctx, query, recordID, tenantID, res.Name, data).Scan(&out.LastModified)
		if errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Str("resource", res.Name).Msg("failed to upsert record")
			return dberror.ErrDatabase.Err(errdb)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := out.SetData(data); err != nil {
		return nil, dberror.ErrInvalidInput.MsgErr("invalid record payload", err)
	}
	return out, nil
}

// Delete removes a record and inserts its tombstone in one atomic
// statement: the tombstone timestamp is assigned at the transactional
// instant the record disappears.
func (s *recordStore) Delete(ctx context.Context, res *models.ResourceInfo, recordID string) (*models.Tombstone, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		WITH deleted_record AS (
		    DELETE FROM records
		     WHERE id = $1
		       AND tenant_id = $2
		       AND resource_name = $3
		    RETURNING id
		)
		INSERT INTO deleted (id, tenant_id, resource_name)
		SELECT id, $2, $3
		  FROM deleted_record
		ON CONFLICT (id, tenant_id, resource_name)
		    DO UPDATE SET last_modified = NOW()
		RETURNING as_epoch(last_modified) AS last_modified;
	`
	tombstone := &models.Tombstone{
		ID:       recordID,
		TenantID: tenantID,
		Resource: res.Name,
	}
	err = withTx(ctx, s.pool, func(tx *sql.Tx) apperrors.Error {
		errdb := tx.QueryRowContext(ctx, query, recordID, tenantID, res.Name).Scan(&tombstone.LastModified)
		if errdb != nil {
			if errdb == sql.ErrNoRows {
				return dberror.ErrNotFound.Msg("record not found")
			}
			log.Ctx(ctx).Error().Err(errdb).Str("resource", res.Name).Msg("failed to delete record")
			return dberror.ErrDatabase.Err(errdb)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tombstone, nil
}

const deleteAllQuery = `
WITH candidates AS (
    SELECT id
      FROM records
     WHERE tenant_id = {{tenant}}
       AND resource_name = {{resource}}
       {{conditions_filter}}
     LIMIT {{max_fetch_size}}
),
deleted_records AS (
    DELETE FROM records
     USING candidates
     WHERE records.id = candidates.id
       AND records.tenant_id = {{tenant}}
       AND records.resource_name = {{resource}}
    RETURNING records.id
)
INSERT INTO deleted (id, tenant_id, resource_name)
SELECT id, {{tenant}}, {{resource}}
  FROM deleted_records
ON CONFLICT (id, tenant_id, resource_name)
    DO UPDATE SET last_modified = NOW()
RETURNING id, as_epoch(last_modified) AS last_modified;
`

// DeleteAll deletes every record matching the filters, bounded by the
// maximum fetch size; callers page additional calls themselves beyond that
// cap. The resulting tombstones are returned.
func (s *recordStore) DeleteAll(ctx context.Context, res *models.ResourceInfo, filters []models.Filter) ([]models.Tombstone, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	qb := newQueryBuilder()
	clauses := map[string]string{
		"tenant":   qb.bind(tenantID),
		"resource": qb.bind(res.Name),
	}
	if len(filters) > 0 {
		conditions, err := qb.Conditions(filters)
		if err != nil {
			return nil, err
		}
		clauses["conditions_filter"] = "AND " + conditions
	}
	clauses["max_fetch_size"] = qb.bind(s.maxFetchSize)
	query := renderQuery(deleteAllQuery, clauses)

	var tombstones []models.Tombstone
	err = withTx(ctx, s.pool, func(tx *sql.Tx) apperrors.Error {
		rows, errdb := tx.QueryContext(ctx, query, qb.args...)
		if errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Str("resource", res.Name).Msg("failed to delete records")
			return dberror.ErrDatabase.Err(errdb)
		}
		defer rows.Close()
		for rows.Next() {
			t := models.Tombstone{TenantID: tenantID, Resource: res.Name}
			if errdb := rows.Scan(&t.ID, &t.LastModified); errdb != nil {
				return dberror.ErrDatabase.Err(errdb)
			}
			tombstones = append(tombstones, t)
		}
		if errdb := rows.Err(); errdb != nil {
			return dberror.ErrDatabase.Err(errdb)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tombstones, nil
}

const getAllQuery = `
WITH total_filtered AS (
    SELECT COUNT(id) AS count
      FROM records
     WHERE tenant_id = {{tenant}}
       AND resource_name = {{resource}}
       {{conditions_filter}}
),
collection_filtered AS (
    SELECT id, last_modified, data
      FROM records
     WHERE tenant_id = {{tenant}}
       AND resource_name = {{resource}}
       {{conditions_filter}}
     LIMIT {{max_fetch_size}}
),
fake_deleted AS (
    SELECT {{deleted_marker}}::JSONB AS data
),
filtered_deleted AS (
    SELECT id, last_modified, fake_deleted.data AS data
      FROM deleted, fake_deleted
     WHERE tenant_id = {{tenant}}
       AND resource_name = {{resource}}
       {{conditions_filter}}
       {{deleted_limit}}
),
all_records AS (
    SELECT * FROM filtered_deleted
     UNION ALL
    SELECT * FROM collection_filtered
),
paginated_records AS (
    SELECT DISTINCT id
      FROM all_records
      {{pagination_rules}}
)
SELECT total_filtered.count AS count_total,
       a.id, as_epoch(a.last_modified) AS last_modified, a.data
  FROM paginated_records AS p JOIN all_records AS a ON (a.id = p.id),
       total_filtered
  {{sorting}}
  LIMIT {{pagination_limit}};
`

// GetAll returns the records matching the query along with the total number
// of live records matching the filters regardless of the pagination window.
// With IncludeDeleted, tombstones appear in the result carrying a synthetic
// payload marking them deleted.
func (s *recordStore) GetAll(ctx context.Context, res *models.ResourceInfo, q *models.Query) ([]models.Record, int, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, 0, err
	}
	if q == nil {
		q = &models.Query{}
	}

	deletedMarker := fmt.Sprintf(`{"%s": true}`, types.RecordFieldDeleted)

	qb := newQueryBuilder()
	clauses := map[string]string{
		"tenant":         qb.bind(tenantID),
		"resource":       qb.bind(res.Name),
		"deleted_marker": qb.bind(deletedMarker),
		"max_fetch_size": qb.bind(s.maxFetchSize),
	}

	if len(q.Filters) > 0 {
		conditions, err := qb.Conditions(q.Filters)
		if err != nil {
			return nil, 0, err
		}
		clauses["conditions_filter"] = "AND " + conditions
	}
	if !q.IncludeDeleted {
		clauses["deleted_limit"] = "LIMIT 0"
	}
	if len(q.Sorting) > 0 {
		sorting, err := qb.Sorting(q.Sorting)
		if err != nil {
			return nil, 0, err
		}
		clauses["sorting"] = sorting
	}
	if len(q.Pagination) > 0 {
		rules, err := qb.Pagination(q.Pagination)
		if err != nil {
			return nil, 0, err
		}
		clauses["pagination_rules"] = "WHERE " + rules
	}

	// An explicit limit may restrict below the fetch cap, never raise it.
	limit := s.maxFetchSize
	if q.Limit > 0 && q.Limit < s.maxFetchSize {
		limit = q.Limit
	}
	clauses["pagination_limit"] = qb.bind(limit)

	query := renderQuery(getAllQuery, clauses)

	var records []models.Record
	var total int
	err = withConn(ctx, s.pool, func(conn *sql.Conn) apperrors.Error {
		rows, errdb := conn.QueryContext(ctx, query, qb.args...)
		if errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Str("resource", res.Name).Msg("failed to query records")
			return dberror.ErrDatabase.Err(errdb)
		}
		defer rows.Close()
		for rows.Next() {
			record := models.Record{TenantID: tenantID, Resource: res.Name}
			if errdb := rows.Scan(&total, &record.ID, &record.LastModified, &record.Data); errdb != nil {
				return dberror.ErrDatabase.Err(errdb)
			}
			record.Deleted = gjson.GetBytes(record.DataBytes(), types.RecordFieldDeleted).Bool()
			records = append(records, record)
		}
		if errdb := rows.Err(); errdb != nil {
			return dberror.ErrDatabase.Err(errdb)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// CollectionTimestamp returns the timestamp of the collection's latest
// write. An empty collection reports the current database time, so callers
// always get a usable sync cursor.
func (s *recordStore) CollectionTimestamp(ctx context.Context, res *models.ResourceInfo) (types.Epoch, apperrors.Error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return 0, err
	}

	query := `SELECT as_epoch(collection_timestamp($1, $2)) AS last_modified;`
	var ts types.Epoch
	err = withConn(ctx, s.pool, func(conn *sql.Conn) apperrors.Error {
		if errdb := conn.QueryRowContext(ctx, query, tenantID, res.Name).Scan(&ts); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Str("resource", res.Name).Msg("failed to read collection timestamp")
			return dberror.ErrDatabase.Err(errdb)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return ts, nil
}

// Flush wipes all records, tombstones and metadata while keeping the
// schema. Administrative; mainly used by test suites.
func (s *recordStore) Flush(ctx context.Context) apperrors.Error {
	query := `
		DELETE FROM deleted;
		DELETE FROM records;
		DELETE FROM metadata;
	`
	err := withTx(ctx, s.pool, func(tx *sql.Tx) apperrors.Error {
		if _, errdb := tx.ExecContext(ctx, query); errdb != nil {
			log.Ctx(ctx).Error().Err(errdb).Msg("failed to flush storage tables")
			return dberror.ErrDatabase.Err(errdb)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Ctx(ctx).Debug().Msg("flushed storage tables")
	return nil
}

// Ping reports whether the database answers a trivial query.
func (s *recordStore) Ping(ctx context.Context) bool {
	err := withConn(ctx, s.pool, func(conn *sql.Conn) apperrors.Error {
		var now string
		if errdb := conn.QueryRowContext(ctx, "SELECT NOW();").Scan(&now); errdb != nil {
			return dberror.ErrDatabase.Err(errdb)
		}
		return nil
	})
	return err == nil
}

// checkUnicity searches, within the write transaction, for another record
// of the same tenant and resource sharing a value on any declared unique
// field. Only fields present with non-null values participate. On conflict
// the existing record is materialized into the returned UnicityError.
func (s *recordStore) checkUnicity(ctx context.Context, tx *sql.Tx, res *models.ResourceInfo, tenantID types.TenantId, excludeID string, data []byte) apperrors.Error {
	if len(res.UniqueFields) == 0 {
		return nil
	}

	qb := newQueryBuilder()
	pTenant := qb.bind(tenantID)
	pResource := qb.bind(res.Name)

	conditions := make([]string, 0, len(res.UniqueFields))
	checked := make([]string, 0, len(res.UniqueFields))
	for _, field := range res.UniqueFields {
		value := gjson.GetBytes(data, field)
		if !value.Exists() || value.Type == gjson.Null {
			continue
		}
		cond, err := qb.condition(models.Filter{
			Field:    field,
			Value:    payloadText(value),
			Operator: models.OpEqual,
		})
		if err != nil {
			return err
		}
		conditions = append(conditions, cond)
		checked = append(checked, field)
	}
	if len(conditions) == 0 {
		// All unique fields are empty on the candidate record.
		return nil
	}

	conflictFilter := ""
	for i, cond := range conditions {
		if i > 0 {
			conflictFilter += " OR "
		}
		conflictFilter += cond
	}

	recordFilter := "TRUE"
	if excludeID != "" {
		recordFilter = fmt.Sprintf("id <> %s", qb.bind(excludeID))
	}

	query := fmt.Sprintf(`
		SELECT id, as_epoch(last_modified) AS last_modified, data
		  FROM records
		 WHERE tenant_id = %s
		   AND resource_name = %s
		   AND (%s)
		   AND %s
		 LIMIT 1;
	`, pTenant, pResource, conflictFilter, recordFilter)

	existing := &models.Record{TenantID: tenantID, Resource: res.Name}
	var existingData pgtype.JSONB
	errdb := tx.QueryRowContext(ctx, query, qb.args...).
		Scan(&existing.ID, &existing.LastModified, &existingData)
	if errdb == sql.ErrNoRows {
		return nil
	}
	if errdb != nil {
		log.Ctx(ctx).Error().Err(errdb).Str("resource", res.Name).Msg("failed to check unicity")
		return dberror.ErrDatabase.Err(errdb)
	}
	existing.Data = existingData

	// Name the field that actually conflicts.
	field := checked[0]
	for _, f := range checked {
		theirs, ok := existing.Field(f)
		if !ok {
			continue
		}
		ours := gjson.GetBytes(data, f)
		if payloadText(theirs) == payloadText(ours) {
			field = f
			break
		}
	}
	log.Ctx(ctx).Info().Str("resource", res.Name).Str("field", field).Msg("unicity constraint violated")
	return dberror.NewUnicityError(field, existing)
}

// payloadText returns the text a JSON value takes under the ->> operator,
// which is how payload values are compared.
func payloadText(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.Str
	}
	return v.Raw
}
