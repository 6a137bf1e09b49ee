package models

import (
	"github.com/jackc/pgtype"
	"github.com/tidwall/gjson"

	"github.com/corralhq/corral-internal/internal/storagesrv/idgen"
	"github.com/corralhq/corral-internal/pkg/types"
)

/*
   Column        |          Type           | Collation | Nullable | Default
-----------------+-------------------------+-----------+----------+---------
 id              | text                    |           | not null |
 tenant_id       | text                    |           | not null |
 resource_name   | text                    |           | not null |
 last_modified   | timestamp               |           | not null |
 data            | jsonb                   |           | not null | '{}'
*/

// Record is one stored document, identified by (tenant, resource, id). The
// payload is opaque to the engine. LastModified is assigned by the database
// on every write and is strictly increasing within a collection.
type Record struct {
	ID           string         `db:"id"`
	TenantID     types.TenantId `db:"tenant_id"`
	Resource     string         `db:"resource_name"`
	LastModified types.Epoch    `db:"last_modified"`
	Data         pgtype.JSONB   `db:"data"`
	Deleted      bool
}

// SetData replaces the record payload with the given JSON document.
func (r *Record) SetData(data []byte) error {
	return r.Data.Set(data)
}

// DataBytes returns the raw JSON payload, or nil when the payload is unset.
func (r *Record) DataBytes() []byte {
	if r.Data.Status != pgtype.Present {
		return nil
	}
	return r.Data.Bytes
}

// Field reads a payload field by name. The boolean reports whether the field
// is present with a non-null value.
func (r *Record) Field(name string) (gjson.Result, bool) {
	v := gjson.GetBytes(r.DataBytes(), name)
	if !v.Exists() || v.Type == gjson.Null {
		return v, false
	}
	return v, true
}

// Tombstone marks that a record existed and was deleted at LastModified.
// It carries no payload and is never mutated.
type Tombstone struct {
	ID           string         `db:"id"`
	TenantID     types.TenantId `db:"tenant_id"`
	Resource     string         `db:"resource_name"`
	LastModified types.Epoch    `db:"last_modified"`
}

// ResourceInfo describes a resource collection to the engine: its name, the
// payload fields whose values must be unique among the resource's live
// records of one tenant, and the generator used when a created record has no
// identity.
type ResourceInfo struct {
	Name         string
	UniqueFields []string
	IDGenerator  func() string
}

func (r *ResourceInfo) GenerateID() string {
	if r.IDGenerator != nil {
		return r.IDGenerator()
	}
	return idgen.Random()
}
