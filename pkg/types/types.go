package types

type TenantId string

func (t TenantId) String() string {
	return string(t)
}

func (t TenantId) IsNil() bool {
	return t == ""
}

// Epoch is a modification timestamp expressed as microseconds since the
// Unix epoch. Every record and tombstone carries one, and the maximum over
// a (tenant, resource) collection is the collection timestamp.
type Epoch int64

const (
	RecordFieldID           = "id"
	RecordFieldLastModified = "last_modified"
	RecordFieldDeleted      = "deleted"
)
