package models

// Operator is a comparison applied by a Filter. The values equal and
// not-equal are translated to SQL by the query builder; the remaining
// operators already carry their SQL comparison token.
type Operator string

const (
	OpEqual        Operator = "eq"
	OpNotEqual     Operator = "not"
	OpLessThan     Operator = "<"
	OpGreaterThan  Operator = ">"
	OpLessOrEqual  Operator = "<="
	OpGreaterEqual Operator = ">="
	OpLike         Operator = "LIKE"
	OpIn           Operator = "in"
	OpContains     Operator = "contains"
	OpHas          Operator = "has"
)

// Filter compares one field against a value. Field is either the identity
// field, the modification-timestamp field, or an arbitrary payload field.
type Filter struct {
	Field    string
	Value    any
	Operator Operator
}

// SortDirection of a Sort: positive ascending, negative descending.
type SortDirection int

const (
	SortAscending  SortDirection = 1
	SortDescending SortDirection = -1
)

type Sort struct {
	Field     string
	Direction SortDirection
}

// PaginationRule is a conjunction of filters. A set of rules is combined by
// disjunction to express one keyset-pagination boundary over a multi-column
// sort order, e.g. for a sort on (x, id):
//
//	[{x > lastX}] OR [{x = lastX}, {id > lastID}]
type PaginationRule []Filter

// Query groups the optional arguments of GetAll.
type Query struct {
	Filters        []Filter
	Sorting        []Sort
	Pagination     []PaginationRule
	Limit          int
	IncludeDeleted bool
}
