package postgresql

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/corralhq/corral-internal/internal/common/apperrors"
	"github.com/corralhq/corral-internal/internal/storagesrv/db/dberror"
	"github.com/corralhq/corral-internal/internal/storagesrv/db/models"
	"github.com/corralhq/corral-internal/pkg/types"
)

// queryBuilder compiles abstract filters, pagination rules and sort orders
// into SQL fragments. One builder owns the positional argument list for a
// whole statement, so fragments compose without placeholder collisions.
//
// Untrusted field names are never concatenated into SQL text: payload fields
// travel as bind values feeding a JSON-path accessor, and only the fixed
// id/timestamp column expressions are emitted directly.
type queryBuilder struct {
	args []any
}

func newQueryBuilder() *queryBuilder {
	return &queryBuilder{}
}

// bind appends v to the argument list and returns its placeholder.
func (qb *queryBuilder) bind(v any) string {
	qb.args = append(qb.args, v)
	return fmt.Sprintf("$%d", len(qb.args))
}

// resolveField maps an abstract field to its SQL expression. Payload values
// are stored as JSON text, so non-string comparison values are canonicalized
// to the same representation.
func (qb *queryBuilder) resolveField(field string, value any) (sqlField string, resolved any) {
	switch field {
	case types.RecordFieldID:
		return "id", value
	case types.RecordFieldLastModified:
		return "as_epoch(last_modified)", value
	default:
		// ->> retrieves values as text; missing fields default to ''
		// rather than SQL NULL.
		return fmt.Sprintf("coalesce(data->>%s, '')", qb.bind(field)), canonicalValue(value)
	}
}

// Conditions renders a list of filters as an AND-joined SQL fragment.
func (qb *queryBuilder) Conditions(filters []models.Filter) (string, apperrors.Error) {
	conditions := make([]string, 0, len(filters))
	for _, f := range filters {
		cond, err := qb.condition(f)
		if err != nil {
			return "", err
		}
		conditions = append(conditions, cond)
	}
	return strings.Join(conditions, " AND "), nil
}

func (qb *queryBuilder) condition(f models.Filter) (string, apperrors.Error) {
	switch f.Operator {
	case models.OpHas:
		return fmt.Sprintf("data ? %s", qb.bind(f.Field)), nil
	case models.OpContains:
		doc, err := json.Marshal(map[string]any{f.Field: f.Value})
		if err != nil {
			return "", dberror.ErrInvalidInput.MsgErr("invalid filter value", err)
		}
		return fmt.Sprintf("data @> %s::JSONB", qb.bind(string(doc))), nil
	}

	sqlField, value := qb.resolveField(f.Field, f.Value)

	switch f.Operator {
	case models.OpEqual:
		return fmt.Sprintf("%s = %s", sqlField, qb.bind(value)), nil
	case models.OpNotEqual:
		return fmt.Sprintf("%s <> %s", sqlField, qb.bind(value)), nil
	case models.OpLessThan, models.OpGreaterThan, models.OpLessOrEqual, models.OpGreaterEqual, models.OpLike:
		return fmt.Sprintf("%s %s %s", sqlField, f.Operator, qb.bind(value)), nil
	case models.OpIn:
		return qb.inCondition(sqlField, f)
	}
	return "", dberror.ErrInvalidInput.Msg(fmt.Sprintf("unsupported filter operator %q", f.Operator))
}

func (qb *queryBuilder) inCondition(sqlField string, f models.Filter) (string, apperrors.Error) {
	values, ok := f.Value.([]any)
	if !ok {
		return "", dberror.ErrInvalidInput.Msg("in-set filter requires a list value")
	}
	if len(values) == 0 {
		// No candidate values can match anything.
		return "FALSE", nil
	}
	placeholders := make([]string, 0, len(values))
	for _, v := range values {
		if f.Field != types.RecordFieldID && f.Field != types.RecordFieldLastModified {
			v = canonicalValue(v)
		}
		placeholders = append(placeholders, qb.bind(v))
	}
	return fmt.Sprintf("%s IN (%s)", sqlField, strings.Join(placeholders, ", ")), nil
}

// Pagination renders keyset-pagination rules: each rule is a conjunction of
// filters, the rules are OR-joined and parenthesized individually.
func (qb *queryBuilder) Pagination(rules []models.PaginationRule) (string, apperrors.Error) {
	parts := make([]string, 0, len(rules))
	for _, rule := range rules {
		sql, err := qb.Conditions(rule)
		if err != nil {
			return "", err
		}
		parts = append(parts, "("+sql+")")
	}
	return strings.Join(parts, " OR "), nil
}

// Sorting renders an ORDER BY list in caller order. No implicit tiebreaker
// is injected; callers needing deterministic pagination include a unique
// field as the final sort key.
func (qb *queryBuilder) Sorting(sorting []models.Sort) (string, apperrors.Error) {
	if len(sorting) == 0 {
		return "", nil
	}
	sorts := make([]string, 0, len(sorting))
	for _, s := range sorting {
		var sqlField string
		switch s.Field {
		case types.RecordFieldID:
			sqlField = "id"
		case types.RecordFieldLastModified:
			sqlField = "last_modified"
		default:
			sqlField = fmt.Sprintf("data->>%s", qb.bind(s.Field))
		}
		direction := "ASC"
		if s.Direction < 0 {
			direction = "DESC"
		}
		sorts = append(sorts, sqlField+" "+direction)
	}
	return "ORDER BY " + strings.Join(sorts, ", "), nil
}

// canonicalValue serializes a non-string filter value into the text form
// payload values are stored under (e.g. true -> "true").
func canonicalValue(v any) any {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.Trim(string(b), `"`)
}

var clauseTag = regexp.MustCompile(`\{\{(\w+)\}\}`)

// renderQuery builds a statement from a fixed code-controlled template.
// Named clause slots are filled from the given set; absent clauses render
// empty. Runtime values never pass through here, only fragments produced by
// the query builder.
func renderQuery(template string, clauses map[string]string) string {
	return clauseTag.ReplaceAllStringFunc(template, func(tag string) string {
		return clauses[tag[2:len(tag)-2]]
	})
}
