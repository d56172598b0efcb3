// Package database builds parameterized list queries with sanitized identifiers.
package database

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

type ConditionType string

const (
	Equal              ConditionType = "="
	NotEqual           ConditionType = "!="
	GreaterThan        ConditionType = ">"
	LessThan           ConditionType = "<"
	LessThanOrEqual    ConditionType = "<="
	GreaterThanOrEqual ConditionType = ">="
	defaultLimit                     = -1
	defaultOffset                    = -1
)

type Condition struct {
	Field string
	Type  ConditionType
	Value any
}

func WhereCond(field string, condType ConditionType, value any) Condition {
	return Condition{Field: field, Type: condType, Value: value}
}

type ListQueryOptions struct {
	Table      string
	Columns    []string
	CountOnly  bool
	Conditions []Condition
	OrderBy    string
	OrderDir   string
	Limit      int
	Offset     int
}

type ListQueryOption func(*ListQueryOptions)

func NewListQueryOptions(table string, opts ...ListQueryOption) *ListQueryOptions {
	options := &ListQueryOptions{
		Table:  table,
		Limit:  defaultLimit,
		Offset: defaultOffset,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithColumns sets the columns to select.
func WithColumns(cols ...string) ListQueryOption {
	return func(o *ListQueryOptions) { o.Columns = cols }
}

// WithCondition adds a single condition.
func WithCondition(cond Condition) ListQueryOption {
	return func(o *ListQueryOptions) { o.Conditions = append(o.Conditions, cond) }
}

// WithConditions sets the entire list of conditions.
func WithConditions(conds ...Condition) ListQueryOption {
	return func(o *ListQueryOptions) { o.Conditions = conds }
}

// WithOrderBy sets the ordering column and direction.
func WithOrderBy(column, direction string) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.OrderBy = column
		o.OrderDir = direction
	}
}

// WithLimit sets the limit. Accepts 0.
func WithLimit(limit int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if limit >= 0 {
			o.Limit = limit
		}
	}
}

// WithOffset sets the offset. Accepts 0.
func WithOffset(offset int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if offset >= 0 {
			o.Offset = offset
		}
	}
}

// WithCountOnly sets the query to count only.
func WithCountOnly() ListQueryOption {
	return func(o *ListQueryOptions) { o.CountOnly = true }
}

// sanitizeIdentifier quotes "table.column" style identifiers part by part.
func sanitizeIdentifier(ident string) string {
	return pgx.Identifier(strings.Split(ident, ".")).Sanitize()
}

func validCondition(t ConditionType) bool {
	switch t {
	case Equal, NotEqual, GreaterThan, LessThan, LessThanOrEqual, GreaterThanOrEqual:
		return true
	default:
		return false
	}
}

// buildWhereClause renders conditions joined by AND. Conditions with an empty field or an
// unknown operator are skipped.
func buildWhereClause(conds []Condition, startParam int) (string, []any, int) {
	parts := make([]string, 0, len(conds))
	args := []any{}
	param := startParam
	for _, c := range conds {
		if c.Field == "" || !validCondition(c.Type) {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s $%d", sanitizeIdentifier(c.Field), c.Type, param))
		args = append(args, c.Value)
		param++
	}
	if len(parts) == 0 {
		return "", args, param
	}
	return "WHERE " + strings.Join(parts, " AND "), args, param
}

// BuildListQuery constructs a SQL query string and arguments from options, sanitizing identifiers.
//
//	query, args := BuildListQuery(NewListQueryOptions("audit_entries",
//		WithColumns("id", "operation"),
//		WithCondition(WhereCond("status", Equal, "failure")),
//		WithOrderBy("started_at", "DESC"),
//		WithLimit(50),
//	))
func BuildListQuery(options *ListQueryOptions) (string, []any) {
	if options == nil {
		return "", nil
	}

	var q strings.Builder
	switch {
	case options.CountOnly:
		q.WriteString("SELECT COUNT(*) ")
	case len(options.Columns) == 0:
		q.WriteString("SELECT * ")
	default:
		cols := make([]string, len(options.Columns))
		for i, c := range options.Columns {
			cols[i] = sanitizeIdentifier(c)
		}
		fmt.Fprintf(&q, "SELECT %s ", strings.Join(cols, ", "))
	}
	q.WriteString("FROM ")
	q.WriteString(sanitizeIdentifier(options.Table))

	where, args, param := buildWhereClause(options.Conditions, 1)
	if where != "" {
		q.WriteString(" ")
		q.WriteString(where)
	}
	if options.CountOnly {
		return q.String(), args
	}

	if options.OrderBy != "" {
		q.WriteString(" ORDER BY ")
		q.WriteString(sanitizeIdentifier(options.OrderBy))
		if dir := strings.ToUpper(options.OrderDir); dir == "ASC" || dir == "DESC" {
			q.WriteString(" ")
			q.WriteString(dir)
		}
	}
	if options.Limit != defaultLimit {
		fmt.Fprintf(&q, " LIMIT $%d", param)
		args = append(args, options.Limit)
		param++
	}
	if options.Offset != defaultOffset {
		fmt.Fprintf(&q, " OFFSET $%d", param)
		args = append(args, options.Offset)
	}
	return q.String(), args
}
