package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildListQuery(t *testing.T) {
	tests := []struct {
		name      string
		opts      *ListQueryOptions
		wantQuery string
		wantArgs  []any
	}{
		{
			name:      "basic select",
			opts:      NewListQueryOptions("audit_entries"),
			wantQuery: `SELECT * FROM "audit_entries"`,
			wantArgs:  []any{},
		},
		{
			name:      "columns are quoted",
			opts:      NewListQueryOptions("audit_entries", WithColumns("id", "a.operation")),
			wantQuery: `SELECT "id", "a"."operation" FROM "audit_entries"`,
			wantArgs:  []any{},
		},
		{
			name: "count ignores pagination",
			opts: NewListQueryOptions("audit_entries",
				WithCountOnly(),
				WithCondition(WhereCond("status", Equal, "failure")),
				WithLimit(10),
			),
			wantQuery: `SELECT COUNT(*) FROM "audit_entries" WHERE "status" = $1`,
			wantArgs:  []any{"failure"},
		},
		{
			name: "conditions order and paging",
			opts: NewListQueryOptions("audit_entries",
				WithColumns("id"),
				WithCondition(WhereCond("tenant", Equal, "t1")),
				WithCondition(WhereCond("started_at", GreaterThanOrEqual, 5)),
				WithCondition(WhereCond("", Equal, "skipped")),
				WithOrderBy("started_at", "desc"),
				WithLimit(20),
				WithOffset(40),
			),
			wantQuery: `SELECT "id" FROM "audit_entries" WHERE "tenant" = $1 AND "started_at" >= $2 ORDER BY "started_at" DESC LIMIT $3 OFFSET $4`,
			wantArgs:  []any{"t1", 5, 20, 40},
		},
		{
			name:      "invalid direction is dropped",
			opts:      NewListQueryOptions("t", WithOrderBy("x", "sideways")),
			wantQuery: `SELECT * FROM "t" ORDER BY "x"`,
			wantArgs:  []any{},
		},
		{
			name:      "injection attempts stay quoted",
			opts:      NewListQueryOptions("t", WithCondition(WhereCond(`x"; DROP TABLE t; --`, Equal, 1))),
			wantQuery: `SELECT * FROM "t" WHERE "x""; DROP TABLE t; --" = $1`,
			wantArgs:  []any{1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := BuildListQuery(tt.opts)
			assert.Equal(t, tt.wantQuery, q)
			assert.Equal(t, tt.wantArgs, args)
		})
	}

	q, args := BuildListQuery(nil)
	assert.Empty(t, q)
	assert.Nil(t, args)
}
