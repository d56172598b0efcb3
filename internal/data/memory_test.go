package data

import (
	"context"
	"testing"
	"time"

	"github.com/dxpops/conductor/internal/domain/model"
	"github.com/dxpops/conductor/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySnapshotStore(t *testing.T) {
	testutil.RunSnapshotStoreContract(t, NewMemorySnapshotStore())
}

func auditEntry(id, op string, status model.AuditStatus, at time.Time) model.AuditEntry {
	return model.AuditEntry{ID: id, Operation: op, Kind: "job", Tenant: "t1", StartedAt: at, Status: status}
}

func TestMemoryAuditStore(t *testing.T) {
	ctx := context.Background()
	base := testutil.TestTime()

	t.Run("query newest first with paging", func(t *testing.T) {
		s := NewMemoryAuditStore(0)
		for i, id := range []string{"a", "b", "c", "d"} {
			require.NoError(t, s.Append(ctx, auditEntry(id, "get_job", model.AuditSuccess, base.Add(time.Duration(i)*time.Minute))))
		}
		require.NoError(t, s.Append(ctx, auditEntry("late", "cancel_job", model.AuditFailure, base.Add(-time.Hour))))

		page, err := s.Query(ctx, model.AuditFilter{Operation: "get_job", Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, 4, page.Total)
		assert.True(t, page.HasMore)
		require.Len(t, page.Entries, 2)
		assert.Equal(t, "d", page.Entries[0].ID)
		assert.Equal(t, "c", page.Entries[1].ID)

		page, err = s.Query(ctx, model.AuditFilter{Operation: "get_job", Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.False(t, page.HasMore)
		assert.Equal(t, []string{"b", "a"}, []string{page.Entries[0].ID, page.Entries[1].ID})

		page, err = s.Query(ctx, model.AuditFilter{Status: model.AuditFailure})
		require.NoError(t, err)
		require.Len(t, page.Entries, 1)
		assert.Equal(t, "late", page.Entries[0].ID)
	})

	t.Run("time range", func(t *testing.T) {
		s := NewMemoryAuditStore(0)
		for i := range 5 {
			require.NoError(t, s.Append(ctx, auditEntry(string(rune('a'+i)), "op", model.AuditSuccess, base.Add(time.Duration(i)*time.Hour))))
		}
		from, to := base.Add(time.Hour), base.Add(3*time.Hour)

		page, err := s.Query(ctx, model.AuditFilter{From: &from, To: &to})
		require.NoError(t, err)
		assert.Equal(t, 2, page.Total)
	})

	t.Run("bounded", func(t *testing.T) {
		s := NewMemoryAuditStore(3)
		for i := range 5 {
			require.NoError(t, s.Append(ctx, auditEntry(string(rune('a'+i)), "op", model.AuditSuccess, base.Add(time.Duration(i)*time.Second))))
		}
		assert.Equal(t, 3, s.Len())
		page, err := s.Query(ctx, model.AuditFilter{})
		require.NoError(t, err)
		assert.Equal(t, "c", page.Entries[len(page.Entries)-1].ID)
	})

	t.Run("delete before", func(t *testing.T) {
		s := NewMemoryAuditStore(0)
		for i := range 4 {
			require.NoError(t, s.Append(ctx, auditEntry(string(rune('a'+i)), "op", model.AuditSuccess, base.Add(time.Duration(i)*time.Hour))))
		}

		n, err := s.DeleteBefore(ctx, base.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)
		assert.Equal(t, 2, s.Len())

		n, err = s.DeleteBefore(ctx, base)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
