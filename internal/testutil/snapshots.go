package testutil

import (
	"context"
	"testing"

	"github.com/dxpops/conductor/internal/core"
	"github.com/dxpops/conductor/internal/domain/model"
	apperrors "github.com/dxpops/conductor/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract checks the behavior every SnapshotStore must share. The store
// must start empty.
func RunSnapshotStoreContract(t *testing.T, store core.SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("missing snapshot is not found", func(t *testing.T) {
		_, err := store.Get(ctx, model.SubjectJob, "nope")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("put get overwrite", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, model.SubjectJob, "j1", []byte(`{"v":1}`)))
		require.NoError(t, store.Put(ctx, model.SubjectJob, "j1", []byte(`{"v":2}`)))

		got, err := store.Get(ctx, model.SubjectJob, "j1")
		require.NoError(t, err)
		assert.JSONEq(t, `{"v":2}`, string(got))
	})

	t.Run("kinds are separate", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, model.SubjectJob, "j2", []byte(`{}`)))
		require.NoError(t, store.Put(ctx, model.SubjectDeployment, "w1", []byte(`{}`)))

		jobs, err := store.List(ctx, model.SubjectJob)
		require.NoError(t, err)
		ids := make([]string, 0, len(jobs))
		for _, s := range jobs {
			ids = append(ids, s.ID)
		}
		assert.ElementsMatch(t, []string{"j1", "j2"}, ids)

		watches, err := store.List(ctx, model.SubjectDeployment)
		require.NoError(t, err)
		require.Len(t, watches, 1)
		assert.Equal(t, "w1", watches[0].ID)

		_, err = store.Get(ctx, model.SubjectDeployment, "j1")
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, model.SubjectJob, "j1"))
		require.NoError(t, store.Delete(ctx, model.SubjectJob, "j1"), "deleting twice is not an error")

		_, err := store.Get(ctx, model.SubjectJob, "j1")
		assert.True(t, apperrors.IsNotFound(err))
	})
}
