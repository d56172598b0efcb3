package pebblestore

import (
	"context"
	"testing"

	"github.com/dxpops/conductor/internal/domain/model"
	"github.com/dxpops/conductor/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, nil)
	require.NoError(t, err)
	return s
}

func TestStore_Contract(t *testing.T) {
	s := openStore(t, t.TempDir())
	t.Cleanup(func() { _ = s.Close() })
	testutil.RunSnapshotStoreContract(t, s)
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openStore(t, dir)
	require.NoError(t, s.Put(ctx, model.SubjectDeployment, "w1", []byte(`{"state":"InProgress"}`)))
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	t.Cleanup(func() { _ = s.Close() })
	got, err := s.Get(ctx, model.SubjectDeployment, "w1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"InProgress"}`, string(got))
}

func TestStore_PrefixesDoNotOverlap(t *testing.T) {
	s := openStore(t, t.TempDir())
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, model.SubjectKind("jo"), "x", []byte("1")))
	require.NoError(t, s.Put(ctx, model.SubjectJob, "a", []byte("2")))
	require.NoError(t, s.Put(ctx, model.SubjectKind("job2"), "b", []byte("3")))

	snaps, err := s.List(ctx, model.SubjectJob)
	require.NoError(t, err)
	require.Len(t, snaps, 1)
	assert.Equal(t, "a", snaps[0].ID)
}

func TestOpen_RequiresDir(t *testing.T) {
	_, err := Open("", nil)
	require.Error(t, err)
}
