// ABOUTME: Tests for SQLiteBackend persistence of whole units
// ABOUTME: Covers missing rows, upsert replacement, restart reload and deletion

package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteBackend(t *testing.T, path string) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func TestSQLiteBackend_MissingUnitLoadsEmpty(t *testing.T) {
	b := newTestSQLiteBackend(t, ":memory:")

	unit, err := b.Load(t.Context(), "conn-1")
	require.NoError(t, err)
	assert.Empty(t, unit.Namespaces)
	assert.Empty(t, unit.Docs)
}

func TestSQLiteBackend_SaveReplacesWholeUnit(t *testing.T) {
	b := newTestSQLiteBackend(t, ":memory:")
	ctx := t.Context()

	first := &Unit{Namespaces: []Namespace{{ID: "n1", Name: "one"}, {ID: "n2", Name: "two"}}}
	require.NoError(t, b.Save(ctx, "conn-1", first))

	second := &Unit{Namespaces: []Namespace{{ID: "n3", Name: "three"}}}
	require.NoError(t, b.Save(ctx, "conn-1", second))

	got, err := b.Load(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, second.Namespaces, got.Namespaces)
	assert.Empty(t, got.Docs)
}

func TestSQLiteBackend_UnitsAreIsolatedPerConnection(t *testing.T) {
	b := newTestSQLiteBackend(t, ":memory:")
	ctx := t.Context()

	require.NoError(t, b.Save(ctx, "conn-1", &Unit{Namespaces: []Namespace{{ID: "n1"}}}))

	other, err := b.Load(ctx, "conn-2")
	require.NoError(t, err)
	assert.Empty(t, other.Namespaces)
}

func TestSQLiteBackend_RestartPreservesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "savedoc.db")
	ctx := t.Context()

	b := newTestSQLiteBackend(t, path)
	s, err := Open(ctx, "conn-1", b, Options{})
	require.NoError(t, err)
	ns, err := s.CreateNamespace(ctx, "Work")
	require.NoError(t, err)
	_, err = s.CreateDoc(ctx, DocTypeSQL, ns.ID, DocInput{Name: "q1", Content: "select 1"})
	require.NoError(t, err)
	want, _ := s.ListDocsByNamespace(ctx)
	require.NoError(t, b.Close())

	reopened := newTestSQLiteBackend(t, path)
	s2, err := Open(ctx, "conn-1", reopened, Options{})
	require.NoError(t, err)
	got, err := s2.ListDocsByNamespace(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSQLiteBackend_DeleteIsIdempotent(t *testing.T) {
	b := newTestSQLiteBackend(t, ":memory:")
	ctx := t.Context()

	require.NoError(t, b.Save(ctx, "conn-1", &Unit{}))

	existed, err := b.Delete(ctx, "conn-1")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = b.Delete(ctx, "conn-1")
	require.NoError(t, err)
	assert.False(t, existed)
}
