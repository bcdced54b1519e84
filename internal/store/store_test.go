// ABOUTME: Tests for the shared data model: connection id rules, doc types and unit copies
// ABOUTME: Also covers MockBackend so the other packages can rely on its semantics

package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConnectionID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"conn-1", false},
		{"Prod DB (eu)", false},
		{"a.b", false},
		{"", true},
		{".", true},
		{"..", true},
		{"../etc", true},
		{"a/b", true},
		{`a\b`, true},
		{"a\x00b", true},
	}

	for _, tt := range tests {
		err := ValidateConnectionID(tt.id)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidConnectionID, "id %q", tt.id)
		} else {
			assert.NoError(t, err, "id %q", tt.id)
		}
	}
}

func TestDocTypeValid(t *testing.T) {
	assert.True(t, DocTypeSQL.Valid())
	assert.False(t, DocType("").Valid())
	assert.False(t, DocType("markdown").Valid())
}

func TestErrorTaxonomy(t *testing.T) {
	assert.True(t, errors.Is(ErrInvalidReference, ErrNotFound))
	assert.True(t, errors.Is(ErrCorruptUnit, ErrStorageIO))
	assert.False(t, errors.Is(ErrNotFound, ErrStorageIO))
}

func TestUnitClone(t *testing.T) {
	var nilUnit *Unit
	empty := nilUnit.clone()
	assert.NotNil(t, empty.Namespaces)
	assert.NotNil(t, empty.Docs)

	u := &Unit{
		Namespaces: []Namespace{{ID: "n1", Name: "Reports"}},
		Docs:       []Doc{{ID: "d1", Type: DocTypeSQL, Name: "q"}},
	}
	c := u.clone()
	c.Namespaces[0].Name = "changed"
	c.Docs[0].Name = "changed"

	assert.Equal(t, "Reports", u.Namespaces[0].Name)
	assert.Equal(t, "q", u.Docs[0].Name)
}

func TestMockBackend(t *testing.T) {
	ctx := t.Context()
	b := NewMockBackend()

	unit, err := b.Load(ctx, "conn-1")
	require.NoError(t, err)
	assert.Empty(t, unit.Namespaces)

	require.NoError(t, b.Save(ctx, "conn-1", &Unit{Namespaces: []Namespace{{ID: "n1"}}}))
	assert.True(t, b.Has("conn-1"))
	assert.Equal(t, 1, b.SaveCount())

	// Loaded units are copies
	unit, err = b.Load(ctx, "conn-1")
	require.NoError(t, err)
	unit.Namespaces[0].ID = "mutated"
	again, err := b.Load(ctx, "conn-1")
	require.NoError(t, err)
	assert.Equal(t, "n1", again.Namespaces[0].ID)

	existed, err := b.Delete(ctx, "conn-1")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = b.Delete(ctx, "conn-1")
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestMockBackend_InjectedFailures(t *testing.T) {
	ctx := t.Context()
	b := NewMockBackend()
	b.FailSave = true
	b.FailDelete = true

	assert.ErrorIs(t, b.Save(ctx, "conn-1", &Unit{}), ErrStorageIO)
	assert.Equal(t, 0, b.SaveCount())

	_, err := b.Delete(ctx, "conn-1")
	assert.ErrorIs(t, err, ErrStorageIO)
}
