package library

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_ValidatesInput(t *testing.T) {
	_, err := New("", "/data/comics", "")
	assert.Error(t, err)

	_, err = New("Comics", "", "")
	assert.Error(t, err)

	lib, err := New("Comics", "/data/comics", "personal comics archive")
	require.NoError(t, err)
	assert.True(t, lib.IsActive)
}

func TestRename(t *testing.T) {
	lib, _ := New("Comics", "/data/comics", "")
	require.NoError(t, lib.Rename("Graphic Novels"))
	assert.Equal(t, "Graphic Novels", lib.Name)
	assert.Error(t, lib.Rename(""))
}

func TestDeactivate(t *testing.T) {
	lib, _ := New("Comics", "/data/comics", "")
	lib.Deactivate()
	assert.False(t, lib.IsActive)
}
