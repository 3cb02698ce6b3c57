package session

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFreeBytes(t *testing.T) {
	free, err := FreeBytes(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, free, uint64(0))
}

func TestFreeBytes_MissingPath(t *testing.T) {
	_, err := FreeBytes("/does/not/exist")
	assert.Error(t, err)
}

func TestRequire(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, Require(dir, 0, 0))

	err := Require(dir, math.MaxUint64/2, 0)
	var space *InsufficientSpaceError
	require.ErrorAs(t, err, &space)
	assert.Equal(t, uint64(math.MaxUint64/2), space.Need)
	assert.Less(t, space.Have, space.Need)
}
