package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"compute-breach-check/hibp"
	"compute-breach-check/store"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirFilterSource(t *testing.T) {
	dir := t.TempDir()
	src := store.NewDirFilterSource(dir)

	digest := hibp.Hash("password")
	f, err := hibp.NewRangeFilter([]hibp.Digest{digest, hibp.Hash("5BA")})
	require.NoError(t, err)

	data, err := f.MarshalBinary()
	require.NoError(t, err)

	err = src.Write("5BA", data)
	require.NoError(t, err)

	written, err := os.ReadFile(filepath.Join(dir, "5BA"))
	require.NoError(t, err)

	assert.Equal(t, data, written)

	got, err := src.Filter(context.Background(), "5BA")
	require.NoError(t, err)

	assert.True(t, got.Contains(digest))

	_, err = src.Filter(context.Background(), "000")
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = src.Filter(context.Background(), "../5BA")
	assert.Error(t, err)

	err = os.WriteFile(filepath.Join(dir, "FFF"), []byte("short"), 0o644)
	require.NoError(t, err)

	_, err = src.Filter(context.Background(), "FFF")
	assert.Error(t, err)
	assert.False(t, errors.Is(err, os.ErrNotExist))
}
