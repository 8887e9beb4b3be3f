//go:build linux

package file_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/agentbox/internal/utils/file"
)

func TestCopyFileSparse(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()

	// Data block, hole, data block.
	srcPath := filepath.Join(dir, "src")
	src, err := os.Create(srcPath)
	require.NoError(err)
	_, err = src.Write([]byte("head"))
	require.NoError(err)
	_, err = src.Seek(1<<20, io.SeekCurrent)
	require.NoError(err)
	_, err = src.Write([]byte("tail"))
	require.NoError(err)
	require.NoError(src.Close())

	src, err = os.Open(srcPath)
	require.NoError(err)
	defer src.Close()

	dstPath := filepath.Join(dir, "dst")
	dst, err := os.Create(dstPath)
	require.NoError(err)

	if err := file.CopyFileSparse(context.Background(), src, dst); err != nil {
		// Not all filesystems running the tests support hole seeking.
		if errors.Is(err, file.ErrSparseUnsupported) {
			t.Skip("sparse copy not supported on this filesystem")
		}
		t.Fatal(err)
	}
	require.NoError(dst.Close())

	want, err := os.ReadFile(srcPath)
	require.NoError(err)
	got, err := os.ReadFile(dstPath)
	require.NoError(err)
	assert.True(bytes.Equal(want, got))

	// Virtual sizes agree regardless of how the filesystem allocated blocks.
	srcVirt, _, err := file.SizeStats(srcPath)
	require.NoError(err)
	dstVirt, _, err := file.SizeStats(dstPath)
	require.NoError(err)
	assert.Equal(srcVirt, dstVirt)
}

func TestSizeStatsMissingFile(t *testing.T) {
	assert := assert.New(t)

	_, _, err := file.SizeStats(filepath.Join(t.TempDir(), "missing"))
	assert.Error(err)
}
