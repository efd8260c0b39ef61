package fileset_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daparker3/MulticastDownloader/internal/fileset"
	"github.com/daparker3/MulticastDownloader/internal/wire"
)

func TestDirFileSetWriteReadRoundTrip(t *testing.T) {
	srcDir := t.TempDir()
	dstDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "a.bin"), []byte("hello world"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(srcDir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "sub", "b.bin"), []byte("abc"), 0o644))

	headers, err := fileset.DiscoverHeaders(srcDir)
	require.NoError(t, err)
	require.Len(t, headers, 2)

	src, err := fileset.NewDirFileSet(srcDir, headers, 4)
	require.NoError(t, err)
	chunks, err := src.EnumerateChunks()
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	dst, err := fileset.NewDirFileSet(dstDir, headers, 4)
	require.NoError(t, err)
	require.NoError(t, dst.InitWrite())

	for _, c := range chunks {
		data, err := src.Read(c)
		require.NoError(t, err)
		require.NoError(t, dst.Write(c, data))
	}
	require.NoError(t, dst.Flush())

	for _, h := range headers {
		got, err := os.ReadFile(filepath.Join(dstDir, filepath.FromSlash(h.Name)))
		require.NoError(t, err)
		want, err := os.ReadFile(filepath.Join(srcDir, filepath.FromSlash(h.Name)))
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestDirFileSetRejectsPathTraversal(t *testing.T) {
	dstDir := t.TempDir()
	headers := []wire.FileHeader{{Name: "../escape.bin", Length: 4, Ordinal: 0}}
	dst, err := fileset.NewDirFileSet(dstDir, headers, 4)
	require.NoError(t, err)
	require.Error(t, dst.InitWrite())
}

func TestDirFileSetClean(t *testing.T) {
	dstDir := t.TempDir()
	headers := []wire.FileHeader{{Name: "x.bin", Length: 3, Ordinal: 0}}
	dst, err := fileset.NewDirFileSet(dstDir, headers, 8)
	require.NoError(t, err)
	require.NoError(t, dst.InitWrite())
	require.NoError(t, dst.Clean())
	_, statErr := os.Stat(filepath.Join(dstDir, "x.bin"))
	require.True(t, os.IsNotExist(statErr))
}
