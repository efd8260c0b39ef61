package fileset_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daparker3/MulticastDownloader/internal/bitset"
	"github.com/daparker3/MulticastDownloader/internal/fileset"
	"github.com/daparker3/MulticastDownloader/internal/wire"
)

func TestChunkWriterWritesAndSetsBits(t *testing.T) {
	dstDir := t.TempDir()
	headers := []wire.FileHeader{{Name: "f.bin", Length: 8, Ordinal: 0}}
	dst, err := fileset.NewDirFileSet(dstDir, headers, 4)
	require.NoError(t, err)
	require.NoError(t, dst.InitWrite())

	chunks, err := dst.EnumerateChunks()
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	bits := bitset.New(len(chunks))
	w := fileset.NewChunkWriter(dst, bits, 4)

	w.Submit(chunks[0], []byte("abcd"))
	w.Submit(chunks[1], []byte("efgh"))
	require.NoError(t, w.Close())

	require.False(t, bits.AnyUnset())

	got, err := os.ReadFile(filepath.Join(dstDir, "f.bin"))
	require.NoError(t, err)
	require.Equal(t, []byte("abcdefgh"), got)
}

func TestChunkWriterDrainWaitsForQueuedWrites(t *testing.T) {
	dstDir := t.TempDir()
	headers := []wire.FileHeader{{Name: "f.bin", Length: 8, Ordinal: 0}}
	dst, err := fileset.NewDirFileSet(dstDir, headers, 4)
	require.NoError(t, err)
	require.NoError(t, dst.InitWrite())

	chunks, err := dst.EnumerateChunks()
	require.NoError(t, err)

	bits := bitset.New(len(chunks))
	w := fileset.NewChunkWriter(dst, bits, 4)

	w.Submit(chunks[0], []byte("abcd"))
	w.Submit(chunks[1], []byte("efgh"))
	w.Drain()

	require.False(t, bits.AnyUnset())
	require.NoError(t, w.Close())
}

func TestChunkWriterRecordsWriteErrors(t *testing.T) {
	dstDir := t.TempDir()
	headers := []wire.FileHeader{{Name: "f.bin", Length: 4, Ordinal: 0}}
	dst, err := fileset.NewDirFileSet(dstDir, headers, 4)
	require.NoError(t, err)
	require.NoError(t, dst.InitWrite())

	chunks, err := dst.EnumerateChunks()
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	bits := bitset.New(len(chunks))
	w := fileset.NewChunkWriter(dst, bits, 1)

	// Length mismatch forces FileSet.Write to fail.
	w.Submit(chunks[0], []byte("too-long-for-chunk"))
	err = w.Close()
	require.Error(t, err)
	require.True(t, bits.AnyUnset())
}
