package fileset

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/xerrors"

	"github.com/daparker3/MulticastDownloader/internal/wire"
)

// DirFileSet is the default FileSet/Source implementation: it maps the
// ordered FileHeader list onto real files under root, the way the
// teacher's recvFile/collectEntries pair does — including the same
// path-traversal guard ("Security: block path traversal") before ever
// touching the filesystem.
type DirFileSet struct {
	root    string
	headers []wire.FileHeader
	chunks  []Chunk

	mu    sync.Mutex
	files map[uint32]*os.File
}

// NewDirFileSet builds a DirFileSet rooted at root for the given headers
// and block size. The chunk sequence is computed once, deterministically,
// per spec.md §3.
func NewDirFileSet(root string, headers []wire.FileHeader, blockSize int) (*DirFileSet, error) {
	chunks, err := BuildChunks(headers, blockSize)
	if err != nil {
		return nil, err
	}
	return &DirFileSet{
		root:    root,
		headers: headers,
		chunks:  chunks,
		files:   make(map[uint32]*os.File),
	}, nil
}

func (d *DirFileSet) relPath(h wire.FileHeader) (string, error) {
	rel := filepath.FromSlash(h.Name)
	if filepath.IsAbs(rel) || strings.Contains(rel, "..") {
		return "", xerrors.Errorf("fileset: unsafe relative path %q", h.Name)
	}
	return rel, nil
}

// InitWrite creates (or truncates) every destination file so that
// subsequent WriteAt calls can land at any offset.
func (d *DirFileSet) InitWrite() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, h := range d.headers {
		rel, err := d.relPath(h)
		if err != nil {
			return err
		}
		dest := filepath.Join(d.root, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return xerrors.Errorf("fileset: mkdir for %s: %w", h.Name, err)
		}
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return xerrors.Errorf("fileset: create %s: %w", h.Name, err)
		}
		if err := f.Truncate(int64(h.Length)); err != nil {
			f.Close()
			return xerrors.Errorf("fileset: truncate %s: %w", h.Name, err)
		}
		d.files[h.Ordinal] = f
	}
	return nil
}

// EnumerateChunks returns the deterministic chunk sequence.
func (d *DirFileSet) EnumerateChunks() ([]Chunk, error) {
	return d.chunks, nil
}

// Write lands one chunk's bytes at its {file, offset}. Concurrent writes
// to distinct segment_ids are safe; the chunk-writer's single-writer
// discipline (spec.md §5) ensures the same segment_id is never written
// concurrently with itself.
func (d *DirFileSet) Write(chunk Chunk, data []byte) error {
	d.mu.Lock()
	f, ok := d.files[chunk.FileOrdinal]
	d.mu.Unlock()
	if !ok {
		return xerrors.Errorf("fileset: unknown file ordinal %d", chunk.FileOrdinal)
	}
	if len(data) != chunk.Length {
		return xerrors.Errorf("fileset: chunk %d expected %d bytes, got %d", chunk.SegmentID, chunk.Length, len(data))
	}
	if _, err := f.WriteAt(data, chunk.ByteOffset); err != nil {
		return xerrors.Errorf("fileset: write chunk %d: %w", chunk.SegmentID, err)
	}
	return nil
}

// Flush syncs every open destination file to stable storage.
func (d *DirFileSet) Flush() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for ord, f := range d.files {
		if err := f.Sync(); err != nil {
			return xerrors.Errorf("fileset: sync ordinal %d: %w", ord, err)
		}
	}
	return nil
}

// Clean removes every destination file. The receiver calls it when a
// reconnect finds a changed file list (PayloadMismatch); cancellation
// leaves partial files in place.
func (d *DirFileSet) Clean() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for _, h := range d.headers {
		rel, err := d.relPath(h)
		if err != nil {
			continue
		}
		f, ok := d.files[h.Ordinal]
		if ok {
			f.Close()
			delete(d.files, h.Ordinal)
		}
		if err := os.Remove(filepath.Join(d.root, rel)); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Read serves the server side (Source): the bytes backing one chunk, read
// back from the on-disk payload root.
func (d *DirFileSet) Read(chunk Chunk) ([]byte, error) {
	d.mu.Lock()
	f, ok := d.files[chunk.FileOrdinal]
	d.mu.Unlock()
	if !ok {
		var err error
		f, err = d.openForRead(chunk.FileOrdinal)
		if err != nil {
			return nil, err
		}
	}
	buf := make([]byte, chunk.Length)
	if chunk.Length == 0 {
		return buf, nil
	}
	if _, err := f.ReadAt(buf, chunk.ByteOffset); err != nil {
		return nil, xerrors.Errorf("fileset: read chunk %d: %w", chunk.SegmentID, err)
	}
	return buf, nil
}

func (d *DirFileSet) openForRead(ordinal uint32) (*os.File, error) {
	for _, h := range d.headers {
		if h.Ordinal != ordinal {
			continue
		}
		rel, err := d.relPath(h)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(filepath.Join(d.root, rel))
		if err != nil {
			return nil, xerrors.Errorf("fileset: open %s: %w", h.Name, err)
		}
		d.mu.Lock()
		d.files[ordinal] = f
		d.mu.Unlock()
		return f, nil
	}
	return nil, xerrors.Errorf("fileset: unknown file ordinal %d", ordinal)
}

// Headers returns the FileHeader list this FileSet was built from (used
// to compare against a reconnecting receiver's remembered list).
func (d *DirFileSet) Headers() []wire.FileHeader { return d.headers }

// DiscoverHeaders walks root and builds the ordered FileHeader list the
// server advertises for a payload, assigning ordinals by a stable,
// deterministic walk order (lexicographic relative path).
func DiscoverHeaders(root string) ([]wire.FileHeader, error) {
	var names []string
	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil || fi.IsDir() {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("fileset: walk %s: %w", root, err)
	}

	headers := make([]wire.FileHeader, 0, len(names))
	for i, name := range names {
		info, statErr := os.Stat(filepath.Join(root, filepath.FromSlash(name)))
		if statErr != nil {
			return nil, xerrors.Errorf("fileset: stat %s: %w", name, statErr)
		}
		headers = append(headers, wire.FileHeader{
			Name:    name,
			Length:  uint64(info.Size()),
			Ordinal: uint32(i),
		})
	}
	return headers, nil
}
