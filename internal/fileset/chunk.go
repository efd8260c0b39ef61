// Package fileset implements the FileSet/ChunkWriter external collaborator
// (spec.md §6, component C6): the mapping from a flat, ordered block
// sequence onto a set of files, and the receiver-side writer that turns
// received blocks into file writes. The single-writer-goroutine-plus-
// channel shape is carried over directly from the teacher's recvFile
// async write queue.
package fileset

import (
	"golang.org/x/xerrors"

	"github.com/daparker3/MulticastDownloader/internal/psk"
	"github.com/daparker3/MulticastDownloader/internal/wavecasterr"
	"github.com/daparker3/MulticastDownloader/internal/wire"
)

// Chunk is the internal mapping from a segment_id to a byte range within
// one file of the payload (spec.md §3 "FileChunk").
type Chunk struct {
	SegmentID   int
	FileOrdinal uint32
	ByteOffset  int64
	Length      int
}

// BuildChunks deterministically cuts the ordered FileHeader list into
// block_size chunks, assigning sequential segment IDs across file
// boundaries. Two peers given the same headers and block_size always
// compute the identical chunk sequence (spec.md §3).
func BuildChunks(headers []wire.FileHeader, blockSize int) ([]Chunk, error) {
	if blockSize <= 0 {
		return nil, wavecasterr.New(wavecasterr.KindConfigInvalid, "fileset.BuildChunks",
			xerrors.Errorf("block size must be positive, got %d", blockSize))
	}

	var chunks []Chunk
	segID := 0
	for _, h := range headers {
		remaining := int64(h.Length)
		offset := int64(0)
		if remaining == 0 {
			// An empty file still owns exactly one (zero-length) chunk so
			// that FileHeader.ordinal always maps to at least one segment.
			chunks = append(chunks, Chunk{SegmentID: segID, FileOrdinal: h.Ordinal, ByteOffset: 0, Length: 0})
			segID++
			continue
		}
		for remaining > 0 {
			n := int64(blockSize)
			if n > remaining {
				n = remaining
			}
			chunks = append(chunks, Chunk{
				SegmentID:   segID,
				FileOrdinal: h.Ordinal,
				ByteOffset:  offset,
				Length:      int(n),
			})
			segID++
			offset += n
			remaining -= n
		}
	}
	return chunks, nil
}

// HeadersEqual is the structural-equality check spec.md §3/§4.2 requires
// on reconnect: a mismatch here is fatal (PayloadMismatch).
func HeadersEqual(a, b []wire.FileHeader) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Block-size derivation, spec.md §4.5.
const (
	ipv4HeaderOverhead = 20
	ipv6HeaderOverhead = 40
	udpHeaderOverhead  = 8
	// wireFramingOverhead is an upper bound on the non-payload bytes a
	// FileSegment datagram spends on its 1-byte type tag and the CBOR map
	// framing around segment_id and the data byte string (datagrams carry
	// no length prefix; see wire.EncodeDatagram).
	wireFramingOverhead = 24
)

// DeriveBlockSize computes block_size from the configured MTU and IP
// version, shrinking the usable pre-encode size until the encoder's
// output still fits in the raw per-datagram budget, exactly as spec.md
// §4.5 describes. encoder may be nil when no payload encoder is
// configured.
func DeriveBlockSize(mtu int, ipv6 bool, encoder *psk.Cipher) (int, error) {
	headerOverhead := ipv4HeaderOverhead
	if ipv6 {
		headerOverhead = ipv6HeaderOverhead
	}
	rawBlock := mtu - headerOverhead - udpHeaderOverhead - wireFramingOverhead
	if rawBlock <= 0 {
		return 0, wavecasterr.New(wavecasterr.KindConfigInvalid, "fileset.DeriveBlockSize",
			xerrors.Errorf("mtu %d leaves no room for a block after overhead", mtu))
	}

	if encoder == nil {
		return rawBlock, nil
	}

	for usable := rawBlock; usable > 0; usable-- {
		if encoder.EncodedLength(usable) <= rawBlock {
			return usable, nil
		}
	}
	return 0, wavecasterr.New(wavecasterr.KindConfigInvalid, "fileset.DeriveBlockSize",
		xerrors.Errorf("no usable block size fits within raw block %d after encoding overhead", rawBlock))
}
