package server

import (
	"sync"

	"github.com/daparker3/MulticastDownloader/internal/fileset"
	"github.com/daparker3/MulticastDownloader/internal/mcast"
	"github.com/daparker3/MulticastDownloader/internal/psk"
	"github.com/daparker3/MulticastDownloader/internal/wavecasterr"
	"github.com/daparker3/MulticastDownloader/internal/wire"
)

// Sender is the MulticastSender external collaborator (spec.md §9
// "Parallel fan-out of serialise+encode+send", component C10): a bounded
// worker pool does the CPU-bound serialise+encode work in parallel, all
// funnelling into a single-writer send to the DatagramGroup, matching
// the teacher's single-writer socket discipline generalized from TCP
// frames to UDP datagrams.
type Sender struct {
	source  fileset.Source
	chunks  []fileset.Chunk
	group   *mcast.DatagramGroup
	cipher  *psk.Cipher // nil when no payload encoder is configured
	writeMu sync.Mutex
}

// NewSender builds a Sender over chunks, reading bytes from source and
// emitting through group. cipher may be nil.
func NewSender(source fileset.Source, chunks []fileset.Chunk, group *mcast.DatagramGroup, cipher *psk.Cipher) *Sender {
	return &Sender{source: source, chunks: chunks, group: group, cipher: cipher}
}

// encodeSegment reads and optionally PSK-encodes one chunk's bytes into
// its on-wire FileSegment datagram. Pure with respect to s.group, so it
// is safe to run across the parallel serialise/encode pool.
func (s *Sender) encodeSegment(chunk fileset.Chunk) ([]byte, error) {
	data, err := s.source.Read(chunk)
	if err != nil {
		return nil, wavecasterr.New(wavecasterr.KindTransportLost, "Sender.encodeSegment", err)
	}

	if s.cipher != nil {
		data, err = s.cipher.Encode(data)
		if err != nil {
			return nil, wavecasterr.New(wavecasterr.KindMalformedFrame, "Sender.encodeSegment", err)
		}
	}

	return wire.EncodeDatagram(&wire.FileSegment{SegmentID: uint64(chunk.SegmentID), Data: data})
}

// SendSegment encodes and emits a single chunk outside of any burst
// plan (used e.g. for ad hoc retransmission).
func (s *Sender) SendSegment(chunk fileset.Chunk) error {
	raw, err := s.encodeSegment(chunk)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.group.Send(raw)
}

// SendPlan emits every segment_id in plan in ascending order, pacing
// emission in bursts of at most burstLength datagrams enqueued before
// yielding — the transport's own send-buffer back-pressure provides the
// coarse rate limit spec.md §4.3 describes. Serialise+encode for each
// burst runs in parallel across a worker pool (spec.md §9's "parallel
// fan-out of serialise+encode+send"); the actual datagram emission is
// then replayed in plan order so ascending segment_id emission holds
// even though encoding finishes out of order.
func (s *Sender) SendPlan(plan []int, burstLength int) error {
	chunkByID := make(map[int]fileset.Chunk, len(s.chunks))
	for _, c := range s.chunks {
		chunkByID[c.SegmentID] = c
	}

	for start := 0; start < len(plan); start += burstLength {
		end := start + burstLength
		if end > len(plan) {
			end = len(plan)
		}
		burst := plan[start:end]

		encoded := make([][]byte, len(burst))
		errs := make([]error, len(burst))
		var wg sync.WaitGroup
		for i, segID := range burst {
			chunk, ok := chunkByID[segID]
			if !ok {
				continue
			}
			wg.Add(1)
			go func(i int, chunk fileset.Chunk) {
				defer wg.Done()
				encoded[i], errs[i] = s.encodeSegment(chunk)
			}(i, chunk)
		}
		wg.Wait()

		for i := range burst {
			if errs[i] != nil {
				return errs[i]
			}
			if encoded[i] == nil {
				continue
			}
			if err := s.group.Send(encoded[i]); err != nil {
				return err
			}
		}
	}
	return nil
}
