package server

import (
	"sync"

	"golang.org/x/xerrors"

	"github.com/daparker3/MulticastDownloader/internal/bitset"
	"github.com/daparker3/MulticastDownloader/internal/fileset"
	"github.com/daparker3/MulticastDownloader/internal/mcast"
	"github.com/daparker3/MulticastDownloader/internal/psk"
	"github.com/daparker3/MulticastDownloader/internal/wavecasterr"
	"github.com/daparker3/MulticastDownloader/internal/wire"
)

// Session is the server-side per-payload record spec.md §3 defines:
// { session_id, multicast_address, multicast_port, payload_root, admitted_receivers,
// files, chunks, wave }. It owns its receiver records exclusively; the
// scheduler (same type, see scheduler.go) holds only non-owning
// iteration access via the methods below.
type Session struct {
	ID               int
	Path             string
	MulticastAddress string
	MulticastPort    int
	Files            []wire.FileHeader
	Chunks           []fileset.Chunk

	cfg    *Config
	group  *mcast.DatagramGroup
	sender *Sender

	mu        sync.Mutex
	receivers map[string]*ReceiverRecord

	wave           uint64
	currentBarrier *waveBarrier
	planActive     bool
	planLength     int
}

// NewSession constructs a session for one payload path, already bound to
// its multicast endpoint and data source. cipher may be nil when no PSK
// payload encoder is configured.
func NewSession(id int, path string, cfg *Config, group *mcast.DatagramGroup, source fileset.Source,
	cipher *psk.Cipher, files []wire.FileHeader, chunks []fileset.Chunk, multicastPort int) *Session {
	return &Session{
		ID:               id,
		Path:             path,
		MulticastAddress: cfg.MulticastAddress,
		MulticastPort:    multicastPort,
		Files:            files,
		Chunks:           chunks,
		cfg:              cfg,
		group:            group,
		sender:           NewSender(source, chunks, group, cipher),
		receivers:        make(map[string]*ReceiverRecord),
	}
}

// AdmitRecord inserts an already-constructed ReceiverRecord (used when
// the caller needs the control.Channel wired in before admission, e.g.
// after a successful handshake).
func (s *Session) AdmitRecord(rec *ReceiverRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.receivers) >= s.cfg.MaxConnectionsPerSession {
		return wavecasterr.New(wavecasterr.KindRefused, "Session.AdmitRecord",
			xerrors.Errorf("session %d at capacity (%d)", s.ID, s.cfg.MaxConnectionsPerSession))
	}
	s.receivers[rec.ID] = rec
	return nil
}

// RemoveReceiver drops a receiver record — on disconnect, leaving, or
// eviction.
func (s *Session) RemoveReceiver(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.receivers, id)
}

// ReceiverCount returns the number of currently admitted receivers.
func (s *Session) ReceiverCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receivers)
}

// Aggregate computes the bitwise-AND across every admitted receiver's
// latest bit-vector (spec.md §4.3).
func (s *Session) Aggregate() *bitset.BitVector {
	s.mu.Lock()
	vectors := make([]*bitset.BitVector, 0, len(s.receivers))
	for _, r := range s.receivers {
		vectors = append(vectors, r.BitVector())
	}
	s.mu.Unlock()
	return bitset.And(len(s.Chunks), vectors)
}

// Wave returns the current wave number.
func (s *Session) Wave() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wave
}

// Complete reports whether the session has satisfied its termination
// condition (a): the aggregate bit-vector is all-ones.
func (s *Session) Complete() bool {
	return !s.Aggregate().AnyUnset()
}

// AllLeaving reports termination condition (b): every admitted receiver
// has signalled leaving_session.
func (s *Session) AllLeaving() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.receivers) == 0 {
		return false
	}
	for _, r := range s.receivers {
		if !r.Leaving() {
			return false
		}
	}
	return true
}
