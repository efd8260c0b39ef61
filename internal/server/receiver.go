package server

import (
	"sync"
	"time"

	"github.com/daparker3/MulticastDownloader/internal/bitset"
	"github.com/daparker3/MulticastDownloader/internal/control"
)

// ReceiverRecord is the server-side mirror of one admitted receiver
// (spec.md §3 "Receiver record", component C8): created on authenticated
// SessionJoinRequest, destroyed on leaving_session=true, transport
// failure, or scheduler eviction.
type ReceiverRecord struct {
	ID      string
	Channel *control.Channel

	mu                sync.Mutex
	latestBitVector   *bitset.BitVector
	bytesLeftReported uint64
	joinedSession     bool
	leaving           bool
	lastSeen          time.Time

	// pendingWaveStatus is true once this receiver has delivered its
	// WaveStatusUpdate for the current wave and is waiting on the
	// scheduler's WaveCompleteResponse.
	pendingWaveStatus bool
}

// NewReceiverRecord creates a record for a freshly admitted receiver.
func NewReceiverRecord(id string, ch *control.Channel, totalChunks int) *ReceiverRecord {
	return &ReceiverRecord{
		ID:              id,
		Channel:         ch,
		latestBitVector: bitset.New(totalChunks),
		joinedSession:   true,
		lastSeen:        time.Now(),
	}
}

// BitVector returns the receiver's most recently reported bit-vector.
func (r *ReceiverRecord) BitVector() *bitset.BitVector {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latestBitVector
}

// ReplaceBitVector installs a freshly received bit-vector, e.g. from a
// WaveStatusUpdate.
func (r *ReceiverRecord) ReplaceBitVector(bv *bitset.BitVector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latestBitVector = bv
}

// JoinedSession reports whether the receiver has completed session join.
func (r *ReceiverRecord) JoinedSession() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinedSession
}

// Touch records that the receiver produced activity, resetting its
// eviction clock.
func (r *ReceiverRecord) Touch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSeen = time.Now()
}

// LastSeen reports when the receiver was last heard from.
func (r *ReceiverRecord) LastSeen() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastSeen
}

// SetLeaving marks the receiver as departing the session.
func (r *ReceiverRecord) SetLeaving(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaving = v
}

// Leaving reports whether the receiver has signalled leaving_session.
func (r *ReceiverRecord) Leaving() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leaving
}

// SetBytesLeftReported records the receiver's self-reported bytes_left.
func (r *ReceiverRecord) SetBytesLeftReported(n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytesLeftReported = n
}

// AwaitingWaveStatus reports whether this receiver still owes a
// WaveStatusUpdate for the current wave.
func (r *ReceiverRecord) AwaitingWaveStatus() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.pendingWaveStatus
}

// ResetWaveStatus clears the "has reported this wave" flag at the start
// of a new wave.
func (r *ReceiverRecord) ResetWaveStatus() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pendingWaveStatus = false
}

// MarkWaveStatusReportedIfNew flips pendingWaveStatus to true and
// reports whether it was already true, atomically with respect to
// concurrent AwaitingWaveStatus/ResetWaveStatus calls.
func (r *ReceiverRecord) MarkWaveStatusReportedIfNew() (alreadyReported bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	alreadyReported = r.pendingWaveStatus
	r.pendingWaveStatus = true
	return alreadyReported
}
