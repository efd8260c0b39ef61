package server

import (
	"context"
	"sync"
	"time"

	"github.com/daparker3/MulticastDownloader/internal/bitset"
	"github.com/daparker3/MulticastDownloader/internal/wire"
	"github.com/rs/zerolog/log"
)

// waveBarrier tracks how many still-admitted receivers owe a
// WaveStatusUpdate before the current wave can close. allReported fires
// as soon as every receiver has reported (or is evicted); released
// fires only once the scheduler has finished advancing bookkeeping
// (wave++, aggregate refresh), so HandleWaveStatusUpdate callers always
// observe the post-advance wave number.
type waveBarrier struct {
	wg          sync.WaitGroup
	allReported chan struct{}
	released    chan struct{}
}

func newWaveBarrier(n int) *waveBarrier {
	b := &waveBarrier{allReported: make(chan struct{}), released: make(chan struct{})}
	b.wg.Add(n)
	go func() {
		b.wg.Wait()
		close(b.allReported)
	}()
	return b
}

// RunWaveLoop drives the scheduler (spec.md §4.3) until the session
// terminates: it builds a plan from the aggregate bit-vector, emits it
// in ascending segment_id order, waits for every admitted receiver's
// WaveStatusUpdate (or the wave boundary timeout), evicts stragglers,
// and repeats.
func (s *Session) RunWaveLoop(ctx context.Context) error {
	defer s.group.Leave()

	idleSince := time.Time{}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if s.Complete() || s.AllLeaving() {
			log.Info().Int("session", s.ID).Msg("session complete, stopping wave loop")
			return nil
		}

		if s.ReceiverCount() == 0 {
			if idleSince.IsZero() {
				idleSince = time.Now()
			}
			if time.Since(idleSince) > s.cfg.IdleGrace {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		idleSince = time.Time{}

		aggregate := s.Aggregate()
		plan := aggregate.UnsetIndices()
		if len(plan) == 0 {
			return nil
		}

		s.beginWave(len(plan))
		log.Debug().Int("session", s.ID).Uint64("wave", s.currentWaveNumber()).Int("segments", len(plan)).
			Msg("wave begin")

		if err := s.sender.SendPlan(plan, s.cfg.MulticastBurstLength); err != nil {
			return err
		}
		s.mu.Lock()
		s.planActive = true
		s.mu.Unlock()

		s.waitForWaveStatuses(ctx)
		s.evictStragglers()
		s.advanceWave()
		log.Debug().Int("session", s.ID).Uint64("wave", s.currentWaveNumber()).Msg("wave closed")
	}
}

// releaseWave unblocks every HandleWaveStatusUpdate call still waiting
// on this wave's barrier, now that bookkeeping has been advanced.
func releaseWave(b *waveBarrier) {
	if b == nil {
		return
	}
	close(b.released)
}

// beginWave opens the solicitation barrier for the current wave. Once
// RunWaveLoop has emitted the whole plan it sets planActive, and from
// then on PacketStatusUpdate is answered with WaveComplete so receivers
// know to send their full bit-vector.
func (s *Session) beginWave(planLength int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planLength = planLength
	s.currentBarrier = newWaveBarrier(len(s.receivers))
	for _, r := range s.receivers {
		r.ResetWaveStatus()
	}
}

func (s *Session) waitForWaveStatuses(ctx context.Context) {
	s.mu.Lock()
	barrier := s.currentBarrier
	s.mu.Unlock()
	if barrier == nil {
		return
	}
	select {
	case <-barrier.allReported:
	case <-ctx.Done():
	case <-time.After(s.cfg.WaveBoundaryTimeout()):
	}
}

// evictStragglers drops every admitted receiver that still hasn't
// delivered a WaveStatusUpdate once the barrier resolves, per spec.md
// §4.3 step 5. Each eviction also completes that receiver's slot in the
// wave barrier's WaitGroup, so the barrier's internal goroutine doesn't
// leak waiting on a report that will never arrive.
func (s *Session) evictStragglers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	barrier := s.currentBarrier
	for id, r := range s.receivers {
		if r.AwaitingWaveStatus() {
			r.Channel.Close()
			delete(s.receivers, id)
			log.Warn().Int("session", s.ID).Str("receiver", id).Msg("evicted straggler")
			// Mark reported before releasing the WaitGroup slot so a
			// WaveStatusUpdate that arrives just after eviction sees
			// alreadyReported=true and does not double-release it.
			if !r.MarkWaveStatusReportedIfNew() && barrier != nil {
				barrier.wg.Done()
			}
		}
	}
}

// advanceWave closes out the wave: increments the counter, then
// unblocks every receiver still waiting in HandleWaveStatusUpdate so
// they observe the post-increment wave number in their
// WaveCompleteResponse.
func (s *Session) advanceWave() {
	s.mu.Lock()
	s.wave++
	s.planActive = false
	barrier := s.currentBarrier
	s.currentBarrier = nil
	s.mu.Unlock()
	releaseWave(barrier)
}

// currentWaveNumber safely reads the wave counter.
func (s *Session) currentWaveNumber() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wave
}

// HandlePacketStatusUpdate answers a per-interval status report
// (spec.md §4.3 step 3 / §4.4): a plain ack carrying the reception
// rate, or a WaveComplete solicitation once the current wave's plan has
// been fully emitted.
func (s *Session) HandlePacketStatusUpdate(rec *ReceiverRecord, msg *wire.PacketStatusUpdate) *wire.PacketStatusUpdateResponse {
	rec.Touch()
	rec.SetBytesLeftReported(msg.BytesLeft)
	rec.SetLeaving(msg.LeavingSession)

	s.mu.Lock()
	planActive := s.planActive
	planLength := s.planLength
	s.mu.Unlock()

	if planActive {
		return &wire.PacketStatusUpdateResponse{
			Response:     wire.Response{Status: wire.StatusOK},
			ResponseType: wire.UpdateResponseWaveComplete,
		}
	}

	stillMissing := len(rec.BitVector().UnsetIndices())
	rate := receptionRate(planLength, stillMissing)
	return &wire.PacketStatusUpdateResponse{
		Response:      wire.Response{Status: wire.StatusOK},
		ReceptionRate: rate,
		ResponseType:  wire.UpdateResponseOK,
	}
}

func receptionRate(transmitted, stillMissing int) float64 {
	total := transmitted + stillMissing
	if total <= 0 {
		return 1
	}
	rate := float64(transmitted) / float64(total)
	if rate > 1 {
		return 1
	}
	if rate < 0 {
		return 0
	}
	return rate
}

// HandleWaveStatusUpdate records a receiver's full bit-vector at a wave
// boundary and blocks until the whole session's wave closes, then
// returns the WaveCompleteResponse to send (spec.md §4.3 step 4).
func (s *Session) HandleWaveStatusUpdate(rec *ReceiverRecord, msg *wire.WaveStatusUpdate) (*wire.WaveCompleteResponse, error) {
	bv, err := bitset.FromRawBytes(len(s.Chunks), msg.FileBitVector)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	barrier := s.currentBarrier
	s.mu.Unlock()

	rec.Touch()
	rec.SetBytesLeftReported(msg.BytesLeft)
	rec.SetLeaving(msg.LeavingSession)
	rec.ReplaceBitVector(bv)

	if barrier != nil {
		if !rec.MarkWaveStatusReportedIfNew() {
			barrier.wg.Done()
		}
		<-barrier.released
	}

	return &wire.WaveCompleteResponse{
		Response:   wire.Response{Status: wire.StatusOK},
		WaveNumber: s.currentWaveNumber(),
	}, nil
}
