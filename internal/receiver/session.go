// Package receiver implements the ReceiverSession external collaborator
// (spec.md §4.4, component C7): connect, authenticate, join a session,
// receive datagrams, report progress, and reconnect on transport loss.
// The three concurrent activities spec.md names — datagram intake,
// chunk writer, status reporter — are adapted from the teacher's
// recvSession/recvFile control loop plus its async write-queue
// goroutine, split so each activity is its own goroutine instead of one
// big per-file loop.
package receiver

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/xerrors"

	"github.com/daparker3/MulticastDownloader/internal/bitset"
	"github.com/daparker3/MulticastDownloader/internal/control"
	"github.com/daparker3/MulticastDownloader/internal/fileset"
	"github.com/daparker3/MulticastDownloader/internal/mcast"
	"github.com/daparker3/MulticastDownloader/internal/progress"
	"github.com/daparker3/MulticastDownloader/internal/psk"
	"github.com/daparker3/MulticastDownloader/internal/wavecasterr"
	"github.com/daparker3/MulticastDownloader/internal/wire"
	"github.com/rs/zerolog/log"
)

// intakeReadInterval bounds how long a single Receive call may block so
// the intake goroutine notices context cancellation promptly (spec.md §5
// "every long-running operation accepts a cancellation signal").
const intakeReadInterval = 500 * time.Millisecond

// Session is the client-side state machine for one payload fetch,
// spanning however many reconnects are needed to complete it.
type Session struct {
	cfg      Config
	endpoint Endpoint
	cipher   *psk.Cipher
	secure   control.SecureChannel

	headers   []wire.FileHeader
	chunks    []fileset.Chunk
	chunkByID map[int]fileset.Chunk

	fileSet *fileset.DirFileSet
	bits    *bitset.BitVector
	writer  *fileset.ChunkWriter
	meter   *progress.Meter

	wave uint64
}

// New builds a Session for one fetch of endpoint, validating cfg and
// deriving the PSK cipher (nil when no pass-phrase is configured).
func New(cfg Config, endpoint Endpoint) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cipher, err := cfg.Cipher()
	if err != nil {
		return nil, wavecasterr.New(wavecasterr.KindConfigInvalid, "receiver.New", err)
	}

	var secure control.SecureChannel
	if endpoint.Secure {
		secure = control.TLSChannel{IsServer: false}
	} else {
		secure = control.PlainChannel{}
	}

	return &Session{cfg: cfg, endpoint: endpoint, cipher: cipher, secure: secure}, nil
}

// BytesPerSecond returns the status reporter's current moving-window
// throughput estimate, or 0 before the first sample.
func (s *Session) BytesPerSecond() float64 {
	if s.meter == nil {
		return 0
	}
	return s.meter.BytesPerSecond()
}

// Run drives the fetch to completion, reconnecting on transport loss per
// spec.md §4.2 "Reconnection" and §7's propagation rule: any error before
// the first successful join is fatal and wrapped as SessionAborted; after
// that, every error kind but AuthFailed/PayloadMismatch/Cancelled
// triggers a reconnect after ReconnectDelay.
func (s *Session) Run(ctx context.Context) error {
	joinedOnce := false
	for {
		complete, err := s.runOnce(ctx, &joinedOnce)
		if err == nil {
			if complete {
				return nil
			}
			continue
		}

		if !joinedOnce {
			return &wavecasterr.SessionAborted{Inner: err}
		}
		if !wavecasterr.CanReconnect(err) {
			return err
		}

		log.Warn().Str("endpoint", s.endpoint.Addr).Err(err).Dur("delay", s.cfg.ReconnectDelay).
			Msg("transport lost, reconnecting")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ReconnectDelay):
		}
	}
}

// runOnce performs one connect-authenticate-join-serve attempt, spec.md
// §4.2 steps 1-8. It returns complete=true only once the payload's local
// BitVector has no zero bit and the final WaveStatusUpdate has been
// acknowledged.
func (s *Session) runOnce(ctx context.Context, joinedOnce *bool) (bool, error) {
	const op = "receiver.Session.runOnce"

	conn, err := control.Dial(s.endpoint.Addr, s.cfg.ReadTimeout)
	if err != nil {
		return false, err
	}

	// Challenge/ChallengeResponse run directly on conn, unbuffered: a
	// control.Channel's bufio.Reader can read past the Challenge frame in
	// one syscall, and the ClientHello s.secure.Wrap is about to send
	// follows right behind our ChallengeResponse on the same connection —
	// building a Channel here could buffer bytes the server's raw conn
	// never gets a chance to answer as a TLS handshake.
	msg, err := wire.ReadFrame(conn)
	if err != nil {
		conn.Close()
		return false, err
	}
	challenge, ok := msg.(*wire.Challenge)
	if !ok {
		conn.Close()
		return false, wavecasterr.New(wavecasterr.KindMalformedFrame, op,
			xerrors.Errorf("expected Challenge, got %T", msg))
	}

	var nonce []byte
	if s.cipher != nil {
		nonce, err = s.cipher.DecodeChallenge(challenge.ChallengeKey)
		if err != nil {
			conn.Close()
			return false, wavecasterr.New(wavecasterr.KindAuthFailed, op, err)
		}
	} else {
		nonce = challenge.ChallengeKey
	}

	proof := nonce
	if s.cipher != nil {
		proof = s.cipher.EncodeClientProof(nonce)
	}
	if err := wire.WriteFrame(conn, &wire.ChallengeResponse{ChallengeKey: proof}); err != nil {
		conn.Close()
		return false, err
	}

	secureConn, err := s.secure.Wrap(conn, nonce)
	if err != nil {
		conn.Close()
		return false, err
	}
	ch := control.New(secureConn)
	defer ch.Close()

	if err := ch.Send(&wire.SessionJoinRequest{Path: s.endpoint.Path}); err != nil {
		return false, err
	}
	msg, err = ch.Receive()
	if err != nil {
		return false, err
	}
	joinResp, ok := msg.(*wire.SessionJoinResponse)
	if !ok {
		return false, wavecasterr.New(wavecasterr.KindMalformedFrame, op,
			xerrors.Errorf("expected SessionJoinResponse, got %T", msg))
	}
	if joinResp.Status != wire.StatusOK {
		return false, wavecasterr.New(statusKind(joinResp.Status), op,
			xerrors.Errorf("join refused: %s", joinResp.ErrorMessage))
	}

	if s.fileSet != nil && !fileset.HeadersEqual(s.headers, joinResp.Files) {
		s.fileSet.Clean()
		return false, wavecasterr.New(wavecasterr.KindPayloadMismatch, op,
			xerrors.Errorf("file list changed across reconnect"))
	}
	s.headers = joinResp.Files

	if s.fileSet == nil {
		if err := s.initLocalState(); err != nil {
			return false, err
		}
	}

	*joinedOnce = true
	s.wave = joinResp.WaveNumber

	group, err := mcast.Join(joinResp.MulticastAddress, int(joinResp.MulticastPort), s.cfg.InterfaceName, s.cfg.Ttl)
	if err != nil {
		return false, wavecasterr.New(wavecasterr.KindTransportLost, op, err)
	}
	defer group.Leave()

	return s.serve(ctx, group, ch)
}

// initLocalState derives block_size and the chunk mapping, opens the
// on-disk FileSet, and starts the ChunkWriter — done once, the first
// time a session successfully joins; retained verbatim across
// reconnects (spec.md §4.2 "the receiver retains its on-disk partial
// state and its local BitVector").
func (s *Session) initLocalState() error {
	blockSize, err := fileset.DeriveBlockSize(s.cfg.Mtu, s.cfg.Ipv6, s.cipher)
	if err != nil {
		return err
	}
	chunks, err := fileset.BuildChunks(s.headers, blockSize)
	if err != nil {
		return err
	}

	fileSet, err := fileset.NewDirFileSet(s.cfg.RootFolder, s.headers, blockSize)
	if err != nil {
		return err
	}
	if err := fileSet.InitWrite(); err != nil {
		return err
	}

	s.chunks = chunks
	s.chunkByID = make(map[int]fileset.Chunk, len(chunks))
	for _, c := range chunks {
		s.chunkByID[c.SegmentID] = c
	}
	s.fileSet = fileSet
	s.bits = bitset.New(len(chunks))
	s.writer = fileset.NewChunkWriter(fileSet, s.bits, s.cfg.QueueDepth)
	s.meter = progress.NewMeter(int64(s.bytesLeft()))
	log.Info().Int("files", len(s.headers)).Int("segments", len(chunks)).Int("blockSize", blockSize).
		Msg("local fetch state initialized")
	return nil
}

func statusKind(status wire.Status) wavecasterr.Kind {
	switch status {
	case wire.StatusAuthFailed:
		return wavecasterr.KindAuthFailed
	case wire.StatusRefused:
		return wavecasterr.KindRefused
	default:
		return wavecasterr.KindMalformedFrame
	}
}

// bytesLeft sums the length of every chunk whose bit is still unset.
func (s *Session) bytesLeft() uint64 {
	var left uint64
	for _, c := range s.chunks {
		if !s.bits.Test(c.SegmentID) {
			left += uint64(c.Length)
		}
	}
	return left
}

type serveResult struct {
	complete bool
	err      error
}

// serve runs datagram intake and status reporting concurrently until
// either one fails or the reporter observes completion, then unwinds
// both goroutines via ctx cancellation.
func (s *Session) serve(parentCtx context.Context, group *mcast.DatagramGroup, ch *control.Channel) (bool, error) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	intakeDone := make(chan error, 1)
	reportDone := make(chan serveResult, 1)

	go func() { intakeDone <- s.intakeLoop(ctx, group) }()
	go func() {
		complete, err := s.reportLoop(ctx, ch)
		reportDone <- serveResult{complete: complete, err: err}
	}()

	select {
	case r := <-reportDone:
		cancel()
		<-intakeDone
		return r.complete, r.err
	case err := <-intakeDone:
		cancel()
		<-reportDone
		return false, err
	}
}

// intakeLoop is the datagram intake activity: receive, decrypt,
// deserialise, hand off to the chunk writer. Decode/deserialise failures
// are discarded — the wave will resend (spec.md §4.4).
func (s *Session) intakeLoop(ctx context.Context, group *mcast.DatagramGroup) error {
	buf := make([]byte, s.cfg.MulticastBufferSize)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := group.SetReadDeadline(time.Now().Add(intakeReadInterval)); err != nil {
			return wavecasterr.New(wavecasterr.KindTransportLost, "receiver.Session.intakeLoop", err)
		}
		raw, err := group.Receive(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return err
		}

		msg, err := wire.DecodeDatagram(raw)
		if err != nil {
			continue
		}
		seg, ok := msg.(*wire.FileSegment)
		if !ok {
			continue
		}
		chunk, ok := s.chunkByID[int(seg.SegmentID)]
		if !ok {
			continue
		}

		data := seg.Data
		if s.cipher != nil {
			data, err = s.cipher.Decode(data)
			if err != nil {
				continue
			}
		}
		if len(data) != chunk.Length {
			continue
		}
		s.writer.Submit(chunk, data)
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// reportLoop is the status reporter activity: periodic PacketStatusUpdate,
// and on a WaveComplete response, drain the writer and report the full
// bit-vector (spec.md §4.4). complete=true once the local payload is
// entirely received and the final leaving_session report has been
// acknowledged.
func (s *Session) reportLoop(ctx context.Context, ch *control.Channel) (bool, error) {
	ticker := time.NewTicker(s.cfg.PacketUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}

		leaving := !s.bits.AnyUnset()
		if err := ch.Send(&wire.PacketStatusUpdate{
			BytesLeft:      s.bytesLeft(),
			LeavingSession: leaving,
		}); err != nil {
			return false, err
		}
		s.meter.Sample(int64(s.bytesLeft()), s.cfg.PacketUpdateInterval.Seconds())

		msg, err := ch.Receive()
		if err != nil {
			return false, err
		}
		resp, ok := msg.(*wire.PacketStatusUpdateResponse)
		if !ok {
			return false, wavecasterr.New(wavecasterr.KindMalformedFrame, "receiver.Session.reportLoop",
				xerrors.Errorf("expected PacketStatusUpdateResponse, got %T", msg))
		}
		if resp.ResponseType != wire.UpdateResponseWaveComplete {
			continue
		}

		s.writer.Drain()
		complete := !s.bits.AnyUnset()
		if err := ch.Send(&wire.WaveStatusUpdate{
			BytesLeft:      s.bytesLeft(),
			LeavingSession: complete,
			FileBitVector:  s.bits.RawBytes(),
		}); err != nil {
			return false, err
		}

		msg, err = ch.Receive()
		if err != nil {
			return false, err
		}
		waveResp, ok := msg.(*wire.WaveCompleteResponse)
		if !ok {
			return false, wavecasterr.New(wavecasterr.KindMalformedFrame, "receiver.Session.reportLoop",
				xerrors.Errorf("expected WaveCompleteResponse, got %T", msg))
		}
		s.wave = waveResp.WaveNumber

		if complete {
			if err := s.fileSet.Flush(); err != nil {
				return false, err
			}
			log.Info().Uint64("wave", s.wave).Msg("fetch complete")
			return true, nil
		}
	}
}
