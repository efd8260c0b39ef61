package server

import (
	"net"
	"sync"

	"golang.org/x/xerrors"

	"github.com/daparker3/MulticastDownloader/internal/control"
	"github.com/daparker3/MulticastDownloader/internal/psk"
	"github.com/daparker3/MulticastDownloader/internal/wavecasterr"
	"github.com/daparker3/MulticastDownloader/internal/wire"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

// Registry looks up (or lazily creates) the Session serving a given
// path, enforcing MaxSessions. One Registry is shared by every
// connection-handling goroutine the accept loop spawns, so all mutable
// state — the path/id maps and the session id counter — is guarded by
// mu.
type Registry struct {
	cfg    *Config
	cipher *psk.Cipher // nil when no PSK configured
	secure control.SecureChannel

	mu       sync.Mutex
	sessions map[string]*Session
	byID     map[int]*Session
	nextID   int

	openSession func(id int, path string) (*Session, error)
}

// NewRegistry builds a Registry that opens new Sessions for unseen
// paths via openSession, up to cfg.MaxSessions. openSession receives the
// Registry-assigned session id so its multicast endpoint can be derived
// from it (spec.md §3/§6 multicast_port = MulticastStartPort + session_id).
func NewRegistry(cfg *Config, cipher *psk.Cipher, secure control.SecureChannel,
	openSession func(id int, path string) (*Session, error)) *Registry {
	return &Registry{
		cfg:         cfg,
		cipher:      cipher,
		secure:      secure,
		sessions:    make(map[string]*Session),
		byID:        make(map[int]*Session),
		nextID:      1,
		openSession: openSession,
	}
}

// SessionFor returns the existing session for path or creates a new one,
// failing with Refused once MaxSessions live sessions already exist
// (spec.md §4.2 step 6).
func (reg *Registry) SessionFor(path string) (*Session, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if s, ok := reg.sessions[path]; ok {
		return s, nil
	}
	if len(reg.sessions) >= reg.cfg.MaxSessions {
		return nil, wavecasterr.New(wavecasterr.KindRefused, "Registry.SessionFor",
			xerrors.Errorf("max sessions (%d) already live", reg.cfg.MaxSessions))
	}
	id := reg.nextID
	reg.nextID++
	s, err := reg.openSession(id, path)
	if err != nil {
		return nil, err
	}
	reg.sessions[path] = s
	reg.byID[s.ID] = s
	return s, nil
}

// SessionByID looks up a live session by its numeric ID, for admin/log
// use.
func (reg *Registry) SessionByID(id int) (*Session, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	s, ok := reg.byID[id]
	return s, ok
}

// Forget removes a terminated session so its path can be reopened.
func (reg *Registry) Forget(path string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if s, ok := reg.sessions[path]; ok {
		delete(reg.byID, s.ID)
		delete(reg.sessions, path)
	}
}

// HandleConnection runs the full server-side admission sequence
// (spec.md §4.2 steps 2-7) over one freshly accepted control connection,
// returning the admitted Session and ReceiverRecord on success.
func (reg *Registry) HandleConnection(conn net.Conn) (*Session, *ReceiverRecord, error) {
	nonce, err := psk.DrawNonce()
	if err != nil {
		return nil, nil, wavecasterr.New(wavecasterr.KindAuthFailed, "Registry.HandleConnection", err)
	}

	var challengeKey []byte
	if reg.cipher != nil {
		challengeKey, err = reg.cipher.EncodeChallenge(nonce)
		if err != nil {
			return nil, nil, wavecasterr.New(wavecasterr.KindAuthFailed, "Registry.HandleConnection", err)
		}
	} else {
		challengeKey = nonce
	}

	// The Challenge/ChallengeResponse exchange runs directly on conn with
	// no buffering: a control.Channel's bufio.Reader can read well past
	// the ChallengeResponse frame in one syscall, swallowing bytes of a
	// pipelined TLS ClientHello that reg.secure.Wrap below needs to see on
	// the raw connection.
	if err := wire.WriteFrame(conn, &wire.Challenge{ChallengeKey: challengeKey}); err != nil {
		return nil, nil, err
	}

	msg, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, nil, err
	}
	resp, ok := msg.(*wire.ChallengeResponse)
	if !ok {
		return nil, nil, wavecasterr.New(wavecasterr.KindMalformedFrame, "Registry.HandleConnection",
			xerrors.Errorf("expected ChallengeResponse, got %T", msg))
	}

	if reg.cipher != nil && !reg.cipher.VerifyClientProof(nonce, resp.ChallengeKey) {
		wire.WriteFrame(conn, &wire.Response{Status: wire.StatusAuthFailed, ErrorMessage: "psk mismatch"})
		conn.Close()
		log.Warn().Str("remote", conn.RemoteAddr().String()).Msg("rejected session join: psk mismatch")
		return nil, nil, wavecasterr.New(wavecasterr.KindAuthFailed, "Registry.HandleConnection",
			xerrors.Errorf("client proof did not match"))
	}

	secureConn, err := reg.secure.Wrap(conn, nonce)
	if err != nil {
		conn.Close()
		return nil, nil, wavecasterr.New(wavecasterr.KindAuthFailed, "Registry.HandleConnection", err)
	}
	ch := control.New(secureConn)

	msg, err = ch.Receive()
	if err != nil {
		return nil, nil, err
	}
	joinReq, ok := msg.(*wire.SessionJoinRequest)
	if !ok {
		return nil, nil, wavecasterr.New(wavecasterr.KindMalformedFrame, "Registry.HandleConnection",
			xerrors.Errorf("expected SessionJoinRequest, got %T", msg))
	}

	sess, err := reg.SessionFor(joinReq.Path)
	if err != nil {
		ch.Send(&wire.SessionJoinResponse{Response: wire.Response{Status: wire.StatusRefused, ErrorMessage: err.Error()}})
		ch.Close()
		return nil, nil, err
	}

	rec := NewReceiverRecord(xid.New().String(), ch, len(sess.Chunks))
	if err := sess.AdmitRecord(rec); err != nil {
		ch.Send(&wire.SessionJoinResponse{Response: wire.Response{Status: wire.StatusRefused, ErrorMessage: err.Error()}})
		ch.Close()
		log.Warn().Str("path", joinReq.Path).Err(err).Msg("refused session join")
		return nil, nil, err
	}

	if err := ch.Send(&wire.SessionJoinResponse{
		Response:         wire.Response{Status: wire.StatusOK},
		Files:            sess.Files,
		MulticastAddress: sess.MulticastAddress,
		MulticastPort:    uint16(sess.MulticastPort),
		WaveNumber:       sess.Wave(),
	}); err != nil {
		sess.RemoveReceiver(rec.ID)
		return nil, nil, err
	}

	log.Info().Str("receiver", rec.ID).Str("path", joinReq.Path).Int("session", sess.ID).
		Msg("admitted receiver")
	return sess, rec, nil
}

// ServeConnection runs the per-receiver request/response loop after
// admission: PacketStatusUpdate and WaveStatusUpdate handling, until the
// receiver leaves or the transport fails.
func (reg *Registry) ServeConnection(sess *Session, rec *ReceiverRecord) error {
	defer func() {
		sess.RemoveReceiver(rec.ID)
		log.Info().Str("receiver", rec.ID).Int("session", sess.ID).Msg("receiver left")
	}()
	for {
		msg, err := rec.Channel.Receive()
		if err != nil {
			return err
		}
		switch m := msg.(type) {
		case *wire.PacketStatusUpdate:
			resp := sess.HandlePacketStatusUpdate(rec, m)
			if err := rec.Channel.Send(resp); err != nil {
				return err
			}
			if m.LeavingSession {
				return nil
			}
		case *wire.WaveStatusUpdate:
			resp, err := sess.HandleWaveStatusUpdate(rec, m)
			if err != nil {
				return err
			}
			if err := rec.Channel.Send(resp); err != nil {
				return err
			}
			if m.LeavingSession {
				return nil
			}
		default:
			return wavecasterr.New(wavecasterr.KindMalformedFrame, "Registry.ServeConnection",
				xerrors.Errorf("unexpected message type %T on established session", msg))
		}
	}
}
