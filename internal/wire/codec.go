package wire

import (
	"encoding/binary"
	"io"

	"golang.org/x/xerrors"

	"github.com/fxamacker/cbor/v2"

	"github.com/daparker3/MulticastDownloader/internal/wavecasterr"
)

// maxFrameLen bounds a single frame's payload, guarding against a
// corrupted or hostile length prefix driving an unbounded allocation.
const maxFrameLen = 32 * 1024 * 1024

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
}

// WriteFrame encodes msg as a length-prefixed frame: a 4-byte big-endian
// length, a 1-byte type tag, then the canonical-CBOR payload. This is the
// teacher's own sendFrame envelope (magic + type + length prefix),
// generalized from a fixed-header marker to a discriminated message set.
func WriteFrame(w io.Writer, msg interface{}) error {
	typ, err := typeOf(msg)
	if err != nil {
		return wavecasterr.New(wavecasterr.KindMalformedFrame, "wire.WriteFrame", err)
	}

	payload, err := encMode.Marshal(msg)
	if err != nil {
		return wavecasterr.New(wavecasterr.KindMalformedFrame, "wire.WriteFrame", err)
	}

	frame := make([]byte, 4+1+len(payload))
	binary.BigEndian.PutUint32(frame[0:4], uint32(1+len(payload)))
	frame[4] = byte(typ)
	copy(frame[5:], payload)

	if _, err := w.Write(frame); err != nil {
		return wavecasterr.New(wavecasterr.KindTransportLost, "wire.WriteFrame", err)
	}
	return nil
}

// ReadFrame reads one frame and decodes it into the concrete message type
// the tag byte names, returning it as an interface{}.
func ReadFrame(r io.Reader) (interface{}, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, wavecasterr.New(wavecasterr.KindTransportLost, "wire.ReadFrame", err)
	}

	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen == 0 || frameLen > maxFrameLen {
		return nil, wavecasterr.New(wavecasterr.KindMalformedFrame, "wire.ReadFrame",
			xerrors.Errorf("frame length %d out of bounds", frameLen))
	}

	body := make([]byte, frameLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, wavecasterr.New(wavecasterr.KindMalformedFrame, "wire.ReadFrame",
				xerrors.Errorf("frame length %d overruns the stream: %w", frameLen, err))
		}
		return nil, wavecasterr.New(wavecasterr.KindTransportLost, "wire.ReadFrame", err)
	}

	typ := Type(body[0])
	payload := body[1:]

	msg, err := newByType(typ)
	if err != nil {
		return nil, wavecasterr.New(wavecasterr.KindMalformedFrame, "wire.ReadFrame", err)
	}

	if err := decMode.Unmarshal(payload, msg); err != nil {
		return nil, wavecasterr.New(wavecasterr.KindMalformedFrame, "wire.ReadFrame", err)
	}
	return msg, nil
}

func typeOf(msg interface{}) (Type, error) {
	switch msg.(type) {
	case *Challenge:
		return TypeChallenge, nil
	case *ChallengeResponse:
		return TypeChallengeResponse, nil
	case *Response:
		return TypeResponse, nil
	case *SessionJoinRequest:
		return TypeSessionJoinRequest, nil
	case *SessionJoinResponse:
		return TypeSessionJoinResponse, nil
	case *FileSegment:
		return TypeFileSegment, nil
	case *PacketStatusUpdate:
		return TypePacketStatusUpdate, nil
	case *PacketStatusUpdateResponse:
		return TypePacketStatusUpdateResponse, nil
	case *WaveStatusUpdate:
		return TypeWaveStatusUpdate, nil
	case *WaveCompleteResponse:
		return TypeWaveCompleteResponse, nil
	default:
		return 0, xerrors.Errorf("wire: unregistered message type %T", msg)
	}
}

func newByType(t Type) (interface{}, error) {
	switch t {
	case TypeChallenge:
		return &Challenge{}, nil
	case TypeChallengeResponse:
		return &ChallengeResponse{}, nil
	case TypeResponse:
		return &Response{}, nil
	case TypeSessionJoinRequest:
		return &SessionJoinRequest{}, nil
	case TypeSessionJoinResponse:
		return &SessionJoinResponse{}, nil
	case TypeFileSegment:
		return &FileSegment{}, nil
	case TypePacketStatusUpdate:
		return &PacketStatusUpdate{}, nil
	case TypePacketStatusUpdateResponse:
		return &PacketStatusUpdateResponse{}, nil
	case TypeWaveStatusUpdate:
		return &WaveStatusUpdate{}, nil
	case TypeWaveCompleteResponse:
		return &WaveCompleteResponse{}, nil
	default:
		return nil, xerrors.Errorf("wire: unknown frame type tag %d", t)
	}
}
