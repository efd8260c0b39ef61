package wire

import (
	"golang.org/x/xerrors"

	"github.com/daparker3/MulticastDownloader/internal/wavecasterr"
)

// EncodeDatagram serialises msg for the multicast data-plane: a 1-byte
// type tag followed by the canonical-CBOR payload, with no length prefix
// — UDP already delineates message boundaries, so the stream framing
// WriteFrame/ReadFrame use would only waste bytes per datagram.
func EncodeDatagram(msg interface{}) ([]byte, error) {
	typ, err := typeOf(msg)
	if err != nil {
		return nil, wavecasterr.New(wavecasterr.KindMalformedFrame, "wire.EncodeDatagram", err)
	}
	payload, err := encMode.Marshal(msg)
	if err != nil {
		return nil, wavecasterr.New(wavecasterr.KindMalformedFrame, "wire.EncodeDatagram", err)
	}
	out := make([]byte, 1+len(payload))
	out[0] = byte(typ)
	copy(out[1:], payload)
	return out, nil
}

// DecodeDatagram is EncodeDatagram's inverse.
func DecodeDatagram(raw []byte) (interface{}, error) {
	if len(raw) < 1 {
		return nil, wavecasterr.New(wavecasterr.KindMalformedFrame, "wire.DecodeDatagram",
			xerrors.Errorf("datagram too short"))
	}
	msg, err := newByType(Type(raw[0]))
	if err != nil {
		return nil, wavecasterr.New(wavecasterr.KindMalformedFrame, "wire.DecodeDatagram", err)
	}
	if err := decMode.Unmarshal(raw[1:], msg); err != nil {
		return nil, wavecasterr.New(wavecasterr.KindMalformedFrame, "wire.DecodeDatagram", err)
	}
	return msg, nil
}
