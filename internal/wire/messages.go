// Package wire implements the control-channel message set and its binary
// framing (spec.md §4.1, component C1).
//
// Every message is a Go struct tagged with a stable per-field integer tag
// (`cbor:"N,keyasint"`), the same field-tagged style
// other_examples/chazu-maggie's dist package uses for its own
// content-addressed wire types. Tag numbers are fixed once assigned; see
// the Type constants below for the assignment.
package wire

// Type discriminates the wire-framed message variants. Numbering is dense
// starting at 1, assigned in the order spec.md §4.1 introduces them; no
// interop requirement with any prior implementation was given, so this
// assignment is this module's own stable contract.
type Type byte

const (
	TypeChallenge Type = iota + 1
	TypeChallengeResponse
	TypeResponse
	TypeSessionJoinRequest
	TypeSessionJoinResponse
	TypeFileSegment
	TypePacketStatusUpdate
	TypePacketStatusUpdateResponse
	TypeWaveStatusUpdate
	TypeWaveCompleteResponse
)

func (t Type) String() string {
	switch t {
	case TypeChallenge:
		return "Challenge"
	case TypeChallengeResponse:
		return "ChallengeResponse"
	case TypeResponse:
		return "Response"
	case TypeSessionJoinRequest:
		return "SessionJoinRequest"
	case TypeSessionJoinResponse:
		return "SessionJoinResponse"
	case TypeFileSegment:
		return "FileSegment"
	case TypePacketStatusUpdate:
		return "PacketStatusUpdate"
	case TypePacketStatusUpdateResponse:
		return "PacketStatusUpdateResponse"
	case TypeWaveStatusUpdate:
		return "WaveStatusUpdate"
	case TypeWaveCompleteResponse:
		return "WaveCompleteResponse"
	default:
		return "Unknown"
	}
}

// Status is the generic outcome carried by Response and its embedders.
type Status byte

const (
	StatusOK Status = iota
	StatusAuthFailed
	StatusRefused
)

// Challenge is sent server→receiver as the first frame after transport
// establishment.
type Challenge struct {
	ChallengeKey []byte `cbor:"1,keyasint"`
}

// ChallengeResponse proves possession of the PSK.
type ChallengeResponse struct {
	ChallengeKey []byte `cbor:"1,keyasint"`
}

// Response is the generic server→receiver ack carrying failure detail.
type Response struct {
	Status       Status `cbor:"1,keyasint"`
	ErrorMessage string `cbor:"2,keyasint,omitempty"`
}

// FileHeader describes one file in the payload's ordered sequence.
type FileHeader struct {
	Name    string `cbor:"1,keyasint"`
	Length  uint64 `cbor:"2,keyasint"`
	Ordinal uint32 `cbor:"3,keyasint"`
}

// SessionJoinRequest is the receiver's request to join a payload's session.
type SessionJoinRequest struct {
	Path  string `cbor:"1,keyasint"`
	State int64  `cbor:"2,keyasint"`
}

// SessionJoinResponse admits (or refuses) the receiver into a session.
type SessionJoinResponse struct {
	Response
	Files            []FileHeader `cbor:"10,keyasint"`
	MulticastAddress string       `cbor:"11,keyasint"`
	MulticastPort    uint16       `cbor:"12,keyasint"`
	WaveNumber       uint64       `cbor:"13,keyasint"`
}

// FileSegment is the multicast-only data-plane message carrying one block.
type FileSegment struct {
	SegmentID uint64 `cbor:"1,keyasint"`
	Data      []byte `cbor:"2,keyasint"`
}

// PacketStatusUpdate is the receiver's periodic progress report.
type PacketStatusUpdate struct {
	BytesLeft      uint64 `cbor:"1,keyasint"`
	LeavingSession bool   `cbor:"2,keyasint"`
}

// UpdateResponseType distinguishes a plain ack from a wave-complete
// solicitation.
type UpdateResponseType byte

const (
	UpdateResponseOK UpdateResponseType = iota
	UpdateResponseWaveComplete
)

// PacketStatusUpdateResponse acks a PacketStatusUpdate.
type PacketStatusUpdateResponse struct {
	Response
	ReceptionRate float64            `cbor:"10,keyasint"`
	ResponseType  UpdateResponseType `cbor:"11,keyasint"`
}

// WaveStatusUpdate is sent at a wave boundary and carries the receiver's
// full bit-vector.
type WaveStatusUpdate struct {
	BytesLeft      uint64 `cbor:"1,keyasint"`
	LeavingSession bool   `cbor:"2,keyasint"`
	FileBitVector  []byte `cbor:"3,keyasint"`
}

// WaveCompleteResponse acknowledges a WaveStatusUpdate once every admitted
// receiver has reported for the wave.
type WaveCompleteResponse struct {
	Response
	WaveNumber uint64 `cbor:"10,keyasint"`
}
