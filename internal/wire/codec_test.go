package wire_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daparker3/MulticastDownloader/internal/wire"
)

func TestRoundTrip(t *testing.T) {
	cases := []interface{}{
		&wire.Challenge{ChallengeKey: []byte("nonce")},
		&wire.ChallengeResponse{ChallengeKey: []byte("client-proof")},
		&wire.Response{Status: wire.StatusAuthFailed, ErrorMessage: "bad psk"},
		&wire.SessionJoinRequest{Path: "/movies", State: 0},
		&wire.SessionJoinResponse{
			Response: wire.Response{Status: wire.StatusOK},
			Files: []wire.FileHeader{
				{Name: "a.bin", Length: 1024, Ordinal: 0},
				{Name: "b.bin", Length: 2048, Ordinal: 1},
			},
			MulticastAddress: "239.1.2.3",
			MulticastPort:    9000,
			WaveNumber:       0,
		},
		&wire.FileSegment{SegmentID: 42, Data: bytes.Repeat([]byte{0xAB}, 16)},
		&wire.PacketStatusUpdate{BytesLeft: 100, LeavingSession: false},
		&wire.PacketStatusUpdateResponse{
			Response:      wire.Response{Status: wire.StatusOK},
			ReceptionRate: 0.75,
			ResponseType:  wire.UpdateResponseWaveComplete,
		},
		&wire.WaveStatusUpdate{BytesLeft: 0, LeavingSession: true, FileBitVector: []byte{0xff, 0x01}},
		&wire.WaveCompleteResponse{Response: wire.Response{Status: wire.StatusOK}, WaveNumber: 3},
	}

	for _, want := range cases {
		var buf bytes.Buffer
		require.NoError(t, wire.WriteFrame(&buf, want))

		got, err := wire.ReadFrame(&buf)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestReadFrameMalformedLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0xff})
	_, err := wire.ReadFrame(buf)
	require.Error(t, err)
}

func TestReadFrameUnknownType(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrame(&buf, &wire.Challenge{ChallengeKey: []byte("x")}))
	raw := buf.Bytes()
	raw[4] = 0xEE // corrupt the type tag
	_, err := wire.ReadFrame(bytes.NewReader(raw))
	require.Error(t, err)
}

func TestMultipleFramesOnStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, wire.WriteFrame(&buf, &wire.Challenge{ChallengeKey: []byte("n1")}))
	require.NoError(t, wire.WriteFrame(&buf, &wire.PacketStatusUpdate{BytesLeft: 5}))

	first, err := wire.ReadFrame(&buf)
	require.NoError(t, err)
	require.IsType(t, &wire.Challenge{}, first)

	second, err := wire.ReadFrame(&buf)
	require.NoError(t, err)
	require.IsType(t, &wire.PacketStatusUpdate{}, second)
}
