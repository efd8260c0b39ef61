package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daparker3/MulticastDownloader/internal/wire"
)

func TestDatagramRoundTrip(t *testing.T) {
	msg := &wire.FileSegment{SegmentID: 7, Data: []byte{1, 2, 3, 4}}
	raw, err := wire.EncodeDatagram(msg)
	require.NoError(t, err)

	got, err := wire.DecodeDatagram(raw)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestDecodeDatagramTooShort(t *testing.T) {
	_, err := wire.DecodeDatagram(nil)
	require.Error(t, err)
}
