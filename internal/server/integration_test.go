package server_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daparker3/MulticastDownloader/internal/bitset"
	"github.com/daparker3/MulticastDownloader/internal/fileset"
	"github.com/daparker3/MulticastDownloader/internal/mcast"
	"github.com/daparker3/MulticastDownloader/internal/server"
	"github.com/daparker3/MulticastDownloader/internal/wire"
)

// TestSingleReceiverSingleWaveCompletes drives Session/scheduler/Sender
// end to end over real loopback multicast: one simulated receiver reads
// every FileSegment the scheduler emits, reports a full bit-vector, and
// the session's completion condition (spec.md §4.3 termination (a)) must
// fire. Skips rather than fails when this sandbox has no usable
// multicast-capable loopback path.
func TestSingleReceiverSingleWaveCompletes(t *testing.T) {
	const group = "239.255.77.12"
	const port = 23477

	src := t.TempDir()
	content := []byte("the quick brown fox jumps over the lazy dog, repeated for bulk ")
	for len(content) < 5000 {
		content = append(content, content...)
	}
	require.NoError(t, os.WriteFile(filepath.Join(src, "payload.bin"), content, 0o644))

	headers, err := fileset.DiscoverHeaders(src)
	require.NoError(t, err)

	const blockSize = 512
	chunks, err := fileset.BuildChunks(headers, blockSize)
	require.NoError(t, err)

	dirSet, err := fileset.NewDirFileSet(src, headers, blockSize)
	require.NoError(t, err)

	senderGroup, err := mcast.Join(group, port, "", 1)
	if err != nil {
		t.Skipf("multicast join unavailable in this sandbox: %v", err)
	}
	defer senderGroup.Leave()

	receiverGroup, err := mcast.Join(group, port, "", 1)
	if err != nil {
		t.Skipf("multicast join unavailable in this sandbox: %v", err)
	}
	defer receiverGroup.Leave()

	cfg := server.DefaultConfig()
	cfg.RootFolder = src
	cfg.MulticastBurstLength = 8
	cfg.PacketUpdateInterval = 50 * time.Millisecond
	cfg.ReadTimeout = 2 * time.Second
	cfg.IdleGrace = time.Second

	sess := server.NewSession(1, "payload.bin", &cfg, senderGroup, dirSet, nil, headers, chunks, port)

	rec := server.NewReceiverRecord("receiver-1", nil, len(chunks))
	require.NoError(t, sess.AdmitRecord(rec))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	loopErr := make(chan error, 1)
	go func() { loopErr <- sess.RunWaveLoop(ctx) }()

	got := bitset.New(len(chunks))
	buf := make([]byte, 2048)
	for !allReceived(got) {
		require.NoError(t, receiverGroup.SetReadDeadline(time.Now().Add(3*time.Second)))
		raw, err := receiverGroup.Receive(buf)
		require.NoError(t, err)
		msg, err := wire.DecodeDatagram(raw)
		require.NoError(t, err)
		seg, ok := msg.(*wire.FileSegment)
		require.True(t, ok, "expected *wire.FileSegment, got %T", msg)
		got.Set(int(seg.SegmentID))
	}

	resp, err := sess.HandleWaveStatusUpdate(rec, &wire.WaveStatusUpdate{
		BytesLeft:      0,
		LeavingSession: false,
		FileBitVector:  got.RawBytes(),
	})
	require.NoError(t, err)
	require.Equal(t, wire.StatusOK, resp.Status)

	select {
	case err := <-loopErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("RunWaveLoop did not terminate after the wave completed")
	}

	require.True(t, sess.Complete())
}

func allReceived(bv *bitset.BitVector) bool {
	return !bv.AnyUnset()
}
