package receiver_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daparker3/MulticastDownloader/internal/control"
	"github.com/daparker3/MulticastDownloader/internal/fileset"
	"github.com/daparker3/MulticastDownloader/internal/mcast"
	"github.com/daparker3/MulticastDownloader/internal/receiver"
	"github.com/daparker3/MulticastDownloader/internal/server"
)

// TestFetchCompletesAgainstRealServer drives the full protocol — control
// handshake, session join, multicast wave transfer, completion — between
// a real server.Registry and a real receiver.Session over loopback
// multicast and a loopback TCP control connection. Skips rather than
// fails when this sandbox has no usable multicast-capable loopback path.
func TestFetchCompletesAgainstRealServer(t *testing.T) {
	const group = "239.255.91.4"
	const port = 24891

	srcDir := t.TempDir()
	content := make([]byte, 0, 9000)
	for len(content) < 9000 {
		content = append(content, []byte("wavecast end-to-end fixture bytes; ")...)
	}
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "payload.bin"), content, 0o644))

	headers, err := fileset.DiscoverHeaders(srcDir)
	require.NoError(t, err)

	serverCfg := server.DefaultConfig()
	serverCfg.RootFolder = srcDir
	serverCfg.MulticastAddress = group
	serverCfg.MulticastBurstLength = 8
	serverCfg.PacketUpdateInterval = 50 * time.Millisecond
	serverCfg.ReadTimeout = 2 * time.Second
	serverCfg.IdleGrace = 5 * time.Second

	// Both ends must derive the identical block size from the same Mtu
	// (no wire field carries it — see DESIGN.md's Open Question decision),
	// so the server builds its chunk sequence the same way
	// cmd/wavecast-server does instead of a hand-picked constant.
	blockSize, err := fileset.DeriveBlockSize(serverCfg.Mtu, serverCfg.Ipv6, nil)
	require.NoError(t, err)
	chunks, err := fileset.BuildChunks(headers, blockSize)
	require.NoError(t, err)

	dirSet, err := fileset.NewDirFileSet(srcDir, headers, blockSize)
	require.NoError(t, err)

	senderGroup, err := mcast.Join(group, port, "", 1)
	if err != nil {
		t.Skipf("multicast join unavailable in this sandbox: %v", err)
	}
	defer senderGroup.Leave()

	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

	registry := server.NewRegistry(&serverCfg, nil, control.PlainChannel{}, func(id int, path string) (*server.Session, error) {
		sess := server.NewSession(id, path, &serverCfg, senderGroup, dirSet, nil, headers, chunks, port)
		go sess.RunWaveLoop(serverCtx)
		return sess, nil
	})

	listener, err := control.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go func() {
				sess, rec, err := registry.HandleConnection(conn)
				if err != nil {
					conn.Close()
					return
				}
				registry.ServeConnection(sess, rec)
			}()
		}
	}()

	dstDir := t.TempDir()
	clientCfg := receiver.DefaultConfig()
	clientCfg.RootFolder = dstDir
	clientCfg.Mtu = serverCfg.Mtu
	clientCfg.MulticastBufferSize = 2048
	clientCfg.PacketUpdateInterval = 50 * time.Millisecond
	clientCfg.ReconnectDelay = time.Second
	clientCfg.Ttl = 1

	endpoint := receiver.Endpoint{Secure: false, Addr: listener.Addr().String(), Path: "payload.bin"}
	sess, err := receiver.New(clientCfg, endpoint)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	require.NoError(t, sess.Run(ctx))

	got, err := os.ReadFile(filepath.Join(dstDir, "payload.bin"))
	require.NoError(t, err)
	require.Equal(t, content, got)
}
