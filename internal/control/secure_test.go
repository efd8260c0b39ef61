package control_test

import (
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daparker3/MulticastDownloader/internal/control"
)

func TestTLSChannelMatchingNonceSucceeds(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	nonce := []byte("shared-nonce-value")

	type result struct {
		conn net.Conn
		err  error
	}
	serverCh := make(chan result, 1)
	go func() {
		c, err := (control.TLSChannel{IsServer: true}).Wrap(serverConn, nonce)
		serverCh <- result{c, err}
	}()

	clientTLS, err := (control.TLSChannel{IsServer: false}).Wrap(clientConn, nonce)
	require.NoError(t, err)
	srvRes := <-serverCh
	require.NoError(t, srvRes.err)

	go func() { io.WriteString(clientTLS, "ping") }()
	buf := make([]byte, 4)
	_, err = io.ReadFull(srvRes.conn, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}

func TestTLSChannelMismatchedNonceFails(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverErrCh := make(chan error, 1)
	go func() {
		_, err := (control.TLSChannel{IsServer: true}).Wrap(serverConn, []byte("server-nonce"))
		serverErrCh <- err
	}()

	_, clientErr := (control.TLSChannel{IsServer: false}).Wrap(clientConn, []byte("client-nonce"))
	require.Error(t, clientErr)
	require.Error(t, <-serverErrCh)
}

func TestPlainChannelIsNoOp(t *testing.T) {
	a, _ := net.Pipe()
	defer a.Close()
	wrapped, err := control.PlainChannel{}.Wrap(a, nil)
	require.NoError(t, err)
	require.Equal(t, a, wrapped)
}
