package control_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daparker3/MulticastDownloader/internal/control"
	"github.com/daparker3/MulticastDownloader/internal/wire"
)

func TestChannelSendReceiveRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ca := control.New(a)
	cb := control.New(b)

	msg := &wire.Challenge{ChallengeKey: []byte("nonce-bytes")}
	done := make(chan error, 1)
	go func() { done <- ca.Send(msg) }()

	got, err := cb.Receive()
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, msg, got)
}

func TestChannelPreservesOrdering(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ca := control.New(a)
	cb := control.New(b)

	go func() {
		ca.Send(&wire.Response{Status: wire.StatusOK})
		ca.Send(&wire.Response{Status: wire.StatusRefused})
	}()

	first, err := cb.Receive()
	require.NoError(t, err)
	second, err := cb.Receive()
	require.NoError(t, err)

	require.Equal(t, wire.StatusOK, first.(*wire.Response).Status)
	require.Equal(t, wire.StatusRefused, second.(*wire.Response).Status)
}
