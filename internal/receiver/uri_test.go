package receiver_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daparker3/MulticastDownloader/internal/receiver"
)

func TestParseURISecure(t *testing.T) {
	ep, err := receiver.ParseURI("mcs://files.example.com:9443/archives/backup.tar")
	require.NoError(t, err)
	require.True(t, ep.Secure)
	require.Equal(t, "files.example.com:9443", ep.Addr)
	require.Equal(t, "archives/backup.tar", ep.Path)
}

func TestParseURIPlaintextDefaultPort(t *testing.T) {
	ep, err := receiver.ParseURI("mc://fileserver/payload.bin")
	require.NoError(t, err)
	require.False(t, ep.Secure)
	require.Equal(t, "fileserver:7942", ep.Addr)
	require.Equal(t, "payload.bin", ep.Path)
}

func TestParseURIRejectsUnknownScheme(t *testing.T) {
	_, err := receiver.ParseURI("https://fileserver/payload.bin")
	require.Error(t, err)
}

func TestParseURIRejectsMissingPath(t *testing.T) {
	_, err := receiver.ParseURI("mc://fileserver")
	require.Error(t, err)
}
