package server_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daparker3/MulticastDownloader/internal/server"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.RootFolder = "/tmp/payload"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadFields(t *testing.T) {
	base := server.DefaultConfig()
	base.RootFolder = "/tmp/payload"

	cases := []func(*server.Config){
		func(c *server.Config) { c.Mtu = 0 },
		func(c *server.Config) { c.MaxConnectionsPerSession = 0 },
		func(c *server.Config) { c.MaxSessions = 0 },
		func(c *server.Config) { c.MulticastAddress = "" },
		func(c *server.Config) { c.MulticastStartPort = 0 },
		func(c *server.Config) { c.MulticastBurstLength = 0 },
		func(c *server.Config) { c.RootFolder = "" },
		func(c *server.Config) { c.Ttl = 0 },
	}
	for _, mutate := range cases {
		cfg := base
		mutate(&cfg)
		require.Error(t, cfg.Validate())
	}
}

func TestWaveBoundaryTimeoutPicksLarger(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.ReadTimeout = time.Minute
	cfg.PacketUpdateInterval = time.Second
	require.Equal(t, time.Minute, cfg.WaveBoundaryTimeout())

	cfg.ReadTimeout = time.Second
	cfg.PacketUpdateInterval = 90 * time.Second
	require.Equal(t, 180*time.Second, cfg.WaveBoundaryTimeout())
}
