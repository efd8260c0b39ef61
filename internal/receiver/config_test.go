package receiver_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daparker3/MulticastDownloader/internal/receiver"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := receiver.DefaultConfig()
	cfg.RootFolder = "/tmp/downloads"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadFields(t *testing.T) {
	base := receiver.DefaultConfig()
	base.RootFolder = "/tmp/downloads"

	cases := []func(*receiver.Config){
		func(c *receiver.Config) { c.RootFolder = "" },
		func(c *receiver.Config) { c.Ttl = 0 },
		func(c *receiver.Config) { c.Mtu = 0 },
		func(c *receiver.Config) { c.MulticastBufferSize = 0 },
		func(c *receiver.Config) { c.QueueDepth = 0 },
	}
	for _, mutate := range cases {
		cfg := base
		mutate(&cfg)
		require.Error(t, cfg.Validate())
	}
}

func TestCipherNilWithoutPassPhrase(t *testing.T) {
	cfg := receiver.DefaultConfig()
	c, err := cfg.Cipher()
	require.NoError(t, err)
	require.Nil(t, c)
}

func TestCipherBuiltWithPassPhrase(t *testing.T) {
	cfg := receiver.DefaultConfig()
	cfg.PassPhraseSet = true
	cfg.PassPhrase = "correct-horse-battery-staple"
	c, err := cfg.Cipher()
	require.NoError(t, err)
	require.NotNil(t, c)
}
