package server

import (
	"time"

	"golang.org/x/xerrors"

	"github.com/daparker3/MulticastDownloader/internal/psk"
	"github.com/daparker3/MulticastDownloader/internal/wavecasterr"
)

// Config is the server configuration external interface spec.md §6 names:
// {Mtu, Ipv6, MaxConnectionsPerSession, MaxSessions, MulticastAddress,
// MulticastStartPort, MulticastBurstLength, RootFolder, InterfaceName?}.
type Config struct {
	ListenAddr string

	Mtu                      int
	Ipv6                     bool
	MaxConnectionsPerSession int
	MaxSessions              int
	MulticastAddress         string
	MulticastStartPort       int
	MulticastBurstLength     int
	RootFolder               string
	InterfaceName            string
	Ttl                      int

	PassPhrase        string
	PassPhraseSet     bool
	PassphraseEncoder psk.Encoding

	ReadTimeout          time.Duration
	PacketUpdateInterval time.Duration
	IdleGrace            time.Duration
}

// DefaultConfig returns a Config with spec.md §5/§9's nominal defaults.
func DefaultConfig() Config {
	return Config{
		Mtu:                      1500,
		MaxConnectionsPerSession: 32,
		MaxSessions:              8,
		MulticastAddress:         "239.0.0.1",
		MulticastStartPort:       9000,
		MulticastBurstLength:     64,
		Ttl:                      1,
		ReadTimeout:              10 * time.Minute,
		PacketUpdateInterval:     time.Second,
		IdleGrace:                2 * time.Minute,
	}
}

// WaveBoundaryTimeout is max(ReadTimeout, 2*PacketUpdateInterval) per
// spec.md §5.
func (c Config) WaveBoundaryTimeout() time.Duration {
	d := 2 * c.PacketUpdateInterval
	if c.ReadTimeout > d {
		return c.ReadTimeout
	}
	return d
}

// Validate rejects a Config that cannot produce a working session:
// fatal at startup, per spec.md §7 ConfigInvalid.
func (c Config) Validate() error {
	op := "server.Config.Validate"
	switch {
	case c.Mtu <= 0:
		return wavecasterr.New(wavecasterr.KindConfigInvalid, op, xerrors.Errorf("mtu must be positive"))
	case c.MaxConnectionsPerSession <= 0:
		return wavecasterr.New(wavecasterr.KindConfigInvalid, op, xerrors.Errorf("max connections per session must be positive"))
	case c.MaxSessions <= 0:
		return wavecasterr.New(wavecasterr.KindConfigInvalid, op, xerrors.Errorf("max sessions must be positive"))
	case c.MulticastAddress == "":
		return wavecasterr.New(wavecasterr.KindConfigInvalid, op, xerrors.Errorf("multicast address is required"))
	case c.MulticastStartPort <= 0 || c.MulticastStartPort > 65535:
		return wavecasterr.New(wavecasterr.KindConfigInvalid, op, xerrors.Errorf("multicast start port out of range"))
	case c.MulticastBurstLength <= 0:
		return wavecasterr.New(wavecasterr.KindConfigInvalid, op, xerrors.Errorf("multicast burst length must be positive"))
	case c.RootFolder == "":
		return wavecasterr.New(wavecasterr.KindConfigInvalid, op, xerrors.Errorf("root folder is required"))
	case c.Ttl <= 0:
		return wavecasterr.New(wavecasterr.KindConfigInvalid, op, xerrors.Errorf("ttl must be positive"))
	}
	return nil
}
