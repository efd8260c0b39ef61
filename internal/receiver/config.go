package receiver

import (
	"time"

	"golang.org/x/xerrors"

	"github.com/daparker3/MulticastDownloader/internal/psk"
	"github.com/daparker3/MulticastDownloader/internal/wavecasterr"
)

// Config is the client configuration external interface spec.md §6
// names: {Encoder? (pass-phrase + charset), MulticastBufferSize,
// ReadTimeout, Ttl, RootFolder}. Mtu/Ipv6 are carried too: spec.md §4.5's
// block-size derivation has no wire field to communicate it, so both
// sides must derive the identical value from the same MTU assumption
// (see DESIGN.md's Open Question decision).
type Config struct {
	RootFolder    string
	InterfaceName string
	Ttl           int
	Mtu           int
	Ipv6          bool

	PassPhrase        string
	PassPhraseSet     bool
	PassphraseEncoder psk.Encoding

	MulticastBufferSize  int
	ReadTimeout          time.Duration
	PacketUpdateInterval time.Duration
	ReconnectDelay       time.Duration
	QueueDepth           int
}

// DefaultConfig returns a Config with spec.md §5's nominal defaults.
func DefaultConfig() Config {
	return Config{
		Ttl:                  1,
		Mtu:                  1500,
		MulticastBufferSize:  2048,
		ReadTimeout:          10 * time.Minute,
		PacketUpdateInterval: time.Second,
		ReconnectDelay:       30 * time.Second,
		QueueDepth:           64,
	}
}

// Validate rejects a Config that cannot drive a working session.
func (c Config) Validate() error {
	op := "receiver.Config.Validate"
	switch {
	case c.RootFolder == "":
		return wavecasterr.New(wavecasterr.KindConfigInvalid, op, xerrors.Errorf("root folder is required"))
	case c.Ttl <= 0:
		return wavecasterr.New(wavecasterr.KindConfigInvalid, op, xerrors.Errorf("ttl must be positive"))
	case c.Mtu <= 0:
		return wavecasterr.New(wavecasterr.KindConfigInvalid, op, xerrors.Errorf("mtu must be positive"))
	case c.MulticastBufferSize <= 0:
		return wavecasterr.New(wavecasterr.KindConfigInvalid, op, xerrors.Errorf("multicast buffer size must be positive"))
	case c.QueueDepth <= 0:
		return wavecasterr.New(wavecasterr.KindConfigInvalid, op, xerrors.Errorf("queue depth must be positive"))
	}
	return nil
}

// Cipher builds the PSK cipher from the configured pass-phrase, or nil
// when none is set.
func (c Config) Cipher() (*psk.Cipher, error) {
	if !c.PassPhraseSet {
		return nil, nil
	}
	return psk.New(c.PassPhrase, c.PassphraseEncoder)
}
