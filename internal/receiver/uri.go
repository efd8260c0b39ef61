package receiver

import (
	"net"
	"net/url"
	"strings"

	"golang.org/x/xerrors"

	"github.com/daparker3/MulticastDownloader/internal/wavecasterr"
)

// defaultControlPort is used when a parsed URI omits an explicit port.
const defaultControlPort = "7942"

// Endpoint is a parsed fetch target: scheme selects TLS (mcs://) vs
// plaintext (mc://), per spec.md §6.
type Endpoint struct {
	Secure bool
	Addr   string // host:port, ready for control.Dial
	Path   string
}

// ParseURI parses mcs://host[:port]/path or mc://host[:port]/path.
func ParseURI(raw string) (Endpoint, error) {
	op := "receiver.ParseURI"
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, wavecasterr.New(wavecasterr.KindConfigInvalid, op, err)
	}

	var secure bool
	switch u.Scheme {
	case "mcs":
		secure = true
	case "mc":
		secure = false
	default:
		return Endpoint{}, wavecasterr.New(wavecasterr.KindConfigInvalid, op,
			xerrors.Errorf("unsupported scheme %q, expected mcs:// or mc://", u.Scheme))
	}

	if u.Host == "" {
		return Endpoint{}, wavecasterr.New(wavecasterr.KindConfigInvalid, op,
			xerrors.Errorf("uri %q has no host", raw))
	}

	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = defaultControlPort
	}

	path := strings.TrimPrefix(u.Path, "/")
	if path == "" {
		return Endpoint{}, wavecasterr.New(wavecasterr.KindConfigInvalid, op,
			xerrors.Errorf("uri %q names no payload path", raw))
	}

	return Endpoint{
		Secure: secure,
		Addr:   net.JoinHostPort(host, port),
		Path:   path,
	}, nil
}
