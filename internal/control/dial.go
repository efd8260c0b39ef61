package control

import (
	"net"
	"time"

	"github.com/daparker3/MulticastDownloader/internal/wavecasterr"
)

// Dial opens a TCP connection to addr and returns it unwrapped; the
// caller performs the challenge exchange first and only then calls
// Secure.Wrap with the recovered nonce, per spec.md §4.2 step 3.
func Dial(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, wavecasterr.New(wavecasterr.KindTransportLost, "control.Dial", err)
	}
	return conn, nil
}

// Listener accepts plain TCP connections; TLS wrapping, like dialing,
// happens after the challenge exchange on each accepted connection.
type Listener struct {
	ln net.Listener
}

// Listen binds addr for incoming control connections.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, wavecasterr.New(wavecasterr.KindTransportLost, "control.Listen", err)
	}
	return &Listener{ln: ln}, nil
}

// Accept blocks for the next incoming connection.
func (l *Listener) Accept() (net.Conn, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, wavecasterr.New(wavecasterr.KindTransportLost, "Listener.Accept", err)
	}
	return conn, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }
