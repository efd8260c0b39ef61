// Package control implements the ControlChannel external collaborator
// (spec.md §4.2, component C3): an ordered, framed, optionally
// TLS-wrapped point-to-point message stream carrying the wire.Type
// messages. The framing itself is internal/wire's WriteFrame/ReadFrame
// pair, generalized here from the teacher's raw net.Conn usage to an
// io.ReadWriteCloser so a SecureChannel can be layered underneath
// without the caller knowing the difference.
package control

import (
	"bufio"
	"io"
	"sync"

	"github.com/daparker3/MulticastDownloader/internal/wavecasterr"
	"github.com/daparker3/MulticastDownloader/internal/wire"
)

// Channel is an ordered, framed message stream over an established byte
// stream. Sends are internally serialised and may be called from
// multiple goroutines safely; receives take no lock, so they must come
// from a single goroutine to keep the spec's "message ordering is
// strictly FIFO in both directions".
type Channel struct {
	rwc io.ReadWriteCloser
	bw  *bufio.Writer
	br  *bufio.Reader

	writeMu sync.Mutex
}

// New wraps an established stream (plain or already TLS-wrapped) as a
// Channel.
func New(rwc io.ReadWriteCloser) *Channel {
	return &Channel{
		rwc: rwc,
		bw:  bufio.NewWriter(rwc),
		br:  bufio.NewReader(rwc),
	}
}

// Send writes one message, flushing immediately so readers on the far
// end observe it promptly.
func (c *Channel) Send(msg interface{}) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := wire.WriteFrame(c.bw, msg); err != nil {
		return err
	}
	if err := c.bw.Flush(); err != nil {
		return wavecasterr.New(wavecasterr.KindTransportLost, "Channel.Send", err)
	}
	return nil
}

// Receive blocks for the next frame and decodes it into its concrete
// wire.Type struct.
func (c *Channel) Receive() (interface{}, error) {
	return wire.ReadFrame(c.br)
}

// Close closes the underlying stream.
func (c *Channel) Close() error {
	return c.rwc.Close()
}
