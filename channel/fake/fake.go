// Package fake provides a net.Pipe-backed channel.Channel test double, so
// engine tests can inject EPSEM responses without a real meter on the wire.
package fake

import (
	"net"
	"sync"
	"time"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/cerrors"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/monitor"
)

// Channel wraps one end of a net.Pipe; the caller keeps the other end (a
// plain net.Conn) to drive a scripted meter.
type Channel struct {
	mu        sync.Mutex
	conn      net.Conn
	connected bool
	mon       monitor.Monitor
}

// NewPair returns a Channel and the peer net.Conn a test can use to read
// outgoing APDUs and write scripted responses.
func NewPair(mon monitor.Monitor) (*Channel, net.Conn) {
	client, peer := net.Pipe()
	return &Channel{conn: client, mon: mon}, peer
}

func (c *Channel) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return nil
}

func (c *Channel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	return c.conn.Close()
}

func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Channel) ReadBuffer(out []byte, timeoutMs uint32) (int, error) {
	if timeoutMs > 0 {
		c.conn.SetReadDeadline(time.Now().Add(time.Duration(timeoutMs) * time.Millisecond))
	}
	n, err := c.conn.Read(out)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, cerrors.New(cerrors.Communication, "ChannelReadTimeout", "read timed out after %d bytes", n).WithBytesRead(n)
		}
		return n, cerrors.New(cerrors.Communication, "ChannelDisconnectedUnexpectedly", "read: %v", err)
	}
	return n, nil
}

func (c *Channel) WriteBuffer(data []byte) error {
	n, err := c.conn.Write(data)
	if err != nil {
		return cerrors.New(cerrors.Communication, "ChannelDisconnectedUnexpectedly", "write after %d bytes: %v", n, err)
	}
	return nil
}

func (c *Channel) SetReadTimeout(ms uint32)           {}
func (c *Channel) SetWriteTimeout(ms uint32)          {}
func (c *Channel) SetIntercharacterTimeout(ms uint32) {}

func (c *Channel) CheckCancelled() error { return nil }

func (c *Channel) Monitor() monitor.Monitor { return c.mon }
