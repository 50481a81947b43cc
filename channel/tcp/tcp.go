// Package tcp is a channel.Channel backed by a real net.Conn, grounded
// directly on sol.Session's conn net.Conn + sendRecv (SetDeadline, Write,
// Read) pattern.
package tcp

import (
	"net"
	"sync"
	"time"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/cerrors"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/monitor"
)

// Channel dials addr on Connect and implements channel.Channel over the
// resulting net.Conn.
type Channel struct {
	addr string
	mon  monitor.Monitor

	mu           sync.Mutex
	conn         net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration

	cancelled bool
}

// New returns a Channel that will dial addr (host:port) on Connect.
func New(addr string, mon monitor.Monitor) *Channel {
	return &Channel{addr: addr, mon: mon}
}

func (c *Channel) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	conn, err := net.DialTimeout("tcp", c.addr, 10*time.Second)
	if err != nil {
		return cerrors.New(cerrors.Communication, "ChannelConnectTimeout", "connecting to %s: %v", c.addr, err)
	}
	c.conn = conn
	return nil
}

func (c *Channel) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Channel) ReadBuffer(out []byte, timeoutMs uint32) (int, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, cerrors.New(cerrors.Communication, "ChannelDisconnectedUnexpectedly", "read on disconnected channel")
	}
	if timeoutMs > 0 {
		conn.SetReadDeadline(time.Now().Add(time.Duration(timeoutMs) * time.Millisecond))
	}
	n, err := conn.Read(out)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return n, cerrors.New(cerrors.Communication, "ChannelReadTimeout", "read timed out after %d bytes", n).WithBytesRead(n)
		}
		return n, cerrors.New(cerrors.Communication, "ChannelDisconnectedUnexpectedly", "read: %v", err)
	}
	return n, nil
}

func (c *Channel) WriteBuffer(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	w := c.writeTimeout
	c.mu.Unlock()
	if conn == nil {
		return cerrors.New(cerrors.Communication, "ChannelDisconnectedUnexpectedly", "write on disconnected channel")
	}
	if w > 0 {
		conn.SetWriteDeadline(time.Now().Add(w))
	}
	n, err := conn.Write(data)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return cerrors.New(cerrors.Communication, "ChannelWriteTimeout", "write timed out after %d bytes", n)
		}
		return cerrors.New(cerrors.Communication, "ChannelDisconnectedUnexpectedly", "write: %v", err)
	}
	return nil
}

func (c *Channel) SetReadTimeout(ms uint32) {
	c.mu.Lock()
	c.readTimeout = time.Duration(ms) * time.Millisecond
	c.mu.Unlock()
}

func (c *Channel) SetWriteTimeout(ms uint32) {
	c.mu.Lock()
	c.writeTimeout = time.Duration(ms) * time.Millisecond
	c.mu.Unlock()
}

// SetIntercharacterTimeout is accepted for interface compliance; net.Conn
// offers no inter-character timeout primitive, so this channel ignores the
// value; reads are bounded by the read timeout alone.
func (c *Channel) SetIntercharacterTimeout(ms uint32) {}

func (c *Channel) CheckCancelled() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return cerrors.New(cerrors.Communication, "OperationCancelled", "operation cancelled")
	}
	return nil
}

// Cancel marks the channel cancelled; the next CheckCancelled call reports
// it.
func (c *Channel) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	c.mu.Unlock()
}

func (c *Channel) Monitor() monitor.Monitor { return c.mon }
