// Package channel defines the byte-transport contract the engine consumes
// (spec.md §6), with concrete implementations in channel/tcp (a real
// net.Conn) and channel/fake (a net.Pipe test double).
package channel

import "github.com/ElsterSolutionsOpensource/C12Adapter-sub004/monitor"

// Channel is the transport abstraction the protocol engine drives. Reads may
// return fewer bytes than requested on timeout; callers treat that as a
// ChannelReadTimeout carrying the partial count, not a panic.
type Channel interface {
	Connect() error
	Disconnect() error
	IsConnected() bool

	// ReadBuffer reads up to len(out) bytes, returning how many arrived
	// before timeoutMs elapsed.
	ReadBuffer(out []byte, timeoutMs uint32) (int, error)
	// WriteBuffer writes all of data or returns an error.
	WriteBuffer(data []byte) error

	SetReadTimeout(ms uint32)
	SetWriteTimeout(ms uint32)
	SetIntercharacterTimeout(ms uint32)

	CheckCancelled() error

	// Monitor returns the channel's associated Monitor, or nil.
	Monitor() monitor.Monitor
}
