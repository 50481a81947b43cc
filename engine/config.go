package engine

import (
	"time"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/acse"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/partial"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/retry"
)

// ResponsePolicy mirrors spec.md §4.F's always_read_function_response knob.
type ResponsePolicy int

const (
	ResponseAlways ResponsePolicy = iota
	ResponseWhenPresent
	ResponseWhenDesired
)

// Config is everything a caller supplies to build an Engine, generalizing
// the teacher's per-server YAML block (address, credentials, retry knobs) to
// the C12.22 session/security parameters of spec.md §3.
type Config struct {
	ApplicationContext string
	CalledAPTitle       string
	CallingAPTitle      string

	Sessionless                 bool
	SecurityMode                acse.SecurityMode
	IssueSecurityOnStartSession bool

	UserID             uint16
	User               string
	SessionIdleTimeout time.Duration

	KeepSessionAlive          bool
	UseReadInKeepSessionAlive bool
	OnePerApdu                bool

	AlwaysReadFunctionResponse ResponsePolicy

	// MeterLittleEndian mirrors meter_is_little_endian: the byte order
	// ExecuteFunction writes a procedure number in on ST7.
	MeterLittleEndian bool

	RetryPolicy      retry.Policy
	ReceiveTimeoutMs uint32
	WriteTimeoutMs   uint32

	// PasswordList and SecurityKeyList are tried in order on first use, per
	// spec.md §4.F's fallback rule; a successful index is cached for the
	// remainder of the session.
	PasswordList    []string
	SecurityKeyList [][]byte

	// Progress receives byte-level progress reports from the partial
	// splitter (spec.md §4.J); may be nil.
	Progress partial.Progress
}

// DefaultConfig mirrors original_source/.../ProtocolC12.h's compiled-in
// session defaults.
func DefaultConfig() Config {
	return Config{
		ApplicationContext:         "2.16.124.113620.1.22",
		CallingAPTitle:             ".2",
		CalledAPTitle:              ".1",
		SecurityMode:               acse.SecurityClear,
		SessionIdleTimeout:         60 * time.Second,
		UseReadInKeepSessionAlive:  false,
		AlwaysReadFunctionResponse: ResponseWhenDesired,
		RetryPolicy:                retry.DefaultPolicy(),
		ReceiveTimeoutMs:           5000,
		WriteTimeoutMs:             5000,
	}
}
