// Package session holds the per-connection protocol state spec.md §3
// describes (sizes, counters, invocation id/IV generation) and the
// background keep-alive task of spec.md §4.I.
package session

import (
	"sync"
	"time"
)

// Size bounds from spec.md §3/§9, sourced verbatim from
// original_source/src/MeteringSDK/MCOM/ProtocolC1222.h.
const (
	MinimumMaximumApduTotalSize = 0x200
	MaximumProperApduHeaderSize = 160
	MaximumLegacyApduHeaderSize = 1024
	MaximumMaximumApduTotalSize = 0x1000000

	minUsablePayload = 16
)

// Counters tallies link-layer and application-layer outcomes, per spec.md
// §4.G's three retry scopes.
type Counters struct {
	LinkSuccess, LinkRetry, LinkFail int
	AppSuccess, AppRetry, AppFail    int
	ProcedureRetry                   int
}

// State is one protocol instance's session state. All fields that the
// keep-alive task (running on its own goroutine) and the foreground caller
// can both touch are guarded by mu; plain numeric fields read only from the
// foreground (sizes, counters under the commit path) are left unguarded,
// mirroring the teacher's sol.Session split between mutex-guarded
// connection flags and plain request-path fields.
type State struct {
	mu sync.Mutex

	IsInSession bool
	Sessionless bool

	CallingAPInvocationID uint32
	invocationIDSet       bool

	InitializationVector uint32
	ivSet                bool
	lastIVSeconds         int64
	ivSequence            uint32

	NegotiatedMaxApduIn  uint32
	NegotiatedMaxApduOut uint32
	EffectiveMaxApduIn   uint32
	EffectiveMaxApduOut  uint32

	MaxReadTableSize          uint32
	MaxWriteTableSize         uint32
	MaxPartialWriteTableSize  uint32

	// IssueSecurityFlag mirrors the "issue-security flag" spec.md §3 names as
	// one of the three things that trigger derived-size recomputation.
	IssueSecurityFlag bool

	ProcedureSequenceNumber byte

	Counters Counters

	// LegacyHeaderWorkaround reserves MaximumLegacyApduHeaderSize instead of
	// MaximumProperApduHeaderSize for the outgoing header once both effective
	// sizes exceed 30000 — see DESIGN.md's Open Question #1. Default true.
	LegacyHeaderWorkaround bool

	CallingAPTitle string
	CalledAPTitle  string

	AuthKeyID    *byte
	authValueUsed bool
}

// NewState returns a fresh State with default negotiated/effective sizes at
// the protocol minimum and the legacy header workaround enabled.
func NewState() *State {
	s := &State{
		NegotiatedMaxApduIn:  MinimumMaximumApduTotalSize,
		NegotiatedMaxApduOut: MinimumMaximumApduTotalSize,
		LegacyHeaderWorkaround: true,
	}
	s.RecomputeDerivedSizes()
	return s
}

// Reset clears session-specific fields on StartSession or on a session drop
// after a fatal application-layer error, per spec.md §3's Lifecycle.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IsInSession = false
	s.ProcedureSequenceNumber = 0
	s.authValueUsed = false
	s.Counters = Counters{}
}

// SetInSession sets IsInSession under the shared mutex — the one field the
// background keeper's captured-error path would touch if it ever needed to,
// per spec.md §5's "owned by the foreground" ownership note; in practice only
// engine.Engine calls this, from the single foreground goroutine.
func (s *State) SetInSession(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.IsInSession = v
}

// InSession reads IsInSession under the shared mutex.
func (s *State) InSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.IsInSession
}

// HeaderReserve returns how many bytes acse.Encode should reserve for the
// outgoing header, applying the legacy workaround when both effective sizes
// are large enough that a buggy peer might need the bigger allowance.
func (s *State) HeaderReserve() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LegacyHeaderWorkaround && s.EffectiveMaxApduIn > 30000 && s.EffectiveMaxApduOut > 30000 {
		return MaximumLegacyApduHeaderSize
	}
	return MaximumProperApduHeaderSize
}

// RecomputeDerivedSizes recomputes the effective and derived table-size
// limits. Call after any change to negotiated size, Sessionless, or
// IssueSecurityFlag, per spec.md §3's invariant.
func (s *State) RecomputeDerivedSizes() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.EffectiveMaxApduIn = clamp(s.NegotiatedMaxApduIn)
	s.EffectiveMaxApduOut = clamp(s.NegotiatedMaxApduOut)

	headerReserve := uint32(MaximumProperApduHeaderSize)
	if s.LegacyHeaderWorkaround && s.EffectiveMaxApduIn > 30000 && s.EffectiveMaxApduOut > 30000 {
		headerReserve = MaximumLegacyApduHeaderSize
	}

	overhead := headerReserve
	if s.IssueSecurityFlag {
		overhead += 20 // Security service body, prepended on every sessionless request
	}

	s.MaxReadTableSize = derived(s.EffectiveMaxApduIn, overhead)
	s.MaxWriteTableSize = derived(s.EffectiveMaxApduOut, overhead)
	s.MaxPartialWriteTableSize = derived(s.EffectiveMaxApduOut, overhead+7) // table+offset+len fields
}

func clamp(v uint32) uint32 {
	if v < MinimumMaximumApduTotalSize {
		return MinimumMaximumApduTotalSize
	}
	if v > MaximumMaximumApduTotalSize {
		return MaximumMaximumApduTotalSize
	}
	return v
}

func derived(effective, overhead uint32) uint32 {
	if effective <= overhead+minUsablePayload {
		return minUsablePayload
	}
	return effective - overhead
}

// NextInvocationID returns the calling AP invocation id to use for the next
// outgoing APDU, auto-generating on first use and incrementing thereafter.
func (s *State) NextInvocationID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.invocationIDSet {
		s.CallingAPInvocationID = uint32(time.Now().Unix())
		s.invocationIDSet = true
	} else {
		s.CallingAPInvocationID++
	}
	return s.CallingAPInvocationID
}

// NextIV returns the initialization vector for the next outgoing APDU. A
// caller-assigned IV (set via SetClientIV) is consumed exactly once; after
// that the engine auto-generates from UTC seconds, with a sub-second
// sequence counter so two IVs issued within the same wall-clock second still
// differ, guaranteeing adjacent packets never repeat (spec.md §3's IV
// uniqueness invariant).
func (s *State) NextIV() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ivSet {
		iv := s.InitializationVector
		s.ivSet = false
		return iv
	}
	now := time.Now().Unix()
	if now == s.lastIVSeconds {
		s.ivSequence++
	} else {
		s.lastIVSeconds = now
		s.ivSequence = 0
	}
	return uint32(now) ^ (s.ivSequence << 24)
}

// SetClientIV assigns the IV the client wants the next outgoing APDU to
// carry; NextIV consumes it exactly once.
func (s *State) SetClientIV(iv uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InitializationVector = iv
	s.ivSet = true
}

// NeedsAuthValue reports whether the next outgoing secured APDU must carry
// the AC element: true exactly once per key-id/IV in session mode, or on
// every request in sessionless mode (spec.md §3's invariant).
func (s *State) NeedsAuthValue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Sessionless {
		return true
	}
	return !s.authValueUsed
}

// MarkAuthValueSent records that the AC element has now been sent once this
// session (no-op in sessionless mode, where it is sent every time).
func (s *State) MarkAuthValueSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Sessionless {
		s.authValueUsed = true
	}
}
