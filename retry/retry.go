// Package retry implements the three-layer retry/backoff arbitrator of
// spec.md §4.G: link-layer, application-layer, and application-layer
// procedure retries, each with its own counter and delay, plus the
// session-drop-on-fatal-application-error policy and RQTL/RSTL size
// renegotiation.
package retry

import (
	"context"
	"time"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/c12"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/cerrors"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/monitor"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/session"
)

// Layer identifies which of the three counters a Do call is governing.
type Layer int

const (
	Link Layer = iota
	App
	Procedure
)

// Class is the retry classification an operation's error maps to.
type Class int

const (
	Retryable Class = iota
	Fatal
	Cancelled
)

// Policy holds the counters and delays, grounded verbatim on
// original_source/.../ProtocolC12.h's defaults.
type Policy struct {
	LinkRetries      int
	AppRetries       int
	ProcedureRetries int

	LinkDelay      time.Duration
	AppDelay       time.Duration
	ProcedureDelay time.Duration
	TurnAroundDelay time.Duration

	// EndSessionOnApplicationLayerError mirrors spec.md §4.G's session-drop
	// policy flag.
	EndSessionOnApplicationLayerError bool
}

// DefaultPolicy mirrors original_source/.../ProtocolC12.h's compiled-in
// defaults.
func DefaultPolicy() Policy {
	return Policy{
		LinkRetries:      3,
		AppRetries:       20,
		ProcedureRetries: 20,
		LinkDelay:        0,
		AppDelay:         2000 * time.Millisecond,
		ProcedureDelay:   500 * time.Millisecond,
		TurnAroundDelay:  20 * time.Millisecond,
		EndSessionOnApplicationLayerError: true,
	}
}

func (p Policy) retriesFor(layer Layer) int {
	switch layer {
	case Link:
		return p.LinkRetries
	case Procedure:
		return p.ProcedureRetries
	default:
		return p.AppRetries
	}
}

func (p Policy) delayFor(layer Layer) time.Duration {
	switch layer {
	case Link:
		return p.TurnAroundDelay
	case Procedure:
		return p.ProcedureDelay
	default:
		return p.AppDelay
	}
}

// Classify is supplied by the caller to map an error from fn into a Class,
// per the tables in spec.md §4.G.
type Classify func(error) Class

// Do runs fn, retrying per policy's counter/delay for layer when classify
// reports Retryable, notifying mon between attempts, generalizing the
// teacher's runSession backoff loop to a finite retry budget rather than
// unbounded reconnect. On exhaustion the last error is wrapped exactly once
// via cerrors.RetriesExpired.
func Do(ctx context.Context, policy Policy, layer Layer, classify Classify, fn func() error, mon monitor.Monitor, name string, counters *session.Counters) error {
	retries := policy.retriesFor(layer)
	delay := policy.delayFor(layer)

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			return cerrors.New(cerrors.Communication, "OperationCancelled", "%s cancelled", name)
		}
		err := fn()
		if err == nil {
			recordSuccess(layer, counters)
			if mon != nil {
				mon.OnApplicationLayerSuccess(name)
			}
			return nil
		}
		lastErr = err
		class := classify(err)
		if class == Cancelled {
			return err
		}
		if class != Retryable || attempt == retries {
			recordFail(layer, counters)
			if attempt > 0 {
				return cerrors.RetriesExpired(err)
			}
			return err
		}
		recordRetry(layer, counters)
		if mon != nil {
			mon.OnApplicationLayerRetry(name, err)
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return cerrors.New(cerrors.Communication, "OperationCancelled", "%s cancelled during retry delay", name)
			}
		}
	}
	return cerrors.RetriesExpired(lastErr)
}

func recordSuccess(layer Layer, c *session.Counters) {
	if c == nil {
		return
	}
	switch layer {
	case Link:
		c.LinkSuccess++
	default:
		c.AppSuccess++
	}
}

func recordRetry(layer Layer, c *session.Counters) {
	if c == nil {
		return
	}
	switch layer {
	case Link:
		c.LinkRetry++
	case Procedure:
		c.ProcedureRetry++
	default:
		c.AppRetry++
	}
}

func recordFail(layer Layer, c *session.Counters) {
	if c == nil {
		return
	}
	switch layer {
	case Link:
		c.LinkFail++
	default:
		c.AppFail++
	}
}

// ShouldEndSession reports whether policy requires dropping the session
// after a fatal application-layer error carrying nokCode, per spec.md
// §4.G: every code drops the session except the session-preserving set
// (ISSS, RNO, SME), exactly as original_source's
// DoEndSessionOnApplicationLayerError (ProtocolC12.cpp:997) implements it.
func ShouldEndSession(policy Policy, nokCode c12.Code) bool {
	return policy.EndSessionOnApplicationLayerError && !nokCode.SessionPreserving()
}

// Renegotiate lowers the negotiated out/in APDU size limit in response to an
// RQTL/RSTL NOK response, applying a 16-byte safety margin and a small
// down-adjustment below the peer's echoed figure to escape buggy peers that
// advertise a size they then refuse, per spec.md §4.G. It never lowers below
// session.MinimumMaximumApduTotalSize, and is idempotent: calling it again
// with the same peerMax makes no further change once the floor is reached.
func Renegotiate(sess *session.State, nokCode c12.Code, peerMax uint32) {
	const margin = 16
	const backoff = 8

	target := peerMax
	if target > margin+backoff {
		target -= backoff
	}
	if target < session.MinimumMaximumApduTotalSize {
		target = session.MinimumMaximumApduTotalSize
	}

	switch nokCode {
	case c12.RQTL:
		if target < sess.NegotiatedMaxApduOut {
			sess.NegotiatedMaxApduOut = target
		}
	case c12.RSTL:
		if target < sess.NegotiatedMaxApduIn {
			sess.NegotiatedMaxApduIn = target
		}
	}
	sess.RecomputeDerivedSizes()
}
