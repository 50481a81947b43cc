package engine

import (
	"time"

	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/acse"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/buffer"
	"github.com/ElsterSolutionsOpensource/C12Adapter-sub004/c12"
)

// StartSession establishes the session per spec.md §4.K's state machine.
// In sessionless mode this is a local no-op beyond flag bookkeeping; in
// session mode it performs Logon, then Security when the security mode
// calls for it, then starts the keep-alive task if configured.
func (e *Engine) StartSession() error {
	if err := e.guardForeground(); err != nil {
		return err
	}
	return e.startSession()
}

func (e *Engine) startSession() error {
	if e.sess.Sessionless {
		e.sess.SetInSession(true)
		e.sess.IssueSecurityFlag = e.cfg.IssueSecurityOnStartSession
		e.sess.RecomputeDerivedSizes()
		return nil
	}
	if e.sess.InSession() {
		return nil
	}

	if err := e.withAppRetry("Logon", func() error {
		return e.logon()
	}); err != nil {
		return err
	}

	if e.cfg.SecurityMode != acse.SecurityClear || e.cfg.IssueSecurityOnStartSession {
		if err := e.withAppRetry("Security", func() error {
			return e.withCredentialRotation(func() error { return e.security() })
		}); err != nil {
			return err
		}
	}

	e.sess.SetInSession(true)
	e.startKeeper()
	return nil
}

func (e *Engine) logon() error {
	timeout := uint16(e.cfg.SessionIdleTimeout.Seconds())
	respBody, err := e.roundTrip(func(b *buffer.Bidi) {
		c12.LogonRequest(b, e.cfg.UserID, e.cfg.User, timeout)
	}, acse.ResponseAlways)
	if err != nil {
		return err
	}
	negotiated, err := c12.LogonResponse(respBody)
	if err != nil {
		return err
	}
	if negotiated > 0 {
		e.cfg.SessionIdleTimeout = time.Duration(negotiated) * time.Second
	}
	return nil
}

func (e *Engine) security() error {
	respBody, err := e.roundTrip(func(b *buffer.Bidi) {
		c12.SecurityRequest(b, e.cred.currentPassword())
	}, acse.ResponseAlways)
	if err != nil {
		return err
	}
	return c12.StatusOnlyResponse(respBody)
}

// EndSession logs off and terminates, returning the first error either
// step produced. The session is considered dropped either way, per
// spec.md §4.K.
func (e *Engine) EndSession() error {
	if err := e.guardForeground(); err != nil {
		return err
	}
	return e.endSession(false)
}

// EndSessionNoThrow is EndSession but swallows any error after making a
// best-effort attempt, for callers unwinding from an already-failed
// session (spec.md §4.K).
func (e *Engine) EndSessionNoThrow() {
	_ = e.endSession(true)
}

func (e *Engine) endSession(noThrow bool) error {
	if e.sess.Sessionless {
		e.sess.SetInSession(false)
		return nil
	}
	if !e.sess.InSession() {
		return nil
	}
	e.stopKeeper()

	var firstErr error
	if err := e.withAppRetry("Logoff", func() error {
		respBody, ierr := e.roundTrip(func(b *buffer.Bidi) { c12.LogoffRequest(b) }, acse.ResponseAlways)
		if ierr != nil {
			return ierr
		}
		return c12.StatusOnlyResponse(respBody)
	}); err != nil && firstErr == nil {
		firstErr = err
	}

	if _, err := e.roundTrip(func(b *buffer.Bidi) { c12.TerminateRequest(b) }, acse.ResponseNever); err != nil && firstErr == nil {
		firstErr = err
	}

	e.sess.Reset()
	if noThrow {
		return nil
	}
	return firstErr
}
