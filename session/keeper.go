package session

import (
	"sync"
	"time"
)

// KeepAliveSender is what the keeper calls to actually put a byte on the
// wire — engine.Engine implements this with either a C12 Wait service or a
// one-byte partial ST1 read, per UseReadInKeepAlive.
type KeepAliveSender interface {
	SendKeepAlive() error
}

// Keeper runs the background keep-alive task of spec.md §4.I: a cooperative
// goroutine that sleeps until the next event tick, then sends a keep-alive
// unless a foreground service is active. Grounded on the teacher's
// keepaliveLoop/healthCheck ticker-driven, mutex-guarded-suspend-counter
// shape (sol.Session / sol.Manager).
type Keeper struct {
	mu        sync.Mutex
	suspended int32 // foreground-active counter; keeper discards its send while > 0

	idleTimeout time.Duration
	useRead     bool

	sender KeepAliveSender

	stop    chan struct{}
	stopped chan struct{}

	lastErr error
}

// NewKeeper constructs a Keeper. idleTimeout is the negotiated session idle
// timeout; the keeper fires at idleTimeout-1s so a fresh keep-alive always
// lands before the peer's timer would expire.
func NewKeeper(sender KeepAliveSender, idleTimeout time.Duration, useRead bool) *Keeper {
	return &Keeper{
		sender:      sender,
		idleTimeout: idleTimeout,
		useRead:     useRead,
		stop:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}
}

// Start runs the keeper loop until Stop is called.
func (k *Keeper) Start() {
	go k.run()
}

// Stop signals the keeper to exit and waits for it to do so.
func (k *Keeper) Stop() {
	close(k.stop)
	<-k.stopped
}

// Suspend marks a foreground service as active; the keeper will skip its
// next send if it observes the counter non-zero when it wakes.
func (k *Keeper) Suspend() {
	k.mu.Lock()
	k.suspended++
	k.mu.Unlock()
}

// Resume marks a foreground service as finished.
func (k *Keeper) Resume() {
	k.mu.Lock()
	if k.suspended > 0 {
		k.suspended--
	}
	k.mu.Unlock()
}

// TakeError returns and clears the last error the keeper observed, for
// engine.Engine to surface on the next foreground call.
func (k *Keeper) TakeError() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	err := k.lastErr
	k.lastErr = nil
	return err
}

func (k *Keeper) run() {
	defer close(k.stopped)
	tick := k.idleTimeout - time.Second
	if tick <= 0 {
		tick = time.Second
	}
	timer := time.NewTimer(tick)
	defer timer.Stop()
	for {
		select {
		case <-k.stop:
			return
		case <-timer.C:
			k.fire()
			timer.Reset(tick)
		}
	}
}

func (k *Keeper) fire() {
	k.mu.Lock()
	if k.suspended > 0 {
		k.mu.Unlock()
		return
	}
	k.mu.Unlock()

	err := k.sender.SendKeepAlive()

	k.mu.Lock()
	defer k.mu.Unlock()
	if k.suspended > 0 {
		// A foreground service started while we were sending; our send may
		// have collided with it. Discard the outcome either way — the
		// foreground call's own result is authoritative.
		return
	}
	if err != nil {
		k.lastErr = err
	}
}
