package session

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSender struct {
	calls int32
	err   error
}

func (s *countingSender) SendKeepAlive() error {
	atomic.AddInt32(&s.calls, 1)
	return s.err
}

func TestKeeperFiresAndRecordsError(t *testing.T) {
	sender := &countingSender{err: errors.New("channel down")}
	k := NewKeeper(sender, 30*time.Millisecond, false)
	k.Start()
	defer k.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&sender.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if atomic.LoadInt32(&sender.calls) == 0 {
		t.Fatal("expected the keeper to have fired at least once")
	}

	deadline = time.Now().Add(2 * time.Second)
	var err error
	for time.Now().Before(deadline) {
		if err = k.TakeError(); err != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err == nil {
		t.Fatal("expected TakeError to surface the sender's error")
	}
	if k.TakeError() != nil {
		t.Error("expected TakeError to clear the error after reading it")
	}
}

func TestKeeperSkipsSendWhileSuspended(t *testing.T) {
	sender := &countingSender{}
	k := NewKeeper(sender, 20*time.Millisecond, false)
	k.Suspend()
	k.Start()
	defer k.Stop()

	time.Sleep(150 * time.Millisecond)
	if atomic.LoadInt32(&sender.calls) != 0 {
		t.Errorf("expected no sends while suspended, got %d", sender.calls)
	}

	k.Resume()
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&sender.calls) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if atomic.LoadInt32(&sender.calls) == 0 {
		t.Error("expected a send to occur after Resume")
	}
}

func TestKeeperStopIsClean(t *testing.T) {
	sender := &countingSender{}
	k := NewKeeper(sender, time.Hour, false)
	k.Start()
	k.Stop()
}
