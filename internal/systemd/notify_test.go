package systemd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

type recorder struct {
	mu     sync.Mutex
	states []string
	err    error
}

func (r *recorder) notify(_ bool, state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func withRecorder(t *testing.T, r *recorder) {
	t.Helper()
	old := notify
	notify = r.notify
	t.Cleanup(func() { notify = old })
}

func TestNotifyStates(t *testing.T) {
	r := &recorder{}
	withRecorder(t, r)

	if !Ready() || !Status("rendering 1 job") || !Stopping() {
		t.Fatal("notify should report sent")
	}
	want := []string{daemon.SdNotifyReady, "STATUS=rendering 1 job", daemon.SdNotifyStopping}
	got := r.get()
	if len(got) != len(want) {
		t.Fatalf("states = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("state %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestNotifyErrorReportsNotSent(t *testing.T) {
	withRecorder(t, &recorder{err: errors.New("socket gone")})
	if Ready() {
		t.Error("Ready should report false on error")
	}
}

func TestWatchdogLoopPingsUntilCancelled(t *testing.T) {
	r := &recorder{}
	withRecorder(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		watchdogLoop(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for len(r.get()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	states := r.get()
	if len(states) < 2 {
		t.Fatalf("got %d pings, want at least 2", len(states))
	}
	for _, s := range states {
		if s != daemon.SdNotifyWatchdog {
			t.Errorf("unexpected state %q", s)
		}
	}
}

func TestWatchdogDisabledReturns(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	done := make(chan struct{})
	go func() {
		Watchdog(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watchdog should return when disabled")
	}
}
