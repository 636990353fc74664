package nats

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/hudrender/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestJobClientGracefulDegradation(t *testing.T) {
	client := NewJobClient("nats://localhost:59999", testLogger())

	// Connect should fail but not panic
	if err := client.Connect(); err == nil {
		t.Error("Connect should fail with non-existent server")
	}

	// These should be no-ops without panicking
	client.OnCancel(func(string, string) {})
	client.PublishState(StateMessage{JobID: "test", State: "rendering"})
	client.PublishProgress(ProgressMessage{JobID: "test", FramesDone: 1, FramesTotal: 2})

	if client.IsConnected() {
		t.Error("Client should not be connected")
	}

	client.Close()
}

func TestSubjects(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{SubjectJobState("abc"), "hudrender.jobs.abc.state"},
		{SubjectJobProgress("abc"), "hudrender.jobs.abc.progress"},
		{SubjectControlCancel("abc"), "hudrender.control.abc.cancel"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("subject = %q, want %q", tt.got, tt.want)
		}
	}
}

func TestJobIDFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    string
	}{
		{"hudrender.control.job-1.cancel", "job-1"},
		{"hudrender.control.job-1", ""},
		{"other.control.job-1.cancel", ""},
	}
	for _, tt := range tests {
		if got := jobIDFromSubject(tt.subject); got != tt.want {
			t.Errorf("jobIDFromSubject(%q) = %q, want %q", tt.subject, got, tt.want)
		}
	}
}

func TestControlMessageRoundTrip(t *testing.T) {
	data, err := ControlMessage{Action: "cancel", JobID: "j1", Reason: "operator"}.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	got, err := UnmarshalControl(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Action != "cancel" || got.JobID != "j1" || got.Reason != "operator" {
		t.Errorf("round trip = %+v", got)
	}
}

type fakePublisher struct {
	mu       sync.Mutex
	states   []StateMessage
	progress []ProgressMessage
}

func (p *fakePublisher) PublishState(m StateMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states = append(p.states, m)
}

func (p *fakePublisher) PublishProgress(m ProgressMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progress = append(p.progress, m)
}

func (p *fakePublisher) counts() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states), len(p.progress)
}

func TestBridgeForwardsJobEvents(t *testing.T) {
	bus := events.New()
	pub := &fakePublisher{}
	bridge := NewBridge(bus, pub, testLogger())
	bridge.Start()
	bridge.Start() // second start is a no-op

	bus.Publish(events.JobStateChangedEvent{JobID: "j1", State: "complete", Output: "/out.mp4"})
	bus.Publish(events.JobProgressEvent{JobID: "j1", FramesDone: 3, FramesTotal: 10})

	deadline := time.Now().Add(2 * time.Second)
	for {
		states, progress := pub.counts()
		if states == 1 && progress == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("forwarded %d states and %d progress messages, want 1 and 1", states, progress)
		}
		time.Sleep(5 * time.Millisecond)
	}

	pub.mu.Lock()
	if s := pub.states[0]; s.JobID != "j1" || s.State != "complete" || s.Output != "/out.mp4" {
		t.Errorf("state message = %+v", s)
	}
	if p := pub.progress[0]; p.FramesDone != 3 || p.FramesTotal != 10 {
		t.Errorf("progress message = %+v", p)
	}
	pub.mu.Unlock()

	bridge.Stop()
	bus.Publish(events.JobProgressEvent{JobID: "j1", FramesDone: 4, FramesTotal: 10})
	time.Sleep(20 * time.Millisecond)
	if _, progress := pub.counts(); progress != 1 {
		t.Errorf("bridge forwarded %d progress messages after Stop, want 1", progress)
	}
}
