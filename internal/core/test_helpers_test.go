package core

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

func testLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// newTestLoop starts a loop that stops with the test.
func newTestLoop(t *testing.T) *Loop {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	loop := NewLoop()
	go loop.Run(ctx)
	return loop
}

// mustChange drains a change feed until one of the wanted kind arrives.
func mustChange(t *testing.T, ch <-chan Change, kind ChangeKind) Change {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case c := <-ch:
			if c.Kind == kind {
				return c
			}
		case <-deadline:
			t.Fatalf("expected change kind %v not received", kind)
		}
	}
}

// sendRecorder captures outbound events and can simulate a dead link.
type sendRecorder struct {
	mu     sync.Mutex
	events []proto.Event
	err    error
}

func (r *sendRecorder) send(ev proto.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *sendRecorder) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *sendRecorder) sent() []proto.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]proto.Event{}, r.events...)
}

func (r *sendRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

// fakeMedia satisfies Media without a real peer connection.
type fakeMedia struct {
	offerErr   error
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	closed     bool
}

func (f *fakeMedia) CreateOffer() (webrtc.SessionDescription, error) {
	if f.offerErr != nil {
		return webrtc.SessionDescription{}, f.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 local offer"}, nil
}

func (f *fakeMedia) CreateAnswer() (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 local answer"}, nil
}

func (f *fakeMedia) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.remote = &desc
	return nil
}

func (f *fakeMedia) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	f.candidates = append(f.candidates, candidate)
	return nil
}

func (f *fakeMedia) Close() error {
	f.closed = true
	return nil
}

// recordingJournal tracks journal traffic in memory.
type recordingJournal struct {
	mu      sync.Mutex
	actions []Action
}

func (j *recordingJournal) Append(a Action) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, existing := range j.actions {
		if existing.ClientTempID == a.ClientTempID {
			j.actions[i] = a
			return nil
		}
	}
	j.actions = append(j.actions, a)
	return nil
}

func (j *recordingJournal) Remove(clientTempID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, existing := range j.actions {
		if existing.ClientTempID == clientTempID {
			j.actions = append(j.actions[:i], j.actions[i+1:]...)
			return nil
		}
	}
	return nil
}

func (j *recordingJournal) Load() ([]Action, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Action{}, j.actions...), nil
}

func (j *recordingJournal) Close() error { return nil }

func (j *recordingJournal) size() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.actions)
}
