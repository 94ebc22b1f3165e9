package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxhall/voxhall/pkg/agent"
	"github.com/voxhall/voxhall/pkg/agent/mock"
)

// fill queues events until the session's buffer is full.
func fill(s *mock.Session) {
	for i := 0; i < 256; i++ {
		s.Emit(agent.Event{Type: agent.EventOutputTranscriptDelta, Text: "x"})
	}
}

func TestClose_WithUndrainedBuffer(t *testing.T) {
	t.Parallel()

	p := mock.New()
	p.OpenOnConnect = false
	h, err := p.Connect(context.Background(), agent.Config{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	sess := p.LastSession()
	fill(sess)

	done := make(chan struct{})
	go func() {
		_ = h.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a full event buffer")
	}

	// The stream still terminates for a consumer that resumes draining.
	for range sess.Events() {
	}
	if !sess.Closed() {
		t.Error("session not marked closed")
	}
}

func TestFail_WithUndrainedBuffer(t *testing.T) {
	t.Parallel()

	p := mock.New()
	p.OpenOnConnect = false
	if _, err := p.Connect(context.Background(), agent.Config{}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	sess := p.LastSession()
	fill(sess)

	failErr := errors.New("transport lost")
	done := make(chan struct{})
	go func() {
		sess.Fail(failErr)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Fail blocked on a full event buffer")
	}

	for range sess.Events() {
	}
	if !errors.Is(sess.Err(), failErr) {
		t.Errorf("Err = %v, want %v", sess.Err(), failErr)
	}
}
