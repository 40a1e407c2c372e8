package sse_test

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurobridge/genjobs/internal/pkg/logger"
	"github.com/neurobridge/genjobs/internal/sse"
)

func newBus(t *testing.T) *sse.Bus {
	t.Helper()
	log, err := logger.New("development")
	require.NoError(t, err)
	return sse.NewBus(log)
}

func TestPublish_DeliversOnlyToMatchingChannel(t *testing.T) {
	bus := newBus(t)
	userA := uuid.New()
	userB := uuid.New()

	subA := bus.Subscribe(sse.ChatChannel(userA), userA)
	defer bus.Unsubscribe(subA)
	subB := bus.Subscribe(sse.ChatChannel(userB), userB)
	defer bus.Unsubscribe(subB)

	bus.Publish(sse.Message{Channel: sse.ChatChannel(userA), Type: sse.EventJobUpdated, JobID: "job-1"})

	select {
	case msg := <-subA.Outbound:
		assert.Equal(t, "job-1", msg.JobID)
	case <-time.After(time.Second):
		t.Fatal("expected message on subA")
	}

	select {
	case msg := <-subB.Outbound:
		t.Fatalf("unexpected message delivered to subB: %+v", msg)
	default:
	}
}

func TestPublish_DropsWhenSubscriberQueueFull(t *testing.T) {
	bus := newBus(t)
	userID := uuid.New()
	sub := bus.Subscribe(sse.ChatChannel(userID), userID)
	defer bus.Unsubscribe(sub)

	// Flood well past the bounded queue capacity; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			bus.Publish(sse.Message{Channel: sse.ChatChannel(userID), Type: sse.EventJobUpdated, JobID: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber queue")
	}
}

func TestPublishLocal_DoesNotInvokeForwarder(t *testing.T) {
	bus := newBus(t)
	userID := uuid.New()
	sub := bus.Subscribe(sse.ChatChannel(userID), userID)
	defer bus.Unsubscribe(sub)

	forwarded := false
	bus.SetForwarder(func(sse.Message) { forwarded = true })

	bus.PublishLocal(sse.Message{Channel: sse.ChatChannel(userID), Type: sse.EventPing})

	select {
	case <-sub.Outbound:
	case <-time.After(time.Second):
		t.Fatal("expected locally-published message to be delivered")
	}
	assert.False(t, forwarded, "PublishLocal must not re-invoke the forwarder")
}

func TestServeHTTP_WritesSSEFrame(t *testing.T) {
	bus := newBus(t)
	userID := uuid.New()
	sub := bus.Subscribe(sse.ChatChannel(userID), userID)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/sse/"+userID.String(), nil)

	done := make(chan struct{})
	go func() {
		bus.ServeHTTP(rec, req, sub)
		close(done)
	}()

	bus.Publish(sse.Message{Channel: sse.ChatChannel(userID), Type: sse.EventJobUpdated, JobID: "job-9", Status: "RUNNING"})

	time.Sleep(100 * time.Millisecond)
	bus.Unsubscribe(sub)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ServeHTTP did not return after unsubscribe")
	}

	assert.Contains(t, rec.Body.String(), "event: job.updated")
	assert.Contains(t, rec.Body.String(), "job-9")
}
