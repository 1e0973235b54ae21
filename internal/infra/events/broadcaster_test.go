package events

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestBroadcaster_RegisterAndUnregister(t *testing.T) {
	b := NewBroadcaster()
	collectionID := uuid.New()
	jobID := uuid.New()

	client := b.Register(collectionID, jobID)
	assert.NotNil(t, client)
	assert.Equal(t, collectionID, client.CollectionID)
	assert.Equal(t, jobID, client.JobID)
	assert.NotEqual(t, uuid.Nil, client.ID)
	assert.NotNil(t, client.Channel)

	stats := b.GetStats()
	assert.Equal(t, 1, stats["total_clients"])
	assert.Equal(t, 1, stats["active_collections"])

	b.Unregister(collectionID, client.ID)

	stats = b.GetStats()
	assert.Equal(t, 0, stats["total_clients"])
	assert.Equal(t, 0, stats["active_collections"])
}

func TestBroadcaster_PublishToSingleCollection(t *testing.T) {
	b := NewBroadcaster()
	collectionID := uuid.New()
	jobID := uuid.New()

	client := b.Register(collectionID, jobID)

	event := Event{
		Type:       "thumbnail.generated",
		EntityType: "image",
		JobID:      jobID,
	}

	go b.Publish(collectionID, event)

	select {
	case received := <-client.Channel:
		assert.Equal(t, "thumbnail.generated", received.Type)
		assert.Equal(t, "image", received.EntityType)
		assert.Equal(t, collectionID, received.CollectionID)
		assert.False(t, received.Timestamp.IsZero())
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client did not receive event")
	}
}

func TestBroadcaster_CollectionIsolation(t *testing.T) {
	b := NewBroadcaster()
	collection1 := uuid.New()
	collection2 := uuid.New()
	jobID := uuid.New()

	client1 := b.Register(collection1, jobID)
	client2 := b.Register(collection2, jobID)

	event := Event{Type: "cache.generated", EntityType: "image", JobID: jobID}

	b.Publish(collection1, event)

	select {
	case <-client1.Channel:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("client1 did not receive event")
	}

	select {
	case <-client2.Channel:
		t.Fatal("client2 should not receive event from collection1")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcaster_MultipleClients(t *testing.T) {
	b := NewBroadcaster()
	collectionID := uuid.New()
	job1 := uuid.New()
	job2 := uuid.New()

	client1 := b.Register(collectionID, job1)
	client2 := b.Register(collectionID, job2)

	stats := b.GetStats()
	assert.Equal(t, 2, stats["total_clients"])
	assert.Equal(t, 1, stats["active_collections"])

	event := Event{Type: "job.completed", EntityType: "job", JobID: job1}

	b.Publish(collectionID, event)

	receivedCount := 0
	for i := 0; i < 2; i++ {
		select {
		case <-client1.Channel:
			receivedCount++
		case <-client2.Channel:
			receivedCount++
		case <-time.After(100 * time.Millisecond):
			t.Fatal("not all clients received event")
		}
	}

	assert.Equal(t, 2, receivedCount)
}

func TestBroadcaster_PublishToNonExistentCollection(t *testing.T) {
	b := NewBroadcaster()
	nonExistent := uuid.New()

	event := Event{Type: "job.stalled", EntityType: "job"}

	assert.NotPanics(t, func() {
		b.Publish(nonExistent, event)
	})
}

func TestBroadcaster_ChannelBuffer(t *testing.T) {
	b := NewBroadcaster()
	collectionID := uuid.New()
	jobID := uuid.New()

	client := b.Register(collectionID, jobID)

	for i := 0; i < 101; i++ {
		b.Publish(collectionID, Event{Type: "thumbnail.generated", EntityType: "image", JobID: jobID})
	}

	receivedCount := 0
	for {
		select {
		case <-client.Channel:
			receivedCount++
		case <-time.After(10 * time.Millisecond):
			assert.Greater(t, receivedCount, 0)
			return
		}
	}
}

func TestBroadcaster_UnregisterClosesChannel(t *testing.T) {
	b := NewBroadcaster()
	collectionID := uuid.New()
	jobID := uuid.New()

	client := b.Register(collectionID, jobID)
	b.Unregister(collectionID, client.ID)

	_, ok := <-client.Channel
	assert.False(t, ok, "channel should be closed after unregister")
}

func TestBroadcaster_GetStats(t *testing.T) {
	b := NewBroadcaster()
	collection1 := uuid.New()
	collection2 := uuid.New()
	jobID := uuid.New()

	b.Register(collection1, jobID)
	b.Register(collection1, jobID)
	b.Register(collection2, jobID)

	stats := b.GetStats()
	assert.Equal(t, 3, stats["total_clients"])
	assert.Equal(t, 2, stats["active_collections"])

	perCollection := stats["clients_per_collection"].(map[string]int)
	assert.Equal(t, 2, perCollection[collection1.String()])
	assert.Equal(t, 1, perCollection[collection2.String()])
}
