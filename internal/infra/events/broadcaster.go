// Package events fans out operator-visible progress notifications. It has
// no HTTP dependency of its own; a CLI watch command or a future serving
// tier can drain a client's channel however it likes.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a progress notification scoped to a single background job.
type Event struct {
	Type         string                 `json:"type"`
	EntityID     string                 `json:"entity_id,omitempty"`
	EntityType   string                 `json:"entity_type"`
	CollectionID uuid.UUID              `json:"collection_id"`
	JobID        uuid.UUID              `json:"job_id"`
	Timestamp    time.Time              `json:"timestamp"`
	Data         map[string]interface{} `json:"data,omitempty"`
}

// Client represents one subscriber to a collection's progress stream.
type Client struct {
	ID           uuid.UUID
	CollectionID uuid.UUID
	JobID        uuid.UUID
	Channel      chan Event
}

// Broadcaster fans progress events out to subscribed clients, grouped by
// collection so a watcher only sees the jobs touching its own collection.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]map[uuid.UUID]*Client // collection_id -> client_id -> client
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[uuid.UUID]map[uuid.UUID]*Client),
	}
}

// Register adds a new subscriber for a collection.
func (b *Broadcaster) Register(collectionID, jobID uuid.UUID) *Client {
	b.mu.Lock()
	defer b.mu.Unlock()

	client := &Client{
		ID:           uuid.New(),
		CollectionID: collectionID,
		JobID:        jobID,
		Channel:      make(chan Event, 100), // buffered to prevent blocking the publisher
	}

	if b.clients[collectionID] == nil {
		b.clients[collectionID] = make(map[uuid.UUID]*Client)
	}
	b.clients[collectionID][client.ID] = client

	return client
}

// Unregister removes a subscriber.
func (b *Broadcaster) Unregister(collectionID, clientID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if group, ok := b.clients[collectionID]; ok {
		if client, ok := group[clientID]; ok {
			close(client.Channel)
			delete(group, clientID)
		}

		if len(group) == 0 {
			delete(b.clients, collectionID)
		}
	}
}

// Publish broadcasts an event to all clients watching a collection.
func (b *Broadcaster) Publish(collectionID uuid.UUID, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	event.CollectionID = collectionID
	event.Timestamp = time.Now().UTC()

	group, ok := b.clients[collectionID]
	if !ok {
		return
	}

	for _, client := range group {
		select {
		case client.Channel <- event:
		default:
			fmt.Printf("warning: client %s channel full, dropping event\n", client.ID)
		}
	}
}

// GetStats returns broadcaster statistics.
func (b *Broadcaster) GetStats() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	totalClients := 0
	collections := make(map[string]int)

	for collectionID, clients := range b.clients {
		count := len(clients)
		totalClients += count
		collections[collectionID.String()] = count
	}

	return map[string]interface{}{
		"total_clients":         totalClients,
		"active_collections":    len(b.clients),
		"clients_per_collection": collections,
	}
}
