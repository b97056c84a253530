package sse

import (
	"fmt"
	"log"
	"sync"
)

// Event represents a Server-Sent Event
type Event struct {
	EventType string `json:"event"`
	Scope     string `json:"scope,omitempty"` // "machineId:jobId"，空表示全局
	Data      string `json:"data"`
}

// Client represents a connected SSE client
// Scope为空的客户端接收全部事件，否则只接收匹配作用域的事件
type Client struct {
	ID     string
	UserID string
	Scope  string
	Events chan Event
}

// Hub manages all SSE client connections
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates a new SSE Hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

// Register adds a new client to the hub
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	log.Printf("[SSE] Client registered: id=%s user=%s scope=%q (total: %d)", client.ID, client.UserID, client.Scope, len(h.clients))
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client, ok := h.clients[clientID]; ok {
		close(client.Events)
		delete(h.clients, clientID)
		log.Printf("[SSE] Client unregistered: id=%s (total: %d)", clientID, len(h.clients))
	}
}

// Publish 发送事件：machine:job作用域订阅者 + 全局订阅者都会收到
func (h *Hub) Publish(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, client := range h.clients {
		if client.Scope != "" && event.Scope != "" && client.Scope != event.Scope {
			continue
		}
		select {
		case client.Events <- event:
		default:
			log.Printf("[SSE] Client %s buffer full, skipping event", client.ID)
		}
	}
}

// MachiningScope 组装machine:job作用域
func MachiningScope(machineID, jobID string) string {
	return fmt.Sprintf("%s:%s", machineID, jobID)
}

// PublishMachining 发布加工事件（tick/complete/fail）
func (h *Hub) PublishMachining(machineID, jobID, eventType, data string) {
	h.Publish(Event{
		EventType: eventType,
		Scope:     MachiningScope(machineID, jobID),
		Data:      data,
	})
	log.Printf("[SSE] Published %s: machine=%s job=%s", eventType, machineID, jobID)
}

// PublishQueueUpdate 发布队列变更事件
func (h *Hub) PublishQueueUpdate(machineID, action string) {
	data := fmt.Sprintf(`{"machine_id":"%s","action":"%s"}`, machineID, action)
	h.Publish(Event{
		EventType: "queue_update",
		Data:      data,
	})
	log.Printf("[SSE] Published queue_update: machine=%s action=%s", machineID, action)
}
