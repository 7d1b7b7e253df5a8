package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypePIIDetection is sent when a request had PII masked
	EventTypePIIDetection EventType = "pii_detection"
	// EventTypeRestore is sent when a masked document is restored or rejected
	EventTypeRestore EventType = "restore"
	// EventTypeClassification is sent when a masked email is classified
	EventTypeClassification EventType = "classification"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// PIIDetectionEvent reports what was masked in one request. It carries
// category counts only; entity values never leave the server.
type PIIDetectionEvent struct {
	RequestID     string         `json:"request_id"`
	Path          string         `json:"path"`
	ClientIP      string         `json:"client_ip"`
	Categories    map[string]int `json:"categories"`
	TotalFindings int            `json:"total_findings"`
	ProcessingMS  float64        `json:"processing_ms"`
}

// RestoreEvent reports the outcome of a restore request
type RestoreEvent struct {
	RequestID string `json:"request_id"`
	Findings  int    `json:"findings"`
	Success   bool   `json:"success"`
	Reason    string `json:"reason,omitempty"`
}

// ClassificationEvent reports the label assigned to a masked email
type ClassificationEvent struct {
	RequestID  string  `json:"request_id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	CacheHit   bool    `json:"cache_hit"`
	Findings   int     `json:"findings"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows the events a client receives
type EventFilter struct {
	Categories []string `json:"categories,omitempty"`
	Labels     []string `json:"labels,omitempty"`
	ClientIPs  []string `json:"client_ips,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID          string
	Conn        *websocket.Conn
	Send        chan Event
	ConnectedAt time.Time
	IP          string
	UserAgent   string

	mu           sync.RWMutex
	subscription *SubscriptionRequest
}

// Subscription returns the client's current subscription, nil meaning all events
func (c *Client) Subscription() *SubscriptionRequest {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscription
}

// SetSubscription replaces the client's subscription
func (c *Client) SetSubscription(sub *SubscriptionRequest) {
	c.mu.Lock()
	c.subscription = sub
	c.mu.Unlock()
}
