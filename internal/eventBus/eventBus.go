package eventBus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

type EventType string

const (
	EventNodeJoined       EventType = "NODE_JOINED"
	EventNodeLeft         EventType = "NODE_LEFT"
	EventNodeFailed       EventType = "NODE_FAILED"
	EventNodeRecovered    EventType = "NODE_RECOVERED"
	EventMovedNode        EventType = "MOVED_NODE"
	EventHelloSent        EventType = "HELLO_SENT"
	EventMessageSent      EventType = "MESSAGE_SENT"
	EventMessageDelivered EventType = "MESSAGE_DELIVERED"
	EventMessageDropped   EventType = "MESSAGE_DROPPED"
	EventAckSent          EventType = "ACK_SENT"
	EventReceivedDataAck  EventType = "RECEIVED_DATA_ACK"
	EventAddNeighbor      EventType = "ADD_NEIGHBOR"
	EventRemoveNeighbor   EventType = "REMOVED_NEIGHBOR"
	EventPerimeterMode    EventType = "PERIMETER_MODE"
	EventLostMessage      EventType = "LOST_MESSAGE"
	EventRunFinished      EventType = "RUN_FINISHED"
)

// Event holds details that the front end might need.
type Event struct {
	Type        EventType `json:"type" msgpack:"type"`
	RunID       string    `json:"run_id,omitempty" msgpack:"run_id,omitempty"`
	NodeID      uint32    `json:"node_id" msgpack:"node_id"`
	OtherNodeID uint32    `json:"other_node_id,omitempty" msgpack:"other_node_id,omitempty"`
	PacketID    uint64    `json:"packet_id,omitempty" msgpack:"packet_id,omitempty"`
	PacketType  uint8     `json:"packet_type,omitempty" msgpack:"packet_type,omitempty"`
	Step        int       `json:"step" msgpack:"step"`
	Payload     string    `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Timestamp   time.Time `json:"timestamp" msgpack:"timestamp"`
	X           float64   `json:"x" msgpack:"x"`
	Y           float64   `json:"y" msgpack:"y"`
	Z           float64   `json:"z" msgpack:"z"`
}

// EventBus manages a set of subscribers and publishes events to them.
// A nil *EventBus is valid and drops everything.
type EventBus struct {
	subscribers []chan Event
	mu          sync.RWMutex
	runID       string
	log         *zap.SugaredLogger
}

// NewEventBus creates a new EventBus instance.
func NewEventBus(log *zap.SugaredLogger) *EventBus {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &EventBus{
		subscribers: make([]chan Event, 0),
		log:         log,
	}
}

// Publish sends an event to all subscribers.
func (eb *EventBus) Publish(e Event) {
	if eb == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if e.RunID == "" {
		e.RunID = eb.runID
	}
	for _, sub := range eb.subscribers {
		// Use a non-blocking send in case a subscriber is busy.
		select {
		case sub <- e:
		default:
			eb.log.Debugw("dropping event: subscriber channel is full", "type", e.Type)
		}
	}
}

// SetRunID stamps every later event that carries no run id of its own.
func (eb *EventBus) SetRunID(id string) {
	if eb == nil {
		return
	}
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.runID = id
}

// Subscribe returns a new channel that will receive published events.
func (eb *EventBus) Subscribe() chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	ch := make(chan Event, 256)
	eb.subscribers = append(eb.subscribers, ch)
	return ch
}

// Unsubscribe removes ch and closes it.
func (eb *EventBus) Unsubscribe(ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, sub := range eb.subscribers {
		if sub == ch {
			eb.subscribers = append(eb.subscribers[:i], eb.subscribers[i+1:]...)
			close(ch)
			return
		}
	}
}

// Close closes every subscriber channel.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for _, sub := range eb.subscribers {
		close(sub)
	}
	eb.subscribers = nil
}
