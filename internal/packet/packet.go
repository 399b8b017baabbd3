package packet

import (
	"fmt"
	"sync"

	"gpsr-simulation/internal/geo"
)

// Packet Types
const (
	PKT_HELLO uint8 = 0x01 // position beacon
	PKT_DATA  uint8 = 0x04
	PKT_ACK   uint8 = 0x07 // hop-by-hop acknowledgement
)

// TypeName is used for logs, event payloads and metric labels.
func TypeName(t uint8) string {
	switch t {
	case PKT_HELLO:
		return "HELLO"
	case PKT_DATA:
		return "DATA"
	case PKT_ACK:
		return "ACK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", t)
	}
}

// Packet is the unit handed to the dispatcher. Exactly one of Hello, Data or
// Ack is set, selected by Type.
type Packet struct {
	Type  uint8
	Hello *HelloPacket
	Data  *DataPacket
	Ack   *AckPacket
}

func (p Packet) ID() uint64 {
	switch p.Type {
	case PKT_HELLO:
		return p.Hello.ID
	case PKT_DATA:
		return p.Data.ID
	case PKT_ACK:
		return p.Ack.ID
	}
	return 0
}

func (p Packet) String() string {
	return fmt.Sprintf("%s#%d", TypeName(p.Type), p.ID())
}

func WrapHello(h *HelloPacket) Packet { return Packet{Type: PKT_HELLO, Hello: h} }
func WrapData(d *DataPacket) Packet   { return Packet{Type: PKT_DATA, Data: d} }
func WrapAck(a *AckPacket) Packet     { return Packet{Type: PKT_ACK, Ack: a} }

// HelloPacket announces the creator's position. It is never retransmitted.
type HelloPacket struct {
	ID        uint64
	CreatorID uint32
	CreatedAt int
	Position  geo.Coordinates
}

func NewHelloPacket(id uint64, creatorID uint32, createdAt int, pos geo.Coordinates) *HelloPacket {
	return &HelloPacket{ID: id, CreatorID: creatorID, CreatedAt: createdAt, Position: pos}
}

// AckPacket confirms reception of Ref to the hop that sent it.
type AckPacket struct {
	ID        uint64
	Source    uint32 // node that received the data
	Dest      uint32 // hop sender being acknowledged
	CreatedAt int
	Ref       *DataPacket
}

func NewAckPacket(id uint64, source, dest uint32, createdAt int, ref *DataPacket) *AckPacket {
	return &AckPacket{ID: id, Source: source, Dest: dest, CreatedAt: createdAt, Ref: ref}
}

// DataPacket is shared by reference while it travels. Every node that handles
// it owns its own retransmission counter and bumps the hop count (TTL).
type DataPacket struct {
	ID        uint64
	SrcID     uint32
	DstID     uint32
	CreatedAt int
	Payload   string

	mu          sync.Mutex
	ttl         int
	attempts    map[uint32]int
	deliveredAt int
	delivered   bool
	headers     map[uint32]RoutingHeader
}

func NewDataPacket(id uint64, srcID, dstID uint32, createdAt int, payload string) *DataPacket {
	return &DataPacket{
		ID:        id,
		SrcID:     srcID,
		DstID:     dstID,
		CreatedAt: createdAt,
		Payload:   payload,
		attempts:  make(map[uint32]int),
		headers:   make(map[uint32]RoutingHeader),
	}
}

func (d *DataPacket) TTL() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ttl
}

// IncreaseTTL counts one more hop and returns the new value.
func (d *DataPacket) IncreaseTTL() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ttl++
	return d.ttl
}

// Attempts is how many times nodeID has transmitted this packet.
func (d *DataPacket) Attempts(nodeID uint32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[nodeID]
}

func (d *DataPacket) IncAttempts(nodeID uint32) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts[nodeID]++
	return d.attempts[nodeID]
}

// MarkDelivered records the first arrival at the destination. Later calls
// leave the recorded step untouched and return false.
func (d *DataPacket) MarkDelivered(step int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.delivered {
		return false
	}
	d.delivered = true
	d.deliveredAt = step
	return true
}

func (d *DataPacket) DeliveredAt() (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.deliveredAt, d.delivered
}

// Header returns the routing header left for nodeID by the hop that sent it
// the packet. Packets without one are in greedy mode.
func (d *DataPacket) Header(nodeID uint32) RoutingHeader {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.headers[nodeID]
}

func (d *DataPacket) SetHeader(nodeID uint32, h RoutingHeader) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.headers[nodeID] = h
}

func (d *DataPacket) ClearHeader(nodeID uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.headers, nodeID)
}
