package routing

import (
	"gpsr-simulation/internal/mesh"
	"gpsr-simulation/internal/packet"
)

// IRouter is the interface that all routing algorithms must implement.
type IRouter interface {
	// Called by the node once per simulated step
	Routing(self mesh.INode, all []mesh.INode, curStep int)
	// Called by the node when the network delivers *any* packet to it
	PacketReception(self, src mesh.INode, pkt packet.Packet, curStep int)
	// Snapshot of the live neighbor set
	Neighbors() []NeighborEntry
}

// Drop reasons reported to Metrics.
const (
	DropMaxRetransmission = "max_retransmission"
	DropTTLExpired        = "ttl_expired"
	DropBufferFull        = "buffer_full"
	DropPerimeterLoop     = "perimeter_loop"
	DropNoRoute           = "no_route"
)

// Metrics receives what the router observes. It is write-only from the
// router's side.
type Metrics interface {
	AddSent(pktType uint8)
	AddDropped(reason string)
	// RecordDelivery is called once per packet, on first arrival.
	RecordDelivery(packetID uint64, latency, hops int)
	// MarkDelivered is called on every arrival at the destination.
	MarkDelivered(packetID uint64)
}

type nopMetrics struct{}

func (nopMetrics) AddSent(uint8)                   {}
func (nopMetrics) AddDropped(string)               {}
func (nopMetrics) RecordDelivery(uint64, int, int) {}
func (nopMetrics) MarkDelivered(uint64)            {}

// nextHopSelector is the part of NeighborTable that picks non-direct hops.
type nextHopSelector interface {
	BestNeighbor(self, dst mesh.INode, pkt *packet.DataPacket) (uint32, error)
}
