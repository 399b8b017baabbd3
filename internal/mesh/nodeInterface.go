package mesh

import (
	"gpsr-simulation/internal/geo"
	"gpsr-simulation/internal/packet"
)

// INode is a drone as seen by the routing layer: identity, position, packet
// buffers, failure and energy state, and the entry points the simulation
// drives every step.
type INode interface {
	GetID() uint32
	GetPosition() geo.Coordinates
	SetPosition(coord geo.Coordinates)

	// Buffers. OwnQueue holds packets this node originated, RelayQueue the
	// ones it accepted from other nodes.
	Enqueue(p *packet.DataPacket)
	OwnQueue() []*packet.DataPacket
	RelayQueue() []*packet.DataPacket
	RemoveFromOwnQueue(packetID uint64)
	RemoveFromRelayQueue(packetID uint64)
	AcceptIntoRelayQueue(p *packet.DataPacket) bool

	Failed() bool
	SetFailed(failed bool)
	NoTransmission() bool
	ConsumeEnergy(amount float64)
	ResidualEnergy() float64

	Routing(all []INode, curStep int)
	HandlePacket(src INode, pkt packet.Packet, curStep int)
}
