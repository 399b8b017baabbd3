package mesh

import "gpsr-simulation/internal/packet"

// INetwork is the dispatcher every router hands packets to.
type INetwork interface {
	// Notify schedules delivery of pkt from src to dst at simulated time
	// deliverAt (in steps, fractional values allowed).
	Notify(pkt packet.Packet, src, dst INode, deliverAt float64)
	GetNode(id uint32) (INode, error)
}
