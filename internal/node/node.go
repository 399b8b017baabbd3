package node

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"gpsr-simulation/internal/geo"
	"gpsr-simulation/internal/mesh"
	"gpsr-simulation/internal/packet"
	"gpsr-simulation/internal/routing"
)

// nodeImpl is a concrete implementation of INode.
type nodeImpl struct {
	id uint32

	mu             sync.RWMutex
	coordinates    geo.Coordinates
	failed         bool
	residualEnergy float64
	noTransmission bool

	queueMu       sync.Mutex
	ownQueue      []*packet.DataPacket
	relayQueue    []*packet.DataPacket
	queueCapacity int // relay queue limit, 0 = unbounded

	router routing.IRouter
	log    *zap.SugaredLogger
}

// Options configure a node's resources.
type Options struct {
	InitialEnergy float64 // joules, <= 0 means unlimited
	QueueCapacity int
	Log           *zap.SugaredLogger
}

// NewNode creates a drone with a given ID driven by router.
func NewNode(id uint32, pos geo.Coordinates, router routing.IRouter, opts Options) mesh.INode {
	log := opts.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log.Debugf("[sim] Created new node ID: %d, x: %f, y: %f, z: %f", id, pos.X, pos.Y, pos.Z)
	energy := opts.InitialEnergy
	if energy <= 0 {
		energy = unlimitedEnergy
	}
	return &nodeImpl{
		id:             id,
		coordinates:    pos,
		residualEnergy: energy,
		queueCapacity:  opts.QueueCapacity,
		router:         router,
		log:            log,
	}
}

const unlimitedEnergy = 1e18

// GetID returns the node's ID.
func (n *nodeImpl) GetID() uint32 {
	return n.id
}

func (n *nodeImpl) GetPosition() geo.Coordinates {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.coordinates
}

func (n *nodeImpl) SetPosition(coord geo.Coordinates) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.coordinates = coord
}

// Enqueue adds a packet this node originates.
func (n *nodeImpl) Enqueue(p *packet.DataPacket) {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	n.ownQueue = append(n.ownQueue, p)
}

func (n *nodeImpl) OwnQueue() []*packet.DataPacket {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	return append([]*packet.DataPacket(nil), n.ownQueue...)
}

func (n *nodeImpl) RelayQueue() []*packet.DataPacket {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	return append([]*packet.DataPacket(nil), n.relayQueue...)
}

func (n *nodeImpl) RemoveFromOwnQueue(packetID uint64) {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	n.ownQueue = removePacket(n.ownQueue, packetID)
}

func (n *nodeImpl) RemoveFromRelayQueue(packetID uint64) {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	n.relayQueue = removePacket(n.relayQueue, packetID)
}

// AcceptIntoRelayQueue queues p for forwarding. A packet already queued is
// not added twice but still counts as accepted; false means the buffer is
// full.
func (n *nodeImpl) AcceptIntoRelayQueue(p *packet.DataPacket) bool {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	for _, q := range n.relayQueue {
		if q.ID == p.ID {
			return true
		}
	}
	if n.queueCapacity > 0 && len(n.relayQueue) >= n.queueCapacity {
		return false
	}
	n.relayQueue = append(n.relayQueue, p)
	return true
}

func removePacket(queue []*packet.DataPacket, id uint64) []*packet.DataPacket {
	out := queue[:0]
	for _, p := range queue {
		if p.ID != id {
			out = append(out, p)
		}
	}
	for i := len(out); i < len(queue); i++ {
		queue[i] = nil
	}
	return out
}

func (n *nodeImpl) Failed() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.failed
}

func (n *nodeImpl) SetFailed(failed bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = failed
}

// NoTransmission is set once the battery is exhausted.
func (n *nodeImpl) NoTransmission() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.noTransmission
}

func (n *nodeImpl) ConsumeEnergy(amount float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.residualEnergy -= amount
	if n.residualEnergy <= 0 {
		n.residualEnergy = 0
		if !n.noTransmission {
			n.log.Infof("[sim] Node %d: energy exhausted, radio off", n.id)
		}
		n.noTransmission = true
	}
}

func (n *nodeImpl) ResidualEnergy() float64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.residualEnergy
}

// Routing runs one step of the node's router.
func (n *nodeImpl) Routing(all []mesh.INode, curStep int) {
	n.router.Routing(n, all, curStep)
}

// HandlePacket processes a packet delivered by the network.
func (n *nodeImpl) HandlePacket(src mesh.INode, pkt packet.Packet, curStep int) {
	n.router.PacketReception(n, src, pkt, curStep)
}

func (n *nodeImpl) GetRouter() routing.IRouter {
	return n.router
}

// NodeDetails renders the node in a nicely formatted way
func (n *nodeImpl) NodeDetails() string {
	var b strings.Builder
	pos := n.GetPosition()
	fmt.Fprintln(&b, "====================================")
	fmt.Fprintln(&b, "Node Details:")
	fmt.Fprintf(&b, "  ID:          %d\n", n.id)
	fmt.Fprintf(&b, "  Coordinates: (X: %.2f, Y: %.2f, Z: %.2f)\n", pos.X, pos.Y, pos.Z)
	fmt.Fprintf(&b, "  Energy:      %.4f J (failed=%v, radio off=%v)\n", n.ResidualEnergy(), n.Failed(), n.NoTransmission())
	fmt.Fprintf(&b, "  Queues:      own=%d relay=%d\n", len(n.OwnQueue()), len(n.RelayQueue()))
	fmt.Fprintln(&b, "  Neighbors:")
	for _, e := range n.router.Neighbors() {
		fmt.Fprintf(&b, "    - %d at (%.1f, %.1f, %.1f) heard at step %d\n", e.ID, e.Position.X, e.Position.Y, e.Position.Z, e.LastHeard)
	}
	fmt.Fprintln(&b, "====================================")
	return b.String()
}
