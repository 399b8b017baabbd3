package network

import (
	"container/heap"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"gpsr-simulation/internal/eventBus"
	"gpsr-simulation/internal/mesh"
	"gpsr-simulation/internal/packet"
)

// DefaultCommRange is the maximum distance in metres for direct comms.
const DefaultCommRange = 150.0

var ErrUnknownNode = errors.New("unknown node")

// LossRecorder is told about transmissions the network could not deliver.
type LossRecorder interface {
	AddLost()
}

// delivery is one scheduled hop.
type delivery struct {
	at  float64
	seq uint64
	pkt packet.Packet
	src mesh.INode
	dst mesh.INode
}

// NetworkImpl is the simulated radio medium and the discrete-event
// dispatcher routers hand their packets to.
type NetworkImpl struct {
	mu    sync.RWMutex
	nodes map[uint32]mesh.INode
	order []uint32 // join order

	queue deliveryQueue
	seq   uint64

	commRange float64
	losses    LossRecorder
	bus       *eventBus.EventBus
	log       *zap.SugaredLogger
}

// NewNetwork creates a new instance of the network.
func NewNetwork(commRange float64, losses LossRecorder, bus *eventBus.EventBus, log *zap.SugaredLogger) *NetworkImpl {
	if commRange <= 0 {
		commRange = DefaultCommRange
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &NetworkImpl{
		nodes:     make(map[uint32]mesh.INode),
		commRange: commRange,
		losses:    losses,
		bus:       bus,
		log:       log,
	}
}

// Join adds a node to the network.
func (net *NetworkImpl) Join(n mesh.INode) {
	net.mu.Lock()
	defer net.mu.Unlock()
	if _, ok := net.nodes[n.GetID()]; !ok {
		net.order = append(net.order, n.GetID())
	}
	net.nodes[n.GetID()] = n
	net.log.Debugf("[sim] Node %d: joining network.", n.GetID())
}

// Leave removes a node from the network by ID. Packets already scheduled for
// it are lost on delivery.
func (net *NetworkImpl) Leave(nodeID uint32) {
	net.mu.Lock()
	defer net.mu.Unlock()
	if _, ok := net.nodes[nodeID]; !ok {
		return
	}
	delete(net.nodes, nodeID)
	for i, id := range net.order {
		if id == nodeID {
			net.order = append(net.order[:i], net.order[i+1:]...)
			break
		}
	}
	net.log.Debugf("[sim] Node %d: leaving network.", nodeID)
}

func (net *NetworkImpl) GetNode(id uint32) (mesh.INode, error) {
	net.mu.RLock()
	defer net.mu.RUnlock()
	n, ok := net.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	return n, nil
}

// Nodes returns the joined nodes in join order.
func (net *NetworkImpl) Nodes() []mesh.INode {
	net.mu.RLock()
	defer net.mu.RUnlock()
	out := make([]mesh.INode, 0, len(net.order))
	for _, id := range net.order {
		out = append(out, net.nodes[id])
	}
	return out
}

// Notify schedules pkt for delivery to dst at deliverAt.
func (net *NetworkImpl) Notify(pkt packet.Packet, src, dst mesh.INode, deliverAt float64) {
	net.mu.Lock()
	defer net.mu.Unlock()
	net.seq++
	heap.Push(&net.queue, &delivery{at: deliverAt, seq: net.seq, pkt: pkt, src: src, dst: dst})
}

// Pending is the number of scheduled deliveries.
func (net *NetworkImpl) Pending() int {
	net.mu.RLock()
	defer net.mu.RUnlock()
	return net.queue.Len()
}

// RunUntil delivers every packet scheduled strictly before t, in time order.
// Packets scheduled by receivers during the call are delivered too when they
// fall before t. It returns the number of packets handed to receivers.
func (net *NetworkImpl) RunUntil(t float64) int {
	delivered := 0
	for {
		d := net.pop(t)
		if d == nil {
			return delivered
		}
		if net.deliver(d) {
			delivered++
		}
	}
}

func (net *NetworkImpl) pop(t float64) *delivery {
	net.mu.Lock()
	defer net.mu.Unlock()
	if net.queue.Len() == 0 || net.queue[0].at >= t {
		return nil
	}
	return heap.Pop(&net.queue).(*delivery)
}

func (net *NetworkImpl) deliver(d *delivery) bool {
	step := int(math.Floor(d.at))
	if _, err := net.GetNode(d.dst.GetID()); err != nil {
		net.lost(d, step, "receiver left the network")
		return false
	}
	if d.dst.Failed() {
		net.lost(d, step, "receiver failed")
		return false
	}
	if !net.IsInRange(d.src, d.dst) {
		net.lost(d, step, "out of range")
		return false
	}
	d.dst.HandlePacket(d.src, d.pkt, step)
	return true
}

func (net *NetworkImpl) lost(d *delivery, step int, why string) {
	// beacons reach everybody in the simulation, most of them out of range
	if d.pkt.Type == packet.PKT_HELLO {
		return
	}
	net.log.Debugf("[Network] %s from %d to %d lost: %s", d.pkt, d.src.GetID(), d.dst.GetID(), why)
	if net.losses != nil {
		net.losses.AddLost()
	}
	net.bus.Publish(eventBus.Event{
		Type:        eventBus.EventLostMessage,
		NodeID:      d.src.GetID(),
		OtherNodeID: d.dst.GetID(),
		PacketID:    d.pkt.ID(),
		PacketType:  d.pkt.Type,
		Step:        step,
		Payload:     why,
	})
}

// IsInRange checks if a node is in range to receive signal from another node.
func (net *NetworkImpl) IsInRange(node1 mesh.INode, node2 mesh.INode) bool {
	return node1.GetPosition().DistanceTo(node2.GetPosition()) <= net.commRange
}

func (net *NetworkImpl) CommRange() float64 {
	return net.commRange
}

// deliveryQueue orders deliveries by time, then by scheduling order.
type deliveryQueue []*delivery

func (q deliveryQueue) Len() int { return len(q) }
func (q deliveryQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q deliveryQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *deliveryQueue) Push(x any) {
	*q = append(*q, x.(*delivery))
}

func (q *deliveryQueue) Pop() any {
	old := *q
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return d
}
