package routing

import (
	"fmt"
	"sync"

	"gpsr-simulation/internal/geo"
	"gpsr-simulation/internal/mesh"
	"gpsr-simulation/internal/packet"
)

// fakeNode is a bare INode for driving a router directly.
type fakeNode struct {
	id       uint32
	pos      geo.Coordinates
	own      []*packet.DataPacket
	relay    []*packet.DataPacket
	capacity int
	failed   bool
	energy   float64
	router   IRouter
}

func newFakeNode(id uint32, x, y float64) *fakeNode {
	return &fakeNode{id: id, pos: geo.CreateCoordinates(x, y, 0), energy: 100}
}

func (n *fakeNode) GetID() uint32                  { return n.id }
func (n *fakeNode) GetPosition() geo.Coordinates   { return n.pos }
func (n *fakeNode) SetPosition(c geo.Coordinates)  { n.pos = c }
func (n *fakeNode) Enqueue(p *packet.DataPacket)   { n.own = append(n.own, p) }
func (n *fakeNode) OwnQueue() []*packet.DataPacket { return append([]*packet.DataPacket(nil), n.own...) }
func (n *fakeNode) RelayQueue() []*packet.DataPacket {
	return append([]*packet.DataPacket(nil), n.relay...)
}
func (n *fakeNode) RemoveFromOwnQueue(id uint64)   { n.own = without(n.own, id) }
func (n *fakeNode) RemoveFromRelayQueue(id uint64) { n.relay = without(n.relay, id) }
func (n *fakeNode) AcceptIntoRelayQueue(p *packet.DataPacket) bool {
	for _, q := range n.relay {
		if q.ID == p.ID {
			return true
		}
	}
	if n.capacity > 0 && len(n.relay) >= n.capacity {
		return false
	}
	n.relay = append(n.relay, p)
	return true
}
func (n *fakeNode) Failed() bool              { return n.failed }
func (n *fakeNode) SetFailed(f bool)          { n.failed = f }
func (n *fakeNode) NoTransmission() bool      { return n.energy <= 0 }
func (n *fakeNode) ConsumeEnergy(a float64)   { n.energy -= a }
func (n *fakeNode) ResidualEnergy() float64   { return n.energy }
func (n *fakeNode) Routing(all []mesh.INode, step int) { n.router.Routing(n, all, step) }
func (n *fakeNode) HandlePacket(src mesh.INode, pkt packet.Packet, step int) {
	n.router.PacketReception(n, src, pkt, step)
}

func without(q []*packet.DataPacket, id uint64) []*packet.DataPacket {
	var out []*packet.DataPacket
	for _, p := range q {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

type sent struct {
	pkt packet.Packet
	src uint32
	dst uint32
	at  float64
}

// fakeNet records every scheduled hop without delivering it.
type fakeNet struct {
	nodes map[uint32]mesh.INode
	sent  []sent
}

func newFakeNet(nodes ...mesh.INode) *fakeNet {
	n := &fakeNet{nodes: make(map[uint32]mesh.INode)}
	for _, node := range nodes {
		n.nodes[node.GetID()] = node
	}
	return n
}

func (f *fakeNet) Notify(pkt packet.Packet, src, dst mesh.INode, at float64) {
	f.sent = append(f.sent, sent{pkt: pkt, src: src.GetID(), dst: dst.GetID(), at: at})
}

func (f *fakeNet) GetNode(id uint32) (mesh.INode, error) {
	n, ok := f.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %d missing", id)
	}
	return n, nil
}

func (f *fakeNet) ofType(t uint8) []sent {
	var out []sent
	for _, s := range f.sent {
		if s.pkt.Type == t {
			out = append(out, s)
		}
	}
	return out
}

type delivery struct {
	id      uint64
	latency int
	hops    int
}

type fakeMetrics struct {
	mu         sync.Mutex
	sent       map[uint8]int
	dropped    map[string]int
	deliveries []delivery
	marked     int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{sent: map[uint8]int{}, dropped: map[string]int{}}
}

func (m *fakeMetrics) AddSent(t uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent[t]++
}

func (m *fakeMetrics) AddDropped(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped[reason]++
}

func (m *fakeMetrics) RecordDelivery(id uint64, latency, hops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, delivery{id, latency, hops})
}

func (m *fakeMetrics) MarkDelivered(uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marked++
}

// spySelector fails the test run if consulted when it should not be.
type spySelector struct {
	calls int
	next  uint32
	err   error
}

func (s *spySelector) BestNeighbor(_, _ mesh.INode, _ *packet.DataPacket) (uint32, error) {
	s.calls++
	return s.next, s.err
}

func hello(creator uint32, x, y float64, step int) *packet.HelloPacket {
	return packet.NewHelloPacket(uint64(creator), creator, step, geo.CreateCoordinates(x, y, 0))
}
