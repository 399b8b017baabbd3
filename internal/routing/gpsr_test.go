package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gpsr-simulation/internal/energy"
	"gpsr-simulation/internal/mesh"
	"gpsr-simulation/internal/packet"
)

type harness struct {
	net     *fakeNet
	metrics *fakeMetrics
	ids     *packet.IDAllocator
	nodes   map[uint32]*fakeNode
	routers map[uint32]*GPSRRouter
}

func newHarness(t *testing.T, cfg Config, nodes ...*fakeNode) *harness {
	h := &harness{
		metrics: newFakeMetrics(),
		ids:     packet.NewIDAllocator(),
		nodes:   make(map[uint32]*fakeNode),
		routers: make(map[uint32]*GPSRRouter),
	}
	all := make([]mesh.INode, 0, len(nodes))
	for _, n := range nodes {
		all = append(all, n)
	}
	h.net = newFakeNet(all...)
	for _, n := range nodes {
		r := NewGPSRRouter(n.id, cfg, Deps{
			Net:     h.net,
			Energy:  energy.Fixed{Tx: 1, Rx: 0.5},
			IDs:     h.ids,
			Metrics: h.metrics,
			Log:     zaptest.NewLogger(t).Sugar(),
		})
		n.router = r
		h.nodes[n.id] = n
		h.routers[n.id] = r
	}
	return h
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxRetransmission = 3
	cfg.MaxTTL = 4
	return cfg
}

func TestHelloCadenceAndSingleDebit(t *testing.T) {
	a, b, c := newFakeNode(1, 0, 0), newFakeNode(2, 10, 0), newFakeNode(3, 20, 0)
	h := newHarness(t, testConfig(), a, b, c)
	all := []mesh.INode{a, b, c}

	h.routers[1].SendHelloPacket(a, all, 3)
	assert.Empty(t, h.net.sent)

	h.routers[1].SendHelloPacket(a, all, 5)
	hellos := h.net.ofType(packet.PKT_HELLO)
	require.Len(t, hellos, 2)
	assert.Equal(t, uint32(2), hellos[0].dst)
	assert.Equal(t, uint32(3), hellos[1].dst)
	assert.Equal(t, hellos[0].pkt.Hello, hellos[1].pkt.Hello, "one beacon for all receivers")
	assert.InDelta(t, 5.01, hellos[0].at, 1e-9)
	assert.Equal(t, 99.0, a.energy)
	assert.Equal(t, 1, h.metrics.sent[packet.PKT_HELLO])
}

func TestHelloReceptionAddsNeighbor(t *testing.T) {
	a, b := newFakeNode(1, 0, 0), newFakeNode(2, 10, 0)
	h := newHarness(t, testConfig(), a, b)

	b.HandlePacket(a, packet.WrapHello(hello(1, 0, 0, 0)), 0)
	assert.True(t, h.routers[2].Table().IsNeighbor(1))
	assert.Equal(t, 99.5, b.energy)
}

func TestNoNeighborsNoDispatch(t *testing.T) {
	a, d := newFakeNode(1, 0, 0), newFakeNode(2, 500, 0)
	h := newHarness(t, testConfig(), a, d)
	pkt := packet.NewDataPacket(1, 1, 2, 0, "")
	a.Enqueue(pkt)

	h.routers[1].SendDataPacket(a, 1)

	assert.Empty(t, h.net.sent)
	require.Len(t, a.own, 1)
	assert.Equal(t, 0, pkt.TTL())
	assert.Equal(t, 0, pkt.Attempts(1))
}

func TestDirectNeighborSkipsSelection(t *testing.T) {
	a, d := newFakeNode(1, 0, 0), newFakeNode(2, 50, 0)
	h := newHarness(t, testConfig(), a, d)
	spy := &spySelector{}
	h.routers[1].selector = spy
	h.routers[1].Table().AddNeighbor(hello(2, 50, 0, 0), 0)

	a.Enqueue(packet.NewDataPacket(1, 1, 2, 0, ""))
	h.routers[1].SendDataPacket(a, 1)

	assert.Zero(t, spy.calls)
	data := h.net.ofType(packet.PKT_DATA)
	require.Len(t, data, 1)
	assert.Equal(t, uint32(2), data[0].dst)
	assert.Equal(t, 1, data[0].pkt.Data.TTL())
	assert.Equal(t, 99.0, a.energy)
}

func TestIndirectDestinationUsesSelector(t *testing.T) {
	a, b, d := newFakeNode(1, 0, 0), newFakeNode(2, 50, 0), newFakeNode(3, 100, 0)
	h := newHarness(t, testConfig(), a, b, d)
	spy := &spySelector{next: 2}
	h.routers[1].selector = spy
	h.routers[1].Table().AddNeighbor(hello(2, 50, 0, 0), 0)

	a.Enqueue(packet.NewDataPacket(1, 1, 3, 0, ""))
	h.routers[1].SendDataPacket(a, 1)

	assert.Equal(t, 1, spy.calls)
	data := h.net.ofType(packet.PKT_DATA)
	require.Len(t, data, 1)
	assert.Equal(t, uint32(2), data[0].dst)
}

func TestRetransmissionCapDropsAfterScan(t *testing.T) {
	a, d := newFakeNode(1, 0, 0), newFakeNode(2, 50, 0)
	h := newHarness(t, testConfig(), a, d)
	h.routers[1].Table().AddNeighbor(hello(2, 50, 0, 0), 0)

	stuck := packet.NewDataPacket(1, 1, 2, 0, "")
	a.Enqueue(stuck)
	// the same packet also sits in the relay queue
	a.relay = append(a.relay, stuck)

	for step := 1; step <= 3; step++ {
		h.routers[1].SendDataPacket(a, step)
	}
	assert.Len(t, h.net.ofType(packet.PKT_DATA), 3, "each step sends the packet once")
	assert.Equal(t, 3, stuck.Attempts(1))

	h.routers[1].SendDataPacket(a, 4)
	assert.Len(t, h.net.ofType(packet.PKT_DATA), 3)
	assert.Empty(t, a.own)
	assert.Empty(t, a.relay)
	assert.Equal(t, 1, h.metrics.dropped[DropMaxRetransmission])
}

func TestAttemptsArePerNode(t *testing.T) {
	pkt := packet.NewDataPacket(1, 1, 3, 0, "")
	pkt.IncAttempts(1)
	pkt.IncAttempts(1)
	pkt.IncAttempts(1)

	b, d := newFakeNode(2, 50, 0), newFakeNode(3, 100, 0)
	h := newHarness(t, testConfig(), b, d)
	h.routers[2].Table().AddNeighbor(hello(3, 100, 0, 0), 0)
	b.relay = append(b.relay, pkt)

	h.routers[2].SendDataPacket(b, 1)
	assert.Len(t, h.net.ofType(packet.PKT_DATA), 1)
	assert.Equal(t, 1, pkt.Attempts(2))
}

func TestPerimeterLoopIsAFailedAttempt(t *testing.T) {
	a, b, d := newFakeNode(1, 0, 0), newFakeNode(2, -10, 0), newFakeNode(3, 100, 0)
	h := newHarness(t, testConfig(), a, b, d)
	h.routers[1].selector = &spySelector{err: ErrPerimeterLoop}
	h.routers[1].Table().AddNeighbor(hello(2, -10, 0, 0), 0)

	pkt := packet.NewDataPacket(1, 1, 3, 0, "")
	a.Enqueue(pkt)
	h.routers[1].SendDataPacket(a, 1)

	assert.Empty(t, h.net.sent)
	assert.Len(t, a.own, 1)
	assert.Equal(t, 1, pkt.Attempts(1))
	assert.Equal(t, 100.0, a.energy)
	assert.Equal(t, 1, h.metrics.dropped[DropPerimeterLoop])
}

func TestExpiredNeighborNotUsed(t *testing.T) {
	a, d := newFakeNode(1, 0, 0), newFakeNode(2, 50, 0)
	h := newHarness(t, testConfig(), a, d)
	h.routers[1].Table().AddNeighbor(hello(2, 50, 0, 0), 0)
	a.Enqueue(packet.NewDataPacket(1, 1, 2, 0, ""))

	h.routers[1].SendDataPacket(a, DefaultNeighborTimeout)

	assert.Empty(t, h.net.sent)
	assert.True(t, h.routers[1].Table().IsEmpty())
}

func TestRelayAcceptsAndAcksHopSender(t *testing.T) {
	a, b, d := newFakeNode(1, 0, 0), newFakeNode(2, 50, 0), newFakeNode(3, 100, 0)
	h := newHarness(t, testConfig(), a, b, d)

	pkt := packet.NewDataPacket(7, 1, 3, 0, "")
	pkt.IncreaseTTL()
	b.HandlePacket(a, packet.WrapData(pkt), 2)

	require.Len(t, b.relay, 1)
	acks := h.net.ofType(packet.PKT_ACK)
	require.Len(t, acks, 1)
	assert.Equal(t, uint32(1), acks[0].dst)
	assert.Equal(t, uint32(2), acks[0].pkt.Ack.Source)
	assert.Equal(t, uint32(1), acks[0].pkt.Ack.Dest)
	assert.Same(t, pkt, acks[0].pkt.Ack.Ref)
	assert.Equal(t, 100.0-0.5-1, b.energy)
}

func TestTTLCapDiscardsSilently(t *testing.T) {
	a, b, d := newFakeNode(1, 0, 0), newFakeNode(2, 50, 0), newFakeNode(3, 100, 0)
	h := newHarness(t, testConfig(), a, b, d)

	pkt := packet.NewDataPacket(7, 1, 3, 0, "")
	for i := 0; i < testConfig().MaxTTL; i++ {
		pkt.IncreaseTTL()
	}
	b.HandlePacket(a, packet.WrapData(pkt), 2)

	assert.Empty(t, b.relay)
	assert.Empty(t, h.net.sent)
	assert.Equal(t, 1, h.metrics.dropped[DropTTLExpired])
	assert.Equal(t, 99.5, b.energy, "reception still costs energy")
}

func TestFullBufferSendsNoAck(t *testing.T) {
	a, b, d := newFakeNode(1, 0, 0), newFakeNode(2, 50, 0), newFakeNode(3, 100, 0)
	b.capacity = 1
	h := newHarness(t, testConfig(), a, b, d)

	b.HandlePacket(a, packet.WrapData(packet.NewDataPacket(1, 1, 3, 0, "")), 1)
	b.HandlePacket(a, packet.WrapData(packet.NewDataPacket(2, 1, 3, 0, "")), 1)

	assert.Len(t, b.relay, 1)
	assert.Len(t, h.net.ofType(packet.PKT_ACK), 1)
	assert.Equal(t, 1, h.metrics.dropped[DropBufferFull])
}

func TestDeliveryRecordedOnFirstArrivalOnly(t *testing.T) {
	a, b, d := newFakeNode(1, 0, 0), newFakeNode(2, 50, 0), newFakeNode(3, 100, 0)
	h := newHarness(t, testConfig(), a, b, d)

	pkt := packet.NewDataPacket(7, 1, 3, 1, "hi")
	pkt.IncreaseTTL()
	pkt.IncreaseTTL()
	d.HandlePacket(b, packet.WrapData(pkt), 3)
	d.HandlePacket(a, packet.WrapData(pkt), 5)

	require.Len(t, h.metrics.deliveries, 1)
	assert.Equal(t, delivery{id: 7, latency: 2, hops: 2}, h.metrics.deliveries[0])
	assert.Equal(t, 2, h.metrics.marked)
	at, ok := pkt.DeliveredAt()
	assert.True(t, ok)
	assert.Equal(t, 3, at)
	assert.Empty(t, d.relay, "destination does not relay")

	acks := h.net.ofType(packet.PKT_ACK)
	require.Len(t, acks, 2)
	assert.Equal(t, uint32(2), acks[0].dst)
	assert.Equal(t, uint32(1), acks[1].dst)
}

func TestAckClearsBothQueues(t *testing.T) {
	a, b := newFakeNode(1, 0, 0), newFakeNode(2, 50, 0)
	newHarness(t, testConfig(), a, b)

	pkt := packet.NewDataPacket(7, 1, 2, 0, "")
	other := packet.NewDataPacket(8, 1, 2, 0, "")
	a.Enqueue(pkt)
	a.Enqueue(other)
	a.relay = append(a.relay, pkt)

	ack := packet.NewAckPacket(1, 2, 1, 1, pkt)
	a.HandlePacket(b, packet.WrapAck(ack), 1)

	require.Len(t, a.own, 1)
	assert.Equal(t, uint64(8), a.own[0].ID)
	assert.Empty(t, a.relay)
}

func TestFailedNodeIsSilent(t *testing.T) {
	a, b := newFakeNode(1, 0, 0), newFakeNode(2, 50, 0)
	h := newHarness(t, testConfig(), a, b)
	a.failed = true
	a.Enqueue(packet.NewDataPacket(1, 1, 2, 0, ""))
	h.routers[1].Table().AddNeighbor(hello(2, 50, 0, 0), 0)

	a.Routing([]mesh.INode{a, b}, 0)
	assert.Empty(t, h.net.sent)
}

func TestExhaustedNodeStopsForwarding(t *testing.T) {
	a, b := newFakeNode(1, 0, 0), newFakeNode(2, 50, 0)
	h := newHarness(t, testConfig(), a, b)
	a.energy = 0
	a.Enqueue(packet.NewDataPacket(1, 1, 2, 0, ""))
	h.routers[1].Table().AddNeighbor(hello(2, 50, 0, 0), 0)

	a.Routing([]mesh.INode{a, b}, 1)
	assert.Empty(t, h.net.ofType(packet.PKT_DATA))
}
