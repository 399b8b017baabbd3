package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gpsr-simulation/internal/energy"
	eb "gpsr-simulation/internal/eventBus"
	"gpsr-simulation/internal/geo"
	"gpsr-simulation/internal/metrics"
	"gpsr-simulation/internal/node"
	"gpsr-simulation/internal/routing"
)

func newTestWorld(t *testing.T, commRange float64, bus *eb.EventBus, positions ...[2]float64) *World {
	t.Helper()
	w := NewWorld(routing.DefaultConfig(), commRange, energy.Fixed{}, metrics.NewCollector("test"), bus, zaptest.NewLogger(t).Sugar())
	for i, p := range positions {
		w.AddNode(uint32(i), geo.CreateCoordinates(p[0], p[1], 0), node.Options{})
	}
	return w
}

func assertQueuesEmpty(t *testing.T, w *World) {
	t.Helper()
	for _, n := range w.Nodes() {
		assert.Empty(t, n.OwnQueue(), "own queue of %d", n.GetID())
		assert.Empty(t, n.RelayQueue(), "relay queue of %d", n.GetID())
	}
}

func TestLineDeliveryWithHopByHopAcks(t *testing.T) {
	w := newTestWorld(t, 150, nil, [2]float64{0, 0}, [2]float64{100, 0}, [2]float64{200, 0})

	w.Step(0)
	r0, _ := w.Router(0)
	r1, _ := w.Router(1)
	r2, _ := w.Router(2)
	assert.Equal(t, 1, r0.Table().Len())
	assert.Equal(t, 2, r1.Table().Len())
	assert.False(t, r2.Table().IsNeighbor(0))

	id, err := w.SendData(0, 2, "reading", 1)
	require.NoError(t, err)
	w.Step(1)

	n1, _ := w.Node(1)
	require.Len(t, n1.RelayQueue(), 1, "B holds the packet for C")
	n0, _ := w.Node(0)
	assert.Empty(t, n0.OwnQueue(), "A's copy was acked by B")

	w.Step(2)
	latency, hops, ok := w.Metrics().Latency(id)
	require.True(t, ok)
	assert.Equal(t, 1, latency)
	assert.Equal(t, 2, hops)

	s := w.Metrics().Snapshot()
	assert.Equal(t, uint64(2), s.SentByType["ACK"])
	assert.Equal(t, uint64(2), s.SentByType["DATA"])
	assert.Equal(t, 1.0, s.PacketDeliveryRate)
	assertQueuesEmpty(t, w)
}

func TestPerimeterModeRoutesAroundVoid(t *testing.T) {
	bus := eb.NewEventBus(nil)
	events := bus.Subscribe()
	w := newTestWorld(t, 120, bus,
		[2]float64{0, 0},     // source
		[2]float64{-60, 80},  // only neighbor of the source, farther from the destination
		[2]float64{20, 160},  //
		[2]float64{120, 130}, // first node closer than where perimeter mode began
		[2]float64{200, 60},  //
		[2]float64{250, 0},   // destination
	)

	w.Step(0)
	id, err := w.SendData(0, 5, "", 1)
	require.NoError(t, err)
	for step := 1; step < 10; step++ {
		w.Step(step)
	}

	latency, hops, ok := w.Metrics().Latency(id)
	require.True(t, ok, "packet delivered")
	assert.Equal(t, 5, hops)
	assert.Equal(t, 4, latency)
	assertQueuesEmpty(t, w)

	perimeter := 0
	for len(events) > 0 {
		if ev := <-events; ev.Type == eb.EventPerimeterMode {
			perimeter++
			assert.Equal(t, uint32(0), ev.NodeID)
			assert.Equal(t, uint32(1), ev.OtherNodeID)
		}
	}
	assert.Equal(t, 1, perimeter)
}

func TestExhaustedFaceEndsInDrop(t *testing.T) {
	w := newTestWorld(t, 100, nil, [2]float64{0, 0}, [2]float64{-60, 0}, [2]float64{500, 0})

	w.Step(0)
	id, err := w.SendData(0, 2, "", 1)
	require.NoError(t, err)
	for step := 1; step < 20; step++ {
		w.Step(step)
	}

	_, _, ok := w.Metrics().Latency(id)
	assert.False(t, ok)
	s := w.Metrics().Snapshot()
	assert.GreaterOrEqual(t, s.DroppedByReason[routing.DropPerimeterLoop], uint64(1))
	assert.Equal(t, uint64(1), s.DroppedByReason[routing.DropMaxRetransmission])
	assertQueuesEmpty(t, w)
}

func TestFailedRelayIsLost(t *testing.T) {
	w := newTestWorld(t, 150, nil, [2]float64{0, 0}, [2]float64{100, 0}, [2]float64{200, 0})
	w.Step(0)
	require.NoError(t, w.SetFailed(1, true, 1))

	_, err := w.SendData(0, 2, "", 1)
	require.NoError(t, err)
	w.Step(1)

	n0, _ := w.Node(0)
	assert.Len(t, n0.OwnQueue(), 1, "no ack from a failed node")
	assert.Equal(t, uint64(1), w.Metrics().Snapshot().Lost)
}

func TestSendDataRejectsUnknownNodes(t *testing.T) {
	w := newTestWorld(t, 150, nil, [2]float64{0, 0})
	_, err := w.SendData(0, 9, "", 0)
	assert.Error(t, err)
	_, err = w.SendData(9, 0, "", 0)
	assert.Error(t, err)
	_, err = w.SendData(0, 0, "", 0)
	assert.Error(t, err)
}

func TestApplyCommands(t *testing.T) {
	w := newTestWorld(t, 150, nil, [2]float64{0, 0}, [2]float64{100, 0})

	require.NoError(t, w.Apply(Command{Kind: CmdMove, Node: 1, X: 5, Y: 6, Z: 7}, 0))
	n1, _ := w.Node(1)
	assert.True(t, n1.GetPosition().Equals(geo.CreateCoordinates(5, 6, 7)))

	require.NoError(t, w.Apply(Command{Kind: CmdFail, Node: 1}, 0))
	assert.True(t, n1.Failed())
	require.NoError(t, w.Apply(Command{Kind: CmdRecover, Node: 1}, 0))
	assert.False(t, n1.Failed())

	require.NoError(t, w.Apply(Command{Kind: CmdSend, Node: 0, Dest: 1}, 0))
	n0, _ := w.Node(0)
	assert.Len(t, n0.OwnQueue(), 1)

	assert.ErrorIs(t, w.Apply(Command{Kind: "teleport"}, 0), ErrUnknownCommand)
}

func TestRemoveNode(t *testing.T) {
	w := newTestWorld(t, 150, nil, [2]float64{0, 0}, [2]float64{100, 0})
	require.NoError(t, w.RemoveNode(1))
	assert.Len(t, w.Nodes(), 1)
	_, ok := w.Router(1)
	assert.False(t, ok)
	assert.Error(t, w.RemoveNode(1))
}
