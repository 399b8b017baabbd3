package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gpsr-simulation/internal/eventBus"
	"gpsr-simulation/internal/mesh"
	"gpsr-simulation/internal/metrics"
	"gpsr-simulation/internal/packet"
	"gpsr-simulation/internal/sim"
)

type fakeSim struct {
	cmds chan sim.Command
}

func (f *fakeSim) Submit(cmd sim.Command) error {
	f.cmds <- cmd
	return nil
}

func (f *fakeSim) Nodes() []mesh.INode { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *eventBus.EventBus, *fakeSim, *metrics.Collector) {
	t.Helper()
	bus := eventBus.NewEventBus(nil)
	fs := &fakeSim{cmds: make(chan sim.Command, 4)}
	coll := metrics.NewCollector("ws-test")
	s := New(":0", bus, fs, coll.Registry(), zaptest.NewLogger(t).Sugar())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, bus, fs, coll
}

func TestWebsocketStreamsEvents(t *testing.T) {
	ts, bus, _, _ := newTestServer(t)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// the handler subscribes after the upgrade; keep publishing until it listens
	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				bus.Publish(eventBus.Event{Type: eventBus.EventMessageDelivered, NodeID: 3, PacketID: 11})
			}
		}
	}()

	var got eventBus.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&got))

	assert.Equal(t, eventBus.EventMessageDelivered, got.Type)
	assert.Equal(t, uint32(3), got.NodeID)
	assert.Equal(t, uint64(11), got.PacketID)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _, _, coll := newTestServer(t)
	coll.AddSent(packet.PKT_HELLO)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	buf := new(strings.Builder)
	_, err = io.Copy(buf, resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `gpsr_packets_sent_total{run_id="ws-test",type="HELLO"} 1`)
}

func TestNodeAPIRoutes(t *testing.T) {
	ts, _, fs, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/nodeAPI/fail", "application/json", strings.NewReader(`{"node_id": 5}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	select {
	case cmd := <-fs.cmds:
		assert.Equal(t, sim.Command{Kind: sim.CmdFail, Node: 5}, cmd)
	default:
		t.Fatal("command not submitted")
	}

	resp, err = http.Get(ts.URL + "/nodeAPI/nodes")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
