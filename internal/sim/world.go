package sim

import (
	"fmt"

	"go.uber.org/zap"

	"gpsr-simulation/internal/energy"
	eb "gpsr-simulation/internal/eventBus"
	"gpsr-simulation/internal/geo"
	"gpsr-simulation/internal/mesh"
	"gpsr-simulation/internal/metrics"
	"gpsr-simulation/internal/network"
	"gpsr-simulation/internal/node"
	"gpsr-simulation/internal/packet"
	"gpsr-simulation/internal/routing"
)

// World is the set of drones, their routers and the medium between them. It
// advances one step at a time and is not safe for concurrent Step calls.
type World struct {
	net     *network.NetworkImpl
	ids     *packet.IDAllocator
	coll    *metrics.Collector
	bus     *eb.EventBus
	log     *zap.SugaredLogger
	cfg     routing.Config
	energy  energy.Model
	routers map[uint32]*routing.GPSRRouter
}

func NewWorld(cfg routing.Config, commRange float64, em energy.Model, coll *metrics.Collector, bus *eb.EventBus, log *zap.SugaredLogger) *World {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if coll == nil {
		coll = metrics.NewCollector("")
	}
	return &World{
		net:     network.NewNetwork(commRange, coll, bus, log),
		ids:     packet.NewIDAllocator(),
		coll:    coll,
		bus:     bus,
		log:     log,
		cfg:     cfg,
		energy:  em,
		routers: make(map[uint32]*routing.GPSRRouter),
	}
}

// AddNode creates a drone with its own GPSR router and joins it to the medium.
func (w *World) AddNode(id uint32, pos geo.Coordinates, opts node.Options) mesh.INode {
	if opts.Log == nil {
		opts.Log = w.log
	}
	r := routing.NewGPSRRouter(id, w.cfg, routing.Deps{
		Net:     w.net,
		Energy:  w.energy,
		IDs:     w.ids,
		Metrics: w.coll,
		Bus:     w.bus,
		Log:     w.log,
	})
	n := node.NewNode(id, pos, r, opts)
	w.routers[id] = r
	w.net.Join(n)
	w.bus.Publish(eb.Event{Type: eb.EventNodeJoined, NodeID: id, X: pos.X, Y: pos.Y, Z: pos.Z})
	return n
}

func (w *World) RemoveNode(id uint32) error {
	if _, err := w.net.GetNode(id); err != nil {
		return err
	}
	w.net.Leave(id)
	delete(w.routers, id)
	w.bus.Publish(eb.Event{Type: eb.EventNodeLeft, NodeID: id})
	return nil
}

func (w *World) Node(id uint32) (mesh.INode, error) {
	return w.net.GetNode(id)
}

// Nodes returns the drones in join order.
func (w *World) Nodes() []mesh.INode {
	return w.net.Nodes()
}

func (w *World) Router(id uint32) (*routing.GPSRRouter, bool) {
	r, ok := w.routers[id]
	return r, ok
}

func (w *World) Network() *network.NetworkImpl {
	return w.net
}

func (w *World) Metrics() *metrics.Collector {
	return w.coll
}

// SendData queues a new data packet at src for dst and returns its id.
func (w *World) SendData(src, dst uint32, payload string, curStep int) (uint64, error) {
	from, err := w.net.GetNode(src)
	if err != nil {
		return 0, fmt.Errorf("source: %w", err)
	}
	if _, err := w.net.GetNode(dst); err != nil {
		return 0, fmt.Errorf("destination: %w", err)
	}
	if src == dst {
		return 0, fmt.Errorf("node %d cannot send to itself", src)
	}
	pkt := packet.NewDataPacket(w.ids.NextDataID(), src, dst, curStep, payload)
	from.Enqueue(pkt)
	w.coll.AddGenerated()
	w.log.Debugf("[sim] Node %d: queued DATA %d for %d", src, pkt.ID, dst)
	return pkt.ID, nil
}

// SetFailed takes a node down or brings it back.
func (w *World) SetFailed(id uint32, failed bool, curStep int) error {
	n, err := w.net.GetNode(id)
	if err != nil {
		return err
	}
	if n.Failed() == failed {
		return nil
	}
	n.SetFailed(failed)
	typ := eb.EventNodeRecovered
	if failed {
		typ = eb.EventNodeFailed
	}
	w.log.Infof("[sim] Node %d: %s at step %d", id, typ, curStep)
	w.bus.Publish(eb.Event{Type: typ, NodeID: id, Step: curStep})
	return nil
}

func (w *World) MoveNode(id uint32, pos geo.Coordinates, curStep int) error {
	n, err := w.net.GetNode(id)
	if err != nil {
		return err
	}
	n.SetPosition(pos)
	w.bus.Publish(eb.Event{Type: eb.EventMovedNode, NodeID: id, Step: curStep, X: pos.X, Y: pos.Y, Z: pos.Z})
	return nil
}

// Step runs every router once in join order, then delivers everything
// scheduled before the next step. It returns the number of deliveries.
func (w *World) Step(curStep int) int {
	all := w.net.Nodes()
	for _, n := range all {
		n.Routing(all, curStep)
	}
	return w.net.RunUntil(float64(curStep + 1))
}
