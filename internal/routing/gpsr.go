package routing

import (
	"errors"

	"go.uber.org/zap"

	"gpsr-simulation/internal/energy"
	"gpsr-simulation/internal/eventBus"
	"gpsr-simulation/internal/mesh"
	"gpsr-simulation/internal/packet"
)

// Config holds the protocol constants shared by every router of a run.
type Config struct {
	HelloInterval     int     // steps between beacons
	NeighborTimeout   int     // liveness window in steps
	MaxRetransmission int     // per-node transmission attempts per packet
	MaxTTL            int     // hop cap checked on reception
	DispatchDelay     float64 // added to every scheduled hop, in steps
	Planarizer        Planarizer
}

const (
	DefaultHelloInterval     = 5
	DefaultNeighborTimeout   = 15
	DefaultMaxRetransmission = 5
	DefaultMaxTTL            = 30
	DefaultDispatchDelay     = 0.01
)

func DefaultConfig() Config {
	return Config{
		HelloInterval:     DefaultHelloInterval,
		NeighborTimeout:   DefaultNeighborTimeout,
		MaxRetransmission: DefaultMaxRetransmission,
		MaxTTL:            DefaultMaxTTL,
		DispatchDelay:     DefaultDispatchDelay,
		Planarizer:        GabrielGraph{},
	}
}

// Deps are the collaborators a router talks to.
type Deps struct {
	Net     mesh.INetwork
	Energy  energy.Model
	IDs     *packet.IDAllocator
	Metrics Metrics
	Bus     *eventBus.EventBus
	Log     *zap.SugaredLogger
}

// GPSRRouter is a per-node Greedy Perimeter Stateless Routing engine.
type GPSRRouter struct {
	ownerID  uint32
	cfg      Config
	table    *NeighborTable
	selector nextHopSelector

	net     mesh.INetwork
	energy  energy.Model
	ids     *packet.IDAllocator
	metrics Metrics
	bus     *eventBus.EventBus
	log     *zap.SugaredLogger
}

// NewGPSRRouter constructs a router for a specific node
func NewGPSRRouter(ownerID uint32, cfg Config, deps Deps) *GPSRRouter {
	if cfg.HelloInterval <= 0 {
		cfg.HelloInterval = 1
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop().Sugar()
	}
	if deps.IDs == nil {
		deps.IDs = packet.NewIDAllocator()
	}
	if deps.Energy == nil {
		deps.Energy = energy.Fixed{}
	}
	table := NewNeighborTable(cfg.NeighborTimeout, cfg.Planarizer)
	return &GPSRRouter{
		ownerID:  ownerID,
		cfg:      cfg,
		table:    table,
		selector: table,
		net:      deps.Net,
		energy:   deps.Energy,
		ids:      deps.IDs,
		metrics:  deps.Metrics,
		bus:      deps.Bus,
		log:      deps.Log,
	}
}

func (r *GPSRRouter) Table() *NeighborTable {
	return r.table
}

func (r *GPSRRouter) Neighbors() []NeighborEntry {
	return r.table.Neighbors()
}

// Routing is the per-step entry point.
func (r *GPSRRouter) Routing(self mesh.INode, all []mesh.INode, curStep int) {
	if self.Failed() {
		return
	}
	r.SendHelloPacket(self, all, curStep)
	if !self.NoTransmission() {
		r.SendDataPacket(self, curStep)
	}
}

// SendHelloPacket broadcasts the node's position every HelloInterval steps.
func (r *GPSRRouter) SendHelloPacket(self mesh.INode, all []mesh.INode, curStep int) {
	if curStep%r.cfg.HelloInterval != 0 {
		return
	}

	pos := self.GetPosition()
	hello := packet.NewHelloPacket(r.ids.NextHelloID(), self.GetID(), curStep, pos)
	r.broadcastMessage(packet.WrapHello(hello), self, all, curStep)

	// one radio transmission regardless of how many nodes hear it
	self.ConsumeEnergy(r.energy.TransmitCost())
	r.metrics.AddSent(packet.PKT_HELLO)
	r.bus.Publish(eventBus.Event{
		Type:     eventBus.EventHelloSent,
		NodeID:   r.ownerID,
		PacketID: hello.ID,
		Step:     curStep,
		X:        pos.X,
		Y:        pos.Y,
		Z:        pos.Z,
	})
}

// SendDataPacket drains the own and relay queues toward their next hops.
func (r *GPSRRouter) SendDataPacket(self mesh.INode, curStep int) {
	// purge before anything else so a neighbor that just timed out is never
	// picked below
	for _, id := range r.table.Purge(curStep) {
		r.log.Debugf("[sim] Node %d: neighbor %d expired at step %d", r.ownerID, id, curStep)
		r.bus.Publish(eventBus.Event{Type: eventBus.EventRemoveNeighbor, NodeID: r.ownerID, OtherNodeID: id, Step: curStep})
	}

	if self.Failed() || self.NoTransmission() {
		return
	}
	own := self.OwnQueue()
	relay := self.RelayQueue()
	if len(own)+len(relay) == 0 || r.table.IsEmpty() {
		return
	}

	allPackets := make([]*packet.DataPacket, 0, len(own)+len(relay))
	allPackets = append(allPackets, own...)
	allPackets = append(allPackets, relay...)

	seen := make(map[uint64]bool, len(allPackets))
	var toDrop []*packet.DataPacket
	for _, pkt := range allPackets {
		if seen[pkt.ID] {
			continue
		}
		seen[pkt.ID] = true

		if pkt.Attempts(r.ownerID) >= r.cfg.MaxRetransmission {
			toDrop = append(toDrop, pkt)
			continue
		}
		pkt.IncreaseTTL()
		pkt.IncAttempts(r.ownerID)

		next, ok := r.resolveNextHop(self, pkt, curStep)
		if !ok {
			continue
		}
		r.unicastMessage(packet.WrapData(pkt), self, next, curStep)
		self.ConsumeEnergy(r.energy.TransmitCost())
		r.metrics.AddSent(packet.PKT_DATA)
		r.bus.Publish(eventBus.Event{
			Type:        eventBus.EventMessageSent,
			NodeID:      r.ownerID,
			OtherNodeID: next.GetID(),
			PacketID:    pkt.ID,
			PacketType:  packet.PKT_DATA,
			Step:        curStep,
		})
	}

	for _, pkt := range toDrop {
		self.RemoveFromRelayQueue(pkt.ID)
		self.RemoveFromOwnQueue(pkt.ID)
		r.metrics.AddDropped(DropMaxRetransmission)
		r.log.Debugf("[sim] Node %d: dropping packet %d after %d attempts", r.ownerID, pkt.ID, r.cfg.MaxRetransmission)
		r.bus.Publish(eventBus.Event{
			Type:       eventBus.EventMessageDropped,
			NodeID:     r.ownerID,
			PacketID:   pkt.ID,
			PacketType: packet.PKT_DATA,
			Step:       curStep,
			Payload:    DropMaxRetransmission,
		})
	}
}

// resolveNextHop returns the node pkt goes to next. A false result is a
// failed attempt: the packet stays queued and the attempt stays counted.
func (r *GPSRRouter) resolveNextHop(self mesh.INode, pkt *packet.DataPacket, curStep int) (mesh.INode, bool) {
	dst, err := r.net.GetNode(pkt.DstID)
	if err != nil {
		r.log.Debugf("[sim] Node %d: destination %d of packet %d unknown: %v", r.ownerID, pkt.DstID, pkt.ID, err)
		r.metrics.AddDropped(DropNoRoute)
		return nil, false
	}
	if r.table.IsNeighbor(pkt.DstID) {
		return dst, true
	}

	wasPerimeter := pkt.Header(r.ownerID).Mode == packet.ModePerimeter
	nextID, err := r.selector.BestNeighbor(self, dst, pkt)
	if err != nil {
		reason := DropNoRoute
		if errors.Is(err, ErrPerimeterLoop) {
			reason = DropPerimeterLoop
		}
		r.metrics.AddDropped(reason)
		r.log.Debugf("[sim] Node %d: no next hop for packet %d to %d: %v", r.ownerID, pkt.ID, pkt.DstID, err)
		return nil, false
	}
	if !wasPerimeter && pkt.Header(nextID).Mode == packet.ModePerimeter {
		r.log.Debugf("[sim] Node %d: packet %d hit a void, perimeter mode via %d", r.ownerID, pkt.ID, nextID)
		r.bus.Publish(eventBus.Event{
			Type:        eventBus.EventPerimeterMode,
			NodeID:      r.ownerID,
			OtherNodeID: nextID,
			PacketID:    pkt.ID,
			Step:        curStep,
		})
	}

	next, err := r.net.GetNode(nextID)
	if err != nil {
		r.log.Debugf("[sim] Node %d: next hop %d vanished: %v", r.ownerID, nextID, err)
		r.metrics.AddDropped(DropNoRoute)
		return nil, false
	}
	return next, true
}

// PacketReception handles every packet the network delivers to self.
func (r *GPSRRouter) PacketReception(self, src mesh.INode, pkt packet.Packet, curStep int) {
	self.ConsumeEnergy(r.energy.ReceiveCost())

	switch pkt.Type {
	case packet.PKT_HELLO:
		r.handleHello(pkt.Hello, curStep)
	case packet.PKT_DATA:
		r.handleData(self, src, pkt.Data, curStep)
	case packet.PKT_ACK:
		r.handleAck(self, pkt.Ack, curStep)
	default:
		r.log.Warnf("[sim] Node %d: unknown packet type %d from %d", r.ownerID, pkt.Type, src.GetID())
	}
}

func (r *GPSRRouter) handleHello(hello *packet.HelloPacket, curStep int) {
	known := r.table.IsNeighbor(hello.CreatorID)
	r.table.AddNeighbor(hello, curStep)
	if !known {
		r.log.Debugf("[sim] Node %d: new neighbor %d", r.ownerID, hello.CreatorID)
		r.bus.Publish(eventBus.Event{
			Type:        eventBus.EventAddNeighbor,
			NodeID:      r.ownerID,
			OtherNodeID: hello.CreatorID,
			Step:        curStep,
		})
	}
}

func (r *GPSRRouter) handleData(self, src mesh.INode, data *packet.DataPacket, curStep int) {
	if data.TTL() >= r.cfg.MaxTTL {
		r.log.Debugf("[sim] Node %d: packet %d too old (ttl %d), discarding", r.ownerID, data.ID, data.TTL())
		r.metrics.AddDropped(DropTTLExpired)
		return
	}

	if data.DstID == self.GetID() {
		if data.MarkDelivered(curStep) {
			latency := curStep - data.CreatedAt
			r.metrics.RecordDelivery(data.ID, latency, data.TTL())
			r.log.Debugf("[sim] Node %d: DATA %d arrived from %d after %d steps, %d hops", r.ownerID, data.ID, data.SrcID, latency, data.TTL())
			r.bus.Publish(eventBus.Event{
				Type:        eventBus.EventMessageDelivered,
				NodeID:      r.ownerID,
				OtherNodeID: data.SrcID,
				PacketID:    data.ID,
				PacketType:  packet.PKT_DATA,
				Step:        curStep,
				Payload:     data.Payload,
			})
		}
		r.metrics.MarkDelivered(data.ID)
	} else if !self.AcceptIntoRelayQueue(data) {
		// no ack: the sender keeps the packet and retries
		r.metrics.AddDropped(DropBufferFull)
		r.log.Debugf("[sim] Node %d: relay buffer full, refusing packet %d", r.ownerID, data.ID)
		return
	}

	r.sendAck(self, src, data, curStep)
}

func (r *GPSRRouter) sendAck(self, src mesh.INode, data *packet.DataPacket, curStep int) {
	ack := packet.NewAckPacket(r.ids.NextAckID(), self.GetID(), src.GetID(), curStep, data)
	r.unicastMessage(packet.WrapAck(ack), self, src, curStep)
	self.ConsumeEnergy(r.energy.TransmitCost())
	r.metrics.AddSent(packet.PKT_ACK)
	r.bus.Publish(eventBus.Event{
		Type:        eventBus.EventAckSent,
		NodeID:      r.ownerID,
		OtherNodeID: src.GetID(),
		PacketID:    data.ID,
		PacketType:  packet.PKT_ACK,
		Step:        curStep,
	})
}

func (r *GPSRRouter) handleAck(self mesh.INode, ack *packet.AckPacket, curStep int) {
	self.RemoveFromRelayQueue(ack.Ref.ID)
	self.RemoveFromOwnQueue(ack.Ref.ID)
	r.bus.Publish(eventBus.Event{
		Type:        eventBus.EventReceivedDataAck,
		NodeID:      r.ownerID,
		OtherNodeID: ack.Source,
		PacketID:    ack.Ref.ID,
		Step:        curStep,
	})
}

func (r *GPSRRouter) broadcastMessage(pkt packet.Packet, src mesh.INode, all []mesh.INode, curStep int) {
	for _, dst := range all {
		if dst.GetID() == src.GetID() {
			continue
		}
		r.unicastMessage(pkt, src, dst, curStep)
	}
}

func (r *GPSRRouter) unicastMessage(pkt packet.Packet, src, dst mesh.INode, curStep int) {
	r.net.Notify(pkt, src, dst, float64(curStep)+r.cfg.DispatchDelay)
}
