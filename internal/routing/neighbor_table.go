package routing

import (
	"errors"
	"sort"
	"sync"

	"gpsr-simulation/internal/geo"
	"gpsr-simulation/internal/mesh"
	"gpsr-simulation/internal/packet"
)

var (
	// ErrPerimeterLoop means the packet walked a whole face without getting
	// closer to its destination.
	ErrPerimeterLoop = errors.New("perimeter traversal returned to the first edge of the face")
	// ErrNoPlanarNeighbor means planarization left no edge to forward on.
	ErrNoPlanarNeighbor = errors.New("no planar neighbor to forward on")
)

// NeighborEntry is what a node knows about one neighbor.
type NeighborEntry struct {
	ID        uint32
	Position  geo.Coordinates
	LastHeard int
}

// NeighborTable tracks live one-hop neighbors of a single node and picks GPSR
// next hops among them.
type NeighborTable struct {
	mu         sync.RWMutex
	entries    map[uint32]NeighborEntry
	timeout    int
	planarizer Planarizer
}

func NewNeighborTable(timeout int, planarizer Planarizer) *NeighborTable {
	if planarizer == nil {
		planarizer = GabrielGraph{}
	}
	return &NeighborTable{
		entries:    make(map[uint32]NeighborEntry),
		timeout:    timeout,
		planarizer: planarizer,
	}
}

// AddNeighbor inserts or refreshes the entry of the beacon's creator.
func (t *NeighborTable) AddNeighbor(hello *packet.HelloPacket, curStep int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[hello.CreatorID] = NeighborEntry{
		ID:        hello.CreatorID,
		Position:  hello.Position,
		LastHeard: curStep,
	}
}

// Purge drops every entry not heard from within the timeout and returns the
// removed ids in ascending order.
func (t *NeighborTable) Purge(curStep int) []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []uint32
	for id, e := range t.entries {
		if curStep-e.LastHeard >= t.timeout {
			delete(t.entries, id)
			expired = append(expired, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i] < expired[j] })
	return expired
}

func (t *NeighborTable) IsNeighbor(id uint32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[id]
	return ok
}

func (t *NeighborTable) IsEmpty() bool {
	return t.Len() == 0
}

func (t *NeighborTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Neighbors returns a snapshot ordered by id.
func (t *NeighborTable) Neighbors() []NeighborEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]NeighborEntry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *NeighborTable) lookup(id uint32) (NeighborEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e, ok
}

// BestNeighbor chooses the next hop for pkt at self. The table must not be
// empty. The header for the chosen hop is written into pkt.
func (t *NeighborTable) BestNeighbor(self, dst mesh.INode, pkt *packet.DataPacket) (uint32, error) {
	selfID := self.GetID()
	selfPos := self.GetPosition()
	dstPos := dst.GetPosition()

	hdr := pkt.Header(selfID)
	if hdr.Mode == packet.ModePerimeter && selfPos.DistanceTo(dstPos) < hdr.EntryPos.DistanceTo(dstPos) {
		// made progress since perimeter mode began
		hdr = packet.RoutingHeader{}
	}

	if hdr.Mode == packet.ModeGreedy {
		if next, ok := t.greedy(selfPos, dstPos); ok {
			pkt.SetHeader(next, packet.RoutingHeader{Mode: packet.ModeGreedy, From: selfID})
			return next, nil
		}
		hdr = packet.RoutingHeader{
			Mode:     packet.ModePerimeter,
			EntryPos: selfPos,
			FacePos:  selfPos,
		}
		return t.perimeter(selfID, selfPos, dstPos, geo.Bearing(selfPos, dstPos), hdr, pkt)
	}

	ref := geo.Bearing(selfPos, dstPos)
	if prev, ok := t.lookup(hdr.From); ok {
		ref = geo.Bearing(selfPos, prev.Position)
	}
	return t.perimeter(selfID, selfPos, dstPos, ref, hdr, pkt)
}

// greedy returns the neighbor closest to dst if it is strictly closer than
// self. Equal distances go to the lower id.
func (t *NeighborTable) greedy(selfPos, dstPos geo.Coordinates) (uint32, bool) {
	best := NeighborEntry{}
	bestDist := 0.0
	found := false
	for _, n := range t.Neighbors() {
		d := n.Position.DistanceTo(dstPos)
		if !found || d < bestDist {
			best, bestDist, found = n, d, true
		}
	}
	if !found || bestDist >= selfPos.DistanceTo(dstPos) {
		return 0, false
	}
	return best.ID, true
}

// perimeter applies the right-hand rule on the planarized neighbor set,
// starting the clockwise sweep at bearing ref.
func (t *NeighborTable) perimeter(selfID uint32, selfPos, dstPos geo.Coordinates, ref float64, hdr packet.RoutingHeader, pkt *packet.DataPacket) (uint32, error) {
	planar := t.planarizer.Planarize(selfPos, t.Neighbors())
	if len(planar) == 0 {
		pkt.ClearHeader(selfID)
		return 0, ErrNoPlanarNeighbor
	}

	next := clockwiseFirst(selfPos, planar, ref)
	for i := 0; i < len(planar); i++ {
		p, ok := geo.SegmentIntersection(selfPos, next.Position, hdr.EntryPos, dstPos)
		if !ok || p.DistanceTo(dstPos) >= hdr.FacePos.DistanceTo(dstPos)-faceEpsilon {
			break
		}
		// edge crosses Lp->D closer to D: switch to the next face
		hdr.FacePos = p
		hdr.HasFirstEdge = false
		next = clockwiseFirst(selfPos, planar, geo.Bearing(selfPos, next.Position))
	}

	edge := packet.Edge{From: selfID, To: next.ID}
	if hdr.HasFirstEdge && hdr.FirstEdge == edge {
		pkt.ClearHeader(selfID)
		return 0, ErrPerimeterLoop
	}
	if !hdr.HasFirstEdge {
		hdr.FirstEdge = edge
		hdr.HasFirstEdge = true
	}
	hdr.Mode = packet.ModePerimeter
	hdr.From = selfID
	pkt.SetHeader(next.ID, hdr)
	return next.ID, nil
}

const faceEpsilon = 1e-9

// clockwiseFirst is the first neighbor met sweeping clockwise from ref.
// Candidates must be ordered by id so equal angles resolve to the lower id.
func clockwiseFirst(selfPos geo.Coordinates, candidates []NeighborEntry, ref float64) NeighborEntry {
	best := candidates[0]
	bestAngle := geo.ClockwiseAngle(ref, geo.Bearing(selfPos, best.Position))
	for _, c := range candidates[1:] {
		a := geo.ClockwiseAngle(ref, geo.Bearing(selfPos, c.Position))
		if a < bestAngle {
			best, bestAngle = c, a
		}
	}
	return best
}
