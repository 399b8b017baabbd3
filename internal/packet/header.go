package packet

import "gpsr-simulation/internal/geo"

type Mode uint8

const (
	ModeGreedy Mode = iota
	ModePerimeter
)

func (m Mode) String() string {
	if m == ModePerimeter {
		return "perimeter"
	}
	return "greedy"
}

// Edge is a directed planar edge From -> To.
type Edge struct {
	From uint32
	To   uint32
}

// RoutingHeader is the GPSR state carried with a data packet to its next hop.
type RoutingHeader struct {
	Mode Mode
	From uint32 // hop the packet arrives from

	// perimeter mode only
	EntryPos     geo.Coordinates // Lp: where perimeter mode began
	FacePos      geo.Coordinates // Lf: where the current face was entered
	FirstEdge    Edge            // e0: first edge traversed on the current face
	HasFirstEdge bool
}
