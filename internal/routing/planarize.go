package routing

import (
	"fmt"
	"math"

	"gpsr-simulation/internal/geo"
)

// Planarizer keeps the subset of a node's neighbor edges that belong to a
// planar subgraph, computed from local positions only. Output keeps the
// input order.
type Planarizer interface {
	Planarize(self geo.Coordinates, neighbors []NeighborEntry) []NeighborEntry
}

// GabrielGraph keeps u when no other neighbor lies strictly inside the circle
// whose diameter is self-u.
type GabrielGraph struct{}

func (GabrielGraph) Planarize(self geo.Coordinates, neighbors []NeighborEntry) []NeighborEntry {
	out := make([]NeighborEntry, 0, len(neighbors))
	for _, u := range neighbors {
		mid := geo.Midpoint(self, u.Position)
		radius := self.PlanarDistanceTo(u.Position) / 2
		keep := true
		for _, w := range neighbors {
			if w.ID == u.ID {
				continue
			}
			if w.Position.PlanarDistanceTo(mid) < radius {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, u)
		}
	}
	return out
}

// RelativeNeighborhoodGraph keeps u when no other neighbor is closer to both
// self and u than they are to each other.
type RelativeNeighborhoodGraph struct{}

func (RelativeNeighborhoodGraph) Planarize(self geo.Coordinates, neighbors []NeighborEntry) []NeighborEntry {
	out := make([]NeighborEntry, 0, len(neighbors))
	for _, u := range neighbors {
		d := self.PlanarDistanceTo(u.Position)
		keep := true
		for _, w := range neighbors {
			if w.ID == u.ID {
				continue
			}
			if math.Max(self.PlanarDistanceTo(w.Position), u.Position.PlanarDistanceTo(w.Position)) < d {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, u)
		}
	}
	return out
}

// PlanarizerByName maps the scenario setting to a strategy.
func PlanarizerByName(name string) (Planarizer, error) {
	switch name {
	case "", "gabriel":
		return GabrielGraph{}, nil
	case "rng":
		return RelativeNeighborhoodGraph{}, nil
	default:
		return nil, fmt.Errorf("unknown planarization %q", name)
	}
}
