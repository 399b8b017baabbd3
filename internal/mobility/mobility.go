package mobility

import (
	"fmt"
	"math/rand"
	"sync"

	"gpsr-simulation/internal/geo"
	"gpsr-simulation/internal/mesh"
)

// Model moves nodes once per step.
type Model interface {
	Move(n mesh.INode, curStep int)
}

// Area bounds where nodes may be placed or fly to.
type Area struct {
	Width  float64
	Height float64
	MinAlt float64
	MaxAlt float64
}

// RandomPoint draws a uniformly distributed point inside the area.
func (a Area) RandomPoint(rng *rand.Rand) geo.Coordinates {
	z := a.MinAlt
	if a.MaxAlt > a.MinAlt {
		z += rng.Float64() * (a.MaxAlt - a.MinAlt)
	}
	return geo.CreateCoordinates(rng.Float64()*a.Width, rng.Float64()*a.Height, z)
}

// Static never moves anything.
type Static struct{}

func (Static) Move(mesh.INode, int) {}

type waypointState struct {
	target     geo.Coordinates
	moving     bool
	pauseUntil int
}

// RandomWaypoint flies every node in a straight line to a random point, waits
// there for PauseSteps and picks the next point.
type RandomWaypoint struct {
	area       Area
	speed      float64 // metres per step
	pauseSteps int

	mu    sync.Mutex
	rng   *rand.Rand
	state map[uint32]*waypointState
}

func NewRandomWaypoint(area Area, speed float64, pauseSteps int, seed int64) *RandomWaypoint {
	return &RandomWaypoint{
		area:       area,
		speed:      speed,
		pauseSteps: pauseSteps,
		rng:        rand.New(rand.NewSource(seed)),
		state:      make(map[uint32]*waypointState),
	}
}

func (w *RandomWaypoint) Move(n mesh.INode, curStep int) {
	if n.Failed() || w.speed <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.state[n.GetID()]
	if !ok {
		st = &waypointState{}
		w.state[n.GetID()] = st
	}
	if curStep < st.pauseUntil {
		return
	}
	if !st.moving {
		st.target = w.area.RandomPoint(w.rng)
		st.moving = true
	}

	pos := n.GetPosition()
	dist := pos.DistanceTo(st.target)
	if dist <= w.speed {
		n.SetPosition(st.target)
		st.moving = false
		st.pauseUntil = curStep + 1 + w.pauseSteps
		return
	}
	f := w.speed / dist
	n.SetPosition(geo.CreateCoordinates(
		pos.X+(st.target.X-pos.X)*f,
		pos.Y+(st.target.Y-pos.Y)*f,
		pos.Z+(st.target.Z-pos.Z)*f,
	))
}

// ByName builds the model named in a scenario.
func ByName(name string, area Area, speed float64, pauseSteps int, seed int64) (Model, error) {
	switch name {
	case "", "static":
		return Static{}, nil
	case "waypoint", "random_waypoint":
		return NewRandomWaypoint(area, speed, pauseSteps, seed), nil
	default:
		return nil, fmt.Errorf("unknown mobility model %q", name)
	}
}
