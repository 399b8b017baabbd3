package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	eb "gpsr-simulation/internal/eventBus"
	"gpsr-simulation/internal/geo"
	"gpsr-simulation/internal/mesh"
	"gpsr-simulation/internal/metrics"
	"gpsr-simulation/internal/mobility"
	"gpsr-simulation/internal/node"
)

var (
	ErrRunnerStopped = errors.New("runner stopped")
	ErrCommandsFull  = errors.New("command queue full")
)

type Runner struct {
	sc    *Scenario
	world *World
	mob   mobility.Model
	rng   *rand.Rand
	runID string
	bus   *eb.EventBus
	coll  *metrics.Collector
	log   *zap.SugaredLogger

	commands chan Command
	step     atomic.Int64
	quit     chan struct{}
	stopOnce sync.Once
}

// NewRunner builds the world described by sc. A nil collector gets one
// labelled with a fresh run id.
func NewRunner(sc *Scenario, bus *eb.EventBus, coll *metrics.Collector, log *zap.SugaredLogger) (*Runner, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	runID := uuid.NewString()
	if coll == nil {
		coll = metrics.NewCollector(runID)
	}
	bus.SetRunID(runID)

	cfg, err := sc.RoutingConfig()
	if err != nil {
		return nil, err
	}
	mob, err := mobility.ByName(sc.Mobility.Model, sc.MobilityArea(), sc.Mobility.Speed, sc.Mobility.PauseSteps, sc.Seed)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		sc:       sc,
		world:    NewWorld(cfg, sc.Nodes.CommRange, sc.EnergyModel(), coll, bus, log),
		mob:      mob,
		rng:      rand.New(rand.NewSource(sc.Seed)),
		runID:    runID,
		bus:      bus,
		coll:     coll,
		log:      log,
		commands: make(chan Command, 64),
		quit:     make(chan struct{}),
	}
	if err := r.placeNodes(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runner) placeNodes() error {
	opts := node.Options{InitialEnergy: r.sc.Nodes.InitialEnergy, QueueCapacity: r.sc.Nodes.QueueCapacity, Log: r.log}
	area := r.sc.MobilityArea()
	n := r.sc.Nodes.Count

	switch r.sc.Nodes.Placement {
	case "explicit":
		for i, p := range r.sc.Nodes.Positions {
			r.world.AddNode(uint32(i), geo.CreateCoordinates(p[0], p[1], p[2]), opts)
		}
	case "grid":
		cols := int(math.Ceil(math.Sqrt(float64(n))))
		rows := int(math.Ceil(float64(n) / float64(cols)))
		for i := 0; i < n; i++ {
			x := (float64(i%cols) + 0.5) * area.Width / float64(cols)
			y := (float64(i/cols) + 0.5) * area.Height / float64(rows)
			r.world.AddNode(uint32(i), geo.CreateCoordinates(x, y, area.MinAlt), opts)
		}
	case "uniform":
		for i := 0; i < n; i++ {
			r.world.AddNode(uint32(i), area.RandomPoint(r.rng), opts)
		}
	default:
		return fmt.Errorf("unknown placement %q", r.sc.Nodes.Placement)
	}
	r.log.Infof("[sim] placed %d nodes (%s) for run %s", n, r.sc.Nodes.Placement, r.runID)
	return nil
}

func (r *Runner) RunID() string               { return r.runID }
func (r *Runner) World() *World               { return r.world }
func (r *Runner) Metrics() *metrics.Collector { return r.coll }

// CurrentStep is the step being simulated, safe to call from any goroutine.
func (r *Runner) CurrentStep() int {
	return int(r.step.Load())
}

// Submit queues cmd for the next step boundary.
func (r *Runner) Submit(cmd Command) error {
	select {
	case <-r.quit:
		return ErrRunnerStopped
	default:
	}
	select {
	case r.commands <- cmd:
		return nil
	default:
		return ErrCommandsFull
	}
}

// Stop asks Run to return after the current step.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

// Run simulates every step of the scenario. It returns nil when the scenario
// completes or Stop is called, and ctx.Err() when ctx ends first.
func (r *Runner) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if d := r.sc.StepInterval.Std(); d > 0 {
		t := time.NewTicker(d)
		defer t.Stop()
		tick = t.C
	}

	defer r.finish()
	for step := 0; step < r.sc.Steps; step++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.quit:
			r.log.Infof("[sim] stopping early at step %d", step)
			return nil
		default:
		}
		r.step.Store(int64(step))
		r.runStep(step)

		if tick != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.quit:
				return nil
			case <-tick:
			}
		}
	}
	return nil
}

func (r *Runner) runStep(step int) {
	r.applyCommands(step)
	r.moveNodes(step)
	r.injectFailures(step)
	r.generateTraffic(step)
	delivered := r.world.Step(step)
	r.log.Debugf("[sim] step %d: %d deliveries", step, delivered)
}

func (r *Runner) applyCommands(step int) {
	for {
		select {
		case cmd := <-r.commands:
			if err := r.world.Apply(cmd, step); err != nil {
				r.log.Warnf("[sim] command %s for node %d failed: %v", cmd.Kind, cmd.Node, err)
			}
		default:
			return
		}
	}
}

func (r *Runner) moveNodes(step int) {
	if _, ok := r.mob.(mobility.Static); ok {
		return
	}
	for _, n := range r.world.Nodes() {
		before := n.GetPosition()
		r.mob.Move(n, step)
		if after := n.GetPosition(); !after.Equals(before) {
			r.bus.Publish(eb.Event{Type: eb.EventMovedNode, NodeID: n.GetID(), Step: step, X: after.X, Y: after.Y, Z: after.Z})
		}
	}
}

func (r *Runner) injectFailures(step int) {
	for _, f := range r.sc.Failures {
		var err error
		switch {
		case f.AtStep == step:
			err = r.world.SetFailed(f.Node, true, step)
		case f.RecoverStep > f.AtStep && f.RecoverStep == step:
			err = r.world.SetFailed(f.Node, false, step)
		}
		if err != nil {
			r.log.Warnf("[sim] failure schedule for node %d: %v", f.Node, err)
		}
	}
}

func (r *Runner) generateTraffic(step int) {
	if r.sc.Traffic.RatePerNode <= 0 || step < r.sc.Traffic.StartStep {
		return
	}
	nodes := r.world.Nodes()
	if len(nodes) < 2 {
		return
	}
	for _, src := range nodes {
		if src.Failed() || r.rng.Float64() >= r.sc.Traffic.RatePerNode {
			continue
		}
		dst := r.pickDestination(src, nodes)
		if _, err := r.world.SendData(src.GetID(), dst.GetID(), fmt.Sprintf("reading@%d", step), step); err != nil {
			r.log.Warnf("[sim] traffic from %d: %v", src.GetID(), err)
		}
	}
}

func (r *Runner) pickDestination(src mesh.INode, nodes []mesh.INode) mesh.INode {
	i := r.rng.Intn(len(nodes) - 1)
	if nodes[i].GetID() == src.GetID() {
		return nodes[len(nodes)-1]
	}
	return nodes[i]
}

func (r *Runner) finish() {
	s := r.coll.Snapshot()
	r.log.Infof("[sim] run %s finished at step %d: generated=%d delivered=%d pdr=%.3f avg_latency=%.2f avg_hops=%.2f",
		r.runID, r.CurrentStep(), s.Generated, s.Delivered, s.PacketDeliveryRate, s.AvgLatency, s.AvgHops)
	r.bus.Publish(eb.Event{
		Type:    eb.EventRunFinished,
		Step:    r.CurrentStep(),
		Payload: fmt.Sprintf("pdr=%.3f", s.PacketDeliveryRate),
	})
}
