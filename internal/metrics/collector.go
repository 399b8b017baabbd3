package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"gpsr-simulation/internal/packet"
)

// Counters is the flushed summary of a run.
type Counters struct {
	RunID              string            `json:"run_id"`
	Generated          uint64            `json:"generated"`
	SentByType         map[string]uint64 `json:"sent_by_type"`
	DroppedByReason    map[string]uint64 `json:"dropped_by_reason"`
	Lost               uint64            `json:"lost"`
	Delivered          uint64            `json:"delivered"`
	DuplicateArrivals  uint64            `json:"duplicate_arrivals"`
	PacketDeliveryRate float64           `json:"packet_delivery_ratio"`
	AvgLatency         float64           `json:"avg_latency_steps"`
	AvgHops            float64           `json:"avg_hops"`
}

// Collector aggregates what routers and the network report. Per-packet
// latency and hop count are kept for the first arrival only.
type Collector struct {
	mu sync.Mutex

	runID       string
	generated   uint64
	sent        map[uint8]uint64
	dropped     map[string]uint64
	lost        uint64
	arrivals    uint64
	deliverTime map[uint64]int
	hops        map[uint64]int
	delivered   map[uint64]struct{}

	registry    *prometheus.Registry
	sentVec     *prometheus.CounterVec
	droppedVec  *prometheus.CounterVec
	generatedC  prometheus.Counter
	deliveredC  prometheus.Counter
	lostC       prometheus.Counter
	latencyHist prometheus.Histogram
	hopsHist    prometheus.Histogram
}

func NewCollector(runID string) *Collector {
	c := &Collector{
		runID:       runID,
		sent:        make(map[uint8]uint64),
		dropped:     make(map[string]uint64),
		deliverTime: make(map[uint64]int),
		hops:        make(map[uint64]int),
		delivered:   make(map[uint64]struct{}),
		registry:    prometheus.NewRegistry(),
	}
	labels := prometheus.Labels{"run_id": runID}

	c.sentVec = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "gpsr_packets_sent_total",
			Help:        "transmissions by packet type",
			ConstLabels: labels,
		},
		[]string{"type"},
	)
	c.droppedVec = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name:        "gpsr_packets_dropped_total",
			Help:        "data packets given up on, by reason",
			ConstLabels: labels,
		},
		[]string{"reason"},
	)
	c.generatedC = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "gpsr_data_generated_total",
		Help:        "data packets created by traffic sources",
		ConstLabels: labels,
	})
	c.deliveredC = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "gpsr_data_delivered_total",
		Help:        "data packets that reached their destination",
		ConstLabels: labels,
	})
	c.lostC = prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "gpsr_transmissions_lost_total",
		Help:        "unicast transmissions the medium could not deliver",
		ConstLabels: labels,
	})
	c.latencyHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "gpsr_delivery_latency_steps",
		Help:        "steps between creation and first arrival",
		ConstLabels: labels,
		Buckets:     prometheus.ExponentialBuckets(1, 2, 10),
	})
	c.hopsHist = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "gpsr_delivery_hops",
		Help:        "hop count on first arrival",
		ConstLabels: labels,
		Buckets:     prometheus.LinearBuckets(1, 1, 15),
	})
	c.registry.MustRegister(c.sentVec, c.droppedVec, c.generatedC, c.deliveredC, c.lostC, c.latencyHist, c.hopsHist)
	return c
}

// Registry exposes the collector's prometheus metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) AddGenerated() {
	c.mu.Lock()
	c.generated++
	c.mu.Unlock()
	c.generatedC.Inc()
}

func (c *Collector) AddSent(pktType uint8) {
	c.mu.Lock()
	c.sent[pktType]++
	c.mu.Unlock()
	c.sentVec.WithLabelValues(packet.TypeName(pktType)).Inc()
}

func (c *Collector) AddDropped(reason string) {
	c.mu.Lock()
	c.dropped[reason]++
	c.mu.Unlock()
	c.droppedVec.WithLabelValues(reason).Inc()
}

func (c *Collector) AddLost() {
	c.mu.Lock()
	c.lost++
	c.mu.Unlock()
	c.lostC.Inc()
}

// RecordDelivery stores latency and hops of the first arrival of a packet.
// Later calls for the same id are ignored.
func (c *Collector) RecordDelivery(packetID uint64, latency, hops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.deliverTime[packetID]; ok {
		return
	}
	c.deliverTime[packetID] = latency
	c.hops[packetID] = hops
	c.latencyHist.Observe(float64(latency))
	c.hopsHist.Observe(float64(hops))
}

func (c *Collector) MarkDelivered(packetID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arrivals++
	if _, ok := c.delivered[packetID]; ok {
		return
	}
	c.delivered[packetID] = struct{}{}
	c.deliveredC.Inc()
}

// Latency returns the recorded latency and hop count of a delivered packet.
func (c *Collector) Latency(packetID uint64) (latency, hops int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	latency, ok = c.deliverTime[packetID]
	return latency, c.hops[packetID], ok
}

func (c *Collector) Snapshot() Counters {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Counters{
		RunID:           c.runID,
		Generated:       c.generated,
		SentByType:      make(map[string]uint64, len(c.sent)),
		DroppedByReason: make(map[string]uint64, len(c.dropped)),
		Lost:            c.lost,
		Delivered:       uint64(len(c.delivered)),
	}
	out.DuplicateArrivals = c.arrivals - out.Delivered
	for t, n := range c.sent {
		out.SentByType[packet.TypeName(t)] = n
	}
	for r, n := range c.dropped {
		out.DroppedByReason[r] = n
	}
	if c.generated > 0 {
		out.PacketDeliveryRate = float64(out.Delivered) / float64(c.generated)
	}
	if n := len(c.deliverTime); n > 0 {
		var lat, hops int
		for id, l := range c.deliverTime {
			lat += l
			hops += c.hops[id]
		}
		out.AvgLatency = float64(lat) / float64(n)
		out.AvgHops = float64(hops) / float64(n)
	}
	return out
}

// Flush writes the current summary as indented JSON.
func (c *Collector) Flush(file string) error {
	f, err := os.Create(file)
	if err != nil {
		return fmt.Errorf("create metrics file: %w", err)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(c.Snapshot()); err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	return nil
}
