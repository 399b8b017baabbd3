package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"gpsr-simulation/internal/energy"
	"gpsr-simulation/internal/mobility"
	"gpsr-simulation/internal/routing"
)

type AreaCfg struct {
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
	MinAlt float64 `yaml:"min_alt" json:"min_alt"`
	MaxAlt float64 `yaml:"max_alt" json:"max_alt"`
}

type NodeCfg struct {
	Count         int          `yaml:"count" json:"count"`
	Placement     string       `yaml:"placement" json:"placement"` // uniform | grid | explicit
	Positions     [][3]float64 `yaml:"positions" json:"positions"`
	CommRange     float64      `yaml:"comm_range" json:"comm_range"`
	InitialEnergy float64      `yaml:"initial_energy" json:"initial_energy"`
	QueueCapacity int          `yaml:"queue_capacity" json:"queue_capacity"`
}

type MobilityCfg struct {
	Model      string  `yaml:"model" json:"model"` // static | waypoint
	Speed      float64 `yaml:"speed" json:"speed"` // metres per step
	PauseSteps int     `yaml:"pause_steps" json:"pause_steps"`
}

type TrafficCfg struct {
	RatePerNode float64 `yaml:"rate_per_node" json:"rate_per_node"` // packets per node per step
	StartStep   int     `yaml:"start_step" json:"start_step"`
}

type RoutingCfg struct {
	HelloInterval     int     `yaml:"hello_interval" json:"hello_interval"`
	NeighborTimeout   int     `yaml:"neighbor_timeout" json:"neighbor_timeout"`
	MaxRetransmission int     `yaml:"max_retransmission" json:"max_retransmission"`
	MaxTTL            int     `yaml:"max_ttl" json:"max_ttl"`
	DispatchDelay     float64 `yaml:"dispatch_delay" json:"dispatch_delay"`
	Planarization     string  `yaml:"planarization" json:"planarization"` // gabriel | rng
}

type EnergyCfg struct {
	TxPowerW   float64 `yaml:"tx_power_w" json:"tx_power_w"`
	RxPowerW   float64 `yaml:"rx_power_w" json:"rx_power_w"`
	PacketBits float64 `yaml:"packet_bits" json:"packet_bits"`
	BitRateBps float64 `yaml:"bit_rate_bps" json:"bit_rate_bps"`
}

// FailureCfg takes a node down at AtStep and, if RecoverStep > AtStep, brings
// it back at RecoverStep.
type FailureCfg struct {
	Node        uint32 `yaml:"node" json:"node"`
	AtStep      int    `yaml:"at_step" json:"at_step"`
	RecoverStep int    `yaml:"recover_step" json:"recover_step"`
}

type LogCfg struct {
	Level       string `yaml:"level" json:"level"`
	Dir         string `yaml:"dir" json:"dir"`
	File        string `yaml:"file" json:"file"`
	MetricsFile string `yaml:"metrics_file" json:"metrics_file"`
}

type ServerCfg struct {
	Addr string `yaml:"addr" json:"addr"`
}

type MQTTCfg struct {
	Broker      string `yaml:"broker" json:"broker"`
	ClientID    string `yaml:"client_id" json:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix"`
}

type Scenario struct {
	Steps        int          `yaml:"steps" json:"steps"`
	Seed         int64        `yaml:"seed" json:"seed"`
	StepInterval Duration     `yaml:"step_interval" json:"step_interval"`
	Area         AreaCfg      `yaml:"area" json:"area"`
	Nodes        NodeCfg      `yaml:"nodes" json:"nodes"`
	Mobility     MobilityCfg  `yaml:"mobility" json:"mobility"`
	Traffic      TrafficCfg   `yaml:"traffic" json:"traffic"`
	Routing      RoutingCfg   `yaml:"routing" json:"routing"`
	Energy       EnergyCfg    `yaml:"energy" json:"energy"`
	Failures     []FailureCfg `yaml:"failures" json:"failures"`
	Logging      LogCfg       `yaml:"logging" json:"logging"`
	Server       ServerCfg    `yaml:"server" json:"server"`
	MQTT         MQTTCfg      `yaml:"mqtt" json:"mqtt"`
}

func LoadScenario(path string) (*Scenario, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc := &Scenario{}
	if yamlErr := yaml.Unmarshal(f, sc); yamlErr != nil {
		// fallback JSON
		sc = &Scenario{}
		if err := json.Unmarshal(f, sc); err != nil {
			return nil, fmt.Errorf("parse scenario %s: %w", path, multierr.Append(yamlErr, err))
		}
	}
	sc.ApplyDefaults()
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return sc, nil
}

// DefaultScenario is a small static swarm, usable without a file.
func DefaultScenario() *Scenario {
	sc := &Scenario{}
	sc.ApplyDefaults()
	return sc
}

func (sc *Scenario) ApplyDefaults() {
	if sc.Steps == 0 {
		sc.Steps = 200
	}
	if sc.Seed == 0 {
		sc.Seed = 1
	}
	if sc.Area.Width == 0 {
		sc.Area.Width = 1000
	}
	if sc.Area.Height == 0 {
		sc.Area.Height = 1000
	}
	if sc.Nodes.Count == 0 {
		if len(sc.Nodes.Positions) > 0 {
			sc.Nodes.Count = len(sc.Nodes.Positions)
		} else {
			sc.Nodes.Count = 30
		}
	}
	if sc.Nodes.Placement == "" {
		sc.Nodes.Placement = "uniform"
		if len(sc.Nodes.Positions) > 0 {
			sc.Nodes.Placement = "explicit"
		}
	}
	if sc.Nodes.CommRange == 0 {
		sc.Nodes.CommRange = 150
	}
	if sc.Mobility.Model == "" {
		sc.Mobility.Model = "static"
	}
	if sc.Traffic.StartStep == 0 {
		sc.Traffic.StartStep = 1
	}
	if sc.Routing.HelloInterval == 0 {
		sc.Routing.HelloInterval = routing.DefaultHelloInterval
	}
	if sc.Routing.NeighborTimeout == 0 {
		sc.Routing.NeighborTimeout = routing.DefaultNeighborTimeout
	}
	if sc.Routing.MaxRetransmission == 0 {
		sc.Routing.MaxRetransmission = routing.DefaultMaxRetransmission
	}
	if sc.Routing.MaxTTL == 0 {
		sc.Routing.MaxTTL = routing.DefaultMaxTTL
	}
	if sc.Routing.DispatchDelay == 0 {
		sc.Routing.DispatchDelay = routing.DefaultDispatchDelay
	}
	if sc.Routing.Planarization == "" {
		sc.Routing.Planarization = "gabriel"
	}
	if sc.Energy.TxPowerW == 0 {
		sc.Energy.TxPowerW = energy.DefaultTxPowerW
	}
	if sc.Energy.RxPowerW == 0 {
		sc.Energy.RxPowerW = energy.DefaultRxPowerW
	}
	if sc.Logging.MetricsFile == "" {
		sc.Logging.MetricsFile = "metrics.json"
	}
	if sc.MQTT.TopicPrefix == "" {
		sc.MQTT.TopicPrefix = "gpsr"
	}
	if sc.MQTT.ClientID == "" {
		sc.MQTT.ClientID = "gpsr-simulator"
	}
}

var errInvalid = errors.New("invalid scenario")

// Validate reports every problem at once.
func (sc *Scenario) Validate() error {
	var err error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]any{errInvalid}, args...)...))
		}
	}
	check(sc.Steps > 0, "steps must be positive, got %d", sc.Steps)
	check(sc.StepInterval >= 0, "step_interval must not be negative")
	check(sc.Area.Width > 0 && sc.Area.Height > 0, "area must have a positive width and height")
	check(sc.Area.MaxAlt >= sc.Area.MinAlt, "area.max_alt below area.min_alt")
	check(sc.Nodes.Count > 0, "nodes.count must be positive, got %d", sc.Nodes.Count)
	check(sc.Nodes.CommRange > 0, "nodes.comm_range must be positive")
	check(sc.Nodes.QueueCapacity >= 0, "nodes.queue_capacity must not be negative")
	switch sc.Nodes.Placement {
	case "uniform", "grid":
	case "explicit":
		check(len(sc.Nodes.Positions) == sc.Nodes.Count, "nodes.positions has %d entries for %d nodes", len(sc.Nodes.Positions), sc.Nodes.Count)
	default:
		check(false, "unknown nodes.placement %q", sc.Nodes.Placement)
	}
	switch sc.Mobility.Model {
	case "static":
	case "waypoint", "random_waypoint":
		check(sc.Mobility.Speed > 0, "mobility.speed must be positive for %s", sc.Mobility.Model)
	default:
		check(false, "unknown mobility.model %q", sc.Mobility.Model)
	}
	check(sc.Mobility.PauseSteps >= 0, "mobility.pause_steps must not be negative")
	check(sc.Traffic.RatePerNode >= 0 && sc.Traffic.RatePerNode <= 1, "traffic.rate_per_node must be in [0, 1]")
	check(sc.Routing.HelloInterval > 0, "routing.hello_interval must be positive")
	check(sc.Routing.NeighborTimeout > sc.Routing.HelloInterval, "routing.neighbor_timeout must exceed hello_interval")
	check(sc.Routing.MaxRetransmission > 0, "routing.max_retransmission must be positive")
	check(sc.Routing.MaxTTL > 0, "routing.max_ttl must be positive")
	check(sc.Routing.DispatchDelay > 0 && sc.Routing.DispatchDelay < 0.5, "routing.dispatch_delay must be in (0, 0.5)")
	if _, perr := routing.PlanarizerByName(sc.Routing.Planarization); perr != nil {
		check(false, "routing.planarization: %v", perr)
	}
	for i, f := range sc.Failures {
		check(int(f.Node) < sc.Nodes.Count, "failures[%d]: node %d does not exist", i, f.Node)
		check(f.AtStep >= 0, "failures[%d]: at_step must not be negative", i)
	}
	return err
}

// RoutingConfig converts the routing section.
func (sc *Scenario) RoutingConfig() (routing.Config, error) {
	p, err := routing.PlanarizerByName(sc.Routing.Planarization)
	if err != nil {
		return routing.Config{}, err
	}
	return routing.Config{
		HelloInterval:     sc.Routing.HelloInterval,
		NeighborTimeout:   sc.Routing.NeighborTimeout,
		MaxRetransmission: sc.Routing.MaxRetransmission,
		MaxTTL:            sc.Routing.MaxTTL,
		DispatchDelay:     sc.Routing.DispatchDelay,
		Planarizer:        p,
	}, nil
}

func (sc *Scenario) EnergyModel() energy.Model {
	return energy.NewRadioModel(sc.Energy.TxPowerW, sc.Energy.RxPowerW, sc.Energy.PacketBits, sc.Energy.BitRateBps)
}

func (sc *Scenario) MobilityArea() mobility.Area {
	return mobility.Area{Width: sc.Area.Width, Height: sc.Area.Height, MinAlt: sc.Area.MinAlt, MaxAlt: sc.Area.MaxAlt}
}
