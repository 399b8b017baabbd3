package mqtt

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"gpsr-simulation/internal/eventBus"
	"gpsr-simulation/internal/sim"
)

// Submitter accepts commands for the next step boundary.
type Submitter interface {
	Submit(cmd sim.Command) error
}

// Bridge mirrors bus events to an MQTT broker and feeds commands from the
// broker back into the simulation.
type Bridge struct {
	client mqtt.Client
	prefix string
	bus    *eventBus.EventBus
	sub    Submitter
	log    *zap.SugaredLogger
}

// New connects to the broker.
func New(cfg Config, bus *eventBus.EventBus, sub Submitter, log *zap.SugaredLogger) (*Bridge, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)
	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, token.Error())
	}
	return newBridge(client, cfg.TopicPrefix, bus, sub, log), nil
}

func newBridge(client mqtt.Client, prefix string, bus *eventBus.EventBus, sub Submitter, log *zap.SugaredLogger) *Bridge {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bridge{client: client, prefix: prefix, bus: bus, sub: sub, log: log}
}

func (b *Bridge) CommandTopic() string {
	return b.prefix + "/commands"
}

func (b *Bridge) EventTopic(t eventBus.EventType) string {
	return b.prefix + "/events/" + string(t)
}

// Run forwards events until ctx ends or the bus closes, then disconnects.
func (b *Bridge) Run(ctx context.Context) error {
	token := b.client.Subscribe(b.CommandTopic(), 1, b.handleCommand)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.CommandTopic(), err)
	}

	events := b.bus.Subscribe()
	defer func() {
		b.bus.Unsubscribe(events)
		b.client.Disconnect(250)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := b.publish(ev); err != nil {
				b.log.Warnf("[mqtt] %v", err)
			}
		}
	}
}

func (b *Bridge) publish(ev eventBus.Event) error {
	payload, err := msgpack.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", ev.Type, err)
	}
	// QoS 0, fire and forget
	b.client.Publish(b.EventTopic(ev.Type), 0, false, payload)
	return nil
}

func (b *Bridge) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	cmd, err := decodeCommand(msg.Payload())
	if err != nil {
		b.log.Warnf("[mqtt] bad command on %s: %v", msg.Topic(), err)
		return
	}
	if err := b.sub.Submit(cmd); err != nil {
		b.log.Warnf("[mqtt] command %s for node %d rejected: %v", cmd.Kind, cmd.Node, err)
		return
	}
	b.log.Debugf("[mqtt] queued %s for node %d", cmd.Kind, cmd.Node)
}
