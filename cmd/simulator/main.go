package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	eb "gpsr-simulation/internal/eventBus"
	"gpsr-simulation/internal/logging"
	"gpsr-simulation/internal/mesh"
	"gpsr-simulation/internal/mqtt"
	"gpsr-simulation/internal/server"
	"gpsr-simulation/internal/sim"
	"gpsr-simulation/internal/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	scenarioPath := flag.String("scenario", "", "YAML or JSON scenario description (built-in default when empty)")
	addr := flag.String("addr", "", "HTTP listen address, overrides server.addr")
	broker := flag.String("mqtt", "", "MQTT broker URL, overrides mqtt.broker")
	level := flag.String("log-level", "", "log level, overrides logging.level")
	monitor := flag.Duration("monitor", 0, "log goroutine and heap usage at this interval")
	flag.Parse()

	sc := sim.DefaultScenario()
	if *scenarioPath != "" {
		var err error
		if sc, err = sim.LoadScenario(*scenarioPath); err != nil {
			return err
		}
	}
	if *addr != "" {
		sc.Server.Addr = *addr
	}
	if sc.Server.Addr == "" {
		sc.Server.Addr = ":8080"
	}
	if *broker != "" {
		sc.MQTT.Broker = *broker
	}
	if *level != "" {
		sc.Logging.Level = *level
	}
	if sc.Logging.Dir == "" && sc.Logging.File == "" {
		sc.Logging.Dir = "logs"
	}

	log, closeLog, err := logging.New(logging.Options{Level: sc.Logging.Level, Dir: sc.Logging.Dir, File: sc.Logging.File})
	if err != nil {
		return err
	}
	defer closeLog()
	log.Info("Starting simulation...")

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	bus := eb.NewEventBus(log)
	runner, err := sim.NewRunner(sc, bus, nil, log)
	if err != nil {
		return err
	}
	log.Infof("run %s: %d nodes, %d steps", runner.RunID(), sc.Nodes.Count, sc.Steps)

	if *monitor > 0 {
		utils.MonitorResources(ctx, *monitor, log)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// the run ending stops the server and bridge too
		defer cancel()
		err := runner.Run(gctx)
		if errors.Is(err, context.Canceled) {
			log.Info("run cancelled, shutting down early")
			return nil
		}
		return err
	})

	srv := server.New(sc.Server.Addr, bus, simulationAPI{runner}, runner.Metrics().Registry(), log)
	g.Go(func() error {
		return srv.Start(gctx)
	})

	if sc.MQTT.Broker != "" {
		bridge, err := mqtt.New(mqtt.Config{
			Broker:      sc.MQTT.Broker,
			ClientID:    sc.MQTT.ClientID,
			TopicPrefix: sc.MQTT.TopicPrefix,
		}, bus, runner, log)
		if err != nil {
			log.Warnf("MQTT bridge disabled: %v", err)
		} else {
			g.Go(func() error { return bridge.Run(gctx) })
		}
	}

	err = g.Wait()

	// always flush metrics before exit
	start := time.Now()
	if ferr := runner.Metrics().Flush(sc.Logging.MetricsFile); ferr != nil {
		err = multierr.Append(err, fmt.Errorf("flush metrics: %w", ferr))
	} else {
		log.Infof("stats written to %s in %s", sc.Logging.MetricsFile, time.Since(start))
	}
	return err
}

// simulationAPI lets HTTP handlers submit commands and list the runner's nodes.
type simulationAPI struct {
	*sim.Runner
}

func (s simulationAPI) Nodes() []mesh.INode {
	return s.World().Nodes()
}
