package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gpsr-simulation/internal/logging"
	"gpsr-simulation/internal/metrics"
	"gpsr-simulation/internal/sim"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Pick scenario file or quick flags
	cfg := flag.String("scenario", "scenario.yaml", "YAML or JSON scenario description")
	runs := flag.Int("runs", 1, "independent repetitions, seeds scenario.seed+i")
	parallel := flag.Int("parallel", runtime.NumCPU(), "repetitions simulated at once")
	level := flag.String("log-level", "", "log level, overrides logging.level")
	flag.Parse()

	sc, err := sim.LoadScenario(*cfg)
	if err != nil {
		return err
	}
	if *level != "" {
		sc.Logging.Level = *level
	}
	log, closeLog, err := logging.New(logging.Options{Level: sc.Logging.Level, Dir: sc.Logging.Dir, File: sc.Logging.File})
	if err != nil {
		return err
	}
	defer closeLog()

	// catch Ctrl-C / SIGTERM / SIGHUP
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*parallel)
	for i := 0; i < *runs; i++ {
		i := i
		g.Go(func() error {
			return runOnce(gctx, *sc, i, *runs, log)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	log.Infof("batch complete: %d runs", *runs)
	return nil
}

// runOnce simulates repetition i and always flushes its metrics, even when
// interrupted.
func runOnce(ctx context.Context, sc sim.Scenario, i, total int, log *zap.SugaredLogger) error {
	sc.Seed += int64(i)
	sc.StepInterval = 0
	out := metricsFile(sc.Logging.MetricsFile, i, total)

	runner, err := sim.NewRunner(&sc, nil, nil, log.With("repetition", i))
	if err != nil {
		return fmt.Errorf("run %d: %w", i, err)
	}
	runErr := runner.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		log.Warnf("run %d (%s) interrupted at step %d", i, runner.RunID(), runner.CurrentStep())
		runErr = nil
	}

	if err := runner.Metrics().Flush(out); err != nil {
		return fmt.Errorf("run %d: flush-metrics: %w", i, err)
	}
	report(log, runner.Metrics(), out)
	return runErr
}

func metricsFile(base string, i, total int) string {
	if total == 1 {
		return base
	}
	ext := filepath.Ext(base)
	return fmt.Sprintf("%s_%03d%s", strings.TrimSuffix(base, ext), i, ext)
}

func report(log *zap.SugaredLogger, coll *metrics.Collector, out string) {
	s := coll.Snapshot()
	log.Infof("run %s: pdr=%.3f latency=%.2f hops=%.2f lost=%d, stats written to %s",
		s.RunID, s.PacketDeliveryRate, s.AvgLatency, s.AvgHops, s.Lost, out)
}
