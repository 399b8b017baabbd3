package utils

import (
	"context"
	"runtime"
	"time"

	"go.uber.org/zap"
)

// MonitorResources logs resource usage (goroutines and memory) periodically
// until ctx ends.
func MonitorResources(ctx context.Context, interval time.Duration, log *zap.SugaredLogger) {
	go func() {
		tick := time.NewTicker(interval)
		defer tick.Stop()
		var memStats runtime.MemStats
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
			}
			runtime.ReadMemStats(&memStats)
			log.Infof("[Resource Monitor] Goroutines: %d | HeapAlloc: %.2f KB | HeapObjects: %d",
				runtime.NumGoroutine(),
				float64(memStats.HeapAlloc)/1024,
				memStats.HeapObjects,
			)
		}
	}()
}
