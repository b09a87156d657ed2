package main

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// RunMetrics logs room stats every interval until ctx is canceled.
func RunMetrics(ctx context.Context, room *Room, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastBytes uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			clients, datagrams, bytesOut := room.Stats()
			if clients == 0 && datagrams == 0 {
				continue
			}
			rate := float64(bytesOut-lastBytes) / interval.Seconds() / 1024
			lastBytes = bytesOut
			log.Info("metrics", "clients", clients, "datagrams", datagrams, "bytes", bytesOut, "kb_per_s", rate)
		}
	}
}
