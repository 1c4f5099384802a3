package workers

import (
	"context"
	"log/slog"
	"time"

	"chat-relay/observability"
)

// StatsWorker periodically samples process health into the monitoring
// counters and logs a summary line.
type StatsWorker struct {
	log            *slog.Logger
	monitoring     *observability.Monitoring
	metricInterval time.Duration
}

func NewStatsWorker(log *slog.Logger, monitoring *observability.Monitoring, metricInterval time.Duration) *StatsWorker {
	return &StatsWorker{
		log:            log,
		monitoring:     monitoring,
		metricInterval: metricInterval,
	}
}

func (w *StatsWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.metricInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping stats sampling")
			return nil
		case <-ticker.C:
			w.monitoring.Refresh()
			stats := w.monitoring.Snapshot()
			w.log.Info("relay stats",
				"rooms", stats.Rooms,
				"connections", stats.Connections,
				"persisted", stats.Persisted,
				"deliveries", stats.Deliveries,
				"delivery_failures", stats.DeliveryFailures,
				"alloc_mb", stats.AllocMemMb,
				"cpu_percent", stats.CPUPercent)
		}
	}
}
