// Package telemetry forwards MQTT events and distributor counters to a
// time-series writer.
package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/distributor"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-iot/internal/transport"
)

// DefaultStatsInterval is used when RunStats is given a non-positive interval.
const DefaultStatsInterval = 30 * time.Second

// Writer is the subset of the InfluxDB client used here.
type Writer interface {
	WriteEvent(ev transport.Event)
	WritePoint(measurement string, tags map[string]string, fields map[string]any)
	Flush()
}

// StatsSource reports distributor counters.
type StatsSource interface {
	Stats() distributor.Stats
}

// Logger is the logging interface used by the reporter.
type Logger interface {
	Debug(msg string, args ...any)
}

// Reporter writes events from its own handle and periodic stats snapshots.
type Reporter struct {
	w      Writer
	tags   map[string]string
	logger Logger
}

// New creates a Reporter. tags are attached to every stats point, usually
// the MQTT client ID.
func New(w Writer, tags map[string]string) *Reporter {
	copied := make(map[string]string, len(tags))
	for k, v := range tags {
		copied[k] = v
	}
	return &Reporter{w: w, tags: copied}
}

// SetLogger sets the logger for the reporter.
func (r *Reporter) SetLogger(logger Logger) {
	r.logger = logger
}

// Run writes every event received on h until ctx ends or h is closed.
// Pending points are flushed on return.
func (r *Reporter) Run(ctx context.Context, h *distributor.Handle) error {
	defer r.w.Flush()

	for {
		ev, err := h.Recv(ctx)
		if err != nil {
			if errors.Is(err, distributor.ErrHandleClosed) {
				return nil
			}
			return err
		}
		r.w.WriteEvent(ev)
	}
}

// RunStats writes a distributor_stats point every interval until ctx ends.
func (r *Reporter) RunStats(ctx context.Context, src StatsSource, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultStatsInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.WriteStats(src.Stats())
		}
	}
}

// WriteStats writes a single stats snapshot.
func (r *Reporter) WriteStats(s distributor.Stats) {
	r.w.WritePoint(influxdb.MeasurementDistributor, r.tags, map[string]any{
		"handles":     s.Handles,
		"events":      s.Events,
		"delivered":   s.Delivered,
		"dropped":     s.Dropped,
		"poll_errors": s.PollErrors,
	})
	if r.logger != nil {
		r.logger.Debug("distributor stats written",
			"handles", s.Handles,
			"events", s.Events,
			"dropped", s.Dropped,
		)
	}
}
