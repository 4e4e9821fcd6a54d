package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/distributor"
)

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	Distributor   distributor.Stats `json:"distributor"`
	WebSocket     WSMetrics         `json:"websocket"`
	MQTT          *MQTTMetrics      `json:"mqtt,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains broker connection statistics.
type MQTTMetrics struct {
	Connected   bool   `json:"connected"`
	DroppedAcks uint64 `json:"dropped_acks"`
}

// handleStats returns distributor, WebSocket and runtime counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := StatsResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Distributor: s.events.Stats(),
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
	}

	if s.broker != nil {
		resp.MQTT = &MQTTMetrics{
			Connected:   s.broker.IsConnected(),
			DroppedAcks: s.broker.DroppedAcks(),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
