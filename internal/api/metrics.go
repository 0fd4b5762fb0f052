package api

import (
	"net/http"
	"runtime"
	"time"

	bridge "github.com/nerrad567/aptus-home/internal/bridges/aptus"
	"github.com/nerrad567/aptus-home/internal/metrics"
)

// SystemMetrics is the JSON metrics response. Prometheus scrapes
// /metrics/prometheus instead.
type SystemMetrics struct {
	Timestamp     string                  `json:"timestamp"`
	Version       string                  `json:"version"`
	UptimeSeconds int64                   `json:"uptime_seconds"`
	Runtime       RuntimeMetrics          `json:"runtime"`
	WebSocket     WSMetrics               `json:"websocket"`
	MQTT          MQTTMetrics             `json:"mqtt"`
	Bridge        bridge.BridgeStatistics `json:"bridge"`
	Portals       []bridge.PortalStatus   `json:"portals"`
	Locks         LockMetrics             `json:"locks"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// LockMetrics counts doors by derived state.
type LockMetrics struct {
	Total   int            `json:"total"`
	ByState map[string]int `json:"by_state"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.count()},
		Bridge:    s.bridge.Stats(),
		Portals:   s.bridge.PortalStatuses(),
	}
	if s.mqtt != nil {
		m.MQTT.Connected = s.mqtt.IsConnected()
	}

	locks := s.bridge.Locks()
	m.Locks = LockMetrics{Total: len(locks), ByState: make(map[string]int)}
	for _, st := range locks {
		m.Locks.ByState[metrics.LockState(st.Available, st.Locked)]++
	}

	writeJSON(w, http.StatusOK, m)
}

// handleHealth reports liveness plus the state the bridge depends on. It
// answers 200 while degraded so orchestrators do not restart the process
// over a portal outage.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	mqttConnected := s.mqtt == nil || s.mqtt.IsConnected()
	portals := s.bridge.PortalStatuses()

	if !mqttConnected {
		status = "degraded"
	}
	for _, p := range portals {
		if !p.LoggedIn {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"version":        s.version,
		"mqtt_connected": mqttConnected,
		"portals":        portals,
	})
}
