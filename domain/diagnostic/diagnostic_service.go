package diagnostic

import (
	"runtime"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/open-teleop/presence/pkg/processing"
)

// PoolSource exposes the metrics of named task pools. session.Controller
// implements it.
type PoolSource interface {
	Metrics() map[string]processing.PoolMetrics
}

// SystemMetrics represents process and pipeline diagnostics.
type SystemMetrics struct {
	Timestamp  time.Time                         `json:"timestamp"`
	Uptime     string                            `json:"uptime"`
	Goroutines int                               `json:"goroutines"`
	HeapAlloc  uint64                            `json:"heap_alloc_bytes"`
	Pools      map[string]processing.PoolMetrics `json:"pools"`
	Events     []processing.EventInfo            `json:"events"`
}

// DiagnosticService handles system diagnostics
type DiagnosticService struct {
	pools    PoolSource
	registry *processing.EventRegistry
	started  time.Time
	now      func() time.Time
}

// NewDiagnosticService creates a new diagnostic service instance. Either
// source may be nil.
func NewDiagnosticService(pools PoolSource, registry *processing.EventRegistry) *DiagnosticService {
	return &DiagnosticService{
		pools:    pools,
		registry: registry,
		started:  time.Now(),
		now:      time.Now,
	}
}

// GetMetrics collects the current metrics.
func (s *DiagnosticService) GetMetrics() SystemMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := s.now()
	metrics := SystemMetrics{
		Timestamp:  now,
		Uptime:     now.Sub(s.started).Round(time.Second).String(),
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		Pools:      map[string]processing.PoolMetrics{},
		Events:     []processing.EventInfo{},
	}
	if s.pools != nil {
		metrics.Pools = s.pools.Metrics()
	}
	if s.registry != nil {
		metrics.Events = s.registry.GetAllEvents()
	}
	return metrics
}

// GetMetricsHandler handles API requests for system metrics
func (s *DiagnosticService) GetMetricsHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "success",
		"metrics": s.GetMetrics(),
	})
}

// ResetEventsHandler clears the event counters.
func (s *DiagnosticService) ResetEventsHandler(c *fiber.Ctx) error {
	if s.registry != nil {
		s.registry.Reset()
	}
	return c.SendStatus(fiber.StatusNoContent)
}
