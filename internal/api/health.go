package api

import (
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Market run states reported by Health.Status.
const (
	StatusPending = "pending"
	StatusOK      = "ok"
	StatusFailing = "failing"
)

// Health tracks the outcome of each market's last pipeline run and exposes
// it through the standard gRPC health service, one service name per market.
type Health struct {
	srv *health.Server

	mu     sync.RWMutex
	status map[string]string
}

// NewHealth creates a tracker with every market pending.
func NewHealth(markets []string) *Health {
	h := &Health{srv: health.NewServer(), status: make(map[string]string, len(markets))}
	h.srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	for _, m := range markets {
		h.status[m] = StatusPending
		h.srv.SetServingStatus(m, healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return h
}

// Register adds the health service to gs.
func (h *Health) Register(gs *grpc.Server) {
	healthpb.RegisterHealthServer(gs, h.srv)
}

// MarkRun records the result of a market's run.
func (h *Health) MarkRun(market string, err error) {
	st, serving := StatusOK, healthpb.HealthCheckResponse_SERVING
	if err != nil {
		st, serving = StatusFailing, healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.mu.Lock()
	h.status[market] = st
	h.mu.Unlock()
	h.srv.SetServingStatus(market, serving)
}

// Status returns the market's run state.
func (h *Health) Status(market string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if st, ok := h.status[market]; ok {
		return st
	}
	return StatusPending
}

// Server returns the underlying health server.
func (h *Health) Server() healthpb.HealthServer { return h.srv }

// Shutdown flips every service to NOT_SERVING.
func (h *Health) Shutdown() { h.srv.Shutdown() }
