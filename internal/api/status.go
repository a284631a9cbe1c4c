package api

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/journal"
	"github.com/nerrad567/gray-logic-relay/internal/metrics"
	"github.com/nerrad567/gray-logic-relay/internal/relay"
)

// healthCheckTimeout bounds each sink check.
const healthCheckTimeout = 2 * time.Second

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string            `json:"status"` // "ok" or "degraded"
	Bus     string            `json:"bus"`
	Chat    string            `json:"chat"`
	Pending int               `json:"pending"`
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version"`
}

// handleHealth answers 200 when both connections are up and 503 otherwise,
// so it can back a container health check directly. A failing journal or
// InfluxDB marks the relay degraded without failing the health check: messages
// still flow without them.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.relay.Status()

	resp := HealthResponse{
		Status:  "ok",
		Bus:     st.Bus.State.String(),
		Chat:    st.Chat.State.String(),
		Pending: st.Pending,
		Version: s.version,
	}

	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
		for name, check := range s.checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := check.HealthCheck(ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Checks[name] = "ok"
		}
	}

	code := http.StatusOK
	if !st.Healthy() {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, resp)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Goroutines    int              `json:"goroutines"`
	Relay         relay.Status     `json:"relay"`
	Events        *metrics.Summary `json:"events,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		Relay:         s.relay.Status(),
	}

	if s.metrics != nil {
		summary, err := s.metrics.Summary(r.Context())
		if err != nil {
			s.logger.Error("reading event counters", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to read event counters")
			return
		}
		resp.Events = &summary
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleListEvents returns one page of the event journal, newest first.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "event journal is disabled")
		return
	}

	filter, err := parseEventFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.journal.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing journal events", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// parseEventFilter reads the journal filter from query parameters.
// Limit bounds are applied by the repository.
func parseEventFilter(r *http.Request) (journal.Filter, error) {
	q := r.URL.Query()
	filter := journal.Filter{
		Kind:       q.Get("kind"),
		Reason:     q.Get("reason"),
		ChatID:     q.Get("chat_id"),
		Connection: q.Get("connection"),
	}

	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		return journal.Filter{}, fmt.Errorf("limit: %w", err)
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		return journal.Filter{}, fmt.Errorf("offset: %w", err)
	}

	return filter, nil
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("must be a non-negative integer, got %q", v)
	}
	return n, nil
}
