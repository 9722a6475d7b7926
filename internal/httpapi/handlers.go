package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"blackbox/internal/lifecycle"
	"blackbox/internal/logger"
)

const (
	streamFrameInterval = 500 * time.Millisecond

	defaultAggregationWindow = 10 * time.Second
	minAggregationWindow     = 1
	maxAggregationWindow     = 60
)

func (s *Server) handleVRAM(w http.ResponseWriter, r *http.Request) {
	snap := s.aggregator.Collect(r.Context())
	writeJSON(w, "/vram", http.StatusOK, snap)
}

// handleVRAMStream holds the connection open, writing one frame every
// streamFrameInterval until the client disconnects (spec.md §4.11). The
// handler owns its socket for the duration and never shares it.
func (s *Server) handleVRAMStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(streamFrameInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		snap := s.aggregator.Collect(ctx)
		if err := writeSSEFrame(w, flusher, snap); err != nil {
			// Exits without logging beyond DEBUG (spec.md §5): a write error
			// here almost always just means the client went away.
			logger.WithComponent("httpapi").Debug("stream write failed, closing", "route", "/vram/stream", "error", err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleVRAMAggregated(w http.ResponseWriter, r *http.Request) {
	window := defaultAggregationWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			if n < minAggregationWindow {
				n = minAggregationWindow
			}
			if n > maxAggregationWindow {
				n = maxAggregationWindow
			}
			window = time.Duration(n) * time.Second
		}
	}

	snap := s.aggregator.CollectAggregated(r.Context(), window)
	writeJSON(w, "/vram/aggregated", http.StatusOK, snap)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	deployments := s.registry.List(r.Context())

	resp := modelsResponseDTO{
		Total:      len(deployments),
		MaxAllowed: s.cfg.Daemon.MaxConcurrentModels,
		Models:     make([]modelEntryDTO, 0, len(deployments)),
	}
	for _, d := range deployments {
		if d.Running {
			resp.Running++
		}
		resp.Models = append(resp.Models, modelEntryDTO{
			ModelID:       d.ModelID,
			ContainerID:   d.ContainerID,
			ContainerName: d.ContainerName,
			Port:          d.Port,
			Running:       d.Running,
		})
	}

	writeJSON(w, "/models", http.StatusOK, resp)
}

// handleDeploy always answers HTTP 200; success/failure travels in the body
// (spec.md §4.11). A malformed or empty body decodes to a zero-valued
// request rather than failing the call.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequestDTO
	_ = json.NewDecoder(r.Body).Decode(&req)

	result := s.lifecycle.Deploy(r.Context(), lifecycle.DeployRequest{
		ModelID:       req.ModelID,
		HFToken:       req.HFToken,
		RequestedPort: req.Port,
	})

	writeJSON(w, "/deploy", http.StatusOK, deployResponseDTO{
		Success:     result.Success,
		Message:     result.Message,
		ContainerID: result.ContainerID,
		Port:        result.Port,
	})
}

func (s *Server) handleSpindown(w http.ResponseWriter, r *http.Request) {
	var req spindownRequestDTO
	_ = json.NewDecoder(r.Body).Decode(&req)

	result := s.lifecycle.Spindown(r.Context(), req.ModelID, req.ContainerID)

	writeJSON(w, "/spindown", http.StatusOK, spindownResponseDTO{
		Success: result.Success,
		Message: result.Message,
	})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	restarted := s.optimizer.Optimize(r.Context())
	if restarted == nil {
		restarted = []string{}
	}
	writeJSON(w, "/optimize", http.StatusOK, optimizeResponseDTO{Restarted: restarted})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte("not found"))
}

func writeJSON(w http.ResponseWriter, route string, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logWriteErr(route, err)
	}
}
