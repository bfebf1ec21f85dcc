package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"
)

// maxRequestBody caps RPC request size at 4 MiB; capability arguments are
// small structured values, never bulk payloads.
const maxRequestBody = 4 << 20

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxRequestBody {
		s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	// The bridge owns the protocol-level outcome; HTTP is always 200 here so
	// clients look at one error surface, not two.
	resp := s.submitter.Submit(r.Context(), body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.writeJSON(w, http.StatusOK, Health{
			UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		})
		return
	}
	s.writeJSON(w, http.StatusOK, s.health.Health(r.Context()))
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reloader == nil {
		s.writeError(w, http.StatusNotFound, "reload not supported")
		return
	}
	if err := s.reloader.Reload(r.Context()); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
