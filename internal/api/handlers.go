package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"fundscan/internal/scan"
)

// handleTriggerScan starts a scan run in the background. The run outlives the
// request; its job record is the place to follow progress.
func (s *Server) handleTriggerScan(w http.ResponseWriter, r *http.Request) {
	if s.service.Active() {
		s.respondWithError(w, http.StatusConflict, "A scan run is already active")
		return
	}

	go func() {
		if err := s.service.RunOnce(context.Background()); err != nil && !errors.Is(err, scan.ErrRunActive) {
			s.logger.Error("triggered scan run failed", zap.Error(err))
		}
	}()

	s.respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Scan run started"})
}

func (s *Server) handleLatestJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.pgStore.LatestJob(r.Context())
	if err != nil {
		s.logger.Error("failed to load latest job", zap.Error(err))
		s.respondWithError(w, http.StatusInternalServerError, "Could not retrieve job")
		return
	}
	if job == nil {
		s.respondWithError(w, http.StatusNotFound, "No jobs recorded yet")
		return
	}

	s.respondWithJSON(w, http.StatusOK, job)
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	healthStatus := make(map[string]string)

	if err := s.pgStore.Ping(ctx); err != nil {
		healthStatus["postgres"] = "unhealthy"
		s.logger.Error("health check failed for postgres", zap.Error(err))
	} else {
		healthStatus["postgres"] = "healthy"
	}

	if err := s.redisStore.Ping(ctx); err != nil {
		healthStatus["redis"] = "unhealthy"
		s.logger.Error("health check failed for redis", zap.Error(err))
	} else {
		healthStatus["redis"] = "healthy"
	}

	isHealthy := healthStatus["postgres"] == "healthy" && healthStatus["redis"] == "healthy"
	if !isHealthy {
		s.respondWithJSON(w, http.StatusServiceUnavailable, healthStatus)
		return
	}

	s.respondWithJSON(w, http.StatusOK, healthStatus)
}

// --- Helper Functions ---

func (s *Server) respondWithError(w http.ResponseWriter, code int, message string) {
	s.respondWithJSON(w, code, map[string]string{"error": message})
}

func (s *Server) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
