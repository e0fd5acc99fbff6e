package agentapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/softcane/vortex-core/internal/events"
	"github.com/softcane/vortex-core/internal/metrics"
	"github.com/softcane/vortex-core/internal/queue"
)

// MaxClaimBatch bounds how many actions one claim returns.
const MaxClaimBatch = 10

// MaxPollWait bounds long-poll duration on claim requests.
const MaxPollWait = 30 * time.Second

// JobRecorder receives delegated action outcomes as agents report them.
type JobRecorder interface {
	Record(jobID, actionType, resource string, succeeded bool, reason string)
}

// ServerConfig configures the agent-facing HTTP API.
type ServerConfig struct {
	Queue   queue.Store
	Events  *events.Processor
	Tracker *Tracker
	Hub     *WakeHub
	Jobs    JobRecorder
	Logger  *slog.Logger
}

// Server serves the agent API.
type Server struct {
	queue   queue.Store
	events  *events.Processor
	tracker *Tracker
	hub     *WakeHub
	jobs    JobRecorder
	logger  *slog.Logger
}

// NewServer creates a Server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.Tracker == nil {
		cfg.Tracker = NewTracker()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewWakeHub()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		queue:   cfg.Queue,
		events:  cfg.Events,
		tracker: cfg.Tracker,
		hub:     cfg.Hub,
		jobs:    cfg.Jobs,
		logger:  cfg.Logger,
	}, nil
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/clusters/{id}/claim", s.handleClaim)
	mux.HandleFunc("POST /v1/clusters/{id}/heartbeat", s.handleHeartbeat)
	mux.HandleFunc("POST /v1/actions/{id}/report", s.handleReport)
	mux.HandleFunc("POST /v1/events", s.handleEvent)
	return mux
}

type claimRequest struct {
	Max         int `json:"max"`
	WaitSeconds int `json:"wait_seconds"`
}

type claimResponse struct {
	Actions []queue.AgentActionRecord `json:"actions"`
}

// handleClaim hands the agent up to Max pending actions. With wait_seconds
// set, an empty queue long-polls for a wake hint before answering.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	clusterID := r.PathValue("id")

	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	limit := req.Max
	if limit <= 0 || limit > MaxClaimBatch {
		limit = MaxClaimBatch
	}

	// Claiming is proof of life.
	s.tracker.Heartbeat(clusterID)

	records, err := s.queue.Claim(r.Context(), clusterID, limit)
	if err != nil {
		s.logger.Error("claim failed", "cluster", clusterID, "error", err)
		httpError(w, http.StatusInternalServerError, err)
		return
	}

	if len(records) == 0 && req.WaitSeconds > 0 {
		wait := time.Duration(req.WaitSeconds) * time.Second
		if wait > MaxPollWait {
			wait = MaxPollWait
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-r.Context().Done():
			return
		case <-timer.C:
		case <-s.hub.WaitChan(clusterID):
		}
		records, err = s.queue.Claim(r.Context(), clusterID, limit)
		if err != nil {
			s.logger.Error("claim retry failed", "cluster", clusterID, "error", err)
			httpError(w, http.StatusInternalServerError, err)
			return
		}
	}

	if records == nil {
		records = []queue.AgentActionRecord{}
	}
	metrics.ActionsClaimed.Add(float64(len(records)))
	writeJSON(w, http.StatusOK, claimResponse{Actions: records})
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	s.tracker.Heartbeat(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

type reportRequest struct {
	Status       queue.Status `json:"status"`
	Result       string       `json:"result,omitempty"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// handleReport records a terminal result for one delegated action.
// Reporting is idempotent: the same terminal status twice is accepted, a
// different one conflicts.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	recordID := r.PathValue("id")

	var req reportRequest
	if err := decodeBody(r, &req); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	if req.Status != queue.StatusCompleted && req.Status != queue.StatusFailed {
		httpError(w, http.StatusBadRequest, fmt.Errorf("status must be completed or failed, got %q", req.Status))
		return
	}

	rec, err := s.queue.Report(r.Context(), queue.Report{
		RecordID: recordID,
		Status:   req.Status,
		Result:   req.Result,
		Error:    req.ErrorMessage,
	})
	switch {
	case errors.Is(err, queue.ErrNotFound):
		httpError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, queue.ErrReportConflict):
		httpError(w, http.StatusConflict, err)
		return
	case err != nil:
		s.logger.Error("report failed", "record", recordID, "error", err)
		httpError(w, http.StatusInternalServerError, err)
		return
	}

	metrics.ActionsReported.WithLabelValues(string(req.Status)).Inc()
	if s.jobs != nil {
		s.jobs.Record(rec.JobID, string(rec.ActionType), rec.Resource,
			req.Status == queue.StatusCompleted, req.ErrorMessage)
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleEvent ingests one capacity event from an agent. Duplicates and
// stale events are accepted and dropped server-side.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		httpError(w, http.StatusServiceUnavailable, fmt.Errorf("event processing not configured"))
		return
	}
	var ev events.Event
	if err := decodeBody(r, &ev); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.events.Ingest(r.Context(), ev); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// decodeBody parses a JSON body. An empty body decodes to the zero value so
// agents can claim and heartbeat without one.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
