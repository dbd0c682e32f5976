package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"conduit/internal/config"
	"conduit/internal/logging"
	"conduit/internal/pipeline"
	"conduit/internal/services"
	"conduit/internal/store"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		token:  strings.TrimSpace(cfg.Paths.APIToken),
		logger: logger,
		daemon: d,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", srv.auth(srv.handleStatus))
	mux.HandleFunc("GET /api/pipelines", srv.auth(srv.handleList))
	mux.HandleFunc("POST /api/pipelines", srv.auth(srv.handleStart))
	mux.HandleFunc("GET /api/pipelines/{id}", srv.auth(srv.handleShow))
	mux.HandleFunc("PUT /api/pipelines/{id}/chunks/{index}", srv.auth(srv.handleChunk))
	mux.HandleFunc("POST /api/pipelines/{id}/complete", srv.auth(srv.handleComplete))
	mux.HandleFunc("POST /api/pipelines/{id}/transcode", srv.auth(srv.handleTranscode))
	mux.HandleFunc("POST /api/pipelines/{id}/pause", srv.auth(srv.handlePause))
	mux.HandleFunc("POST /api/pipelines/{id}/resume", srv.auth(srv.handleResume))
	mux.HandleFunc("POST /api/pipelines/{id}/cancel", srv.auth(srv.handleCancel))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.log().Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// auth validates bearer tokens. With no token configured, requests pass
// through unauthenticated.
func (s *apiServer) auth(next http.HandlerFunc) http.HandlerFunc {
	if s.token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") || strings.TrimPrefix(header, "Bearer ") != s.token {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

type statusResponse struct {
	Running      bool   `json:"running"`
	PID          int    `json:"pid"`
	DBPath       string `json:"db_path"`
	LockFilePath string `json:"lock_file_path"`
	Total        int    `json:"total"`
	Uploading    int    `json:"uploading"`
	Transcoding  int    `json:"transcoding"`
	Distributing int    `json:"distributing"`
	Completed    int    `json:"completed"`
	Failed       int    `json:"failed"`
	StaleUploads int    `json:"stale_uploads"`
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.daemon.Status(r.Context())
	s.writeJSON(w, http.StatusOK, statusResponse{
		Running:      status.Running,
		PID:          status.PID,
		DBPath:       status.DBPath,
		LockFilePath: status.LockFilePath,
		Total:        status.Health.Total,
		Uploading:    status.Health.Uploading,
		Transcoding:  status.Health.Transcoding,
		Distributing: status.Health.Distributing,
		Completed:    status.Health.Completed,
		Failed:       status.Health.Failed,
		StaleUploads: status.Health.StaleSessions,
	})
}

type pipelineSummary struct {
	ID           string `json:"id"`
	CreatorID    string `json:"creator_id"`
	CreatorTier  string `json:"creator_tier"`
	Stage        string `json:"stage"`
	AssetID      string `json:"asset_id,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	var stages []store.Stage
	for _, value := range r.URL.Query()["stage"] {
		if stage, ok := store.ParseStage(value); ok {
			stages = append(stages, stage)
		}
	}
	pipelines, err := s.daemon.coordinator.ListPipelines(r.Context(), stages...)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	summaries := make([]pipelineSummary, 0, len(pipelines))
	for _, p := range pipelines {
		summaries = append(summaries, pipelineSummary{
			ID:           p.ID,
			CreatorID:    p.CreatorID,
			CreatorTier:  p.CreatorTier,
			Stage:        string(p.Stage),
			AssetID:      p.AssetID,
			ErrorMessage: p.ErrorMessage,
			CreatedAt:    p.CreatedAt.Format(time.RFC3339),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pipelines": summaries})
}

type startRequest struct {
	CreatorID            string   `json:"creator_id"`
	CreatorTier          string   `json:"creator_tier"`
	Filename             string   `json:"filename"`
	TotalSize            int64    `json:"total_size"`
	Platforms            []string `json:"platforms"`
	Presets              []string `json:"presets"`
	DisableAutoTranscode bool     `json:"disable_auto_transcode"`
	Metadata             string   `json:"metadata,omitempty"`
}

type startResponse struct {
	PipelineID   string   `json:"pipeline_id"`
	SessionID    string   `json:"session_id"`
	TotalChunks  int      `json:"total_chunks"`
	ChunkSize    int64    `json:"chunk_size"`
	Platforms    []string `json:"platforms"`
	Available    []string `json:"available_platforms"`
	MaxPlatforms int      `json:"max_platforms"`
}

func (s *apiServer) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	result, err := s.daemon.coordinator.StartPipeline(r.Context(), pipeline.StartRequest{
		CreatorID:            req.CreatorID,
		CreatorTier:          req.CreatorTier,
		Filename:             req.Filename,
		TotalSize:            req.TotalSize,
		Platforms:            req.Platforms,
		Presets:              req.Presets,
		DisableAutoTranscode: req.DisableAutoTranscode,
		MetadataJSON:         req.Metadata,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	resp := startResponse{
		PipelineID:   result.Pipeline.ID,
		SessionID:    result.Session.ID,
		TotalChunks:  result.Session.TotalChunks,
		ChunkSize:    result.Session.ChunkSizeBytes,
		MaxPlatforms: result.MaxPlatforms,
	}
	for _, platform := range result.Platforms {
		resp.Platforms = append(resp.Platforms, platform.ID)
	}
	for _, platform := range result.Available {
		resp.Available = append(resp.Available, platform.ID)
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *apiServer) handleShow(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.coordinator.GetPipelineStatus(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	payload := map[string]any{
		"id":             status.PipelineID,
		"stage":          string(status.Stage),
		"creator_id":     status.CreatorID,
		"creator_tier":   status.CreatorTier,
		"auto_transcode": status.AutoTranscode,
	}
	if status.ErrorMessage != "" {
		payload["error_message"] = status.ErrorMessage
	}
	if status.Upload != nil {
		payload["upload"] = map[string]any{
			"status":          string(status.Upload.Status),
			"received_chunks": status.Upload.ReceivedChunks,
			"total_chunks":    status.Upload.TotalChunks,
			"received_bytes":  status.Upload.ReceivedBytes,
			"total_bytes":     status.Upload.TotalBytes,
			"percent":         status.Upload.Percent,
		}
	}
	if status.Transcode != nil {
		jobs := make([]map[string]any, 0, len(status.Transcode.Jobs))
		for _, job := range status.Transcode.Jobs {
			jobs = append(jobs, map[string]any{
				"preset":   job.Preset,
				"status":   string(job.Status),
				"progress": job.ProgressPercent,
			})
		}
		payload["transcode"] = map[string]any{
			"overall_progress": status.Transcode.OverallProgress,
			"jobs":             jobs,
		}
	}
	if len(status.Targets) > 0 {
		targets := make([]map[string]any, 0, len(status.Targets))
		for _, target := range status.Targets {
			entry := map[string]any{
				"platform": target.PlatformID,
				"status":   string(target.Status),
			}
			if target.ErrorMessage != "" {
				entry["error_message"] = target.ErrorMessage
			}
			targets = append(targets, entry)
		}
		payload["targets"] = targets
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleChunk(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid chunk index")
		return
	}
	sessionID, ok := s.sessionFor(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "read chunk body")
		return
	}
	receipt, err := s.daemon.uploads.UploadChunk(r.Context(), sessionID, index, data)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":       receipt.SessionID,
		"index":            receipt.Index,
		"etag":             receipt.ETag,
		"already_received": receipt.AlreadyReceived,
	})
}

func (s *apiServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	finished, err := s.daemon.coordinator.CompleteUpload(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":       finished.ID,
		"stage":    string(finished.Stage),
		"asset_id": finished.AssetID,
	})
}

func (s *apiServer) handleTranscode(w http.ResponseWriter, r *http.Request) {
	finished, err := s.daemon.coordinator.BeginTranscode(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":    finished.ID,
		"stage": string(finished.Stage),
	})
}

func (s *apiServer) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.coordinator.PauseUpload(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *apiServer) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.coordinator.ResumeUpload(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.coordinator.CancelPipeline(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *apiServer) sessionFor(w http.ResponseWriter, r *http.Request) (string, bool) {
	p, err := s.daemon.store.GetPipeline(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return "", false
	}
	if p == nil || p.UploadSessionID == "" {
		s.writeError(w, http.StatusNotFound, "pipeline not found")
		return "", false
	}
	return p.UploadSessionID, true
}

// writeServiceError maps the error taxonomy onto HTTP status codes.
func (s *apiServer) writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrConfiguration):
		status = http.StatusInternalServerError
	case errors.Is(err, services.ErrUnavailable), errors.Is(err, services.ErrTransient):
		status = http.StatusServiceUnavailable
	case errors.Is(err, services.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, services.ErrExternalTool):
		status = http.StatusBadGateway
	}
	s.writeError(w, status, err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *apiServer) log() *slog.Logger {
	return logging.NewComponentLogger(s.logger, "api-server")
}
