package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"applypilot/internal/api"
	"applypilot/internal/config"
	"applypilot/internal/jobs"
	"applypilot/internal/logging"
	"applypilot/internal/logs"
	"applypilot/internal/services"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 64 << 10

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon
	// baseCtx outlives individual requests so background runs keep going
	// after the response is written.
	baseCtx context.Context

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger,
		daemon: d,
	}
	token := strings.TrimSpace(cfg.Paths.APIToken)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", requireToken(token, srv.handleStatus))
	mux.HandleFunc("/api/jobs", requireToken(token, srv.handleJobs))
	mux.HandleFunc("/api/jobs/", requireToken(token, srv.handleJob))
	mux.HandleFunc("/api/run", requireToken(token, srv.handleRun))
	mux.HandleFunc("/api/run/stop", requireToken(token, srv.handleRunStop))
	mux.HandleFunc("/api/apply", requireToken(token, srv.handleApply))
	mux.HandleFunc("/api/apply/stop", requireToken(token, srv.handleApplyStop))
	mux.HandleFunc("/api/logs", requireToken(token, srv.handleLogs))
	mux.HandleFunc("/healthz", srv.handleHealthz)
	if d.metricsH != nil {
		mux.HandleFunc("/metrics", requireToken(token, d.metricsH.ServeHTTP))
	}

	srv.server = &http.Server{
		Handler:           srv.instrument(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
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
	s.baseCtx = context.WithoutCancel(ctx)

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

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	list, err := s.daemon.Jobs(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	cfg := s.daemon.cfg
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.FromJobs(list, cfg.Pipeline.MinScore, s.daemon.clock.Now())})
}

// handleLogs serves the log file: the last `lines` lines, or everything
// after `offset` when given. `grep` keeps matching lines only.
func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	query := r.URL.Query()
	filter := logs.Filter{Contains: query["grep"]}
	path := s.daemon.cfg.LogPath()

	var (
		chunk logs.Chunk
		err   error
	)
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		offset, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || offset < 0 {
			s.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		chunk, err = logs.From(path, offset, filter)
	} else {
		lines := 100
		if raw := strings.TrimSpace(query.Get("lines")); raw != "" {
			n, perr := strconv.Atoi(raw)
			if perr != nil || n < 0 || n > 10000 {
				s.writeError(w, http.StatusBadRequest, "lines must be between 0 and 10000")
				return
			}
			lines = n
		}
		chunk, err = logs.Last(path, lines, filter)
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if chunk.Lines == nil {
		chunk.Lines = []string{}
	}
	s.writeJSON(w, http.StatusOK, chunk)
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPatch {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	raw := strings.TrimPrefix(r.URL.EscapedPath(), "/api/jobs/")
	jobURL, err := url.PathUnescape(raw)
	if err != nil || strings.TrimSpace(jobURL) == "" {
		s.writeError(w, http.StatusBadRequest, "job url must be path-escaped")
		return
	}
	if r.Method == http.MethodPatch {
		var req api.JobPatchRequest
		if !s.decode(w, r, &req) {
			return
		}
		opt, err := req.OptOut()
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := s.daemon.SetOptOut(r.Context(), jobURL, opt); err != nil {
			s.writeError(w, errorStatus(err), err.Error())
			return
		}
	}
	job, err := s.daemon.Job(r.Context(), jobURL)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromJob(job, s.daemon.cfg.Pipeline.MinScore, s.daemon.clock.Now()))
}

func (s *apiServer) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.RunRequest
	if !s.decode(w, r, &req) {
		return
	}
	stages, opts, err := req.RunOptions()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	mode, err := req.RunMode()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Preview {
		plan, err := s.daemon.Preview(r.Context(), stages, opts)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, api.FromPreview(plan))
		return
	}
	if err := s.daemon.StartRun(s.baseCtx, stages, mode, opts); err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	names := make([]string, len(stages))
	for i, st := range stages {
		names[i] = st.String()
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"started": true, "stages": names, "mode": mode})
}

func (s *apiServer) handleRunStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"stopped": s.daemon.StopRun()})
}

func (s *apiServer) handleApply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req api.ApplyRequest
	if !s.decode(w, r, &req) {
		return
	}
	opts, err := req.ApplyOptions()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.daemon.StartApply(s.baseCtx, opts); err != nil {
		s.writeError(w, errorStatus(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"started": true})
}

func (s *apiServer) handleApplyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"stopped": s.daemon.StopApply()})
}

func (s *apiServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	health, err := s.daemon.store.CheckHealth(r.Context())
	if err != nil || !health.DatabaseReadable {
		msg := "database unreadable"
		if err != nil {
			msg = err.Error()
		}
		s.writeError(w, http.StatusServiceUnavailable, msg)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// instrument records request counts and latency.
func (s *apiServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.daemon.metrics.RecordHTTPRequest(r.Context(), r.Method, r.URL.Path, rec.status, time.Since(started))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func parseFilter(query url.Values) (jobs.Filter, error) {
	filter := jobs.Filter{
		Search: query.Get("search"),
		Site:   query.Get("site"),
		Sort:   query.Get("sort"),
	}
	if phase := strings.TrimSpace(query.Get("phase")); phase != "" {
		filter.Phase = jobs.Phase(phase)
	}
	for key, dst := range map[string]*int{
		"min_score": &filter.MinScore,
		"max_score": &filter.MaxScore,
		"limit":     &filter.Limit,
		"offset":    &filter.Offset,
	} {
		value := strings.TrimSpace(query.Get(key))
		if value == "" {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return jobs.Filter{}, fmt.Errorf("%s must be a non-negative integer", key)
		}
		*dst = n
	}
	return filter, nil
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrBusy):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case services.Classify(err) == services.ClassPermanent:
		return http.StatusBadRequest
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
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
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

func (s *apiServer) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "api-server"))
	}
	return logging.NewNop()
}
