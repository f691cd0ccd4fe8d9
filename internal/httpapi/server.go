// Package httpapi is the JSON surface over the schedule service. Routing
// uses net/http method patterns; every schedule endpoint answers with the
// uniform Response shape, 400 for rejected requests.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"slotsched/internal/schedule"
	"slotsched/pkg/logx"
)

const maxBodyBytes = 1 << 20

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	return c
}

type Server struct {
	cfg Config
	svc *schedule.Service
	log logx.Logger
	srv *http.Server
}

func NewServer(cfg Config, svc *schedule.Service, log logx.Logger) *Server {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, svc: svc, log: log}
	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/schedule/slots", s.handleSlots)
	mux.HandleFunc("POST /api/v1/schedule/slot", s.handleCampaignSlot)
	mux.HandleFunc("POST /api/v1/schedule/job", s.handleJob)
	mux.HandleFunc("POST /api/v1/schedule", s.handleGeneric)
	mux.HandleFunc("DELETE /api/v1/schedule/delete-job/{name}/{group}", s.handleDelete)
	mux.HandleFunc("POST /api/v1/schedule/pause-job/{name}/{group}", s.handlePause)
	mux.HandleFunc("POST /api/v1/schedule/resume-job/{name}/{group}", s.handleResume)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Run serves until ctx is cancelled, then drains with the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", logx.String("addr", s.cfg.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) handleSlots(w http.ResponseWriter, r *http.Request) {
	var req schedule.SlotVisibilityRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respond(w, s.svc.ScheduleSlots(r.Context(), req))
}

func (s *Server) handleCampaignSlot(w http.ResponseWriter, r *http.Request) {
	var req schedule.CampaignSlotRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respond(w, s.svc.ScheduleCampaignSlot(r.Context(), req))
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	var req schedule.ScheduleRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respond(w, s.svc.ScheduleJob(r.Context(), req))
}

func (s *Server) handleGeneric(w http.ResponseWriter, r *http.Request) {
	var req schedule.ScheduleRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.respond(w, s.svc.ScheduleGeneric(r.Context(), req))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	name, group := r.PathValue("name"), r.PathValue("group")
	deleted, err := s.svc.DeleteJob(r.Context(), name, group)
	if err != nil {
		s.log.Error("delete failed", logx.String("job", name), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, false)
		return
	}
	if !deleted {
		writeJSON(w, http.StatusBadRequest, false)
		return
	}
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, s.svc.PauseJob)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.lifecycleOp(w, r, s.svc.ResumeJob)
}

func (s *Server) lifecycleOp(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, string) error) {
	name, group := r.PathValue("name"), r.PathValue("group")
	if err := fn(r.Context(), name, group); err != nil {
		s.log.Error("lifecycle op failed", logx.String("job", name), logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, false)
		return
	}
	writeJSON(w, http.StatusOK, true)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		s.respond(w, schedule.Response{Success: false, Message: "Malformed request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, resp schedule.Response) {
	status := http.StatusOK
	if !resp.Success {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
