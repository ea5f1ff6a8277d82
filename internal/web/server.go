// Package web provides the HTTP status page and command API for the henny
// daemon. Reads come from the status tracker; every command goes through the
// control loop.
package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sweeney/henny/internal/feeder"
	"github.com/sweeney/henny/internal/status"
	"github.com/sweeney/henny/internal/store"
)

// DefaultCommandTimeout bounds how long a request waits for the control loop.
const DefaultCommandTimeout = 10 * time.Second

// Dispatcher executes a command on the control loop.
type Dispatcher interface {
	Do(ctx context.Context, cmd feeder.Command) (feeder.Reply, error)
}

// Options carries the optional parts of a Server.
type Options struct {
	Dispatcher Dispatcher     // nil serves the status page only
	Metrics    http.Handler   // served on /metrics when set
	Location   *time.Location // for birth dates; defaults to time.Local
}

// Server serves the status page and command API over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	dispatch   Dispatcher
	loc        *time.Location
	timeout    time.Duration
}

// New creates a Server that reads state from the given tracker.
func New(addr string, tracker *status.Tracker, opts Options) *Server {
	s := &Server{
		tracker:  tracker,
		dispatch: opts.Dispatcher,
		loc:      opts.Location,
		timeout:  DefaultCommandTimeout,
	}
	if s.loc == nil {
		s.loc = time.Local
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("GET /index.json", s.handleJSON)
	mux.HandleFunc("GET /status", s.handleStatus)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	mux.HandleFunc("POST /api/feed", s.handleFeed)
	mux.HandleFunc("POST /api/calibrate", s.simple(feeder.CmdCalibrate))
	mux.HandleFunc("POST /api/calibration", s.handleSaveCalibration)
	mux.HandleFunc("POST /api/test", s.simple(feeder.CmdTestMotor))
	mux.HandleFunc("POST /api/stop", s.simple(feeder.CmdStop))
	mux.HandleFunc("POST /api/chicks", s.handleAddChicks)
	mux.HandleFunc("DELETE /api/chicks/{index}", s.handleRemoveChicks)
	mux.HandleFunc("POST /api/config", s.handleConfig)
	mux.HandleFunc("POST /api/reset-daily", s.simple(feeder.CmdResetDaily))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's routes. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// handleStatus asks the control loop for a fresh report instead of the
// tracker's last tick.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.do(w, r, feeder.Command{Kind: feeder.CmdStatus})
	if !ok {
		return
	}
	snap := s.tracker.Snapshot()
	if rep.Report != nil {
		snap.Feeder = *rep.Report
		snap.Updated = true
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	var req FeedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.command(w, r, feeder.Command{Kind: feeder.CmdFeed, Grams: req.Grams})
}

func (s *Server) handleSaveCalibration(w http.ResponseWriter, r *http.Request) {
	var req FeedRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.command(w, r, feeder.Command{Kind: feeder.CmdSaveCalibration, Grams: req.Grams})
}

func (s *Server) handleAddChicks(w http.ResponseWriter, r *http.Request) {
	var req ChicksRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	birth, err := parseBirthDate(req.BirthDate, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.command(w, r, feeder.Command{Kind: feeder.CmdAddChicks, Count: req.Count, BirthDate: birth})
}

func (s *Server) handleRemoveChicks(w http.ResponseWriter, r *http.Request) {
	i, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be a number")
		return
	}
	s.command(w, r, feeder.Command{Kind: feeder.CmdRemoveChicks, Index: i})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var settings store.Settings
	if err := decodeBody(r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.command(w, r, feeder.Command{Kind: feeder.CmdUpdateConfig, Settings: settings})
}

func (s *Server) simple(kind feeder.CommandKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.command(w, r, feeder.Command{Kind: kind})
	}
}

func (s *Server) command(w http.ResponseWriter, r *http.Request, cmd feeder.Command) {
	rep, ok := s.do(w, r, cmd)
	if !ok {
		return
	}
	if !rep.OK {
		log.Printf("web: %s rejected: %s", cmd.Kind, rep.Message)
	}
	writeJSON(w, httpStatus(rep), replyJSON(rep))
}

// do runs cmd on the control loop. On failure the response is written and
// ok is false.
func (s *Server) do(w http.ResponseWriter, r *http.Request, cmd feeder.Command) (feeder.Reply, bool) {
	if s.dispatch == nil {
		writeError(w, http.StatusServiceUnavailable, "commands not available")
		return feeder.Reply{}, false
	}
	cmd.Source = feeder.SourceRemote

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	rep, err := s.dispatch.Do(ctx, cmd)
	if err != nil {
		log.Printf("web: %s not executed: %v", cmd.Kind, err)
		writeError(w, http.StatusServiceUnavailable, "control loop unavailable")
		return feeder.Reply{}, false
	}
	return rep, true
}
