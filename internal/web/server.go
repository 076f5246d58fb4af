// Package web provides the HTTP status page and control endpoints for the
// nightskip daemon.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sweeney/nightskip/internal/control"
	"github.com/sweeney/nightskip/internal/render"
	"github.com/sweeney/nightskip/internal/status"
)

// Submitter runs a control command and waits for the reply.
type Submitter interface {
	Submit(ctx context.Context, command string, args ...string) (control.Reply, error)
}

// commandTimeout bounds how long a request waits for the run loop.
const commandTimeout = 10 * time.Second

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	control    Submitter
}

// New creates a Server that reads state from the given tracker. A nil
// submitter disables the control endpoints.
func New(addr string, tracker *status.Tracker, submitter Submitter) *Server {
	s := &Server{tracker: tracker, control: submitter}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	if submitter != nil {
		mux.HandleFunc("POST /control/{command}", s.handleControl)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler. Useful for tests.
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

// ControlRequest is the optional body of a control call.
type ControlRequest struct {
	Args []string `json:"args"`
}

// ControlResponse is the body returned by a control call.
type ControlResponse struct {
	OK    bool         `json:"ok"`
	Error string       `json:"error,omitempty"`
	Plain string       `json:"plain"`
	Runs  []render.Run `json:"runs"`
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	var req ControlRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 4096))
	if err == nil && len(body) > 0 {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		writeControl(w, http.StatusBadRequest, ControlResponse{Error: "invalid body: " + err.Error(), Runs: []render.Run{}})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	rep, err := s.control.Submit(ctx, r.PathValue("command"), req.Args...)
	if err != nil {
		writeControl(w, http.StatusServiceUnavailable, ControlResponse{Error: err.Error(), Runs: []render.Run{}})
		return
	}

	msg := rep.Message()
	resp := ControlResponse{OK: rep.Err == nil, Plain: msg.Plain(), Runs: msg.Runs}
	if resp.Runs == nil {
		resp.Runs = []render.Run{}
	}
	code := http.StatusOK
	if rep.Err != nil {
		resp.Error = rep.Err.Error()
		code = http.StatusInternalServerError
		if errors.Is(rep.Err, control.ErrUsage) || errors.Is(rep.Err, control.ErrUnknownCommand) {
			code = http.StatusBadRequest
		}
	}
	writeControl(w, code, resp)
}

func writeControl(w http.ResponseWriter, code int, resp ControlResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}
