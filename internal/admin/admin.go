// Package admin serves the administrative HTTP surface of a machine: the two
// compaction switches, bank listings, an invariant check and Prometheus
// metrics.
//
//	PUT  /compact/vm     body "3"  -> compact vm banks of both classes, JSON results
//	PUT  /compact/file   body "1"  -> compact normal-class file banks
//	GET  /compact/{kind}           -> last written mask
//	GET  /banks                    -> banks with free frames and extents
//	GET  /verify                   -> 200 when every invariant holds
//	GET  /metrics                  -> Prometheus exposition
package admin

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

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joshuapare/regionkit/internal/logging"
	"github.com/joshuapare/regionkit/internal/machine"
	"github.com/joshuapare/regionkit/mm/compact"
)

const maxBody = 32

// Server routes admin requests to one machine.
type Server struct {
	m      *machine.Machine
	logger *slog.Logger
	router *mux.Router
}

// New returns a server for m. A nil logger discards.
func New(m *machine.Machine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{m: m, logger: logger, router: mux.NewRouter()}
	s.router.HandleFunc("/compact/{kind:vm|file}", s.readMask).Methods(http.MethodGet)
	s.router.HandleFunc("/compact/{kind:vm|file}", s.writeMask).Methods(http.MethodPut, http.MethodPost)
	s.router.HandleFunc("/banks", s.banks).Methods(http.MethodGet)
	s.router.HandleFunc("/verify", s.verify).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	s.logger.Info("admin listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) readMask(w http.ResponseWriter, r *http.Request) {
	mask := s.m.Control.VM()
	if mux.Vars(r)["kind"] == "file" {
		mask = s.m.Control.File()
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%d\n", mask)
}

func (s *Server) writeMask(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mask, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 8)
	if err != nil {
		http.Error(w, fmt.Sprintf("mask must be a decimal integer: %v", err), http.StatusBadRequest)
		return
	}

	write := s.m.Control.WriteVM
	if kind == "file" {
		write = s.m.Control.WriteFile
	}
	results, err := write(uint(mask))
	if errors.Is(err, compact.ErrInvalidMask) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		s.logger.Error("compaction failed", "kind", kind, "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("compaction requested", "kind", kind, "mask", mask, "banks", len(results))
	if results == nil {
		results = []compact.Result{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) banks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.m.Snapshot())
}

func (s *Server) verify(w http.ResponseWriter, _ *http.Request) {
	if err := s.m.Verify(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
