package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"stackctl/internal/orchestrator"
	"stackctl/pkg/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	subsystem = "StatusAPI"

	shutdownTimeout = 5 * time.Second
	recheckTimeout  = 30 * time.Second
)

// NewRouter builds the status API routes.
func NewRouter(p StatusProvider) *chi.Mux {
	h := &handler{provider: p}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Get("/services", h.listServices)
		r.Get("/services/{name}", h.getService)
		r.Get("/addresses", h.addresses)
		r.Post("/recheck", h.recheck)
	})
	return r
}

// Server serves the status API for one run.
type Server struct {
	http *http.Server
	ln   net.Listener
}

// Listen binds addr. Serve must be called to accept requests.
func Listen(addr string, p StatusProvider) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("status API listen on %s: %w", addr, err)
	}
	return &Server{
		http: &http.Server{Handler: NewRouter(p), ReadHeaderTimeout: 5 * time.Second},
		ln:   ln,
	}, nil
}

// Addr is the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Serve accepts requests until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info(subsystem, "Serving status on http://%s", s.Addr())
		errCh <- s.http.Serve(s.ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status API shutdown: %w", err)
		}
		return nil
	}
}

type handler struct {
	provider StatusProvider
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, "", map[string]string{"status": "ok"})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, "", statusResponse(h.provider.Snapshot()))
}

func (h *handler) listServices(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, "", statusResponse(h.provider.Snapshot()).Services)
}

func (h *handler) getService(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, rs := range h.provider.Snapshot().Services {
		if rs.Descriptor.Name == name {
			respondSuccess(w, http.StatusOK, "", serviceInfo(rs))
			return
		}
	}
	respondFail(w, http.StatusNotFound, fmt.Sprintf("service %q is not part of this deployment", name), nil)
}

func (h *handler) addresses(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, http.StatusOK, "", h.provider.Snapshot().Run.Addresses)
}

func (h *handler) recheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), recheckTimeout)
	defer cancel()

	err := h.provider.Recheck(ctx)
	data := statusResponse(h.provider.Snapshot())
	if err != nil {
		respondFail(w, http.StatusServiceUnavailable, err.Error(), data)
		return
	}
	respondSuccess(w, http.StatusOK, "all services healthy", data)
}

func statusResponse(snap orchestrator.Snapshot) StatusResponse {
	resp := StatusResponse{Run: runInfo(snap.Run), Services: make([]ServiceInfo, 0, len(snap.Services))}
	for _, rs := range snap.Services {
		resp.Services = append(resp.Services, serviceInfo(rs))
	}
	return resp
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func respondSuccess(w http.ResponseWriter, statusCode int, message string, data any) {
	writeJSON(w, statusCode, Response{Status: "success", Message: message, Data: data})
}

func respondFail(w http.ResponseWriter, statusCode int, message string, data any) {
	writeJSON(w, statusCode, Response{Status: "fail", Message: message, Data: data})
}

// requestLogger logs every request at debug level through pkg/logging.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug(subsystem, "%s %s -> %d (%s, request %s)", r.Method, r.URL.Path, ww.Status(),
			time.Since(start).Round(time.Microsecond), middleware.GetReqID(r.Context()))
	})
}
