// Package websrc is the HTTP event source: handlers are registered against
// a (bind, method, path) triple and fired once per matching request, either
// producing a single response or — for long-running work — an initial
// response followed by continued background processing.
package websrc

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"girl/internal/registry"
	"girl/internal/world"
)

// Response is what a single-response Handler returns.
type Response struct {
	Status  int
	Headers map[string]string
	Body    []byte
}

// TextResponse builds a 200 OK, text/plain Response.
func TextResponse(body string) Response {
	return Response{Status: http.StatusOK, Headers: map[string]string{"Content-Type": "text/plain; charset=utf-8"}, Body: []byte(body)}
}

// JSONResponse builds a Response with the given status and already-encoded
// JSON body, Content-Type application/json, plus any extra headers.
func JSONResponse(status int, headers map[string]string, body []byte) Response {
	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}
	return Response{Status: status, Headers: h, Body: body}
}

// Handler produces the response for a single request.
type Handler func(ctx context.Context, w *world.World, req *Request) (Response, error)

// DeferredHandler produces an immediate response, then continues running in
// the background after it's sent (e.g. a webhook acknowledged instantly
// while the real work happens afterward).
type DeferredHandler func(ctx context.Context, w *world.World, req *Request) (Response, func(ctx context.Context, w *world.World), error)

// Request wraps an inbound HTTP request. Its url, route match, headers and
// body are all recorded into the Store as soon as the request is set up,
// before the handler ever sees it — not lazily, on first access.
type Request struct {
	Method string
	Path   string
	Bind   string
	Match  map[string]string
	r      *http.Request
	world  *world.World
	body   []byte
}

// newRequest builds the Request for an inbound call, eagerly reading the
// body (the underlying stream can only be drained once) and recording url,
// match, headers and body under their reserved keys.
func newRequest(method, path, bind string, match map[string]string, r *http.Request, wd *world.World) (*Request, error) {
	req := &Request{Method: method, Path: path, Bind: bind, Match: match, r: r, world: wd}

	buf := make([]byte, 0)
	chunk := make([]byte, 4096)
	for {
		n, err := r.Body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	req.body = buf

	if err := wd.StoreString("*request-url*", r.URL.String()); err != nil {
		return nil, err
	}
	if err := wd.StoreJSON("*request-match*", match); err != nil {
		return nil, err
	}
	if err := wd.StoreJSON("*request-head*", r.Header); err != nil {
		return nil, err
	}
	if err := wd.StoreBytes("*request-body*", buf); err != nil {
		return nil, err
	}
	return req, nil
}

// URL returns the request's full URL, already recorded under
// "*request-url*".
func (req *Request) URL() (string, error) {
	return req.r.URL.String(), nil
}

// PathValues returns the route's matched path parameters (from the Go 1.22+
// ServeMux pattern), already recorded under "*request-match*".
func (req *Request) PathValues() (map[string]string, error) {
	return req.Match, nil
}

// Headers returns the request headers, already recorded under
// "*request-head*".
func (req *Request) Headers() (http.Header, error) {
	return req.r.Header, nil
}

// Body returns the request body, already recorded under "*request-body*".
func (req *Request) Body() ([]byte, error) {
	return req.body, nil
}

type registration struct {
	Bind     string
	Method   string
	Path     string
	Single   Handler
	Deferred DeferredHandler
}

// Source is the HTTP event source.
type Source struct {
	reg      *registry.Registry[registration]
	newWorld func(eventID string) *world.World
	logger   *slog.Logger

	mu      sync.Mutex
	muxes   map[string]*http.ServeMux
	servers []*http.Server
	wg      sync.WaitGroup
}

// New builds an HTTP Source.
func New(newWorld func(eventID string) *world.World, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		reg:      registry.New[registration](),
		newWorld: newWorld,
		logger:   logger,
		muxes:    make(map[string]*http.ServeMux),
	}
}

// normalizeBind rewrites "localhost:port" to "127.0.0.1:port"; an absolute
// path is left untouched (a Unix socket bind).
func normalizeBind(bind string) string {
	if strings.HasPrefix(bind, "/") {
		return bind
	}
	host, port, ok := strings.Cut(bind, ":")
	if ok && host == "localhost" {
		return "127.0.0.1:" + port
	}
	return bind
}

func eventID(bind, method, path string) string {
	return bind + " " + method + " " + path
}

func (s *Source) mux(bind string) *http.ServeMux {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.muxes[bind]
	if !ok {
		m = http.NewServeMux()
		s.muxes[bind] = m
	}
	return m
}

// On registers a single-response handler for method+path on bind.
func (s *Source) On(bind, method, path string, fn Handler) error {
	bind = normalizeBind(bind)
	id := eventID(bind, method, path)
	if err := s.reg.Add(id, registration{Bind: bind, Method: method, Path: path, Single: fn}); err != nil {
		return err
	}
	s.mux(bind).HandleFunc(method+" "+path, s.serveFunc(id, bind, method, path))
	return nil
}

// OnDeferred registers a deferred handler for method+path on bind: fn
// returns the immediate response and, optionally, a continuation run after
// it's flushed to the client.
func (s *Source) OnDeferred(bind, method, path string, fn DeferredHandler) error {
	bind = normalizeBind(bind)
	id := eventID(bind, method, path)
	if err := s.reg.Add(id, registration{Bind: bind, Method: method, Path: path, Deferred: fn}); err != nil {
		return err
	}
	s.mux(bind).HandleFunc(method+" "+path, s.serveFunc(id, bind, method, path))
	return nil
}

// IDs returns the registered event ids.
func (s *Source) IDs() []string { return s.reg.IDs() }

func (s *Source) serveFunc(id, bind, method, path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reg, _ := s.reg.Handler(id)
		match := map[string]string{}
		// Go 1.22+ ServeMux path-value wildcards, if any were declared in path.
		for _, seg := range strings.Split(path, "/") {
			if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
				name := strings.TrimSuffix(strings.TrimPrefix(seg, "{"), "}")
				name = strings.TrimSuffix(name, "...")
				match[name] = r.PathValue(name)
			}
		}

		correlationID := uuid.New().String()
		w.Header().Set("X-Correlation-Id", correlationID)

		wd := s.newWorld(id)
		if err := wd.Enter(); err != nil {
			s.logger.Error("begin_run failed", "event", id, "correlation_id", correlationID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		wd.Tag("correlation:" + correlationID)
		req, err := newRequest(method, path, bind, match, r, wd)
		if err != nil {
			s.logger.Error("recording request failed", "event", id, "run", wd.RunID, "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			_ = wd.Exit()
			return
		}

		if reg.Fn.Single != nil {
			resp, err := reg.Fn.Single(r.Context(), wd, req)
			if err != nil {
				s.logger.Error("handler failed", "event", id, "run", wd.RunID, "error", err)
				writeResponse(w, Response{Status: http.StatusInternalServerError})
			} else {
				writeResponse(w, resp)
			}
			if err := wd.Exit(); err != nil {
				s.logger.Error("finish_run failed", "event", id, "run", wd.RunID, "error", err)
			}
			return
		}

		resp, cont, err := reg.Fn.Deferred(r.Context(), wd, req)
		if err != nil {
			s.logger.Error("deferred handler failed", "event", id, "run", wd.RunID, "error", err)
			writeResponse(w, Response{Status: http.StatusInternalServerError})
			_ = wd.Exit()
			return
		}
		writeResponse(w, resp)
		if cont == nil {
			if err := wd.Exit(); err != nil {
				s.logger.Error("finish_run failed", "event", id, "run", wd.RunID, "error", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.logger.Debug("resuming deferred handler in background", "event", id, "run", wd.RunID)
			cont(context.Background(), wd)
			s.logger.Debug("deferred handler finished in background", "event", id, "run", wd.RunID)
			if err := wd.Exit(); err != nil {
				s.logger.Error("finish_run failed", "event", id, "run", wd.RunID, "error", err)
			}
		}()
	}
}

func writeResponse(w http.ResponseWriter, resp Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(resp.Body) > 0 {
		w.Write(resp.Body)
	}
}

// Run starts one HTTP (or Unix-socket) server per distinct bind registered,
// and serves until ctx is cancelled.
func (s *Source) Run(ctx context.Context) error {
	s.mu.Lock()
	binds := make([]string, 0, len(s.muxes))
	for bind := range s.muxes {
		binds = append(binds, bind)
	}
	s.mu.Unlock()

	errs := make(chan error, len(binds))
	for _, bind := range binds {
		bind := bind
		ln, err := listen(bind)
		if err != nil {
			return err
		}
		srv := &http.Server{Handler: s.mux(bind)}
		s.mu.Lock()
		s.servers = append(s.servers, srv)
		s.mu.Unlock()
		s.logger.Info("serving", "bind", bind, "routes", s.routesFor(bind))
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- err
				return
			}
			errs <- nil
		}()
	}

	<-ctx.Done()
	s.mu.Lock()
	servers := append([]*http.Server{}, s.servers...)
	s.mu.Unlock()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range servers {
		srv.Shutdown(shutdownCtx)
	}
	for range binds {
		<-errs
	}
	s.wg.Wait()
	return nil
}

func (s *Source) routesFor(bind string) []string {
	var out []string
	for _, id := range s.reg.IDs() {
		if strings.HasPrefix(id, bind+" ") {
			out = append(out, strings.TrimPrefix(id, bind+" "))
		}
	}
	return out
}

func listen(bind string) (net.Listener, error) {
	if strings.HasPrefix(bind, "/") {
		return net.Listen("unix", bind)
	}
	return net.Listen("tcp", bind)
}
