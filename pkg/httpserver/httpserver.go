// Package httpserver implements the HTTP engine (spec.md C6): the glue
// between the embedded TCP acceptor and C1 (route), C3 (httpio), C4
// (chunkstore), C5 (multipart), and C9 (policy). It mirrors the teacher's
// perkeep-perkeep/pkg/webserver.Server wrapper over http.Server,
// generalized with the method-override and error-formatting behavior this
// spec's REST surface requires. WebDAV verbs get no separate handling and
// no WebDAV bucket registry: they are looked up in the route table like
// any other method.
package httpserver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"pacsd/pkg/chunkstore"
	"pacsd/pkg/httpio"
	"pacsd/pkg/logging"
	"pacsd/pkg/multipart"
	"pacsd/pkg/pacserr"
	"pacsd/pkg/policy"
	"pacsd/pkg/route"
)

// Origin tags a request with where it came from (spec.md §3).
type Origin string

const (
	OriginRestApi       Origin = "RestApi"
	OriginDicomProtocol Origin = "DicomProtocol"
	OriginLua           Origin = "Lua"
	OriginPlugin        Origin = "Plugin"
	OriginDocumentation Origin = "Documentation"
	OriginWebDav        Origin = "WebDav"
)

// Context is the HTTP request context (spec.md §3) handed to a matched
// handler.
type Context struct {
	Method     route.Method
	URI        string
	PathParts  []string
	Headers    map[string]string // lowercased keys
	GETs       []policy.KV
	Body       []byte
	Captures   map[string]string
	Trailing   []string
	Origin     Origin
	RemoteIP   string
	Username   string
}

// Handler answers a matched request by writing through sink.
type Handler func(ctx *Context, sink *httpio.Sink) error

// ChunkedReader is a handler that wants to stream the request body instead
// of having it buffered (spec.md §4.6, pipeline step 8's second branch).
type ChunkedReader interface {
	Feed(chunk []byte)
	Execute(ctx *Context, sink *httpio.Sink) error
}

// Config carries the per-request and per-server knobs spec.md §5 and §6
// describe as configuration-driven.
type Config struct {
	Addr                string
	RemoteAccessAllowed bool
	HTTPDescribeErrors  bool
	CompressionEnabled  bool
	RequestTimeout      time.Duration
	KeepAliveTimeout    time.Duration
	TLSCertFile         string
	TLSKeyFile          string
}

// Server is the HTTP engine.
type Server struct {
	cfg        Config
	table      *route.Table
	chunks     *chunkstore.Store
	users      *policy.UserStore
	tokens     *policy.TokenStore
	authFilter *policy.Chain
	httpSrv    *http.Server
	mounts     map[string]http.Handler
}

// Mount wires a raw http.Handler at an exact path, served ahead of the
// route-table pipeline with none of its steps applied. This exists for
// handlers that need the raw http.ResponseWriter before any of this
// engine's negotiation or body-buffering happens — a WebSocket upgrade
// being the one example this module has (pkg/eventbus's WSHub).
func (s *Server) Mount(path string, h http.Handler) {
	if s.mounts == nil {
		s.mounts = map[string]http.Handler{}
	}
	s.mounts[path] = h
}

// New returns a Server wired to table for dispatch, chunks for jQuery-style
// upload aggregation, and the given auth stores and authorization chain.
func New(cfg Config, table *route.Table, chunks *chunkstore.Store, users *policy.UserStore, tokens *policy.TokenStore, authFilter *policy.Chain) *Server {
	return &Server{cfg: cfg, table: table, chunks: chunks, users: users, tokens: tokens, authFilter: authFilter}
}

// ListenAndServe starts accepting connections; it blocks until the server
// is shut down or a fatal error occurs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s,
		ReadTimeout: s.cfg.RequestTimeout,
		IdleTimeout: s.cfg.KeepAliveTimeout,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
	}()

	if s.cfg.TLSCertFile != "" {
		if s.httpSrv.TLSConfig == nil {
			s.httpSrv.TLSConfig = &tls.Config{}
		}
		s.httpSrv.TLSConfig.MinVersion = MinTLSVersion
		// HTTP/2 is only negotiated over TLS (no h2c here, matching the
		// teacher's plain-TLS-or-plain-HTTP split); advertise it via ALPN
		// so DICOMweb multipart/related answers can multiplex over one
		// connection instead of opening one per request.
		if err := http2.ConfigureServer(s.httpSrv, &http2.Server{}); err != nil {
			return err
		}
		return s.httpSrv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	}
	return s.httpSrv.ListenAndServe()
}

// MinTLSVersion is fixed at TLS 1.2, matching the spec's "TLS minimum
// version" configuration knob at its most conservative setting; a future
// config field can relax it per deployment.
var MinTLSVersion uint16 = tls.VersionTLS12

// ServeHTTP implements the per-request pipeline of spec.md §4.6.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h, ok := s.mounts[r.URL.Path]; ok {
		h.ServeHTTP(w, r)
		return
	}

	ip := remoteIP(r)
	method := route.Method(strings.ToUpper(r.Method))
	headers := lowercaseHeaders(r.Header)

	// Step 2: guard remote access.
	if !s.cfg.RemoteAccessAllowed && !isLoopback(ip) {
		s.writeError(w, r, method, pacserr.New(pacserr.Unauthorized, "remote access is disabled"))
		return
	}

	// Step 3: compression negotiation.
	encoding := httpio.NegotiateEncoding(headers["accept-encoding"], s.cfg.CompressionEnabled)

	// Step 4: GET arguments, order preserved.
	gets := parseGETArgs(r.URL)

	// Step 5: authenticate.
	username := ""
	if s.users != nil || s.tokens != nil {
		u, decision := policy.Authenticate(s.users, s.tokens, r.Header.Get("Authorization"))
		if !decision.Allowed {
			sink := httpio.New(w, encoding)
			_ = sink.SendUnauthorized("Orthanc Secure Area")
			return
		}
		username = u
	}

	// Step 6: method override.
	method = applyMethodOverride(method, headers, gets)

	pathParts := route.SplitPath(r.URL.Path)

	// Step 7: authorization filter.
	if s.authFilter != nil {
		decision := s.authFilter.Evaluate(policy.RequestContext{
			Method:  string(method),
			URI:     r.URL.Path,
			IP:      ip,
			User:    username,
			Headers: headers,
			GETs:    gets,
		})
		if !decision.Allowed {
			sink := httpio.New(w, encoding)
			_ = sink.SendStatus(decision.Status, nil)
			return
		}
	}

	handlerVal, captures, trailing, matched, allowed := s.table.Lookup(pathParts, method)
	if !matched {
		s.writeError(w, r, method, pacserr.New(pacserr.UnknownResource, "no route matches %s", r.URL.Path))
		return
	}
	if handlerVal == nil {
		sink := httpio.New(w, encoding)
		strs := make([]string, len(allowed))
		for i, m := range allowed {
			strs[i] = string(m)
		}
		_ = sink.SendMethodNotAllowed(strs)
		return
	}
	handler, ok := handlerVal.(Handler)
	if !ok {
		s.writeError(w, r, method, pacserr.New(pacserr.InternalError, "route handler for %s has the wrong type", r.URL.Path))
		return
	}

	// Step 8: body intake.
	body, err := s.intakeBody(r, headers, pathParts, method)
	if err != nil {
		s.writeError(w, r, method, err)
		return
	}

	ctx := &Context{
		Method:    method,
		URI:       r.URL.Path,
		PathParts: pathParts,
		Headers:   headers,
		GETs:      gets,
		Body:      body,
		Captures:  captures,
		Trailing:  trailing,
		Origin:    OriginRestApi,
		RemoteIP:  ip,
		Username:  username,
	}

	sink := httpio.New(w, encoding)
	if err := handler(ctx, sink); err != nil {
		s.writeError(w, r, method, err)
	}
}

// intakeBody implements pipeline step 8. Multipart/form-data bodies that
// look like jQuery-style chunks (X-Requested-With + X-File-Name +
// X-File-Size) are routed through C5 into C4; any other multipart is
// flattened to its first part's bytes (each part is otherwise meant to be
// dispatched as a standalone POST, which the composition root arranges by
// registering a per-part callback — here we return the whole raw body for
// non-chunked multiparts and let the caller re-parse if it cares).
func (s *Server) intakeBody(r *http.Request, headers map[string]string, pathParts []string, method route.Method) ([]byte, error) {
	if method != route.MethodPost && method != route.MethodPut {
		return nil, nil
	}

	contentType := headers["content-type"]
	if strings.HasPrefix(strings.ToLower(contentType), "multipart/") {
		raw := make([]byte, 0, r.ContentLength)
		buf := make([]byte, 32*1024)
		for {
			n, err := r.Body.Read(buf)
			raw = append(raw, buf[:n]...)
			if err != nil {
				break
			}
		}

		_, boundary, ok := multipart.ParseMultipartContentType(contentType)
		if !ok {
			return nil, pacserr.New(pacserr.BadRequest, "malformed multipart Content-Type %q", contentType)
		}

		isChunked := headers["x-requested-with"] == "XMLHttpRequest" &&
			headers["x-file-name"] != "" && headers["x-file-size"] != ""

		var lastBody []byte
		reader := multipart.New(boundary)
		reader.SetHandler(multipart.HandlerFunc(func(partHeaders multipart.Headers, part []byte) {
			if isChunked {
				var total int64
				fmt.Sscanf(headers["x-file-size"], "%d", &total)
				_, body := s.chunks.Store(headers["x-file-name"], total, part)
				if body != nil {
					lastBody = body
				}
				return
			}
			lastBody = part
		}))
		reader.AddChunk(raw)
		reader.CloseStream()
		return lastBody, nil
	}

	raw := make([]byte, 0, r.ContentLength)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Body.Read(buf)
		raw = append(raw, buf[:n]...)
		if err != nil {
			break
		}
	}
	return raw, nil
}

// writeError implements pipeline step 10: the top-level catch that formats
// any error into the JSON body of spec.md §6.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, method route.Method, err error) {
	kind := pacserr.KindOf(err)
	status := pacserr.HTTPStatus(err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if !s.cfg.HTTPDescribeErrors {
		return
	}

	body := map[string]interface{}{
		"Message":       err.Error(),
		"Method":        string(method),
		"Uri":           r.URL.Path,
		"HttpError":     pacserr.HTTPStatusText(status),
		"HttpStatus":    status,
		"OrthancError":  pacserr.Name(kind),
		"OrthancStatus": pacserr.OrthancStatus(kind),
	}
	enc, encErr := json.Marshal(body)
	if encErr != nil {
		logging.Errorf("httpserver: failed to encode error body: %v", encErr)
		return
	}
	_, _ = w.Write(enc)
}

func lowercaseHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) == 0 {
			continue
		}
		out[strings.ToLower(k)] = v[0]
	}
	return out
}

func parseGETArgs(u *url.URL) []policy.KV {
	var out []policy.KV
	raw := u.RawQuery
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		key, _ := url.QueryUnescape(kv[0])
		value := ""
		if len(kv) == 2 {
			value, _ = url.QueryUnescape(kv[1])
		}
		out = append(out, policy.KV{Key: key, Value: value})
	}
	return out
}

// applyMethodOverride implements pipeline step 6. Applying it twice is a
// no-op (spec.md §8, property 8) because it only ever consults the
// original wire method's override sources, never its own output.
func applyMethodOverride(method route.Method, headers map[string]string, gets []policy.KV) route.Method {
	if v := headers["x-http-method-override"]; v != "" {
		return normalizeOverride(v, method)
	}
	for _, kv := range gets {
		if strings.EqualFold(kv.Key, "_method") {
			return normalizeOverride(kv.Value, method)
		}
	}
	return method
}

func normalizeOverride(v string, fallback route.Method) route.Method {
	switch strings.ToUpper(v) {
	case "PUT":
		return route.MethodPut
	case "DELETE":
		return route.MethodDelete
	default:
		return fallback
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isLoopback(ip string) bool {
	parsed := net.ParseIP(ip)
	return parsed != nil && parsed.IsLoopback()
}
