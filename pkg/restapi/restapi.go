// Package restapi implements the REST surface (spec.md C7): typed call
// registration over C6 (httpserver), JSON request/response helpers, and
// documentation metadata export. Grounded on
// original_source/OrthancFramework/Sources/RestApi/RestApi.h's
// Register(path, handler) + GenerateOpenApiDocumentation shape, adapted to
// the teacher's route-table-driven dispatch instead of the original's
// regex-tree RestApiHierarchy.
package restapi

import (
	"encoding/json"
	"sort"
	"strings"

	"pacsd/pkg/httpio"
	"pacsd/pkg/httpnegotiate"
	"pacsd/pkg/httpserver"
	"pacsd/pkg/pacserr"
	"pacsd/pkg/policy"
	"pacsd/pkg/route"
)

// answerFormat is the Handler payload registered with the package-level
// jsonOrXML negotiator: spec.md §4.7 only ever distinguishes "give me the
// JSON verbatim" from "translate it to XML for me", so the registered
// handlers carry nothing beyond their own name.
type answerFormat string

const (
	formatJSON answerFormat = "application/json"
	formatXML  answerFormat = "application/xml"
)

// jsonOrXML is shared by every Call.AnswerJSON invocation: RestApiOutput
// (spec.md §4.7) negotiates between JSON (the default) and XML using the
// same (level, q) content-negotiation rules as C2, rather than a bespoke
// Accept check.
var jsonOrXML = func() *httpnegotiate.Negotiator {
	n := httpnegotiate.New()
	_ = n.Register("application", "json", formatJSON)
	_ = n.Register("application", "xml", formatXML)
	return n
}()

// GetCall answers a GET request with typed access to URI captures and GET
// arguments.
type GetCall func(call *Call) error

// PostCall, PutCall and DeleteCall carry a decoded request body in addition
// to what GetCall sees.
type PostCall func(call *Call, body []byte) error
type PutCall func(call *Call, body []byte) error
type DeleteCall func(call *Call) error

// Call is the per-request facade handed to a registered callback, mirroring
// the fields original_source's RestApiCall exposes (origin, remote IP,
// username, headers, URI components, trailing).
type Call struct {
	Method   route.Method
	URI      string
	Captures map[string]string
	GETs     map[string]string
	Trailing []string
	Headers  map[string]string
	Origin   httpserver.Origin
	RemoteIP string
	Username string

	sink *httpio.Sink
}

// AnswerJSON marshals v and writes it as the response body, translating it
// to XML instead when the request's Accept header negotiates to
// application/xml (spec.md §4.7).
func (c *Call) AnswerJSON(v interface{}) error {
	enc, err := json.Marshal(v)
	if err != nil {
		return pacserr.Wrap(pacserr.InternalError, err)
	}

	format, err := jsonOrXML.Negotiate(c.Headers["accept"])
	if err != nil {
		return pacserr.Wrap(pacserr.NotAcceptable, err)
	}
	if format.(answerFormat) == formatXML {
		var generic interface{}
		if err := json.Unmarshal(enc, &generic); err != nil {
			return pacserr.Wrap(pacserr.InternalError, err)
		}
		xmlBody, err := jsonToXML("answer", generic)
		if err != nil {
			return pacserr.Wrap(pacserr.InternalError, err)
		}
		return c.sink.Answer(xmlBody, "application/xml")
	}
	return c.sink.Answer(enc, "application/json")
}

// AnswerBuffer writes raw bytes with the given MIME type.
func (c *Call) AnswerBuffer(body []byte, mime string) error {
	return c.sink.Answer(body, mime)
}

// AnswerStatus writes a bare status code, e.g. 200 for a DELETE with no body.
func (c *Call) AnswerStatus(code int) error {
	return c.sink.SendStatus(code, nil)
}

// GetArg returns the first GET argument value for key, or "" if absent.
func (c *Call) GetArg(key string) string {
	return c.GETs[key]
}

// callMetadata documents one registered call for OpenAPI/cheat-sheet export,
// grounded on RestApi.cpp's per-call help-string registration.
type callMetadata struct {
	template    string
	method      route.Method
	summary     string
	tags        []string
	documented  bool
}

// Surface is the REST call tree: a route.Table plus documentation metadata,
// grounded on original_source's RestApi class (root_ RestApiHierarchy +
// GenerateOpenApiDocumentation/GenerateReStructuredTextCheatSheet).
type Surface struct {
	table *route.Table
	meta  []callMetadata
}

// New returns an empty Surface bound to table, which must already exist
// since pkg/httpserver owns and dispatches through the same table.
func New(table *route.Table) *Surface {
	return &Surface{table: table}
}

// CallOptions documents a registered call for the OpenAPI/cheat-sheet
// export; Summary and Tags are optional.
type CallOptions struct {
	Summary string
	Tags    []string
}

func (s *Surface) record(template string, method route.Method, opts CallOptions) {
	s.meta = append(s.meta, callMetadata{
		template:   template,
		method:     method,
		summary:    opts.Summary,
		tags:       opts.Tags,
		documented: opts.Summary != "",
	})
}

func (s *Surface) wrap(fn func(*Call) error) httpserver.Handler {
	return func(ctx *httpserver.Context, sink *httpio.Sink) error {
		call := &Call{
			Method:   ctx.Method,
			URI:      ctx.URI,
			Captures: ctx.Captures,
			GETs:     flattenGETs(ctx.GETs),
			Trailing: ctx.Trailing,
			Headers:  ctx.Headers,
			Origin:   ctx.Origin,
			RemoteIP: ctx.RemoteIP,
			Username: ctx.Username,
			sink:     sink,
		}
		return fn(call)
	}
}

func flattenGETs(kvs []policy.KV) map[string]string {
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		if _, exists := out[kv.Key]; !exists {
			out[kv.Key] = kv.Value
		}
	}
	return out
}

// RegisterGet wires a GetCall at template, grounded on RestApi::Register's
// GET overload.
func (s *Surface) RegisterGet(template string, handler GetCall, opts CallOptions) error {
	s.record(template, route.MethodGet, opts)
	return s.table.Register(template, route.MethodGet, s.wrap(func(c *Call) error {
		return handler(c)
	}))
}

// RegisterPost wires a PostCall at template.
func (s *Surface) RegisterPost(template string, handler PostCall, opts CallOptions) error {
	s.record(template, route.MethodPost, opts)
	return s.table.Register(template, route.MethodPost, httpserver.Handler(func(ctx *httpserver.Context, sink *httpio.Sink) error {
		call := &Call{
			Method: ctx.Method, URI: ctx.URI, Captures: ctx.Captures,
			GETs: flattenGETs(ctx.GETs), Trailing: ctx.Trailing, Headers: ctx.Headers,
			Origin: ctx.Origin, RemoteIP: ctx.RemoteIP, Username: ctx.Username, sink: sink,
		}
		return handler(call, ctx.Body)
	}))
}

// RegisterPut wires a PutCall at template.
func (s *Surface) RegisterPut(template string, handler PutCall, opts CallOptions) error {
	s.record(template, route.MethodPut, opts)
	return s.table.Register(template, route.MethodPut, httpserver.Handler(func(ctx *httpserver.Context, sink *httpio.Sink) error {
		call := &Call{
			Method: ctx.Method, URI: ctx.URI, Captures: ctx.Captures,
			GETs: flattenGETs(ctx.GETs), Trailing: ctx.Trailing, Headers: ctx.Headers,
			Origin: ctx.Origin, RemoteIP: ctx.RemoteIP, Username: ctx.Username, sink: sink,
		}
		return handler(call, ctx.Body)
	}))
}

// RegisterDelete wires a DeleteCall at template.
func (s *Surface) RegisterDelete(template string, handler DeleteCall, opts CallOptions) error {
	s.record(template, route.MethodDelete, opts)
	return s.table.Register(template, route.MethodDelete, s.wrap(func(c *Call) error {
		return handler(c)
	}))
}

// DocumentationCoverage returns the fraction of registered calls that
// carry a non-empty Summary, backing GET /tools/documentation-coverage.
func (s *Surface) DocumentationCoverage() float64 {
	if len(s.meta) == 0 {
		return 1
	}
	documented := 0
	for _, m := range s.meta {
		if m.documented {
			documented++
		}
	}
	return float64(documented) / float64(len(s.meta))
}

// OpenAPIDocument renders the registered call tree as a minimal OpenAPI 3
// document, grounded on RestApi::GenerateOpenApiDocumentation.
func (s *Surface) OpenAPIDocument(title, version string) map[string]interface{} {
	paths := map[string]interface{}{}
	sorted := append([]callMetadata(nil), s.meta...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].template != sorted[j].template {
			return sorted[i].template < sorted[j].template
		}
		return sorted[i].method < sorted[j].method
	})

	for _, m := range sorted {
		key := toOpenAPIPath(m.template)
		methodEntry := map[string]interface{}{
			"summary": m.summary,
			"tags":    m.tags,
			"responses": map[string]interface{}{
				"200": map[string]interface{}{"description": "success"},
			},
		}
		entry, ok := paths[key].(map[string]interface{})
		if !ok {
			entry = map[string]interface{}{}
			paths[key] = entry
		}
		entry[strings.ToLower(string(m.method))] = methodEntry
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info":    map[string]interface{}{"title": title, "version": version},
		"paths":   paths,
	}
}

// toOpenAPIPath rewrites a {capture} route template into OpenAPI's
// {capture} form (they already match; retained as its own function since
// the teacher's C++ templates use a different placeholder syntax that this
// translation step would otherwise need to bridge).
func toOpenAPIPath(template string) string {
	return template
}

// ReStructuredTextCheatSheet renders a compact table of every registered
// call, grounded on RestApi::GenerateReStructuredTextCheatSheet.
func (s *Surface) ReStructuredTextCheatSheet(openAPIURL string) string {
	var b strings.Builder
	b.WriteString("REST API cheat sheet\n")
	b.WriteString("=====================\n\n")
	if openAPIURL != "" {
		b.WriteString("Full OpenAPI specification: " + openAPIURL + "\n\n")
	}

	sorted := append([]callMetadata(nil), s.meta...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].template != sorted[j].template {
			return sorted[i].template < sorted[j].template
		}
		return sorted[i].method < sorted[j].method
	})

	b.WriteString("===== ========================== ===========================\n")
	b.WriteString("Verb  URI                        Summary\n")
	b.WriteString("===== ========================== ===========================\n")
	for _, m := range sorted {
		summary := m.summary
		if summary == "" {
			summary = "(undocumented)"
		}
		b.WriteString(padRight(string(m.method), 6))
		b.WriteString(padRight(m.template, 27))
		b.WriteString(summary)
		b.WriteString("\n")
	}
	b.WriteString("===== ========================== ===========================\n")
	return b.String()
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s + " "
	}
	return s + strings.Repeat(" ", n-len(s))
}
