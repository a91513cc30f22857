package restapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pacsd/pkg/chunkstore"
	"pacsd/pkg/httpio"
	"pacsd/pkg/httpserver"
	"pacsd/pkg/route"
)

func TestRegisterGetAnswersJSON(t *testing.T) {
	tbl := route.NewTable()
	s := New(tbl)
	require.NoError(t, s.RegisterGet("/studies/{id}", func(c *Call) error {
		return c.AnswerJSON(map[string]string{"id": c.Captures["id"]})
	}, CallOptions{Summary: "Retrieve a study"}))

	handlerVal, captures, _, matched, _ := tbl.Lookup([]string{"studies", "s1"}, route.MethodGet)
	require.True(t, matched)
	require.NotNil(t, handlerVal)
	assert.Equal(t, "s1", captures["id"])
}

func TestDocumentationCoverageCountsOnlySummarized(t *testing.T) {
	tbl := route.NewTable()
	s := New(tbl)
	require.NoError(t, s.RegisterGet("/a", func(c *Call) error { return nil }, CallOptions{Summary: "documented"}))
	require.NoError(t, s.RegisterGet("/b", func(c *Call) error { return nil }, CallOptions{}))
	assert.Equal(t, 0.5, s.DocumentationCoverage())
}

func TestDocumentationCoverageEmptyIsComplete(t *testing.T) {
	s := New(route.NewTable())
	assert.Equal(t, 1.0, s.DocumentationCoverage())
}

func TestOpenAPIDocumentListsEveryRegisteredCall(t *testing.T) {
	tbl := route.NewTable()
	s := New(tbl)
	require.NoError(t, s.RegisterGet("/studies", func(c *Call) error { return nil }, CallOptions{Summary: "List studies"}))
	require.NoError(t, s.RegisterPost("/studies", func(c *Call, body []byte) error { return nil }, CallOptions{Summary: "Find studies"}))

	doc := s.OpenAPIDocument("pacsd", "1.0")
	paths, ok := doc["paths"].(map[string]interface{})
	require.True(t, ok)
	entry, ok := paths["/studies"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, entry, "get")
	assert.Contains(t, entry, "post")
}

func TestReStructuredTextCheatSheetListsUndocumentedCalls(t *testing.T) {
	tbl := route.NewTable()
	s := New(tbl)
	require.NoError(t, s.RegisterGet("/system", func(c *Call) error { return nil }, CallOptions{}))
	sheet := s.ReStructuredTextCheatSheet("")
	assert.Contains(t, sheet, "/system")
	assert.Contains(t, sheet, "(undocumented)")
}

func TestCallAnswerStatusDoesNotRequireBody(t *testing.T) {
	tbl := route.NewTable()
	s := New(tbl)
	require.NoError(t, s.RegisterDelete("/studies/{id}", func(c *Call) error {
		return c.AnswerStatus(200)
	}, CallOptions{Summary: "Delete a study"}))

	handlerVal, _, _, matched, _ := tbl.Lookup([]string{"studies", "s1"}, route.MethodDelete)
	require.True(t, matched)
	handler, ok := handlerVal.(httpserver.Handler)
	require.True(t, ok)
	_ = handler
	_ = httpio.Sink{}
}

func newAnswerServer(t *testing.T) *httpserver.Server {
	tbl := route.NewTable()
	s := New(tbl)
	require.NoError(t, s.RegisterGet("/studies/{id}", func(c *Call) error {
		return c.AnswerJSON(map[string]interface{}{"id": c.Captures["id"], "Tags": []string{"a", "b"}})
	}, CallOptions{Summary: "Retrieve a study"}))
	return httpserver.New(httpserver.Config{RemoteAccessAllowed: true}, tbl, chunkstore.New(10), nil, nil, nil)
}

// Default (no Accept header) answers JSON, per spec.md §4.7.
func TestAnswerJSONDefaultsToJSON(t *testing.T) {
	srv := newAnswerServer(t)
	req := httptest.NewRequest(http.MethodGet, "/studies/42", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"id":"42"`)
}

// Accept: application/xml translates the JSON answer to XML (spec.md §4.7).
func TestAnswerJSONTranslatesToXMLOnAccept(t *testing.T) {
	srv := newAnswerServer(t)
	req := httptest.NewRequest(http.MethodGet, "/studies/42", nil)
	req.Header.Set("Accept", "application/xml")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
	assert.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<id>42</id>")
	assert.Contains(t, rec.Body.String(), "<item>a</item>")
}

// An exact application/json range still beats a low-q */* wildcard, per the
// (level, q) ordering C2 implements.
func TestAnswerJSONExactRangeBeatsLowQWildcard(t *testing.T) {
	srv := newAnswerServer(t)
	req := httptest.NewRequest(http.MethodGet, "/studies/42", nil)
	req.Header.Set("Accept", "*/*; q=0.1, application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
