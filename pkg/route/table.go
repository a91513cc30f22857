package route

import "sort"

// Method is an HTTP or WebDAV verb, kept as a plain string so the table
// works for both the REST surface's four call types and the WebDAV verb
// bucket (spec.md §4.6 point 6).
type Method string

const (
	MethodGet       Method = "GET"
	MethodPost      Method = "POST"
	MethodPut       Method = "PUT"
	MethodDelete    Method = "DELETE"
	MethodHead      Method = "HEAD"
	MethodOptions   Method = "OPTIONS"
	MethodPropfind  Method = "PROPFIND"
	MethodProppatch Method = "PROPPATCH"
	MethodMkcol     Method = "MKCOL"
	MethodLock      Method = "LOCK"
	MethodUnlock    Method = "UNLOCK"
)

// entry binds one compiled route to the handlers registered for it, one
// per method.
type entry struct {
	route    *Route
	handlers map[Method]interface{}
}

// Table is a set of routes treated as a set (spec.md §4.1): a path may be
// matched by several route templates, and the table can report every
// method registered across all of them, for 405 responses (S6).
type Table struct {
	entries []*entry
}

// NewTable returns an empty route table.
func NewTable() *Table { return &Table{} }

// Register adds handler for method at template, compiling the template if
// it hasn't been seen by this table yet. Registering the same (template,
// method) pair twice replaces the handler.
func (t *Table) Register(template string, method Method, handler interface{}) error {
	r, err := Compile(template)
	if err != nil {
		return err
	}
	for _, e := range t.entries {
		if e.route.Template() == template {
			e.handlers[method] = handler
			return nil
		}
	}
	t.entries = append(t.entries, &entry{route: r, handlers: map[Method]interface{}{method: handler}})
	return nil
}

// Lookup finds the handler for method at path. If the path matches at
// least one route but none of them registers method, handler is nil,
// matchedPath is true, and allowed lists every method registered on the
// matching route(s) — the caller (C6) uses this to emit
// "405 Method Not Allowed" with an Allow header (S6).
func (t *Table) Lookup(path []string, method Method) (handler interface{}, captures map[string]string, trailing []string, matchedPath bool, allowed []Method) {
	allowedSet := map[Method]bool{}
	for _, e := range t.entries {
		c, tr, ok := e.route.Match(path)
		if !ok {
			continue
		}
		matchedPath = true
		for m := range e.handlers {
			allowedSet[m] = true
		}
		if h, ok := e.handlers[method]; ok {
			return h, c, tr, true, nil
		}
	}
	if !matchedPath {
		return nil, nil, nil, false, nil
	}
	for m := range allowedSet {
		allowed = append(allowed, m)
	}
	sort.Slice(allowed, func(i, j int) bool { return allowed[i] < allowed[j] })
	return nil, nil, nil, true, allowed
}
