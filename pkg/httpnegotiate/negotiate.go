// Package httpnegotiate implements the content negotiator (spec.md C2): it
// picks the best registered MIME handler for an incoming Accept header,
// under the usual (level, q) ordering rather than naive first-match.
package httpnegotiate

import (
	"strconv"
	"strings"

	"pacsd/pkg/pacserr"
)

// Handler is whatever a caller registers per (type, subtype); Negotiator
// is generic over it so C3/C7 can register their own handler shape.
type Handler interface{}

// mediaRange is one parsed comma-separated entry of an Accept header.
type mediaRange struct {
	typ, subtype string
	q            float64
	params       map[string]string
}

// registration is one registered (type, subtype) -> Handler pair. type and
// subtype are never "*" here — registrations are always exact, per
// spec.md §4.2 ("For every registered handler... whose (type, subtype) is
// a match of the range").
type registration struct {
	typ, subtype string
	handler      Handler
}

// Negotiator holds the registered handlers for one negotiation point (e.g.
// one REST call that can answer JSON or XML).
type Negotiator struct {
	regs []registration
}

// New returns an empty Negotiator.
func New() *Negotiator { return &Negotiator{} }

// Register adds a handler for the exact MIME type "type/subtype". It is a
// protocol error to register a wildcard here — wildcards only appear in
// the Accept header being matched against.
func (n *Negotiator) Register(typ, subtype string, handler Handler) error {
	if typ == "*" || subtype == "*" {
		return pacserr.New(pacserr.ParameterOutOfRange, "cannot register a wildcard MIME type %s/%s", typ, subtype)
	}
	n.regs = append(n.regs, registration{typ: typ, subtype: subtype, handler: handler})
	return nil
}

// candidate is one (registration, media range) match, scored for ordering.
type candidate struct {
	level int
	q     float64
	reg   registration
}

func (c candidate) less(o candidate) bool {
	if c.level != o.level {
		return c.level < o.level
	}
	return c.q < o.q
}

// Negotiate parses accept (the literal value of an Accept header, or ""
// which is treated as "*/*") and returns the best-matching registered
// handler. If no Accept header is present at all, pass "*/*" explicitly —
// an empty string is treated the same way (spec.md §4.2).
func (n *Negotiator) Negotiate(accept string) (Handler, error) {
	if strings.TrimSpace(accept) == "" {
		accept = "*/*"
	}

	var best *candidate
	for _, rangeStr := range strings.Split(accept, ",") {
		mr, ok, err := parseMediaRange(rangeStr)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // missing '/' in the range: silently skip (spec.md §4.2)
		}
		for _, reg := range n.regs {
			level, ok := matchLevel(mr, reg)
			if !ok {
				continue
			}
			c := candidate{level: level, q: mr.q, reg: reg}
			if best == nil || best.less(c) {
				best = &c
			}
		}
	}
	if best == nil {
		return nil, pacserr.New(pacserr.NotAcceptable, "no registered handler accepts %q", accept)
	}
	return best.reg.handler, nil
}

// matchLevel reports whether reg is matched by mr, and the match's level:
// 0 for "*/*", 1 for "type/*", 2 for an exact match.
func matchLevel(mr mediaRange, reg registration) (int, bool) {
	switch {
	case mr.typ == "*" && mr.subtype == "*":
		return 0, true
	case mr.typ == reg.typ && mr.subtype == "*":
		return 1, true
	case mr.typ == reg.typ && mr.subtype == reg.subtype:
		return 2, true
	default:
		return 0, false
	}
}

func parseMediaRange(s string) (mediaRange, bool, error) {
	parts := strings.Split(s, ";")
	typeSubtype := strings.TrimSpace(parts[0])
	slash := strings.IndexByte(typeSubtype, '/')
	if slash < 0 {
		return mediaRange{}, false, nil
	}
	mr := mediaRange{
		typ:     strings.TrimSpace(typeSubtype[:slash]),
		subtype: strings.TrimSpace(typeSubtype[slash+1:]),
		q:       1.0,
		params:  map[string]string{},
	}

	for _, p := range parts[1:] {
		key, value, ok := splitPair(p, '=')
		if !ok {
			continue
		}
		value = strings.Trim(value, `"`)
		if strings.EqualFold(key, "q") {
			q, err := strconv.ParseFloat(value, 64)
			if err != nil || q < 0 || q > 1 {
				return mediaRange{}, false, pacserr.New(pacserr.BadRequest,
					"quality parameter out of range in Accept header (must be between 0 and 1): %q", value)
			}
			mr.q = q
			continue
		}
		mr.params[strings.ToLower(key)] = value
	}
	return mr, true, nil
}

func splitPair(s string, sep byte) (first, second string, ok bool) {
	idx := strings.IndexByte(s, sep)
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(s[:idx]), strings.TrimSpace(s[idx+1:]), true
}
