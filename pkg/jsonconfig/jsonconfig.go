// Package jsonconfig implements pacsd's configuration-file format: one or
// more JSON objects, merged in the order given on the command line, with
// typed accessors that track which keys were actually consumed so unknown
// keys can be reported as configuration errors rather than silently
// ignored.
package jsonconfig

import (
	"fmt"
	"strings"

	"pacsd/pkg/pacserr"
)

// Obj is a single JSON configuration object. Nested objects are themselves
// Obj values once extracted through RequiredObject/OptionalObject.
type Obj map[string]interface{}

// ReadFile decodes the JSON configuration at configPath, expanding any
// "_env" or "_include" expressions it contains (see eval.go), and
// watching for include cycles.
func ReadFile(configPath string) (Obj, error) {
	var c configParser
	c.touchedFiles = make(map[string]bool)
	root, err := c.recursiveReadJSON(configPath)
	if err != nil {
		return nil, err
	}
	return Obj(root), nil
}

// Merge overlays patch onto base, returning a new Obj. Scalar and array
// values in patch replace the corresponding base value; nested objects are
// merged recursively. Used to combine a base config file with one or more
// environment-specific overrides, the way pacsd's --config flag can be
// repeated.
func Merge(base, patch Obj) Obj {
	out := make(Obj, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		if baseSub, ok := out[k].(map[string]interface{}); ok {
			if patchSub, ok := v.(map[string]interface{}); ok {
				out[k] = map[string]interface{}(Merge(Obj(baseSub), Obj(patchSub)))
				continue
			}
		}
		out[k] = v
	}
	return out
}

func (jc Obj) RequiredObject(key string) Obj { return jc.obj(key, false) }
func (jc Obj) OptionalObject(key string) Obj { return jc.obj(key, true) }

func (jc Obj) obj(key string, optional bool) Obj {
	jc.noteKnownKey(key)
	ei, ok := jc[key]
	if !ok {
		if optional {
			return make(Obj)
		}
		jc.appendError(pacserr.New(pacserr.BadParameterType, "missing required config key %q (object)", key))
		return make(Obj)
	}
	m, ok := ei.(map[string]interface{})
	if !ok {
		jc.appendError(pacserr.New(pacserr.BadParameterType, "expected config key %q to be an object, not %T", key, ei))
		return make(Obj)
	}
	return Obj(m)
}

func (jc Obj) RequiredString(key string) string    { return jc.string(key, nil) }
func (jc Obj) OptionalString(key, def string) string { return jc.string(key, &def) }

func (jc Obj) string(key string, def *string) string {
	jc.noteKnownKey(key)
	ei, ok := jc[key]
	if !ok {
		if def != nil {
			return *def
		}
		jc.appendError(pacserr.New(pacserr.BadParameterType, "missing required config key %q (string)", key))
		return ""
	}
	s, ok := ei.(string)
	if !ok {
		jc.appendError(pacserr.New(pacserr.BadParameterType, "expected config key %q to be a string", key))
		return ""
	}
	return s
}

func (jc Obj) RequiredBool(key string) bool       { return jc.bool(key, nil) }
func (jc Obj) OptionalBool(key string, def bool) bool { return jc.bool(key, &def) }

func (jc Obj) bool(key string, def *bool) bool {
	jc.noteKnownKey(key)
	ei, ok := jc[key]
	if !ok {
		if def != nil {
			return *def
		}
		jc.appendError(pacserr.New(pacserr.BadParameterType, "missing required config key %q (boolean)", key))
		return false
	}
	b, ok := ei.(bool)
	if !ok {
		jc.appendError(pacserr.New(pacserr.BadParameterType, "expected config key %q to be a boolean", key))
		return false
	}
	return b
}

func (jc Obj) RequiredInt(key string) int      { return jc.int(key, nil) }
func (jc Obj) OptionalInt(key string, def int) int { return jc.int(key, &def) }

func (jc Obj) int(key string, def *int) int {
	jc.noteKnownKey(key)
	ei, ok := jc[key]
	if !ok {
		if def != nil {
			return *def
		}
		jc.appendError(pacserr.New(pacserr.BadParameterType, "missing required config key %q (integer)", key))
		return 0
	}
	f, ok := ei.(float64)
	if !ok {
		jc.appendError(pacserr.New(pacserr.BadParameterType, "expected config key %q to be a number", key))
		return 0
	}
	return int(f)
}

func (jc Obj) RequiredList(key string) []string { return jc.list(key, true) }
func (jc Obj) OptionalList(key string) []string { return jc.list(key, false) }

func (jc Obj) list(key string, required bool) []string {
	jc.noteKnownKey(key)
	ei, ok := jc[key]
	if !ok {
		if required {
			jc.appendError(pacserr.New(pacserr.BadParameterType, "missing required config key %q (list of strings)", key))
		}
		return nil
	}
	raw, ok := ei.([]interface{})
	if !ok {
		jc.appendError(pacserr.New(pacserr.BadParameterType, "expected config key %q to be a list, not %T", key, ei))
		return nil
	}
	out := make([]string, len(raw))
	for i, v := range raw {
		s, ok := v.(string)
		if !ok {
			jc.appendError(pacserr.New(pacserr.BadParameterType, "expected config key %q index %d to be a string, not %T", key, i, v))
			return nil
		}
		out[i] = s
	}
	return out
}

func (jc Obj) noteKnownKey(key string) {
	kk, ok := jc["_knownkeys"].(map[string]bool)
	if !ok {
		kk = make(map[string]bool)
		jc["_knownkeys"] = kk
	}
	kk[key] = true
}

func (jc Obj) appendError(err error) {
	if ei, ok := jc["_errors"]; ok {
		jc["_errors"] = append(ei.([]error), err)
	} else {
		jc["_errors"] = []error{err}
	}
}

// Validate reports an error if any key in jc (other than bookkeeping keys
// and keys prefixed with "_", treated as comments) was never consumed via
// one of the typed accessors above.
func (jc Obj) Validate() error {
	known, _ := jc["_knownkeys"].(map[string]bool)
	for k := range jc {
		if known[k] || strings.HasPrefix(k, "_") {
			continue
		}
		jc.appendError(pacserr.New(pacserr.BadParameterType, "unknown config key %q", k))
	}

	ei, ok := jc["_errors"]
	if !ok {
		return nil
	}
	errList := ei.([]error)
	switch len(errList) {
	case 0:
		return nil
	case 1:
		return errList[0]
	default:
		msgs := make([]string, len(errList))
		for i, e := range errList {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("multiple configuration errors: %s", strings.Join(msgs, "; "))
	}
}
