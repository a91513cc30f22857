package jsonconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// configParser tracks include-file state while decoding a (possibly
// multi-file, via "_include") configuration tree.
type configParser struct {
	touchedFiles map[string]bool
	includeStack []string
}

var envPattern = regexp.MustCompile(`\$\{[A-Za-z0-9_]+\}`)

func (c *configParser) recursiveReadJSON(configPath string) (map[string]interface{}, error) {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("expanding absolute path for %s: %w", configPath, err)
	}
	if c.touchedFiles[abs] {
		return nil, fmt.Errorf("include cycle detected reading config %v", abs)
	}
	c.touchedFiles[abs] = true

	c.includeStack = append(c.includeStack, abs)
	defer func() { c.includeStack = c.includeStack[:len(c.includeStack)-1] }()

	f, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("opening config %s: %w", abs, err)
	}
	defer f.Close()

	decoded := make(map[string]interface{})
	if err := json.NewDecoder(f).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("parsing JSON config %s: %w", abs, err)
	}

	if err := c.evaluateExpressions(filepath.Dir(abs), decoded); err != nil {
		return nil, fmt.Errorf("expanding expressions in %s: %w", abs, err)
	}
	return decoded, nil
}

type expanderFunc func(c *configParser, dir string, v []interface{}) (interface{}, error)

func namedExpander(name string) (expanderFunc, bool) {
	switch name {
	case "_env":
		return expanderFunc((*configParser).expandEnv), true
	case "_include":
		return expanderFunc((*configParser).expandInclude), true
	}
	return nil, false
}

func (c *configParser) evalValue(dir string, v interface{}) (interface{}, error) {
	sl, ok := v.([]interface{})
	if !ok {
		return v, nil
	}
	if len(sl) > 0 {
		if name, ok := sl[0].(string); ok {
			if expander, ok := namedExpander(name); ok {
				return expander(c, dir, sl[1:])
			}
		}
	}
	for i, old := range sl {
		nv, err := c.evalValue(dir, old)
		if err != nil {
			return nil, err
		}
		sl[i] = nv
	}
	return sl, nil
}

func (c *configParser) evaluateExpressions(dir string, m map[string]interface{}) error {
	for k, v := range m {
		switch sub := v.(type) {
		case string, bool, float64, nil:
			continue
		case []interface{}:
			if len(sub) == 0 {
				continue
			}
			nv, err := c.evalValue(dir, sub)
			if err != nil {
				return err
			}
			m[k] = nv
		case map[string]interface{}:
			if err := c.evaluateExpressions(dir, sub); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unhandled config value type %T at key %q", v, k)
		}
	}
	return nil
}

// expandEnv implements ["_env", "VARIABLE"] or
// ["_env", "VARIABLE", default]; VARIABLE is also substituted inside any
// "${VARIABLE}" occurrences of the string itself.
func (c *configParser) expandEnv(dir string, v []interface{}) (interface{}, error) {
	if len(v) < 1 || len(v) > 2 {
		return nil, fmt.Errorf("_env expects 1 or 2 args, got %d", len(v))
	}
	s, ok := v[0].(string)
	if !ok {
		return nil, fmt.Errorf("_env expects a string variable name, got %#v", v[0])
	}

	hasDefault := len(v) == 2
	var strDefault string
	var boolDefault bool
	wantsBool := false
	if hasDefault {
		switch def := v[1].(type) {
		case string:
			strDefault = def
		case bool:
			wantsBool = true
			boolDefault = def
		default:
			return nil, fmt.Errorf("_env default for %q must be string or bool, got %#v", s, v[1])
		}
	}

	if wrapped := "${" + s + "}"; !envPattern.MatchString(s) && envPattern.FindString(wrapped) == wrapped {
		s = wrapped
	}

	var expandErr error
	expanded := envPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		val, present := os.LookupEnv(name)
		if !present {
			if hasDefault {
				return strDefault
			}
			expandErr = fmt.Errorf("environment variable %q is not set", name)
		}
		return val
	})
	if expandErr != nil {
		return nil, expandErr
	}
	if wantsBool {
		if expanded == "" {
			return boolDefault, nil
		}
		return strconv.ParseBool(expanded)
	}
	return expanded, nil
}

// expandInclude implements ["_include", "relative/or/absolute/path.json"],
// resolved relative to the file that contains the expression.
func (c *configParser) expandInclude(dir string, v []interface{}) (interface{}, error) {
	if len(v) != 1 {
		return nil, fmt.Errorf("_include expects 1 arg, got %d", len(v))
	}
	rel, ok := v[0].(string)
	if !ok {
		return nil, fmt.Errorf("_include expects a string path, got %#v", v[0])
	}
	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, rel)
	}
	included, err := c.recursiveReadJSON(path)
	if err != nil {
		return nil, fmt.Errorf("included from %s: %w", c.includeStack[len(c.includeStack)-1], err)
	}
	return included, nil
}
