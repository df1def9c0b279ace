package env

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Vars map[string]string

// Env composes a child environment from a base snapshot and an override map.
// Overrides win over the base; within overrides the last Set wins.
type Env struct {
	base      Vars
	overrides Vars
	inherit   bool
}

// New returns an Env that inherits the current OS environment.
func New() *Env {
	return &Env{overrides: make(Vars), inherit: true}
}

// Empty returns an Env with no base, only explicit overrides.
func Empty() *Env {
	return &Env{overrides: make(Vars)}
}

// Snapshot captures os.Environ() as the base. Later changes to the OS
// environment are not observed until Snapshot is called again.
func (e *Env) Snapshot() {
	e.base = Parse(os.Environ())
}

func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.overrides == nil {
		e.overrides = make(Vars)
	}
	e.overrides[k] = v
}

func (e *Env) Unset(k string) {
	delete(e.overrides, k)
}

// SetAll applies pairs in order, so later duplicates win.
func (e *Env) SetAll(pairs []string) {
	for k, v := range orderedPairs(pairs) {
		e.Set(k, v)
	}
}

// Replace drops every override and installs vars instead.
func (e *Env) Replace(vars Vars) {
	e.overrides = make(Vars, len(vars))
	for k, v := range vars {
		e.Set(k, v)
	}
}

func (e *Env) Overrides() Vars {
	out := make(Vars, len(e.overrides))
	for k, v := range e.overrides {
		out[k] = v
	}
	return out
}

// Compose returns the final K=V list, sorted by key. Override values may
// reference other variables as ${VAR}; references resolve against the
// composed map without recursion.
func (e *Env) Compose() []string {
	if e.inherit && e.base == nil {
		e.Snapshot()
	}
	m := make(Vars, len(e.base)+len(e.overrides))
	if e.inherit {
		for k, v := range e.base {
			m[k] = v
		}
	}
	for k, v := range e.overrides {
		m[k] = v
	}
	for k := range e.overrides {
		m[k] = expand(m[k], m)
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

// Parse converts K=V pairs into a map. Malformed entries and empty keys
// are skipped; later duplicates win.
func Parse(pairs []string) Vars {
	m := make(Vars, len(pairs))
	for k, v := range orderedPairs(pairs) {
		m[k] = v
	}
	return m
}

func orderedPairs(pairs []string) func(yield func(string, string) bool) {
	return func(yield func(string, string) bool) {
		for _, kv := range pairs {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				continue
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

func expand(s string, m Vars) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, func(name string) string {
		if v, ok := m[name]; ok {
			return v
		}
		return "${" + name + "}"
	})
}

// LoadFile parses a .env file with KEY=VALUE lines. Blank lines and lines
// starting with # are ignored; an optional "export " prefix and matching
// surrounding quotes are stripped.
func LoadFile(path string) (Vars, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	m := make(Vars)
	s := bufio.NewScanner(f)
	line := 0
	for s.Scan() {
		line++
		text := strings.TrimSpace(s.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		text = strings.TrimPrefix(text, "export ")
		k, v, ok := strings.Cut(text, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%s:%d: expected KEY=VALUE", path, line)
		}
		m[k] = unquote(strings.TrimSpace(v))
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}
