// Package routing maps (method, path) pairs to route handlers and keeps the
// global filter list. Both are persisted in the KV store and reloaded at
// startup.
package routing

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/moc-dev/moc-runtime/domain/entities"
	domainerrors "github.com/moc-dev/moc-runtime/domain/errors"
	"github.com/moc-dev/moc-runtime/domain/ports"
)

const plugPrefix = "/plugs/byspec/"

// Match is the result of a successful lookup.
type Match struct {
	Route  entities.Route
	Params map[string]string
}

type node struct {
	literal map[string]*node
	params  map[string]*node // keyed by parameter name
	route   *entities.Route
}

func newNode() *node {
	return &node{literal: map[string]*node{}, params: map[string]*node{}}
}

func (n *node) empty() bool {
	return n.route == nil && len(n.literal) == 0 && len(n.params) == 0
}

// Table is the route table. Plug, Unplug and Lookup are linearizable.
type Table struct {
	roots  map[string]*node // by method
	kv     ports.KVStore
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewTable returns an empty table. When kv is non-nil, changes are persisted.
func NewTable(kv ports.KVStore, logger *zap.Logger) *Table {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Table{
		roots:  map[string]*node{},
		kv:     kv,
		logger: logger.Named("routing"),
	}
}

// splitPath turns "/a/b/" into ["a", "b"]. Inner empty segments are kept.
func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func paramName(seg string) (string, bool) {
	if len(seg) > 1 && seg[0] == ':' {
		return seg[1:], true
	}
	return "", false
}

// canonical rebuilds the pattern so "/a/b/" and "a/b" share one key.
func canonical(pattern string) string {
	return "/" + strings.Join(splitPath(pattern), "/")
}

// Plug installs h for method and pattern, replacing any previous handler.
func (t *Table) Plug(method, pattern string, h entities.RouteHandler) error {
	if err := h.Validate(); err != nil {
		return &domainerrors.DecodeError{What: "route handler", Err: err}
	}
	method = entities.NormalizeMethod(method)
	if method == "" {
		return &domainerrors.DecodeError{What: "route", Err: fmt.Errorf("empty method")}
	}
	route := entities.Route{Method: method, Pattern: canonical(pattern), Handler: h}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.persistLocked(route); err != nil {
		return err
	}
	t.insertLocked(route)
	t.logger.Info("route plugged", zap.String("method", method), zap.String("pattern", route.Pattern), zap.String("kind", string(h.Kind)))
	return nil
}

func (t *Table) insertLocked(route entities.Route) {
	root, ok := t.roots[route.Method]
	if !ok {
		root = newNode()
		t.roots[route.Method] = root
	}
	n := root
	for _, seg := range splitPath(route.Pattern) {
		children, key := n.literal, seg
		if name, ok := paramName(seg); ok {
			children, key = n.params, name
		}
		child, ok := children[key]
		if !ok {
			child = newNode()
			children[key] = child
		}
		n = child
	}
	r := route
	n.route = &r
}

// Unplug removes the handler for method and pattern. Removing an absent
// route succeeds.
func (t *Table) Unplug(method, pattern string) error {
	method = entities.NormalizeMethod(method)
	pattern = canonical(pattern)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.kv != nil {
		if err := t.kv.Delete([]byte(plugKey(method, pattern))); err != nil {
			return domainerrors.Internal("unplug", err)
		}
	}
	if root, ok := t.roots[method]; ok {
		removeRoute(root, splitPath(pattern))
		if root.empty() {
			delete(t.roots, method)
		}
	}
	t.logger.Info("route unplugged", zap.String("method", method), zap.String("pattern", pattern))
	return nil
}

// removeRoute clears the route at segs below n and prunes empty nodes.
func removeRoute(n *node, segs []string) {
	if len(segs) == 0 {
		n.route = nil
		return
	}
	children, key := n.literal, segs[0]
	if name, ok := paramName(segs[0]); ok {
		children, key = n.params, name
	}
	child, ok := children[key]
	if !ok {
		return
	}
	removeRoute(child, segs[1:])
	if child.empty() {
		delete(children, key)
	}
}

// Lookup finds the route for method and path. Literal segments win over
// parameters at the same position; when a literal branch dead-ends the
// search backtracks into parameter branches.
func (t *Table) Lookup(method, path string) (Match, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	root, ok := t.roots[entities.NormalizeMethod(method)]
	if !ok {
		return Match{}, false
	}
	params := map[string]string{}
	route := match(root, splitPath(path), params)
	if route == nil {
		return Match{}, false
	}
	return Match{Route: *route, Params: params}, true
}

func match(n *node, segs []string, params map[string]string) *entities.Route {
	if len(segs) == 0 {
		return n.route
	}
	seg, rest := segs[0], segs[1:]

	if child, ok := n.literal[seg]; ok {
		if r := match(child, rest, params); r != nil {
			return r
		}
	}
	if seg == "" {
		return nil
	}
	names := make([]string, 0, len(n.params))
	for name := range n.params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if r := match(n.params[name], rest, params); r != nil {
			params[name] = seg
			return r
		}
	}
	return nil
}

// List returns every route sorted by pattern then method.
func (t *Table) List() []entities.Route {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []entities.Route
	var walk func(*node)
	walk = func(n *node) {
		if n.route != nil {
			out = append(out, *n.route)
		}
		for _, c := range n.literal {
			walk(c)
		}
		for _, c := range n.params {
			walk(c)
		}
	}
	for _, root := range t.roots {
		walk(root)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Load replaces the in-memory table with the persisted routes.
func (t *Table) Load() error {
	if t.kv == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.roots = map[string]*node{}
	var decodeErr error
	err := t.kv.Scan([]byte(plugPrefix), func(k, v []byte) bool {
		var route entities.Route
		if err := json.Unmarshal(v, &route); err != nil {
			decodeErr = fmt.Errorf("route %s: %w", k, err)
			return false
		}
		t.insertLocked(route)
		return true
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return domainerrors.Internal("load routes", err)
	}
	return nil
}

func (t *Table) persistLocked(route entities.Route) error {
	if t.kv == nil {
		return nil
	}
	b, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("marshal route: %w", err)
	}
	if err := t.kv.Put([]byte(plugKey(route.Method, route.Pattern)), b); err != nil {
		return domainerrors.Internal("plug", err)
	}
	return nil
}

func plugKey(method, pattern string) string {
	return plugPrefix + method + pattern
}
