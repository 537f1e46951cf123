// Package commitorder computes the order in which entity types must be
// written so that foreign-key references are always satisfied.
//
// The graph has one node per entity type. For every owning to-one
// association "A references B" an edge B → A is added: B's rows must exist
// before A's rows can point at them. Inserts and updates run in the computed
// order; deletes run in the reverse order.
//
// The graph grows monotonically for the lifetime of a unit of work and is
// only dropped by Clear.
package commitorder

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/uow/internal/mapping"
)

// SelfReferencePolicy decides how a type that references itself is ordered.
type SelfReferencePolicy int

const (
	// AllowSelfReference leaves self edges out of the type order. The
	// caller orders rows of a self-referencing type among themselves.
	AllowSelfReference SelfReferencePolicy = iota

	// RejectSelfReference treats a self edge as a cycle.
	RejectSelfReference
)

// String implements fmt.Stringer.
func (p SelfReferencePolicy) String() string {
	if p == RejectSelfReference {
		return "reject"
	}
	return "allow"
}

// ParseSelfReferencePolicy parses "allow" or "reject".
func ParseSelfReferencePolicy(s string) (SelfReferencePolicy, error) {
	switch strings.ToLower(s) {
	case "", "allow":
		return AllowSelfReference, nil
	case "reject":
		return RejectSelfReference, nil
	}
	return AllowSelfReference, fmt.Errorf("invalid self-reference policy %q: must be allow or reject", s)
}

// CycleError reports a dependency cycle between entity types.
type CycleError struct {
	// Path is the cycle, starting and ending at the same type.
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("commit order cycle: %s", strings.Join(e.Path, " -> "))
}

type node struct {
	name  string
	index int // first-seen position, the tie breaker
	// deps are the types that must be written before this one.
	deps    []string
	selfRef bool
}

// Calculator maintains the type dependency graph.
//
// A Calculator is owned by a single unit of work and is not safe for
// concurrent use.
type Calculator struct {
	provider mapping.Provider
	policy   SelfReferencePolicy
	nodes    map[string]*node
	seen     []string
}

// Option configures a Calculator.
type Option func(*Calculator)

// WithSelfReferencePolicy sets how self-referencing types are handled.
func WithSelfReferencePolicy(p SelfReferencePolicy) Option {
	return func(c *Calculator) {
		c.policy = p
	}
}

// New creates an empty calculator resolving metadata through provider.
func New(provider mapping.Provider, opts ...Option) *Calculator {
	c := &Calculator{
		provider: provider,
		nodes:    make(map[string]*node),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HasNode reports whether the type is already part of the graph.
func (c *Calculator) HasNode(typeName string) bool {
	_, ok := c.nodes[typeName]
	return ok
}

// Len returns the number of nodes in the graph.
func (c *Calculator) Len() int {
	return len(c.nodes)
}

// Clear drops every node and edge.
func (c *Calculator) Clear() {
	c.nodes = make(map[string]*node)
	c.seen = nil
}

// Dependencies returns the types that must precede typeName, in the order
// the edges were added.
func (c *Calculator) Dependencies(typeName string) []string {
	n, ok := c.nodes[typeName]
	if !ok {
		return nil
	}
	return slices.Clone(n.deps)
}

// SelfReferencing reports whether typeName holds an owning reference to
// its own type. Rows of such a type must be ordered among themselves.
func (c *Calculator) SelfReferencing(typeName string) bool {
	n, ok := c.nodes[typeName]
	return ok && n.selfRef
}

// Order extends the graph with the given types and returns a total order
// over every node in the graph consistent with all edges.
//
// Ties are broken by first-seen order, so the same inputs always yield the
// same output.
func (c *Calculator) Order(types []string) ([]string, error) {
	var pending []string
	for _, t := range types {
		if !c.HasNode(t) {
			c.addNode(t)
			pending = append(pending, t)
		}
	}

	// New target nodes discovered while wiring edges are wired in turn.
	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]

		desc, err := c.provider.Descriptor(name)
		if err != nil {
			return nil, fmt.Errorf("commit order: %w", err)
		}
		for _, assoc := range desc.Meta.OwningToOne() {
			targets := append([]string{assoc.Target}, c.provider.Subtypes(assoc.Target)...)
			for _, target := range targets {
				if !c.HasNode(target) {
					c.addNode(target)
					pending = append(pending, target)
				}
				c.addEdge(target, name)
			}
		}
	}

	return c.sort()
}

func (c *Calculator) addNode(name string) {
	c.nodes[name] = &node{name: name, index: len(c.seen)}
	c.seen = append(c.seen, name)
}

// addEdge records that from must be written before to.
func (c *Calculator) addEdge(from, to string) {
	n := c.nodes[to]
	if from == to {
		n.selfRef = true
		return
	}
	if !slices.Contains(n.deps, from) {
		n.deps = append(n.deps, from)
	}
}

// sort is Kahn's algorithm with a first-seen tie breaker.
func (c *Calculator) sort() ([]string, error) {
	if c.policy == RejectSelfReference {
		for _, name := range c.seen {
			if c.nodes[name].selfRef {
				return nil, &CycleError{Path: []string{name, name}}
			}
		}
	}

	remaining := make(map[string]int, len(c.nodes))
	dependents := make(map[string][]string, len(c.nodes))
	for _, name := range c.seen {
		n := c.nodes[name]
		remaining[name] = len(n.deps)
		for _, dep := range n.deps {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	order := make([]string, 0, len(c.nodes))
	done := make(map[string]bool, len(c.nodes))
	for len(order) < len(c.nodes) {
		next := ""
		for _, name := range c.seen {
			if !done[name] && remaining[name] == 0 {
				next = name
				break
			}
		}
		if next == "" {
			return nil, c.cycleError(done)
		}
		done[next] = true
		order = append(order, next)
		for _, dependent := range dependents[next] {
			remaining[dependent]--
		}
	}
	return order, nil
}

// cycleError finds a cycle among the nodes Kahn's algorithm could not emit.
func (c *Calculator) cycleError(done map[string]bool) error {
	graph := make(map[string][]string)
	var nodes []string
	for _, name := range c.seen {
		if done[name] {
			continue
		}
		nodes = append(nodes, name)
		for _, dep := range c.nodes[name].deps {
			if !done[dep] {
				graph[dep] = append(graph[dep], name)
			}
		}
	}
	for _, scc := range tarjanSCC(nodes, graph) {
		if len(scc) > 1 {
			return &CycleError{Path: cyclePath(scc, graph)}
		}
	}
	return &CycleError{Path: nodes}
}

// Reverse returns order reversed, the order used for deletions.
func Reverse(order []string) []string {
	out := slices.Clone(order)
	slices.Reverse(out)
	return out
}
