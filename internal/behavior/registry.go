// Package behavior maps a classification to the execution strategy that
// satisfies it.
//
// A Registry is built once at startup and injected where it is needed. It is
// immutable after construction and safe for concurrent lookups.
package behavior

import (
	"sort"

	"github.com/harrison/opgate/internal/models"
)

// Wildcard matches any action hint within a domain.
const Wildcard = "*"

// Context is what tool selectors and argument extractors see.
type Context struct {
	Request        string
	Classification *models.Classification
}

// Mode is the execution strategy bound to a classification.
type Mode struct {
	Name                    string
	VerificationMode        models.VerificationMode
	NeedsTool               bool
	ToolSelector            func(Context) string
	ArgExtractor            func(Context) map[string]string
	SystemPromptTemplate    string
	NeedsHallucinationCheck bool
}

// Tool returns the selected tool name, or "" when the mode uses none.
func (m Mode) Tool(ctx Context) string {
	if !m.NeedsTool || m.ToolSelector == nil {
		return ""
	}
	return m.ToolSelector(ctx)
}

// Args returns the extracted arguments, never nil.
func (m Mode) Args(ctx Context) map[string]string {
	if m.ArgExtractor == nil {
		return map[string]string{}
	}
	args := m.ArgExtractor(ctx)
	if args == nil {
		return map[string]string{}
	}
	return args
}

// Key identifies a table entry by domain and action hint.
type Key struct {
	Domain string
	Action string
}

// Entry binds a (domain, action) key to a mode. Action may be Wildcard.
type Entry struct {
	Key  Key
	Mode Mode
}

// AxisKey identifies a default by semantics and destination.
type AxisKey struct {
	Semantics   models.Semantics
	Destination models.Destination
}

// Default binds a semantics/destination pair to a fallback mode.
type Default struct {
	Key  AxisKey
	Mode Mode
}

// Registry resolves classifications to modes.
type Registry struct {
	entries  map[Key]Mode
	defaults map[AxisKey]Mode
	fallback Mode
}

// NewRegistry builds an immutable registry. Later entries win on duplicate keys.
func NewRegistry(entries []Entry, defaults []Default, fallback Mode) *Registry {
	r := &Registry{
		entries:  make(map[Key]Mode, len(entries)),
		defaults: make(map[AxisKey]Mode, len(defaults)),
		fallback: fallback,
	}
	for _, e := range entries {
		r.entries[e.Key] = e.Mode
	}
	for _, d := range defaults {
		r.defaults[d.Key] = d.Mode
	}
	return r
}

// Lookup resolves c in order: (domain, action_hint), (domain, *),
// (semantics, destination) default, generic fallback. A nil classification
// gets the fallback.
func (r *Registry) Lookup(c *models.Classification) Mode {
	if c == nil {
		return r.fallback
	}
	if m, ok := r.entries[Key{Domain: c.Domain, Action: c.ActionHint}]; ok {
		return m
	}
	if m, ok := r.entries[Key{Domain: c.Domain, Action: Wildcard}]; ok {
		return m
	}
	if m, ok := r.defaults[AxisKey{Semantics: c.Semantics, Destination: c.Destination}]; ok {
		return m
	}
	return r.fallback
}

// Has reports whether an exact (domain, action) entry exists.
func (r *Registry) Has(domain, action string) bool {
	_, ok := r.entries[Key{Domain: domain, Action: action}]
	return ok
}

// Names lists every distinct mode name in the registry, sorted.
func (r *Registry) Names() []string {
	seen := map[string]struct{}{r.fallback.Name: {}}
	for _, m := range r.entries {
		seen[m.Name] = struct{}{}
	}
	for _, m := range r.defaults {
		seen[m.Name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
