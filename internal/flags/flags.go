// Package flags gates optional commands and endpoints. The registry is
// read-only once built from the flags section of the config.
package flags

import (
	"maps"
	"slices"

	"github.com/zjrosen/provenance/internal/log"
)

const (
	// FlagMarketplace enables the marketplace listing saga and the list command.
	FlagMarketplace = "marketplace"

	// FlagRelay lets the serve command accept registrations on POST /register-collectible.
	FlagRelay = "relay"

	// FlagCIDInspect decodes content URIs with go-cid when registering records.
	FlagCIDInspect = "cid-inspect"
)

// Known lists every flag name with what it enables.
var Known = map[string]string{
	FlagMarketplace: "provenance list and the marketplace listing saga",
	FlagRelay:       "POST /register-collectible on provenance serve",
	FlagCIDInspect:  "content URI decoding on provenance register",
}

// Registry holds flag state. Every known flag is present and off unless the
// config turns it on.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from the config map. Unknown names are kept so All
// reports them, but callers only ever ask for known ones.
func New(config map[string]bool) *Registry {
	state := make(map[string]bool, len(Known)+len(config))
	for name := range Known {
		state[name] = false
	}
	maps.Copy(state, config)
	r := &Registry{flags: state}
	log.Debug(log.CatConfig, "feature flags", "enabled", r.EnabledNames())
	return r
}

// Enabled reports whether name is on. A nil registry has every flag off.
func (r *Registry) Enabled(name string) bool {
	if r == nil {
		return false
	}
	return r.flags[name]
}

// EnabledNames returns the names of the flags that are on, sorted.
func (r *Registry) EnabledNames() []string {
	if r == nil {
		return nil
	}
	var names []string
	for name, on := range r.flags {
		if on {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// All returns a copy of the flag state.
func (r *Registry) All() map[string]bool {
	if r == nil {
		return map[string]bool{}
	}
	return maps.Clone(r.flags)
}

// Unknown returns the names in config that no code reads, sorted.
func Unknown(config map[string]bool) []string {
	var names []string
	for name := range config {
		if _, ok := Known[name]; !ok {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
