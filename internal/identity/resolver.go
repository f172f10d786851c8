package identity

import "maps"

// Resolver holds the Alias -> Primary map. Promotion is one-way: once an
// alias is mapped, it always resolves to a Primary identifier.
//
// A Resolver is not safe for concurrent use; the inbox store serializes
// every call behind its own lock.
type Resolver struct {
	aliases map[string]string
}

// NewResolver creates a resolver seeded with a copy of aliases.
func NewResolver(aliases map[string]string) *Resolver {
	r := &Resolver{aliases: make(map[string]string, len(aliases))}
	for alias, primary := range aliases {
		if alias == "" || primary == "" {
			continue
		}
		r.aliases[alias] = primary
	}
	return r
}

// Resolve returns the canonical key for key.
func (r *Resolver) Resolve(key string) string {
	if !IsAlias(key) {
		return key
	}
	if primary, ok := r.aliases[key]; ok {
		return primary
	}
	return key
}

// Lookup returns the Primary identifier mapped to alias, if any.
func (r *Resolver) Lookup(alias string) (string, bool) {
	primary, ok := r.aliases[alias]
	return primary, ok
}

// Observe installs alias -> primary unless that exact mapping already exists.
// Returns true when the map changed. Pairs that are not a Primary-side
// identifier plus an Alias identifier are ignored.
func (r *Resolver) Observe(primary, alias string) bool {
	if primary == "" || alias == "" || !IsAlias(alias) || IsAlias(primary) {
		return false
	}
	if r.aliases[alias] == primary {
		return false
	}
	r.aliases[alias] = primary
	return true
}

// Aliases returns a copy of the alias map.
func (r *Resolver) Aliases() map[string]string {
	return maps.Clone(r.aliases)
}

// Len returns the number of known aliases.
func (r *Resolver) Len() int {
	return len(r.aliases)
}
