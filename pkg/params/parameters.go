package params

import (
	"strings"
)

// Key identifies a registered entry: the target for a single parameter, or
// the rendered target list for a group.
type Key string

// GroupKey renders the key of a group, for example "(comp.a, comp.b)".
func GroupKey(targets ...string) Key {
	return Key("(" + strings.Join(targets, ", ") + ")")
}

// Parameters is the ordered mapping of keys to entries. Iteration follows
// insertion order, which is the positional order of SetParameters.
type Parameters struct {
	keys    []Key
	entries map[Key]Entry
}

func newParameters() *Parameters {
	return &Parameters{entries: make(map[Key]Entry)}
}

// Len returns the number of entries.
func (ps *Parameters) Len() int {
	return len(ps.keys)
}

// Keys returns the keys in insertion order.
func (ps *Parameters) Keys() []Key {
	return append([]Key(nil), ps.keys...)
}

// Get returns the entry for key.
func (ps *Parameters) Get(key Key) (Entry, bool) {
	e, ok := ps.entries[key]
	return e, ok
}

// Entries returns the entries in insertion order.
func (ps *Parameters) Entries() []Entry {
	out := make([]Entry, len(ps.keys))
	for i, k := range ps.keys {
		out[i] = ps.entries[k]
	}
	return out
}

// Range calls fn for each entry in insertion order until fn returns false.
func (ps *Parameters) Range(fn func(key Key, e Entry) bool) {
	for _, k := range ps.keys {
		if !fn(k, ps.entries[k]) {
			return
		}
	}
}

func (ps *Parameters) put(key Key, e Entry) {
	if _, exists := ps.entries[key]; !exists {
		ps.keys = append(ps.keys, key)
	}
	ps.entries[key] = e
}

func (ps *Parameters) remove(key Key) bool {
	if _, exists := ps.entries[key]; !exists {
		return false
	}
	delete(ps.entries, key)
	for i, k := range ps.keys {
		if k == key {
			ps.keys = append(ps.keys[:i], ps.keys[i+1:]...)
			break
		}
	}
	return true
}
