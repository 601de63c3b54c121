// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package providers

// Entry is one provider's contribution: a payload or an Unavailable marker.
type Entry struct {
	Kind        Kind
	Payload     Payload
	Unavailable *Unavailable
}

// Available reports whether the entry carries data.
func (e Entry) Available() bool {
	return e.Unavailable == nil && e.Payload != nil
}

// Set maps provider kind to entry. A missing key and an Unavailable entry
// both mean "no information".
type Set map[Kind]Entry

// Get returns the payload for kind when available.
func (s Set) Get(kind Kind) (Payload, bool) {
	e, ok := s[kind]
	if !ok || !e.Available() {
		return nil, false
	}
	return e.Payload, true
}

// Available lists kinds with data, in presentation order.
func (s Set) Available() []Kind {
	var kinds []Kind
	for _, k := range Kinds {
		if _, ok := s.Get(k); ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Unavailable lists kinds that were attempted and failed, in presentation order.
func (s Set) Unavailable() []Kind {
	var kinds []Kind
	for _, k := range Kinds {
		if e, ok := s[k]; ok && !e.Available() {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Merge returns a new Set with other's entries layered over s. An available
// entry is never replaced by an unavailable one.
func (s Set) Merge(other Set) Set {
	out := make(Set, len(s)+len(other))
	for k, e := range s {
		out[k] = e
	}
	for k, e := range other {
		if cur, ok := out[k]; ok && cur.Available() && !e.Available() {
			continue
		}
		out[k] = e
	}
	return out
}

// Clone returns a shallow copy; payloads are immutable values.
func (s Set) Clone() Set {
	return s.Merge(nil)
}
