// Package scope implements OAuth2 scope sets: space separated, lower-cased and
// compared without regard to order.
package scope

import "strings"

// Set is a normalized list of scopes. Order is preserved for display, duplicates are dropped.
type Set []string

// Parse splits a space separated scope string.
func Parse(s string) Set {
	return New(strings.Fields(s)...)
}

// New builds a Set from individual scope values.
func New(scopes ...string) Set {
	ret := make(Set, 0, len(scopes))
	for _, sc := range scopes {
		sc = strings.ToLower(strings.TrimSpace(sc))
		if sc == "" || ret.Contains(sc) {
			continue
		}
		ret = append(ret, sc)
	}
	return ret
}

func (s Set) String() string {
	return strings.Join(s, " ")
}

// Contains reports whether the scope is in the set (case-insensitive).
func (s Set) Contains(scope string) bool {
	scope = strings.ToLower(scope)
	for _, ele := range s {
		if ele == scope {
			return true
		}
	}
	return false
}

// ContainsAll reports whether every scope of other is in s. An empty other is always contained.
func (s Set) ContainsAll(other Set) bool {
	for _, ele := range other {
		if !s.Contains(ele) {
			return false
		}
	}
	return true
}

// Matches reports set equality.
func (s Set) Matches(other Set) bool {
	return s.ContainsAll(other) && other.ContainsAll(s)
}

// Union returns the scopes of s followed by any scopes of other not already present.
func (s Set) Union(other Set) Set {
	ret := make(Set, 0, len(s)+len(other))
	ret = append(ret, s...)
	for _, ele := range other {
		if !ret.Contains(ele) {
			ret = append(ret, ele)
		}
	}
	return New(ret...)
}
