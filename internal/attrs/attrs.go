// Package attrs implements the key/value annotation model attached to
// instruction tree nodes.
//
// Grammar of an annotation string:
//
//	annotation = token { sep token }
//	sep        = one or more of ' ' '\t' '\n' '_' ',' ';'
//	token      = key pairsep value
//	pairsep    = one or more of '=' '-'
//
// Tokens that do not split into exactly two parts are ignored. Keys are
// lower-cased, values are kept verbatim.
package attrs

import (
	"sort"
	"strings"
	"unicode"
)

// StepKey is the reserved attribute naming the phase an instruction runs in.
const StepKey = "step"

// Set maps lower-cased attribute names to values.
type Set map[string]string

// Clone returns an independent copy of s. A nil set clones to an empty one.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Get returns the value for key (case-insensitive) and whether it is present.
func (s Set) Get(key string) (string, bool) {
	v, ok := s[strings.ToLower(key)]
	return v, ok
}

// Keys returns the attribute names in sorted order.
func (s Set) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the set as space separated key=value pairs in key order.
func (s Set) String() string {
	parts := make([]string, 0, len(s))
	for _, k := range s.Keys() {
		parts = append(parts, k+"="+s[k])
	}
	return strings.Join(parts, " ")
}

// Parse extracts the well-formed key=value tokens of annotation.
func Parse(annotation string) Set {
	out := Set{}
	for _, tok := range strings.FieldsFunc(annotation, isTokenSep) {
		parts := strings.FieldsFunc(tok, isPairSep)
		// "=a=b" and "a=b=" are three-part tokens with an empty side.
		if len(parts) != 2 || isPairSep(rune(tok[0])) || isPairSep(rune(tok[len(tok)-1])) {
			continue
		}
		out[strings.ToLower(parts[0])] = parts[1]
	}
	return out
}

// Inherit returns a copy of parent overridden by the tokens of annotation.
// parent is never modified.
func Inherit(parent Set, annotation string) Set {
	out := parent.Clone()
	for k, v := range Parse(annotation) {
		out[k] = v
	}
	return out
}

func isTokenSep(r rune) bool {
	return r == '_' || r == ',' || r == ';' || unicode.IsSpace(r)
}

func isPairSep(r rune) bool {
	return r == '=' || r == '-'
}
