package query

import "sort"

// Eval parses a query and evaluates it against lookup, returning the
// resulting set as a sorted list.
func Eval(input string, lookup LookupFn) ([]string, error) {
	node, err := Parse(input)
	if err != nil {
		return nil, err
	}
	result := node.Eval(lookup)
	values := make([]string, 0, len(result))
	for v := range result {
		values = append(values, v)
	}
	sort.Strings(values)
	return values, nil
}

// ReferencedKeys returns the distinct keys a query reads, so callers can
// prefetch the sets before evaluation.
func ReferencedKeys(input string) ([]string, error) {
	node, err := Parse(input)
	if err != nil {
		return nil, err
	}
	var keys []string
	node.Keys(&keys)
	sort.Strings(keys)
	unique := keys[:0]
	for i, k := range keys {
		if i == 0 || keys[i-1] != k {
			unique = append(unique, k)
		}
	}
	return unique, nil
}

// NewSet builds a Set from a slice of members.
func NewSet(values []string) Set {
	s := make(Set, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}
