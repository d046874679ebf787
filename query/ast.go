package query

// Set is the evaluation domain of a query.
type Set map[string]struct{}

// LookupFn returns the set stored under a key; missing keys must return
// an empty set.
type LookupFn func(key string) Set

// Node is one node of a parsed set-algebra expression.
type Node interface {
	// Eval computes the node's set using lookup for the leaves.
	Eval(lookup LookupFn) Set
	// Keys appends every key referenced under the node.
	Keys(out *[]string)
}

type keyNode struct {
	key string
}

func (n *keyNode) Eval(lookup LookupFn) Set { return lookup(n.key) }
func (n *keyNode) Keys(out *[]string)       { *out = append(*out, n.key) }

type opType int

const (
	opUnion opType = iota
	opIntersection
	opDifference
)

type opNode struct {
	op    opType
	left  Node
	right Node
}

func (n *opNode) Keys(out *[]string) {
	n.left.Keys(out)
	n.right.Keys(out)
}

func (n *opNode) Eval(lookup LookupFn) Set {
	left := n.left.Eval(lookup)
	right := n.right.Eval(lookup)
	switch n.op {
	case opUnion:
		result := make(Set, len(left)+len(right))
		for v := range left {
			result[v] = struct{}{}
		}
		for v := range right {
			result[v] = struct{}{}
		}
		return result
	case opIntersection:
		small, large := left, right
		if len(large) < len(small) {
			small, large = large, small
		}
		result := make(Set)
		for v := range small {
			if _, ok := large[v]; ok {
				result[v] = struct{}{}
			}
		}
		return result
	default: // opDifference
		result := make(Set, len(left))
		for v := range left {
			if _, ok := right[v]; !ok {
				result[v] = struct{}{}
			}
		}
		return result
	}
}
