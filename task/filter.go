package task

// Filter selects nodes, typically by tag, for a run.
type Filter interface {
	Match(n *Node) bool
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc func(n *Node) bool

// Match calls f(n).
func (f FilterFunc) Match(n *Node) bool {
	return f(n)
}

// All matches every node.
var All Filter = FilterFunc(func(*Node) bool { return true })

// Tagged matches nodes that carry every one of tags.
func Tagged(tags ...string) Filter {
	return FilterFunc(func(n *Node) bool {
		for _, t := range tags {
			if !n.HasTag(t) {
				return false
			}
		}
		return true
	})
}

// AnyOf matches nodes accepted by at least one of filters.
func AnyOf(filters ...Filter) Filter {
	return FilterFunc(func(n *Node) bool {
		for _, f := range filters {
			if f.Match(n) {
				return true
			}
		}
		return false
	})
}

// Select returns the nodes accepted by f, preserving order. A nil filter
// accepts everything.
func Select(f Filter, nodes ...*Node) []*Node {
	if f == nil {
		return nodes
	}
	var out []*Node
	for _, n := range nodes {
		if f.Match(n) {
			out = append(out, n)
		}
	}
	return out
}
