package questionnaire

// node is a question in walk order with its enclosing group.
type node struct {
	q      *Question
	parent *Question
}

// flatten lists the tree depth-first in pre-order. It iterates with an
// explicit stack so deeply nested forms cannot exhaust the goroutine stack.
// The returned pointers alias qs.
func flatten(qs []Question) []node {
	out := make([]node, 0, len(qs))
	stack := make([]node, 0, len(qs))
	for i := len(qs) - 1; i >= 0; i-- {
		stack = append(stack, node{q: &qs[i]})
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n)
		for i := len(n.q.Questions) - 1; i >= 0; i-- {
			stack = append(stack, node{q: &n.q.Questions[i], parent: n.q})
		}
	}
	return out
}

// tree indexes a flattened questionnaire.
type tree struct {
	nodes    []node
	parentOf map[*Question]*Question
	byLink   map[string]*Question
}

func newTree(qs []Question) *tree {
	t := &tree{
		nodes:    flatten(qs),
		parentOf: make(map[*Question]*Question),
		byLink:   make(map[string]*Question),
	}
	for _, n := range t.nodes {
		t.parentOf[n.q] = n.parent
		t.byLink[n.q.LinkID] = n.q
	}
	return t
}

// ancestors returns the enclosing groups of q, nearest first.
func (t *tree) ancestors(q *Question) []*Question {
	var out []*Question
	for p := t.parentOf[q]; p != nil; p = t.parentOf[p] {
		out = append(out, p)
	}
	return out
}
