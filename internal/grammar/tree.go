package grammar

// NodeKind identifies the kind of a Tree node.
type NodeKind int

const (
	NodeKeyword NodeKind = iota + 1
	NodeCapture
	NodeLeaf
	NodeSegment
	NodeSeq
	NodeChoice
)

// Tree is a parse tree node. Start and End are byte offsets into the parsed
// key and Text is the key slice they cover.
type Tree struct {
	Rule     string
	Kind     NodeKind
	Text     string
	Start    int
	End      int
	IsFile   bool
	Children []*Tree

	// Input is the parsed key; set on the root only.
	Input string
}

// Walk visits t and its descendants depth first, parents before children.
func (t *Tree) Walk(fn func(*Tree)) {
	if t == nil {
		return
	}
	fn(t)
	for _, c := range t.Children {
		c.Walk(fn)
	}
}

// Find returns the first node named rule, or nil.
func (t *Tree) Find(rule string) *Tree {
	var found *Tree
	t.Walk(func(n *Tree) {
		if found == nil && n.Rule == rule {
			found = n
		}
	})
	return found
}

// File returns the file segment of a leaf node, or "" when the leaf ends in
// a directory marker.
func (t *Tree) File() string {
	if t == nil || t.Kind != NodeLeaf || len(t.Children) == 0 {
		return ""
	}
	last := t.Children[len(t.Children)-1]
	if !last.IsFile {
		return ""
	}
	return last.Text
}
