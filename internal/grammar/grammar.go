package grammar

import (
	"fmt"
	"sort"
)

// first is the set of tokens a rule can start with.
type first struct {
	keywords []string
	wildcard bool
	leaf     bool
}

type dispatch struct {
	keywords map[string]*Rule
	wildcard *Rule
	expected []string
}

// Grammar is a compiled rule set. It is safe for concurrent use.
type Grammar struct {
	start    *Rule
	firsts   map[*Rule]first
	choices  map[*Rule]*dispatch
	visiting map[*Rule]bool
}

// Compile validates the rules reachable from start and precomputes the
// lookahead tables used by Parse.
func Compile(start *Rule) (*Grammar, error) {
	g := &Grammar{
		start:    start,
		firsts:   make(map[*Rule]first),
		choices:  make(map[*Rule]*dispatch),
		visiting: make(map[*Rule]bool),
	}
	if _, err := g.first(start); err != nil {
		return nil, err
	}
	if err := g.compileAll(start, make(map[*Rule]bool)); err != nil {
		return nil, err
	}
	g.visiting = nil
	return g, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(start *Rule) *Grammar {
	g, err := Compile(start)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Grammar) compileAll(r *Rule, seen map[*Rule]bool) error {
	if seen[r] {
		return nil
	}
	seen[r] = true
	if _, err := g.first(r); err != nil {
		return err
	}
	for _, item := range r.Items {
		if err := g.compileAll(item, seen); err != nil {
			return err
		}
	}
	return nil
}

func (g *Grammar) first(r *Rule) (first, error) {
	if f, ok := g.firsts[r]; ok {
		return f, nil
	}
	if g.visiting[r] {
		return first{}, &GrammarError{Kind: Ambiguous, Rule: r.Name, Reason: "left recursion"}
	}
	g.visiting[r] = true
	defer delete(g.visiting, r)

	var f first
	switch r.Kind {
	case KindLit:
		if r.Text == "" {
			return first{}, &GrammarError{Kind: Ambiguous, Rule: r.Name, Reason: "empty keyword"}
		}
		f.keywords = []string{r.Text}
	case KindCapture:
		f.wildcard = true
	case KindLeaf:
		f.wildcard = true
		f.leaf = true
	case KindSeq:
		if len(r.Items) == 0 {
			return first{}, &GrammarError{Kind: Ambiguous, Rule: r.Name, Reason: "empty sequence"}
		}
		head, err := g.first(r.Items[0])
		if err != nil {
			return first{}, err
		}
		f = head
	case KindChoice:
		d, err := g.compileChoice(r)
		if err != nil {
			return first{}, err
		}
		f.keywords = d.expected
		if d.wildcard != nil {
			wf := g.firsts[d.wildcard]
			f.wildcard = true
			f.leaf = wf.leaf
		}
	default:
		return first{}, &GrammarError{Kind: Ambiguous, Rule: r.Name, Reason: fmt.Sprintf("unknown rule kind %d", r.Kind)}
	}
	g.firsts[r] = f
	return f, nil
}

func (g *Grammar) compileChoice(r *Rule) (*dispatch, error) {
	if len(r.Items) == 0 {
		return nil, &GrammarError{Kind: Ambiguous, Rule: r.Name, Reason: "empty choice"}
	}
	d := &dispatch{keywords: make(map[string]*Rule)}
	for _, alt := range r.Items {
		af, err := g.first(alt)
		if err != nil {
			return nil, err
		}
		if af.wildcard {
			if d.wildcard != nil {
				return nil, &GrammarError{
					Kind:     Ambiguous,
					Rule:     r.Name,
					Expected: []string{d.wildcard.Name, alt.Name},
					Reason:   "more than one wildcard alternative",
				}
			}
			d.wildcard = alt
		}
		for _, kw := range af.keywords {
			if prev, ok := d.keywords[kw]; ok {
				return nil, &GrammarError{
					Kind:     Ambiguous,
					Rule:     r.Name,
					Found:    kw,
					Expected: []string{prev.Name, alt.Name},
					Reason:   "alternatives share a leading keyword",
				}
			}
			d.keywords[kw] = alt
			d.expected = append(d.expected, kw)
		}
	}
	sort.Strings(d.expected)
	g.choices[r] = d
	return d, nil
}

// Parse parses key into a tree. The returned error is always a
// *GrammarError.
func (g *Grammar) Parse(key string) (*Tree, error) {
	toks, err := lex(key)
	if err != nil {
		return nil, err
	}
	p := &parser{g: g, key: key, toks: toks}
	root, err := p.match(g.start)
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		t := p.toks[p.pos]
		return nil, &GrammarError{Kind: UnexpectedToken, Rule: g.start.Name, Pos: t.start, Found: t.text, Reason: "trailing segment"}
	}
	if root == nil {
		root = &Tree{Rule: g.start.Name, Kind: NodeSeq}
	}
	root.Input = key
	return root, nil
}

type parser struct {
	g    *Grammar
	key  string
	toks []token
	pos  int
}

func (p *parser) atEnd() bool {
	return p.pos >= len(p.toks)
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

// stop reports whether structure ends before r. After the first segment a
// key may end at any element boundary, and a file segment where a folder is
// expected becomes the leaf.
func (p *parser) stop(r *Rule) (bool, error) {
	if p.atEnd() {
		if p.pos == 0 {
			return false, &GrammarError{Kind: UnexpectedEnd, Rule: r.Name, Pos: 0}
		}
		return true, nil
	}
	t := p.peek()
	if t.kind == tokenFile && !p.g.firsts[r].leaf {
		if p.pos == 0 {
			return false, &GrammarError{
				Kind:   UnexpectedToken,
				Rule:   r.Name,
				Pos:    t.start,
				Found:  t.text,
				Reason: "expected folder segment",
			}
		}
		return true, nil
	}
	return false, nil
}

func (p *parser) match(r *Rule) (*Tree, error) {
	if stop, err := p.stop(r); err != nil || stop {
		if err != nil {
			return nil, err
		}
		return p.trailingLeaf(), nil
	}

	switch r.Kind {
	case KindLit:
		t := p.peek()
		if t.text != r.Text {
			return nil, &GrammarError{Kind: UnexpectedToken, Rule: r.Name, Pos: t.start, Found: t.text, Expected: []string{r.Text}}
		}
		p.pos++
		return &Tree{Rule: r.Name, Kind: NodeKeyword, Text: t.text, Start: t.start, End: t.end}, nil

	case KindCapture:
		t := p.peek()
		p.pos++
		return &Tree{Rule: r.Name, Kind: NodeCapture, Text: t.text, Start: t.start, End: t.end}, nil

	case KindLeaf:
		return p.leaf(r.Name), nil

	case KindSeq:
		node := &Tree{Rule: r.Name, Kind: NodeSeq, Start: p.peek().start}
		for _, item := range r.Items {
			if p.atEnd() {
				break
			}
			child, err := p.match(item)
			if err != nil {
				return nil, err
			}
			if child != nil {
				node.Children = append(node.Children, child)
			}
		}
		p.close(node)
		return node, nil

	case KindChoice:
		d := p.g.choices[r]
		t := p.peek()
		alt, ok := d.keywords[t.text]
		if !ok || t.kind == tokenFile {
			alt = d.wildcard
		}
		if alt == nil {
			return nil, &GrammarError{Kind: UnexpectedToken, Rule: r.Name, Pos: t.start, Found: t.text, Expected: d.expected}
		}
		child, err := p.match(alt)
		if err != nil {
			return nil, err
		}
		node := &Tree{Rule: r.Name, Kind: NodeChoice, Start: t.start}
		if child != nil {
			node.Children = []*Tree{child}
		}
		p.close(node)
		return node, nil
	}
	return nil, &GrammarError{Kind: UnexpectedToken, Rule: r.Name, Pos: p.peek().start, Reason: fmt.Sprintf("unknown rule kind %d", r.Kind)}
}

// trailingLeaf wraps a file segment met where a folder was expected.
func (p *parser) trailingLeaf() *Tree {
	if p.atEnd() {
		return nil
	}
	return p.leaf(LeafRule)
}

func (p *parser) leaf(name string) *Tree {
	if p.atEnd() {
		return nil
	}
	node := &Tree{Rule: name, Kind: NodeLeaf, Start: p.peek().start}
	for ; p.pos < len(p.toks); p.pos++ {
		t := p.toks[p.pos]
		node.Children = append(node.Children, &Tree{
			Rule:   name,
			Kind:   NodeSegment,
			Text:   t.text,
			Start:  t.start,
			End:    t.end,
			IsFile: t.kind == tokenFile,
		})
	}
	p.close(node)
	return node
}

func (p *parser) close(node *Tree) {
	end := node.Start
	if p.pos > 0 {
		end = p.toks[p.pos-1].end
	}
	if end < node.Start {
		end = node.Start
	}
	node.End = end
	node.Text = p.key[node.Start:node.End]
}
