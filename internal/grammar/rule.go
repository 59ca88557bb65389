// Package grammar implements a small deterministic grammar engine over
// slash-delimited object keys.
//
// A grammar is built from rules (keywords, captures, sequences, choices and
// a leaf that swallows the rest of the key), compiled once, and then used to
// parse keys into a Tree. Choices are resolved with a single token of
// lookahead: a keyword alternative always wins over the wildcard one, and
// Compile rejects any choice that could match a token two ways.
package grammar

// RuleKind identifies the kind of a Rule.
type RuleKind int

const (
	KindLit RuleKind = iota + 1
	KindCapture
	KindLeaf
	KindSeq
	KindChoice
)

func (k RuleKind) String() string {
	switch k {
	case KindLit:
		return "lit"
	case KindCapture:
		return "capture"
	case KindLeaf:
		return "leaf"
	case KindSeq:
		return "seq"
	case KindChoice:
		return "choice"
	default:
		return "unknown"
	}
}

// LeafRule is the rule name given to leaf nodes, including the ones the
// parser synthesizes when a file segment ends a structure early.
const LeafRule = "leaf"

// Rule is one production of a grammar. Rules are immutable once compiled.
type Rule struct {
	Kind  RuleKind
	Name  string
	Text  string
	Items []*Rule
}

// Lit matches a folder segment equal to text.
func Lit(text string) *Rule {
	return &Rule{Kind: KindLit, Name: text, Text: text}
}

// Capture matches any folder segment and records it under name.
func Capture(name string) *Rule {
	return &Rule{Kind: KindCapture, Name: name}
}

// Leaf consumes every remaining segment of the key.
func Leaf() *Rule {
	return &Rule{Kind: KindLeaf, Name: LeafRule}
}

// Seq matches items in order.
func Seq(name string, items ...*Rule) *Rule {
	return &Rule{Kind: KindSeq, Name: name, Items: items}
}

// Choice matches exactly one of alts.
func Choice(name string, alts ...*Rule) *Rule {
	return &Rule{Kind: KindChoice, Name: name, Items: alts}
}
