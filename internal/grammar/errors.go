package grammar

import (
	"fmt"
	"strings"
)

// ErrorKind classifies a GrammarError.
type ErrorKind int

const (
	// InvalidKey means the key could not be tokenized.
	InvalidKey ErrorKind = iota + 1
	// UnexpectedToken means no production accepts the token at Pos.
	UnexpectedToken
	// UnexpectedEnd means the input ended before a required element.
	UnexpectedEnd
	// Ambiguous means a rule set has alternatives of equal specificity.
	Ambiguous
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidKey:
		return "invalid key"
	case UnexpectedToken:
		return "unexpected token"
	case UnexpectedEnd:
		return "unexpected end of input"
	case Ambiguous:
		return "ambiguous rule"
	default:
		return "unknown"
	}
}

// GrammarError is returned by Compile and Parse.
type GrammarError struct {
	Kind     ErrorKind
	Rule     string
	Pos      int
	Found    string
	Expected []string
	Reason   string
}

func (e *GrammarError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "grammar: %s", e.Kind)
	if e.Rule != "" {
		fmt.Fprintf(&b, " in rule %q", e.Rule)
	}
	if e.Kind != Ambiguous {
		fmt.Fprintf(&b, " at position %d", e.Pos)
	}
	if e.Found != "" {
		fmt.Fprintf(&b, ": found %q", e.Found)
	}
	if len(e.Expected) > 0 {
		fmt.Fprintf(&b, ", expected one of [%s]", strings.Join(e.Expected, ", "))
	}
	if e.Reason != "" {
		fmt.Fprintf(&b, " (%s)", e.Reason)
	}
	return b.String()
}
