package grammar

import (
	"unicode"
	"unicode/utf8"
)

// MaxKeyLength is the longest object key accepted by S3.
const MaxKeyLength = 1024

type tokenKind int

const (
	tokenFolder tokenKind = iota + 1
	tokenFile
)

func (k tokenKind) String() string {
	if k == tokenFile {
		return "file"
	}
	return "folder"
}

type token struct {
	kind  tokenKind
	text  string
	start int
	end   int
}

// lex splits a key into folder tokens followed by at most one file token.
// A trailing "/" is a directory marker and produces no file token.
func lex(key string) ([]token, error) {
	if len(key) > MaxKeyLength {
		return nil, &GrammarError{Kind: InvalidKey, Pos: MaxKeyLength, Reason: "key exceeds 1024 bytes"}
	}
	if !utf8.ValidString(key) {
		return nil, &GrammarError{Kind: InvalidKey, Reason: "key is not valid UTF-8"}
	}
	for i, r := range key {
		if unicode.IsControl(r) {
			return nil, &GrammarError{Kind: InvalidKey, Pos: i, Found: string(r), Reason: "control character in key"}
		}
	}

	tokens := make([]token, 0, 8)
	start := 0
	for start < len(key) {
		end := start
		for end < len(key) && key[end] != '/' {
			end++
		}
		if end == start {
			return nil, &GrammarError{Kind: InvalidKey, Pos: start, Reason: "empty path segment"}
		}
		kind := tokenFile
		if end < len(key) {
			kind = tokenFolder
		}
		tokens = append(tokens, token{kind: kind, text: key[start:end], start: start, end: end})
		start = end + 1
	}
	return tokens, nil
}
