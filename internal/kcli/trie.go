// Package kcli is a trie-based command dispatcher for cmd/kernelsh: each
// registered Handler names one or more whitespace-separated tokens --
// literal text, a required <name> argument, or a trailing optional [name]
// argument -- and dispatch walks a trie built from those tokens to find
// the matching handler for a line of input.
package kcli

import "strings"

type tokenKind int

const (
	literalToken tokenKind = iota
	requiredToken
	optionalToken
)

type token struct {
	kind tokenKind
	text string // literal text, or the argument name
}

func parsePattern(pattern string) ([]token, error) {
	var toks []token
	for _, field := range strings.Fields(pattern) {
		switch {
		case strings.HasPrefix(field, "<") && strings.HasSuffix(field, ">"):
			toks = append(toks, token{kind: requiredToken, text: field[1 : len(field)-1]})
		case strings.HasPrefix(field, "[") && strings.HasSuffix(field, "]"):
			toks = append(toks, token{kind: optionalToken, text: field[1 : len(field)-1]})
		default:
			toks = append(toks, token{kind: literalToken, text: field})
		}
	}
	return toks, nil
}

// node is one level of the dispatch trie. literalChildren holds exact
// next-token matches; paramChild, if non-nil, matches any token as a
// required-argument capture (there is at most one per node, since two
// patterns sharing a prefix must agree on whether the next token is
// literal or a parameter).
type node struct {
	handler        *Handler
	literalChildren map[string]*node
	paramChild      *node
	paramName       string
	optionalChild   *node // handler reachable without consuming another token
	optionalName    string
}

func newNode() *node {
	return &node{literalChildren: map[string]*node{}}
}

func (n *node) insert(toks []token, h *Handler) {
	if len(toks) == 0 {
		n.handler = h
		return
	}

	t := toks[0]
	switch t.kind {
	case literalToken:
		child, ok := n.literalChildren[t.text]
		if !ok {
			child = newNode()
			n.literalChildren[t.text] = child
		}
		child.insert(toks[1:], h)

	case requiredToken:
		if n.paramChild == nil {
			n.paramChild = newNode()
			n.paramName = t.text
		}
		n.paramChild.insert(toks[1:], h)

	case optionalToken:
		// optional must be the final token in a pattern
		n.optionalChild = newNode()
		n.optionalName = t.text
		n.optionalChild.handler = h
		n.handler = h // also matches with the optional arg omitted, minus the value
	}
}

// match walks fields against the trie, filling args as it goes, and
// returns the handler for a full match (or nil).
func (n *node) match(fields []string, args ArgMap) *Handler {
	if len(fields) == 0 {
		return n.handler
	}

	f := fields[0]
	if child, ok := n.literalChildren[f]; ok {
		if h := child.match(fields[1:], args); h != nil {
			return h
		}
	}
	if n.paramChild != nil {
		args[n.paramName] = f
		if h := n.paramChild.match(fields[1:], args); h != nil {
			return h
		}
		delete(args, n.paramName)
	}
	if n.optionalChild != nil && len(fields) >= 1 {
		args[n.optionalName] = strings.Join(fields, " ")
		return n.optionalChild.handler
	}
	return nil
}
