// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import (
	"bytes"
	"fmt"
	"strings"
)

type NTermID int

type RuleID int

// Rule is a single production NT -> pattern.
// Pattern is a byte string with nonterminal references in braces, e.g. "{EXPR} + {EXPR}".
type Rule struct {
	ID      RuleID
	NT      NTermID
	Pattern string
	Parts   []Part
	// Children lists referenced nonterminals in the order they appear in the pattern.
	Children []NTermID
}

// Part is either a literal byte string or a nonterminal reference.
type Part struct {
	Literal []byte
	NT      NTermID
	IsNT    bool
}

// IsTerminal says if the rule does not reference any nonterminals.
func (r *Rule) IsTerminal() bool {
	return len(r.Children) == 0
}

type rawPart struct {
	literal []byte
	nt      string
}

func parsePattern(pattern string) ([]rawPart, error) {
	var parts []rawPart
	lit := new(bytes.Buffer)
	flush := func() {
		if lit.Len() != 0 {
			parts = append(parts, rawPart{literal: append([]byte{}, lit.Bytes()...)})
			lit.Reset()
		}
	}
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '\\':
			if i+1 == len(pattern) {
				return nil, fmt.Errorf("pattern %q: trailing backslash", pattern)
			}
			i++
			switch pattern[i] {
			case '{', '}', '\\':
				lit.WriteByte(pattern[i])
			default:
				lit.WriteByte('\\')
				lit.WriteByte(pattern[i])
			}
		case '{':
			end := strings.IndexByte(pattern[i:], '}')
			if end == -1 {
				return nil, fmt.Errorf("pattern %q: unterminated nonterminal at offset %v", pattern, i)
			}
			name := pattern[i+1 : i+end]
			if !validName(name) {
				return nil, fmt.Errorf("pattern %q: bad nonterminal name %q", pattern, name)
			}
			flush()
			parts = append(parts, rawPart{nt: name})
			i += end
		case '}':
			return nil, fmt.Errorf("pattern %q: unbalanced } at offset %v", pattern, i)
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return parts, nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for i, c := range name {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i != 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// EscapeLiteral escapes data so that it can be used as a literal part of a pattern.
func EscapeLiteral(data []byte) string {
	buf := new(strings.Builder)
	for _, c := range data {
		if c == '{' || c == '}' || c == '\\' {
			buf.WriteByte('\\')
		}
		buf.WriteByte(c)
	}
	return buf.String()
}
