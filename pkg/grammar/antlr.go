// Copyright 2024 syzkaller project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package grammar

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ParseANTLR converts an ANTLR4 grammar into (name, pattern) rules.
// Supported: parser and lexer rules, quoted literals, rule references,
// groups with ?, * and + suffixes, alternatives, character sets ([a-z], ~[...]),
// ranges ('a'..'z') and the . wildcard. Headers, options, actions, labels,
// predicates and lexer commands are skipped. Elements of parser rules
// are separated with a single space, lexer rule elements are concatenated.
func ParseANTLR(data []byte) ([]RuleDef, error) {
	toks, err := tokenizeANTLR(string(data))
	if err != nil {
		return nil, err
	}
	p := &antlrParser{toks: toks}
	if err := p.parse(); err != nil {
		return nil, err
	}
	if len(p.defs) == 0 {
		return nil, fmt.Errorf("grammar has no rules")
	}
	return append(p.defs, p.aux...), nil
}

type tokKind int

const (
	tokID tokKind = iota
	tokString
	tokCharset
	tokPunct
)

type antlrToken struct {
	kind tokKind
	text string
	line int
}

func (t antlrToken) String() string {
	return fmt.Sprintf("%q (line %v)", t.text, t.line)
}

func tokenizeANTLR(s string) ([]antlrToken, error) {
	var toks []antlrToken
	line := 1
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case strings.HasPrefix(s[i:], "//"):
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case strings.HasPrefix(s[i:], "/*"):
			end := strings.Index(s[i+2:], "*/")
			if end == -1 {
				return nil, fmt.Errorf("line %v: unterminated comment", line)
			}
			line += strings.Count(s[i:i+2+end], "\n")
			i += end + 4
		case c == '\'':
			j := i + 1
			for ; j < len(s) && s[j] != '\''; j++ {
				if s[j] == '\\' {
					j++
				}
			}
			if j >= len(s) {
				return nil, fmt.Errorf("line %v: unterminated string", line)
			}
			str, err := unescapeANTLR(s[i+1 : j])
			if err != nil {
				return nil, fmt.Errorf("line %v: %w", line, err)
			}
			toks = append(toks, antlrToken{tokString, str, line})
			i = j + 1
		case c == '[':
			j := i + 1
			for ; j < len(s) && s[j] != ']'; j++ {
				if s[j] == '\\' {
					j++
				}
			}
			if j >= len(s) {
				return nil, fmt.Errorf("line %v: unterminated character set", line)
			}
			toks = append(toks, antlrToken{tokCharset, s[i+1 : j], line})
			i = j + 1
		case c == '{':
			depth := 0
			j := i
			for ; j < len(s); j++ {
				if s[j] == '{' {
					depth++
				} else if s[j] == '}' {
					depth--
					if depth == 0 {
						break
					}
				} else if s[j] == '\n' {
					line++
				}
			}
			if j >= len(s) {
				return nil, fmt.Errorf("line %v: unterminated action", line)
			}
			i = j + 1
			// Semantic predicates {...}? are dropped together with the action.
			if i < len(s) && s[i] == '?' {
				i++
			}
		case c == '<':
			end := strings.IndexByte(s[i:], '>')
			if end == -1 {
				return nil, fmt.Errorf("line %v: unterminated element options", line)
			}
			i += end + 1
		case c == '_' || unicode.IsLetter(rune(c)):
			j := i
			for j < len(s) && (s[j] == '_' || unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j]))) {
				j++
			}
			toks = append(toks, antlrToken{tokID, s[i:j], line})
			i = j
		case strings.HasPrefix(s[i:], "->"), strings.HasPrefix(s[i:], ".."), strings.HasPrefix(s[i:], "+="):
			toks = append(toks, antlrToken{tokPunct, s[i : i+2], line})
			i += 2
		case strings.IndexByte(":;|()?*+~.=#,@", c) != -1:
			toks = append(toks, antlrToken{tokPunct, s[i : i+1], line})
			i++
		default:
			return nil, fmt.Errorf("line %v: unexpected character %q", line, c)
		}
	}
	return toks, nil
}

func unescapeANTLR(s string) (string, error) {
	buf := new(strings.Builder)
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			buf.WriteByte(s[i])
			continue
		}
		i++
		if i == len(s) {
			return "", fmt.Errorf("bad escape in %q", s)
		}
		switch s[i] {
		case 'n':
			buf.WriteByte('\n')
		case 'r':
			buf.WriteByte('\r')
		case 't':
			buf.WriteByte('\t')
		case 'b':
			buf.WriteByte('\b')
		case 'f':
			buf.WriteByte('\f')
		case 'u':
			if i+4 >= len(s) {
				return "", fmt.Errorf("bad unicode escape in %q", s)
			}
			v, err := strconv.ParseUint(s[i+1:i+5], 16, 32)
			if err != nil {
				return "", fmt.Errorf("bad unicode escape in %q", s)
			}
			buf.WriteRune(rune(v))
			i += 4
		default:
			buf.WriteByte(s[i])
		}
	}
	return buf.String(), nil
}

type antlrParser struct {
	toks   []antlrToken
	pos    int
	defs   []RuleDef
	aux    []RuleDef
	rule   string
	sep    string
	nextID int
}

func (p *antlrParser) peek() *antlrToken {
	if p.pos >= len(p.toks) {
		return nil
	}
	return &p.toks[p.pos]
}

func (p *antlrParser) isPunct(text string) bool {
	t := p.peek()
	return t != nil && t.kind == tokPunct && t.text == text
}

func (p *antlrParser) expect(text string) error {
	t := p.peek()
	if t == nil {
		return fmt.Errorf("unexpected end of grammar, want %q", text)
	}
	if t.kind != tokPunct || t.text != text {
		return fmt.Errorf("unexpected %v, want %q", t, text)
	}
	p.pos++
	return nil
}

func (p *antlrParser) skipPast(text string) {
	for t := p.peek(); t != nil; t = p.peek() {
		p.pos++
		if t.kind == tokPunct && t.text == text {
			return
		}
	}
}

func (p *antlrParser) parse() error {
	for t := p.peek(); t != nil; t = p.peek() {
		if t.kind == tokPunct && t.text == "@" {
			// Named action (@header {...}), the body is dropped by the tokenizer.
			p.pos += 2
			continue
		}
		if t.kind != tokID {
			return fmt.Errorf("unexpected %v at top level", t)
		}
		switch t.text {
		case "grammar", "lexer", "parser", "import", "mode":
			p.skipPast(";")
			continue
		case "options", "tokens", "channels":
			// Bodies are braced and dropped by the tokenizer.
			p.pos++
			continue
		case "fragment":
			p.pos++
			continue
		}
		if err := p.parseRule(); err != nil {
			return err
		}
	}
	return nil
}

func (p *antlrParser) parseRule() error {
	name := p.peek()
	p.pos++
	if !validName(name.text) {
		return fmt.Errorf("bad rule name %v", name)
	}
	p.rule = name.text
	p.sep = ""
	if r, _ := utf8.DecodeRuneInString(name.text); unicode.IsLower(r) {
		p.sep = " "
	}
	if err := p.expect(":"); err != nil {
		return err
	}
	alts, err := p.alternatives()
	if err != nil {
		return fmt.Errorf("rule %v: %w", name.text, err)
	}
	if err := p.expect(";"); err != nil {
		return fmt.Errorf("rule %v: %w", name.text, err)
	}
	for _, alt := range alts {
		p.defs = append(p.defs, RuleDef{name.text, alt})
	}
	return nil
}

func (p *antlrParser) alternatives() ([]string, error) {
	var alts []string
	for {
		alt, err := p.sequence()
		if err != nil {
			return nil, err
		}
		alts = append(alts, alt)
		if !p.isPunct("|") {
			return alts, nil
		}
		p.pos++
	}
}

func (p *antlrParser) sequence() (string, error) {
	var elems []string
	for {
		t := p.peek()
		if t == nil {
			return "", fmt.Errorf("unexpected end of grammar")
		}
		if t.kind == tokPunct {
			switch t.text {
			case "|", ";", ")":
				return strings.Join(elems, p.sep), nil
			case "->":
				// Lexer commands: skip, channel(HIDDEN), ...
				for t = p.peek(); t != nil && !(t.kind == tokPunct && (t.text == "|" || t.text == ";")); t = p.peek() {
					p.pos++
				}
				continue
			case "#":
				p.pos += 2
				continue
			}
		}
		elem, err := p.element()
		if err != nil {
			return "", err
		}
		if elem != "" {
			elems = append(elems, elem)
		}
	}
}

func (p *antlrParser) element() (string, error) {
	t := p.peek()
	// Labels: x=ID, x+=ID.
	if t.kind == tokID && p.pos+1 < len(p.toks) {
		if next := p.toks[p.pos+1]; next.kind == tokPunct && (next.text == "=" || next.text == "+=") {
			p.pos += 2
		}
	}
	frag, err := p.atom()
	if err != nil {
		return "", err
	}
	t = p.peek()
	if t == nil || t.kind != tokPunct {
		return frag, nil
	}
	switch t.text {
	case "?":
		frag = "{" + p.auxRule([]string{"", frag}) + "}"
	case "*":
		name := p.newAux()
		p.aux = append(p.aux, RuleDef{name, ""}, RuleDef{name, joinNonEmpty(p.sep, frag, "{"+name+"}")})
		frag = "{" + name + "}"
	case "+":
		name := p.newAux()
		p.aux = append(p.aux, RuleDef{name, frag}, RuleDef{name, joinNonEmpty(p.sep, frag, "{"+name+"}")})
		frag = "{" + name + "}"
	default:
		return frag, nil
	}
	p.pos++
	// Non-greedy marker.
	if p.isPunct("?") {
		p.pos++
	}
	return frag, nil
}

func (p *antlrParser) atom() (string, error) {
	t := p.peek()
	if t == nil {
		return "", fmt.Errorf("unexpected end of grammar")
	}
	p.pos++
	switch t.kind {
	case tokID:
		if t.text == "EOF" {
			return "", nil
		}
		return "{" + t.text + "}", nil
	case tokString:
		if p.isPunct("..") {
			p.pos++
			hi := p.peek()
			if hi == nil || hi.kind != tokString {
				return "", fmt.Errorf("bad range after %v", t)
			}
			p.pos++
			lo, _ := utf8.DecodeRuneInString(t.text)
			up, _ := utf8.DecodeRuneInString(hi.text)
			return p.charsetRule(runeRange(lo, up)), nil
		}
		return EscapeLiteral([]byte(t.text)), nil
	case tokCharset:
		set, err := parseCharset(t.text)
		if err != nil {
			return "", fmt.Errorf("%v: %w", t, err)
		}
		return p.charsetRule(set), nil
	case tokPunct:
		switch t.text {
		case "(":
			alts, err := p.alternatives()
			if err != nil {
				return "", err
			}
			if err := p.expect(")"); err != nil {
				return "", err
			}
			if len(alts) == 1 {
				return alts[0], nil
			}
			return "{" + p.auxRule(alts) + "}", nil
		case ".":
			return p.charsetRule(printable(nil)), nil
		case "~":
			neg := p.peek()
			if neg == nil {
				return "", fmt.Errorf("unexpected end of grammar after ~")
			}
			p.pos++
			var excl []rune
			switch neg.kind {
			case tokCharset:
				set, err := parseCharset(neg.text)
				if err != nil {
					return "", err
				}
				excl = set
			case tokString:
				excl = []rune(neg.text)
			default:
				return "", fmt.Errorf("unsupported negation of %v", neg)
			}
			return p.charsetRule(printable(excl)), nil
		}
	}
	return "", fmt.Errorf("unexpected %v", t)
}

func (p *antlrParser) newAux() string {
	p.nextID++
	return fmt.Sprintf("%v__%v", p.rule, p.nextID)
}

func (p *antlrParser) auxRule(alts []string) string {
	name := p.newAux()
	for _, alt := range alts {
		p.aux = append(p.aux, RuleDef{name, alt})
	}
	return name
}

func (p *antlrParser) charsetRule(set []rune) string {
	var alts []string
	for _, r := range set {
		alts = append(alts, EscapeLiteral([]byte(string(r))))
	}
	if len(alts) == 0 {
		alts = []string{""}
	}
	return "{" + p.auxRule(alts) + "}"
}

func joinNonEmpty(sep string, elems ...string) string {
	var res []string
	for _, e := range elems {
		if e != "" {
			res = append(res, e)
		}
	}
	return strings.Join(res, sep)
}

func parseCharset(s string) ([]rune, error) {
	var runes []rune
	for i := 0; i < len(s); {
		r, n, err := charsetRune(s, i)
		if err != nil {
			return nil, err
		}
		i += n
		if i+1 < len(s) && s[i] == '-' {
			hi, n2, err := charsetRune(s, i+1)
			if err != nil {
				return nil, err
			}
			if hi < r {
				return nil, fmt.Errorf("bad range in [%v]", s)
			}
			runes = append(runes, runeRange(r, hi)...)
			i += 1 + n2
			continue
		}
		runes = append(runes, r)
	}
	return runes, nil
}

func charsetRune(s string, i int) (rune, int, error) {
	if s[i] != '\\' {
		r, n := utf8.DecodeRuneInString(s[i:])
		return r, n, nil
	}
	if i+1 == len(s) {
		return 0, 0, fmt.Errorf("bad escape in [%v]", s)
	}
	switch s[i+1] {
	case 'n':
		return '\n', 2, nil
	case 'r':
		return '\r', 2, nil
	case 't':
		return '\t', 2, nil
	case 'u':
		if i+6 > len(s) {
			return 0, 0, fmt.Errorf("bad unicode escape in [%v]", s)
		}
		v, err := strconv.ParseUint(s[i+2:i+6], 16, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("bad unicode escape in [%v]", s)
		}
		return rune(v), 6, nil
	default:
		r, n := utf8.DecodeRuneInString(s[i+1:])
		return r, 1 + n, nil
	}
}

// Ranges larger than this are sampled to keep the number of alternatives reasonable.
const maxCharsetRange = 256

func runeRange(lo, hi rune) []rune {
	var res []rune
	step := rune(1)
	if hi-lo >= maxCharsetRange {
		step = (hi - lo) / maxCharsetRange
	}
	for r := lo; r <= hi; r += step {
		res = append(res, r)
	}
	return res
}

// printable returns printable ASCII characters (plus tab) not present in excl.
func printable(excl []rune) []rune {
	skip := make(map[rune]bool)
	for _, r := range excl {
		skip[r] = true
	}
	var res []rune
	for r := rune('\t'); r <= '~'; r++ {
		if (r == '\t' || r >= ' ') && !skip[r] {
			res = append(res, r)
		}
	}
	return res
}
