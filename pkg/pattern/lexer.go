package pattern

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIRI
	tokPName
	tokVar
	tokBlank
	tokString
	tokLang
	tokCaret
	tokNumber
	tokDot
	tokSemicolon
	tokComma
	tokLBrace
	tokRBrace
	tokA
	tokPrefix
	tokBool
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of pattern"
	case tokIRI:
		return "IRI"
	case tokPName:
		return "prefixed name"
	case tokVar:
		return "variable"
	case tokBlank:
		return "blank node"
	case tokString:
		return "literal"
	case tokLang:
		return "language tag"
	case tokCaret:
		return "'^^'"
	case tokNumber:
		return "number"
	case tokDot:
		return "'.'"
	case tokSemicolon:
		return "';'"
	case tokComma:
		return "','"
	case tokLBrace:
		return "'{'"
	case tokRBrace:
		return "'}'"
	case tokA:
		return "'a'"
	case tokPrefix:
		return "PREFIX"
	case tokBool:
		return "boolean"
	default:
		return "token"
	}
}

type token struct {
	kind tokenKind
	text string
	pos  int
}

// lexer splits pattern text into tokens. It mirrors the quote-aware scanning
// of SmartSplit but understands the full triple-pattern vocabulary.
type lexer struct {
	src string
	pos int
}

func (l *lexer) errorf(pos int, format string, args ...any) error {
	return &Error{Kind: ErrUnparseable, Pattern: l.src, Offset: pos, Detail: fmt.Sprintf(format, args...)}
}

func (l *lexer) tokens() ([]token, error) {
	var out []token
	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		if t.kind == tokEOF {
			return out, nil
		}
	}
}

func (l *lexer) peekRune() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(l.src[l.pos:])
	return r
}

func (l *lexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		switch {
		case unicode.IsSpace(r):
			l.pos += size
		case r == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

func (l *lexer) next() (token, error) {
	l.skipSpaceAndComments()
	start := l.pos
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: start}, nil
	}

	r := l.peekRune()
	switch {
	case r == '<':
		end := strings.IndexByte(l.src[l.pos+1:], '>')
		if end < 0 {
			return token{}, l.errorf(start, "unterminated IRI")
		}
		text := l.src[l.pos+1 : l.pos+1+end]
		if strings.ContainsAny(text, " \t\n<\"{}") {
			return token{}, l.errorf(start, "invalid character in IRI %q", text)
		}
		l.pos += end + 2
		return token{kind: tokIRI, text: text, pos: start}, nil

	case r == '?' || r == '$':
		l.pos++
		name := l.scanName()
		if name == "" {
			return token{}, l.errorf(start, "empty variable name")
		}
		return token{kind: tokVar, text: name, pos: start}, nil

	case r == '_' && strings.HasPrefix(l.src[l.pos:], "_:"):
		l.pos += 2
		name := l.scanName()
		if name == "" {
			return token{}, l.errorf(start, "empty blank node label")
		}
		return token{kind: tokBlank, text: name, pos: start}, nil

	case r == '"' || r == '\'':
		s, err := l.scanString(r)
		if err != nil {
			return token{}, err
		}
		return token{kind: tokString, text: s, pos: start}, nil

	case r == '@':
		l.pos++
		word := l.scanName()
		if word == "" {
			return token{}, l.errorf(start, "empty language tag")
		}
		if word == "prefix" {
			return token{kind: tokPrefix, text: word, pos: start}, nil
		}
		return token{kind: tokLang, text: word, pos: start}, nil

	case r == '^':
		if !strings.HasPrefix(l.src[l.pos:], "^^") {
			return token{}, l.errorf(start, "expected '^^'")
		}
		l.pos += 2
		return token{kind: tokCaret, text: "^^", pos: start}, nil

	case r == '.':
		l.pos++
		return token{kind: tokDot, text: ".", pos: start}, nil
	case r == ';':
		l.pos++
		return token{kind: tokSemicolon, text: ";", pos: start}, nil
	case r == ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	case r == '{':
		l.pos++
		return token{kind: tokLBrace, text: "{", pos: start}, nil
	case r == '}':
		l.pos++
		return token{kind: tokRBrace, text: "}", pos: start}, nil

	case r == '-' || r == '+' || unicode.IsDigit(r):
		return l.scanNumber()

	case r == ':' || unicode.IsLetter(r):
		word := l.scanPName()
		switch {
		case word == "a":
			return token{kind: tokA, text: word, pos: start}, nil
		case strings.EqualFold(word, "prefix"):
			return token{kind: tokPrefix, text: word, pos: start}, nil
		case word == "true" || word == "false":
			return token{kind: tokBool, text: word, pos: start}, nil
		case strings.Contains(word, ":"):
			return token{kind: tokPName, text: word, pos: start}, nil
		default:
			return token{}, l.errorf(start, "unexpected word %q", word)
		}
	}

	return token{}, l.errorf(start, "unexpected character %q", r)
}

func isNameRune(r rune) bool {
	return r == '_' || r == '-' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func (l *lexer) scanName() string {
	start := l.pos
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !isNameRune(r) {
			break
		}
		l.pos += size
	}
	return l.src[start:l.pos]
}

// scanPName reads "prefix:local". A trailing '.' belongs to the statement,
// not the name.
func (l *lexer) scanPName() string {
	start := l.pos
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !isNameRune(r) && r != ':' && r != '.' && r != '/' && r != '#' {
			break
		}
		l.pos += size
	}
	for l.pos > start && l.src[l.pos-1] == '.' {
		l.pos--
	}
	return l.src[start:l.pos]
}

func (l *lexer) scanNumber() (token, error) {
	start := l.pos
	if r := l.peekRune(); r == '-' || r == '+' {
		l.pos++
	}
	digits := 0
	for l.pos < len(l.src) && unicode.IsDigit(rune(l.src[l.pos])) {
		l.pos++
		digits++
	}
	if l.pos+1 < len(l.src) && l.src[l.pos] == '.' && unicode.IsDigit(rune(l.src[l.pos+1])) {
		l.pos++
		for l.pos < len(l.src) && unicode.IsDigit(rune(l.src[l.pos])) {
			l.pos++
			digits++
		}
	}
	if digits == 0 {
		return token{}, l.errorf(start, "malformed number")
	}
	return token{kind: tokNumber, text: l.src[start:l.pos], pos: start}, nil
}

func (l *lexer) scanString(quote rune) (string, error) {
	start := l.pos
	l.pos++
	var sb strings.Builder
	for l.pos < len(l.src) {
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		l.pos += size
		switch r {
		case quote:
			return sb.String(), nil
		case '\\':
			if l.pos >= len(l.src) {
				return "", l.errorf(start, "unterminated escape")
			}
			esc := l.src[l.pos]
			l.pos++
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '"', '\'', '\\':
				sb.WriteByte(esc)
			default:
				return "", l.errorf(l.pos-2, "unknown escape \\%c", esc)
			}
		case '\n':
			return "", l.errorf(start, "newline in literal")
		default:
			sb.WriteRune(r)
		}
	}
	return "", l.errorf(start, "unterminated literal")
}
