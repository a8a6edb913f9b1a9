package pipequery

import (
	"strconv"
	"strings"
)

// The generic form of a script invocation, before it is interpreted by a specific script:
//
//	stats(field=host, aggregate(avg, latency, "Avg latency"), aggregate(count))
//
// gives Script "stats", Named {"field": "host"} and two "aggregate" groups. The parentheses
// around the top-level arguments are optional, as are the commas between arguments.
type Arguments struct {
	Script string
	ArgumentList
}

type ArgumentList struct {
	Positional []string
	Named      map[string]string
	Groups     []Group
}

// An argument of the form name(arg1, arg2, key=value).
type Group struct {
	Name string
	ArgumentList

	// Offset of the group in the parsed script.
	position int
}

// Parses a single script invocation (one pipe segment).
func ParseArguments(script string) (Arguments, error) {
	return parseArgumentsAt(script, script, 0)
}

func parseArgumentsAt(query string, script string, offset int) (Arguments, error) {
	tokens, err := tokenize(query, script, offset)
	if err != nil {
		return Arguments{}, err
	}

	parser := argumentParser{query: query, tokens: tokens, end: offset + len(script)}

	name := parser.next()
	if name.kind != tokenWord {
		return Arguments{}, parser.errorAt(name, "expected script name")
	}
	arguments := Arguments{Script: name.text}

	closing := tokenEOF
	if parser.peek().kind == tokenOpen {
		parser.next()
		closing = tokenClose
	}

	arguments.ArgumentList, err = parser.parseList(closing, true)
	if err != nil {
		return Arguments{}, err
	}

	if closing == tokenClose {
		if trailing := parser.next(); trailing.kind != tokenEOF {
			return Arguments{}, parser.errorAt(
				trailing, "unexpected '%s' after arguments", trailing.text,
			)
		}
	}

	return arguments, nil
}

type argumentParser struct {
	query  string
	tokens []token
	index  int
	end    int
}

func (parser *argumentParser) peek() token {
	if parser.index >= len(parser.tokens) {
		return token{kind: tokenEOF, position: parser.end}
	}
	return parser.tokens[parser.index]
}

func (parser *argumentParser) next() token {
	token := parser.peek()
	if parser.index < len(parser.tokens) {
		parser.index++
	}
	return token
}

func (parser *argumentParser) errorAt(token token, format string, args ...any) *ParseError {
	return newParseError(parser.query, token.position, format, args...)
}

func (parser *argumentParser) parseList(closing tokenKind, allowGroups bool) (ArgumentList, error) {
	list := ArgumentList{Named: make(map[string]string)}

	for {
		current := parser.next()

		switch current.kind {
		case closing:
			return list, nil
		case tokenComma:
			continue
		case tokenString:
			list.Positional = append(list.Positional, current.text)
		case tokenWord:
			switch parser.peek().kind {
			case tokenEquals:
				parser.next()
				value := parser.next()
				if value.kind != tokenWord && value.kind != tokenString {
					return ArgumentList{}, parser.errorAt(
						value, "expected value for '%s'", current.text,
					)
				}
				if _, exists := list.Named[current.text]; exists {
					return ArgumentList{}, parser.errorAt(
						current, "duplicate argument '%s'", current.text,
					)
				}
				list.Named[current.text] = value.text
			case tokenOpen:
				if !allowGroups {
					return ArgumentList{}, parser.errorAt(
						current, "nested argument groups are not supported",
					)
				}
				parser.next()
				groupArgs, err := parser.parseList(tokenClose, false)
				if err != nil {
					return ArgumentList{}, err
				}
				list.Groups = append(list.Groups, Group{
					Name:         current.text,
					ArgumentList: groupArgs,
					position:     current.position,
				})
			default:
				list.Positional = append(list.Positional, current.text)
			}
		case tokenEOF:
			return ArgumentList{}, parser.errorAt(current, "missing closing parenthesis")
		default:
			return ArgumentList{}, parser.errorAt(current, "unexpected '%s'", current.text)
		}
	}
}

type tokenKind int8

const (
	tokenEOF tokenKind = iota
	tokenWord
	tokenString
	tokenOpen
	tokenClose
	tokenComma
	tokenEquals
)

type token struct {
	kind     tokenKind
	text     string
	position int
}

func tokenize(query string, script string, offset int) ([]token, error) {
	var tokens []token

	for i := 0; i < len(script); {
		char := rune(script[i])
		position := offset + i

		switch {
		case isSpace(char):
			i++
		case char == '(':
			tokens = append(tokens, token{kind: tokenOpen, text: "(", position: position})
			i++
		case char == ')':
			tokens = append(tokens, token{kind: tokenClose, text: ")", position: position})
			i++
		case char == ',':
			tokens = append(tokens, token{kind: tokenComma, text: ",", position: position})
			i++
		case char == '=':
			tokens = append(tokens, token{kind: tokenEquals, text: "=", position: position})
			i++
		case char == quoteMark:
			end := quotedStringEnd(script, i)
			if end == -1 {
				return nil, newParseError(query, position, "unterminated quote")
			}
			text, err := strconv.Unquote(script[i:end])
			if err != nil {
				return nil, newParseError(query, position, "invalid quoted string: %v", err)
			}
			tokens = append(tokens, token{kind: tokenString, text: text, position: position})
			i = end
		default:
			end := i
			for end < len(script) && !isWordBoundary(rune(script[end])) {
				end++
			}
			tokens = append(tokens, token{kind: tokenWord, text: script[i:end], position: position})
			i = end
		}
	}

	return tokens, nil
}

// Returns the index after the closing quote of the string starting at start, or -1 if it is not
// terminated.
func quotedStringEnd(script string, start int) int {
	escaped := false
	for i := start + 1; i < len(script); i++ {
		switch {
		case escaped:
			escaped = false
		case script[i] == escape:
			escaped = true
		case script[i] == quoteMark:
			return i + 1
		}
	}
	return -1
}

// Scripts are scanned byte by byte, so only ASCII whitespace counts. Multi-byte characters are
// always part of a word.
func isSpace(char rune) bool {
	return char == ' ' || char == '\t' || char == '\n' || char == '\r'
}

func isWordBoundary(char rune) bool {
	return isSpace(char) || strings.ContainsRune("(),=\"", char)
}
