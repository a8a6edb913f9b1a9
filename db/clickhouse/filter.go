package clickhouse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"hermannm.dev/wrap"
)

// Translates a subset of the Lucene query string syntax into a SQL condition:
//
//	*                    matches everything
//	field:value          exact match on the field's string form
//	field:"a value"      exact match with spaces
//	field:prefix*        prefix match
//	field:*              field is not null
//	AND, OR, NOT, ( )    with clauses next to each other joined by AND
//
// Free-text terms, ranges, wildcards inside values, fuzzy and boosted terms are rejected.
func writeFilter(query *QueryBuilder, filter string) error {
	tokens, err := tokenizeFilter(filter)
	if err != nil {
		return err
	}

	if len(tokens) == 0 {
		query.WriteString("1")
		return nil
	}

	parser := filterParser{tokens: tokens, query: query}
	if err := parser.parseOr(); err != nil {
		return err
	}
	if parser.position < len(tokens) {
		return fmt.Errorf("unexpected '%s'", tokens[parser.position].text)
	}

	return nil
}

type filterTokenKind int8

const (
	filterWord filterTokenKind = iota + 1
	filterLeftParen
	filterRightParen
)

type filterToken struct {
	kind filterTokenKind
	text string
}

func tokenizeFilter(filter string) ([]filterToken, error) {
	var tokens []filterToken

	i := 0
	for i < len(filter) {
		switch char := filter[i]; char {
		case ' ', '\t', '\n', '\r':
			i++
		case '(':
			tokens = append(tokens, filterToken{kind: filterLeftParen, text: "("})
			i++
		case ')':
			tokens = append(tokens, filterToken{kind: filterRightParen, text: ")"})
			i++
		default:
			start := i
			for i < len(filter) && !isFilterDelimiter(filter[i]) {
				if filter[i] == '"' {
					end, err := closingQuote(filter, i)
					if err != nil {
						return nil, err
					}
					i = end + 1
					continue
				}
				i++
			}
			tokens = append(tokens, filterToken{kind: filterWord, text: filter[start:i]})
		}
	}

	return tokens, nil
}

func isFilterDelimiter(char byte) bool {
	switch char {
	case ' ', '\t', '\n', '\r', '(', ')':
		return true
	default:
		return false
	}
}

func closingQuote(filter string, openingQuote int) (int, error) {
	for i := openingQuote + 1; i < len(filter); i++ {
		switch filter[i] {
		case '\\':
			i++
		case '"':
			return i, nil
		}
	}
	return 0, fmt.Errorf("unterminated quote at position %d", openingQuote)
}

type filterParser struct {
	tokens   []filterToken
	position int
	query    *QueryBuilder
}

func (parser *filterParser) parseOr() error {
	if err := parser.parseAnd(); err != nil {
		return err
	}

	for parser.acceptOperator("OR") {
		parser.query.WriteString(" OR ")
		if err := parser.parseAnd(); err != nil {
			return err
		}
	}

	return nil
}

func (parser *filterParser) parseAnd() error {
	if err := parser.parseNot(); err != nil {
		return err
	}

	for parser.hasClause() {
		parser.acceptOperator("AND")
		parser.query.WriteString(" AND ")
		if err := parser.parseNot(); err != nil {
			return err
		}
	}

	return nil
}

func (parser *filterParser) parseNot() error {
	if !parser.acceptOperator("NOT") {
		return parser.parsePrimary()
	}

	parser.query.WriteString("NOT (")
	if err := parser.parseNot(); err != nil {
		return err
	}
	parser.query.WriteString(")")
	return nil
}

func (parser *filterParser) parsePrimary() error {
	if parser.position >= len(parser.tokens) {
		return errors.New("unexpected end of query")
	}

	token := parser.tokens[parser.position]
	parser.position++

	switch token.kind {
	case filterLeftParen:
		parser.query.WriteString("(")
		if err := parser.parseOr(); err != nil {
			return err
		}
		if parser.position >= len(parser.tokens) ||
			parser.tokens[parser.position].kind != filterRightParen {
			return errors.New("missing closing parenthesis")
		}
		parser.position++
		parser.query.WriteString(")")
		return nil
	case filterRightParen:
		return errors.New("unexpected ')'")
	}

	if isFilterOperator(token.text) {
		return fmt.Errorf("unexpected operator '%s'", token.text)
	}
	if token.text == "*" {
		parser.query.WriteString("1")
		return nil
	}
	return writeTerm(parser.query, token.text)
}

// Whether the next token starts another clause of an AND chain.
func (parser *filterParser) hasClause() bool {
	if parser.position >= len(parser.tokens) {
		return false
	}

	token := parser.tokens[parser.position]
	return token.kind != filterRightParen && !(token.kind == filterWord && token.text == "OR")
}

func (parser *filterParser) acceptOperator(operator string) bool {
	if parser.position >= len(parser.tokens) {
		return false
	}

	token := parser.tokens[parser.position]
	if token.kind != filterWord || token.text != operator {
		return false
	}

	parser.position++
	return true
}

func isFilterOperator(word string) bool {
	return word == "AND" || word == "OR" || word == "NOT"
}

const unsupportedValueChars = `*?~^[]{}\"`

func writeTerm(query *QueryBuilder, term string) error {
	field, value, ok := strings.Cut(term, ":")
	if !ok || field == "" {
		return fmt.Errorf("free-text term '%s' is not supported, use field:value", term)
	}
	if err := ValidateIdentifier(field); err != nil {
		return wrap.Errorf(err, "invalid field in '%s'", term)
	}
	if value == "" {
		return fmt.Errorf("missing value for field '%s'", field)
	}

	switch {
	case value == "*":
		query.WriteString("isNotNull(")
		query.WriteIdentifier(field)
		query.WriteString(")")
	case value[0] == '"':
		unquoted, err := strconv.Unquote(value)
		if err != nil {
			return fmt.Errorf("invalid quoted value in '%s'", term)
		}
		writeEquals(query, field, unquoted)
	case strings.HasSuffix(value, "*") &&
		!strings.ContainsAny(value[:len(value)-1], unsupportedValueChars):
		query.WriteString("startsWith(toString(")
		query.WriteIdentifier(field)
		query.WriteString("), ")
		query.WriteArg(value[:len(value)-1])
		query.WriteString(")")
	case strings.ContainsAny(value, unsupportedValueChars):
		return fmt.Errorf("unsupported syntax in '%s'", term)
	default:
		writeEquals(query, field, value)
	}

	return nil
}

func writeEquals(query *QueryBuilder, field string, value string) {
	query.WriteString("toString(")
	query.WriteIdentifier(field)
	query.WriteString(") = ")
	query.WriteArg(value)
}
