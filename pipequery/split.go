package pipequery

import (
	"strings"
)

// Base query used when the query before the first pipe is empty.
const MatchAll = "*"

const (
	pipe      = '|'
	escape    = '\\'
	quoteMark = '"'
)

// A query split on its pipes: a filter query for the backend, followed by script invocations such
// as "stats(field=host, aggregate(count))".
type Query struct {
	Raw     string
	Base    string
	Scripts []string

	// Offset of each script in Raw, for error positions.
	scriptOffsets []int
}

// Splits the given query on pipes that are neither escaped with a backslash nor inside double
// quotes. Escaped pipes are kept as they are, since the backend query syntax understands them.
func Split(raw string) (Query, error) {
	query := Query{Raw: raw}

	segmentStart := 0
	quoteStart := -1
	escaped := false
	baseDone := false

	addSegment := func(end int) error {
		text := raw[segmentStart:end]
		trimmed := strings.TrimSpace(text)
		offset := segmentStart + len(text) - len(strings.TrimLeft(text, " \t\r\n"))

		if !baseDone {
			query.Base = trimmed
			baseDone = true
		} else {
			if trimmed == "" {
				return newParseError(raw, end, "empty script after pipe")
			}
			query.Scripts = append(query.Scripts, trimmed)
			query.scriptOffsets = append(query.scriptOffsets, offset)
		}

		segmentStart = end + 1
		return nil
	}

	// Delimiters are all ASCII, so walking bytes never splits a multi-byte sequence.
	for i := 0; i < len(raw); i++ {
		char := raw[i]
		switch {
		case escaped:
			escaped = false
		case char == escape:
			escaped = true
		case quoteStart != -1:
			if char == quoteMark {
				quoteStart = -1
			}
		case char == quoteMark:
			quoteStart = i
		case char == pipe:
			if err := addSegment(i); err != nil {
				return Query{}, err
			}
		}
	}

	if quoteStart != -1 {
		return Query{}, newParseError(raw, quoteStart, "unterminated quote")
	}
	if err := addSegment(len(raw)); err != nil {
		return Query{}, err
	}

	if query.Base == "" {
		query.Base = MatchAll
	}

	return query, nil
}
