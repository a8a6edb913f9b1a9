package pipequery

import "fmt"

// Returned for malformed pipe syntax, malformed script arguments or invalid stats arguments.
type ParseError struct {
	Query string
	// Byte offset in Query where the error was found.
	Position int
	Message  string
}

func (err *ParseError) Error() string {
	return fmt.Sprintf("invalid query at position %d: %s", err.Position, err.Message)
}

func newParseError(query string, position int, format string, args ...any) *ParseError {
	return &ParseError{Query: query, Position: position, Message: fmt.Sprintf(format, args...)}
}
