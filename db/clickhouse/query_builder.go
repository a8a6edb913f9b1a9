package clickhouse

import (
	"fmt"
	"strconv"
	"strings"
)

// Builds a query string along with its positional arguments.
type QueryBuilder struct {
	strings.Builder
	args []any
}

func (builder *QueryBuilder) WriteInt(i int) {
	builder.WriteString(strconv.Itoa(i))
}

// Must only be called after calling ValidateIdentifier/ValidateIdentifiers on the given identifier.
func (builder *QueryBuilder) WriteIdentifier(identifier string) {
	builder.WriteRune('`')
	builder.WriteString(identifier)
	builder.WriteRune('`')
}

// Writes a placeholder, binding the given value to it.
func (builder *QueryBuilder) WriteArg(arg any) {
	builder.WriteRune('?')
	builder.args = append(builder.args, arg)
}

func (builder *QueryBuilder) Args() []any {
	return builder.args
}

func ValidateIdentifier(identifier string) error {
	if strings.ContainsRune(identifier, '`') {
		return fmt.Errorf("'%s' contains `, which is incompatible with database", identifier)
	}

	return nil
}

func ValidateIdentifiers(identifiers ...string) error {
	for _, identifier := range identifiers {
		if err := ValidateIdentifier(identifier); err != nil {
			return err
		}
	}

	return nil
}
