package stats

import (
	"bytes"
	"cmp"
	"encoding/json"
	"slices"
	"strconv"
)

// One row of the pivoted result table.
type Row struct {
	GroupValue string
	// Column names of the table, shared between all rows of one query. Fields[0] is the group
	// field.
	Fields []string
	// Values[i] is the value of Fields[i+1].
	Values []float64
}

func newRow(groupValue string, fields []string) Row {
	return Row{
		GroupValue: groupValue,
		Fields:     fields,
		Values:     make([]float64, len(fields)-1),
	}
}

// Returns the value of the given column, as a string for the group column and a float64 for
// aggregate columns.
func (row Row) Value(column string) (value any, ok bool) {
	index := slices.Index(row.Fields, column)
	switch {
	case index == -1:
		return nil, false
	case index == 0:
		return row.GroupValue, true
	default:
		return row.Values[index-1], true
	}
}

// Writes the row as a JSON object with keys in column order.
func (row Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, field := range row.Fields {
		if i != 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(field)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var value []byte
		if i == 0 {
			value, err = json.Marshal(row.GroupValue)
		} else {
			value, err = json.Marshal(row.Values[i-1])
		}
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Stable sort of rows by the given column. Ties keep their existing relative order in both
// directions. An empty column or one not in the table leaves rows as they are.
func SortRows(rows []Row, column string, sortOrder SortOrder) {
	if column == "" || len(rows) == 0 {
		return
	}

	index := slices.Index(rows[0].Fields, column)
	if index == -1 {
		return
	}

	slices.SortStableFunc(rows, func(row1 Row, row2 Row) int {
		var result int
		if index == 0 {
			result = compareTerms(row1.GroupValue, row2.GroupValue)
		} else {
			result = cmp.Compare(row1.Values[index-1], row2.Values[index-1])
		}

		if sortOrder == SortOrderDescending {
			return -result
		}
		return result
	})
}

// Terms from numeric fields arrive as strings, so terms that parse as numbers are compared as
// numbers. Numeric terms sort before all other terms, which compare as strings.
func compareTerms(term1 string, term2 string) int {
	number1, err1 := strconv.ParseFloat(term1, 64)
	number2, err2 := strconv.ParseFloat(term2, 64)
	switch {
	case err1 == nil && err2 == nil:
		return cmp.Compare(number1, number2)
	case err1 == nil:
		return -1
	case err2 == nil:
		return 1
	default:
		return cmp.Compare(term1, term2)
	}
}
