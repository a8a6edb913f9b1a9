package stats

import (
	"fmt"

	"hermannm.dev/statstable/db"
	"hermannm.dev/wrap"
)

// Pivots the per-facet term buckets of a backend result into one row per distinct term, with a
// column per aggregate. Terms missing from a facet get 0 in that facet's columns.
//
// The order of the returned rows is unspecified. Merging the same result twice gives duplicate
// rows; callers must merge each response once.
func Merge(plan Plan, aggregates []Aggregate, result db.AggregationResult) ([]Row, error) {
	if len(aggregates) != len(plan.Columns) {
		return nil, fmt.Errorf(
			"plan has %d columns, but got %d aggregates", len(plan.Columns), len(aggregates),
		)
	}

	fields := plan.Fields()
	rowsByTerm := make(map[string]Row)

	for i, aggregate := range aggregates {
		column := plan.Columns[i]

		facet, ok := result.Facets[column.FacetID]
		if !ok {
			return nil, fmt.Errorf("response is missing facet '%s'", column.FacetID)
		}

		for _, term := range facet.Terms {
			value, err := aggregate.Type.Extract(term)
			if err != nil {
				return nil, wrap.Errorf(err, "failed to read value for column '%s'", column.Name)
			}

			row, exists := rowsByTerm[term.Term]
			if !exists {
				row = newRow(term.Term, fields)
				rowsByTerm[term.Term] = row
			}
			// Values is zero-initialized, so unset columns are already filled with 0.
			row.Values[i] = value
		}
	}

	rows := make([]Row, 0, len(rowsByTerm))
	for _, row := range rowsByTerm {
		rows = append(rows, row)
	}
	return rows, nil
}
