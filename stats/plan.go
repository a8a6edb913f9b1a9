package stats

import (
	"errors"
	"fmt"
	"strconv"

	"hermannm.dev/statstable/db"
	"hermannm.dev/wrap"
)

// One requested aggregate from a stats query, e.g. aggregate(avg, latency, "Avg latency").
type Aggregate struct {
	Type AggregateType `json:"type"`
	// Numeric field to aggregate. Empty for count aggregates.
	Column string `json:"column,omitempty"`
	// Additional filter. Only allowed for count aggregates.
	SubQuery string `json:"subQuery,omitempty"`
	Alias    string `json:"alias,omitempty"`
}

func (aggregate Aggregate) Validate() error {
	if !aggregate.Type.IsValid() {
		return fmt.Errorf("invalid aggregate type %v", aggregate.Type)
	}

	if aggregate.Type.IsCount() {
		if aggregate.Column != "" {
			return errors.New("count aggregate does not take a value column")
		}
	} else {
		if aggregate.Column == "" {
			return fmt.Errorf("%v aggregate requires a value column", aggregate.Type)
		}
		if aggregate.SubQuery != "" {
			return fmt.Errorf("%v aggregate does not take a sub-query", aggregate.Type)
		}
	}

	return nil
}

func (aggregate Aggregate) defaultDisplayName() string {
	if aggregate.Alias != "" {
		return aggregate.Alias
	}
	if aggregate.SubQuery != "" {
		return aggregate.SubQuery
	}
	return aggregate.Type.String()
}

// The facet and result column that an aggregate was planned onto. Columns in a plan line up with
// the aggregates it was created from.
type Column struct {
	FacetID string `json:"facetId"`
	Name    string `json:"name"`
}

type Plan struct {
	GroupField string     `json:"groupField"`
	Facets     []db.Facet `json:"facets"`
	Columns    []Column   `json:"columns"`
}

const (
	countFacetPrefix     = "count_"
	termStatsFacetPrefix = "term_stats_"
)

type facetKey struct {
	keyField   string
	valueField string
	query      string
}

// Plans the minimum set of facets that answers the given aggregates. Count aggregates with the
// same composed filter share a facet, and min/max/avg/sum aggregates over the same column share a
// single stats facet.
//
// The time range and bucket size cap are the same for every facet in a request, so they are not
// part of the plan.
func NewPlan(groupField string, baseQuery string, aggregates []Aggregate) (Plan, error) {
	if groupField == "" {
		return Plan{}, errors.New("missing group field")
	}
	if len(aggregates) == 0 {
		return Plan{}, errors.New("no aggregates to plan")
	}
	if baseQuery == "" {
		baseQuery = "*"
	}

	plan := Plan{
		GroupField: groupField,
		Columns:    make([]Column, len(aggregates)),
	}
	facetIDs := make(map[facetKey]string, len(aggregates))
	countFacets := 0
	termStatsFacets := 0

	for i, aggregate := range aggregates {
		if err := aggregate.Validate(); err != nil {
			return Plan{}, wrap.Errorf(err, "invalid aggregate no. %d", i+1)
		}

		key := facetKey{keyField: groupField, query: composeQuery(baseQuery, aggregate)}
		if !aggregate.Type.IsCount() {
			key.valueField = aggregate.Column
		}

		facetID, exists := facetIDs[key]
		if !exists {
			if aggregate.Type.IsCount() {
				facetID = countFacetPrefix + strconv.Itoa(countFacets)
				countFacets++
			} else {
				facetID = termStatsFacetPrefix + strconv.Itoa(termStatsFacets)
				termStatsFacets++
			}

			facetIDs[key] = facetID
			plan.Facets = append(plan.Facets, db.Facet{
				ID:         facetID,
				KeyField:   key.keyField,
				ValueField: key.valueField,
				Query:      key.query,
			})
		}

		plan.Columns[i].FacetID = facetID
	}

	plan.assignColumnNames(aggregates)
	return plan, nil
}

func composeQuery(baseQuery string, aggregate Aggregate) string {
	if !aggregate.Type.IsCount() || aggregate.SubQuery == "" {
		return baseQuery
	}
	return "(" + baseQuery + ") AND (" + aggregate.SubQuery + ")"
}

// Display names must be unique, since rows are keyed by column name. Later duplicates get a
// numbered suffix.
func (plan *Plan) assignColumnNames(aggregates []Aggregate) {
	taken := map[string]bool{plan.GroupField: true}

	for i, aggregate := range aggregates {
		baseName := aggregate.defaultDisplayName()
		name := baseName
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("%s (%d)", baseName, n)
		}

		taken[name] = true
		plan.Columns[i].Name = name
	}
}

// Column names of the result table: the group field, then one column per aggregate in declaration
// order.
func (plan Plan) Fields() []string {
	fields := make([]string, 0, len(plan.Columns)+1)
	fields = append(fields, plan.GroupField)
	for _, column := range plan.Columns {
		fields = append(fields, column.Name)
	}
	return fields
}

func (plan Plan) Request(index string, timeRange db.TimeRange, size int) db.AggregationRequest {
	return db.AggregationRequest{
		Index:     index,
		TimeRange: timeRange,
		Facets:    plan.Facets,
		Size:      size,
	}
}
