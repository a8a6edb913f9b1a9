package db

import (
	"context"
	"time"
)

// Implemented by each supported search backend (see db/elasticsearch and db/clickhouse).
type AggregationDB interface {
	RunAggregation(ctx context.Context, request AggregationRequest) (AggregationResult, error)

	// Renders the backend request in a form a human can paste into a terminal, for the query
	// inspector.
	DescribeRequest(request AggregationRequest) (string, error)
}

type TimeRange struct {
	Field string    `json:"field"`
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
}

// One bucketed aggregation in a request. Documents matching Query are bucketed by KeyField. If
// ValueField is empty, only document counts are computed per bucket, otherwise min/max/avg/sum of
// ValueField are computed as well.
type Facet struct {
	ID         string `json:"id"`
	KeyField   string `json:"keyField"`
	ValueField string `json:"valueField,omitempty"`
	Query      string `json:"query"`
}

func (facet Facet) IsCount() bool {
	return facet.ValueField == ""
}

type AggregationRequest struct {
	Index     string    `json:"index"`
	TimeRange TimeRange `json:"timeRange"`
	Facets    []Facet   `json:"facets"`
	// Maximum number of buckets returned per facet.
	Size int `json:"size"`
}

type AggregationResult struct {
	// Set if the backend accepted the request but reported a failure for it.
	Error  string                 `json:"error,omitempty"`
	Facets map[string]FacetResult `json:"facets"`
}

type FacetResult struct {
	Terms []TermStats `json:"terms"`
}

type TermStats struct {
	Term  string  `json:"term"`
	Count int64   `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	Total float64 `json:"total"`
}
