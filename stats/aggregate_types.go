package stats

import (
	"encoding/json"
	"fmt"

	"hermannm.dev/enumnames"
	"hermannm.dev/statstable/db"
)

type AggregateType int8

const (
	AggregateCount AggregateType = iota + 1
	AggregateMin
	AggregateMax
	AggregateAvg
	AggregateSum
)

var aggregateTypeMap = enumnames.NewMap(map[AggregateType]string{
	AggregateCount: "count",
	AggregateMin:   "min",
	AggregateMax:   "max",
	AggregateAvg:   "avg",
	AggregateSum:   "sum",
})

func ParseAggregateType(name string) (AggregateType, error) {
	nameJSON, err := json.Marshal(name)
	if err != nil {
		return 0, err
	}

	var aggregateType AggregateType
	if err := aggregateTypeMap.UnmarshalFromNameJSON(nameJSON, &aggregateType); err != nil {
		return 0, fmt.Errorf(
			"unknown aggregate type '%s' (must be one of: count, min, max, avg, sum)", name,
		)
	}
	return aggregateType, nil
}

func (aggregateType AggregateType) IsValid() bool {
	return aggregateTypeMap.ContainsEnumValue(aggregateType)
}

func (aggregateType AggregateType) String() string {
	return aggregateTypeMap.GetNameOrFallback(aggregateType, "INVALID_AGGREGATE_TYPE")
}

func (aggregateType AggregateType) MarshalJSON() ([]byte, error) {
	return aggregateTypeMap.MarshalToNameJSON(aggregateType)
}

func (aggregateType *AggregateType) UnmarshalJSON(bytes []byte) error {
	return aggregateTypeMap.UnmarshalFromNameJSON(bytes, aggregateType)
}

// Count aggregates read bucket document counts, and their buckets depend on their own filter.
// The other types read statistics over a value column, and share buckets with every aggregate
// over the same column.
func (aggregateType AggregateType) IsCount() bool {
	return aggregateType == AggregateCount
}

// Extracts the statistic for this aggregate type from a backend term bucket.
func (aggregateType AggregateType) Extract(term db.TermStats) (float64, error) {
	switch aggregateType {
	case AggregateCount:
		return float64(term.Count), nil
	case AggregateMin:
		return term.Min, nil
	case AggregateMax:
		return term.Max, nil
	case AggregateAvg:
		return term.Mean, nil
	case AggregateSum:
		return term.Total, nil
	default:
		return 0, fmt.Errorf("unrecognized aggregate type %v", aggregateType)
	}
}
