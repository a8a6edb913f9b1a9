package pipequery

import (
	"errors"
	"fmt"
	"slices"

	"hermannm.dev/statstable/stats"
)

const (
	StatsScript    = "stats"
	aggregateGroup = "aggregate"
)

type StatsRequest struct {
	BaseQuery  string
	GroupField string
	Aggregates []stats.Aggregate
}

// Splits the given query and parses its stats invocation. Only the first stats invocation is
// used; pipe segments after it are not parsed. If the query has no stats invocation, found is
// false and err is nil.
func ParseStats(raw string) (request StatsRequest, found bool, err error) {
	query, err := Split(raw)
	if err != nil {
		return StatsRequest{}, false, err
	}

	for i, script := range query.Scripts {
		arguments, err := parseArgumentsAt(raw, script, query.scriptOffsets[i])
		if err != nil {
			return StatsRequest{}, false, err
		}

		if arguments.Script != StatsScript {
			continue
		}

		request, err := parseStatsArguments(raw, arguments, query.scriptOffsets[i])
		if err != nil {
			return StatsRequest{}, false, err
		}
		request.BaseQuery = query.Base
		return request, true, nil
	}

	return StatsRequest{}, false, nil
}

func parseStatsArguments(raw string, arguments Arguments, position int) (StatsRequest, error) {
	var request StatsRequest

	for _, key := range sortedKeys(arguments.Named) {
		switch key {
		case "field":
			request.GroupField = arguments.Named[key]
		default:
			return StatsRequest{}, newParseError(raw, position, "unknown stats argument '%s'", key)
		}
	}
	if request.GroupField == "" {
		return StatsRequest{}, newParseError(raw, position, "stats requires a field argument")
	}

	if len(arguments.Positional) != 0 {
		return StatsRequest{}, newParseError(
			raw, position, "unexpected stats argument '%s'", arguments.Positional[0],
		)
	}

	for _, group := range arguments.Groups {
		if group.Name != aggregateGroup {
			return StatsRequest{}, newParseError(
				raw, group.position, "unknown stats argument group '%s'", group.Name,
			)
		}

		aggregate, err := parseAggregate(group)
		if err != nil {
			return StatsRequest{}, newParseError(raw, group.position, "%v", err)
		}
		request.Aggregates = append(request.Aggregates, aggregate)
	}

	if len(request.Aggregates) == 0 {
		return StatsRequest{}, newParseError(raw, position, "stats requires at least one aggregate")
	}

	return request, nil
}

// Parses aggregate(type, column_or_query, alias), where arguments may also be given by name:
// aggregate(type=avg, column=latency, alias="Avg latency").
func parseAggregate(group Group) (stats.Aggregate, error) {
	const maxPositional = 3
	if len(group.Positional) > maxPositional {
		return stats.Aggregate{}, errors.New("aggregate takes at most 3 arguments")
	}

	args := make(map[string]string, maxPositional)
	for _, key := range sortedKeys(group.Named) {
		switch key {
		case "type", "column", "query", "alias":
			args[key] = group.Named[key]
		default:
			return stats.Aggregate{}, fmt.Errorf("unknown aggregate argument '%s'", key)
		}
	}

	positionalKeys := []string{"type", "", "alias"}
	for i, value := range group.Positional {
		key := positionalKeys[i]
		if i == 1 {
			// The second argument is a sub-query for count, and a value column for the rest.
			if args["type"] == stats.AggregateCount.String() {
				key = "query"
			} else {
				key = "column"
			}
		}

		if _, exists := args[key]; exists {
			return stats.Aggregate{}, fmt.Errorf("aggregate argument '%s' given twice", key)
		}
		args[key] = value
	}

	if args["type"] == "" {
		return stats.Aggregate{}, errors.New("aggregate is missing a type")
	}
	aggregateType, err := stats.ParseAggregateType(args["type"])
	if err != nil {
		return stats.Aggregate{}, err
	}

	aggregate := stats.Aggregate{
		Type:     aggregateType,
		Column:   args["column"],
		SubQuery: args["query"],
		Alias:    args["alias"],
	}
	if err := aggregate.Validate(); err != nil {
		return stats.Aggregate{}, err
	}

	return aggregate, nil
}

// Named arguments are checked in key order, so the same query always reports the same error.
func sortedKeys(named map[string]string) []string {
	keys := make([]string, 0, len(named))
	for key := range named {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
