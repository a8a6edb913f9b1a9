package elasticsearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8/typedapi/core/search"
	"github.com/elastic/go-elasticsearch/v8/typedapi/types"
	"hermannm.dev/devlog/log"
	"hermannm.dev/statstable/db"
	"hermannm.dev/wrap"
)

// Names of the sub-aggregations under each facet's filter aggregation.
const (
	bucketsAggregation = "by_key"
	statsAggregation   = "value_stats"
)

func (elastic ElasticsearchDB) RunAggregation(
	ctx context.Context,
	request db.AggregationRequest,
) (db.AggregationResult, error) {
	searchRequest := buildSearchRequest(request)

	res, err := elastic.client.Search().Index(request.Index).Request(searchRequest).Perform(ctx)
	if err != nil {
		return db.AggregationResult{}, wrap.Errorf(
			err, "Elasticsearch search request failed for index '%s'", request.Index,
		)
	}
	defer res.Body.Close()

	log.Debug(
		"received Elasticsearch aggregation response",
		slog.String("index", request.Index),
		slog.Int("status", res.StatusCode),
	)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return db.AggregationResult{Error: readElasticError(res.Body, res.StatusCode).Error()}, nil
	}

	var response searchResponse
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return db.AggregationResult{}, wrap.Error(err, "failed to decode Elasticsearch response")
	}

	return response.toResult(request)
}

func (elastic ElasticsearchDB) DescribeRequest(request db.AggregationRequest) (string, error) {
	body, err := json.MarshalIndent(buildSearchRequest(request), "", "  ")
	if err != nil {
		return "", wrap.Error(err, "failed to encode search request")
	}

	var description strings.Builder
	description.WriteString("curl -XGET ")
	description.WriteString(strings.TrimSuffix(elastic.address, "/"))
	description.WriteString("/")
	description.WriteString(request.Index)
	description.WriteString("/_search?pretty -d'\n")
	description.Write(body)
	description.WriteString("'")
	return description.String(), nil
}

// Each facet becomes a filter aggregation on its query and the time range, with a terms
// aggregation on the key field below it. Value facets add a stats aggregation per bucket.
func buildSearchRequest(request db.AggregationRequest) *search.Request {
	size := 0
	aggregations := make(map[string]types.Aggregations, len(request.Facets))

	for _, facet := range request.Facets {
		keyField := facet.KeyField
		bucketSize := request.Size

		buckets := types.Aggregations{
			Terms: &types.TermsAggregation{Field: &keyField, Size: &bucketSize},
		}
		if !facet.IsCount() {
			valueField := facet.ValueField
			buckets.Aggregations = map[string]types.Aggregations{
				statsAggregation: {Stats: &types.StatsAggregation{Field: &valueField}},
			}
		}

		aggregations[facet.ID] = types.Aggregations{
			Filter:       facetFilter(facet.Query, request.TimeRange),
			Aggregations: map[string]types.Aggregations{bucketsAggregation: buckets},
		}
	}

	return &search.Request{
		Size:         &size,
		Aggregations: aggregations,
	}
}

func facetFilter(query string, timeRange db.TimeRange) *types.Query {
	from := timeRange.From.Format(time.RFC3339Nano)
	to := timeRange.To.Format(time.RFC3339Nano)
	format := "strict_date_optional_time"

	return &types.Query{
		Bool: &types.BoolQuery{
			Filter: []types.Query{
				{QueryString: &types.QueryStringQuery{Query: query}},
				{Range: map[string]types.RangeQuery{
					timeRange.Field: types.DateRangeQuery{Gte: &from, Lte: &to, Format: &format},
				}},
			},
		},
	}
}

// The parts of a search response that aggregation requests read. Decoded by hand rather than
// through the typed response, since aggregate types are only known from the request.
type searchResponse struct {
	Aggregations map[string]filterAggregate `json:"aggregations"`
}

type filterAggregate struct {
	DocCount int64 `json:"doc_count"`
	Buckets  struct {
		Buckets []termsBucket `json:"buckets"`
	} `json:"by_key"`
}

type termsBucket struct {
	Key         json.RawMessage `json:"key"`
	KeyAsString *string         `json:"key_as_string"`
	DocCount    int64           `json:"doc_count"`
	Stats       *statsAggregate `json:"value_stats"`
}

// Min, max and avg are null for buckets without values.
type statsAggregate struct {
	Count int64    `json:"count"`
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Avg   *float64 `json:"avg"`
	Sum   float64  `json:"sum"`
}

func (response searchResponse) toResult(
	request db.AggregationRequest,
) (db.AggregationResult, error) {
	result := db.AggregationResult{Facets: make(map[string]db.FacetResult, len(request.Facets))}

	for _, facet := range request.Facets {
		aggregate, ok := response.Aggregations[facet.ID]
		if !ok {
			return db.AggregationResult{}, fmt.Errorf(
				"Elasticsearch response is missing aggregation '%s'", facet.ID,
			)
		}

		terms := make([]db.TermStats, 0, len(aggregate.Buckets.Buckets))
		for _, bucket := range aggregate.Buckets.Buckets {
			term, err := bucket.term()
			if err != nil {
				return db.AggregationResult{}, wrap.Errorf(
					err, "invalid bucket key in aggregation '%s'", facet.ID,
				)
			}

			stats := db.TermStats{Term: term, Count: bucket.DocCount}
			if bucket.Stats != nil {
				stats.Min = valueOrZero(bucket.Stats.Min)
				stats.Max = valueOrZero(bucket.Stats.Max)
				stats.Mean = valueOrZero(bucket.Stats.Avg)
				stats.Total = bucket.Stats.Sum
			}
			terms = append(terms, stats)
		}

		result.Facets[facet.ID] = db.FacetResult{Terms: terms}
	}

	return result, nil
}

// Keys are strings for keyword fields and numbers for numeric fields. Date and boolean keys come
// with a formatted key_as_string, which is preferred.
func (bucket termsBucket) term() (string, error) {
	if bucket.KeyAsString != nil {
		return *bucket.KeyAsString, nil
	}

	if len(bucket.Key) == 0 {
		return "", errors.New("bucket has no key")
	}

	if bucket.Key[0] == '"' {
		var key string
		if err := json.Unmarshal(bucket.Key, &key); err != nil {
			return "", err
		}
		return key, nil
	}

	return string(bucket.Key), nil
}

func valueOrZero(value *float64) float64 {
	if value == nil {
		return 0
	}
	return *value
}
