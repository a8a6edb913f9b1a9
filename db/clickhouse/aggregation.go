package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	clickhousego "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	clickhouseproto "github.com/ClickHouse/clickhouse-go/v2/lib/proto"
	"github.com/google/uuid"
	"hermannm.dev/devlog/log"
	"hermannm.dev/statstable/db"
	"hermannm.dev/wrap"
)

// See https://github.com/ClickHouse/ClickHouse/blob/bd387f6d2c30f67f2822244c0648f2169adab4d3/src/Common/ErrorCodes.cpp#L66
const clickhouseUnknownTableErrorCode = 60

// Runs one query per facet against the table named by request.Index. Unsupported filter queries
// and errors raised by ClickHouse itself are reported in the result's Error field.
func (clickhouse ClickHouseDB) RunAggregation(
	ctx context.Context,
	request db.AggregationRequest,
) (db.AggregationResult, error) {
	result := db.AggregationResult{Facets: make(map[string]db.FacetResult, len(request.Facets))}

	for _, facet := range request.Facets {
		var query QueryBuilder
		if err := buildFacetQuery(&query, facet, request); err != nil {
			err = wrap.Errorf(err, "invalid query for facet '%s'", facet.ID)
			return db.AggregationResult{Error: err.Error()}, nil
		}

		queryID := uuid.NewString()
		log.Debug(
			"running ClickHouse facet query",
			slog.String("queryId", queryID),
			slog.String("query", query.String()),
		)

		rows, err := clickhouse.conn.Query(
			clickhousego.Context(ctx, clickhousego.WithQueryID(queryID)),
			query.String(),
			query.Args()...,
		)
		if err != nil {
			var exception *clickhouseproto.Exception
			if errors.As(err, &exception) {
				return db.AggregationResult{Error: describeException(exception, request.Index)}, nil
			}
			return db.AggregationResult{}, wrap.Errorf(
				err, "ClickHouse query failed for facet '%s'", facet.ID,
			)
		}

		terms, err := scanFacetRows(rows, facet)
		if err != nil {
			return db.AggregationResult{}, wrap.Errorf(
				err, "failed to read ClickHouse result for facet '%s'", facet.ID,
			)
		}

		result.Facets[facet.ID] = db.FacetResult{Terms: terms}
	}

	return result, nil
}

func (clickhouse ClickHouseDB) DescribeRequest(request db.AggregationRequest) (string, error) {
	var description strings.Builder

	for i, facet := range request.Facets {
		var query QueryBuilder
		if err := buildFacetQuery(&query, facet, request); err != nil {
			return "", wrap.Errorf(err, "invalid query for facet '%s'", facet.ID)
		}

		if i != 0 {
			description.WriteString("\n\n")
		}
		fmt.Fprintf(&description, "-- %s\n%s;\n-- args: %v", facet.ID, query.String(), query.Args())
	}

	return description.String(), nil
}

func buildFacetQuery(query *QueryBuilder, facet db.Facet, request db.AggregationRequest) error {
	if request.Size <= 0 {
		return errors.New("row limit must be positive")
	}

	if err := ValidateIdentifiers(
		request.Index,
		request.TimeRange.Field,
		facet.KeyField,
		facet.ValueField,
	); err != nil {
		return wrap.Error(err, "invalid table/field name in query")
	}

	query.WriteString("SELECT toString(")
	query.WriteIdentifier(facet.KeyField)
	query.WriteString(") AS term, count() AS doc_count")
	if !facet.IsCount() {
		for _, function := range []string{"min", "max", "avg", "sum"} {
			query.WriteString(", ")
			query.WriteString(function)
			query.WriteString("(toFloat64(")
			query.WriteIdentifier(facet.ValueField)
			query.WriteString("))")
		}
	}

	query.WriteString(" FROM ")
	query.WriteIdentifier(request.Index)

	query.WriteString(" WHERE ")
	query.WriteIdentifier(request.TimeRange.Field)
	query.WriteString(" >= ")
	query.WriteArg(request.TimeRange.From)
	query.WriteString(" AND ")
	query.WriteIdentifier(request.TimeRange.Field)
	query.WriteString(" <= ")
	query.WriteArg(request.TimeRange.To)
	query.WriteString(" AND (")
	if err := writeFilter(query, facet.Query); err != nil {
		return wrap.Errorf(err, "unsupported filter query '%s'", facet.Query)
	}
	query.WriteString(")")

	query.WriteString(" GROUP BY term ORDER BY doc_count DESC, term LIMIT ")
	query.WriteInt(request.Size)

	return nil
}

func scanFacetRows(rows driver.Rows, facet db.Facet) ([]db.TermStats, error) {
	defer rows.Close()

	var terms []db.TermStats
	for rows.Next() {
		var term string
		var count uint64
		var stats db.TermStats

		var err error
		if facet.IsCount() {
			err = rows.Scan(&term, &count)
		} else {
			err = rows.Scan(&term, &count, &stats.Min, &stats.Max, &stats.Mean, &stats.Total)
		}
		if err != nil {
			return nil, wrap.Error(err, "failed to scan result row")
		}

		stats.Term = term
		stats.Count = int64(count)
		terms = append(terms, stats)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return terms, nil
}

func describeException(exception *clickhouseproto.Exception, table string) string {
	if exception.Code == clickhouseUnknownTableErrorCode {
		return fmt.Sprintf("table '%s' does not exist", table)
	}
	return fmt.Sprintf("ClickHouse error %d: %s", exception.Code, exception.Message)
}
