package panel

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"hermannm.dev/devlog"
	"hermannm.dev/statstable/db"
	"hermannm.dev/statstable/stats"
)

func TestMain(m *testing.M) {
	logHandler := devlog.NewHandler(os.Stdout, &devlog.Options{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(logHandler))

	os.Exit(m.Run())
}

// Answers requests immediately with the result for the requested index.
type fakeDB struct {
	lock     sync.Mutex
	results  map[string]db.AggregationResult
	errs     map[string]error
	requests []db.AggregationRequest
}

func (fake *fakeDB) RunAggregation(
	ctx context.Context,
	request db.AggregationRequest,
) (db.AggregationResult, error) {
	fake.lock.Lock()
	defer fake.lock.Unlock()

	fake.requests = append(fake.requests, request)
	if err := fake.errs[request.Index]; err != nil {
		return db.AggregationResult{}, err
	}
	return fake.results[request.Index], nil
}

func (fake *fakeDB) DescribeRequest(request db.AggregationRequest) (string, error) {
	return "request to " + request.Index, nil
}

func (fake *fakeDB) requestCount() int {
	fake.lock.Lock()
	defer fake.lock.Unlock()
	return len(fake.requests)
}

const countQuery = "host:web* | stats(field=host, aggregate(count))"

func countResult(counts map[string]int64) db.AggregationResult {
	terms := make([]db.TermStats, 0, len(counts))
	for term, count := range counts {
		terms = append(terms, db.TermStats{Term: term, Count: count})
	}
	return db.AggregationResult{Facets: map[string]db.FacetResult{"count_0": {Terms: terms}}}
}

func newTestPanel(t *testing.T, client db.AggregationDB, options Options) (*Panel, *Metrics) {
	t.Helper()

	metrics := NewMetrics(prometheus.NewRegistry())
	panel, err := New(context.Background(), client, options, metrics)
	if err != nil {
		t.Fatal(err)
	}
	return panel, metrics
}

func testWindow(indices ...string) TimeWindow {
	to := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	return TimeWindow{
		Field:   "@timestamp",
		From:    to.Add(-24 * time.Hour),
		To:      to,
		Indices: indices,
	}
}

func rowTerms(rows []stats.Row) []string {
	terms := make([]string, len(rows))
	for i, row := range rows {
		terms[i] = row.GroupValue
	}
	return terms
}

func TestQueryWithoutTimeWindowIsSuppressed(t *testing.T) {
	fake := &fakeDB{}
	panel, _ := newTestPanel(t, fake, DefaultOptions())

	panel.OnQuery(countQuery)
	panel.Wait()

	if count := fake.requestCount(); count != 0 {
		t.Errorf("expected no requests before time window is set, got %d", count)
	}
	view := panel.View()
	if view.Loading || view.Error != "" {
		t.Errorf("expected idle panel without error, got %+v", view)
	}
}

func TestQueryWithoutStatsClearsTable(t *testing.T) {
	fake := &fakeDB{results: map[string]db.AggregationResult{
		"logs-1": countResult(map[string]int64{"a": 1}),
	}}
	options := DefaultOptions()
	options.Query = countQuery
	panel, metrics := newTestPanel(t, fake, options)

	panel.OnTime(testWindow("logs-1"))
	panel.Wait()
	if view := panel.View(); len(view.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(view.Rows))
	}
	if got := testutil.ToFloat64(metrics.Rows); got != 1 {
		t.Fatalf("expected rows gauge 1, got %v", got)
	}

	panel.OnQuery("host:web*")
	panel.Wait()

	view := panel.View()
	if len(view.Rows) != 0 || len(view.Fields) != 0 || view.Error != "" || view.Loading {
		t.Errorf("expected empty idle table, got %+v", view)
	}
	if count := fake.requestCount(); count != 1 {
		t.Errorf("expected no request for query without stats, got %d total", count)
	}
	if got := testutil.ToFloat64(metrics.Rows); got != 0 {
		t.Errorf("expected rows gauge to be reset, got %v", got)
	}
}

func TestParseErrorResetsRowGauge(t *testing.T) {
	fake := &fakeDB{results: map[string]db.AggregationResult{
		"logs-1": countResult(map[string]int64{"a": 1, "b": 2}),
	}}
	options := DefaultOptions()
	options.Query = countQuery
	panel, metrics := newTestPanel(t, fake, options)

	panel.OnTime(testWindow("logs-1"))
	panel.Wait()
	if got := testutil.ToFloat64(metrics.Rows); got != 2 {
		t.Fatalf("expected rows gauge 2, got %v", got)
	}

	panel.OnQuery("* | stats(field=host")
	panel.Wait()

	if view := panel.View(); view.Error == "" || len(view.Rows) != 0 {
		t.Errorf("expected parse error with no rows, got %+v", view)
	}
	if got := testutil.ToFloat64(metrics.Rows); got != 0 {
		t.Errorf("expected rows gauge to be reset, got %v", got)
	}
}

func TestParseErrorIsShownInline(t *testing.T) {
	fake := &fakeDB{}
	options := DefaultOptions()
	options.Query = "* | stats(field=host, aggregate(median, x))"
	panel, _ := newTestPanel(t, fake, options)

	panel.OnTime(testWindow("logs-1"))
	panel.Wait()

	view := panel.View()
	if view.Error == "" {
		t.Error("expected parse error in view")
	}
	if len(view.Fields) != 0 || len(view.Rows) != 0 || view.Loading {
		t.Errorf("expected cleared table, got %+v", view)
	}
	if count := fake.requestCount(); count != 0 {
		t.Errorf("expected no requests on parse error, got %d", count)
	}
}

func TestSegmentsAreMergedInOrder(t *testing.T) {
	fake := &fakeDB{results: map[string]db.AggregationResult{
		"logs-1": countResult(map[string]int64{"a": 3, "b": 1}),
		"logs-2": countResult(map[string]int64{"c": 2}),
	}}
	options := DefaultOptions()
	options.Query = countQuery
	options.Sort = SortSpec{Column: "count", Order: stats.SortOrderDescending}
	panel, metrics := newTestPanel(t, fake, options)

	panel.OnTime(testWindow("logs-1", "logs-2"))
	panel.Wait()

	view := panel.View()
	if view.Loading {
		t.Error("expected loading to be done")
	}
	if expected := []string{"host", "count"}; !slices.Equal(view.Fields, expected) {
		t.Errorf("expected fields %v, got %v", expected, view.Fields)
	}
	if terms := rowTerms(view.Rows); !slices.Equal(terms, []string{"a", "c", "b"}) {
		t.Errorf("unexpected rows %v", terms)
	}

	if fake.requests[0].Index != "logs-1" || fake.requests[1].Index != "logs-2" {
		t.Errorf("expected segments to be requested in order, got %+v", fake.requests)
	}
	if size := fake.requests[0].Size; size != options.RowCap() {
		t.Errorf("expected facet size %d, got %d", options.RowCap(), size)
	}
	if got := testutil.ToFloat64(metrics.SegmentRequests.WithLabelValues(outcomeOK)); got != 2 {
		t.Errorf("expected 2 successful segment requests, got %v", got)
	}
	if inspected := panel.Inspect(); inspected != "request to logs-2" {
		t.Errorf("unexpected inspector output '%s'", inspected)
	}
}

func TestRowCapStopsSegmentFetching(t *testing.T) {
	fake := &fakeDB{results: map[string]db.AggregationResult{
		"logs-1": countResult(map[string]int64{"a": 1, "b": 2, "c": 3}),
		"logs-2": countResult(map[string]int64{"d": 4, "e": 5}),
		"logs-3": countResult(map[string]int64{"f": 6}),
	}}
	options := DefaultOptions()
	options.Query = countQuery
	options.Size = 2
	options.Pages = 2
	panel, _ := newTestPanel(t, fake, options)

	panel.OnTime(testWindow("logs-1", "logs-2", "logs-3"))
	panel.Wait()

	view := panel.View()
	if view.TotalRows != 4 {
		t.Errorf("expected rows to be capped at 4, got %d", view.TotalRows)
	}
	if len(view.Rows) != 2 {
		t.Errorf("expected 2 rows on the first page, got %d", len(view.Rows))
	}
	if count := fake.requestCount(); count != 2 {
		t.Errorf("expected fetching to stop after reaching cap, got %d requests", count)
	}
}

func TestBackendErrorKeepsPreviousSegments(t *testing.T) {
	fake := &fakeDB{
		results: map[string]db.AggregationResult{
			"logs-1": countResult(map[string]int64{"a": 1}),
			"logs-3": countResult(map[string]int64{"c": 1}),
		},
		errs: map[string]error{"logs-2": errors.New("connection refused")},
	}
	options := DefaultOptions()
	options.Query = countQuery
	panel, metrics := newTestPanel(t, fake, options)

	panel.OnTime(testWindow("logs-1", "logs-2", "logs-3"))
	panel.Wait()

	view := panel.View()
	if view.Error == "" || view.Loading {
		t.Errorf("expected error and no loading, got %+v", view)
	}
	if terms := rowTerms(view.Rows); !slices.Equal(terms, []string{"a"}) {
		t.Errorf("expected rows from first segment to be kept, got %v", terms)
	}
	if count := fake.requestCount(); count != 2 {
		t.Errorf("expected no requests after failed segment, got %d", count)
	}
	if got := testutil.ToFloat64(metrics.SegmentRequests.WithLabelValues(outcomeError)); got != 1 {
		t.Errorf("expected 1 failed segment request, got %v", got)
	}
}

func TestBackendReportedError(t *testing.T) {
	fake := &fakeDB{results: map[string]db.AggregationResult{
		"logs-1": {Error: "index_not_found_exception"},
	}}
	options := DefaultOptions()
	options.Query = countQuery
	panel, _ := newTestPanel(t, fake, options)

	panel.OnTime(testWindow("logs-1"))
	panel.Wait()

	if view := panel.View(); view.Error == "" {
		t.Error("expected backend error in view")
	}
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	fake := &fakeDB{results: map[string]db.AggregationResult{
		"logs-1": countResult(map[string]int64{"a": 1}),
	}}
	options := DefaultOptions()
	options.Query = countQuery
	panel, metrics := newTestPanel(t, fake, options)

	panel.OnTime(testWindow("logs-1"))
	panel.Wait()
	staleQueryID := panel.state.queryID

	panel.OnQuery(countQuery)
	panel.Wait()
	before := panel.View()

	panel.handleResponse(staleQueryID, 0, countResult(map[string]int64{"stale": 1}), nil)
	panel.handleResponse(staleQueryID, 0, db.AggregationResult{}, errors.New("late failure"))

	after := panel.View()
	if !slices.Equal(rowTerms(after.Rows), rowTerms(before.Rows)) ||
		after.Error != before.Error || after.Loading != before.Loading {
		t.Errorf("stale response changed panel state: %+v -> %+v", before, after)
	}
	if got := testutil.ToFloat64(metrics.SegmentRequests.WithLabelValues(outcomeStale)); got != 2 {
		t.Errorf("expected 2 stale responses, got %v", got)
	}
}

func TestDuplicateResponseIsDiscarded(t *testing.T) {
	fake := &fakeDB{results: map[string]db.AggregationResult{
		"logs-1": countResult(map[string]int64{"a": 1}),
	}}
	options := DefaultOptions()
	options.Query = countQuery
	panel, _ := newTestPanel(t, fake, options)

	panel.OnTime(testWindow("logs-1"))
	panel.Wait()

	panel.handleResponse(panel.state.queryID, 0, fake.results["logs-1"], nil)

	if view := panel.View(); view.TotalRows != 1 {
		t.Errorf("expected duplicate response to be ignored, got %d rows", view.TotalRows)
	}
}

func TestSetSortToggles(t *testing.T) {
	fake := &fakeDB{results: map[string]db.AggregationResult{
		"logs-1": countResult(map[string]int64{"a": 2, "b": 1, "c": 2, "d": 3}),
	}}
	options := DefaultOptions()
	options.Query = countQuery
	options.Sort = SortSpec{Column: "host", Order: stats.SortOrderAscending}
	panel, _ := newTestPanel(t, fake, options)

	panel.OnTime(testWindow("logs-1"))
	panel.Wait()

	if err := panel.SetSort("count"); err != nil {
		t.Fatal(err)
	}
	view := panel.View()
	if view.Sort.Column != "count" || view.Sort.Order != stats.SortOrderAscending {
		t.Errorf("expected ascending sort on new column, got %+v", view.Sort)
	}
	if terms := rowTerms(view.Rows); !slices.Equal(terms, []string{"b", "a", "c", "d"}) {
		t.Errorf("unexpected ascending order %v", terms)
	}

	if err := panel.SetSort("count"); err != nil {
		t.Fatal(err)
	}
	view = panel.View()
	if view.Sort.Order != stats.SortOrderDescending {
		t.Errorf("expected descending sort after toggle, got %+v", view.Sort)
	}
	if terms := rowTerms(view.Rows); !slices.Equal(terms, []string{"d", "a", "c", "b"}) {
		t.Errorf("unexpected descending order %v", terms)
	}

	if count := fake.requestCount(); count != 1 {
		t.Errorf("expected sorting not to make requests, got %d total", count)
	}
}

func TestSetSortErrors(t *testing.T) {
	options := DefaultOptions()
	options.Query = countQuery
	options.Sortable = false
	panel, _ := newTestPanel(t, &fakeDB{}, options)

	if err := panel.SetSort("host"); !errors.Is(err, ErrSortingDisabled) {
		t.Errorf("expected ErrSortingDisabled, got %v", err)
	}

	fake := &fakeDB{results: map[string]db.AggregationResult{
		"logs-1": countResult(map[string]int64{"a": 1}),
	}}
	options.Sortable = true
	panel, _ = newTestPanel(t, fake, options)
	panel.OnTime(testWindow("logs-1"))
	panel.Wait()

	if err := panel.SetSort("nonexistent"); err == nil {
		t.Error("expected error for unknown sort column")
	}
}

func TestSetPageRefetches(t *testing.T) {
	fake := &fakeDB{results: map[string]db.AggregationResult{
		"logs-1": countResult(map[string]int64{"a": 1, "b": 2, "c": 3}),
	}}
	options := DefaultOptions()
	options.Query = countQuery
	options.Size = 2
	options.Sort = SortSpec{Column: "count", Order: stats.SortOrderAscending}
	panel, _ := newTestPanel(t, fake, options)

	panel.OnTime(testWindow("logs-1"))
	panel.Wait()

	if err := panel.SetPage(1); err != nil {
		t.Fatal(err)
	}
	panel.Wait()

	view := panel.View()
	if view.Offset != 2 || view.Page != 1 {
		t.Errorf("expected offset 2 on page 1, got %d on page %d", view.Offset, view.Page)
	}
	if terms := rowTerms(view.Rows); !slices.Equal(terms, []string{"c"}) {
		t.Errorf("unexpected second page %v", terms)
	}
	if count := fake.requestCount(); count != 2 {
		t.Errorf("expected page change to re-fetch, got %d requests", count)
	}

	if err := panel.SetPage(options.Pages); err == nil {
		t.Error("expected error for page out of range")
	}

	panel.OnQuery(countQuery)
	panel.Wait()
	if view := panel.View(); view.Offset != 0 {
		t.Errorf("expected new query to reset offset, got %d", view.Offset)
	}
}

func TestOnTimeKeepsIndicesWhenNotGiven(t *testing.T) {
	fake := &fakeDB{results: map[string]db.AggregationResult{
		"logs-1": countResult(map[string]int64{"a": 1}),
	}}
	options := DefaultOptions()
	options.Query = countQuery
	panel, _ := newTestPanel(t, fake, options)

	panel.OnTime(testWindow("logs-1"))
	panel.Wait()
	panel.OnTime(testWindow())
	panel.Wait()

	if count := fake.requestCount(); count != 2 {
		t.Fatalf("expected 2 requests, got %d", count)
	}
	if index := fake.requests[1].Index; index != "logs-1" {
		t.Errorf("expected previous index to be reused, got '%s'", index)
	}
}

func TestInvalidOptions(t *testing.T) {
	options := DefaultOptions()
	options.Size = 0
	if _, err := New(context.Background(), &fakeDB{}, options, nil); err == nil {
		t.Error("expected error for zero page size")
	}
}

func TestNewRequiresMetrics(t *testing.T) {
	if _, err := New(context.Background(), &fakeDB{}, DefaultOptions(), nil); err == nil {
		t.Error("expected error for missing metrics")
	}
}
