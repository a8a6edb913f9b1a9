package panel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"hermannm.dev/devlog/log"
	"hermannm.dev/statstable/db"
	"hermannm.dev/statstable/pipequery"
	"hermannm.dev/statstable/stats"
	"hermannm.dev/wrap"
)

// A paginated, sortable table of the results of a stats query. The panel re-runs its query
// whenever the time window, query or page changes, fetching one segment (index) at a time until
// enough rows are collected.
//
// Responses are applied under the panel's lock, tagged with the ID of the query that issued
// them. Responses for a query that has since been replaced are discarded.
type Panel struct {
	client  db.AggregationDB
	metrics *Metrics
	ctx     context.Context

	lock        sync.Mutex
	options     Options
	timeWindow  *TimeWindow
	offset      int
	lastQueryID uint64
	state       queryState
	lastRequest string

	inFlight sync.WaitGroup
}

// Time range and indices to query, as broadcast by the dashboard. Indices are queried in order,
// one segment at a time.
type TimeWindow struct {
	Field   string    `json:"field"`
	From    time.Time `json:"from"`
	To      time.Time `json:"to"`
	Indices []string  `json:"index,omitempty"`
}

type queryState struct {
	queryID    uint64
	segment    int
	indices    []string
	timeRange  db.TimeRange
	plan       stats.Plan
	aggregates []stats.Aggregate
	rows       []stats.Row
	fields     []string
	loading    bool
	err        string
}

// What the table UI renders.
type View struct {
	Fields    []string    `json:"fields"`
	Rows      []stats.Row `json:"rows"`
	TotalRows int         `json:"totalRows"`
	Offset    int         `json:"offset"`
	Page      int         `json:"page"`
	PageCount int         `json:"pageCount"`
	Sort      SortSpec    `json:"sort"`
	Loading   bool        `json:"loading"`
	Error     string      `json:"error,omitempty"`
}

var (
	ErrSortingDisabled = errors.New("sorting is disabled for this table")
	ErrPagingDisabled  = errors.New("paging is disabled for this table")
)

// The given context bounds all backend requests made by the panel.
func New(
	ctx context.Context,
	client db.AggregationDB,
	options Options,
	metrics *Metrics,
) (*Panel, error) {
	if err := options.Validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		return nil, errors.New("panel metrics must not be nil")
	}

	return &Panel{
		client:  client,
		metrics: metrics,
		ctx:     ctx,
		options: options,
	}, nil
}

// Sets the time window and re-runs the query from the first page. If window.Indices is empty,
// the previously received indices are kept.
func (panel *Panel) OnTime(window TimeWindow) {
	panel.lock.Lock()
	defer panel.lock.Unlock()

	if len(window.Indices) == 0 && panel.timeWindow != nil {
		window.Indices = panel.timeWindow.Indices
	}
	panel.timeWindow = &window
	panel.offset = 0
	panel.startQuery()
}

// Replaces the query and re-runs it from the first page. Only the first of the given queries is
// used.
func (panel *Panel) OnQuery(queries ...string) {
	panel.lock.Lock()
	defer panel.lock.Unlock()

	if len(queries) == 0 {
		panel.options.Query = pipequery.MatchAll
	} else {
		panel.options.Query = queries[0]
	}
	panel.offset = 0
	panel.startQuery()
}

// Re-runs the current query.
func (panel *Panel) Refresh() {
	panel.lock.Lock()
	defer panel.lock.Unlock()

	panel.startQuery()
}

// Sorts the fetched rows by the given column. Sorting by the current sort column flips the
// order, while a new column sorts ascending. No new request is made.
func (panel *Panel) SetSort(column string) error {
	panel.lock.Lock()
	defer panel.lock.Unlock()

	if !panel.options.Sortable {
		return ErrSortingDisabled
	}
	if len(panel.state.fields) != 0 && !slices.Contains(panel.state.fields, column) {
		return fmt.Errorf("unknown sort column '%s'", column)
	}

	panel.state.err = ""

	if panel.options.Sort.Column == column {
		panel.options.Sort.Order = panel.options.Sort.Order.Toggle()
	} else {
		panel.options.Sort = SortSpec{Column: column, Order: stats.SortOrderAscending}
	}

	stats.SortRows(panel.state.rows, panel.options.Sort.Column, panel.options.Sort.Order)
	return nil
}

// Moves to the given page (0-indexed) and re-runs the query.
func (panel *Panel) SetPage(page int) error {
	panel.lock.Lock()
	defer panel.lock.Unlock()

	if !panel.options.Paging {
		return ErrPagingDisabled
	}
	if page < 0 || page >= panel.options.Pages {
		return fmt.Errorf("page %d out of range (table has %d pages)", page, panel.options.Pages)
	}

	panel.offset = page * panel.options.Size
	panel.startQuery()
	return nil
}

func (panel *Panel) View() View {
	panel.lock.Lock()
	defer panel.lock.Unlock()

	rows := panel.state.rows
	start := min(panel.offset, len(rows))
	end := min(panel.offset+panel.options.Size, len(rows))

	return View{
		Fields:    slices.Clone(panel.state.fields),
		Rows:      slices.Clone(rows[start:end]),
		TotalRows: len(rows),
		Offset:    panel.offset,
		Page:      panel.offset / panel.options.Size,
		PageCount: panel.options.Pages,
		Sort:      panel.options.Sort,
		Loading:   panel.state.loading,
		Error:     panel.state.err,
	}
}

func (panel *Panel) Options() Options {
	panel.lock.Lock()
	defer panel.lock.Unlock()

	return panel.options
}

// Returns the last request sent to the backend, in human-readable form.
func (panel *Panel) Inspect() string {
	panel.lock.Lock()
	defer panel.lock.Unlock()

	return panel.lastRequest
}

// Blocks until no segment request is in flight.
func (panel *Panel) Wait() {
	panel.inFlight.Wait()
}

// Must hold lock.
func (panel *Panel) startQuery() {
	panel.state.err = ""

	if panel.timeWindow == nil || len(panel.timeWindow.Indices) == 0 {
		log.Debug("time window or index not received yet, skipping stats query")
		return
	}

	// Any response still in flight belongs to the previous query from here on.
	panel.lastQueryID++
	queryID := panel.lastQueryID

	request, found, err := pipequery.ParseStats(panel.options.Query)
	if err != nil {
		panel.resetState(queryState{queryID: queryID, err: err.Error()})
		return
	}
	if !found {
		panel.resetState(queryState{queryID: queryID})
		return
	}

	plan, err := stats.NewPlan(request.GroupField, request.BaseQuery, request.Aggregates)
	if err != nil {
		panel.resetState(queryState{
			queryID: queryID,
			err:     wrap.Error(err, "failed to plan stats query").Error(),
		})
		return
	}

	panel.resetState(queryState{
		queryID: queryID,
		indices: slices.Clone(panel.timeWindow.Indices),
		timeRange: db.TimeRange{
			Field: panel.timeWindow.Field,
			From:  panel.timeWindow.From,
			To:    panel.timeWindow.To,
		},
		plan:       plan,
		aggregates: request.Aggregates,
		fields:     plan.Fields(),
		loading:    true,
	})

	panel.issueSegment(0)
}

// Must hold lock.
func (panel *Panel) issueSegment(segment int) {
	state := &panel.state
	state.segment = segment

	request := state.plan.Request(state.indices[segment], state.timeRange, panel.options.RowCap())

	if description, err := panel.client.DescribeRequest(request); err != nil {
		log.ErrorCause(err, "failed to describe stats request for inspector")
	} else {
		panel.lastRequest = description
	}

	log.Debug(
		"issuing stats segment request",
		slog.Uint64("queryId", state.queryID),
		slog.Int("segment", segment),
		slog.String("index", request.Index),
		slog.Int("facets", len(request.Facets)),
	)

	panel.inFlight.Add(1)
	go panel.fetchSegment(state.queryID, segment, request, panel.options.RequestTimeout)
}

func (panel *Panel) fetchSegment(
	queryID uint64,
	segment int,
	request db.AggregationRequest,
	timeout time.Duration,
) {
	defer panel.inFlight.Done()

	ctx, cancel := context.WithTimeout(panel.ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := panel.client.RunAggregation(ctx, request)
	panel.metrics.SegmentDuration.Observe(time.Since(start).Seconds())

	panel.handleResponse(queryID, segment, result, err)
}

func (panel *Panel) handleResponse(
	queryID uint64,
	segment int,
	result db.AggregationResult,
	err error,
) {
	panel.lock.Lock()
	defer panel.lock.Unlock()

	state := &panel.state

	if queryID != state.queryID || !state.loading || segment != state.segment {
		panel.metrics.SegmentRequests.WithLabelValues(outcomeStale).Inc()
		log.Debug(
			"discarding stale stats response",
			slog.Uint64("queryId", queryID),
			slog.Uint64("currentQueryId", state.queryID),
			slog.Int("segment", segment),
		)
		return
	}

	if err == nil && result.Error != "" {
		err = errors.New(result.Error)
	}
	if err != nil {
		panel.failSegment(
			wrap.Errorf(err, "stats request for index '%s' failed", state.indices[segment]),
		)
		return
	}

	rows, err := stats.Merge(state.plan, state.aggregates, result)
	if err != nil {
		panel.failSegment(wrap.Error(err, "failed to read stats response"))
		return
	}

	state.rows = append(state.rows, rows...)
	stats.SortRows(state.rows, panel.options.Sort.Column, panel.options.Sort.Order)

	rowCap := panel.options.RowCap()
	if len(state.rows) > rowCap {
		state.rows = state.rows[:rowCap]
	}

	panel.metrics.SegmentRequests.WithLabelValues(outcomeOK).Inc()
	panel.updateRowMetric()

	nextSegment := segment + 1
	if nextSegment < len(state.indices) && len(state.rows) < rowCap {
		panel.issueSegment(nextSegment)
	} else {
		state.loading = false
	}
}

// Keeps rows from previous segments. Failed segments are not retried.
//
// Must hold lock.
func (panel *Panel) failSegment(err error) {
	panel.metrics.SegmentRequests.WithLabelValues(outcomeError).Inc()
	log.ErrorCause(err, "stats segment failed")

	panel.state.loading = false
	panel.state.err = err.Error()
}

// Must hold lock.
func (panel *Panel) resetState(state queryState) {
	panel.state = state
	panel.updateRowMetric()
}

// Must hold lock.
func (panel *Panel) updateRowMetric() {
	panel.metrics.Rows.Set(float64(len(panel.state.rows)))
}
