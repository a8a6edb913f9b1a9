package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"hermannm.dev/statstable/panel"
)

// Expects:
//   - body: JSON string, or JSON array of strings of which only the first is used
//
// Returns:
//   - JSON-encoded panel.View
func (api StatsTableAPI) SetQuery(res http.ResponseWriter, req *http.Request) {
	var body json.RawMessage
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		sendClientError(res, err, "failed to parse query from request body")
		return
	}

	var queries []string
	if strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		if err := json.Unmarshal(body, &queries); err != nil {
			sendClientError(res, err, "query array must only contain strings")
			return
		}
	} else {
		var query string
		if err := json.Unmarshal(body, &query); err != nil {
			sendClientError(res, err, "query must be a string or an array of strings")
			return
		}
		queries = []string{query}
	}

	api.panel.OnQuery(queries...)
	sendJSON(res, api.panel.View())
}

// Expects:
//   - body: JSON-encoded panel.TimeWindow
//
// Returns:
//   - JSON-encoded panel.View
func (api StatsTableAPI) SetTime(res http.ResponseWriter, req *http.Request) {
	var window panel.TimeWindow
	if err := json.NewDecoder(req.Body).Decode(&window); err != nil {
		sendClientError(res, err, "failed to parse time window from request body")
		return
	}

	if window.Field == "" {
		sendClientError(res, nil, "missing 'field' in time window")
		return
	}
	if window.To.Before(window.From) {
		sendClientError(res, nil, "time window ends before it starts")
		return
	}

	api.panel.OnTime(window)
	sendJSON(res, api.panel.View())
}

// Expects:
//   - query parameter 'column': name of column to sort by
func (api StatsTableAPI) SetSort(res http.ResponseWriter, req *http.Request) {
	column := req.URL.Query().Get("column")
	if column == "" {
		sendClientError(res, nil, "missing 'column' query parameter in request")
		return
	}

	if err := api.panel.SetSort(column); err != nil {
		sendClientError(res, err, "")
		return
	}

	sendJSON(res, api.panel.View())
}

// Expects:
//   - query parameter 'page': 0-indexed page number
func (api StatsTableAPI) SetPage(res http.ResponseWriter, req *http.Request) {
	page, err := strconv.Atoi(req.URL.Query().Get("page"))
	if err != nil {
		sendClientError(res, errors.New("must be an integer"), "invalid 'page' query parameter")
		return
	}

	if err := api.panel.SetPage(page); err != nil {
		sendClientError(res, err, "")
		return
	}

	sendJSON(res, api.panel.View())
}

func (api StatsTableAPI) Refresh(res http.ResponseWriter, req *http.Request) {
	api.panel.Refresh()
	sendJSON(res, api.panel.View())
}

func (api StatsTableAPI) GetTable(res http.ResponseWriter, req *http.Request) {
	sendJSON(res, api.panel.View())
}

// Returns the last request sent to the database as plain text.
func (api StatsTableAPI) Inspect(res http.ResponseWriter, req *http.Request) {
	res.Header().Set("Content-Type", "text/plain; charset=utf-8")
	res.WriteHeader(http.StatusOK)
	_, _ = res.Write([]byte(api.panel.Inspect()))
}
