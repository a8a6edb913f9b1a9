package panel

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"hermannm.dev/statstable/stats"
	"hermannm.dev/wrap"
)

type Options struct {
	// Query with an optional stats invocation, e.g.
	// "host:web* | stats(field=status, aggregate(count))".
	Query string `env:"PANEL_QUERY" envDefault:"*" json:"query"`
	// Rows per page.
	Size int `env:"PANEL_SIZE" envDefault:"100" json:"size"`
	// Pages available. Size * Pages is the maximum number of rows kept.
	Pages    int      `env:"PANEL_PAGES"    envDefault:"5"    json:"pages"`
	Sort     SortSpec `env:"PANEL_SORT"     envDefault:""     json:"sort"`
	Sortable bool     `env:"PANEL_SORTABLE" envDefault:"true" json:"sortable"`
	Paging   bool     `env:"PANEL_PAGING"   envDefault:"true" json:"paging"`

	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s" json:"-"`
}

func DefaultOptions() Options {
	return Options{
		Query:          "*",
		Size:           100,
		Pages:          5,
		Sortable:       true,
		Paging:         true,
		RequestTimeout: 30 * time.Second,
	}
}

func (options Options) Validate() error {
	var errs []error
	if options.Size <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}
	if options.Pages <= 0 {
		errs = append(errs, errors.New("page count must be positive"))
	}
	if options.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}

	if len(errs) != 0 {
		return wrap.Errors("invalid stats table options", errs...)
	}
	return nil
}

// Maximum number of rows kept across segments.
func (options Options) RowCap() int {
	return options.Size * options.Pages
}

type SortSpec struct {
	Column string
	Order  stats.SortOrder
}

// Parses "column:asc" or "column:desc". A column without order sorts ascending.
func (sort *SortSpec) UnmarshalText(text []byte) error {
	column, order, hasOrder := strings.Cut(string(text), ":")
	sort.Column = column
	sort.Order = stats.SortOrderAscending

	if hasOrder {
		sortOrder, err := stats.ParseSortOrder(order)
		if err != nil {
			return wrap.Error(err, "invalid sort")
		}
		sort.Order = sortOrder
	}

	return nil
}

// Encoded as a [column, order] pair.
func (sort SortSpec) MarshalJSON() ([]byte, error) {
	if sort.Column == "" {
		return []byte("[]"), nil
	}
	return json.Marshal([]string{sort.Column, sort.Order.String()})
}

func (sort *SortSpec) UnmarshalJSON(bytes []byte) error {
	var pair []string
	if err := json.Unmarshal(bytes, &pair); err != nil {
		return err
	}

	switch len(pair) {
	case 0:
		*sort = SortSpec{}
		return nil
	case 1:
		return sort.UnmarshalText([]byte(pair[0]))
	case 2:
		return sort.UnmarshalText([]byte(pair[0] + ":" + pair[1]))
	default:
		return errors.New("sort must be a [column, order] pair")
	}
}
