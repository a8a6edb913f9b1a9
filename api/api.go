package api

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"hermannm.dev/statstable/config"
	"hermannm.dev/statstable/panel"
)

// Serves a stats table to the UI, and receives time window and query changes from the
// dashboard.
type StatsTableAPI struct {
	panel  *panel.Panel
	router *http.ServeMux
	config config.API
}

func NewStatsTableAPI(
	panel *panel.Panel,
	router *http.ServeMux,
	config config.API,
	metrics prometheus.Gatherer,
) StatsTableAPI {
	api := StatsTableAPI{panel: panel, router: router, config: config}

	api.router.HandleFunc("/query", allowMethod(http.MethodPost, api.SetQuery))
	api.router.HandleFunc("/time", allowMethod(http.MethodPost, api.SetTime))
	api.router.HandleFunc("/sort", allowMethod(http.MethodPost, api.SetSort))
	api.router.HandleFunc("/page", allowMethod(http.MethodPost, api.SetPage))
	api.router.HandleFunc("/refresh", allowMethod(http.MethodPost, api.Refresh))
	api.router.HandleFunc("/table", allowMethod(http.MethodGet, api.GetTable))
	api.router.HandleFunc("/inspect", allowMethod(http.MethodGet, api.Inspect))
	api.router.Handle("/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}))

	return api
}

func (api StatsTableAPI) ListenAndServe() error {
	return http.ListenAndServe(fmt.Sprintf(":%s", api.config.Port), api.router)
}
