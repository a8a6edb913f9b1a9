package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"hermannm.dev/devlog"
	"hermannm.dev/devlog/log"
	"hermannm.dev/statstable/api"
	"hermannm.dev/statstable/config"
	"hermannm.dev/statstable/db"
	"hermannm.dev/statstable/db/clickhouse"
	"hermannm.dev/statstable/db/elasticsearch"
	"hermannm.dev/statstable/panel"
)

func main() {
	logHandler := devlog.NewHandler(os.Stdout, &devlog.Options{Level: slog.LevelDebug})
	slog.SetDefault(slog.New(logHandler))

	log.Info("loading environment variables...")
	config, err := config.ReadFromEnv()
	if err != nil {
		log.ErrorCause(err, "failed to read config from env")
		os.Exit(1)
	}

	if config.IsProduction {
		logHandler = devlog.NewHandler(os.Stdout, &devlog.Options{Level: slog.LevelInfo})
		slog.SetDefault(slog.New(logHandler))
	}

	log.Info("connecting to database...", slog.String("database", string(config.DB)))
	client, err := connectDB(config)
	if err != nil {
		log.ErrorCause(err, "failed to initialize database")
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := panel.NewMetrics(registry)

	statsPanel, err := panel.New(context.Background(), client, config.Panel, metrics)
	if err != nil {
		log.ErrorCause(err, "failed to create stats table")
		os.Exit(1)
	}

	statsAPI := api.NewStatsTableAPI(statsPanel, http.NewServeMux(), config.API, registry)

	log.Info("listening...", slog.String("port", config.API.Port))
	if err := statsAPI.ListenAndServe(); err != nil {
		log.ErrorCause(err, "server stopped")
		os.Exit(1)
	}
}

func connectDB(conf config.Config) (db.AggregationDB, error) {
	switch conf.DB {
	case config.DBClickHouse:
		return clickhouse.NewClickHouseDB(conf.ClickHouse)
	default:
		return elasticsearch.NewElasticsearchDB(conf.Elasticsearch)
	}
}
