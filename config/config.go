package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	"hermannm.dev/statstable/panel"
	"hermannm.dev/wrap"
)

type Config struct {
	BaseConfig
	Elasticsearch Elasticsearch
	ClickHouse    ClickHouse
	Panel         panel.Options
}

type BaseConfig struct {
	IsProduction bool        `env:"PRODUCTION"`
	DB           SupportedDB `env:"DATABASE"`
	API          API
}

type API struct {
	Port string `env:"API_PORT"`
}

type Elasticsearch struct {
	Address string `env:"ELASTICSEARCH_ADDRESS"`
	Debug   bool   `env:"ELASTICSEARCH_DEBUG_ENABLED" envDefault:"false"`
}

type ClickHouse struct {
	Address      string `env:"CLICKHOUSE_ADDRESS"`
	DatabaseName string `env:"CLICKHOUSE_DB_NAME"`
	Username     string `env:"CLICKHOUSE_USERNAME"`
	Password     string `env:"CLICKHOUSE_PASSWORD"`
	Debug        bool   `env:"CLICKHOUSE_DEBUG_ENABLED" envDefault:"false"`
}

type SupportedDB string

const (
	DBElasticsearch SupportedDB = "elasticsearch"
	DBClickHouse    SupportedDB = "clickhouse"
)

// Reads config from environment variables, loading them from a .env file first if one exists.
func ReadFromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, wrap.Error(err, "failed to load .env file")
	}

	parseOptions := env.Options{RequiredIfNoDef: true}

	var config Config

	if err := env.ParseWithOptions(&config.BaseConfig, parseOptions); err != nil {
		return Config{}, err
	}

	switch config.DB {
	case DBElasticsearch:
		if err := env.ParseWithOptions(&config.Elasticsearch, parseOptions); err != nil {
			return Config{}, err
		}
	case DBClickHouse:
		if err := env.ParseWithOptions(&config.ClickHouse, parseOptions); err != nil {
			return Config{}, err
		}
	default:
		err := fmt.Errorf("must be one of: '%s', '%s'", DBElasticsearch, DBClickHouse)
		return Config{}, wrap.Errorf(err, "unsupported value '%s' for DATABASE in env", config.DB)
	}

	if err := env.ParseWithOptions(&config.Panel, parseOptions); err != nil {
		return Config{}, err
	}
	if err := config.Panel.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}
