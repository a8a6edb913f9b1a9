package clickhouse

import (
	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"hermannm.dev/devlog/log"
	"hermannm.dev/statstable/config"
	"hermannm.dev/wrap"
)

// Implements db.AggregationDB for ClickHouse. Indices are table names.
type ClickHouseDB struct {
	conn driver.Conn
}

func NewClickHouseDB(config config.ClickHouse) (ClickHouseDB, error) {
	// Options docs: https://clickhouse.com/docs/en/integrations/go#connection-settings
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{config.Address},
		Auth: clickhouse.Auth{
			Database: config.DatabaseName,
			Username: config.Username,
			Password: config.Password,
		},
		Debug:       config.Debug,
		Debugf:      log.Debugf,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return ClickHouseDB{}, wrap.Error(err, "failed to connect to ClickHouse")
	}

	return ClickHouseDB{conn: conn}, nil
}
