package elasticsearch

import (
	"github.com/elastic/go-elasticsearch/v8"
	"hermannm.dev/statstable/config"
	"hermannm.dev/wrap"
)

// Implements db.AggregationDB for Elasticsearch.
type ElasticsearchDB struct {
	client  *elasticsearch.TypedClient
	address string
}

func NewElasticsearchDB(config config.Elasticsearch) (ElasticsearchDB, error) {
	client, err := elasticsearch.NewTypedClient(elasticsearch.Config{
		Addresses:         []string{config.Address},
		EnableDebugLogger: config.Debug,
	})
	if err != nil {
		return ElasticsearchDB{}, wrap.Error(err, "failed to connect to Elasticsearch")
	}

	return ElasticsearchDB{client: client, address: config.Address}, nil
}
