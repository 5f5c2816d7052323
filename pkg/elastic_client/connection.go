package elastic_client

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/rs/zerolog/log"
	"github.com/urbantracker/urbantracker-driver/pkg/util"
)

const defaultFlushInterval = 15 * time.Second

var Client *elasticsearch.Client
var bulkIndexer esutil.BulkIndexer

// Connect sets up the journal client. Without an address it is skipped unless required.
func Connect(required bool) error {
	env := util.GetEnvironmentVariables()

	address := env["URBANTRACKER_ELASTICSEARCH_ADDRESS"]
	if address == "" && !required {
		log.Info().Msg("Skipping Elasticsearch setup")
		return nil
	} else if address == "" && required {
		log.Fatal().Msg("Elasticsearch configuration not set")
	}

	tp := http.DefaultTransport.(*http.Transport).Clone()
	if insecure, _ := util.EnvironmentBool(env, "URBANTRACKER_ELASTICSEARCH_INSECURE"); insecure {
		tp.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	retryBackoff := backoff.NewExponentialBackOff()

	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{address},
		Username:  env["URBANTRACKER_ELASTICSEARCH_USERNAME"],
		Password:  env["URBANTRACKER_ELASTICSEARCH_PASSWORD"],
		Transport: tp,

		RetryOnStatus: []int{502, 503, 504, 429},

		RetryBackoff: func(i int) time.Duration {
			if i == 1 {
				retryBackoff.Reset()
			}
			return retryBackoff.NextBackOff()
		},
		MaxRetries: 5,
	})
	if err != nil {
		return err
	}

	_, err = es.Info()
	if err != nil {
		return err
	}

	flushInterval := defaultFlushInterval
	if interval, ok := util.EnvironmentDuration(env, "URBANTRACKER_ELASTICSEARCH_FLUSH_INTERVAL"); ok {
		flushInterval = interval
	}

	indexer, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client:        es,
		FlushInterval: flushInterval,
	})
	if err != nil {
		return err
	}

	Client = es
	bulkIndexer = indexer

	log.Info().Msgf("Elasticsearch client setup for %s", address)

	return nil
}

func Enabled() bool {
	return Client != nil && bulkIndexer != nil
}

func IndexRequest(indexName string, document io.ReadSeeker) {
	if !Enabled() {
		return
	}

	err := bulkIndexer.Add(
		context.Background(),
		esutil.BulkIndexerItem{
			Index:  indexName,
			Action: "index",
			Body:   document,
			OnFailure: func(ctx context.Context, item esutil.BulkIndexerItem, res esutil.BulkIndexerResponseItem, err error) {
				if err != nil {
					log.Error().Err(err).Str("indexName", indexName).Msg("Failed to index document")
				} else {
					log.Error().Str("type", res.Error.Type).Str("reason", res.Error.Reason).Msg("Failed to index document")
				}
			},
		},
	)
	if err != nil {
		log.Error().Err(err).Str("indexName", indexName).Msg("Failed to queue document")
	}
}

// WaitUntilQueueEmpty flushes pending documents, call it before exiting
func WaitUntilQueueEmpty() {
	if !Enabled() {
		return
	}

	if err := bulkIndexer.Close(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to flush Elasticsearch bulk indexer")
	}
}
