package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esutil"
	"github.com/raphi011/allureboard/internal/model"
)

const DefaultElasticIndex = "allure-results"

// ElasticSearchHook indexes the results of every refreshed snapshot so they
// can be correlated with application logs. The result id is the document
// id, re-indexing a result overwrites it.
type ElasticSearchHook struct {
	client *elasticsearch.Client
	index  string

	log *slog.Logger
}

func NewElasticSearchHook(cfg elasticsearch.Config, index string, log *slog.Logger) (*ElasticSearchHook, error) {
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	if index == "" {
		index = DefaultElasticIndex
	}

	return &ElasticSearchHook{client: client, index: index, log: log}, nil
}

func (p *ElasticSearchHook) Name() string {
	return "elastic-search"
}

func (p *ElasticSearchHook) Init() error {
	res, err := p.client.Info()
	if err != nil {
		return fmt.Errorf("connecting to elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("connecting to elasticsearch: %s", res.Status())
	}

	return nil
}

// document is the indexed form of a result.
type document struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	FullName   string    `json:"fullName,omitempty"`
	Status     string    `json:"status"`
	Project    string    `json:"project"`
	Tags       []string  `json:"tags"`
	Timestamp  time.Time `json:"@timestamp"`
	DurationMS int64     `json:"durationMs"`
	Message    string    `json:"message,omitempty"`
	Flaky      bool      `json:"flaky"`
	Generation uint64    `json:"generation"`
}

func (p *ElasticSearchHook) RefreshFinishedAsync(ctx context.Context, snapshot *model.Snapshot) {
	stats, err := p.Index(ctx, snapshot)
	if err != nil {
		p.log.Error("unable to index results", "error", err)
		return
	}

	if stats.NumFailed > 0 {
		p.log.Warn("some results could not be indexed", "failed", stats.NumFailed, "indexed", stats.NumIndexed)
	}
}

// Index bulk indexes all results of the snapshot.
func (p *ElasticSearchHook) Index(ctx context.Context, snapshot *model.Snapshot) (esutil.BulkIndexerStats, error) {
	bi, err := esutil.NewBulkIndexer(esutil.BulkIndexerConfig{
		Client: p.client,
		Index:  p.index,
		OnError: func(_ context.Context, err error) {
			p.log.Warn("bulk indexing error", "error", err)
		},
	})
	if err != nil {
		return esutil.BulkIndexerStats{}, fmt.Errorf("creating bulk indexer: %w", err)
	}

	for _, r := range snapshot.Results {
		body, err := json.Marshal(document{
			ID:         r.ID,
			Name:       r.Name,
			FullName:   r.FullName,
			Status:     string(r.Status),
			Project:    r.Project,
			Tags:       r.Tags,
			Timestamp:  r.Timestamp,
			DurationMS: r.DurationMS,
			Message:    r.Message,
			Flaky:      r.Flaky,
			Generation: snapshot.Generation,
		})
		if err != nil {
			return esutil.BulkIndexerStats{}, fmt.Errorf("encoding result %s: %w", r.ID, err)
		}

		err = bi.Add(ctx, esutil.BulkIndexerItem{
			Action:     "index",
			DocumentID: r.ID,
			Body:       bytes.NewReader(body),
		})
		if err != nil {
			_ = bi.Close(ctx)
			return esutil.BulkIndexerStats{}, fmt.Errorf("adding result %s: %w", r.ID, err)
		}
	}

	if err := bi.Close(ctx); err != nil {
		return bi.Stats(), fmt.Errorf("flushing bulk indexer: %w", err)
	}

	return bi.Stats(), nil
}
