package vectorstore

import (
	"context"
	"time"

	"knowthis/internal/metrics"
)

// instrumentedStore wraps a Store with the process-wide vector store
// metrics, so LocalStore and PostgresStore stay free of metrics
// bookkeeping and only the operations app.Build actually exercises are
// counted, regardless of which backend was selected.
type instrumentedStore struct {
	inner Store
}

// Instrument wraps store so every Upsert/Query/DeleteByChannel call is
// timed and counted, and every successful Stats call refreshes the
// TotalVectors gauge.
func Instrument(store Store) Store {
	return &instrumentedStore{inner: store}
}

func (s *instrumentedStore) Upsert(ctx context.Context, batch []Record) error {
	start := time.Now()
	err := s.inner.Upsert(ctx, batch)
	observe("upsert", start, err)
	return err
}

func (s *instrumentedStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Hit, error) {
	start := time.Now()
	hits, err := s.inner.Query(ctx, vector, topK, filter)
	observe("query", start, err)
	return hits, err
}

func (s *instrumentedStore) Stats(ctx context.Context) (Stats, error) {
	start := time.Now()
	stats, err := s.inner.Stats(ctx)
	observe("stats", start, err)
	if err == nil {
		metrics.TotalVectors.Set(float64(stats.TotalVectors))
	}
	return stats, err
}

func (s *instrumentedStore) DeleteByChannel(ctx context.Context, channelID string) error {
	start := time.Now()
	err := s.inner.DeleteByChannel(ctx, channelID)
	observe("delete_by_channel", start, err)
	return err
}

func observe(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.VectorStoreOperations.WithLabelValues(operation, status).Inc()
	metrics.VectorStoreOperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
