package vectorstore

import (
	"context"
	"path/filepath"
	"testing"

	"knowthis/internal/model"
)

func TestLocalStore_UpsertIdempotentAndQueryRanks(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(filepath.Join(dir, "vectors.ndjson"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	batch := []Record{
		{ID: "C1:1", Vector: []float32{1, 0, 0}, Metadata: model.Metadata{ChannelID: "C1", TS: "1"}},
		{ID: "C1:2", Vector: []float32{0, 1, 0}, Metadata: model.Metadata{ChannelID: "C1", TS: "2"}},
	}
	if err := store.Upsert(ctx, batch); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	// Re-upsert one id with a new vector: idempotent by id, not a duplicate.
	if err := store.Upsert(ctx, []Record{
		{ID: "C1:1", Vector: []float32{0.9, 0.1, 0}, Metadata: model.Metadata{ChannelID: "C1", TS: "1"}},
	}); err != nil {
		t.Fatalf("re-Upsert: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalVectors != 2 {
		t.Fatalf("expected 2 vectors after idempotent re-upsert, got %d", stats.TotalVectors)
	}

	hits, err := store.Query(ctx, []float32{1, 0, 0}, 5, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].ID != "C1:1" {
		t.Fatalf("expected C1:1 (closest to query vector) first, got %s", hits[0].ID)
	}
}

func TestLocalStore_QueryFilterByChannel(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(filepath.Join(dir, "vectors.ndjson"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	batch := []Record{
		{ID: "eng:1", Vector: []float32{1, 0}, Metadata: model.Metadata{ChannelID: "engineering", TS: "1"}},
		{ID: "rand:1", Vector: []float32{1, 0}, Metadata: model.Metadata{ChannelID: "random", TS: "1"}},
	}
	if err := store.Upsert(ctx, batch); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := store.Query(ctx, []float32{1, 0}, 10, Filter{ChannelID: "engineering"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 || hits[0].Metadata.ChannelID != "engineering" {
		t.Fatalf("expected 1 engineering hit, got %+v", hits)
	}
}

func TestLocalStore_DeleteByChannel(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(filepath.Join(dir, "vectors.ndjson"))
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Upsert(ctx, []Record{
		{ID: "C1:1", Vector: []float32{1, 0}, Metadata: model.Metadata{ChannelID: "C1", TS: "1"}},
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.DeleteByChannel(ctx, "C1"); err != nil {
		t.Fatalf("DeleteByChannel: %v", err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalVectors != 0 {
		t.Fatalf("expected 0 vectors after delete, got %d", stats.TotalVectors)
	}
}

func TestLocalStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vectors.ndjson")

	store, err := NewLocalStore(path)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Upsert(ctx, []Record{
		{ID: "C1:1", Vector: []float32{1, 0}, Metadata: model.Metadata{ChannelID: "C1", TS: "1"}},
	}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	store.Close()

	reopened, err := NewLocalStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	stats, err := reopened.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalVectors != 1 {
		t.Fatalf("expected replayed store to have 1 vector, got %d", stats.TotalVectors)
	}
}
