package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"knowthis/internal/model"

	"github.com/lib/pq"
	pgvector "github.com/pgvector/pgvector-go"
)

// PostgresStore is the remote vector index backend: a single
// message_vectors table with a pgvector column, cosine distance ordering,
// and ON CONFLICT upsert for idempotency by vector id (spec §4.4).
type PostgresStore struct {
	db        *sql.DB
	indexName string
}

// NewPostgresStore opens the database and ensures the schema for indexName
// exists, creating it if this is the first run (spec §4.4: "if an index of
// that name doesn't exist, create it").
func NewPostgresStore(ctx context.Context, databaseURL, indexName string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &PostgresStore{db: db, indexName: indexName}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) PRIMARY KEY,
			channel_id VARCHAR(255) NOT NULL,
			channel_name VARCHAR(255) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			user_name VARCHAR(255) NOT NULL,
			ts VARCHAR(64) NOT NULL,
			iso_date VARCHAR(32) NOT NULL,
			thread_root_ts VARCHAR(64),
			kind VARCHAR(32) NOT NULL,
			has_reactions BOOLEAN NOT NULL DEFAULT FALSE,
			chunk_index INT NOT NULL DEFAULT 0,
			chunk_total INT NOT NULL DEFAULT 1,
			text_excerpt VARCHAR(300) NOT NULL,
			embedding vector(1536) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`, pq.QuoteIdentifier(s.tableName()))
	if _, err := s.db.ExecContext(ctx, createTable); err != nil {
		return fmt.Errorf("create %s table: %w", s.tableName(), err)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_channel ON %s(channel_id);", s.indexName, pq.QuoteIdentifier(s.tableName())),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s(ts);", s.indexName, pq.QuoteIdentifier(s.tableName())),
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	// May fail with too few rows to build; not fatal, matching the teacher.
	vecIdx := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_embedding ON %s USING ivfflat (embedding vector_cosine_ops);",
		s.indexName, pq.QuoteIdentifier(s.tableName()))
	s.db.ExecContext(ctx, vecIdx)

	return nil
}

func (s *PostgresStore) tableName() string {
	return "message_vectors_" + sanitizeIdent(s.indexName)
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Upsert is idempotent by vector id: a repeated id overwrites the row's
// vector and metadata (spec §4.4).
func (s *PostgresStore) Upsert(ctx context.Context, batch []Record) error {
	if len(batch) == 0 {
		return nil
	}
	if len(batch) > MaxBatchSize {
		return model.NewError(model.KindUpstreamInvalid, false, "vectorstore", "batch exceeds max size", nil)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, channel_id, channel_name, user_id, user_name, ts, iso_date,
			thread_root_ts, kind, has_reactions, chunk_index, chunk_total,
			text_excerpt, embedding
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			channel_id = EXCLUDED.channel_id,
			channel_name = EXCLUDED.channel_name,
			user_id = EXCLUDED.user_id,
			user_name = EXCLUDED.user_name,
			ts = EXCLUDED.ts,
			iso_date = EXCLUDED.iso_date,
			thread_root_ts = EXCLUDED.thread_root_ts,
			kind = EXCLUDED.kind,
			has_reactions = EXCLUDED.has_reactions,
			chunk_index = EXCLUDED.chunk_index,
			chunk_total = EXCLUDED.chunk_total,
			text_excerpt = EXCLUDED.text_excerpt,
			embedding = EXCLUDED.embedding
	`, pq.QuoteIdentifier(s.tableName()))

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch {
		m := r.Metadata
		_, err := stmt.ExecContext(ctx,
			r.ID, m.ChannelID, m.ChannelName, m.UserID, m.UserName, m.TS, m.ISODate,
			nullable(m.ThreadRootTS), m.Kind, m.HasReactions, m.ChunkIndex, m.ChunkTotal,
			m.TextExcerpt, pgvector.NewVector(r.Vector),
		)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Query performs a cosine-distance nearest-neighbor search, applying the
// filter as a SQL WHERE clause, breaking ties by ts descending.
func (s *PostgresStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Hit, error) {
	where, args := buildWhere(filter)
	args = append(args, pgvector.NewVector(vector))
	vecArg := len(args)
	args = append(args, topK)

	query := fmt.Sprintf(`
		SELECT id, channel_id, channel_name, user_id, user_name, ts, iso_date,
			   COALESCE(thread_root_ts, ''), kind, has_reactions, chunk_index,
			   chunk_total, text_excerpt, 1 - (embedding <=> $%d) AS score
		FROM %s
		%s
		ORDER BY embedding <=> $%d ASC, ts DESC
		LIMIT $%d
	`, vecArg, pq.QuoteIdentifier(s.tableName()), where, vecArg, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var m model.Metadata
		if err := rows.Scan(&h.ID, &m.ChannelID, &m.ChannelName, &m.UserID, &m.UserName,
			&m.TS, &m.ISODate, &m.ThreadRootTS, &m.Kind, &m.HasReactions, &m.ChunkIndex,
			&m.ChunkTotal, &m.TextExcerpt, &h.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		h.Metadata = m
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func buildWhere(f Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(col, val string) {
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.ChannelID != "" {
		add("channel_id", f.ChannelID)
	}
	if f.UserID != "" {
		add("user_id", f.UserID)
	}
	if f.Kind != "" {
		add("kind", f.Kind)
	}
	if f.TSFrom != "" {
		args = append(args, f.TSFrom)
		clauses = append(clauses, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if f.TSTo != "" {
		args = append(args, f.TSTo)
		clauses = append(clauses, fmt.Sprintf("ts <= $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

// Stats reports totals via COUNT/MAX(created_at) (spec §4.4).
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	query := fmt.Sprintf(
		"SELECT COUNT(*), COUNT(DISTINCT channel_id), COALESCE(MAX(created_at), TO_TIMESTAMP(0)) FROM %s",
		pq.QuoteIdentifier(s.tableName()))
	var st Stats
	var lastUpsert time.Time
	if err := s.db.QueryRowContext(ctx, query).Scan(&st.TotalVectors, &st.Channels, &lastUpsert); err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	st.LastUpsertAt = lastUpsert
	return st, nil
}

// DeleteByChannel prunes every vector belonging to a channel that has
// become unreachable (spec §4.4).
func (s *PostgresStore) DeleteByChannel(ctx context.Context, channelID string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE channel_id = $1", pq.QuoteIdentifier(s.tableName()))
	_, err := s.db.ExecContext(ctx, query, channelID)
	return err
}

// Close releases the underlying database connection.
func (s *PostgresStore) Close() error { return s.db.Close() }
