// Package ingestion drives the scheduled fetch -> normalize -> embed ->
// upsert -> checkpoint pipeline over the chat client and vector store
// (knowthis/spec.md §4.6).
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"knowthis/internal/chatclient"
	"knowthis/internal/embedding"
	"knowthis/internal/metrics"
	"knowthis/internal/model"
	"knowthis/internal/vectorstore"
)

const (
	// embedBatchSize is the max number of chunk texts sent to the embedder
	// in one call (spec §4.6 step 5: "batch size ≤ 64").
	embedBatchSize = 64
	// upsertBatchSize is the max number of records sent to the vector store
	// in one call (spec §4.6 step 6, spec §4.4: "batch size ≤ 100").
	upsertBatchSize = 100
	// replyTailSize is how many trailing thread replies get folded into the
	// root message's embedding text (spec §4.6 step 4: "a short tail").
	replyTailSize = 3
)

// Worker owns the shared clients and drives per-channel ingestion runs with
// bounded concurrency (spec §4.6: "default 3 in flight").
type Worker struct {
	chat        *chatclient.Client
	embedder    *embedding.Client
	store       vectorstore.Store
	state       *Store
	concurrency int
}

// New builds a Worker. concurrency is the number of channels processed at
// once (INGESTION_CONCURRENCY, default 3).
func New(chat *chatclient.Client, embedder *embedding.Client, store vectorstore.Store, state *Store, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 3
	}
	return &Worker{chat: chat, embedder: embedder, store: store, state: state, concurrency: concurrency}
}

// RunSummary is the structured record emitted to the log sink after every
// run (spec §4.6 Logging).
type RunSummary struct {
	RunID             string
	Start             time.Time
	End               time.Time
	MessagesProcessed int
	MessagesEmbedded  int
	MessagesUpserted  int
	ErrorsByKind      map[string]int
	ChannelsFailed    []string
	FatalErr          error
}

// RunOnce processes every channel with bounded concurrency, isolating
// per-channel failures. A kFatal error from any channel cancels the whole
// run for every other channel still in flight (spec §4.6: "the entire run
// aborts"); a kTransient or kUpstreamInvalid failure only skips its own
// channel (spec §4.6: "per-channel isolation").
func (w *Worker) RunOnce(ctx context.Context, channels []string) RunSummary {
	runID := NewRunID()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	summary := RunSummary{RunID: runID, Start: time.Now(), ErrorsByKind: map[string]int{}}

	var mu sync.Mutex
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	for _, channelID := range channels {
		wg.Add(1)
		sem <- struct{}{}
		go func(channelID string) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := w.runChannel(runCtx, channelID, runID)

			mu.Lock()
			defer mu.Unlock()
			summary.MessagesProcessed += res.messagesProcessed
			summary.MessagesEmbedded += res.messagesEmbedded
			summary.MessagesUpserted += res.messagesUpserted
			for k, v := range res.errorsByKind {
				summary.ErrorsByKind[k] += v
			}
			if err != nil {
				summary.ChannelsFailed = append(summary.ChannelsFailed, channelID)
				slog.Warn("ingestion channel failed", "channel_id", channelID, "run_id", runID, "error", err)
				if model.IsFatal(err) {
					summary.FatalErr = err
					cancel()
				}
			}
		}(channelID)
	}
	wg.Wait()
	summary.End = time.Now()
	metrics.IngestionRunDuration.Observe(summary.End.Sub(summary.Start).Seconds())

	slog.Info("ingestion run complete",
		"run_id", runID,
		"duration", summary.End.Sub(summary.Start),
		"messages_processed", summary.MessagesProcessed,
		"messages_embedded", summary.MessagesEmbedded,
		"messages_upserted", summary.MessagesUpserted,
		"errors_by_kind", summary.ErrorsByKind,
		"channels_failed", summary.ChannelsFailed,
	)
	return summary
}

// RunCanvasOnly re-fetches and re-embeds a single channel's canvas outside
// the hourly schedule, without touching the channel's message checkpoint
// (spec supplemental feature: webhook-triggered canvas refresh reuses this
// pipeline for a single-channel, canvas-only run).
func (w *Worker) RunCanvasOnly(ctx context.Context, channelID string) (RunSummary, error) {
	runID := NewRunID()
	summary := RunSummary{RunID: runID, Start: time.Now(), ErrorsByKind: map[string]int{}}

	canvas, err := w.chat.ExtractCanvas(ctx, channelID)
	if err != nil {
		summary.End = time.Now()
		return summary, err
	}
	if canvas == nil || strings.TrimSpace(canvas.Body) == "" {
		summary.End = time.Now()
		return summary, nil
	}

	pending := []pendingMessage{{msg: model.Message{
		ChannelID: channelID,
		TS:        "canvas:" + canvas.ID,
		Text:      canvas.Title + "\n" + canvas.Body,
		Kind:      model.KindCanvas,
	}}}

	embedded, upserted, ferr := w.flush(ctx, channelID, pending, summary.ErrorsByKind)
	summary.MessagesEmbedded = embedded
	summary.MessagesUpserted = upserted
	summary.End = time.Now()
	if ferr != nil {
		summary.ChannelsFailed = []string{channelID}
		return summary, ferr
	}

	slog.Info("canvas-only refresh complete", "run_id", runID, "channel_id", channelID,
		"messages_embedded", embedded, "messages_upserted", upserted)
	return summary, nil
}

type channelResult struct {
	messagesProcessed int
	messagesEmbedded  int
	messagesUpserted  int
	errorsByKind      map[string]int
}

// pendingMessage is a root message plus its already-fetched thread replies,
// buffered ahead of the normalize/embed stage.
type pendingMessage struct {
	msg     model.Message
	replies []model.Message
}

// resolvedMessage carries the display names and reaction summary resolved
// once per message, shared by both the embedding text and the metadata.
type resolvedMessage struct {
	msg          model.Message
	channelName  string
	userName     string
	hasReactions bool
}

// runChannel drives the state machine for one channel: Idle ->
// FetchingHistory -> FetchingThreads -> Normalizing -> Embedding ->
// Upserting -> Checkpointing -> Idle (spec §4.6).
func (w *Worker) runChannel(ctx context.Context, channelID, runID string) (channelResult, error) {
	res := channelResult{errorsByKind: map[string]int{}}

	channel, err := w.chat.GetChannel(ctx, channelID)
	if err != nil {
		incError(res.errorsByKind, kindOf(err))
		return res, err
	}
	if !channel.IsMember {
		slog.Warn("skipping channel: ingesting identity is not a member", "channel_id", channelID)
		return res, nil
	}

	cs, hasCheckpoint := w.state.Channel(channelID)
	sinceTS := cs.LastIngestedTS

	pending := make([]pendingMessage, 0, embedBatchSize)

	// Prepend the canvas synthetic message once: only on this channel's
	// initial run (spec §4.6 step 3).
	if !hasCheckpoint {
		if canvas, cerr := w.chat.ExtractCanvas(ctx, channelID); cerr == nil && canvas != nil && strings.TrimSpace(canvas.Body) != "" {
			pending = append(pending, pendingMessage{msg: model.Message{
				ChannelID: channelID,
				TS:        "canvas:" + canvas.ID,
				Text:      canvas.Title + "\n" + canvas.Body,
				Kind:      model.KindCanvas,
			}})
		}
	}

	stream := w.chat.ListChannelHistory(ctx, channelID, sinceTS)
	var maxTS string
	var streamErr error

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		embedded, upserted, ferr := w.flush(ctx, channelID, pending, res.errorsByKind)
		res.messagesEmbedded += embedded
		res.messagesUpserted += upserted
		pending = pending[:0]
		return ferr
	}

streamLoop:
	for result := range stream {
		if result.Err != nil {
			streamErr = result.Err
			break streamLoop
		}
		root := result.Message
		res.messagesProcessed++
		metrics.IngestionMessagesFetched.WithLabelValues(channelID).Inc()

		var replies []model.Message
		if root.IsThreadRoot {
			for rr := range w.chat.ListThreadReplies(ctx, channelID, root.TS) {
				if rr.Err != nil {
					// A broken thread fetch degrades to the root alone
					// (kUpstreamInvalid: drop the reply context, continue).
					incError(res.errorsByKind, model.KindUpstreamInvalid)
					break
				}
				replies = append(replies, rr.Message)
				res.messagesProcessed++
				metrics.IngestionMessagesFetched.WithLabelValues(channelID).Inc()
			}
		}

		pending = append(pending, pendingMessage{msg: root, replies: replies})
		if root.TS > maxTS {
			maxTS = root.TS
		}

		if len(pending) >= embedBatchSize {
			if ferr := flush(); ferr != nil {
				return res, ferr
			}
		}
	}

	if ferr := flush(); ferr != nil {
		return res, ferr
	}

	if streamErr != nil {
		incError(res.errorsByKind, kindOf(streamErr))
		return res, streamErr
	}
	if maxTS == "" {
		return res, nil // nothing new this run
	}

	if err := w.state.Checkpoint(channelID, maxTS, res.messagesProcessed, runID); err != nil {
		incError(res.errorsByKind, model.KindPersistenceWriteFailed)
		return res, err
	}
	return res, nil
}

// flush normalizes, chunks, embeds, and upserts one batch of pending
// messages (spec §4.6 steps 4-6). It returns as soon as a fatal error
// occurs; non-fatal per-sub-batch errors are counted and skipped so the
// rest of the batch still makes progress. The first transient error is
// returned once the batch is done, so the caller does not checkpoint past
// messages that were not upserted.
func (w *Worker) flush(ctx context.Context, channelID string, pending []pendingMessage, errorsByKind map[string]int) (embedded, upserted int, err error) {
	var transientErr error
	type chunkJob struct {
		resolved resolvedMessage
		chunk    embedding.Chunk
	}
	var jobs []chunkJob

	for _, p := range pending {
		rm, text := w.resolve(ctx, p)
		if strings.TrimSpace(text) == "" {
			continue // empty after normalization: dropped (spec §3)
		}
		for _, c := range embedding.Split(text) {
			jobs = append(jobs, chunkJob{resolved: rm, chunk: c})
		}
	}

	for start := 0; start < len(jobs); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(jobs) {
			end = len(jobs)
		}
		sub := jobs[start:end]

		texts := make([]string, len(sub))
		for i, j := range sub {
			texts[i] = j.chunk.Text
		}

		vectors, verr := w.embedder.EmbedMany(ctx, texts)
		if verr != nil {
			if model.IsFatal(verr) {
				return embedded, upserted, verr
			}
			incError(errorsByKind, kindOf(verr))
			if transientErr == nil && model.Transient(verr) {
				transientErr = verr
			}
			continue
		}
		embedded += len(vectors)
		metrics.IngestionMessagesEmbedded.WithLabelValues(channelID).Add(float64(len(vectors)))

		records := make([]vectorstore.Record, len(sub))
		for i, j := range sub {
			records[i] = vectorstore.Record{
				ID:       model.VectorID(j.resolved.msg.ChannelID, j.resolved.msg.TS, j.chunk.Index),
				Vector:   vectors[i],
				Metadata: buildMetadata(j.resolved, j.chunk),
			}
		}

		for s := 0; s < len(records); s += upsertBatchSize {
			e := s + upsertBatchSize
			if e > len(records) {
				e = len(records)
			}
			if uerr := w.store.Upsert(ctx, records[s:e]); uerr != nil {
				if model.IsFatal(uerr) {
					return embedded, upserted, uerr
				}
				incError(errorsByKind, kindOf(uerr))
				if transientErr == nil && model.Transient(uerr) {
					transientErr = uerr
				}
				continue
			}
			upserted += e - s
			metrics.IngestionMessagesUpserted.WithLabelValues(channelID).Add(float64(e - s))
		}
	}
	return embedded, upserted, transientErr
}

// resolve fetches the author/channel display names and reaction summary
// once, and builds the message's embedding text: cleaned body, author
// display name, reaction summary, and a short tail of reply excerpts
// (spec §4.6 step 4).
func (w *Worker) resolve(ctx context.Context, p pendingMessage) (resolvedMessage, string) {
	channelName := p.msg.ChannelID
	if ch, err := w.chat.GetChannel(ctx, p.msg.ChannelID); err == nil {
		channelName = ch.Name
	}

	userName := p.msg.AuthorUserID
	if p.msg.AuthorUserID != "" {
		if u, err := w.chat.GetUser(ctx, p.msg.AuthorUserID); err == nil {
			userName = u.Name()
		}
	}

	body := w.chat.Normalize(ctx, p.msg.Text)
	rm := resolvedMessage{msg: p.msg, channelName: channelName, userName: userName}

	if p.msg.Kind == model.KindCanvas {
		return rm, body
	}

	reactions := w.chat.ListReactions(ctx, p.msg.ChannelID, p.msg.TS)
	rm.hasReactions = len(reactions) > 0

	var b strings.Builder
	if userName != "" {
		b.WriteString(userName)
		b.WriteString(": ")
	}
	b.WriteString(body)

	if len(reactions) > 0 {
		b.WriteString(" [reactions: ")
		for i, r := range reactions {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s x%d", r.Name, r.Count)
		}
		b.WriteString("]")
	}

	if len(p.replies) > 0 {
		tail := p.replies
		if len(tail) > replyTailSize {
			tail = tail[len(tail)-replyTailSize:]
		}
		b.WriteString(" [replies: ")
		for i, r := range tail {
			if i > 0 {
				b.WriteString(" | ")
			}
			b.WriteString(model.Excerpt(w.chat.Normalize(ctx, r.Text)))
		}
		b.WriteString("]")
	}

	return rm, b.String()
}

func buildMetadata(rm resolvedMessage, chunk embedding.Chunk) model.Metadata {
	return model.Metadata{
		ChannelID:    rm.msg.ChannelID,
		ChannelName:  rm.channelName,
		UserID:       rm.msg.AuthorUserID,
		UserName:     rm.userName,
		TS:           rm.msg.TS,
		ISODate:      tsToISODate(rm.msg.TS),
		ThreadRootTS: rm.msg.ThreadParentTS,
		Kind:         string(rm.msg.Kind),
		HasReactions: rm.hasReactions,
		ChunkIndex:   chunk.Index,
		ChunkTotal:   chunk.Total,
		TextExcerpt:  model.Excerpt(chunk.Text),
	}
}

// tsToISODate converts a chat-platform timestamp ("<unix>.<fraction>") to
// an ISO-8601 date. Non-numeric synthetic timestamps (e.g. a canvas's
// "canvas:<file_id>") yield an empty string.
func tsToISODate(ts string) string {
	sec, _, _ := strings.Cut(ts, ".")
	n, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return ""
	}
	return time.Unix(n, 0).UTC().Format(time.RFC3339)
}

// incError records an ingestion failure both in the per-run summary map and
// in the process-wide error counter, labeled by error taxonomy kind.
func incError(errorsByKind map[string]int, kind model.Kind) {
	errorsByKind[string(kind)]++
	metrics.IngestionErrorsByKind.WithLabelValues(string(kind)).Inc()
}

func kindOf(err error) model.Kind {
	var e *model.Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return model.KindUpstreamInvalid
}
