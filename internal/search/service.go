// Package search implements query enhancement, embedding, and vector
// retrieval into a single public Search operation (knowthis/spec.md §4.7).
package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"knowthis/internal/chatclient"
	"knowthis/internal/embedding"
	"knowthis/internal/enhancer"
	"knowthis/internal/metrics"
	"knowthis/internal/model"
	"knowthis/internal/vectorstore"
)

const (
	minTopK        = 1
	maxTopK        = 50
	defaultTopK    = 10
	cacheTTL       = 5 * time.Minute
)

// Overrides lets a caller (the search-once CLI, or a tool call with
// explicit params) bypass or steer the enhancer.
type Overrides struct {
	SkipEnhancement bool
	TopK            int
	ChannelFilter   string
	UserFilter      string
	DateFrom        string
	DateTo          string
}

// Result is one assembled hit (spec §4.7 step 5).
type Result struct {
	ID               string  `json:"id"`
	Score            float64 `json:"score"`
	ChannelName      string  `json:"channel_name"`
	UserName         string  `json:"user_name"`
	TSISO            string  `json:"ts_iso"`
	TextExcerpt      string  `json:"text_excerpt"`
	ThreadRootTS     string  `json:"thread_root_ts,omitempty"`
	ReactionsSummary string  `json:"reactions_summary,omitempty"`
	Permalink        string  `json:"permalink,omitempty"`
}

// Response is the full search result envelope. A query producing zero hits
// returns Results: [] and Total: 0; this is not an error (spec §4.7).
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	TopK    int      `json:"top_k"`
}

// Service is safe for concurrent use: C7 and C4 are, per spec §4.9.
type Service struct {
	enhancer        *enhancer.Enhancer
	embedder        *embedding.Client
	store           vectorstore.Store
	chat            *chatclient.Client
	cache           ResponseCache
	workspaceDomain string
}

// New builds a Service. cache may be nil to disable response caching.
func New(enh *enhancer.Enhancer, embedder *embedding.Client, store vectorstore.Store, chat *chatclient.Client, cache ResponseCache, workspaceDomain string) *Service {
	return &Service{enhancer: enh, embedder: embedder, store: store, chat: chat, cache: cache, workspaceDomain: workspaceDomain}
}

// Search implements spec §4.7 steps 1-6.
func (s *Service) Search(ctx context.Context, rawQuery string, overrides Overrides) (resp Response, err error) {
	start := time.Now()
	defer func() {
		metrics.SearchQueryDuration.Observe(time.Since(start).Seconds())
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.SearchQueriesTotal.WithLabelValues(status).Inc()
	}()

	eq, err := s.buildEnhancedQuery(ctx, rawQuery, overrides)
	if err != nil {
		return Response{}, err
	}
	eq.TopK = clampTopK(eq.TopK)

	filter, err := s.buildFilter(eq)
	if err != nil {
		return Response{}, err
	}

	cacheKey := fingerprint(eq.EnhancedText, eq.TopK, filter)
	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, cacheKey); ok {
			metrics.SearchCacheHits.WithLabelValues("true").Inc()
			return cached, nil
		}
		metrics.SearchCacheHits.WithLabelValues("false").Inc()
	}

	vector, err := s.embedder.Embed(ctx, eq.EnhancedText)
	if err != nil {
		return Response{}, err
	}

	hits, err := s.store.Query(ctx, vector, eq.TopK, filter)
	if err != nil {
		return Response{}, err
	}

	out := Response{TopK: eq.TopK, Total: len(hits), Results: make([]Result, len(hits))}
	for i, h := range hits {
		out.Results[i] = s.assembleResult(h)
	}

	if s.cache != nil {
		s.cache.Set(ctx, cacheKey, out, cacheTTL)
	}
	return out, nil
}

// buildEnhancedQuery calls the enhancer unless overrides.SkipEnhancement is
// set, then lets any explicitly-set override win over what the enhancer
// extracted (spec §4.7 step 1).
func (s *Service) buildEnhancedQuery(ctx context.Context, rawQuery string, overrides Overrides) (enhancer.EnhancedQuery, error) {
	if overrides.SkipEnhancement {
		topK := overrides.TopK
		if topK == 0 {
			topK = defaultTopK
		}
		return enhancer.EnhancedQuery{
			EnhancedText:  rawQuery,
			TopK:          topK,
			ChannelFilter: overrides.ChannelFilter,
			UserFilter:    overrides.UserFilter,
			DateFrom:      overrides.DateFrom,
			DateTo:        overrides.DateTo,
		}, nil
	}

	eq, err := s.enhancer.Enhance(ctx, rawQuery)
	if err != nil {
		return enhancer.EnhancedQuery{}, err
	}
	if overrides.TopK > 0 {
		eq.TopK = overrides.TopK
	}
	if overrides.ChannelFilter != "" {
		eq.ChannelFilter = overrides.ChannelFilter
	}
	if overrides.UserFilter != "" {
		eq.UserFilter = overrides.UserFilter
	}
	if overrides.DateFrom != "" {
		eq.DateFrom = overrides.DateFrom
	}
	if overrides.DateTo != "" {
		eq.DateTo = overrides.DateTo
	}
	return eq, nil
}

// buildFilter resolves channel_filter/user_filter to ids via the chat
// client's caches and converts date_from/date_to into an inclusive UTC
// Unix range (spec §4.7 step 3; Open Question (a) resolved as UTC).
func (s *Service) buildFilter(eq enhancer.EnhancedQuery) (vectorstore.Filter, error) {
	var f vectorstore.Filter

	if eq.ChannelFilter != "" {
		if id, ok := s.chat.ResolveChannelByName(eq.ChannelFilter); ok {
			f.ChannelID = id
		} else {
			f.ChannelID = eq.ChannelFilter
		}
	}
	if eq.UserFilter != "" {
		if id, ok := s.chat.ResolveUserByName(eq.UserFilter); ok {
			f.UserID = id
		} else {
			f.UserID = eq.UserFilter
		}
	}

	if eq.DateFrom != "" {
		from, err := time.Parse("2006-01-02", eq.DateFrom)
		if err != nil {
			return vectorstore.Filter{}, model.NewError(model.KindUpstreamInvalid, false, "search", "invalid date_from", err)
		}
		f.TSFrom = fmt.Sprintf("%d", from.UTC().Unix())
	}
	if eq.DateTo != "" {
		to, err := time.Parse("2006-01-02", eq.DateTo)
		if err != nil {
			return vectorstore.Filter{}, model.NewError(model.KindUpstreamInvalid, false, "search", "invalid date_to", err)
		}
		endOfDay := to.UTC().Add(24*time.Hour - time.Second)
		f.TSTo = fmt.Sprintf("%d.999999", endOfDay.Unix())
	}
	return f, nil
}

func (s *Service) assembleResult(h vectorstore.Hit) Result {
	r := Result{
		ID:           h.ID,
		Score:        h.Score,
		ChannelName:  h.Metadata.ChannelName,
		UserName:     h.Metadata.UserName,
		TSISO:        h.Metadata.ISODate,
		TextExcerpt:  h.Metadata.TextExcerpt,
		ThreadRootTS: h.Metadata.ThreadRootTS,
	}
	if h.Metadata.HasReactions {
		r.ReactionsSummary = "has reactions"
	}
	if s.workspaceDomain != "" && h.Metadata.ChannelID != "" && !strings.HasPrefix(h.Metadata.TS, "canvas:") {
		r.Permalink = fmt.Sprintf("https://%s.slack.com/archives/%s/p%s",
			s.workspaceDomain, h.Metadata.ChannelID, strings.ReplaceAll(h.Metadata.TS, ".", ""))
	}
	return r
}

func clampTopK(k int) int {
	if k <= 0 {
		return defaultTopK
	}
	if k < minTopK {
		return minTopK
	}
	if k > maxTopK {
		return maxTopK
	}
	return k
}

func fingerprint(enhancedText string, topK int, f vectorstore.Filter) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|%s|%s|%s|%s", enhancedText, topK, f.ChannelID, f.UserID, f.TSFrom, f.TSTo, f.Kind)
	return hex.EncodeToString(h.Sum(nil))
}
