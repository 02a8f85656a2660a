package tools

import (
	"context"
	"encoding/json"

	"knowthis/internal/chatclient"
	"knowthis/internal/ingestion"
	"knowthis/internal/search"
	"knowthis/internal/vectorstore"
)

// SearchMessagesParams is search_messages's input schema (spec §4.8).
type SearchMessagesParams struct {
	Query         string `json:"query" validate:"required,max=1000"`
	TopK          int    `json:"top_k,omitempty"`
	ChannelFilter string `json:"channel_filter,omitempty" validate:"omitempty,max=255"`
	UserFilter    string `json:"user_filter,omitempty" validate:"omitempty,max=255"`
	DateFrom      string `json:"date_from,omitempty" validate:"omitempty,datetime=2006-01-02"`
	DateTo        string `json:"date_to,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

func newSearchMessagesTool(svc *search.Service) Tool {
	return Tool{
		Name:        "search_messages",
		Description: "Semantic search over ingested chat history.",
		Schema:      SearchMessagesParams{},
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			var p SearchMessagesParams
			if err := decodeAndValidate(raw, &p); err != nil {
				return nil, err
			}
			// top_k is re-clamped inside Service.Search; validation here
			// only rejects the schema-invalid case, keeping the clamp
			// policy the single source of truth (testable property 8).
			return svc.Search(ctx, p.Query, search.Overrides{
				TopK:          p.TopK,
				ChannelFilter: p.ChannelFilter,
				UserFilter:    p.UserFilter,
				DateFrom:      p.DateFrom,
				DateTo:        p.DateTo,
			})
		},
	}
}

// ChannelDescriptor is one entry in list_channels' result.
type ChannelDescriptor struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IsMember bool   `json:"is_member"`
}

func newListChannelsTool(chat *chatclient.Client) Tool {
	return Tool{
		Name:        "list_channels",
		Description: "List every channel observed by the ingestion pipeline.",
		Schema:      struct{}{},
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			channels := chat.ChannelsSnapshot()
			out := make([]ChannelDescriptor, len(channels))
			for i, ch := range channels {
				out[i] = ChannelDescriptor{ID: ch.ID, Name: ch.Name, IsMember: ch.IsMember}
			}
			return out, nil
		},
	}
}

// StatsResult is stats' result (spec §4.8).
type StatsResult struct {
	TotalVectors    int    `json:"total_vectors"`
	ChannelsIndexed int    `json:"channels_indexed"`
	LastIngestedAt  string `json:"last_ingested_at,omitempty"`
}

func newStatsTool(store vectorstore.Store, state *ingestion.Store) Tool {
	return Tool{
		Name:        "stats",
		Description: "Report vector index totals and last ingestion time.",
		Schema:      struct{}{},
		Handler: func(ctx context.Context, raw json.RawMessage) (any, error) {
			st, err := store.Stats(ctx)
			if err != nil {
				return nil, err
			}

			var lastIngestedAt string
			if state != nil {
				for _, cs := range state.Snapshot().Channels {
					if cs.LastSuccessAt > lastIngestedAt {
						lastIngestedAt = cs.LastSuccessAt
					}
				}
			}

			return StatsResult{
				TotalVectors:    st.TotalVectors,
				ChannelsIndexed: st.Channels,
				LastIngestedAt:  lastIngestedAt,
			}, nil
		},
	}
}
