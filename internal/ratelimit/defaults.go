package ratelimit

import "time"

// Provider names used as the first half of a governor key.
const (
	ProviderChat      = "chat"
	ProviderEmbedding = "embedding"
	ProviderLLM       = "llm"
)

// Chat endpoint tags, matching the chat platform's own rate-limit tiers.
const (
	EndpointConversationsHistory = "conversations.history"
	EndpointConversationsReplies = "conversations.replies"
	EndpointUsersInfo            = "users.info"
	EndpointConversationsInfo    = "conversations.info"
	EndpointReactionsGet         = "reactions.get"
	EndpointFilesInfo            = "files.info"
	EndpointCanvasesRead         = "canvases.read"
)

// Embedding/LLM endpoint tags.
const (
	EndpointEmbeddings      = "embeddings"
	EndpointChatCompletions = "chat.completions"
)

// NewChatGovernor builds the governor for the chat platform with
// per-endpoint tier limits, optionally overridden by a single configured
// requests-per-minute ceiling (CHAT_RATE_LIMIT_PER_MINUTE).
func NewChatGovernor(overridePerMinute int) *Governor {
	per := map[string]Config{
		key(ProviderChat, EndpointConversationsHistory): {Limit: 100, Window: time.Minute},
		key(ProviderChat, EndpointConversationsReplies): {Limit: 100, Window: time.Minute},
		key(ProviderChat, EndpointUsersInfo):            {Limit: 100, Window: time.Minute},
		key(ProviderChat, EndpointConversationsInfo):    {Limit: 100, Window: time.Minute},
		key(ProviderChat, EndpointReactionsGet):          {Limit: 50, Window: time.Minute},
		key(ProviderChat, EndpointFilesInfo):             {Limit: 50, Window: time.Minute},
		key(ProviderChat, EndpointCanvasesRead):          {Limit: 20, Window: time.Minute},
	}
	if overridePerMinute > 0 {
		for k, cfg := range per {
			cfg.Limit = overridePerMinute
			per[k] = cfg
		}
	}
	return New(Config{Limit: 50, Window: time.Minute}, per)
}

// NewEmbeddingGovernor builds the one governor shared by embeddings and the
// LLM, with two buckets: a higher-rate bucket for embeddings, a smaller one for the enhancer's chat
// completions (spec §4.1: "a third bucket governs the LLM enhancer").
func NewEmbeddingGovernor() *Governor {
	per := map[string]Config{
		key(ProviderEmbedding, EndpointEmbeddings):      {Limit: 500, Window: time.Minute},
		key(ProviderLLM, EndpointChatCompletions): {Limit: 60, Window: time.Minute},
	}
	return New(Config{Limit: 60, Window: time.Minute}, per)
}
