// Package model holds the domain types shared across the ingestion and
// search pipelines: users, channels, messages, and the metadata that rides
// alongside every embedding vector.
package model

import "fmt"

// MessageKind classifies a Message for embedding-text construction and
// metadata.
type MessageKind string

const (
	KindMessage     MessageKind = "message"
	KindThreadReply MessageKind = "thread_reply"
	KindCanvas      MessageKind = "canvas"
	KindRichPost    MessageKind = "rich_post"
)

// User is a chat platform identity. Immutable once cached; refreshed on TTL
// expiry by the chat client cache.
type User struct {
	ID          string
	DisplayName string
	RealName    string
}

// Name resolves the best available display string for a user.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	if u.RealName != "" {
		return u.RealName
	}
	return u.ID
}

// Channel is a chat platform channel.
type Channel struct {
	ID         string
	Name       string
	IsMember   bool
	CanvasFile string // file id of the linked canvas, if any
}

// Reaction is an emoji reaction attached to a Message.
type Reaction struct {
	Name    string
	UserIDs []string
	Count   int
}

// Canvas is a long-form document attached to a channel, embedded as a
// synthetic Message of KindCanvas.
type Canvas struct {
	ID        string
	Title     string
	Body      string // normalized plaintext
	ChannelID string
}

// Attachment is a file, code snippet, or workflow block carried by a
// Message. Content is metadata-only in this spec; no blob storage.
type Attachment struct {
	Kind string // "file", "snippet", "workflow"
	Name string
	Text string // any extractable plaintext (e.g. snippet body)
}

// Message is the unit of ingestion. Identity is (ChannelID, TS).
type Message struct {
	ChannelID      string
	TS             string
	Text           string
	AuthorUserID   string
	ThreadParentTS string // empty if not a reply
	IsThreadRoot   bool
	Reactions      []Reaction
	Attachments    []Attachment
	Kind           MessageKind
}

// VectorID returns the stable id a Message's chunk lives under in the
// vector index: (channel_id, ts[, chunk_index]).
func VectorID(channelID, ts string, chunkIndex int) string {
	if chunkIndex == 0 {
		return fmt.Sprintf("%s:%s", channelID, ts)
	}
	return fmt.Sprintf("%s:%s:%d", channelID, ts, chunkIndex)
}

// Metadata rides alongside every embedding vector in the store.
type Metadata struct {
	ChannelID     string `json:"channel_id"`
	ChannelName   string `json:"channel_name"`
	UserID        string `json:"user_id"`
	UserName      string `json:"user_name"`
	TS            string `json:"ts"`
	ISODate       string `json:"iso_date"`
	ThreadRootTS  string `json:"thread_root_ts,omitempty"`
	Kind          string `json:"kind"`
	HasReactions  bool   `json:"has_reactions"`
	ChunkIndex    int    `json:"chunk_index"`
	ChunkTotal    int    `json:"chunk_total"`
	TextExcerpt   string `json:"text_excerpt"`
}

// ExcerptLimit is the maximum length of Metadata.TextExcerpt.
const ExcerptLimit = 300

// Excerpt truncates text to ExcerptLimit runes for use as a text_excerpt.
func Excerpt(text string) string {
	r := []rune(text)
	if len(r) <= ExcerptLimit {
		return text
	}
	return string(r[:ExcerptLimit])
}

// EmbeddingDim is the fixed dimensionality of every stored vector.
const EmbeddingDim = 1536
