// Package chatclient wraps the chat platform's REST API behind the rate
// governor, with TTL-cached user/channel lookups and paginated message
// streaming (knowthis/spec.md §4.2).
package chatclient

import (
	"context"
	"strings"
	"sync"
	"time"

	"knowthis/internal/model"
	"knowthis/internal/ratelimit"
	"knowthis/internal/ttlcache"

	"github.com/slack-go/slack"
)

const cacheTTL = 24 * time.Hour

// Result carries either a Message or an error from a streaming fetch.
type Result struct {
	Message model.Message
	Err     error
}

// Client is the single point of contact with the chat platform.
type Client struct {
	api       *slack.Client
	governor  *ratelimit.Governor
	users     *ttlcache.Cache[model.User]
	channels  *ttlcache.Cache[model.Channel]
	botUserID string

	nameMu    sync.RWMutex
	nameIndex map[string]string // lowercase channel name -> channel id
	userMu    sync.RWMutex
	userIndex map[string]string // lowercase user display name -> user id
}

// New creates a Client. botToken authenticates with the chat platform.
func New(botToken string, governor *ratelimit.Governor) *Client {
	return &Client{
		api:       slack.New(botToken),
		governor:  governor,
		users:     ttlcache.New[model.User](cacheTTL),
		channels:  ttlcache.New[model.Channel](cacheTTL),
		nameIndex: make(map[string]string),
		userIndex: make(map[string]string),
	}
}

// SetBotUserID records the ingesting identity's own user id, as returned
// by BotUserID.
func (c *Client) SetBotUserID(id string) { c.botUserID = id }

// BotUserID returns the ingesting identity's own user id, if known.
func (c *Client) BotUserID() string { return c.botUserID }

// GetUser resolves a user id to a User, cache-first.
func (c *Client) GetUser(ctx context.Context, userID string) (model.User, error) {
	if u, ok := c.users.Get(userID); ok {
		return u, nil
	}

	var su *slack.User
	err := ratelimit.Retry(ctx, 3, time.Second, model.Transient, func(ctx context.Context) error {
		if err := c.governor.Acquire(ctx, ratelimit.ProviderChat, ratelimit.EndpointUsersInfo); err != nil {
			return err
		}
		u, err := c.api.GetUserInfoContext(ctx, userID)
		if err != nil {
			return c.classify(ratelimit.EndpointUsersInfo, err)
		}
		su = u
		return nil
	})
	if err != nil {
		return model.User{}, err
	}

	user := model.User{ID: su.ID, DisplayName: su.Profile.DisplayName, RealName: su.Profile.RealName}
	c.users.Set(userID, user)
	c.userMu.Lock()
	c.userIndex[strings.ToLower(user.Name())] = user.ID
	c.userMu.Unlock()
	return user, nil
}

// ResolveUserByName looks up a user id by display/real name, case
// insensitively, among users already seen via GetUser.
func (c *Client) ResolveUserByName(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	c.userMu.RLock()
	defer c.userMu.RUnlock()
	id, ok := c.userIndex[name]
	return id, ok
}

// ChannelsSnapshot returns every channel seen so far via GetChannel, for
// the list_channels tool.
func (c *Client) ChannelsSnapshot() []model.Channel {
	c.nameMu.RLock()
	ids := make([]string, 0, len(c.nameIndex))
	for _, id := range c.nameIndex {
		ids = append(ids, id)
	}
	c.nameMu.RUnlock()

	out := make([]model.Channel, 0, len(ids))
	for _, id := range ids {
		if ch, ok := c.channels.Get(id); ok {
			out = append(out, ch)
		}
	}
	return out
}

// GetChannel resolves a channel id to a Channel, cache-first.
func (c *Client) GetChannel(ctx context.Context, channelID string) (model.Channel, error) {
	if ch, ok := c.channels.Get(channelID); ok {
		return ch, nil
	}
	var sc *slack.Channel
	err := ratelimit.Retry(ctx, 3, time.Second, model.Transient, func(ctx context.Context) error {
		if err := c.governor.Acquire(ctx, ratelimit.ProviderChat, ratelimit.EndpointConversationsInfo); err != nil {
			return err
		}
		ch, err := c.api.GetConversationInfoContext(ctx, &slack.GetConversationInfoInput{ChannelID: channelID})
		if err != nil {
			return c.classify(ratelimit.EndpointConversationsInfo, err)
		}
		sc = ch
		return nil
	})
	if err != nil {
		return model.Channel{}, err
	}

	canvasFile := ""
	if sc.Properties != nil {
		canvasFile = sc.Properties.Canvas.FileId
	}
	channel := model.Channel{ID: sc.ID, Name: sc.Name, IsMember: sc.IsMember, CanvasFile: canvasFile}
	c.channels.Set(channelID, channel)
	c.nameMu.Lock()
	c.nameIndex[strings.ToLower(sc.Name)] = sc.ID
	c.nameMu.Unlock()
	return channel, nil
}

// ResolveChannelByName looks up a channel id by display name, matching
// case-insensitively with a leading '#' stripped. Only channels already
// seen via GetChannel (i.e. ingested at least once) are resolvable.
func (c *Client) ResolveChannelByName(name string) (string, bool) {
	name = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "#")
	c.nameMu.RLock()
	defer c.nameMu.RUnlock()
	id, ok := c.nameIndex[name]
	return id, ok
}

// ListChannelHistory streams a channel's messages from sinceTS (exclusive)
// forward in ascending order, paging one request per governor acquisition.
// The returned channel is closed when pagination ends.
func (c *Client) ListChannelHistory(ctx context.Context, channelID, sinceTS string) <-chan Result {
	out := make(chan Result, 200)
	go func() {
		defer close(out)
		cursor := ""
		oldest := sinceTS
		for {
			var hist *slack.GetConversationHistoryResponse
			err := ratelimit.Retry(ctx, 3, time.Second, model.Transient, func(ctx context.Context) error {
				if err := c.governor.Acquire(ctx, ratelimit.ProviderChat, ratelimit.EndpointConversationsHistory); err != nil {
					return err
				}
				params := &slack.GetConversationHistoryParameters{
					ChannelID: channelID,
					Oldest:    oldest,
					Cursor:    cursor,
					Limit:     200,
					Inclusive: false,
				}
				h, err := c.api.GetConversationHistoryContext(ctx, params)
				if err != nil {
					return c.classify(ratelimit.EndpointConversationsHistory, err)
				}
				hist = h
				return nil
			})
			if err != nil {
				out <- Result{Err: err}
				return
			}

			for i := len(hist.Messages) - 1; i >= 0; i-- { // API returns newest-first; emit ascending
				msg := hist.Messages[i]
				out <- Result{Message: toMessage(channelID, msg)}
			}

			if !hist.HasMore || hist.ResponseMetaData.NextCursor == "" {
				return
			}
			cursor = hist.ResponseMetaData.NextCursor
			select {
			case <-ctx.Done():
				out <- Result{Err: ctx.Err()}
				return
			default:
			}
		}
	}()
	return out
}

// ListThreadReplies streams every reply under rootTS in ascending order.
func (c *Client) ListThreadReplies(ctx context.Context, channelID, rootTS string) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)
		cursor := ""
		for {
			var msgs []slack.Message
			var hasMore bool
			var nextCursor string
			err := ratelimit.Retry(ctx, 3, time.Second, model.Transient, func(ctx context.Context) error {
				if err := c.governor.Acquire(ctx, ratelimit.ProviderChat, ratelimit.EndpointConversationsReplies); err != nil {
					return err
				}
				params := &slack.GetConversationRepliesParameters{
					ChannelID: channelID,
					Timestamp: rootTS,
					Cursor:    cursor,
					Limit:     200,
				}
				m, hm, nc, err := c.api.GetConversationRepliesContext(ctx, params)
				if err != nil {
					return c.classify(ratelimit.EndpointConversationsReplies, err)
				}
				msgs, hasMore = m, hm
				nextCursor = nc
				return nil
			})
			if err != nil {
				out <- Result{Err: err}
				return
			}

			for _, m := range msgs {
				if m.Timestamp == rootTS {
					continue // root already emitted by ListChannelHistory
				}
				msg := toMessage(channelID, m)
				msg.ThreadParentTS = rootTS
				msg.Kind = model.KindThreadReply
				out <- Result{Message: msg}
			}

			if !hasMore || nextCursor == "" {
				return
			}
			cursor = nextCursor
		}
	}()
	return out
}

// ListReactions is best-effort: on any failure it returns an empty slice
// rather than propagating the error, per spec.
func (c *Client) ListReactions(ctx context.Context, channelID, ts string) []model.Reaction {
	if err := c.governor.Acquire(ctx, ratelimit.ProviderChat, ratelimit.EndpointReactionsGet); err != nil {
		return nil
	}
	msg, err := c.api.GetReactionsContext(ctx, slack.NewRefToMessage(channelID, ts), slack.GetReactionsParameters{})
	if err != nil {
		return nil
	}
	out := make([]model.Reaction, 0, len(msg))
	for _, r := range msg {
		out = append(out, model.Reaction{Name: r.Name, UserIDs: r.Users, Count: r.Count})
	}
	return out
}

func toMessage(channelID string, m slack.Message) model.Message {
	return model.Message{
		ChannelID:    channelID,
		TS:           m.Timestamp,
		Text:         m.Text,
		AuthorUserID: m.User,
		IsThreadRoot: m.ThreadTimestamp == m.Timestamp || m.ThreadTimestamp == "",
		Kind:         model.KindMessage,
	}
}

// classify maps a Slack API error to a model.Error, honoring any
// server-issued Retry-After hint by advancing the endpoint's governor
// cooldown so the next Acquire call actually waits it out (spec §4.1).
func (c *Client) classify(endpoint string, err error) error {
	if rlErr, ok := err.(*slack.RateLimitedError); ok {
		c.governor.NotifyRetryAfter(ratelimit.ProviderChat, endpoint, rlErr.RetryAfter)
		return model.NewError(model.KindUpstreamThrottled, true, "chat", "rate limited", rlErr)
	}
	return model.NewError(model.KindUpstreamTimeout, true, "chat", "chat API call failed", err)
}
