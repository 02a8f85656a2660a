package chatclient

import (
	"context"
	"regexp"
	"strings"
	"unicode"
)

var (
	userMentionRe    = regexp.MustCompile(`<@([A-Z0-9]+)(\|[^>]*)?>`)
	channelMentionRe = regexp.MustCompile(`<#([A-Z0-9]+)\|([^>]*)>`)
	linkWithTextRe   = regexp.MustCompile(`<(https?://[^|>]+)\|([^>]*)>`)
	bareLinkRe       = regexp.MustCompile(`<(https?://[^>]+)>`)
)

// Normalize rewrites raw platform markup into prose: user mentions become
// "@display_name", channel mentions become "#name", links unwrap to their
// link text when present, control characters are stripped, and whitespace
// collapses. This is what both the embedding text and the metadata excerpt
// see (spec §4.2).
func (c *Client) Normalize(ctx context.Context, text string) string {
	text = userMentionRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := userMentionRe.FindStringSubmatch(m)
		userID := sub[1]
		if u, err := c.GetUser(ctx, userID); err == nil {
			return "@" + u.Name()
		}
		return "@" + userID
	})

	text = channelMentionRe.ReplaceAllString(text, "#$2")

	text = linkWithTextRe.ReplaceAllString(text, "$2")
	text = bareLinkRe.ReplaceAllString(text, "$1")

	text = stripControl(text)
	return collapseWhitespace(text)
}

func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.TrimSpace(strings.Join(fields, " "))
}
