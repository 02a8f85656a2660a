package chatclient

import (
	"context"
	"strings"

	"knowthis/internal/model"
	"knowthis/internal/ratelimit"

	"github.com/PuerkitoBio/goquery"
	"github.com/slack-go/slack"
)

// ExtractCanvas fetches the channel's linked canvas (if any) and renders it
// to plaintext, ignoring markup that cannot be rendered to prose. Returns
// (nil, nil) when the channel has no canvas reference.
func (c *Client) ExtractCanvas(ctx context.Context, channelID string) (*model.Canvas, error) {
	ch, err := c.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if ch.CanvasFile == "" {
		return nil, nil
	}

	var file *slack.File
	err = ratelimit.Retry(ctx, 3, 0, model.Transient, func(ctx context.Context) error {
		if aerr := c.governor.Acquire(ctx, ratelimit.ProviderChat, ratelimit.EndpointFilesInfo); aerr != nil {
			return aerr
		}
		f, _, _, ferr := c.api.GetFileInfoContext(ctx, ch.CanvasFile, 0, 0)
		if ferr != nil {
			return c.classify(ratelimit.EndpointFilesInfo, ferr)
		}
		file = f
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := c.governor.Acquire(ctx, ratelimit.ProviderChat, ratelimit.EndpointCanvasesRead); err != nil {
		return nil, err
	}

	body := HTMLToProse(file.PreviewHighlight)
	if body == "" {
		body = HTMLToProse(file.Preview)
	}

	return &model.Canvas{
		ID:        file.ID,
		Title:     file.Title,
		Body:      body,
		ChannelID: channelID,
	}, nil
}

// HTMLToProse strips markup down to collapsed plaintext, dropping tags that
// cannot be rendered to prose (scripts, styles) and keeping block text.
func HTMLToProse(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapseWhitespace(html)
	}
	doc.Find("script,style").Remove()
	text := doc.Text()
	return collapseWhitespace(stripControl(text))
}
