package ingestion

import (
	"errors"
	"testing"
	"time"

	"knowthis/internal/embedding"
	"knowthis/internal/model"
)

func TestTsToISODate_ValidSlackTimestamp(t *testing.T) {
	got := tsToISODate("1700000000.000100")
	want := time.Unix(1700000000, 0).UTC().Format(time.RFC3339)
	if got != want {
		t.Fatalf("tsToISODate = %q, want %q", got, want)
	}
}

func TestTsToISODate_SyntheticCanvasTimestampIsEmpty(t *testing.T) {
	if got := tsToISODate("canvas:F12345"); got != "" {
		t.Fatalf("expected empty ISO date for a non-numeric ts, got %q", got)
	}
}

func TestKindOf_ExtractsTaxonomyKind(t *testing.T) {
	err := model.NewError(model.KindUpstreamThrottled, true, "chat", "rate limited", nil)
	if kindOf(err) != model.KindUpstreamThrottled {
		t.Fatalf("expected KindUpstreamThrottled, got %s", kindOf(err))
	}
}

func TestKindOf_WrappedTaxonomyError(t *testing.T) {
	inner := model.NewError(model.KindUpstreamTimeout, true, "chat", "timeout", nil)
	wrapped := errors.Join(errors.New("context"), inner)
	if kindOf(wrapped) != model.KindUpstreamTimeout {
		t.Fatalf("expected kindOf to unwrap a joined error, got %s", kindOf(wrapped))
	}
}

func TestKindOf_UnknownErrorDefaultsToUpstreamInvalid(t *testing.T) {
	if kindOf(errors.New("boom")) != model.KindUpstreamInvalid {
		t.Fatalf("expected default KindUpstreamInvalid for an untyped error")
	}
}

func TestBuildMetadata_CarriesResolvedNamesAndChunkInfo(t *testing.T) {
	rm := resolvedMessage{
		msg: model.Message{
			ChannelID:      "C1",
			TS:             "1700000000.000100",
			AuthorUserID:   "U1",
			ThreadParentTS: "1699999999.000000",
			Kind:           model.KindThreadReply,
		},
		channelName:  "engineering",
		userName:     "Ada Lovelace",
		hasReactions: true,
	}
	chunk := embedding.Chunk{Index: 1, Total: 2, Text: "chunk body"}

	md := buildMetadata(rm, chunk)

	if md.ChannelName != "engineering" || md.UserName != "Ada Lovelace" {
		t.Fatalf("unexpected resolved names in metadata: %+v", md)
	}
	if md.ChunkIndex != 1 || md.ChunkTotal != 2 {
		t.Fatalf("unexpected chunk fields: %+v", md)
	}
	if !md.HasReactions {
		t.Fatalf("expected HasReactions to carry through")
	}
	if md.ThreadRootTS != "1699999999.000000" {
		t.Fatalf("expected thread root ts to carry through, got %s", md.ThreadRootTS)
	}
	if md.TextExcerpt != "chunk body" {
		t.Fatalf("expected text excerpt from the chunk, got %s", md.TextExcerpt)
	}
}
