package search

import (
	"context"
	"testing"
	"time"

	"knowthis/internal/chatclient"
	"knowthis/internal/enhancer"
	"knowthis/internal/model"
	"knowthis/internal/ratelimit"
	"knowthis/internal/vectorstore"
)

func TestClampTopK(t *testing.T) {
	cases := map[int]int{
		0:   defaultTopK,
		-5:  defaultTopK,
		1:   1,
		50:  50,
		999: 50,
		25:  25,
	}
	for in, want := range cases {
		if got := clampTopK(in); got != want {
			t.Fatalf("clampTopK(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestFingerprint_StableForIdenticalInputs(t *testing.T) {
	f := vectorstore.Filter{ChannelID: "C1", TSFrom: "100"}
	a := fingerprint("deploy failures", 5, f)
	b := fingerprint("deploy failures", 5, f)
	if a != b {
		t.Fatalf("expected identical fingerprints for identical inputs")
	}
}

func TestFingerprint_DiffersOnFilterChange(t *testing.T) {
	a := fingerprint("deploy failures", 5, vectorstore.Filter{ChannelID: "C1"})
	b := fingerprint("deploy failures", 5, vectorstore.Filter{ChannelID: "C2"})
	if a == b {
		t.Fatalf("expected different fingerprints for different filters")
	}
}

func newTestChatClient() *chatclient.Client {
	return chatclient.New("xoxb-fake", ratelimit.NewChatGovernor(0))
}

func TestBuildFilter_UnresolvedChannelNameFallsBackToRawValue(t *testing.T) {
	svc := New(nil, nil, nil, newTestChatClient(), nil, "")
	f, err := svc.buildFilter(enhancer.EnhancedQuery{ChannelFilter: "engineering"})
	if err != nil {
		t.Fatalf("buildFilter: %v", err)
	}
	if f.ChannelID != "engineering" {
		t.Fatalf("expected unresolved name to pass through, got %q", f.ChannelID)
	}
}

func TestBuildFilter_DateRangeIsInclusiveUTC(t *testing.T) {
	svc := New(nil, nil, nil, newTestChatClient(), nil, "")
	f, err := svc.buildFilter(enhancer.EnhancedQuery{DateFrom: "2024-03-01", DateTo: "2024-03-31"})
	if err != nil {
		t.Fatalf("buildFilter: %v", err)
	}

	wantFrom := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Unix()
	if f.TSFrom != itoa(wantFrom) {
		t.Fatalf("TSFrom = %s, want %d", f.TSFrom, wantFrom)
	}

	wantToUnix := time.Date(2024, 3, 31, 23, 59, 59, 0, time.UTC).Unix()
	if f.TSTo != itoa(wantToUnix)+".999999" {
		t.Fatalf("TSTo = %s, want %d.999999", f.TSTo, wantToUnix)
	}
}

func TestBuildFilter_InvalidDateReturnsError(t *testing.T) {
	svc := New(nil, nil, nil, newTestChatClient(), nil, "")
	if _, err := svc.buildFilter(enhancer.EnhancedQuery{DateFrom: "not-a-date"}); err == nil {
		t.Fatalf("expected an error for a malformed date_from")
	}
}

func TestAssembleResult_SynthesizesPermalinkWhenDomainConfigured(t *testing.T) {
	svc := New(nil, nil, nil, newTestChatClient(), nil, "acme")
	hit := vectorstore.Hit{
		ID:    "C1:1700000000.000100",
		Score: 0.9,
		Metadata: model.Metadata{
			ChannelID: "C1", ChannelName: "engineering", TS: "1700000000.000100",
		},
	}
	r := svc.assembleResult(hit)
	want := "https://acme.slack.com/archives/C1/p1700000000000100"
	if r.Permalink != want {
		t.Fatalf("Permalink = %q, want %q", r.Permalink, want)
	}
}

func TestAssembleResult_SkipsPermalinkForCanvasSyntheticTS(t *testing.T) {
	svc := New(nil, nil, nil, newTestChatClient(), nil, "acme")
	hit := vectorstore.Hit{Metadata: model.Metadata{ChannelID: "C1", TS: "canvas:F1"}}
	r := svc.assembleResult(hit)
	if r.Permalink != "" {
		t.Fatalf("expected no permalink for a synthetic canvas ts, got %q", r.Permalink)
	}
}

func TestMemoryCache_SetGetAndExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	resp := Response{Total: 1, TopK: 10}

	c.Set(ctx, "k1", resp, 20*time.Millisecond)
	if got, ok := c.Get(ctx, "k1"); !ok || got.Total != 1 {
		t.Fatalf("expected cache hit immediately after Set")
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get(ctx, "k1"); ok {
		t.Fatalf("expected cache entry to expire")
	}
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
