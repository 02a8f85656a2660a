package rpcserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"knowthis/internal/chatclient"
	"knowthis/internal/ingestion"
	"knowthis/internal/ratelimit"
	"knowthis/internal/tools"
	"knowthis/internal/vectorstore"
)

var testToken = "mcp_key_" + strings.Repeat("0123456789abcdef", 3)

type fixedStatsStore struct{ stats vectorstore.Stats }

func (f *fixedStatsStore) Upsert(ctx context.Context, batch []vectorstore.Record) error { return nil }
func (f *fixedStatsStore) Query(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]vectorstore.Hit, error) {
	return nil, nil
}
func (f *fixedStatsStore) Stats(ctx context.Context) (vectorstore.Stats, error) { return f.stats, nil }
func (f *fixedStatsStore) DeleteByChannel(ctx context.Context, channelID string) error { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	chat := chatclient.New("xoxb-fake", ratelimit.NewChatGovernor(0))
	store := &fixedStatsStore{stats: vectorstore.Stats{TotalVectors: 7, Channels: 1}}
	statePath := filepath.Join(t.TempDir(), "state.json")
	state, err := ingestion.Open(statePath)
	if err != nil {
		t.Fatalf("ingestion.Open: %v", err)
	}
	registry := tools.NewRegistry(nil, chat, store, state)

	sessions, err := NewSessionStore()
	if err != nil {
		t.Fatalf("NewSessionStore: %v", err)
	}
	t.Cleanup(func() { sessions.Close() })

	return New(registry, sessions, []string{testToken}, []string{"https://example.com"}, chat, store)
}

func doRPC(t *testing.T, s *Server, method, sessionID, token string, body Request) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(string(raw)))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func TestInitialize_WithoutTokenReturnsHTTP401(t *testing.T) {
	s := newTestServer(t)
	rr := doRPC(t, s, "initialize", "", "", Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestInitialize_WithValidTokenReturnsSession(t *testing.T) {
	s := newTestServer(t)
	rr := doRPC(t, s, "initialize", "", testToken, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}

func TestToolsList_WithoutAuthReturnsHTTP200AndJSONRPCAuthError(t *testing.T) {
	s := newTestServer(t)
	rr := doRPC(t, s, "tools/list", "somesession", "", Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/list"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected transport-level 200, got %d", rr.Code)
	}
	var resp Response
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error == nil || resp.Error.Code != codeAuthFailed {
		t.Fatalf("expected -32001, got %+v", resp.Error)
	}
}

func TestToolsList_MissingSessionReturnsSessionInvalid(t *testing.T) {
	s := newTestServer(t)
	rr := doRPC(t, s, "tools/list", "", testToken, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/list"})
	var resp Response
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Error == nil || resp.Error.Code != codeSessionInvalid {
		t.Fatalf("expected -32002, got %+v", resp.Error)
	}
}

func TestToolsList_UnknownSessionReturnsSessionInvalid(t *testing.T) {
	s := newTestServer(t)
	rr := doRPC(t, s, "tools/list", "not-a-real-session", testToken, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "tools/list"})
	var resp Response
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Error == nil || resp.Error.Code != codeSessionInvalid {
		t.Fatalf("expected -32002, got %+v", resp.Error)
	}
}

func TestToolsList_ValidSessionReturnsThreeTools(t *testing.T) {
	s := newTestServer(t)
	init := doRPC(t, s, "initialize", "", testToken, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	var initResp Response
	json.Unmarshal(init.Body.Bytes(), &initResp)
	result := initResp.Result.(map[string]any)
	sessionID := result["session_id"].(string)

	rr := doRPC(t, s, "tools/list", sessionID, testToken, Request{JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "tools/list"})
	var resp Response
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	listResult := resp.Result.(map[string]any)
	toolsList := listResult["tools"].([]any)
	if len(toolsList) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(toolsList))
	}
}

func TestToolsCall_UnknownToolReturnsMethodNotFound(t *testing.T) {
	s := newTestServer(t)
	init := doRPC(t, s, "initialize", "", testToken, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	var initResp Response
	json.Unmarshal(init.Body.Bytes(), &initResp)
	sessionID := initResp.Result.(map[string]any)["session_id"].(string)

	params, _ := json.Marshal(ToolsCallParams{Name: "delete_everything"})
	rr := doRPC(t, s, "tools/call", sessionID, testToken, Request{
		JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "tools/call", Params: params,
	})
	var resp Response
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("expected -32601, got %+v", resp.Error)
	}
}

func TestToolsCall_StatsToolSucceeds(t *testing.T) {
	s := newTestServer(t)
	init := doRPC(t, s, "initialize", "", testToken, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	var initResp Response
	json.Unmarshal(init.Body.Bytes(), &initResp)
	sessionID := initResp.Result.(map[string]any)["session_id"].(string)

	params, _ := json.Marshal(ToolsCallParams{Name: "stats"})
	rr := doRPC(t, s, "tools/call", sessionID, testToken, Request{
		JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "tools/call", Params: params,
	})
	var resp Response
	json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	result := resp.Result.(map[string]any)
	if result["total_vectors"].(float64) != 7 {
		t.Fatalf("expected total_vectors=7, got %+v", result)
	}
}

func TestPerSessionRateLimit_ExceededReturnsUpstreamFailure(t *testing.T) {
	s := newTestServer(t)
	init := doRPC(t, s, "initialize", "", testToken, Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: "initialize"})
	var initResp Response
	json.Unmarshal(init.Body.Bytes(), &initResp)
	sessionID := initResp.Result.(map[string]any)["session_id"].(string)

	var lastResp Response
	for i := 0; i < 15; i++ {
		rr := doRPC(t, s, "tools/list", sessionID, testToken, Request{JSONRPC: "2.0", ID: json.RawMessage(`2`), Method: "tools/list"})
		json.Unmarshal(rr.Body.Bytes(), &lastResp)
		if lastResp.Error != nil && lastResp.Error.Code == codeUpstreamFailure {
			return
		}
	}
	t.Fatalf("expected rate limit to trigger -32003 within 15 rapid requests, last: %+v", lastResp.Error)
}

func TestValidToken_RejectsWrongLength(t *testing.T) {
	if validToken("mcp_key_short", []string{testToken}) {
		t.Fatalf("expected a too-short token to be rejected")
	}
}

func TestValidToken_RejectsMissingPrefix(t *testing.T) {
	wrongPrefix := "nope_key_" + strings.Repeat("a", 48)
	if validToken(wrongPrefix, []string{testToken}) {
		t.Fatalf("expected a token with the wrong prefix to be rejected")
	}
}
