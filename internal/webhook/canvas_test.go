package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestHandleCanvasUpdate_RejectsMissingSignature(t *testing.T) {
	h := NewHandler("s3cret", nil)
	body := `{"channel_id":"C1","event":"canvas.updated"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/canvas-update", strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.HandleCanvasUpdate(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHandleCanvasUpdate_RejectsWrongSignature(t *testing.T) {
	h := NewHandler("s3cret", nil)
	body := `{"channel_id":"C1","event":"canvas.updated"}`
	req := httptest.NewRequest(http.MethodPost, "/webhook/canvas-update", strings.NewReader(body))
	req.Header.Set("X-Canvas-Signature", "sha256="+strings.Repeat("0", 64))
	rr := httptest.NewRecorder()
	h.HandleCanvasUpdate(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestHandleCanvasUpdate_RejectsMalformedBodyEvenWithValidSignature(t *testing.T) {
	secret := "s3cret"
	body := []byte(`not json`)
	h := NewHandler(secret, nil)
	req := httptest.NewRequest(http.MethodPost, "/webhook/canvas-update", strings.NewReader(string(body)))
	req.Header.Set("X-Canvas-Signature", sign(secret, body))
	rr := httptest.NewRecorder()
	h.HandleCanvasUpdate(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestVerifyHMAC_AcceptsValidSignatureWithPrefix(t *testing.T) {
	secret := "s3cret"
	h := &Handler{secret: secret}
	body := []byte(`{"channel_id":"C1"}`)
	if !h.verifyHMAC(body, sign(secret, body)) {
		t.Fatalf("expected a correctly signed body to verify")
	}
}

func TestVerifyHMAC_RejectsEmptySecret(t *testing.T) {
	h := &Handler{secret: ""}
	body := []byte(`{"channel_id":"C1"}`)
	if h.verifyHMAC(body, sign("anything", body)) {
		t.Fatalf("expected verification to fail with no configured secret")
	}
}
