// Package webhook implements the HMAC-verified /webhook/canvas-update
// endpoint, a supplemental feature carried from the original's Slab
// webhook path and generalized to the canvas concept
// (knowthis/SPEC_FULL.md "Supplemental features").
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"knowthis/internal/ingestion"
)

// CanvasUpdatePayload is the notifier's event body: which channel's canvas
// changed.
type CanvasUpdatePayload struct {
	ChannelID string `json:"channel_id"`
	Event     string `json:"event"`
}

// Handler verifies the notifier's signature and triggers a targeted,
// canvas-only re-ingestion of one channel outside the hourly schedule.
type Handler struct {
	secret string
	worker *ingestion.Worker
}

func NewHandler(secret string, worker *ingestion.Worker) *Handler {
	return &Handler{secret: secret, worker: worker}
}

func (h *Handler) HandleCanvasUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if !h.verifyHMAC(body, r.Header.Get("X-Canvas-Signature")) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var payload CanvasUpdatePayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.ChannelID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	go func() {
		defer cancel()
		summary, err := h.worker.RunCanvasOnly(ctx, payload.ChannelID)
		if err != nil {
			slog.Warn("canvas webhook refresh failed", "channel_id", payload.ChannelID, "error", err)
			return
		}
		slog.Info("canvas webhook refresh complete", "channel_id", payload.ChannelID, "run_id", summary.RunID)
	}()

	w.WriteHeader(http.StatusAccepted)
}

// verifyHMAC follows the teacher's SlabHandler.verifyHMAC pattern: an
// optional "sha256=" prefix, HMAC-SHA256 over the raw body, hex-compared
// with hmac.Equal.
func (h *Handler) verifyHMAC(body []byte, signature string) bool {
	if h.secret == "" || signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expected))
}
