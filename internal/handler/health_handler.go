package handler

import (
	"encoding/json"
	"net/http"
	"time"
)

// BotIdentity はBotの表示名を返す関数。
// Discordへの接続が未完了の場合は空文字列を返す。
type BotIdentity func() string

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status        string  `json:"status"`
	Bot           string  `json:"bot"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// HealthHandler はヘルスチェックのHTTPハンドラー。
// GET / と GET /health の両方で同じレスポンスを返す。
type HealthHandler struct {
	botIdentity BotIdentity
	startedAt   time.Time
}

// NewHealthHandler はHealthHandlerを生成する。
func NewHealthHandler(botIdentity BotIdentity, startedAt time.Time) *HealthHandler {
	return &HealthHandler{
		botIdentity: botIdentity,
		startedAt:   startedAt,
	}
}

// Health はプロセスの稼働状態を返す。
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	bot := h.botIdentity()
	if bot == "" {
		bot = "not ready"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(healthResponse{
		Status:        "OK",
		Bot:           bot,
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
	})
}
