// Package licensing はライセンス管理APIとの連携を提供する。
// 失効間近・失効済みライセンスの取得に使用する。
package licensing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/propquant/courier/internal/model"
)

// Client はライセンス管理APIのクライアント。
// Bearerトークン認証で失効レコードを取得する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string
	apiKey     string
}

// NewClient はClient の新しいインスタンスを生成する。
// baseURLは末尾スラッシュの有無を問わない。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, apiKey string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// ExpiringLicenses は失効間近および失効済みのライセンスレコードを取得する。
// レスポンスは有効期限の昇順とは限らないため、呼び出し元で並び順に依存しないこと。
// 取得失敗時はエラーを返す（その日の巡回はスキップされ、翌日再試行される）。
func (c *Client) ExpiringLicenses(ctx context.Context) ([]model.ExpiryRecord, error) {
	reqURL := c.baseURL + "/licenses/expiring"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "Courier/1.0 Delivery Bot")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("ライセンスAPIの呼び出しに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("ライセンスAPIがエラーステータスを返しました",
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("ライセンスAPIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var records []model.ExpiryRecord
	if err := json.Unmarshal(body, &records); err != nil {
		c.logger.Error("ライセンスAPIのレスポンスのパースに失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	return records, nil
}
