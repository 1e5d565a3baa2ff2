package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// defaultEndpoint はDiscord REST APIのベースURL。
const defaultEndpoint = "https://discord.com/api/v10"

// StatusRecorder はプロバイダAPIのHTTPステータスを記録するインターフェース。
// メトリクス収集用。nilの場合は記録しない。
type StatusRecorder interface {
	RecordProviderStatus(statusCode int)
}

// Client はDiscord REST APIのクライアント。
// Botトークンで認証し、配信ワークフローが必要とする操作のみを提供する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	token      string
	recorder   StatusRecorder
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
// recorderはnilを許容する。
func NewClient(httpClient *http.Client, logger *slog.Logger, token string, recorder StatusRecorder) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		token:      token,
		recorder:   recorder,
		endpoint:   defaultEndpoint,
	}
}

// SetEndpoint はAPIエンドポイントを差し替える。テスト用。
func (c *Client) SetEndpoint(endpoint string) {
	c.endpoint = endpoint
}

// apiErrorBody はDiscord APIのエラーレスポンスボディ。
type apiErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// do はAPIリクエストを実行し、2xxの場合はoutにレスポンスをデコードする。
// エラーレスポンスはセンチネルエラーまたはStatusErrorに対応付ける。
// reasonが空でない場合はX-Audit-Log-Reasonヘッダーに設定する。
func (c *Client) do(ctx context.Context, method, path string, body any, reason string, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reqBody)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.token)
	req.Header.Set("User-Agent", "Courier/1.0 Delivery Bot")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if reason != "" {
		req.Header.Set("X-Audit-Log-Reason", reason)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Discord APIの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("discord: request failed: %w", err)
	}
	defer resp.Body.Close()

	if c.recorder != nil {
		c.recorder.RecordProviderStatus(resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiErrorBody
		// ボディがJSONでない場合はコード0のStatusErrorになる
		_ = json.Unmarshal(respBody, &apiErr)

		c.logger.Warn("Discord APIがエラーステータスを返しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.Int("api_code", apiErr.Code),
		)
		return mapAPIError(resp.StatusCode, apiErr.Code, apiErr.Message)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
		}
	}

	return nil
}

// CurrentUser はログイン中のBotユーザーを取得する。
// 起動時のレディネスチェックとヘルスチェック表示に使用する。
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/users/@me", nil, "", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// User はユーザーをIDで取得する。
func (c *Client) User(ctx context.Context, userID string) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/users/"+userID, nil, "", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Guild はギルドをIDで取得する。
func (c *Client) Guild(ctx context.Context, guildID string) (*Guild, error) {
	var g Guild
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID, nil, "", &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// GuildMember はギルドメンバーをユーザーIDで取得する。
// 非メンバーの場合はErrUnknownMemberを返す。
func (c *Client) GuildMember(ctx context.Context, guildID, userID string) (*Member, error) {
	var m Member
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/members/"+userID, nil, "", &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GuildRoles はギルドの全ロールを取得する。
func (c *Client) GuildRoles(ctx context.Context, guildID string) ([]Role, error) {
	var roles []Role
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/roles", nil, "", &roles); err != nil {
		return nil, err
	}
	return roles, nil
}

// AddMemberRole はメンバーにロールを付与する。
// APIのPUT操作は冪等であり、付与済みロールの再付与はno-opになる。
func (c *Client) AddMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	path := "/guilds/" + guildID + "/members/" + userID + "/roles/" + roleID
	return c.do(ctx, http.MethodPut, path, nil, reason, nil)
}

// RemoveMemberRole はメンバーからロールを剥奪する。
func (c *Client) RemoveMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	path := "/guilds/" + guildID + "/members/" + userID + "/roles/" + roleID
	return c.do(ctx, http.MethodDelete, path, nil, reason, nil)
}

// GuildChannels はギルドの全チャンネルを取得する。
func (c *Client) GuildChannels(ctx context.Context, guildID string) ([]Channel, error) {
	var channels []Channel
	if err := c.do(ctx, http.MethodGet, "/guilds/"+guildID+"/channels", nil, "", &channels); err != nil {
		return nil, err
	}
	return channels, nil
}

// createInviteBody は招待作成リクエストのボディ。
type createInviteBody struct {
	MaxAge  int  `json:"max_age"`
	MaxUses int  `json:"max_uses"`
	Unique  bool `json:"unique"`
}

// CreateChannelInvite はチャンネルに招待を作成する。
func (c *Client) CreateChannelInvite(ctx context.Context, channelID string, params InviteParams) (*Invite, error) {
	body := createInviteBody{
		MaxAge:  params.MaxAgeSeconds,
		MaxUses: params.MaxUses,
		Unique:  params.Unique,
	}

	var inv Invite
	if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/invites", body, params.Reason, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}

// createDMBody はDMチャンネル作成リクエストのボディ。
type createDMBody struct {
	RecipientID string `json:"recipient_id"`
}

// createMessageBody はメッセージ送信リクエストのボディ。
type createMessageBody struct {
	Embeds []*Embed `json:"embeds"`
}

// SendDirectMessage はユーザーにDMで埋め込みメッセージを送信する。
// DMチャンネルを作成してからメッセージを投稿する。
// 受信者がDMを拒否している場合はErrMessagesDisabledを返す
// （拒否は投稿時に検出される。チャンネル作成自体は成功する）。
func (c *Client) SendDirectMessage(ctx context.Context, userID string, embed *Embed) error {
	var ch Channel
	if err := c.do(ctx, http.MethodPost, "/users/@me/channels", createDMBody{RecipientID: userID}, "", &ch); err != nil {
		return fmt.Errorf("DMチャンネルの作成に失敗しました: %w", err)
	}

	body := createMessageBody{Embeds: []*Embed{embed}}
	if err := c.do(ctx, http.MethodPost, "/channels/"+ch.ID+"/messages", body, "", nil); err != nil {
		return err
	}

	return nil
}
