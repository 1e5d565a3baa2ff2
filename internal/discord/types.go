// Package discord はDiscord REST API (v10) のクライアントを提供する。
// ユーザー・ギルド・メンバー・ロールの取得、ロール付与/剥奪、招待作成、
// DM送信など、配信ワークフローが必要とする操作のみを実装する。
package discord

import "strconv"

// User はDiscordのユーザーを表す。
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	GlobalName    string `json:"global_name"`
}

// Tag はログ・ヘルスチェック表示用のユーザータグを返す。
// 新ユーザー名システム（discriminatorが"0"）の場合はusernameのみを返す。
func (u *User) Tag() string {
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

// Guild はDiscordのギルド（サーバー）を表す。
type Guild struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"owner_id"`
}

// Role はギルドのロールを表す。
// PermissionsはAPI v10では10進数文字列で返される。
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Permissions string `json:"permissions"`
}

// Member はギルドメンバーを表す。
type Member struct {
	User  *User    `json:"user"`
	Roles []string `json:"roles"`
}

// HasRole はメンバーが指定ロールを保持しているかを返す。
func (m *Member) HasRole(roleID string) bool {
	for _, r := range m.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// チャンネル種別。テキストチャンネルのみ招待作成の対象とする。
const ChannelTypeGuildText = 0

// PermissionOverwrite はチャンネルごとの権限上書きを表す。
type PermissionOverwrite struct {
	ID    string `json:"id"`
	Type  int    `json:"type"` // 0: role, 1: member
	Allow string `json:"allow"`
	Deny  string `json:"deny"`
}

// Channel はギルドのチャンネルを表す。
type Channel struct {
	ID                   string                `json:"id"`
	Name                 string                `json:"name"`
	Type                 int                   `json:"type"`
	PermissionOverwrites []PermissionOverwrite `json:"permission_overwrites"`
}

// InviteParams は招待作成のパラメータ。
type InviteParams struct {
	MaxAgeSeconds int    // 招待の有効期間（秒）
	MaxUses       int    // 使用回数上限
	Unique        bool   // 既存招待を再利用しない
	Reason        string // 監査ログに記録される理由
}

// Invite は作成された招待を表す。
type Invite struct {
	Code string `json:"code"`
}

// URL は招待の参加リンクを返す。
func (i *Invite) URL() string {
	return "https://discord.gg/" + i.Code
}

// Embed はDMで送信する埋め込みメッセージを表す。
type Embed struct {
	Title       string        `json:"title,omitempty"`
	Description string        `json:"description,omitempty"`
	Color       int           `json:"color,omitempty"`
	Fields      []*EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter  `json:"footer,omitempty"`
	Timestamp   string        `json:"timestamp,omitempty"`
}

// EmbedField は埋め込みメッセージの1セクションを表す。
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// EmbedFooter は埋め込みメッセージのフッターを表す。
type EmbedFooter struct {
	Text string `json:"text"`
}

// parsePermissions はAPIが返す10進数文字列の権限ビット列をパースする。
// パース不能な場合は0（権限なし）として扱う。
func parsePermissions(s string) uint64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
