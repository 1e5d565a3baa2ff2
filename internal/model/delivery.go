// Package model はドメインモデルを定義する。
package model

import (
	"math"
	"time"
)

// PlanType は購入プランの種別を表す。
// プランの集合は閉じており、設定時にプランごとのロールIDと対応付けられる。
type PlanType string

const (
	// PlanMonthly は月額プラン。
	PlanMonthly PlanType = "monthly"
	// PlanQuarterly は四半期プラン。
	PlanQuarterly PlanType = "quarterly"
	// PlanLifetime は買い切りプラン。
	PlanLifetime PlanType = "lifetime"
)

// PlanTypes は既知の全プラン種別。設定の検証とスイープの
// ロール剥奪処理で使用する。
var PlanTypes = []PlanType{PlanMonthly, PlanQuarterly, PlanLifetime}

// Valid は既知のプラン種別かどうかを返す。
func (p PlanType) Valid() bool {
	switch p {
	case PlanMonthly, PlanQuarterly, PlanLifetime:
		return true
	}
	return false
}

// DeliveryRequest は購入完了通知から構築される配信リクエスト。
// 1回のリクエストで消費され、永続化されない。
type DeliveryRequest struct {
	DiscordID       string   `json:"discord_id"`
	DiscordUsername string   `json:"discord_username"`
	LicenseKey      string   `json:"license_key"`
	DownloadURL     string   `json:"download_url"`
	PlanType        PlanType `json:"plan_type"`
	Email           string   `json:"email"`
}

// Validate は必須フィールドの検証を行う。
// DiscordIDとLicenseKeyが空の場合、およびプラン種別が未知または空の場合は
// 外部呼び出しを行う前にAPIErrorを返す。
func (r *DeliveryRequest) Validate() error {
	var missing []string
	if r.DiscordID == "" {
		missing = append(missing, "discord_id")
	}
	if r.LicenseKey == "" {
		missing = append(missing, "license_key")
	}
	if len(missing) > 0 {
		return NewInvalidRequestError(missing)
	}
	if !r.PlanType.Valid() {
		return NewUnknownPlanError(string(r.PlanType))
	}
	return nil
}

// MembershipOutcome はコミュニティメンバーシップ確認の一時的な結果。
// 不変条件: InviteURLはIsMemberがfalseの場合のみ設定される。
// RoleAssignedはIsMemberがtrueかつプランに対応するロールが存在する場合のみtrueになる。
type MembershipOutcome struct {
	IsMember     bool
	RoleAssigned bool
	InviteURL    string
}

// DeliveryResult は配信ワークフローの最終結果。
type DeliveryResult struct {
	RequestID     string `json:"request_id"`
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	InServer      bool   `json:"in_server"`
	RoleAssigned  bool   `json:"role_assigned"`
	InviteCreated bool   `json:"invite_created"`
}

// ExpiryRecord は外部のライセンスレコードサービスが返す1件のライセンス。
// このコアからは読み取り専用であり、レコードの更新は行わない。
type ExpiryRecord struct {
	Email      string    `json:"email"`
	DiscordID  string    `json:"discord_id"`
	LicenseKey string    `json:"license_key"`
	PlanType   PlanType  `json:"plan_type"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// DaysUntilExpiry は有効期限までの残日数を返す。
// (ExpiresAt - now) を日単位で切り上げる。期限超過の場合は0以下になる。
func (r *ExpiryRecord) DaysUntilExpiry(now time.Time) int {
	return int(math.Ceil(r.ExpiresAt.Sub(now).Hours() / 24))
}
