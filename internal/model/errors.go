// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"strings"
)

// APIError は統一エラーフォーマットを表す。
// 配信トリガーの呼び出し元がリトライ・人手対応・手動フォローアップを
// 判断できるよう、原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, provider, delivery, system
	Action   string // 呼び出し元向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	// ErrCodeInvalidRequest は必須フィールド欠落。外部呼び出し前に検出され、副作用は発生しない。
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	// ErrCodeUnknownPlan は未知のプラン種別。
	ErrCodeUnknownPlan = "UNKNOWN_PLAN"
	// ErrCodeRecipientNotFound はプロバイダが受信者IDを認識しない。
	ErrCodeRecipientNotFound = "RECIPIENT_NOT_FOUND"
	// ErrCodeDeliveryBlocked は受信者がDMを拒否している。
	// 送信前に適用済みのロール付与・招待は取り消さない（at-least-once設計）。
	ErrCodeDeliveryBlocked = "DELIVERY_BLOCKED"
	// ErrCodeCommunityDegraded はギルド・チャンネル・ロール解決の失敗。
	// リクエスト全体は失敗させず、認証情報のみの配信に縮退する。
	ErrCodeCommunityDegraded = "COMMUNITY_DEGRADED"
	// ErrCodeProviderUnavailable は一時的なプロバイダ障害。
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
)

// NewInvalidRequestError は必須フィールド欠落エラーを生成する。
func NewInvalidRequestError(missing []string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Missing required fields: %s", strings.Join(missing, ", ")),
		Category: "validation",
		Action:   "Include discord_id and license_key in the request body.",
	}
}

// NewUnknownPlanError は未知のプラン種別エラーを生成する。
func NewUnknownPlanError(plan string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownPlan,
		Message:  fmt.Sprintf("Unknown plan type: %q", plan),
		Category: "validation",
		Action:   "Use one of: monthly, quarterly, lifetime.",
	}
}

// NewRecipientNotFoundError は受信者未検出エラーを生成する。
func NewRecipientNotFoundError(discordID string) *APIError {
	return &APIError{
		Code:     ErrCodeRecipientNotFound,
		Message:  fmt.Sprintf("Recipient not found: %s", discordID),
		Category: "provider",
		Action:   "Verify the buyer's Discord ID and mark the purchase for manual follow-up.",
	}
}

// NewDeliveryBlockedError はDM拒否エラーを生成する。
// ロール付与や招待の副作用は既に適用済みの場合があるが、取り消さない。
func NewDeliveryBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeDeliveryBlocked,
		Message:  "Recipient has direct messages disabled.",
		Category: "delivery",
		Action:   "Ask the buyer to enable DMs from server members, then retry.",
	}
}

// NewCommunityDegradedError はコミュニティ統合の縮退エラーを生成する。
func NewCommunityDegradedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeCommunityDegraded,
		Message:  fmt.Sprintf("Community integration skipped: %s", reason),
		Category: "provider",
		Action:   "Check the guild and role configuration.",
	}
}

// NewProviderUnavailableError はプロバイダ障害エラーを生成する。
func NewProviderUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  fmt.Sprintf("Provider request failed: %s", reason),
		Category: "provider",
		Action:   "Retry after a short delay.",
	}
}
