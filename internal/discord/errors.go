package discord

import (
	"errors"
	"fmt"
)

// Discord APIのJSONエラーコード。
// https://discord.com/developers/docs/topics/opcodes-and-status-codes
const (
	codeUnknownChannel   = 10003
	codeUnknownGuild     = 10004
	codeUnknownMember    = 10007
	codeUnknownRole      = 10011
	codeUnknownUser      = 10013
	codeCannotSendToUser = 50007
)

// プロバイダのエラー状態を表すセンチネルエラー。
// 呼び出し元はerrors.Isで分類し、配信ワークフローのエラー分類に対応付ける。
var (
	// ErrUnknownUser はユーザーIDが存在しない。
	ErrUnknownUser = errors.New("discord: unknown user")
	// ErrUnknownGuild はギルドIDが存在しないかボットが参加していない。
	ErrUnknownGuild = errors.New("discord: unknown guild")
	// ErrUnknownMember はユーザーがギルドのメンバーではない。
	ErrUnknownMember = errors.New("discord: unknown member")
	// ErrUnknownRole はロールIDが存在しない。
	ErrUnknownRole = errors.New("discord: unknown role")
	// ErrUnknownChannel はチャンネルIDが存在しない。
	ErrUnknownChannel = errors.New("discord: unknown channel")
	// ErrMessagesDisabled は受信者がDMを受け付けない設定になっている。
	ErrMessagesDisabled = errors.New("discord: cannot send messages to this user")
)

// StatusError は上記に分類されないAPIエラーを表す。
type StatusError struct {
	StatusCode int    // HTTPステータスコード
	Code       int    // Discord APIのJSONエラーコード（存在する場合）
	Message    string // APIが返したエラーメッセージ
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("discord: API error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("discord: API error %d: %s", e.StatusCode, e.Message)
}

// mapAPIError はAPIエラーレスポンスをセンチネルエラーに対応付ける。
// 既知コード以外はStatusErrorとして返す。
func mapAPIError(statusCode, code int, message string) error {
	switch code {
	case codeUnknownUser:
		return ErrUnknownUser
	case codeUnknownGuild:
		return ErrUnknownGuild
	case codeUnknownMember:
		return ErrUnknownMember
	case codeUnknownRole:
		return ErrUnknownRole
	case codeUnknownChannel:
		return ErrUnknownChannel
	case codeCannotSendToUser:
		return ErrMessagesDisabled
	}
	return &StatusError{StatusCode: statusCode, Code: code, Message: message}
}
