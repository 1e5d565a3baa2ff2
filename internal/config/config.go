package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/propquant/courier/internal/model"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Discord
	BotToken        string
	GuildID         string // 空の場合はメンバーシップ・ロール付与ロジックを無効化する
	ProviderTimeout time.Duration

	// プランごとのロールID。空のプランは自動付与の対象外（縮退配信）。
	PlanRoleIDs map[model.PlanType]string

	// Invite
	InviteMaxAge time.Duration

	// License record service（両方設定された場合のみスイープが有効になる）
	LicenseAPIURL string
	LicenseAPIKey string

	// Sweep
	SweepHour          int
	SweepMinute        int
	ReminderWindowDays int

	// Rate Limit
	RateLimitDeliver int // /deliver のレート（req/min/IP）

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.BotToken = os.Getenv("DISCORD_BOT_TOKEN")
	if cfg.BotToken == "" {
		missing = append(missing, "DISCORD_BOT_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.GuildID = getEnvString("GUILD_ID", "")
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)

	cfg.PlanRoleIDs = map[model.PlanType]string{
		model.PlanMonthly:   getEnvString("MONTHLY_ROLE_ID", ""),
		model.PlanQuarterly: getEnvString("QUARTERLY_ROLE_ID", ""),
		model.PlanLifetime:  getEnvString("LIFETIME_ROLE_ID", ""),
	}

	cfg.InviteMaxAge = getEnvDuration("INVITE_MAX_AGE", 24*time.Hour)

	cfg.LicenseAPIURL = getEnvString("LICENSE_API_URL", "")
	cfg.LicenseAPIKey = getEnvString("LICENSE_API_KEY", "")

	cfg.SweepHour = getEnvInt("SWEEP_HOUR", 9)
	cfg.SweepMinute = getEnvInt("SWEEP_MINUTE", 0)
	cfg.ReminderWindowDays = getEnvInt("REMINDER_WINDOW_DAYS", 3)

	cfg.RateLimitDeliver = getEnvInt("RATE_LIMIT_DELIVER", 60)

	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	if cfg.SweepHour < 0 || cfg.SweepHour > 23 {
		return nil, fmt.Errorf("SWEEP_HOUR must be in 0-23, got %d", cfg.SweepHour)
	}
	if cfg.SweepMinute < 0 || cfg.SweepMinute > 59 {
		return nil, fmt.Errorf("SWEEP_MINUTE must be in 0-59, got %d", cfg.SweepMinute)
	}

	return cfg, nil
}

// SweepEnabled はライセンスレコードサービスの設定が揃っているかを返す。
// URLとキーの両方が設定されている場合のみスイープを起動する。
func (c *Config) SweepEnabled() bool {
	return c.LicenseAPIURL != "" && c.LicenseAPIKey != ""
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
