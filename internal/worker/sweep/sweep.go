// Package sweep はライセンス失効の日次巡回ジョブを提供する。
// 失効間近のライセンスへの更新リマインドと、失効済みライセンスの
// ロール剥奪・失効通知を日次バッチで実行する。
package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/propquant/courier/internal/discord"
	"github.com/propquant/courier/internal/model"
)

// LicenseSource は失効レコードの取得インターフェース。
// licensing.Clientを注入する。
type LicenseSource interface {
	ExpiringLicenses(ctx context.Context) ([]model.ExpiryRecord, error)
}

// AccessProvider は巡回処理が必要とするDiscord操作のインターフェース。
type AccessProvider interface {
	GuildMember(ctx context.Context, guildID, userID string) (*discord.Member, error)
	RemoveMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error
	SendDirectMessage(ctx context.Context, userID string, embed *discord.Embed) error
}

// Composer はリマインド・失効通知メッセージの組み立てインターフェース。
type Composer interface {
	RenewalReminder(record *model.ExpiryRecord, days int) *discord.Embed
	ExpiryNotice(record *model.ExpiryRecord) *discord.Embed
}

// MetricsCollector は巡回ジョブのメトリクス記録インターフェース。
type MetricsCollector interface {
	RecordSweepRun()
	RecordSweepReminders(count int)
	RecordSweepRevocations(count int)
	RecordSweepFailures(count int)
}

// Report は1回の巡回の実行結果。
type Report struct {
	Processed int // 取得したレコード数
	Reminded  int // リマインドDMを送信した件数
	Revoked   int // ロール剥奪と失効通知を行った件数
	Failed    int // 処理に失敗した件数
}

// Config は巡回ジョブの設定。
type Config struct {
	GuildID            string
	PlanRoleIDs        map[model.PlanType]string
	ReminderWindowDays int
	ProviderTimeout    time.Duration
}

// Job はライセンス失効の日次巡回ジョブ。
// レコードごとに独立して処理し、1件の失敗が巡回全体を止めることはない。
// DiscordIDを持たないレコードはDiscord側の処理対象外としてスキップする。
type Job struct {
	source   LicenseSource
	provider AccessProvider
	composer Composer
	metrics  MetricsCollector
	logger   *slog.Logger
	config   Config

	now func() time.Time // テストで固定可能
}

// NewJob はJobの新しいインスタンスを生成する。
func NewJob(
	source LicenseSource,
	provider AccessProvider,
	composer Composer,
	metrics MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Job {
	if config.ReminderWindowDays <= 0 {
		config.ReminderWindowDays = 3
	}
	if config.ProviderTimeout <= 0 {
		config.ProviderTimeout = 10 * time.Second
	}
	return &Job{
		source:   source,
		provider: provider,
		composer: composer,
		metrics:  metrics,
		logger:   logger,
		config:   config,
		now:      time.Now,
	}
}

// Run は失効レコードを1回取得し、全件を巡回する。
// レコード取得自体に失敗した場合のみエラーを返す（次回の巡回で再試行される）。
// 失効済みライセンスへの通知は、失効状態が続く限り巡回のたびに送信される。
func (j *Job) Run(ctx context.Context) (*Report, error) {
	start := j.now()

	if j.metrics != nil {
		j.metrics.RecordSweepRun()
	}

	records, err := j.source.ExpiringLicenses(ctx)
	if err != nil {
		j.logger.Error("失効レコードの取得に失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	report := &Report{Processed: len(records)}

	for i := range records {
		record := &records[i]

		if record.DiscordID == "" {
			j.logger.Warn("DiscordIDのないレコードをスキップします",
				slog.String("license_key", record.LicenseKey),
			)
			continue
		}

		days := record.DaysUntilExpiry(start)

		switch {
		case days <= 0:
			if err := j.revoke(ctx, record); err != nil {
				report.Failed++
				continue
			}
			report.Revoked++
		case days <= j.config.ReminderWindowDays:
			if err := j.remind(ctx, record, days); err != nil {
				report.Failed++
				continue
			}
			report.Reminded++
		}
	}

	if j.metrics != nil {
		j.metrics.RecordSweepReminders(report.Reminded)
		j.metrics.RecordSweepRevocations(report.Revoked)
		j.metrics.RecordSweepFailures(report.Failed)
	}

	duration := j.now().Sub(start)
	j.logger.Info("ライセンス巡回が完了しました",
		slog.Int("processed", report.Processed),
		slog.Int("reminded", report.Reminded),
		slog.Int("revoked", report.Revoked),
		slog.Int("failed", report.Failed),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return report, nil
}

// remind は失効間近のライセンスに更新リマインドDMを送信する。
func (j *Job) remind(ctx context.Context, record *model.ExpiryRecord, days int) error {
	callCtx, cancel := context.WithTimeout(ctx, j.config.ProviderTimeout)
	defer cancel()

	embed := j.composer.RenewalReminder(record, days)
	if err := j.provider.SendDirectMessage(callCtx, record.DiscordID, embed); err != nil {
		j.logger.Warn("更新リマインドの送信に失敗しました",
			slog.String("discord_id", record.DiscordID),
			slog.Int("days_until_expiry", days),
			slog.String("error", err.Error()),
		)
		return err
	}

	j.logger.Info("更新リマインドを送信しました",
		slog.String("discord_id", record.DiscordID),
		slog.String("plan_type", string(record.PlanType)),
		slog.Int("days_until_expiry", days),
	)
	return nil
}

// revoke は失効済みライセンスのロールを剥奪し、失効通知DMを送信する。
// ロール剥奪は設定されたプランロールのうちメンバーが保持するもの全件が対象。
// メンバーが既にサーバーを離脱している場合は剥奪をスキップし、通知のみ行う。
// DM拒否は失敗として扱わない（剥奪自体は完了している）。
func (j *Job) revoke(ctx context.Context, record *model.ExpiryRecord) error {
	if j.config.GuildID != "" {
		if err := j.revokeRoles(ctx, record); err != nil {
			return err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, j.config.ProviderTimeout)
	defer cancel()

	embed := j.composer.ExpiryNotice(record)
	if err := j.provider.SendDirectMessage(callCtx, record.DiscordID, embed); err != nil {
		if errors.Is(err, discord.ErrMessagesDisabled) || errors.Is(err, discord.ErrUnknownUser) {
			j.logger.Warn("失効通知を送信できませんでした",
				slog.String("discord_id", record.DiscordID),
				slog.String("error", err.Error()),
			)
			return nil
		}
		j.logger.Error("失効通知の送信に失敗しました",
			slog.String("discord_id", record.DiscordID),
			slog.String("error", err.Error()),
		)
		return err
	}

	return nil
}

// revokeRoles はメンバーが保持する設定済みプランロールをすべて剥奪する。
func (j *Job) revokeRoles(ctx context.Context, record *model.ExpiryRecord) error {
	memberCtx, cancelMember := context.WithTimeout(ctx, j.config.ProviderTimeout)
	member, err := j.provider.GuildMember(memberCtx, j.config.GuildID, record.DiscordID)
	cancelMember()
	if err != nil {
		if errors.Is(err, discord.ErrUnknownMember) || errors.Is(err, discord.ErrUnknownUser) {
			j.logger.Info("メンバーが既にサーバーを離脱しています",
				slog.String("discord_id", record.DiscordID),
			)
			return nil
		}
		j.logger.Error("メンバー情報の取得に失敗しました",
			slog.String("discord_id", record.DiscordID),
			slog.String("error", err.Error()),
		)
		return err
	}

	for _, planType := range model.PlanTypes {
		roleID, ok := j.config.PlanRoleIDs[planType]
		if !ok || !member.HasRole(roleID) {
			continue
		}

		reason := string(planType) + " license expired"
		removeCtx, cancelRemove := context.WithTimeout(ctx, j.config.ProviderTimeout)
		err := j.provider.RemoveMemberRole(removeCtx, j.config.GuildID, record.DiscordID, roleID, reason)
		cancelRemove()
		if err != nil {
			j.logger.Error("ロールの剥奪に失敗しました",
				slog.String("discord_id", record.DiscordID),
				slog.String("role_id", roleID),
				slog.String("error", err.Error()),
			)
			return err
		}

		j.logger.Info("失効ライセンスのロールを剥奪しました",
			slog.String("discord_id", record.DiscordID),
			slog.String("role_id", roleID),
			slog.String("plan_type", string(planType)),
		)
	}

	return nil
}
