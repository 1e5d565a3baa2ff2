// Package delivery は購入完了後の配信オーケストレーションを提供する。
// メンバーシップ解決 → ロール付与または招待作成 → 通知組み立て → DM送信の
// ワークフローを統括する。
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/propquant/courier/internal/discord"
	"github.com/propquant/courier/internal/model"
)

// 配信経路。メトリクスのラベルに使用する。
const (
	PathMemberGrant     = "member_grant"
	PathInvite          = "invite"
	PathCredentialsOnly = "credentials_only"
)

// AccessProvider は配信ワークフローが必要とするプロバイダ操作のインターフェース。
// テスタビリティのためdiscord.Clientを抽象化する。
type AccessProvider interface {
	User(ctx context.Context, userID string) (*discord.User, error)
	Guild(ctx context.Context, guildID string) (*discord.Guild, error)
	GuildMember(ctx context.Context, guildID, userID string) (*discord.Member, error)
	GuildRoles(ctx context.Context, guildID string) ([]discord.Role, error)
	AddMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error
	GuildChannels(ctx context.Context, guildID string) ([]discord.Channel, error)
	CreateChannelInvite(ctx context.Context, channelID string, params discord.InviteParams) (*discord.Invite, error)
	SendDirectMessage(ctx context.Context, userID string, embed *discord.Embed) error
}

// Composer は配信通知の組み立てインターフェース。
type Composer interface {
	Delivery(req *model.DeliveryRequest, outcome *model.MembershipOutcome) *discord.Embed
}

// URLValidator はダウンロードURLの事前検証インターフェース。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// MetricsCollector は配信メトリクスの収集インターフェース。
type MetricsCollector interface {
	RecordDeliverySuccess(path string)
	RecordDeliveryFailure(code string)
	RecordRoleAssigned()
	RecordInviteCreated()
	RecordDeliveryLatency(duration time.Duration)
}

// Config は配信ワークフローの設定。
type Config struct {
	// GuildID が空の場合、メンバーシップ・ロール付与フェーズをスキップする。
	GuildID string
	// BotUserID は招待作成権限の計算に使用するBot自身のユーザーID。
	BotUserID string
	// PlanRoleIDs はプラン種別から付与ロールIDへのマッピング。
	// 空のプランは自動付与の対象外。
	PlanRoleIDs map[model.PlanType]string
	// InviteMaxAge は作成する招待の有効期間。
	InviteMaxAge time.Duration
	// ProviderTimeout はプロバイダ呼び出し1回あたりのタイムアウト。
	ProviderTimeout time.Duration
}

// Service は配信オーケストレーションのサービス層。
// ステートレスであり、リクエストごとに独立して完了まで実行される。
type Service struct {
	provider AccessProvider
	composer Composer
	urlGuard URLValidator
	metrics  MetricsCollector
	logger   *slog.Logger
	cfg      Config
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	provider AccessProvider,
	composer Composer,
	urlGuard URLValidator,
	metrics MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Service {
	if cfg.InviteMaxAge <= 0 {
		cfg.InviteMaxAge = 24 * time.Hour
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 10 * time.Second
	}
	return &Service{
		provider: provider,
		composer: composer,
		urlGuard: urlGuard,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
	}
}

// Deliver は1件の配信リクエストを処理する。
// フロー: 検証 → 購入者の解決 → メンバーシップ解決（ロール付与/招待作成） →
// 通知組み立て → DM送信。
//
// 副作用の順序は固定であり、DM送信は最後の外部呼び出しになる。
// 送信が失敗してもロール付与・招待の補償ロールバックは行わない
// （at-least-onceのアクセス付与として設計されている）。
func (s *Service) Deliver(ctx context.Context, req *model.DeliveryRequest) (*model.DeliveryResult, error) {
	start := time.Now()
	requestID := uuid.New().String()

	logger := s.logger.With(
		slog.String("request_id", requestID),
		slog.String("discord_id", req.DiscordID),
		slog.String("plan_type", string(req.PlanType)),
	)

	// 1. 検証。失敗時は外部呼び出しを一切行わない。
	if err := req.Validate(); err != nil {
		s.recordFailure(err)
		return nil, err
	}

	// 購入者提供のダウンロードURLが危険な場合はDMに含めず縮退する
	if req.DownloadURL != "" {
		if err := s.urlGuard.ValidateURL(req.DownloadURL); err != nil {
			logger.Warn("ダウンロードURLの検証に失敗したためDMから除外します",
				slog.String("error", err.Error()),
			)
			req.DownloadURL = ""
		}
	}

	// 2. 購入者の解決
	user, err := s.fetchUser(ctx, req.DiscordID)
	if err != nil {
		s.recordFailure(err)
		return nil, err
	}

	// 3. メンバーシップ解決。失敗はリクエスト全体を失敗させず縮退する。
	outcome := s.resolveMembership(ctx, logger, req)

	// 4. 通知組み立て
	embed := s.composer.Delivery(req, outcome)

	// 5. DM送信（最後の外部呼び出し）
	if err := s.sendMessage(ctx, user.ID, embed); err != nil {
		s.recordFailure(err)
		logger.Error("DM送信に失敗しました",
			slog.Bool("role_assigned", outcome.RoleAssigned),
			slog.Bool("invite_created", outcome.InviteURL != ""),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	result := &model.DeliveryResult{
		RequestID:     requestID,
		Success:       true,
		InServer:      outcome.IsMember,
		RoleAssigned:  outcome.RoleAssigned,
		InviteCreated: outcome.InviteURL != "",
	}
	switch {
	case outcome.RoleAssigned:
		result.Message = "Role assigned"
	case outcome.InviteURL != "":
		result.Message = "Invite sent"
	default:
		result.Message = "Credentials delivered"
	}

	if s.metrics != nil {
		s.metrics.RecordDeliverySuccess(path(outcome))
		s.metrics.RecordDeliveryLatency(time.Since(start))
	}

	logger.Info("配信が完了しました",
		slog.Bool("in_server", outcome.IsMember),
		slog.Bool("role_assigned", outcome.RoleAssigned),
		slog.Bool("invite_created", outcome.InviteURL != ""),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return result, nil
}

// fetchUser は購入者をIDで解決する。
func (s *Service) fetchUser(ctx context.Context, discordID string) (*discord.User, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	user, err := s.provider.User(callCtx, discordID)
	if err != nil {
		if errors.Is(err, discord.ErrUnknownUser) {
			return nil, model.NewRecipientNotFoundError(discordID)
		}
		return nil, model.NewProviderUnavailableError(err.Error())
	}
	return user, nil
}

// resolveMembership はメンバーシップ状態を解決し、ロール付与または招待作成を行う。
// このフェーズのプロバイダエラーは縮退扱いとし、呼び出し元には伝播しない。
func (s *Service) resolveMembership(ctx context.Context, logger *slog.Logger, req *model.DeliveryRequest) *model.MembershipOutcome {
	outcome := &model.MembershipOutcome{}

	if s.cfg.GuildID == "" {
		return outcome
	}

	_, err := s.callGuildMember(ctx, req.DiscordID)
	switch {
	case err == nil:
		// メンバー経路: プランに対応するロールを付与する
		outcome.IsMember = true
		outcome.RoleAssigned = s.assignPlanRole(ctx, logger, req)

	case errors.Is(err, discord.ErrUnknownMember):
		// 非メンバー経路: 招待可能なチャンネルを探して招待を作成する
		outcome.InviteURL = s.createInvite(ctx, logger, req)

	default:
		// ギルド自体の解決失敗など。縮退して認証情報のみの配信を続行する。
		logger.Warn("コミュニティ統合をスキップします",
			slog.String("error", err.Error()),
		)
	}

	return outcome
}

// callGuildMember は購入者のギルドメンバーシップを照会する。
func (s *Service) callGuildMember(ctx context.Context, discordID string) (*discord.Member, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	return s.provider.GuildMember(callCtx, s.cfg.GuildID, discordID)
}

// assignPlanRole はプランに対応するロールをメンバーに付与する。
// ロール未設定・解決失敗・付与失敗はいずれも縮退扱いでfalseを返す
// （認証情報の配信は続行される）。付与は冪等であり、再実行は安全。
func (s *Service) assignPlanRole(ctx context.Context, logger *slog.Logger, req *model.DeliveryRequest) bool {
	roleID := s.cfg.PlanRoleIDs[req.PlanType]
	if roleID == "" {
		logger.Info("プランに対応するロールが未設定のため付与をスキップします")
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	roles, err := s.provider.GuildRoles(callCtx, s.cfg.GuildID)
	if err != nil {
		logger.Warn("ロール一覧の取得に失敗したため付与をスキップします",
			slog.String("error", err.Error()),
		)
		return false
	}

	found := false
	for _, r := range roles {
		if r.ID == roleID {
			found = true
			break
		}
	}
	if !found {
		logger.Warn("設定されたロールがギルドに存在しません",
			slog.String("role_id", roleID),
		)
		return false
	}

	addCtx, cancelAdd := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancelAdd()

	reason := string(req.PlanType) + " purchase - " + req.DiscordUsername
	if err := s.provider.AddMemberRole(addCtx, s.cfg.GuildID, req.DiscordID, roleID, reason); err != nil {
		logger.Warn("ロール付与に失敗しました",
			slog.String("role_id", roleID),
			slog.String("error", err.Error()),
		)
		return false
	}

	if s.metrics != nil {
		s.metrics.RecordRoleAssigned()
	}
	logger.Info("ロールを付与しました", slog.String("role_id", roleID))
	return true
}

// createInvite はBotが招待作成権限を持つ最初のテキストチャンネルに
// 単回使用・期限付きの招待を作成し、そのURLを返す。
// 対象チャンネルが存在しない場合や作成に失敗した場合は空文字列を返す
// （招待なしで配信を続行する）。
func (s *Service) createInvite(ctx context.Context, logger *slog.Logger, req *model.DeliveryRequest) string {
	guildCtx, cancelGuild := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	guild, err := s.provider.Guild(guildCtx, s.cfg.GuildID)
	cancelGuild()
	if err != nil {
		logger.Warn("ギルドの取得に失敗したため招待作成をスキップします",
			slog.String("error", err.Error()),
		)
		return ""
	}

	memberCtx, cancelMember := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	botMember, err := s.provider.GuildMember(memberCtx, s.cfg.GuildID, s.cfg.BotUserID)
	cancelMember()
	if err != nil {
		logger.Warn("Botメンバーの取得に失敗したため招待作成をスキップします",
			slog.String("error", err.Error()),
		)
		return ""
	}

	rolesCtx, cancelRoles := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	roles, err := s.provider.GuildRoles(rolesCtx, s.cfg.GuildID)
	cancelRoles()
	if err != nil {
		logger.Warn("ロール一覧の取得に失敗したため招待作成をスキップします",
			slog.String("error", err.Error()),
		)
		return ""
	}

	channelsCtx, cancelChannels := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	channels, err := s.provider.GuildChannels(channelsCtx, s.cfg.GuildID)
	cancelChannels()
	if err != nil {
		logger.Warn("チャンネル一覧の取得に失敗したため招待作成をスキップします",
			slog.String("error", err.Error()),
		)
		return ""
	}

	var target *discord.Channel
	for i := range channels {
		ch := &channels[i]
		if ch.Type != discord.ChannelTypeGuildText {
			continue
		}
		if discord.CanCreateInvite(guild, roles, botMember, ch) {
			target = ch
			break
		}
	}
	if target == nil {
		logger.Info("招待を作成できるチャンネルが存在しません")
		return ""
	}

	inviteCtx, cancelInvite := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancelInvite()

	invite, err := s.provider.CreateChannelInvite(inviteCtx, target.ID, discord.InviteParams{
		MaxAgeSeconds: int(s.cfg.InviteMaxAge.Seconds()),
		MaxUses:       1,
		Unique:        true,
		Reason:        string(req.PlanType) + " purchase - " + req.DiscordUsername,
	})
	if err != nil {
		logger.Warn("招待の作成に失敗しました",
			slog.String("channel_id", target.ID),
			slog.String("error", err.Error()),
		)
		return ""
	}

	if s.metrics != nil {
		s.metrics.RecordInviteCreated()
	}
	logger.Info("招待を作成しました", slog.String("channel_id", target.ID))
	return invite.URL()
}

// sendMessage は配信通知をDMで送信する。
func (s *Service) sendMessage(ctx context.Context, userID string, embed *discord.Embed) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()

	if err := s.provider.SendDirectMessage(callCtx, userID, embed); err != nil {
		switch {
		case errors.Is(err, discord.ErrMessagesDisabled):
			return model.NewDeliveryBlockedError()
		case errors.Is(err, discord.ErrUnknownUser):
			return model.NewRecipientNotFoundError(userID)
		}
		return model.NewProviderUnavailableError(err.Error())
	}
	return nil
}

// recordFailure は失敗メトリクスを記録する。
func (s *Service) recordFailure(err error) {
	if s.metrics == nil {
		return
	}
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		s.metrics.RecordDeliveryFailure(apiErr.Code)
		return
	}
	s.metrics.RecordDeliveryFailure("UNCLASSIFIED")
}

// path は配信経路のメトリクスラベルを返す。
func path(outcome *model.MembershipOutcome) string {
	switch {
	case outcome.IsMember:
		return PathMemberGrant
	case outcome.InviteURL != "":
		return PathInvite
	}
	return PathCredentialsOnly
}
