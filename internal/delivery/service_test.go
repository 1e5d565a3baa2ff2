package delivery

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/propquant/courier/internal/discord"
	"github.com/propquant/courier/internal/model"
	"github.com/propquant/courier/internal/notify"
	"github.com/propquant/courier/internal/security"
)

// fakeProvider はAccessProviderのテストダブル。
// 呼び出し履歴とコンテキストのデッドラインを記録し、設定されたエラーを返す。
type fakeProvider struct {
	calls     []string
	deadlines []time.Time
	callDelay time.Duration

	userErr      error
	memberErr    error
	botMemberErr error
	guildErr     error
	rolesErr     error
	addRoleErr   error
	channelsErr  error
	inviteErr    error
	sendErr      error

	roles    []discord.Role
	channels []discord.Channel

	addedRoles    []string
	inviteParams  *discord.InviteParams
	inviteChannel string
	sentEmbeds    []*discord.Embed
}

// observe は呼び出しを履歴に追加し、コンテキストのデッドラインを記録する。
// callDelayが設定されている場合は各呼び出しの所要時間を模擬する。
func (f *fakeProvider) observe(ctx context.Context, name string) {
	f.calls = append(f.calls, name)
	if f.callDelay > 0 {
		time.Sleep(f.callDelay)
	}
	if d, ok := ctx.Deadline(); ok {
		f.deadlines = append(f.deadlines, d)
	}
}

func (f *fakeProvider) User(ctx context.Context, userID string) (*discord.User, error) {
	f.observe(ctx, "User")
	if f.userErr != nil {
		return nil, f.userErr
	}
	return &discord.User{ID: userID, Username: "alice"}, nil
}

func (f *fakeProvider) Guild(ctx context.Context, guildID string) (*discord.Guild, error) {
	f.observe(ctx, "Guild")
	if f.guildErr != nil {
		return nil, f.guildErr
	}
	return &discord.Guild{ID: guildID, OwnerID: "owner"}, nil
}

func (f *fakeProvider) GuildMember(ctx context.Context, guildID, userID string) (*discord.Member, error) {
	f.observe(ctx, "GuildMember:"+userID)
	if userID == "bot" {
		if f.botMemberErr != nil {
			return nil, f.botMemberErr
		}
		return &discord.Member{User: &discord.User{ID: "bot"}, Roles: []string{"bot-role"}}, nil
	}
	if f.memberErr != nil {
		return nil, f.memberErr
	}
	return &discord.Member{User: &discord.User{ID: userID}}, nil
}

func (f *fakeProvider) GuildRoles(ctx context.Context, guildID string) ([]discord.Role, error) {
	f.observe(ctx, "GuildRoles")
	if f.rolesErr != nil {
		return nil, f.rolesErr
	}
	return f.roles, nil
}

func (f *fakeProvider) AddMemberRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	f.observe(ctx, "AddMemberRole:"+roleID)
	if f.addRoleErr != nil {
		return f.addRoleErr
	}
	f.addedRoles = append(f.addedRoles, roleID)
	return nil
}

func (f *fakeProvider) GuildChannels(ctx context.Context, guildID string) ([]discord.Channel, error) {
	f.observe(ctx, "GuildChannels")
	if f.channelsErr != nil {
		return nil, f.channelsErr
	}
	return f.channels, nil
}

func (f *fakeProvider) CreateChannelInvite(ctx context.Context, channelID string, params discord.InviteParams) (*discord.Invite, error) {
	f.observe(ctx, "CreateChannelInvite:"+channelID)
	if f.inviteErr != nil {
		return nil, f.inviteErr
	}
	f.inviteChannel = channelID
	f.inviteParams = &params
	return &discord.Invite{Code: "testinvite"}, nil
}

func (f *fakeProvider) SendDirectMessage(ctx context.Context, userID string, embed *discord.Embed) error {
	f.observe(ctx, "SendDirectMessage:"+userID)
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sentEmbeds = append(f.sentEmbeds, embed)
	return nil
}

// 標準的なギルド構成: @everyoneは権限なし、Botロールに招待作成権限あり
func defaultRoles() []discord.Role {
	return []discord.Role{
		{ID: "g1", Permissions: "0"},
		{ID: "bot-role", Permissions: "1"}, // CREATE_INSTANT_INVITE
		{ID: "role-monthly", Permissions: "0"},
	}
}

func defaultChannels() []discord.Channel {
	return []discord.Channel{
		{ID: "voice1", Type: 2},
		{ID: "general", Type: discord.ChannelTypeGuildText},
	}
}

func newTestService(t *testing.T, provider *fakeProvider) *Service {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	composer := notify.NewComposer(security.NewTextSanitizer())

	return NewService(provider, composer, security.NewURLGuard(), nil, logger, Config{
		GuildID:   "g1",
		BotUserID: "bot",
		PlanRoleIDs: map[model.PlanType]string{
			model.PlanMonthly: "role-monthly",
		},
		InviteMaxAge:    24 * time.Hour,
		ProviderTimeout: 5 * time.Second,
	})
}

func validRequest() *model.DeliveryRequest {
	return &model.DeliveryRequest{
		DiscordID:       "123",
		DiscordUsername: "alice",
		LicenseKey:      "ABCD-1234",
		PlanType:        model.PlanMonthly,
	}
}

func TestDeliver_InvalidRequest_NoExternalCalls(t *testing.T) {
	tests := []struct {
		name     string
		req      *model.DeliveryRequest
		wantCode string
	}{
		{"discord_idなし", &model.DeliveryRequest{LicenseKey: "K", PlanType: model.PlanMonthly}, model.ErrCodeInvalidRequest},
		{"license_keyなし", &model.DeliveryRequest{DiscordID: "123", PlanType: model.PlanMonthly}, model.ErrCodeInvalidRequest},
		{"plan_typeが空", &model.DeliveryRequest{DiscordID: "123", LicenseKey: "K"}, model.ErrCodeUnknownPlan},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{}
			s := newTestService(t, provider)

			_, err := s.Deliver(context.Background(), tt.req)
			if err == nil {
				t.Fatal("検証エラーを期待した")
			}

			var apiErr *model.APIError
			if !errors.As(err, &apiErr) || apiErr.Code != tt.wantCode {
				t.Errorf("err = %v, want code %s", err, tt.wantCode)
			}

			if len(provider.calls) != 0 {
				t.Errorf("外部呼び出しが発生してはならない: %v", provider.calls)
			}
		})
	}
}

func TestDeliver_MemberWithMappedRole_AssignsRole(t *testing.T) {
	provider := &fakeProvider{roles: defaultRoles()}
	s := newTestService(t, provider)

	result, err := s.Deliver(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Deliver がエラーを返した: %v", err)
	}

	if !result.Success {
		t.Error("Success = false, want true")
	}
	if !result.InServer {
		t.Error("InServer = false, want true")
	}
	if !result.RoleAssigned {
		t.Error("RoleAssigned = false, want true")
	}
	if result.InviteCreated {
		t.Error("InviteCreated = true, want false")
	}
	if result.Message != "Role assigned" {
		t.Errorf("Message = %q, want %q", result.Message, "Role assigned")
	}

	if len(provider.addedRoles) != 1 || provider.addedRoles[0] != "role-monthly" {
		t.Errorf("付与されたロール = %v, want [role-monthly]", provider.addedRoles)
	}
}

func TestDeliver_NonMemberWithEligibleChannel_CreatesInvite(t *testing.T) {
	provider := &fakeProvider{
		memberErr: discord.ErrUnknownMember,
		roles:     defaultRoles(),
		channels:  defaultChannels(),
	}
	s := newTestService(t, provider)

	result, err := s.Deliver(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Deliver がエラーを返した: %v", err)
	}

	if result.InServer {
		t.Error("InServer = true, want false")
	}
	if result.RoleAssigned {
		t.Error("RoleAssigned = true, want false")
	}
	if !result.InviteCreated {
		t.Error("InviteCreated = false, want true")
	}
	if result.Message != "Invite sent" {
		t.Errorf("Message = %q, want %q", result.Message, "Invite sent")
	}

	// 招待は単回使用・24時間で作成される
	if provider.inviteParams == nil {
		t.Fatal("招待が作成されていない")
	}
	if provider.inviteParams.MaxUses != 1 {
		t.Errorf("MaxUses = %d, want 1", provider.inviteParams.MaxUses)
	}
	if provider.inviteParams.MaxAgeSeconds != 86400 {
		t.Errorf("MaxAgeSeconds = %d, want 86400", provider.inviteParams.MaxAgeSeconds)
	}
	if !provider.inviteParams.Unique {
		t.Error("Unique = false, want true")
	}
	if provider.inviteParams.Reason != "monthly purchase - alice" {
		t.Errorf("Reason = %q, want %q", provider.inviteParams.Reason, "monthly purchase - alice")
	}

	// テキストチャンネルのみが対象（voice1はスキップされる）
	if provider.inviteChannel != "general" {
		t.Errorf("招待チャンネル = %q, want general", provider.inviteChannel)
	}
}

func TestDeliver_NonMemberNoEligibleChannel_CredentialsOnly(t *testing.T) {
	provider := &fakeProvider{
		memberErr: discord.ErrUnknownMember,
		roles: []discord.Role{
			{ID: "g1", Permissions: "0"},
			{ID: "bot-role", Permissions: "0"}, // 招待作成権限なし
		},
		channels: defaultChannels(),
	}
	s := newTestService(t, provider)

	result, err := s.Deliver(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("配信は招待なしでも成功しなければならない: %v", err)
	}

	if result.InviteCreated {
		t.Error("InviteCreated = true, want false")
	}
	if !result.Success {
		t.Error("Success = false, want true")
	}
	if len(provider.sentEmbeds) != 1 {
		t.Errorf("DM送信回数 = %d, want 1", len(provider.sentEmbeds))
	}
}

func TestDeliver_RecipientNotFound(t *testing.T) {
	provider := &fakeProvider{userErr: discord.ErrUnknownUser}
	s := newTestService(t, provider)

	_, err := s.Deliver(context.Background(), validRequest())

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeRecipientNotFound {
		t.Errorf("err = %v, want RECIPIENT_NOT_FOUND", err)
	}
}

func TestDeliver_MessagesDisabled_BlockedAfterGrant(t *testing.T) {
	// ロール付与が成功した後にDM送信が拒否されるケース。
	// 付与済みのロールはロールバックされない。
	provider := &fakeProvider{
		roles:   defaultRoles(),
		sendErr: discord.ErrMessagesDisabled,
	}
	s := newTestService(t, provider)

	_, err := s.Deliver(context.Background(), validRequest())

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeDeliveryBlocked {
		t.Errorf("err = %v, want DELIVERY_BLOCKED", err)
	}

	if len(provider.addedRoles) != 1 {
		t.Errorf("付与済みロール = %v, want 1件（ロールバックしない）", provider.addedRoles)
	}
}

func TestDeliver_GuildResolutionFails_DegradesToCredentialsOnly(t *testing.T) {
	provider := &fakeProvider{memberErr: errors.New("provider outage")}
	s := newTestService(t, provider)

	result, err := s.Deliver(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("ギルド解決失敗は配信を失敗させてはならない: %v", err)
	}

	if result.InServer || result.RoleAssigned || result.InviteCreated {
		t.Errorf("縮退配信の結果が不正: %+v", result)
	}
	if len(provider.sentEmbeds) != 1 {
		t.Errorf("DM送信回数 = %d, want 1", len(provider.sentEmbeds))
	}
}

func TestDeliver_RoleMissingFromGuild_DegradedButDelivered(t *testing.T) {
	provider := &fakeProvider{
		roles: []discord.Role{{ID: "g1", Permissions: "0"}}, // 設定ロールが存在しない
	}
	s := newTestService(t, provider)

	result, err := s.Deliver(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("ロール未検出は配信を失敗させてはならない: %v", err)
	}

	if !result.InServer {
		t.Error("InServer = false, want true")
	}
	if result.RoleAssigned {
		t.Error("RoleAssigned = true, want false")
	}
	if len(provider.addedRoles) != 0 {
		t.Errorf("ロール付与が発生してはならない: %v", provider.addedRoles)
	}
}

func TestDeliver_UnmappedPlan_NoRoleAssignment(t *testing.T) {
	provider := &fakeProvider{roles: defaultRoles()}
	s := newTestService(t, provider)

	req := validRequest()
	req.PlanType = model.PlanLifetime // 設定にマッピングがないプラン

	result, err := s.Deliver(context.Background(), req)
	if err != nil {
		t.Fatalf("Deliver がエラーを返した: %v", err)
	}

	if result.RoleAssigned {
		t.Error("RoleAssigned = true, want false")
	}
	if !result.Success {
		t.Error("Success = false, want true")
	}
}

func TestDeliver_NoGuildConfigured_SkipsCommunityIntegration(t *testing.T) {
	provider := &fakeProvider{}
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	composer := notify.NewComposer(security.NewTextSanitizer())

	s := NewService(provider, composer, security.NewURLGuard(), nil, logger, Config{
		GuildID:         "", // ギルド未設定
		ProviderTimeout: 5 * time.Second,
	})

	result, err := s.Deliver(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("Deliver がエラーを返した: %v", err)
	}

	if result.InServer || result.RoleAssigned || result.InviteCreated {
		t.Errorf("コミュニティ統合が無効のとき結果はすべてfalseでなければならない: %+v", result)
	}

	// User と SendDirectMessage 以外の呼び出しは発生しない
	for _, call := range provider.calls {
		if call != "User" && call != "SendDirectMessage:123" {
			t.Errorf("予期しない呼び出し: %s", call)
		}
	}
}

func TestDeliver_UnsafeDownloadURL_ExcludedFromMessage(t *testing.T) {
	provider := &fakeProvider{roles: defaultRoles()}
	s := newTestService(t, provider)

	req := validRequest()
	req.DownloadURL = "http://169.254.169.254/latest/meta-data/"

	result, err := s.Deliver(context.Background(), req)
	if err != nil {
		t.Fatalf("Deliver がエラーを返した: %v", err)
	}
	if !result.Success {
		t.Error("Success = false, want true")
	}

	for _, f := range provider.sentEmbeds[0].Fields {
		if f.Name == "⬇️ Download EA" {
			t.Error("危険なダウンロードURLはDMに含まれてはならない")
		}
	}
}

func TestDeliver_SideEffectOrdering_SendIsLast(t *testing.T) {
	provider := &fakeProvider{roles: defaultRoles()}
	s := newTestService(t, provider)

	if _, err := s.Deliver(context.Background(), validRequest()); err != nil {
		t.Fatalf("Deliver がエラーを返した: %v", err)
	}

	if len(provider.calls) == 0 {
		t.Fatal("外部呼び出しが記録されていない")
	}
	last := provider.calls[len(provider.calls)-1]
	if last != "SendDirectMessage:123" {
		t.Errorf("最後の外部呼び出し = %s, want SendDirectMessage", last)
	}
}

func TestDeliver_ProviderUnavailableOnSend(t *testing.T) {
	provider := &fakeProvider{
		roles:   defaultRoles(),
		sendErr: errors.New("connection reset"),
	}
	s := newTestService(t, provider)

	_, err := s.Deliver(context.Background(), validRequest())

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeProviderUnavailable {
		t.Errorf("err = %v, want PROVIDER_UNAVAILABLE", err)
	}
}

func TestDeliver_EachProviderCallGetsOwnTimeout(t *testing.T) {
	provider := &fakeProvider{
		memberErr: discord.ErrUnknownMember,
		roles:     defaultRoles(),
		channels:  defaultChannels(),
		callDelay: 2 * time.Millisecond,
	}
	s := newTestService(t, provider)

	if _, err := s.Deliver(context.Background(), validRequest()); err != nil {
		t.Fatalf("Deliver がエラーを返した: %v", err)
	}

	// 招待経路の全外部呼び出し（ユーザー取得から招待作成とDM送信まで）が対象
	if len(provider.deadlines) != len(provider.calls) {
		t.Fatalf("デッドライン付きの呼び出し = %d, want %d", len(provider.deadlines), len(provider.calls))
	}
	if len(provider.calls) < 6 {
		t.Fatalf("外部呼び出し数 = %d, want >= 6: %v", len(provider.calls), provider.calls)
	}

	// 各呼び出しが独立したタイムアウトを持つ場合、デッドラインは呼び出しの
	// 経過時間分だけ単調に後ろへずれる。共有コンテキストでは同一値になる。
	for i := 1; i < len(provider.deadlines); i++ {
		if !provider.deadlines[i].After(provider.deadlines[i-1]) {
			t.Errorf("%s のデッドラインが前の呼び出しと共有されている: %v <= %v",
				provider.calls[i], provider.deadlines[i], provider.deadlines[i-1])
		}
	}
}
