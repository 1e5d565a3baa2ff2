package notify

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/propquant/courier/internal/model"
	"github.com/propquant/courier/internal/security"
)

// newFixedComposer はタイムスタンプを固定したComposerを生成する。
func newFixedComposer(t *testing.T) *Composer {
	t.Helper()
	c := NewComposer(security.NewTextSanitizer())
	c.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return c
}

func baseRequest() *model.DeliveryRequest {
	return &model.DeliveryRequest{
		DiscordID:       "123",
		DiscordUsername: "alice",
		LicenseKey:      "ABCD-1234",
		PlanType:        model.PlanMonthly,
	}
}

// fieldNames は埋め込みメッセージのセクション名を順に返す。
func fieldNames(t *testing.T, c *Composer, req *model.DeliveryRequest, outcome *model.MembershipOutcome) []string {
	t.Helper()
	embed := c.Delivery(req, outcome)
	names := make([]string, len(embed.Fields))
	for i, f := range embed.Fields {
		names[i] = f.Name
	}
	return names
}

func TestComposer_Delivery_AlwaysPresentSections(t *testing.T) {
	c := newFixedComposer(t)
	names := fieldNames(t, c, baseRequest(), &model.MembershipOutcome{})

	// 常に存在するセクション: 認証情報が先頭、手順が末尾
	if len(names) != 4 {
		t.Fatalf("セクション数 = %d, want 4 (%v)", len(names), names)
	}
	if names[0] != "🔑 License Key" {
		t.Errorf("先頭セクション = %q, want License Key", names[0])
	}
	if names[1] != "📱 Plan" {
		t.Errorf("2番目 = %q, want Plan", names[1])
	}
	if names[2] != "📧 Email" {
		t.Errorf("3番目 = %q, want Email", names[2])
	}
	if names[len(names)-1] != "📖 Next Steps" {
		t.Errorf("末尾セクション = %q, want Next Steps", names[len(names)-1])
	}
}

func TestComposer_Delivery_SectionPresenceMatrix(t *testing.T) {
	c := newFixedComposer(t)

	// {ロール付与, 招待あり, ダウンロードあり, メールあり} の全16通りで
	// 包含規則と並び順を検証する
	for _, roleAssigned := range []bool{false, true} {
		for _, hasInvite := range []bool{false, true} {
			for _, hasDownload := range []bool{false, true} {
				for _, hasEmail := range []bool{false, true} {
					req := baseRequest()
					if hasDownload {
						req.DownloadURL = "https://example.com/ea.zip"
					}
					if hasEmail {
						req.Email = "alice@example.com"
					}

					outcome := &model.MembershipOutcome{
						// 招待は非メンバーのみ、ロール付与はメンバーのみ
						IsMember:     roleAssigned,
						RoleAssigned: roleAssigned,
					}
					if hasInvite {
						outcome.IsMember = false
						outcome.RoleAssigned = false
						outcome.InviteURL = "https://discord.gg/abc"
						if roleAssigned {
							// 招待とロール付与は同時に成立しない組み合わせ
							continue
						}
					}

					names := fieldNames(t, c, req, outcome)

					wantCount := 4
					if hasInvite {
						wantCount++
					}
					if outcome.RoleAssigned {
						wantCount++
					}
					if hasDownload {
						wantCount++
					}
					if len(names) != wantCount {
						t.Errorf("role=%v invite=%v dl=%v email=%v: セクション数 = %d, want %d (%v)",
							roleAssigned, hasInvite, hasDownload, hasEmail, len(names), wantCount, names)
					}

					if names[0] != "🔑 License Key" || names[len(names)-1] != "📖 Next Steps" {
						t.Errorf("並び順違反: %v", names)
					}

					has := func(name string) bool {
						for _, n := range names {
							if n == name {
								return true
							}
						}
						return false
					}
					if has("🔗 Join Our Private Server") != hasInvite {
						t.Errorf("招待セクションの有無が不正: %v", names)
					}
					if has("✨ Community Access") != outcome.RoleAssigned {
						t.Errorf("コミュニティアクセスセクションの有無が不正: %v", names)
					}
					if has("⬇️ Download EA") != hasDownload {
						t.Errorf("ダウンロードセクションの有無が不正: %v", names)
					}
				}
			}
		}
	}
}

func TestComposer_Delivery_Deterministic(t *testing.T) {
	c := newFixedComposer(t)

	req := baseRequest()
	req.DownloadURL = "https://example.com/ea.zip"
	req.Email = "alice@example.com"
	outcome := &model.MembershipOutcome{IsMember: true, RoleAssigned: true}

	first, err := json.Marshal(c.Delivery(req, outcome))
	if err != nil {
		t.Fatalf("JSONエンコードに失敗: %v", err)
	}
	second, err := json.Marshal(c.Delivery(req, outcome))
	if err != nil {
		t.Fatalf("JSONエンコードに失敗: %v", err)
	}

	if string(first) != string(second) {
		t.Errorf("同一入力でバイト単位に一致しなければならない:\n1回目: %s\n2回目: %s", first, second)
	}
}

func TestComposer_Delivery_EmailPlaceholder(t *testing.T) {
	c := newFixedComposer(t)
	embed := c.Delivery(baseRequest(), &model.MembershipOutcome{})

	for _, f := range embed.Fields {
		if f.Name == "📧 Email" {
			if f.Value != "Not provided" {
				t.Errorf("メール未提供時の値 = %q, want %q", f.Value, "Not provided")
			}
			return
		}
	}
	t.Error("メールセクションが見つからない")
}

func TestComposer_Delivery_InviteDisclaimer(t *testing.T) {
	c := newFixedComposer(t)
	embed := c.Delivery(baseRequest(), &model.MembershipOutcome{
		IsMember:  false,
		InviteURL: "https://discord.gg/abc",
	})

	for _, f := range embed.Fields {
		if f.Name == "🔗 Join Our Private Server" {
			if !strings.Contains(f.Value, "https://discord.gg/abc") {
				t.Error("招待リンクが含まれていない")
			}
			if !strings.Contains(f.Value, "expires in 24 hours") {
				t.Error("24時間の有効期限注記が含まれていない")
			}
			return
		}
	}
	t.Error("招待セクションが見つからない")
}

func TestComposer_Delivery_DownloadDisclaimer(t *testing.T) {
	c := newFixedComposer(t)
	req := baseRequest()
	req.DownloadURL = "https://example.com/ea.zip"
	embed := c.Delivery(req, &model.MembershipOutcome{})

	for _, f := range embed.Fields {
		if f.Name == "⬇️ Download EA" {
			if !strings.Contains(f.Value, "Expires in 1 hour") {
				t.Error("1時間の有効期限注記が含まれていない")
			}
			return
		}
	}
	t.Error("ダウンロードセクションが見つからない")
}

func TestComposer_Delivery_NextStepsVariants(t *testing.T) {
	c := newFixedComposer(t)

	memberEmbed := c.Delivery(baseRequest(), &model.MembershipOutcome{IsMember: true})
	nonMemberEmbed := c.Delivery(baseRequest(), &model.MembershipOutcome{IsMember: false})

	memberSteps := memberEmbed.Fields[len(memberEmbed.Fields)-1].Value
	nonMemberSteps := nonMemberEmbed.Fields[len(nonMemberEmbed.Fields)-1].Value

	if strings.Contains(memberSteps, "Join Discord") {
		t.Error("メンバー向け手順にDiscord参加ステップが含まれてはならない")
	}
	if !strings.Contains(nonMemberSteps, "Join Discord") {
		t.Error("非メンバー向け手順にDiscord参加ステップが含まれなければならない")
	}
}

func TestComposer_Delivery_SanitizesBuyerStrings(t *testing.T) {
	c := newFixedComposer(t)
	req := baseRequest()
	req.Email = `<script>alert(1)</script>alice@example.com`
	embed := c.Delivery(req, &model.MembershipOutcome{})

	for _, f := range embed.Fields {
		if strings.Contains(f.Value, "<script>") {
			t.Errorf("サニタイズされていない文字列が含まれている: %q", f.Value)
		}
	}
}

func TestComposer_RenewalReminder(t *testing.T) {
	c := newFixedComposer(t)
	record := &model.ExpiryRecord{
		Email:      "alice@example.com",
		DiscordID:  "123",
		LicenseKey: "ABCD-1234",
		PlanType:   model.PlanQuarterly,
		ExpiresAt:  time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC),
	}

	embed := c.RenewalReminder(record, 2)

	if embed.Color != ColorWarning {
		t.Errorf("Color = %#x, want %#x", embed.Color, ColorWarning)
	}
	if !strings.Contains(embed.Description, "2 days") {
		t.Errorf("残日数が含まれていない: %q", embed.Description)
	}
	if !strings.Contains(embed.Description, "Quarterly") {
		t.Errorf("プラン名が含まれていない: %q", embed.Description)
	}
}

func TestComposer_RenewalReminder_SingularDay(t *testing.T) {
	c := newFixedComposer(t)
	record := &model.ExpiryRecord{LicenseKey: "K", PlanType: model.PlanMonthly, ExpiresAt: time.Now()}

	embed := c.RenewalReminder(record, 1)
	if !strings.Contains(embed.Description, "1 day**") {
		t.Errorf("単数形になっていない: %q", embed.Description)
	}
}

func TestComposer_ExpiryNotice(t *testing.T) {
	c := newFixedComposer(t)
	record := &model.ExpiryRecord{
		LicenseKey: "ABCD-1234",
		PlanType:   model.PlanMonthly,
		ExpiresAt:  time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC),
	}

	embed := c.ExpiryNotice(record)

	if embed.Color != ColorError {
		t.Errorf("Color = %#x, want %#x", embed.Color, ColorError)
	}
	if !strings.Contains(embed.Description, "expired") {
		t.Errorf("失効の文言が含まれていない: %q", embed.Description)
	}

	var expiresField string
	for _, f := range embed.Fields {
		if f.Name == "📅 Expired" {
			expiresField = f.Value
		}
	}
	if expiresField != "2025-05-30" {
		t.Errorf("失効日 = %q, want 2025-05-30", expiresField)
	}
}

func TestComposer_FooterAndTimestamp(t *testing.T) {
	c := newFixedComposer(t)
	embed := c.Delivery(baseRequest(), &model.MembershipOutcome{})

	if embed.Footer == nil || embed.Footer.Text != "PropQuant.ai - Automated Trading Excellence" {
		t.Errorf("Footer = %+v, want PropQuant.ai footer", embed.Footer)
	}
	if embed.Timestamp != "2025-06-01T12:00:00Z" {
		t.Errorf("Timestamp = %q, want 2025-06-01T12:00:00Z", embed.Timestamp)
	}
}
