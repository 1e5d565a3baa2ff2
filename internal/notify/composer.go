// Package notify は配信・リマインド・失効通知のメッセージ組み立てを提供する。
// Composerは純粋な変換であり、同一入力に対して常に同一の埋め込みメッセージを返す。
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/propquant/courier/internal/discord"
	"github.com/propquant/courier/internal/model"
)

// 埋め込みメッセージの色。Discordのブランドカラーに合わせる。
const (
	// ColorDelivery は配信成功通知（ブラープル）。
	ColorDelivery = 0x5865F2
	// ColorWarning は更新リマインド（イエロー）。
	ColorWarning = 0xFEE75C
	// ColorError は失効通知（レッド）。
	ColorError = 0xED4245
)

// footerText は全メッセージ共通のフッター。
const footerText = "PropQuant.ai - Automated Trading Excellence"

// Sanitizer は購入者提供文字列のサニタイズインターフェース。
// security.TextSanitizerServiceを注入する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Composer は通知メッセージの組み立てを行う。
// セクションの並び順は固定であり、存在するセクションの組み合わせに
// 依存しない（認証情報が先頭、手順が末尾）。
type Composer struct {
	sanitizer Sanitizer
	now       func() time.Time // テストで固定可能
}

// NewComposer はComposerの新しいインスタンスを生成する。
func NewComposer(sanitizer Sanitizer) *Composer {
	return &Composer{
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// Delivery は購入完了DMの埋め込みメッセージを組み立てる。
// セクションの包含規則:
//   - ライセンスキー、プラン、メール、手順は常に含まれる
//   - 招待セクションはoutcome.InviteURLが設定されている場合のみ
//   - コミュニティアクセス確認はoutcome.RoleAssignedがtrueの場合のみ
//   - ダウンロードセクションはreq.DownloadURLが設定されている場合のみ
func (c *Composer) Delivery(req *model.DeliveryRequest, outcome *model.MembershipOutcome) *discord.Embed {
	plan := titleCase(c.sanitizer.Sanitize(string(req.PlanType)))

	embed := &discord.Embed{
		Title: "🎉 Payment Successful - PropQuant.ai!",
		Color: ColorDelivery,
	}

	if outcome.IsMember {
		embed.Description = "Your EA access is now active!"
	} else {
		embed.Description = "Your EA access is ready! Join our Discord to get started."
	}

	// 1. 認証情報（常に先頭）
	embed.Fields = append(embed.Fields, &discord.EmbedField{
		Name:  "🔑 License Key",
		Value: fmt.Sprintf("```%s```", req.LicenseKey),
	})

	// 2. プラン
	embed.Fields = append(embed.Fields, &discord.EmbedField{
		Name:   "📱 Plan",
		Value:  plan,
		Inline: true,
	})

	// 3. 連絡先
	email := c.sanitizer.Sanitize(req.Email)
	if email == "" {
		email = "Not provided"
	}
	embed.Fields = append(embed.Fields, &discord.EmbedField{
		Name:   "📧 Email",
		Value:  email,
		Inline: true,
	})

	// 4. 招待（非メンバーで招待が作成できた場合のみ）
	if outcome.InviteURL != "" {
		embed.Fields = append(embed.Fields, &discord.EmbedField{
			Name: "🔗 Join Our Private Server",
			Value: fmt.Sprintf("**[Click here to join](%s)**\n\n", outcome.InviteURL) +
				"⚠️ Link expires in 24 hours\n" +
				"After joining, you'll get:\n" +
				fmt.Sprintf("• Exclusive %s member access\n", plan) +
				"• Trading signals & support\n" +
				"• Direct access to our team",
		})
	}

	// 5. コミュニティアクセス確認（ロール付与済みの場合のみ）
	if outcome.RoleAssigned {
		embed.Fields = append(embed.Fields, &discord.EmbedField{
			Name: "✨ Community Access",
			Value: fmt.Sprintf("You've been added to the %s members group!\n", plan) +
				"Check the exclusive channels!",
		})
	}

	// 6. ダウンロード（URLが提供された場合のみ）
	if req.DownloadURL != "" {
		embed.Fields = append(embed.Fields, &discord.EmbedField{
			Name: "⬇️ Download EA",
			Value: fmt.Sprintf("[Click here to download](%s)\n", req.DownloadURL) +
				"⏰ Expires in 1 hour",
		})
	}

	// 7. 手順（常に末尾。メンバーは参加ステップを省略した文面になる）
	embed.Fields = append(embed.Fields, &discord.EmbedField{
		Name:  "📖 Next Steps",
		Value: nextSteps(outcome.IsMember),
	})

	c.finish(embed)
	return embed
}

// RenewalReminder は有効期限が近いライセンスの更新リマインドを組み立てる。
// 警告バリアント（イエロー）を使用する。
func (c *Composer) RenewalReminder(record *model.ExpiryRecord, days int) *discord.Embed {
	plan := titleCase(c.sanitizer.Sanitize(string(record.PlanType)))

	dayWord := "days"
	if days == 1 {
		dayWord = "day"
	}

	embed := &discord.Embed{
		Title:       "⏰ Your PropQuant.ai License Expires Soon",
		Description: fmt.Sprintf("Your %s license expires in **%d %s**. Renew now to keep your EA running and your community access active.", plan, days, dayWord),
		Color:       ColorWarning,
	}

	embed.Fields = append(embed.Fields, &discord.EmbedField{
		Name:  "🔑 License Key",
		Value: fmt.Sprintf("```%s```", record.LicenseKey),
	})
	embed.Fields = append(embed.Fields, &discord.EmbedField{
		Name:   "📱 Plan",
		Value:  plan,
		Inline: true,
	})
	embed.Fields = append(embed.Fields, &discord.EmbedField{
		Name:   "📅 Expires",
		Value:  record.ExpiresAt.UTC().Format("2006-01-02"),
		Inline: true,
	})

	c.finish(embed)
	return embed
}

// ExpiryNotice はライセンス失効とアクセス剥奪の通知を組み立てる。
// エラーバリアント（レッド）を使用する。
func (c *Composer) ExpiryNotice(record *model.ExpiryRecord) *discord.Embed {
	plan := titleCase(c.sanitizer.Sanitize(string(record.PlanType)))

	embed := &discord.Embed{
		Title:       "❌ Your PropQuant.ai License Has Expired",
		Description: fmt.Sprintf("Your %s license has expired and your community access has been removed. Renew to restore your EA and member channels.", plan),
		Color:       ColorError,
	}

	embed.Fields = append(embed.Fields, &discord.EmbedField{
		Name:  "🔑 License Key",
		Value: fmt.Sprintf("```%s```", record.LicenseKey),
	})
	embed.Fields = append(embed.Fields, &discord.EmbedField{
		Name:   "📱 Plan",
		Value:  plan,
		Inline: true,
	})
	embed.Fields = append(embed.Fields, &discord.EmbedField{
		Name:   "📅 Expired",
		Value:  record.ExpiresAt.UTC().Format("2006-01-02"),
		Inline: true,
	})

	c.finish(embed)
	return embed
}

// finish はフッターとタイムスタンプを設定する。
func (c *Composer) finish(embed *discord.Embed) {
	embed.Footer = &discord.EmbedFooter{Text: footerText}
	embed.Timestamp = c.now().UTC().Format(time.RFC3339)
}

// nextSteps はセットアップ手順の文面を返す。
// メンバーにはDiscord参加ステップを含めない。
func nextSteps(isMember bool) string {
	if isMember {
		return "1️⃣ Download EA above\n" +
			"2️⃣ Place in MT5: `MQL5/Experts/`\n" +
			"3️⃣ Restart MT5\n" +
			"4️⃣ Drag EA to chart\n" +
			"5️⃣ Enter license key"
	}
	return "1️⃣ **Join Discord (link above)**\n" +
		"2️⃣ Download EA\n" +
		"3️⃣ Place in `MQL5/Experts/`\n" +
		"4️⃣ Restart MT5\n" +
		"5️⃣ Enter license key"
}

// titleCase は表示用にプラン名の先頭を大文字化する。
func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
