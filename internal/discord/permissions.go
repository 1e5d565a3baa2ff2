package discord

// 権限ビット。招待作成の可否判定に必要なもののみを定義する。
const (
	// PermCreateInstantInvite は招待リンク作成権限。
	PermCreateInstantInvite uint64 = 1 << 0
	// PermAdministrator は管理者権限。全権限チェックを通過する。
	PermAdministrator uint64 = 1 << 3
)

// BasePermissions はギルドレベルのメンバー権限を計算する。
// @everyoneロール（ギルドIDと同一のID）の権限にメンバーの保持ロールの
// 権限をORで合成する。ギルドオーナーは全権限を持つ。
func BasePermissions(guild *Guild, roles []Role, member *Member) uint64 {
	if member.User != nil && member.User.ID == guild.OwnerID {
		return ^uint64(0)
	}

	var perms uint64
	for _, role := range roles {
		if role.ID == guild.ID {
			perms |= parsePermissions(role.Permissions)
			break
		}
	}

	for _, role := range roles {
		if member.HasRole(role.ID) {
			perms |= parsePermissions(role.Permissions)
		}
	}

	if perms&PermAdministrator != 0 {
		return ^uint64(0)
	}

	return perms
}

// ChannelPermissions はチャンネルの権限上書きを適用したメンバー権限を計算する。
// 適用順: @everyone上書き → ロール上書き（deny→allow） → メンバー上書き。
func ChannelPermissions(base uint64, guild *Guild, member *Member, ch *Channel) uint64 {
	if base&PermAdministrator != 0 {
		return ^uint64(0)
	}

	perms := base

	// @everyone の上書き（IDはギルドIDと同一）
	for _, ow := range ch.PermissionOverwrites {
		if ow.Type == 0 && ow.ID == guild.ID {
			perms &^= parsePermissions(ow.Deny)
			perms |= parsePermissions(ow.Allow)
		}
	}

	// ロール上書きはdenyを先に集約してから適用する
	var allow, deny uint64
	for _, ow := range ch.PermissionOverwrites {
		if ow.Type == 0 && ow.ID != guild.ID && member.HasRole(ow.ID) {
			deny |= parsePermissions(ow.Deny)
			allow |= parsePermissions(ow.Allow)
		}
	}
	perms &^= deny
	perms |= allow

	// メンバー個別の上書き
	if member.User != nil {
		for _, ow := range ch.PermissionOverwrites {
			if ow.Type == 1 && ow.ID == member.User.ID {
				perms &^= parsePermissions(ow.Deny)
				perms |= parsePermissions(ow.Allow)
			}
		}
	}

	return perms
}

// CanCreateInvite はメンバーが指定チャンネルで招待を作成できるかを返す。
func CanCreateInvite(guild *Guild, roles []Role, member *Member, ch *Channel) bool {
	base := BasePermissions(guild, roles, member)
	return ChannelPermissions(base, guild, member, ch)&PermCreateInstantInvite != 0
}
