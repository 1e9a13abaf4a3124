// Package model はドメインモデルを定義する。
package model

import "time"

// Identity は外部OAuthプロバイダーで認証されたプリンシパルを表す。
// ProviderIDが既存レコードとの照合に使う唯一のキーで、
// Username/Emailはプロバイダー側で変更され得るため照合には使わない。
type Identity struct {
	ID         string
	ProviderID int64

	// プロバイダー側プロフィールのミラー。ログインのたびに上書きされる。
	Username    string
	Email       string
	DisplayName string
	AvatarURL   string

	// ProviderAccessToken はプロバイダーAPIを本人として呼び出すためのトークン。
	ProviderAccessToken string

	// RefreshTokenHash とRefreshTokenExpiresAt は常に対で設定・クリアされる。
	RefreshTokenHash      string
	RefreshTokenExpiresAt *time.Time

	// TokensInvalidatedAt は失効エポック。これ以前に発行されたアクセストークンは拒否される。
	TokensInvalidatedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRefreshToken はリフレッシュトークンの状態が保存されているかを返す。
func (i *Identity) HasRefreshToken() bool {
	return i.RefreshTokenHash != "" && i.RefreshTokenExpiresAt != nil
}

// RefreshTokenExpired はリフレッシュトークンが存在しないか期限切れかを返す。
// ハッシュの一致とは独立に判定する。
func (i *Identity) RefreshTokenExpired(now time.Time) bool {
	if !i.HasRefreshToken() {
		return true
	}
	return !now.Before(*i.RefreshTokenExpiresAt)
}

// IsRevokedAt は指定時刻に発行されたアクセストークンが失効エポックにより無効かを返す。
// 発行時刻が失効エポックと同時かそれ以前のトークンは無効。
func (i *Identity) IsRevokedAt(issuedAt time.Time) bool {
	if i.TokensInvalidatedAt == nil {
		return false
	}
	return !issuedAt.After(*i.TokensInvalidatedAt)
}

// PublicProfile は/auth/meなどで公開するプロフィール項目。
type PublicProfile struct {
	ID          string `json:"id"`
	ProviderID  int64  `json:"provider_id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// Profile はIdentityから公開プロフィールを生成する。
func (i *Identity) Profile() PublicProfile {
	return PublicProfile{
		ID:          i.ID,
		ProviderID:  i.ProviderID,
		Username:    i.Username,
		Email:       i.Email,
		DisplayName: i.DisplayName,
		AvatarURL:   i.AvatarURL,
	}
}
