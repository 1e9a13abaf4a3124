package model

import "time"

// ProviderProfile は外部プロバイダーから取得したプロフィール。
type ProviderProfile struct {
	ProviderID int64
	Login      string
	Email      string
	Name       string
	AvatarURL  string

	// AccessToken はコード交換で得たプロバイダーのアクセストークン。
	AccessToken string
}

// AuthResult はログイン・リフレッシュの結果として呼び出し元に返すトークン一式。
// RefreshToken は平文のシークレットで、クライアントにのみ渡す。
type AuthResult struct {
	Identity              *Identity
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}
