// Package auth はOAuthログイン、トークンの検証・ローテーション・失効を提供する。
package auth

import (
	"context"
	"errors"

	"github.com/hitoshi/passport/internal/model"
)

// ErrProviderAuthFailed はプロバイダーとの認証に失敗したことを表す。
// 通信障害とプロバイダー側の拒否は区別しない。
var ErrProviderAuthFailed = errors.New("authentication with provider failed")

// Provider は外部OAuthプロバイダーとのやり取りを抽象化する。
// 失敗はすべてErrProviderAuthFailedでラップして返す。リトライはしない。
type Provider interface {
	// AuthCodeURL はstateを含む認可URLを生成する。
	AuthCodeURL(state string) string

	// ExchangeCode は認可コードをプロバイダーのアクセストークンに交換する。
	ExchangeCode(ctx context.Context, code string) (string, error)

	// FetchProfile はプロバイダーのアクセストークンでプロフィールを取得する。
	FetchProfile(ctx context.Context, providerToken string) (*model.ProviderProfile, error)
}
