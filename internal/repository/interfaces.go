// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/passport/internal/model"
)

var (
	// ErrDuplicateProviderID は同じprovider_idのIdentityが既に存在する場合に返される。
	ErrDuplicateProviderID = errors.New("identity with the same provider id already exists")

	// ErrNotFound は更新対象のIdentityが存在しない場合に返される。
	ErrNotFound = errors.New("identity not found")

	// ErrRefreshTokenMismatch は条件付き更新の時点で保存済みハッシュが
	// 期待値と一致しなかった（既にローテーション・失効済み）場合に返される。
	ErrRefreshTokenMismatch = errors.New("stored refresh token no longer matches")
)

// IdentityRepository はIdentityの永続化インターフェース。
// 更新系はすべて1行単位のアトミックな操作として実装すること。
type IdentityRepository interface {
	// FindByID は指定IDのIdentityを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Identity, error)

	// FindByProviderID はプロバイダーIDでIdentityを検索する。見つからない場合はnilを返す。
	FindByProviderID(ctx context.Context, providerID int64) (*model.Identity, error)

	// FindByRefreshTokenHash は保存済みリフレッシュトークンハッシュでIdentityを検索する。
	// 見つからない場合はnilを返す。期限の判定は呼び出し側で行う。
	FindByRefreshTokenHash(ctx context.Context, hash string) (*model.Identity, error)

	// Create はIdentityを作成する。リフレッシュトークンが設定されていれば同じINSERTで保存する。
	// provider_idの一意制約違反の場合はErrDuplicateProviderIDを返す。
	Create(ctx context.Context, identity *model.Identity) error

	// UpdateProfileAndSession はプロフィールミラー、プロバイダーアクセストークン、
	// リフレッシュトークンのハッシュと有効期限を1つのUPDATEで上書きする。
	// 既存のリフレッシュトークンは無効になる。失効エポックには触れない。
	UpdateProfileAndSession(ctx context.Context, identity *model.Identity) error

	// RotateRefreshToken は保存済みハッシュがoldHashと一致し、かつ期限内の場合に限り
	// 新しいハッシュと有効期限に置き換える。一致しない場合はErrRefreshTokenMismatchを返す。
	RotateRefreshToken(ctx context.Context, id, oldHash, newHash string, newExpiresAt, now time.Time) error

	// RevokeTokens は失効エポックをatに進め、リフレッシュトークンをクリアする。
	// 失効エポックは単調非減少に保たれる。
	// 対象が存在しない場合はErrNotFoundを返す。
	RevokeTokens(ctx context.Context, id string, at time.Time) error

	// ClearExpiredRefreshTokens は期限切れのリフレッシュトークン状態をクリアし、件数を返す。
	ClearExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}
