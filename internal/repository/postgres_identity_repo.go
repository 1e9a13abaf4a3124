package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/passport/internal/model"
)

// uniqueViolation はPostgreSQLの一意制約違反のSQLSTATE。
const uniqueViolation = pq.ErrorCode("23505")

const identityColumns = `id, provider_id, username, email, display_name, avatar_url,
	provider_access_token, refresh_token_hash, refresh_token_expires_at,
	tokens_invalidated_at, created_at, updated_at`

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresIdentityRepo はPostgreSQLを使用したIdentityリポジトリ。
type PostgresIdentityRepo struct {
	db *sql.DB
}

// NewPostgresIdentityRepo はPostgresIdentityRepoを生成する。
func NewPostgresIdentityRepo(db *sql.DB) *PostgresIdentityRepo {
	return &PostgresIdentityRepo{db: db}
}

// FindByID は指定IDのIdentityを取得する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByID(ctx context.Context, id string) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM users WHERE id = $1`,
		id,
	)
	identity, err := scanIdentity(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by ID: %w", err)
	}
	return identity, nil
}

// FindByProviderID はプロバイダーIDでIdentityを検索する。見つからない場合はnilを返す。
func (r *PostgresIdentityRepo) FindByProviderID(ctx context.Context, providerID int64) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM users WHERE provider_id = $1`,
		providerID,
	)
	identity, err := scanIdentity(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by provider ID: %w", err)
	}
	return identity, nil
}

// FindByRefreshTokenHash は保存済みリフレッシュトークンハッシュでIdentityを検索する。
func (r *PostgresIdentityRepo) FindByRefreshTokenHash(ctx context.Context, hash string) (*model.Identity, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM users WHERE refresh_token_hash = $1`,
		hash,
	)
	identity, err := scanIdentity(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by refresh token: %w", err)
	}
	return identity, nil
}

// Create はIdentityを作成する。リフレッシュトークンが設定されていれば同時に保存する。
func (r *PostgresIdentityRepo) Create(ctx context.Context, identity *model.Identity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, provider_id, username, email, display_name, avatar_url,
			provider_access_token, refresh_token_hash, refresh_token_expires_at,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		identity.ID, identity.ProviderID, identity.Username,
		nullString(identity.Email), nullString(identity.DisplayName), nullString(identity.AvatarURL),
		identity.ProviderAccessToken,
		nullString(identity.RefreshTokenHash), identity.RefreshTokenExpiresAt,
		identity.CreatedAt, identity.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateProviderID
		}
		return fmt.Errorf("failed to insert identity: %w", err)
	}
	return nil
}

// UpdateProfileAndSession はプロフィールとリフレッシュトークンを1つのUPDATEで上書きする。
// ログイン時のupsertとセッション発行が途中で分断されないようにする。
func (r *PostgresIdentityRepo) UpdateProfileAndSession(ctx context.Context, identity *model.Identity) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET username = $2, email = $3, display_name = $4, avatar_url = $5,
		     provider_access_token = $6,
		     refresh_token_hash = $7, refresh_token_expires_at = $8,
		     updated_at = $9
		 WHERE id = $1`,
		identity.ID, identity.Username,
		nullString(identity.Email), nullString(identity.DisplayName), nullString(identity.AvatarURL),
		identity.ProviderAccessToken,
		nullString(identity.RefreshTokenHash), identity.RefreshTokenExpiresAt,
		identity.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update identity profile and session: %w", err)
	}
	return requireOneRow(result, ErrNotFound)
}

// RotateRefreshToken は比較と置き換えを1つの条件付きUPDATEで行う。
// 同じシークレットによる同時リフレッシュのうち、行を更新できるのは1つだけになる。
func (r *PostgresIdentityRepo) RotateRefreshToken(ctx context.Context, id, oldHash, newHash string, newExpiresAt, now time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET refresh_token_hash = $3, refresh_token_expires_at = $4, updated_at = $5
		 WHERE id = $1
		   AND refresh_token_hash = $2
		   AND refresh_token_expires_at > $5`,
		id, oldHash, newHash, newExpiresAt, now,
	)
	if err != nil {
		return fmt.Errorf("failed to rotate refresh token: %w", err)
	}
	return requireOneRow(result, ErrRefreshTokenMismatch)
}

// RevokeTokens は失効エポックをatに進め、リフレッシュトークンをクリアする。
// GREATESTにより既存のエポックより過去には戻らない。
func (r *PostgresIdentityRepo) RevokeTokens(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET tokens_invalidated_at = GREATEST(COALESCE(tokens_invalidated_at, $2), $2),
		     refresh_token_hash = NULL,
		     refresh_token_expires_at = NULL,
		     updated_at = $2
		 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to revoke tokens: %w", err)
	}
	return requireOneRow(result, ErrNotFound)
}

// ClearExpiredRefreshTokens は期限切れのリフレッシュトークン状態をクリアする。
// ハッシュと有効期限は必ず同時にNULLにする。
func (r *PostgresIdentityRepo) ClearExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET refresh_token_hash = NULL, refresh_token_expires_at = NULL, updated_at = $1
		 WHERE refresh_token_expires_at IS NOT NULL AND refresh_token_expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired refresh tokens: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// scanIdentity は1行をIdentityに変換する。行が無い場合はnil, nilを返す。
func scanIdentity(row rowScanner) (*model.Identity, error) {
	var (
		identity         model.Identity
		email            sql.NullString
		displayName      sql.NullString
		avatarURL        sql.NullString
		refreshHash      sql.NullString
		refreshExpiresAt sql.NullTime
		invalidatedAt    sql.NullTime
	)
	err := row.Scan(
		&identity.ID, &identity.ProviderID, &identity.Username,
		&email, &displayName, &avatarURL,
		&identity.ProviderAccessToken, &refreshHash, &refreshExpiresAt,
		&invalidatedAt, &identity.CreatedAt, &identity.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	identity.Email = email.String
	identity.DisplayName = displayName.String
	identity.AvatarURL = avatarURL.String
	if refreshHash.Valid && refreshExpiresAt.Valid {
		identity.RefreshTokenHash = refreshHash.String
		t := refreshExpiresAt.Time
		identity.RefreshTokenExpiresAt = &t
	}
	if invalidatedAt.Valid {
		t := invalidatedAt.Time
		identity.TokensInvalidatedAt = &t
	}
	return &identity, nil
}

// requireOneRow は更新件数が0件の場合にerrNoRowsを返す。
func requireOneRow(result sql.Result, errNoRows error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return errNoRows
	}
	return nil
}

// isUniqueViolation はエラーがPostgreSQLの一意制約違反かを判定する。
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// compile-time interface check
var _ IdentityRepository = (*PostgresIdentityRepo)(nil)
