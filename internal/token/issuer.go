// Package token はアクセストークン(JWT)とリフレッシュトークンの発行・検証を提供する。
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/passport/internal/model"
)

const (
	// MinSigningKeyLength は署名鍵の最小バイト数。
	MinSigningKeyLength = 32

	// refreshSecretBytes はリフレッシュトークンのシークレット長（256bit）。
	refreshSecretBytes = 32

	signingMethod = "HS256"
)

var (
	// ErrExpired はアクセストークンの有効期限切れを表す。
	ErrExpired = errors.New("access token expired")
	// ErrInvalid は署名・形式・必須クレームなどの不備を表す。
	ErrInvalid = errors.New("access token invalid")
)

// Claims はアクセストークンのクレーム。
// 標準のiatは秒精度のまま、失効エポックとの比較に使うマイクロ秒精度の発行時刻を
// iat_usに別途持つ（jwt.TimePrecisionはプロセス全体に効くため変更しない）。
type Claims struct {
	jwt.RegisteredClaims
	IssuedAtMicros int64  `json:"iat_us"`
	Username       string `json:"username"`
	ProviderID     int64  `json:"provider_id"`
	Email          string `json:"email,omitempty"`
}

// IssuedAtTime はマイクロ秒精度の発行時刻を返す。
func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAtMicros <= 0 {
		return time.Time{}
	}
	return time.UnixMicro(c.IssuedAtMicros).UTC()
}

// Config はIssuerの設定。
type Config struct {
	SigningKey []byte
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Issuer はトークンを発行・検証する。自身は状態を保存しない。
type Issuer struct {
	cfg    Config
	hasher *Hasher
	now    func() time.Time
}

// NewIssuer はIssuerを生成する。
func NewIssuer(cfg Config, hasher *Hasher) (*Issuer, error) {
	if len(cfg.SigningKey) < MinSigningKeyLength {
		return nil, fmt.Errorf("signing key must be at least %d bytes", MinSigningKeyLength)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	return &Issuer{cfg: cfg, hasher: hasher, now: time.Now}, nil
}

// SetNowFunc は現在時刻の取得関数を差し替える（テスト用）。
func (i *Issuer) SetNowFunc(now func() time.Time) {
	i.now = now
}

// AccessTTL はアクセストークンの有効期間を返す。
func (i *Issuer) AccessTTL() time.Duration {
	return i.cfg.AccessTTL
}

func (i *Issuer) currentTime() time.Time {
	return i.now().UTC().Truncate(time.Microsecond)
}

// IssueAccessToken はIdentityのクレームで署名済みアクセストークンを生成する。
// 戻り値の時刻はトークンの有効期限。
func (i *Issuer) IssueAccessToken(identity *model.Identity) (string, time.Time, error) {
	if identity == nil || identity.ID == "" {
		return "", time.Time{}, errors.New("identity with ID is required")
	}

	issuedAt := i.currentTime()
	expiresAt := issuedAt.Add(i.cfg.AccessTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			Issuer:    i.cfg.Issuer,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		IssuedAtMicros: issuedAt.UnixMicro(),
		Username:       identity.Username,
		ProviderID:     identity.ProviderID,
		Email:          identity.Email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// IssueRefreshToken はランダムなシークレットとそのハッシュ、有効期限を生成する。
// シークレットはクライアントに返し、ハッシュと有効期限のみを保存すること。
func (i *Issuer) IssueRefreshToken() (secret, hash string, expiresAt time.Time, err error) {
	buf := make([]byte, refreshSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", time.Time{}, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	secret = base64.RawURLEncoding.EncodeToString(buf)
	return secret, i.hasher.Hash(secret), i.currentTime().Add(i.cfg.RefreshTTL), nil
}

// HashRefreshToken は提示されたシークレットのハッシュを返す。
func (i *Issuer) HashRefreshToken(secret string) string {
	return i.hasher.Hash(secret)
}

// ParseAccessToken は署名・有効期限・iss・audを検証してクレームを返す。
// 期限切れはErrExpired、それ以外の不備はErrInvalidでラップされる。
func (i *Issuer) ParseAccessToken(tokenString string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims,
		func(*jwt.Token) (any, error) {
			return i.cfg.SigningKey, nil
		},
		jwt.WithValidMethods([]string{signingMethod}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithAudience(i.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if claims.Subject == "" || claims.IssuedAt == nil || claims.IssuedAtMicros <= 0 {
		return nil, fmt.Errorf("%w: missing sub or iat", ErrInvalid)
	}
	// iat_usは秒単位に切り捨てるとiatに一致しなければならない
	if claims.IssuedAtMicros/int64(time.Second/time.Microsecond) != claims.IssuedAt.Unix() {
		return nil, fmt.Errorf("%w: iat_us does not match iat", ErrInvalid)
	}
	return &claims, nil
}
