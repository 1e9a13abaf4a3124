package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hitoshi/passport/internal/metrics"
	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/oauthstate"
	"github.com/hitoshi/passport/internal/repository"
	"github.com/hitoshi/passport/internal/security"
	"github.com/hitoshi/passport/internal/token"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// StateTTL はログイン開始からコールバックまでの猶予。
	StateTTL time.Duration

	// AllowedReturnOrigins はreturnUrlとして許可する絶対URLのオリジン。
	// 相対パスは常に許可する。
	AllowedReturnOrigins []string
}

// LoginStart はログイン開始時にクライアントへ返す情報。
type LoginStart struct {
	AuthURL string
	State   string
}

// LoginResult はコールバック処理の結果。
type LoginResult struct {
	model.AuthResult
	ReturnURL string
}

// Service は認証サブシステムの境界。
// 返すエラーはすべて*model.APIErrorで、内部の原因はログにのみ記録する。
type Service struct {
	provider  Provider
	resolver  *Resolver
	issuer    *token.Issuer
	repo      repository.IdentityRepository
	states    oauthstate.Store
	sanitizer security.ProfileSanitizer
	metrics   metrics.MetricsCollector
	config    ServiceConfig
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	provider Provider,
	repo repository.IdentityRepository,
	issuer *token.Issuer,
	states oauthstate.Store,
	sanitizer security.ProfileSanitizer,
	m metrics.MetricsCollector,
	config ServiceConfig,
) *Service {
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		provider:  provider,
		resolver:  NewResolver(repo),
		issuer:    issuer,
		repo:      repo,
		states:    states,
		sanitizer: sanitizer,
		metrics:   m,
		config:    config,
		now:       time.Now,
	}
}

// SetNowFunc は現在時刻の取得関数を差し替える（テスト用）。
func (s *Service) SetNowFunc(now func() time.Time) {
	s.now = now
	s.resolver.now = now
}

func (s *Service) currentTime() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// BeginLogin はstateを発行して保存し、プロバイダーの認可URLを返す。
// 許可されないreturnUrlは破棄する。
func (s *Service) BeginLogin(ctx context.Context, returnURL string) (*LoginStart, error) {
	state, err := oauthstate.NewState()
	if err != nil {
		return nil, s.internalError(ctx, "failed to generate oauth state", err)
	}

	entry := oauthstate.Entry{
		ReturnURL: s.allowedReturnURL(returnURL),
		CreatedAt: s.currentTime(),
	}
	if err := s.states.Save(ctx, state, entry, s.config.StateTTL); err != nil {
		return nil, s.internalError(ctx, "failed to save oauth state", err)
	}

	return &LoginStart{
		AuthURL: s.provider.AuthCodeURL(state),
		State:   state,
	}, nil
}

// CompleteLogin はstateを消費し、コード交換、Identityのupsert、トークン発行を行う。
func (s *Service) CompleteLogin(ctx context.Context, code, state string) (*LoginResult, error) {
	ctx, span := tracer.Start(ctx, "auth.CompleteLogin")
	defer span.End()

	if state == "" {
		s.metrics.RecordLogin(metrics.ResultInvalidState)
		return nil, model.NewInvalidStateError()
	}
	entry, err := s.states.Consume(ctx, state)
	if err != nil {
		s.metrics.RecordLogin(metrics.ResultError)
		return nil, s.internalError(ctx, "failed to consume oauth state", err)
	}
	if entry == nil {
		slog.Warn("unknown, expired or reused oauth state")
		s.metrics.RecordLogin(metrics.ResultInvalidState)
		return nil, model.NewInvalidStateError()
	}
	if code == "" {
		s.metrics.RecordLogin(metrics.ResultInvalidState)
		return nil, model.NewMissingCodeError()
	}

	profile, err := s.authenticateWithProvider(ctx, code)
	if err != nil {
		recordSpanError(span, err)
		slog.Warn("provider authentication failed", slog.String("error", err.Error()))
		s.metrics.RecordLogin(metrics.ResultUnauthorized)
		return nil, model.NewProviderAuthFailedError()
	}

	result, err := s.issueSession(ctx, s.sanitizer.Sanitize(profile))
	if err != nil {
		s.metrics.RecordLogin(metrics.ResultError)
		return nil, err
	}

	identity := result.Identity
	span.SetAttributes(attribute.String("user.id", identity.ID))
	slog.Info("user logged in",
		slog.String("user_id", identity.ID),
		slog.Int64("provider_id", identity.ProviderID),
	)
	s.metrics.RecordLogin(metrics.ResultSuccess)
	return &LoginResult{AuthResult: *result, ReturnURL: entry.ReturnURL}, nil
}

// authenticateWithProvider はコード交換とプロフィール取得を行い、合計のレイテンシを記録する。
func (s *Service) authenticateWithProvider(ctx context.Context, code string) (*model.ProviderProfile, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordProviderLatency(time.Since(start))
	}()

	providerToken, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.provider.FetchProfile(ctx, providerToken)
}

// issueSession はリフレッシュトークンを発行し、プロフィールのupsertと同じ書き込みで保存してから
// アクセストークンを発行する。既存のリフレッシュトークンは置き換えられる。
func (s *Service) issueSession(ctx context.Context, profile *model.ProviderProfile) (*model.AuthResult, error) {
	secret, hash, refreshExpiresAt, err := s.issuer.IssueRefreshToken()
	if err != nil {
		return nil, s.internalError(ctx, "failed to issue refresh token", err)
	}

	identity, err := s.resolver.Resolve(ctx, profile, Session{
		RefreshTokenHash:      hash,
		RefreshTokenExpiresAt: refreshExpiresAt,
	})
	if err != nil {
		return nil, s.internalError(ctx, "failed to resolve identity", err)
	}

	accessToken, accessExpiresAt, err := s.issuer.IssueAccessToken(identity)
	if err != nil {
		return nil, s.internalError(ctx, "failed to issue access token", err)
	}

	return &model.AuthResult{
		Identity:              identity,
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessExpiresAt,
		RefreshToken:          secret,
		RefreshTokenExpiresAt: refreshExpiresAt,
	}, nil
}

// Refresh は提示されたリフレッシュトークンをローテーションし、新しいトークン一式を返す。
// 同じシークレットで成功するのは1回だけ。
func (s *Service) Refresh(ctx context.Context, secret string) (*model.AuthResult, error) {
	ctx, span := tracer.Start(ctx, "auth.Refresh")
	defer span.End()

	if secret == "" {
		s.metrics.RecordRefresh(metrics.ResultUnauthorized)
		return nil, model.NewInvalidRefreshTokenError()
	}

	presentedHash := s.issuer.HashRefreshToken(secret)
	identity, err := s.repo.FindByRefreshTokenHash(ctx, presentedHash)
	if err != nil {
		s.metrics.RecordRefresh(metrics.ResultError)
		return nil, s.internalError(ctx, "failed to find identity by refresh token", err)
	}
	if identity == nil {
		s.metrics.RecordRefresh(metrics.ResultUnauthorized)
		return nil, model.NewInvalidRefreshTokenError()
	}

	now := s.currentTime()
	// ハッシュが一致しても期限切れなら拒否する
	if identity.RefreshTokenExpired(now) {
		slog.Info("expired refresh token presented", slog.String("user_id", identity.ID))
		s.metrics.RecordRefresh(metrics.ResultUnauthorized)
		return nil, model.NewInvalidRefreshTokenError()
	}

	newSecret, newHash, newExpiresAt, err := s.issuer.IssueRefreshToken()
	if err != nil {
		s.metrics.RecordRefresh(metrics.ResultError)
		return nil, s.internalError(ctx, "failed to issue refresh token", err)
	}
	accessToken, accessExpiresAt, err := s.issuer.IssueAccessToken(identity)
	if err != nil {
		s.metrics.RecordRefresh(metrics.ResultError)
		return nil, s.internalError(ctx, "failed to issue access token", err)
	}

	err = s.repo.RotateRefreshToken(ctx, identity.ID, presentedHash, newHash, newExpiresAt, now)
	if errors.Is(err, repository.ErrRefreshTokenMismatch) {
		// 同時リフレッシュ、ログアウト、または期限切れに競合して負けた
		slog.Warn("refresh token already rotated or revoked", slog.String("user_id", identity.ID))
		s.metrics.RecordRefresh(metrics.ResultUnauthorized)
		return nil, model.NewInvalidRefreshTokenError()
	}
	if err != nil {
		s.metrics.RecordRefresh(metrics.ResultError)
		return nil, s.internalError(ctx, "failed to rotate refresh token", err)
	}

	rotated := *identity
	rotated.RefreshTokenHash = newHash
	rotated.RefreshTokenExpiresAt = &newExpiresAt

	span.SetAttributes(attribute.String("user.id", identity.ID))
	slog.Info("refresh token rotated", slog.String("user_id", identity.ID))
	s.metrics.RecordRefresh(metrics.ResultSuccess)

	return &model.AuthResult{
		Identity:              &rotated,
		AccessToken:           accessToken,
		AccessTokenExpiresAt:  accessExpiresAt,
		RefreshToken:          newSecret,
		RefreshTokenExpiresAt: newExpiresAt,
	}, nil
}

// Logout は失効エポックを現在時刻に進め、リフレッシュトークンをクリアする。
// これ以前に発行されたアクセストークンは次の利用から拒否される。
func (s *Service) Logout(ctx context.Context, identityID string) error {
	ctx, span := tracer.Start(ctx, "auth.Logout")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", identityID))

	identity, err := s.repo.FindByID(ctx, identityID)
	if err != nil {
		return s.internalError(ctx, "failed to find identity", err)
	}
	if identity == nil {
		return model.NewIdentityNotFoundError()
	}

	err = s.repo.RevokeTokens(ctx, identity.ID, s.currentTime())
	if errors.Is(err, repository.ErrNotFound) {
		return model.NewIdentityNotFoundError()
	}
	if err != nil {
		return s.internalError(ctx, "failed to revoke tokens", err)
	}

	slog.Info("user logged out", slog.String("user_id", identity.ID))
	s.metrics.RecordLogout()
	return nil
}

// allowedReturnURL は相対パスまたは許可済みオリジンのURLのみを返す。それ以外は空文字列。
func (s *Service) allowedReturnURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	// "//evil.example" や "/\evil.example" はブラウザが絶対URLとして解釈する
	if strings.HasPrefix(raw, "/") && !strings.HasPrefix(raw, "//") && !strings.HasPrefix(raw, "/\\") {
		if _, err := url.ParseRequestURI(raw); err != nil {
			return ""
		}
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" || u.User != nil {
		return ""
	}
	origin := u.Scheme + "://" + u.Host
	for _, allowed := range s.config.AllowedReturnOrigins {
		if strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return raw
		}
	}
	slog.Warn("dropping disallowed return URL", slog.String("origin", origin))
	return ""
}

// internalError は原因をログとスパンに記録し、汎用の内部エラーを返す。
func (s *Service) internalError(ctx context.Context, msg string, err error) error {
	recordSpanError(spanFromContext(ctx), err)
	slog.Error(msg, slog.String("error", err.Error()))
	return model.NewInternalError()
}
