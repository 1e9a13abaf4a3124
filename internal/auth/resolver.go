package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/repository"
)

// Session はログイン時にIdentityと同じ書き込みで保存するリフレッシュトークン。
type Session struct {
	RefreshTokenHash      string
	RefreshTokenExpiresAt time.Time
}

// Resolver はプロバイダーのプロフィールからIdentityをupsertする。
type Resolver struct {
	repo  repository.IdentityRepository
	now   func() time.Time
	newID func() string
}

// NewResolver はResolverを生成する。
func NewResolver(repo repository.IdentityRepository) *Resolver {
	return &Resolver{
		repo:  repo,
		now:   time.Now,
		newID: func() string { return uuid.New().String() },
	}
}

// Resolve はprovider_idで既存のIdentityを検索し、無ければ作成、あればプロフィールを上書きする。
// sessionのリフレッシュトークンはプロフィールと同じ1回の書き込みで保存され、
// 失敗した場合はどちらも反映されない。失効エポックには触れない。
// 同じprovider_idの同時初回ログインで一意制約違反になった場合は、再読込して更新する。
func (r *Resolver) Resolve(ctx context.Context, profile *model.ProviderProfile, session Session) (*model.Identity, error) {
	if profile == nil || profile.ProviderID == 0 {
		return nil, errors.New("provider profile with provider id is required")
	}
	if session.RefreshTokenHash == "" || session.RefreshTokenExpiresAt.IsZero() {
		return nil, errors.New("refresh token hash and expiry are required")
	}

	existing, err := r.repo.FindByProviderID(ctx, profile.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("failed to find identity: %w", err)
	}
	if existing != nil {
		return r.update(ctx, existing, profile, session)
	}

	now := r.currentTime()
	expiresAt := session.RefreshTokenExpiresAt
	identity := &model.Identity{
		ID:                  r.newID(),
		ProviderID:          profile.ProviderID,
		CreatedAt:           now,
		UpdatedAt:           now,
		Username:            profile.Login,
		Email:               profile.Email,
		DisplayName:         profile.Name,
		AvatarURL:           profile.AvatarURL,
		ProviderAccessToken: profile.AccessToken,

		RefreshTokenHash:      session.RefreshTokenHash,
		RefreshTokenExpiresAt: &expiresAt,
	}

	err = r.repo.Create(ctx, identity)
	if err == nil {
		slog.Info("identity created",
			slog.String("user_id", identity.ID),
			slog.Int64("provider_id", identity.ProviderID),
		)
		return identity, nil
	}
	if !errors.Is(err, repository.ErrDuplicateProviderID) {
		return nil, fmt.Errorf("failed to create identity: %w", err)
	}

	// 他のリクエストが先に作成した
	existing, err = r.repo.FindByProviderID(ctx, profile.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read identity after conflict: %w", err)
	}
	if existing == nil {
		return nil, fmt.Errorf("identity for provider id %d vanished after conflict", profile.ProviderID)
	}
	return r.update(ctx, existing, profile, session)
}

func (r *Resolver) update(ctx context.Context, identity *model.Identity, profile *model.ProviderProfile, session Session) (*model.Identity, error) {
	updated := *identity
	updated.Username = profile.Login
	updated.Email = profile.Email
	updated.DisplayName = profile.Name
	updated.AvatarURL = profile.AvatarURL
	updated.ProviderAccessToken = profile.AccessToken
	expiresAt := session.RefreshTokenExpiresAt
	updated.RefreshTokenHash = session.RefreshTokenHash
	updated.RefreshTokenExpiresAt = &expiresAt
	updated.UpdatedAt = r.currentTime()

	if err := r.repo.UpdateProfileAndSession(ctx, &updated); err != nil {
		return nil, fmt.Errorf("failed to update identity profile: %w", err)
	}
	return &updated, nil
}

func (r *Resolver) currentTime() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}
