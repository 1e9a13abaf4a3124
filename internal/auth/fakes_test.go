package auth

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/passport/internal/model"
	"github.com/hitoshi/passport/internal/repository"
)

// memoryIdentityRepo はIdentityRepositoryのインメモリ実装。
// 条件付き更新はPostgreSQL実装と同じ意味で、ミューテックスでアトミックに行う。
type memoryIdentityRepo struct {
	mu         sync.Mutex
	identities map[string]model.Identity

	// beforeCreate はCreateの直前に呼ばれる（同時初回ログインの再現用）。
	beforeCreate func(identity *model.Identity)
	// findErr が設定されていればFind系はこのエラーを返す。
	findErr error
	// writeErr が設定されていればCreateとUpdateProfileAndSessionはこのエラーを返す。
	writeErr error
}

func newMemoryIdentityRepo() *memoryIdentityRepo {
	return &memoryIdentityRepo{identities: make(map[string]model.Identity)}
}

func cloneIdentity(i model.Identity) *model.Identity {
	out := i
	if i.RefreshTokenExpiresAt != nil {
		t := *i.RefreshTokenExpiresAt
		out.RefreshTokenExpiresAt = &t
	}
	if i.TokensInvalidatedAt != nil {
		t := *i.TokensInvalidatedAt
		out.TokensInvalidatedAt = &t
	}
	return &out
}

func (r *memoryIdentityRepo) FindByID(_ context.Context, id string) (*model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	i, ok := r.identities[id]
	if !ok {
		return nil, nil
	}
	return cloneIdentity(i), nil
}

func (r *memoryIdentityRepo) FindByProviderID(_ context.Context, providerID int64) (*model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, i := range r.identities {
		if i.ProviderID == providerID {
			return cloneIdentity(i), nil
		}
	}
	return nil, nil
}

func (r *memoryIdentityRepo) FindByRefreshTokenHash(_ context.Context, hash string) (*model.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, i := range r.identities {
		if i.RefreshTokenHash != "" && i.RefreshTokenHash == hash {
			return cloneIdentity(i), nil
		}
	}
	return nil, nil
}

func (r *memoryIdentityRepo) Create(_ context.Context, identity *model.Identity) error {
	if r.beforeCreate != nil {
		r.beforeCreate(identity)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	for _, i := range r.identities {
		if i.ProviderID == identity.ProviderID {
			return repository.ErrDuplicateProviderID
		}
	}
	stored := *cloneIdentity(*identity)
	stored.TokensInvalidatedAt = nil
	r.identities[identity.ID] = stored
	return nil
}

func (r *memoryIdentityRepo) UpdateProfileAndSession(_ context.Context, identity *model.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	i, ok := r.identities[identity.ID]
	if !ok {
		return repository.ErrNotFound
	}
	i.Username = identity.Username
	i.Email = identity.Email
	i.DisplayName = identity.DisplayName
	i.AvatarURL = identity.AvatarURL
	i.ProviderAccessToken = identity.ProviderAccessToken
	i.RefreshTokenHash = identity.RefreshTokenHash
	i.RefreshTokenExpiresAt = cloneIdentity(*identity).RefreshTokenExpiresAt
	i.UpdatedAt = identity.UpdatedAt
	r.identities[identity.ID] = i
	return nil
}

func (r *memoryIdentityRepo) RotateRefreshToken(_ context.Context, id, oldHash, newHash string, newExpiresAt, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.identities[id]
	if !ok || i.RefreshTokenHash != oldHash || i.RefreshTokenExpiresAt == nil || !i.RefreshTokenExpiresAt.After(now) {
		return repository.ErrRefreshTokenMismatch
	}
	i.RefreshTokenHash = newHash
	i.RefreshTokenExpiresAt = &newExpiresAt
	i.UpdatedAt = now
	r.identities[id] = i
	return nil
}

func (r *memoryIdentityRepo) RevokeTokens(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.identities[id]
	if !ok {
		return repository.ErrNotFound
	}
	if i.TokensInvalidatedAt == nil || at.After(*i.TokensInvalidatedAt) {
		i.TokensInvalidatedAt = &at
	}
	i.RefreshTokenHash = ""
	i.RefreshTokenExpiresAt = nil
	i.UpdatedAt = at
	r.identities[id] = i
	return nil
}

func (r *memoryIdentityRepo) ClearExpiredRefreshTokens(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, i := range r.identities {
		if i.RefreshTokenExpiresAt != nil && !i.RefreshTokenExpiresAt.After(now) {
			i.RefreshTokenHash = ""
			i.RefreshTokenExpiresAt = nil
			r.identities[id] = i
			n++
		}
	}
	return n, nil
}

func (r *memoryIdentityRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.identities)
}

var _ repository.IdentityRepository = (*memoryIdentityRepo)(nil)

// mockProvider は関数フィールドで振る舞いを差し替えるProvider。
type mockProvider struct {
	authCodeURLFn  func(state string) string
	exchangeCodeFn func(ctx context.Context, code string) (string, error)
	fetchProfileFn func(ctx context.Context, providerToken string) (*model.ProviderProfile, error)
}

func (m *mockProvider) AuthCodeURL(state string) string {
	if m.authCodeURLFn != nil {
		return m.authCodeURLFn(state)
	}
	return "https://github.com/login/oauth/authorize?state=" + state
}

func (m *mockProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	if m.exchangeCodeFn != nil {
		return m.exchangeCodeFn(ctx, code)
	}
	return "gho_" + code, nil
}

func (m *mockProvider) FetchProfile(ctx context.Context, providerToken string) (*model.ProviderProfile, error) {
	if m.fetchProfileFn != nil {
		return m.fetchProfileFn(ctx, providerToken)
	}
	return &model.ProviderProfile{
		ProviderID:  583231,
		Login:       "octocat",
		Email:       "octocat@github.com",
		Name:        "The Octocat",
		AvatarURL:   "https://avatars.githubusercontent.com/u/583231?v=4",
		AccessToken: providerToken,
	}, nil
}

// testClock はテスト中に進められる時計。
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
