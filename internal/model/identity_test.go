package model

import (
	"testing"
	"time"
)

func TestIdentity_IsRevokedAt(t *testing.T) {
	epoch := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		epoch    *time.Time
		issuedAt time.Time
		want     bool
	}{
		{"no epoch", nil, epoch.Add(-time.Hour), false},
		{"issued before epoch", &epoch, epoch.Add(-time.Microsecond), true},
		{"issued at epoch", &epoch, epoch, true},
		{"issued after epoch", &epoch, epoch.Add(time.Microsecond), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := &Identity{TokensInvalidatedAt: tt.epoch}
			if got := i.IsRevokedAt(tt.issuedAt); got != tt.want {
				t.Errorf("IsRevokedAt() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIdentity_RefreshTokenExpired(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name string
		hash string
		exp  *time.Time
		want bool
	}{
		{"no refresh token", "", nil, true},
		{"hash without expiry", "h", nil, true},
		{"expired", "h", &past, true},
		{"expires exactly now", "h", &now, true},
		{"valid", "h", &future, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i := &Identity{RefreshTokenHash: tt.hash, RefreshTokenExpiresAt: tt.exp}
			if got := i.RefreshTokenExpired(now); got != tt.want {
				t.Errorf("RefreshTokenExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIdentity_Profile_OmitsSecrets(t *testing.T) {
	i := &Identity{
		ID:                  "id-1",
		ProviderID:          1,
		Username:            "octocat",
		ProviderAccessToken: "gho_secret",
		RefreshTokenHash:    "hash",
	}
	p := i.Profile()
	if p.ID != "id-1" || p.ProviderID != 1 || p.Username != "octocat" {
		t.Errorf("Profile() = %+v", p)
	}
}

func TestAPIError_Error(t *testing.T) {
	err := NewInvalidRefreshTokenError()
	if got := err.Error(); got != "[INVALID_REFRESH_TOKEN] refresh token is invalid or expired" {
		t.Errorf("Error() = %q", got)
	}
	if err.Kind != KindUnauthorized {
		t.Errorf("Kind = %q, want %q", err.Kind, KindUnauthorized)
	}
}
