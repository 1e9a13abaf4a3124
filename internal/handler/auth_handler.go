// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/passport/internal/auth"
	"github.com/hitoshi/passport/internal/middleware"
	"github.com/hitoshi/passport/internal/model"
)

const (
	refreshCookieName = "refresh_token"
	oauthStateCookie  = "oauth_state"
)

// AuthService は認証ハンドラーが必要とするサービスインターフェース。
// auth.Serviceが実装する。返すエラーは*model.APIError。
type AuthService interface {
	BeginLogin(ctx context.Context, returnURL string) (*auth.LoginStart, error)
	CompleteLogin(ctx context.Context, code, state string) (*auth.LoginResult, error)
	Refresh(ctx context.Context, refreshSecret string) (*model.AuthResult, error)
	Logout(ctx context.Context, identityID string) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// FrontendURL はコールバック後のリダイレクト先のベースURL。
	FrontendURL  string
	CookieDomain string
	CookieSecure bool
	// CookiePath はリフレッシュトークンとstateのCookieのパス。
	CookiePath string
	// StateTTL はstate Cookieの有効期間。
	StateTTL time.Duration
}

// AuthHandler はOAuth認証とトークン管理のHTTPハンドラー。
type AuthHandler struct {
	service AuthService
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthService, config AuthHandlerConfig) *AuthHandler {
	if config.CookiePath == "" {
		config.CookiePath = "/auth"
	}
	if config.StateTTL <= 0 {
		config.StateTTL = 10 * time.Minute
	}
	config.FrontendURL = strings.TrimRight(config.FrontendURL, "/")
	return &AuthHandler{
		service: service,
		config:  config,
	}
}

// tokenResponse はアクセストークンを返すレスポンス。
type tokenResponse struct {
	AccessToken string              `json:"access_token"`
	TokenType   string              `json:"token_type"`
	ExpiresAt   time.Time           `json:"expires_at"`
	ReturnURL   string              `json:"return_url,omitempty"`
	User        model.PublicProfile `json:"user"`
}

// Login はGitHub OAuthフローを開始する。
// GET /auth/login?returnUrl=
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start, err := h.service.BeginLogin(r.Context(), r.URL.Query().Get("returnUrl"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	// stateをブラウザにも紐付ける（CSRF対策）。
	// プロバイダーからのトップレベル遷移で送られるようSameSite=Laxとする。
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    start.State,
		Path:     h.config.CookiePath,
		MaxAge:   int(h.config.StateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, start.AuthURL, http.StatusTemporaryRedirect)
}

// Callback はOAuthコールバックを処理する。
// GET /auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || state == "" || stateCookie.Value != state {
		slog.Warn("oauth state cookie mismatch")
		middleware.WriteAPIError(w, model.NewInvalidStateError())
		return
	}
	h.clearCookie(w, oauthStateCookie, http.SameSiteLaxMode)

	result, err := h.service.CompleteLogin(r.Context(), r.URL.Query().Get("code"), state)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.setRefreshCookie(w, result.RefreshToken, result.RefreshTokenExpiresAt)

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, newTokenResponse(&result.AuthResult, result.ReturnURL))
		return
	}

	// フロントエンドへアクセストークンを渡す
	q := url.Values{}
	q.Set("access_token", result.AccessToken)
	q.Set("expires_at", result.AccessTokenExpiresAt.UTC().Format(time.RFC3339))
	if result.ReturnURL != "" {
		q.Set("return_url", result.ReturnURL)
	}
	http.Redirect(w, r, h.config.FrontendURL+"/auth/callback?"+q.Encode(), http.StatusFound)
}

// Refresh はリフレッシュトークンをローテーションし、新しいアクセストークンを返す。
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		h.clearCookie(w, refreshCookieName, http.SameSiteStrictMode)
		middleware.WriteAPIError(w, model.NewInvalidRefreshTokenError())
		return
	}

	result, err := h.service.Refresh(r.Context(), cookie.Value)
	if err != nil {
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Kind == model.KindUnauthorized {
			// 無効になったシークレットを再送させない
			h.clearCookie(w, refreshCookieName, http.SameSiteStrictMode)
		}
		handleServiceError(w, err)
		return
	}

	h.setRefreshCookie(w, result.RefreshToken, result.RefreshTokenExpiresAt)
	writeJSON(w, http.StatusOK, newTokenResponse(result, ""))
}

// Logout はアクセストークンを失効させ、リフレッシュトークンCookieをクリアする。
// POST /auth/logout（Bearer認証必須）
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewInvalidAccessTokenError())
		return
	}

	// ログアウトの成否に関わらずCookieはクリアする
	h.clearCookie(w, refreshCookieName, http.SameSiteStrictMode)

	if err := h.service.Logout(r.Context(), userID); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me（Bearer認証必須）
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteAPIError(w, model.NewInvalidAccessTokenError())
		return
	}

	writeJSON(w, http.StatusOK, identity.Profile())
}

// setRefreshCookie はリフレッシュトークンをHttpOnly・SameSite=StrictのCookieに設定する。
func (h *AuthHandler) setRefreshCookie(w http.ResponseWriter, secret string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    secret,
		Path:     h.config.CookiePath,
		Domain:   h.config.CookieDomain,
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string, sameSite http.SameSite) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     h.config.CookiePath,
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: sameSite,
	})
}

func newTokenResponse(result *model.AuthResult, returnURL string) tokenResponse {
	return tokenResponse{
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   result.AccessTokenExpiresAt.UTC(),
		ReturnURL:   returnURL,
		User:        result.Identity.Profile(),
	}
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteAPIError(w, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}
