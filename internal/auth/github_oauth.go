package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/hitoshi/passport/internal/model"
)

const (
	defaultGitHubUserURL   = "https://api.github.com/user"
	defaultGitHubEmailsURL = "https://api.github.com/user/emails"
	defaultUserAgent       = "passport"

	// maxProviderResponseBytes はプロバイダーAPIのレスポンスの読み込み上限。
	maxProviderResponseBytes = 1 << 20
)

// GitHubOAuthConfig はGitHub OAuthプロバイダーの設定。
type GitHubOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	UserAgent    string

	// HTTPClient はコード交換とAPI呼び出しに使うクライアント。nilの場合はhttp.DefaultClient。
	HTTPClient *http.Client

	// テスト用にオーバーライド可能なURL
	AuthURL   string
	TokenURL  string
	UserURL   string
	EmailsURL string
}

// GitHubOAuthProvider はGitHub OAuth Appによる認証を提供する。
type GitHubOAuthProvider struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	userAgent  string
	userURL    string
	emailsURL  string
}

// NewGitHubOAuthProvider はGitHubOAuthProviderを生成する。
func NewGitHubOAuthProvider(config GitHubOAuthConfig) *GitHubOAuthProvider {
	endpoint := github.Endpoint
	if config.AuthURL != "" {
		endpoint.AuthURL = config.AuthURL
	}
	if config.TokenURL != "" {
		endpoint.TokenURL = config.TokenURL
	}
	if config.UserURL == "" {
		config.UserURL = defaultGitHubUserURL
	}
	if config.EmailsURL == "" {
		config.EmailsURL = defaultGitHubEmailsURL
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	return &GitHubOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       config.Scopes,
			Endpoint:     endpoint,
		},
		httpClient: config.HTTPClient,
		userAgent:  config.UserAgent,
		userURL:    config.UserURL,
		emailsURL:  config.EmailsURL,
	}
}

// AuthCodeURL はGitHubの認可URLを生成する。
func (p *GitHubOAuthProvider) AuthCodeURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// ExchangeCode は認可コードをアクセストークンに交換する。
// GitHubはエラー時も200を返すことがあるため、空のトークンも失敗として扱う。
func (p *GitHubOAuthProvider) ExchangeCode(ctx context.Context, code string) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return "", fmt.Errorf("%w: token exchange: %v", ErrProviderAuthFailed, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token in response", ErrProviderAuthFailed)
	}
	return tok.AccessToken, nil
}

// githubUser はGitHubの/userレスポンスのうち使用する項目。
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

// githubEmail はGitHubの/user/emailsレスポンスの1要素。
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// FetchProfile はGitHubのユーザー情報を取得する。
// 公開メールアドレスが無い場合は/user/emailsから検証済みのプライマリアドレスを補う。
func (p *GitHubOAuthProvider) FetchProfile(ctx context.Context, providerToken string) (*model.ProviderProfile, error) {
	var user githubUser
	if err := p.getJSON(ctx, p.userURL, providerToken, &user); err != nil {
		return nil, fmt.Errorf("%w: fetch user: %v", ErrProviderAuthFailed, err)
	}
	if user.ID == 0 || user.Login == "" {
		return nil, fmt.Errorf("%w: missing id or login in user response", ErrProviderAuthFailed)
	}

	email := user.Email
	if email == "" {
		primary, err := p.fetchPrimaryEmail(ctx, providerToken)
		if err != nil {
			// メールアドレスは任意項目のため、取得失敗はログインを失敗させない
			slog.Warn("failed to fetch github emails",
				slog.Int64("provider_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
		email = primary
	}

	return &model.ProviderProfile{
		ProviderID:  user.ID,
		Login:       user.Login,
		Email:       email,
		Name:        user.Name,
		AvatarURL:   user.AvatarURL,
		AccessToken: providerToken,
	}, nil
}

// fetchPrimaryEmail は検証済みのプライマリアドレスを返す。無ければ空文字列。
func (p *GitHubOAuthProvider) fetchPrimaryEmail(ctx context.Context, providerToken string) (string, error) {
	var emails []githubEmail
	if err := p.getJSON(ctx, p.emailsURL, providerToken, &emails); err != nil {
		return "", err
	}
	for _, e := range emails {
		if e.Primary && e.Verified {
			return e.Email, nil
		}
	}
	return "", nil
}

// getJSON はBearer認証付きでGETし、2xxのJSONレスポンスをdstにデコードする。
func (p *GitHubOAuthProvider) getJSON(ctx context.Context, url, providerToken string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+providerToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// compile-time interface check
var _ Provider = (*GitHubOAuthProvider)(nil)
