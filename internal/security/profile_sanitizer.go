package security

import (
	"html"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/passport/internal/model"
)

// 保存するプロフィール項目の最大文字数（usersテーブルの列長に合わせる）。
const (
	maxNameLength  = 255
	maxEmailLength = 320
)

// maxSanitizeRounds はエンティティの多重エンコードを剥がす回数の上限。
const maxSanitizeRounds = 4

var angleBrackets = strings.NewReplacer("<", "", ">", "")

// ProfileSanitizer はプロバイダーから受け取ったプロフィールを保存前に無害化する。
// ユーザー名や表示名はそのままフロントエンドに返されるため、マークアップを除去する。
type ProfileSanitizer interface {
	Sanitize(profile *model.ProviderProfile) *model.ProviderProfile
}

type profileSanitizer struct {
	policy *bluemonday.Policy
	guard  OutboundGuard
}

// NewProfileSanitizer はProfileSanitizerを生成する。
// タグは一切許可しない（bluemonday.StrictPolicy）。
func NewProfileSanitizer(guard OutboundGuard) *profileSanitizer {
	return &profileSanitizer{
		policy: bluemonday.StrictPolicy(),
		guard:  guard,
	}
}

// Sanitize は無害化したコピーを返す。元のプロフィールは変更しない。
// 公開http(s)でないアバターURLは破棄する。
func (s *profileSanitizer) Sanitize(profile *model.ProviderProfile) *model.ProviderProfile {
	if profile == nil {
		return nil
	}
	out := *profile
	out.Login = s.plainText(profile.Login, maxNameLength)
	out.Name = s.plainText(profile.Name, maxNameLength)
	out.Email = truncate(strings.TrimSpace(profile.Email), maxEmailLength)

	if out.AvatarURL != "" {
		if err := s.guard.ValidatePublicURL(out.AvatarURL); err != nil {
			slog.Warn("dropping avatar URL from provider profile",
				slog.Int64("provider_id", profile.ProviderID),
				slog.String("error", err.Error()),
			)
			out.AvatarURL = ""
		}
	}
	return &out
}

// plainText はマークアップを除去したプレーンテキストを返す。
// StrictPolicyはエンティティをエスケープするため戻すが、戻した結果に
// マークアップが現れることがあるので、値が変わらなくなるまで繰り返す。
// 上限までに収束しない場合は山括弧を取り除く。
func (s *profileSanitizer) plainText(v string, max int) string {
	cleaned := v
	converged := false
	for range maxSanitizeRounds {
		next := html.UnescapeString(s.policy.Sanitize(cleaned))
		if next == cleaned {
			converged = true
			break
		}
		cleaned = next
	}
	if !converged {
		cleaned = angleBrackets.Replace(cleaned)
	}
	return truncate(strings.TrimSpace(cleaned), max)
}

func truncate(v string, max int) string {
	if utf8.RuneCountInString(v) <= max {
		return v
	}
	return string([]rune(v)[:max])
}

// compile-time interface check
var _ ProfileSanitizer = (*profileSanitizer)(nil)
