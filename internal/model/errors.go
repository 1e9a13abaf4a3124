// Package model はドメインモデルを定義する。
package model

import "fmt"

// ErrorKind はサブシステム境界で呼び出し元に返すエラー分類。
type ErrorKind string

const (
	KindNotFound     ErrorKind = "not_found"
	KindValidation   ErrorKind = "validation"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindConflict     ErrorKind = "conflict"
	KindInternal     ErrorKind = "internal"
	KindRateLimited  ErrorKind = "rate_limited"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Kind     ErrorKind // エラー分類
	Code     string    // エラーコード
	Message  string    // エラーメッセージ
	Category string    // カテゴリ: auth, validation, system
	Action   string    // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeProviderAuthFailed  = "PROVIDER_AUTH_FAILED"
	ErrCodeInvalidAccessToken  = "INVALID_ACCESS_TOKEN"
	ErrCodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	ErrCodeIdentityNotFound    = "IDENTITY_NOT_FOUND"
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeMissingCode         = "MISSING_AUTHORIZATION_CODE"
	ErrCodeRateLimited         = "RATE_LIMIT_EXCEEDED"
	ErrCodeOriginNotAllowed    = "ORIGIN_NOT_ALLOWED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// NewProviderAuthFailedError はプロバイダー認証失敗エラーを生成する。
// ネットワーク障害とプロバイダー側の拒否は区別しない。
func NewProviderAuthFailedError() *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeProviderAuthFailed,
		Message:  "failed to authenticate with provider",
		Category: "auth",
		Action:   "Restart the login flow.",
	}
}

// NewInvalidAccessTokenError はアクセストークン検証失敗エラーを生成する。
// 署名・有効期限・失効のどれで失敗したかは含めない。
func NewInvalidAccessTokenError() *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeInvalidAccessToken,
		Message:  "access token is invalid or expired",
		Category: "auth",
		Action:   "Refresh the access token or log in again.",
	}
}

// NewInvalidRefreshTokenError はリフレッシュトークン検証失敗エラーを生成する。
func NewInvalidRefreshTokenError() *APIError {
	return &APIError{
		Kind:     KindUnauthorized,
		Code:     ErrCodeInvalidRefreshToken,
		Message:  "refresh token is invalid or expired",
		Category: "auth",
		Action:   "Log in again.",
	}
}

// NewIdentityNotFoundError はIdentityが存在しない場合のエラーを生成する。
func NewIdentityNotFoundError() *APIError {
	return &APIError{
		Kind:     KindNotFound,
		Code:     ErrCodeIdentityNotFound,
		Message:  "identity not found",
		Category: "auth",
		Action:   "Log in again.",
	}
}

// NewInvalidStateError はOAuth stateの検証失敗エラーを生成する。
func NewInvalidStateError() *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeInvalidState,
		Message:  "invalid or expired state parameter",
		Category: "validation",
		Action:   "Restart the login flow.",
	}
}

// NewMissingCodeError は認可コードが指定されていない場合のエラーを生成する。
func NewMissingCodeError() *APIError {
	return &APIError{
		Kind:     KindValidation,
		Code:     ErrCodeMissingCode,
		Message:  "missing authorization code",
		Category: "validation",
		Action:   "Restart the login flow.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Kind:     KindRateLimited,
		Code:     ErrCodeRateLimited,
		Message:  "too many requests",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewOriginNotAllowedError はCookie認証のリクエストが許可されていないオリジンから来た場合のエラーを生成する。
func NewOriginNotAllowedError() *APIError {
	return &APIError{
		Kind:     KindForbidden,
		Code:     ErrCodeOriginNotAllowed,
		Message:  "request origin is not allowed",
		Category: "auth",
		Action:   "Use the application from its configured origin.",
	}
}

// NewInternalError は内部エラーを生成する。原因は含めずログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Kind:     KindInternal,
		Code:     ErrCodeInternal,
		Message:  "an unexpected error occurred",
		Category: "system",
		Action:   "Please try again later.",
	}
}
