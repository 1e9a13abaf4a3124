// Package oauthstate はOAuthログインのstateパラメータを一時保存する。
// stateは1回だけ消費でき、期限切れ・再利用・未知の値はすべて「見つからない」として扱う。
package oauthstate

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"
)

// stateBytes はstate値のバイト長（256bit）。
const stateBytes = 32

// Entry はstateに紐づけて保存するログイン開始時の情報。
type Entry struct {
	ReturnURL string    `json:"return_url,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store はstateの保存先のインターフェース。
type Store interface {
	// Save はstateをttlの間保存する。
	Save(ctx context.Context, state string, entry Entry, ttl time.Duration) error

	// Consume はstateを取り出すと同時に削除する。
	// 存在しない・期限切れ・消費済みの場合はnil, nilを返す。
	Consume(ctx context.Context, state string) (*Entry, error)

	// Close は保持しているリソースを解放する。
	Close() error
}

// NewState は暗号論的に安全なstate値を生成する。
func NewState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
