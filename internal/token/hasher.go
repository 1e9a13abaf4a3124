package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// refreshHashInfo はHKDFで署名鍵からハッシュ鍵を導出する際のコンテキスト文字列。
const refreshHashInfo = "passport:refresh-token-hash:v1"

// Hasher はリフレッシュトークンのシークレットを鍵付きハッシュに変換する。
// 同じシークレットからは常に同じハッシュが得られるため、ハッシュで検索できる。
type Hasher struct {
	key []byte
}

// NewHasher はHasherを生成する。
// pepperが空の場合はsigningKeyからHKDF-SHA256で鍵を導出する。
func NewHasher(pepper, signingKey []byte) (*Hasher, error) {
	if len(pepper) > 0 {
		return &Hasher{key: append([]byte(nil), pepper...)}, nil
	}
	if len(signingKey) == 0 {
		return nil, errors.New("either pepper or signing key is required")
	}

	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, signingKey, nil, []byte(refreshHashInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive refresh hash key: %w", err)
	}
	return &Hasher{key: key}, nil
}

// Hash はシークレットのHMAC-SHA256を16進文字列で返す。
func (h *Hasher) Hash(secret string) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}
