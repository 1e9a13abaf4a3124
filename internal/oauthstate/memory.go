package oauthstate

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore はttlcacheを使ったプロセス内のStore。
// 単一インスタンス構成とテストで使う。
type MemoryStore struct {
	cache *ttlcache.Cache[string, Entry]
}

// NewMemoryStore はMemoryStoreを生成し、期限切れエントリの掃除を開始する。
func NewMemoryStore(defaultTTL time.Duration) *MemoryStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, Entry](defaultTTL),
		ttlcache.WithDisableTouchOnHit[string, Entry](),
	)
	go cache.Start()

	return &MemoryStore{cache: cache}
}

// Save はstateを保存する。
func (s *MemoryStore) Save(_ context.Context, state string, entry Entry, ttl time.Duration) error {
	s.cache.Set(state, entry, ttl)
	return nil
}

// Consume はstateを取り出して削除する。
func (s *MemoryStore) Consume(_ context.Context, state string) (*Entry, error) {
	item, ok := s.cache.GetAndDelete(state)
	if !ok || item == nil || item.IsExpired() {
		return nil, nil
	}
	entry := item.Value()
	return &entry, nil
}

// Close は掃除用ゴルーチンを停止する。
func (s *MemoryStore) Close() error {
	s.cache.Stop()
	return nil
}

var _ Store = (*MemoryStore)(nil)
