package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Locker は分単位の実行ロックを提供する。
// 取得できなかった場合は他のプロセスが同じ分を処理中であることを示す。
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisLocker はRedisの SET NX PX で実行ロックを取る。
// ロックは解放せずTTLで失効させ、同じ分の再実行を冪等にする。
type RedisLocker struct {
	client *redis.Client
	prefix string
}

// NewRedisLocker はRedisLockerを生成する。
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, prefix: "digestman:dispatch:"}
}

// NewRedisLockerWithURL はURLからRedisクライアントを生成してRedisLockerを返す。
func NewRedisLockerWithURL(url string) (*RedisLocker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("REDIS_URLのパースに失敗しました: %w", err)
	}
	return NewRedisLocker(redis.NewClient(opts)), nil
}

// TryLock はキーが未使用ならロックを取得してtrueを返す。
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("実行ロックの取得に失敗しました: %w", err)
	}
	return ok, nil
}

// Ping はRedisへの接続を確認する。
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close はRedis接続を閉じる。
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

// NopLocker は常にロックを取得できる実装。Redisを使わない単一プロセス構成で使う。
type NopLocker struct{}

// TryLock は常にtrueを返す。
func (NopLocker) TryLock(context.Context, string, time.Duration) (bool, error) {
	return true, nil
}

var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = NopLocker{}
)
