package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/crypto-morph/newsfinder/internal/domain"
	"github.com/crypto-morph/newsfinder/internal/ports"
)

// releaseScript deletes the key only while it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLedger shares reservations between processes. A reserved key holds the
// holder's token with a PX expiry; committed keys hold "committed" and never expire.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ ports.Ledger = (*RedisLedger)(nil)

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisLedger wraps a client. Keys are stored as <prefix><fingerprint>.
func NewRedisLedger(client *redis.Client, prefix string, ttl time.Duration) *RedisLedger {
	if prefix == "" {
		prefix = "newsfinder:fp:"
	}
	return &RedisLedger{client: client, prefix: prefix, ttl: ttl}
}

func (l *RedisLedger) key(fp domain.Fingerprint) string {
	return l.prefix + fp.String()
}

func (l *RedisLedger) Seen(ctx context.Context, fp domain.Fingerprint) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(fp)).Result()
	if err != nil {
		return false, ledgerErr("seen", err)
	}
	return n > 0, nil
}

func (l *RedisLedger) Reserve(ctx context.Context, fp domain.Fingerprint) (ports.Reservation, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key(fp), token, l.ttl).Result()
	if err != nil {
		return ports.Reservation{}, ledgerErr("reserve", err)
	}
	if !ok {
		return ports.Reservation{Result: ports.MarkAlreadyMarked}, nil
	}
	return ports.Reservation{Result: ports.MarkOK, Token: token}, nil
}

func (l *RedisLedger) Release(ctx context.Context, fp domain.Fingerprint, token string) error {
	if token == "" {
		return nil
	}
	err := releaseScript.Run(ctx, l.client, []string{l.key(fp)}, token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return ledgerErr("release", err)
	}
	return nil
}

func (l *RedisLedger) Commit(ctx context.Context, fp domain.Fingerprint) error {
	if err := l.client.Set(ctx, l.key(fp), ledgerStateCommitted, 0).Err(); err != nil {
		return ledgerErr("commit", err)
	}
	return nil
}

// Ping checks connectivity.
func (l *RedisLedger) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return ledgerErr("ping", err)
	}
	return nil
}
