package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another instance is left alone.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker is a best-effort distributed lock over SET NX with expiry. Each
// acquisition gets its own token, so releasing a lock that expired and was
// taken by another holder leaves the new holder alone.
type Locker struct {
	client goredis.UniversalClient
}

func NewLocker(client goredis.UniversalClient) *Locker {
	return &Locker{client: client}
}

// TryLock reports whether key was acquired and returns the token needed to
// release it. It never blocks waiting for the current holder.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("cache: locker has no client")
	}
	token, err := newToken()
	if err != nil {
		return "", false, err
	}
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Unlock releases key if it is still held with token.
func (l *Locker) Unlock(ctx context.Context, key, token string) error {
	if token == "" || l == nil || l.client == nil {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
