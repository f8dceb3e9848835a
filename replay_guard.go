package apicharge

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const replayKeyPrefix = "apr"

var (
	errReplayDetected          = errors.New("replay detected")
	errReplayRedisUnavailable  = errors.New("replay guard redis unavailable")
	errReplayEmptyAdmissionKey = errors.New("empty replay admission key")
)

// replayGuard admits each key exactly once within its TTL. Entries are
// garbage-collected lazily by redis TTL expiry; reads never block on
// collection.
type replayGuard struct {
	redis  *redis.Client
	prefix string
}

func newReplayGuard(redisClient *redis.Client) *replayGuard {
	return &replayGuard{
		redis:  redisClient,
		prefix: replayKeyPrefix,
	}
}

func (g *replayGuard) key(admission string) string {
	return g.prefix + ":" + admission
}

// Admit records the admission key and reports whether this is its first use.
// A second Admit of the same key within the TTL returns errReplayDetected.
func (g *replayGuard) Admit(ctx context.Context, admission string, ttl time.Duration) error {
	if admission == "" {
		return errReplayEmptyAdmissionKey
	}
	if ttl <= 0 {
		ttl = time.Second
	}

	ok, err := g.redis.SetNX(ctx, g.key(admission), 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", errReplayRedisUnavailable, err)
	}
	if !ok {
		return errReplayDetected
	}
	return nil
}

// admissionKeyForSignature derives the guard key for a token signature.
// Hashing keeps redis keys short and uniform regardless of signature size.
func admissionKeyForSignature(sig []byte) string {
	sum := sha256.Sum256(sig)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
