package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "otp"

var (
	ErrChallengeActive   = errors.New("challenge already active")
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeLocked   = errors.New("challenge attempts exceeded")
	ErrCodeMismatch      = errors.New("challenge code mismatch")
	ErrLedgerNotFound    = errors.New("token ledger entry not found")
	ErrLedgerMismatch    = errors.New("token ledger entry mismatch")
	ErrRedisUnavailable  = errors.New("otp redis unavailable")
)

// Store keeps every record of the protocol in Redis. It is safe for
// concurrent use by any number of engine instances sharing one Redis.
type Store struct {
	redis   redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewStore returns a Store using prefix for all keys. A positive timeout bounds
// each round trip independently of the caller's context.
func NewStore(redisClient redis.UniversalClient, prefix string, timeout time.Duration) *Store {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{
		redis:   redisClient,
		prefix:  prefix,
		timeout: timeout,
	}
}

// Keys lists the Redis keys of one (purpose, subject) pair.
type Keys struct {
	Challenge     string
	Pending       string
	Lock          string
	Mirror        string
	StagedPayload string
}

// KeysFor returns the keys of a pair. All share one hash tag.
func (s *Store) KeysFor(purpose, subject string) Keys {
	tag := "{" + purpose + ":" + subject + "}"
	return Keys{
		Challenge:     s.prefix + ":c:" + tag,
		Pending:       s.prefix + ":p:" + tag,
		Lock:          s.prefix + ":l:" + tag,
		Mirror:        s.prefix + ":t:" + tag,
		StagedPayload: s.prefix + ":s:" + tag,
	}
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
