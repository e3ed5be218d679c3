package stores

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// PairState is a read-only view of one (purpose, subject) pair.
type PairState struct {
	Challenge    *ChallengeRecord
	ChallengeTTL time.Duration
	Locked       bool
	LockTTL      time.Duration
	TokenActive  bool
	TokenTTL     time.Duration
}

// Inspect reads the pair's records in one pipelined round trip. It never
// mutates state. A malformed challenge is reported as absent.
func (s *Store) Inspect(ctx context.Context, purpose, subject string) (*PairState, error) {
	keys := s.KeysFor(purpose, subject)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	var (
		challengeCmd    *redis.StringCmd
		challengeTTLCmd *redis.DurationCmd
		lockTTLCmd      *redis.DurationCmd
		mirrorTTLCmd    *redis.DurationCmd
	)
	_, err := s.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		challengeCmd = pipe.Get(ctx, keys.Challenge)
		challengeTTLCmd = pipe.PTTL(ctx, keys.Challenge)
		lockTTLCmd = pipe.PTTL(ctx, keys.Lock)
		mirrorTTLCmd = pipe.PTTL(ctx, keys.Mirror)
		return nil
	})
	if err != nil && !isNil(err) {
		return nil, unavailable(err)
	}

	state := &PairState{}

	if data, err := challengeCmd.Bytes(); err == nil {
		if record, decodeErr := DecodeChallengeRecord(data); decodeErr == nil {
			state.Challenge = record
			state.ChallengeTTL = positive(challengeTTLCmd.Val())
		}
	} else if !isNil(err) {
		return nil, unavailable(err)
	}

	if ttl := lockTTLCmd.Val(); ttl > 0 {
		state.Locked = true
		state.LockTTL = ttl
	}
	if ttl := mirrorTTLCmd.Val(); ttl > 0 {
		state.TokenActive = true
		state.TokenTTL = ttl
	}

	return state, nil
}

// Purge deletes every record of the pair: challenge, payloads, lockout marker
// and token mirror. It reports how many keys existed.
func (s *Store) Purge(ctx context.Context, purpose, subject string) (int64, error) {
	keys := s.KeysFor(purpose, subject)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := s.redis.Del(ctx,
		keys.Challenge,
		keys.Pending,
		keys.Lock,
		keys.Mirror,
		keys.StagedPayload,
	).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// Ping checks that Redis is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if err := s.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func positive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
