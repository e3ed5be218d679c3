package stores

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// consumeTokenLua spends the token mirror and hands back the staged payload.
// KEYS[1] = token mirror, KEYS[2] = staged payload, ARGV[1] = jti
//
// Returns {1, payload} or {0} on success, or an error reply:
// "not_found", "mismatch".
var consumeTokenLua = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
  return {err='not_found'}
end
if current ~= ARGV[1] then
  return {err='mismatch'}
end
redis.call('DEL', KEYS[1])
local payload = redis.call('GET', KEYS[2])
if payload then
  redis.call('DEL', KEYS[2])
  return {1, payload}
end
return {0}
`)

// ConsumedToken is what a successful ConsumeToken hands to the finalizer.
type ConsumedToken struct {
	Payload    []byte
	HasPayload bool
}

// ConsumeToken atomically verifies that jti is the pair's live token and
// deletes it together with the staged payload. A token that was already
// spent, superseded or revoked yields ErrLedgerNotFound or ErrLedgerMismatch.
func (s *Store) ConsumeToken(ctx context.Context, purpose, subject, jti string) (*ConsumedToken, error) {
	keys := s.KeysFor(purpose, subject)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	result, err := consumeTokenLua.Run(ctx, s.redis,
		[]string{keys.Mirror, keys.StagedPayload},
		jti,
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return nil, ErrLedgerNotFound
		case "mismatch":
			return nil, ErrLedgerMismatch
		default:
			return nil, unavailable(err)
		}
	}

	values, ok := result.([]interface{})
	if !ok || len(values) == 0 {
		return nil, fmt.Errorf("%w: unexpected lua result %T", ErrRedisUnavailable, result)
	}
	status, _ := values[0].(int64)
	if status == 0 {
		return &ConsumedToken{}, nil
	}
	if len(values) != 2 {
		return nil, fmt.Errorf("%w: missing staged payload", ErrRedisUnavailable)
	}
	payload, ok := values[1].(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected payload type %T", ErrRedisUnavailable, values[1])
	}
	return &ConsumedToken{Payload: []byte(payload), HasPayload: true}, nil
}

// TokenActive reports whether jti is the pair's live token without spending it.
func (s *Store) TokenActive(ctx context.Context, purpose, subject, jti string) (bool, error) {
	keys := s.KeysFor(purpose, subject)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	current, err := s.redis.Get(ctx, keys.Mirror).Result()
	if err != nil {
		if isNil(err) {
			return false, nil
		}
		return false, unavailable(err)
	}
	return current == jti, nil
}
