package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	challengeRecordVersionV1 = 1
	challengeRecordSize      = 1 + 2 + 2 + 8 + 8 + 32
)

// ChallengeRecord is the stored state of a live challenge. The raw passcode
// is never part of it, only its keyed digest.
type ChallengeRecord struct {
	CodeHash    [32]byte
	IssuedAt    int64
	ExpiresAt   int64
	Attempts    uint16
	MaxAttempts uint16
}

// createChallengeLua writes the challenge and the pending payload together.
// KEYS[1] = challenge, KEYS[2] = pending payload
// ARGV[1] = record bytes, ARGV[2] = ttl ms, ARGV[3] = "1" when a payload is staged, ARGV[4] = payload
var createChallengeLua = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return {err='already_active'}
end
local ttl = tonumber(ARGV[2])
redis.call('SET', KEYS[1], ARGV[1], 'PX', ttl)
if ARGV[3] == '1' then
  redis.call('SET', KEYS[2], ARGV[4], 'PX', ttl)
else
  redis.call('DEL', KEYS[2])
end
return 'OK'
`)

// attemptChallengeLua checks a supplied digest against the challenge.
// KEYS[1] = challenge, KEYS[2] = pending payload, KEYS[3] = lock marker,
// KEYS[4] = token mirror, KEYS[5] = staged payload
// ARGV[1] = supplied digest (32 bytes), ARGV[2] = max attempts, ARGV[3] = now unix,
// ARGV[4] = jti to activate on success, ARGV[5] = token ttl ms
//
// Returns {1, record} on success, {0, remaining} on mismatch, or an error
// reply: "not_found", "attempts_exceeded".
var attemptChallengeLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  if redis.call('EXISTS', KEYS[3]) == 1 then
    return {err='attempts_exceeded'}
  end
  return {err='not_found'}
end

if string.len(data) ~= 53 or string.byte(data, 1) ~= 1 then
  redis.call('DEL', KEYS[1], KEYS[2])
  return {err='not_found'}
end

local maxAttempts = tonumber(ARGV[2])
local attempts = string.byte(data, 2) * 256 + string.byte(data, 3)

local expiresAt = 0
for i = 14, 21 do
  expiresAt = expiresAt * 256 + string.byte(data, i)
end
if tonumber(ARGV[3]) > expiresAt then
  redis.call('DEL', KEYS[1], KEYS[2])
  return {err='not_found'}
end

local ttlMs = redis.call('PTTL', KEYS[1])
if ttlMs <= 0 then
  redis.call('DEL', KEYS[1], KEYS[2])
  return {err='not_found'}
end

if attempts >= maxAttempts then
  redis.call('DEL', KEYS[1], KEYS[2])
  redis.call('SET', KEYS[3], '1', 'PX', ttlMs)
  return {err='attempts_exceeded'}
end

-- full-length comparison, no early exit
local supplied = ARGV[1]
local diff = 0
if string.len(supplied) ~= 32 then
  diff = 1
end
for i = 1, 32 do
  local a = string.byte(data, 21 + i)
  local b = string.byte(supplied, i) or 256
  diff = diff + math.abs(a - b)
end

if diff ~= 0 then
  attempts = attempts + 1
  if attempts >= maxAttempts then
    redis.call('DEL', KEYS[1], KEYS[2])
    redis.call('SET', KEYS[3], '1', 'PX', ttlMs)
    return {err='attempts_exceeded'}
  end
  local updated = string.sub(data, 1, 1) .. string.char(math.floor(attempts / 256), attempts % 256) .. string.sub(data, 4)
  redis.call('SET', KEYS[1], updated, 'PX', ttlMs)
  return {0, maxAttempts - attempts}
end

local tokenTTL = tonumber(ARGV[5])
redis.call('DEL', KEYS[1], KEYS[3])
redis.call('SET', KEYS[4], ARGV[4], 'PX', tokenTTL)
if redis.call('EXISTS', KEYS[2]) == 1 then
  redis.call('RENAME', KEYS[2], KEYS[5])
  redis.call('PEXPIRE', KEYS[5], tokenTTL)
else
  redis.call('DEL', KEYS[5])
end
return {1, data}
`)

// discardChallengeLua removes a challenge only if it is still the record the
// caller wrote. KEYS[1] = challenge, KEYS[2] = pending payload, ARGV[1] = record bytes
var discardChallengeLua = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('DEL', KEYS[1], KEYS[2])
  return 1
end
return 0
`)

// CreateChallenge stores record and, when hasPayload is set, payload under the
// pair's keys with ttl. It fails with ErrChallengeActive if a challenge is live.
// The encoded record is returned so the caller can Discard exactly this write.
func (s *Store) CreateChallenge(
	ctx context.Context,
	purpose, subject string,
	record *ChallengeRecord,
	payload []byte,
	hasPayload bool,
	ttl time.Duration,
) ([]byte, error) {
	if ttl <= 0 {
		return nil, errors.New("challenge ttl must be positive")
	}
	encoded, err := EncodeChallengeRecord(record)
	if err != nil {
		return nil, err
	}

	keys := s.KeysFor(purpose, subject)
	flag := "0"
	if hasPayload {
		flag = "1"
	}

	ctx, cancel := s.bound(ctx)
	defer cancel()

	err = createChallengeLua.Run(ctx, s.redis,
		[]string{keys.Challenge, keys.Pending},
		encoded,
		ttl.Milliseconds(),
		flag,
		payload,
	).Err()
	if err != nil {
		if err.Error() == "already_active" {
			return nil, ErrChallengeActive
		}
		return nil, unavailable(err)
	}

	return encoded, nil
}

// AttemptChallenge compares providedHash with the live challenge. On a match
// it deletes the challenge, writes jti to the token mirror with tokenTTL, and
// moves the pending payload to the staged payload key, all atomically.
//
// On a mismatch it returns ErrCodeMismatch and the attempts still allowed.
// Exhausting the budget deletes the challenge and returns ErrChallengeLocked.
func (s *Store) AttemptChallenge(
	ctx context.Context,
	purpose, subject string,
	providedHash [32]byte,
	maxAttempts int,
	now time.Time,
	jti string,
	tokenTTL time.Duration,
) (*ChallengeRecord, int, error) {
	if tokenTTL <= 0 {
		return nil, 0, errors.New("token ttl must be positive")
	}
	keys := s.KeysFor(purpose, subject)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	result, err := attemptChallengeLua.Run(ctx, s.redis,
		[]string{keys.Challenge, keys.Pending, keys.Lock, keys.Mirror, keys.StagedPayload},
		string(providedHash[:]),
		maxAttempts,
		now.Unix(),
		jti,
		tokenTTL.Milliseconds(),
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found":
			return nil, 0, ErrChallengeNotFound
		case "attempts_exceeded":
			return nil, 0, ErrChallengeLocked
		default:
			return nil, 0, unavailable(err)
		}
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return nil, 0, fmt.Errorf("%w: unexpected lua result %T", ErrRedisUnavailable, result)
	}
	status, _ := values[0].(int64)
	if status == 0 {
		remaining, err := toInt(values[1])
		if err != nil {
			return nil, 0, unavailable(err)
		}
		return nil, remaining, ErrCodeMismatch
	}

	data, ok := values[1].(string)
	if !ok {
		return nil, 0, fmt.Errorf("%w: unexpected lua record type %T", ErrRedisUnavailable, values[1])
	}
	record, err := DecodeChallengeRecord([]byte(data))
	if err != nil {
		return nil, 0, unavailable(err)
	}
	return record, 0, nil
}

// DiscardChallenge rolls back a CreateChallenge whose encoded record is given.
// A challenge that has since been replaced is left untouched.
func (s *Store) DiscardChallenge(ctx context.Context, purpose, subject string, encoded []byte) (bool, error) {
	keys := s.KeysFor(purpose, subject)

	ctx, cancel := s.bound(ctx)
	defer cancel()

	n, err := discardChallengeLua.Run(ctx, s.redis,
		[]string{keys.Challenge, keys.Pending},
		encoded,
	).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}

// EncodeChallengeRecord renders the fixed-size v1 layout:
// version(1) attempts(2) maxAttempts(2) issuedAt(8) expiresAt(8) codeHash(32).
func EncodeChallengeRecord(record *ChallengeRecord) ([]byte, error) {
	if record == nil {
		return nil, errors.New("nil challenge record")
	}

	var buf bytes.Buffer
	buf.Grow(challengeRecordSize)
	buf.WriteByte(challengeRecordVersionV1)

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.MaxAttempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

// DecodeChallengeRecord parses a record written by EncodeChallengeRecord.
func DecodeChallengeRecord(data []byte) (*ChallengeRecord, error) {
	if len(data) != challengeRecordSize {
		return nil, errors.New("invalid challenge record size")
	}
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != challengeRecordVersionV1 {
		return nil, errors.New("invalid challenge record version")
	}

	record := &ChallengeRecord{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.MaxAttempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.IssuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("unexpected integer type %T", v)
	}
}
