// Package redisstore implements model.TokenStore on Redis.
//
// Every mutation is a single Lua script, so Redis executes it atomically. Key
// layout under the configured prefix:
//
//	<prefix>:token:<id>             hash with the token metadata
//	<prefix>:family:<fid>:members   set of member token ids
//	<prefix>:family:<fid>:head      hash {id, seq} of the latest member
//	<prefix>:family:<fid>:revoked   revoked marker
//	<prefix>:expiry                 zset of token ids scored by expiry (ms)
//	<prefix>:order                  insertion counter
//
// Scripts touch keys derived from ARGV, so the store needs a single Redis
// node or a deployment where the prefix maps to one slot.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dtroode/refreshguard/internal/model"
)

var _ model.TokenStore = (*Store)(nil)

// ErrRedisUnavailable wraps transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const cleanupBatch = 500

const putScript = `
local token_key = KEYS[1]
local members_key = KEYS[2]
local revoked_key = KEYS[3]
local head_key = KEYS[4]
local expiry_key = KEYS[5]
local order_key = KEYS[6]

local id = ARGV[1]
local family_id = ARGV[7]
local seq = tonumber(ARGV[8])

local revoked = ARGV[11]
if family_id ~= "" and redis.call("EXISTS", revoked_key) == 1 then
  revoked = "1"
end

local order = redis.call("INCR", order_key)
redis.call("DEL", token_key)
redis.call("HSET", token_key,
  "user_id", ARGV[2],
  "kind", ARGV[3],
  "issued_at", ARGV[4],
  "expires_at", ARGV[5],
  "family_id", family_id,
  "seq", ARGV[8],
  "parent_id", ARGV[9],
  "revoked", revoked,
  "order", order)
if ARGV[6] ~= "" then
  redis.call("HSET", token_key, "first_used_at", ARGV[6])
end
redis.call("ZADD", expiry_key, ARGV[10], id)

if family_id ~= "" then
  redis.call("SADD", members_key, id)
  local head_seq = tonumber(redis.call("HGET", head_key, "seq") or "-1")
  if seq >= head_seq then
    redis.call("HSET", head_key, "id", id, "seq", seq)
  end
end
return 1
`

const markUsedScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return false
end
local current = redis.call("HGET", KEYS[1], "first_used_at")
if current then
  return {0, current}
end
redis.call("HSET", KEYS[1], "first_used_at", ARGV[1])
return {1, ARGV[1]}
`

const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "revoked", "1")
return 1
`

const revokeFamilyScript = `
redis.call("SET", KEYS[2], "1")
local ids = redis.call("SMEMBERS", KEYS[1])
for _, id in ipairs(ids) do
  local token_key = ARGV[1] .. id
  if redis.call("EXISTS", token_key) == 1 then
    redis.call("HSET", token_key, "revoked", "1")
  end
end
return #ids
`

const cleanupScript = `
local expiry_key = KEYS[1]
local token_prefix = ARGV[2]
local family_prefix = ARGV[3]

local ids = redis.call("ZRANGEBYSCORE", expiry_key, "-inf", "(" .. ARGV[1], "LIMIT", 0, tonumber(ARGV[4]))
for _, id in ipairs(ids) do
  local token_key = token_prefix .. id
  local family_id = redis.call("HGET", token_key, "family_id")
  redis.call("DEL", token_key)
  redis.call("ZREM", expiry_key, id)

  if family_id and family_id ~= "" then
    local members_key = family_prefix .. family_id .. ":members"
    local head_key = family_prefix .. family_id .. ":head"
    redis.call("SREM", members_key, id)

    if redis.call("HGET", head_key, "id") == id then
      local best, best_seq, best_order = nil, -1, -1
      for _, member in ipairs(redis.call("SMEMBERS", members_key)) do
        local v = redis.call("HMGET", token_prefix .. member, "seq", "order")
        if v[1] then
          local s, o = tonumber(v[1]), tonumber(v[2])
          if s > best_seq or (s == best_seq and o > best_order) then
            best, best_seq, best_order = member, s, o
          end
        end
      end
      if best then
        redis.call("HSET", head_key, "id", best, "seq", best_seq)
      else
        redis.call("DEL", head_key)
      end
    end

    if redis.call("SCARD", members_key) == 0 then
      redis.call("DEL", members_key, head_key, family_prefix .. family_id .. ":revoked")
    end
  end
end
return #ids
`

var (
	putLua          = redis.NewScript(putScript)
	markUsedLua     = redis.NewScript(markUsedScript)
	revokeLua       = redis.NewScript(revokeScript)
	revokeFamilyLua = redis.NewScript(revokeFamilyScript)
	cleanupLua      = redis.NewScript(cleanupScript)
)

// Store is a Redis-backed token store.
type Store struct {
	redis  redis.UniversalClient
	prefix string
	clock  model.Clock
}

// NewStore creates a Store using keys under prefix. clock drives CleanupExpired.
func NewStore(client redis.UniversalClient, prefix string, clock model.Clock) *Store {
	return &Store{redis: client, prefix: prefix, clock: clock}
}

func (s *Store) tokenPrefix() string  { return s.prefix + ":token:" }
func (s *Store) familyPrefix() string { return s.prefix + ":family:" }

func (s *Store) tokenKey(id string) string { return s.tokenPrefix() + id }

func (s *Store) familyKeys(fid string) (members, revoked, head string) {
	base := s.familyPrefix() + fid
	return base + ":members", base + ":revoked", base + ":head"
}

func (s *Store) expiryKey() string { return s.prefix + ":expiry" }
func (s *Store) orderKey() string  { return s.prefix + ":order" }

// Put inserts or overwrites a record. A record put into a revoked family is stored revoked.
func (s *Store) Put(ctx context.Context, meta model.TokenMetadata) error {
	if meta.TokenID == "" {
		return fmt.Errorf("put token: empty token id")
	}
	members, revoked, head := s.familyKeys(meta.FamilyID)

	firstUsed := ""
	if meta.FirstUsedAt != nil {
		firstUsed = formatTime(*meta.FirstUsedAt)
	}

	err := putLua.Run(ctx, s.redis,
		[]string{s.tokenKey(meta.TokenID), members, revoked, head, s.expiryKey(), s.orderKey()},
		meta.TokenID,
		meta.UserID.String(),
		string(meta.Kind),
		formatTime(meta.IssuedAt),
		formatTime(meta.ExpiresAt),
		firstUsed,
		meta.FamilyID,
		meta.RotationSequence,
		meta.ParentTokenID,
		meta.ExpiresAt.UnixMilli(),
		boolFlag(meta.Revoked),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: put token: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get returns the stored metadata or model.ErrNotFound.
func (s *Store) Get(ctx context.Context, tokenID string) (model.TokenMetadata, error) {
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(tokenID)).Result()
	if err != nil {
		return model.TokenMetadata{}, fmt.Errorf("%w: get token: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return model.TokenMetadata{}, model.ErrNotFound
	}
	return decodeMetadata(tokenID, fields)
}

// MarkUsed records the first redemption time; later calls return the original time.
func (s *Store) MarkUsed(ctx context.Context, tokenID string, at time.Time) (time.Time, bool, error) {
	res, err := markUsedLua.Run(ctx, s.redis, []string{s.tokenKey(tokenID)}, formatTime(at)).Slice()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, false, model.ErrNotFound
		}
		return time.Time{}, false, fmt.Errorf("%w: mark used: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return time.Time{}, false, fmt.Errorf("mark used: unexpected script reply %v", res)
	}

	marked, _ := res[0].(int64)
	raw, _ := res[1].(string)
	firstUsedAt, err := parseTime(raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("mark used: %w", err)
	}
	return firstUsedAt, marked == 1, nil
}

// Revoke marks a single record revoked.
func (s *Store) Revoke(ctx context.Context, tokenID string) error {
	n, err := revokeLua.Run(ctx, s.redis, []string{s.tokenKey(tokenID)}).Int64()
	if err != nil {
		return fmt.Errorf("%w: revoke token: %v", ErrRedisUnavailable, err)
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// RevokeFamily revokes every member and leaves the family marked revoked.
func (s *Store) RevokeFamily(ctx context.Context, familyID string) error {
	if familyID == "" {
		return fmt.Errorf("revoke family: empty family id")
	}
	members, revoked, _ := s.familyKeys(familyID)
	if err := revokeFamilyLua.Run(ctx, s.redis, []string{members, revoked}, s.tokenPrefix()).Err(); err != nil {
		return fmt.Errorf("%w: revoke family: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LatestInFamily returns the family head or model.ErrNotFound.
func (s *Store) LatestInFamily(ctx context.Context, familyID string) (model.TokenMetadata, error) {
	if familyID == "" {
		return model.TokenMetadata{}, model.ErrNotFound
	}
	_, _, head := s.familyKeys(familyID)

	id, err := s.redis.HGet(ctx, head, "id").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.TokenMetadata{}, model.ErrNotFound
		}
		return model.TokenMetadata{}, fmt.Errorf("%w: latest in family: %v", ErrRedisUnavailable, err)
	}
	return s.Get(ctx, id)
}

// CleanupExpired removes records whose expiry has passed, in batches.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	now := s.clock.Now().UnixMilli()
	total := 0
	for {
		n, err := cleanupLua.Run(ctx, s.redis, []string{s.expiryKey()},
			now, s.tokenPrefix(), s.familyPrefix(), cleanupBatch,
		).Int()
		if err != nil {
			return total, fmt.Errorf("%w: cleanup: %v", ErrRedisUnavailable, err)
		}
		total += n
		if n < cleanupBatch {
			return total, nil
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func decodeMetadata(tokenID string, f map[string]string) (model.TokenMetadata, error) {
	userID, err := uuid.Parse(f["user_id"])
	if err != nil {
		return model.TokenMetadata{}, fmt.Errorf("decode token %s: user id: %w", tokenID, err)
	}
	issuedAt, err := parseTime(f["issued_at"])
	if err != nil {
		return model.TokenMetadata{}, fmt.Errorf("decode token %s: issued at: %w", tokenID, err)
	}
	expiresAt, err := parseTime(f["expires_at"])
	if err != nil {
		return model.TokenMetadata{}, fmt.Errorf("decode token %s: expires at: %w", tokenID, err)
	}
	seq, err := strconv.Atoi(f["seq"])
	if err != nil {
		return model.TokenMetadata{}, fmt.Errorf("decode token %s: sequence: %w", tokenID, err)
	}

	meta := model.TokenMetadata{
		TokenID:          tokenID,
		UserID:           userID,
		Kind:             model.TokenKind(f["kind"]),
		IssuedAt:         issuedAt,
		ExpiresAt:        expiresAt,
		Revoked:          f["revoked"] == "1",
		FamilyID:         f["family_id"],
		RotationSequence: seq,
		ParentTokenID:    f["parent_id"],
	}
	if raw, ok := f["first_used_at"]; ok {
		t, err := parseTime(raw)
		if err != nil {
			return model.TokenMetadata{}, fmt.Errorf("decode token %s: first used at: %w", tokenID, err)
		}
		meta.FirstUsedAt = &t
	}
	return meta, nil
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseTime(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n).UTC(), nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
