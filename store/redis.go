package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	markStatusNotFound int64 = 0
	markStatusAlready  int64 = 1
	markStatusDone     int64 = 2
	markStatusCorrupt  int64 = 3
)

// flipFlagScript sets the flag byte and flag timestamp of a record or family
// blob in place, keeping the key TTL. Layout: version(1) flag(1) flagAt(8).
const flipFlagScript = `
local data = redis.call("GET", KEYS[1])
if not data then
  return 0
end
if #data < 26 then
  return 3
end
local flag = string.byte(data, 2)
if flag == 1 then
  return 1
end
if flag ~= 0 then
  return 3
end

local updated = string.sub(data, 1, 1) .. "\1" .. ARGV[1] .. string.sub(data, 11)
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("SET", KEYS[1], updated, "PX", ttl)
else
  redis.call("SET", KEYS[1], updated)
end
return 2
`

var flipFlagLua = redis.NewScript(flipFlagScript)

// saveRecordScript writes the record, indexes it and extends the family
// horizon (bytes 19..26 of the family blob) when the record outlives it.
// Timestamps are compared byte by byte; Lua string ordering follows the
// server collation locale.
const saveRecordScript = `
local function after(a, b)
  for i = 1, 8 do
    local x, y = string.byte(a, i), string.byte(b, i)
    if x ~= y then
      return x > y
    end
  end
  return false
end

local rec_key = KEYS[1]
local user_recs = KEYS[2]
local fam_key = KEYS[3]
local user_fams = KEYS[4]
local blob = ARGV[1]
local ttl = tonumber(ARGV[2])
local jti = ARGV[3]
local expires = ARGV[4]
local fam_id = ARGV[5]

redis.call("SET", rec_key, blob, "PX", ttl)
redis.call("SADD", user_recs, jti)
redis.call("SADD", user_fams, fam_id)

local fam = redis.call("GET", fam_key)
if fam and #fam >= 26 then
  local horizon = string.sub(fam, 19, 26)
  if after(expires, horizon) then
    local updated = string.sub(fam, 1, 18) .. expires .. string.sub(fam, 27)
    redis.call("SET", fam_key, updated, "PX", ttl)
  end
end
return 1
`

var saveRecordLua = redis.NewScript(saveRecordScript)

// RedisConfig controls the Redis-backed store.
type RedisConfig struct {
	// Prefix namespaces every key. Defaults to "rt".
	Prefix string
	// Retention is added to every key TTL past the token expiry so the reaper
	// grace window can still observe the entry. Defaults to one hour.
	Retention time.Duration
	// ScanCount is the SCAN page size used by DeleteExpired. Defaults to 1000.
	ScanCount int64
}

// Redis is a [Store] backed by Redis. Keys carry TTLs derived from token
// expiry, so Redis reclaims most storage itself; DeleteExpired prunes the
// user index sets.
type Redis struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	scanCount int64
}

// NewRedis creates a [Redis] store on the given client.
func NewRedis(client redis.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.Prefix == "" {
		cfg.Prefix = "rt"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = time.Hour
	}
	if cfg.ScanCount <= 0 {
		cfg.ScanCount = 1000
	}
	return &Redis{
		redis:     client,
		prefix:    cfg.Prefix,
		retention: cfg.Retention,
		scanCount: cfg.ScanCount,
	}
}

func (s *Redis) recordKey(jti string) string      { return s.prefix + ":rec:" + jti }
func (s *Redis) familyKey(id string) string       { return s.prefix + ":fam:" + id }
func (s *Redis) markerKey(jti string) string      { return s.prefix + ":rvk:" + jti }
func (s *Redis) userRecordsKey(uid string) string { return s.prefix + ":ur:" + uid }
func (s *Redis) userFamiliesKey(uid string) string {
	return s.prefix + ":uf:" + uid
}

func (s *Redis) ttlUntil(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt) + s.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// SaveFamily persists fam and indexes it under its user.
func (s *Redis) SaveFamily(ctx context.Context, fam Family) error {
	data, err := EncodeFamily(fam)
	if err != nil {
		return err
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.familyKey(fam.ID), data, s.ttlUntil(fam.ExpiresAt))
		pipe.SAdd(ctx, s.userFamiliesKey(fam.UserID), fam.ID)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// SaveRecord persists rec in one script run.
//
//	Performance: 1 Lua EVALSHA.
func (s *Redis) SaveRecord(ctx context.Context, rec RefreshRecord) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}

	ttl := s.ttlUntil(rec.ExpiresAt)
	err = saveRecordLua.Run(
		ctx,
		s.redis,
		[]string{
			s.recordKey(rec.ID),
			s.userRecordsKey(rec.UserID),
			s.familyKey(rec.FamilyID),
			s.userFamiliesKey(rec.UserID),
		},
		data,
		ttl.Milliseconds(),
		rec.ID,
		be64(rec.ExpiresAt),
		rec.FamilyID,
	).Err()
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// GetRecord loads and decodes the record for jti.
func (s *Redis) GetRecord(ctx context.Context, jti string) (RefreshRecord, error) {
	data, err := s.redis.Get(ctx, s.recordKey(jti)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return RefreshRecord{}, ErrNotFound
		}
		return RefreshRecord{}, unavailable(err)
	}

	rec, err := DecodeRecord(data)
	if err != nil {
		return RefreshRecord{}, errors.Join(ErrUnavailable, ErrCorrupt, err)
	}
	return rec, nil
}

// GetFamily loads and decodes the family.
func (s *Redis) GetFamily(ctx context.Context, familyID string) (Family, error) {
	data, err := s.redis.Get(ctx, s.familyKey(familyID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Family{}, ErrNotFound
		}
		return Family{}, unavailable(err)
	}

	fam, err := DecodeFamily(data)
	if err != nil {
		return Family{}, errors.Join(ErrUnavailable, ErrCorrupt, err)
	}
	return fam, nil
}

func (s *Redis) flipFlag(ctx context.Context, key string, now time.Time) (int64, error) {
	code, err := flipFlagLua.Run(ctx, s.redis, []string{key}, be64(now)).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	if code == markStatusCorrupt {
		return code, errors.Join(ErrUnavailable, ErrCorrupt)
	}
	if code < markStatusNotFound || code > markStatusCorrupt {
		return code, fmt.Errorf("%w: unknown script status %d", ErrUnavailable, code)
	}
	return code, nil
}

// MarkUsed atomically flips the used flag.
//
//	Performance: 1 Lua EVALSHA (atomic test-and-set).
func (s *Redis) MarkUsed(ctx context.Context, jti string, now time.Time) error {
	code, err := s.flipFlag(ctx, s.recordKey(jti), now)
	if err != nil {
		return err
	}
	switch code {
	case markStatusNotFound:
		return ErrNotFound
	case markStatusAlready:
		return ErrAlreadyUsed
	default:
		return nil
	}
}

// RevokeFamily atomically flips the family's revoked flag.
func (s *Redis) RevokeFamily(ctx context.Context, familyID string, now time.Time) (bool, error) {
	code, err := s.flipFlag(ctx, s.familyKey(familyID), now)
	if err != nil {
		return false, err
	}
	switch code {
	case markStatusNotFound:
		return false, ErrNotFound
	case markStatusAlready:
		return false, nil
	default:
		return true, nil
	}
}

// AddRevokedMarker stores a marker that outlives expiresAt by the retention window.
func (s *Redis) AddRevokedMarker(ctx context.Context, jti string, expiresAt time.Time) error {
	if err := s.redis.Set(ctx, s.markerKey(jti), 1, s.ttlUntil(expiresAt)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// IsRevoked reports whether a marker exists for jti.
func (s *Redis) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.markerKey(jti)).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

// ListUserRecords fetches every indexed record of the user in one pipeline.
func (s *Redis) ListUserRecords(ctx context.Context, userID string) ([]RefreshRecord, error) {
	ids, err := s.members(ctx, s.userRecordsKey(userID))
	if err != nil || len(ids) == 0 {
		return []RefreshRecord{}, err
	}

	blobs, err := s.getMany(ctx, ids, s.recordKey)
	if err != nil {
		return nil, err
	}

	out := make([]RefreshRecord, 0, len(ids))
	for _, data := range blobs {
		if data == nil {
			continue
		}
		rec, err := DecodeRecord(data)
		if err != nil {
			return nil, errors.Join(ErrUnavailable, ErrCorrupt, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ListUserFamilies fetches every indexed family of the user in one pipeline.
func (s *Redis) ListUserFamilies(ctx context.Context, userID string) ([]Family, error) {
	ids, err := s.members(ctx, s.userFamiliesKey(userID))
	if err != nil || len(ids) == 0 {
		return []Family{}, err
	}

	blobs, err := s.getMany(ctx, ids, s.familyKey)
	if err != nil {
		return nil, err
	}

	out := make([]Family, 0, len(ids))
	for _, data := range blobs {
		if data == nil {
			continue
		}
		fam, err := DecodeFamily(data)
		if err != nil {
			return nil, errors.Join(ErrUnavailable, ErrCorrupt, err)
		}
		out = append(out, fam)
	}
	return out, nil
}

// DeleteUserRecords removes every record of the user and the record index.
//
// This is not atomic with concurrent issuance: a record saved between the
// SMEMBERS read and the delete survives and is left to expire or to the next
// call.
func (s *Redis) DeleteUserRecords(ctx context.Context, userID string) (int, error) {
	userKey := s.userRecordsKey(userID)
	ids, err := s.members(ctx, userKey)
	if err != nil || len(ids) == 0 {
		return 0, err
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.recordKey(id))
	}

	var delCmd *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		delCmd = pipe.Del(ctx, keys...)
		pipe.SRem(ctx, userKey, toArgs(ids)...)
		return nil
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return int(delCmd.Val()), nil
}

// DeleteExpired walks every user index set with SCAN, deleting entries whose
// expiry is before cutoff and pruning members whose keys Redis already
// evicted.
func (s *Redis) DeleteExpired(ctx context.Context, cutoff time.Time) (SweepStats, error) {
	var stats SweepStats

	recStats, err := s.sweepIndexes(ctx, s.prefix+":ur:*", s.recordKey, func(data []byte) (bool, error) {
		rec, err := DecodeRecord(data)
		if err != nil {
			return false, err
		}
		return rec.ExpiresAt.Before(cutoff), nil
	}, true)
	stats.Add(recStats)
	if err != nil {
		return stats, err
	}

	famStats, err := s.sweepIndexes(ctx, s.prefix+":uf:*", s.familyKey, func(data []byte) (bool, error) {
		fam, err := DecodeFamily(data)
		if err != nil {
			return false, err
		}
		return fam.ExpiresAt.Before(cutoff), nil
	}, false)
	stats.Add(famStats)
	return stats, err
}

type expiredFunc func(data []byte) (bool, error)

func (s *Redis) sweepIndexes(
	ctx context.Context,
	pattern string,
	keyFor func(string) string,
	expired expiredFunc,
	records bool,
) (SweepStats, error) {
	var (
		stats  SweepStats
		cursor uint64
	)

	for {
		setKeys, next, err := s.redis.Scan(ctx, cursor, pattern, s.scanCount).Result()
		if err != nil {
			return stats, unavailable(err)
		}

		for _, setKey := range setKeys {
			ids, err := s.members(ctx, setKey)
			if err != nil {
				return stats, err
			}
			if len(ids) == 0 {
				continue
			}
			blobs, err := s.getMany(ctx, ids, keyFor)
			if err != nil {
				return stats, err
			}

			var dead, drop []string
			for i, data := range blobs {
				if data == nil {
					drop = append(drop, ids[i])
					continue
				}
				isExpired, decErr := expired(data)
				if decErr != nil {
					// Unreadable entries are left for Redis TTL expiry.
					continue
				}
				if isExpired {
					dead = append(dead, ids[i])
					drop = append(drop, ids[i])
				}
			}
			if len(drop) == 0 {
				continue
			}

			_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, id := range dead {
					pipe.Del(ctx, keyFor(id))
					if records {
						pipe.Del(ctx, s.markerKey(id))
					}
				}
				pipe.SRem(ctx, setKey, toArgs(drop)...)
				return nil
			})
			if err != nil {
				return stats, unavailable(err)
			}

			stats.IndexEntries += len(drop)
			if records {
				stats.Records += len(dead)
			} else {
				stats.Families += len(dead)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return stats, nil
}

// Ping checks Redis availability.
func (s *Redis) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Redis) members(ctx context.Context, key string) ([]string, error) {
	ids, err := s.redis.SMembers(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, unavailable(err)
	}
	return ids, nil
}

// getMany returns one blob per id, nil where the key is missing.
func (s *Redis) getMany(ctx context.Context, ids []string, keyFor func(string) string) ([][]byte, error) {
	pipe := s.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, keyFor(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}

	out := make([][]byte, len(ids))
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, unavailable(err)
		}
		out[i] = data
	}
	return out, nil
}

func toArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
