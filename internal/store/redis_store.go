package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/interpretcore/core/internal/store/redis"
	goredis "github.com/redis/go-redis/v9"

	"github.com/interpretcore/core/pkg/protocol"
)

// RedisStore implements Store on top of a shared redis.Client. Each room
// keeps a hash of hard segments, a hash of soft heads, a hash of TTS item
// states, a string for the last sequence, and a sorted set tracking hard
// segment insertion order for retention eviction.
type RedisStore struct {
	client        *redis.Client
	retainedHards int
}

// NewRedisStore wraps a redis.Client with the Store interface.
// Complexity: O(1)
func NewRedisStore(client *redis.Client, retainedHards int) *RedisStore {
	if retainedHards <= 0 {
		retainedHards = 512
	}
	return &RedisStore{client: client, retainedHards: retainedHards}
}

func roomSeqKey(roomID string) string   { return "room:" + roomID + ":seq" }
func roomHardKey(roomID string) string  { return "room:" + roomID + ":hard" }
func roomOrderKey(roomID string) string { return "room:" + roomID + ":hard:order" }
func roomSoftKey(roomID string) string  { return "room:" + roomID + ":soft" }
func roomTTSKey(roomID string) string   { return "room:" + roomID + ":tts" }

// SaveHardSegment implements Store.
func (s *RedisStore) SaveHardSegment(ctx context.Context, roomID string, seg protocol.Segment) error {
	rdb := s.client.Underlying()

	payload, err := protocol.EncodeDurable(seg)
	if err != nil {
		return fmt.Errorf("store: encode hard segment: %w", err)
	}

	if err := rdb.HSet(ctx, roomHardKey(roomID), seg.UnitID, payload).Err(); err != nil {
		return fmt.Errorf("store: hset hard segment: %w", err)
	}

	if err := rdb.ZAdd(ctx, roomOrderKey(roomID), goredis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: seg.UnitID,
	}).Err(); err != nil {
		return fmt.Errorf("store: zadd hard order: %w", err)
	}

	return s.evictOldHardSegments(ctx, roomID)
}

func (s *RedisStore) evictOldHardSegments(ctx context.Context, roomID string) error {
	rdb := s.client.Underlying()

	count, err := rdb.ZCard(ctx, roomOrderKey(roomID)).Result()
	if err != nil {
		return fmt.Errorf("store: zcard hard order: %w", err)
	}

	overflow := count - int64(s.retainedHards)
	if overflow <= 0 {
		return nil
	}

	stale, err := rdb.ZRange(ctx, roomOrderKey(roomID), 0, overflow-1).Result()
	if err != nil {
		return fmt.Errorf("store: zrange stale hard segments: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	if err := rdb.ZRem(ctx, roomOrderKey(roomID), toInterfaceSlice(stale)...).Err(); err != nil {
		return fmt.Errorf("store: zrem stale hard segments: %w", err)
	}
	if err := rdb.HDel(ctx, roomHardKey(roomID), stale...).Err(); err != nil {
		return fmt.Errorf("store: hdel stale hard segments: %w", err)
	}

	return nil
}

func toInterfaceSlice(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// SaveSoftHead implements Store.
func (s *RedisStore) SaveSoftHead(ctx context.Context, roomID string, seg protocol.Segment) error {
	payload, err := protocol.EncodeDurable(seg)
	if err != nil {
		return fmt.Errorf("store: encode soft head: %w", err)
	}

	if err := s.client.Underlying().HSet(ctx, roomSoftKey(roomID), seg.UnitID, payload).Err(); err != nil {
		return fmt.Errorf("store: hset soft head: %w", err)
	}
	return nil
}

// ClearSoftHead implements Store.
func (s *RedisStore) ClearSoftHead(ctx context.Context, roomID, unitID string) error {
	if err := s.client.Underlying().HDel(ctx, roomSoftKey(roomID), unitID).Err(); err != nil {
		return fmt.Errorf("store: hdel soft head: %w", err)
	}
	return nil
}

// SaveSeq implements Store.
func (s *RedisStore) SaveSeq(ctx context.Context, roomID string, seq uint64) error {
	if err := s.client.Set(ctx, roomSeqKey(roomID), strconv.FormatUint(seq, 10), 0); err != nil {
		return fmt.Errorf("store: save seq: %w", err)
	}
	return nil
}

// SaveTTSMeta implements Store.
func (s *RedisStore) SaveTTSMeta(ctx context.Context, roomID string, item TTSItemMeta) error {
	if err := s.client.Underlying().HSet(ctx, roomTTSKey(roomID), ttsKey(item.UnitID, item.Lang), item.State).Err(); err != nil {
		return fmt.Errorf("store: hset tts meta: %w", err)
	}
	return nil
}

// LoadRoom implements Store.
func (s *RedisStore) LoadRoom(ctx context.Context, roomID string) (*RoomSnapshot, error) {
	rdb := s.client.Underlying()

	seqStr, err := s.client.Get(ctx, roomSeqKey(roomID))
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: load seq: %w", err)
	}
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("store: parse seq: %w", err)
	}

	snap := &RoomSnapshot{LastSeq: seq, SoftHeads: make(map[string]protocol.Segment)}

	order, err := rdb.ZRange(ctx, roomOrderKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: zrange hard order: %w", err)
	}
	if len(order) > 0 {
		payloads, err := rdb.HMGet(ctx, roomHardKey(roomID), order...).Result()
		if err != nil {
			return nil, fmt.Errorf("store: hmget hard segments: %w", err)
		}
		for _, raw := range payloads {
			str, ok := raw.(string)
			if !ok {
				continue
			}
			var seg protocol.Segment
			if err := protocol.DecodeDurable([]byte(str), &seg); err != nil {
				return nil, fmt.Errorf("store: decode hard segment: %w", err)
			}
			snap.HardSegments = append(snap.HardSegments, seg)
		}
	}

	soft, err := rdb.HGetAll(ctx, roomSoftKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: hgetall soft heads: %w", err)
	}
	for unitID, raw := range soft {
		var seg protocol.Segment
		if err := protocol.DecodeDurable([]byte(raw), &seg); err != nil {
			return nil, fmt.Errorf("store: decode soft head %s: %w", unitID, err)
		}
		snap.SoftHeads[unitID] = seg
	}

	tts, err := rdb.HGetAll(ctx, roomTTSKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: hgetall tts items: %w", err)
	}
	for key, state := range tts {
		unitID, lang := splitTTSKey(key)
		snap.TTSItems = append(snap.TTSItems, TTSItemMeta{UnitID: unitID, Lang: lang, State: state})
	}

	return snap, nil
}

func splitTTSKey(key string) (unitID, lang string) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

// DeleteRoom implements Store.
func (s *RedisStore) DeleteRoom(ctx context.Context, roomID string) error {
	keys := []string{
		roomSeqKey(roomID),
		roomHardKey(roomID),
		roomOrderKey(roomID),
		roomSoftKey(roomID),
		roomTTSKey(roomID),
	}
	if err := s.client.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("store: delete room: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
