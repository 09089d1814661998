package codes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/common"
	"github.com/dmitrijs2005/medkeeper/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// expiredGrace keeps a record in Redis past its logical expiry so that
// verification can still report "expired" rather than "invalid".
const expiredGrace = time.Hour

type redisRecord struct {
	Code      string `json:"code"`
	ExpiresAt int64  `json:"expires_at"`
}

// RedisRepository keeps codes under "<prefix>:<channel>:<userID>".
type RedisRepository struct {
	redis   redis.UniversalClient
	prefix  string
	channel models.Channel
}

func NewRedisRepository(client redis.UniversalClient, prefix string, channel models.Channel) *RedisRepository {
	if prefix == "" {
		prefix = "medkeeper:code"
	}
	return &RedisRepository{redis: client, prefix: prefix, channel: channel}
}

func (r *RedisRepository) key(userID string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, r.channel, userID)
}

func (r *RedisRepository) Upsert(ctx context.Context, code *models.OneTimeCode) error {
	data, err := json.Marshal(redisRecord{Code: code.Code, ExpiresAt: code.ExpiresAt.UnixNano()})
	if err != nil {
		return err
	}

	ttl := time.Until(code.ExpiresAt) + expiredGrace
	if ttl <= 0 {
		ttl = expiredGrace
	}

	if err := r.redis.Set(ctx, r.key(code.UserID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RedisRepository) Find(ctx context.Context, userID string) (*models.OneTimeCode, error) {
	data, err := r.redis.Get(ctx, r.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("redis error: %w", err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	return &models.OneTimeCode{UserID: userID, Code: rec.Code, ExpiresAt: time.Unix(0, rec.ExpiresAt)}, nil
}

// DeleteIfMatch uses WATCH so that the read-compare-delete is aborted when
// another client touches the key in between.
func (r *RedisRepository) DeleteIfMatch(ctx context.Context, userID, code string, expiresAt time.Time) (bool, error) {
	key := r.key(userID)
	deleted := false

	err := r.redis.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return err
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return err
		}
		if rec.Code != code || rec.ExpiresAt != expiresAt.UnixNano() {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			return nil
		})
		if err != nil {
			return err
		}
		deleted = true
		return nil
	}, key)

	switch {
	case err == nil:
		return deleted, nil
	case errors.Is(err, redis.Nil), errors.Is(err, redis.TxFailedErr):
		return false, nil
	default:
		return false, fmt.Errorf("redis error: %w", err)
	}
}

func decodeRecord(data []byte) (*redisRecord, error) {
	rec := &redisRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("corrupt code record: %w", err)
	}
	return rec, nil
}
