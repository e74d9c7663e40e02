package repository

import (
	"context"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/okian/popstats/internal/domain/model"
	"github.com/okian/popstats/pkg/logger"
)

// RedisStore keeps each tag's ranking in a sorted set: member is the item id,
// score is the rank. Equal ranks are ordered by item id, matching MemoryStore.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	log    logger.Logger
}

// NewRedisStore creates a store on rdb.
func NewRedisStore(rdb redis.UniversalClient, opts ...Option) *RedisStore {
	st := newSettings(opts)
	return &RedisStore{rdb: rdb, prefix: st.prefix, log: st.log}
}

func (s *RedisStore) key(tag string) string {
	return s.prefix + ":rank:" + tag
}

// ClearAll implements Store.
func (s *RedisStore) ClearAll(ctx context.Context, tag string) (err error) {
	defer observe("clear_all", time.Now(), &err)
	if err := s.rdb.Del(ctx, s.key(tag)).Err(); err != nil {
		return storeErr(err, "del %s", tag)
	}
	return nil
}

// SetRank implements Store.
func (s *RedisStore) SetRank(ctx context.Context, itemID string, rank int, tag string) (err error) {
	defer observe("set_rank", time.Now(), &err)
	if rank < 1 {
		return ErrInvalidRank
	}
	if err := s.rdb.ZAdd(ctx, s.key(tag), &redis.Z{Score: float64(rank), Member: itemID}).Err(); err != nil {
		return storeErr(err, "zadd %s", tag)
	}
	return nil
}

// GetRank implements Store.
func (s *RedisStore) GetRank(ctx context.Context, itemID, tag string) (_ int, err error) {
	defer observe("get_rank", time.Now(), &err)
	score, err := s.rdb.ZScore(ctx, s.key(tag), itemID).Result()
	if err == redis.Nil {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, storeErr(err, "zscore %s", tag)
	}
	return int(math.Round(score)), nil
}

// ListByRank implements Store.
func (s *RedisStore) ListByRank(ctx context.Context, tag string, limit int, order Order) (_ []string, err error) {
	defer observe("list_by_rank", time.Now(), &err)
	start, stop := int64(0), rangeStop(limit)
	var ids []string
	if order == Desc {
		ids, err = s.rdb.ZRevRange(ctx, s.key(tag), start, stop).Result()
	} else {
		ids, err = s.rdb.ZRange(ctx, s.key(tag), start, stop).Result()
	}
	if err != nil {
		return nil, storeErr(err, "zrange %s", tag)
	}
	return ids, nil
}

// ListRanked implements Store. Members and scores come from one ZRANGE.
func (s *RedisStore) ListRanked(ctx context.Context, tag string, limit int, order Order) (_ []model.RankedItem, err error) {
	defer observe("list_ranked", time.Now(), &err)
	start, stop := int64(0), rangeStop(limit)
	var zs []redis.Z
	if order == Desc {
		zs, err = s.rdb.ZRevRangeWithScores(ctx, s.key(tag), start, stop).Result()
	} else {
		zs, err = s.rdb.ZRangeWithScores(ctx, s.key(tag), start, stop).Result()
	}
	if err != nil {
		return nil, storeErr(err, "zrange withscores %s", tag)
	}
	out := make([]model.RankedItem, 0, len(zs))
	for _, z := range zs {
		id, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, model.RankedItem{ItemID: id, Rank: int(math.Round(z.Score))})
	}
	return out, nil
}

func rangeStop(limit int) int64 {
	if limit > 0 {
		return int64(limit) - 1
	}
	return -1
}

// Replace implements Store. The new ranking is written to a shadow key that
// is renamed over the live key in the same MULTI/EXEC block.
func (s *RedisStore) Replace(ctx context.Context, tag string, items []model.RankedItem) (err error) {
	defer observe("replace", time.Now(), &err)
	key := s.key(tag)

	members := make([]*redis.Z, 0, len(items))
	for _, it := range items {
		if it.Rank < 1 {
			return ErrInvalidRank
		}
		members = append(members, &redis.Z{Score: float64(it.Rank), Member: it.ItemID})
	}

	shadow := key + ":shadow:" + uuid.NewString()
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		if len(members) == 0 {
			p.Del(ctx, key)
			return nil
		}
		p.ZAdd(ctx, shadow, members...)
		p.Rename(ctx, shadow, key)
		return nil
	})
	if err != nil {
		// The shadow key is only left behind if EXEC partially failed.
		_ = s.rdb.Del(context.Background(), shadow).Err()
		return storeErr(err, "replace %s", tag)
	}
	s.log.Debug(ctx, "ranking replaced", logger.String("tag", tag), logger.Int("items", len(items)))
	return nil
}

// Count implements Store.
func (s *RedisStore) Count(ctx context.Context, tag string) (int, error) {
	n, err := s.rdb.ZCard(ctx, s.key(tag)).Result()
	if err != nil {
		return 0, storeErr(err, "zcard %s", tag)
	}
	return int(n), nil
}
