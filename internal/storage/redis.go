package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	logx "pbpwatch/pkg/logx"
)

// redisStore keeps the document in a hash {body, rev}. Save runs the
// compare and the write inside WATCH/MULTI/EXEC, so a concurrent writer
// aborts the transaction instead of interleaving.
type redisStore struct {
	rdb *redis.Client
	key string
	log logx.Logger
}

const (
	redisFieldBody = "body"
	redisFieldRev  = "rev"
)

func openRedis(cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for redis driver")
	}
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("redis dsn: %w", err)
	}
	return &redisStore{
		rdb: redis.NewClient(opts),
		key: cfg.Key,
		log: log.With(logx.String("driver", DriverRedis), logx.String("key", cfg.Key)),
	}, nil
}

func (s *redisStore) Load(ctx context.Context) (State, Version, error) {
	vals, err := s.rdb.HMGet(ctx, s.key, redisFieldBody, redisFieldRev).Result()
	if err != nil {
		return State{}, NoVersion, err
	}
	body, _ := vals[0].(string)
	rev, _ := vals[1].(string)
	if rev == "" {
		s.log.Info("no state document yet; starting empty")
		return Empty(), NoVersion, nil
	}
	return decodeOrEmpty([]byte(body), s.log), Version(rev), nil
}

func (s *redisStore) Save(ctx context.Context, st State, expected Version) error {
	body, err := Encode(st)
	if err != nil {
		return err
	}

	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, s.key, redisFieldRev).Result()
		if errors.Is(err, redis.Nil) {
			cur = ""
		} else if err != nil {
			return err
		}
		if Version(cur) != expected {
			return ErrConflict
		}
		next := int64(1)
		if cur != "" {
			n, err := strconv.ParseInt(cur, 10, 64)
			if err != nil {
				return fmt.Errorf("redis rev %q: %w", cur, err)
			}
			next = n + 1
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, s.key, redisFieldBody, string(body), redisFieldRev, strconv.FormatInt(next, 10))
			return nil
		})
		return err
	}, s.key)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	return err
}

func (s *redisStore) Close() error { return s.rdb.Close() }
