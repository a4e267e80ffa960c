// Package redisstore keeps room records in Redis so another server process can pick a room
// up after a restart.
package redisstore

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/keizars/keizar-go/internal/obslog"
	"github.com/keizars/keizar-go/internal/room"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultTTL  = 24 * time.Hour
	keyPrefix   = "keizar:room:"
	keyIndex    = "keizar:rooms"
	saveRetries = 3
)

// Store implements room.Store. Each room is one JSON value under keizar:room:<n>; the set
// keizar:rooms indexes the numbers.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ room.Store = (*Store)(nil)

func New(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Open dials REDIS_URL and checks the connection.
func Open(ctx context.Context, redisURL string, ttl time.Duration) (*Store, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required for redis store")
	}
	opts, err := ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(rdb, ttl), nil
}

func (s *Store) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

func keyRoom(number uint64) string { return keyPrefix + strconv.FormatUint(number, 10) }

// Save writes rec unless the stored record is newer, which happens when another process
// already took the room over.
func (s *Store) Save(ctx context.Context, rec *room.Record) error {
	if rec == nil {
		return nil
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := keyRoom(rec.Number)
	member := strconv.FormatUint(rec.Number, 10)

	for i := 0; i < saveRetries; i++ {
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.Get(ctx, key).Bytes()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil {
				var stored struct {
					UpdatedAt time.Time `json:"updated_at"`
				}
				if jerr := json.Unmarshal(cur, &stored); jerr == nil && stored.UpdatedAt.After(rec.UpdatedAt) {
					obslog.L().Debug("redis_store_stale_save",
						zap.Uint64("room", rec.Number),
						zap.Time("stored", stored.UpdatedAt),
						zap.Time("incoming", rec.UpdatedAt),
					)
					return nil
				}
			}
			pipe := tx.TxPipeline()
			pipe.Set(ctx, key, raw, s.ttl)
			pipe.SAdd(ctx, keyIndex, member)
			pipe.Expire(ctx, keyIndex, s.ttl)
			_, err = pipe.Exec(ctx)
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *Store) Load(ctx context.Context, number uint64) (*room.Record, error) {
	raw, err := s.rdb.Get(ctx, keyRoom(number)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec room.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode room %d: %w", number, err)
	}
	return &rec, nil
}

func (s *Store) Delete(ctx context.Context, number uint64) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, keyRoom(number))
	pipe.SRem(ctx, keyIndex, strconv.FormatUint(number, 10))
	_, err := pipe.Exec(ctx)
	return err
}

// List returns the indexed room numbers, pruning members whose record already expired.
func (s *Store) List(ctx context.Context) ([]uint64, error) {
	members, err := s.rdb.SMembers(ctx, keyIndex).Result()
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, len(members))
	for _, m := range members {
		n, perr := strconv.ParseUint(m, 10, 64)
		if perr != nil {
			_ = s.rdb.SRem(ctx, keyIndex, m).Err()
			continue
		}
		exists, err := s.rdb.Exists(ctx, keyRoom(n)).Result()
		if err != nil {
			return nil, err
		}
		if exists == 0 {
			_ = s.rdb.SRem(ctx, keyIndex, m).Err()
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ParseURL accepts redis:// and rediss:// URLs with an optional /<db> path.
func ParseURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	opts := &redis.Options{Addr: u.Host, Username: u.User.Username(), Password: pass, DB: db}
	if u.Scheme == "rediss" {
		opts.TLSConfig = &tls.Config{ServerName: u.Hostname(), MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}
