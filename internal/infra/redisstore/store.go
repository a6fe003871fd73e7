// Package redisstore implements domain.TaskStore on Redis.
//
// Layout, all keys sharing the same TTL which every write refreshes:
//
//	task:{id}                        JSON task record
//	tasks                            sorted set of task ids scored by creation time
//	task:{id}:messages:{sample_id}   list of formatted messages for one sample
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/slideforge/slideforge/internal/domain"
	"github.com/slideforge/slideforge/internal/infra/metrics"
	"github.com/slideforge/slideforge/internal/logger"
)

const (
	indexKey        = "tasks"
	defaultListSize = 50
	maxTxAttempts   = 5
)

type Config struct {
	URL            string // takes precedence over Host/Port when set
	Host           string
	Port           int
	Password       string
	DB             int
	TTL            time.Duration
	PingTimeout    time.Duration
	ConnectRetries uint64
	RetryBackoff   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		Port:           6379,
		TTL:            24 * time.Hour,
		PingTimeout:    5 * time.Second,
		ConnectRetries: 5,
		RetryBackoff:   200 * time.Millisecond,
	}
}

// Store is a Redis-backed task store.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
	log    logger.Logger
	once   sync.Once
}

var _ domain.TaskStore = (*Store)(nil)

// Open connects to Redis, retrying the initial ping with exponential backoff.
func Open(ctx context.Context, cfg Config, log logger.Logger) (*Store, error) {
	opt, err := buildOptions(cfg)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	log = log.With("component", "redisstore")

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	backoff := retry.WithMaxRetries(cfg.ConnectRetries, retry.NewExponential(max(cfg.RetryBackoff, time.Millisecond)))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			log.Warn("redis ping failed, retrying", "addr", opt.Addr, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opt.Addr, err)
	}
	log.Info("connected to redis", "addr", opt.Addr, "db", opt.DB, "ttl", cfg.TTL)
	return New(client, cfg.TTL, log), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient, ttl time.Duration, log logger.Logger) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{client: client, ttl: ttl, now: time.Now, log: log}
}

func buildOptions(cfg Config) (*redis.Options, error) {
	if cfg.URL != "" {
		opt, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opt, nil
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	return &redis.Options{
		Addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		Password: cfg.Password,
		DB:       cfg.DB,
	}, nil
}

// SetClock replaces the time source used to stamp updates.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func taskKey(id string) string { return "task:" + id }

func messagesKey(taskID, sampleID string) string {
	return fmt.Sprintf("task:%s:messages:%s", taskID, sampleID)
}

func messagesPattern(taskID string) string {
	return fmt.Sprintf("task:%s:messages:*", taskID)
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues("redis", op).Observe(time.Since(start).Seconds())
}

// ─── Tasks ──────────────────────────────────────────────────────────────────

func (s *Store) Create(ctx context.Context, task *domain.Task) error {
	defer observe("create", time.Now())
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, taskKey(task.ID), data, s.ttl)
		p.ZAdd(ctx, indexKey, redis.Z{Score: task.CreatedAt, Member: task.ID})
		p.Expire(ctx, indexKey, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create task %s: %w", task.ID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Task, error) {
	defer observe("get", time.Now())
	data, err := s.client.Get(ctx, taskKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return decodeTask(data)
}

// Update merges u into the stored record inside a WATCH transaction, so a
// concurrent Delete is never undone by a late write.
func (s *Store) Update(ctx context.Context, id string, u domain.TaskUpdate) error {
	defer observe("update", time.Now())
	key := taskKey(id)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
		}
		if err != nil {
			return err
		}
		task, err := decodeTask(data)
		if err != nil {
			return err
		}
		u.Apply(task, s.now())
		out, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("encode task: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, out, s.ttl)
			return nil
		})
		return err
	}

	for range maxTxAttempts {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, domain.ErrTaskNotFound) {
			return fmt.Errorf("update task %s: %w", id, err)
		}
		return err
	}
	return fmt.Errorf("update task %s: too much contention", id)
}

func (s *Store) List(ctx context.Context, limit int) ([]*domain.Task, error) {
	defer observe("list", time.Now())
	if limit <= 0 {
		limit = defaultListSize
	}
	ids, err := s.client.ZRevRange(ctx, indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list task index: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.Task{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = taskKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}

	tasks := make([]*domain.Task, 0, len(ids))
	var stale []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		task, err := decodeTask([]byte(str))
		if err != nil {
			s.log.Warn("skipping undecodable task record", "task_id", ids[i], "error", err)
			continue
		}
		tasks = append(tasks, task)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, indexKey, stale...).Err(); err != nil {
			s.log.Warn("failed to prune expired ids from index", "error", err)
		}
	}
	return tasks, nil
}

// Delete removes the record, its index entry and every message log.
func (s *Store) Delete(ctx context.Context, id string) error {
	defer observe("delete", time.Now())
	msgKeys, err := s.scan(ctx, messagesPattern(id))
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	var removed *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		removed = p.Del(ctx, taskKey(id))
		p.ZRem(ctx, indexKey, id)
		if len(msgKeys) > 0 {
			p.Del(ctx, msgKeys...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if removed.Val() == 0 {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	return nil
}

// ─── Message Logs ───────────────────────────────────────────────────────────

func (s *Store) AppendMessage(ctx context.Context, taskID, sampleID, message string) error {
	defer observe("append_message", time.Now())
	key := messagesKey(taskID, sampleID)
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, message)
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append message %s/%s: %w", taskID, sampleID, err)
	}
	return nil
}

func (s *Store) Messages(ctx context.Context, taskID, sampleID string) ([]string, error) {
	defer observe("messages", time.Now())
	msgs, err := s.client.LRange(ctx, messagesKey(taskID, sampleID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read messages %s/%s: %w", taskID, sampleID, err)
	}
	return msgs, nil
}

func (s *Store) AllMessages(ctx context.Context, taskID string) (map[string][]string, error) {
	defer observe("all_messages", time.Now())
	keys, err := s.scan(ctx, messagesPattern(taskID))
	if err != nil {
		return nil, fmt.Errorf("read messages %s: %w", taskID, err)
	}
	prefix := fmt.Sprintf("task:%s:messages:", taskID)
	out := make(map[string][]string, len(keys))
	for _, key := range keys {
		msgs, err := s.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("read messages %s: %w", key, err)
		}
		out[strings.TrimPrefix(key, prefix)] = msgs
	}
	return out, nil
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() { err = s.client.Close() })
	return err
}

func (s *Store) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

func decodeTask(data []byte) (*domain.Task, error) {
	var task domain.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &task, nil
}
