package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ichavezg/nayra/internal/bpmn"
)

// DefaultPollInterval is how often RedisScheduler.Run looks for due sends.
const DefaultPollInterval = 100 * time.Millisecond

// RedisScheduler keeps delayed sends in a Redis sorted set:
//
//	<prefix>delayed   score = deadline in unix milliseconds
//
// Members are JSON entries. A poller claims a due entry with ZREM before
// sending it, so every entry is sent at most once however many pollers
// share the set. Payload values come back as their JSON types.
type RedisScheduler struct {
	client redis.Cmdable
	key    string
	poll   time.Duration
	logger *slog.Logger

	mu   sync.Mutex
	fire func(bpmn.Message)
}

// RedisOption configures a RedisScheduler.
type RedisOption func(*RedisScheduler)

// WithPollInterval sets the polling period of Run.
func WithPollInterval(d time.Duration) RedisOption {
	return func(s *RedisScheduler) {
		if d > 0 {
			s.poll = d
		}
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(s *RedisScheduler) { s.logger = l }
}

// NewRedisScheduler returns a scheduler storing entries under prefix.
// An empty prefix defaults to "nayra:".
func NewRedisScheduler(client redis.Cmdable, prefix string, opts ...RedisOption) *RedisScheduler {
	if prefix == "" {
		prefix = "nayra:"
	}
	s := &RedisScheduler{
		client: client,
		key:    prefix + "delayed",
		poll:   DefaultPollInterval,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type redisEntry struct {
	ID      string       `json:"id"`
	Message bpmn.Message `json:"message"`
}

// Key returns the sorted set key.
func (s *RedisScheduler) Key() string { return s.key }

// Schedule stores msg with deadline at. fire is kept for the entries this
// process claims.
func (s *RedisScheduler) Schedule(ctx context.Context, msg bpmn.Message, at time.Time, fire func(bpmn.Message)) (CancelFunc, error) {
	member, err := json.Marshal(redisEntry{ID: uuid.NewString(), Message: msg})
	if err != nil {
		return nil, fmt.Errorf("encode delayed message: %w", err)
	}
	if err := s.client.ZAdd(ctx, s.key, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: string(member),
	}).Err(); err != nil {
		return nil, fmt.Errorf("store delayed message: %w", err)
	}

	s.mu.Lock()
	s.fire = fire
	s.mu.Unlock()

	return func() bool {
		n, err := s.client.ZRem(context.Background(), s.key, string(member)).Result()
		if err != nil {
			s.logger.Error("cancel delayed message", "message", msg.ID, "error", err)
			return false
		}
		return n > 0
	}, nil
}

// Pending returns the number of stored entries.
func (s *RedisScheduler) Pending(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, s.key).Result()
}

// Poll sends every entry due at now and returns how many it claimed.
func (s *RedisScheduler) Poll(ctx context.Context, now time.Time) (int, error) {
	due, err := s.client.ZRangeByScore(ctx, s.key, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("read due messages: %w", err)
	}

	s.mu.Lock()
	fire := s.fire
	s.mu.Unlock()

	claimed := 0
	var errs []error
	for _, member := range due {
		n, err := s.client.ZRem(ctx, s.key, member).Result()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if n == 0 {
			// another poller got it first
			continue
		}
		claimed++

		var entry redisEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			errs = append(errs, fmt.Errorf("decode delayed message: %w", err))
			continue
		}
		if fire == nil {
			errs = append(errs, fmt.Errorf("no handler for delayed message %q", entry.Message.ID))
			continue
		}
		fire(entry.Message)
	}
	return claimed, errors.Join(errs...)
}

// Run polls until ctx is cancelled.
func (s *RedisScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if _, err := s.Poll(ctx, now); err != nil && ctx.Err() == nil {
				s.logger.Error("poll delayed messages", "key", s.key, "error", err)
			}
		}
	}
}
