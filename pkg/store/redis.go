package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/beaconhq/beacon/pkg/observability"
)

const (
	tokenKeyPrefix        = "beacon:tokens:"
	tokenIndexPrefix      = "beacon:tokens:email:"
	tokenPhantomPrefix    = "beacon:tokens:phantom:"
	resetKeyPrefix        = "beacon:resets:"
	resetPhantomPrefix    = "beacon:resets:phantom:"
	defaultOpTimeout      = 3 * time.Second
	defaultIndexTTL       = 31 * 24 * time.Hour
	defaultPhantomPadding = 5 * time.Minute
)

// RedisConfig holds Redis connection settings for the token store.
type RedisConfig struct {
	// URL is a redis:// connection URL.
	URL string
	// OpTimeout bounds every individual store operation. Zero means the
	// default of 3 seconds.
	OpTimeout time.Duration
	// IndexTTL bounds the lifetime of per-email index sets. Must exceed
	// the longest token TTL; zero means 31 days.
	IndexTTL time.Duration
	// DB is the Redis logical database, needed to subscribe to the right
	// keyspace notification channel. Must match the database in URL.
	DB int
}

// RedisStore is a Store backed by Redis. Records are plain keys with a TTL;
// a phantom copy with a padded TTL survives the live key so that keyspace
// expiry notifications can be resolved back to the full record.
type RedisStore struct {
	client *redis.Client
	cfg    RedisConfig
	logger *observability.Logger

	mu   sync.Mutex
	subs []ExpiryFunc

	pubsub *redis.PubSub
	done   chan struct{}
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger *observability.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.OpTimeout == 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if cfg.IndexTTL == 0 {
		cfg.IndexTTL = defaultIndexTTL
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{
		client: client,
		cfg:    cfg,
		logger: logger,
		done:   make(chan struct{}),
	}, nil
}

// Client exposes the underlying Redis client for health checks.
func (s *RedisStore) Client() *redis.Client { return s.client }

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, rec TokenRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal token record: %w", err)
	}
	ttl := rec.TTL(time.Now())
	if ttl <= 0 {
		ttl = time.Millisecond
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	pipe := s.client.Pipeline()
	pipe.Set(ctx, tokenKeyPrefix+rec.Token, data, ttl)
	pipe.Set(ctx, tokenPhantomPrefix+rec.Token, data, ttl+defaultPhantomPadding)
	pipe.SAdd(ctx, tokenIndexPrefix+rec.Email, rec.Token)
	pipe.Expire(ctx, tokenIndexPrefix+rec.Email, s.cfg.IndexTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.unavailable("put", err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, token string) (*TokenRecord, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	data, err := s.client.Get(ctx, tokenKeyPrefix+token).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, s.unavailable("get", err)
	}

	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token record: %w", err)
	}
	return &rec, nil
}

// FindAllByEmail implements Store. Index members whose record already
// expired are skipped and pruned opportunistically.
func (s *RedisStore) FindAllByEmail(ctx context.Context, email string) ([]TokenRecord, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tokens, err := s.client.SMembers(ctx, tokenIndexPrefix+email).Result()
	if err != nil {
		return nil, s.unavailable("find_all", err)
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	keys := make([]string, len(tokens))
	for i, token := range tokens {
		keys[i] = tokenKeyPrefix + token
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, s.unavailable("find_all", err)
	}

	var recs []TokenRecord
	var stale []interface{}
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			stale = append(stale, tokens[i])
			continue
		}
		var rec TokenRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			s.logger.WithError(err).Warn("Skipping undecodable token record")
			continue
		}
		recs = append(recs, rec)
	}
	if len(stale) > 0 {
		s.client.SRem(ctx, tokenIndexPrefix+email, stale...)
	}
	return recs, nil
}

// DeleteAll implements Store. The whole batch is submitted as one pipeline
// so no partially revoked state is observable through this client.
func (s *RedisStore) DeleteAll(ctx context.Context, recs []TokenRecord) error {
	if len(recs) == 0 {
		return nil
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	pipe := s.client.Pipeline()
	for _, rec := range recs {
		pipe.Del(ctx, tokenKeyPrefix+rec.Token, tokenPhantomPrefix+rec.Token)
		pipe.SRem(ctx, tokenIndexPrefix+rec.Email, rec.Token)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return s.unavailable("delete_all", err)
	}
	return nil
}

// PutPasswordReset implements Store.
func (s *RedisStore) PutPasswordReset(ctx context.Context, rec PasswordResetRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal reset record: %w", err)
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Millisecond
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	pipe := s.client.Pipeline()
	pipe.Set(ctx, resetKeyPrefix+rec.Token, data, ttl)
	pipe.Set(ctx, resetPhantomPrefix+rec.Token, data, ttl+defaultPhantomPadding)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.unavailable("put_reset", err)
	}
	return nil
}

// GetPasswordReset implements Store.
func (s *RedisStore) GetPasswordReset(ctx context.Context, token string) (*PasswordResetRecord, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	data, err := s.client.Get(ctx, resetKeyPrefix+token).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, s.unavailable("get_reset", err)
	}

	var rec PasswordResetRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal reset record: %w", err)
	}
	return &rec, nil
}

// DeletePasswordReset implements Store.
func (s *RedisStore) DeletePasswordReset(ctx context.Context, token string) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if err := s.client.Del(ctx, resetKeyPrefix+token, resetPhantomPrefix+token).Err(); err != nil {
		return s.unavailable("delete_reset", err)
	}
	return nil
}

// OnExpired implements Store.
func (s *RedisStore) OnExpired(fn ExpiryFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Start subscribes to keyspace expiry notifications and pumps them to
// subscribers until ctx is cancelled or Close is called. Notification
// delivery requires the server to have notify-keyspace-events enabled;
// Start attempts to enable it and logs when the server refuses (managed
// Redis offerings often disallow CONFIG SET).
func (s *RedisStore) Start(ctx context.Context) error {
	if err := s.client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err(); err != nil {
		s.logger.WithError(err).Warn("Could not enable keyspace notifications; expiry events depend on server config")
	}

	channel := fmt.Sprintf("__keyevent@%d__:expired", s.cfg.DB)
	s.pubsub = s.client.PSubscribe(ctx, channel)
	go s.pump(ctx)
	return nil
}

func (s *RedisStore) pump(ctx context.Context) {
	ch := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.handleExpiredKey(ctx, msg.Payload)
		}
	}
}

// handleExpiredKey resolves an expired key name back to its record via the
// phantom copy and notifies subscribers.
func (s *RedisStore) handleExpiredKey(ctx context.Context, key string) {
	switch {
	case strings.HasPrefix(key, tokenKeyPrefix) && !strings.HasPrefix(key, tokenIndexPrefix) && !strings.HasPrefix(key, tokenPhantomPrefix):
		token := strings.TrimPrefix(key, tokenKeyPrefix)
		data, err := s.client.Get(ctx, tokenPhantomPrefix+token).Bytes()
		if err != nil {
			if err != redis.Nil {
				s.logger.WithError(err).Warn("Failed to read phantom token record for expiry event")
			}
			return
		}
		var rec TokenRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.WithError(err).Warn("Undecodable phantom token record")
			return
		}
		s.client.Del(ctx, tokenPhantomPrefix+token)
		s.client.SRem(ctx, tokenIndexPrefix+rec.Email, token)
		s.notify(ExpiredRecord{Kind: ExpiredToken, Token: &rec})

	case strings.HasPrefix(key, resetKeyPrefix) && !strings.HasPrefix(key, resetPhantomPrefix):
		token := strings.TrimPrefix(key, resetKeyPrefix)
		data, err := s.client.Get(ctx, resetPhantomPrefix+token).Bytes()
		if err != nil {
			if err != redis.Nil {
				s.logger.WithError(err).Warn("Failed to read phantom reset record for expiry event")
			}
			return
		}
		var rec PasswordResetRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			s.logger.WithError(err).Warn("Undecodable phantom reset record")
			return
		}
		s.client.Del(ctx, resetPhantomPrefix+token)
		s.notify(ExpiredRecord{Kind: ExpiredPasswordReset, PasswordReset: &rec})
	}
}

func (s *RedisStore) notify(rec ExpiredRecord) {
	s.mu.Lock()
	subs := make([]ExpiryFunc, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(rec)
	}
}

// Close stops the expiry pump and closes the connection.
func (s *RedisStore) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	if s.pubsub != nil {
		if err := s.pubsub.Close(); err != nil {
			s.logger.WithError(err).Warn("Failed to close pubsub subscription")
		}
	}
	return s.client.Close()
}

func (s *RedisStore) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.OpTimeout)
}

func (s *RedisStore) unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("redis %s: %v: %w", op, err, ErrUnavailable)
}
