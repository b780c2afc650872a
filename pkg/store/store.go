// Package store implements Transit's shared backend: a Redis-resident
// rendezvous point for chunk queues, sticky events, and per-transfer
// metadata, mirroring the role lib/store.py's RedisStore plays in the
// original implementation.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/marmos91/transit/internal/logger"
	"github.com/marmos91/transit/internal/telemetry"
	"github.com/marmos91/transit/pkg/transiterr"
)

// doneMarker and deadMarker are the sentinel chunk payloads that terminate
// (respectively, cleanly or abnormally) a transfer's chunk stream.
var (
	doneMarker = []byte{0x00, 0xFF}
	deadMarker = []byte{0xDE, 0xAD}
)

// PubSub is the subset of *redis.PubSub that WaitForEvent depends on,
// narrowed so tests can substitute a channel-backed fake instead of a real
// subscription.
type PubSub interface {
	Channel() <-chan *redis.Message
	Close() error
}

// Cmdable is the subset of redis.Cmdable this package depends on, narrowed
// so tests can substitute a hand-rolled fake instead of a real Redis server.
type Cmdable interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Subscribe(ctx context.Context, channels ...string) PubSub
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// redisAdapter narrows a *redis.Client down to Cmdable: *redis.Client's own
// Subscribe returns a concrete *redis.PubSub, which doesn't satisfy Cmdable
// directly since Go interface satisfaction is exact on method signatures.
type redisAdapter struct {
	*redis.Client
}

func (r redisAdapter) Subscribe(ctx context.Context, channels ...string) PubSub {
	return r.Client.Subscribe(ctx, channels...)
}

// Config configures a Store's operational limits, a subset of the fields of
// pkg/config.TransferConfig.
type Config struct {
	QueueDepth     int
	QueueOpTimeout time.Duration
	EventTTL       time.Duration
	CleanupLockTTL time.Duration
}

// Store coordinates transfer state through Redis.
type Store struct {
	client Cmdable
	cfg    Config
}

// New constructs a Store backed by a Cmdable, which tests can satisfy with
// a hand-rolled fake in place of a real Redis connection.
func New(client Cmdable, cfg Config) *Store {
	return &Store{client: client, cfg: cfg}
}

// NewRedisStore constructs a Store backed by a real *redis.Client.
func NewRedisStore(client *redis.Client, cfg Config) *Store {
	return New(redisAdapter{client}, cfg)
}

// NewClient builds a *redis.Client from a redis:// URL, the shared
// connection every Store in the process uses.
func NewClient(url string, dialTimeout time.Duration, poolSize int) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = dialTimeout
	opts.PoolSize = poolSize
	return redis.NewClient(opts), nil
}

// Every per-transfer key lives under the transfer:<uid>: prefix (spec
// section 4.1's namespace) so Cleanup's Scan can find the whole set with a
// single glob, regardless of how many sub-keys a transfer ends
// up touching.
func transferPrefix(uid string) string      { return "transfer:" + uid + ":" }
func queueKey(uid string) string            { return transferPrefix(uid) + "queue" }
func eventKey(uid, name string) string      { return transferPrefix(uid) + "event:" + name }
func eventChannel(uid, name string) string  { return transferPrefix(uid) + "event-channel:" + name }
func metadataKey(uid string) string         { return transferPrefix(uid) + "metadata" }
func receiverKey(uid string) string         { return transferPrefix(uid) + "receiver" }
func completedKey(uid string) string        { return transferPrefix(uid) + "completed" }
func interruptedKey(uid string) string      { return transferPrefix(uid) + "interrupted" }
func cleanupChallengeKey(uid string) string { return transferPrefix(uid) + "cleanup-challenge" }

// PutChunk appends chunk to uid's queue, blocking (via short polling) while
// the queue already holds QueueDepth entries, and fails with CodeTimeout if
// the backpressure doesn't clear within QueueOpTimeout.
func (s *Store) PutChunk(ctx context.Context, uid string, chunk []byte) error {
	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStorePutChunk, uid, telemetry.Size(uint64(len(chunk))))
	defer span.End()

	deadline := time.Now().Add(s.cfg.QueueOpTimeout)
	key := queueKey(uid)

	for {
		n, err := s.client.LLen(ctx, key).Result()
		if err != nil {
			return s.wrapRedisErr(uid, "check queue depth", err)
		}
		if int(n) < s.cfg.QueueDepth {
			break
		}
		if time.Now().After(deadline) {
			return transiterr.NewTimeoutError(uid, "queue stayed full for %s", s.cfg.QueueOpTimeout)
		}
		select {
		case <-ctx.Done():
			return transiterr.NewTimeoutError(uid, "context canceled while waiting for queue space")
		case <-time.After(500 * time.Millisecond):
		}
	}

	if err := s.client.LPush(ctx, key, chunk).Err(); err != nil {
		return s.wrapRedisErr(uid, "push chunk", err)
	}
	return s.client.Expire(ctx, key, s.cfg.EventTTL).Err()
}

// PutDone appends the DONE sentinel, signaling a clean end of stream.
func (s *Store) PutDone(ctx context.Context, uid string) error {
	return s.PutChunk(ctx, uid, doneMarker)
}

// PutDead appends the DEAD sentinel, signaling the sender aborted.
func (s *Store) PutDead(ctx context.Context, uid string) error {
	return s.PutChunk(ctx, uid, deadMarker)
}

// Chunk is the result of TakeChunk: either a data chunk, or a terminal
// sentinel flagged via Done/Dead.
type Chunk struct {
	Data []byte
	Done bool
	Dead bool
}

// TakeChunk blocks (via BRPOP) up to timeout for the next queued chunk.
func (s *Store) TakeChunk(ctx context.Context, uid string, timeout time.Duration) (*Chunk, error) {
	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStoreTakeChunk, uid)
	defer span.End()

	res, err := s.client.BRPop(ctx, timeout, queueKey(uid)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, transiterr.NewTimeoutError(uid, "no chunk available within %s", timeout)
	}
	if err != nil {
		return nil, s.wrapRedisErr(uid, "take chunk", err)
	}
	if len(res) != 2 {
		return nil, transiterr.NewInternalError(uid, "unexpected BRPOP reply shape")
	}

	data := []byte(res[1])
	switch {
	case bytesEqual(data, doneMarker):
		return &Chunk{Done: true}, nil
	case bytesEqual(data, deadMarker):
		return &Chunk{Dead: true}, nil
	default:
		return &Chunk{Data: data}, nil
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// SetEvent marks a named event as having fired for uid, and publishes to
// any currently-subscribed waiters. The marker key makes the event sticky:
// a WaitForEvent call that arrives after SetEvent still observes it.
func (s *Store) SetEvent(ctx context.Context, uid, name string) error {
	if err := s.client.Set(ctx, eventKey(uid, name), "1", s.cfg.EventTTL).Err(); err != nil {
		return s.wrapRedisErr(uid, "set event", err)
	}
	return s.client.Publish(ctx, eventChannel(uid, name), "1").Err()
}

// markerPollInterval is how often WaitForEvent re-checks the sticky marker
// as a fallback to the pub/sub subscription, guarding against a publish
// that both Get calls around Subscribe managed to miss.
const markerPollInterval = 1 * time.Second

// WaitForEvent blocks until uid's named event fires or timeout elapses. It
// checks the sticky marker first so a late caller never misses an event
// that already fired, then subscribes to the event's channel and polls the
// marker concurrently, completing on whichever fires first.
func (s *Store) WaitForEvent(ctx context.Context, uid, name string, timeout time.Duration) error {
	fired, err := s.client.Get(ctx, eventKey(uid, name)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return s.wrapRedisErr(uid, "check event marker", err)
	}
	if fired == "1" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sub := s.client.Subscribe(ctx, eventChannel(uid, name))
	defer sub.Close()

	// Re-check the marker after subscribing, closing the race where
	// SetEvent published between the first Get and Subscribe.
	fired, err = s.client.Get(ctx, eventKey(uid, name)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return s.wrapRedisErr(uid, "re-check event marker", err)
	}
	if fired == "1" {
		return nil
	}

	ticker := time.NewTicker(markerPollInterval)
	defer ticker.Stop()

	ch := sub.Channel()
	for {
		select {
		case <-ch:
			return nil
		case <-ticker.C:
			fired, err := s.client.Get(ctx, eventKey(uid, name)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return s.wrapRedisErr(uid, "poll event marker", err)
			}
			if fired == "1" {
				return nil
			}
		case <-ctx.Done():
			return transiterr.NewTimeoutError(uid, "event %q did not fire within %s", name, timeout)
		}
	}
}

// metadataRecord is what SetMetadata persists: the declared file metadata.
// The SetNX below is what actually guards the single winning claim; no
// field here needs to carry that guarantee itself.
type metadataRecord struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// SetMetadata claims uid for a new transfer, storing its declared file
// metadata. It fails with CodeConflict if a transfer is already pending
// under this uid.
func (s *Store) SetMetadata(ctx context.Context, uid, name string, size int64, contentType string) error {
	rec := metadataRecord{Name: name, Size: size, Type: contentType}
	data, err := json.Marshal(rec)
	if err != nil {
		return transiterr.NewInternalError(uid, "marshal metadata: %v", err)
	}

	ok, err := s.client.SetNX(ctx, metadataKey(uid), data, s.cfg.EventTTL).Result()
	if err != nil {
		return s.wrapRedisErr(uid, "claim metadata", err)
	}
	if !ok {
		return transiterr.NewConflictError(uid, "transfer already exists")
	}
	return nil
}

// GetMetadata returns the file metadata previously claimed for uid.
func (s *Store) GetMetadata(ctx context.Context, uid string) (name string, size int64, contentType string, err error) {
	data, err := s.client.Get(ctx, metadataKey(uid)).Result()
	if errors.Is(err, redis.Nil) {
		return "", 0, "", transiterr.NewNotFoundError(uid, "no pending transfer")
	}
	if err != nil {
		return "", 0, "", s.wrapRedisErr(uid, "get metadata", err)
	}

	var rec metadataRecord
	if jsonErr := json.Unmarshal([]byte(data), &rec); jsonErr != nil {
		return "", 0, "", transiterr.NewInternalError(uid, "unmarshal metadata: %v", jsonErr)
	}
	return rec.Name, rec.Size, rec.Type, nil
}

// SetReceiverConnected claims the single receiver slot for uid, failing
// with CodeConflict if a receiver already claimed it.
func (s *Store) SetReceiverConnected(ctx context.Context, uid string) error {
	ok, err := s.client.SetNX(ctx, receiverKey(uid), "1", s.cfg.EventTTL).Result()
	if err != nil {
		return s.wrapRedisErr(uid, "claim receiver slot", err)
	}
	if !ok {
		return transiterr.NewConflictError(uid, "receiver already connected")
	}
	return nil
}

// IsReceiverConnected reports whether a receiver has already claimed uid.
func (s *Store) IsReceiverConnected(ctx context.Context, uid string) (bool, error) {
	return s.flagSet(ctx, receiverKey(uid))
}

// SetCompleted marks uid's transfer as having finished successfully.
func (s *Store) SetCompleted(ctx context.Context, uid string) error {
	return s.client.Set(ctx, completedKey(uid), "1", s.cfg.EventTTL).Err()
}

// IsCompleted reports whether uid's transfer finished successfully.
func (s *Store) IsCompleted(ctx context.Context, uid string) (bool, error) {
	return s.flagSet(ctx, completedKey(uid))
}

// SetInterrupted marks uid's transfer as aborted and truncates its chunk
// queue to a single entry (the DEAD sentinel), so any queued-but-unread
// chunks are discarded without leaving the list unbounded.
func (s *Store) SetInterrupted(ctx context.Context, uid string) error {
	if err := s.client.Set(ctx, interruptedKey(uid), "1", s.cfg.EventTTL).Err(); err != nil {
		return s.wrapRedisErr(uid, "set interrupted flag", err)
	}
	if err := s.client.Del(ctx, queueKey(uid)).Err(); err != nil {
		return s.wrapRedisErr(uid, "truncate queue", err)
	}
	return s.PutDead(ctx, uid)
}

// IsInterrupted reports whether uid's transfer was aborted.
func (s *Store) IsInterrupted(ctx context.Context, uid string) (bool, error) {
	return s.flagSet(ctx, interruptedKey(uid))
}

func (s *Store) flagSet(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, s.wrapRedisErr("", "check flag", err)
	}
	return true, nil
}

// Cleanup removes every key associated with uid except its cleanup-challenge
// key, which is left to expire after CleanupLockTTL. It is single-flight:
// only the caller that wins the cleanup-challenge key actually performs the
// scan and delete, so concurrent or repeated FinalizeDownload calls within
// that window are no-ops.
func (s *Store) Cleanup(ctx context.Context, uid string) error {
	ctx, span := telemetry.StartStoreSpan(ctx, telemetry.SpanStoreCleanup, uid)
	defer span.End()

	won, err := s.client.SetNX(ctx, cleanupChallengeKey(uid), uuid.NewString(), s.cfg.CleanupLockTTL).Result()
	if err != nil {
		return s.wrapRedisErr(uid, "claim cleanup challenge", err)
	}
	if !won {
		logger.DebugCtx(ctx, "cleanup already claimed by another caller", logger.HandleHex(uid))
		return nil
	}

	pattern := transferPrefix(uid) + "*"
	var cursor uint64
	var keys []string
	for {
		batch, next, scanErr := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if scanErr != nil {
			return s.wrapRedisErr(uid, "scan keys", scanErr)
		}
		for _, key := range batch {
			if key != cleanupChallengeKey(uid) {
				keys = append(keys, key)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return s.wrapRedisErr(uid, "delete keys", err)
	}
	return nil
}

func (s *Store) wrapRedisErr(uid, op string, err error) error {
	return transiterr.NewInternalError(uid, "redis %s: %v", op, err)
}
