package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/transit/pkg/transiterr"
)

// fakeRedis is a minimal in-memory stand-in for the Cmdable interface,
// covering exactly the commands pkg/store issues. It is not a general
// Redis emulator: list/string/pubsub state lives in plain Go maps guarded
// by a mutex, which is sufficient to exercise Store's control flow.
type fakeRedis struct {
	mu       chan struct{} // binary semaphore
	lists    map[string][][]byte
	strings  map[string]string
	channels map[string][]chan *redis.Message
}

func newFakeRedis() *fakeRedis {
	f := &fakeRedis{
		mu:       make(chan struct{}, 1),
		lists:    map[string][][]byte{},
		strings:  map[string]string{},
		channels: map[string][]chan *redis.Message{},
	}
	f.mu <- struct{}{}
	return f
}

func (f *fakeRedis) lock()   { <-f.mu }
func (f *fakeRedis) unlock() { f.mu <- struct{}{} }

func (f *fakeRedis) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	f.lock()
	defer f.unlock()
	for _, v := range values {
		// Copy, the way a real connection's write buffer copies args
		// during the synchronous call: callers are free to reuse/return
		// their slice to a pool the moment LPush returns.
		var b []byte
		switch vv := v.(type) {
		case []byte:
			b = append([]byte(nil), vv...)
		case string:
			b = []byte(vv)
		}
		f.lists[key] = append([][]byte{b}, f.lists[key]...)
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.lists[key])))
	return cmd
}

func (f *fakeRedis) BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd {
	deadline := time.Now().Add(timeout)
	for {
		f.lock()
		key := keys[0]
		l := f.lists[key]
		if len(l) > 0 {
			last := l[len(l)-1]
			f.lists[key] = l[:len(l)-1]
			f.unlock()
			cmd := redis.NewStringSliceCmd(ctx)
			cmd.SetVal([]string{key, string(last)})
			return cmd
		}
		f.unlock()
		if time.Now().After(deadline) {
			cmd := redis.NewStringSliceCmd(ctx)
			cmd.SetErr(redis.Nil)
			return cmd
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *fakeRedis) LLen(ctx context.Context, key string) *redis.IntCmd {
	f.lock()
	defer f.unlock()
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.lists[key])))
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.lock()
	defer f.unlock()
	f.strings[key] = toStr(value)
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.lock()
	defer f.unlock()
	cmd := redis.NewBoolCmd(ctx)
	if _, exists := f.strings[key]; exists {
		cmd.SetVal(false)
		return cmd
	}
	f.strings[key] = toStr(value)
	cmd.SetVal(true)
	return cmd
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	f.lock()
	defer f.unlock()
	cmd := redis.NewStringCmd(ctx)
	v, ok := f.strings[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.lock()
	defer f.unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.strings[k]; ok {
			delete(f.strings, k)
			n++
		}
		if _, ok := f.lists[k]; ok {
			delete(f.lists, k)
			n++
		}
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(n)
	return cmd
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	cmd.SetVal(true)
	return cmd
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.lock()
	subs := f.channels[channel]
	f.unlock()
	for _, ch := range subs {
		select {
		case ch <- &redis.Message{Channel: channel, Payload: toStr(message)}:
		default:
		}
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(subs)))
	return cmd
}

// fakePubSub is a minimal stand-in for PubSub backed by a single Go channel,
// registered into fakeRedis.channels so Publish can deliver to it.
type fakePubSub struct {
	ch chan *redis.Message
}

func (p *fakePubSub) Channel() <-chan *redis.Message { return p.ch }
func (p *fakePubSub) Close() error                    { return nil }

func (f *fakeRedis) Subscribe(ctx context.Context, channels ...string) PubSub {
	ch := make(chan *redis.Message, 8)
	f.lock()
	for _, name := range channels {
		f.channels[name] = append(f.channels[name], ch)
	}
	f.unlock()
	return &fakePubSub{ch: ch}
}

func (f *fakeRedis) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	f.lock()
	defer f.unlock()
	var keys []string
	for k := range f.strings {
		keys = append(keys, k)
	}
	for k := range f.lists {
		keys = append(keys, k)
	}
	cmd := redis.NewScanCmd(ctx, nil)
	cmd.SetVal(keys, 0)
	return cmd
}

func toStr(v interface{}) string {
	switch vv := v.(type) {
	case string:
		return vv
	case []byte:
		return string(vv)
	default:
		return ""
	}
}

func newTestStore() *Store {
	cfg := Config{
		QueueDepth:     2,
		QueueOpTimeout: 200 * time.Millisecond,
		EventTTL:       time.Minute,
		CleanupLockTTL: time.Minute,
	}
	return New(newFakeRedis(), cfg)
}

func TestPutAndTakeChunk(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.PutChunk(ctx, "uid1", []byte("hello")))
	chunk, err := s.TakeChunk(ctx, "uid1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), chunk.Data)
	assert.False(t, chunk.Done)
	assert.False(t, chunk.Dead)
}

func TestPutChunk_BackpressureTimesOut(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.PutChunk(ctx, "uid2", []byte("a")))
	require.NoError(t, s.PutChunk(ctx, "uid2", []byte("b")))

	err := s.PutChunk(ctx, "uid2", []byte("c"))
	require.Error(t, err)
	assert.True(t, transiterr.IsTimeoutError(err))
}

func TestTakeChunk_DoneSentinel(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.PutDone(ctx, "uid3"))
	chunk, err := s.TakeChunk(ctx, "uid3", time.Second)
	require.NoError(t, err)
	assert.True(t, chunk.Done)
}

func TestTakeChunk_DeadSentinel(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.PutDead(ctx, "uid4"))
	chunk, err := s.TakeChunk(ctx, "uid4", time.Second)
	require.NoError(t, err)
	assert.True(t, chunk.Dead)
}

func TestTakeChunk_TimesOutWhenEmpty(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, err := s.TakeChunk(ctx, "uid5", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, transiterr.IsTimeoutError(err))
}

func TestSetEvent_StickyMarkerObservedAfterFire(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.SetEvent(ctx, "uid6", "receiver_connected"))

	err := s.WaitForEvent(ctx, "uid6", "receiver_connected", time.Second)
	require.NoError(t, err)
}

func TestMetadata_ClaimAndConflict(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.SetMetadata(ctx, "uid7", "file.bin", 1024, "application/octet-stream"))

	err := s.SetMetadata(ctx, "uid7", "other.bin", 2048, "application/octet-stream")
	require.Error(t, err)
	assert.True(t, transiterr.IsConflictError(err))

	name, size, contentType, err := s.GetMetadata(ctx, "uid7")
	require.NoError(t, err)
	assert.Equal(t, "file.bin", name)
	assert.EqualValues(t, 1024, size)
	assert.Equal(t, "application/octet-stream", contentType)
}

func TestGetMetadata_NotFound(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	_, _, _, err := s.GetMetadata(ctx, "does-not-exist")
	require.Error(t, err)
	assert.True(t, transiterr.IsNotFoundError(err))
}

func TestReceiverConnectedFlag(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	connected, err := s.IsReceiverConnected(ctx, "uid8")
	require.NoError(t, err)
	assert.False(t, connected)

	require.NoError(t, s.SetReceiverConnected(ctx, "uid8"))

	err = s.SetReceiverConnected(ctx, "uid8")
	require.Error(t, err)
	assert.True(t, transiterr.IsConflictError(err))

	connected, err = s.IsReceiverConnected(ctx, "uid8")
	require.NoError(t, err)
	assert.True(t, connected)
}

func TestInterruptedFlagTruncatesQueue(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.PutChunk(ctx, "uid9", []byte("a")))
	require.NoError(t, s.SetInterrupted(ctx, "uid9"))

	interrupted, err := s.IsInterrupted(ctx, "uid9")
	require.NoError(t, err)
	assert.True(t, interrupted)

	chunk, err := s.TakeChunk(ctx, "uid9", time.Second)
	require.NoError(t, err)
	assert.True(t, chunk.Dead)
}

func TestCompletedFlag(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	completed, err := s.IsCompleted(ctx, "uid10")
	require.NoError(t, err)
	assert.False(t, completed)

	require.NoError(t, s.SetCompleted(ctx, "uid10"))

	completed, err = s.IsCompleted(ctx, "uid10")
	require.NoError(t, err)
	assert.True(t, completed)
}

func TestCleanup_RemovesKeysAndIsSingleFlight(t *testing.T) {
	s := newTestStore()
	ctx := context.Background()

	require.NoError(t, s.SetMetadata(ctx, "uid11", "f.bin", 10, "application/octet-stream"))
	require.NoError(t, s.SetReceiverConnected(ctx, "uid11"))

	require.NoError(t, s.Cleanup(ctx, "uid11"))

	// Second cleanup call should be a no-op, not an error, since the
	// challenge key is already claimed.
	require.NoError(t, s.Cleanup(ctx, "uid11"))
}
