package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/transit/pkg/filemeta"
	"github.com/marmos91/transit/pkg/store"
	"github.com/marmos91/transit/pkg/transiterr"
)

// fakeRedis is a minimal in-memory stand-in for store.Cmdable, scoped to
// what the Coordinator exercises through Store.
type fakeRedis struct {
	lists    map[string][][]byte
	strings  map[string]string
	channels map[string][]chan *redis.Message
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		lists:    map[string][][]byte{},
		strings:  map[string]string{},
		channels: map[string][]chan *redis.Message{},
	}
}

func (f *fakeRedis) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
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
	key := keys[0]
	for {
		l := f.lists[key]
		if len(l) > 0 {
			last := l[len(l)-1]
			f.lists[key] = l[:len(l)-1]
			cmd := redis.NewStringSliceCmd(ctx)
			cmd.SetVal([]string{key, string(last)})
			return cmd
		}
		if time.Now().After(deadline) {
			cmd := redis.NewStringSliceCmd(ctx)
			cmd.SetErr(redis.Nil)
			return cmd
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (f *fakeRedis) LLen(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.lists[key])))
	return cmd
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.strings[key] = toStr(value)
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
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
	for _, ch := range f.channels[channel] {
		select {
		case ch <- &redis.Message{Channel: channel, Payload: toStr(message)}:
		default:
		}
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.channels[channel])))
	return cmd
}

// fakePubSub is a minimal stand-in for store.PubSub backed by a single Go
// channel, registered into fakeRedis.channels so Publish can deliver to it.
type fakePubSub struct {
	ch chan *redis.Message
}

func (p *fakePubSub) Channel() <-chan *redis.Message { return p.ch }
func (p *fakePubSub) Close() error                    { return nil }

func (f *fakeRedis) Subscribe(ctx context.Context, channels ...string) store.PubSub {
	ch := make(chan *redis.Message, 8)
	for _, name := range channels {
		f.channels[name] = append(f.channels[name], ch)
	}
	return &fakePubSub{ch: ch}
}

func (f *fakeRedis) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
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

func newTestCoordinator() *Coordinator {
	s := store.New(newFakeRedis(), store.Config{
		QueueDepth:     16,
		QueueOpTimeout: 500 * time.Millisecond,
		EventTTL:       time.Minute,
		CleanupLockTTL: time.Minute,
	})
	return New(s, Config{
		ChunkSize:       4,
		QueueOpTimeout:  200 * time.Millisecond,
		EventTTL:        time.Minute,
		FinalizeTimeout: time.Second,
	})
}

func TestCreateAndGet(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	meta, err := filemeta.New("a.txt", 11, "text/plain")
	require.NoError(t, err)

	require.NoError(t, c.Create(ctx, "uid1", meta))

	got, err := c.Get(ctx, "uid1")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", got.Name)
	assert.EqualValues(t, 11, got.Size)
}

func TestCreate_ConflictOnDuplicateUID(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()
	meta, _ := filemeta.New("a.txt", 1, "text/plain")

	require.NoError(t, c.Create(ctx, "uid2", meta))
	err := c.Create(ctx, "uid2", meta)
	require.Error(t, err)
	assert.True(t, transiterr.IsConflictError(err))
}

func TestSetClientConnected_SignalsWaitingSender(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()
	meta, _ := filemeta.New("a.txt", 1, "text/plain")
	require.NoError(t, c.Create(ctx, "uid3", meta))

	done := make(chan error, 1)
	go func() {
		done <- c.WaitForClientConnected(ctx, "uid3", time.Second)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.ConnectReceiver(ctx, "uid3"))
	require.NoError(t, c.SetClientConnected(ctx, "uid3"))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitForClientConnected did not return after SetClientConnected")
	}
}

func TestConnectReceiver_ConflictWhenAlreadyConnected(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()
	meta, _ := filemeta.New("a.txt", 1, "text/plain")
	require.NoError(t, c.Create(ctx, "uid4", meta))

	require.NoError(t, c.ConnectReceiver(ctx, "uid4"))
	err := c.ConnectReceiver(ctx, "uid4")
	require.Error(t, err)
	assert.True(t, transiterr.IsConflictError(err))
}

func TestConnectReceiver_DoesNotByItselfUnblockSender(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()
	meta, _ := filemeta.New("a.txt", 1, "text/plain")
	require.NoError(t, c.Create(ctx, "uid4b", meta))
	require.NoError(t, c.ConnectReceiver(ctx, "uid4b"))

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err := c.WaitForClientConnected(waitCtx, "uid4b", 50*time.Millisecond)
	require.Error(t, err)
	assert.True(t, transiterr.IsTimeoutError(err))
}

func TestCollectUploadAndSupplyDownload_RoundTrip(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	payload := []byte("hello world, this is a test payload")
	meta, _ := filemeta.New("f.bin", int64(len(payload)), "application/octet-stream")
	require.NoError(t, c.Create(ctx, "uid5", meta))

	uploadDone := make(chan error, 1)
	go func() {
		uploadDone <- c.CollectUpload(ctx, "uid5", bytes.NewReader(payload), int64(len(payload)), nil)
	}()

	var out bytes.Buffer
	n, err := c.SupplyDownload(ctx, "uid5", int64(len(payload)), &out, nil)
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), n)
	assert.Equal(t, payload, out.Bytes())

	require.NoError(t, <-uploadDone)
}

func TestCollectUpload_TruncatedStreamFails(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()

	meta, _ := filemeta.New("f.bin", 100, "application/octet-stream")
	require.NoError(t, c.Create(ctx, "uid6", meta))

	var errCalled error
	onError := func(_ context.Context, err error) { errCalled = err }

	err := c.CollectUpload(ctx, "uid6", bytes.NewReader([]byte("short")), 100, onError)
	require.Error(t, err)
	assert.True(t, transiterr.IsTruncatedError(err))
	assert.Equal(t, err, errCalled)
}

type errReader struct{}

func (errReader) Read(p []byte) (int, error) { return 0, errors.New("boom") }

func TestCollectUpload_ReaderFailurePropagatesAsPeerGone(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()
	meta, _ := filemeta.New("f.bin", 10, "application/octet-stream")
	require.NoError(t, c.Create(ctx, "uid7", meta))

	err := c.CollectUpload(ctx, "uid7", errReader{}, 10, nil)
	require.Error(t, err)
	assert.True(t, transiterr.IsPeerGoneError(err))
}

func TestSupplyDownload_DeadSentinelIsPeerGone(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()
	meta, _ := filemeta.New("f.bin", 10, "application/octet-stream")
	require.NoError(t, c.Create(ctx, "uid8", meta))

	go func() {
		_ = c.CollectUpload(ctx, "uid8", errReader{}, 10, nil)
	}()

	var out bytes.Buffer
	_, err := c.SupplyDownload(ctx, "uid8", 10, &out, nil)
	require.Error(t, err)
	assert.True(t, transiterr.IsPeerGoneError(err))
}

func TestCollectUpload_StopsQuietlyWhenReceiverInterrupted(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()
	meta, _ := filemeta.New("f.bin", 1<<20, "application/octet-stream")
	require.NoError(t, c.Create(ctx, "uid8b", meta))

	require.NoError(t, c.store.SetInterrupted(ctx, "uid8b"))

	payload := bytes.Repeat([]byte("x"), 1<<20)
	err := c.CollectUpload(ctx, "uid8b", bytes.NewReader(payload), int64(len(payload)), nil)
	require.NoError(t, err)
}

func TestFinalizeDownload_RunsCleanup(t *testing.T) {
	c := newTestCoordinator()
	ctx := context.Background()
	meta, _ := filemeta.New("f.bin", 1, "application/octet-stream")
	require.NoError(t, c.Create(ctx, "uid9", meta))

	require.NoError(t, c.FinalizeDownload(ctx, "uid9"))
}

var _ io.Reader = bytes.NewReader(nil)
