package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type recordingConn struct {
	id string

	mu      sync.Mutex
	frames  []string
	closed  int
	closeCh chan struct{}
}

func newRecordingConn(id string) *recordingConn {
	return &recordingConn{id: id, closeCh: make(chan struct{}, 1)}
}

func (c *recordingConn) ID() string { return c.id }

func (c *recordingConn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, string(payload))
	return nil
}

func (c *recordingConn) Close(code int, _ string) {
	c.mu.Lock()
	c.closed = code
	c.mu.Unlock()

	select {
	case c.closeCh <- struct{}{}:
	default:
	}
}

func (c *recordingConn) snapshot() ([]string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...), c.closed
}

func TestLocalDelivery(t *testing.T) {
	h := New(nil, zerolog.Nop())
	c := newRecordingConn("conn_a")
	h.Register(c)

	if err := h.Send(context.Background(), "conn_a", []byte(`{"type":"welcome"}`)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if err := h.Disconnect(context.Background(), "conn_a", 4002, "kicked"); err != nil {
		t.Fatalf("Disconnect() error = %v", err)
	}

	frames, code := c.snapshot()
	if len(frames) != 1 || code != 4002 {
		t.Fatalf("frames = %v, close code = %d", frames, code)
	}

	if err := h.Send(context.Background(), "conn_missing", []byte("x")); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("Send(unknown) error = %v, want ErrUnknownConnection", err)
	}
}

func TestUnregisterKeepsReplacement(t *testing.T) {
	h := New(nil, zerolog.Nop())
	old := newRecordingConn("conn_a")
	replacement := newRecordingConn("conn_a")

	h.Register(old)
	h.Register(replacement)
	h.Unregister(old)

	if err := h.Send(context.Background(), "conn_a", []byte("still here")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if frames, _ := replacement.snapshot(); len(frames) != 1 {
		t.Fatalf("replacement frames = %v", frames)
	}
}

func TestRelayDeliversAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		return rdb
	}

	instanceA := New(NewRedisRelay(newClient(), zerolog.Nop()), zerolog.Nop())
	instanceB := New(NewRedisRelay(newClient(), zerolog.Nop()), zerolog.Nop())

	remote := newRecordingConn("conn_remote")
	instanceB.Register(remote)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- instanceB.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for mr.PubSubNumSub(DeliverChannel)[DeliverChannel] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("relay subscription never became active")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := instanceA.Send(ctx, "conn_remote", []byte(`{"type":"new-message"}`)); err != nil {
		t.Fatalf("Send() via relay error = %v", err)
	}
	if err := instanceA.Disconnect(ctx, "conn_remote", 4004, "room closed"); err != nil {
		t.Fatalf("Disconnect() via relay error = %v", err)
	}

	select {
	case <-remote.closeCh:
	case <-time.After(2 * time.Second):
		t.Fatal("relayed close never arrived")
	}

	frames, code := remote.snapshot()
	if len(frames) != 1 || frames[0] != `{"type":"new-message"}` {
		t.Fatalf("relayed frames = %v", frames)
	}
	if code != 4004 {
		t.Fatalf("close code = %d, want 4004", code)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}
