package router

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouter_DeliverToConnectedUser(t *testing.T) {
	r := New(Config{})
	var mu sync.Mutex
	var received []any
	r.RegisterConnection("alice", func(_ context.Context, msg any) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg)
		return nil
	})

	require.NoError(t, r.DeliverToUser(context.Background(), "alice", "hi"))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{"hi"}, received)
}

func TestRouter_SpoolsForOfflineUser(t *testing.T) {
	r := New(Config{})
	require.NoError(t, r.DeliverToUser(context.Background(), "bob", "msg1"))

	var received []any
	r.RegisterConnection("bob", func(_ context.Context, msg any) error {
		received = append(received, msg)
		return nil
	})
	assert.Equal(t, []any{"msg1"}, received)
}

// TestRouter_SpoolOverflowDropsOldest: at exactly cap=100, the 101st
// insert drops the oldest entry.
func TestRouter_SpoolOverflowDropsOldest(t *testing.T) {
	r := New(Config{SpoolCap: 100})
	for i := 0; i < 101; i++ {
		require.NoError(t, r.DeliverToUser(context.Background(), "carol", i))
	}

	var received []any
	r.RegisterConnection("carol", func(_ context.Context, msg any) error {
		received = append(received, msg)
		return nil
	})
	require.Len(t, received, 100)
	assert.Equal(t, 1, received[0], "oldest entry (0) was dropped on overflow")
	assert.Equal(t, 100, received[len(received)-1])
}

func TestRouter_FIFOOrderPerRecipient(t *testing.T) {
	r := New(Config{})
	var mu sync.Mutex
	var received []any
	r.RegisterConnection("dana", func(_ context.Context, msg any) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, msg)
		return nil
	})

	r.RouteMessage(context.Background(), "m1", []string{"dana"})
	r.RouteMessage(context.Background(), "m2", []string{"dana"})
	r.RouteMessage(context.Background(), "m3", []string{"dana"})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []any{"m1", "m2", "m3"}, received)
}

func TestRouter_UnregisterDropsEmptyEntry(t *testing.T) {
	r := New(Config{})
	id := r.RegisterConnection("eve", func(_ context.Context, _ any) error { return nil })
	r.UnregisterConnection("eve", id)

	// With no connection left, delivery should spool instead of erroring.
	require.NoError(t, r.DeliverToUser(context.Background(), "eve", "later"))
	var received []any
	r.RegisterConnection("eve", func(_ context.Context, msg any) error {
		received = append(received, msg)
		return nil
	})
	assert.Equal(t, []any{"later"}, received)
}
