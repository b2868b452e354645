package wsopt

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []map[string]any
}

func (t *recordingTransport) Send(_ context.Context, _ string, envelope map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, envelope)
	return nil
}

func (t *recordingTransport) snapshot() []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]map[string]any(nil), t.sent...)
}

// TestOptimizer_BatchFlush is scenario S6: 19 messages under the default
// batch size produce no flush; the 20th triggers one batch envelope with
// count=20, in enqueue order.
func TestOptimizer_BatchFlush(t *testing.T) {
	transport := &recordingTransport{}
	o := New(transport, Config{MaxBatchSize: 20, BatchInterval: time.Hour})
	o.RegisterUser("u1")

	for i := 0; i < 19; i++ {
		require.NoError(t, o.Enqueue(context.Background(), "u1", map[string]any{"type": "chat_message", "seq": i}))
	}
	assert.Empty(t, transport.snapshot(), "no flush before max_batch_size is reached")

	require.NoError(t, o.Enqueue(context.Background(), "u1", map[string]any{"type": "chat_message", "seq": 19}))
	sent := transport.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, "batch", sent[0]["type"])
	assert.Equal(t, 20, sent[0]["count"])

	messages := sent[0]["messages"].([]map[string]any)
	for i, m := range messages {
		assert.Equal(t, i, m["seq"])
	}
}

func TestOptimizer_BypassTypesFlushImmediately(t *testing.T) {
	for _, msgType := range []string{"typing", "presence_change", "error"} {
		t.Run(msgType, func(t *testing.T) {
			transport := &recordingTransport{}
			o := New(transport, Config{MaxBatchSize: 20, BatchInterval: time.Hour})
			o.RegisterUser("u1")

			require.NoError(t, o.Enqueue(context.Background(), "u1", map[string]any{"type": msgType}))
			require.Len(t, transport.snapshot(), 1)
		})
	}
}

func TestOptimizer_PayloadSlimming(t *testing.T) {
	transport := &recordingTransport{}
	o := New(transport, Config{MaxBatchSize: 1, BatchInterval: time.Hour})
	o.RegisterUser("u1")

	longContent := strings.Repeat("x", 1500)
	require.NoError(t, o.Enqueue(context.Background(), "u1", map[string]any{
		"type":    "chat_message",
		"content": longContent,
		"debug":   "internal-only",
	}))

	sent := transport.snapshot()
	require.Len(t, sent, 1)
	messages := sent[0]["messages"].([]map[string]any)
	require.Len(t, messages, 1)
	assert.Len(t, messages[0]["content"], 1000)
	assert.Equal(t, true, messages[0]["content_truncated"])
	assert.NotContains(t, messages[0], "debug")
}

// TestOptimizer_ZeroQueueFlushIsNoop: flushing with nothing queued
// must not send an empty envelope.
func TestOptimizer_ZeroQueueFlushIsNoop(t *testing.T) {
	transport := &recordingTransport{}
	o := New(transport, Config{})
	o.RegisterUser("u1")

	require.NoError(t, o.Flush(context.Background(), "u1"))
	assert.Empty(t, transport.snapshot())
}

func TestOptimizer_UnregisteredUserRejected(t *testing.T) {
	o := New(&recordingTransport{}, Config{})
	err := o.Enqueue(context.Background(), "ghost", map[string]any{"type": "chat_message"})
	assert.Error(t, err)
}

func TestOptimizer_TimeBasedFlush(t *testing.T) {
	transport := &recordingTransport{}
	o := New(transport, Config{MaxBatchSize: 100, BatchInterval: 20 * time.Millisecond})
	o.RegisterUser("u1")

	require.NoError(t, o.Enqueue(context.Background(), "u1", map[string]any{"type": "chat_message"}))
	assert.Empty(t, transport.snapshot())

	assert.Eventually(t, func() bool {
		return len(transport.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}
