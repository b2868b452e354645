package llm

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient_NetErrorIsTransient(t *testing.T) {
	err := &net.DNSError{Err: "no such host", IsTimeout: true}
	assert.True(t, isTransient(err))
}

func TestIsTransient_ClientMistakesAreNotTransient(t *testing.T) {
	for _, msg := range []string{
		"invalid api key",
		"unauthorized",
		"forbidden",
		"model not found",
		"parameter required",
	} {
		assert.False(t, isTransient(errors.New(msg)), msg)
	}
}

func TestIsTransient_RateLimitAndTimeoutWordingIsTransient(t *testing.T) {
	for _, msg := range []string{
		"request timeout",
		"rate limit exceeded",
		"too many requests",
		"connection reset by peer",
		"service temporarily unavailable",
		"503 service unavailable",
		"502 bad gateway",
		"429 too many requests",
	} {
		assert.True(t, isTransient(errors.New(msg)), msg)
	}
}

func TestIsTransient_UnrecognizedErrorIsNotTransient(t *testing.T) {
	assert.False(t, isTransient(errors.New("something went sideways")))
}

func TestConvertMessages_PreservesRoleAndContentOrder(t *testing.T) {
	in := []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}
	out := convertMessages(in)
	if assert.Len(t, out, 3) {
		assert.Equal(t, "system", out[0].Role)
		assert.Equal(t, "be terse", out[0].Content)
		assert.Equal(t, "user", out[1].Role)
		assert.Equal(t, "assistant", out[2].Role)
	}
}

func TestConvertMessages_EmptyInputProducesEmptyOutput(t *testing.T) {
	out := convertMessages(nil)
	assert.Empty(t, out)
}

func TestNew_AppliesProviderDefaultBaseURLAndRetryDefaults(t *testing.T) {
	svc := New(Config{Provider: "deepseek", APIKey: "key", Model: "deepseek-chat"})
	impl, ok := svc.(*service)
	if assert.True(t, ok) {
		assert.Equal(t, 2, impl.maxRetries, "MaxRetries defaults to 2 when unset")
		assert.Equal(t, "deepseek-chat", impl.model)
	}
}

func TestNew_ExplicitBaseURLOverridesProviderDefault(t *testing.T) {
	svc := New(Config{Provider: "deepseek", BaseURL: "https://custom.example.com", APIKey: "key"})
	impl, ok := svc.(*service)
	assert.True(t, ok)
	assert.NotNil(t, impl.client)
}
