package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunLimiterPerKey(t *testing.T) {
	t.Parallel()
	l := NewRunLimiter(6, 2, time.Minute)
	defer l.Stop()

	ok, _ := l.Allow("a")
	assert.True(t, ok)
	ok, _ = l.Allow("a")
	assert.True(t, ok)

	ok, wait := l.Allow("a")
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, 10*time.Second)

	ok, _ = l.Allow("b")
	assert.True(t, ok)
	assert.Equal(t, 2, l.Len())
}

func TestRunLimiterRejectionDoesNotConsume(t *testing.T) {
	t.Parallel()
	l := NewRunLimiter(60, 1, time.Minute)
	defer l.Stop()

	ok, _ := l.Allow("a")
	assert.True(t, ok)
	for range 5 {
		ok, _ = l.Allow("a")
		assert.False(t, ok)
	}

	assert.Eventually(t, func() bool {
		ok, _ := l.Allow("a")
		return ok
	}, 3*time.Second, 50*time.Millisecond)
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "1", retryAfter(100*time.Millisecond))
	assert.Equal(t, "10", retryAfter(10*time.Second))
}
