package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetGet(t *testing.T) {
	c := New[string, int](time.Minute, time.Minute)
	defer c.Close()

	c.Set("a", 1)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestExpiry(t *testing.T) {
	c := New[string, int](10*time.Millisecond, time.Minute)
	defer c.Close()

	c.Set("a", 1)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestGetOrCreateMissRunsFactory(t *testing.T) {
	c := New[string, string](time.Minute, time.Minute)
	defer c.Close()

	calls := 0
	factory := func() (string, error) {
		calls++
		return "built", nil
	}

	v, err := c.GetOrCreate("k", factory)
	require.NoError(t, err)
	assert.Equal(t, "built", v)
	assert.Equal(t, 1, calls)

	// Hit: factory must not run again.
	v, err = c.GetOrCreate("k", factory)
	require.NoError(t, err)
	assert.Equal(t, "built", v)
	assert.Equal(t, 1, calls)
}

func TestGetOrCreateErrorNotCached(t *testing.T) {
	c := New[string, string](time.Minute, time.Minute)
	defer c.Close()

	boom := errors.New("factory failed")
	_, err := c.GetOrCreate("k", func() (string, error) {
		return "", boom
	})
	require.ErrorIs(t, err, boom)

	// The failure left nothing behind; a later factory runs fresh.
	v, err := c.GetOrCreate("k", func() (string, error) {
		return "second", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "second", v)
}

func TestDeleteAndClear(t *testing.T) {
	c := New[string, int](time.Minute, time.Minute)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestDeleteFunc(t *testing.T) {
	c := New[string, int](time.Minute, time.Minute)
	defer c.Close()

	c.Set("server_1", 1)
	c.Set("server_2", 2)
	c.Set("user_1", 3)

	c.DeleteFunc(func(key string) bool {
		return key == "server_1" || key == "server_2"
	})

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("user_1")
	assert.True(t, ok)
}

func TestCleanupEvictsExpired(t *testing.T) {
	c := New[string, int](10*time.Millisecond, 20*time.Millisecond)
	defer c.Close()

	c.Set("a", 1)
	time.Sleep(50 * time.Millisecond)

	// Physically removed, not just invisible.
	assert.Equal(t, 0, c.Len())
}
