package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeen_Mark(t *testing.T) {
	s := NewSeen(time.Minute)

	assert.True(t, s.Mark("a"))
	assert.False(t, s.Mark("a"))
	assert.True(t, s.Mark("b"))
	assert.True(t, s.Has("a"))
	assert.False(t, s.Has("c"))
	assert.Equal(t, 2, s.Len())
}

func TestSeen_Expiry(t *testing.T) {
	s := NewSeen(20 * time.Millisecond)
	s.Mark("a")

	assert.Eventually(t, func() bool { return !s.Has("a") }, time.Second, 5*time.Millisecond)
	assert.True(t, s.Mark("a"))
}

func TestSeen_DefaultTTL(t *testing.T) {
	s := NewSeen(0)
	assert.True(t, s.Mark("a"))
	assert.True(t, s.Has("a"))
}
