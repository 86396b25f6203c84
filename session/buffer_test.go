package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPendingAudioEvictsOldestFirst(t *testing.T) {
	q := NewPendingAudio(3)

	assert.False(t, q.Push("a"))
	assert.False(t, q.Push("b"))
	assert.False(t, q.Push("c"))
	assert.True(t, q.Push("d"))
	assert.True(t, q.Push("e"))

	assert.Equal(t, 3, q.Len())
	assert.Equal(t, []string{"c", "d", "e"}, q.Flush())
}

func TestPendingAudioFlushIsIdempotent(t *testing.T) {
	q := NewPendingAudio(10)
	q.Push("a")
	q.Push("b")

	assert.Equal(t, []string{"a", "b"}, q.Flush())
	assert.Nil(t, q.Flush())
	assert.Zero(t, q.Len())

	q.Push("c")
	assert.Equal(t, []string{"c"}, q.Flush())
}

func TestPendingAudioDefaultCap(t *testing.T) {
	assert.Equal(t, DefaultPendingAudioMax, NewPendingAudio(0).Max())
	assert.Equal(t, 7, NewPendingAudio(7).Max())
}
