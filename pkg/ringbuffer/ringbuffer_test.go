package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushPull(t *testing.T) {
	rb := New(4)

	require.True(t, rb.Push(1))
	require.True(t, rb.Push(2))

	v, ok := rb.Pull()
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, ok = rb.Pull()
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestCloseUnblocksPull(t *testing.T) {
	rb := New(4)
	rb.Close()

	_, ok := rb.Pull()
	require.False(t, ok)

	require.False(t, rb.Push(1))
}

func TestOverflowEvictsOldest(t *testing.T) {
	rb := New(2)
	rb.Push(1)
	rb.Push(2)
	rb.Push(3)

	v, _ := rb.Pull()
	require.Equal(t, 2, v)
	v, _ = rb.Pull()
	require.Equal(t, 3, v)
}
