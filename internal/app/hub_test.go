package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHubBroadcast(t *testing.T) {
	h := NewHub()
	a := h.Register()
	b := h.Register()
	assert.Equal(t, 2, h.Len())

	h.Broadcast([]byte("one"))
	assert.Equal(t, "one", string(<-a.Send))
	assert.Equal(t, "one", string(<-b.Send))

	h.Unregister(a)
	h.Unregister(a)
	assert.Equal(t, 1, h.Len())
	_, open := <-a.Send
	assert.False(t, open)

	h.Broadcast([]byte("two"))
	assert.Equal(t, "two", string(<-b.Send))
}

func TestHubDropsForSlowClients(t *testing.T) {
	h := NewHub()
	c := h.Register()
	for i := 0; i < cap(c.Send)+10; i++ {
		h.Broadcast([]byte{byte(i)})
	}
	assert.Len(t, c.Send, cap(c.Send))
	assert.Equal(t, byte(0), (<-c.Send)[0])
}

func TestHubClose(t *testing.T) {
	h := NewHub()
	a, b := h.Register(), h.Register()
	h.Close()
	assert.Zero(t, h.Len())
	_, open := <-a.Send
	assert.False(t, open)
	_, open = <-b.Send
	assert.False(t, open)

	h.Unregister(a)
	h.Broadcast([]byte("late"))
}
