package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMailbox_LatestWins(t *testing.T) {
	m := newMailbox[int]()
	require.False(t, m.Put(1))
	require.True(t, m.Put(2))
	require.True(t, m.Put(3))

	v, ok := m.Take()
	require.True(t, ok)
	require.Equal(t, 3, v)
}

func TestMailbox_TakeBlocksUntilPut(t *testing.T) {
	m := newMailbox[string]()
	got := make(chan string, 1)
	go func() {
		v, _ := m.Take()
		got <- v
	}()

	select {
	case <-got:
		t.Fatal("Take returned before Put")
	case <-time.After(20 * time.Millisecond):
	}

	m.Put("frame")
	select {
	case v := <-got:
		require.Equal(t, "frame", v)
	case <-time.After(time.Second):
		t.Fatal("Take did not wake up")
	}
}

func TestMailbox_CloseWakesReader(t *testing.T) {
	m := newMailbox[int]()
	done := make(chan bool, 1)
	go func() {
		_, ok := m.Take()
		done <- ok
	}()
	m.Close()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Close did not wake reader")
	}
	require.True(t, m.Put(1))
}

func TestQueue_FIFOAndDrainAfterClose(t *testing.T) {
	q := newQueue[int]()
	for i := 1; i <= 3; i++ {
		q.Push(i)
	}
	q.Close()
	q.Push(4)

	var got []int
	for {
		v, ok := q.Pop()
		if !ok {
			break
		}
		got = append(got, v)
	}
	require.Equal(t, []int{1, 2, 3}, got)
	require.Zero(t, q.Len())
}
