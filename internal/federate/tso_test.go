package federate

import (
	"cmp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTSOQueueOrdersByTimeThenArrival(t *testing.T) {
	q := newTSOQueue(cmp.Compare[float64])
	var got []string
	add := func(at float64, name string) { q.push(at, func() { got = append(got, name) }) }
	add(5, "e")
	add(2, "b1")
	add(9, "z")
	add(2, "b2")
	add(1, "a")

	first, ok := q.peek()
	require.True(t, ok)
	require.Equal(t, 1.0, first)

	for {
		item, ok := q.popThrough(5)
		if !ok {
			break
		}
		item.deliver()
	}
	require.Equal(t, []string{"a", "b1", "b2", "e"}, got)
	require.Equal(t, 1, q.Len())

	rest := q.drain()
	require.Len(t, rest, 1)
	require.Equal(t, 9.0, rest[0].time)
	_, ok = q.peek()
	require.False(t, ok)
}
