package ringchan_test

import (
	"testing"

	"github.com/srg/deskctl/internal/ringchan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForceSendOverwritesOldest(t *testing.T) {
	rc := ringchan.New[int](3)

	for i := 1; i <= 5; i++ {
		rc.ForceSend(i)
	}

	require.Equal(t, 3, rc.Len())
	var got []int
	for {
		v, ok := rc.TryReceive()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got)
}

func TestForceSendReportsDrops(t *testing.T) {
	rc := ringchan.New[string](1)

	assert.False(t, rc.ForceSend("a"))
	assert.True(t, rc.ForceSend("b"))
}

func TestTryReceiveOnEmpty(t *testing.T) {
	rc := ringchan.New[int](1)

	_, ok := rc.TryReceive()
	assert.False(t, ok)
}

func TestCloseEndsRange(t *testing.T) {
	rc := ringchan.New[int](2)
	rc.ForceSend(7)
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}
	assert.Equal(t, []int{7}, got)
	assert.Equal(t, 2, rc.Cap())
}

func TestZeroCapacityPanics(t *testing.T) {
	assert.Panics(t, func() { ringchan.New[int](0) })
}
