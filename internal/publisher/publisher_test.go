package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOutToAllSubscribers(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	b := New[int](4)
	chA, disposeA := b.Subscribe()
	defer disposeA()
	chB, disposeB := b.Subscribe()
	defer disposeB()

	require.NoError(t, b.Publish(1))

	assert.Equal(1, <-chA)
	assert.Equal(1, <-chB)
}

func TestBusPublishReportsDropWithoutBlocking(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	b := New[int](1)
	ch, dispose := b.Subscribe()
	defer dispose()

	require.NoError(t, b.Publish(1))
	err := b.Publish(2)
	assert.Error(err)

	assert.Equal(1, <-ch)
}

func TestBusDisposeStopsDelivery(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	b := New[int](1)
	ch, dispose := b.Subscribe()
	dispose()

	require.NoError(t, b.Publish(1))

	_, ok := <-ch
	assert.False(ok, "disposed subscriber channel must be closed")
}

func TestBusClosePreventsFurtherPublish(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	b := New[int](1)
	ch, _ := b.Subscribe()
	b.Close()
	b.Close() // idempotent

	assert.Error(b.Publish(1))
	_, ok := <-ch
	assert.False(ok)
}
