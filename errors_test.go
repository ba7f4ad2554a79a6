package lavago

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapTransportNilIsNil(t *testing.T) {
	t.Parallel()
	assert.New(t).Nil(wrapTransport("n1", nil))
}

func TestWrapTransportUnwrapsToCause(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	cause := errors.New("dial refused")
	wrapped := wrapTransport("n1", cause)

	var te *TransportError
	assert.ErrorAs(wrapped, &te)
	assert.Equal("n1", te.Node)
	assert.ErrorIs(wrapped, cause)
}
