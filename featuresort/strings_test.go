package featuresort

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommonStringEncoderRoundTrip(t *testing.T) {
	e := NewCommonStringEncoder("layer")

	id1, err := e.Encode("water")
	require.NoError(t, err)
	id2, err := e.Encode("roads")
	require.NoError(t, err)
	id1Again, err := e.Encode("water")
	require.NoError(t, err)

	assert.Equal(t, id1, id1Again, "re-encoding the same string must return the same id")
	assert.NotEqual(t, id1, id2)
	assert.Equal(t, "water", e.Decode(id1))
	assert.Equal(t, "roads", e.Decode(id2))
}

func TestCommonStringEncoderNeverReturnsReservedBytes(t *testing.T) {
	e := NewCommonStringEncoder("attr")
	for i := 0; i < maxDistinct; i++ {
		id, err := e.Encode(fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		assert.NotEqual(t, uint8(0), id)
		assert.Less(t, id, uint8(251))
	}
}

func TestCommonStringEncoderSaturation(t *testing.T) {
	e := NewCommonStringEncoder("attr")
	for i := 0; i < maxDistinct; i++ {
		_, err := e.Encode(fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
	}

	_, err := e.Encode("one-too-many")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "attr")
}

func TestCommonStringEncoderDecodeUnknownPanics(t *testing.T) {
	e := NewCommonStringEncoder("layer")
	assert.Panics(t, func() {
		e.Decode(5)
	})
}
