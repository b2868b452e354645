package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/dialogmesh/store"
)

type shapeRecord struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func TestDecodeFlexible_BareArray(t *testing.T) {
	got, err := store.DecodeFlexible[shapeRecord]([]byte(`[{"id":"a"},{"id":"b"}]`))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}

func TestDecodeFlexible_ResultWrappedArray(t *testing.T) {
	got, err := store.DecodeFlexible[shapeRecord]([]byte(`{"result":[{"id":"a","title":"t"}]}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "t", got[0].Title)
}

func TestDecodeFlexible_ResultWrappedSingle(t *testing.T) {
	got, err := store.DecodeFlexible[shapeRecord]([]byte(`{"result":{"id":"a"}}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestDecodeFlexible_SingleRecord(t *testing.T) {
	got, err := store.DecodeFlexible[shapeRecord]([]byte(`{"id":"a","title":"t"}`))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "t", got[0].Title)
}

func TestDecodeFlexible_EmptyAndNullYieldEmptySlice(t *testing.T) {
	for _, input := range [][]byte{nil, []byte(""), []byte("  "), []byte("null")} {
		got, err := store.DecodeFlexible[shapeRecord](input)
		require.NoError(t, err)
		assert.Empty(t, got)
	}
}

func TestDecodeFlexible_UnrecognizedShapeErrors(t *testing.T) {
	_, err := store.DecodeFlexible[shapeRecord]([]byte(`not json at all`))
	assert.Error(t, err)
}
