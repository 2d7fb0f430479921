package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thomasrockhu-codecov/cradle/pkg/errors"
)

func TestMsgpackCodec(t *testing.T) {
	type point struct {
		X, Y int
		Tag  string
	}
	codec := MsgpackCodec[[]point]{}

	data, err := codec.Encode([]point{{1, 2, "a"}, {3, 4, "b"}})
	require.NoError(t, err)
	got, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, []point{{1, 2, "a"}, {3, 4, "b"}}, got)

	_, err = MsgpackCodec[map[string]int]{}.Decode([]byte{0xc1})
	assert.True(t, errors.HasCode(err, errors.ErrCodeDiskCacheCorrupt))
}

func TestStringCodec(t *testing.T) {
	data, err := StringCodec{}.Encode("héllo")
	require.NoError(t, err)
	got, err := StringCodec{}.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, "héllo", got)
}
