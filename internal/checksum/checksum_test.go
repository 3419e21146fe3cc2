package checksum

import (
	"bytes"
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumMatchesStdlibAcrossChunkBoundaries(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789abcdef"), ChunkSize/8+3)

	got, err := Sum(context.Background(), bytes.NewReader(data), "md5")
	require.NoError(t, err)
	want := md5.Sum(data)
	assert.Equal(t, hex.EncodeToString(want[:]), got)

	got, err = Sum(context.Background(), bytes.NewReader(data), "SHA256")
	require.NoError(t, err)
	want256 := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(want256[:]), got)
}

func TestSumEmptyReader(t *testing.T) {
	got, err := Sum(context.Background(), bytes.NewReader(nil), "md5")
	require.NoError(t, err)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", got)
}

func TestUnknownAlgorithm(t *testing.T) {
	_, err := New("crc-nope")
	assert.True(t, errors.Is(err, ErrUnknownAlgorithm))
	assert.False(t, Supported("crc-nope"))
}

func TestExtendedAlgorithms(t *testing.T) {
	for _, name := range []string{"sha3-256", "sha3_512", "blake2b-256", "blake2b-512"} {
		a, err := SumBytes([]byte("hello"), name)
		require.NoError(t, err, name)
		b, err := Sum(context.Background(), bytes.NewReader([]byte("hello")), name)
		require.NoError(t, err, name)
		assert.Equal(t, a, b, name)
	}
	assert.Contains(t, Names(), "blake2b-256")
}

func TestSumHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Sum(ctx, bytes.NewReader([]byte("x")), "md5")
	assert.ErrorIs(t, err, context.Canceled)
}
