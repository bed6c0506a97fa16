package governor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWindowReply(t *testing.T) {
	allowed, retry, first, err := parseWindowReply([]any{int64(1), int64(0), int64(0)})
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, retry)
	assert.False(t, first)

	allowed, retry, first, err = parseWindowReply([]any{int64(0), int64(42), int64(1)})
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 42*time.Second, retry)
	assert.True(t, first)
}

func TestParseWindowReplyRejectsMalformedShapes(t *testing.T) {
	cases := []any{
		nil,
		"OK",
		[]any{int64(1)},
		[]any{int64(1), int64(0), int64(0), int64(0)},
		[]any{"1", "0", "0"},
		[]any{int64(1), "0", int64(0)},
	}
	for _, res := range cases {
		_, _, _, err := parseWindowReply(res)
		assert.Error(t, err, "reply %v", res)
	}
}
