package session_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencode-ai/claudia/internal/session"
	"github.com/opencode-ai/claudia/pkg/types"
)

func parse(t *testing.T, line string) *types.StreamMessage {
	t.Helper()
	msg, err := types.ParseStreamMessage(line)
	require.NoError(t, err)
	return msg
}

func TestIdentityResolver(t *testing.T) {
	var r session.IdentityResolver

	id, ok := r.Observe(parse(t, assistantLine("abc", "hello")))
	assert.False(t, ok, "only init lines announce a session")
	assert.Empty(t, id)

	id, ok = r.Observe(parse(t, initLine("abc")))
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, ok = r.Observe(parse(t, initLine("abc")))
	assert.False(t, ok, "same id is not new")

	id, ok = r.Observe(parse(t, initLine("xyz")))
	assert.False(t, ok, "the first id of a turn wins")
	assert.Equal(t, "abc", id)
	assert.Equal(t, "abc", r.Known())

	r.Reset()
	assert.Empty(t, r.Known())
	_, ok = r.Observe(parse(t, initLine("xyz")))
	assert.True(t, ok)

	_, ok = r.Observe(nil)
	assert.False(t, ok)
}
