package chatadapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemory_Send_RecordsMessage(t *testing.T) {
	p := NewInMemory(nil)
	require.NoError(t, p.Send(context.Background(), "u1", "c1", "hello"))

	last, err := p.Last()
	require.NoError(t, err)
	assert.Equal(t, "hello", last.Text)
	assert.Equal(t, "c1", last.ChannelID)
}

func TestInMemory_Send_InvokesOnSendHook(t *testing.T) {
	var seen OutgoingMessage
	p := NewInMemory(func(m OutgoingMessage) { seen = m })

	require.NoError(t, p.Send(context.Background(), "u1", "c1", "hi"))
	assert.Equal(t, "hi", seen.Text)
}

func TestInMemory_AddReaction_RecordsReactionNotRemoved(t *testing.T) {
	p := NewInMemory(nil)
	require.NoError(t, p.AddReaction(context.Background(), "u1", "c1", "👍"))

	last, err := p.Last()
	require.NoError(t, err)
	assert.Equal(t, "👍", last.Reaction)
	assert.False(t, last.Removed)
}

func TestInMemory_RemoveReaction_MarksRemoved(t *testing.T) {
	p := NewInMemory(nil)
	require.NoError(t, p.RemoveReaction(context.Background(), "u1", "c1", "👍"))

	last, err := p.Last()
	require.NoError(t, err)
	assert.True(t, last.Removed)
}

func TestInMemory_Last_ErrorsWhenEmpty(t *testing.T) {
	p := NewInMemory(nil)
	_, err := p.Last()
	assert.Error(t, err)
}

func TestInMemory_Messages_ReturnsDefensiveCopy(t *testing.T) {
	p := NewInMemory(nil)
	require.NoError(t, p.Send(context.Background(), "u1", "c1", "a"))

	msgs := p.Messages()
	msgs[0].Text = "mutated"

	last, err := p.Last()
	require.NoError(t, err)
	assert.Equal(t, "a", last.Text)
}
