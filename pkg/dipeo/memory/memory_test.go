package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestManager_GetOrCreateAgent tests lazy agent creation is idempotent.
func TestManager_GetOrCreateAgent(t *testing.T) {
	m := NewManager()

	a := m.GetOrCreateAgent("helper", Config{Model: "m1", SystemPrompt: "sys"})
	b := m.GetOrCreateAgent("helper", Config{Model: "other", SystemPrompt: "ignored"})

	assert.Same(t, a, b)
	assert.Equal(t, "m1", b.Config().Model, "later config is ignored")
	assert.Equal(t, 1, m.Len())

	got, ok := m.Agent("helper")
	require.True(t, ok)
	assert.Same(t, a, got)

	_, ok = m.Agent("ghost")
	assert.False(t, ok)
}

// TestConversation_AppendOnly tests ordering and the explicit reset.
func TestConversation_AppendOnly(t *testing.T) {
	var c Conversation
	c.Append(
		NewMessage("user", "one", "n1", "r1"),
		NewMessage("assistant", "two", "n1", "r1"),
	)
	c.Append(NewMessage("user", "three", "n2", "r1"))

	msgs := c.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "three", msgs[2].Content)

	c.Reset()
	assert.Equal(t, 0, c.Len())
}

// TestConversation_View tests advisory filtering without mutation.
func TestConversation_View(t *testing.T) {
	var c Conversation
	c.Append(
		NewMessage("user", "about apples", "n", "r"),
		NewMessage("assistant", "apples are fine", "n", "r"),
		NewMessage("user", "about oranges", "n", "r"),
	)

	apples := c.View("apple", 0)
	assert.Len(t, apples, 2)

	recent := c.View("", 2)
	require.Len(t, recent, 2)
	assert.Equal(t, "apples are fine", recent[0].Content, "most recent matches kept")

	byRole := c.View("assistant", 0)
	assert.Len(t, byRole, 1)

	assert.Equal(t, 3, c.Len(), "views never mutate the log")
}

// TestAgent_SessionSerializes tests that concurrent sessions queue and
// message order matches session order.
func TestAgent_SessionSerializes(t *testing.T) {
	m := NewManager()
	agent := m.GetOrCreateAgent("busy", Config{})

	const callers = 10
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agent.Session(func(c *Conversation) {
				// Both appends of one session must stay adjacent.
				c.Append(NewMessage("user", fmt.Sprintf("q%d", i), "n", "r"))
				c.Append(NewMessage("assistant", fmt.Sprintf("a%d", i), "n", "r"))
			})
		}(i)
	}
	wg.Wait()

	msgs := agent.History()
	require.Len(t, msgs, callers*2)
	for i := 0; i < len(msgs); i += 2 {
		assert.Equal(t, "user", msgs[i].Role)
		assert.Equal(t, "assistant", msgs[i+1].Role)
		assert.Equal(t, msgs[i].Content[1:], msgs[i+1].Content[1:], "pairs stay adjacent")
	}
}

// TestParseMode tests mode parsing defaults to full.
func TestParseMode(t *testing.T) {
	assert.Equal(t, ModeFull, ParseMode("full"))
	assert.Equal(t, ModeForget, ParseMode("forget"))
	assert.Equal(t, ModeIsolated, ParseMode("isolated"))
	assert.Equal(t, ModeFull, ParseMode(""))
	assert.Equal(t, ModeFull, ParseMode("bogus"))
}

// TestManager_Remove tests dropping an agent and its conversation.
func TestManager_Remove(t *testing.T) {
	m := NewManager()
	a := m.GetOrCreateAgent("tmp", Config{})
	a.Session(func(c *Conversation) {
		c.Append(NewMessage("user", "hi", "n", "r"))
	})

	m.Remove("tmp")
	assert.Equal(t, 0, m.Len())

	fresh := m.GetOrCreateAgent("tmp", Config{})
	assert.Equal(t, 0, fresh.Len(), "recreated agent starts empty")
}
