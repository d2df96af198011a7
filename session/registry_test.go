package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/mcp-protocol/schema"
)

func TestRegistry_ClaimOnce(t *testing.T) {
	r := New(time.Minute)
	defer r.Close()

	result := &schema.CallToolResult{Content: []schema.CallToolResultContentElem{{Type: "text", Text: "ok"}}}
	id := r.Create("<html></html>", map[string]interface{}{"city": "Paris"}, result)
	require.NotEmpty(t, id)
	assert.True(t, r.Exists(id))

	var wg sync.WaitGroup
	claimed := make([]bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, claimed[i] = r.Claim(id)
		}(i)
	}
	wg.Wait()

	assert.NotEqual(t, claimed[0], claimed[1], "exactly one claim shall succeed")
	assert.False(t, r.Exists(id))
	assert.Equal(t, 0, r.Len())

	_, ok := r.Claim(id)
	assert.False(t, ok)
}

func TestRegistry_ClaimReturnsPayload(t *testing.T) {
	r := New(time.Minute)
	defer r.Close()

	input := map[string]interface{}{"q": "1"}
	id := r.Create("<p>app</p>", input, nil)

	payload, ok := r.Claim(id)
	require.True(t, ok)
	assert.Equal(t, "<p>app</p>", payload.HTML)
	assert.Equal(t, input, payload.ToolInput)
	assert.Nil(t, payload.ToolResult)
	assert.False(t, payload.CreatedAt.IsZero())
}

func TestRegistry_ClaimUnknown(t *testing.T) {
	r := New(time.Minute)
	defer r.Close()
	_, ok := r.Claim("no-such-session")
	assert.False(t, ok)
}

func TestRegistry_Expire(t *testing.T) {
	r := New(time.Minute)
	defer r.Close()

	stale := r.Create("<p>stale</p>", nil, nil)
	fresh := r.Create("<p>fresh</p>", nil, nil)

	r.mu.Lock()
	p := r.sessions[stale]
	p.CreatedAt = time.Now().Add(-2 * time.Minute)
	r.sessions[stale] = p
	r.mu.Unlock()

	r.expire(time.Now())

	assert.False(t, r.Exists(stale))
	assert.True(t, r.Exists(fresh))
}
