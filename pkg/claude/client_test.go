package claude

import (
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
)

func TestFromSDKMessageConcatenatesTextBlocks(t *testing.T) {
	msg := &sdk.Message{
		ID:    "msg_1",
		Model: "claude-haiku-4-5-20251001",
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "part one "},
			{Type: "thinking"},
			{Type: "text", Text: "part two"},
		},
	}
	got := fromSDKMessage(msg)
	assert.Equal(t, "part one part two", got.Text)
	assert.Equal(t, "msg_1", got.ID)
}

func TestNewClientWithoutThrottle(t *testing.T) {
	c := NewClient(Config{APIKey: "test-key"})
	sc, ok := c.(*sdkClient)
	assert.True(t, ok)
	assert.Nil(t, sc.limiter)
}

func TestNewClientWithThrottle(t *testing.T) {
	c := NewClient(Config{APIKey: "test-key", RequestsPerSecond: 2})
	sc := c.(*sdkClient)
	assert.NotNil(t, sc.limiter)
}
