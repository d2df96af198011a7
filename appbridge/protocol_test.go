package appbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	testCases := []struct {
		description string
		data        string
		expectType  string
		expectCall  bool
		expectErr   bool
	}{
		{
			description: "call-server-tool",
			data:        `{"type":"call-server-tool","id":"7","tool":"get_weather","arguments":{"city":"Paris"}}`,
			expectType:  MessageCallServerTool,
			expectCall:  true,
		},
		{
			description: "call-server-tool without arguments",
			data:        `{"type":"call-server-tool","id":"1","tool":"refresh"}`,
			expectType:  MessageCallServerTool,
			expectCall:  true,
		},
		{
			description: "call-server-tool missing id",
			data:        `{"type":"call-server-tool","tool":"get_weather"}`,
			expectErr:   true,
		},
		{
			description: "unknown type decodes with nil variants",
			data:        `{"type":"ping"}`,
			expectType:  "ping",
		},
		{
			description: "malformed json",
			data:        `{"type":`,
			expectErr:   true,
		},
	}

	for _, testCase := range testCases {
		msg, err := DecodeMessage([]byte(testCase.data))
		if testCase.expectErr {
			assert.Error(t, err, testCase.description)
			continue
		}
		require.NoError(t, err, testCase.description)
		assert.Equal(t, testCase.expectType, msg.Type, testCase.description)
		if testCase.expectCall {
			require.NotNil(t, msg.CallServerTool, testCase.description)
			assert.NotEmpty(t, msg.CallServerTool.Id, testCase.description)
			assert.NotEmpty(t, msg.CallServerTool.Tool, testCase.description)
		} else {
			assert.Nil(t, msg.CallServerTool, testCase.description)
		}
	}
}
