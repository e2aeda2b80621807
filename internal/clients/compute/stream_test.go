package compute

import (
	"net/http"
	"strings"
	"testing"

	"github.com/aristath/arena/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadStream(t *testing.T) {
	body := strings.Join([]string{
		`: keep-alive`,
		`data: {"id":"s-1","choices":[{"delta":{"content":"Buy "}}]}`,
		``,
		`data: {"id":"s-1","choices":[{"delta":{"content":"the dip"}}]}`,
		`data: {"id":"s-1","choices":[{"delta":{}}],"usage":{"completion_tokens":4,"total_tokens":20}}`,
		`data: [DONE]`,
		`data: {"id":"s-1","choices":[{"delta":{"content":"ignored"}}]}`,
	}, "\n")

	var chunks []string
	parsed, err := readStream(strings.NewReader(body), nil, func(c string) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Buy ", "the dip"}, chunks)
	assert.Equal(t, "Buy the dip", parsed.Text)
	assert.Equal(t, ShapeStream, parsed.Shape)
	assert.Equal(t, "s-1", parsed.Token)
	assert.Equal(t, int64(4), parsed.CompletionTokens)
}

func TestReadStream_HeaderToken(t *testing.T) {
	h := http.Header{}
	h.Set(ResponseKeyHeader, "from-header")

	parsed, err := readStream(strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n"), h, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-header", parsed.Token)
	assert.Equal(t, "x", parsed.Text)
}

func TestReadStream_MalformedChunk(t *testing.T) {
	_, err := readStream(strings.NewReader("data: {not json\n"), nil, nil)
	require.Error(t, err)
	assert.True(t, domain.IsReason(err, domain.ReasonMalformedInference))
}

func TestReadStream_LateChatID(t *testing.T) {
	body := strings.Join([]string{
		`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
		`data: {"id":"chat-42","choices":[{"delta":{"content":"Sell rallies"}}]}`,
		`data: {"id":"chat-43","choices":[{"delta":{"content":"."}}]}`,
		`data: [DONE]`,
	}, "\n")

	parsed, err := readStream(strings.NewReader(body), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "chat-42", parsed.Token)
	assert.Equal(t, "Sell rallies.", parsed.Text)
}
