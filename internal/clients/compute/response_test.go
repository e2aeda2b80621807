package compute

import (
	"net/http"
	"testing"

	"github.com/aristath/arena/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse_Shapes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantShape ResponseShape
		wantText  string
		wantToken string
	}{
		{
			name:      "chat completion",
			body:      `{"id":"cmpl-1","choices":[{"message":{"content":"buy low"}}],"usage":{"completion_tokens":12}}`,
			wantShape: ShapeChatCompletion,
			wantText:  "buy low",
			wantToken: "cmpl-1",
		},
		{
			name:      "zg chat with camel chat id",
			body:      `{"chatID":"chat-9","id":"ignored","choices":[{"message":{"content":"sell high"}}]}`,
			wantShape: ShapeZGChat,
			wantText:  "sell high",
			wantToken: "chat-9",
		},
		{
			name:      "zg chat with snake chat id",
			body:      `{"chat_id":"chat-7","choices":[{"message":{"content":"hold"}}]}`,
			wantShape: ShapeZGChat,
			wantText:  "hold",
			wantToken: "chat-7",
		},
		{
			name:      "text completion",
			body:      `{"id":"t-1","choices":[{"text":"scalp"}]}`,
			wantShape: ShapeTextCompletion,
			wantText:  "scalp",
			wantToken: "t-1",
		},
		{
			name:      "generate",
			body:      `{"response":"grid trade"}`,
			wantShape: ShapeGenerate,
			wantText:  "grid trade",
		},
		{
			name:      "unknown",
			body:      `{"output":{"strategy":"?"}}`,
			wantShape: ShapeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseResponse([]byte(tt.body), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantShape, parsed.Shape)
			assert.Equal(t, tt.wantText, parsed.Text)
			assert.Equal(t, tt.wantToken, parsed.Token)
		})
	}
}

func TestParseResponse_HeaderTokenWins(t *testing.T) {
	h := http.Header{}
	h.Set(ResponseKeyHeader, "hdr-key")

	parsed, err := ParseResponse([]byte(`{"id":"body-id","choices":[{"message":{"content":"x"}}]}`), h)
	require.NoError(t, err)
	assert.Equal(t, "hdr-key", parsed.Token)
}

func TestParseResponse_InvalidJSON(t *testing.T) {
	_, err := ParseResponse([]byte("<html>bad gateway</html>"), nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindProvider))
	assert.True(t, domain.IsReason(err, domain.ReasonMalformedInference))
}

func TestConfidenceScore(t *testing.T) {
	explicit, err := ParseResponse([]byte(`{"choices":[{"message":{"content":"x"}}],"confidence":0.93}`), nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.93, explicit.ConfidenceScore(), 1e-9)

	withUsage, err := ParseResponse([]byte(`{"choices":[{"message":{"content":"x"}}],"usage":{"completion_tokens":5}}`), nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, withUsage.ConfidenceScore(), 1e-9)

	bare, err := ParseResponse([]byte(`{"choices":[{"message":{"content":"x"}}]}`), nil)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, bare.ConfidenceScore(), 1e-9)

	outOfRange, err := ParseResponse([]byte(`{"choices":[{"message":{"content":"x"}}],"confidence":7}`), nil)
	require.NoError(t, err)
	assert.Nil(t, outOfRange.Confidence)
	assert.InDelta(t, 0.5, outOfRange.ConfidenceScore(), 1e-9)
}
