package compute

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/aristath/arena/internal/domain"
)

// ResponseShape tags which provider response layout was recognized
type ResponseShape string

const (
	ShapeChatCompletion ResponseShape = "chat_completion"
	ShapeZGChat         ResponseShape = "zg_chat"
	ShapeTextCompletion ResponseShape = "text_completion"
	ShapeGenerate       ResponseShape = "generate"
	ShapeStream         ResponseShape = "chat_completion_stream"
	ShapeUnknown        ResponseShape = "unknown"
)

// ResponseKeyHeader carries the correlation token on provider responses
const ResponseKeyHeader = "ZG-Res-Key"

// Confidence used when a provider does not report one
const (
	confidenceWithUsage    = 0.8
	confidenceWithoutUsage = 0.5
)

// ParsedResponse is the normalized form of any provider response
type ParsedResponse struct {
	Shape            ResponseShape
	Text             string
	Token            string
	Usage            json.RawMessage
	CompletionTokens int64
	Confidence       *float64
}

type rawMessage struct {
	Content string `json:"content"`
}

type rawChoice struct {
	Message *rawMessage `json:"message"`
	Delta   *rawMessage `json:"delta"`
	Text    *string     `json:"text"`
}

type rawResponse struct {
	ID          string          `json:"id"`
	ChatID      string          `json:"chatID"`
	ChatIDSnake string          `json:"chat_id"`
	Choices     []rawChoice     `json:"choices"`
	Response    *string         `json:"response"`
	Usage       json.RawMessage `json:"usage"`
	Confidence  *float64        `json:"confidence"`
}

type rawUsage struct {
	CompletionTokens int64 `json:"completion_tokens"`
}

// ParseResponse recognizes a provider response body. Bodies that are valid
// JSON but match no known layout parse as ShapeUnknown with no text.
func ParseResponse(body []byte, header http.Header) (*ParsedResponse, error) {
	var raw rawResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, domain.WrapError(domain.KindProvider, domain.ReasonMalformedInference, err, "response is not valid JSON")
	}

	parsed := &ParsedResponse{Shape: ShapeUnknown, Usage: raw.Usage}

	switch {
	case len(raw.Choices) > 0 && raw.Choices[0].Message != nil && (raw.ChatID != "" || raw.ChatIDSnake != ""):
		parsed.Shape = ShapeZGChat
		parsed.Text = raw.Choices[0].Message.Content
	case len(raw.Choices) > 0 && raw.Choices[0].Message != nil:
		parsed.Shape = ShapeChatCompletion
		parsed.Text = raw.Choices[0].Message.Content
	case len(raw.Choices) > 0 && raw.Choices[0].Text != nil:
		parsed.Shape = ShapeTextCompletion
		parsed.Text = *raw.Choices[0].Text
	case raw.Response != nil:
		parsed.Shape = ShapeGenerate
		parsed.Text = *raw.Response
	}

	parsed.Token = correlationToken(header, raw.ChatID, raw.ChatIDSnake, raw.ID)
	parsed.CompletionTokens = completionTokens(raw.Usage)
	if raw.Confidence != nil && *raw.Confidence >= 0 && *raw.Confidence <= 1 {
		c := *raw.Confidence
		parsed.Confidence = &c
	}

	return parsed, nil
}

// ConfidenceScore returns the reported confidence or the usage-based default
func (p *ParsedResponse) ConfidenceScore() float64 {
	if p.Confidence != nil {
		return *p.Confidence
	}
	if p.CompletionTokens > 0 {
		return confidenceWithUsage
	}
	return confidenceWithoutUsage
}

// correlationToken prefers the response header, then body identifiers
func correlationToken(header http.Header, candidates ...string) string {
	if header != nil {
		if v := strings.TrimSpace(header.Get(ResponseKeyHeader)); v != "" {
			return v
		}
	}
	for _, c := range candidates {
		if c != "" {
			return c
		}
	}
	return ""
}

func completionTokens(usage json.RawMessage) int64 {
	if len(usage) == 0 {
		return 0
	}
	var u rawUsage
	if err := json.Unmarshal(usage, &u); err != nil {
		return 0
	}
	return u.CompletionTokens
}
