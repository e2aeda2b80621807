package compute

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aristath/arena/internal/domain"
)

const (
	sseDataPrefix = "data:"
	sseDone       = "[DONE]"
	maxStreamLine = 1024 * 1024
)

// readStream consumes an SSE chat completion stream, calling onChunk for
// every content delta. The stream ends at "data: [DONE]" or EOF.
func readStream(body io.Reader, header http.Header, onChunk func(string)) (*ParsedResponse, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxStreamLine)

	var text strings.Builder
	var chatID string
	var usage json.RawMessage
	var confidence *float64

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
		if payload == sseDone {
			break
		}

		var chunk rawResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return nil, domain.WrapError(domain.KindProvider, domain.ReasonMalformedInference, err,
				fmt.Sprintf("malformed stream chunk %q", truncate(payload, 80)))
		}

		// Opening chunks often carry only the role; the id can arrive later
		if chatID == "" {
			chatID = correlationToken(nil, chunk.ChatID, chunk.ChatIDSnake, chunk.ID)
		}
		if len(chunk.Usage) > 0 && string(chunk.Usage) != "null" {
			usage = chunk.Usage
		}
		if chunk.Confidence != nil {
			c := *chunk.Confidence
			confidence = &c
		}

		content := chunkContent(chunk)
		if content == "" {
			continue
		}
		text.WriteString(content)
		if onChunk != nil {
			onChunk(content)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, domain.WrapError(domain.KindProvider, domain.ReasonInferenceProvider, err, "stream read failed")
	}

	parsed := &ParsedResponse{
		Shape:            ShapeStream,
		Text:             text.String(),
		Token:            correlationToken(header, chatID),
		Usage:            usage,
		CompletionTokens: completionTokens(usage),
	}
	if confidence != nil && *confidence >= 0 && *confidence <= 1 {
		parsed.Confidence = confidence
	}
	return parsed, nil
}

func chunkContent(chunk rawResponse) string {
	if len(chunk.Choices) == 0 {
		return ""
	}
	c := chunk.Choices[0]
	switch {
	case c.Delta != nil:
		return c.Delta.Content
	case c.Message != nil:
		return c.Message.Content
	case c.Text != nil:
		return *c.Text
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
