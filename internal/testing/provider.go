package testing

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockProvider is an OpenAI compatible chat completions endpoint for tests
type MockProvider struct {
	*httptest.Server

	mu       sync.Mutex
	content  string
	status   int
	requests []map[string]interface{}
}

// NewMockProvider starts a provider answering every completion with content.
// The server is closed when the test ends.
func NewMockProvider(t *testing.T, content string) *MockProvider {
	t.Helper()
	m := &MockProvider{content: content, status: http.StatusOK}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handle))
	t.Cleanup(m.Server.Close)
	return m
}

// SetStatus makes subsequent requests fail with status
func (m *MockProvider) SetStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// Requests returns the decoded request bodies received so far
func (m *MockProvider) Requests() []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]interface{}, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockProvider) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/chat/completions" {
		http.NotFound(w, r)
		return
	}

	var body map[string]interface{}
	raw, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(raw, &body)

	m.mu.Lock()
	m.requests = append(m.requests, body)
	status, content := m.status, m.content
	n := len(m.requests)
	m.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, "provider unavailable", status)
		return
	}

	reply := map[string]interface{}{
		"id": fmt.Sprintf("chat-%d", n),
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
		"usage": map[string]int{"total_tokens": 42},
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(reply)
}
