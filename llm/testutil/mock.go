// Package testutil provides test doubles for the llm package.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/icl/llm"
)

// Reply is one scripted answer.
type Reply struct {
	// Text is returned when Err is nil.
	Text string

	// Err is returned instead of Text.
	Err error

	// Block waits for the context to be cancelled and returns its error.
	Block bool
}

// Call records one Prompt invocation.
type Call struct {
	Prompt  string
	Options llm.Options
}

// MockLLMClient is a thread-safe scripted llm.Client.
//
// Usage:
//
//	mock := &MockLLMClient{
//	    Replies: []Reply{
//	        {Text: "not json"},
//	        {Text: "```json\n{\"ok\": true}\n```"},
//	    },
//	}
//
// Once the script runs out, Default is returned.
type MockLLMClient struct {
	mu      sync.Mutex
	Replies []Reply
	Default Reply

	// OnCall runs before the reply is chosen, with the 1-based call number.
	OnCall func(n int, call Call)

	calls []Call
	next  int
}

// Text builds a mock that returns each string in order.
func Text(replies ...string) *MockLLMClient {
	m := &MockLLMClient{}
	for _, r := range replies {
		m.Replies = append(m.Replies, Reply{Text: r})
	}
	return m
}

// Prompt implements llm.Client.
func (m *MockLLMClient) Prompt(ctx context.Context, text string, opts llm.Options) (string, error) {
	m.mu.Lock()
	call := Call{Prompt: text, Options: opts}
	m.calls = append(m.calls, call)
	n := len(m.calls)
	reply := m.Default
	if m.next < len(m.Replies) {
		reply = m.Replies[m.next]
		m.next++
	}
	hook := m.OnCall
	m.mu.Unlock()

	if hook != nil {
		hook(n, call)
	}
	if reply.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if reply.Err != nil {
		return "", reply.Err
	}
	return reply.Text, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockLLMClient) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// GetCallCount returns the number of times Prompt was called.
func (m *MockLLMClient) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Remaining returns how many scripted replies have not been consumed.
func (m *MockLLMClient) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Replies) - m.next
}

// Reset clears recorded calls and rewinds the script.
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.next = 0
}
