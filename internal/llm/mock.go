package llm

import (
	"context"
	"sync/atomic"
)

// MockClient is a test double for Client.
type MockClient struct {
	ProviderName string
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	StreamFunc   func(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)

	calls atomic.Int64
}

func (m *MockClient) Name() string { return m.ProviderName }

// Calls reports how many Complete and Stream calls the mock has served.
func (m *MockClient) Calls() int64 { return m.calls.Load() }

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.calls.Add(1)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &CompletionResponse{Content: "mock response", Model: req.Model}, nil
}

func (m *MockClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	m.calls.Add(1)
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, req)
	}
	ch := make(chan StreamEvent, 3)
	ch <- StreamEvent{Type: EventDelta, Content: "mock "}
	ch <- StreamEvent{Type: EventDelta, Content: "stream response"}
	ch <- StreamEvent{
		Type:     EventDone,
		Response: &CompletionResponse{Content: "mock stream response", Model: req.Model},
	}
	close(ch)
	return ch, nil
}

// StreamText returns a closed channel that replays chunks as deltas followed
// by a done event carrying resp. Handy for building StreamFunc fakes.
func StreamText(resp *CompletionResponse, chunks ...string) <-chan StreamEvent {
	ch := make(chan StreamEvent, len(chunks)+1)
	for _, c := range chunks {
		ch <- StreamEvent{Type: EventDelta, Content: c}
	}
	ch <- StreamEvent{Type: EventDone, Response: resp}
	close(ch)
	return ch
}
