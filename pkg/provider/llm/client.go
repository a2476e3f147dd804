package llm

import (
	"context"
	"fmt"
	"sync"
)

// Slot selects which of the client's two model slots serves a request.
type Slot int

const (
	// SlotLite is the fast, cheap model used for intent classification and
	// structured extraction.
	SlotLite Slot = iota

	// SlotThink is the stronger model used for long-form generation.
	SlotThink
)

// Client drives the two model slots and owns the conversation cache. It is
// the single LLM surface the session and the intent recognizer talk to.
// Safe for concurrent use.
type Client struct {
	lite   Provider
	think  Provider
	memory *MemoryCache

	mu     sync.Mutex
	active map[*streamRun]struct{}
	closed bool
}

// streamRun pairs a processor with the context cancel that tears its
// provider stream down.
type streamRun struct {
	proc   *StreamProcessor
	cancel context.CancelFunc
}

// ClientOption is a functional option for NewClient.
type ClientOption func(*Client)

// WithMemory injects a conversation cache instead of the default three-turn
// cache.
func WithMemory(m *MemoryCache) ClientOption {
	return func(c *Client) { c.memory = m }
}

// NewClient creates a Client over the given providers. think may equal lite
// when only one model is configured.
func NewClient(lite, think Provider, opts ...ClientOption) *Client {
	c := &Client{
		lite:   lite,
		think:  think,
		active: make(map[*streamRun]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.memory == nil {
		c.memory = NewMemoryCache(DefaultMemoryTurns)
	}
	return c
}

// Memory returns the conversation cache.
func (c *Client) Memory() *MemoryCache { return c.memory }

// provider resolves a slot to its Provider.
func (c *Client) provider(slot Slot) Provider {
	if slot == SlotThink {
		return c.think
	}
	return c.lite
}

// Query performs a blocking completion against the given slot. When
// withHistory is true the conversation cache is flattened into the message
// list ahead of the user text.
func (c *Client) Query(ctx context.Context, slot Slot, text, systemPrompt string, withHistory bool) (string, error) {
	var messages []Message
	if withHistory {
		messages = c.memory.History()
	}
	messages = append(messages, UserMessage(text))

	resp, err := c.provider(slot).Complete(ctx, CompletionRequest{
		Messages:     messages,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("llm: query: %w", err)
	}
	return resp.Content, nil
}

// StreamRequest describes one streaming generation turn.
type StreamRequest struct {
	// Text is the raw user utterance, recorded into the conversation cache
	// when the turn completes.
	Text string

	// UserPrompt is the message actually sent to the model. Empty means
	// send Text as-is.
	UserPrompt string

	// SystemPrompt is the per-turn system instruction.
	SystemPrompt string

	// Language tags the output language for sentence chunking.
	Language string
}

// QueryStream runs a streaming generation turn against the think slot,
// feeding tokens and sentence chunks to hooks. It blocks until the stream
// completes, the client is stopped, or ctx is cancelled. On successful
// completion the (Text, full reply) pair is appended to the conversation
// cache.
func (c *Client) QueryStream(ctx context.Context, req StreamRequest, hooks StreamHooks) error {
	userPrompt := req.UserPrompt
	if userPrompt == "" {
		userPrompt = req.Text
	}

	messages := append(c.memory.History(), UserMessage(userPrompt))

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	chunks, err := c.provider(SlotThink).StreamCompletion(streamCtx, CompletionRequest{
		Messages:     messages,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		return fmt.Errorf("llm: start stream: %w", err)
	}

	proc := NewStreamProcessor(req.Language, hooks)
	run := &streamRun{proc: proc, cancel: cancel}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		for range chunks {
		}
		return ErrStopped
	}
	c.active[run] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.active, run)
		c.mu.Unlock()
	}()

	full, err := proc.Run(chunks)
	if err != nil {
		return err
	}

	c.memory.Append(req.Text, full)
	return nil
}

// Stop cancels every active streaming turn. In-flight chunk callbacks may be
// observed, but no tokens are produced after Stop returns.
func (c *Client) Stop() {
	c.mu.Lock()
	runs := make([]*streamRun, 0, len(c.active))
	for run := range c.active {
		runs = append(runs, run)
	}
	c.mu.Unlock()

	for _, run := range runs {
		run.proc.Stop()
		run.cancel()
	}
}

// Close stops all active turns and clears the conversation cache. The
// client must not be used afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.Stop()
	c.memory.Clear()
	return nil
}
