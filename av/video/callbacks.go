package video

import (
	"sort"
	"sync"
	"time"
)

// CallbackToken identifies a registered callback for later removal.
type CallbackToken uint64

// ObjectReceived describes an object handed to a video handler, usable or not.
type ObjectReceived struct {
	// Timestamp is the presentation timestamp, nil when the object could not
	// be parsed.
	Timestamp *time.Duration

	// When is the local arrival time.
	When time.Time

	// Cached is set for objects served from a relay cache rather than live.
	Cached bool

	GroupID  uint64
	ObjectID uint64

	// Usable is false for objects dropped before reaching the handler.
	Usable bool

	// PublishTimestamp is the sender wall clock, when signalled.
	PublishTimestamp *time.Time
}

// DisplayEvent describes a frame handed to the sink.
type DisplayEvent struct {
	SourceID  string
	VariantID string
	PTS       time.Duration
	Width     int
	When      time.Time
}

// callbackTable is a registry of callbacks keyed by token. Callbacks are
// invoked outside the lock in registration order.
type callbackTable[T any] struct {
	mu        sync.Mutex
	next      CallbackToken
	callbacks map[CallbackToken]func(T)
}

func (c *callbackTable[T]) register(callback func(T)) CallbackToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.callbacks == nil {
		c.callbacks = make(map[CallbackToken]func(T))
	}
	c.next++
	c.callbacks[c.next] = callback
	return c.next
}

func (c *callbackTable[T]) unregister(token CallbackToken) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.callbacks[token]; !ok {
		return false
	}
	delete(c.callbacks, token)
	return true
}

func (c *callbackTable[T]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.callbacks)
}

func (c *callbackTable[T]) fire(value T) {
	c.mu.Lock()
	if len(c.callbacks) == 0 {
		c.mu.Unlock()
		return
	}
	tokens := make([]CallbackToken, 0, len(c.callbacks))
	for token := range c.callbacks {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
	snapshot := make([]func(T), len(tokens))
	for i, token := range tokens {
		snapshot[i] = c.callbacks[token]
	}
	c.mu.Unlock()

	for _, callback := range snapshot {
		callback(value)
	}
}
