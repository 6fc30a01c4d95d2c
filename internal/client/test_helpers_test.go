package client

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/slateworks/slate/internal/realtime"
)

// recordingTransport captures sent intents in order.
type recordingTransport struct {
	mu       sync.Mutex
	sent     []realtime.Message
	failWith error
}

func (t *recordingTransport) Send(message realtime.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failWith != nil {
		return t.failWith
	}
	t.sent = append(t.sent, message)
	return nil
}

func (t *recordingTransport) messages() []realtime.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	copied := make([]realtime.Message, len(t.sent))
	copy(copied, t.sent)
	return copied
}

func (t *recordingTransport) lastMessage(test *testing.T) realtime.Message {
	test.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sent) == 0 {
		test.Fatalf("no messages sent")
	}
	return t.sent[len(t.sent)-1]
}

// manualClock advances only when the test says so.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sequenceHandles struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceHandles) NewHandle() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("handle-%04d", p.next)
}

type engineFixture struct {
	engine    *Engine
	transport *recordingTransport
	clock     *manualClock
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	transport := &recordingTransport{}
	clock := newManualClock()
	engine, err := NewEngine(EngineConfig{
		BoardID:   "board-1",
		UserID:    "alice",
		Transport: transport,
		Clock:     clock.Now,
		Handles:   &sequenceHandles{},
	})
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}
	return &engineFixture{engine: engine, transport: transport, clock: clock}
}

func mustCreateShape(t *testing.T, engine *Engine, kind string, attributes map[string]any) string {
	t.Helper()
	handle, err := engine.CreateShape(kind, attributes, nil)
	if err != nil {
		t.Fatalf("failed to create shape: %v", err)
	}
	return handle
}

func confirmEcho(shapeID, kind, userID string, attributes map[string]any, layerOrder int) realtime.Message {
	layer := layerOrder
	return realtime.Message{
		Type:            realtime.MessageTypeShapeCreate,
		BoardID:         "board-1",
		ShapeID:         shapeID,
		ShapeKind:       kind,
		ShapeAttributes: attributes,
		LayerOrder:      &layer,
		UserID:          userID,
	}
}

func pointerToInt(value int) *int {
	return &value
}
