package client

import (
	"errors"
	"testing"
	"time"

	"github.com/slateworks/slate/internal/realtime"
)

func TestCreateRendersProvisionalThenConfirmsWithoutDuplicate(t *testing.T) {
	fixture := newEngineFixture(t)

	handle := mustCreateShape(t, fixture.engine, "rectangle", map[string]any{"x": 10.0, "y": 10.0})

	shapes := fixture.engine.Shapes()
	if len(shapes) != 1 {
		t.Fatalf("expected one provisional shape, got %d", len(shapes))
	}
	if shapes[0].Status != ShapeStatusProvisional || shapes[0].ShapeID != "" {
		t.Fatalf("expected provisional shape without server id, got %+v", shapes[0])
	}

	fixture.engine.ApplyEvent(confirmEcho("shape-0001", "rectangle", "alice",
		map[string]any{"x": 10.0, "y": 10.0}, 0))

	shapes = fixture.engine.Shapes()
	if len(shapes) != 1 {
		t.Fatalf("expected confirmation without duplicate, got %d shapes", len(shapes))
	}
	if shapes[0].Status != ShapeStatusConfirmed || shapes[0].ShapeID != "shape-0001" {
		t.Fatalf("expected confirmed shape-0001, got %+v", shapes[0])
	}
	if shapes[0].Handle != handle {
		t.Fatalf("expected handle %q to survive confirmation, got %q", handle, shapes[0].Handle)
	}
}

func TestForeignCreateAddsConfirmedShape(t *testing.T) {
	fixture := newEngineFixture(t)

	fixture.engine.ApplyEvent(confirmEcho("shape-0009", "circle", "bob",
		map[string]any{"radius": 30.0}, 0))

	shapes := fixture.engine.Shapes()
	if len(shapes) != 1 || shapes[0].Status != ShapeStatusConfirmed {
		t.Fatalf("expected one confirmed shape, got %+v", shapes)
	}
	if shapes[0].ShapeID != "shape-0009" {
		t.Fatalf("expected shape-0009, got %q", shapes[0].ShapeID)
	}
}

func TestDuplicateCreateEventIsIgnored(t *testing.T) {
	fixture := newEngineFixture(t)

	echo := confirmEcho("shape-0009", "circle", "bob", map[string]any{"radius": 30.0}, 0)
	fixture.engine.ApplyEvent(echo)
	fixture.engine.ApplyEvent(echo)

	if shapes := fixture.engine.Shapes(); len(shapes) != 1 {
		t.Fatalf("expected one shape after duplicate event, got %d", len(shapes))
	}
}

func TestOwnUpdateEchoIsSuppressed(t *testing.T) {
	fixture := newEngineFixture(t)

	handle := mustCreateShape(t, fixture.engine, "rectangle", map[string]any{"x": 0.0})
	fixture.engine.ApplyEvent(confirmEcho("shape-0001", "rectangle", "alice", map[string]any{"x": 0.0}, 0))

	if err := fixture.engine.UpdateShape(handle, map[string]any{"x": 50.0}, nil); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}
	// A newer local edit lands before the first echo returns.
	if err := fixture.engine.UpdateShape(handle, map[string]any{"x": 75.0}, nil); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}

	// The echo of the first update carries the stale x=50 state and must
	// not clobber the newer local x=75.
	layer := 0
	fixture.engine.ApplyEvent(realtime.Message{
		Type:            realtime.MessageTypeShapeUpdate,
		BoardID:         "board-1",
		ShapeID:         "shape-0001",
		ShapeAttributes: map[string]any{"x": 50.0},
		LayerOrder:      &layer,
		UserID:          "alice",
	})

	shape, ok := fixture.engine.Shape(handle)
	if !ok {
		t.Fatalf("shape vanished")
	}
	if shape.Attributes["x"] != 75.0 {
		t.Fatalf("expected suppressed echo to leave x=75, got %v", shape.Attributes["x"])
	}
}

func TestExpiredSuppressionEntryDoesNotMaskForeignState(t *testing.T) {
	fixture := newEngineFixture(t)

	handle := mustCreateShape(t, fixture.engine, "rectangle", map[string]any{"x": 0.0})
	fixture.engine.ApplyEvent(confirmEcho("shape-0001", "rectangle", "alice", map[string]any{"x": 0.0}, 0))

	if err := fixture.engine.UpdateShape(handle, map[string]any{"x": 50.0}, nil); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}

	fixture.clock.Advance(5 * time.Second)

	fixture.engine.ApplyEvent(realtime.Message{
		Type:            realtime.MessageTypeShapeUpdate,
		BoardID:         "board-1",
		ShapeID:         "shape-0001",
		ShapeAttributes: map[string]any{"x": 50.0, "fill": "blue"},
		UserID:          "alice",
	})

	shape, _ := fixture.engine.Shape(handle)
	if shape.Attributes["fill"] != "blue" {
		t.Fatalf("expected late echo to apply after window expiry, got %v", shape.Attributes)
	}
}

func TestForeignUpdateReplacesAttributes(t *testing.T) {
	fixture := newEngineFixture(t)

	fixture.engine.ApplyEvent(confirmEcho("shape-0002", "sticky-note", "bob",
		map[string]any{"x": 1.0, "text": "hello"}, 0))

	fixture.engine.ApplyEvent(realtime.Message{
		Type:            realtime.MessageTypeShapeUpdate,
		BoardID:         "board-1",
		ShapeID:         "shape-0002",
		ShapeAttributes: map[string]any{"x": 1.0, "text": "hello", "fill": "yellow"},
		UserID:          "bob",
	})

	shapes := fixture.engine.Shapes()
	if shapes[0].Attributes["fill"] != "yellow" || shapes[0].Attributes["text"] != "hello" {
		t.Fatalf("expected merged server state, got %v", shapes[0].Attributes)
	}
}

func TestUpdateBeforeConfirmationIsHeldThenSent(t *testing.T) {
	fixture := newEngineFixture(t)

	handle := mustCreateShape(t, fixture.engine, "rectangle", map[string]any{"x": 0.0})
	if err := fixture.engine.UpdateShape(handle, map[string]any{"fill": "red"}, nil); err != nil {
		t.Fatalf("unexpected update error: %v", err)
	}

	// Only the create has gone out so far.
	if sent := fixture.transport.messages(); len(sent) != 1 || sent[0].Type != realtime.MessageTypeShapeCreate {
		t.Fatalf("expected held patch before confirmation, sent %v", sent)
	}

	fixture.engine.ApplyEvent(confirmEcho("shape-0001", "rectangle", "alice", map[string]any{"x": 0.0}, 0))

	last := fixture.transport.lastMessage(t)
	if last.Type != realtime.MessageTypeShapeUpdate || last.ShapeID != "shape-0001" {
		t.Fatalf("expected held patch sent on confirmation, got %+v", last)
	}
	if last.ShapeAttributes["fill"] != "red" {
		t.Fatalf("expected held fill patch, got %v", last.ShapeAttributes)
	}

	shape, _ := fixture.engine.Shape(handle)
	if shape.Attributes["fill"] != "red" {
		t.Fatalf("expected local patch to survive confirmation, got %v", shape.Attributes)
	}
}

func TestDeleteBeforeConfirmationRemovesServerCopy(t *testing.T) {
	fixture := newEngineFixture(t)

	handle := mustCreateShape(t, fixture.engine, "circle", map[string]any{})
	if err := fixture.engine.DeleteShape(handle); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if len(fixture.engine.Shapes()) != 0 {
		t.Fatalf("expected empty mirror after provisional delete")
	}

	fixture.engine.ApplyEvent(confirmEcho("shape-0001", "circle", "alice", map[string]any{}, 0))

	// No ghost reappears and the server copy is cleaned up.
	if len(fixture.engine.Shapes()) != 0 {
		t.Fatalf("expected no ghost after deferred delete")
	}
	last := fixture.transport.lastMessage(t)
	if last.Type != realtime.MessageTypeShapeDelete || last.ShapeID != "shape-0001" {
		t.Fatalf("expected deferred delete intent, got %+v", last)
	}
}

// With two same-kind creates in flight, deleting the first one must not
// hand its echo to the second: the first echo finishes the removal and the
// second echo confirms the survivor under its own id and attributes.
func TestDeleteOfFirstInFlightCreateDoesNotStealSecondEcho(t *testing.T) {
	fixture := newEngineFixture(t)

	first := mustCreateShape(t, fixture.engine, "rectangle", map[string]any{"x": 1.0})
	second := mustCreateShape(t, fixture.engine, "rectangle", map[string]any{"x": 2.0})
	if err := fixture.engine.DeleteShape(first); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}

	fixture.engine.ApplyEvent(confirmEcho("shape-0001", "rectangle", "alice", map[string]any{"x": 1.0}, 0))

	last := fixture.transport.lastMessage(t)
	if last.Type != realtime.MessageTypeShapeDelete || last.ShapeID != "shape-0001" {
		t.Fatalf("expected deferred delete for the first echo, got %+v", last)
	}
	survivor, ok := fixture.engine.Shape(second)
	if !ok {
		t.Fatalf("expected the second provisional to survive")
	}
	if survivor.Status != ShapeStatusProvisional {
		t.Fatalf("expected the survivor to stay provisional, got %v", survivor.Status)
	}

	fixture.engine.ApplyEvent(confirmEcho("shape-0002", "rectangle", "alice", map[string]any{"x": 2.0}, 1))

	survivor, ok = fixture.engine.Shape(second)
	if !ok {
		t.Fatalf("expected the survivor after confirmation")
	}
	if survivor.Status != ShapeStatusConfirmed || survivor.ShapeID != "shape-0002" {
		t.Fatalf("expected the survivor confirmed as shape-0002, got %+v", survivor)
	}
	if survivor.Attributes["x"] != 2.0 {
		t.Fatalf("expected the survivor to keep its own attributes, got %v", survivor.Attributes)
	}
	if shapes := fixture.engine.Shapes(); len(shapes) != 1 {
		t.Fatalf("expected exactly one mirrored shape, got %d", len(shapes))
	}
}

func TestDeleteEventIsIdempotent(t *testing.T) {
	fixture := newEngineFixture(t)

	fixture.engine.ApplyEvent(confirmEcho("shape-0003", "line", "bob", map[string]any{}, 0))
	deleteEvent := realtime.Message{
		Type:    realtime.MessageTypeShapeDelete,
		BoardID: "board-1",
		ShapeID: "shape-0003",
		UserID:  "bob",
	}
	fixture.engine.ApplyEvent(deleteEvent)
	fixture.engine.ApplyEvent(deleteEvent)

	if len(fixture.engine.Shapes()) != 0 {
		t.Fatalf("expected empty mirror after delete events")
	}
}

func TestUnknownHandleOperationsFail(t *testing.T) {
	fixture := newEngineFixture(t)

	if err := fixture.engine.UpdateShape("handle-none", map[string]any{"x": 1.0}, nil); !errors.Is(err, ErrUnknownShape) {
		t.Fatalf("expected unknown shape error, got %v", err)
	}
	if err := fixture.engine.DeleteShape("handle-none"); !errors.Is(err, ErrUnknownShape) {
		t.Fatalf("expected unknown shape error, got %v", err)
	}
}

func TestCursorSendsAreThrottled(t *testing.T) {
	fixture := newEngineFixture(t)

	for x := 0; x < 10; x++ {
		if err := fixture.engine.MoveCursor(float64(x), 0); err != nil {
			t.Fatalf("unexpected cursor error: %v", err)
		}
	}

	sent := fixture.transport.messages()
	if len(sent) != 1 {
		t.Fatalf("expected one throttled cursor send, got %d", len(sent))
	}
	if sent[0].Cursor.X != 0 {
		t.Fatalf("expected first position sent immediately, got %v", sent[0].Cursor)
	}

	// The final drag position goes out once the interval passes.
	fixture.clock.Advance(100 * time.Millisecond)
	if err := fixture.engine.FlushCursor(); err != nil {
		t.Fatalf("unexpected flush error: %v", err)
	}
	last := fixture.transport.lastMessage(t)
	if last.Type != realtime.MessageTypeCursorMove || last.Cursor.X != 9 {
		t.Fatalf("expected queued final position x=9, got %+v", last)
	}
}

func TestRemoteCursorsDecayWhileRosterPersists(t *testing.T) {
	fixture := newEngineFixture(t)

	fixture.engine.ApplyEvent(realtime.Message{
		Type:                realtime.MessageTypeUserJoin,
		BoardID:             "board-1",
		UserID:              "bob",
		UserDisplayIdentity: "bob@example.com",
	})
	fixture.engine.ApplyEvent(realtime.Message{
		Type:    realtime.MessageTypeCursorMove,
		BoardID: "board-1",
		UserID:  "bob",
		Cursor:  &realtime.Cursor{X: 5, Y: 5},
	})

	if cursors := fixture.engine.Cursors(); len(cursors) != 1 {
		t.Fatalf("expected bob's cursor visible, got %v", cursors)
	}

	fixture.clock.Advance(10 * time.Second)

	if cursors := fixture.engine.Cursors(); len(cursors) != 0 {
		t.Fatalf("expected cursor to decay, got %v", cursors)
	}
	members := fixture.engine.Members()
	if len(members) != 1 || members[0].UserID != "bob" {
		t.Fatalf("expected bob to stay on roster, got %v", members)
	}
}

func TestOwnCursorEchoIsIgnored(t *testing.T) {
	fixture := newEngineFixture(t)

	fixture.engine.ApplyEvent(realtime.Message{
		Type:    realtime.MessageTypeCursorMove,
		BoardID: "board-1",
		UserID:  "alice",
		Cursor:  &realtime.Cursor{X: 1, Y: 1},
	})

	if cursors := fixture.engine.Cursors(); len(cursors) != 0 {
		t.Fatalf("expected no self cursor, got %v", cursors)
	}
}

func TestClearBoardSendsOneDeletePerConfirmedShape(t *testing.T) {
	fixture := newEngineFixture(t)

	fixture.engine.ApplyEvent(confirmEcho("shape-0001", "rectangle", "bob", map[string]any{}, 0))
	fixture.engine.ApplyEvent(confirmEcho("shape-0002", "circle", "bob", map[string]any{}, 1))

	if err := fixture.engine.ClearBoard(); err != nil {
		t.Fatalf("unexpected clear error: %v", err)
	}
	if len(fixture.engine.Shapes()) != 0 {
		t.Fatalf("expected empty mirror after clear")
	}

	deletes := 0
	for _, message := range fixture.transport.messages() {
		if message.Type == realtime.MessageTypeShapeDelete {
			deletes++
		}
	}
	if deletes != 2 {
		t.Fatalf("expected two delete intents, got %d", deletes)
	}
}

func TestInsertTemplateCreatesProvisionalArrangement(t *testing.T) {
	fixture := newEngineFixture(t)

	handles, err := fixture.engine.InsertTemplate(TemplateBrainstorming, 0, 0)
	if err != nil {
		t.Fatalf("unexpected template error: %v", err)
	}
	if len(handles) != 15 {
		t.Fatalf("expected 15 shapes for three kanban columns, got %d", len(handles))
	}

	shapes := fixture.engine.Shapes()
	if len(shapes) != 15 {
		t.Fatalf("expected 15 provisional shapes, got %d", len(shapes))
	}
	for _, shape := range shapes {
		if shape.Status != ShapeStatusProvisional {
			t.Fatalf("expected provisional shapes, got %+v", shape)
		}
	}
	if len(fixture.transport.messages()) != 15 {
		t.Fatalf("expected one create intent per template shape")
	}

	if _, err := fixture.engine.InsertTemplate("org-chart", 0, 0); !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("expected unknown template error, got %v", err)
	}
}

func TestLoadSnapshotReplacesMirror(t *testing.T) {
	fixture := newEngineFixture(t)

	mustCreateShape(t, fixture.engine, "rectangle", map[string]any{"x": 1.0})
	fixture.engine.ApplyEvent(confirmEcho("shape-0008", "circle", "bob", map[string]any{}, 0))

	fixture.engine.LoadSnapshot(Snapshot{
		BoardID: "board-1",
		Shapes: []SnapshotShape{
			{ShapeID: "shape-0100", Kind: "text", Attributes: map[string]any{"text": "hi"}, LayerOrder: 0},
		},
		Members: []RosterMember{{UserID: "carol", DisplayIdentity: "carol@example.com"}},
	})

	shapes := fixture.engine.Shapes()
	if len(shapes) != 1 || shapes[0].ShapeID != "shape-0100" {
		t.Fatalf("expected snapshot to replace mirror, got %+v", shapes)
	}
	if shapes[0].Status != ShapeStatusConfirmed {
		t.Fatalf("expected snapshot shapes confirmed, got %+v", shapes[0])
	}
	members := fixture.engine.Members()
	if len(members) != 1 || members[0].UserID != "carol" {
		t.Fatalf("expected snapshot roster, got %v", members)
	}
}
