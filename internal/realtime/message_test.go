package realtime

import (
	"errors"
	"testing"
)

func TestValidateIntentAcceptsWellFormedMessages(t *testing.T) {
	testCases := []struct {
		name    string
		message Message
	}{
		{
			name: "create with kind and attributes",
			message: Message{
				Type:            MessageTypeShapeCreate,
				BoardID:         "board-1",
				ShapeKind:       "rectangle",
				ShapeAttributes: map[string]any{"x": 10.0},
			},
		},
		{
			// Empty attribute maps vanish from the wire encoding, so an
			// attribute-less create must pass as an empty shape.
			name: "create without attributes",
			message: Message{
				Type:      MessageTypeShapeCreate,
				BoardID:   "board-1",
				ShapeKind: "circle",
			},
		},
		{
			name: "update with attribute patch",
			message: Message{
				Type:            MessageTypeShapeUpdate,
				BoardID:         "board-1",
				ShapeID:         "shape-1",
				ShapeAttributes: map[string]any{"fill": "blue"},
			},
		},
		{
			name: "update with layer move only",
			message: Message{
				Type:       MessageTypeShapeUpdate,
				BoardID:    "board-1",
				ShapeID:    "shape-1",
				LayerOrder: pointerToInt(3),
			},
		},
		{
			name: "delete",
			message: Message{
				Type:    MessageTypeShapeDelete,
				BoardID: "board-1",
				ShapeID: "shape-1",
			},
		},
		{
			name: "cursor move",
			message: Message{
				Type:    MessageTypeCursorMove,
				BoardID: "board-1",
				Cursor:  &Cursor{X: 4, Y: 8},
			},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if err := ValidateIntent(testCase.message); err != nil {
				t.Fatalf("expected valid intent, got %v", err)
			}
		})
	}
}

func TestValidateIntentRejectsMalformedMessages(t *testing.T) {
	testCases := []struct {
		name    string
		message Message
	}{
		{
			name:    "create without board",
			message: Message{Type: MessageTypeShapeCreate, ShapeKind: "circle", ShapeAttributes: map[string]any{}},
		},
		{
			name:    "create with unknown kind",
			message: Message{Type: MessageTypeShapeCreate, BoardID: "board-1", ShapeKind: "triangle", ShapeAttributes: map[string]any{}},
		},
		{
			name:    "update without shape id",
			message: Message{Type: MessageTypeShapeUpdate, BoardID: "board-1", ShapeAttributes: map[string]any{"x": 1.0}},
		},
		{
			name:    "update carrying neither patch nor layer",
			message: Message{Type: MessageTypeShapeUpdate, BoardID: "board-1", ShapeID: "shape-1"},
		},
		{
			name:    "delete without shape id",
			message: Message{Type: MessageTypeShapeDelete, BoardID: "board-1"},
		},
		{
			name:    "cursor move without position",
			message: Message{Type: MessageTypeCursorMove, BoardID: "board-1"},
		},
		{
			name:    "join is not a client intent",
			message: Message{Type: MessageTypeUserJoin, BoardID: "board-1", UserID: "user-1"},
		},
		{
			name:    "leave is not a client intent",
			message: Message{Type: MessageTypeUserLeave, BoardID: "board-1", UserID: "user-1"},
		},
		{
			name:    "unknown type",
			message: Message{Type: "shape-paint", BoardID: "board-1"},
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			err := ValidateIntent(testCase.message)
			if !errors.Is(err, ErrMalformedIntent) {
				t.Fatalf("expected malformed intent error, got %v", err)
			}
		})
	}
}
