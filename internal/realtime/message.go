package realtime

import (
	"errors"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/slateworks/slate/internal/board"
)

// MessageType discriminates wire messages. The same envelope carries both
// inbound edit intents and confirmed outbound events; exactly one semantic
// payload section is populated per type.
type MessageType string

const (
	// MessageTypeShapeCreate requests or confirms a shape creation.
	MessageTypeShapeCreate MessageType = "shape-create"
	// MessageTypeShapeUpdate requests or confirms a partial shape update.
	MessageTypeShapeUpdate MessageType = "shape-update"
	// MessageTypeShapeDelete requests or confirms a shape deletion.
	MessageTypeShapeDelete MessageType = "shape-delete"
	// MessageTypeUserJoin announces a user joining the board session.
	MessageTypeUserJoin MessageType = "user-join"
	// MessageTypeUserLeave announces a user leaving the board session.
	MessageTypeUserLeave MessageType = "user-leave"
	// MessageTypeCursorMove carries an ephemeral pointer position.
	MessageTypeCursorMove MessageType = "cursor-move"
)

// ErrMalformedIntent indicates an intent missing required fields for its
// declared type. Malformed intents are rejected before touching the store.
var ErrMalformedIntent = errors.New("realtime: malformed intent")

// Cursor is the wire form of a pointer position.
type Cursor struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Message is the wire envelope for intents and events.
type Message struct {
	Type                MessageType    `json:"type"`
	BoardID             string         `json:"board_id"`
	ShapeID             string         `json:"shape_id,omitempty"`
	ShapeKind           string         `json:"shape_kind,omitempty"`
	ShapeAttributes     map[string]any `json:"shape_attributes,omitempty"`
	LayerOrder          *int           `json:"layer_order,omitempty"`
	UserID              string         `json:"user_id,omitempty"`
	UserDisplayIdentity string         `json:"user_display_identity,omitempty"`
	Cursor              *Cursor        `json:"cursor,omitempty"`
	Timestamp           int64          `json:"timestamp,omitempty"`
}

// ValidateIntent checks the per-type required fields for an inbound client
// intent. Presence events are emitted by the server from connection
// lifecycle and are never accepted as intents. A shape-create may omit the
// attributes section entirely: empty attribute maps are dropped from the
// wire encoding, and the store persists them as an empty record either way.
func ValidateIntent(message Message) error {
	switch message.Type {
	case MessageTypeShapeCreate:
		err := validation.ValidateStruct(&message,
			validation.Field(&message.BoardID, validation.Required),
			validation.Field(&message.ShapeKind, validation.Required, validation.By(validShapeKind)),
		)
		return wrapMalformed(err)
	case MessageTypeShapeUpdate:
		err := validation.ValidateStruct(&message,
			validation.Field(&message.BoardID, validation.Required),
			validation.Field(&message.ShapeID, validation.Required),
		)
		if err != nil {
			return wrapMalformed(err)
		}
		if message.ShapeAttributes == nil && message.LayerOrder == nil {
			return fmt.Errorf("%w: shape-update carries neither attributes nor layer order", ErrMalformedIntent)
		}
		return nil
	case MessageTypeShapeDelete:
		err := validation.ValidateStruct(&message,
			validation.Field(&message.BoardID, validation.Required),
			validation.Field(&message.ShapeID, validation.Required),
		)
		return wrapMalformed(err)
	case MessageTypeCursorMove:
		err := validation.ValidateStruct(&message,
			validation.Field(&message.BoardID, validation.Required),
			validation.Field(&message.Cursor, validation.NotNil),
		)
		return wrapMalformed(err)
	default:
		return fmt.Errorf("%w: unknown intent type %q", ErrMalformedIntent, message.Type)
	}
}

func validShapeKind(value interface{}) error {
	raw, _ := value.(string)
	if _, err := board.ParseShapeKind(raw); err != nil {
		return errors.New("unknown shape kind")
	}
	return nil
}

func wrapMalformed(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrMalformedIntent, err)
}
