package board

import (
	"errors"
	"fmt"
	"strings"
)

// ShapeKind enumerates the supported shape categories.
type ShapeKind string

const (
	// ShapeKindRectangle is an axis-aligned rectangle.
	ShapeKindRectangle ShapeKind = "rectangle"
	// ShapeKindCircle is a circle or ellipse.
	ShapeKindCircle ShapeKind = "circle"
	// ShapeKindText is a free-standing text element.
	ShapeKindText ShapeKind = "text"
	// ShapeKindArrow is a directed connector.
	ShapeKindArrow ShapeKind = "arrow"
	// ShapeKindLine is a straight segment.
	ShapeKindLine ShapeKind = "line"
	// ShapeKindStickyNote is a text-bearing note card.
	ShapeKindStickyNote ShapeKind = "sticky-note"
	// ShapeKindFreehandPath is a freehand pen stroke.
	ShapeKindFreehandPath ShapeKind = "freehand-path"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidBoardID indicates that a board identifier is empty or exceeds storage bounds.
	ErrInvalidBoardID = errors.New("board: invalid board id")
	// ErrInvalidShapeID indicates that a shape identifier is empty or exceeds storage bounds.
	ErrInvalidShapeID = errors.New("board: invalid shape id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("board: invalid user id")
	// ErrInvalidShapeKind indicates an unrecognised shape kind.
	ErrInvalidShapeKind = errors.New("board: invalid shape kind")
	// ErrShapeNotFound indicates a mutation targeting a shape that does not exist.
	ErrShapeNotFound = errors.New("board: shape not found")
)

// BoardID represents a validated board identifier.
type BoardID string

// NewBoardID validates raw input and returns a BoardID.
func NewBoardID(rawInput string) (BoardID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidBoardID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidBoardID, maxIdentifierLength)
	}
	return BoardID(trimmed), nil
}

// String returns the underlying string identifier.
func (id BoardID) String() string {
	return string(id)
}

// ShapeID represents a validated shape identifier.
type ShapeID string

// NewShapeID validates raw input and returns a ShapeID.
func NewShapeID(rawInput string) (ShapeID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidShapeID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidShapeID, maxIdentifierLength)
	}
	return ShapeID(trimmed), nil
}

// String returns the underlying string identifier.
func (id ShapeID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ParseShapeKind validates raw input against the supported shape kinds.
func ParseShapeKind(rawInput string) (ShapeKind, error) {
	kind := ShapeKind(strings.ToLower(strings.TrimSpace(rawInput)))
	switch kind {
	case ShapeKindRectangle, ShapeKindCircle, ShapeKindText, ShapeKindArrow,
		ShapeKindLine, ShapeKindStickyNote, ShapeKindFreehandPath:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidShapeKind, rawInput)
	}
}

// String returns the kind as its wire representation.
func (k ShapeKind) String() string {
	return string(k)
}

// Attributes is the open kind-specific geometry and style record for a
// shape. Fields are opaque to the store; merges happen per top-level field.
type Attributes map[string]any

// Clone returns a shallow copy so callers can mutate independently.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	copied := make(Attributes, len(a))
	for key, value := range a {
		copied[key] = value
	}
	return copied
}

// Shape is the persisted per-board drawing object.
type Shape struct {
	BoardID          string `gorm:"column:board_id;primaryKey;size:190;not null;index:idx_shapes_board_layer,priority:1"`
	ShapeID          string `gorm:"column:shape_id;primaryKey;size:190;not null"`
	Kind             string `gorm:"column:kind;size:50;not null"`
	AttributesJSON   string `gorm:"column:attributes_json;type:text;not null"`
	LayerOrder       int    `gorm:"column:layer_order;not null;default:0;index:idx_shapes_board_layer,priority:2"`
	CreatedBy        string `gorm:"column:created_by;size:190;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Shape) TableName() string {
	return "shapes"
}

// ShapeRecord is the decoded form of Shape handed to callers.
type ShapeRecord struct {
	BoardID          BoardID
	ShapeID          ShapeID
	Kind             ShapeKind
	Attributes       Attributes
	LayerOrder       int
	CreatedBy        UserID
	CreatedAtSeconds int64
	UpdatedAtSeconds int64
}
