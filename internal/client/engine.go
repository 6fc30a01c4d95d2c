package client

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/slateworks/slate/internal/board"
	"github.com/slateworks/slate/internal/realtime"
)

const (
	defaultSuppressionWindow = 2 * time.Second
	defaultCursorThrottle    = 50 * time.Millisecond
	defaultCursorTTL         = 3 * time.Second
)

var (
	errMissingTransport = errors.New("transport is required")
	errMissingBoardID   = errors.New("board id is required")
	errMissingUserID    = errors.New("user id is required")

	// ErrUnknownShape indicates a local operation referencing a handle the
	// mirror does not hold.
	ErrUnknownShape = errors.New("client: unknown shape")

	noOpLogger = zap.NewNop()
)

// Transport carries intents toward the server. Conn implements it over a
// websocket; tests substitute an in-memory recorder.
type Transport interface {
	Send(message realtime.Message) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(message realtime.Message) error

// Send calls the wrapped function.
func (f TransportFunc) Send(message realtime.Message) error {
	return f(message)
}

// HandleProvider issues local shape handles.
type HandleProvider interface {
	NewHandle() string
}

type uuidHandleProvider struct{}

func (uuidHandleProvider) NewHandle() string {
	return "local-" + uuid.NewString()
}

// EngineConfig describes the dependencies of the reconciliation engine.
type EngineConfig struct {
	BoardID           string
	UserID            string
	Transport         Transport
	Clock             func() time.Time
	Handles           HandleProvider
	Logger            *zap.Logger
	SuppressionWindow time.Duration
	CursorThrottle    time.Duration
	CursorTTL         time.Duration
}

// Engine keeps a local mirror of one board and reconciles it against the
// server's event stream. Local edits render immediately as provisional
// state; server echoes confirm them without duplication. A single mutex
// orders every mutation, so events and local operations apply one at a
// time in arrival order.
type Engine struct {
	boardID           string
	userID            string
	transport         Transport
	clock             func() time.Time
	handles           HandleProvider
	logger            *zap.Logger
	suppressionWindow time.Duration
	cursorThrottle    time.Duration
	cursorTTL         time.Duration

	mu             sync.Mutex
	mirror         *mirror
	pendingCreates []pendingCreate
	pendingPatches map[string]pendingPatch
	suppressions   map[string][]time.Time

	lastCursorSend time.Time
	queuedCursor   *realtime.Cursor

	members       map[string]string
	remoteCursors map[string]remoteCursor
}

type pendingPatch struct {
	attributes map[string]any
	layerOrder *int
}

// pendingCreate is one in-flight create awaiting its server echo. Echoes
// match pending entries of the same kind in send order, so a dropped entry
// keeps its queue position: its echo must not confirm a later create.
type pendingCreate struct {
	handle  string
	kind    string
	dropped bool
}

type remoteCursor struct {
	position realtime.Cursor
	seenAt   time.Time
}

// NewEngine validates the configuration and constructs an empty mirror.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Transport == nil {
		return nil, errMissingTransport
	}
	if cfg.BoardID == "" {
		return nil, errMissingBoardID
	}
	if cfg.UserID == "" {
		return nil, errMissingUserID
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	handles := cfg.Handles
	if handles == nil {
		handles = uuidHandleProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	suppressionWindow := cfg.SuppressionWindow
	if suppressionWindow <= 0 {
		suppressionWindow = defaultSuppressionWindow
	}
	cursorThrottle := cfg.CursorThrottle
	if cursorThrottle <= 0 {
		cursorThrottle = defaultCursorThrottle
	}
	cursorTTL := cfg.CursorTTL
	if cursorTTL <= 0 {
		cursorTTL = defaultCursorTTL
	}

	return &Engine{
		boardID:           cfg.BoardID,
		userID:            cfg.UserID,
		transport:         cfg.Transport,
		clock:             clock,
		handles:           handles,
		logger:            logger,
		suppressionWindow: suppressionWindow,
		cursorThrottle:    cursorThrottle,
		cursorTTL:         cursorTTL,
		mirror:            newMirror(),
		pendingPatches:    make(map[string]pendingPatch),
		suppressions:      make(map[string][]time.Time),
		members:           make(map[string]string),
		remoteCursors:     make(map[string]remoteCursor),
	}, nil
}

// CreateShape renders a provisional shape immediately and sends the create
// intent. The returned handle stays valid across confirmation.
func (e *Engine) CreateShape(kind string, attributes map[string]any, layerOrder *int) (string, error) {
	parsedKind, err := board.ParseShapeKind(kind)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	shape := &MirrorShape{
		Handle:     e.handles.NewHandle(),
		Kind:       parsedKind.String(),
		Attributes: cloneAttributes(attributes),
		Status:     ShapeStatusProvisional,
	}
	if layerOrder != nil {
		shape.LayerOrder = *layerOrder
	} else {
		shape.LayerOrder = e.topLayerLocked() + 1
	}
	e.mirror.add(shape)
	e.pendingCreates = append(e.pendingCreates, pendingCreate{handle: shape.Handle, kind: shape.Kind})

	intent := realtime.Message{
		Type:            realtime.MessageTypeShapeCreate,
		BoardID:         e.boardID,
		ShapeKind:       shape.Kind,
		ShapeAttributes: cloneAttributes(attributes),
		LayerOrder:      layerOrder,
	}
	if err := e.transport.Send(intent); err != nil {
		e.dropPendingLocked(shape.Handle)
		e.mirror.removeByHandle(shape.Handle)
		return "", fmt.Errorf("send create intent: %w", err)
	}
	return shape.Handle, nil
}

// UpdateShape applies the patch to the mirror immediately. For confirmed
// shapes the intent goes out at once and the echo is suppressed; for still
// provisional shapes the patch is held and sent when the server id arrives.
func (e *Engine) UpdateShape(handle string, patch map[string]any, layerOrder *int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	shape, ok := e.mirror.lookupByHandle(handle)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownShape, handle)
	}

	if shape.Attributes == nil {
		shape.Attributes = make(map[string]any, len(patch))
	}
	for field, value := range patch {
		shape.Attributes[field] = value
	}
	if layerOrder != nil {
		shape.LayerOrder = *layerOrder
	}

	if shape.Status == ShapeStatusProvisional {
		held := e.pendingPatches[handle]
		if held.attributes == nil {
			held.attributes = make(map[string]any, len(patch))
		}
		for field, value := range patch {
			held.attributes[field] = value
		}
		if layerOrder != nil {
			held.layerOrder = layerOrder
		}
		e.pendingPatches[handle] = held
		return nil
	}

	return e.sendUpdateLocked(shape.ShapeID, patch, layerOrder)
}

// DeleteShape removes the shape from the mirror immediately. A provisional
// shape is dropped as soon as the server confirms its creation.
func (e *Engine) DeleteShape(handle string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	shape, ok := e.mirror.lookupByHandle(handle)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownShape, handle)
	}

	if shape.Status == ShapeStatusProvisional {
		// The create intent is already on the wire. The entry stays in
		// the queue, marked, so its own echo finishes the removal
		// instead of confirming a later create of the same kind.
		for index := range e.pendingCreates {
			if e.pendingCreates[index].handle == handle {
				e.pendingCreates[index].dropped = true
				break
			}
		}
		delete(e.pendingPatches, handle)
		e.mirror.removeByHandle(handle)
		return nil
	}

	shapeID := shape.ShapeID
	e.mirror.removeByHandle(handle)
	return e.transport.Send(realtime.Message{
		Type:    realtime.MessageTypeShapeDelete,
		BoardID: e.boardID,
		ShapeID: shapeID,
	})
}

// ClearBoard removes every mirrored shape, sending one delete intent per
// confirmed shape.
func (e *Engine) ClearBoard() error {
	e.mu.Lock()
	shapes := e.mirror.shapes()
	e.mu.Unlock()

	for _, shape := range shapes {
		if err := e.DeleteShape(shape.Handle); err != nil && !errors.Is(err, ErrUnknownShape) {
			return err
		}
	}
	return nil
}

// MoveCursor reports the local pointer position. Sends are throttled to one
// per interval with the latest queued position flushed by the next call.
func (e *Engine) MoveCursor(x, y float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	if now.Sub(e.lastCursorSend) < e.cursorThrottle {
		e.queuedCursor = &realtime.Cursor{X: x, Y: y}
		return nil
	}

	e.lastCursorSend = now
	e.queuedCursor = nil
	return e.transport.Send(realtime.Message{
		Type:    realtime.MessageTypeCursorMove,
		BoardID: e.boardID,
		Cursor:  &realtime.Cursor{X: x, Y: y},
	})
}

// FlushCursor sends a queued throttled position once the interval has
// passed. Conn calls this periodically so the final resting position of a
// fast drag is not lost.
func (e *Engine) FlushCursor() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.queuedCursor == nil {
		return nil
	}
	now := e.clock()
	if now.Sub(e.lastCursorSend) < e.cursorThrottle {
		return nil
	}
	cursor := e.queuedCursor
	e.queuedCursor = nil
	e.lastCursorSend = now
	return e.transport.Send(realtime.Message{
		Type:    realtime.MessageTypeCursorMove,
		BoardID: e.boardID,
		Cursor:  cursor,
	})
}

// ApplyEvent folds one server event into the mirror.
func (e *Engine) ApplyEvent(message realtime.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch message.Type {
	case realtime.MessageTypeShapeCreate:
		e.applyCreateLocked(message)
	case realtime.MessageTypeShapeUpdate:
		e.applyUpdateLocked(message)
	case realtime.MessageTypeShapeDelete:
		e.applyDeleteLocked(message)
	case realtime.MessageTypeUserJoin:
		e.members[message.UserID] = message.UserDisplayIdentity
	case realtime.MessageTypeUserLeave:
		delete(e.members, message.UserID)
		delete(e.remoteCursors, message.UserID)
	case realtime.MessageTypeCursorMove:
		if message.UserID == e.userID || message.Cursor == nil {
			return
		}
		e.remoteCursors[message.UserID] = remoteCursor{
			position: *message.Cursor,
			seenAt:   e.clock(),
		}
	default:
		e.logger.Debug("ignoring unknown event", zap.String("type", string(message.Type)))
	}
}

func (e *Engine) applyCreateLocked(message realtime.Message) {
	if _, known := e.mirror.lookupByShapeID(message.ShapeID); known {
		return
	}

	if message.UserID == e.userID {
		if pending, ok := e.takePendingLocked(message.ShapeKind); ok {
			if pending.dropped {
				// The provisional was deleted before the server
				// confirmed its creation. Finish the removal now that
				// the id exists.
				if err := e.transport.Send(realtime.Message{
					Type:    realtime.MessageTypeShapeDelete,
					BoardID: e.boardID,
					ShapeID: message.ShapeID,
				}); err != nil {
					e.logger.Warn("deferred delete send failed",
						zap.String("shape_id", message.ShapeID), zap.Error(err))
				}
				return
			}
			shape := e.mirror.confirm(pending.handle, message.ShapeID)
			if shape != nil {
				shape.Attributes = cloneAttributes(message.ShapeAttributes)
				if message.LayerOrder != nil {
					shape.LayerOrder = *message.LayerOrder
				}
				e.flushPendingPatchLocked(pending.handle, message.ShapeID)
			}
			return
		}
	}

	shape := &MirrorShape{
		Handle:     e.handles.NewHandle(),
		ShapeID:    message.ShapeID,
		Kind:       message.ShapeKind,
		Attributes: cloneAttributes(message.ShapeAttributes),
		Status:     ShapeStatusConfirmed,
	}
	if message.LayerOrder != nil {
		shape.LayerOrder = *message.LayerOrder
	}
	e.mirror.add(shape)
}

func (e *Engine) applyUpdateLocked(message realtime.Message) {
	shape, ok := e.mirror.lookupByShapeID(message.ShapeID)
	if !ok {
		// Deleted locally before the event arrived.
		return
	}

	if message.UserID == e.userID && e.consumeSuppressionLocked(message.ShapeID) {
		return
	}

	shape.Attributes = cloneAttributes(message.ShapeAttributes)
	if message.LayerOrder != nil {
		shape.LayerOrder = *message.LayerOrder
	}
}

func (e *Engine) applyDeleteLocked(message realtime.Message) {
	e.mirror.removeByShapeID(message.ShapeID)
}

// LoadSnapshot replaces the mirror with authoritative state, as after a
// reconnect. In-flight provisional shapes and suppressions are discarded;
// edits lost to the disconnect must be redone.
func (e *Engine) LoadSnapshot(snapshot Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.mirror.clear()
	e.pendingCreates = nil
	e.pendingPatches = make(map[string]pendingPatch)
	e.suppressions = make(map[string][]time.Time)

	for _, record := range snapshot.Shapes {
		e.mirror.add(&MirrorShape{
			Handle:     e.handles.NewHandle(),
			ShapeID:    record.ShapeID,
			Kind:       record.Kind,
			Attributes: cloneAttributes(record.Attributes),
			LayerOrder: record.LayerOrder,
			Status:     ShapeStatusConfirmed,
		})
	}

	e.members = make(map[string]string, len(snapshot.Members))
	for _, member := range snapshot.Members {
		e.members[member.UserID] = member.DisplayIdentity
	}
	e.remoteCursors = make(map[string]remoteCursor, len(snapshot.Cursors))
	now := e.clock()
	for memberID, position := range snapshot.Cursors {
		if memberID == e.userID {
			continue
		}
		e.remoteCursors[memberID] = remoteCursor{position: position, seenAt: now}
	}
}

// Shapes returns the mirrored board in paint order.
func (e *Engine) Shapes() []MirrorShape {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mirror.shapes()
}

// Shape returns a copy of one mirrored shape by handle.
func (e *Engine) Shape(handle string) (MirrorShape, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	shape, ok := e.mirror.lookupByHandle(handle)
	if !ok {
		return MirrorShape{}, false
	}
	return shape.clone(), true
}

// Members returns the current roster sorted by user id.
func (e *Engine) Members() []RosterMember {
	e.mu.Lock()
	defer e.mu.Unlock()

	listed := make([]RosterMember, 0, len(e.members))
	for memberID, displayIdentity := range e.members {
		listed = append(listed, RosterMember{UserID: memberID, DisplayIdentity: displayIdentity})
	}
	sort.Slice(listed, func(i, j int) bool { return listed[i].UserID < listed[j].UserID })
	return listed
}

// Cursors returns remote pointer positions younger than the decay window.
// Idle cursors vanish while their owners stay on the roster.
func (e *Engine) Cursors() map[string]realtime.Cursor {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock()
	visible := make(map[string]realtime.Cursor)
	for memberID, cursor := range e.remoteCursors {
		if now.Sub(cursor.seenAt) > e.cursorTTL {
			continue
		}
		visible[memberID] = cursor.position
	}
	return visible
}

// RosterMember is a presence roster entry.
type RosterMember struct {
	UserID          string
	DisplayIdentity string
}

// Snapshot is the authoritative board state fetched over HTTP.
type Snapshot struct {
	BoardID string
	Shapes  []SnapshotShape
	Members []RosterMember
	Cursors map[string]realtime.Cursor
}

// SnapshotShape is one shape within a snapshot.
type SnapshotShape struct {
	ShapeID    string
	Kind       string
	Attributes map[string]any
	LayerOrder int
}

func (e *Engine) sendUpdateLocked(shapeID string, patch map[string]any, layerOrder *int) error {
	e.suppressions[shapeID] = append(e.suppressions[shapeID], e.clock().Add(e.suppressionWindow))
	err := e.transport.Send(realtime.Message{
		Type:            realtime.MessageTypeShapeUpdate,
		BoardID:         e.boardID,
		ShapeID:         shapeID,
		ShapeAttributes: cloneAttributes(patch),
		LayerOrder:      layerOrder,
	})
	if err != nil {
		e.consumeSuppressionLocked(shapeID)
		return fmt.Errorf("send update intent: %w", err)
	}
	return nil
}

func (e *Engine) flushPendingPatchLocked(handle, shapeID string) {
	held, ok := e.pendingPatches[handle]
	if !ok {
		return
	}
	delete(e.pendingPatches, handle)
	if err := e.sendUpdateLocked(shapeID, held.attributes, held.layerOrder); err != nil {
		e.logger.Warn("held patch send failed", zap.String("shape_id", shapeID), zap.Error(err))
		return
	}
	// The mirror already carries the patch; re-apply the held fields on
	// top of the server attributes that confirmation just installed.
	if shape, ok := e.mirror.lookupByShapeID(shapeID); ok {
		for field, value := range held.attributes {
			shape.Attributes[field] = value
		}
		if held.layerOrder != nil {
			shape.LayerOrder = *held.layerOrder
		}
	}
}

// takePendingLocked pops the oldest in-flight create of the given kind,
// dropped entries included.
func (e *Engine) takePendingLocked(kind string) (pendingCreate, bool) {
	for index, pending := range e.pendingCreates {
		if pending.kind == kind {
			e.pendingCreates = append(e.pendingCreates[:index], e.pendingCreates[index+1:]...)
			return pending, true
		}
	}
	return pendingCreate{}, false
}

func (e *Engine) dropPendingLocked(handle string) {
	for index, pending := range e.pendingCreates {
		if pending.handle == handle {
			e.pendingCreates = append(e.pendingCreates[:index], e.pendingCreates[index+1:]...)
			return
		}
	}
}

// consumeSuppressionLocked pops one live suppression entry for the shape,
// reporting whether the echo should be skipped. Expired entries are pruned.
func (e *Engine) consumeSuppressionLocked(shapeID string) bool {
	entries := e.suppressions[shapeID]
	now := e.clock()
	for len(entries) > 0 && entries[0].Before(now) {
		entries = entries[1:]
	}
	if len(entries) == 0 {
		delete(e.suppressions, shapeID)
		return false
	}
	entries = entries[1:]
	if len(entries) == 0 {
		delete(e.suppressions, shapeID)
	} else {
		e.suppressions[shapeID] = entries
	}
	return true
}

func (e *Engine) topLayerLocked() int {
	top := -1
	for _, shape := range e.mirror.byHandle {
		if shape.LayerOrder > top {
			top = shape.LayerOrder
		}
	}
	return top
}
