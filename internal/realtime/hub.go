package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/slateworks/slate/internal/board"
	"github.com/slateworks/slate/internal/collab"
	"github.com/slateworks/slate/internal/presence"
)

const defaultStreamBufferSize = 64

var (
	// ErrUnauthorized indicates the sender lacks the permission the intent
	// requires on the target board.
	ErrUnauthorized = errors.New("realtime: unauthorized")

	errMissingShapeStore = errors.New("shape store is required")
	errMissingRoles      = errors.New("collaborator service is required")
	errMissingPresence   = errors.New("presence registry is required")

	noOpLogger = zap.NewNop()
)

// HubConfig describes the dependencies of the realtime channel.
type HubConfig struct {
	Shapes     *board.Service
	Roles      *collab.Service
	Presence   *presence.Registry
	Clock      func() time.Time
	Logger     *zap.Logger
	BufferSize int
}

// Hub fans confirmed board events out to per-board subscribers. Shape events
// are broadcast in the order their store mutations commit; ephemeral cursor
// and presence traffic bypasses the store entirely.
type Hub struct {
	shapes     *board.Service
	roles      *collab.Service
	presence   *presence.Registry
	clock      func() time.Time
	logger     *zap.Logger
	bufferSize int

	mu     sync.RWMutex
	boards map[string]*boardChannel
}

type boardChannel struct {
	// commitMu serializes store apply and broadcast for shape intents so
	// subscribers observe events in commit order.
	commitMu sync.Mutex

	subscribersMu sync.RWMutex
	subscribers   map[int64]*subscriber
	nextID        int64
}

type subscriber struct {
	id     int64
	stream chan Message
}

// NewHub validates the configuration and constructs the channel.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Shapes == nil {
		return nil, errMissingShapeStore
	}
	if cfg.Roles == nil {
		return nil, errMissingRoles
	}
	if cfg.Presence == nil {
		return nil, errMissingPresence
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultStreamBufferSize
	}

	return &Hub{
		shapes:     cfg.Shapes,
		roles:      cfg.Roles,
		presence:   cfg.Presence,
		clock:      clock,
		logger:     logger,
		bufferSize: bufferSize,
		boards:     make(map[string]*boardChannel),
	}, nil
}

// Subscribe registers a listener for a board's event stream. The returned
// cleanup is idempotent and also fires when the context is cancelled. Slow
// subscribers drop messages rather than stall the board.
func (h *Hub) Subscribe(ctx context.Context, boardID string) (<-chan Message, func()) {
	if boardID == "" {
		closed := make(chan Message)
		close(closed)
		return closed, func() {}
	}

	channel := h.channelFor(boardID)
	channel.subscribersMu.Lock()
	channel.nextID++
	listener := &subscriber{
		id:     channel.nextID,
		stream: make(chan Message, h.bufferSize),
	}
	channel.subscribers[listener.id] = listener
	channel.subscribersMu.Unlock()

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			channel.subscribersMu.Lock()
			delete(channel.subscribers, listener.id)
			channel.subscribersMu.Unlock()
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return listener.stream, cleanup
}

// Join authorizes the user for the board, registers the presence session and
// announces the arrival. A superseded prior session for the same user does
// not produce a duplicate join announcement.
func (h *Hub) Join(ctx context.Context, boardID, userID, displayIdentity string) (presence.SessionHandle, error) {
	allowed, err := h.roles.CanView(ctx, boardID, userID)
	if err != nil {
		return presence.SessionHandle{}, err
	}
	if !allowed {
		return presence.SessionHandle{}, ErrUnauthorized
	}

	handle, superseded := h.presence.Join(boardID, userID, displayIdentity)
	if !superseded {
		h.broadcast(boardID, Message{
			Type:                MessageTypeUserJoin,
			BoardID:             boardID,
			UserID:              userID,
			UserDisplayIdentity: displayIdentity,
			Timestamp:           h.clock().UnixMilli(),
		})
	}
	return handle, nil
}

// Leave retires the presence session and announces the departure. Stale
// handles from superseded sessions are ignored.
func (h *Hub) Leave(handle presence.SessionHandle, displayIdentity string) {
	if !h.presence.Leave(handle) {
		return
	}
	h.broadcast(handle.BoardID(), Message{
		Type:                MessageTypeUserLeave,
		BoardID:             handle.BoardID(),
		UserID:              handle.UserID(),
		UserDisplayIdentity: displayIdentity,
		Timestamp:           h.clock().UnixMilli(),
	})
}

// HandleIntent validates, authorizes and applies a client intent, then
// broadcasts the store-confirmed event. Errors are returned to the caller
// only; other subscribers never observe a failed intent.
func (h *Hub) HandleIntent(ctx context.Context, handle presence.SessionHandle, message Message) error {
	if err := ValidateIntent(message); err != nil {
		return err
	}
	if message.BoardID != handle.BoardID() {
		return ErrUnauthorized
	}

	switch message.Type {
	case MessageTypeCursorMove:
		h.presence.UpdateCursor(handle, message.Cursor.X, message.Cursor.Y)
		h.broadcast(message.BoardID, Message{
			Type:      MessageTypeCursorMove,
			BoardID:   message.BoardID,
			UserID:    handle.UserID(),
			Cursor:    &Cursor{X: message.Cursor.X, Y: message.Cursor.Y},
			Timestamp: h.clock().UnixMilli(),
		})
		return nil
	case MessageTypeShapeCreate:
		return h.applyCreate(ctx, handle, message)
	case MessageTypeShapeUpdate:
		return h.applyUpdate(ctx, handle, message)
	case MessageTypeShapeDelete:
		return h.applyDelete(ctx, handle, message)
	default:
		return ErrMalformedIntent
	}
}

// ClearBoard removes every shape on the board and announces one deletion per
// removed shape, in the board's paint order.
func (h *Hub) ClearBoard(ctx context.Context, boardID, userID string) error {
	if err := h.requireEdit(ctx, boardID, userID); err != nil {
		return err
	}
	parsedBoard, err := board.NewBoardID(boardID)
	if err != nil {
		return wrapMalformed(err)
	}

	channel := h.channelFor(boardID)
	channel.commitMu.Lock()
	defer channel.commitMu.Unlock()

	removed, err := h.shapes.ClearBoard(ctx, parsedBoard)
	if err != nil {
		return err
	}
	stamp := h.clock().UnixMilli()
	for _, shapeID := range removed {
		channel.send(Message{
			Type:      MessageTypeShapeDelete,
			BoardID:   boardID,
			ShapeID:   shapeID.String(),
			UserID:    userID,
			Timestamp: stamp,
		})
	}
	return nil
}

func (h *Hub) applyCreate(ctx context.Context, handle presence.SessionHandle, message Message) error {
	if err := h.requireEdit(ctx, message.BoardID, handle.UserID()); err != nil {
		return err
	}

	parsedBoard, err := board.NewBoardID(message.BoardID)
	if err != nil {
		return wrapMalformed(err)
	}
	kind, err := board.ParseShapeKind(message.ShapeKind)
	if err != nil {
		return wrapMalformed(err)
	}
	createdBy, err := board.NewUserID(handle.UserID())
	if err != nil {
		return wrapMalformed(err)
	}

	channel := h.channelFor(message.BoardID)
	channel.commitMu.Lock()
	defer channel.commitMu.Unlock()

	record, err := h.shapes.CreateShape(ctx, board.CreateShapeRequest{
		BoardID:    parsedBoard,
		Kind:       kind,
		Attributes: board.Attributes(message.ShapeAttributes),
		LayerOrder: message.LayerOrder,
		CreatedBy:  createdBy,
	})
	if err != nil {
		h.logIntentFailure("shape_create_failed", handle, message, err)
		return err
	}
	channel.send(h.shapeEvent(MessageTypeShapeCreate, record, handle.UserID()))
	return nil
}

func (h *Hub) applyUpdate(ctx context.Context, handle presence.SessionHandle, message Message) error {
	if err := h.requireEdit(ctx, message.BoardID, handle.UserID()); err != nil {
		return err
	}

	parsedBoard, err := board.NewBoardID(message.BoardID)
	if err != nil {
		return wrapMalformed(err)
	}
	parsedShape, err := board.NewShapeID(message.ShapeID)
	if err != nil {
		return wrapMalformed(err)
	}

	channel := h.channelFor(message.BoardID)
	channel.commitMu.Lock()
	defer channel.commitMu.Unlock()

	record, err := h.shapes.UpdateShape(ctx, board.UpdateShapeRequest{
		BoardID:        parsedBoard,
		ShapeID:        parsedShape,
		AttributePatch: board.Attributes(message.ShapeAttributes),
		LayerOrder:     message.LayerOrder,
	})
	if err != nil {
		if !errors.Is(err, board.ErrShapeNotFound) {
			h.logIntentFailure("shape_update_failed", handle, message, err)
		}
		return err
	}
	channel.send(h.shapeEvent(MessageTypeShapeUpdate, record, handle.UserID()))
	return nil
}

func (h *Hub) applyDelete(ctx context.Context, handle presence.SessionHandle, message Message) error {
	if err := h.requireEdit(ctx, message.BoardID, handle.UserID()); err != nil {
		return err
	}

	parsedBoard, err := board.NewBoardID(message.BoardID)
	if err != nil {
		return wrapMalformed(err)
	}
	parsedShape, err := board.NewShapeID(message.ShapeID)
	if err != nil {
		return wrapMalformed(err)
	}

	channel := h.channelFor(message.BoardID)
	channel.commitMu.Lock()
	defer channel.commitMu.Unlock()

	removed, err := h.shapes.DeleteShape(ctx, parsedBoard, parsedShape)
	if err != nil {
		h.logIntentFailure("shape_delete_failed", handle, message, err)
		return err
	}
	if !removed {
		// Deleting an already absent shape is a quiet success.
		return nil
	}
	channel.send(Message{
		Type:      MessageTypeShapeDelete,
		BoardID:   message.BoardID,
		ShapeID:   message.ShapeID,
		UserID:    handle.UserID(),
		Timestamp: h.clock().UnixMilli(),
	})
	return nil
}

func (h *Hub) requireEdit(ctx context.Context, boardID, userID string) error {
	allowed, err := h.roles.CanEdit(ctx, boardID, userID)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrUnauthorized
	}
	return nil
}

func (h *Hub) shapeEvent(eventType MessageType, record board.ShapeRecord, userID string) Message {
	layerOrder := record.LayerOrder
	return Message{
		Type:            eventType,
		BoardID:         record.BoardID.String(),
		ShapeID:         record.ShapeID.String(),
		ShapeKind:       record.Kind.String(),
		ShapeAttributes: record.Attributes,
		LayerOrder:      &layerOrder,
		UserID:          userID,
		Timestamp:       h.clock().UnixMilli(),
	}
}

func (h *Hub) channelFor(boardID string) *boardChannel {
	h.mu.RLock()
	channel, ok := h.boards[boardID]
	h.mu.RUnlock()
	if ok {
		return channel
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if channel, ok = h.boards[boardID]; ok {
		return channel
	}
	channel = &boardChannel{subscribers: make(map[int64]*subscriber)}
	h.boards[boardID] = channel
	return channel
}

func (h *Hub) broadcast(boardID string, message Message) {
	h.channelFor(boardID).send(message)
}

func (c *boardChannel) send(message Message) {
	c.subscribersMu.RLock()
	copies := make([]*subscriber, 0, len(c.subscribers))
	for _, listener := range c.subscribers {
		copies = append(copies, listener)
	}
	c.subscribersMu.RUnlock()
	for _, listener := range copies {
		select {
		case listener.stream <- message:
		default:
		}
	}
}

func (h *Hub) logIntentFailure(reason string, handle presence.SessionHandle, message Message, err error) {
	h.logger.Error("realtime intent failed",
		zap.String("reason", reason),
		zap.String("board_id", message.BoardID),
		zap.String("shape_id", message.ShapeID),
		zap.String("user_id", handle.UserID()),
		zap.Error(err))
}
