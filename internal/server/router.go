package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/slateworks/slate/internal/board"
	"github.com/slateworks/slate/internal/collab"
	"github.com/slateworks/slate/internal/presence"
	"github.com/slateworks/slate/internal/realtime"
)

const userIDContextKey = "slate_user_id"

var (
	errMissingTokenValidator = errors.New("token validator dependency required")
	errMissingShapeStore     = errors.New("shape store dependency required")
	errMissingRoles          = errors.New("collaborator service dependency required")
	errMissingDirectory      = errors.New("board directory dependency required")
	errMissingPresence       = errors.New("presence registry dependency required")
	errMissingHub            = errors.New("realtime hub dependency required")
	errInvalidAuthorization  = errors.New("authorization header missing or invalid")
)

// TokenValidator checks an access token and returns its subject.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

type Dependencies struct {
	TokenValidator TokenValidator
	Shapes         *board.Service
	Roles          *collab.Service
	Directory      collab.BoardDirectory
	Presence       *presence.Registry
	Hub            *realtime.Hub
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.Shapes == nil {
		return nil, errMissingShapeStore
	}
	if deps.Roles == nil {
		return nil, errMissingRoles
	}
	if deps.Directory == nil {
		return nil, errMissingDirectory
	}
	if deps.Presence == nil {
		return nil, errMissingPresence
	}
	if deps.Hub == nil {
		return nil, errMissingHub
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:    deps.TokenValidator,
		shapes:    deps.Shapes,
		roles:     deps.Roles,
		directory: deps.Directory,
		presence:  deps.Presence,
		hub:       deps.Hub,
		logger:    logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/boards/:boardId", handler.handleBoardMetadata)
	protected.GET("/boards/:boardId/shapes", handler.handleShapeSnapshot)
	protected.DELETE("/boards/:boardId/shapes", handler.handleClearBoard)
	protected.GET("/boards/:boardId/members", handler.handleBoardMembers)
	protected.GET("/ws/boards/:boardId", handler.handleBoardSocket)

	return router, nil
}

type httpHandler struct {
	tokens    TokenValidator
	shapes    *board.Service
	roles     *collab.Service
	directory collab.BoardDirectory
	presence  *presence.Registry
	hub       *realtime.Hub
	logger    *zap.Logger
}

type boardMetadataPayload struct {
	BoardID     string `json:"board_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	OwnerID     string `json:"owner_id"`
	IsPublic    bool   `json:"is_public"`
}

func (h *httpHandler) handleBoardMetadata(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	boardID := c.Param("boardId")

	if !h.requireView(c, boardID, userID) {
		return
	}

	metadata, err := h.directory.BoardMetadata(c.Request.Context(), boardID)
	if err != nil {
		if errors.Is(err, collab.ErrBoardNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "board_not_found"})
			return
		}
		h.logger.Error("board metadata lookup failed", zap.String("board_id", boardID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "metadata_failed"})
		return
	}

	c.JSON(http.StatusOK, boardMetadataPayload{
		BoardID:     metadata.BoardID,
		Name:        metadata.Name,
		Description: metadata.Description,
		OwnerID:     metadata.OwnerID,
		IsPublic:    metadata.IsPublic,
	})
}

type shapeSnapshotPayload struct {
	BoardID string                 `json:"board_id"`
	Shapes  []shapeRecordPayload   `json:"shapes"`
	Members []boardMemberPayload   `json:"members,omitempty"`
	Cursors map[string]cursorPoint `json:"cursors,omitempty"`
}

type shapeRecordPayload struct {
	ShapeID          string         `json:"shape_id"`
	Kind             string         `json:"shape_kind"`
	Attributes       map[string]any `json:"shape_attributes"`
	LayerOrder       int            `json:"layer_order"`
	CreatedBy        string         `json:"created_by"`
	CreatedAtSeconds int64          `json:"created_at_s"`
	UpdatedAtSeconds int64          `json:"updated_at_s"`
}

type boardMemberPayload struct {
	UserID          string `json:"user_id"`
	DisplayIdentity string `json:"user_display_identity"`
}

type cursorPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// handleShapeSnapshot serves the authoritative board state a client applies
// before resuming live events after connect or reconnect.
func (h *httpHandler) handleShapeSnapshot(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	rawBoardID := c.Param("boardId")

	if !h.requireView(c, rawBoardID, userID) {
		return
	}

	boardID, err := board.NewBoardID(rawBoardID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_board_id"})
		return
	}

	records, err := h.shapes.ListShapes(c.Request.Context(), boardID)
	if err != nil {
		h.logger.Error("shape snapshot failed", zap.String("board_id", rawBoardID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "snapshot_failed"})
		return
	}

	payload := shapeSnapshotPayload{
		BoardID: rawBoardID,
		Shapes:  make([]shapeRecordPayload, 0, len(records)),
		Cursors: make(map[string]cursorPoint),
	}
	for _, record := range records {
		payload.Shapes = append(payload.Shapes, shapeRecordPayload{
			ShapeID:          record.ShapeID.String(),
			Kind:             record.Kind.String(),
			Attributes:       record.Attributes,
			LayerOrder:       record.LayerOrder,
			CreatedBy:        record.CreatedBy.String(),
			CreatedAtSeconds: record.CreatedAtSeconds,
			UpdatedAtSeconds: record.UpdatedAtSeconds,
		})
	}
	for _, member := range h.presence.ListMembers(rawBoardID) {
		payload.Members = append(payload.Members, boardMemberPayload{
			UserID:          member.UserID,
			DisplayIdentity: member.DisplayIdentity,
		})
	}
	for memberID, position := range h.presence.Cursors(rawBoardID) {
		payload.Cursors[memberID] = cursorPoint{X: position.X, Y: position.Y}
	}

	c.JSON(http.StatusOK, payload)
}

func (h *httpHandler) handleClearBoard(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	boardID := c.Param("boardId")

	err := h.hub.ClearBoard(c.Request.Context(), boardID, userID)
	switch {
	case err == nil:
		c.Status(http.StatusNoContent)
	case errors.Is(err, realtime.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, collab.ErrBoardNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "board_not_found"})
	default:
		h.logger.Error("clear board failed", zap.String("board_id", boardID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "clear_failed"})
	}
}

func (h *httpHandler) handleBoardMembers(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	boardID := c.Param("boardId")

	if !h.requireView(c, boardID, userID) {
		return
	}

	members := h.presence.ListMembers(boardID)
	payload := make([]boardMemberPayload, 0, len(members))
	for _, member := range members {
		payload = append(payload, boardMemberPayload{
			UserID:          member.UserID,
			DisplayIdentity: member.DisplayIdentity,
		})
	}
	c.JSON(http.StatusOK, gin.H{"members": payload})
}

// requireView resolves view permission and writes the failure response
// itself; callers stop when it returns false.
func (h *httpHandler) requireView(c *gin.Context, boardID, userID string) bool {
	allowed, err := h.roles.CanView(c.Request.Context(), boardID, userID)
	if err != nil {
		if errors.Is(err, collab.ErrBoardNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "board_not_found"})
			return false
		}
		h.logger.Error("permission check failed", zap.String("board_id", boardID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "permission_check_failed"})
		return false
	}
	if !allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return false
	}
	return true
}

// authorizeRequest accepts the token from the Authorization header or, for
// browser websocket clients that cannot set headers, an access_token query
// parameter.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	switch {
	case strings.HasPrefix(header, "Bearer "):
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	default:
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}
