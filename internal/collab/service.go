package collab

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrBoardNotFound indicates the board directory has no record of the board.
	ErrBoardNotFound = errors.New("collab: board not found")
	// ErrInvalidRole indicates an unrecognised collaborator role.
	ErrInvalidRole = errors.New("collab: invalid role")
)

// BoardMetadata mirrors the board record owned by the external board service.
type BoardMetadata struct {
	BoardID     string
	Name        string
	Description string
	OwnerID     string
	IsPublic    bool
}

// BoardDirectory is the narrow contract to the external board service.
type BoardDirectory interface {
	BoardMetadata(ctx context.Context, boardID string) (BoardMetadata, error)
}

// ServiceConfig describes the dependencies for collaborator resolution.
type ServiceConfig struct {
	Database  *gorm.DB
	Directory BoardDirectory
	Clock     func() time.Time
}

// Service answers access questions for board sessions. Role lookups are
// cached per board+user until the membership changes.
type Service struct {
	db        *gorm.DB
	directory BoardDirectory
	now       func() time.Time
	cache     sync.Map
}

// NewService constructs the collaborator service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("collab: database connection required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("collab: board directory required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		db:        cfg.Database,
		directory: cfg.Directory,
		now:       clock,
	}, nil
}

// ParseRole validates a raw role string.
func ParseRole(rawInput string) (Role, error) {
	switch Role(normalize(rawInput)) {
	case RoleOwner:
		return RoleOwner, nil
	case RoleEditor:
		return RoleEditor, nil
	case RoleViewer:
		return RoleViewer, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, rawInput)
	}
}

// Upsert records or updates a collaborator's role on a board.
func (s *Service) Upsert(ctx context.Context, boardID, userID string, role Role, email string) error {
	record := Collaborator{
		BoardID: normalize(boardID),
		UserID:  normalize(userID),
		Role:    string(role),
		Email:   normalize(email),
	}
	err := s.db.WithContext(ctx).Save(&record).Error
	if err != nil {
		return err
	}
	s.cache.Delete(cacheKey(boardID, userID))
	return nil
}

// Remove drops a collaborator from a board.
func (s *Service) Remove(ctx context.Context, boardID, userID string) error {
	err := s.db.WithContext(ctx).
		Where("board_id = ? AND user_id = ?", normalize(boardID), normalize(userID)).
		Delete(&Collaborator{}).Error
	if err != nil {
		return err
	}
	s.cache.Delete(cacheKey(boardID, userID))
	return nil
}

// RoleOf returns the collaborator role held by the user, if any.
func (s *Service) RoleOf(ctx context.Context, boardID, userID string) (Role, bool, error) {
	key := cacheKey(boardID, userID)
	if cached, ok := s.cache.Load(key); ok {
		role, ok := cached.(Role)
		if ok {
			return role, role != "", nil
		}
	}

	var record Collaborator
	err := s.db.WithContext(ctx).
		Where("board_id = ? AND user_id = ?", normalize(boardID), normalize(userID)).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.cache.Store(key, Role(""))
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	role := Role(record.Role)
	s.cache.Store(key, role)
	return role, true, nil
}

// CanEdit reports whether the user may mutate shapes on the board. Owners
// always may; otherwise an editor-capable collaborator role is required.
func (s *Service) CanEdit(ctx context.Context, boardID, userID string) (bool, error) {
	metadata, err := s.directory.BoardMetadata(ctx, boardID)
	if err != nil {
		return false, err
	}
	if metadata.OwnerID == normalize(userID) {
		return true, nil
	}
	role, found, err := s.RoleOf(ctx, boardID, userID)
	if err != nil {
		return false, err
	}
	return found && role.canEdit(), nil
}

// CanView reports whether the user may join the board's session. Owners and
// collaborators always may; public boards are viewable by anyone.
func (s *Service) CanView(ctx context.Context, boardID, userID string) (bool, error) {
	metadata, err := s.directory.BoardMetadata(ctx, boardID)
	if err != nil {
		return false, err
	}
	if metadata.OwnerID == normalize(userID) || metadata.IsPublic {
		return true, nil
	}
	_, found, err := s.RoleOf(ctx, boardID, userID)
	if err != nil {
		return false, err
	}
	return found, nil
}

func cacheKey(boardID, userID string) string {
	return normalize(boardID) + ":" + normalize(userID)
}
