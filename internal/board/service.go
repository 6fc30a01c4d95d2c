package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError carries a dotted operation code alongside the cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew   = "board.service.new"
	opCreateShape  = "board.create_shape"
	opUpdateShape  = "board.update_shape"
	opDeleteShape  = "board.delete_shape"
	opListShapes   = "board.list_shapes"
	opClearBoard   = "board.clear_board"
	opMaxLayerScan = "board.max_layer_scan"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IDProvider issues globally unique shape identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the shape store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// Service is the authoritative per-board shape store.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewService validates the configuration and constructs the store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// CreateShapeRequest describes a new shape. A nil LayerOrder asks the store
// to place the shape on top of the board's current stack.
type CreateShapeRequest struct {
	BoardID    BoardID
	Kind       ShapeKind
	Attributes Attributes
	LayerOrder *int
	CreatedBy  UserID
}

// CreateShape assigns a fresh identifier, stamps timestamps and persists the
// shape. Concurrent creations never conflict: identifiers are independently
// assigned.
func (s *Service) CreateShape(ctx context.Context, request CreateShapeRequest) (ShapeRecord, error) {
	shapeID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateShape, "id_generation_failed", err, zap.String("board_id", request.BoardID.String()))
		return ShapeRecord{}, newServiceError(opCreateShape, "id_generation_failed", err)
	}

	encoded, err := encodeAttributes(request.Attributes)
	if err != nil {
		s.logError(opCreateShape, "attributes_encode_failed", err, zap.String("board_id", request.BoardID.String()))
		return ShapeRecord{}, newServiceError(opCreateShape, "attributes_encode_failed", err)
	}

	now := s.clock().UTC().Unix()
	record := Shape{
		BoardID:          request.BoardID.String(),
		ShapeID:          shapeID,
		Kind:             request.Kind.String(),
		AttributesJSON:   encoded,
		CreatedBy:        request.CreatedBy.String(),
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if request.LayerOrder != nil {
			record.LayerOrder = *request.LayerOrder
		} else {
			layerOrder, err := nextLayerOrder(tx, request.BoardID)
			if err != nil {
				s.logError(opMaxLayerScan, "query_failed", err, zap.String("board_id", request.BoardID.String()))
				return newServiceError(opCreateShape, "layer_scan_failed", err)
			}
			record.LayerOrder = layerOrder
		}
		if err := tx.Create(&record).Error; err != nil {
			s.logError(opCreateShape, "shape_insert_failed", err,
				zap.String("board_id", request.BoardID.String()),
				zap.String("shape_id", shapeID))
			return newServiceError(opCreateShape, "shape_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return ShapeRecord{}, txErr
	}

	return decodeShape(record)
}

// UpdateShapeRequest carries a partial attribute patch and an optional layer
// move for an existing shape.
type UpdateShapeRequest struct {
	BoardID        BoardID
	ShapeID        ShapeID
	AttributePatch Attributes
	LayerOrder     *int
}

// UpdateShape merges the patch into the stored attributes field by field and
// bumps the update timestamp. The row is locked for the duration of the
// transaction so concurrent patches against the same shape apply in some
// serial order without losing fields to one another.
func (s *Service) UpdateShape(ctx context.Context, request UpdateShapeRequest) (ShapeRecord, error) {
	var updated Shape
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Shape
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("board_id = ? AND shape_id = ?", request.BoardID.String(), request.ShapeID.String()).
			Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrShapeNotFound, request.ShapeID.String())
		}
		if err != nil {
			s.logError(opUpdateShape, "shape_select_failed", err,
				zap.String("board_id", request.BoardID.String()),
				zap.String("shape_id", request.ShapeID.String()))
			return newServiceError(opUpdateShape, "shape_select_failed", err)
		}

		stored, err := decodeAttributes(existing.AttributesJSON)
		if err != nil {
			s.logError(opUpdateShape, "attributes_decode_failed", err,
				zap.String("board_id", request.BoardID.String()),
				zap.String("shape_id", request.ShapeID.String()))
			return newServiceError(opUpdateShape, "attributes_decode_failed", err)
		}

		merged := mergeAttributes(stored, request.AttributePatch)
		encoded, err := encodeAttributes(merged)
		if err != nil {
			return newServiceError(opUpdateShape, "attributes_encode_failed", err)
		}

		existing.AttributesJSON = encoded
		if request.LayerOrder != nil {
			existing.LayerOrder = *request.LayerOrder
		}
		existing.UpdatedAtSeconds = s.clock().UTC().Unix()

		if err := tx.Save(&existing).Error; err != nil {
			s.logError(opUpdateShape, "shape_save_failed", err,
				zap.String("board_id", request.BoardID.String()),
				zap.String("shape_id", request.ShapeID.String()))
			return newServiceError(opUpdateShape, "shape_save_failed", err)
		}
		updated = existing
		return nil
	})
	if txErr != nil {
		return ShapeRecord{}, txErr
	}

	return decodeShape(updated)
}

// DeleteShape removes the shape if present. Deleting an absent shape is not
// an error; the returned flag reports whether a row was actually removed so
// callers can decide whether a deletion event is warranted.
func (s *Service) DeleteShape(ctx context.Context, boardID BoardID, shapeID ShapeID) (bool, error) {
	result := s.db.WithContext(ctx).
		Where("board_id = ? AND shape_id = ?", boardID.String(), shapeID.String()).
		Delete(&Shape{})
	if result.Error != nil {
		s.logError(opDeleteShape, "shape_delete_failed", result.Error,
			zap.String("board_id", boardID.String()),
			zap.String("shape_id", shapeID.String()))
		return false, newServiceError(opDeleteShape, "shape_delete_failed", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListShapes returns all live shapes for a board ordered by layer then
// creation time, the paint order a fresh client should apply.
func (s *Service) ListShapes(ctx context.Context, boardID BoardID) ([]ShapeRecord, error) {
	var rows []Shape
	if err := s.db.WithContext(ctx).
		Where("board_id = ?", boardID.String()).
		Order("layer_order ASC, created_at_s ASC").
		Find(&rows).Error; err != nil {
		s.logError(opListShapes, "query_failed", err, zap.String("board_id", boardID.String()))
		return nil, newServiceError(opListShapes, "query_failed", err)
	}

	records := make([]ShapeRecord, 0, len(rows))
	for _, row := range rows {
		record, err := decodeShape(row)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

// ClearBoard deletes every shape on the board and returns the removed shape
// identifiers so the caller can emit one deletion notification per shape.
func (s *Service) ClearBoard(ctx context.Context, boardID BoardID) ([]ShapeID, error) {
	var removed []ShapeID
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []Shape
		if err := tx.Select("shape_id").
			Where("board_id = ?", boardID.String()).
			Order("layer_order ASC, created_at_s ASC").
			Find(&rows).Error; err != nil {
			s.logError(opClearBoard, "query_failed", err, zap.String("board_id", boardID.String()))
			return newServiceError(opClearBoard, "query_failed", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := tx.Where("board_id = ?", boardID.String()).Delete(&Shape{}).Error; err != nil {
			s.logError(opClearBoard, "delete_failed", err, zap.String("board_id", boardID.String()))
			return newServiceError(opClearBoard, "delete_failed", err)
		}
		removed = make([]ShapeID, 0, len(rows))
		for _, row := range rows {
			removed = append(removed, ShapeID(row.ShapeID))
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return removed, nil
}

func nextLayerOrder(tx *gorm.DB, boardID BoardID) (int, error) {
	var maxLayer *int
	err := tx.Model(&Shape{}).
		Where("board_id = ?", boardID.String()).
		Select("MAX(layer_order)").
		Scan(&maxLayer).Error
	if err != nil {
		return 0, err
	}
	if maxLayer == nil {
		return 0, nil
	}
	return *maxLayer + 1, nil
}

func decodeShape(row Shape) (ShapeRecord, error) {
	attributes, err := decodeAttributes(row.AttributesJSON)
	if err != nil {
		return ShapeRecord{}, newServiceError(opListShapes, "attributes_decode_failed", err)
	}
	return ShapeRecord{
		BoardID:          BoardID(row.BoardID),
		ShapeID:          ShapeID(row.ShapeID),
		Kind:             ShapeKind(row.Kind),
		Attributes:       attributes,
		LayerOrder:       row.LayerOrder,
		CreatedBy:        UserID(row.CreatedBy),
		CreatedAtSeconds: row.CreatedAtSeconds,
		UpdatedAtSeconds: row.UpdatedAtSeconds,
	}, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("board service error", attrs...)
}
