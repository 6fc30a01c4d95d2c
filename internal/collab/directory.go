package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BoardRecord is the persisted board metadata row.
type BoardRecord struct {
	BoardID     string    `gorm:"column:board_id;primaryKey;size:190;not null"`
	Name        string    `gorm:"column:name;size:255;not null"`
	Description string    `gorm:"column:description;size:1024"`
	OwnerID     string    `gorm:"column:owner_id;size:190;not null"`
	IsPublic    bool      `gorm:"column:is_public;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (BoardRecord) TableName() string {
	return "boards"
}

// DatabaseDirectory serves board metadata from the local database. It
// satisfies BoardDirectory for deployments that do not delegate board
// management to a separate service.
type DatabaseDirectory struct {
	db *gorm.DB
}

// NewDatabaseDirectory wraps the database handle.
func NewDatabaseDirectory(db *gorm.DB) (*DatabaseDirectory, error) {
	if db == nil {
		return nil, errors.New("collab: database handle is required")
	}
	return &DatabaseDirectory{db: db}, nil
}

// BoardMetadata looks up one board.
func (d *DatabaseDirectory) BoardMetadata(ctx context.Context, boardID string) (BoardMetadata, error) {
	var record BoardRecord
	err := d.db.WithContext(ctx).Where("board_id = ?", boardID).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BoardMetadata{}, fmt.Errorf("%w: %s", ErrBoardNotFound, boardID)
	}
	if err != nil {
		return BoardMetadata{}, err
	}
	return BoardMetadata{
		BoardID:     record.BoardID,
		Name:        record.Name,
		Description: record.Description,
		OwnerID:     record.OwnerID,
		IsPublic:    record.IsPublic,
	}, nil
}

// EnsureBoard inserts or refreshes a board row.
func (d *DatabaseDirectory) EnsureBoard(ctx context.Context, metadata BoardMetadata) error {
	record := BoardRecord{
		BoardID:     metadata.BoardID,
		Name:        metadata.Name,
		Description: metadata.Description,
		OwnerID:     metadata.OwnerID,
		IsPublic:    metadata.IsPublic,
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "board_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "owner_id", "is_public", "updated_at"}),
	}).Create(&record).Error
}
