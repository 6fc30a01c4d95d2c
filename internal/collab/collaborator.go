package collab

import (
	"strings"
	"time"
)

// Role is the access level a collaborator holds on a board.
type Role string

const (
	// RoleOwner may edit the board and manage collaborators.
	RoleOwner Role = "owner"
	// RoleEditor may create, update and delete shapes.
	RoleEditor Role = "editor"
	// RoleViewer may watch the board but not mutate it.
	RoleViewer Role = "viewer"
)

// Collaborator captures a user's standing on a single board.
type Collaborator struct {
	BoardID   string    `gorm:"column:board_id;primaryKey;size:190;not null"`
	UserID    string    `gorm:"column:user_id;primaryKey;size:190;not null"`
	Role      string    `gorm:"column:role;size:32;not null"`
	Email     string    `gorm:"column:user_email;size:320"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing board collaborators.
func (Collaborator) TableName() string {
	return "board_collaborators"
}

// canEdit reports whether the role permits shape mutations.
func (r Role) canEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
