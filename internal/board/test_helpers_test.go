package board

import (
	"fmt"
	"strings"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustBoardID(t *testing.T, value string) BoardID {
	t.Helper()
	id, err := NewBoardID(value)
	if err != nil {
		t.Fatalf("unexpected board id error: %v", err)
	}
	return id
}

func mustShapeID(t *testing.T, value string) ShapeID {
	t.Helper()
	id, err := NewShapeID(value)
	if err != nil {
		t.Fatalf("unexpected shape id error: %v", err)
	}
	return id
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Shape{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

type sequenceIDProvider struct {
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%d", p.prefix, p.next), nil
}

func newTestService(t *testing.T) (*Service, *sequenceIDProvider) {
	t.Helper()
	provider := &sequenceIDProvider{prefix: "shape"}
	service, err := NewService(ServiceConfig{
		Database:   openTestDatabase(t),
		IDProvider: provider,
	})
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}
	return service, provider
}

func pointerToInt(value int) *int {
	v := value
	return &v
}
