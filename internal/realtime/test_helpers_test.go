package realtime

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/slateworks/slate/internal/board"
	"github.com/slateworks/slate/internal/collab"
	"github.com/slateworks/slate/internal/presence"
)

type fakeDirectory struct {
	boards map[string]collab.BoardMetadata
}

func (d *fakeDirectory) BoardMetadata(_ context.Context, boardID string) (collab.BoardMetadata, error) {
	metadata, ok := d.boards[boardID]
	if !ok {
		return collab.BoardMetadata{}, fmt.Errorf("%w: %s", collab.ErrBoardNotFound, boardID)
	}
	return metadata, nil
}

type sequenceIDProvider struct {
	mu   sync.Mutex
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	return fmt.Sprintf("shape-%04d", p.next), nil
}

type hubFixture struct {
	hub      *Hub
	shapes   *board.Service
	roles    *collab.Service
	presence *presence.Registry
}

func newHubFixture(t *testing.T, boards map[string]collab.BoardMetadata) *hubFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&board.Shape{}, &collab.Collaborator{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	shapes, err := board.NewService(board.ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1_700_000_000, 0) },
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to build shape store: %v", err)
	}

	roles, err := collab.NewService(collab.ServiceConfig{
		Database:  db,
		Directory: &fakeDirectory{boards: boards},
	})
	if err != nil {
		t.Fatalf("failed to build collaborator service: %v", err)
	}

	registry := presence.NewRegistry(presence.RegistryConfig{
		Clock: func() time.Time { return time.Unix(1_700_000_000, 0) },
	})

	hub, err := NewHub(HubConfig{
		Shapes:   shapes,
		Roles:    roles,
		Presence: registry,
		Clock:    func() time.Time { return time.Unix(1_700_000_000, 0) },
	})
	if err != nil {
		t.Fatalf("failed to build hub: %v", err)
	}

	return &hubFixture{hub: hub, shapes: shapes, roles: roles, presence: registry}
}

func mustJoin(t *testing.T, hub *Hub, boardID, userID, displayIdentity string) presence.SessionHandle {
	t.Helper()
	handle, err := hub.Join(context.Background(), boardID, userID, displayIdentity)
	if err != nil {
		t.Fatalf("failed to join board %s as %s: %v", boardID, userID, err)
	}
	return handle
}

func receiveMessage(t *testing.T, stream <-chan Message) Message {
	t.Helper()
	select {
	case message := <-stream:
		return message
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
		return Message{}
	}
}

func expectSilence(t *testing.T, stream <-chan Message) {
	t.Helper()
	select {
	case message := <-stream:
		t.Fatalf("unexpected message %q for shape %q", message.Type, message.ShapeID)
	default:
	}
}

func pointerToInt(value int) *int {
	return &value
}
