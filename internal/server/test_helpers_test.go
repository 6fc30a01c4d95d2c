package server

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/slateworks/slate/internal/board"
	"github.com/slateworks/slate/internal/collab"
	"github.com/slateworks/slate/internal/presence"
	"github.com/slateworks/slate/internal/realtime"
)

// staticTokenValidator maps bearer tokens to user identifiers.
type staticTokenValidator map[string]string

func (v staticTokenValidator) ValidateToken(token string) (string, error) {
	subject, ok := v[token]
	if !ok {
		return "", fmt.Errorf("unknown token %q", token)
	}
	return subject, nil
}

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

type serverFixture struct {
	server   *httptest.Server
	shapes   *board.Service
	roles    *collab.Service
	presence *presence.Registry
	hub      *realtime.Hub
	tokens   staticTokenValidator
}

func newServerFixture(t *testing.T, boards map[string]collab.BoardMetadata, tokens staticTokenValidator) *serverFixture {
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
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to build shape store: %v", err)
	}

	directory := &fakeDirectory{boards: boards}
	roles, err := collab.NewService(collab.ServiceConfig{
		Database:  db,
		Directory: directory,
	})
	if err != nil {
		t.Fatalf("failed to build collaborator service: %v", err)
	}

	registry := presence.NewRegistry(presence.RegistryConfig{})

	hub, err := realtime.NewHub(realtime.HubConfig{
		Shapes:   shapes,
		Roles:    roles,
		Presence: registry,
	})
	if err != nil {
		t.Fatalf("failed to build hub: %v", err)
	}

	handler, err := NewHTTPHandler(Dependencies{
		TokenValidator: tokens,
		Shapes:         shapes,
		Roles:          roles,
		Directory:      directory,
		Presence:       registry,
		Hub:            hub,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}

	testServer := httptest.NewServer(handler)
	t.Cleanup(testServer.Close)

	return &serverFixture{
		server:   testServer,
		shapes:   shapes,
		roles:    roles,
		presence: registry,
		hub:      hub,
		tokens:   tokens,
	}
}

func (f *serverFixture) websocketURL(boardID, token string) string {
	base := strings.Replace(f.server.URL, "http://", "ws://", 1)
	return fmt.Sprintf("%s/ws/boards/%s?access_token=%s", base, boardID, token)
}

func seedShape(t *testing.T, fixture *serverFixture, boardID, userID, kind string, attributes board.Attributes) board.ShapeRecord {
	t.Helper()
	parsedBoard, err := board.NewBoardID(boardID)
	if err != nil {
		t.Fatalf("failed to parse board id: %v", err)
	}
	parsedKind, err := board.ParseShapeKind(kind)
	if err != nil {
		t.Fatalf("failed to parse shape kind: %v", err)
	}
	parsedUser, err := board.NewUserID(userID)
	if err != nil {
		t.Fatalf("failed to parse user id: %v", err)
	}
	record, err := fixture.shapes.CreateShape(context.Background(), board.CreateShapeRequest{
		BoardID:    parsedBoard,
		Kind:       parsedKind,
		Attributes: attributes,
		CreatedBy:  parsedUser,
	})
	if err != nil {
		t.Fatalf("failed to seed shape: %v", err)
	}
	return record
}

func waitForCondition(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
