package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/slateworks/slate/internal/realtime"
)

const (
	initialReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay     = 30 * time.Second
	cursorFlushInterval   = 25 * time.Millisecond
)

var (
	// ErrNotConnected indicates a send attempted while the socket is down.
	// The engine's optimistic state survives; the edit must be redone after
	// the next snapshot load.
	ErrNotConnected = errors.New("client: not connected")

	errMissingEngine  = errors.New("engine is required")
	errMissingBaseURL = errors.New("base url is required")
)

// ConnConfig describes a board connection.
type ConnConfig struct {
	// BaseURL is the server's HTTP root, e.g. "http://localhost:8080".
	BaseURL         string
	BoardID         string
	Token           string
	DisplayIdentity string
	Engine          *Engine
	Logger          *zap.Logger
	HTTPClient      *http.Client
	Dialer          *websocket.Dialer
}

// Conn maintains a live websocket session for one board, reconnecting with
// capped backoff and refetching the authoritative snapshot before resuming
// event application. It is the engine's Transport.
type Conn struct {
	cfg        ConnConfig
	logger     *zap.Logger
	httpClient *http.Client
	dialer     *websocket.Dialer

	mu     sync.Mutex
	socket *websocket.Conn
}

// NewConn validates the configuration. Run must be called to connect.
func NewConn(cfg ConnConfig) (*Conn, error) {
	if cfg.Engine == nil {
		return nil, errMissingEngine
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	if cfg.BoardID == "" {
		return nil, errMissingBoardID
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	return &Conn{
		cfg:        cfg,
		logger:     logger,
		httpClient: httpClient,
		dialer:     dialer,
	}, nil
}

// Send writes one intent to the live socket.
func (c *Conn) Send(message realtime.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket == nil {
		return ErrNotConnected
	}
	return c.socket.WriteJSON(message)
}

// Run connects and keeps the session alive until the context ends. Each
// (re)connect dials the socket, loads a fresh snapshot into the engine and
// then applies the live event stream. The backoff doubles only while
// sessions fail before the snapshot loads; an established session resets it.
func (c *Conn) Run(ctx context.Context) error {
	delay := initialReconnectDelay
	for {
		established, err := c.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if established {
			delay = initialReconnectDelay
		}
		if err != nil {
			c.logger.Warn("board session ended, reconnecting",
				zap.String("board_id", c.cfg.BoardID),
				zap.Duration("delay", delay),
				zap.Error(err))
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = nextReconnectDelay(delay)
	}
}

func nextReconnectDelay(current time.Duration) time.Duration {
	doubled := current * 2
	if doubled > maxReconnectDelay {
		return maxReconnectDelay
	}
	return doubled
}

// runSession reports whether the session was established, meaning the dial
// succeeded and the snapshot loaded into the engine.
func (c *Conn) runSession(ctx context.Context) (bool, error) {
	socket, err := c.dial(ctx)
	if err != nil {
		return false, err
	}
	defer socket.Close()

	// The snapshot is authoritative for everything up to the subscribe
	// point; events read afterwards reapply on top of it harmlessly.
	snapshot, err := c.fetchSnapshot(ctx)
	if err != nil {
		return false, err
	}
	c.cfg.Engine.LoadSnapshot(snapshot)

	c.mu.Lock()
	c.socket = socket
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.socket = nil
		c.mu.Unlock()
	}()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(sessionCtx)
	group.Go(func() error {
		defer cancel()
		for {
			var message realtime.Message
			if err := socket.ReadJSON(&message); err != nil {
				return fmt.Errorf("read event: %w", err)
			}
			c.cfg.Engine.ApplyEvent(message)
		}
	})
	group.Go(func() error {
		ticker := time.NewTicker(cursorFlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.cfg.Engine.FlushCursor(); err != nil && !errors.Is(err, ErrNotConnected) {
					c.logger.Debug("cursor flush failed", zap.Error(err))
				}
			case <-groupCtx.Done():
				return nil
			}
		}
	})
	group.Go(func() error {
		<-groupCtx.Done()
		// Unblocks the reader when the context ends first.
		return socket.Close()
	})

	return true, group.Wait()
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	socketURL, err := c.websocketURL()
	if err != nil {
		return nil, err
	}
	socket, response, err := c.dialer.DialContext(ctx, socketURL, nil)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("dial board socket (status %d): %w", response.StatusCode, err)
		}
		return nil, fmt.Errorf("dial board socket: %w", err)
	}
	return socket, nil
}

func (c *Conn) websocketURL() (string, error) {
	parsed, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	}
	parsed.Path = strings.TrimSuffix(parsed.Path, "/") + "/ws/boards/" + c.cfg.BoardID
	query := parsed.Query()
	query.Set("access_token", c.cfg.Token)
	if c.cfg.DisplayIdentity != "" {
		query.Set("display_identity", c.cfg.DisplayIdentity)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

type snapshotPayload struct {
	BoardID string `json:"board_id"`
	Shapes  []struct {
		ShapeID    string         `json:"shape_id"`
		Kind       string         `json:"shape_kind"`
		Attributes map[string]any `json:"shape_attributes"`
		LayerOrder int            `json:"layer_order"`
	} `json:"shapes"`
	Members []struct {
		UserID          string `json:"user_id"`
		DisplayIdentity string `json:"user_display_identity"`
	} `json:"members"`
	Cursors map[string]realtime.Cursor `json:"cursors"`
}

func (c *Conn) fetchSnapshot(ctx context.Context) (Snapshot, error) {
	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/boards/" + c.cfg.BoardID + "/shapes"
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Snapshot{}, fmt.Errorf("build snapshot request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("fetch snapshot: unexpected status %d", response.StatusCode)
	}

	var payload snapshotPayload
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}

	snapshot := Snapshot{
		BoardID: payload.BoardID,
		Shapes:  make([]SnapshotShape, 0, len(payload.Shapes)),
		Members: make([]RosterMember, 0, len(payload.Members)),
		Cursors: payload.Cursors,
	}
	for _, shape := range payload.Shapes {
		snapshot.Shapes = append(snapshot.Shapes, SnapshotShape{
			ShapeID:    shape.ShapeID,
			Kind:       shape.Kind,
			Attributes: shape.Attributes,
			LayerOrder: shape.LayerOrder,
		})
	}
	for _, member := range payload.Members {
		snapshot.Members = append(snapshot.Members, RosterMember{
			UserID:          member.UserID,
			DisplayIdentity: member.DisplayIdentity,
		})
	}
	return snapshot, nil
}
