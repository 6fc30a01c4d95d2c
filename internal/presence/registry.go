package presence

import (
	"sort"
	"sync"
	"time"
)

const defaultCursorTTL = 3 * time.Second

// CursorPosition is an ephemeral pointer location on the board.
type CursorPosition struct {
	X float64
	Y float64
}

// Member identifies a user participating in a board session.
type Member struct {
	UserID          string
	DisplayIdentity string
}

// SessionHandle references one live board session. Handles from superseded
// sessions become inert: their Leave and UpdateCursor calls are ignored.
type SessionHandle struct {
	boardID string
	userID  string
	epoch   int64
}

// BoardID returns the board this session belongs to.
func (h SessionHandle) BoardID() string {
	return h.boardID
}

// UserID returns the user this session belongs to.
func (h SessionHandle) UserID() string {
	return h.userID
}

type session struct {
	epoch           int64
	displayIdentity string
	cursor          *CursorPosition
	cursorMovedAt   time.Time
}

// RegistryConfig tunes the registry.
type RegistryConfig struct {
	Clock     func() time.Time
	CursorTTL time.Duration
}

// Registry tracks live membership of each board's collaboration session.
// A user holds at most one session per board; rejoining supersedes the
// prior session rather than duplicating it.
type Registry struct {
	mu        sync.RWMutex
	boards    map[string]map[string]*session
	nextEpoch int64
	clock     func() time.Time
	cursorTTL time.Duration
}

// NewRegistry constructs an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := cfg.CursorTTL
	if ttl <= 0 {
		ttl = defaultCursorTTL
	}
	return &Registry{
		boards:    make(map[string]map[string]*session),
		clock:     clock,
		cursorTTL: ttl,
	}
}

// Join registers the user on the board and returns the session handle. The
// superseded result reports whether a prior session for the same user+board
// was replaced, in which case the membership itself is unchanged and no
// join notification is warranted.
func (r *Registry) Join(boardID, userID, displayIdentity string) (SessionHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.boards[boardID]
	if !ok {
		sessions = make(map[string]*session)
		r.boards[boardID] = sessions
	}

	_, superseded := sessions[userID]
	r.nextEpoch++
	sessions[userID] = &session{
		epoch:           r.nextEpoch,
		displayIdentity: displayIdentity,
	}

	return SessionHandle{boardID: boardID, userID: userID, epoch: r.nextEpoch}, superseded
}

// Leave removes the session if the handle still owns the membership. The
// result reports whether the user actually left the board; a stale handle
// from a superseded session returns false and leaves the fresh session
// untouched.
func (r *Registry) Leave(handle SessionHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := r.boards[handle.boardID]
	if sessions == nil {
		return false
	}
	current, ok := sessions[handle.userID]
	if !ok || current.epoch != handle.epoch {
		return false
	}
	delete(sessions, handle.userID)
	if len(sessions) == 0 {
		delete(r.boards, handle.boardID)
	}
	return true
}

// UpdateCursor stores the latest pointer position for the session. Storing
// does not notify anyone; broadcast is the realtime layer's concern.
func (r *Registry) UpdateCursor(handle SessionHandle, x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := r.boards[handle.boardID]
	if sessions == nil {
		return
	}
	current, ok := sessions[handle.userID]
	if !ok || current.epoch != handle.epoch {
		return
	}
	current.cursor = &CursorPosition{X: x, Y: y}
	current.cursorMovedAt = r.clock()
}

// ListMembers returns the board's current roster sorted by user id.
func (r *Registry) ListMembers(boardID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := r.boards[boardID]
	members := make([]Member, 0, len(sessions))
	for userID, state := range sessions {
		members = append(members, Member{
			UserID:          userID,
			DisplayIdentity: state.displayIdentity,
		})
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].UserID < members[j].UserID
	})
	return members
}

// Cursors returns the fresh cursor positions for the board. Cursors older
// than the configured TTL are treated as absent; the member itself remains
// on the roster regardless.
func (r *Registry) Cursors(boardID string) map[string]CursorPosition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cutoff := r.clock().Add(-r.cursorTTL)
	cursors := make(map[string]CursorPosition)
	for userID, state := range r.boards[boardID] {
		if state.cursor == nil || state.cursorMovedAt.Before(cutoff) {
			continue
		}
		cursors[userID] = *state.cursor
	}
	return cursors
}
