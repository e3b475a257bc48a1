// broadcast/broadcast.go
package broadcast

import (
	"errors"
	"sync"

	"github.com/wfunc/gridchase/logger"
	"github.com/wfunc/gridchase/session"
)

var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrSessionNotFound = errors.New("session not found")
)

// RoomBroadcaster keeps one subscriber group per room. Delivery is
// fire-and-forget: a failed send to one session does not affect the others.
type RoomBroadcaster struct {
	sessionManager *session.Manager
	groups         map[string]map[string]*session.Session // roomID -> sessionID -> session
	mutex          sync.RWMutex
}

func NewRoomBroadcaster(sessionManager *session.Manager) *RoomBroadcaster {
	return &RoomBroadcaster{
		sessionManager: sessionManager,
		groups:         make(map[string]map[string]*session.Session),
	}
}

// Join subscribes a session to a room's group.
func (b *RoomBroadcaster) Join(roomID string, s *session.Session) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	group, exists := b.groups[roomID]
	if !exists {
		group = make(map[string]*session.Session)
		b.groups[roomID] = group
	}
	group[s.GetID()] = s
}

// Leave unsubscribes a session. The group is kept while the room exists.
func (b *RoomBroadcaster) Leave(roomID, sessionID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if group, exists := b.groups[roomID]; exists {
		delete(group, sessionID)
	}
}

// DropRoom forgets a room's group entirely.
func (b *RoomBroadcaster) DropRoom(roomID string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	delete(b.groups, roomID)
}

// Members returns how many sessions are subscribed to a room.
func (b *RoomBroadcaster) Members(roomID string) int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.groups[roomID])
}

func (b *RoomBroadcaster) BroadcastToRoom(roomID string, msgID uint16, data []byte) error {
	b.mutex.RLock()
	group, exists := b.groups[roomID]
	if !exists {
		b.mutex.RUnlock()
		return ErrRoomNotFound
	}
	sessions := make([]*session.Session, 0, len(group))
	for _, s := range group {
		sessions = append(sessions, s)
	}
	b.mutex.RUnlock()

	for _, s := range sessions {
		if err := s.Send(msgID, data); err != nil {
			logger.Log.Warnf("Dropped message %d to session %s in room %s: %v", msgID, s.GetID(), roomID, err)
			continue
		}
	}

	return nil
}

// SendTo delivers to one live session, looked up in the session manager.
func (b *RoomBroadcaster) SendTo(sessionID string, msgID uint16, data []byte) error {
	s, exists := b.sessionManager.Get(sessionID)
	if !exists {
		return ErrSessionNotFound
	}
	return s.Send(msgID, data)
}
