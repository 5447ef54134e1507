package memory

import (
	"sync"

	"quizroom/internal/app"
)

// RoomStore is the in-memory implementation of app.RoomRegistry. Alongside
// the code-keyed table it maintains a reverse connection index so a
// disconnect resolves its room in O(1) instead of scanning every room.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*app.Room
	conns map[string]string // connectionID -> room code
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*app.Room),
		conns: make(map[string]string),
	}
}

// Put registers the room under code, refusing codes already held by an
// active room.
func (s *RoomStore) Put(code string, room *app.Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.rooms[code]; taken {
		return false
	}
	s.rooms[code] = room
	return true
}

func (s *RoomStore) Get(code string) (*app.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[code]
	return room, ok
}

// Delete removes the room and any connection bindings still pointing at it.
func (s *RoomStore) Delete(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, code)
	for connID, bound := range s.conns {
		if bound == code {
			delete(s.conns, connID)
		}
	}
}

func (s *RoomStore) Bind(connID, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[connID] = code
}

func (s *RoomStore) Unbind(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, connID)
}

func (s *RoomStore) RoomByConn(connID string) (*app.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.conns[connID]
	if !ok {
		return nil, false
	}
	room, ok := s.rooms[code]
	return room, ok
}

func (s *RoomStore) List() []*app.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]*app.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}
