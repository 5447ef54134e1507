package redis

import (
	"context"
	"time"

	"quizroom/internal/app"
	"github.com/redis/go-redis/v9"
)

// RoomStore decorates an in-process registry with Redis liveness markers.
// Notes:
//   - Authoritative room state stays in memory; rooms are volatile by design.
//   - Redis only marks which codes are live (and could be extended to route
//     cross-instance events or back an external room directory).
//   - Markers are best-effort; a Redis outage never blocks room operations.
type RoomStore struct {
	inner  app.RoomRegistry
	client *redis.Client
	ttl    time.Duration
}

func NewRoomStore(inner app.RoomRegistry, client *redis.Client, ttl time.Duration) *RoomStore {
	return &RoomStore{inner: inner, client: client, ttl: ttl}
}

func (s *RoomStore) Put(code string, room *app.Room) bool {
	if !s.inner.Put(code, room) {
		return false
	}
	_ = s.client.Set(context.Background(), s.key(code), "1", s.ttl).Err()
	return true
}

func (s *RoomStore) Get(code string) (*app.Room, bool) {
	return s.inner.Get(code)
}

func (s *RoomStore) Delete(code string) {
	s.inner.Delete(code)
	_ = s.client.Del(context.Background(), s.key(code)).Err()
}

func (s *RoomStore) Bind(connID, code string) { s.inner.Bind(connID, code) }
func (s *RoomStore) Unbind(connID string)     { s.inner.Unbind(connID) }

func (s *RoomStore) RoomByConn(connID string) (*app.Room, bool) {
	return s.inner.RoomByConn(connID)
}

func (s *RoomStore) List() []*app.Room { return s.inner.List() }

func (s *RoomStore) key(code string) string {
	return "room:live:" + code
}
