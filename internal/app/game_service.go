package app

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"quizroom/internal/domain"
)

// RoomRegistry abstracts how rooms are stored (in-memory, redis-decorated).
// Put must atomically reject an already-taken code. The registry also keeps
// the reverse connection index so disconnect handling stays O(1).
type RoomRegistry interface {
	Put(code string, room *Room) bool
	Get(code string) (*Room, bool)
	Delete(code string)
	Bind(connID, code string)
	Unbind(connID string)
	RoomByConn(connID string) (*Room, bool)
	List() []*Room
}

// QuestionBank loads quiz content (from cache/backing store).
type QuestionBank interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// HistorySink accepts completed-room results for durable reporting.
type HistorySink interface {
	Record(ctx context.Context, result domain.QuizResult) error
}

// Notifier delivers one event to one connection. Implementations must not
// block; the service calls Send after releasing room locks.
type Notifier interface {
	Send(connID string, event domain.Event)
}

// outbound pairs an event with its target connection so events built under a
// room lock can be sent after release.
type outbound struct {
	connID string
	event  domain.Event
}

const codeAttempts = 100

// GameService owns the room lifecycle: creation, joining, question timing,
// scoring, completion, and teardown.
type GameService struct {
	rooms    RoomRegistry
	bank     QuestionBank
	history  HistorySink
	notifier Notifier
	now      func() time.Time

	completedGrace   time.Duration
	waitingHostGrace time.Duration
	activeHostGrace  time.Duration
}

type Option func(*GameService)

// WithClock injects a deterministic clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *GameService) { s.now = now }
}

// WithGracePeriods overrides the purge windows: how long a completed room
// stays retrievable, and how long a room survives a host disconnect before
// (respectively while waiting, or mid-quiz) it is torn down.
func WithGracePeriods(completed, waitingHost, activeHost time.Duration) Option {
	return func(s *GameService) {
		s.completedGrace = completed
		s.waitingHostGrace = waitingHost
		s.activeHostGrace = activeHost
	}
}

func NewGameService(rooms RoomRegistry, bank QuestionBank, history HistorySink, notifier Notifier, opts ...Option) *GameService {
	s := &GameService{
		rooms:            rooms,
		bank:             bank,
		history:          history,
		notifier:         notifier,
		now:              time.Now,
		completedGrace:   time.Minute,
		waitingHostGrace: 5 * time.Minute,
		activeHostGrace:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *GameService) emit(events []outbound) {
	for _, ev := range events {
		s.notifier.Send(ev.connID, ev.event)
	}
}

// CreateRoom loads the quiz, allocates a unique 6-digit code, and registers
// the room with the requester as host. An empty hostToken gets a fresh one;
// the token is echoed back so the host can reclaim the room after reconnect.
func (s *GameService) CreateRoom(ctx context.Context, quizID, hostToken, hostConnID string) (string, error) {
	quiz, err := s.bank.GetQuiz(ctx, quizID)
	if err != nil {
		return "", err
	}
	if hostToken == "" {
		hostToken = uuid.NewString()
	}

	room := newRoom("", quizID, hostToken, hostConnID, quiz, s.now)
	code, err := s.allocateCode(room)
	if err != nil {
		return "", err
	}
	s.rooms.Bind(hostConnID, code)

	s.emit([]outbound{{hostConnID, domain.Event{
		Type: domain.EventRoomCreated,
		Payload: domain.RoomCreated{
			Code:          code,
			QuizID:        quizID,
			HostToken:     hostToken,
			QuestionCount: len(room.order),
		},
	}}})
	return code, nil
}

// allocateCode draws random 6-digit codes until one is free among active
// rooms. Uniqueness is checked against the registry, never assumed.
func (s *GameService) allocateCode(room *Room) (string, error) {
	for i := 0; i < codeAttempts; i++ {
		code := fmt.Sprintf("%06d", rand.Intn(1000000))
		room.code = code
		if s.rooms.Put(code, room) {
			return code, nil
		}
	}
	return "", fmt.Errorf("allocate room code: %d collisions in a row", codeAttempts)
}

// JoinRoom adds a participant, or reattaches a known one under a new
// connection with score, streak, and answer history intact. Unknown
// participants are rejected once the quiz has started.
func (s *GameService) JoinRoom(code, name, participantID, connID string) (domain.RoomSnapshot, error) {
	room, ok := s.rooms.Get(code)
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}

	room.mu.Lock()
	// The room may have been purged between the lookup and taking the lock;
	// never mutate a room that is no longer registered.
	if current, ok := s.rooms.Get(code); !ok || current != room {
		room.mu.Unlock()
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}
	p, known := room.players[participantID]
	if !known && (room.active || room.completed) {
		room.mu.Unlock()
		return domain.RoomSnapshot{}, domain.ErrAlreadyStarted
	}

	var staleConn string
	if known {
		if p.connID != "" && p.connID != connID {
			staleConn = p.connID
			delete(room.conns, p.connID)
		}
		p.connID = connID
		if name != "" {
			p.name = name
		}
	} else {
		p = &player{
			connID:        connID,
			participantID: participantID,
			name:          name,
		}
		room.players[participantID] = p
	}
	room.conns[connID] = participantID

	snap := room.snapshotLocked(p)
	events := []outbound{{connID, domain.Event{Type: domain.EventJoined, Payload: snap}}}
	view := playerViewLocked(p)
	for _, target := range room.connIDsLocked() {
		if target != connID {
			events = append(events, outbound{target, domain.Event{Type: domain.EventPlayerJoined, Payload: view}})
		}
	}
	if room.completed {
		events = append(events, outbound{connID, domain.Event{
			Type:    domain.EventQuizEnded,
			Payload: room.quizResultLocked(),
		}})
	}
	room.mu.Unlock()

	if staleConn != "" {
		s.rooms.Unbind(staleConn)
	}
	s.rooms.Bind(connID, code)
	s.emit(events)
	return snap, nil
}

// ResumeHost reattaches a reconnecting host. The identity token must match;
// a different identity cannot take over a room that already has a host.
func (s *GameService) ResumeHost(code, hostToken, connID string) (domain.RoomSnapshot, error) {
	room, ok := s.rooms.Get(code)
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrRoomNotFound
	}

	room.mu.Lock()
	if room.hostToken != hostToken {
		err := domain.ErrNotAuthorized
		if room.hostConnID != "" {
			err = domain.ErrAlreadyHosted
		}
		room.mu.Unlock()
		return domain.RoomSnapshot{}, err
	}

	staleConn := room.hostConnID
	room.hostConnID = connID
	// A matching reconnect cancels the host-abandonment timer. The purge
	// timer of a completed room keeps running; the host only gets a window
	// to fetch final results.
	if !room.completed && room.deletionTimer != nil {
		room.deletionTimer.Stop()
		room.deletionTimer = nil
	}

	snap := room.snapshotLocked(nil)
	events := []outbound{{connID, domain.Event{Type: domain.EventJoined, Payload: snap}}}
	for _, target := range room.connIDsLocked() {
		if target != connID {
			events = append(events, outbound{target, domain.Event{
				Type:    domain.EventHostChanged,
				Payload: domain.HostPresence{Connected: true},
			}})
		}
	}
	if room.completed {
		events = append(events, outbound{connID, domain.Event{
			Type:    domain.EventQuizEnded,
			Payload: room.quizResultLocked(),
		}})
	}
	room.mu.Unlock()

	if staleConn != "" && staleConn != connID {
		s.rooms.Unbind(staleConn)
	}
	s.rooms.Bind(connID, code)
	s.emit(events)
	return snap, nil
}

// LeaveRoom removes a participant entirely. Unlike a bare disconnect, an
// explicit leave drops score and history. Hosts leave by deleting the room.
func (s *GameService) LeaveRoom(code, connID string, deleteRoom bool) error {
	if deleteRoom {
		return s.DeleteRoom(code, connID)
	}
	room, ok := s.rooms.Get(code)
	if !ok {
		return domain.ErrRoomNotFound
	}

	room.mu.Lock()
	p, ok := room.playerByConnLocked(connID)
	if !ok {
		room.mu.Unlock()
		return domain.ErrParticipantNotFound
	}
	view := playerViewLocked(p)
	view.Connected = false
	delete(room.players, p.participantID)
	delete(room.conns, connID)

	var events []outbound
	for _, target := range room.connIDsLocked() {
		events = append(events, outbound{target, domain.Event{Type: domain.EventPlayerLeft, Payload: view}})
	}
	// The departing player may have been the last unanswered one.
	if room.active && !room.roundEnded && room.allAnsweredLocked() {
		events = append(events, room.endRoundLocked()...)
	}
	room.mu.Unlock()

	s.rooms.Unbind(connID)
	s.emit(events)
	return nil
}

// StartQuiz activates the room and arms the first question's timer. It is
// re-entrant: starting again resets every player's score, streak, and
// answers.
func (s *GameService) StartQuiz(code, connID string) error {
	room, ok := s.rooms.Get(code)
	if !ok {
		return domain.ErrRoomNotFound
	}

	room.mu.Lock()
	if room.hostConnID != connID {
		room.mu.Unlock()
		return domain.ErrNotAuthorized
	}
	if len(room.order) == 0 {
		room.mu.Unlock()
		return domain.ErrNoQuestions
	}

	if room.deletionTimer != nil && room.completed {
		room.deletionTimer.Stop()
		room.deletionTimer = nil
	}
	room.active = true
	room.completed = false
	room.completedAt = time.Time{}
	room.current = 0
	room.roundEnded = false
	room.questionStart = s.now()
	for _, p := range room.players {
		p.score = 0
		p.streak = 0
		p.correct = 0
		p.lastScored = time.Time{}
		p.answers = nil
	}
	s.armQuestionTimerLocked(room, 0)

	events := s.questionEventsLocked(room)
	room.mu.Unlock()

	s.emit(events)
	return nil
}

// SubmitAnswer validates, scores, and records one answer. If it was the last
// outstanding answer the round ends immediately and the timer is cancelled.
func (s *GameService) SubmitAnswer(code, connID string, answerIndex int) (domain.SubmitResult, error) {
	room, ok := s.rooms.Get(code)
	if !ok {
		return domain.SubmitResult{}, domain.ErrRoomNotFound
	}

	room.mu.Lock()
	if !room.active {
		room.mu.Unlock()
		return domain.SubmitResult{}, domain.ErrNotActive
	}
	p, ok := room.playerByConnLocked(connID)
	if !ok {
		room.mu.Unlock()
		return domain.SubmitResult{}, domain.ErrParticipantNotFound
	}
	// Once the round has ended every player holds a record, so late answers
	// fall through to the same rejection as duplicates.
	if hasRecordLocked(p, room.current) {
		room.mu.Unlock()
		return domain.SubmitResult{}, domain.ErrAlreadyAnswered
	}

	q := room.currentQuestionLocked()
	now := s.now()
	elapsed := now.Sub(room.questionStart)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > q.TimeLimit() {
		elapsed = q.TimeLimit()
	}

	correct := answerIndex == q.CorrectIndex
	awarded := 0
	if correct {
		p.streak++
		p.correct++
		awarded = scoreAnswer(q.Points, elapsed, q.TimeLimit(), p.streak)
		p.score += awarded
		if awarded > 0 {
			p.lastScored = now
		}
	} else {
		p.streak = 0
	}

	idx := answerIndex
	p.answers = append(p.answers, domain.AnswerRecord{
		QuestionID:  q.ID,
		AnswerIndex: &idx,
		Correct:     correct,
		TimeTakenMs: elapsed.Milliseconds(),
	})

	result := domain.SubmitResult{
		Correct:    correct,
		Awarded:    awarded,
		Streak:     p.streak,
		TotalScore: p.score,
	}
	events := []outbound{{connID, domain.Event{Type: domain.EventAnswerResult, Payload: result}}}
	if room.allAnsweredLocked() {
		events = append(events, room.endRoundLocked()...)
	}
	room.mu.Unlock()

	s.emit(events)
	return result, nil
}

// NextQuestion advances the room to the next round, ending the current one
// first if it is still live. Past the last question the quiz completes.
func (s *GameService) NextQuestion(code, connID string) error {
	room, ok := s.rooms.Get(code)
	if !ok {
		return domain.ErrRoomNotFound
	}

	room.mu.Lock()
	if room.hostConnID != connID {
		room.mu.Unlock()
		return domain.ErrNotAuthorized
	}
	if !room.active {
		room.mu.Unlock()
		return domain.ErrNotActive
	}

	var events []outbound
	if !room.roundEnded {
		events = append(events, room.endRoundLocked()...)
	}

	room.current++
	if room.current >= len(room.order) {
		events = append(events, s.completeLocked(room, true)...)
		room.mu.Unlock()
		s.emit(events)
		return nil
	}

	room.roundEnded = false
	room.questionStart = s.now()
	s.armQuestionTimerLocked(room, room.current)
	events = append(events, s.questionEventsLocked(room)...)
	room.mu.Unlock()

	s.emit(events)
	return nil
}

// DeleteRoom tears the room down on host request.
func (s *GameService) DeleteRoom(code, connID string) error {
	room, ok := s.rooms.Get(code)
	if !ok {
		return domain.ErrRoomNotFound
	}
	room.mu.Lock()
	if room.hostConnID != connID {
		room.mu.Unlock()
		return domain.ErrNotAuthorized
	}
	conns, events := s.teardownLocked(room)
	room.mu.Unlock()

	s.removeRoom(code, conns)
	s.emit(events)
	return nil
}

// HandleDisconnect reconciles a dropped connection. Players keep their state
// for a later rejoin; a dropped host starts an abandonment countdown.
func (s *GameService) HandleDisconnect(connID string) {
	room, ok := s.rooms.RoomByConn(connID)
	s.rooms.Unbind(connID)
	if !ok {
		return
	}

	room.mu.Lock()
	// The room may have been deleted between the index lookup and taking the
	// lock; never mutate a room that is no longer registered.
	if current, ok := s.rooms.Get(room.code); !ok || current != room {
		room.mu.Unlock()
		return
	}

	var events []outbound
	switch {
	case room.hostConnID == connID:
		room.hostConnID = ""
		if !room.completed {
			if room.active {
				s.armDeletionTimerLocked(room, s.activeHostGrace, s.forceEnd)
			} else {
				s.armDeletionTimerLocked(room, s.waitingHostGrace, s.purge)
			}
		}
		for _, target := range room.connIDsLocked() {
			events = append(events, outbound{target, domain.Event{
				Type:    domain.EventHostChanged,
				Payload: domain.HostPresence{Connected: false},
			}})
		}
	default:
		p, ok := room.playerByConnLocked(connID)
		if !ok {
			room.mu.Unlock()
			return
		}
		p.connID = ""
		delete(room.conns, connID)
		view := playerViewLocked(p)
		for _, target := range room.connIDsLocked() {
			events = append(events, outbound{target, domain.Event{Type: domain.EventPlayerLeft, Payload: view}})
		}
	}
	room.mu.Unlock()

	s.emit(events)
}

// ActiveRooms returns lightweight summaries for listing.
func (s *GameService) ActiveRooms() []domain.RoomSummary {
	rooms := s.rooms.List()
	summaries := make([]domain.RoomSummary, 0, len(rooms))
	for _, room := range rooms {
		summaries = append(summaries, room.Summary())
	}
	return summaries
}

// Room exposes registry lookup for transports that need snapshot reads.
func (s *GameService) Room(code string) (*Room, bool) {
	return s.rooms.Get(code)
}

// --- timer plumbing ---

// armQuestionTimerLocked replaces any pending question timer with one for the
// given round. The callback re-resolves the room by code so a deleted room is
// never touched through a stale pointer.
func (s *GameService) armQuestionTimerLocked(room *Room, round int) {
	if room.questionTimer != nil {
		room.questionTimer.Stop()
	}
	code := room.code
	d := room.currentQuestionLocked().TimeLimit()
	room.questionTimer = time.AfterFunc(d, func() {
		s.roundTimeout(code, round)
	})
}

func (s *GameService) armDeletionTimerLocked(room *Room, d time.Duration, fire func(code string)) {
	if room.deletionTimer != nil {
		room.deletionTimer.Stop()
	}
	code := room.code
	room.deletionTimer = time.AfterFunc(d, func() {
		fire(code)
	})
}

// roundTimeout is the timer-expiry path for ending a round. It loses the race
// against the all-answered path by design: if roundEnded is already set, or
// the room has moved on to another round, it does nothing.
func (s *GameService) roundTimeout(code string, round int) {
	room, ok := s.rooms.Get(code)
	if !ok {
		return
	}
	room.mu.Lock()
	if !room.active || room.roundEnded || room.current != round {
		room.mu.Unlock()
		return
	}
	events := room.endRoundLocked()
	room.mu.Unlock()
	s.emit(events)
}

// completeLocked finalizes the quiz: rankings, history hand-off, and (unless
// the caller is about to purge) a grace window before the room disappears so
// a reconnecting host can still fetch results.
func (s *GameService) completeLocked(room *Room, armPurge bool) []outbound {
	if room.questionTimer != nil {
		room.questionTimer.Stop()
		room.questionTimer = nil
	}
	room.active = false
	room.completed = true
	room.completedAt = s.now()

	result := room.quizResultLocked()
	go s.recordHistory(result)

	if armPurge {
		s.armDeletionTimerLocked(room, s.completedGrace, s.purge)
	}

	var events []outbound
	for _, target := range room.connIDsLocked() {
		events = append(events, outbound{target, domain.Event{Type: domain.EventQuizEnded, Payload: result}})
	}
	return events
}

// recordHistory is fire-and-forget; losing a history row never disturbs the
// room or its participants.
func (s *GameService) recordHistory(result domain.QuizResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.history.Record(ctx, result); err != nil {
		log.Printf("record quiz history for room %s: %v", result.RoomCode, err)
	}
}

// purge removes the room after a grace period.
func (s *GameService) purge(code string) {
	room, ok := s.rooms.Get(code)
	if !ok {
		return
	}
	room.mu.Lock()
	conns, events := s.teardownLocked(room)
	room.mu.Unlock()

	s.removeRoom(code, conns)
	s.emit(events)
}

// forceEnd finishes an abandoned active quiz and tears the room down.
func (s *GameService) forceEnd(code string) {
	room, ok := s.rooms.Get(code)
	if !ok {
		return
	}
	room.mu.Lock()
	var events []outbound
	if room.active {
		if !room.roundEnded {
			events = append(events, room.endRoundLocked()...)
		}
		events = append(events, s.completeLocked(room, false)...)
	}
	conns, teardown := s.teardownLocked(room)
	events = append(events, teardown...)
	room.mu.Unlock()

	s.removeRoom(code, conns)
	s.emit(events)
}

// teardownLocked stops timers and prepares the room_deleted fan-out. Timers
// must die before the registry entry does.
func (s *GameService) teardownLocked(room *Room) ([]string, []outbound) {
	room.stopTimersLocked()
	conns := room.connIDsLocked()
	events := make([]outbound, 0, len(conns))
	for _, target := range conns {
		events = append(events, outbound{target, domain.Event{
			Type:    domain.EventRoomDeleted,
			Payload: domain.RoomDeleted{Code: room.code},
		}})
	}
	return conns, events
}

func (s *GameService) removeRoom(code string, conns []string) {
	for _, connID := range conns {
		s.rooms.Unbind(connID)
	}
	s.rooms.Delete(code)
}

// questionEventsLocked builds the personalized new-question fan-out.
func (s *GameService) questionEventsLocked(room *Room) []outbound {
	var events []outbound
	if room.hostConnID != "" {
		view := room.questionViewLocked(nil)
		events = append(events, outbound{room.hostConnID, domain.Event{Type: domain.EventQuestion, Payload: view}})
	}
	for _, p := range room.players {
		if p.connID == "" {
			continue
		}
		view := room.questionViewLocked(p)
		events = append(events, outbound{p.connID, domain.Event{Type: domain.EventQuestion, Payload: view}})
	}
	return events
}
