package app

import (
	"sort"
	"sync"
	"time"

	"quizroom/internal/domain"
)

// Room is one live quiz session, keyed by its 6-digit code. All fields are
// guarded by mu; the service takes the lock, mutates through the *Locked
// helpers, collects outbound events, and releases before sending anything.
type Room struct {
	mu sync.Mutex

	code   string
	quizID string

	hostConnID string // empty while the host is disconnected
	hostToken  string // stable across host reconnects

	active      bool
	completed   bool
	completedAt time.Time

	current   int
	order     []string
	questions map[string]domain.Question

	players map[string]*player // participantID -> player
	conns   map[string]string  // connectionID -> participantID

	questionStart time.Time
	roundEnded    bool

	questionTimer *time.Timer
	deletionTimer *time.Timer

	now func() time.Time
}

// player is a participant's state within one room. It survives disconnects
// (connID cleared) and is removed only on explicit leave or room teardown.
type player struct {
	connID        string
	participantID string
	name          string
	score         int
	streak        int
	correct       int
	lastScored    time.Time
	answers       []domain.AnswerRecord
}

func newRoom(code, quizID, hostToken, hostConnID string, quiz domain.Quiz, now func() time.Time) *Room {
	order := make([]string, 0, len(quiz.Questions))
	questions := make(map[string]domain.Question, len(quiz.Questions))
	for _, q := range quiz.Questions {
		order = append(order, q.ID)
		questions[q.ID] = q
	}
	return &Room{
		code:       code,
		quizID:     quizID,
		hostToken:  hostToken,
		hostConnID: hostConnID,
		order:      order,
		questions:  questions,
		players:    make(map[string]*player),
		conns:      make(map[string]string),
		now:        now,
	}
}

// Code returns the room's 6-digit code.
func (r *Room) Code() string {
	return r.code
}

func (r *Room) currentQuestionLocked() domain.Question {
	return r.questions[r.order[r.current]]
}

// hasRecordLocked reports whether p already answered the current question.
// Answers are appended in round order, so the length encodes coverage.
func hasRecordLocked(p *player, current int) bool {
	return len(p.answers) > current
}

func (r *Room) playerByConnLocked(connID string) (*player, bool) {
	pid, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	p, ok := r.players[pid]
	return p, ok
}

// connIDsLocked lists every live connection in the room, host included.
func (r *Room) connIDsLocked() []string {
	ids := make([]string, 0, len(r.conns)+1)
	if r.hostConnID != "" {
		ids = append(ids, r.hostConnID)
	}
	for id := range r.conns {
		if id != r.hostConnID {
			ids = append(ids, id)
		}
	}
	return ids
}

func playerViewLocked(p *player) domain.PlayerView {
	return domain.PlayerView{
		ParticipantID: p.participantID,
		Name:          p.name,
		Score:         p.score,
		Streak:        p.streak,
		Connected:     p.connID != "",
	}
}

func (r *Room) playerViewsLocked() []domain.PlayerView {
	views := make([]domain.PlayerView, 0, len(r.players))
	for _, p := range r.players {
		views = append(views, playerViewLocked(p))
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Name < views[j].Name })
	return views
}

// questionViewLocked builds the live-round view personalized for p. Pass nil
// for the host view.
func (r *Room) questionViewLocked(p *player) domain.QuestionView {
	q := r.currentQuestionLocked()
	remaining := q.TimeLimit() - r.now().Sub(r.questionStart)
	if remaining < 0 {
		remaining = 0
	}
	view := domain.QuestionView{
		Index:        r.current,
		Total:        len(r.order),
		Text:         q.Text,
		Options:      q.Options,
		TimeLimitSec: q.TimeLimitSec,
		RemainingSec: int(remaining / time.Second),
	}
	if p != nil {
		view.Score = p.score
		view.Streak = p.streak
		view.HasAnswered = hasRecordLocked(p, r.current)
	}
	return view
}

// roundResultLocked builds the end-of-round reveal. Players without a record
// (possible only on the rejoin-near-deadline path, before endRound has run)
// are shown with a null, incorrect answer; their stored state is untouched.
func (r *Room) roundResultLocked() domain.RoundResult {
	q := r.currentQuestionLocked()
	result := domain.RoundResult{
		QuestionIndex: r.current,
		CorrectIndex:  q.CorrectIndex,
	}
	for _, p := range r.players {
		record := domain.AnswerRecord{
			QuestionID:  q.ID,
			TimeTakenMs: q.TimeLimit().Milliseconds(),
		}
		if hasRecordLocked(p, r.current) {
			record = p.answers[r.current]
		}
		result.Answers = append(result.Answers, domain.PlayerAnswerView{
			ParticipantID: p.participantID,
			Name:          p.name,
			Score:         p.score,
			Answer:        record,
		})
	}
	sort.Slice(result.Answers, func(i, j int) bool {
		if result.Answers[i].Score != result.Answers[j].Score {
			return result.Answers[i].Score > result.Answers[j].Score
		}
		return result.Answers[i].Name < result.Answers[j].Name
	})
	return result
}

// snapshotLocked builds the join/rejoin view for one participant. While a
// round is live it carries the question; within the last second of a round,
// or once the round has ended, it carries the reveal instead so a rejoining
// client does not render a question that is about to close. Serving the
// reveal to a player without a record locks in their missed answer: the
// null, incorrect record is written and the streak reset, so the revealed
// correct index can no longer be submitted for points.
func (r *Room) snapshotLocked(p *player) domain.RoomSnapshot {
	snap := domain.RoomSnapshot{
		Code:      r.code,
		QuizID:    r.quizID,
		Active:    r.active,
		Completed: r.completed,
	}
	if r.active {
		q := r.currentQuestionLocked()
		remaining := q.TimeLimit() - r.now().Sub(r.questionStart)
		if r.roundEnded || remaining <= time.Second {
			if p != nil && !hasRecordLocked(p, r.current) {
				p.streak = 0
				p.answers = append(p.answers, domain.AnswerRecord{
					QuestionID:  q.ID,
					AnswerIndex: nil,
					Correct:     false,
					TimeTakenMs: q.TimeLimit().Milliseconds(),
				})
			}
			round := r.roundResultLocked()
			snap.Round = &round
		} else {
			view := r.questionViewLocked(p)
			snap.Question = &view
		}
	}
	snap.Players = r.playerViewsLocked()
	if p != nil {
		snap.You = playerViewLocked(p)
	}
	return snap
}

func (r *Room) summaryLocked() domain.RoomSummary {
	return domain.RoomSummary{
		Code:        r.code,
		QuizID:      r.quizID,
		PlayerCount: len(r.players),
		Active:      r.active,
		Completed:   r.completed,
	}
}

// Snapshot returns the join view for one participant; an unknown or empty
// id yields the host perspective.
func (r *Room) Snapshot(participantID string) domain.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(r.players[participantID])
}

// Summary returns the lightweight listing view.
func (r *Room) Summary() domain.RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked()
}

// rankingsLocked orders players by score descending. Ties break by who
// reached their score first, then by name, so the order is deterministic.
func (r *Room) rankingsLocked() []domain.RankingEntry {
	players := make([]*player, 0, len(r.players))
	for _, p := range r.players {
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].score != players[j].score {
			return players[i].score > players[j].score
		}
		if !players[i].lastScored.Equal(players[j].lastScored) {
			return players[i].lastScored.Before(players[j].lastScored)
		}
		return players[i].name < players[j].name
	})
	entries := make([]domain.RankingEntry, 0, len(players))
	for i, p := range players {
		entries = append(entries, domain.RankingEntry{
			Rank:          i + 1,
			ParticipantID: p.participantID,
			Name:          p.name,
			Score:         p.score,
			CorrectCount:  p.correct,
		})
	}
	return entries
}

// allAnsweredLocked reports whether every known player holds a record for
// the current question.
func (r *Room) allAnsweredLocked() bool {
	for _, p := range r.players {
		if !hasRecordLocked(p, r.current) {
			return false
		}
	}
	return true
}

// endRoundLocked flips the round into its ended state exactly once. Players
// who never answered get a synthesized null, incorrect record charged the
// full time limit, and their streak resets. A second call for the same round
// returns nothing and changes nothing.
func (r *Room) endRoundLocked() []outbound {
	if r.roundEnded {
		return nil
	}
	r.roundEnded = true
	if r.questionTimer != nil {
		r.questionTimer.Stop()
		r.questionTimer = nil
	}

	q := r.currentQuestionLocked()
	for _, p := range r.players {
		if hasRecordLocked(p, r.current) {
			continue
		}
		p.streak = 0
		p.answers = append(p.answers, domain.AnswerRecord{
			QuestionID:  q.ID,
			AnswerIndex: nil,
			Correct:     false,
			TimeTakenMs: q.TimeLimit().Milliseconds(),
		})
	}

	result := r.roundResultLocked()
	conns := r.connIDsLocked()
	events := make([]outbound, 0, len(conns))
	for _, target := range conns {
		events = append(events, outbound{target, domain.Event{Type: domain.EventRoundEnded, Payload: result}})
	}
	return events
}

// quizResultLocked assembles the completed-room snapshot with rankings.
func (r *Room) quizResultLocked() domain.QuizResult {
	completedAt := r.completedAt
	if completedAt.IsZero() {
		completedAt = r.now()
	}
	return domain.QuizResult{
		RoomCode:    r.code,
		QuizID:      r.quizID,
		Rankings:    r.rankingsLocked(),
		CompletedAt: completedAt,
	}
}

// stopTimersLocked cancels every pending timer. Must run before the room is
// removed from the registry so no stale callback touches freed state.
func (r *Room) stopTimersLocked() {
	if r.questionTimer != nil {
		r.questionTimer.Stop()
		r.questionTimer = nil
	}
	if r.deletionTimer != nil {
		r.deletionTimer.Stop()
		r.deletionTimer = nil
	}
}
