package domain

import "time"

// OptionsPerQuestion is fixed for every question in every quiz.
const OptionsPerQuestion = 4

// Question models a timed MCQ question with exactly four options.
type Question struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	CorrectIndex int      `json:"correctIndex"`
	TimeLimitSec int      `json:"timeLimitSec"` // defaults to 30 if zero
	Points       int      `json:"points"`       // defaults to 100 if zero
}

// TimeLimit returns the answering window as a duration.
func (q Question) TimeLimit() time.Duration {
	return time.Duration(q.TimeLimitSec) * time.Second
}

// Quiz is an ordered collection of questions, immutable once loaded.
type Quiz struct {
	ID        string     `json:"id"`
	Questions []Question `json:"questions"`
}

// AnswerRecord captures one participant's outcome for one question.
// AnswerIndex is nil when the participant never answered before the deadline.
type AnswerRecord struct {
	QuestionID  string `json:"questionId"`
	AnswerIndex *int   `json:"answerIndex"`
	Correct     bool   `json:"correct"`
	TimeTakenMs int64  `json:"timeTakenMs"`
}

// SubmitResult summarizes the outcome of a submission for the answering player.
type SubmitResult struct {
	Correct    bool `json:"correct"`
	Awarded    int  `json:"awarded"`
	Streak     int  `json:"streak"`
	TotalScore int  `json:"totalScore"`
}

// PlayerView is the broadcast-safe projection of a player.
type PlayerView struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	Score         int    `json:"score"`
	Streak        int    `json:"streak"`
	Connected     bool   `json:"connected"`
}

// QuestionView is what players see while a round is live. The correct index
// is never included.
type QuestionView struct {
	Index        int      `json:"index"`
	Total        int      `json:"total"`
	Text         string   `json:"text"`
	Options      []string `json:"options"`
	TimeLimitSec int      `json:"timeLimitSec"`
	RemainingSec int      `json:"remainingSec"`
	Score        int      `json:"score"`
	Streak       int      `json:"streak"`
	HasAnswered  bool     `json:"hasAnswered"`
}

// PlayerAnswerView pairs a player with their record for one finished round.
type PlayerAnswerView struct {
	ParticipantID string       `json:"participantId"`
	Name          string       `json:"name"`
	Score         int          `json:"score"`
	Answer        AnswerRecord `json:"answer"`
}

// RoundResult is broadcast when a round ends, revealing the correct answer.
type RoundResult struct {
	QuestionIndex int                `json:"questionIndex"`
	CorrectIndex  int                `json:"correctIndex"`
	Answers       []PlayerAnswerView `json:"answers"`
}

// RankingEntry is one row of the final scoreboard.
type RankingEntry struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	Score         int    `json:"score"`
	CorrectCount  int    `json:"correctCount"`
}

// QuizResult is the completed-room snapshot handed to the history sink.
type QuizResult struct {
	RoomCode    string         `json:"roomCode"`
	QuizID      string         `json:"quizId"`
	Rankings    []RankingEntry `json:"rankings"`
	CompletedAt time.Time      `json:"completedAt"`
}

// RoomSummary is the lightweight listing view; no answer history.
type RoomSummary struct {
	Code        string `json:"code"`
	QuizID      string `json:"quizId"`
	PlayerCount int    `json:"playerCount"`
	Active      bool   `json:"active"`
	Completed   bool   `json:"completed"`
}

// RoomSnapshot is returned on join/rejoin so a (re)connecting client can
// render the room without waiting for the next broadcast. At most one of
// Question or Round is set, depending on whether the round is still live.
type RoomSnapshot struct {
	Code      string        `json:"code"`
	QuizID    string        `json:"quizId"`
	Active    bool          `json:"active"`
	Completed bool          `json:"completed"`
	You       PlayerView    `json:"you"`
	Players   []PlayerView  `json:"players"`
	Question  *QuestionView `json:"question,omitempty"`
	Round     *RoundResult  `json:"round,omitempty"`
}

// RoomCreated is the unicast reply to a successful room creation. The host
// token comes back so a reconnecting host can reclaim the room.
type RoomCreated struct {
	Code          string `json:"code"`
	QuizID        string `json:"quizId"`
	HostToken     string `json:"hostToken"`
	QuestionCount int    `json:"questionCount"`
}

// HostPresence announces the host dropping or returning.
type HostPresence struct {
	Connected bool `json:"connected"`
}

// RoomDeleted announces a room teardown to its members.
type RoomDeleted struct {
	Code string `json:"code"`
}

// Error codes grouped by the recoverable-error taxonomy.
const (
	ErrorCodeNotFound     = "not_found"
	ErrorCodeUnauthorized = "unauthorized"
	ErrorCodeInvalidState = "invalid_state"
	ErrorCodeInternal     = "internal"
)

// ErrorPayload is the typed error response sent to the originating
// connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is the tagged envelope for every outbound real-time message.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Outbound event types.
const (
	EventRoomCreated  = "room_created"
	EventJoined       = "joined"
	EventPlayerJoined = "player_joined"
	EventPlayerLeft   = "player_left"
	EventHostChanged  = "host_changed"
	EventQuestion     = "question"
	EventAnswerResult = "answer_result"
	EventRoundEnded   = "round_ended"
	EventQuizEnded    = "quiz_ended"
	EventRoomDeleted  = "room_deleted"
	EventError        = "error"
)
