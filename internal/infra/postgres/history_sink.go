package postgres

import (
	"context"
	"fmt"
	"time"

	"quizroom/internal/domain"
	"github.com/uptrace/bun"
)

// QuizResultRow is one player's row in the durable quiz_results history.
type QuizResultRow struct {
	bun.BaseModel `bun:"table:quiz_results"`

	ID            int64     `bun:"id,pk,autoincrement"`
	RoomCode      string    `bun:"room_code,notnull"`
	QuizID        string    `bun:"quiz_id,notnull"`
	ParticipantID string    `bun:"participant_id,notnull"`
	Name          string    `bun:"name,notnull"`
	Rank          int       `bun:"rank,notnull"`
	Score         int       `bun:"score,notnull"`
	CorrectCount  int       `bun:"correct_count,notnull"`
	CompletedAt   time.Time `bun:"completed_at,notnull"`
}

// HistorySink persists completed-room rankings, one row per player.
type HistorySink struct {
	db *bun.DB
}

func NewHistorySink(db *bun.DB) *HistorySink {
	return &HistorySink{db: db}
}

func (s *HistorySink) Record(ctx context.Context, result domain.QuizResult) error {
	if len(result.Rankings) == 0 {
		return nil
	}
	rows := make([]QuizResultRow, 0, len(result.Rankings))
	for _, entry := range result.Rankings {
		rows = append(rows, QuizResultRow{
			RoomCode:      result.RoomCode,
			QuizID:        result.QuizID,
			ParticipantID: entry.ParticipantID,
			Name:          entry.Name,
			Rank:          entry.Rank,
			Score:         entry.Score,
			CorrectCount:  entry.CorrectCount,
			CompletedAt:   result.CompletedAt,
		})
	}
	if _, err := s.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return fmt.Errorf("insert quiz results: %w", err)
	}
	return nil
}
