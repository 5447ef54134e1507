package domain

import "fmt"

// Defaults applied to loaded quiz content.
const (
	DefaultTimeLimitSec = 30
	DefaultPoints       = 100
)

// PrepareQuiz validates loaded quiz content and fills in defaults. Rooms
// copy questions at creation, so rejecting bad content here keeps every
// room's question set well-formed for its whole lifetime.
func PrepareQuiz(quiz Quiz) (Quiz, error) {
	for i := range quiz.Questions {
		q := &quiz.Questions[i]
		if q.ID == "" {
			return Quiz{}, fmt.Errorf("quiz %s: question %d has no id", quiz.ID, i)
		}
		if len(q.Options) != OptionsPerQuestion {
			return Quiz{}, fmt.Errorf("quiz %s: question %s has %d options, want %d", quiz.ID, q.ID, len(q.Options), OptionsPerQuestion)
		}
		if q.CorrectIndex < 0 || q.CorrectIndex >= OptionsPerQuestion {
			return Quiz{}, fmt.Errorf("quiz %s: question %s correct index %d out of range", quiz.ID, q.ID, q.CorrectIndex)
		}
		if q.TimeLimitSec <= 0 {
			q.TimeLimitSec = DefaultTimeLimitSec
		}
		if q.Points <= 0 {
			q.Points = DefaultPoints
		}
	}
	return quiz, nil
}
