package memory

import (
	"context"
	"testing"
	"time"

	"quizroom/internal/domain"
)

func TestQuizRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(loader, time.Minute)

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}
}

func TestQuizRepositoryAppliesDefaults(t *testing.T) {
	quiz := sampleQuiz()
	quiz.Questions[0].TimeLimitSec = 0
	quiz.Questions[0].Points = 0
	repo := NewQuizRepository(NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": quiz}), time.Minute)

	got, err := repo.GetQuiz(context.Background(), "quiz-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if got.Questions[0].TimeLimitSec != domain.DefaultTimeLimitSec {
		t.Fatalf("expected default time limit, got %d", got.Questions[0].TimeLimitSec)
	}
	if got.Questions[0].Points != domain.DefaultPoints {
		t.Fatalf("expected default points, got %d", got.Questions[0].Points)
	}
}

func TestQuizRepositoryRejectsMalformedQuiz(t *testing.T) {
	quiz := sampleQuiz()
	quiz.Questions[0].Options = []string{"only", "three", "options"}
	repo := NewQuizRepository(NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": quiz}), time.Minute)

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err == nil {
		t.Fatalf("expected validation error for wrong option count")
	}
}

type countingLoader struct {
	QuizLoader
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls++
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "quiz-1",
		Questions: []domain.Question{
			{
				ID:           "q1",
				Text:         "What is 2 + 2?",
				Options:      []string{"3", "4", "5", "22"},
				CorrectIndex: 1,
				TimeLimitSec: 20,
				Points:       100,
			},
		},
	}
}
