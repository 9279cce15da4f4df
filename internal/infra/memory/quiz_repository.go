package memory

import (
	"context"
	"strings"
	"sync"

	"live-quiz-service/internal/domain"
)

// QuizRepository is an in-memory quiz document store for tests and the
// no-database demo mode. Names are keyed case-insensitively.
type QuizRepository struct {
	mu      sync.RWMutex
	quizzes map[string]domain.Quiz
}

func NewQuizRepository() *QuizRepository {
	return &QuizRepository{quizzes: make(map[string]domain.Quiz)}
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *QuizRepository) GetQuiz(_ context.Context, name string) (domain.Quiz, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if quiz, ok := r.quizzes[key(name)]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func (r *QuizRepository) SaveQuiz(_ context.Context, quiz domain.Quiz) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quizzes[key(quiz.Name)] = quiz
	return nil
}

func (r *QuizRepository) DeleteQuiz(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.quizzes, key(name))
	return nil
}

func (r *QuizRepository) QuizzesInStates(_ context.Context, states ...domain.QuizState) ([]domain.Quiz, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Quiz
	for _, quiz := range r.quizzes {
		for _, state := range states {
			if quiz.State == state {
				out = append(out, quiz)
				break
			}
		}
	}
	return out, nil
}
