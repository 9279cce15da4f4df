package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"live-quiz-service/internal/domain"
)

// QuizRepository stores quiz documents as JSONB rows. The unique index on
// lower(name) enforces the case-insensitive name constraint in the database,
// not in application code.
type QuizRepository struct {
	pool *pgxpool.Pool
}

func NewQuizRepository(pool *pgxpool.Pool) *QuizRepository {
	return &QuizRepository{pool: pool}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, name string) (domain.Quiz, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE lower(name)=lower($1)`, name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, domain.ErrQuizNotFound
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	return quiz, nil
}

func (r *QuizRepository) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	data, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO quizzes (name, data) VALUES ($1, $2)
		ON CONFLICT ((lower(name))) DO UPDATE SET data=EXCLUDED.data`,
		quiz.Name, data)
	if err != nil {
		return fmt.Errorf("save quiz: %w", err)
	}
	return nil
}

func (r *QuizRepository) DeleteQuiz(ctx context.Context, name string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM members WHERE lower(quiz_name)=lower($1)`, name); err != nil {
		return fmt.Errorf("delete quiz members: %w", err)
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM quizzes WHERE lower(name)=lower($1)`, name); err != nil {
		return fmt.Errorf("delete quiz: %w", err)
	}
	return nil
}

func (r *QuizRepository) QuizzesInStates(ctx context.Context, states ...domain.QuizState) ([]domain.Quiz, error) {
	wanted := make([]string, len(states))
	for i, s := range states {
		wanted[i] = string(s)
	}
	rows, err := r.pool.Query(ctx, `SELECT data FROM quizzes WHERE data->>'state' = ANY($1)`, wanted)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	defer rows.Close()

	var out []domain.Quiz
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan quiz: %w", err)
		}
		var quiz domain.Quiz
		if err := json.Unmarshal(raw, &quiz); err != nil {
			return nil, fmt.Errorf("unmarshal quiz: %w", err)
		}
		out = append(out, quiz)
	}
	return out, rows.Err()
}
