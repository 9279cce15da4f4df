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

// MemberRepository stores attendee documents as JSONB rows, one per member,
// unique per quiz on lower(name).
type MemberRepository struct {
	pool *pgxpool.Pool
}

func NewMemberRepository(pool *pgxpool.Pool) *MemberRepository {
	return &MemberRepository{pool: pool}
}

func (r *MemberRepository) MembersOfQuiz(ctx context.Context, quizName string) ([]domain.Member, error) {
	rows, err := r.pool.Query(ctx, `SELECT data FROM members WHERE lower(quiz_name)=lower($1)`, quizName)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []domain.Member
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		var m domain.Member
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("unmarshal member: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MemberRepository) GetMember(ctx context.Context, quizName, memberName string) (domain.Member, error) {
	var raw []byte
	err := r.pool.QueryRow(ctx,
		`SELECT data FROM members WHERE lower(quiz_name)=lower($1) AND lower(name)=lower($2)`,
		quizName, memberName).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Member{}, domain.ErrMemberNotFound
	}
	if err != nil {
		return domain.Member{}, fmt.Errorf("load member: %w", err)
	}
	var m domain.Member
	if err := json.Unmarshal(raw, &m); err != nil {
		return domain.Member{}, fmt.Errorf("unmarshal member: %w", err)
	}
	return m, nil
}

func (r *MemberRepository) AddMember(ctx context.Context, member domain.Member) error {
	data, err := json.Marshal(member)
	if err != nil {
		return fmt.Errorf("marshal member: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO members (quiz_name, name, data) VALUES ($1, $2, $3)
		ON CONFLICT ((lower(quiz_name)), (lower(name))) DO NOTHING`,
		member.QuizName, member.Name, data)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDuplicateMember
	}
	return nil
}

func (r *MemberRepository) SaveMember(ctx context.Context, member domain.Member) error {
	data, err := json.Marshal(member)
	if err != nil {
		return fmt.Errorf("marshal member: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO members (quiz_name, name, data) VALUES ($1, $2, $3)
		ON CONFLICT ((lower(quiz_name)), (lower(name))) DO UPDATE SET data=EXCLUDED.data`,
		member.QuizName, member.Name, data)
	if err != nil {
		return fmt.Errorf("save member: %w", err)
	}
	return nil
}

func (r *MemberRepository) RemoveMember(ctx context.Context, quizName, memberName string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM members WHERE lower(quiz_name)=lower($1) AND lower(name)=lower($2)`,
		quizName, memberName)
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *MemberRepository) RemoveMembersOfQuiz(ctx context.Context, quizName string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM members WHERE lower(quiz_name)=lower($1)`, quizName); err != nil {
		return fmt.Errorf("remove quiz members: %w", err)
	}
	return nil
}
