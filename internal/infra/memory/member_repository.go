package memory

import (
	"context"
	"sync"

	"live-quiz-service/internal/domain"
)

// MemberRepository is the in-memory attendee store. Member names are unique
// per quiz, case-insensitively.
type MemberRepository struct {
	mu      sync.RWMutex
	members map[string]map[string]domain.Member // quiz key -> member key -> member
}

func NewMemberRepository() *MemberRepository {
	return &MemberRepository{members: make(map[string]map[string]domain.Member)}
}

func (r *MemberRepository) MembersOfQuiz(_ context.Context, quizName string) ([]domain.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.Member
	for _, m := range r.members[key(quizName)] {
		out = append(out, m)
	}
	return out, nil
}

func (r *MemberRepository) GetMember(_ context.Context, quizName, memberName string) (domain.Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.members[key(quizName)][key(memberName)]; ok {
		return m, nil
	}
	return domain.Member{}, domain.ErrMemberNotFound
}

func (r *MemberRepository) AddMember(_ context.Context, member domain.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	qk := key(member.QuizName)
	if r.members[qk] == nil {
		r.members[qk] = make(map[string]domain.Member)
	}
	if _, ok := r.members[qk][key(member.Name)]; ok {
		return domain.ErrDuplicateMember
	}
	r.members[qk][key(member.Name)] = member
	return nil
}

func (r *MemberRepository) SaveMember(_ context.Context, member domain.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	qk := key(member.QuizName)
	if r.members[qk] == nil {
		r.members[qk] = make(map[string]domain.Member)
	}
	r.members[qk][key(member.Name)] = member
	return nil
}

func (r *MemberRepository) RemoveMember(_ context.Context, quizName, memberName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	qk := key(quizName)
	if _, ok := r.members[qk][key(memberName)]; !ok {
		return false, nil
	}
	delete(r.members[qk], key(memberName))
	if len(r.members[qk]) == 0 {
		delete(r.members, qk)
	}
	return true, nil
}

func (r *MemberRepository) RemoveMembersOfQuiz(_ context.Context, quizName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, key(quizName))
	return nil
}
