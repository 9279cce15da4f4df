package domain

import (
	"fmt"
	"strings"
	"time"
)

// QuizState is the lifecycle state of a quiz session.
type QuizState string

const (
	StateInactive QuizState = "inactive"
	StateActive   QuizState = "active"
	StateRunning  QuizState = "running"
	StateFinished QuizState = "finished"
)

// RunPhase is the sub-state of a running question. The two-phase start
// (reading confirmation before the countdown) is modelled here explicitly
// instead of a boolean side flag.
type RunPhase string

const (
	PhaseIdle                 RunPhase = "idle"
	PhaseAwaitingConfirmation RunPhase = "awaiting_confirmation"
	PhaseCounting             RunPhase = "counting"
)

// Sentinel values for "nothing running" / "not started".
const (
	NoQuestion  = -1
	NoTimestamp = int64(-1)
)

// NicknamePolicy restricts which member names a quiz accepts.
type NicknamePolicy struct {
	Disallowed  []string `json:"disallowed,omitempty"`
	CASRequired bool     `json:"casRequired,omitempty"` // joining requires a verified ticket
}

// SessionConfig is the per-quiz session configuration.
type SessionConfig struct {
	ReadingConfirmationEnabled bool           `json:"readingConfirmationEnabled"`
	MemberGroups               []string       `json:"memberGroups,omitempty"`
	Nickname                   NicknamePolicy `json:"nickname,omitempty"`
}

// Quiz is one moderated session: an ordered question list plus lifecycle state.
// Names are unique case-insensitively across the store.
type Quiz struct {
	Name                  string        `json:"name"`
	State                 QuizState     `json:"state"`
	Questions             []Question    `json:"questions"`
	CurrentQuestionIndex  int           `json:"currentQuestionIndex"`  // NoQuestion = not started
	CurrentStartTimestamp int64         `json:"currentStartTimestamp"` // epoch millis, NoTimestamp = none
	Phase                 RunPhase      `json:"phase"`
	Config                SessionConfig `json:"config"`
	PrivateKey            string        `json:"privateKey,omitempty"` // owner credential
	Public                bool          `json:"public"`
	Expiry                *time.Time    `json:"expiry,omitempty"`
}

// Validate checks quiz-level invariants and every question.
func (q Quiz) Validate() error {
	if strings.TrimSpace(q.Name) == "" {
		return fmt.Errorf("quiz name must not be empty")
	}
	if q.CurrentQuestionIndex < NoQuestion || q.CurrentQuestionIndex > len(q.Questions) {
		return fmt.Errorf("current question index %d out of range", q.CurrentQuestionIndex)
	}
	for i, question := range q.Questions {
		if err := question.Validate(); err != nil {
			return fmt.Errorf("question %d: %w", i, err)
		}
	}
	return nil
}

// HasGroup reports whether the quiz config defines the named member group.
// Quizzes without any configured group accept the default group name only.
func (q Quiz) HasGroup(name string) bool {
	if len(q.Config.MemberGroups) == 0 {
		return name == DefaultMemberGroup
	}
	for _, g := range q.Config.MemberGroups {
		if strings.EqualFold(g, name) {
			return true
		}
	}
	return false
}

// Expired reports whether the quiz has an expiry date in the past.
func (q Quiz) Expired(now time.Time) bool {
	return q.Expiry != nil && q.Expiry.Before(now)
}

// CurrentQuestion returns the question the pointer addresses, if any.
func (q Quiz) CurrentQuestion() (Question, bool) {
	if q.CurrentQuestionIndex < 0 || q.CurrentQuestionIndex >= len(q.Questions) {
		return Question{}, false
	}
	return q.Questions[q.CurrentQuestionIndex], true
}

// DefaultMemberGroup is used when a quiz defines no member groups.
const DefaultMemberGroup = "Default"
