package domain

import (
	"fmt"
	"hash/fnv"
)

// ResponseValue carries the answer payload for any question variant. Exactly
// one of the fields is meaningful for a given variant: selected indices for
// choice questions, Number for ranged, Text for free-text.
type ResponseValue struct {
	SelectedIndices []int    `json:"selectedIndices,omitempty"`
	Number          *float64 `json:"number,omitempty"`
	Text            string   `json:"text,omitempty"`
}

// Response is one member's answer slot for one question index.
type Response struct {
	Value               ResponseValue `json:"value"`
	ResponseTime        int64         `json:"responseTime"` // ms since question start; -1 = unanswered
	Confidence          int           `json:"confidence"`   // -1 = unset
	ReadingConfirmation bool          `json:"readingConfirmation"`
}

// Answered reports whether the slot already holds a submission. Once answered
// the slot is immutable; a second submission must be rejected.
func (r Response) Answered() bool {
	return r.ResponseTime != NoTimestamp
}

// EmptyResponse is the initial state of every response slot.
func EmptyResponse() Response {
	return Response{ResponseTime: NoTimestamp, Confidence: -1}
}

// EmptyResponses builds n fresh slots, one per question.
func EmptyResponses(n int) []Response {
	out := make([]Response, n)
	for i := range out {
		out[i] = EmptyResponse()
	}
	return out
}

// Member is one attendee of a quiz. Names are unique within a quiz,
// case-insensitively. Responses hold one slot per question of the quiz.
type Member struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	GroupName string     `json:"groupName"`
	ColorCode string     `json:"colorCode"`
	Token     string     `json:"token,omitempty"`
	QuizName  string     `json:"quizName"`
	Responses []Response `json:"responses"`
}

// ColorCodeFor derives a stable display color from a member name.
func ColorCodeFor(name string) string {
	h := fnv.New32a()
	h.Write([]byte(name))
	return fmt.Sprintf("#%06x", h.Sum32()&0xffffff)
}
