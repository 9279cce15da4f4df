package domain

import (
	"fmt"
	"strings"
	"unicode"
)

// QuestionType tags the question variant. Every switch over it must carry a
// default branch returning ErrUnknownQuestionType so that adding a variant
// without updating a consumer fails loudly instead of guessing.
type QuestionType string

const (
	SingleChoice     QuestionType = "single_choice"
	MultipleChoice   QuestionType = "multiple_choice"
	Ranged           QuestionType = "ranged"
	FreeText         QuestionType = "free_text"
	Survey           QuestionType = "survey"
	YesNo            QuestionType = "yes_no"
	TrueFalse        QuestionType = "true_false"
	ABCDSingleChoice QuestionType = "abcd_single_choice"
	ABCDSurvey       QuestionType = "abcd_survey"
)

// AnswerOption is one selectable answer of a choice-style question.
type AnswerOption struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// FreeTextMatch configures how a free-text answer is compared to the reference.
type FreeTextMatch struct {
	Reference        string `json:"reference"`
	CaseSensitive    bool   `json:"caseSensitive"`
	TrimWhitespace   bool   `json:"trimWhitespace"`
	StripPunctuation bool   `json:"stripPunctuation"`
	KeywordMatch     bool   `json:"keywordMatch"` // every reference word must appear, order-free
}

// Question is a tagged union over the supported variants. Only the fields for
// the tagged variant are meaningful.
type Question struct {
	Type    QuestionType   `json:"type"`
	Text    string         `json:"text"`
	Timer   int            `json:"timer"` // seconds; <=0 means untimed
	Options []AnswerOption `json:"options,omitempty"`

	RangeMin     int `json:"rangeMin,omitempty"`
	RangeMax     int `json:"rangeMax,omitempty"`
	CorrectValue int `json:"correctValue,omitempty"`

	TextMatch FreeTextMatch `json:"textMatch,omitempty"`
}

// Validate checks the variant-specific minimum validity predicate.
func (q Question) Validate() error {
	switch q.Type {
	case SingleChoice, ABCDSingleChoice, YesNo, TrueFalse:
		if len(q.Options) < 2 {
			return fmt.Errorf("%s question needs at least two options", q.Type)
		}
		if n := countCorrect(q.Options); n != 1 {
			return fmt.Errorf("%s question needs exactly one correct option, has %d", q.Type, n)
		}
		return nil
	case MultipleChoice:
		if len(q.Options) < 2 {
			return fmt.Errorf("multiple_choice question needs at least two options")
		}
		if countCorrect(q.Options) == 0 {
			return fmt.Errorf("multiple_choice question needs at least one correct option")
		}
		return nil
	case Ranged:
		if q.RangeMin > q.RangeMax {
			return fmt.Errorf("ranged question has min %d above max %d", q.RangeMin, q.RangeMax)
		}
		if q.CorrectValue < q.RangeMin || q.CorrectValue > q.RangeMax {
			return fmt.Errorf("ranged question correct value %d outside [%d,%d]", q.CorrectValue, q.RangeMin, q.RangeMax)
		}
		return nil
	case FreeText:
		if strings.TrimSpace(q.TextMatch.Reference) == "" {
			return fmt.Errorf("free_text question needs a reference answer")
		}
		return nil
	case Survey, ABCDSurvey:
		if len(q.Options) == 0 {
			return fmt.Errorf("%s question needs at least one option", q.Type)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownQuestionType, q.Type)
	}
}

func countCorrect(options []AnswerOption) int {
	n := 0
	for _, o := range options {
		if o.IsCorrect {
			n++
		}
	}
	return n
}

// CorrectIndices returns the indices of all options flagged correct.
func (q Question) CorrectIndices() []int {
	var out []int
	for i, o := range q.Options {
		if o.IsCorrect {
			out = append(out, i)
		}
	}
	return out
}

// NormalizeFreeText applies the match configuration to a candidate answer.
func (m FreeTextMatch) Normalize(s string) string {
	if m.TrimWhitespace {
		s = strings.Join(strings.Fields(s), " ")
	} else {
		s = strings.TrimSpace(s)
	}
	if !m.CaseSensitive {
		s = strings.ToLower(s)
	}
	if m.StripPunctuation {
		s = strings.Map(func(r rune) rune {
			if unicode.IsPunct(r) {
				return -1
			}
			return r
		}, s)
	}
	return s
}

// Matches reports whether the candidate answer satisfies the reference under
// this configuration. Keyword matching requires every reference word to occur
// in the candidate; exact matching compares the normalized strings.
func (m FreeTextMatch) Matches(candidate string) bool {
	got := m.Normalize(candidate)
	want := m.Normalize(m.Reference)
	if !m.KeywordMatch {
		return got == want
	}
	for _, word := range strings.Fields(want) {
		if !strings.Contains(got, word) {
			return false
		}
	}
	return true
}
