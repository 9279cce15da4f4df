package app

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"live-quiz-service/internal/domain"
)

// Correctness results of a single response evaluation.
const (
	ResponseCorrect   = 1
	ResponsePartial   = 0
	ResponseIncorrect = -1
)

// IsCorrectResponse evaluates one response against its question definition.
// It is pure: no side effects, no clock. An unrecognized question variant is
// a data-model invariant violation and returns an error instead of a guess.
func IsCorrectResponse(r domain.Response, q domain.Question) (int, error) {
	switch q.Type {
	case domain.SingleChoice, domain.ABCDSingleChoice, domain.YesNo, domain.TrueFalse:
		if len(r.Value.SelectedIndices) != 1 {
			return ResponseIncorrect, nil
		}
		idx := r.Value.SelectedIndices[0]
		if idx < 0 || idx >= len(q.Options) {
			return ResponseIncorrect, nil
		}
		if q.Options[idx].IsCorrect {
			return ResponseCorrect, nil
		}
		return ResponseIncorrect, nil

	case domain.MultipleChoice:
		return scoreMultipleChoice(r.Value.SelectedIndices, q.CorrectIndices(), len(q.Options)), nil

	case domain.Ranged:
		if r.Value.Number == nil {
			return ResponseIncorrect, nil
		}
		n := *r.Value.Number
		if n == float64(q.CorrectValue) {
			return ResponseCorrect, nil
		}
		if n >= float64(q.RangeMin) && n <= float64(q.RangeMax) {
			return ResponsePartial, nil
		}
		return ResponseIncorrect, nil

	case domain.FreeText:
		if q.TextMatch.Matches(r.Value.Text) {
			return ResponseCorrect, nil
		}
		return ResponseIncorrect, nil

	case domain.Survey, domain.ABCDSurvey:
		// Opinion questions have no right answer; participation counts.
		return ResponseCorrect, nil

	default:
		return 0, fmt.Errorf("%w: %q", domain.ErrUnknownQuestionType, q.Type)
	}
}

// scoreMultipleChoice compares the chosen index set to the correct set:
// all correct and none wrong = 1, at least one correct hit = 0, else -1.
func scoreMultipleChoice(chosen, correct []int, optionCount int) int {
	correctSet := make(map[int]bool, len(correct))
	for _, i := range correct {
		correctSet[i] = true
	}
	hits, misses := 0, 0
	seen := make(map[int]bool, len(chosen))
	for _, i := range chosen {
		if i < 0 || i >= optionCount || seen[i] {
			misses++
			continue
		}
		seen[i] = true
		if correctSet[i] {
			hits++
		} else {
			misses++
		}
	}
	switch {
	case hits == len(correct) && misses == 0:
		return ResponseCorrect
	case hits > 0:
		return ResponsePartial
	default:
		return ResponseIncorrect
	}
}

// LeaderboardEntry is the derived per-member ranking row.
type LeaderboardEntry struct {
	Name             string  `json:"name"`
	ResponseTime     int64   `json:"responseTime"` // summed over correct questions, ms
	CorrectQuestions []int   `json:"correctQuestions"`
	ConfidenceValue  float64 `json:"confidenceValue"`
	Score            int     `json:"score"`
}

// MemberGroupResult aggregates a member group's ranking row.
type MemberGroupResult struct {
	Name                 string `json:"name"`
	CorrectQuestionCount int    `json:"correctQuestionCount"`
	ResponseTime         int64  `json:"responseTime"`
	MemberAmount         int    `json:"memberAmount"`
	Score                int    `json:"score"`
}

// Leaderboard is the full derived ranking for a question range.
type Leaderboard struct {
	CorrectResponses          []LeaderboardEntry  `json:"correctResponses"`
	PartiallyCorrectResponses []LeaderboardEntry  `json:"partiallyCorrectResponses"`
	MemberGroupResults        []MemberGroupResult `json:"memberGroupResults,omitempty"`
}

// BuildLeaderboard walks all members over the question range [from, to].
// A member stays in CorrectResponses only while every evaluated question in
// range scores 1: the first -1 removes the member from CorrectResponses
// entirely, a 0 records them as partially correct and stops their scan
// without revoking answers already accumulated. Unanswered slots are skipped.
func BuildLeaderboard(quiz domain.Quiz, members []domain.Member, from, to int) (Leaderboard, error) {
	if from < 0 {
		from = 0
	}
	if to >= len(quiz.Questions) {
		to = len(quiz.Questions) - 1
	}
	lb := Leaderboard{}
	if to < from {
		return lb, nil
	}

	groupTimes := make(map[string]int64)
	groupCorrect := make(map[string]int)
	groupMembers := make(map[string]int)

	for _, m := range members {
		groupMembers[m.GroupName]++
		entry := LeaderboardEntry{Name: m.Name, CorrectQuestions: []int{}}
		disqualified := false

	scan:
		for qi := from; qi <= to && qi < len(m.Responses); qi++ {
			resp := m.Responses[qi]
			if !resp.Answered() {
				continue
			}
			rc, err := IsCorrectResponse(resp, quiz.Questions[qi])
			if err != nil {
				return Leaderboard{}, err
			}
			switch rc {
			case ResponseCorrect:
				entry.CorrectQuestions = append(entry.CorrectQuestions, qi)
				entry.ResponseTime += resp.ResponseTime
				if resp.Confidence >= 0 {
					entry.ConfidenceValue += float64(resp.Confidence)
				}
			case ResponsePartial:
				lb.PartiallyCorrectResponses = append(lb.PartiallyCorrectResponses, LeaderboardEntry{
					Name: m.Name, CorrectQuestions: []int{},
				})
				break scan
			case ResponseIncorrect:
				disqualified = true
				break scan
			}
		}

		if disqualified || len(entry.CorrectQuestions) == 0 {
			continue
		}
		entry.Score = len(entry.CorrectQuestions)
		lb.CorrectResponses = append(lb.CorrectResponses, entry)
		groupTimes[m.GroupName] += entry.ResponseTime
		groupCorrect[m.GroupName] += len(entry.CorrectQuestions)
	}

	sort.Slice(lb.CorrectResponses, func(i, j int) bool {
		a, b := lb.CorrectResponses[i], lb.CorrectResponses[j]
		if len(a.CorrectQuestions) != len(b.CorrectQuestions) {
			return len(a.CorrectQuestions) > len(b.CorrectQuestions)
		}
		if a.ResponseTime != b.ResponseTime {
			return a.ResponseTime < b.ResponseTime
		}
		return a.Name < b.Name
	})
	sort.Slice(lb.PartiallyCorrectResponses, func(i, j int) bool {
		return lb.PartiallyCorrectResponses[i].Name < lb.PartiallyCorrectResponses[j].Name
	})

	if len(quiz.Config.MemberGroups) > 1 {
		lb.MemberGroupResults = buildGroupResults(quiz, from, to, groupTimes, groupCorrect, groupMembers)
	}
	return lb, nil
}

// buildGroupResults computes the load-normalized group score:
// round((maxMembersPerGroup/groupMemberCount) * (correctCount/totalQuestions)
// * (totalResponseTime/groupMemberCount) * 100).
func buildGroupResults(quiz domain.Quiz, from, to int, times map[string]int64, correct map[string]int, counts map[string]int) []MemberGroupResult {
	maxMembers := 0
	for _, n := range counts {
		if n > maxMembers {
			maxMembers = n
		}
	}
	totalQuestions := to - from + 1

	out := make([]MemberGroupResult, 0, len(quiz.Config.MemberGroups))
	for _, group := range quiz.Config.MemberGroups {
		name := group
		n := counts[name]
		if n == 0 {
			// group keys are stored as joined, match case-insensitively
			for stored, c := range counts {
				if strings.EqualFold(stored, name) {
					name, n = stored, c
					break
				}
			}
		}
		result := MemberGroupResult{
			Name:                 group,
			CorrectQuestionCount: correct[name],
			ResponseTime:         times[name],
			MemberAmount:         n,
		}
		if n > 0 && totalQuestions > 0 {
			score := (float64(maxMembers) / float64(n)) *
				(float64(correct[name]) / float64(totalQuestions)) *
				(float64(times[name]) / float64(n)) * 100
			result.Score = int(math.Round(score))
		}
		out = append(out, result)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
