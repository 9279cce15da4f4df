package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/pubsub"
)

// QuizRepository abstracts the durable quiz document store. Name lookups are
// case-insensitive.
type QuizRepository interface {
	GetQuiz(ctx context.Context, name string) (domain.Quiz, error)
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
	DeleteQuiz(ctx context.Context, name string) error
	QuizzesInStates(ctx context.Context, states ...domain.QuizState) ([]domain.Quiz, error)
}

// MemberRepository abstracts the durable attendee store. Member names are
// unique per quiz, case-insensitively.
type MemberRepository interface {
	MembersOfQuiz(ctx context.Context, quizName string) ([]domain.Member, error)
	GetMember(ctx context.Context, quizName, memberName string) (domain.Member, error)
	// AddMember fails with domain.ErrDuplicateMember on a name collision.
	AddMember(ctx context.Context, member domain.Member) error
	// SaveMember upserts an existing member document.
	SaveMember(ctx context.Context, member domain.Member) error
	// RemoveMember reports whether the member existed. Removing an absent
	// member is not an error.
	RemoveMember(ctx context.Context, quizName, memberName string) (bool, error)
	RemoveMembersOfQuiz(ctx context.Context, quizName string) error
}

// Options tunes the service's timers. Zero values pick production defaults.
type Options struct {
	CountdownTick    time.Duration // default 1s
	WatchdogInterval time.Duration // default 90s
	Clock            func() time.Time
}

// QuizService owns the quiz session lifecycle: state transitions, the
// per-quiz countdown, the empty-quiz watchdog, member and response
// bookkeeping, and every envelope published on the bus.
type QuizService struct {
	quizzes QuizRepository
	members MemberRepository
	bus     pubsub.Bus
	timers  *TimerRegistry

	watchdogInterval time.Duration
	now              func() time.Time
}

func NewQuizService(quizzes QuizRepository, members MemberRepository, bus pubsub.Bus, opts Options) *QuizService {
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = 90 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &QuizService{
		quizzes:          quizzes,
		members:          members,
		bus:              bus,
		timers:           NewTimerRegistry(opts.CountdownTick),
		watchdogInterval: opts.WatchdogInterval,
		now:              opts.Clock,
	}
}

func (s *QuizService) nowMillis() int64 {
	return s.now().UnixMilli()
}

// publish is best-effort: a broker hiccup is logged, never propagated, because
// envelopes are an acceleration layer and the store stays the system of record.
func (s *QuizService) publish(ctx context.Context, channel string, env domain.Envelope) {
	if err := s.bus.Publish(ctx, channel, env); err != nil {
		log.Printf("quiz: publish %s on %s failed: %v", env.Step, channel, err)
	}
}

// SaveQuiz validates and upserts a quiz document. New quizzes start Inactive
// with the question pointer and timestamp cleared.
func (s *QuizService) SaveQuiz(ctx context.Context, quiz domain.Quiz) (domain.Quiz, error) {
	if quiz.State == "" {
		quiz.State = domain.StateInactive
	}
	if quiz.CurrentQuestionIndex == 0 && quiz.CurrentStartTimestamp == 0 {
		quiz.CurrentQuestionIndex = domain.NoQuestion
		quiz.CurrentStartTimestamp = domain.NoTimestamp
	}
	if quiz.Phase == "" {
		quiz.Phase = domain.PhaseIdle
	}
	if err := quiz.Validate(); err != nil {
		return domain.Quiz{}, err
	}
	if err := s.quizzes.SaveQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, err
	}
	return quiz, nil
}

// GetQuiz loads a quiz document by name.
func (s *QuizService) GetQuiz(ctx context.Context, name string) (domain.Quiz, error) {
	return s.quizzes.GetQuiz(ctx, name)
}

// InitQuiz transitions a quiz from Inactive to Active, seeds its timer state
// and schedules the empty-quiz watchdog.
func (s *QuizService) InitQuiz(ctx context.Context, name string) error {
	quiz, err := s.quizzes.GetQuiz(ctx, name)
	if err != nil {
		return err
	}
	if quiz.Expired(s.now()) {
		return fmt.Errorf("%w: quiz expired", domain.ErrInvalidTransition)
	}
	if quiz.State != domain.StateInactive {
		return fmt.Errorf("%w: init from %s", domain.ErrInvalidTransition, quiz.State)
	}

	quiz.State = domain.StateActive
	quiz.CurrentQuestionIndex = domain.NoQuestion
	quiz.CurrentStartTimestamp = domain.NoTimestamp
	quiz.Phase = domain.PhaseIdle
	if err := s.quizzes.SaveQuiz(ctx, quiz); err != nil {
		return err
	}

	s.timers.Init(quiz.Name)
	s.startWatchdog(quiz.Name)
	log.Printf("quiz: %q initialized", quiz.Name)
	s.publish(ctx, pubsub.GlobalChannel, domain.Success(domain.StepSetActive, map[string]any{"quizName": quiz.Name}))
	return nil
}

// NextQuestion advances the question pointer and publishes the new index.
// Past the last question it returns -1 without mutating state; callers treat
// that as "end of questions", not an error.
func (s *QuizService) NextQuestion(ctx context.Context, name string) (int, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, name)
	if err != nil {
		return domain.NoQuestion, err
	}
	if quiz.State == domain.StateInactive {
		return domain.NoQuestion, fmt.Errorf("%w: next question while inactive", domain.ErrInvalidTransition)
	}
	next := quiz.CurrentQuestionIndex + 1
	if next >= len(quiz.Questions) {
		return domain.NoQuestion, nil
	}

	quiz.CurrentQuestionIndex = next
	quiz.CurrentStartTimestamp = domain.NoTimestamp
	quiz.Phase = domain.PhaseIdle
	if err := s.quizzes.SaveQuiz(ctx, quiz); err != nil {
		return domain.NoQuestion, err
	}
	s.publish(ctx, pubsub.QuizChannel(quiz.Name), domain.Success(domain.StepNextQuestion, map[string]any{"questionIndex": next}))
	return next, nil
}

// RequestReadingConfirmation puts the current question into the
// awaiting-confirmation phase and announces it.
func (s *QuizService) RequestReadingConfirmation(ctx context.Context, name string) error {
	quiz, err := s.quizzes.GetQuiz(ctx, name)
	if err != nil {
		return err
	}
	if _, ok := quiz.CurrentQuestion(); !ok {
		return fmt.Errorf("%w: no current question", domain.ErrInvalidTransition)
	}
	quiz.Phase = domain.PhaseAwaitingConfirmation
	if err := s.quizzes.SaveQuiz(ctx, quiz); err != nil {
		return err
	}
	s.publish(ctx, pubsub.QuizChannel(quiz.Name), domain.Success(domain.StepReadingConfirmation, map[string]any{"questionIndex": quiz.CurrentQuestionIndex}))
	return nil
}

// StartNextQuestion starts counting the current question. When the session
// config requires a reading confirmation that has not been requested yet for
// this question, the call performs the confirmation request instead and the
// next invocation actually starts the countdown (two-phase start).
func (s *QuizService) StartNextQuestion(ctx context.Context, name string) error {
	quiz, err := s.quizzes.GetQuiz(ctx, name)
	if err != nil {
		return err
	}
	question, ok := quiz.CurrentQuestion()
	if !ok {
		return fmt.Errorf("%w: no current question", domain.ErrInvalidTransition)
	}
	if quiz.Phase == domain.PhaseCounting {
		return fmt.Errorf("%w: question already running", domain.ErrInvalidTransition)
	}
	if quiz.Config.ReadingConfirmationEnabled && quiz.Phase != domain.PhaseAwaitingConfirmation {
		return s.RequestReadingConfirmation(ctx, name)
	}

	quiz.State = domain.StateRunning
	quiz.CurrentStartTimestamp = s.nowMillis()
	quiz.Phase = domain.PhaseCounting
	if err := s.quizzes.SaveQuiz(ctx, quiz); err != nil {
		return err
	}

	if question.Timer > 0 {
		s.scheduleCountdown(quiz.Name, question.Timer)
	}
	s.publish(ctx, pubsub.QuizChannel(quiz.Name), domain.Success(domain.StepStart, map[string]any{
		"currentStartTimestamp": quiz.CurrentStartTimestamp,
	}))
	return nil
}

// scheduleCountdown drives the per-question countdown. Each tick publishes the
// decremented value; at zero the start timestamp is cleared. Persistence
// failures during a tick are logged and never stop the tick: the in-memory
// timer is authoritative.
func (s *QuizService) scheduleCountdown(quizName string, seconds int) {
	channel := pubsub.QuizChannel(quizName)
	s.timers.StartCountdown(quizName, seconds,
		func(remaining int) {
			s.publish(context.Background(), channel, domain.Success(domain.StepCountdown, map[string]any{"value": remaining}))
		},
		func() {
			ctx := context.Background()
			quiz, err := s.quizzes.GetQuiz(ctx, quizName)
			if err != nil {
				log.Printf("quiz: countdown finish load %q: %v", quizName, err)
				return
			}
			quiz.CurrentStartTimestamp = domain.NoTimestamp
			quiz.Phase = domain.PhaseIdle
			if quiz.CurrentQuestionIndex == len(quiz.Questions)-1 {
				quiz.State = domain.StateFinished
			}
			if err := s.quizzes.SaveQuiz(ctx, quiz); err != nil {
				log.Printf("quiz: countdown finish save %q: %v", quizName, err)
			}
		})
}

// StopQuiz clears the start timestamp, cancels any running countdown and
// announces the stop.
func (s *QuizService) StopQuiz(ctx context.Context, name string) error {
	quiz, err := s.quizzes.GetQuiz(ctx, name)
	if err != nil {
		return err
	}
	quiz.CurrentStartTimestamp = domain.NoTimestamp
	quiz.Phase = domain.PhaseIdle
	if err := s.quizzes.SaveQuiz(ctx, quiz); err != nil {
		return err
	}
	s.timers.CancelCountdown(quiz.Name)
	s.publish(ctx, pubsub.QuizChannel(quiz.Name), domain.Success(domain.StepStop, nil))
	return nil
}

// SetQuizAsInactive is the owner-facing deactivation.
func (s *QuizService) SetQuizAsInactive(ctx context.Context, name, privateKey string) error {
	quiz, err := s.quizzes.GetQuiz(ctx, name)
	if err != nil {
		return err
	}
	if quiz.PrivateKey != "" && quiz.PrivateKey != privateKey {
		return domain.ErrOwnerKeyMismatch
	}
	return s.deactivate(ctx, quiz)
}

// deactivate moves any state to Inactive: pointers cleared, private payload
// purged, members removed, watchdog and countdown torn down.
func (s *QuizService) deactivate(ctx context.Context, quiz domain.Quiz) error {
	quiz.State = domain.StateInactive
	quiz.CurrentQuestionIndex = domain.NoQuestion
	quiz.CurrentStartTimestamp = domain.NoTimestamp
	quiz.Phase = domain.PhaseIdle
	if !quiz.Public {
		quiz.Questions = nil
		quiz.Config = domain.SessionConfig{}
	}
	if err := s.quizzes.SaveQuiz(ctx, quiz); err != nil {
		return err
	}
	if err := s.members.RemoveMembersOfQuiz(ctx, quiz.Name); err != nil {
		log.Printf("quiz: removing members of %q: %v", quiz.Name, err)
	}
	s.timers.Dispose(quiz.Name)
	s.publish(ctx, pubsub.QuizChannel(quiz.Name), domain.Success(domain.StepSetInactive, map[string]any{"quizName": quiz.Name}))
	s.publish(ctx, pubsub.GlobalChannel, domain.Success(domain.StepSetInactive, map[string]any{"quizName": quiz.Name}))
	log.Printf("quiz: %q deactivated", quiz.Name)
	return nil
}

// ResetQuiz moves the quiz back to Active, clears pointers and regenerates
// every member's response slots to match the current question count.
func (s *QuizService) ResetQuiz(ctx context.Context, name, privateKey string) (domain.Quiz, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, name)
	if err != nil {
		return domain.Quiz{}, err
	}
	if quiz.PrivateKey != "" && quiz.PrivateKey != privateKey {
		return domain.Quiz{}, domain.ErrOwnerKeyMismatch
	}
	if quiz.State == domain.StateInactive {
		return domain.Quiz{}, fmt.Errorf("%w: reset while inactive", domain.ErrInvalidTransition)
	}

	s.timers.CancelCountdown(quiz.Name)
	quiz.State = domain.StateActive
	quiz.CurrentQuestionIndex = domain.NoQuestion
	quiz.CurrentStartTimestamp = domain.NoTimestamp
	quiz.Phase = domain.PhaseIdle
	if err := s.quizzes.SaveQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, err
	}
	if err := s.ResetMembersOfQuiz(ctx, quiz.Name, len(quiz.Questions)); err != nil {
		return domain.Quiz{}, err
	}
	s.publish(ctx, pubsub.QuizChannel(quiz.Name), domain.Success(domain.StepReset, nil))
	return quiz, nil
}

// ResetMembersOfQuiz regenerates every member's response array to
// questionCount empty slots.
func (s *QuizService) ResetMembersOfQuiz(ctx context.Context, quizName string, questionCount int) error {
	members, err := s.members.MembersOfQuiz(ctx, quizName)
	if err != nil {
		return err
	}
	for _, m := range members {
		m.Responses = domain.EmptyResponses(questionCount)
		if err := s.members.SaveMember(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// ActiveQuizzes lists the names of quizzes a client can currently attach to.
func (s *QuizService) ActiveQuizzes(ctx context.Context) ([]string, error) {
	quizzes, err := s.quizzes.QuizzesInStates(ctx, domain.StateActive, domain.StateRunning, domain.StateFinished)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(quizzes))
	for _, q := range quizzes {
		names = append(names, q.Name)
	}
	return names, nil
}

// RestoreActiveQuizTimers rebuilds timer state after a process restart. For
// quizzes caught mid-countdown the elapsed wall time is deducted so a restart
// never grants free time.
func (s *QuizService) RestoreActiveQuizTimers(ctx context.Context) error {
	quizzes, err := s.quizzes.QuizzesInStates(ctx, domain.StateActive, domain.StateRunning, domain.StateFinished)
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, quiz := range quizzes {
		quiz := quiz
		g.Go(func() error {
			s.timers.Init(quiz.Name)
			s.startWatchdog(quiz.Name)
			if quiz.State != domain.StateRunning || quiz.CurrentStartTimestamp == domain.NoTimestamp {
				return nil
			}
			question, ok := quiz.CurrentQuestion()
			if !ok || question.Timer <= 0 {
				return nil
			}
			elapsed := int((s.nowMillis() - quiz.CurrentStartTimestamp + 999) / 1000)
			remaining := question.Timer - elapsed
			if remaining <= 0 {
				quiz.CurrentStartTimestamp = domain.NoTimestamp
				quiz.Phase = domain.PhaseIdle
				if quiz.CurrentQuestionIndex == len(quiz.Questions)-1 {
					quiz.State = domain.StateFinished
				}
				return s.quizzes.SaveQuiz(ctx, quiz)
			}
			s.scheduleCountdown(quiz.Name, remaining)
			return nil
		})
	}
	return g.Wait()
}

// startWatchdog schedules the empty-quiz poll: two consecutive polls without a
// single subscriber deactivate the quiz; any subscriber in between resets the
// strike. A failed poll is treated as "not enough information".
func (s *QuizService) startWatchdog(quizName string) {
	channel := pubsub.QuizChannel(quizName)
	s.timers.StartWatchdog(quizName, s.watchdogInterval, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		n, err := s.bus.SubscriberCount(ctx, channel)
		if err != nil {
			log.Printf("quiz: watchdog poll for %q failed: %v", quizName, err)
			return
		}
		if n > 0 {
			s.timers.ClearEmpty(quizName)
			return
		}
		if !s.timers.StrikeEmpty(quizName) {
			return
		}
		quiz, err := s.quizzes.GetQuiz(ctx, quizName)
		if err != nil {
			log.Printf("quiz: watchdog load %q: %v", quizName, err)
			return
		}
		log.Printf("quiz: %q has no subscribers, deactivating", quizName)
		if err := s.deactivate(ctx, quiz); err != nil {
			log.Printf("quiz: watchdog deactivate %q: %v", quizName, err)
		}
	})
}

// AddMember joins an attendee to a quiz. The name must be free
// (case-insensitively), pass the nickname policy, and reference an existing
// member group. On success a response slot is seeded per question.
func (s *QuizService) AddMember(ctx context.Context, quizName, memberName, groupName, casTicket string) (domain.Member, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizName)
	if err != nil {
		return domain.Member{}, err
	}
	if quiz.State == domain.StateInactive {
		return domain.Member{}, fmt.Errorf("%w: quiz not active", domain.ErrInvalidTransition)
	}
	if err := checkNickname(quiz.Config.Nickname, memberName, casTicket); err != nil {
		return domain.Member{}, err
	}
	if groupName == "" {
		groupName = domain.DefaultMemberGroup
	}
	if !quiz.HasGroup(groupName) {
		return domain.Member{}, domain.ErrGroupNotFound
	}

	member := domain.Member{
		ID:        uuid.NewString(),
		Name:      memberName,
		GroupName: groupName,
		ColorCode: domain.ColorCodeFor(memberName),
		Token:     uuid.NewString(),
		QuizName:  quiz.Name,
		Responses: domain.EmptyResponses(len(quiz.Questions)),
	}
	if err := s.members.AddMember(ctx, member); err != nil {
		return domain.Member{}, err
	}
	s.publish(ctx, pubsub.QuizChannel(quiz.Name), domain.Success(domain.StepMemberAdded, map[string]any{
		"name":      member.Name,
		"groupName": member.GroupName,
		"colorCode": member.ColorCode,
	}))
	return member, nil
}

func checkNickname(policy domain.NicknamePolicy, name, casTicket string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return domain.ErrNicknameRejected
	}
	for _, blocked := range policy.Disallowed {
		if strings.EqualFold(blocked, trimmed) {
			return domain.ErrNicknameRejected
		}
	}
	if policy.CASRequired && casTicket == "" {
		return domain.ErrNicknameRejected
	}
	return nil
}

// RemoveMember drops an attendee. Removing an already-removed member is a
// no-op so duplicate disconnect signals stay harmless.
func (s *QuizService) RemoveMember(ctx context.Context, quizName, memberName string) error {
	removed, err := s.members.RemoveMember(ctx, quizName, memberName)
	if err != nil {
		return err
	}
	if removed {
		s.publish(ctx, pubsub.QuizChannel(quizName), domain.Success(domain.StepMemberRemoved, map[string]any{"name": memberName}))
	}
	return nil
}

// Members lists the attendees of a quiz with their credential stripped.
func (s *QuizService) Members(ctx context.Context, quizName string) ([]domain.Member, error) {
	members, err := s.members.MembersOfQuiz(ctx, quizName)
	if err != nil {
		return nil, err
	}
	for i := range members {
		members[i].Token = ""
	}
	return members, nil
}

// RecordResponse stores an attendee's answer for the currently running
// question. A slot whose response time is already set is immutable; the
// second submission is rejected and the original preserved.
func (s *QuizService) RecordResponse(ctx context.Context, quizName, memberName string, value domain.ResponseValue) error {
	quiz, err := s.quizzes.GetQuiz(ctx, quizName)
	if err != nil {
		return err
	}
	if quiz.Phase != domain.PhaseCounting || quiz.CurrentStartTimestamp == domain.NoTimestamp {
		return domain.ErrNoQuestionRunning
	}
	member, err := s.members.GetMember(ctx, quizName, memberName)
	if err != nil {
		return err
	}
	qi := quiz.CurrentQuestionIndex
	if qi < 0 || qi >= len(member.Responses) {
		return domain.ErrNoQuestionRunning
	}
	if member.Responses[qi].Answered() {
		return domain.ErrDuplicateSubmission
	}

	member.Responses[qi].Value = value
	member.Responses[qi].ResponseTime = s.nowMillis() - quiz.CurrentStartTimestamp
	if err := s.members.SaveMember(ctx, member); err != nil {
		return err
	}
	s.publish(ctx, pubsub.QuizChannel(quiz.Name), domain.Success(domain.StepUpdatedResponse, map[string]any{
		"name":          member.Name,
		"questionIndex": qi,
	}))
	return nil
}

// SetConfidence records the attendee's confidence for the current question
// without touching the response time.
func (s *QuizService) SetConfidence(ctx context.Context, quizName, memberName string, confidence int) error {
	return s.updateSlot(ctx, quizName, memberName, func(r *domain.Response) {
		r.Confidence = confidence
	})
}

// SetReadingConfirmation marks the attendee as having confirmed reading the
// current question.
func (s *QuizService) SetReadingConfirmation(ctx context.Context, quizName, memberName string) error {
	return s.updateSlot(ctx, quizName, memberName, func(r *domain.Response) {
		r.ReadingConfirmation = true
	})
}

func (s *QuizService) updateSlot(ctx context.Context, quizName, memberName string, mutate func(*domain.Response)) error {
	quiz, err := s.quizzes.GetQuiz(ctx, quizName)
	if err != nil {
		return err
	}
	member, err := s.members.GetMember(ctx, quizName, memberName)
	if err != nil {
		return err
	}
	qi := quiz.CurrentQuestionIndex
	if qi < 0 || qi >= len(member.Responses) {
		return domain.ErrNoQuestionRunning
	}
	mutate(&member.Responses[qi])
	if err := s.members.SaveMember(ctx, member); err != nil {
		return err
	}
	s.publish(ctx, pubsub.QuizChannel(quiz.Name), domain.Success(domain.StepUpdatedResponse, map[string]any{
		"name":          member.Name,
		"questionIndex": qi,
	}))
	return nil
}

// GetLeaderboard evaluates the requested question range. questionIndex -1
// means the whole question list.
func (s *QuizService) GetLeaderboard(ctx context.Context, quizName string, questionIndex int) (Leaderboard, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizName)
	if err != nil {
		return Leaderboard{}, err
	}
	members, err := s.members.MembersOfQuiz(ctx, quizName)
	if err != nil {
		return Leaderboard{}, err
	}
	from, to := 0, len(quiz.Questions)-1
	if questionIndex >= 0 {
		from, to = questionIndex, questionIndex
	}
	return BuildLeaderboard(quiz, members, from, to)
}

// IsNotFound reports whether err is the neutral "unavailable" signal.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrQuizNotFound) || errors.Is(err, domain.ErrMemberNotFound)
}
