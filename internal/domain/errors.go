package domain

import "errors"

var (
	// ErrQuizNotFound is returned when the referenced quiz does not exist.
	// Callers treat it as "inactive/unavailable", never as a crash.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrMemberNotFound is returned when the referenced attendee does not exist.
	ErrMemberNotFound = errors.New("member not found in quiz")
	// ErrInvalidTransition rejects a state-machine operation that the current
	// state does not permit.
	ErrInvalidTransition = errors.New("invalid quiz state transition")
	// ErrDuplicateSubmission rejects a second answer for an already-answered slot.
	ErrDuplicateSubmission = errors.New("response already recorded for this question")
	// ErrNoQuestionRunning rejects a response while no question is being counted.
	ErrNoQuestionRunning = errors.New("no question currently running")
	// ErrDuplicateMember rejects joining under a name already taken in the quiz.
	ErrDuplicateMember = errors.New("member name already taken")
	// ErrNicknameRejected rejects a name the quiz nickname policy disallows.
	ErrNicknameRejected = errors.New("nickname rejected by quiz policy")
	// ErrGroupNotFound rejects joining a member group the quiz does not define.
	ErrGroupNotFound = errors.New("member group not found")
	// ErrOwnerKeyMismatch rejects an owner-only operation with a wrong key.
	ErrOwnerKeyMismatch = errors.New("private key does not match quiz owner")
	// ErrUnknownQuestionType flags a question variant no consumer recognizes.
	// This is a data-model invariant violation and must abort the operation.
	ErrUnknownQuestionType = errors.New("unknown question type")
)
