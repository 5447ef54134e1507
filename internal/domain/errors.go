package domain

import "errors"

var (
	// ErrRoomNotFound is returned when no active room matches the code.
	ErrRoomNotFound = errors.New("room not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrNoQuestions indicates a quiz cannot be started without questions.
	ErrNoQuestions = errors.New("quiz has no questions")
	// ErrAlreadyStarted rejects unknown participants joining mid-quiz.
	ErrAlreadyStarted = errors.New("quiz already started")
	// ErrNotActive rejects answers while no question is accepting them.
	ErrNotActive = errors.New("quiz is not active")
	// ErrAlreadyAnswered rejects a second answer for the same question.
	ErrAlreadyAnswered = errors.New("question already answered")
	// ErrParticipantNotFound is returned when a connection acts before joining.
	ErrParticipantNotFound = errors.New("participant not found in room")
	// ErrNotAuthorized rejects host-only actions from non-host connections.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrAlreadyHosted rejects a host takeover with a different identity.
	ErrAlreadyHosted = errors.New("room already has a host")
)
