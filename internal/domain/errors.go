package domain

import "errors"

var (
	// ErrSessionNotFound is returned when a game id is not in the registry.
	ErrSessionNotFound = errors.New("game session not found")
	// ErrThemeRejected is returned when the judge reports a proposed answer unusable.
	ErrThemeRejected = errors.New("theme rejected by judge")
	// ErrNotPlaying is returned for submissions outside the playing state.
	ErrNotPlaying = errors.New("game is not in progress")
	// ErrNoQuestionsLeft is returned when a participant's question budget is exhausted.
	ErrNoQuestionsLeft = errors.New("no questions remaining")
	// ErrNoAnswersLeft is returned when a participant's answer budget is exhausted.
	ErrNoAnswersLeft = errors.New("no answers remaining")
	// ErrAlreadyCorrect is returned when a participant who already answered correctly submits again.
	ErrAlreadyCorrect = errors.New("already answered correctly")
	// ErrUnknownParticipant is returned when an identity acts before declaring a join.
	ErrUnknownParticipant = errors.New("participant not found in game")
	// ErrNoThemes is returned when the theme pool has nothing to pick from.
	ErrNoThemes = errors.New("theme pool is empty")
)
