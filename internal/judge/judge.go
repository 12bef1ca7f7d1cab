// Package judge adjudicates game themes, questions and answers through an
// external language model. Callers must treat every error as recoverable:
// a failed call abandons one request, never a session.
package judge

import "context"

// ThemeVerdict is the outcome of validating a proposed secret answer.
type ThemeVerdict struct {
	Usable      bool
	Answer      string // canonical form of the theme
	Genre       string
	Description string
}

// QuestionVerdict is the outcome of judging a player question.
type QuestionVerdict struct {
	Reply          string // one-line verdict shown as the record title
	Reason         string // short sentence shown to players
	IncludesAnswer bool   // question alone gives the answer away
}

// AnswerVerdict is the outcome of judging a submitted answer.
type AnswerVerdict struct {
	Correct bool
	IsClose bool // the submitted text itself hints at the answer
}

// Judge scores themes, questions and answers against a session's secret.
type Judge interface {
	ValidateTheme(ctx context.Context, candidate string) (ThemeVerdict, error)
	JudgeQuestion(ctx context.Context, answer, description, question string) (QuestionVerdict, error)
	JudgeAnswer(ctx context.Context, answer, genre, description, submitted string) (AnswerVerdict, error)
}
