package domain

import (
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle phase of a game session.
type State string

const (
	StateWaiting    State = "waiting"
	StatePlaying    State = "playing"
	StateFinished   State = "finished"
	StateRedirected State = "redirected"
)

// Participant is the permanent per-player record of a session. A disconnect
// never deletes it; reconnecting under the same identity resumes the same
// budgets and flags.
type Participant struct {
	UserID             uuid.UUID
	Nickname           string
	IsPlayer           bool
	RemainingQuestions int
	RemainingAnswers   int
	AnsweredCorrectly  bool
	IsReady            bool
	AnsweredAt         *time.Time
}

// GameParams are the creation parameters of a session. Successor sessions
// are minted from the same params with only Answer substituted.
type GameParams struct {
	User          uuid.UUID
	Answer        string
	AnswerLimit   int
	QuestionLimit int
	TimeLimit     time.Duration
}

// Message is a judged question or answer record in a session's history.
type Message interface {
	messageKind() string
}

// QuestionRecord is the broadcast form of a judged question.
type QuestionRecord struct {
	Type          string    `json:"type"` // "res_question"
	Time          time.Time `json:"time"`
	User          uuid.UUID `json:"user"`
	Nickname      string    `json:"nickname"`
	IncludeAnswer bool      `json:"include_answer"`
	Title         string    `json:"title"`
	Question      string    `json:"question"`
	Reply         string    `json:"reply"`
}

func (QuestionRecord) messageKind() string { return "res_question" }

// AnswerRecord is the broadcast form of a judged answer. Answer is emptied
// when the verdict is correct or the judge flagged the text as revealing.
type AnswerRecord struct {
	Type          string    `json:"type"` // "res_answer"
	Time          time.Time `json:"time"`
	User          uuid.UUID `json:"user"`
	Nickname      string    `json:"nickname"`
	Judge         string    `json:"judge"` // "correct" | "incorrect"
	IncludeAnswer bool      `json:"include_answer"`
	Answer        string    `json:"answer"`
}

func (AnswerRecord) messageKind() string { return "res_answer" }

// Wire values of AnswerRecord.Judge.
const (
	VerdictCorrect   = "correct"
	VerdictIncorrect = "incorrect"
)

// CorrectAnswerer is one entry of the final result ranking.
type CorrectAnswerer struct {
	UserID     uuid.UUID  `json:"user_id"`
	Nickname   string     `json:"nickname"`
	AnsweredAt *time.Time `json:"answered_at"`
}

// Snapshot is the read-only view of a session served over the REST API.
type Snapshot struct {
	Genre         string               `json:"genre"`
	AnswerLimit   int                  `json:"ans_limit"`
	QuestionLimit int                  `json:"question_limit"`
	StartTime     *time.Time           `json:"start_time"`
	EndTime       *time.Time           `json:"end_time"`
	Messages      []Message            `json:"messages"`
	Status        State                `json:"status"`
	Users         map[uuid.UUID]string `json:"users"`
}
