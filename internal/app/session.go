package app

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"word-guess-service/internal/domain"
	"word-guess-service/internal/judge"
)

// ThemePool supplies answers for auto-chained successor sessions.
type ThemePool interface {
	Pick(ctx context.Context) (string, error)
}

// successorMinter is the registry callback that creates the chained session.
type successorMinter interface {
	mintSuccessor(ctx context.Context, params domain.GameParams) (int, error)
}

// Session is the state machine of one game: roster, connections, message
// history and the countdown timer. All roster/history/state mutations are
// serialized on mu; judge calls run outside it.
type Session struct {
	id          int
	answer      string
	genre       string
	description string
	origin      domain.GameParams

	judge  judge.Judge
	themes ThemePool
	minter successorMinter
	hub    *ConnectionHub

	clock  func() time.Time
	tick   time.Duration
	settle time.Duration

	mu           sync.Mutex
	state        domain.State
	startTime    time.Time
	endTime      time.Time
	participants map[uuid.UUID]*domain.Participant
	messages     []domain.Message
	correct      []*domain.Participant
	nextAnswer   string
	successorID  int
	timerCancel  context.CancelFunc
}

func newSession(id int, verdict judge.ThemeVerdict, params domain.GameParams, j judge.Judge, themes ThemePool, minter successorMinter, clock func() time.Time, tick, settle time.Duration) *Session {
	return &Session{
		id:           id,
		answer:       verdict.Answer,
		genre:        verdict.Genre,
		description:  verdict.Description,
		origin:       params,
		judge:        j,
		themes:       themes,
		minter:       minter,
		hub:          NewConnectionHub(),
		clock:        clock,
		tick:         tick,
		settle:       settle,
		state:        domain.StateWaiting,
		participants: make(map[uuid.UUID]*domain.Participant),
	}
}

// ID returns the session's registry identifier.
func (s *Session) ID() int { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SuccessorID returns the chained session id, or 0 before the chain runs.
func (s *Session) SuccessorID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.successorID
}

// Attach registers a live connection with no identity bound yet.
func (s *Session) Attach() *Conn {
	return s.hub.Attach()
}

// Detach drops a connection. The bound participant keeps its budgets and
// flags for reconnection.
func (s *Session) Detach(conn *Conn) {
	s.hub.Detach(conn)
}

// Join declares an identity on a connection. A known identity is only
// re-bound; a new one gets a participant with budgets copied from the
// session limits (observers get zero budgets).
func (s *Session) Join(conn *Conn, userID uuid.UUID, isPlayer bool, nickname string) {
	s.mu.Lock()
	if _, ok := s.participants[userID]; !ok {
		p := &domain.Participant{
			UserID:   userID,
			Nickname: nickname,
			IsPlayer: isPlayer,
		}
		if isPlayer {
			p.RemainingQuestions = s.origin.QuestionLimit
			p.RemainingAnswers = s.origin.AnswerLimit
		}
		s.participants[userID] = p
	}
	s.mu.Unlock()
	s.hub.Bind(conn, userID)
}

// Ready marks a participant ready and starts the game once every connected
// identity is ready. Ignored outside the waiting state.
func (s *Session) Ready(userID uuid.UUID) {
	connected := s.hub.ConnectedIdentities()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.StateWaiting {
		return
	}
	p, ok := s.participants[userID]
	if !ok {
		return
	}
	p.IsReady = true

	if len(s.participants) == 0 {
		return
	}
	for id := range connected {
		if q, ok := s.participants[id]; !ok || !q.IsReady {
			return
		}
	}
	s.startGameLocked()
}

// startGameLocked transitions waiting → playing and spawns the timer task.
func (s *Session) startGameLocked() {
	s.state = domain.StatePlaying
	s.startTime = s.clock()
	s.endTime = s.startTime.Add(s.origin.TimeLimit)

	ctx, cancel := context.WithCancel(context.Background())
	s.timerCancel = cancel
	go s.runTimer(ctx)
	s.hub.Broadcast(domain.Event{Type: domain.EventGameStart})
}

// runTimer ticks until the time budget runs out or every connected player
// has answered correctly. It is the sole driver of playing → finished, so
// the two triggers cannot race.
func (s *Session) runTimer(ctx context.Context) {
	ticks := int(s.origin.TimeLimit / s.tick)
	for i := 0; i < ticks; i++ {
		if s.allConnectedPlayersCorrect() {
			s.finish(ctx)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.tick):
		}
	}
	s.finish(ctx)
}

func (s *Session) allConnectedPlayersCorrect() bool {
	connected := s.hub.ConnectedIdentities()

	s.mu.Lock()
	defer s.mu.Unlock()
	players := 0
	for id := range connected {
		p, ok := s.participants[id]
		if !ok || !p.IsPlayer {
			continue
		}
		players++
		if !p.AnsweredCorrectly {
			return false
		}
	}
	return players > 0
}

// finish runs the terminal sequence: playing → finished, result broadcast,
// settle delay, successor creation, finished → redirected.
func (s *Session) finish(ctx context.Context) {
	s.mu.Lock()
	if s.state != domain.StatePlaying {
		s.mu.Unlock()
		return
	}
	s.state = domain.StateFinished
	ranking := s.rankingLocked()
	s.mu.Unlock()

	s.hub.Broadcast(domain.Event{Type: domain.EventTimeUp})
	s.hub.Broadcast(domain.Result{
		Type:             "result",
		CorrectAnswer:    s.answer,
		Description:      s.description,
		CorrectAnswerers: ranking,
	})

	select {
	case <-ctx.Done():
		return
	case <-time.After(s.settle):
	}

	s.mu.Lock()
	next := s.nextAnswer
	s.mu.Unlock()
	if next == "" {
		picked, err := s.themes.Pick(ctx)
		if err != nil {
			log.Printf("game %d: theme pick failed, no successor: %v", s.id, err)
			return
		}
		next = picked
	}

	params := s.origin
	params.Answer = next
	successor, err := s.minter.mintSuccessor(ctx, params)
	if err != nil {
		log.Printf("game %d: successor creation failed: %v", s.id, err)
		return
	}

	s.mu.Lock()
	s.successorID = successor
	s.state = domain.StateRedirected
	s.mu.Unlock()

	s.hub.Broadcast(domain.Redirect{Type: "redirect", GameID: successor})
}

// rankingLocked sorts correct answerers ascending by time of correctness;
// the append order breaks ties.
func (s *Session) rankingLocked() []domain.CorrectAnswerer {
	ranking := make([]domain.CorrectAnswerer, 0, len(s.correct))
	for _, p := range s.correct {
		ranking = append(ranking, domain.CorrectAnswerer{
			UserID:     p.UserID,
			Nickname:   p.Nickname,
			AnsweredAt: p.AnsweredAt,
		})
	}
	sort.SliceStable(ranking, func(i, j int) bool {
		if ranking[i].AnsweredAt == nil || ranking[j].AnsweredAt == nil {
			return ranking[j].AnsweredAt == nil && ranking[i].AnsweredAt != nil
		}
		return ranking[i].AnsweredAt.Before(*ranking[j].AnsweredAt)
	})
	return ranking
}

// AskQuestion judges a question, spends one question budget and broadcasts
// the judged record. The judge call runs outside the session lock.
func (s *Session) AskQuestion(ctx context.Context, userID uuid.UUID, text string) (domain.QuestionRecord, error) {
	s.mu.Lock()
	if err := s.submissionAllowedLocked(userID, true); err != nil {
		s.mu.Unlock()
		return domain.QuestionRecord{}, err
	}
	answer, description := s.answer, s.description
	s.mu.Unlock()

	verdict, err := s.judge.JudgeQuestion(ctx, answer, description, text)
	if err != nil {
		return domain.QuestionRecord{}, fmt.Errorf("judge question: %w", err)
	}

	s.mu.Lock()
	p, ok := s.participants[userID]
	if !ok {
		s.mu.Unlock()
		return domain.QuestionRecord{}, domain.ErrUnknownParticipant
	}
	if p.RemainingQuestions == 0 {
		s.mu.Unlock()
		return domain.QuestionRecord{}, domain.ErrNoQuestionsLeft
	}
	p.RemainingQuestions--
	record := domain.QuestionRecord{
		Type:          "res_question",
		Time:          s.clock(),
		User:          p.UserID,
		Nickname:      p.Nickname,
		IncludeAnswer: verdict.IncludesAnswer,
		Title:         verdict.Reply,
		Question:      text,
		Reply:         verdict.Reason,
	}
	s.messages = append(s.messages, record)
	s.mu.Unlock()

	s.hub.Broadcast(record)
	return record, nil
}

// SubmitAnswer judges an answer, spends one answer budget, records a
// first-time correct verdict with its timestamp and broadcasts the record
// with the literal text redacted when it would spoil the game.
func (s *Session) SubmitAnswer(ctx context.Context, userID uuid.UUID, text string) (domain.AnswerRecord, error) {
	s.mu.Lock()
	if err := s.submissionAllowedLocked(userID, false); err != nil {
		s.mu.Unlock()
		return domain.AnswerRecord{}, err
	}
	answer, genre, description := s.answer, s.genre, s.description
	s.mu.Unlock()

	verdict, err := s.judge.JudgeAnswer(ctx, answer, genre, description, text)
	if err != nil {
		return domain.AnswerRecord{}, fmt.Errorf("judge answer: %w", err)
	}

	s.mu.Lock()
	p, ok := s.participants[userID]
	if !ok {
		s.mu.Unlock()
		return domain.AnswerRecord{}, domain.ErrUnknownParticipant
	}
	if p.RemainingAnswers == 0 {
		s.mu.Unlock()
		return domain.AnswerRecord{}, domain.ErrNoAnswersLeft
	}
	p.RemainingAnswers--

	now := s.clock()
	if verdict.Correct && !p.AnsweredCorrectly {
		p.AnsweredCorrectly = true
		p.AnsweredAt = &now
		s.correct = append(s.correct, p)
	}

	record := domain.AnswerRecord{
		Type:          "res_answer",
		Time:          now,
		User:          p.UserID,
		Nickname:      p.Nickname,
		Judge:         domain.VerdictIncorrect,
		IncludeAnswer: verdict.IsClose,
		Answer:        text,
	}
	if verdict.Correct {
		record.Judge = domain.VerdictCorrect
	}
	// A correct or near-giveaway answer is hidden from the broadcast so it
	// cannot spoil the game for players still guessing.
	if verdict.Correct || verdict.IsClose {
		record.Answer = ""
	}
	s.messages = append(s.messages, record)
	s.mu.Unlock()

	s.hub.Broadcast(record)
	return record, nil
}

// submissionAllowedLocked applies the shared rejection rules for questions
// and answers before any judge call is made.
func (s *Session) submissionAllowedLocked(userID uuid.UUID, question bool) error {
	if s.state != domain.StatePlaying {
		return domain.ErrNotPlaying
	}
	p, ok := s.participants[userID]
	if !ok {
		return domain.ErrUnknownParticipant
	}
	if question && p.RemainingQuestions == 0 {
		return domain.ErrNoQuestionsLeft
	}
	if !question && p.RemainingAnswers == 0 {
		return domain.ErrNoAnswersLeft
	}
	if p.AnsweredCorrectly {
		return domain.ErrAlreadyCorrect
	}
	return nil
}

// PinNextAnswer pins the successor session's answer, overriding the random
// theme pick.
func (s *Session) PinNextAnswer(answer string) {
	s.mu.Lock()
	s.nextAnswer = answer
	s.mu.Unlock()
}

// ForceRedirectIfFinished flips an already finished session straight to
// redirected. The automatic chain still performs the successor creation.
func (s *Session) ForceRedirectIfFinished() {
	s.mu.Lock()
	if s.state == domain.StateFinished {
		s.state = domain.StateRedirected
	}
	s.mu.Unlock()
}

// Participant returns a copy of a participant record.
func (s *Session) Participant(userID uuid.UUID) (domain.Participant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[userID]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

// Snapshot builds the read-only view served to the status endpoint.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make(map[uuid.UUID]string, len(s.participants))
	for id, p := range s.participants {
		users[id] = p.Nickname
	}
	messages := make([]domain.Message, len(s.messages))
	copy(messages, s.messages)

	snap := domain.Snapshot{
		Genre:         s.genre,
		AnswerLimit:   s.origin.AnswerLimit,
		QuestionLimit: s.origin.QuestionLimit,
		Messages:      messages,
		Status:        s.state,
		Users:         users,
	}
	if !s.startTime.IsZero() {
		start, end := s.startTime, s.endTime
		snap.StartTime = &start
		snap.EndTime = &end
	}
	return snap
}

// Summary is the admin list view of one session.
type Summary struct {
	Status      domain.State `json:"status"`
	Answer      string       `json:"answer"`
	Connections int          `json:"connection_count"`
}

func (s *Session) summary() Summary {
	s.mu.Lock()
	state := s.state
	answer := s.answer
	s.mu.Unlock()
	return Summary{Status: state, Answer: answer, Connections: s.hub.Len()}
}
