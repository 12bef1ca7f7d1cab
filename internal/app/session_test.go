package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"word-guess-service/internal/app"
	"word-guess-service/internal/domain"
	"word-guess-service/internal/judge"
)

// stubJudge scores deterministically: an answer is correct iff it equals the
// secret, and everything is usable as a theme.
type stubJudge struct {
	themeUsable   bool
	questionCalls atomic.Int64
	answerCalls   atomic.Int64
	flagClose     bool
}

func (j *stubJudge) ValidateTheme(_ context.Context, candidate string) (judge.ThemeVerdict, error) {
	if !j.themeUsable {
		return judge.ThemeVerdict{Usable: false}, nil
	}
	return judge.ThemeVerdict{
		Usable:      true,
		Answer:      candidate,
		Genre:       "thing",
		Description: "a well known thing",
	}, nil
}

func (j *stubJudge) JudgeQuestion(_ context.Context, _, _, question string) (judge.QuestionVerdict, error) {
	j.questionCalls.Add(1)
	return judge.QuestionVerdict{Reply: "no", Reason: "it is not that.", IncludesAnswer: false}, nil
}

func (j *stubJudge) JudgeAnswer(_ context.Context, answer, _, _, submitted string) (judge.AnswerVerdict, error) {
	j.answerCalls.Add(1)
	return judge.AnswerVerdict{Correct: submitted == answer, IsClose: j.flagClose}, nil
}

type stubThemes struct {
	theme string
}

func (s *stubThemes) Pick(_ context.Context) (string, error) {
	if s.theme == "" {
		return "", domain.ErrNoThemes
	}
	return s.theme, nil
}

// testClock is an adjustable clock shared by a registry's sessions.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(j judge.Judge, themes app.ThemePool, clock *testClock) *app.Registry {
	return app.NewRegistry(j, themes, app.Options{
		Tick:        5 * time.Millisecond,
		SettleDelay: 5 * time.Millisecond,
		Clock:       clock.Now,
	})
}

func createGame(t *testing.T, registry *app.Registry, answer string, questions, answers int, limit time.Duration) *app.Session {
	t.Helper()
	id, err := registry.Create(context.Background(), domain.GameParams{
		User:          uuid.New(),
		Answer:        answer,
		AnswerLimit:   answers,
		QuestionLimit: questions,
		TimeLimit:     limit,
	})
	if err != nil {
		t.Fatalf("create game: %v", err)
	}
	session, ok := registry.Get(id)
	if !ok {
		t.Fatalf("expected session %d in registry", id)
	}
	return session
}

// nextFrame reads one broadcast frame from a connection's mailbox.
func nextFrame(t *testing.T, conn *app.Conn) map[string]any {
	t.Helper()
	select {
	case payload, ok := <-conn.Outbound():
		if !ok {
			t.Fatalf("connection mailbox closed")
		}
		var frame map[string]any
		if err := json.Unmarshal(payload, &frame); err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		return frame
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a frame")
		return nil
	}
}

// awaitFrame skips frames until one of the wanted type arrives.
func awaitFrame(t *testing.T, conn *app.Conn, frameType string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		frame := nextFrame(t, conn)
		if frame["type"] == frameType {
			return frame
		}
	}
	t.Fatalf("timed out waiting for %q frame", frameType)
	return nil
}

func joinPlayer(session *app.Session, nickname string) (*app.Conn, uuid.UUID) {
	conn := session.Attach()
	id := uuid.New()
	session.Join(conn, id, true, nickname)
	return conn, id
}

func TestReadyGateStartsGameOnlyWhenAllConnectedReady(t *testing.T) {
	adjudicator := &stubJudge{themeUsable: true}
	registry := newTestRegistry(adjudicator, &stubThemes{theme: "Piano"}, newTestClock())
	session := createGame(t, registry, "Mount Fuji", 3, 2, time.Minute)

	connA, alice := joinPlayer(session, "Alice")
	connB, bob := joinPlayer(session, "Bob")

	session.Ready(alice)
	if state := session.State(); state != domain.StateWaiting {
		t.Fatalf("expected waiting with one ready, got %s", state)
	}

	session.Ready(bob)
	if state := session.State(); state != domain.StatePlaying {
		t.Fatalf("expected playing after all ready, got %s", state)
	}

	for _, conn := range []*app.Conn{connA, connB} {
		frame := awaitFrame(t, conn, "game_start")
		if frame["type"] != "game_start" {
			t.Fatalf("expected game_start, got %v", frame)
		}
	}

	snap := session.Snapshot()
	if snap.StartTime == nil || snap.EndTime == nil {
		t.Fatalf("expected start and end times after game start")
	}
	if got := snap.EndTime.Sub(*snap.StartTime); got != time.Minute {
		t.Fatalf("expected end time 1m after start, got %s", got)
	}
}

func TestReadyIgnoredOutsideWaiting(t *testing.T) {
	adjudicator := &stubJudge{themeUsable: true}
	registry := newTestRegistry(adjudicator, &stubThemes{theme: "Piano"}, newTestClock())
	session := createGame(t, registry, "Mount Fuji", 3, 2, time.Minute)

	_, alice := joinPlayer(session, "Alice")
	session.Ready(alice)
	if state := session.State(); state != domain.StatePlaying {
		t.Fatalf("expected playing, got %s", state)
	}

	// A second ready after the transition changes nothing.
	session.Ready(alice)
	if state := session.State(); state != domain.StatePlaying {
		t.Fatalf("expected playing after redundant ready, got %s", state)
	}
}

func TestReadyGateSkipsDisconnectedParticipants(t *testing.T) {
	adjudicator := &stubJudge{themeUsable: true}
	registry := newTestRegistry(adjudicator, &stubThemes{theme: "Piano"}, newTestClock())
	session := createGame(t, registry, "Mount Fuji", 3, 2, time.Minute)

	_, alice := joinPlayer(session, "Alice")
	connB, _ := joinPlayer(session, "Bob")

	// Bob drops before readying; the gate only counts connected identities.
	session.Detach(connB)
	session.Ready(alice)
	if state := session.State(); state != domain.StatePlaying {
		t.Fatalf("expected playing once every connected participant is ready, got %s", state)
	}
}

func TestQuestionSpendsBudgetAndBroadcasts(t *testing.T) {
	adjudicator := &stubJudge{themeUsable: true}
	registry := newTestRegistry(adjudicator, &stubThemes{theme: "Piano"}, newTestClock())
	session := createGame(t, registry, "Mount Fuji", 3, 2, time.Minute)

	connA, alice := joinPlayer(session, "Alice")
	connB, bob := joinPlayer(session, "Bob")
	session.Ready(alice)
	session.Ready(bob)
	awaitFrame(t, connA, "game_start")
	awaitFrame(t, connB, "game_start")

	record, err := session.AskQuestion(context.Background(), alice, "Is it an animal?")
	if err != nil {
		t.Fatalf("ask question: %v", err)
	}
	if record.Question != "Is it an animal?" || record.Nickname != "Alice" {
		t.Fatalf("unexpected record %+v", record)
	}

	p, _ := session.Participant(alice)
	if p.RemainingQuestions != 2 {
		t.Fatalf("expected 2 questions left, got %d", p.RemainingQuestions)
	}

	for _, conn := range []*app.Conn{connA, connB} {
		frame := awaitFrame(t, conn, "res_question")
		if frame["question"] != "Is it an animal?" {
			t.Fatalf("expected question broadcast, got %v", frame)
		}
	}

	snap := session.Snapshot()
	if len(snap.Messages) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(snap.Messages))
	}
}

func TestExhaustedBudgetRejectsWithoutJudgeCall(t *testing.T) {
	adjudicator := &stubJudge{themeUsable: true}
	registry := newTestRegistry(adjudicator, &stubThemes{theme: "Piano"}, newTestClock())
	session := createGame(t, registry, "Mount Fuji", 1, 1, time.Minute)

	_, alice := joinPlayer(session, "Alice")
	session.Ready(alice)

	if _, err := session.AskQuestion(context.Background(), alice, "Is it big?"); err != nil {
		t.Fatalf("first question: %v", err)
	}
	calls := adjudicator.questionCalls.Load()

	_, err := session.AskQuestion(context.Background(), alice, "Is it small?")
	if !errors.Is(err, domain.ErrNoQuestionsLeft) {
		t.Fatalf("expected ErrNoQuestionsLeft, got %v", err)
	}
	if adjudicator.questionCalls.Load() != calls {
		t.Fatalf("judge must not be called for an exhausted budget")
	}
}

func TestSubmissionsRejectedOutsidePlaying(t *testing.T) {
	adjudicator := &stubJudge{themeUsable: true}
	registry := newTestRegistry(adjudicator, &stubThemes{theme: "Piano"}, newTestClock())
	session := createGame(t, registry, "Mount Fuji", 3, 2, time.Minute)

	_, alice := joinPlayer(session, "Alice")

	if _, err := session.AskQuestion(context.Background(), alice, "Is it alive?"); !errors.Is(err, domain.ErrNotPlaying) {
		t.Fatalf("expected ErrNotPlaying, got %v", err)
	}
	if _, err := session.SubmitAnswer(context.Background(), alice, "Mount Fuji"); !errors.Is(err, domain.ErrNotPlaying) {
		t.Fatalf("expected ErrNotPlaying, got %v", err)
	}
	if adjudicator.questionCalls.Load() != 0 || adjudicator.answerCalls.Load() != 0 {
		t.Fatalf("judge must not be called outside playing")
	}
}

func TestCorrectAnswerRedactedAndStamped(t *testing.T) {
	adjudicator := &stubJudge{themeUsable: true}
	clock := newTestClock()
	registry := newTestRegistry(adjudicator, &stubThemes{theme: "Piano"}, clock)
	session := createGame(t, registry, "Mount Fuji", 3, 2, time.Minute)

	connA, alice := joinPlayer(session, "Alice")
	connB, bob := joinPlayer(session, "Bob")
	session.Ready(alice)
	session.Ready(bob)

	record, err := session.SubmitAnswer(context.Background(), bob, "Mount Fuji")
	if err != nil {
		t.Fatalf("submit answer: %v", err)
	}
	if record.Judge != domain.VerdictCorrect {
		t.Fatalf("expected correct verdict, got %s", record.Judge)
	}
	if record.Answer != "" {
		t.Fatalf("correct answer text must be redacted, got %q", record.Answer)
	}

	frame := awaitFrame(t, connA, "res_answer")
	if frame["answer"] != "" {
		t.Fatalf("broadcast must redact a correct answer, got %v", frame["answer"])
	}
	awaitFrame(t, connB, "res_answer")

	p, _ := session.Participant(bob)
	if !p.AnsweredCorrectly || p.AnsweredAt == nil {
		t.Fatalf("expected correctness flag and timestamp, got %+v", p)
	}
	if p.RemainingAnswers != 1 {
		t.Fatalf("expected 1 answer left, got %d", p.RemainingAnswers)
	}

	// Already-correct participants are rejected before the judge runs.
	calls := adjudicator.answerCalls.Load()
	if _, err := session.SubmitAnswer(context.Background(), bob, "Mount Fuji"); !errors.Is(err, domain.ErrAlreadyCorrect) {
		t.Fatalf("expected ErrAlreadyCorrect, got %v", err)
	}
	if adjudicator.answerCalls.Load() != calls {
		t.Fatalf("judge must not re-score an already correct participant")
	}
}

func TestIncorrectAnswerKeptVerbatimUnlessClose(t *testing.T) {
	adjudicator := &stubJudge{themeUsable: true}
	registry := newTestRegistry(adjudicator, &stubThemes{theme: "Piano"}, newTestClock())
	session := createGame(t, registry, "Mount Fuji", 3, 2, time.Minute)

	_, alice := joinPlayer(session, "Alice")
	session.Ready(alice)

	record, err := session.SubmitAnswer(context.Background(), alice, "Mount Everest")
	if err != nil {
		t.Fatalf("submit answer: %v", err)
	}
	if record.Judge != domain.VerdictIncorrect || record.Answer != "Mount Everest" {
		t.Fatalf("expected verbatim incorrect answer, got %+v", record)
	}

	// A near-giveaway is redacted even when incorrect.
	adjudicator.flagClose = true
	record, err = session.SubmitAnswer(context.Background(), alice, "the tallest mountain in Japan")
	if err != nil {
		t.Fatalf("submit close answer: %v", err)
	}
	if !record.IncludeAnswer || record.Answer != "" {
		t.Fatalf("expected redacted close answer, got %+v", record)
	}
}

func TestResultRanksByAnswerTime(t *testing.T) {
	adjudicator := &stubJudge{themeUsable: true}
	clock := newTestClock()
	registry := newTestRegistry(adjudicator, &stubThemes{theme: "Piano"}, clock)
	session := createGame(t, registry, "Mount Fuji", 3, 2, 500*time.Millisecond)

	connA, alice := joinPlayer(session, "Alice")
	_, bob := joinPlayer(session, "Bob")
	session.Ready(alice)
	session.Ready(bob)

	// Bob answers at t+5s, Alice at t+10s.
	clock.Advance(5 * time.Second)
	if _, err := session.SubmitAnswer(context.Background(), bob, "Mount Fuji"); err != nil {
		t.Fatalf("bob answer: %v", err)
	}
	clock.Advance(5 * time.Second)
	if _, err := session.SubmitAnswer(context.Background(), alice, "Mount Fuji"); err != nil {
		t.Fatalf("alice answer: %v", err)
	}

	frame := awaitFrame(t, connA, "result")
	if frame["correct_answer"] != "Mount Fuji" {
		t.Fatalf("expected revealed answer, got %v", frame)
	}
	ranking, ok := frame["correct_answerers"].([]any)
	if !ok || len(ranking) != 2 {
		t.Fatalf("expected 2 ranked answerers, got %v", frame["correct_answerers"])
	}
	first := ranking[0].(map[string]any)
	second := ranking[1].(map[string]any)
	if first["nickname"] != "Bob" || second["nickname"] != "Alice" {
		t.Fatalf("expected [Bob, Alice], got [%v, %v]", first["nickname"], second["nickname"])
	}
}

func TestFinishHappensExactlyOnce(t *testing.T) {
	adjudicator := &stubJudge{themeUsable: true}
	registry := newTestRegistry(adjudicator, &stubThemes{theme: "Piano"}, newTestClock())
	// Time limit of two ticks so the timeout lands while the all-correct
	// condition already holds.
	session := createGame(t, registry, "Mount Fuji", 3, 2, 10*time.Millisecond)

	connA, alice := joinPlayer(session, "Alice")
	session.Ready(alice)
	if _, err := session.SubmitAnswer(context.Background(), alice, "Mount Fuji"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	awaitFrame(t, connA, "timeup")

	// Drain everything delivered for a while; a second timeup would mean a
	// double transition.
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case payload, ok := <-connA.Outbound():
			if !ok {
				t.Fatalf("mailbox closed early")
			}
			var frame map[string]any
			if err := json.Unmarshal(payload, &frame); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if frame["type"] == "timeup" {
				t.Fatalf("observed a second timeup broadcast")
			}
		case <-deadline:
			return
		}
	}
}

func TestChainMintsSuccessorFromThemePool(t *testing.T) {
	adjudicator := &stubJudge{themeUsable: true}
	registry := newTestRegistry(adjudicator, &stubThemes{theme: "Piano"}, newTestClock())
	session := createGame(t, registry, "Mount Fuji", 3, 2, 20*time.Millisecond)

	connA, alice := joinPlayer(session, "Alice")
	session.Ready(alice)

	frame := awaitFrame(t, connA, "redirect")
	successor := int(frame["game_id"].(float64))
	if successor == 0 {
		t.Fatalf("expected successor id in redirect frame")
	}
	if session.State() != domain.StateRedirected {
		t.Fatalf("expected redirected state, got %s", session.State())
	}
	if session.SuccessorID() != successor {
		t.Fatalf("successor id mismatch: %d vs %d", session.SuccessorID(), successor)
	}

	next, ok := registry.Get(successor)
	if !ok {
		t.Fatalf("successor session missing from registry")
	}
	if next.State() != domain.StateWaiting {
		t.Fatalf("expected fresh successor in waiting, got %s", next.State())
	}
	if got := registry.List()[successor].Answer; got != "Piano" {
		t.Fatalf("expected pooled theme Piano, got %q", got)
	}
}

func TestChainPrefersPinnedAnswer(t *testing.T) {
	adjudicator := &stubJudge{themeUsable: true}
	registry := newTestRegistry(adjudicator, &stubThemes{theme: "Piano"}, newTestClock())
	session := createGame(t, registry, "Mount Fuji", 3, 2, 20*time.Millisecond)

	session.PinNextAnswer("Kyoto")

	connA, alice := joinPlayer(session, "Alice")
	session.Ready(alice)

	frame := awaitFrame(t, connA, "redirect")
	successor := int(frame["game_id"].(float64))
	if got := registry.List()[successor].Answer; got != "Kyoto" {
		t.Fatalf("expected pinned answer Kyoto, got %q", got)
	}
}

func TestObserverGetsNoBudgets(t *testing.T) {
	adjudicator := &stubJudge{themeUsable: true}
	registry := newTestRegistry(adjudicator, &stubThemes{theme: "Piano"}, newTestClock())
	session := createGame(t, registry, "Mount Fuji", 3, 2, time.Minute)

	conn := session.Attach()
	observer := uuid.New()
	session.Join(conn, observer, false, "Watcher")

	p, ok := session.Participant(observer)
	if !ok {
		t.Fatalf("expected observer in roster")
	}
	if p.RemainingQuestions != 0 || p.RemainingAnswers != 0 {
		t.Fatalf("observers must have zero budgets, got %+v", p)
	}
}

func TestReconnectKeepsParticipantState(t *testing.T) {
	adjudicator := &stubJudge{themeUsable: true}
	registry := newTestRegistry(adjudicator, &stubThemes{theme: "Piano"}, newTestClock())
	session := createGame(t, registry, "Mount Fuji", 3, 2, time.Minute)

	conn, alice := joinPlayer(session, "Alice")
	session.Ready(alice)
	if _, err := session.AskQuestion(context.Background(), alice, "Is it tall?"); err != nil {
		t.Fatalf("ask: %v", err)
	}

	session.Detach(conn)
	reconn := session.Attach()
	session.Join(reconn, alice, true, "Alice")

	p, _ := session.Participant(alice)
	if p.RemainingQuestions != 2 {
		t.Fatalf("expected budget to survive reconnect, got %d", p.RemainingQuestions)
	}
	if !p.IsReady {
		t.Fatalf("ready flag must survive reconnect")
	}
}
