package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIConfig configures the chat-completions endpoint and HTTP behavior.
type OpenAIConfig struct {
	ChatCompletionsURL string
	APIKey             string
	Model              string
	Timeout            time.Duration
	HTTPClient         *http.Client
}

type openAIJudge struct {
	cfg OpenAIConfig
}

// NewOpenAIJudge builds a Judge backed by the OpenAI chat-completions API
// with structured JSON output.
func NewOpenAIJudge(cfg OpenAIConfig) Judge {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if strings.TrimSpace(cfg.ChatCompletionsURL) == "" {
		cfg.ChatCompletionsURL = "https://api.openai.com/v1/chat/completions"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &openAIJudge{cfg: cfg}
}

const themePrompt = `You are the referee of a "guess the secret word or person" game.
The game creator proposes a word or person name to use as the secret answer.
1. Decide whether the input is usable as an answer. It must not be vague or
generic (stock characters like "zombie" or "dragon" are not allowed), and it
must be either a word with one clear meaning, a well-known real person, or a
named character from a specific work. If several people share the name, pick
the most widely known one.
2. If usable, replace the input with its most common or official name. For a
character, append the work's title in parentheses.
3. If usable, output the genre of the answer as a hint (person, fictional
character, animal, movie, song, field of study, game, and so on). The
sentence "[answer] is a [genre]" must hold.
4. Describe the answer so that anyone can tell what it is.`

const questionPromptFmt = `You are the referee of a "guess the secret word or person" game.
The secret answer: "%s"
Description of the answer: "%s"
A player asks a question about the answer; reply to it.
If the question is a bare word like "[word]?", judge whether "%s is [word]" holds.
Reply in the same language as the question.
Refuse to answer when:
1. The question is vague or meaningless.
2. The question contains the answer itself. In that case set include_answer to true.
3. The question tries to guess letters, such as "does it start with A?".
4. You do not know the answer to the question.
Never use the answer or related give-away words in your reply; refer to it as "it".`

const answerPromptFmt = `You are the referee of a "guess the secret word or person" game.
The secret answer: "%s"
The genre hint given to players: "%s"
Description of the answer: "%s"
A player submits a guess; judge whether it is correct.
Judging rules:
- The guess is correct when it is the answer or a spelling/notation variant of it.
- A broader term that merely contains the answer's category is incorrect,
unless within the genre it is commonly used as a name for the answer alone.`

type themeResult struct {
	IsUseable   bool   `json:"is_useable"`
	Thema       string `json:"thema"`
	Genre       string `json:"genre"`
	Description string `json:"description"`
}

type questionResult struct {
	Reply         string `json:"reply"`
	Reason        string `json:"reason"`
	IncludeAnswer bool   `json:"include_answer"`
}

type answerResult struct {
	Reply   string `json:"reply"` // "correct" | "incorrect"
	IsClose bool   `json:"is_close"`
}

func (j *openAIJudge) ValidateTheme(ctx context.Context, candidate string) (ThemeVerdict, error) {
	schema := objectSchema(map[string]any{
		"is_useable":  map[string]any{"type": "boolean"},
		"thema":       map[string]any{"type": "string"},
		"genre":       map[string]any{"type": "string"},
		"description": map[string]any{"type": "string"},
	})
	var out themeResult
	if err := j.generate(ctx, "theme_check", themePrompt, candidate, schema, &out); err != nil {
		return ThemeVerdict{}, err
	}
	return ThemeVerdict{
		Usable:      out.IsUseable,
		Answer:      out.Thema,
		Genre:       out.Genre,
		Description: out.Description,
	}, nil
}

func (j *openAIJudge) JudgeQuestion(ctx context.Context, answer, description, question string) (QuestionVerdict, error) {
	schema := objectSchema(map[string]any{
		"reply":          map[string]any{"type": "string"},
		"reason":         map[string]any{"type": "string"},
		"include_answer": map[string]any{"type": "boolean"},
	})
	prompt := fmt.Sprintf(questionPromptFmt, answer, description, answer)
	var out questionResult
	if err := j.generate(ctx, "question_check", prompt, question, schema, &out); err != nil {
		return QuestionVerdict{}, err
	}
	return QuestionVerdict{
		Reply:          out.Reply,
		Reason:         out.Reason,
		IncludesAnswer: out.IncludeAnswer,
	}, nil
}

func (j *openAIJudge) JudgeAnswer(ctx context.Context, answer, genre, description, submitted string) (AnswerVerdict, error) {
	schema := objectSchema(map[string]any{
		"reply":    map[string]any{"type": "string", "enum": []string{"correct", "incorrect"}},
		"is_close": map[string]any{"type": "boolean"},
	})
	prompt := fmt.Sprintf(answerPromptFmt, answer, genre, description)
	var out answerResult
	if err := j.generate(ctx, "answer_check", prompt, submitted, schema, &out); err != nil {
		return AnswerVerdict{}, err
	}
	return AnswerVerdict{
		Correct: out.Reply == "correct",
		IsClose: out.IsClose,
	}, nil
}

func objectSchema(properties map[string]any) map[string]any {
	required := make([]string, 0, len(properties))
	for name := range properties {
		required = append(required, name)
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": false,
	}
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat any           `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// generate issues one structured chat completion and decodes the JSON
// content into out.
func (j *openAIJudge) generate(ctx context.Context, schemaName, systemPrompt, userText string, schema map[string]any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, j.cfg.Timeout)
	defer cancel()

	payload := chatRequest{
		Model: j.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userText},
		},
		ResponseFormat: map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   schemaName,
				"strict": true,
				"schema": schema,
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal judge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, j.cfg.ChatCompletionsURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build judge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if j.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+j.cfg.APIKey)
	}

	resp, err := j.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("judge request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read judge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("judge returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode judge response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return fmt.Errorf("judge response has no choices")
	}
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), out); err != nil {
		return fmt.Errorf("decode judge verdict: %w", err)
	}
	return nil
}
