package domain

// Outbound frames that are not part of the message history. Every frame is
// tagged with a "type" field for polymorphic dispatch on the client.

// Event signals a phase change to all connections.
type Event struct {
	Type string `json:"type"` // "game_start" | "timeup"
}

const (
	EventGameStart = "game_start"
	EventTimeUp    = "timeup"
)

// Result reveals the answer and ranks the correct answerers by time.
type Result struct {
	Type             string            `json:"type"` // "result"
	CorrectAnswer    string            `json:"correct_answer"`
	Description      string            `json:"description"`
	CorrectAnswerers []CorrectAnswerer `json:"correct_answerers"`
}

// Redirect points clients at the successor session.
type Redirect struct {
	Type   string `json:"type"` // "redirect"
	GameID int    `json:"game_id"`
}

// Response is a private notice to a single connection.
type Response struct {
	Type string `json:"type"` // "response"
	Text string `json:"text"`
}
