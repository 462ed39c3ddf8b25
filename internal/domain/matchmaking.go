package domain

// Matchmaking event types pushed over the notification stream
const (
	EventQueued    = "queued"
	EventMatched   = "matched"
	EventTimeout   = "timeout"
	EventCancelled = "cancelled"
)

// PlayerRef identifies one side of a match
type PlayerRef struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Match is the immutable pairing produced by the matchmaker
type Match struct {
	ID        string    `json:"id"`
	Player1   PlayerRef `json:"player1"`
	Player2   PlayerRef `json:"player2"`
	CreatedAt string    `json:"createdAt"`
}

// MatchmakingEvent is a single event on a participant's notification stream
type MatchmakingEvent struct {
	Type  string `json:"type"`
	Match *Match `json:"match,omitempty"`
}

// Terminal reports whether the event ends the stream it is delivered on
func (e MatchmakingEvent) Terminal() bool {
	return e.Type == EventMatched || e.Type == EventTimeout || e.Type == EventCancelled
}
