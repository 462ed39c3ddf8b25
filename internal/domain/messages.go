package domain

// Message types on the game channel
const (
	MsgGameStarted  = "game_started"
	MsgMove         = "move"
	MsgMoveError    = "move_error"
	MsgResign       = "resign"
	MsgResignError  = "resign_error"
	MsgGameOver     = "game_over"
	MsgSessionError = "session_error"
	MsgError        = "error"
)

// GameStartedMessage is sent to each player when both sides have connected
type GameStartedMessage struct {
	Type        string `json:"type"`
	MatchID     string `json:"matchId"`
	FEN         string `json:"fen"`
	Turn        string `json:"turn"`
	Color       string `json:"color"`
	Username    string `json:"username"`
	UserElo     int    `json:"userElo"`
	Opponent    string `json:"opponent"`
	OpponentElo int    `json:"opponentElo"`
}

// MoveMessage broadcasts an accepted move to both players
type MoveMessage struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
	FEN       string `json:"fen"`
	Turn      string `json:"turn"`
	IsCheck   bool   `json:"isCheck"`
}

// GameOverMessage carries the final result and each side's rating change
type GameOverMessage struct {
	Type              string     `json:"type"`
	Result            GameResult `json:"result"`
	FEN               string     `json:"fen"`
	EloChange         int        `json:"eloChange"`
	OpponentEloChange int        `json:"opponentEloChange"`
}

// ErrorMessage is an in-band error on the game channel
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a message received from a player
type ClientMessage struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}
