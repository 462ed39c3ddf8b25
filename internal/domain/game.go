package domain

// Player colors as they appear on the wire (FEN side-to-move letters)
const (
	ColorWhite = "w"
	ColorBlack = "b"
)

// Game result types
const (
	ResultCheckmate = "checkmate"
	ResultStalemate = "stalemate"
	ResultDraw      = "draw"
	ResultResign    = "resign"
)

// Draw reasons
const (
	DrawInsufficient = "insufficient"
	DrawThreefold    = "threefold"
	DrawFiftyMove    = "fifty-move"
)

// Winner values used in results and settlement
const (
	WinnerWhite = "white"
	WinnerBlack = "black"
)

// GameResult describes how a game ended. Winner is set for checkmate and
// resign, Reason is set for draws.
type GameResult struct {
	Type   string `json:"type"`
	Winner string `json:"winner,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Outcome reduces a result to the side that scored: "white", "black" or "draw".
func (r GameResult) Outcome() string {
	switch r.Type {
	case ResultCheckmate, ResultResign:
		return r.Winner
	default:
		return "draw"
	}
}
