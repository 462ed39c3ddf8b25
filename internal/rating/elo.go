// Package rating implements Elo rating settlement for finished games.
package rating

import "math"

// DefaultRating is assigned to players with no recorded rating
const DefaultRating = 100

// kFactor controls how far a single game can move a rating
const kFactor = 32

// Settlement holds both sides' post-game ratings and deltas
type Settlement struct {
	WhiteNew   int
	BlackNew   int
	WhiteDelta int
	BlackDelta int
}

// expectedScore is the probability of the player beating the opponent
func expectedScore(player, opponent int) float64 {
	return 1 / (1 + math.Pow(10, float64(opponent-player)/400))
}

// NewRating computes a single player's post-game rating given the actual
// score (1 win, 0.5 draw, 0 loss). Rounded to the nearest integer.
func NewRating(player, opponent int, actualScore float64) int {
	expected := expectedScore(player, opponent)
	return int(math.Round(float64(player) + kFactor*(actualScore-expected)))
}

// Settle computes both sides' new ratings for a finished game. Result is
// "white", "black" or "draw". Each side is rounded independently, so the
// deltas are zero-sum up to rounding.
func Settle(white, black int, result string) Settlement {
	var whiteScore, blackScore float64
	switch result {
	case "white":
		whiteScore, blackScore = 1, 0
	case "black":
		whiteScore, blackScore = 0, 1
	default:
		whiteScore, blackScore = 0.5, 0.5
	}

	whiteNew := NewRating(white, black, whiteScore)
	blackNew := NewRating(black, white, blackScore)
	return Settlement{
		WhiteNew:   whiteNew,
		BlackNew:   blackNew,
		WhiteDelta: whiteNew - white,
		BlackDelta: blackNew - black,
	}
}
