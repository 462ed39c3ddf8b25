// Package rules wraps the chess rules engine behind a small boundary so the
// session layer never deals with engine-specific types.
package rules

import (
	"errors"

	"github.com/halfmove/gambit/internal/domain"
)

// ErrIllegalMove is returned when a proposed move is rejected by the engine
var ErrIllegalMove = errors.New("illegal move")

// MoveInfo describes an accepted move
type MoveInfo struct {
	From      string
	To        string
	Promotion string
	Check     bool // the move leaves the opponent in check
}

// Board is one game's mutable position
type Board interface {
	// Turn returns the side to move, "w" or "b"
	Turn() string
	// ApplyMove validates and applies a move, mutating the board on success.
	// Returns ErrIllegalMove if the move is rejected.
	ApplyMove(from, to, promotion string) (MoveInfo, error)
	// Terminal returns the game result if the position is terminal, else nil
	Terminal() *domain.GameResult
	// FEN serializes the current position
	FEN() string
}

// Engine creates fresh boards
type Engine interface {
	NewBoard() Board
}
