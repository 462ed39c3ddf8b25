package rules

import (
	"github.com/notnil/chess"

	"github.com/halfmove/gambit/internal/domain"
)

// ChessEngine implements Engine on top of notnil/chess
type ChessEngine struct{}

// NewEngine returns the standard chess engine
func NewEngine() ChessEngine {
	return ChessEngine{}
}

// NewBoard starts a game from the standard initial position
func (ChessEngine) NewBoard() Board {
	return &chessBoard{game: chess.NewGame()}
}

type chessBoard struct {
	game *chess.Game
}

func (b *chessBoard) Turn() string {
	if b.game.Position().Turn() == chess.Black {
		return domain.ColorBlack
	}
	return domain.ColorWhite
}

func (b *chessBoard) FEN() string {
	return b.game.FEN()
}

func (b *chessBoard) ApplyMove(from, to, promotion string) (MoveInfo, error) {
	uci := from + to + promotion
	move, err := chess.UCINotation{}.Decode(b.game.Position(), uci)
	if err != nil {
		return MoveInfo{}, ErrIllegalMove
	}
	if err := b.game.Move(move); err != nil {
		return MoveInfo{}, ErrIllegalMove
	}

	// The engine only auto-declares five-fold and 75-move draws; claimable
	// draws are declared as soon as they become available
	if b.game.Outcome() == chess.NoOutcome {
		for _, method := range b.game.EligibleDraws() {
			if method == chess.ThreefoldRepetition || method == chess.FiftyMoveRule {
				b.game.Draw(method)
				break
			}
		}
	}

	return MoveInfo{
		From:      move.S1().String(),
		To:        move.S2().String(),
		Promotion: promotion,
		Check:     move.HasTag(chess.Check),
	}, nil
}

func (b *chessBoard) Terminal() *domain.GameResult {
	switch b.game.Method() {
	case chess.Checkmate:
		winner := domain.WinnerWhite
		if b.game.Outcome() == chess.BlackWon {
			winner = domain.WinnerBlack
		}
		return &domain.GameResult{Type: domain.ResultCheckmate, Winner: winner}
	case chess.Stalemate:
		return &domain.GameResult{Type: domain.ResultStalemate}
	case chess.InsufficientMaterial:
		return &domain.GameResult{Type: domain.ResultDraw, Reason: domain.DrawInsufficient}
	case chess.ThreefoldRepetition, chess.FivefoldRepetition:
		return &domain.GameResult{Type: domain.ResultDraw, Reason: domain.DrawThreefold}
	case chess.FiftyMoveRule, chess.SeventyFiveMoveRule:
		return &domain.GameResult{Type: domain.ResultDraw, Reason: domain.DrawFiftyMove}
	}
	return nil
}
