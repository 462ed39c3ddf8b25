// Package session owns active game sessions: binding player channels,
// arbitrating moves through the rules engine and settling ratings exactly
// once when a game ends.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/halfmove/gambit/internal/config"
	"github.com/halfmove/gambit/internal/domain"
	"github.com/halfmove/gambit/internal/rating"
	"github.com/halfmove/gambit/internal/rules"
	"github.com/halfmove/gambit/internal/storage"
)

// Close codes for game channels. Values above 4000 are application-defined
// websocket close codes.
const (
	CloseNormal         = 1000
	CloseAbort          = 4000
	CloseUnauthorized   = 4401
	CloseInvalidSession = 4404
)

var (
	ErrInvalidSession = errors.New("invalid session")
	ErrInvalidTurn    = errors.New("invalid turn")
	ErrInvalidMove    = errors.New("invalid move")
)

// Channel is one player's connection to a session. Implementations must not
// block in Send and must make Close idempotent; the registry never sends on
// a channel after closing it.
type Channel interface {
	Send(v any) error
	Close(code int)
}

// Store is the persistence the registry needs: ratings in, settlements out
type Store interface {
	Rating(ctx context.Context, userID string) (int, error)
	RecordGame(ctx context.Context, rec storage.GameRecord) error
}

type side struct {
	player domain.PlayerRef
	rating int
	ch     Channel
}

type gameSession struct {
	matchID   string
	white     side
	black     side
	createdAt time.Time
	deadline  *time.Timer
	started   bool
	ended     bool
	result    *domain.GameResult
	board     rules.Board
}

// Registry owns the session map. Every session transition happens under one
// lock, so bind, move, resign, disconnect, destroy and timer firings on a
// session are serialized.
type Registry struct {
	store  Store
	engine rules.Engine
	cfg    config.GameConfig

	mu       sync.Mutex
	sessions map[string]*gameSession
}

// NewRegistry creates a session registry
func NewRegistry(store Store, engine rules.Engine, cfg config.GameConfig) *Registry {
	return &Registry{
		store:    store,
		engine:   engine,
		cfg:      cfg,
		sessions: make(map[string]*gameSession),
	}
}

// Create builds a fresh session for a match. Player1 plays white. Any
// existing session for the match is destroyed first. The session is torn
// down if both players have not connected before the connection deadline.
func (r *Registry) Create(matchID string, player1, player2 domain.PlayerRef) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[matchID] != nil {
		r.destroyLocked(matchID)
	}

	s := &gameSession{
		matchID:   matchID,
		white:     side{player: player1, rating: r.lookupRating(player1.UserID)},
		black:     side{player: player2, rating: r.lookupRating(player2.UserID)},
		createdAt: time.Now(),
		board:     r.engine.NewBoard(),
	}
	s.deadline = time.AfterFunc(r.cfg.ConnectionDeadline, func() {
		r.connectionDeadline(matchID)
	})
	r.sessions[matchID] = s
	log.Printf("Session %s created: %s (white) vs %s (black)", matchID, player1.Username, player2.Username)
}

// lookupRating reads the player's current rating, falling back to the
// default for unknown players
func (r *Registry) lookupRating(userID string) int {
	elo, err := r.store.Rating(context.Background(), userID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("Error reading rating for %s: %v", userID, err)
		}
		return r.cfg.DefaultRating
	}
	return elo
}

// Has reports whether a session exists for the match
func (r *Registry) Has(matchID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[matchID] != nil
}

// IsParty reports whether the user is one of the match's two players
func (r *Registry) IsParty(matchID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sessions[matchID]
	return s != nil && (s.white.player.UserID == userID || s.black.player.UserID == userID)
}

// Bind attaches a player's channel to the session, replacing (and closing)
// any previous channel for that side. When the second side binds, the game
// starts: the deadline timer is cancelled and both players receive
// game_started. Returns false if the session or the player is unknown, or
// the game has already ended.
func (r *Registry) Bind(matchID, userID string, ch Channel) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[matchID]
	if s == nil || s.ended {
		return false
	}

	var sd *side
	switch userID {
	case s.white.player.UserID:
		sd = &s.white
	case s.black.player.UserID:
		sd = &s.black
	default:
		return false
	}

	if sd.ch != nil {
		sd.ch.Close(CloseNormal)
	}
	sd.ch = ch

	if s.white.ch != nil && s.black.ch != nil && !s.started {
		s.started = true
		s.deadline.Stop()

		fen, turn := s.board.FEN(), s.board.Turn()
		s.white.ch.Send(domain.GameStartedMessage{
			Type:        domain.MsgGameStarted,
			MatchID:     s.matchID,
			FEN:         fen,
			Turn:        turn,
			Color:       domain.ColorWhite,
			Username:    s.white.player.Username,
			UserElo:     s.white.rating,
			Opponent:    s.black.player.Username,
			OpponentElo: s.black.rating,
		})
		s.black.ch.Send(domain.GameStartedMessage{
			Type:        domain.MsgGameStarted,
			MatchID:     s.matchID,
			FEN:         fen,
			Turn:        turn,
			Color:       domain.ColorBlack,
			Username:    s.black.player.Username,
			UserElo:     s.black.rating,
			Opponent:    s.white.player.Username,
			OpponentElo: s.white.rating,
		})
		log.Printf("Session %s started", s.matchID)
	}
	return true
}

// colorOf returns the player's color, or "" for a non-party
func colorOf(s *gameSession, userID string) string {
	switch userID {
	case s.white.player.UserID:
		return domain.ColorWhite
	case s.black.player.UserID:
		return domain.ColorBlack
	}
	return ""
}

// SubmitMove validates and applies a move. On acceptance the move is
// broadcast to both players; if it ends the game, settlement happens in the
// same call.
func (r *Registry) SubmitMove(matchID, userID, from, to, promotion string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[matchID]
	if s == nil || !s.started || s.ended {
		return ErrInvalidSession
	}
	if colorOf(s, userID) != s.board.Turn() {
		return ErrInvalidTurn
	}

	info, err := s.board.ApplyMove(from, to, promotion)
	if err != nil {
		return ErrInvalidMove
	}

	broadcast(s, domain.MoveMessage{
		Type:      domain.MsgMove,
		From:      info.From,
		To:        info.To,
		Promotion: info.Promotion,
		FEN:       s.board.FEN(),
		Turn:      s.board.Turn(),
		IsCheck:   info.Check,
	})

	if result := s.board.Terminal(); result != nil {
		r.settleLocked(s, *result)
	}
	return nil
}

// SubmitResignation ends the game in the opponent's favor regardless of the
// position
func (r *Registry) SubmitResignation(matchID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[matchID]
	if s == nil || !s.started || s.ended {
		return ErrInvalidSession
	}

	color := colorOf(s, userID)
	if color == "" {
		return ErrInvalidSession
	}
	winner := domain.WinnerBlack
	if color == domain.ColorBlack {
		winner = domain.WinnerWhite
	}
	r.settleLocked(s, domain.GameResult{Type: domain.ResultResign, Winner: winner})
	return nil
}

// settleLocked performs the terminal transition: mark ended, persist the
// rating update, broadcast game_over and close both channels. It is the
// last mutation on the session; only post-game channel teardown follows.
func (r *Registry) settleLocked(s *gameSession, result domain.GameResult) {
	s.ended = true
	s.result = &result

	settle := rating.Settle(s.white.rating, s.black.rating, result.Outcome())
	rec := storage.GameRecord{
		MatchID:     s.matchID,
		WhiteUserID: s.white.player.UserID,
		BlackUserID: s.black.player.UserID,
		Result:      result,
		WhiteElo:    settle.WhiteNew,
		BlackElo:    settle.BlackNew,
		WhiteDelta:  settle.WhiteDelta,
		BlackDelta:  settle.BlackDelta,
		StartedAt:   s.createdAt,
		EndedAt:     time.Now(),
	}
	if err := r.store.RecordGame(context.Background(), rec); err != nil {
		log.Printf("Error recording game %s: %v", s.matchID, err)
	}

	fen := s.board.FEN()
	if s.white.ch != nil {
		s.white.ch.Send(domain.GameOverMessage{
			Type:              domain.MsgGameOver,
			Result:            result,
			FEN:               fen,
			EloChange:         settle.WhiteDelta,
			OpponentEloChange: settle.BlackDelta,
		})
		s.white.ch.Close(CloseNormal)
	}
	if s.black.ch != nil {
		s.black.ch.Send(domain.GameOverMessage{
			Type:              domain.MsgGameOver,
			Result:            result,
			FEN:               fen,
			EloChange:         settle.BlackDelta,
			OpponentEloChange: settle.WhiteDelta,
		})
		s.black.ch.Close(CloseNormal)
	}
	log.Printf("Session %s ended: %s (elo %+d / %+d)", s.matchID, result.Type, settle.WhiteDelta, settle.BlackDelta)
}

// HandleDisconnect reacts to a player's channel going away. After a settled
// game this is normal teardown; mid-game it aborts the session and informs
// the remaining player.
func (r *Registry) HandleDisconnect(matchID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[matchID]
	if s == nil {
		return
	}

	var sd, other *side
	switch userID {
	case s.white.player.UserID:
		sd, other = &s.white, &s.black
	case s.black.player.UserID:
		sd, other = &s.black, &s.white
	default:
		return
	}

	if s.ended {
		sd.ch = nil
		if s.white.ch == nil && s.black.ch == nil {
			r.destroyLocked(matchID)
		}
		return
	}

	sd.ch = nil
	if other.ch != nil {
		other.ch.Send(domain.ErrorMessage{
			Type:    domain.MsgSessionError,
			Message: "Your opponent disconnected, and the game was cancelled.",
		})
		other.ch.Close(CloseAbort)
	}
	log.Printf("Session %s aborted: %s disconnected", matchID, sd.player.Username)
	r.destroyLocked(matchID)
}

// connectionDeadline fires when the match's players failed to both connect
// in time. The session check under the lock makes a post-cancellation
// firing a no-op.
func (r *Registry) connectionDeadline(matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.sessions[matchID]
	if s == nil || s.started || s.ended {
		return
	}

	msg := domain.ErrorMessage{
		Type:    domain.MsgSessionError,
		Message: "Your opponent failed to connect in time, and the game was cancelled.",
	}
	if s.white.ch != nil {
		s.white.ch.Send(msg)
		s.white.ch.Close(CloseAbort)
	}
	if s.black.ch != nil {
		s.black.ch.Send(msg)
		s.black.ch.Close(CloseAbort)
	}
	log.Printf("Session %s cancelled: connection deadline missed", matchID)
	r.destroyLocked(matchID)
}

// Destroy removes a session, closing anything still attached. Idempotent.
func (r *Registry) Destroy(matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyLocked(matchID)
}

// Shutdown tears down every session. In-progress games are not settled.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for matchID := range r.sessions {
		r.destroyLocked(matchID)
	}
}

func (r *Registry) destroyLocked(matchID string) {
	s := r.sessions[matchID]
	if s == nil {
		return
	}
	s.deadline.Stop()
	if s.white.ch != nil {
		s.white.ch.Close(CloseNormal)
	}
	if s.black.ch != nil {
		s.black.ch.Close(CloseNormal)
	}
	delete(r.sessions, matchID)
}

func broadcast(s *gameSession, msg any) {
	if s.white.ch != nil {
		s.white.ch.Send(msg)
	}
	if s.black.ch != nil {
		s.black.ch.Send(msg)
	}
}
