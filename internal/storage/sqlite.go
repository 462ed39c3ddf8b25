package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/halfmove/gambit/internal/domain"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when a requested row does not exist
var ErrNotFound = errors.New("not found")

// Store provides database access
type Store struct {
	db *sql.DB
}

// New creates a new Store with the given database path
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable foreign keys, WAL mode for better performance, and busy timeout for concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL; PRAGMA busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting pragmas: %w", err)
	}

	// Create tables
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// --- User methods ---

// User represents a registered player account
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Elo          int
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// CreateUser creates a new account with the default rating
func (s *Store) CreateUser(ctx context.Context, username, passwordHash string) (*User, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash)
		VALUES (?, ?, ?)
	`, id, username, passwordHash)
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	var lastLogin sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Elo, &u.CreatedAt, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		u.LastLogin = &lastLogin.Time
	}
	return &u, nil
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, elo, created_at, last_login
		FROM users WHERE username = ?
	`, username))
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, elo, created_at, last_login
		FROM users WHERE id = ?
	`, id))
}

// DeleteUser removes a user by username
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE username = ?`, username)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("user not found: %s", username)
	}
	return nil
}

// ListUsers returns all users ordered by username
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password_hash, elo, created_at, last_login
		FROM users ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		var lastLogin sql.NullTime
		if err := rows.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Elo, &u.CreatedAt, &lastLogin); err != nil {
			return nil, err
		}
		if lastLogin.Valid {
			u.LastLogin = &lastLogin.Time
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUserLastLogin updates the last login timestamp
func (s *Store) UpdateUserLastLogin(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET last_login = CURRENT_TIMESTAMP WHERE id = ?
	`, userID)
	return err
}

// ResetUserPassword sets a new password hash for a user
func (s *Store) ResetUserPassword(ctx context.Context, userID, newPasswordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = ? WHERE id = ?
	`, newPasswordHash, userID)
	return err
}

// Rating returns the current rating for a user, or ErrNotFound
func (s *Store) Rating(ctx context.Context, userID string) (int, error) {
	var elo int
	err := s.db.QueryRowContext(ctx, `SELECT elo FROM users WHERE id = ?`, userID).Scan(&elo)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return elo, err
}

// --- Game methods ---

// GameRecord is a settled game to persist
type GameRecord struct {
	MatchID     string
	WhiteUserID string
	BlackUserID string
	Result      domain.GameResult
	WhiteElo    int // post-game ratings
	BlackElo    int
	WhiteDelta  int
	BlackDelta  int
	StartedAt   time.Time
	EndedAt     time.Time
}

// Game is a stored finished game
type Game struct {
	ID          int64             `json:"id"`
	MatchID     string            `json:"matchId"`
	WhiteUserID string            `json:"whiteUserId"`
	BlackUserID string            `json:"blackUserId"`
	Result      domain.GameResult `json:"result"`
	WhiteElo    int               `json:"whiteElo"`
	BlackElo    int               `json:"blackElo"`
	WhiteDelta  int               `json:"whiteDelta"`
	BlackDelta  int               `json:"blackDelta"`
	EndedAt     time.Time         `json:"endedAt"`
}

// RecordGame persists a settlement: both new ratings and the game row are
// written in one transaction
func (s *Store) RecordGame(ctx context.Context, rec GameRecord) error {
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE users SET elo = ? WHERE id = ?`, rec.WhiteElo, rec.WhiteUserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE users SET elo = ? WHERE id = ?`, rec.BlackElo, rec.BlackUserID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO games (match_id, white_user_id, black_user_id, result,
			white_elo, black_elo, white_delta, black_delta, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.MatchID, rec.WhiteUserID, rec.BlackUserID, string(resultJSON),
		rec.WhiteElo, rec.BlackElo, rec.WhiteDelta, rec.BlackDelta,
		rec.StartedAt.UTC(), rec.EndedAt.UTC()); err != nil {
		return err
	}

	return tx.Commit()
}

// GamesForUser returns a user's finished games, most recent first
func (s *Store) GamesForUser(ctx context.Context, userID string, limit int) ([]Game, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, match_id, white_user_id, black_user_id, result,
			white_elo, black_elo, white_delta, black_delta, ended_at
		FROM games
		WHERE white_user_id = ? OR black_user_id = ?
		ORDER BY ended_at DESC, id DESC
		LIMIT ?
	`, userID, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var games []Game
	for rows.Next() {
		var g Game
		var resultJSON string
		if err := rows.Scan(&g.ID, &g.MatchID, &g.WhiteUserID, &g.BlackUserID, &resultJSON,
			&g.WhiteElo, &g.BlackElo, &g.WhiteDelta, &g.BlackDelta, &g.EndedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(resultJSON), &g.Result); err != nil {
			return nil, fmt.Errorf("decoding result for game %d: %w", g.ID, err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// PlayerRank is one leaderboard row
type PlayerRank struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Elo      int    `json:"elo"`
}

// Leaderboard returns the top players by rating
func (s *Store) Leaderboard(ctx context.Context, limit int) ([]PlayerRank, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, elo FROM users ORDER BY elo DESC, username LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranks []PlayerRank
	for rows.Next() {
		var r PlayerRank
		if err := rows.Scan(&r.UserID, &r.Username, &r.Elo); err != nil {
			return nil, err
		}
		ranks = append(ranks, r)
	}
	return ranks, rows.Err()
}
