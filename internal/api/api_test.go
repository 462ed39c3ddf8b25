package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/halfmove/gambit/internal/auth"
	"github.com/halfmove/gambit/internal/config"
	"github.com/halfmove/gambit/internal/domain"
	"github.com/halfmove/gambit/internal/matcher"
	"github.com/halfmove/gambit/internal/rules"
	"github.com/halfmove/gambit/internal/session"
	"github.com/halfmove/gambit/internal/storage"
)

type testServer struct {
	srv   *httptest.Server
	store *storage.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := storage.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	authService := auth.NewService("test-secret", time.Hour)
	registry := session.NewRegistry(store, rules.NewEngine(), config.GameConfig{
		ConnectionDeadline: time.Hour,
		DefaultRating:      100,
	})
	t.Cleanup(registry.Shutdown)

	m := matcher.New(config.MatchmakingConfig{
		TickInterval:   10 * time.Millisecond,
		QueueTimeout:   time.Minute,
		BaseRange:      50,
		RangePerSecond: 10,
		MaxRange:       500,
	}, registry)

	router := NewRouter(store, authService, m, registry, "")
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &testServer{srv: srv, store: store}
}

func (ts *testServer) postJSON(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.srv.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func (ts *testServer) register(t *testing.T, username, password string) AuthResponse {
	t.Helper()
	resp := ts.postJSON(t, "/api/auth/register", RegisterRequest{Username: username, Password: password})
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out AuthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out.Token)
	return out
}

func (ts *testServer) getJSON(t *testing.T, path, token string, target any) *http.Response {
	t.Helper()
	req, err := http.NewRequest("GET", ts.srv.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	if target != nil && resp.StatusCode == http.StatusOK {
		defer resp.Body.Close()
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	}
	return resp
}

// sseStream reads matchmaking events off an open SSE response
type sseStream struct {
	resp    *http.Response
	scanner *bufio.Scanner
}

func (ts *testServer) openStream(t *testing.T, token string) *sseStream {
	t.Helper()
	req, err := http.NewRequest("GET", ts.srv.URL+"/api/matchmaking/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	s := &sseStream{resp: resp, scanner: bufio.NewScanner(resp.Body)}
	t.Cleanup(func() { resp.Body.Close() })
	return s
}

func (s *sseStream) next(t *testing.T) domain.MatchmakingEvent {
	t.Helper()
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev domain.MatchmakingEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		return ev
	}
	t.Fatalf("event stream ended early: %v", s.scanner.Err())
	return domain.MatchmakingEvent{}
}

func (ts *testServer) dialGame(t *testing.T, token, matchID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.srv.URL, "http") +
		fmt.Sprintf("/game?token=%s&matchId=%s", token, matchID)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readInto(t *testing.T, conn *websocket.Conn, target any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target))
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	require.True(t, websocket.IsCloseError(err, code), "expected close code %d, got %v", code, err)
}

func TestRegisterLoginCheck(t *testing.T) {
	ts := newTestServer(t)

	created := ts.register(t, "alice", "correct-horse")
	require.Equal(t, "alice", created.Username)
	require.Equal(t, 100, created.Elo)

	// Duplicate username is rejected
	resp := ts.postJSON(t, "/api/auth/register", RegisterRequest{Username: "alice", Password: "correct-horse"})
	resp.Body.Close()
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	// Wrong password
	resp = ts.postJSON(t, "/api/auth/login", LoginRequest{Username: "alice", Password: "wrong-horse"})
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Correct login
	resp = ts.postJSON(t, "/api/auth/login", LoginRequest{Username: "alice", Password: "correct-horse"})
	var login AuthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&login))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, login.Token)

	var check map[string]any
	resp = ts.getJSON(t, "/api/auth/check", login.Token, &check)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, check["authenticated"])
	require.Equal(t, "alice", check["username"])

	check = nil
	resp = ts.getJSON(t, "/api/auth/check", "", &check)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, false, check["authenticated"])
}

func TestRegisterValidation(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.postJSON(t, "/api/auth/register", RegisterRequest{Username: "ab", Password: "long-enough"})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.postJSON(t, "/api/auth/register", RegisterRequest{Username: "carol", Password: "short"})
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMatchmakingStreamRequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.getJSON(t, "/api/matchmaking/stream", "", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestMatchmakingStatus(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice", "correct-horse")

	var status map[string]bool
	resp := ts.getJSON(t, "/api/matchmaking/status", alice.Token, &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, status["queued"])
}

func TestGameSocketRejections(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice", "correct-horse")

	// Invalid token
	conn := ts.dialGame(t, "not-a-token", "some-match")
	expectClose(t, conn, session.CloseUnauthorized)

	// Unknown match
	conn = ts.dialGame(t, alice.Token, "no-such-match")
	expectClose(t, conn, session.CloseInvalidSession)
}

// TestFullGameFlow walks the whole path: two players register, queue, get
// matched, connect, trade a move, and settle by resignation.
func TestFullGameFlow(t *testing.T) {
	ts := newTestServer(t)

	alice := ts.register(t, "alice", "correct-horse")
	bob := ts.register(t, "bob", "battery-staple")

	aliceStream := ts.openStream(t, alice.Token)
	bobStream := ts.openStream(t, bob.Token)

	require.Equal(t, domain.EventQueued, aliceStream.next(t).Type)
	require.Equal(t, domain.EventQueued, bobStream.next(t).Type)

	aliceMatched := aliceStream.next(t)
	bobMatched := bobStream.next(t)
	require.Equal(t, domain.EventMatched, aliceMatched.Type)
	require.Equal(t, domain.EventMatched, bobMatched.Type)
	require.NotNil(t, aliceMatched.Match)
	require.NotNil(t, bobMatched.Match)
	require.Equal(t, aliceMatched.Match.ID, bobMatched.Match.ID)

	matchID := aliceMatched.Match.ID

	// A third account cannot join someone else's match
	carol := ts.register(t, "carol", "interloper-pass")
	intruder := ts.dialGame(t, carol.Token, matchID)
	expectClose(t, intruder, session.CloseUnauthorized)

	aliceConn := ts.dialGame(t, alice.Token, matchID)
	bobConn := ts.dialGame(t, bob.Token, matchID)

	var aliceStart, bobStart domain.GameStartedMessage
	readInto(t, aliceConn, &aliceStart)
	readInto(t, bobConn, &bobStart)

	require.Equal(t, domain.MsgGameStarted, aliceStart.Type)
	require.Equal(t, matchID, aliceStart.MatchID)
	require.Equal(t, "w", aliceStart.Turn)
	require.Equal(t, "alice", aliceStart.Username)
	require.Equal(t, "bob", aliceStart.Opponent)
	require.Equal(t, 100, aliceStart.UserElo)
	require.Equal(t, 100, aliceStart.OpponentElo)
	require.NotEqual(t, aliceStart.Color, bobStart.Color)

	whiteConn, blackConn := aliceConn, bobConn
	whiteName := "alice"
	if aliceStart.Color == domain.ColorBlack {
		whiteConn, blackConn = bobConn, aliceConn
		whiteName = "bob"
	}

	// White opens
	require.NoError(t, whiteConn.WriteJSON(domain.ClientMessage{Type: domain.MsgMove, From: "e2", To: "e4"}))

	var whiteMove, blackMove domain.MoveMessage
	readInto(t, whiteConn, &whiteMove)
	readInto(t, blackConn, &blackMove)
	require.Equal(t, domain.MsgMove, whiteMove.Type)
	require.Equal(t, "e2", whiteMove.From)
	require.Equal(t, "e4", whiteMove.To)
	require.Equal(t, "b", whiteMove.Turn)
	require.False(t, whiteMove.IsCheck)
	require.Equal(t, whiteMove.FEN, blackMove.FEN)

	// White cannot move again out of turn; the rejection is private
	require.NoError(t, whiteConn.WriteJSON(domain.ClientMessage{Type: domain.MsgMove, From: "d2", To: "d4"}))
	var moveErr domain.ErrorMessage
	readInto(t, whiteConn, &moveErr)
	require.Equal(t, domain.MsgMoveError, moveErr.Type)
	require.Equal(t, "Invalid turn", moveErr.Message)

	// Garbage is answered in-band, not with a disconnect
	require.NoError(t, blackConn.WriteMessage(websocket.TextMessage, []byte("not json")))
	var parseErr domain.ErrorMessage
	readInto(t, blackConn, &parseErr)
	require.Equal(t, domain.MsgError, parseErr.Type)
	require.Equal(t, "Invalid message", parseErr.Message)

	// Black resigns; white wins
	require.NoError(t, blackConn.WriteJSON(domain.ClientMessage{Type: domain.MsgResign}))

	var whiteOver, blackOver domain.GameOverMessage
	readInto(t, whiteConn, &whiteOver)
	readInto(t, blackConn, &blackOver)

	require.Equal(t, domain.MsgGameOver, whiteOver.Type)
	require.Equal(t, domain.ResultResign, whiteOver.Result.Type)
	require.Equal(t, domain.WinnerWhite, whiteOver.Result.Winner)
	require.Equal(t, 16, whiteOver.EloChange)
	require.Equal(t, -16, whiteOver.OpponentEloChange)
	require.Equal(t, -16, blackOver.EloChange)
	require.Equal(t, 16, blackOver.OpponentEloChange)

	expectClose(t, whiteConn, websocket.CloseNormalClosure)
	expectClose(t, blackConn, websocket.CloseNormalClosure)

	// Ratings were settled and the game recorded
	var board struct {
		Players []storage.PlayerRank `json:"players"`
	}
	resp := ts.getJSON(t, "/api/players/leaderboard", "", &board)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.GreaterOrEqual(t, len(board.Players), 2)
	require.Equal(t, whiteName, board.Players[0].Username)
	require.Equal(t, 116, board.Players[0].Elo)

	winnerToken := alice.Token
	if whiteName == "bob" {
		winnerToken = bob.Token
	}
	var history struct {
		Games []storage.Game `json:"games"`
	}
	resp = ts.getJSON(t, "/api/games/mine", winnerToken, &history)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, history.Games, 1)
	require.Equal(t, matchID, history.Games[0].MatchID)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	var health map[string]string
	resp := ts.getJSON(t, "/health", "", &health)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", health["status"])
}
