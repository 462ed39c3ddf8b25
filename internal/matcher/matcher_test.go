package matcher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/halfmove/gambit/internal/config"
	"github.com/halfmove/gambit/internal/domain"
)

type createdSession struct {
	matchID string
	player1 domain.PlayerRef
	player2 domain.PlayerRef
}

type fakeSessions struct {
	mu      sync.Mutex
	created []createdSession
}

func (f *fakeSessions) Create(matchID string, p1, p2 domain.PlayerRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, createdSession{matchID, p1, p2})
}

func (f *fakeSessions) all() []createdSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]createdSession(nil), f.created...)
}

type recorder struct {
	ch chan domain.MatchmakingEvent
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan domain.MatchmakingEvent, 16)}
}

func (r *recorder) sink(ev domain.MatchmakingEvent) {
	r.ch <- ev
}

func (r *recorder) next(t *testing.T) domain.MatchmakingEvent {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for matchmaking event")
		return domain.MatchmakingEvent{}
	}
}

func (r *recorder) expectNone(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case ev := <-r.ch:
		t.Fatalf("unexpected matchmaking event %q", ev.Type)
	case <-time.After(d):
	}
}

func testConfig() config.MatchmakingConfig {
	return config.MatchmakingConfig{
		TickInterval:   10 * time.Millisecond,
		QueueTimeout:   time.Minute,
		BaseRange:      50,
		RangePerSecond: 10,
		MaxRange:       500,
	}
}

func TestEnqueue_EmitsQueued(t *testing.T) {
	req := require.New(t)
	m := New(testConfig(), &fakeSessions{})
	rec := newRecorder()

	token := m.Enqueue("u1", "alice", 1500, rec.sink)
	req.NotEmpty(token)
	req.Equal(domain.EventQueued, rec.next(t).Type)
	req.True(m.IsQueued("u1"))
}

func TestEqualRatings_MatchedWithinOneTick(t *testing.T) {
	req := require.New(t)
	sessions := &fakeSessions{}
	m := New(testConfig(), sessions)
	recX, recY := newRecorder(), newRecorder()

	m.Enqueue("x", "xena", 1500, recX.sink)
	m.Enqueue("y", "yuri", 1500, recY.sink)
	req.Equal(domain.EventQueued, recX.next(t).Type)
	req.Equal(domain.EventQueued, recY.next(t).Type)

	evX, evY := recX.next(t), recY.next(t)
	req.Equal(domain.EventMatched, evX.Type)
	req.Equal(domain.EventMatched, evY.Type)
	req.NotNil(evX.Match)
	req.Equal(evX.Match.ID, evY.Match.ID, "both sides see the same match")
	req.Equal("x", evX.Match.Player1.UserID)
	req.Equal("y", evX.Match.Player2.UserID)

	created := sessions.all()
	req.Len(created, 1)
	req.Equal(evX.Match.ID, created[0].matchID)

	req.False(m.IsQueued("x"))
	req.False(m.IsQueued("y"))
}

func TestReEnqueue_SupersedesPriorEntry(t *testing.T) {
	req := require.New(t)
	m := New(testConfig(), &fakeSessions{})
	first, second := newRecorder(), newRecorder()

	token1 := m.Enqueue("u1", "alice", 1500, first.sink)
	req.Equal(domain.EventQueued, first.next(t).Type)

	token2 := m.Enqueue("u1", "alice", 1500, second.sink)
	req.Equal(domain.EventCancelled, first.next(t).Type)
	req.Equal(domain.EventQueued, second.next(t).Type)
	req.NotEqual(token1, token2)
	req.True(m.IsQueued("u1"))
}

func TestCancel_StaleTokenIsNoOp(t *testing.T) {
	req := require.New(t)
	m := New(testConfig(), &fakeSessions{})
	first, second := newRecorder(), newRecorder()

	token1 := m.Enqueue("u1", "alice", 1500, first.sink)
	m.Enqueue("u1", "alice", 1500, second.sink)

	req.False(m.Cancel("u1", token1), "superseded token must not cancel the live entry")
	req.True(m.IsQueued("u1"))
}

func TestCancel_CurrentToken(t *testing.T) {
	req := require.New(t)
	m := New(testConfig(), &fakeSessions{})
	rec := newRecorder()

	token := m.Enqueue("u1", "alice", 1500, rec.sink)
	req.Equal(domain.EventQueued, rec.next(t).Type)

	req.True(m.Cancel("u1", token))
	req.Equal(domain.EventCancelled, rec.next(t).Type)
	req.False(m.IsQueued("u1"))
	req.False(m.Cancel("u1", token), "second cancel is a no-op")
}

func TestLonePlayer_TimesOutNotBefore(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	cfg.QueueTimeout = 80 * time.Millisecond
	m := New(cfg, &fakeSessions{})
	rec := newRecorder()

	start := time.Now()
	m.Enqueue("u1", "alice", 1500, rec.sink)
	req.Equal(domain.EventQueued, rec.next(t).Type)

	ev := rec.next(t)
	req.Equal(domain.EventTimeout, ev.Type)
	req.GreaterOrEqual(time.Since(start), cfg.QueueTimeout)
	req.False(m.IsQueued("u1"))
}

func TestIncompatibleRatings_NotMatched(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	cfg.RangePerSecond = 0 // freeze the acceptance range at the base
	sessions := &fakeSessions{}
	m := New(cfg, sessions)
	recA, recB := newRecorder(), newRecorder()

	m.Enqueue("a", "alice", 1000, recA.sink)
	m.Enqueue("b", "bob", 1200, recB.sink)
	req.Equal(domain.EventQueued, recA.next(t).Type)
	req.Equal(domain.EventQueued, recB.next(t).Type)

	recA.expectNone(t, 100*time.Millisecond)
	req.Empty(sessions.all())
	req.True(m.IsQueued("a"))
	req.True(m.IsQueued("b"))
}

func TestWideningRange_EventuallyMatches(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	cfg.RangePerSecond = 2000 // widen past the 200-point gap within a tick or two
	m := New(cfg, &fakeSessions{})
	recA, recB := newRecorder(), newRecorder()

	m.Enqueue("a", "alice", 1000, recA.sink)
	m.Enqueue("b", "bob", 1200, recB.sink)
	req.Equal(domain.EventQueued, recA.next(t).Type)
	req.Equal(domain.EventQueued, recB.next(t).Type)

	req.Equal(domain.EventMatched, recA.next(t).Type)
	req.Equal(domain.EventMatched, recB.next(t).Type)
}

func TestMutualAcceptance_NewcomerRangeBinds(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.BaseRange = 10
	cfg.RangePerSecond = 100
	cfg.MaxRange = 100
	sessions := &fakeSessions{}
	m := New(cfg, sessions)
	recA, recB := newRecorder(), newRecorder()

	// Alice waits long enough to accept the 60-point gap on her own
	m.Enqueue("a", "alice", 1000, recA.sink)
	req.Equal(domain.EventQueued, recA.next(t).Type)
	time.Sleep(600 * time.Millisecond)

	// Bob just arrived: his range is still ~10, so the pair is not mutual
	bobEnqueued := time.Now()
	m.Enqueue("b", "bob", 1060, recB.sink)
	req.Equal(domain.EventQueued, recB.next(t).Type)

	// Bob's own range needs ~500ms to reach 60; both get matched then
	req.Equal(domain.EventMatched, recA.next(t).Type)
	req.Equal(domain.EventMatched, recB.next(t).Type)
	req.GreaterOrEqual(time.Since(bobEnqueued), 300*time.Millisecond,
		"match must wait for the newcomer's range to widen")
	req.Len(sessions.all(), 1)
}

func TestClosestGapPreferred(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	cfg.BaseRange = 200
	sessions := &fakeSessions{}
	m := New(cfg, sessions)
	recA, recB, recC := newRecorder(), newRecorder(), newRecorder()

	m.Enqueue("a", "alice", 1000, recA.sink)
	time.Sleep(2 * time.Millisecond)
	m.Enqueue("b", "bob", 1100, recB.sink)
	time.Sleep(2 * time.Millisecond)
	m.Enqueue("c", "carol", 1010, recC.sink)

	req.Equal(domain.EventQueued, recA.next(t).Type)
	req.Equal(domain.EventQueued, recB.next(t).Type)
	req.Equal(domain.EventQueued, recC.next(t).Type)

	// Alice is oldest and prefers Carol's 10-point gap over Bob's 100
	evA := recA.next(t)
	req.Equal(domain.EventMatched, evA.Type)
	req.Equal("c", evA.Match.Player2.UserID)
	req.Equal(domain.EventMatched, recC.next(t).Type)
	req.True(m.IsQueued("b"))
}
