// Package matcher pairs waiting players into matches based on rating
// proximity, widening each player's acceptance range while they wait.
package matcher

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/halfmove/gambit/internal/config"
	"github.com/halfmove/gambit/internal/domain"
)

// EventSink receives matchmaking events for one queued player. Sinks are
// invoked while the queue lock is held and must not block.
type EventSink func(domain.MatchmakingEvent)

// Sessions creates game sessions for completed pairings
type Sessions interface {
	Create(matchID string, player1, player2 domain.PlayerRef)
}

type entry struct {
	id         string
	token      string
	player     domain.PlayerRef
	rating     int
	enqueuedAt time.Time
	sink       EventSink
}

// Matcher owns the matchmaking queue. All queue mutation happens under one
// lock, so enqueue, cancel and the pairing tick are serialized.
type Matcher struct {
	cfg      config.MatchmakingConfig
	sessions Sessions

	mu          sync.Mutex
	queue       map[string]*entry // participant ID -> live entry
	loopRunning bool
}

// New creates a Matcher. The matching loop starts lazily on first enqueue.
func New(cfg config.MatchmakingConfig, sessions Sessions) *Matcher {
	return &Matcher{
		cfg:      cfg,
		sessions: sessions,
		queue:    make(map[string]*entry),
	}
}

// Enqueue adds a player to the queue, superseding any earlier entry for the
// same player (which receives "cancelled"). The new sink immediately
// receives "queued". Returns a token scoping Cancel to this entry.
func (m *Matcher) Enqueue(userID, username string, rating int, sink EventSink) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.queue[userID]; ok {
		old.sink(domain.MatchmakingEvent{Type: domain.EventCancelled})
		delete(m.queue, userID)
	}

	e := &entry{
		id:         uuid.NewString(),
		token:      uuid.NewString(),
		player:     domain.PlayerRef{UserID: userID, Username: username},
		rating:     rating,
		enqueuedAt: time.Now(),
		sink:       sink,
	}
	m.queue[userID] = e
	sink(domain.MatchmakingEvent{Type: domain.EventQueued})

	if !m.loopRunning {
		m.loopRunning = true
		go m.run()
	}
	return e.token
}

// Cancel removes the player's entry if the token still identifies it.
// Stale tokens (from a superseded or already-resolved enqueue) are a no-op.
func (m *Matcher) Cancel(userID, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.queue[userID]
	if !ok || e.token != token {
		return false
	}
	e.sink(domain.MatchmakingEvent{Type: domain.EventCancelled})
	delete(m.queue, userID)
	return true
}

// IsQueued reports whether the player currently has a live queue entry
func (m *Matcher) IsQueued(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.queue[userID]
	return ok
}

// run drives the periodic pairing pass. It exits when a tick finds the
// queue empty; Enqueue restarts it under the same lock, so the handoff
// cannot lose a wakeup.
func (m *Matcher) run() {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !m.tick() {
			return
		}
	}
}

// tick evicts timed-out entries and pairs compatible players. Returns false
// when the queue emptied and the loop should stop.
func (m *Matcher) tick() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()

	for userID, e := range m.queue {
		if now.Sub(e.enqueuedAt) >= m.cfg.QueueTimeout {
			e.sink(domain.MatchmakingEvent{Type: domain.EventTimeout})
			delete(m.queue, userID)
			log.Printf("Matchmaking timeout for %s after %v", e.player.Username, now.Sub(e.enqueuedAt).Truncate(time.Second))
		}
	}

	// Oldest first, so the longest-waiting player gets first pick
	entries := make([]*entry, 0, len(m.queue))
	for _, e := range m.queue {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].enqueuedAt.Before(entries[j].enqueuedAt)
	})

	matched := make(map[string]bool)
	for i, a := range entries {
		if matched[a.player.UserID] {
			continue
		}
		rangeA := m.acceptance(now, a)

		// Both sides must accept the gap under their own current range
		var best *entry
		bestGap := 0
		for j, b := range entries {
			if j == i || matched[b.player.UserID] {
				continue
			}
			gap := a.rating - b.rating
			if gap < 0 {
				gap = -gap
			}
			limit := rangeA
			if rb := m.acceptance(now, b); rb < limit {
				limit = rb
			}
			if gap > limit {
				continue
			}
			if best == nil || gap < bestGap || (gap == bestGap && b.enqueuedAt.Before(best.enqueuedAt)) {
				best, bestGap = b, gap
			}
		}
		if best == nil {
			continue
		}

		matched[a.player.UserID] = true
		matched[best.player.UserID] = true
		delete(m.queue, a.player.UserID)
		delete(m.queue, best.player.UserID)

		match := domain.Match{
			ID:        uuid.NewString(),
			Player1:   a.player,
			Player2:   best.player,
			CreatedAt: now.UTC().Format(time.RFC3339),
		}
		m.sessions.Create(match.ID, match.Player1, match.Player2)
		a.sink(domain.MatchmakingEvent{Type: domain.EventMatched, Match: &match})
		best.sink(domain.MatchmakingEvent{Type: domain.EventMatched, Match: &match})
		log.Printf("Matched %s (%d) vs %s (%d), gap %d, match %s",
			a.player.Username, a.rating, best.player.Username, best.rating, bestGap, match.ID)
	}

	if len(m.queue) == 0 {
		m.loopRunning = false
		return false
	}
	return true
}

// acceptance is the widest rating gap the entry currently tolerates
func (m *Matcher) acceptance(now time.Time, e *entry) int {
	r := float64(m.cfg.BaseRange) + now.Sub(e.enqueuedAt).Seconds()*float64(m.cfg.RangePerSecond)
	if r > float64(m.cfg.MaxRange) {
		return m.cfg.MaxRange
	}
	return int(r)
}
