// Package progress correlates progress notifications of in-flight tool calls
// by their progress token.
package progress

import (
	"math"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the latest progress reported for one token.
type State struct {
	Token string `json:"progressToken"`
	// UserID owns the call. Only that user sees the state.
	UserID    string    `json:"-"`
	Server    string    `json:"server,omitempty"`
	Tool      string    `json:"tool,omitempty"`
	Progress  float64   `json:"progress"`
	Total     *float64  `json:"total,omitempty"`
	Message   string    `json:"message,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Percentage returns round(progress/total*100) and true when a positive
// total is known. Without a total the progress is indeterminate.
func (s State) Percentage() (int, bool) {
	if s.Total == nil || *s.Total <= 0 {
		return 0, false
	}
	return int(math.Round(s.Progress / *s.Total * 100)), true
}

// Update is delivered to subscribers. Done is set when the token was cleared.
type Update struct {
	State
	Percent *int `json:"percentage,omitempty"`
	Done    bool `json:"done,omitempty"`
}

func newUpdate(s State, done bool) Update {
	u := Update{State: s, Done: done}
	if p, ok := s.Percentage(); ok {
		u.Percent = &p
	}
	return u
}

// Tracker holds the live progress map. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	states  map[string]State
	subs    map[int]subscriber
	nextSub int
	now     func() time.Time
}

type subscriber struct {
	userID string
	ch     chan Update
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		states: make(map[string]State),
		subs:   make(map[int]subscriber),
		now:    time.Now,
	}
}

var tokenUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// NewToken returns a fresh progress token for a call to server.
func NewToken(server string) string {
	return "progress_" + tokenUnsafe.ReplaceAllString(server, "_") + "_" + uuid.NewString()
}

// Start registers a token of userID before the first notification arrives
// so the call shows up as in flight.
func (t *Tracker) Start(token, userID, server, tool string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	s := State{Token: token, UserID: userID, Server: server, Tool: tool, StartedAt: now, UpdatedAt: now}
	t.states[token] = s
	t.publishLocked(newUpdate(s, false))
}

// OnNotification records a progress notification. The newest notification
// for a token always replaces the previous one, without any ordering check.
// Tokens that were never started, or were already cleared, are ignored.
func (t *Tracker) OnNotification(token string, progress float64, total *float64, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[token]
	if !ok {
		return
	}
	s.Progress = progress
	s.Total = total
	s.Message = message
	s.UpdatedAt = t.now()
	t.states[token] = s
	t.publishLocked(newUpdate(s, false))
}

// Clear removes a token once its call completed or was cancelled.
func (t *Tracker) Clear(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[token]
	if !ok {
		return
	}
	delete(t.states, token)
	t.publishLocked(newUpdate(s, true))
}

// Get returns the state for token.
func (t *Tracker) Get(token string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[token]
	return s, ok
}

// Snapshot returns the states of userID's calls ordered by start time.
func (t *Tracker) Snapshot(userID string) []State {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]State, 0, len(t.states))
	for _, s := range t.states {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].Token < out[j].Token
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Len returns the number of tokens in flight.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

// Subscribe returns a channel of the updates of userID's calls and a
// function that cancels the subscription. Slow subscribers drop updates
// rather than block writers.
func (t *Tracker) Subscribe(userID string, buffer int) (<-chan Update, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Update, buffer)

	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = subscriber{userID: userID, ch: ch}
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(ch)
		})
	}
}

func (t *Tracker) publishLocked(u Update) {
	for _, sub := range t.subs {
		if sub.userID != u.UserID {
			continue
		}
		select {
		case sub.ch <- u:
		default:
		}
	}
}
